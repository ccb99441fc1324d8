package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-updates/pkg/utils"
)

// StagingTracker keeps track of staging files that must not outlive their fill
type StagingTracker struct {
	mutex  sync.Mutex
	files  map[string]bool // filepath -> shouldDelete (true=delete on release; false=published)
	logger *utils.Logger
}

// NewStagingTracker creates a new staging tracker
func NewStagingTracker(logger *utils.Logger) *StagingTracker {
	return &StagingTracker{
		files:  make(map[string]bool),
		logger: logger,
	}
}

// TrackFile adds a staging file to tracking
func (st *StagingTracker) TrackFile(path string) {
	st.mutex.Lock()
	defer st.mutex.Unlock()
	st.files[path] = true
}

// MarkSuccess marks a staging file as published (renamed away, don't delete)
func (st *StagingTracker) MarkSuccess(path string) {
	st.mutex.Lock()
	defer st.mutex.Unlock()
	if _, ok := st.files[path]; ok {
		st.files[path] = false
	}
}

// Release forgets a staging file, removing it unless it was published
func (st *StagingTracker) Release(path string) {
	st.mutex.Lock()
	shouldDelete, ok := st.files[path]
	delete(st.files, path)
	st.mutex.Unlock()

	if ok && shouldDelete {
		st.logger.Debug("Cleaning up staging file: %s", path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			st.logger.Warn("Failed to remove staging file %s: %v", path, err)
		}
	}
}

// Pending returns how many tracked staging files are still unpublished
func (st *StagingTracker) Pending() int {
	st.mutex.Lock()
	defer st.mutex.Unlock()
	n := 0
	for _, shouldDelete := range st.files {
		if shouldDelete {
			n++
		}
	}
	return n
}

// Cleanup removes all tracked files marked for deletion
func (st *StagingTracker) Cleanup() error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	var errors []error
	for path, shouldDelete := range st.files {
		if shouldDelete {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				errors = append(errors, fmt.Errorf("failed to cleanup %s: %w", path, err))
			}
		}
		delete(st.files, path)
	}

	if len(errors) > 0 {
		return fmt.Errorf("cleanup errors: %d files failed to delete", len(errors))
	}
	return nil
}

// sweepDir removes staging files a previous process left behind. Files
// modified within olderThan may belong to a live fill in another process and
// are kept.
func sweepDir(dir string, olderThan time.Duration, logger *utils.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-olderThan)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		logger.Debug("Removing stale staging file: %s", path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale staging file %s: %w", path, err)
		}
	}
	return nil
}

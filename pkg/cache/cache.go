package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/go-updates/pkg/utils"
)

// StaleStagingAge is how old a staging file must be before New sweeps it
const StaleStagingAge = time.Hour

// AssetCache is a content-addressed directory of verified asset files.
// A file named after its SHA-256 hash only ever appears there by rename
// from the staging directory after its digest was checked.
type AssetCache struct {
	dir        string
	stagingDir string
	group      singleflight.Group
	locks      keyedMutex
	staging    *StagingTracker
	logger     *utils.Logger

	hashFile func(path string) (string, error)
}

// FillFunc writes an asset's bytes to dst
type FillFunc func(ctx context.Context, dst string) error

// AcquireResult describes how Acquire satisfied a hash
type AcquireResult struct {
	Path    string
	Fetched bool // a fill ran (here or in a call this one joined)
	Shared  bool // the result was shared with a concurrent caller
}

// New opens the cache rooted at dir, removing staging files a previous
// process left behind more than StaleStagingAge ago.
func New(dir string, logger *utils.Logger) (*AssetCache, error) {
	stagingDir := filepath.Join(dir, ".staging")
	if err := utils.EnsureDir(stagingDir); err != nil {
		return nil, err
	}
	if err := sweepDir(stagingDir, StaleStagingAge, logger); err != nil {
		return nil, err
	}
	return &AssetCache{
		dir:        dir,
		stagingDir: stagingDir,
		staging:    NewStagingTracker(logger),
		logger:     logger,
		hashFile:   utils.FileSHA256,
	}, nil
}

// Dir returns the cache root
func (c *AssetCache) Dir() string {
	return c.dir
}

// Path returns where the file for hash lives (whether or not it exists)
func (c *AssetCache) Path(hash string) string {
	return filepath.Join(c.dir, hash)
}

// Lookup reports whether a file for hash is present
func (c *AssetCache) Lookup(hash string) (string, bool) {
	if !validHash(hash) {
		return "", false
	}
	path := c.Path(hash)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// NewStagingPath returns a fresh tracked path inside the staging directory.
// Callers must hand it to Publish or ReleaseStaging.
func (c *AssetCache) NewStagingPath() string {
	path := filepath.Join(c.stagingDir, uuid.NewString()+".part")
	c.staging.TrackFile(path)
	return path
}

// ReleaseStaging removes a staging file unless it was published
func (c *AssetCache) ReleaseStaging(path string) {
	c.staging.Release(path)
}

// Store streams r into the cache under hash
func (c *AssetCache) Store(hash string, r io.Reader) (string, error) {
	staging := c.NewStagingPath()
	defer c.ReleaseStaging(staging)

	f, err := os.Create(staging)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, hasher), r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}
	if actual := hex.EncodeToString(hasher.Sum(nil)); actual != hash {
		return "", fmt.Errorf("%w: expected %s, got %s", ErrAssetCorrupt, hash, actual)
	}
	return c.Publish(hash, staging)
}

// Publish verifies a staging file against hash and moves it into place.
// A digest mismatch discards the staging file with ErrAssetCorrupt. If a file
// for hash already exists with the same bytes the staging copy is dropped; if
// it differs yet still hashes correctly, ErrHashCollision is returned. An
// existing file that fails verification is replaced.
func (c *AssetCache) Publish(hash, staging string) (string, error) {
	if !validHash(hash) {
		os.Remove(staging)
		return "", fmt.Errorf("%w: malformed hash %q", ErrAssetCorrupt, hash)
	}

	unlock := c.locks.Lock(hash)
	defer unlock()

	actual, err := c.hashFile(staging)
	if err != nil {
		os.Remove(staging)
		return "", fmt.Errorf("failed to hash staging file for %s: %w", hash, err)
	}
	if actual != hash {
		os.Remove(staging)
		c.logger.Verbose("Expected hash: %s, calculated hash: %s", hash, actual)
		return "", fmt.Errorf("%w: expected %s, got %s", ErrAssetCorrupt, hash, actual)
	}

	dst := c.Path(hash)
	if _, err := os.Stat(dst); err == nil {
		same, err := utils.SameFileContents(dst, staging)
		if err != nil {
			return "", fmt.Errorf("failed to compare %s with cached file: %w", hash, err)
		}
		if same {
			os.Remove(staging)
			c.logger.Debug("Asset %s already cached", hash)
			return dst, nil
		}
		existing, err := c.hashFile(dst)
		if err == nil && existing == hash {
			os.Remove(staging)
			c.logger.Error("Hash collision for %s: cached file and new download differ", hash)
			return "", fmt.Errorf("%w: %s", ErrHashCollision, hash)
		}
		c.logger.Warn("Cached file for %s fails verification, replacing it", hash)
	}

	if err := os.Rename(staging, dst); err != nil {
		return "", fmt.Errorf("failed to publish %s: %w", hash, err)
	}
	c.staging.MarkSuccess(staging)
	c.logger.Debug("Published asset %s", hash)
	return dst, nil
}

// Acquire returns the cached file for hash, calling fill to produce it when
// missing. Concurrent callers for the same hash share one fill.
func (c *AssetCache) Acquire(ctx context.Context, hash string, fill FillFunc) (AcquireResult, error) {
	if path, ok := c.Lookup(hash); ok {
		return AcquireResult{Path: path}, nil
	}

	v, err, shared := c.group.Do(hash, func() (interface{}, error) {
		if path, ok := c.Lookup(hash); ok {
			return AcquireResult{Path: path}, nil
		}

		staging := c.NewStagingPath()
		defer c.ReleaseStaging(staging)

		if err := fill(ctx, staging); err != nil {
			return nil, err
		}
		path, err := c.Publish(hash, staging)
		if err != nil {
			return nil, err
		}
		return AcquireResult{Path: path, Fetched: true}, nil
	})
	if err != nil {
		return AcquireResult{}, err
	}
	result := v.(AcquireResult)
	result.Shared = shared
	return result, nil
}

// Verify re-hashes the cached file for hash. A file that no longer matches
// is removed so the next Acquire fetches it again.
func (c *AssetCache) Verify(hash string) error {
	path, ok := c.Lookup(hash)
	if !ok {
		return fmt.Errorf("asset %s is not cached: %w", hash, os.ErrNotExist)
	}

	unlock := c.locks.Lock(hash)
	defer unlock()

	actual, err := c.hashFile(path)
	if err != nil {
		return fmt.Errorf("failed to hash cached asset %s: %w", hash, err)
	}
	if actual != hash {
		c.logger.Warn("Cached file for %s hashes to %s, removing it", hash, actual)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove corrupt asset %s: %w", hash, err)
		}
		return fmt.Errorf("%w: cached %s hashes to %s", ErrAssetCorrupt, hash, actual)
	}
	return nil
}

// Close removes any staging files still in flight
func (c *AssetCache) Close() error {
	return c.staging.Cleanup()
}

func validHash(hash string) bool {
	if len(hash) != hex.EncodedLen(sha256.Size) {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

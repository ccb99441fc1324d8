package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-updates/pkg/cache"
	"github.com/go-updates/pkg/download"
	"github.com/go-updates/pkg/manifest"
	"github.com/go-updates/pkg/store"
	"github.com/go-updates/pkg/utils"
)

func hashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// testAsset is a file served by fakeStrategy
type testAsset struct {
	url     string
	content string
}

func (a testAsset) entry() map[string]interface{} {
	return map[string]interface{}{
		"hash":        hashOf(a.content),
		"url":         a.url,
		"contentType": "application/octet-stream",
		"key":         filepath.Base(a.url),
	}
}

func manifestJSON(t *testing.T, id string, launch testAsset, assets ...testAsset) []byte {
	t.Helper()
	entries := make([]interface{}, 0, len(assets))
	for _, a := range assets {
		entries = append(entries, a.entry())
	}
	body, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"createdAt":   time.Now().UTC().Format(time.RFC3339Nano),
		"launchAsset": launch.entry(),
		"assets":      entries,
	})
	require.NoError(t, err)
	return body
}

// fetchCounter is shared between strategies to count fetches across loaders
type fetchCounter struct {
	total       int32
	inFlight    int32
	maxInFlight int32
	mu          sync.Mutex
	byURL       map[string]int
}

func (c *fetchCounter) begin(url string) {
	c.mu.Lock()
	if c.byURL == nil {
		c.byURL = map[string]int{}
	}
	c.byURL[url]++
	c.mu.Unlock()

	atomic.AddInt32(&c.total, 1)
	n := atomic.AddInt32(&c.inFlight, 1)
	for {
		max := atomic.LoadInt32(&c.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&c.maxInFlight, max, n) {
			break
		}
	}
}

func (c *fetchCounter) end() { atomic.AddInt32(&c.inFlight, -1) }

func (c *fetchCounter) Total() int { return int(atomic.LoadInt32(&c.total)) }

func (c *fetchCounter) For(url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byURL[url]
}

// fakeStrategy serves a manifest and assets from memory
type fakeStrategy struct {
	body        []byte
	header      http.Header
	manifestErr error
	files       map[string]string
	failures    map[string]error
	counter     *fetchCounter
	gate        chan struct{} // when set, asset fetches wait for it to close
	delay       time.Duration
	onManifest  func()
	status      store.UpdateStatus

	mu       sync.Mutex
	requests []ManifestRequest
}

func newFakeStrategy(body []byte, assets ...testAsset) *fakeStrategy {
	s := &fakeStrategy{
		body:     body,
		header:   http.Header{},
		files:    map[string]string{},
		failures: map[string]error{},
		counter:  &fetchCounter{},
		status:   store.StatusReady,
	}
	for _, a := range assets {
		s.files[a.url] = a.content
	}
	return s
}

func (s *fakeStrategy) FetchManifest(ctx context.Context, req ManifestRequest) (*download.ManifestResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.onManifest != nil {
		s.onManifest()
	}
	if s.manifestErr != nil {
		return nil, s.manifestErr
	}
	if etag := s.header.Get("ETag"); etag != "" && req.Headers["If-None-Match"] == etag {
		return &download.ManifestResponse{StatusCode: http.StatusNotModified, Header: s.header, NotModified: true}, nil
	}
	return &download.ManifestResponse{StatusCode: http.StatusOK, Header: s.header, Body: s.body}, nil
}

func (s *fakeStrategy) FetchAsset(ctx context.Context, asset manifest.Asset, dst string) error {
	s.counter.begin(asset.URL)
	defer s.counter.end()
	if s.gate != nil {
		<-s.gate
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err := s.failures[asset.URL]; err != nil {
		return err
	}
	content, ok := s.files[asset.URL]
	if !ok {
		return &download.NetworkError{URL: asset.URL, StatusCode: http.StatusNotFound, Err: errors.New("not found")}
	}
	return os.WriteFile(dst, []byte(content), 0644)
}

func (s *fakeStrategy) CommitStatus() store.UpdateStatus { return s.status }

func (s *fakeStrategy) Requests() []ManifestRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ManifestRequest(nil), s.requests...)
}

// env is a store and cache shared by the loaders of one test
type env struct {
	store *store.Store
	cache *cache.AssetCache
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "updates.db"), utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	c, err := cache.New(filepath.Join(dir, "assets"), utils.NewNopLogger())
	require.NoError(t, err)
	return &env{store: st, cache: c}
}

func (e *env) loader(s Strategy, opts Options) *Loader {
	if opts.ScopeKey == "" {
		opts.ScopeKey = "scope"
	}
	return New(s, e.store, e.cache, opts, utils.NewNopLogger())
}

func (e *env) load(t *testing.T, s Strategy, opts Options) Outcome {
	t.Helper()
	outcome, err := e.loader(s, opts).Load(context.Background())
	require.NoError(t, err)
	return outcome
}

// seed puts content straight into the cache
func (e *env) seed(t *testing.T, assets ...testAsset) {
	t.Helper()
	for _, a := range assets {
		_, err := e.cache.Store(hashOf(a.content), strings.NewReader(a.content))
		require.NoError(t, err)
	}
}

func (e *env) cachedFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(e.cache.Dir())
	require.NoError(t, err)
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			n++
		}
	}
	return n
}

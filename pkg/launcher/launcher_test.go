package launcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-updates/pkg/cache"
	"github.com/go-updates/pkg/download"
	"github.com/go-updates/pkg/loader"
	"github.com/go-updates/pkg/manifest"
	"github.com/go-updates/pkg/store"
	"github.com/go-updates/pkg/utils"
)

func hashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// memoryStrategy serves one manifest and whichever files are currently available
type memoryStrategy struct {
	mu       sync.Mutex
	manifest []byte
	files    map[string]string
	fetches  map[string]int
}

func newMemoryStrategy(t *testing.T, id string, created time.Time, launch string, assets ...string) *memoryStrategy {
	t.Helper()
	entry := func(name string) map[string]interface{} {
		return map[string]interface{}{
			"hash": hashOf("content of " + name), "url": "https://cdn.example.com/" + name,
			"contentType": "application/octet-stream", "key": name,
		}
	}
	entries := []interface{}{}
	files := map[string]string{"https://cdn.example.com/" + launch: "content of " + launch}
	for _, a := range assets {
		entries = append(entries, entry(a))
		files["https://cdn.example.com/"+a] = "content of " + a
	}
	body, err := json.Marshal(map[string]interface{}{
		"id": id, "createdAt": created.Format(time.RFC3339), "launchAsset": entry(launch), "assets": entries,
	})
	require.NoError(t, err)
	return &memoryStrategy{manifest: body, files: files, fetches: map[string]int{}}
}

func (s *memoryStrategy) FetchManifest(ctx context.Context, req loader.ManifestRequest) (*download.ManifestResponse, error) {
	return &download.ManifestResponse{StatusCode: 200, Body: s.manifest}, nil
}

func (s *memoryStrategy) FetchAsset(ctx context.Context, asset manifest.Asset, dst string) error {
	s.mu.Lock()
	s.fetches[asset.URL]++
	content, ok := s.files[asset.URL]
	s.mu.Unlock()
	if !ok {
		return &download.NetworkError{URL: asset.URL, StatusCode: 404, Err: errors.New("not found")}
	}
	return os.WriteFile(dst, []byte(content), 0644)
}

func (s *memoryStrategy) CommitStatus() store.UpdateStatus { return store.StatusReady }

func (s *memoryStrategy) withhold(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, "https://cdn.example.com/"+name)
}

func (s *memoryStrategy) restore(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files["https://cdn.example.com/"+name] = "content of " + name
}

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

func (e *env) load(t *testing.T, s loader.Strategy) loader.Outcome {
	t.Helper()
	l := loader.New(s, e.store, e.cache, loader.Options{ScopeKey: "scope"}, utils.NewNopLogger())
	outcome, err := l.Load(context.Background())
	require.NoError(t, err)
	return outcome
}

func TestLaunch_LazilyFetchesFailedAsset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := newMemoryStrategy(t, "u1", time.Now(), "bundle.js", "a.png", "b.png")
	s.withhold("b.png")
	require.Equal(t, loader.UpdateReadyWithFailedAssets, e.load(t, s).Kind)

	s.restore("b.png")
	launch, err := New(e.store, e.cache, s, Options{ScopeKey: "scope", LazyFetch: true}, utils.NewNopLogger()).Launch(ctx)
	require.NoError(t, err)

	assert.Equal(t, "u1", launch.UpdateID)
	assert.Equal(t, store.StatusLaunchable, launch.Status)
	assert.Empty(t, launch.Missing)
	assert.Len(t, launch.AssetPaths, 3)
	assert.Equal(t, e.cache.Path(hashOf("content of bundle.js")), launch.LaunchAssetPath)
	assert.Equal(t, 2, s.fetches["https://cdn.example.com/b.png"])

	update, err := e.store.UpdateByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusLaunchable, update.Status)
	assert.False(t, update.PartiallyFailed)
	links, err := e.store.UpdateAssets(ctx, "u1")
	require.NoError(t, err)
	for _, link := range links {
		assert.False(t, link.Failed)
		assert.True(t, link.Asset.Materialized())
	}
}

func TestLaunch_WithoutLazyFetchReportsMissing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := newMemoryStrategy(t, "u1", time.Now(), "bundle.js", "a.png")
	s.withhold("a.png")
	require.Equal(t, loader.UpdateReadyWithFailedAssets, e.load(t, s).Kind)

	launch, err := New(e.store, e.cache, nil, Options{ScopeKey: "scope"}, nil).Launch(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, launch.Status)
	assert.Equal(t, []string{hashOf("content of a.png")}, launch.Missing)
	assert.NotEmpty(t, launch.LaunchAssetPath)

	update, err := e.store.UpdateByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, update.Status)
}

func TestLaunch_SkipsUpdateWithoutLaunchAsset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	base := time.Now().Add(-time.Hour)
	older := newMemoryStrategy(t, "older", base, "old.js")
	newer := newMemoryStrategy(t, "newer", base.Add(time.Minute), "new.js")
	require.Equal(t, loader.UpdateReady, e.load(t, older).Kind)
	require.Equal(t, loader.UpdateReady, e.load(t, newer).Kind)

	// The newest launch asset vanished from disk
	require.NoError(t, os.Remove(e.cache.Path(hashOf("content of new.js"))))

	launch, err := New(e.store, e.cache, nil, Options{ScopeKey: "scope"}, utils.NewNopLogger()).Launch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "older", launch.UpdateID)
}

func TestLaunch_RefetchesCorruptLaunchAsset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := newMemoryStrategy(t, "u1", time.Now(), "bundle.js")
	require.Equal(t, loader.UpdateReady, e.load(t, s).Kind)

	launchPath := e.cache.Path(hashOf("content of bundle.js"))
	require.NoError(t, os.WriteFile(launchPath, []byte("bit rot"), 0644))

	launch, err := New(e.store, e.cache, s, Options{ScopeKey: "scope", LazyFetch: true}, utils.NewNopLogger()).Launch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", launch.UpdateID)
	assert.Equal(t, launchPath, launch.LaunchAssetPath)
	assert.Equal(t, 2, s.fetches["https://cdn.example.com/bundle.js"])

	data, err := os.ReadFile(launchPath)
	require.NoError(t, err)
	assert.Equal(t, "content of bundle.js", string(data))
}

func TestLaunch_SkipsCorruptLaunchAssetWithoutLazyFetch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	base := time.Now().Add(-time.Hour)
	require.Equal(t, loader.UpdateReady, e.load(t, newMemoryStrategy(t, "older", base, "old.js")).Kind)
	require.Equal(t, loader.UpdateReady, e.load(t, newMemoryStrategy(t, "newer", base.Add(time.Minute), "new.js")).Kind)

	corrupt := e.cache.Path(hashOf("content of new.js"))
	require.NoError(t, os.WriteFile(corrupt, []byte("bit rot"), 0644))

	launch, err := New(e.store, e.cache, nil, Options{ScopeKey: "scope"}, utils.NewNopLogger()).Launch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "older", launch.UpdateID)
	_, err = os.Stat(corrupt)
	assert.True(t, os.IsNotExist(err))
}

func TestLaunch_NoEligibleUpdate(t *testing.T) {
	e := newEnv(t)
	_, err := New(e.store, e.cache, nil, Options{ScopeKey: "nothing-here"}, nil).Launch(context.Background())
	assert.True(t, errors.Is(err, ErrNoLaunchableUpdate))
}

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-updates/pkg/manifest"
	"github.com/go-updates/pkg/utils"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "updates.db"), utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func testManifest(id string, created time.Time, launch string, assets ...string) *manifest.Manifest {
	m := &manifest.Manifest{
		ID:          id,
		CreatedAt:   created,
		LaunchAsset: manifest.Asset{Hash: hashOf(launch), URL: "https://cdn/" + launch, ContentType: "application/javascript", IsLaunchAsset: true},
		Assets:      []manifest.Asset{},
	}
	for _, a := range assets {
		m.Assets = append(m.Assets, manifest.Asset{Hash: hashOf(a), URL: "https://cdn/" + a, ContentType: "image/png", Key: a})
	}
	return m
}

func TestBeginUpdate_CreatesPendingRowsAndRefCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := testManifest("u1", time.Now(), "bundle", "a", "b")

	status, err := s.BeginUpdate(ctx, "scope", m)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	links, err := s.UpdateAssets(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.True(t, links[0].IsLaunchAsset)
	assert.Equal(t, hashOf("bundle"), links[0].AssetHash)
	assert.Equal(t, "a", links[1].Key)
	assert.Equal(t, 1, links[1].Asset.RefCount)

	// Re-recording the same manifest must not double count
	_, err = s.BeginUpdate(ctx, "scope", m)
	require.NoError(t, err)
	asset, err := s.AssetByHash(ctx, hashOf("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, asset.RefCount)
	assert.False(t, asset.Materialized())
}

func TestBeginUpdate_SharedHashFirstURLWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m1 := testManifest("u1", time.Now(), "bundle1", "shared")
	m2 := testManifest("u2", time.Now(), "bundle2")
	m2.Assets = append(m2.Assets, manifest.Asset{Hash: hashOf("shared"), URL: "https://mirror/shared", ContentType: "image/png"})

	_, err := s.BeginUpdate(ctx, "scope", m1)
	require.NoError(t, err)
	_, err = s.BeginUpdate(ctx, "scope", m2)
	require.NoError(t, err)

	asset, err := s.AssetByHash(ctx, hashOf("shared"))
	require.NoError(t, err)
	assert.Equal(t, 2, asset.RefCount)
	assert.Equal(t, "https://cdn/shared", asset.URL)
}

func TestCommitUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := testManifest("u1", time.Now(), "bundle", "a")
	_, err := s.BeginUpdate(ctx, "scope", m)
	require.NoError(t, err)

	commit := Commit{
		UpdateID:     "u1",
		ScopeKey:     "scope",
		Status:       StatusReady,
		FailedHashes: []string{hashOf("a")},
		Headers:      map[string]string{"If-None-Match": `"v1"`},
	}

	// Launch asset not materialized yet
	err = s.CommitUpdate(ctx, commit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStore))

	require.NoError(t, s.MarkAssetMaterialized(ctx, hashOf("bundle"), hashOf("bundle"), 6))
	require.NoError(t, s.CommitUpdate(ctx, commit))

	update, err := s.UpdateByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, update.Status)
	assert.True(t, update.PartiallyFailed)

	links, err := s.UpdateAssets(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, links[0].Failed)
	assert.True(t, links[1].Failed)

	headers, err := s.ManifestHeaders(ctx, "scope")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"If-None-Match": `"v1"`}, headers)

	// Status alone must be eligible
	err = s.CommitUpdate(ctx, Commit{UpdateID: "u1", Status: StatusPending})
	assert.True(t, errors.Is(err, ErrStore))
}

func TestMarkUpdateFailed_OnlyPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.BeginUpdate(ctx, "scope", testManifest("ready", time.Now(), "b1"))
	require.NoError(t, err)
	require.NoError(t, s.MarkAssetMaterialized(ctx, hashOf("b1"), hashOf("b1"), 2))
	require.NoError(t, s.CommitUpdate(ctx, Commit{UpdateID: "ready", ScopeKey: "scope", Status: StatusReady}))

	_, err = s.BeginUpdate(ctx, "scope", testManifest("pending", time.Now(), "b2"))
	require.NoError(t, err)

	require.NoError(t, s.MarkUpdateFailed(ctx, "ready"))
	require.NoError(t, s.MarkUpdateFailed(ctx, "pending"))

	ready, err := s.UpdateByID(ctx, "ready")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, ready.Status)

	failed, err := s.UpdateByID(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)

	// A later load of a failed update starts over
	status, err := s.BeginUpdate(ctx, "scope", testManifest("pending", time.Now(), "b2"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	// An eligible update is never downgraded
	status, err = s.BeginUpdate(ctx, "scope", testManifest("ready", time.Now(), "b1"))
	require.NoError(t, err)
	assert.Equal(t, StatusReady, status)
}

func TestEligibleUpdatesAndMarkLaunchable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new"} {
		launch := "bundle-" + id
		_, err := s.BeginUpdate(ctx, "scope", testManifest(id, base.Add(time.Duration(i)*time.Hour), launch, "a"))
		require.NoError(t, err)
		require.NoError(t, s.MarkAssetMaterialized(ctx, hashOf(launch), hashOf(launch), 1))
		require.NoError(t, s.CommitUpdate(ctx, Commit{UpdateID: id, ScopeKey: "scope", Status: StatusReady, FailedHashes: []string{hashOf("a")}}))
	}
	_, err := s.BeginUpdate(ctx, "other", testManifest("elsewhere", base, "x"))
	require.NoError(t, err)

	eligible, err := s.EligibleUpdates(ctx, "scope")
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	assert.Equal(t, "new", eligible[0].ID)
	assert.Equal(t, "old", eligible[1].ID)

	require.NoError(t, s.MarkLaunchable(ctx, "new"))
	update, err := s.UpdateByID(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, StatusLaunchable, update.Status)
	assert.False(t, update.PartiallyFailed)

	// A clean reload keeps LAUNCHABLE
	require.NoError(t, s.CommitUpdate(ctx, Commit{UpdateID: "new", ScopeKey: "scope", Status: StatusReady}))
	update, err = s.UpdateByID(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, StatusLaunchable, update.Status)

	all, err := s.ListUpdates(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCommitUpdate_KeepsEligibleStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.BeginUpdate(ctx, "scope", testManifest("u1", time.Now(), "bundle", "a"))
	require.NoError(t, err)
	require.NoError(t, s.MarkAssetMaterialized(ctx, hashOf("bundle"), hashOf("bundle"), 6))
	require.NoError(t, s.CommitUpdate(ctx, Commit{UpdateID: "u1", ScopeKey: "scope", Status: StatusReady}))
	require.NoError(t, s.MarkLaunchable(ctx, "u1"))

	// The embedded copy of the same update arrives later
	require.NoError(t, s.CommitUpdate(ctx, Commit{UpdateID: "u1", ScopeKey: "scope", Status: StatusEmbedded}))
	update, err := s.UpdateByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusLaunchable, update.Status)

	require.NoError(t, s.CommitUpdate(ctx, Commit{UpdateID: "u1", ScopeKey: "scope", Status: StatusEmbedded, FailedHashes: []string{hashOf("a")}}))
	update, err = s.UpdateByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, update.Status)
	assert.True(t, update.PartiallyFailed)
}

func TestBeginUpdate_MovesScope(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := testManifest("u1", time.Now(), "bundle")

	_, err := s.BeginUpdate(ctx, "scope-a", m)
	require.NoError(t, err)
	require.NoError(t, s.MarkAssetMaterialized(ctx, hashOf("bundle"), hashOf("bundle"), 6))
	require.NoError(t, s.CommitUpdate(ctx, Commit{UpdateID: "u1", ScopeKey: "scope-a", Status: StatusReady}))

	status, err := s.BeginUpdate(ctx, "scope-b", m)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, status)

	update, err := s.UpdateByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "scope-b", update.ScopeKey)

	inA, err := s.EligibleUpdates(ctx, "scope-a")
	require.NoError(t, err)
	assert.Empty(t, inA)
	inB, err := s.EligibleUpdates(ctx, "scope-b")
	require.NoError(t, err)
	assert.Len(t, inB, 1)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UpdateByID(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, ErrStore))

	err = s.MarkAssetMaterialized(ctx, hashOf("missing"), "x", 1)
	assert.True(t, errors.Is(err, ErrNotFound))

	headers, err := s.ManifestHeaders(ctx, "nothing")
	require.NoError(t, err)
	assert.Nil(t, headers)
}

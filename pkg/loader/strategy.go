package loader

import (
	"context"

	"github.com/go-updates/pkg/cache"
	"github.com/go-updates/pkg/download"
	"github.com/go-updates/pkg/manifest"
	"github.com/go-updates/pkg/store"
)

// ManifestRequest is what the loader hands a strategy when asking for a manifest
type ManifestRequest struct {
	ScopeKey string
	Headers  map[string]string // validation tokens from the previous successful load
}

// Strategy knows where manifests and assets come from
type Strategy interface {
	FetchManifest(ctx context.Context, req ManifestRequest) (*download.ManifestResponse, error)
	// FetchAsset writes the asset's bytes to dst; verification is the cache's job
	FetchAsset(ctx context.Context, asset manifest.Asset, dst string) error
	// CommitStatus is the status a successfully loaded update is committed with
	CommitStatus() store.UpdateStatus
}

// UpdateStore is the part of the store the loader writes to
type UpdateStore interface {
	ManifestHeaders(ctx context.Context, scope string) (map[string]string, error)
	BeginUpdate(ctx context.Context, scope string, m *manifest.Manifest) (store.UpdateStatus, error)
	AssetByHash(ctx context.Context, hash string) (*store.Asset, error)
	MarkAssetMaterialized(ctx context.Context, hash, relativePath string, size int64) error
	CommitUpdate(ctx context.Context, c store.Commit) error
	MarkUpdateFailed(ctx context.Context, id string) error
}

// Materialize makes sure the asset is in the cache, fetching it through the
// strategy when it is not. Concurrent calls for one hash share a single fetch.
func Materialize(ctx context.Context, s Strategy, c *cache.AssetCache, asset manifest.Asset) (cache.AcquireResult, error) {
	return c.Acquire(ctx, asset.Hash, func(ctx context.Context, dst string) error {
		return s.FetchAsset(ctx, asset, dst)
	})
}

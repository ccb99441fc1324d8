package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-updates/pkg/cache"
	"github.com/go-updates/pkg/loader"
	"github.com/go-updates/pkg/manifest"
	"github.com/go-updates/pkg/store"
	"github.com/go-updates/pkg/utils"
)

// ErrNoLaunchableUpdate means no eligible update of the scope has its launch asset
var ErrNoLaunchableUpdate = errors.New("no launchable update")

// errSkip marks an update the launcher passes over
var errSkip = errors.New("update skipped")

// LaunchStore is the part of the store the launcher reads and writes
type LaunchStore interface {
	EligibleUpdates(ctx context.Context, scope string) ([]store.Update, error)
	UpdateAssets(ctx context.Context, updateID string) ([]store.UpdateAsset, error)
	MarkAssetMaterialized(ctx context.Context, hash, relativePath string, size int64) error
	SetAssetFailed(ctx context.Context, updateID, hash string, failed bool) error
	MarkLaunchable(ctx context.Context, id string) error
}

// Options configures a Launcher
type Options struct {
	ScopeKey string
	// LazyFetch re-fetches missing or previously failed assets through the
	// strategy. Ignored when the launcher has no strategy.
	LazyFetch bool
}

// Launch is the update chosen to run and where its files are
type Launch struct {
	UpdateID        string             `json:"update_id"`
	Status          store.UpdateStatus `json:"status"`
	LaunchAssetPath string             `json:"launch_asset_path"`
	AssetPaths      map[string]string  `json:"asset_paths"` // asset key (hash when unkeyed) -> file
	Missing         []string           `json:"missing,omitempty"`
}

// Launcher selects the newest runnable update of a scope
type Launcher struct {
	store    LaunchStore
	cache    *cache.AssetCache
	strategy loader.Strategy
	opts     Options
	logger   *utils.Logger
}

// New creates a launcher. strategy may be nil when assets must not be fetched.
func New(st LaunchStore, c *cache.AssetCache, strategy loader.Strategy, opts Options, logger *utils.Logger) *Launcher {
	return &Launcher{
		store:    st,
		cache:    c,
		strategy: strategy,
		opts:     opts,
		logger:   logger,
	}
}

// Launch walks the scope's eligible updates newest first and returns the
// first whose launch asset is present (fetching it lazily when allowed).
// An update found complete is promoted to LAUNCHABLE.
func (l *Launcher) Launch(ctx context.Context) (*Launch, error) {
	updates, err := l.store.EligibleUpdates(ctx, l.opts.ScopeKey)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("Found %d eligible updates for scope %s", len(updates), l.opts.ScopeKey)

	for _, update := range updates {
		launch, err := l.prepare(ctx, update)
		if errors.Is(err, errSkip) {
			l.logger.Warn("Skipping update %s: %v", update.ID, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		return launch, nil
	}
	return nil, fmt.Errorf("%w for scope %s", ErrNoLaunchableUpdate, l.opts.ScopeKey)
}

func (l *Launcher) prepare(ctx context.Context, update store.Update) (*Launch, error) {
	links, err := l.store.UpdateAssets(ctx, update.ID)
	if err != nil {
		return nil, err
	}

	result := &Launch{
		UpdateID:   update.ID,
		Status:     update.Status,
		AssetPaths: make(map[string]string, len(links)),
	}

	for _, link := range links {
		path, err := l.resolve(ctx, link)
		if err != nil {
			if link.IsLaunchAsset {
				return nil, fmt.Errorf("%w: launch asset %s unavailable: %v", errSkip, link.AssetHash, err)
			}
			l.logger.Warn("Asset %s of update %s unavailable: %v", link.AssetHash, update.ID, err)
			result.Missing = append(result.Missing, link.AssetHash)
			if !link.Failed {
				if err := l.store.SetAssetFailed(ctx, update.ID, link.AssetHash, true); err != nil {
					return nil, err
				}
			}
			continue
		}

		key := link.Key
		if key == "" {
			key = link.AssetHash
		}
		result.AssetPaths[key] = path
		if link.IsLaunchAsset {
			result.LaunchAssetPath = path
		}
	}

	if len(result.Missing) == 0 {
		if err := l.store.MarkLaunchable(ctx, update.ID); err != nil {
			return nil, err
		}
		if result.Status == store.StatusReady {
			result.Status = store.StatusLaunchable
		}
		l.logger.Info("✅ Update %s is launchable (%d assets)", update.ID, len(links))
	} else {
		l.logger.Info("Update %s launches with %d missing assets", update.ID, len(result.Missing))
	}
	return result, nil
}

// resolve returns the cached file of link, fetching it when allowed
func (l *Launcher) resolve(ctx context.Context, link store.UpdateAsset) (string, error) {
	path, ok := l.cache.Lookup(link.AssetHash)
	if ok && link.IsLaunchAsset {
		if err := l.cache.Verify(link.AssetHash); err != nil {
			if !errors.Is(err, cache.ErrAssetCorrupt) {
				return "", err
			}
			l.logger.Warn("Launch asset %s failed verification: %v", link.AssetHash, err)
			ok = false
		}
	}
	if ok {
		if !link.Asset.Materialized() {
			if err := l.attach(ctx, link.AssetHash, path); err != nil {
				return "", err
			}
		}
		if link.Failed {
			if err := l.store.SetAssetFailed(ctx, link.UpdateID, link.AssetHash, false); err != nil {
				return "", err
			}
		}
		return path, nil
	}

	if l.strategy == nil || !l.opts.LazyFetch {
		return "", fmt.Errorf("asset %s is not cached", link.AssetHash)
	}

	l.logger.Info("Fetching missing asset %s on demand", link.AssetHash)
	res, err := loader.Materialize(ctx, l.strategy, l.cache, manifest.Asset{
		Hash:          link.AssetHash,
		URL:           link.Asset.URL,
		ContentType:   link.Asset.ContentType,
		Key:           link.Key,
		IsLaunchAsset: link.IsLaunchAsset,
	})
	if err != nil {
		return "", err
	}
	if err := l.attach(ctx, link.AssetHash, res.Path); err != nil {
		return "", err
	}
	if link.Failed {
		if err := l.store.SetAssetFailed(ctx, link.UpdateID, link.AssetHash, false); err != nil {
			return "", err
		}
	}
	return res.Path, nil
}

func (l *Launcher) attach(ctx context.Context, hash, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat cached asset %s: %w", hash, err)
	}
	rel, err := filepath.Rel(l.cache.Dir(), path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return l.store.MarkAssetMaterialized(ctx, hash, rel, info.Size())
}

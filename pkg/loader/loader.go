package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/go-updates/pkg/cache"
	"github.com/go-updates/pkg/manifest"
	"github.com/go-updates/pkg/metrics"
	"github.com/go-updates/pkg/store"
	"github.com/go-updates/pkg/utils"
)

// DefaultMaxConcurrency bounds parallel asset fetches when Options leave it unset
const DefaultMaxConcurrency = 4

// Options tunes one Loader
type Options struct {
	ScopeKey       string
	MaxConcurrency int
	// RejectPartialUpdates makes a load whose non-launch assets failed end
	// Failed instead of committing READY with failed assets.
	RejectPartialUpdates bool
	Metrics              *metrics.Metrics
}

// Loader runs one update load: fetch the manifest, resolve and download its
// assets, and commit the update once the launch asset is in place.
type Loader struct {
	strategy Strategy
	store    UpdateStore
	cache    *cache.AssetCache
	opts     Options
	logger   *utils.Logger

	started atomic.Bool
	mu      sync.Mutex
	machine machine
}

// New creates a loader. Several loaders may share one store and cache.
func New(strategy Strategy, st UpdateStore, c *cache.AssetCache, opts Options, logger *utils.Logger) *Loader {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Loader{
		strategy: strategy,
		store:    st,
		cache:    c,
		opts:     opts,
		logger:   logger,
	}
}

// State returns the loader's current state
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.machine.state
}

// Start runs the load in the background and calls done exactly once with the
// outcome. A Loader can be started only once; a nil done is rejected without
// consuming that start.
func (l *Loader) Start(ctx context.Context, done func(Outcome)) error {
	if done == nil {
		return fmt.Errorf("%w: nil done callback", ErrInvalidState)
	}
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: loader already started", ErrInvalidState)
	}
	go func() {
		done(l.run(ctx))
	}()
	return nil
}

// Load runs the load and waits for its outcome. The error is non-nil only
// when the loader was already started; load failures are in Outcome.Err.
func (l *Loader) Load(ctx context.Context) (Outcome, error) {
	ch := make(chan Outcome, 1)
	if err := l.Start(ctx, func(o Outcome) { ch <- o }); err != nil {
		return Outcome{}, err
	}
	return <-ch, nil
}

func (l *Loader) apply(ev event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, err := l.machine.next(ev)
	if err != nil {
		return err
	}
	l.machine = next
	return nil
}

// run is one load from Idle to a terminal state
func (l *Loader) run(ctx context.Context) (outcome Outcome) {
	started := time.Now()
	log := l.logger.With("run", uuid.NewString()).With("scope", l.opts.ScopeKey)
	defer func() {
		l.opts.Metrics.LoadFinished(string(outcome.Kind), started)
		if outcome.Err != nil {
			log.Error("❌ Load finished: %s", outcome)
		} else {
			log.Info("✅ Load finished: %s in %v", outcome, time.Since(started).Round(time.Millisecond))
		}
	}()

	if err := l.apply(event{kind: evStart}); err != nil {
		return l.fail(log, "", err)
	}

	// FetchingManifest
	if err := ctx.Err(); err != nil {
		return l.fail(log, "", cancelled(err))
	}
	tokens, err := l.store.ManifestHeaders(ctx, l.opts.ScopeKey)
	if err != nil {
		return l.fail(log, "", err)
	}
	resp, err := l.strategy.FetchManifest(ctx, ManifestRequest{ScopeKey: l.opts.ScopeKey, Headers: tokens})
	if err != nil {
		l.opts.Metrics.ManifestFetched(metrics.ResultError)
		return l.fail(log, "", fmt.Errorf("manifest fetch failed: %w", err))
	}
	if resp.NotModified {
		l.opts.Metrics.ManifestFetched(metrics.ResultNotModified)
		if err := l.apply(event{kind: evNotModified}); err != nil {
			return l.fail(log, "", err)
		}
		log.Info("Manifest not modified, no update available")
		return Outcome{Kind: NoUpdateAvailable}
	}
	l.opts.Metrics.ManifestFetched(metrics.ResultSuccess)
	if err := l.apply(event{kind: evManifestFetched}); err != nil {
		return l.fail(log, "", err)
	}

	// ManifestReady
	m, err := manifest.Parse(resp.Body)
	if err != nil {
		return l.fail(log, "", err)
	}
	if err := l.apply(event{kind: evParsed}); err != nil {
		return l.fail(log, m.ID, err)
	}
	log = log.With("update", m.ID)
	if err := ctx.Err(); err != nil {
		return l.fail(log, m.ID, cancelled(err))
	}

	// ResolvingAssets
	status, err := l.store.BeginUpdate(ctx, l.opts.ScopeKey, m)
	if err != nil {
		return l.fail(log, m.ID, err)
	}
	log.Debug("Update %s recorded with status %s", m.ID, status)

	assets := m.AllAssets()
	var missing []manifest.Asset
	for _, asset := range assets {
		path, ok := l.cache.Lookup(asset.Hash)
		if !ok {
			missing = append(missing, asset)
			continue
		}
		l.opts.Metrics.CacheHit()
		log.Verbose("Asset %s already cached", asset.Hash)
		if err := l.attach(ctx, asset.Hash, path); err != nil {
			return l.fail(log, m.ID, err)
		}
	}
	log.Info("Resolved %d assets: %d cached, %d to fetch", len(assets), len(assets)-len(missing), len(missing))
	if err := ctx.Err(); err != nil {
		return l.fail(log, m.ID, cancelled(err))
	}
	if err := l.apply(event{kind: evResolved, pending: len(missing)}); err != nil {
		return l.fail(log, m.ID, err)
	}

	// AwaitingAssetDownloads
	failures := l.fetchAll(ctx, log, missing)
	if err := ctx.Err(); err != nil {
		return l.fail(log, m.ID, cancelled(err))
	}

	// A collision or store failure anywhere invalidates the whole load
	for _, f := range failures {
		if errors.Is(f.Err, cache.ErrHashCollision) || errors.Is(f.Err, store.ErrStore) {
			l.markFailed(ctx, log, m.ID)
			return l.failWith(log, m.ID, f.Err, failures)
		}
	}
	if launch, ok := lo.Find(failures, func(f AssetFailure) bool { return f.Launch }); ok {
		l.markFailed(ctx, log, m.ID)
		return l.failWith(log, m.ID, fmt.Errorf("%w: %s: %w", ErrLaunchAssetFailed, launch.Hash, launch.Err), failures)
	}
	if len(failures) > 0 && l.opts.RejectPartialUpdates {
		l.markFailed(ctx, log, m.ID)
		return l.failWith(log, m.ID, fmt.Errorf("%w: %d failed, first: %w", ErrPartialUpdate, len(failures), failures[0].Err), failures)
	}

	// Finalizing
	commit := store.Commit{
		UpdateID:     m.ID,
		ScopeKey:     l.opts.ScopeKey,
		Status:       l.strategy.CommitStatus(),
		FailedHashes: lo.Map(failures, func(f AssetFailure, _ int) string { return f.Hash }),
	}
	if resp.Header != nil {
		commit.Headers = manifest.ValidationTokens(resp.Header)
		if commit.Headers == nil {
			commit.Headers = map[string]string{}
		}
	}
	if err := l.store.CommitUpdate(context.WithoutCancel(ctx), commit); err != nil {
		l.markFailed(ctx, log, m.ID)
		return l.fail(log, m.ID, err)
	}
	if err := l.apply(event{kind: evCommitted}); err != nil {
		return l.fail(log, m.ID, err)
	}

	if len(failures) > 0 {
		for _, f := range failures {
			log.Warn("Asset %s (%s) failed: %v", f.Hash, f.URL, f.Err)
		}
		return Outcome{Kind: UpdateReadyWithFailedAssets, UpdateID: m.ID, FailedAssets: failures}
	}
	return Outcome{Kind: UpdateReady, UpdateID: m.ID}
}

// fetchAll materializes every missing asset through the worker pool. Each
// result is independent; a failure does not cancel its siblings.
func (l *Loader) fetchAll(ctx context.Context, log *utils.Logger, missing []manifest.Asset) []AssetFailure {
	if len(missing) == 0 {
		return nil
	}

	// In-flight fetches finish even if ctx is cancelled; the downloader's
	// per-request timeout still applies.
	fetchCtx := context.WithoutCancel(ctx)
	errs := make([]error, len(missing))

	done := func(i int, err error) {
		errs[i] = err
		if applyErr := l.apply(event{kind: evAssetDone, launch: missing[i].IsLaunchAsset, ok: err == nil}); applyErr != nil {
			log.Error("Asset %s completion rejected: %v", missing[i].Hash, applyErr)
		}
	}

	dispatch(len(missing), l.opts.MaxConcurrency,
		func(i int) bool { return ctx.Err() == nil },
		func(i int) {
			asset := missing[i]
			log.Debug("Starting download: %s", asset.URL)
			res, err := Materialize(fetchCtx, l.strategy, l.cache, asset)
			switch {
			case err != nil && errors.Is(err, cache.ErrAssetCorrupt):
				l.opts.Metrics.AssetFetched(metrics.ResultCorrupt)
			case err != nil:
				l.opts.Metrics.AssetFetched(metrics.ResultError)
			case res.Shared:
				l.opts.Metrics.AssetFetched(metrics.ResultShared)
			case res.Fetched:
				l.opts.Metrics.AssetFetched(metrics.ResultSuccess)
			default:
				l.opts.Metrics.CacheHit()
			}
			if err == nil {
				err = l.attach(fetchCtx, asset.Hash, res.Path)
			}
			if err != nil {
				log.Error("❌ Download failed: %s - %v", asset.URL, err)
			} else {
				log.Debug("Download success: %s", asset.URL)
			}
			done(i, err)
		},
		func(i int) { done(i, cancelled(ctx.Err())) },
	)

	var failures []AssetFailure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, AssetFailure{
				Hash:   missing[i].Hash,
				Key:    missing[i].Key,
				URL:    missing[i].URL,
				Launch: missing[i].IsLaunchAsset,
				Err:    err,
			})
		}
	}
	return failures
}

// attach records a verified cache file on its asset row, once
func (l *Loader) attach(ctx context.Context, hash, path string) error {
	asset, err := l.store.AssetByHash(ctx, hash)
	if err != nil {
		return err
	}
	if asset.Materialized() {
		return nil
	}
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

func (l *Loader) markFailed(ctx context.Context, log *utils.Logger, updateID string) {
	if err := l.store.MarkUpdateFailed(context.WithoutCancel(ctx), updateID); err != nil {
		log.Error("Failed to mark update %s failed: %v", updateID, err)
	}
}

func (l *Loader) fail(log *utils.Logger, updateID string, err error) Outcome {
	return l.failWith(log, updateID, err, nil)
}

func (l *Loader) failWith(log *utils.Logger, updateID string, err error, failures []AssetFailure) Outcome {
	l.mu.Lock()
	if !l.machine.state.Terminal() {
		l.machine, _ = l.machine.next(event{kind: evFail})
	}
	l.mu.Unlock()

	if errors.Is(err, cache.ErrHashCollision) {
		log.Error("Hash collision aborts update %s: %v", updateID, err)
	}
	return Outcome{Kind: Failed, UpdateID: updateID, FailedAssets: failures, Err: err}
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

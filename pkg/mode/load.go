package mode

import (
	"context"

	"github.com/go-updates/pkg/config"
	"github.com/go-updates/pkg/loader"
	"github.com/go-updates/pkg/utils"
)

// RunRemote fetches the manifest at cfg.UpdateURL and loads its update
func RunRemote(ctx context.Context, cfg *config.Config, logger *utils.Logger) (loader.Outcome, error) {
	logger.Info("Starting remote update load from %s", cfg.UpdateURL)
	strategy, err := newRemoteStrategy(cfg, logger)
	if err != nil {
		return loader.Outcome{}, err
	}
	return runLoad(ctx, cfg, logger, strategy)
}

// RunEmbedded loads the update shipped in the bundle at cfg.EmbeddedBundlePath
func RunEmbedded(ctx context.Context, cfg *config.Config, logger *utils.Logger) (loader.Outcome, error) {
	logger.Info("Starting embedded update load from %s", cfg.EmbeddedBundlePath)
	strategy, err := newEmbeddedStrategy(cfg, logger)
	if err != nil {
		return loader.Outcome{}, err
	}
	return runLoad(ctx, cfg, logger, strategy)
}

func runLoad(ctx context.Context, cfg *config.Config, logger *utils.Logger, strategy loader.Strategy) (outcome loader.Outcome, err error) {
	s, err := openSession(cfg, logger)
	if err != nil {
		return loader.Outcome{}, err
	}
	defer func() {
		if cerr := s.close(); cerr != nil {
			logger.Warn("Failed to close session: %v", cerr)
		}
	}()

	l := loader.New(strategy, s.store, s.cache, loader.Options{
		ScopeKey:             cfg.EffectiveScopeKey(),
		MaxConcurrency:       cfg.DownloadMaxConcurrency,
		RejectPartialUpdates: !cfg.CommitPartialUpdates,
		Metrics:              s.metrics,
	}, logger)
	outcome, err = l.Load(ctx)
	if err != nil {
		return loader.Outcome{}, err
	}

	switch outcome.Kind {
	case loader.UpdateReady:
		logger.Info("✅ Update %s is ready", outcome.UpdateID)
	case loader.UpdateReadyWithFailedAssets:
		logger.Warn("Update %s is ready with %d failed assets; they will be fetched on launch", outcome.UpdateID, len(outcome.FailedAssets))
	case loader.NoUpdateAvailable:
		logger.Info("No update available")
	}
	return outcome, nil
}

package mode

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-updates/pkg/cache"
	"github.com/go-updates/pkg/config"
	"github.com/go-updates/pkg/download"
	"github.com/go-updates/pkg/loader"
	"github.com/go-updates/pkg/metrics"
	"github.com/go-updates/pkg/store"
	"github.com/go-updates/pkg/utils"
)

// session holds the local state every mode works against
type session struct {
	cfg     *config.Config
	logger  *utils.Logger
	store   *store.Store
	cache   *cache.AssetCache
	metrics *metrics.Metrics
}

func openSession(cfg *config.Config, logger *utils.Logger) (*session, error) {
	if err := utils.EnsureDir(cfg.UpdatesDirectory); err != nil {
		return nil, fmt.Errorf("failed to prepare updates directory: %w", err)
	}
	st, err := store.Open(cfg.DatabaseFile(), logger)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cfg.AssetsDirectory(), logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	m, err := metrics.New()
	if err != nil {
		c.Close()
		st.Close()
		return nil, err
	}
	logger.Debug("Opened database %s and asset cache %s", cfg.DatabaseFile(), cfg.AssetsDirectory())
	return &session{cfg: cfg, logger: logger, store: st, cache: c, metrics: m}, nil
}

// close flushes metrics and releases the store and cache
func (s *session) close() error {
	var errs []error
	if s.cfg.MetricsFile != "" {
		if err := s.metrics.WriteTextfile(s.cfg.MetricsFile); err != nil {
			errs = append(errs, err)
		} else {
			s.logger.Debug("Wrote metrics to %s", s.cfg.MetricsFile)
		}
	}
	if err := s.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// newDownloader builds the HTTP client from the network settings
func newDownloader(cfg *config.Config, logger *utils.Logger) *download.Client {
	client := download.NewClient(logger, download.Options{
		Timeout:         cfg.RequestTimeout,
		FollowRedirects: cfg.FollowRedirects,
		AuthUser:        cfg.HTTPAuthUser,
		AuthPassword:    cfg.HTTPAuthPassword,
		Headers:         cfg.EffectiveHeaders(),
	})
	client.SetRetryDefaults(cfg.MaxRetries, time.Duration(cfg.RetryDelay)*time.Second)
	if cfg.HTTPAuthUser != "" {
		logger.Debug("Using basic authentication for user %s", cfg.HTTPAuthUser)
	}
	return client
}

// newRemoteStrategy builds the strategy for cfg.UpdateURL
func newRemoteStrategy(cfg *config.Config, logger *utils.Logger) (*loader.RemoteStrategy, error) {
	return loader.NewRemoteStrategy(newDownloader(cfg, logger), loader.RemoteOptions{
		ManifestURL:    cfg.UpdateURL,
		RuntimeVersion: cfg.RuntimeVersion,
		Platform:       cfg.Platform,
	}, logger)
}

// newEmbeddedStrategy reads the bundle directory at cfg.EmbeddedBundlePath
func newEmbeddedStrategy(cfg *config.Config, logger *utils.Logger) (*loader.EmbeddedStrategy, error) {
	info, err := os.Stat(cfg.EmbeddedBundlePath)
	if err != nil {
		return nil, fmt.Errorf("embedded bundle not readable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("embedded bundle %s is not a directory", cfg.EmbeddedBundlePath)
	}
	return loader.NewEmbeddedStrategy(os.DirFS(cfg.EmbeddedBundlePath), cfg.EmbeddedManifestName, logger), nil
}

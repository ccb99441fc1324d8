package mode

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/go-updates/pkg/config"
	"github.com/go-updates/pkg/launcher"
	"github.com/go-updates/pkg/loader"
	"github.com/go-updates/pkg/utils"
)

// LaunchReport is what launch mode prints
type LaunchReport struct {
	Scope           string            `json:"scope" yaml:"scope"`
	UpdateID        string            `json:"update_id" yaml:"update_id"`
	Status          string            `json:"status" yaml:"status"`
	LaunchAssetPath string            `json:"launch_asset_path" yaml:"launch_asset_path"`
	AssetPaths      map[string]string `json:"asset_paths" yaml:"asset_paths"`
	Missing         []string          `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// RunLaunch selects the newest launchable update and prints where its files are.
// Missing assets are fetched lazily from cfg.UpdateURL when LazyAssetFetch is set.
func RunLaunch(ctx context.Context, cfg *config.Config, logger *utils.Logger, w io.Writer) (*LaunchReport, error) {
	s, err := openSession(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := s.close(); cerr != nil {
			logger.Warn("Failed to close session: %v", cerr)
		}
	}()

	var strategy loader.Strategy
	if cfg.LazyAssetFetch && cfg.UpdateURL != "" {
		remote, err := newRemoteStrategy(cfg, logger)
		if err != nil {
			return nil, err
		}
		strategy = remote
	}

	scope := cfg.EffectiveScopeKey()
	l := launcher.New(s.store, s.cache, strategy, launcher.Options{
		ScopeKey:  scope,
		LazyFetch: cfg.LazyAssetFetch,
	}, logger)
	launch, err := l.Launch(ctx)
	if err != nil {
		return nil, err
	}
	if len(launch.Missing) > 0 {
		logger.Warn("Update %s is launchable with %d missing assets", launch.UpdateID, len(launch.Missing))
	} else {
		logger.Info("✅ Launching update %s", launch.UpdateID)
	}

	report := &LaunchReport{
		Scope:           scope,
		UpdateID:        launch.UpdateID,
		Status:          string(launch.Status),
		LaunchAssetPath: launch.LaunchAssetPath,
		AssetPaths:      launch.AssetPaths,
		Missing:         launch.Missing,
	}
	return report, writeOutput(w, cfg.OutputFormat, report, report.writeText)
}

func (r *LaunchReport) writeText(w io.Writer) error {
	fmt.Fprintf(w, "Scope:        %s\n", r.Scope)
	fmt.Fprintf(w, "Update:       %s (%s)\n", r.UpdateID, r.Status)
	fmt.Fprintf(w, "Launch asset: %s\n", r.LaunchAssetPath)
	keys := make([]string, 0, len(r.AssetPaths))
	for k := range r.AssetPaths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s -> %s\n", k, r.AssetPaths[k])
	}
	for _, m := range r.Missing {
		fmt.Fprintf(w, "  missing: %s\n", m)
	}
	return nil
}

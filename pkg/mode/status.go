package mode

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/samber/lo"

	"github.com/go-updates/pkg/config"
	"github.com/go-updates/pkg/store"
	"github.com/go-updates/pkg/utils"
)

// UpdateSummary describes one persisted update
type UpdateSummary struct {
	ID              string    `json:"id" yaml:"id"`
	Scope           string    `json:"scope" yaml:"scope"`
	Status          string    `json:"status" yaml:"status"`
	CommitTime      time.Time `json:"commit_time" yaml:"commit_time"`
	RuntimeVersion  string    `json:"runtime_version,omitempty" yaml:"runtime_version,omitempty"`
	PartiallyFailed bool      `json:"partially_failed" yaml:"partially_failed"`
	Assets          int       `json:"assets" yaml:"assets"`
	Materialized    int       `json:"materialized" yaml:"materialized"`
	FailedAssets    []string  `json:"failed_assets,omitempty" yaml:"failed_assets,omitempty"`
}

// StatusReport is what status mode prints
type StatusReport struct {
	Scope   string          `json:"scope,omitempty" yaml:"scope,omitempty"`
	Updates []UpdateSummary `json:"updates" yaml:"updates"`
}

// RunStatus lists the updates recorded for the configured scope, or for all
// scopes when none is configured.
func RunStatus(ctx context.Context, cfg *config.Config, logger *utils.Logger, w io.Writer) (*StatusReport, error) {
	s, err := openSession(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := s.close(); cerr != nil {
			logger.Warn("Failed to close session: %v", cerr)
		}
	}()

	scope := cfg.EffectiveScopeKey()
	updates, err := s.store.ListUpdates(ctx, scope)
	if err != nil {
		return nil, err
	}
	logger.Debug("Found %d updates for scope %q", len(updates), scope)

	report := &StatusReport{
		Scope:   scope,
		Updates: lo.Map(updates, func(u store.Update, _ int) UpdateSummary { return summarize(u) }),
	}
	return report, writeOutput(w, cfg.OutputFormat, report, report.writeText)
}

func summarize(u store.Update) UpdateSummary {
	return UpdateSummary{
		ID:              u.ID,
		Scope:           u.ScopeKey,
		Status:          string(u.Status),
		CommitTime:      u.CommitTime,
		RuntimeVersion:  u.RuntimeVersion,
		PartiallyFailed: u.PartiallyFailed,
		Assets:          len(u.Assets),
		Materialized:    lo.CountBy(u.Assets, func(a store.UpdateAsset) bool { return a.Asset.Materialized() }),
		FailedAssets: lo.FilterMap(u.Assets, func(a store.UpdateAsset, _ int) (string, bool) {
			return a.AssetHash, a.Failed
		}),
	}
}

func (r *StatusReport) writeText(w io.Writer) error {
	if len(r.Updates) == 0 {
		_, err := fmt.Fprintln(w, "No updates recorded")
		return err
	}
	for _, u := range r.Updates {
		fmt.Fprintf(w, "%s  %-10s  %s  %d/%d assets", u.ID, u.Status, u.CommitTime.Format(time.RFC3339), u.Materialized, u.Assets)
		if u.PartiallyFailed {
			fmt.Fprintf(w, "  (%d failed)", len(u.FailedAssets))
		}
		fmt.Fprintf(w, "  [%s]\n", u.Scope)
	}
	return nil
}

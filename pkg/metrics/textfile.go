package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-updates/pkg/utils"
)

// WriteTextfile writes the current values in the node-exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := utils.EnsureDirForFile(path); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

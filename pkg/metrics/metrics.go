package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels
const (
	ResultSuccess     = "success"
	ResultNotModified = "not_modified"
	ResultError       = "error"
	ResultCorrupt     = "corrupt"
	ResultShared      = "shared"
)

// Metrics counts loader activity. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	manifestFetches *prometheus.CounterVec
	assetFetches    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	outcomes        *prometheus.CounterVec
	loadDuration    prometheus.Histogram
}

// New creates the loader metrics on their own registry
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		manifestFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "updates_manifest_fetches_total",
				Help: "manifest requests by result",
			},
			[]string{"result"},
		),
		assetFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "updates_asset_fetches_total",
				Help: "asset fetches by result",
			},
			[]string{"result"},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "updates_asset_cache_hits_total",
				Help: "assets satisfied from the cache without a fetch",
			},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "updates_load_outcomes_total",
				Help: "load outcomes by kind",
			},
			[]string{"outcome"},
		),
		loadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "updates_load_duration_seconds",
				Help:    "wall time of a load",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
	}
	return m, m.Register()
}

// Register adds every collector to the metrics registry
func (m *Metrics) Register() error {
	for _, c := range []prometheus.Collector{m.manifestFetches, m.assetFetches, m.cacheHits, m.outcomes, m.loadDuration} {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ManifestFetched(result string) {
	if m == nil {
		return
	}
	m.manifestFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) AssetFetched(result string) {
	if m == nil {
		return
	}
	m.assetFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) LoadFinished(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
	m.loadDuration.Observe(time.Since(start).Seconds())
}

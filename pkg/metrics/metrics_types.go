package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the run store
type Registry struct {
	// Run Metrics
	RunLookupsTotal        *prometheus.CounterVec
	RunBuildsTotal         *prometheus.CounterVec
	RunBuildDuration       prometheus.Histogram
	RunEntriesWrittenTotal prometheus.Counter
	RunsLive               prometheus.Gauge
	RunReleasesTotal       prometheus.Counter

	// Page Metrics
	PagesWrittenTotal *prometheus.CounterVec
	PagesReadTotal    *prometheus.CounterVec
	PageCacheHits     prometheus.Counter
	PageCacheMisses   prometheus.Counter

	// Iterator Metrics
	IteratorSeeksTotal        prometheus.Counter
	IteratorSeekLevelsVisited prometheus.Histogram
	IteratorPrefixMissesTotal prometheus.Counter

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initRunMetrics()
	r.initPageMetrics()
	r.initIteratorMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

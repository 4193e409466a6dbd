package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRunMetrics() {
	r.RunLookupsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "runstore_lookups_total",
			Help: "Total number of point lookups against sorted runs",
		},
		[]string{"result"}, // hit, miss, bloom_negative, error
	)

	r.RunBuildsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "runstore_builds_total",
			Help: "Total number of run bulk ingestions",
		},
		[]string{"status"},
	)

	r.RunBuildDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runstore_build_duration_seconds",
			Help:    "Duration of run bulk ingestion in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
	)

	r.RunEntriesWrittenTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "runstore_entries_written_total",
			Help: "Total number of records written into runs",
		},
	)

	r.RunsLive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "runstore_runs_live",
			Help: "Number of runs built or opened and not yet released",
		},
	)

	r.RunReleasesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "runstore_releases_total",
			Help: "Total number of released runs",
		},
	)
}

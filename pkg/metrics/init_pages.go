package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initPageMetrics() {
	r.PagesWrittenTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "runstore_pages_written_total",
			Help: "Total number of pages written",
		},
		[]string{"kind"}, // data, summary
	)

	r.PagesReadTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "runstore_pages_read_total",
			Help: "Total number of pages read",
		},
		[]string{"kind"}, // data, summary
	)

	r.PageCacheHits = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "runstore_page_cache_hits_total",
			Help: "Total number of page cache hits",
		},
	)

	r.PageCacheMisses = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "runstore_page_cache_misses_total",
			Help: "Total number of page cache misses",
		},
	)
}

func (r *Registry) initIteratorMetrics() {
	r.IteratorSeeksTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "runstore_iterator_seeks_total",
			Help: "Total number of SeekGE calls that needed the summary",
		},
	)

	r.IteratorSeekLevelsVisited = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runstore_iterator_seek_levels_visited",
			Help:    "Summary levels revisited per cached-descent seek",
			Buckets: []float64{0, 1, 2, 3, 4, 6, 8},
		},
	)

	r.IteratorPrefixMissesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "runstore_iterator_prefix_misses_total",
			Help: "Prefix searches rejected by the bloom filter or with no matching entry",
		},
	)
}

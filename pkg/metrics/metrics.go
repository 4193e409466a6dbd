package metrics

import (
	"runtime"
	"time"
)

// Lookup result labels
const (
	LookupHit           = "hit"
	LookupMiss          = "miss"
	LookupBloomNegative = "bloom_negative"
	LookupError         = "error"
)

// Page kind labels
const (
	PageKindData    = "data"
	PageKindSummary = "summary"
)

// Record methods are no-ops on a nil Registry so callers can leave metrics unset.

// RecordLookup records the outcome of a point lookup
func (r *Registry) RecordLookup(result string) {
	if r == nil {
		return
	}
	r.RunLookupsTotal.WithLabelValues(result).Inc()
}

// RecordBuild records a finished bulk ingestion
func (r *Registry) RecordBuild(status string, entries int, duration time.Duration) {
	if r == nil {
		return
	}
	r.RunBuildsTotal.WithLabelValues(status).Inc()
	r.RunBuildDuration.Observe(duration.Seconds())
	r.RunEntriesWrittenTotal.Add(float64(entries))
	if status == "success" {
		r.RunsLive.Inc()
	}
}

// RecordOpen records a run reopened from persisted metadata
func (r *Registry) RecordOpen() {
	if r == nil {
		return
	}
	r.RunsLive.Inc()
}

// RecordRelease records a released run
func (r *Registry) RecordRelease() {
	if r == nil {
		return
	}
	r.RunReleasesTotal.Inc()
	r.RunsLive.Dec()
}

// RecordPageWrite records a page written for the given kind
func (r *Registry) RecordPageWrite(kind string) {
	if r == nil {
		return
	}
	r.PagesWrittenTotal.WithLabelValues(kind).Inc()
}

// RecordPageRead records a page read for the given kind
func (r *Registry) RecordPageRead(kind string) {
	if r == nil {
		return
	}
	r.PagesReadTotal.WithLabelValues(kind).Inc()
}

// RecordCacheAccess records a page cache hit or miss
func (r *Registry) RecordCacheAccess(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.PageCacheHits.Inc()
	} else {
		r.PageCacheMisses.Inc()
	}
}

// RecordSeek records a cached-descent seek and how many summary levels it revisited
func (r *Registry) RecordSeek(levelsVisited int) {
	if r == nil {
		return
	}
	r.IteratorSeeksTotal.Inc()
	r.IteratorSeekLevelsVisited.Observe(float64(levelsVisited))
}

// RecordPrefixMiss records a prefix search that produced no iterator
func (r *Registry) RecordPrefixMiss() {
	if r == nil {
		return
	}
	r.IteratorPrefixMissesTotal.Inc()
}

// UpdateSystemMetrics refreshes the process gauges
func (r *Registry) UpdateSystemMetrics(startTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	r.UptimeSeconds.Set(time.Since(startTime).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
}

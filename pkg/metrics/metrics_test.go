package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}

	if r.RunLookupsTotal == nil {
		t.Error("RunLookupsTotal not initialized")
	}
	if r.PagesReadTotal == nil {
		t.Error("PagesReadTotal not initialized")
	}
	if r.IteratorSeeksTotal == nil {
		t.Error("IteratorSeeksTotal not initialized")
	}
	if r.registry == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r1 := DefaultRegistry()
	r2 := DefaultRegistry()

	if r1 != r2 {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestRecordLookup(t *testing.T) {
	r := NewRegistry()

	r.RecordLookup(LookupHit)
	r.RecordLookup(LookupHit)
	r.RecordLookup(LookupBloomNegative)

	counter, err := r.RunLookupsTotal.GetMetricWithLabelValues(LookupHit)
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("hit counter = %v, want 2", metric.Counter.GetValue())
	}

	if got := testutil.ToFloat64(r.RunLookupsTotal.WithLabelValues(LookupBloomNegative)); got != 1 {
		t.Errorf("bloom_negative counter = %v, want 1", got)
	}
}

func TestRecordBuildAndRelease(t *testing.T) {
	r := NewRegistry()

	r.RecordBuild("success", 100, 20*time.Millisecond)
	r.RecordBuild("success", 50, 10*time.Millisecond)
	r.RecordBuild("error", 3, time.Millisecond)
	r.RecordRelease()

	if got := testutil.ToFloat64(r.RunsLive); got != 1 {
		t.Errorf("RunsLive = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.RunEntriesWrittenTotal); got != 153 {
		t.Errorf("RunEntriesWrittenTotal = %v, want 153", got)
	}
	if got := testutil.ToFloat64(r.RunBuildsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error builds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.RunReleasesTotal); got != 1 {
		t.Errorf("RunReleasesTotal = %v, want 1", got)
	}
}

func TestPageCounters(t *testing.T) {
	r := NewRegistry()

	r.RecordPageWrite(PageKindData)
	r.RecordPageWrite(PageKindSummary)
	r.RecordPageRead(PageKindData)
	r.RecordPageRead(PageKindData)
	r.RecordCacheAccess(true)
	r.RecordCacheAccess(false)
	r.RecordCacheAccess(false)

	tests := []struct {
		name     string
		got      float64
		expected float64
	}{
		{"data writes", testutil.ToFloat64(r.PagesWrittenTotal.WithLabelValues(PageKindData)), 1},
		{"summary writes", testutil.ToFloat64(r.PagesWrittenTotal.WithLabelValues(PageKindSummary)), 1},
		{"data reads", testutil.ToFloat64(r.PagesReadTotal.WithLabelValues(PageKindData)), 2},
		{"cache hits", testutil.ToFloat64(r.PageCacheHits), 1},
		{"cache misses", testutil.ToFloat64(r.PageCacheMisses), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestRecordSeek(t *testing.T) {
	r := NewRegistry()

	r.RecordSeek(0)
	r.RecordSeek(2)
	r.RecordPrefixMiss()

	if got := testutil.ToFloat64(r.IteratorSeeksTotal); got != 2 {
		t.Errorf("IteratorSeeksTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.IteratorPrefixMissesTotal); got != 1 {
		t.Errorf("IteratorPrefixMissesTotal = %v, want 1", got)
	}

	var metric dto.Metric
	if err := r.IteratorSeekLevelsVisited.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", metric.Histogram.GetSampleCount())
	}
	if metric.Histogram.GetSampleSum() != 2 {
		t.Errorf("sample sum = %v, want 2", metric.Histogram.GetSampleSum())
	}
}

func TestSystemMetrics(t *testing.T) {
	r := NewRegistry()

	r.UpdateSystemMetrics(time.Now().Add(-time.Minute))

	if got := testutil.ToFloat64(r.UptimeSeconds); got < 60 {
		t.Errorf("UptimeSeconds = %v, want >= 60", got)
	}
	if got := testutil.ToFloat64(r.GoRoutines); got < 1 {
		t.Errorf("GoRoutines = %v, want >= 1", got)
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.RecordLookup(LookupMiss)
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(r.RunLookupsTotal.WithLabelValues(LookupMiss)); got != 1000 {
		t.Errorf("Counter = %v, want 1000", got)
	}
}

func TestMetricNaming(t *testing.T) {
	r := NewRegistry()
	r.RecordLookup(LookupHit)
	r.RecordPageRead(PageKindSummary)

	metrics, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	if len(metrics) == 0 {
		t.Fatal("expected gathered metrics")
	}
	for _, m := range metrics {
		name := m.GetName()
		if !strings.HasPrefix(name, "runstore_") {
			t.Errorf("Metric %s does not have runstore_ prefix", name)
		}
	}
}

func BenchmarkRecordLookup(b *testing.B) {
	r := NewRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.RecordLookup(LookupHit)
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.RecordLookup(LookupHit)
	r.RecordPageRead(PageKindData)
	r.RecordSeek(3)
	r.RecordBuild("success", 1, time.Millisecond)
}

package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ckhsu1225/vvmviz/pkg/types"
	"github.com/ckhsu1225/vvmviz/pkg/utils"
)

// fakeSource serves a settable stats snapshot.
type fakeSource struct {
	mu    sync.Mutex
	stats types.CacheStats
}

func (f *fakeSource) Stats() types.CacheStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeSource) set(s types.CacheStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = s
}

func newTestCollector(t *testing.T, src types.StatsSource) *Collector {
	t.Helper()
	cfg := &Config{Enabled: true, Namespace: "vvmviz", Interval: time.Hour}
	c, err := NewCollector(cfg, src, utils.NewLogger(utils.ERROR, io.Discard))
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return c
}

func TestCollectorPublishesSnapshot(t *testing.T) {
	src := &fakeSource{}
	src.set(types.CacheStats{
		Hits:              3,
		Misses:            1,
		Evictions:         2,
		PrefetchSuccess:   5,
		PrefetchFailure:   1,
		PrefetchCancelled: 4,
		Entries:           7,
		Capacity:          200,
		HitRate:           0.75,
		AverageLoadTime:   0.25,
	})
	c := newTestCollector(t, src)

	c.update()

	if got := testutil.ToFloat64(c.cacheHits); got != 3 {
		t.Errorf("cache_hits_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.cacheMisses); got != 1 {
		t.Errorf("cache_misses_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cacheEvictions); got != 2 {
		t.Errorf("cache_evictions_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.prefetchTotal.WithLabelValues("success")); got != 5 {
		t.Errorf("prefetch_total{success} = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.prefetchTotal.WithLabelValues("cancelled")); got != 4 {
		t.Errorf("prefetch_total{cancelled} = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.entriesGauge); got != 7 {
		t.Errorf("cache_entries = %v, want 7", got)
	}
	if got := testutil.ToFloat64(c.capacityGauge); got != 200 {
		t.Errorf("cache_capacity = %v, want 200", got)
	}
	if got := testutil.ToFloat64(c.hitRatioGauge); got != 0.75 {
		t.Errorf("cache_hit_ratio = %v, want 0.75", got)
	}
	if got := testutil.ToFloat64(c.avgLoadGauge); got != 0.25 {
		t.Errorf("cache_average_load_seconds = %v, want 0.25", got)
	}
}

// Counters must track the cumulative cache totals across snapshots, not the
// sum of totals.
func TestCollectorCounterDeltas(t *testing.T) {
	src := &fakeSource{}
	src.set(types.CacheStats{Hits: 2, Misses: 1})
	c := newTestCollector(t, src)

	c.update()
	src.set(types.CacheStats{Hits: 5, Misses: 1, Entries: 3})
	c.update()

	if got := testutil.ToFloat64(c.cacheHits); got != 5 {
		t.Errorf("cache_hits_total = %v, want 5 after two snapshots", got)
	}
	if got := testutil.ToFloat64(c.cacheMisses); got != 1 {
		t.Errorf("cache_misses_total = %v, want 1 (no change)", got)
	}
	if got := testutil.ToFloat64(c.entriesGauge); got != 3 {
		t.Errorf("cache_entries = %v, want 3 (overwritten)", got)
	}
}

func TestObserveFrameLoad(t *testing.T) {
	c := newTestCollector(t, &fakeSource{})

	c.ObserveFrameLoad(LoadSync, 120*time.Millisecond)
	if got := testutil.CollectAndCount(c.loadSeconds); got != 1 {
		t.Errorf("frame_load_seconds series = %d, want 1", got)
	}

	c.ObserveFrameLoad(LoadPrefetch, 80*time.Millisecond)
	if got := testutil.CollectAndCount(c.loadSeconds); got != 2 {
		t.Errorf("frame_load_seconds series = %d, want 2 after both sources", got)
	}
}

func TestStartPublishesInitialSnapshot(t *testing.T) {
	src := &fakeSource{}
	src.set(types.CacheStats{Hits: 9, Capacity: 50})
	c := newTestCollector(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	c.Start(ctx) // second Start is a no-op

	if got := testutil.ToFloat64(c.cacheHits); got != 9 {
		t.Errorf("cache_hits_total = %v, want 9 right after Start", got)
	}
	if got := testutil.ToFloat64(c.capacityGauge); got != 50 {
		t.Errorf("cache_capacity = %v, want 50 right after Start", got)
	}
}

func TestDisabledCollectorIsInert(t *testing.T) {
	cfg := &Config{Enabled: false}
	c, err := NewCollector(cfg, nil, utils.NewLogger(utils.ERROR, io.Discard))
	if err != nil {
		t.Fatalf("NewCollector disabled: %v", err)
	}
	if h := c.Handler(); h != nil {
		t.Errorf("Handler() = %v, want nil when disabled", h)
	}
	// None of these may panic without instruments.
	c.Start(context.Background())
	c.ObserveFrameLoad(LoadSync, time.Second)
}

func TestNewCollectorNilSource(t *testing.T) {
	cfg := &Config{Enabled: true}
	if _, err := NewCollector(cfg, nil, nil); err == nil {
		t.Fatal("expected an error for an enabled collector without a source")
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	src := &fakeSource{}
	src.set(types.CacheStats{Hits: 1})
	c := newTestCollector(t, src)
	c.update()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("GET /metrics = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, series := range []string{
		"vvmviz_cache_hits_total",
		"vvmviz_cache_entries",
		"vvmviz_prefetch_total",
	} {
		if !strings.Contains(body, series) {
			t.Errorf("exposition missing %s", series)
		}
	}
}

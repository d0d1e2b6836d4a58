// Package metrics republishes frame cache statistics as Prometheus series.
//
// The Collector owns a private registry so the exported series are exactly
// the ones defined here. Counters are advanced by the delta between
// successive cache snapshots (cache counters are monotonic: Clear keeps
// them); gauges are overwritten on every snapshot. The frame-load histogram
// is fed directly by the controller, labeled by whether the load was a
// synchronous miss fill or a background prefetch. The API server mounts
// Handler() under /metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ckhsu1225/vvmviz/pkg/types"
	"github.com/ckhsu1225/vvmviz/pkg/utils"
)

// Load source labels for the frame-load histogram.
const (
	LoadSync     = "sync"
	LoadPrefetch = "prefetch"
)

// Config represents metrics collection settings.
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	Namespace string        `yaml:"namespace"`
	Interval  time.Duration `yaml:"interval"`
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Namespace: "vvmviz",
		Interval:  15 * time.Second,
	}
}

// Collector polls a stats source on an interval and republishes the
// snapshot through a Prometheus registry.
type Collector struct {
	mu      sync.Mutex
	config  *Config
	source  types.StatsSource
	log     *utils.Logger
	started bool

	registry *prometheus.Registry

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	prefetchTotal  *prometheus.CounterVec
	entriesGauge   prometheus.Gauge
	capacityGauge  prometheus.Gauge
	hitRatioGauge  prometheus.Gauge
	avgLoadGauge   prometheus.Gauge
	loadSeconds    *prometheus.HistogramVec

	// last is the previous snapshot, the baseline for counter deltas.
	last types.CacheStats
}

// NewCollector creates a metrics collector over a stats source. A nil
// config uses DefaultConfig; a disabled config yields an inert collector
// whose methods are all no-ops.
func NewCollector(config *Config, source types.StatsSource, log *utils.Logger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = utils.NewLogger(utils.INFO, os.Stdout)
	}

	c := &Collector{
		config: config,
		source: source,
		log:    log.WithComponent("metrics"),
	}
	if !config.Enabled {
		return c, nil
	}
	if source == nil {
		return nil, fmt.Errorf("metrics: nil stats source")
	}
	if config.Namespace == "" {
		config.Namespace = DefaultConfig().Namespace
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("metrics: register: %w", err)
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "cache_hits_total",
		Help:      "Total frame cache hits",
	})
	c.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "cache_misses_total",
		Help:      "Total frame cache misses",
	})
	c.cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "cache_evictions_total",
		Help:      "Total frames evicted from the cache",
	})
	c.prefetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "prefetch_total",
		Help:      "Prefetch jobs by terminal outcome",
	}, []string{"outcome"})

	c.entriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "cache_entries",
		Help:      "Frames currently cached",
	})
	c.capacityGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "cache_capacity",
		Help:      "Frame cache capacity",
	})
	c.hitRatioGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "cache_hit_ratio",
		Help:      "Hits over total gets since startup",
	})
	c.avgLoadGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "cache_average_load_seconds",
		Help:      "Average frame load time in seconds",
	})

	c.loadSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "frame_load_seconds",
		Help:      "Frame load duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	}, []string{"source"})
}

func (c *Collector) registerMetrics() error {
	collectors := []prometheus.Collector{
		c.cacheHits,
		c.cacheMisses,
		c.cacheEvictions,
		c.prefetchTotal,
		c.entriesGauge,
		c.capacityGauge,
		c.hitRatioGauge,
		c.avgLoadGauge,
		c.loadSeconds,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the HTTP handler serving the registry, or nil when the
// collector is disabled.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return nil
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start publishes an initial snapshot and launches the update loop. The
// loop exits when ctx is cancelled. Start is a no-op when the collector is
// disabled or already started.
func (c *Collector) Start(ctx context.Context) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.update()
	go c.updateLoop(ctx)
	c.log.Info("metrics collector started: interval=%s", c.config.Interval)
}

// ObserveFrameLoad records one frame load duration under the given source
// label (LoadSync or LoadPrefetch).
func (c *Collector) ObserveFrameLoad(source string, d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.loadSeconds.WithLabelValues(source).Observe(d.Seconds())
}

func (c *Collector) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug("metrics update loop stopped")
			return
		case <-ticker.C:
			c.update()
		}
	}
}

// update publishes one snapshot: counter deltas plus gauge overwrites.
func (c *Collector) update() {
	snap := c.source.Stats()

	c.mu.Lock()
	prev := c.last
	c.last = snap
	c.mu.Unlock()

	addDelta(c.cacheHits, snap.Hits, prev.Hits)
	addDelta(c.cacheMisses, snap.Misses, prev.Misses)
	addDelta(c.cacheEvictions, snap.Evictions, prev.Evictions)
	addDelta(c.prefetchTotal.WithLabelValues("success"), snap.PrefetchSuccess, prev.PrefetchSuccess)
	addDelta(c.prefetchTotal.WithLabelValues("failure"), snap.PrefetchFailure, prev.PrefetchFailure)
	addDelta(c.prefetchTotal.WithLabelValues("cancelled"), snap.PrefetchCancelled, prev.PrefetchCancelled)

	c.entriesGauge.Set(float64(snap.Entries))
	c.capacityGauge.Set(float64(snap.Capacity))
	c.hitRatioGauge.Set(snap.HitRate)
	c.avgLoadGauge.Set(snap.AverageLoadTime)
}

// addDelta advances a counter by cur-prev. Cache counters never decrease,
// so a smaller cur only happens on a freshly swapped source; skip it.
func addDelta(counter prometheus.Counter, cur, prev uint64) {
	if cur > prev {
		counter.Add(float64(cur - prev))
	}
}

/*
Package metrics republishes frame cache statistics as Prometheus series.

# Overview

The package translates the cache's internal counters (hits, misses,
evictions, prefetch outcomes) into Prometheus metrics and adds a latency
histogram for frame loads. The Collector owns a private registry so the
exposition contains exactly the series defined here; the API server mounts
the registry's handler under /metrics.

Architecture

	┌──────────────┐   Stats()    ┌─────────────┐
	│ frame cache  │◄─────────────│  Collector   │
	│ (StatsSource)│   interval   │              │
	└──────────────┘              │  registry    │
	                              │  - counters  │
	┌──────────────┐ ObserveFrame │  - gauges    │
	│  controller  │─────────────►│  - histogram │
	└──────────────┘    Load      └──────┬──────┘
	                                     │ Handler()
	                              ┌──────▼──────┐
	                              │  /metrics   │
	                              └─────────────┘

# Two feeds

The collector is fed two ways. Snapshot polling drives the counters and
gauges: the update loop calls Stats() on the configured interval, advances
each counter by the delta from the previous snapshot, and overwrites the
gauges. Direct observation drives the histogram: the controller calls
ObserveFrameLoad after each synchronous miss fill and each completed
prefetch, labeled by source.

Cache counters are monotonic for the life of the process (Clear drops
entries but keeps counters), so snapshot deltas are never negative.

# Exported series

Counters:
  - vvmviz_cache_hits_total
  - vvmviz_cache_misses_total
  - vvmviz_cache_evictions_total
  - vvmviz_prefetch_total{outcome="success"|"failure"|"cancelled"}

Gauges:
  - vvmviz_cache_entries
  - vvmviz_cache_capacity
  - vvmviz_cache_hit_ratio
  - vvmviz_cache_average_load_seconds

Histograms:
  - vvmviz_frame_load_seconds{source="sync"|"prefetch"}

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:  true,
		Interval: 15 * time.Second,
	}, cache, logger)
	if err != nil {
		log.Fatal(err)
	}
	collector.Start(ctx)
	mux.Handle("/metrics", collector.Handler())

A disabled collector is inert: construction succeeds, Handler returns nil,
and every method is a no-op, so callers never need an enabled check.

# Scrape configuration

	scrape_configs:
	  - job_name: 'vvmviz'
	    static_configs:
	      - targets: ['localhost:8050']
	    metrics_path: '/metrics'
	    scrape_interval: 15s
*/
package metrics

/*
Package cache provides the in-memory frame cache that makes timeline scrubbing
interactive: a bounded LRU store of realized frame bundles plus a single-slot
background prefetcher that warms the next frame while the current one renders.

# Architecture

One manager owns both the store and the prefetch pipeline:

	┌─────────────────────────────────────────────┐
	│                 Controller                  │
	│        (interactive frame updates)          │
	└─────────────────────────────────────────────┘
	          │ Get/Put            │ PrefetchAsync
	┌─────────────────────────────────────────────┐
	│                  Manager                    │  ← This Package
	│   map[frame.Key]*list.Element               │
	│   container/list (front = most recent)      │
	│   one mutex, linearizable operations        │
	│                                             │
	│   pending slot ──▶ worker goroutine         │
	│   (supersede +      (re-check cache, then   │
	│    cancel)           load outside the lock) │
	└─────────────────────────────────────────────┘
	                      │ loader
	┌─────────────────────────────────────────────┐
	│              Dataset I/O layer              │
	└─────────────────────────────────────────────┘

# Eviction

The cache holds at most MaxEntries bundles. Inserting a new key at capacity
evicts exactly the least-recently-used entry; replacing an existing key never
evicts. Get on a hit and Put both move the entry to the most-recent position.

# Prefetch

At most one prefetch is outstanding. Scheduling a new one supersedes a job
still waiting in the slot (it will never run and counts as cancelled) and
best-effort cancels a running one: the worker observes cancellation only at
the preemption point before the loader call begins, so a load that has started
always runs to completion and its outcome is counted normally. The worker
re-checks the cache under the lock before loading, because the interactive
path may have loaded the same key synchronously while the job was queued.
Loader failures are logged, counted and swallowed; they never reach the
interactive path.

# Metrics

The manager tracks hits, misses, evictions, prefetch outcomes and cumulative
load time. Clear drops the entries but keeps the metrics, so hit rates stay
meaningful across simulation switches. Stats derives

	hit_rate          = hits / (hits + misses)
	average_load_time = total_load_time / (misses + prefetch_success)

and both are 0 when their denominator is.
*/
package cache

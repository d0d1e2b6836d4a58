/*
Package types provides the shared data structures and cross-layer contracts
for vvmviz.

This package defines the JSON payloads the HTTP API serves and the small
interfaces that decouple the metrics, health and staging layers from their
concrete implementations.

# Architecture Overview

vvmviz follows a layered architecture; types defined here flow between the
layers:

	┌─────────────────────────────────────────────┐
	│               HTTP API                      │
	│           (pkg/api, cmd/vvmviz)             │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              Controller                     │
	│         (internal/controller)               │
	└─────────────────────────────────────────────┘
	          │        │           │
	┌─────────┴───┐ ┌──┴────┐ ┌────┴────┐
	│ Frame Cache │ │Loader │ │ Metrics │
	│  (+prefetch)│ │       │ │         │
	└─────────────┘ └───┬───┘ └─────────┘
	                    │
	┌─────────────────────────────────────────────┐
	│        Dataset Reader (internal/vvm)        │
	└─────────────────────────────────────────────┘
	                    │
	┌─────────────────────────────────────────────┐
	│     Store: local tree or S3 mirror          │
	└─────────────────────────────────────────────┘

# Core Contracts

StatsSource:
Anything exposing frame cache statistics. Implemented by the cache manager
and consumed by the Prometheus collector and the stats endpoint, so neither
needs the cache's concrete type.

Store:
Resolves a simulation path to a local directory the NetCDF reader can open,
staging remote data first when the simulation lives in object storage.

HealthChecker:
Reports component health for the /health endpoint.

# Data Structures

CacheStats mirrors the frame cache counters plus the derived hit rate and
average load time. FrameInfo, GridInfo, WindInfo and ContourInfo are the
wire shapes of a rendered frame summary (bulk array values never cross the
API). SimulationInfo and VariableGroup describe what a scanned simulation
offers.

# Thread Safety

Implementations of the interfaces in this package must be safe for
concurrent use; the HTTP layer calls them from arbitrary goroutines.
*/
package types

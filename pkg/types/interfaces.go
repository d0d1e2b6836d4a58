package types

import (
	"context"
)

// StatsSource exposes frame cache statistics without tying consumers to the
// cache's concrete type. The metrics collector polls it on an interval; the
// stats endpoint snapshots it per request.
type StatsSource interface {
	Stats() CacheStats
}

// Store resolves a simulation path to a local directory the dataset reader
// can open. A local store validates and echoes the path; an object-storage
// mirror stages the simulation's files to a local staging area first.
type Store interface {
	// ListSimulations enumerates the simulation names the store can
	// resolve, sorted.
	ListSimulations(ctx context.Context) ([]string, error)

	// EnsureLocal returns a local directory containing the simulation's
	// files, staging them if needed. Safe for concurrent use.
	EnsureLocal(ctx context.Context, simPath string) (string, error)

	// HealthCheck verifies the backing storage is reachable.
	HealthCheck(ctx context.Context) error
}

// HealthChecker reports the health of the service and its data backends.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

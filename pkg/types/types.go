package types

import (
	"fmt"
	"time"
)

// CacheStats represents frame cache performance statistics
type CacheStats struct {
	Hits              uint64  `json:"hits"`
	Misses            uint64  `json:"misses"`
	Evictions         uint64  `json:"evictions"`
	PrefetchSuccess   uint64  `json:"prefetch_success"`
	PrefetchFailure   uint64  `json:"prefetch_failure"`
	PrefetchCancelled uint64  `json:"prefetch_cancelled"`
	Entries           int     `json:"entries"`
	Capacity          int     `json:"capacity"`
	HitRate           float64 `json:"hit_rate"`
	AverageLoadTime   float64 `json:"average_load_time"`
}

// Summary renders a human-readable block for logs and the CLI stats command
func (s CacheStats) Summary() string {
	return fmt.Sprintf(
		"Cache Performance:\n"+
			"  Hit Rate: %.1f%% (%d/%d)\n"+
			"  Entries: %d/%d (%d evicted)\n"+
			"  Prefetch: %d success, %d failed, %d cancelled\n"+
			"  Avg Load Time: %.3fs",
		s.HitRate*100, s.Hits, s.Hits+s.Misses,
		s.Entries, s.Capacity, s.Evictions,
		s.PrefetchSuccess, s.PrefetchFailure, s.PrefetchCancelled,
		s.AverageLoadTime,
	)
}

// VariableGroup represents one selectable group of model variables
type VariableGroup struct {
	Label     string   `json:"label"`
	Variables []string `json:"variables"`
}

// SimulationInfo represents one browsable simulation and its scanned contents
type SimulationInfo struct {
	Name        string          `json:"name"`
	Path        string          `json:"path"`
	Groups      []VariableGroup `json:"groups"`
	TimeIndices []int           `json:"time_indices"`
}

// GridInfo summarizes one realized array: identity, shape, and value range.
// Bulk values stay out of API payloads.
type GridInfo struct {
	Name     string   `json:"name"`
	LongName string   `json:"long_name,omitempty"`
	Units    string   `json:"units,omitempty"`
	Dims     []string `json:"dims"`
	Shape    []int    `json:"shape"`
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
}

// WindInfo summarizes the wind overlay: the component arrays plus the
// derived speed and meteorological direction.
type WindInfo struct {
	U         GridInfo `json:"u"`
	V         GridInfo `json:"v"`
	Speed     GridInfo `json:"speed"`
	Direction GridInfo `json:"direction"`
}

// ContourInfo summarizes the contour overlay and the levels rendered for it.
type ContourInfo struct {
	Grid      GridInfo  `json:"grid"`
	Levels    []float64 `json:"levels"`
	RangeMin  float64   `json:"range_min"`
	RangeMax  float64   `json:"range_max"`
	AutoRange bool      `json:"auto_range"`
}

// FrameInfo represents one rendered frame: the main layer summary, overlay
// summaries with their degrade notes, and load provenance.
type FrameInfo struct {
	Variable       string       `json:"variable"`
	TimeStart      int          `json:"time_start"`
	TimeEnd        int          `json:"time_end"`
	Title          string       `json:"title"`
	Main           GridInfo     `json:"main"`
	Wind           *WindInfo    `json:"wind,omitempty"`
	WindWarning    string       `json:"wind_warning,omitempty"`
	Contour        *ContourInfo `json:"contour,omitempty"`
	ContourWarning string       `json:"contour_warning,omitempty"`
	CacheHit       bool         `json:"cache_hit"`
	LoadTime       float64      `json:"load_time_seconds"`
	Prefetched     bool         `json:"prefetch_scheduled"`
}

// HealthStatus represents the health of the service and its data backends
type HealthStatus struct {
	Status    string            `json:"status"`
	LastCheck time.Time         `json:"last_check"`
	Message   string            `json:"message,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

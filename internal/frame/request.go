// Package frame defines the value objects one dashboard frame is described
// and cached by: the Request the controller assembles from widget state, the
// comparable Key the cache indexes on, and the realized Bundle of grids the
// loader produces.
package frame

// VerticalMode tags how a vertical selection is expressed.
type VerticalMode int

const (
	// VerticalNone means no vertical selection; the variable is 2-D.
	VerticalNone VerticalMode = iota
	// VerticalHeight selects a continuous physical range in meters.
	VerticalHeight
	// VerticalIndex selects an explicit inclusive level-index pair.
	VerticalIndex
)

func (m VerticalMode) String() string {
	switch m {
	case VerticalNone:
		return "none"
	case VerticalHeight:
		return "height"
	case VerticalIndex:
		return "index"
	default:
		return "unknown"
	}
}

// TimeRange is an inclusive range of time indices.
type TimeRange struct {
	Start int
	End   int
}

// VerticalRange is a tagged vertical selector. In VerticalHeight mode Lo and
// Hi are heights in meters; in VerticalIndex mode they carry whole level
// indices. The zero value (VerticalNone) means no vertical selection.
type VerticalRange struct {
	Mode VerticalMode
	Lo   float64
	Hi   float64
}

// HeightRange builds a continuous physical selection in meters.
func HeightRange(lo, hi float64) VerticalRange {
	return VerticalRange{Mode: VerticalHeight, Lo: lo, Hi: hi}
}

// IndexRangeVertical builds an explicit inclusive level-index selection.
func IndexRangeVertical(lo, hi int) VerticalRange {
	return VerticalRange{Mode: VerticalIndex, Lo: float64(lo), Hi: float64(hi)}
}

// Indices returns the selection as whole level indices. Only meaningful in
// VerticalIndex mode.
func (v VerticalRange) Indices() (lo, hi int) {
	return int(v.Lo), int(v.Hi)
}

// IndexRange is a half-open [Start, End) window of spatial indices, the
// slice convention the range sliders produce. A degenerate window
// (Start == End) is widened to one point by the reader rather than
// rejected. The zero value is reserved to mean the full domain extent.
type IndexRange struct {
	Start int
	End   int
}

// IsFull reports whether the range is the zero value, i.e. no restriction.
func (r IndexRange) IsFull() bool { return r == IndexRange{} }

// Request describes the data one frame needs. It is a plain value: building
// one never touches I/O and never fails; range misuse surfaces as a load
// error, not a construction error.
type Request struct {
	SimPath  string
	Var      string
	Time     TimeRange
	Vertical VerticalRange
	X        IndexRange
	Y        IndexRange

	// Overlay configuration.
	Wind        bool
	SurfaceWind bool
	Contour     bool
	ContourVar  string
}

// Key identifies a cached frame. It is a strict function of the fields that
// change what the loader produces for the full domain: the main variable,
// the time and vertical ranges, and the overlay configuration. X and Y are
// excluded because interactive loads are always full-domain (windowing is a
// render concern); SurfaceWind is excluded because it is derived from the
// variable's dimensionality, which Var already pins; SimPath is excluded
// because the cache is cleared on every simulation switch. TestRequestKey
// asserts this field set.
type Key struct {
	Var        string
	Time       TimeRange
	Vertical   VerticalRange
	Wind       bool
	Contour    bool
	ContourVar string
}

// Key derives the cache key for the request.
func (r Request) Key() Key {
	return Key{
		Var:        r.Var,
		Time:       r.Time,
		Vertical:   r.Vertical,
		Wind:       r.Wind,
		Contour:    r.Contour,
		ContourVar: r.ContourVar,
	}
}

package vvm

import (
	"github.com/ckhsu1225/vvmviz/internal/grid"
)

// Window is a half-open [Lo, Hi) index interval along one dimension.
type Window struct {
	Lo int
	Hi int
}

// Backend opens dataset files. Implementations are not required to be
// safe for concurrent use; the Reader serializes access through its gate.
type Backend interface {
	// Open opens the dataset at path. The caller owns the returned
	// handle and must Close it.
	Open(path string) (Dataset, error)
}

// Dataset is one open archive file. Handles are stateful and must not be
// used after Close.
type Dataset interface {
	// Variables lists the names of all variables in the file,
	// coordinate variables included.
	Variables() []string

	// Dimensions returns the dimension names of a variable in storage
	// order.
	Dimensions(name string) ([]string, error)

	// Slab reads a hyperslab of the variable as a realized grid. The
	// selection maps dimension names to index windows; dimensions
	// absent from the map are read in full. Windows are clamped to the
	// variable's extent, and a window that clamps to nothing is an
	// InvalidRange error. Coordinate variables sharing a selected
	// dimension's name are sliced to match and attached to the grid.
	Slab(name string, sel map[string]Window) (*grid.Grid, error)

	// Attr returns a variable attribute rendered as a string.
	Attr(varName, attr string) (string, bool)

	// Close releases the handle.
	Close() error
}

// Dimension name candidates, in preference order. VVM output carries
// either CF-style names (time/lev/lat/lon) or the model's native grid
// names (zc/yc/xc) depending on the postprocessing that produced it.
var (
	levDims = []string{"lev", "zc"}
	latDims = []string{"lat", "yc"}
	lonDims = []string{"lon", "xc"}
)

// coordDim returns the first candidate present in dims.
func coordDim(dims []string, candidates []string) (string, bool) {
	for _, c := range candidates {
		for _, d := range dims {
			if d == c {
				return d, true
			}
		}
	}
	return "", false
}

// VerticalDim returns the vertical dimension name present in dims, if any.
// Variables without one are two-dimensional fields: no level selection
// applies and wind overlays use the surface composite.
func VerticalDim(dims []string) (string, bool) {
	return coordDim(dims, levDims)
}

// isCoordName reports whether name is one of the coordinate variables
// excluded from variable menus.
func isCoordName(name string) bool {
	switch name {
	case "time", "lev", "lat", "lon", "xc", "yc", "zc":
		return true
	}
	return false
}

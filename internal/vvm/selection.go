package vvm

import (
	"fmt"

	"github.com/ckhsu1225/vvmviz/internal/frame"
	"github.com/ckhsu1225/vvmviz/pkg/errors"
)

// Selection narrows a variable read along each axis. Time indices are the
// six-digit file tokens, inclusive on both ends. X and Y are half-open
// slider windows; the zero value keeps the full extent. The vertical
// selector follows frame.VerticalRange: height mode is resolved against
// the file's level vector, index mode is an inclusive level-index pair,
// and VerticalNone reads whatever column the variable has.
type Selection struct {
	Time     frame.TimeRange
	Vertical frame.VerticalRange
	X        frame.IndexRange
	Y        frame.IndexRange
}

// normalizeSpatial widens degenerate spatial windows to one point. A
// slider parked at a single position produces Start == End, which as a
// half-open window selects nothing.
func normalizeSpatial(sel Selection) Selection {
	if !sel.X.IsFull() && sel.X.Start == sel.X.End {
		sel.X.End++
	}
	if !sel.Y.IsFull() && sel.Y.Start == sel.Y.End {
		sel.Y.End++
	}
	return sel
}

// windowsFor resolves the non-time axes of sel into per-dimension index
// windows for one variable of one file. Axes the variable does not have
// are skipped, matching how 2-D fields ignore a vertical selection.
func windowsFor(ds Dataset, name string, sel Selection) (map[string]Window, error) {
	dims, err := ds.Dimensions(name)
	if err != nil {
		return nil, err
	}
	windows := make(map[string]Window, 3)

	if !sel.X.IsFull() {
		if d, ok := coordDim(dims, lonDims); ok {
			windows[d] = Window{sel.X.Start, sel.X.End}
		}
	}
	if !sel.Y.IsFull() {
		if d, ok := coordDim(dims, latDims); ok {
			windows[d] = Window{sel.Y.Start, sel.Y.End}
		}
	}

	switch sel.Vertical.Mode {
	case frame.VerticalNone:
	case frame.VerticalIndex:
		if d, ok := coordDim(dims, levDims); ok {
			lo, hi := sel.Vertical.Indices()
			windows[d] = Window{lo, hi + 1}
		}
	case frame.VerticalHeight:
		if d, ok := coordDim(dims, levDims); ok {
			levels, lerr := levelVector(ds, d)
			if lerr != nil {
				return nil, lerr
			}
			w, werr := levelWindow(levels, sel.Vertical, d)
			if werr != nil {
				return nil, werr
			}
			windows[d] = w
		}
	}
	return windows, nil
}

// levelVector reads the 1-D level coordinate of a file.
func levelVector(ds Dataset, dim string) ([]float64, error) {
	g, err := ds.Slab(dim, nil)
	if err != nil {
		return nil, err
	}
	return g.Values, nil
}

// levelWindow maps a height range in meters onto the inclusive run of
// levels falling inside it. Levels ascend in VVM output.
func levelWindow(levels []float64, vr frame.VerticalRange, dim string) (Window, error) {
	lo, hi := -1, -1
	for i, z := range levels {
		if z >= vr.Lo && z <= vr.Hi {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	if lo < 0 {
		return Window{}, errors.NewError(errors.ErrCodeInvalidRange,
			fmt.Sprintf("no model level inside [%g, %g] m on %s", vr.Lo, vr.Hi, dim)).
			WithComponent("vvm").
			WithOperation("resolve")
	}
	return Window{lo, hi + 1}, nil
}

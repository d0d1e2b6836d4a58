package frame

import (
	"fmt"
	"math"

	"github.com/ckhsu1225/vvmviz/internal/grid"
)

// Bundle is the realized payload stored in the cache for one key: the main
// variable's grid with singleton dimensions already removed, plus optional
// overlay slots. A stored bundle is owned by the cache; readers receive a
// shared view and must not write into it. Derived fields (wind speed,
// direction) are produced as new grids, never in place.
type Bundle struct {
	Main    *grid.Grid
	Wind    *WindField
	Contour *grid.Grid

	// Degraded-overlay notes: set when an overlay was requested but could
	// not be produced. A nil slot with an empty note means the overlay was
	// not requested or not applicable.
	WindErr    string
	ContourErr string

	// Echo of what the loader resolved when producing the bundle.
	Var      string
	Time     TimeRange
	Vertical VerticalRange
}

// HasWind reports whether the wind overlay slot was produced.
func (b *Bundle) HasWind() bool { return b != nil && b.Wind != nil }

// HasContour reports whether the contour overlay slot was produced.
func (b *Bundle) HasContour() bool { return b != nil && b.Contour != nil }

// WindField carries the two horizontal wind component grids and derives
// renderable fields from them.
type WindField struct {
	U *grid.Grid
	V *grid.Grid
}

// Speed returns a new grid holding the wind speed sqrt(u²+v²).
func (w *WindField) Speed() (*grid.Grid, error) {
	if err := w.checkShapes(); err != nil {
		return nil, err
	}
	out := w.U.Clone()
	out.Name = "wspd"
	out.Attrs = map[string]string{"units": "m/s", "long_name": "wind speed"}
	for i := range out.Values {
		u, v := w.U.Values[i], w.V.Values[i]
		out.Values[i] = math.Sqrt(u*u + v*v)
	}
	return out, nil
}

// Direction returns a new grid holding the meteorological wind direction in
// degrees, (270 - atan2(v,u)*180/pi) mod 360, i.e. the direction the wind
// blows from, clockwise from north.
func (w *WindField) Direction() (*grid.Grid, error) {
	if err := w.checkShapes(); err != nil {
		return nil, err
	}
	out := w.U.Clone()
	out.Name = "wdir"
	out.Attrs = map[string]string{"units": "degrees", "long_name": "wind direction"}
	for i := range out.Values {
		u, v := w.U.Values[i], w.V.Values[i]
		deg := 270 - math.Atan2(v, u)*180/math.Pi
		deg = math.Mod(deg, 360)
		if deg < 0 {
			deg += 360
		}
		out.Values[i] = deg
	}
	return out, nil
}

func (w *WindField) checkShapes() error {
	if w.U == nil || w.V == nil {
		return fmt.Errorf("wind field missing a component grid")
	}
	if len(w.U.Shape) != len(w.V.Shape) {
		return fmt.Errorf("wind components have ranks %d and %d", len(w.U.Shape), len(w.V.Shape))
	}
	for i := range w.U.Shape {
		if w.U.Shape[i] != w.V.Shape[i] {
			return fmt.Errorf("wind component shapes differ: %v vs %v", w.U.Shape, w.V.Shape)
		}
	}
	return nil
}

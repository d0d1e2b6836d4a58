package vvm

import (
	"fmt"
	"math"
	"sort"

	"github.com/ckhsu1225/vvmviz/internal/frame"
	"github.com/ckhsu1225/vvmviz/internal/grid"
	"github.com/ckhsu1225/vvmviz/pkg/errors"
)

// diagnostic is one derivable column quantity.
type diagnostic struct {
	input    string
	longName string
}

// columnDiagnostics maps derived variables to the stored mixing ratio
// they integrate over the column. They appear in the variable menu only
// when the input species was scanned.
var columnDiagnostics = map[string]diagnostic{
	"cwv": {input: "qv", longName: "column water vapor"},
	"lwp": {input: "qc", longName: "liquid water path"},
	"iwp": {input: "qi", longName: "ice water path"},
}

// Reference density profile for column integrals. VVM archives do not
// store the base-state density, so a dry isothermal profile stands in;
// for a browsing tool the structure matters, not the absolute loading.
const (
	refSurfaceDensity = 1.2    // kg/m^3
	refScaleHeight    = 8500.0 // m
)

func refDensity(z float64) float64 {
	return refSurfaceDensity * math.Exp(-z/refScaleHeight)
}

// IsColumnVariable reports whether name is a column-integrated quantity.
// Column variables take the full height range instead of a level selection.
func IsColumnVariable(name string) bool {
	_, ok := columnDiagnostics[name]
	return ok
}

// availableDiagnostics lists the diagnostics whose inputs exist in the
// scanned archive, sorted.
func availableDiagnostics(ix *archiveIndex) []string {
	var out []string
	for name, d := range columnDiagnostics {
		if _, stored := ix.vars[d.input]; stored {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// readDiagnostic computes one column diagnostic at the selection's time
// and horizontal window. The vertical selection is replaced by the full
// column regardless of what the caller asked for. Gate must be held.
func (r *Reader) readDiagnostic(ix *archiveIndex, name string, d diagnostic, sel Selection) (*grid.Grid, error) {
	colSel := sel
	colSel.Vertical = frame.VerticalRange{}
	in, err := r.readStored(ix, d.input, colSel)
	if err != nil {
		return nil, err
	}
	out, err := integrateColumn(in, name)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeDatasetRead,
			fmt.Sprintf("derive %s from %s", name, d.input)).
			WithComponent("vvm").
			WithOperation("diagnose").
			WithCause(err)
	}
	out.Attrs["units"] = "kg m-2"
	out.Attrs["long_name"] = d.longName
	return out, nil
}

// integrateColumn collapses the vertical axis of g with density-weighted
// layer thicknesses: out = sum_k q_k * rho(z_k) * dz_k. Layer edges sit
// midway between levels, with the bottom edge at the ground.
func integrateColumn(g *grid.Grid, name string) (*grid.Grid, error) {
	levDim, ok := VerticalDim(g.Dims)
	if !ok {
		return nil, fmt.Errorf("%s has no vertical dimension", g.Name)
	}
	levels := g.Coords[levDim]
	axis := g.DimIndex(levDim)
	nz := g.Shape[axis]
	if len(levels) != nz {
		return nil, fmt.Errorf("%s carries no %s coordinate", g.Name, levDim)
	}

	weights := make([]float64, nz)
	lower := 0.0
	for k := 0; k < nz; k++ {
		var upper float64
		if k+1 < nz {
			upper = (levels[k] + levels[k+1]) / 2
		} else {
			upper = levels[k] + (levels[k] - lower)
		}
		weights[k] = refDensity(levels[k]) * (upper - lower)
		lower = upper
	}

	outer, inner := 1, 1
	for i := 0; i < axis; i++ {
		outer *= g.Shape[i]
	}
	for i := axis + 1; i < len(g.Shape); i++ {
		inner *= g.Shape[i]
	}

	values := make([]float64, outer*inner)
	for o := 0; o < outer; o++ {
		base := o * nz * inner
		for k := 0; k < nz; k++ {
			w := weights[k]
			row := base + k*inner
			for i := 0; i < inner; i++ {
				values[o*inner+i] += g.Values[row+i] * w
			}
		}
	}

	dims := make([]string, 0, len(g.Dims)-1)
	shape := make([]int, 0, len(g.Shape)-1)
	for i := range g.Dims {
		if i == axis {
			continue
		}
		dims = append(dims, g.Dims[i])
		shape = append(shape, g.Shape[i])
	}
	out, err := grid.New(name, dims, shape, values)
	if err != nil {
		return nil, err
	}
	for _, d := range dims {
		if c, has := g.Coords[d]; has {
			out.Coords[d] = c
		}
	}
	return out, nil
}

// Package grid provides the dense labeled array that realized model fields
// are carried in: named dimensions, a flat float64 backing slice in row-major
// order, per-dimension coordinate vectors, and string attributes. It is a
// pure data structure with no I/O and no locking; operations that transform
// a grid return a new value rather than mutating the receiver.
package grid

import (
	"fmt"
	"math"
)

// Grid is a realized array slice of one model variable.
type Grid struct {
	Name   string
	Dims   []string
	Shape  []int
	Values []float64
	Coords map[string][]float64
	Attrs  map[string]string
}

// New builds a grid and validates that dims, shape and values agree.
// Coordinate vectors and attributes can be attached afterwards.
func New(name string, dims []string, shape []int, values []float64) (*Grid, error) {
	if len(dims) != len(shape) {
		return nil, fmt.Errorf("grid %s: %d dims but %d shape entries", name, len(dims), len(shape))
	}
	n := 1
	for i, s := range shape {
		if s <= 0 {
			return nil, fmt.Errorf("grid %s: dim %s has non-positive size %d", name, dims[i], s)
		}
		n *= s
	}
	if n != len(values) {
		return nil, fmt.Errorf("grid %s: shape holds %d elements but %d values given", name, n, len(values))
	}
	return &Grid{
		Name:   name,
		Dims:   dims,
		Shape:  shape,
		Values: values,
		Coords: make(map[string][]float64),
		Attrs:  make(map[string]string),
	}, nil
}

// Rank returns the number of dimensions.
func (g *Grid) Rank() int { return len(g.Dims) }

// Size returns the total number of elements.
func (g *Grid) Size() int { return len(g.Values) }

// DimIndex returns the axis position of the named dimension, or -1.
func (g *Grid) DimIndex(dim string) int {
	for i, d := range g.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// DimSize returns the length of the named dimension, or 0 if absent.
func (g *Grid) DimSize(dim string) int {
	if i := g.DimIndex(dim); i >= 0 {
		return g.Shape[i]
	}
	return 0
}

// strides returns the row-major stride of each axis.
func (g *Grid) strides() []int {
	st := make([]int, len(g.Shape))
	acc := 1
	for i := len(g.Shape) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= g.Shape[i]
	}
	return st
}

// At returns the element at the given per-axis indices. The number of
// indices must equal the grid's rank; misuse panics like slice indexing.
func (g *Grid) At(indices ...int) float64 {
	if len(indices) != len(g.Shape) {
		panic(fmt.Sprintf("grid %s: At called with %d indices, rank is %d", g.Name, len(indices), len(g.Shape)))
	}
	flat := 0
	st := g.strides()
	for i, idx := range indices {
		if idx < 0 || idx >= g.Shape[i] {
			panic(fmt.Sprintf("grid %s: index %d out of range for dim %s (size %d)", g.Name, idx, g.Dims[i], g.Shape[i]))
		}
		flat += idx * st[i]
	}
	return g.Values[flat]
}

// Squeeze returns a grid with all length-1 dimensions removed. The flat
// row-major layout is unchanged by dropping singleton axes, so the result
// shares the receiver's backing values; treat both as read-only or Clone
// first. Coordinate vectors of dropped dimensions are discarded.
func (g *Grid) Squeeze() *Grid {
	dims := make([]string, 0, len(g.Dims))
	shape := make([]int, 0, len(g.Shape))
	for i, s := range g.Shape {
		if s != 1 {
			dims = append(dims, g.Dims[i])
			shape = append(shape, s)
		}
	}
	coords := make(map[string][]float64, len(dims))
	for _, d := range dims {
		if c, ok := g.Coords[d]; ok {
			coords[d] = c
		}
	}
	return &Grid{
		Name:   g.Name,
		Dims:   dims,
		Shape:  shape,
		Values: g.Values,
		Coords: coords,
		Attrs:  g.Attrs,
	}
}

// Clone returns a deep copy; mutating the copy never touches the receiver.
func (g *Grid) Clone() *Grid {
	out := &Grid{
		Name:   g.Name,
		Dims:   append([]string(nil), g.Dims...),
		Shape:  append([]int(nil), g.Shape...),
		Values: append([]float64(nil), g.Values...),
		Coords: make(map[string][]float64, len(g.Coords)),
		Attrs:  make(map[string]string, len(g.Attrs)),
	}
	for d, c := range g.Coords {
		out.Coords[d] = append([]float64(nil), c...)
	}
	for k, v := range g.Attrs {
		out.Attrs[k] = v
	}
	return out
}

// MinMax returns the smallest and largest finite values, ignoring NaNs.
// If the grid holds no finite value both results are NaN.
func (g *Grid) MinMax() (min, max float64) {
	min, max = math.NaN(), math.NaN()
	for _, v := range g.Values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(min) || v < min {
			min = v
		}
		if math.IsNaN(max) || v > max {
			max = v
		}
	}
	return min, max
}

// Sub returns a copy restricted to the inclusive index range [lo, hi] along
// the named dimension. Coordinate vectors for that dimension are sliced to
// match.
func (g *Grid) Sub(dim string, lo, hi int) (*Grid, error) {
	axis := g.DimIndex(dim)
	if axis < 0 {
		return nil, fmt.Errorf("grid %s: no dimension %s", g.Name, dim)
	}
	if lo < 0 || hi >= g.Shape[axis] || lo > hi {
		return nil, fmt.Errorf("grid %s: range [%d,%d] out of bounds for dim %s (size %d)", g.Name, lo, hi, dim, g.Shape[axis])
	}

	shape := append([]int(nil), g.Shape...)
	shape[axis] = hi - lo + 1

	st := g.strides()
	outer := 1 // product of sizes before the axis
	for i := 0; i < axis; i++ {
		outer *= g.Shape[i]
	}
	inner := st[axis] // product of sizes after the axis

	values := make([]float64, outer*shape[axis]*inner)
	dst := 0
	for o := 0; o < outer; o++ {
		base := o * g.Shape[axis] * inner
		for a := lo; a <= hi; a++ {
			src := base + a*inner
			copy(values[dst:dst+inner], g.Values[src:src+inner])
			dst += inner
		}
	}

	coords := make(map[string][]float64, len(g.Coords))
	for d, c := range g.Coords {
		if d == dim {
			coords[d] = append([]float64(nil), c[lo:hi+1]...)
		} else {
			coords[d] = c
		}
	}
	out := &Grid{
		Name:   g.Name,
		Dims:   append([]string(nil), g.Dims...),
		Shape:  shape,
		Values: values,
		Coords: coords,
		Attrs:  g.Attrs,
	}
	return out, nil
}

// Where returns a grid that keeps the receiver's value wherever the mask is
// non-zero and takes the corresponding value from other elsewhere. All three
// grids must have identical shapes. NaN mask entries count as zero.
func (g *Grid) Where(mask, other *Grid) (*Grid, error) {
	if !sameShape(g.Shape, mask.Shape) {
		return nil, fmt.Errorf("grid %s: mask shape %v does not match %v", g.Name, mask.Shape, g.Shape)
	}
	if !sameShape(g.Shape, other.Shape) {
		return nil, fmt.Errorf("grid %s: other shape %v does not match %v", g.Name, other.Shape, g.Shape)
	}
	values := make([]float64, len(g.Values))
	for i, v := range g.Values {
		m := mask.Values[i]
		if m != 0 && !math.IsNaN(m) {
			values[i] = v
		} else {
			values[i] = other.Values[i]
		}
	}
	out := g.Clone()
	out.Values = values
	return out, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package vvm

import (
	"fmt"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/ckhsu1225/vvmviz/internal/grid"
	"github.com/ckhsu1225/vvmviz/pkg/errors"
)

// netcdfBackend opens NetCDF-3 and NetCDF-4 files through
// go-native-netcdf. It is the production Backend.
type netcdfBackend struct{}

// NewNetCDFBackend returns the file-based Backend used outside tests.
func NewNetCDFBackend() Backend {
	return netcdfBackend{}
}

func (netcdfBackend) Open(path string) (Dataset, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeDatasetOpen,
			fmt.Sprintf("open dataset %s", path)).
			WithComponent("vvm").
			WithOperation("open").
			WithCause(err)
	}
	return &ncDataset{path: path, group: g}, nil
}

type ncDataset struct {
	path  string
	group api.Group
}

func (d *ncDataset) Variables() []string {
	return d.group.ListVariables()
}

func (d *ncDataset) Dimensions(name string) ([]string, error) {
	vg, err := d.getter(name)
	if err != nil {
		return nil, err
	}
	return vg.Dimensions(), nil
}

func (d *ncDataset) Attr(varName, attr string) (string, bool) {
	vg, err := d.getter(varName)
	if err != nil {
		return "", false
	}
	v, ok := vg.Attributes().Get(attr)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	default:
		return fmt.Sprint(v), true
	}
}

func (d *ncDataset) Close() error {
	d.group.Close()
	return nil
}

func (d *ncDataset) getter(name string) (api.VarGetter, error) {
	vg, err := d.group.GetVarGetter(name)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeDatasetRead,
			fmt.Sprintf("variable %s not readable in %s", name, d.path)).
			WithComponent("vvm").
			WithOperation("read").
			WithCause(err)
	}
	return vg, nil
}

// Slab reads one variable's hyperslab. go-native-netcdf can slice only the
// outermost dimension at the storage level (GetSlice); inner windows are
// applied while flattening the decoded value tree.
//
// TODO: push inner-dimension windows into the file read once
// go-native-netcdf grows a per-dimension hyperslab API.
func (d *ncDataset) Slab(name string, sel map[string]Window) (*grid.Grid, error) {
	vg, err := d.getter(name)
	if err != nil {
		return nil, err
	}
	dims := vg.Dimensions()

	// Outer dimension straight from storage.
	var raw interface{}
	outer, outerSliced := Window{}, false
	if len(dims) > 0 {
		if w, ok := sel[dims[0]]; ok {
			n := int(vg.Len())
			w, err = clampWindow(w, n, dims[0], d.path)
			if err != nil {
				return nil, err
			}
			raw, err = vg.GetSlice(int64(w.Lo), int64(w.Hi))
			outer, outerSliced = w, true
		} else {
			raw, err = vg.Values()
		}
	} else {
		raw, err = vg.Values()
	}
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeDatasetRead,
			fmt.Sprintf("read %s from %s", name, d.path)).
			WithComponent("vvm").
			WithOperation("read").
			WithCause(err)
	}

	rawShape, err := nestedShape(raw, len(dims))
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeDatasetRead,
			fmt.Sprintf("decode %s from %s", name, d.path)).
			WithComponent("vvm").
			WithCause(err)
	}

	// Inner windows, applied in memory. The outer dimension was already
	// sliced by GetSlice, so its window collapses to the full raw extent.
	windows := make([]Window, len(dims))
	outShape := make([]int, len(dims))
	for i, dim := range dims {
		w := Window{0, rawShape[i]}
		if i > 0 {
			if s, ok := sel[dim]; ok {
				w, err = clampWindow(s, rawShape[i], dim, d.path)
				if err != nil {
					return nil, err
				}
			}
		}
		windows[i] = w
		outShape[i] = w.Hi - w.Lo
	}

	values := make([]float64, 0, sizeOf(outShape))
	values, err = flattenWindowed(reflect.ValueOf(raw), windows, values)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeDatasetRead,
			fmt.Sprintf("decode %s from %s", name, d.path)).
			WithComponent("vvm").
			WithCause(err)
	}

	g, err := grid.New(name, dims, outShape, values)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeDatasetRead,
			fmt.Sprintf("assemble %s from %s", name, d.path)).
			WithComponent("vvm").
			WithCause(err)
	}

	// Coordinate variables, sliced to the same windows. The window for
	// the outer dimension is the pre-GetSlice one.
	vars := make(map[string]bool, 8)
	for _, v := range d.group.ListVariables() {
		vars[v] = true
	}
	for i, dim := range dims {
		if dim == name || !vars[dim] {
			continue
		}
		w := windows[i]
		if i == 0 && outerSliced {
			w = outer
		}
		coord, cerr := d.coordValues(dim, w)
		if cerr != nil {
			continue // coordinate is decoration, not data
		}
		g.Coords[dim] = coord
	}

	if units, ok := d.Attr(name, "units"); ok {
		g.Attrs["units"] = units
	}
	if long, ok := d.Attr(name, "long_name"); ok {
		g.Attrs["long_name"] = long
	} else if std, ok := d.Attr(name, "standard_name"); ok {
		g.Attrs["long_name"] = std
	}
	return g, nil
}

// coordValues reads a 1-D coordinate variable and slices it to w.
func (d *ncDataset) coordValues(dim string, w Window) ([]float64, error) {
	vg, err := d.group.GetVarGetter(dim)
	if err != nil {
		return nil, err
	}
	if len(vg.Dimensions()) != 1 {
		return nil, fmt.Errorf("coordinate %s is not 1-D", dim)
	}
	raw, err := vg.GetSlice(int64(w.Lo), int64(w.Hi))
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, w.Hi-w.Lo)
	return flattenWindowed(reflect.ValueOf(raw), []Window{{0, w.Hi - w.Lo}}, out)
}

func clampWindow(w Window, size int, dim, path string) (Window, error) {
	if w.Lo < 0 {
		w.Lo = 0
	}
	if w.Hi > size {
		w.Hi = size
	}
	if w.Lo >= w.Hi {
		return Window{}, errors.NewError(errors.ErrCodeInvalidRange,
			fmt.Sprintf("window [%d,%d) selects nothing on %s (size %d) in %s",
				w.Lo, w.Hi, dim, size, path)).
			WithComponent("vvm").
			WithOperation("read")
	}
	return w, nil
}

func sizeOf(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// nestedShape derives the array shape from the decoded value tree.
// go-native-netcdf returns n-D variables as nested Go slices.
func nestedShape(raw interface{}, rank int) ([]int, error) {
	shape := make([]int, 0, rank)
	v := reflect.ValueOf(raw)
	for i := 0; i < rank; i++ {
		if v.Kind() != reflect.Slice {
			return nil, fmt.Errorf("rank %d value has only %d nested levels", rank, i)
		}
		shape = append(shape, v.Len())
		if v.Len() == 0 {
			// Remaining dimensions are unknowable; treat them as empty.
			for len(shape) < rank {
				shape = append(shape, 0)
			}
			return shape, nil
		}
		v = v.Index(0)
	}
	return shape, nil
}

// flattenWindowed walks the nested slices depth-first, keeping only the
// indices inside each level's window, and appends the leaves to out in
// row-major order.
func flattenWindowed(v reflect.Value, windows []Window, out []float64) ([]float64, error) {
	if len(windows) == 0 {
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return append(out, f), nil
	}
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected slice, found %s", v.Kind())
	}
	w := windows[0]
	if w.Hi > v.Len() {
		return nil, fmt.Errorf("window [%d,%d) exceeds length %d", w.Lo, w.Hi, v.Len())
	}
	var err error
	for i := w.Lo; i < w.Hi; i++ {
		out, err = flattenWindowed(v.Index(i), windows[1:], out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func toFloat(v reflect.Value) (float64, error) {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	default:
		return 0, fmt.Errorf("non-numeric element of kind %s", v.Kind())
	}
}

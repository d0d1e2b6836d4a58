package vvm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/ckhsu1225/vvmviz/internal/grid"
	"github.com/ckhsu1225/vvmviz/pkg/errors"
)

// memVar is one variable of an in-memory dataset.
type memVar struct {
	dims   []string
	shape  []int
	values []float64
	attrs  map[string]string
}

// memBackend serves datasets from a path-keyed registry and counts
// open/close traffic so tests can watch handle churn.
type memBackend struct {
	mu     sync.Mutex
	files  map[string]map[string]memVar
	opens  map[string]int
	closed int
}

func newMemBackend() *memBackend {
	return &memBackend{
		files: make(map[string]map[string]memVar),
		opens: make(map[string]int),
	}
}

func (b *memBackend) add(path string, vars map[string]memVar) {
	b.files[path] = vars
}

func (b *memBackend) Open(path string) (Dataset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	vars, ok := b.files[path]
	if !ok {
		return nil, fmt.Errorf("no dataset at %s", path)
	}
	b.opens[path]++
	return &memDataset{path: path, vars: vars, backend: b}, nil
}

func (b *memBackend) opened(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[path]
}

func (b *memBackend) totalOpens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.opens {
		n += c
	}
	return n
}

func (b *memBackend) totalClosed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type memDataset struct {
	path    string
	vars    map[string]memVar
	backend *memBackend
}

func (d *memDataset) Variables() []string {
	names := make([]string, 0, len(d.vars))
	for n := range d.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (d *memDataset) Dimensions(name string) ([]string, error) {
	mv, ok := d.vars[name]
	if !ok {
		return nil, fmt.Errorf("no variable %s in %s", name, d.path)
	}
	return append([]string(nil), mv.dims...), nil
}

func (d *memDataset) Attr(varName, attr string) (string, bool) {
	mv, ok := d.vars[varName]
	if !ok {
		return "", false
	}
	v, ok := mv.attrs[attr]
	return v, ok
}

func (d *memDataset) Close() error {
	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()
	d.backend.closed++
	return nil
}

func (d *memDataset) Slab(name string, sel map[string]Window) (*grid.Grid, error) {
	mv, ok := d.vars[name]
	if !ok {
		return nil, fmt.Errorf("no variable %s in %s", name, d.path)
	}
	windows := make([]Window, len(mv.dims))
	outShape := make([]int, len(mv.dims))
	for i, dim := range mv.dims {
		w := Window{0, mv.shape[i]}
		if s, has := sel[dim]; has {
			w = s
			if w.Lo < 0 {
				w.Lo = 0
			}
			if w.Hi > mv.shape[i] {
				w.Hi = mv.shape[i]
			}
			if w.Lo >= w.Hi {
				return nil, errors.NewError(errors.ErrCodeInvalidRange,
					fmt.Sprintf("window on %s selects nothing", dim))
			}
		}
		windows[i] = w
		outShape[i] = w.Hi - w.Lo
	}

	strides := make([]int, len(mv.shape))
	s := 1
	for i := len(mv.shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= mv.shape[i]
	}
	var values []float64
	var walk func(level, offset int)
	walk = func(level, offset int) {
		if level == len(windows) {
			values = append(values, mv.values[offset])
			return
		}
		for i := windows[level].Lo; i < windows[level].Hi; i++ {
			walk(level+1, offset+i*strides[level])
		}
	}
	walk(0, 0)

	g, err := grid.New(name, append([]string(nil), mv.dims...), outShape, values)
	if err != nil {
		return nil, err
	}
	for i, dim := range mv.dims {
		cv, has := d.vars[dim]
		if !has || len(cv.dims) != 1 || dim == name {
			continue
		}
		w := windows[i]
		g.Coords[dim] = append([]float64(nil), cv.values[w.Lo:w.Hi]...)
	}
	for k, v := range mv.attrs {
		g.Attrs[k] = v
	}
	return g, nil
}

// seq fills n values counting up from base.
func seq(n int, base float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = base + float64(i)
	}
	return v
}

// simFixture is a two-step, three-group simulation backed by memBackend,
// with matching empty files on disk so the filename scans see it.
type simFixture struct {
	sim     string
	backend *memBackend
}

var (
	fixLev = []float64{500, 1500, 2500, 3500}
	fixLat = []float64{10, 11, 12}
	fixLon = []float64{20, 21, 22}
)

func newSimFixture(t *testing.T) *simFixture {
	t.Helper()
	sim := filepath.Join(t.TempDir(), "tpe20110802")
	if err := os.MkdirAll(filepath.Join(sim, "archive"), 0o755); err != nil {
		t.Fatalf("mkdir archive: %v", err)
	}
	f := &simFixture{sim: sim, backend: newMemBackend()}

	coords3d := map[string]memVar{
		"time": {dims: []string{"time"}, shape: []int{1}, values: []float64{0}},
		"lev":  {dims: []string{"lev"}, shape: []int{4}, values: fixLev},
		"lat":  {dims: []string{"lat"}, shape: []int{3}, values: fixLat},
		"lon":  {dims: []string{"lon"}, shape: []int{3}, values: fixLon},
	}
	coords2d := map[string]memVar{
		"time": coords3d["time"],
		"lat":  coords3d["lat"],
		"lon":  coords3d["lon"],
	}

	for _, tok := range []int{0, 120} {
		base := float64(tok) * 100 // 0 at step 0, 12000 at step 120

		thermo := cloneVars(coords3d)
		thermo["th"] = memVar{
			dims: []string{"time", "lev", "lat", "lon"}, shape: []int{1, 4, 3, 3},
			values: seq(36, base),
			attrs:  map[string]string{"units": "K", "long_name": "potential temperature"},
		}
		qv := make([]float64, 36)
		qv[1*9+0*3+0] = 0.002 // lev index 1, lat 0, lon 0
		thermo["qv"] = memVar{
			dims: []string{"time", "lev", "lat", "lon"}, shape: []int{1, 4, 3, 3},
			values: qv,
			attrs:  map[string]string{"units": "kg/kg"},
		}
		f.addFile(t, fmt.Sprintf("tpe20110802.L.Thermodynamic-%06d.nc", tok), thermo)

		dyn := cloneVars(coords3d)
		// u: equal to lev index everywhere; v: negative of that.
		u := make([]float64, 36)
		v := make([]float64, 36)
		for k := 0; k < 4; k++ {
			for i := 0; i < 9; i++ {
				u[k*9+i] = float64(k)
				v[k*9+i] = -float64(k)
			}
		}
		dyn["u"] = memVar{dims: []string{"time", "lev", "lat", "lon"}, shape: []int{1, 4, 3, 3}, values: u}
		dyn["v"] = memVar{dims: []string{"time", "lev", "lat", "lon"}, shape: []int{1, 4, 3, 3}, values: v}
		f.addFile(t, fmt.Sprintf("tpe20110802.L.Dynamic-%06d.nc", tok), dyn)

		surf := cloneVars(coords2d)
		surf["sprec"] = memVar{
			dims: []string{"time", "lat", "lon"}, shape: []int{1, 3, 3},
			values: seq(9, base),
			attrs:  map[string]string{"units": "mm/hr"},
		}
		f.addFile(t, fmt.Sprintf("tpe20110802.C.Surface-%06d.nc", tok), surf)
	}

	// Terrain: land (positive) on the lat=2 row, ocean elsewhere.
	topo := map[string]memVar{
		"lat": coords3d["lat"],
		"lon": coords3d["lon"],
		"topo": {
			dims: []string{"lat", "lon"}, shape: []int{3, 3},
			values: []float64{0, 0, 0, 0, 0, 0, 150, 200, 250},
		},
	}
	f.backend.add(filepath.Join(sim, topoFile), topo)
	if err := os.WriteFile(filepath.Join(sim, topoFile), nil, 0o644); err != nil {
		t.Fatalf("write topo: %v", err)
	}
	return f
}

func (f *simFixture) addFile(t *testing.T, name string, vars map[string]memVar) {
	t.Helper()
	path := filepath.Join(f.sim, "archive", name)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	f.backend.add(path, vars)
}

func cloneVars(src map[string]memVar) map[string]memVar {
	out := make(map[string]memVar, len(src)+2)
	for k, v := range src {
		out[k] = v
	}
	return out
}

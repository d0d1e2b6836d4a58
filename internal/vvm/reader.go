package vvm

import (
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ckhsu1225/vvmviz/internal/grid"
	"github.com/ckhsu1225/vvmviz/internal/iogate"
	"github.com/ckhsu1225/vvmviz/pkg/errors"
	"github.com/ckhsu1225/vvmviz/pkg/utils"
)

// TerrainVar is the menu name of the derived terrain-height variable.
const TerrainVar = "terrain_height"

// DefaultHandleCache is the dataset-handle LRU capacity used when the
// configuration does not say otherwise.
const DefaultHandleCache = 10

// topoFile is the terrain file at the simulation root.
const topoFile = "TOPO.nc"

// CoordinateInfo is the horizontal grid of a simulation.
type CoordinateInfo struct {
	NX  int
	NY  int
	Lon []float64
	Lat []float64
}

// VerticalInfo is the vertical grid of a simulation. Levels are in
// meters, ascending.
type VerticalInfo struct {
	NZ        int
	Levels    []float64
	MinHeight float64
	MaxHeight float64
}

// Reader reads realized grids out of VVM simulation directories. It keeps
// a bounded LRU of open dataset handles (eviction closes the handle), the
// scanned archive index per simulation, and terrain height per simulation.
//
// Every method except ScanTimeIndices serializes its backend I/O through
// the gate the Reader was built with; internal state is only touched with
// the gate held. Returned grids are shared with internal caches and must
// be treated as read-only; transform them with Clone, Sub or Squeeze.
type Reader struct {
	backend Backend
	gate    *iogate.Gate
	log     *utils.Logger

	handles  *lru.Cache // file path -> Dataset
	archives map[string]*archiveIndex
	terrain  map[string]*grid.Grid
}

// NewReader builds a Reader on a backend. handleCap bounds the open
// dataset handles; values below one fall back to DefaultHandleCache.
func NewReader(backend Backend, gate *iogate.Gate, handleCap int, log *utils.Logger) (*Reader, error) {
	if backend == nil {
		return nil, fmt.Errorf("vvm: nil backend")
	}
	if gate == nil {
		return nil, fmt.Errorf("vvm: nil gate")
	}
	if handleCap < 1 {
		handleCap = DefaultHandleCache
	}
	if log == nil {
		log = utils.NewLogger(utils.INFO, os.Stdout)
	}
	r := &Reader{
		backend:  backend,
		gate:     gate,
		log:      log.WithComponent("vvm"),
		archives: make(map[string]*archiveIndex),
		terrain:  make(map[string]*grid.Grid),
	}
	handles, err := lru.NewWithEvict(handleCap, func(key, value interface{}) {
		ds := value.(Dataset)
		if cerr := ds.Close(); cerr != nil {
			r.log.Warn("closing evicted handle %v: %v", key, cerr)
		}
	})
	if err != nil {
		return nil, err
	}
	r.handles = handles
	r.log.Info("reader initialized: handle_cache=%d", handleCap)
	return r, nil
}

// Variable reads one variable at a selection and returns it with a
// leading time axis. Degenerate spatial windows are widened to one point.
// Terrain requests route to TerrainHeight, derived diagnostics are
// integrated on the fly, and unknown names are tried as prefixes of the
// stored variables before the read fails with VariableNotFound.
func (r *Reader) Variable(sim, name string, sel Selection) (*grid.Grid, error) {
	release := r.gate.Acquire()
	defer release()

	sel = normalizeSpatial(sel)

	if name == TerrainVar {
		return r.terrainWindow(sim, sel)
	}

	ix, err := r.archive(sim)
	if err != nil {
		return nil, err
	}
	if _, exact := ix.vars[name]; !exact {
		if d, isDiag := columnDiagnostics[name]; isDiag {
			if _, stored := ix.vars[d.input]; stored {
				return r.readDiagnostic(ix, name, d, sel)
			}
		}
	}
	return r.readStored(ix, name, sel)
}

// readStored reads a variable that exists in the archive files, stacking
// the selected time steps. Gate must be held.
func (r *Reader) readStored(ix *archiveIndex, name string, sel Selection) (*grid.Grid, error) {
	group, stored, ok := ix.resolve(name)
	if !ok {
		return nil, errors.NewError(errors.ErrCodeVariableNotFound,
			fmt.Sprintf("variable %s not in simulation %s", name, ix.sim)).
			WithComponent("vvm").
			WithOperation("read").
			WithContext("variable", name)
	}
	times := ix.timesWithin(sel.Time)
	if len(times) == 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidRange,
			fmt.Sprintf("no time steps in [%d, %d] for %s", sel.Time.Start, sel.Time.End, ix.sim)).
			WithComponent("vvm").
			WithOperation("read")
	}

	entry := ix.groups[group]
	parts := make([]*grid.Grid, 0, len(times))
	for _, t := range times {
		ds, err := r.openDataset(entry.fileAt(t))
		if err != nil {
			return nil, err
		}
		windows, err := windowsFor(ds, stored, sel)
		if err != nil {
			return nil, err
		}
		part, err := ds.Slab(stored, windows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, withLeadingTime(part))
	}
	return stackTime(parts, times)
}

// TerrainHeight reads the simulation's terrain height, cached per
// simulation path. The returned grid is the cached value: read-only.
func (r *Reader) TerrainHeight(sim string) (*grid.Grid, error) {
	release := r.gate.Acquire()
	defer release()
	return r.terrainHeight(sim)
}

func (r *Reader) terrainHeight(sim string) (*grid.Grid, error) {
	if g, ok := r.terrain[sim]; ok {
		return g, nil
	}
	path := filepath.Join(sim, topoFile)
	ds, err := r.openDataset(path)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeTerrainUnavailable,
			fmt.Sprintf("terrain file missing for %s", sim)).
			WithComponent("vvm").
			WithOperation("terrain").
			WithCause(err)
	}
	name, err := terrainVarIn(ds)
	if err != nil {
		return nil, err
	}
	g, err := ds.Slab(name, nil)
	if err != nil {
		return nil, err
	}
	g.Name = TerrainVar
	g.Attrs["units"] = "m"
	g.Attrs["long_name"] = "terrain height"
	r.terrain[sim] = g
	return g, nil
}

// terrainVarIn picks the terrain variable out of the topo file: "topo"
// when stored under that name, otherwise the first 2-D data variable.
func terrainVarIn(ds Dataset) (string, error) {
	vars := ds.Variables()
	for _, v := range vars {
		if v == "topo" {
			return v, nil
		}
	}
	for _, v := range vars {
		if isCoordName(v) {
			continue
		}
		if dims, err := ds.Dimensions(v); err == nil && len(dims) == 2 {
			return v, nil
		}
	}
	return "", errors.NewError(errors.ErrCodeTerrainUnavailable,
		"no 2-D terrain variable in topo file").
		WithComponent("vvm").
		WithOperation("terrain")
}

// terrainWindow slices the cached terrain to a spatial selection. When
// the terrain grid carries unnamed axes, latitude is taken as the first
// dimension and longitude as the last, the convention of 2-D topo files.
func (r *Reader) terrainWindow(sim string, sel Selection) (*grid.Grid, error) {
	g, err := r.terrainHeight(sim)
	if err != nil {
		return nil, err
	}
	latDim, ok := coordDim(g.Dims, latDims)
	if !ok && g.Rank() == 2 {
		latDim = g.Dims[0]
	}
	lonDim, ok := coordDim(g.Dims, lonDims)
	if !ok && g.Rank() == 2 {
		lonDim = g.Dims[1]
	}
	if !sel.Y.IsFull() && latDim != "" {
		hi := min(sel.Y.End, g.DimSize(latDim))
		if g, err = g.Sub(latDim, sel.Y.Start, hi-1); err != nil {
			return nil, errors.NewError(errors.ErrCodeInvalidRange, err.Error()).
				WithComponent("vvm").WithOperation("terrain")
		}
	}
	if !sel.X.IsFull() && lonDim != "" {
		hi := min(sel.X.End, g.DimSize(lonDim))
		if g, err = g.Sub(lonDim, sel.X.Start, hi-1); err != nil {
			return nil, errors.NewError(errors.ErrCodeInvalidRange, err.Error()).
				WithComponent("vvm").WithOperation("terrain")
		}
	}
	return g, nil
}

// CoordinateInfo reads the horizontal grid from the first variable group.
func (r *Reader) CoordinateInfo(sim string) (*CoordinateInfo, error) {
	release := r.gate.Acquire()
	defer release()

	ix, err := r.archive(sim)
	if err != nil {
		return nil, err
	}
	ds, err := r.openDataset(ix.groups[ix.names[0]].firstFile)
	if err != nil {
		return nil, err
	}
	lon, err := storedCoord(ds, lonDims)
	if err != nil {
		return nil, err
	}
	lat, err := storedCoord(ds, latDims)
	if err != nil {
		return nil, err
	}
	return &CoordinateInfo{NX: len(lon), NY: len(lat), Lon: lon, Lat: lat}, nil
}

// VerticalInfo reads the level vector from the first group that has one.
func (r *Reader) VerticalInfo(sim string) (*VerticalInfo, error) {
	release := r.gate.Acquire()
	defer release()

	ix, err := r.archive(sim)
	if err != nil {
		return nil, err
	}
	for _, token := range ix.names {
		ds, err := r.openDataset(ix.groups[token].firstFile)
		if err != nil {
			continue
		}
		levels, err := storedCoord(ds, levDims)
		if err != nil || len(levels) == 0 {
			continue
		}
		return &VerticalInfo{
			NZ:        len(levels),
			Levels:    levels,
			MinHeight: levels[0],
			MaxHeight: levels[len(levels)-1],
		}, nil
	}
	return nil, errors.NewError(errors.ErrCodeDatasetRead,
		fmt.Sprintf("no vertical coordinate in any variable group of %s", sim)).
		WithComponent("vvm").
		WithOperation("scan")
}

// storedCoord reads the first stored coordinate variable among candidates.
func storedCoord(ds Dataset, candidates []string) ([]float64, error) {
	name, ok := coordDim(ds.Variables(), candidates)
	if !ok {
		return nil, errors.NewError(errors.ErrCodeDatasetRead,
			fmt.Sprintf("no %v coordinate stored", candidates)).
			WithComponent("vvm").
			WithOperation("read")
	}
	g, err := ds.Slab(name, nil)
	if err != nil {
		return nil, err
	}
	return g.Values, nil
}

// Close closes every cached dataset handle and drops the scan caches.
func (r *Reader) Close() {
	release := r.gate.Acquire()
	defer release()

	r.handles.Purge()
	r.archives = make(map[string]*archiveIndex)
	r.terrain = make(map[string]*grid.Grid)
	r.log.Info("reader closed")
}

// openDataset returns a cached handle for path, opening and caching it on
// first use. Gate must be held.
func (r *Reader) openDataset(path string) (Dataset, error) {
	if v, ok := r.handles.Get(path); ok {
		return v.(Dataset), nil
	}
	ds, err := r.backend.Open(path)
	if err != nil {
		return nil, err
	}
	r.log.Debug("opened dataset %s", path)
	r.handles.Add(path, ds)
	return ds, nil
}

// withLeadingTime guarantees a leading time axis of size one on per-file
// grids so steps can be stacked. Archive files hold one step each; a file
// without an explicit time dimension still represents one.
func withLeadingTime(g *grid.Grid) *grid.Grid {
	if len(g.Dims) > 0 && g.Dims[0] == "time" {
		return g
	}
	return &grid.Grid{
		Name:   g.Name,
		Dims:   append([]string{"time"}, g.Dims...),
		Shape:  append([]int{1}, g.Shape...),
		Values: g.Values,
		Coords: g.Coords,
		Attrs:  g.Attrs,
	}
}

// stackTime concatenates per-step grids along the leading time axis and
// attaches the time tokens as the time coordinate.
func stackTime(parts []*grid.Grid, times []int) (*grid.Grid, error) {
	first := parts[0]
	tail := first.Shape[1:]
	nt := 0
	var values []float64
	for _, p := range parts {
		if !sameTail(p.Shape[1:], tail) {
			return nil, errors.NewError(errors.ErrCodeDatasetRead,
				fmt.Sprintf("time steps of %s disagree on shape", first.Name)).
				WithComponent("vvm").
				WithOperation("read")
		}
		nt += p.Shape[0]
		values = append(values, p.Values...)
	}

	shape := append([]int{nt}, tail...)
	out, err := grid.New(first.Name, first.Dims, shape, values)
	if err != nil {
		return nil, err
	}
	for d, c := range first.Coords {
		if d != "time" {
			out.Coords[d] = c
		}
	}
	if nt == len(times) {
		tc := make([]float64, nt)
		for i, t := range times {
			tc[i] = float64(t)
		}
		out.Coords["time"] = tc
	}
	for k, v := range first.Attrs {
		out.Attrs[k] = v
	}
	return out, nil
}

func sameTail(a, b []int) bool {
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

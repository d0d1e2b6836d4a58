// Package loader assembles frame bundles: the main variable plus optional
// wind and contour overlays, read through the vvm layer in one gate
// acquisition and returned fully realized.
//
// The main variable is load-bearing: its failure fails the whole load.
// Overlay failures degrade the bundle instead. The layer is omitted and
// the failure recorded on the bundle's note field, so "not requested"
// (nil layer, empty note) stays distinguishable from "failed" (nil layer,
// populated note).
package loader

import (
	"context"
	"os"

	"github.com/ckhsu1225/vvmviz/internal/frame"
	"github.com/ckhsu1225/vvmviz/internal/grid"
	"github.com/ckhsu1225/vvmviz/internal/iogate"
	"github.com/ckhsu1225/vvmviz/internal/vvm"
	"github.com/ckhsu1225/vvmviz/pkg/utils"
)

// DataSource is the slice of the vvm reader the loader consumes.
type DataSource interface {
	Variable(sim, name string, sel vvm.Selection) (*grid.Grid, error)
}

// Loader reads frame bundles from a data source.
type Loader struct {
	source DataSource
	gate   *iogate.Gate
	log    *utils.Logger
}

// New builds a Loader. The gate must be the same one the data source
// serializes on; the loader holds it across a whole bundle so overlay
// reads cannot interleave with other I/O.
func New(source DataSource, gate *iogate.Gate, log *utils.Logger) *Loader {
	if log == nil {
		log = utils.NewLogger(utils.INFO, os.Stdout)
	}
	return &Loader{
		source: source,
		gate:   gate,
		log:    log.WithComponent("loader"),
	}
}

// LoadBundle reads every layer a request asks for. The gate is held for
// the duration and released before return, so callers may store the
// result in the cache without stalling other readers. Cancellation is a
// caller concern between loads; one bundle load runs to completion.
func (l *Loader) LoadBundle(ctx context.Context, req frame.Request) (*frame.Bundle, error) {
	release := l.gate.Acquire()
	defer release()

	sel := selectionFor(req)

	main, err := l.source.Variable(req.SimPath, req.Var, sel)
	if err != nil {
		return nil, err
	}
	bundle := &frame.Bundle{
		Main:     main.Squeeze(),
		Var:      req.Var,
		Time:     req.Time,
		Vertical: req.Vertical,
	}

	if req.Wind {
		u, v, werr := l.windVectors(req, sel)
		if werr != nil {
			l.log.Warn("wind overlay for %s failed: %v", req.Var, werr)
			bundle.WindErr = werr.Error()
		} else {
			bundle.Wind = &frame.WindField{U: u.Squeeze(), V: v.Squeeze()}
		}
	}

	if req.Contour && req.ContourVar != "" {
		c, cerr := l.source.Variable(req.SimPath, req.ContourVar, sel)
		if cerr != nil {
			l.log.Warn("contour overlay %s failed: %v", req.ContourVar, cerr)
			bundle.ContourErr = cerr.Error()
		} else {
			bundle.Contour = c.Squeeze()
		}
	}
	return bundle, nil
}

// windVectors reads the wind overlay: the u/v pair at the request's own
// selection, or the surface composite for 2-D variables.
func (l *Loader) windVectors(req frame.Request, sel vvm.Selection) (*grid.Grid, *grid.Grid, error) {
	if req.SurfaceWind {
		return l.surfaceWind(req, sel)
	}
	u, err := l.source.Variable(req.SimPath, "u", sel)
	if err != nil {
		return nil, nil, err
	}
	v, err := l.source.Variable(req.SimPath, "v", sel)
	if err != nil {
		return nil, nil, err
	}
	return u, v, nil
}

// surfaceWind composes near-surface wind from two model levels: the
// lowest level over open water and the next one over land, blended with
// the terrain mask. VVM's level 1 sits below terrain over land, so the
// land branch reads level 2.
func (l *Loader) surfaceWind(req frame.Request, sel vvm.Selection) (*grid.Grid, *grid.Grid, error) {
	terrain, err := l.source.Variable(req.SimPath, vvm.TerrainVar,
		vvm.Selection{X: sel.X, Y: sel.Y})
	if err != nil {
		return nil, nil, err
	}

	single := vvm.Selection{
		Time: frame.TimeRange{Start: req.Time.Start, End: req.Time.Start},
		X:    sel.X,
		Y:    sel.Y,
	}
	ocean, land := single, single
	ocean.Vertical = frame.IndexRangeVertical(1, 1)
	land.Vertical = frame.IndexRangeVertical(2, 2)

	uOcean, err := l.source.Variable(req.SimPath, "u", ocean)
	if err != nil {
		return nil, nil, err
	}
	vOcean, err := l.source.Variable(req.SimPath, "v", ocean)
	if err != nil {
		return nil, nil, err
	}
	uLand, err := l.source.Variable(req.SimPath, "u", land)
	if err != nil {
		return nil, nil, err
	}
	vLand, err := l.source.Variable(req.SimPath, "v", land)
	if err != nil {
		return nil, nil, err
	}

	mask := oceanMask(terrain.Squeeze())
	u, err := uOcean.Squeeze().Where(mask, uLand.Squeeze())
	if err != nil {
		return nil, nil, err
	}
	v, err := vOcean.Squeeze().Where(mask, vLand.Squeeze())
	if err != nil {
		return nil, nil, err
	}
	return u, v, nil
}

// oceanMask is nonzero where terrain height is at sea level or below.
func oceanMask(terrain *grid.Grid) *grid.Grid {
	mask := terrain.Clone()
	for i, h := range mask.Values {
		if h > 0 {
			mask.Values[i] = 0
		} else {
			mask.Values[i] = 1
		}
	}
	return mask
}

func selectionFor(req frame.Request) vvm.Selection {
	return vvm.Selection{
		Time:     req.Time,
		Vertical: req.Vertical,
		X:        req.X,
		Y:        req.Y,
	}
}

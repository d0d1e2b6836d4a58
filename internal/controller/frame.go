package controller

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/ckhsu1225/vvmviz/internal/frame"
	"github.com/ckhsu1225/vvmviz/internal/grid"
	"github.com/ckhsu1225/vvmviz/internal/metrics"
	"github.com/ckhsu1225/vvmviz/pkg/errors"
	"github.com/ckhsu1225/vvmviz/pkg/types"
)

// defaultContourLevels is the number of interior contour levels drawn when
// a request does not say otherwise.
const defaultContourLevels = 10

// FrameParams is one update-loop request from the HTTP layer.
type FrameParams struct {
	// Variable is the main field to display.
	Variable string
	// TimeIndex is the archive time token, one of the simulation's
	// available indices.
	TimeIndex int
	// Height is the requested display height in meters; level-file
	// variables resolve it to the nearest model level.
	Height float64

	// X and Y subset the horizontal grid; zero values select everything.
	X frame.IndexRange
	Y frame.IndexRange

	// Overlays.
	Wind       bool
	Contour    bool
	ContourVar string

	// ContourLevels is the number of interior contour levels; 0 uses the
	// default. ContourMin/ContourMax lock the contour range when both are
	// set; left nil, the range follows each frame's own data.
	ContourLevels int
	ContourMin    *float64
	ContourMax    *float64

	// Force reloads the frame even when it is cached.
	Force bool
}

// Frame runs the update loop for one request and returns the rendered
// frame summary. Concurrent calls fail fast with a session-busy error.
func (c *Controller) Frame(ctx context.Context, p FrameParams) (*types.FrameInfo, error) {
	if !c.opMu.TryLock() {
		return nil, busyError("frame")
	}
	defer c.opMu.Unlock()

	sess, err := c.currentSession()
	if err != nil {
		return nil, err
	}
	if p.Variable == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidRange, "variable is required").
			WithComponent("controller").
			WithOperation("frame")
	}

	req := buildRequest(sess, p)
	key := req.Key()
	opID := uuid.NewString()

	bundle, hit := c.cache.Get(key)
	var loadTime time.Duration
	if !hit || p.Force {
		start := time.Now()
		loaded, lerr := c.loader.LoadBundle(ctx, req)
		if lerr != nil {
			c.log.Error("frame load failed: %s t=%d op=%s: %v", p.Variable, p.TimeIndex, opID, lerr)
			return nil, lerr
		}
		loadTime = time.Since(start)
		c.cache.Put(key, loaded)
		c.cache.RecordLoadTime(loadTime)
		if c.observer != nil {
			c.observer.ObserveFrameLoad(metrics.LoadSync, loadTime)
		}
		bundle = loaded
		c.log.Debug("frame loaded: %s t=%d in %s op=%s", p.Variable, p.TimeIndex, loadTime, opID)
	}

	prefetched := c.prefetchNext(sess, req)

	info := c.render(sess, p, bundle)
	info.CacheHit = hit && !p.Force
	info.LoadTime = loadTime.Seconds()
	info.Prefetched = prefetched
	return info, nil
}

// buildRequest translates API parameters into a frame request using the
// session's scanned metadata. Construction is pure: no I/O, no failure.
// The contour fields are normalized together so that "contour off" and
// "contour on with no variable" produce the same cache key.
func buildRequest(sess *session, p FrameParams) frame.Request {
	vertical, surface := sess.verticalFor(p.Variable, p.Height)

	contour := p.Contour && p.ContourVar != ""
	contourVar := p.ContourVar
	if !contour {
		contourVar = ""
	}

	return frame.Request{
		SimPath:     sess.localPath,
		Var:         p.Variable,
		Time:        frame.TimeRange{Start: p.TimeIndex, End: p.TimeIndex},
		Vertical:    vertical,
		X:           p.X,
		Y:           p.Y,
		Wind:        p.Wind,
		SurfaceWind: surface,
		Contour:     contour,
		ContourVar:  contourVar,
	}
}

// prefetchNext schedules a background load for the following time step.
// Nothing is scheduled at the last step or for a time index outside the
// available list. Reports whether a prefetch was handed to the cache.
func (c *Controller) prefetchNext(sess *session, req frame.Request) bool {
	next, ok := sess.nextTimeIndex(req.Time.Start)
	if !ok {
		return false
	}
	nextReq := req
	nextReq.Time = frame.TimeRange{Start: next, End: next}
	return c.cache.PrefetchAsync(nextReq, c.prefetchLoad) != nil
}

// prefetchLoad is the loader the prefetch worker runs. It times successful
// loads for the histogram; errors are the worker's concern.
func (c *Controller) prefetchLoad(ctx context.Context, req frame.Request) (*frame.Bundle, error) {
	start := time.Now()
	bundle, err := c.loader.LoadBundle(ctx, req)
	if err == nil && c.observer != nil {
		c.observer.ObserveFrameLoad(metrics.LoadPrefetch, time.Since(start))
	}
	return bundle, err
}

// render summarizes a bundle into the transport DTO. Derived grids (wind
// speed and direction) are computed on clones; the bundle itself is a
// shared cache view and stays untouched.
func (c *Controller) render(sess *session, p FrameParams, bundle *frame.Bundle) *types.FrameInfo {
	info := &types.FrameInfo{
		Variable:       bundle.Var,
		TimeStart:      bundle.Time.Start,
		TimeEnd:        bundle.Time.End,
		Main:           gridInfo(bundle.Main),
		WindWarning:    bundle.WindErr,
		ContourWarning: bundle.ContourErr,
	}

	if bundle.HasWind() {
		speed, serr := bundle.Wind.Speed()
		dir, derr := bundle.Wind.Direction()
		if serr != nil || derr != nil {
			err := serr
			if err == nil {
				err = derr
			}
			c.log.Warn("wind rendering failed for %s: %v", bundle.Var, err)
			info.WindWarning = err.Error()
		} else {
			info.Wind = &types.WindInfo{
				U:         gridInfo(bundle.Wind.U),
				V:         gridInfo(bundle.Wind.V),
				Speed:     gridInfo(speed),
				Direction: gridInfo(dir),
			}
		}
	}

	var contourTitle string
	if bundle.HasContour() {
		lo, hi, auto := c.contourRange(p, bundle.Contour)
		info.Contour = &types.ContourInfo{
			Grid:      gridInfo(bundle.Contour),
			Levels:    contourLevels(lo, hi, p.ContourLevels),
			RangeMin:  lo,
			RangeMax:  hi,
			AutoRange: auto,
		}
		contourTitle = overlayTitle(bundle.Contour, p.ContourVar)
	}

	info.Title = buildTitle(sess, p, bundle, contourTitle)
	return info
}

// contourRange resolves the contour bounds for this frame and persists the
// lock state in the session: explicit bounds in the request lock the range,
// a contour-variable switch unlocks it, and unlocked frames report their
// own data range.
func (c *Controller) contourRange(p FrameParams, cg *grid.Grid) (lo, hi float64, auto bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.session

	if p.ContourVar != sess.contourVar {
		sess.contourVar = p.ContourVar
		sess.contourLocked = false
	}
	if p.ContourMin != nil && p.ContourMax != nil {
		sess.contourLocked = true
		sess.contourLo = *p.ContourMin
		sess.contourHi = *p.ContourMax
	}
	if sess.contourLocked {
		return sess.contourLo, sess.contourHi, false
	}

	lo, hi = cg.MinMax()
	sess.contourLo, sess.contourHi = lo, hi
	return lo, hi, true
}

// contourLevels places n interior levels strictly between lo and hi: the
// span is divided into n+1 steps and the endpoints are excluded. A flat
// field collapses to the single level lo.
func contourLevels(lo, hi float64, n int) []float64 {
	if n <= 0 {
		n = defaultContourLevels
	}
	if lo == hi {
		return []float64{lo}
	}
	step := (hi - lo) / float64(n+1)
	levels := make([]float64, n)
	for i := range levels {
		levels[i] = lo + step*float64(i+1)
	}
	return levels
}

// gridInfo summarizes a grid without copying its values.
func gridInfo(g *grid.Grid) types.GridInfo {
	min, max := g.MinMax()
	return types.GridInfo{
		Name:     g.Name,
		LongName: g.Attrs["long_name"],
		Units:    g.Attrs["units"],
		Dims:     append([]string(nil), g.Dims...),
		Shape:    append([]int(nil), g.Shape...),
		Min:      min,
		Max:      max,
	}
}

// buildTitle composes the multi-line display title: the main variable with
// units, the contour line when a contour is drawn, and the time/height
// line.
func buildTitle(sess *session, p FrameParams, bundle *frame.Bundle, contourTitle string) string {
	var b strings.Builder

	name := bundle.Main.Attrs["long_name"]
	if name == "" {
		name = bundle.Var
	}
	b.WriteString(capitalize(name))
	if units := bundle.Main.Attrs["units"]; units != "" && units != "N/A" {
		fmt.Fprintf(&b, " [%s]", units)
	}

	if contourTitle != "" {
		b.WriteString("\n")
		b.WriteString(contourTitle)
	}

	fmt.Fprintf(&b, "\nTime: %06d", bundle.Time.Start)
	if bundle.Vertical.Mode == frame.VerticalIndex {
		if h, ok := sess.levelHeight(p.Height); ok {
			fmt.Fprintf(&b, "  |  Height: %.0f m", h)
		}
	}
	return b.String()
}

// overlayTitle formats the contour line of the title.
func overlayTitle(cg *grid.Grid, varName string) string {
	name := cg.Attrs["long_name"]
	if name == "" {
		name = varName
	}
	if units := cg.Attrs["units"]; units != "" && units != "N/A" {
		return fmt.Sprintf("Contour: %s [%s]", name, units)
	}
	return "Contour: " + name
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

package controller

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ckhsu1225/vvmviz/internal/cache"
	"github.com/ckhsu1225/vvmviz/internal/frame"
	"github.com/ckhsu1225/vvmviz/internal/vvm"
	"github.com/ckhsu1225/vvmviz/pkg/errors"
	"github.com/ckhsu1225/vvmviz/pkg/types"
	"github.com/ckhsu1225/vvmviz/pkg/utils"
)

// MetadataSource is the slice of the vvm reader the controller consumes:
// the scan and grid-metadata queries that shape a session.
type MetadataSource interface {
	ScanVariableGroups(sim string) (map[string][]string, error)
	ScanTimeIndices(sim string) ([]int, error)
	CoordinateInfo(sim string) (*vvm.CoordinateInfo, error)
	VerticalInfo(sim string) (*vvm.VerticalInfo, error)
}

// BundleLoader realizes frame bundles. The loader package implements it.
type BundleLoader interface {
	LoadBundle(ctx context.Context, req frame.Request) (*frame.Bundle, error)
}

// LoadObserver records frame load durations for export. The metrics
// collector implements it; a nil observer disables the recording.
type LoadObserver interface {
	ObserveFrameLoad(source string, d time.Duration)
}

// Controller is the session driver behind the HTTP layer. One update runs
// at a time: LoadSimulation and Frame fail fast with a session-busy error
// while another operation holds the session, so a slow load never queues
// interactive requests behind it.
type Controller struct {
	store    types.Store
	reader   MetadataSource
	loader   BundleLoader
	cache    *cache.Manager
	observer LoadObserver
	log      *utils.Logger

	// opMu is held for the whole of LoadSimulation and Frame; TryLock
	// gives the fail-fast busy semantics.
	opMu sync.Mutex

	// mu guards the session pointer and its contour-range fields.
	mu      sync.Mutex
	session *session
}

// session is the state accumulated for the currently loaded simulation.
type session struct {
	simPath   string // name the caller loaded by
	localPath string // store-resolved directory the reader opens
	info      types.SimulationInfo

	groupOf     map[string]string // variable name -> menu group label
	timeIndices []int
	coords      *vvm.CoordinateInfo
	vertical    *vvm.VerticalInfo

	// Contour range state. Auto until a request carries explicit bounds;
	// switching the contour variable returns to auto.
	contourVar    string
	contourLocked bool
	contourLo     float64
	contourHi     float64
}

// New creates a controller over an already-constructed store, reader,
// loader and cache. The observer may be nil; a nil logger logs to stdout
// at INFO.
func New(store types.Store, reader MetadataSource, ld BundleLoader, c *cache.Manager, observer LoadObserver, log *utils.Logger) *Controller {
	if log == nil {
		log = utils.NewLogger(utils.INFO, os.Stdout)
	}
	return &Controller{
		store:    store,
		reader:   reader,
		loader:   ld,
		cache:    c,
		observer: observer,
		log:      log.WithComponent("controller"),
	}
}

// ListSimulations enumerates the simulations the store can resolve.
func (c *Controller) ListSimulations(ctx context.Context) ([]string, error) {
	return c.store.ListSimulations(ctx)
}

// LoadSimulation stages a simulation, scans its variable menu and time
// steps, captures grid metadata and resets the session. The frame cache is
// cleared so keys from the previous simulation cannot collide. A call made
// while another operation is in flight fails fast with a session-busy
// error.
func (c *Controller) LoadSimulation(ctx context.Context, simPath string) (*types.SimulationInfo, error) {
	if !c.opMu.TryLock() {
		return nil, busyError("load_simulation")
	}
	defer c.opMu.Unlock()

	opID := uuid.NewString()
	start := time.Now()
	c.log.Info("loading simulation %s op=%s", simPath, opID)

	localPath, err := c.store.EnsureLocal(ctx, simPath)
	if err != nil {
		return nil, err
	}

	groups, err := c.reader.ScanVariableGroups(localPath)
	if err != nil {
		return nil, err
	}
	times, err := c.reader.ScanTimeIndices(localPath)
	if err != nil {
		return nil, err
	}

	sess := &session{
		simPath:     simPath,
		localPath:   localPath,
		groupOf:     make(map[string]string),
		timeIndices: times,
	}

	// Grid metadata degrades rather than fails: a surface-only archive has
	// no vertical grid and still browses fine.
	if coords, err := c.reader.CoordinateInfo(localPath); err != nil {
		c.log.Warn("coordinate info unavailable for %s: %v", simPath, err)
	} else {
		sess.coords = coords
	}
	if vertical, err := c.reader.VerticalInfo(localPath); err != nil {
		c.log.Warn("vertical info unavailable for %s: %v", simPath, err)
	} else {
		sess.vertical = vertical
	}

	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	info := types.SimulationInfo{
		Name:        filepath.Base(simPath),
		Path:        simPath,
		TimeIndices: times,
	}
	for _, label := range labels {
		vars := groups[label]
		info.Groups = append(info.Groups, types.VariableGroup{Label: label, Variables: vars})
		for _, v := range vars {
			if _, taken := sess.groupOf[v]; !taken {
				sess.groupOf[v] = label
			}
		}
	}
	sess.info = info

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	c.cache.Clear()

	c.log.Info("simulation %s ready: %d groups, %d time steps in %s op=%s",
		info.Name, len(info.Groups), len(times), time.Since(start), opID)
	return &info, nil
}

// Simulation returns the loaded simulation's metadata, or false when no
// simulation has been loaded.
func (c *Controller) Simulation() (*types.SimulationInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, false
	}
	info := c.session.info
	return &info, true
}

// Stats returns a snapshot of the frame cache counters.
func (c *Controller) Stats() types.CacheStats {
	return c.cache.Stats()
}

// currentSession returns the session pointer, or a typed error when no
// simulation is loaded.
func (c *Controller) currentSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, errors.NewError(errors.ErrCodeNoSimulation, "no simulation loaded").
			WithComponent("controller")
	}
	return c.session, nil
}

func busyError(op string) error {
	return errors.NewError(errors.ErrCodeSessionBusy, "another update is in flight").
		WithComponent("controller").
		WithOperation(op)
}

// verticalFor resolves the vertical selection and the wind mode for one
// variable. Column-integrated diagnostics integrate over the full height
// range; variables from level files resolve the requested height to the
// nearest model level; everything else carries no vertical selection.
// The second result is the surface-wind flag: true whenever the variable
// itself has no levels.
func (s *session) verticalFor(varName string, height float64) (frame.VerticalRange, bool) {
	switch {
	case vvm.IsColumnVariable(varName):
		if s.vertical != nil {
			return frame.HeightRange(s.vertical.MinHeight, s.vertical.MaxHeight), true
		}
		return frame.VerticalRange{}, true
	case strings.HasPrefix(s.groupOf[varName], "File: L.") && s.vertical != nil && len(s.vertical.Levels) > 0:
		idx := nearestLevel(s.vertical.Levels, height)
		return frame.IndexRangeVertical(idx, idx), false
	default:
		return frame.VerticalRange{}, true
	}
}

// levelHeight returns the height in meters of the model level nearest to
// the requested height, or false when the session has no vertical grid.
func (s *session) levelHeight(height float64) (float64, bool) {
	if s.vertical == nil || len(s.vertical.Levels) == 0 {
		return 0, false
	}
	return s.vertical.Levels[nearestLevel(s.vertical.Levels, height)], true
}

// nextTimeIndex returns the archive time token following t, or false when
// t is the last step or not in the available list.
func (s *session) nextTimeIndex(t int) (int, bool) {
	for i, have := range s.timeIndices {
		if have == t {
			if i+1 < len(s.timeIndices) {
				return s.timeIndices[i+1], true
			}
			return 0, false
		}
	}
	return 0, false
}

func nearestLevel(levels []float64, target float64) int {
	best := 0
	bestDist := abs(levels[0] - target)
	for i := 1; i < len(levels); i++ {
		if d := abs(levels[i] - target); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

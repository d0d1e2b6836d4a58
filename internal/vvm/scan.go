package vvm

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ckhsu1225/vvmviz/internal/frame"
	"github.com/ckhsu1225/vvmviz/pkg/errors"
)

var (
	// groupPattern pulls the variable-group token out of an archive
	// filename, e.g. "tpe20110802.L.Thermodynamic-000000.nc" -> "L.Thermodynamic".
	groupPattern = regexp.MustCompile(`\.([CL]\.[A-Za-z0-9]+)-`)

	// timePattern pulls the six-digit time token off an archive filename.
	timePattern = regexp.MustCompile(`-(\d{6})\.nc$`)
)

// archiveIndex is the scanned shape of one simulation's archive: which
// variable groups exist, which file serves each group at each time step,
// and which variables live where.
type archiveIndex struct {
	sim    string
	names  []string               // group tokens, sorted
	groups map[string]*groupEntry // token -> entry
	vars   map[string]string      // variable name -> owning group token
	times  []int                  // sorted unique time tokens
}

type groupEntry struct {
	token     string
	firstFile string   // the step-zero file the scan found
	pattern   string   // firstFile with the time token replaced by %06d
	vars      []string // sorted, coordinate variables excluded
}

// fileAt returns the archive file holding this group at one time step.
func (e *groupEntry) fileAt(t int) string {
	return fmt.Sprintf(e.pattern, t)
}

// resolve maps a requested variable name to its group and stored name.
// Exact matches win; otherwise the stored names are tried as prefix
// completions (a request for "u" finds "u_sfc" in surface-only archives).
func (ix *archiveIndex) resolve(name string) (group, stored string, ok bool) {
	if g, found := ix.vars[name]; found {
		return g, name, true
	}
	var candidates []string
	for v := range ix.vars {
		if strings.HasPrefix(v, name) {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return "", "", false
	}
	sort.Strings(candidates)
	return ix.vars[candidates[0]], candidates[0], true
}

// timesWithin returns the available time tokens inside an inclusive range.
func (ix *archiveIndex) timesWithin(tr frame.TimeRange) []int {
	var out []int
	for _, t := range ix.times {
		if t >= tr.Start && t <= tr.End {
			out = append(out, t)
		}
	}
	return out
}

// archive returns the cached index for a simulation, scanning the archive
// directory on first use. Gate must be held.
func (r *Reader) archive(sim string) (*archiveIndex, error) {
	if ix, ok := r.archives[sim]; ok {
		return ix, nil
	}

	dir := filepath.Join(sim, "archive")
	r.log.Info("scanning simulation directory: %s", sim)

	zeroFiles, _ := filepath.Glob(filepath.Join(dir, "*-000000.nc"))
	sort.Strings(zeroFiles)

	ix := &archiveIndex{
		sim:    sim,
		groups: make(map[string]*groupEntry),
		vars:   make(map[string]string),
	}
	for _, f := range zeroFiles {
		m := groupPattern.FindStringSubmatch(filepath.Base(f))
		if m == nil {
			continue
		}
		token := m[1]
		if _, dup := ix.groups[token]; dup {
			continue
		}
		ds, err := r.openDataset(f)
		if err != nil {
			r.log.Warn("could not read group file %s: %v", f, err)
			continue
		}
		var vars []string
		for _, v := range ds.Variables() {
			if !isCoordName(v) {
				vars = append(vars, v)
			}
		}
		if len(vars) == 0 {
			continue
		}
		sort.Strings(vars)
		ix.groups[token] = &groupEntry{
			token:     token,
			firstFile: f,
			pattern:   strings.TrimSuffix(f, "-000000.nc") + "-%06d.nc",
			vars:      vars,
		}
	}
	if len(ix.groups) == 0 {
		return nil, errors.NewError(errors.ErrCodeSimulationScan,
			fmt.Sprintf("no variable group files under %s", dir)).
			WithComponent("vvm").
			WithOperation("scan")
	}

	for token := range ix.groups {
		ix.names = append(ix.names, token)
	}
	sort.Strings(ix.names)
	for _, token := range ix.names {
		for _, v := range ix.groups[token].vars {
			if _, taken := ix.vars[v]; !taken {
				ix.vars[v] = token
			}
		}
	}
	ix.times = scanTimes(dir)

	r.log.Info("scanned %s: %d variable groups, %d time steps",
		filepath.Base(sim), len(ix.names), len(ix.times))
	r.archives[sim] = ix
	return ix, nil
}

// ScanVariableGroups lists the variable menu for a simulation: one
// "File: <group>" entry per archive group, a synthesized
// "Calc: Diagnostics" entry for derivable column diagnostics, and
// "File: Topography" for terrain height.
func (r *Reader) ScanVariableGroups(sim string) (map[string][]string, error) {
	release := r.gate.Acquire()
	defer release()

	ix, err := r.archive(sim)
	if err != nil {
		return nil, err
	}
	menu := make(map[string][]string, len(ix.names)+2)
	for _, token := range ix.names {
		vars := ix.groups[token].vars
		menu["File: "+token] = append([]string(nil), vars...)
	}
	if diags := availableDiagnostics(ix); len(diags) > 0 {
		menu["Calc: Diagnostics"] = diags
	}
	menu["File: Topography"] = []string{TerrainVar}
	return menu, nil
}

// ScanTimeIndices lists the time tokens available in a simulation's
// archive, sorted and deduplicated across variable groups. Simulations
// with gaps keep their true token list rather than a min..max range.
// Only filenames are read, so no gate is taken.
func (r *Reader) ScanTimeIndices(sim string) ([]int, error) {
	dir := filepath.Join(sim, "archive")
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.NewError(errors.ErrCodeSimulationScan,
			fmt.Sprintf("archive directory missing under %s", sim)).
			WithComponent("vvm").
			WithOperation("scan").
			WithCause(err)
	}
	return scanTimes(dir), nil
}

// scanTimes globs every archive file and collects its time token. The
// fallback [0] keeps single-snapshot layouts browsable.
func scanTimes(dir string) []int {
	files, _ := filepath.Glob(filepath.Join(dir, "*.nc"))
	seen := make(map[int]bool)
	for _, f := range files {
		m := timePattern.FindStringSubmatch(f)
		if m == nil {
			continue
		}
		t, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seen[t] = true
	}
	if len(seen) == 0 {
		return []int{0}
	}
	times := make([]int, 0, len(seen))
	for t := range seen {
		times = append(times, t)
	}
	sort.Ints(times)
	return times
}

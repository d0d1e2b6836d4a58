package vvm

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ckhsu1225/vvmviz/internal/iogate"
	"github.com/ckhsu1225/vvmviz/pkg/errors"
	"github.com/ckhsu1225/vvmviz/pkg/utils"
)

func TestScanVariableGroups(t *testing.T) {
	f := newSimFixture(t)
	r, _ := newTestReader(t, f, 0)

	menu, err := r.ScanVariableGroups(f.sim)
	if err != nil {
		t.Fatalf("ScanVariableGroups: %v", err)
	}

	want := map[string][]string{
		"File: C.Surface":       {"sprec"},
		"File: L.Dynamic":       {"u", "v"},
		"File: L.Thermodynamic": {"qv", "th"},
		"Calc: Diagnostics":     {"cwv"}, // qv is stored, qc and qi are not
		"File: Topography":      {TerrainVar},
	}
	if !reflect.DeepEqual(menu, want) {
		t.Fatalf("menu = %v, want %v", menu, want)
	}
}

func TestScanVariableGroupsExcludesCoordinates(t *testing.T) {
	f := newSimFixture(t)
	r, _ := newTestReader(t, f, 0)

	menu, err := r.ScanVariableGroups(f.sim)
	if err != nil {
		t.Fatalf("ScanVariableGroups: %v", err)
	}
	for group, vars := range menu {
		for _, v := range vars {
			if isCoordName(v) {
				t.Fatalf("coordinate %q leaked into group %q", v, group)
			}
		}
	}
}

func TestScanVariableGroupsEmptyArchive(t *testing.T) {
	sim := filepath.Join(t.TempDir(), "empty")
	if err := os.MkdirAll(filepath.Join(sim, "archive"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	r, err := NewReader(newMemBackend(), iogate.New(), 0, utils.NewLogger(utils.ERROR, io.Discard))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	_, err = r.ScanVariableGroups(sim)
	if code := codeOf(t, err); code != errors.ErrCodeSimulationScan {
		t.Fatalf("code = %v, want %v", code, errors.ErrCodeSimulationScan)
	}
}

func TestScanVariableGroupsSkipsUnreadableFiles(t *testing.T) {
	f := newSimFixture(t)

	// A stray group file with no backend entry must be skipped, not fatal.
	bad := filepath.Join(f.sim, "archive", "tpe20110802.L.Radiation-000000.nc")
	if err := os.WriteFile(bad, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, _ := newTestReader(t, f, 0)

	menu, err := r.ScanVariableGroups(f.sim)
	if err != nil {
		t.Fatalf("ScanVariableGroups: %v", err)
	}
	if _, present := menu["File: L.Radiation"]; present {
		t.Fatal("unreadable group appeared in the menu")
	}
	if _, present := menu["File: L.Dynamic"]; !present {
		t.Fatal("readable group missing from the menu")
	}
}

func TestScanTimeIndices(t *testing.T) {
	f := newSimFixture(t)
	r, _ := newTestReader(t, f, 0)

	// Every group contributes the same tokens; the scan deduplicates.
	times, err := r.ScanTimeIndices(f.sim)
	if err != nil {
		t.Fatalf("ScanTimeIndices: %v", err)
	}
	if !reflect.DeepEqual(times, []int{0, 120}) {
		t.Fatalf("times = %v, want [0 120]", times)
	}
}

func TestScanTimeIndicesGaps(t *testing.T) {
	f := newSimFixture(t)
	// A sparse extra step: present on disk for one group only.
	f.addFile(t, "tpe20110802.C.Surface-000360.nc", map[string]memVar{})
	r, _ := newTestReader(t, f, 0)

	times, err := r.ScanTimeIndices(f.sim)
	if err != nil {
		t.Fatalf("ScanTimeIndices: %v", err)
	}
	if !reflect.DeepEqual(times, []int{0, 120, 360}) {
		t.Fatalf("times = %v, want [0 120 360]", times)
	}
}

func TestScanTimeIndicesFallback(t *testing.T) {
	sim := filepath.Join(t.TempDir(), "odd")
	if err := os.MkdirAll(filepath.Join(sim, "archive"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sim, "archive", "notes.nc"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := &simFixture{sim: sim, backend: newMemBackend()}
	r, _ := newTestReader(t, f, 0)

	times, err := r.ScanTimeIndices(sim)
	if err != nil {
		t.Fatalf("ScanTimeIndices: %v", err)
	}
	if !reflect.DeepEqual(times, []int{0}) {
		t.Fatalf("times = %v, want [0]", times)
	}
}

func TestScanTimeIndicesMissingArchive(t *testing.T) {
	f := &simFixture{sim: filepath.Join(t.TempDir(), "nowhere"), backend: newMemBackend()}
	r, _ := newTestReader(t, f, 0)

	_, err := r.ScanTimeIndices(f.sim)
	if code := codeOf(t, err); code != errors.ErrCodeSimulationScan {
		t.Fatalf("code = %v, want %v", code, errors.ErrCodeSimulationScan)
	}
}

func TestGroupPattern(t *testing.T) {
	tests := []struct {
		file  string
		group string
	}{
		{"tpe20110802.L.Thermodynamic-000000.nc", "L.Thermodynamic"},
		{"tpe20110802.C.Surface-014400.nc", "C.Surface"},
		{"exp.C.LandSurface9-000000.nc", "C.LandSurface9"},
		{"TOPO.nc", ""},
		{"fort.98", ""},
		{"exp.X.Other-000000.nc", ""}, // only C.* and L.* groups exist
	}
	for _, tt := range tests {
		m := groupPattern.FindStringSubmatch(tt.file)
		got := ""
		if m != nil {
			got = m[1]
		}
		if got != tt.group {
			t.Errorf("group(%q) = %q, want %q", tt.file, got, tt.group)
		}
	}
}

/*
Package vvm reads VVM model output directories and hands the rest of the
system realized grid values.

A simulation is a directory with this shape:

	<sim>/
	├── TOPO.nc                                  - terrain height (2-D)
	└── archive/
	    ├── <case>.C.Surface-000000.nc           - 2-D surface fields, step 0
	    ├── <case>.C.Surface-000120.nc
	    ├── <case>.L.Thermodynamic-000000.nc     - 3-D fields, step 0
	    ├── <case>.L.Thermodynamic-000120.nc
	    └── ...

Each archive file holds one time step for one variable group; the group
token (C.Surface, L.Thermodynamic, ...) and the six-digit time index are
parsed from the filename. Reading a variable means resolving its group,
opening the file for each selected time step, slicing the hyperslab and
stacking the steps along the time axis.

# Layout

	┌──────────────────────────────────────────────┐
	│                    Reader                     │
	│  group/time index per simulation (scanned)    │
	│  dataset handle LRU (eviction closes)         │
	│  terrain cache per simulation                 │
	└───────────────┬──────────────────────────────┘
	                │ all I/O under the injected iogate.Gate
	┌───────────────▼──────────────────────────────┐
	│                   Backend                     │
	│  Open(path) -> Dataset                        │
	│  netcdfBackend (go-native-netcdf) in prod,    │
	│  in-memory fixture in tests                   │
	└──────────────────────────────────────────────┘

The Reader serializes every backend call through the gate it was built
with. NetCDF handles are not safe for concurrent use, and the gate is
reentrant so a caller may hold it across a whole multi-read sequence
(the loader does this for surface wind composites).

# Diagnostics

Column-integrated diagnostics (cwv, lwp, iwp) are not stored in the
archive; the Reader derives them by integrating the corresponding
moisture species over the full column. They appear in the scanned
variable menu under "Calc: Diagnostics" whenever their inputs exist.
*/
package vvm

/*
Package controller drives one interactive browsing session: it owns the
frame cache, the loader, the dataset reader and the session state that
ties them together, and exposes the operations the HTTP layer calls.

# Update loop

Frame is the hot path. For each request it

 1. rejects concurrent calls fast (one update is in flight at a time),
 2. builds the frame request from the parameters plus session metadata:
    column-integrated diagnostics integrate over the full height range,
    level-file variables resolve the requested height to the nearest model
    level, surface fields carry no vertical selection, and the wind overlay
    falls back to the composite surface wind whenever the variable itself
    has no levels,
 3. serves the bundle from the cache, loading synchronously on a miss and
    recording the load time,
 4. renders the bundle into a transport-friendly summary on copies (the
    cached bundle is shared and never mutated), and
 5. schedules a background prefetch of the next time step before returning.

Synchronous load errors propagate to the caller; prefetch errors never do.

# Session state

LoadSimulation stages the simulation through the store, scans its variable
menu and time steps, captures the horizontal and vertical grids, and resets
the session. The frame cache is cleared on every simulation switch so keys
from different archives cannot collide. The contour range starts in
auto-range (each frame reports its own data range) and locks when a request
carries explicit bounds; switching the contour variable returns to auto.
*/
package controller

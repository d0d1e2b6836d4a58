// Package iogate serializes access to the dataset I/O layer. The underlying
// NetCDF handles are not safe for concurrent use, so every read path takes
// the gate; it is reentrant so that a composite read (for example the
// surface-wind assembly, which reads several variables plus the terrain
// mask) can nest acquisitions within one goroutine without deadlocking.
package iogate

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
)

// Gate is a reentrant mutual-exclusion gate. The goroutine holding it may
// acquire it again; other goroutines block until the holder's acquisition
// depth returns to zero. Acquisition is not cancellable: a read that has
// entered the gate runs to completion.
type Gate struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int // goroutine id of the holder, 0 when free
	depth int
}

// New creates a gate.
func New() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Acquire blocks until the calling goroutine holds the gate and returns the
// matching release. Each release must be called exactly once; releasing from
// a goroutine that does not hold the gate panics, like unlocking an unlocked
// mutex.
func (g *Gate) Acquire() (release func()) {
	id := goroutineID()

	g.mu.Lock()
	for g.owner != 0 && g.owner != id {
		g.cond.Wait()
	}
	g.owner = id
	g.depth++
	g.mu.Unlock()

	return func() { g.release(id) }
}

// Do runs fn while holding the gate.
func (g *Gate) Do(fn func() error) error {
	release := g.Acquire()
	defer release()
	return fn()
}

func (g *Gate) release(id int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.owner != id || g.depth == 0 {
		panic(fmt.Sprintf("iogate: release from goroutine %d, gate held by %d at depth %d", id, g.owner, g.depth))
	}
	g.depth--
	if g.depth == 0 {
		g.owner = 0
		g.cond.Signal()
	}
}

// goroutineID parses the current goroutine's id from its stack header.
func goroutineID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	idField := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))[0]

	var id int
	_, _ = fmt.Sscanf(idField, "%d", &id)
	return id
}

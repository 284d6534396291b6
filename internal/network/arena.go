package network

import (
	"fmt"
	"sync"

	"github.com/loomworks/loom/internal/ir"
)

// Gadget is the metadata the network needs about a mounted component:
// identity and pinout. Gadget behavior (request handling, rendering)
// lives in outer layers; the core only wires boundary contacts to the
// declared pins.
type Gadget interface {
	ID() ir.GadgetID
	Pinout() ir.Pinout
}

// Arena is the id-to-gadget table with explicit liveness. Entries are
// never implicitly evicted: teardown clears the alive bit, and lookups
// check it. This replaces GC-driven weak-reference eviction with a
// deterministic lifecycle.
//
// Thread-safety: all methods are safe for concurrent use.
type Arena struct {
	mu      sync.Mutex
	entries map[ir.GadgetID]*arenaEntry
}

type arenaEntry struct {
	gadget Gadget
	alive  bool
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{entries: make(map[ir.GadgetID]*arenaEntry)}
}

// Put registers a gadget and marks it alive.
// Re-registering a dead id revives it; re-registering a live id errors.
func (a *Arena) Put(g Gadget) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[g.ID()]; ok && e.alive {
		return fmt.Errorf("gadget %q is already registered and alive", g.ID())
	}
	a.entries[g.ID()] = &arenaEntry{gadget: g, alive: true}
	return nil
}

// Get returns the gadget if it is alive.
func (a *Arena) Get(id ir.GadgetID) (Gadget, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[id]
	if !ok || !e.alive {
		return nil, false
	}
	return e.gadget, true
}

// Alive reports liveness without returning the gadget.
func (a *Arena) Alive(id ir.GadgetID) bool {
	_, ok := a.Get(id)
	return ok
}

// Kill clears the alive bit. The entry stays in the table so stale
// lookups fail deterministically instead of dereferencing a gone gadget.
func (a *Arena) Kill(id ir.GadgetID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[id]; ok {
		e.alive = false
	}
}

// Len returns the number of live entries. Diagnostics only.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.alive {
			n++
		}
	}
	return n
}

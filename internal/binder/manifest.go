package binder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/lattice"
)

// ManifestEntry describes one installable aspect: its shim priority and
// the lattice its parameters compose through.
type ManifestEntry struct {
	Name string `json:"name"`
	// Priority orders shims along a wire, lowest first. Priorities
	// are published here, in the manifest, never stored in the IR.
	Priority int `json:"priority"`
	// Lattice is the default parameter-composition lattice, used when an
	// installation does not name its own.
	Lattice string `json:"lattice,omitempty"`
}

// AspectManifest is the versioned side registry resolving unordered
// aspect bags into canonical shim order. Boards never embed ordering;
// two binders sharing a manifest version lower identically.
type AspectManifest struct {
	version int64
	entries map[string]ManifestEntry
}

// NewManifest builds a manifest from entries. Duplicate names are
// rejected.
func NewManifest(version int64, entries ...ManifestEntry) (*AspectManifest, error) {
	m := &AspectManifest{
		version: version,
		entries: make(map[string]ManifestEntry, len(entries)),
	}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("manifest entry with empty name")
		}
		if _, dup := m.entries[e.Name]; dup {
			return nil, fmt.Errorf("duplicate manifest entry %q", e.Name)
		}
		m.entries[e.Name] = e
	}
	return m, nil
}

// DefaultManifest covers the control-plane aspects. Pause gates come
// first on a wire, then rate limiting, then fences. Pause shims carry no
// parameters (the level lives in the interrupt controller's scope
// state); RateLimit and Fence parameters are values of their lattices
// and compose through them.
func DefaultManifest() *AspectManifest {
	m, err := NewManifest(1,
		ManifestEntry{Name: "Pause", Priority: 10, Lattice: lattice.NamePause},
		ManifestEntry{Name: "RateLimit", Priority: 20, Lattice: lattice.NameRateLimit},
		ManifestEntry{Name: "Fence", Priority: 30, Lattice: lattice.NameFence},
	)
	if err != nil {
		panic("binder: default manifest: " + err.Error())
	}
	return m
}

// Version reports the manifest version, recorded on baked boards.
func (m *AspectManifest) Version() int64 { return m.version }

// Entry looks up an aspect by name.
func (m *AspectManifest) Entry(name string) (ManifestEntry, bool) {
	e, ok := m.entries[name]
	return e, ok
}

// ParamLattice resolves the composition lattice for one installation:
// the install's own declared lattice wins, then the manifest default.
func (m *AspectManifest) ParamLattice(a ir.AspectInstance) string {
	if a.Lattice != "" {
		return a.Lattice
	}
	if e, ok := m.entries[a.Name]; ok {
		return e.Lattice
	}
	return ""
}

// Sorter returns the manifest-backed canonical aspect order: manifest
// priority, then name, then params hash. Unknown aspects sort after all
// known ones.
func (m *AspectManifest) Sorter() ir.AspectSorter {
	return func(aspects []ir.AspectInstance) ([]ir.AspectInstance, error) {
		out := slices.Clone(aspects)
		type key struct {
			priority int
			rest     string
		}
		keys := make([]key, len(out))
		for i, a := range out {
			prio := int(^uint(0) >> 1)
			if e, ok := m.entries[a.Name]; ok {
				prio = e.Priority
			}
			ph, err := ir.ParamsHash(a.Params)
			if err != nil {
				return nil, fmt.Errorf("aspect %q: %w", a.Name, err)
			}
			keys[i] = key{priority: prio, rest: a.Name + "\x00" + ph}
		}
		idx := make([]int, len(out))
		for i := range idx {
			idx[i] = i
		}
		slices.SortFunc(idx, func(a, b int) int {
			if keys[a].priority != keys[b].priority {
				return keys[a].priority - keys[b].priority
			}
			return strings.Compare(keys[a].rest, keys[b].rest)
		})
		sorted := make([]ir.AspectInstance, len(out))
		for i, j := range idx {
			sorted[i] = out[j]
		}
		return sorted, nil
	}
}

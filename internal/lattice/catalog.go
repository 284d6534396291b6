package lattice

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Catalog is a named lattice registry with an explicit lifecycle:
// constructed once, injected where needed, torn down with Close. There is
// deliberately no package-level default instance.
//
// Register runs the lattice law checks and fails closed - a lattice that
// breaks a law never becomes resolvable by name, so blend modes and
// reduce policies can trust anything the catalog hands out.
//
// Thread-safety: all methods are safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	lattices map[string]Lattice
	closed   bool
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{lattices: make(map[string]Lattice)}
}

// Register law-checks l and adds it under its name.
// The stored lattice is wrapped in a Validated so every later operand is
// schema-checked. Duplicate names and law failures are rejected.
func (c *Catalog) Register(l Lattice) error {
	samples := samplesOf(l)
	if err := CheckLaws(l, samples); err != nil {
		return fmt.Errorf("register %s: %w", l.Name(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("register %s: catalog is closed", l.Name())
	}
	if _, exists := c.lattices[l.Name()]; exists {
		return fmt.Errorf("register %s: duplicate lattice name", l.Name())
	}
	c.lattices[l.Name()] = NewValidated(l)

	slog.Debug("lattice registered", "lattice", l.Name(), "samples", len(samples))
	return nil
}

// Resolve returns the lattice registered under name.
func (c *Catalog) Resolve(name string) (Lattice, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.lattices[name]
	if !ok {
		return nil, fmt.Errorf("UNKNOWN_REFERENCE: no lattice named %q", name)
	}
	return l, nil
}

// Names returns the registered names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.lattices))
	for name := range c.lattices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateAll re-certifies every registered lattice, capping the sample
// set at n per lattice (0 means the default cap). Returns the first
// failure; a catalog that passes ValidateAll can be trusted wholesale.
func (c *Catalog) ValidateAll(n int) error {
	c.mu.RLock()
	names := make([]string, 0, len(c.lattices))
	for name := range c.lattices {
		names = append(names, name)
	}
	slices.Sort(names)
	c.mu.RUnlock()

	for _, name := range names {
		l, err := c.Resolve(name)
		if err != nil {
			return err
		}
		samples := samplesOf(l)
		if n > 0 && len(samples) > n {
			samples = samples[:n]
		}
		if err := CheckLaws(l, samples); err != nil {
			return fmt.Errorf("validate %s: %w", name, err)
		}
	}
	return nil
}

// Close tears the catalog down. Further Register calls fail; Resolve
// keeps working so in-flight readers are not broken mid-propagation.
func (c *Catalog) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// StandardCatalog builds a catalog with every built-in control-plane
// lattice registered. Panics on registration failure: the built-ins are
// law-checked in this package's tests, so a failure here is a programming
// error, not an input error.
func StandardCatalog() *Catalog {
	c := NewCatalog()
	for _, l := range []Lattice{
		Pause(),
		Fence(),
		RateLimit(),
		BoolOr(),
		MaxInt(),
		SetUnion(),
	} {
		if err := c.Register(l); err != nil {
			panic(fmt.Sprintf("standard catalog: %v", err))
		}
	}
	return c
}

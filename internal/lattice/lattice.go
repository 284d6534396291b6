package lattice

import (
	"fmt"

	"github.com/loomworks/loom/internal/ir"
)

// Lattice is a join-semilattice over IR values.
//
// Contract: Leq, Join, and Bottom are pure and total over schema-valid
// values. Join must be commutative, associative, and idempotent; Bottom
// must be the join identity; Leq must be reflexive and transitive.
// CheckLaws verifies the contract against sample values.
type Lattice interface {
	// Name is the registration name, referenced by blend modes and
	// replica policies.
	Name() string
	// Validate checks a value against the lattice's schema.
	Validate(v ir.Value) error
	// Leq reports whether a precedes b in the lattice order.
	Leq(a, b ir.Value) (bool, error)
	// Join returns the least upper bound of a and b.
	Join(a, b ir.Value) (ir.Value, error)
	// Bottom is the join identity.
	Bottom() ir.Value
}

// Topped is implemented by lattices with a greatest element.
type Topped interface {
	Top() ir.Value
}

// Equaler is implemented by lattices with a custom equality.
// Lattices without one use deep structural equality (ir.Equal).
type Equaler interface {
	Equal(a, b ir.Value) bool
}

// Sampler is implemented by lattices that publish an explicit sample
// generator for law checking. Lattices without one get a schema-derived
// generator (see DeriveSamples).
type Sampler interface {
	Samples() []ir.Value
}

// Equal applies the lattice's equality, falling back to structural.
func Equal(l Lattice, a, b ir.Value) bool {
	if eq, ok := l.(Equaler); ok {
		return eq.Equal(a, b)
	}
	return ir.Equal(a, b)
}

// SchemaViolation reports a schema-invalid operand or join result.
// Raising it must never leave partial state behind: validation happens
// before any mutation.
type SchemaViolation struct {
	Lattice string
	Value   ir.Value
	Reason  string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("SCHEMA_VIOLATION: lattice %s rejected value: %s", e.Lattice, e.Reason)
}

// Spec describes an externally supplied lattice. This is the registration
// surface for collaborators: provide the four operations (plus optional
// top/equal/samples) and register the result into a Catalog.
type Spec struct {
	Name     string
	Validate func(v ir.Value) error
	Leq      func(a, b ir.Value) (bool, error)
	Join     func(a, b ir.Value) (ir.Value, error)
	Bottom   func() ir.Value

	// Optional.
	Top     func() ir.Value
	Equal   func(a, b ir.Value) bool
	Samples []ir.Value
}

// New builds a Lattice from a Spec.
// The returned lattice implements Topped, Equaler, and Sampler exactly
// when the corresponding Spec fields are set.
func New(spec Spec) (Lattice, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("lattice spec: name is required")
	}
	if spec.Leq == nil || spec.Join == nil || spec.Bottom == nil {
		return nil, fmt.Errorf("lattice spec %q: leq, join, and bottom are required", spec.Name)
	}
	base := &specLattice{spec: spec}
	switch {
	case spec.Top != nil:
		return &toppedSpecLattice{specLattice: base}, nil
	default:
		return base, nil
	}
}

type specLattice struct {
	spec Spec
}

func (l *specLattice) Name() string { return l.spec.Name }

func (l *specLattice) Validate(v ir.Value) error {
	if l.spec.Validate == nil {
		return nil
	}
	return l.spec.Validate(v)
}

func (l *specLattice) Leq(a, b ir.Value) (bool, error)      { return l.spec.Leq(a, b) }
func (l *specLattice) Join(a, b ir.Value) (ir.Value, error) { return l.spec.Join(a, b) }
func (l *specLattice) Bottom() ir.Value                     { return l.spec.Bottom() }

func (l *specLattice) Equal(a, b ir.Value) bool {
	if l.spec.Equal != nil {
		return l.spec.Equal(a, b)
	}
	return ir.Equal(a, b)
}

func (l *specLattice) Samples() []ir.Value {
	return l.spec.Samples
}

type toppedSpecLattice struct {
	*specLattice
}

func (l *toppedSpecLattice) Top() ir.Value { return l.spec.Top() }

// Validated wraps a lattice so every operand - and Join's result - is
// schema-validated on every call. Malformed values fail fast as
// SchemaViolation instead of propagating through the graph.
type Validated struct {
	inner Lattice
}

// NewValidated wraps l.
func NewValidated(l Lattice) *Validated {
	return &Validated{inner: l}
}

// Unwrap returns the wrapped lattice.
func (v *Validated) Unwrap() Lattice { return v.inner }

func (v *Validated) Name() string { return v.inner.Name() }

func (v *Validated) Validate(val ir.Value) error {
	if err := v.inner.Validate(val); err != nil {
		return &SchemaViolation{Lattice: v.inner.Name(), Value: val, Reason: err.Error()}
	}
	return nil
}

func (v *Validated) Leq(a, b ir.Value) (bool, error) {
	if err := v.Validate(a); err != nil {
		return false, err
	}
	if err := v.Validate(b); err != nil {
		return false, err
	}
	return v.inner.Leq(a, b)
}

func (v *Validated) Join(a, b ir.Value) (ir.Value, error) {
	if err := v.Validate(a); err != nil {
		return nil, err
	}
	if err := v.Validate(b); err != nil {
		return nil, err
	}
	joined, err := v.inner.Join(a, b)
	if err != nil {
		return nil, err
	}
	// A law-abiding lattice can still be mis-implemented; the join result
	// is checked too so a malformed value never escapes.
	if err := v.Validate(joined); err != nil {
		return nil, err
	}
	return joined, nil
}

func (v *Validated) Bottom() ir.Value { return v.inner.Bottom() }

func (v *Validated) Equal(a, b ir.Value) bool { return Equal(v.inner, a, b) }

func (v *Validated) Samples() []ir.Value {
	if s, ok := v.inner.(Sampler); ok {
		return s.Samples()
	}
	return nil
}

// Product builds the pointwise lattice on pairs - the standard way to
// combine independent control dimensions (e.g. Pause x RateLimit) without
// special-casing. Values are Objects {"first": a, "second": b}.
func Product(name string, first, second Lattice) Lattice {
	return &productLattice{name: name, first: first, second: second}
}

type productLattice struct {
	name          string
	first, second Lattice
}

func (p *productLattice) Name() string { return p.name }

func (p *productLattice) split(v ir.Value) (ir.Value, ir.Value, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, nil, fmt.Errorf("product value must be an object, got %T", v)
	}
	a, okA := obj["first"]
	b, okB := obj["second"]
	if !okA || !okB {
		return nil, nil, fmt.Errorf("product value requires first and second fields")
	}
	return a, b, nil
}

func (p *productLattice) Validate(v ir.Value) error {
	a, b, err := p.split(v)
	if err != nil {
		return err
	}
	if err := p.first.Validate(a); err != nil {
		return fmt.Errorf("first: %w", err)
	}
	if err := p.second.Validate(b); err != nil {
		return fmt.Errorf("second: %w", err)
	}
	return nil
}

func (p *productLattice) Leq(a, b ir.Value) (bool, error) {
	a1, a2, err := p.split(a)
	if err != nil {
		return false, err
	}
	b1, b2, err := p.split(b)
	if err != nil {
		return false, err
	}
	leq1, err := p.first.Leq(a1, b1)
	if err != nil {
		return false, err
	}
	if !leq1 {
		return false, nil
	}
	return p.second.Leq(a2, b2)
}

func (p *productLattice) Join(a, b ir.Value) (ir.Value, error) {
	a1, a2, err := p.split(a)
	if err != nil {
		return nil, err
	}
	b1, b2, err := p.split(b)
	if err != nil {
		return nil, err
	}
	j1, err := p.first.Join(a1, b1)
	if err != nil {
		return nil, err
	}
	j2, err := p.second.Join(a2, b2)
	if err != nil {
		return nil, err
	}
	return ir.Object{"first": j1, "second": j2}, nil
}

func (p *productLattice) Bottom() ir.Value {
	return ir.Object{"first": p.first.Bottom(), "second": p.second.Bottom()}
}

func (p *productLattice) Equal(a, b ir.Value) bool {
	a1, a2, errA := p.split(a)
	b1, b2, errB := p.split(b)
	if errA != nil || errB != nil {
		return ir.Equal(a, b)
	}
	return Equal(p.first, a1, b1) && Equal(p.second, a2, b2)
}

func (p *productLattice) Samples() []ir.Value {
	firsts := samplesOf(p.first)
	seconds := samplesOf(p.second)
	var out []ir.Value
	for _, f := range firsts {
		for _, s := range seconds {
			out = append(out, ir.Object{"first": f, "second": s})
		}
	}
	return out
}

func samplesOf(l Lattice) []ir.Value {
	if s, ok := l.(Sampler); ok {
		if got := s.Samples(); len(got) > 0 {
			return got
		}
	}
	return DeriveSamples(l)
}

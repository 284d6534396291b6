package lattice

import (
	"fmt"

	"github.com/loomworks/loom/internal/ir"
)

// LawViolation reports a lattice law failure, including the samples that
// broke it. Law violations block registration - a lattice that fails a
// law cannot be trusted to converge and is rejected fail-closed.
type LawViolation struct {
	Lattice string
	Law     string
	Samples []ir.Value
	Detail  string
}

func (e *LawViolation) Error() string {
	return fmt.Sprintf("LAW_VIOLATION: lattice %s fails %s: %s (samples: %s)",
		e.Lattice, e.Law, e.Detail, renderSamples(e.Samples))
}

func renderSamples(samples []ir.Value) string {
	out := "["
	for i, s := range samples {
		if i > 0 {
			out += ", "
		}
		b, err := ir.MarshalCanonical(s)
		if err != nil {
			out += fmt.Sprintf("%#v", s)
			continue
		}
		out += string(b)
	}
	return out + "]"
}

// maxLawSamples caps the sample set: law checks are O(n^3) in the sample
// count (associativity, transitivity run over triples).
const maxLawSamples = 12

// CheckLaws verifies the lattice laws against the given samples:
//
//	leq reflexive and transitive
//	join commutative, associative, idempotent
//	bottom is the join identity
//	a <= join(a,b) and b <= join(a,b)
//
// Samples failing Validate are reported as a SchemaViolation rather than
// silently skipped - a generator producing invalid samples is itself a
// bug. The first failing law is reported with its samples.
func CheckLaws(l Lattice, samples []ir.Value) error {
	if len(samples) == 0 {
		return &LawViolation{
			Lattice: l.Name(),
			Law:     "samples",
			Detail:  "no samples to check against",
		}
	}
	if len(samples) > maxLawSamples {
		samples = samples[:maxLawSamples]
	}

	for _, s := range samples {
		if err := l.Validate(s); err != nil {
			return &SchemaViolation{Lattice: l.Name(), Value: s, Reason: err.Error()}
		}
	}

	bottom := l.Bottom()
	if err := l.Validate(bottom); err != nil {
		return &SchemaViolation{Lattice: l.Name(), Value: bottom, Reason: "bottom: " + err.Error()}
	}

	// Reflexivity: a <= a.
	for _, a := range samples {
		ok, err := l.Leq(a, a)
		if err != nil {
			return opError(l, "leq", err, a)
		}
		if !ok {
			return &LawViolation{Lattice: l.Name(), Law: "leq reflexivity", Samples: []ir.Value{a}, Detail: "leq(a,a) is false"}
		}
	}

	// Idempotence: join(a,a) == a.
	for _, a := range samples {
		j, err := l.Join(a, a)
		if err != nil {
			return opError(l, "join", err, a)
		}
		if !Equal(l, j, a) {
			return &LawViolation{Lattice: l.Name(), Law: "join idempotence", Samples: []ir.Value{a}, Detail: "join(a,a) != a"}
		}
	}

	// Bottom identity and ordering: join(bottom,a) == a, bottom <= a.
	for _, a := range samples {
		j, err := l.Join(bottom, a)
		if err != nil {
			return opError(l, "join", err, bottom, a)
		}
		if !Equal(l, j, a) {
			return &LawViolation{Lattice: l.Name(), Law: "bottom identity", Samples: []ir.Value{a}, Detail: "join(bottom,a) != a"}
		}
		ok, err := l.Leq(bottom, a)
		if err != nil {
			return opError(l, "leq", err, bottom, a)
		}
		if !ok {
			return &LawViolation{Lattice: l.Name(), Law: "bottom ordering", Samples: []ir.Value{a}, Detail: "leq(bottom,a) is false"}
		}
	}

	// Commutativity and upper-bound: join(a,b) == join(b,a), a <= join(a,b).
	for _, a := range samples {
		for _, b := range samples {
			ab, err := l.Join(a, b)
			if err != nil {
				return opError(l, "join", err, a, b)
			}
			ba, err := l.Join(b, a)
			if err != nil {
				return opError(l, "join", err, b, a)
			}
			if !Equal(l, ab, ba) {
				return &LawViolation{Lattice: l.Name(), Law: "join commutativity", Samples: []ir.Value{a, b}, Detail: "join(a,b) != join(b,a)"}
			}
			okA, err := l.Leq(a, ab)
			if err != nil {
				return opError(l, "leq", err, a, ab)
			}
			okB, err := l.Leq(b, ab)
			if err != nil {
				return opError(l, "leq", err, b, ab)
			}
			if !okA || !okB {
				return &LawViolation{Lattice: l.Name(), Law: "join upper bound", Samples: []ir.Value{a, b}, Detail: "operand not leq join(a,b)"}
			}
		}
	}

	// Associativity: join(join(a,b),c) == join(a,join(b,c)).
	for _, a := range samples {
		for _, b := range samples {
			for _, c := range samples {
				ab, err := l.Join(a, b)
				if err != nil {
					return opError(l, "join", err, a, b)
				}
				abc1, err := l.Join(ab, c)
				if err != nil {
					return opError(l, "join", err, ab, c)
				}
				bc, err := l.Join(b, c)
				if err != nil {
					return opError(l, "join", err, b, c)
				}
				abc2, err := l.Join(a, bc)
				if err != nil {
					return opError(l, "join", err, a, bc)
				}
				if !Equal(l, abc1, abc2) {
					return &LawViolation{Lattice: l.Name(), Law: "join associativity", Samples: []ir.Value{a, b, c}, Detail: "grouping changes the join"}
				}
			}
		}
	}

	// Transitivity: a<=b && b<=c implies a<=c.
	for _, a := range samples {
		for _, b := range samples {
			ab, err := l.Leq(a, b)
			if err != nil {
				return opError(l, "leq", err, a, b)
			}
			if !ab {
				continue
			}
			for _, c := range samples {
				bc, err := l.Leq(b, c)
				if err != nil {
					return opError(l, "leq", err, b, c)
				}
				if !bc {
					continue
				}
				ac, err := l.Leq(a, c)
				if err != nil {
					return opError(l, "leq", err, a, c)
				}
				if !ac {
					return &LawViolation{Lattice: l.Name(), Law: "leq transitivity", Samples: []ir.Value{a, b, c}, Detail: "a<=b and b<=c but not a<=c"}
				}
			}
		}
	}

	return nil
}

func opError(l Lattice, op string, err error, samples ...ir.Value) error {
	return &LawViolation{
		Lattice: l.Name(),
		Law:     op + " totality",
		Samples: samples,
		Detail:  err.Error(),
	}
}

// DeriveSamples builds a schema-derived sample set for lattices that do
// not publish their own generator: a fixed candidate pool filtered by the
// lattice's Validate. Deterministic - no randomness, so a law failure
// reproduces exactly.
func DeriveSamples(l Lattice) []ir.Value {
	candidates := []ir.Value{
		l.Bottom(),
		ir.Null{},
		ir.Bool(false),
		ir.Bool(true),
		ir.Int(-3),
		ir.Int(0),
		ir.Int(1),
		ir.Int(42),
		ir.String(""),
		ir.String("a"),
		ir.String("b"),
		ir.Array{},
		ir.Array{ir.String("a")},
		ir.Array{ir.String("a"), ir.String("b")},
		ir.Object{},
	}
	if t, ok := l.(Topped); ok {
		candidates = append(candidates, t.Top())
	}

	var out []ir.Value
	for _, c := range candidates {
		if l.Validate(c) != nil {
			continue
		}
		dup := false
		for _, have := range out {
			if ir.Equal(have, c) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

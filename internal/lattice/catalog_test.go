package lattice

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/ir"
)

// TestCatalog_Register verifies registration, resolution, and the
// Validated wrapping of resolved lattices.
func TestCatalog_Register(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(MaxInt()))

	l, err := c.Resolve(NameMaxInt)
	require.NoError(t, err)
	assert.Equal(t, NameMaxInt, l.Name())

	// Resolved lattices validate operands.
	_, err = l.Join(ir.Int(1), ir.String("nope"))
	require.Error(t, err)
	var sv *SchemaViolation
	assert.ErrorAs(t, err, &sv)

	// Unknown names are an UnknownReference-style error.
	_, err = c.Resolve("NoSuchLattice")
	assert.ErrorContains(t, err, "UNKNOWN_REFERENCE")
}

// TestCatalog_DuplicateName verifies duplicate registration is rejected.
func TestCatalog_DuplicateName(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(BoolOr()))
	assert.ErrorContains(t, c.Register(BoolOr()), "duplicate")
}

// TestCatalog_LawViolationBlocksRegistration verifies fail-closed
// registration: a lattice breaking a law never becomes resolvable.
func TestCatalog_LawViolationBlocksRegistration(t *testing.T) {
	// Subtraction is not commutative; this "lattice" cannot converge.
	broken, err := New(Spec{
		Name: "BrokenMinus",
		Validate: func(v ir.Value) error {
			if _, ok := v.(ir.Int); !ok {
				return fmt.Errorf("must be int")
			}
			return nil
		},
		Leq: func(a, b ir.Value) (bool, error) { return a.(ir.Int) <= b.(ir.Int), nil },
		Join: func(a, b ir.Value) (ir.Value, error) {
			return ir.Int(a.(ir.Int) - b.(ir.Int)), nil
		},
		Bottom:  func() ir.Value { return ir.Int(0) },
		Samples: []ir.Value{ir.Int(0), ir.Int(1), ir.Int(5)},
	})
	require.NoError(t, err)

	c := NewCatalog()
	err = c.Register(broken)
	require.Error(t, err)

	var lv *LawViolation
	require.ErrorAs(t, err, &lv)
	assert.NotEmpty(t, lv.Samples, "a law violation must report the failing sample")

	_, err = c.Resolve("BrokenMinus")
	assert.Error(t, err)
}

// TestCatalog_ExternalSpecRegistration covers the external registration
// surface: a collaborator-supplied {schema, leq, join, bottom} becomes
// resolvable by name once its laws hold.
func TestCatalog_ExternalSpecRegistration(t *testing.T) {
	minInt, err := New(Spec{
		Name: "MinInt",
		Validate: func(v ir.Value) error {
			if _, ok := v.(ir.Int); !ok {
				return fmt.Errorf("must be int")
			}
			return nil
		},
		Leq: func(a, b ir.Value) (bool, error) { return a.(ir.Int) >= b.(ir.Int), nil },
		Join: func(a, b ir.Value) (ir.Value, error) {
			return ir.Int(min(a.(ir.Int), b.(ir.Int))), nil
		},
		Bottom:  func() ir.Value { return ir.Int(1<<62 - 1) },
		Samples: []ir.Value{ir.Int(1<<62 - 1), ir.Int(-2), ir.Int(0), ir.Int(7)},
	})
	require.NoError(t, err)

	c := NewCatalog()
	require.NoError(t, c.Register(minInt))

	l, err := c.Resolve("MinInt")
	require.NoError(t, err)
	j, err := l.Join(ir.Int(4), ir.Int(-2))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(-2), j)
}

// TestCatalog_ValidateAll re-certifies the whole standard catalog.
func TestCatalog_ValidateAll(t *testing.T) {
	c := StandardCatalog()
	assert.NoError(t, c.ValidateAll(0))
	assert.Equal(t, []string{
		NameBoolOr, NameFence, NameMaxInt, NamePause, NameRateLimit, NameSetUnion,
	}, c.Names())
}

// TestCatalog_Close verifies teardown semantics: no new registrations,
// existing resolutions keep working.
func TestCatalog_Close(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(MaxInt()))
	c.Close()

	assert.ErrorContains(t, c.Register(BoolOr()), "closed")

	_, err := c.Resolve(NameMaxInt)
	assert.NoError(t, err)
}

// TestValidated_FailsFastWithoutMutation verifies a schema-invalid
// operand is rejected before any work happens, on both sides and on the
// join result.
func TestValidated_FailsFastWithoutMutation(t *testing.T) {
	v := NewValidated(Pause())

	_, err := v.Join(ir.String("bogus"), ir.String(PauseSoft))
	var sv *SchemaViolation
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, NamePause, sv.Lattice)

	_, err = v.Join(ir.String(PauseSoft), ir.Int(1))
	assert.ErrorAs(t, err, &sv)

	_, err = v.Leq(ir.Int(1), ir.String(PauseSoft))
	assert.ErrorAs(t, err, &sv)
}

// TestDeriveSamples_SchemaFiltered verifies the schema-derived generator
// only produces values the lattice accepts.
func TestDeriveSamples_SchemaFiltered(t *testing.T) {
	samples := DeriveSamples(BoolOr())
	require.NotEmpty(t, samples)
	for _, s := range samples {
		assert.NoError(t, BoolOr().Validate(s))
	}
}

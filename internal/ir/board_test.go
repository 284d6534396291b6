package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBoard() *Board {
	b := NewBoard("board-1")
	b.Slots["worker"] = SlotDecl{
		ID:       "worker",
		Pinout:   "worker.v1",
		Capacity: 2,
		Policy:   ReplicaPolicy{Mode: ReplicaReduce, Lattice: "MaxInt"},
	}
	b.Pinouts["g1"] = Pinout{Inputs: []string{"in"}, Outputs: []string{"out"}}
	b.Pinouts["g2"] = Pinout{Inputs: []string{"in"}, Outputs: []string{"out"}}
	b.Occupants["worker"] = []GadgetID{"g1", "g2"}
	b.Wires["w1"] = WireSpec{
		ID:   "w1",
		From: WireEndpoint{Gadget: "g1", Pin: "out"},
		To:   WireEndpoint{Slot: "worker"},
		Aspects: []AspectInstance{
			{Name: "RateLimit", Params: Object{"rps": Int(10)}, Lattice: "RateLimit"},
			{Name: "Trace"},
		},
	}
	return b
}

// TestBoard_Validate_OK verifies a well-formed board passes.
func TestBoard_Validate_OK(t *testing.T) {
	assert.Empty(t, testBoard().Validate())
}

// TestBoard_Validate_KeyIdMismatch verifies the map-key==id invariant.
func TestBoard_Validate_KeyIdMismatch(t *testing.T) {
	b := testBoard()
	decl := b.Slots["worker"]
	decl.ID = "other"
	b.Slots["worker"] = decl

	errs := b.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "does not match")
}

// TestBoard_Validate_EndpointExactlyOne verifies endpoint exclusivity.
func TestBoard_Validate_EndpointExactlyOne(t *testing.T) {
	b := testBoard()
	b.Wires["w2"] = WireSpec{
		ID:   "w2",
		From: WireEndpoint{Slot: "worker", Gadget: "g1"}, // both set
		To:   WireEndpoint{},                             // neither set
	}

	errs := b.Validate()
	found := 0
	for _, e := range errs {
		if e.Message == "exactly one of slot/gadget must be set" {
			found++
		}
	}
	assert.Equal(t, 2, found)
}

// TestBoard_Validate_CapacityAndReferences verifies occupancy checks.
func TestBoard_Validate_CapacityAndReferences(t *testing.T) {
	b := testBoard()
	b.Pinouts["g3"] = Pinout{Outputs: []string{"out"}}
	b.Occupants["worker"] = []GadgetID{"g1", "g2", "g3"} // capacity 2

	errs := b.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "exceed capacity")

	b2 := testBoard()
	b2.Occupants["ghost"] = []GadgetID{"g1"}
	errs = b2.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "undeclared slot")
}

// TestBoard_Validate_ReplicaPolicy verifies the closed mode set and the
// per-mode requirements.
func TestBoard_Validate_ReplicaPolicy(t *testing.T) {
	b := testBoard()
	b.Slots["bad"] = SlotDecl{ID: "bad", Pinout: "p", Policy: ReplicaPolicy{Mode: "sometimes"}}
	errs := b.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "invalid replica mode")

	b2 := testBoard()
	b2.Slots["q"] = SlotDecl{ID: "q", Pinout: "p", Policy: ReplicaPolicy{Mode: ReplicaQuorum}}
	errs = b2.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "positive quorum")
}

// TestBoard_Hash_Deterministic verifies logically identical boards yield
// byte-identical hashes regardless of map and aspect insertion order.
func TestBoard_Hash_Deterministic(t *testing.T) {
	a := testBoard()

	b := testBoard()
	// Same aspects, reversed bag order: IR order must not matter.
	w := b.Wires["w1"]
	w.Aspects = []AspectInstance{w.Aspects[1], w.Aspects[0]}
	b.Wires["w1"] = w

	ha, err := a.Hash(nil)
	require.NoError(t, err)
	hb, err := b.Hash(nil)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

// TestBoard_Hash_ExcludesVersionAndProv verifies the hash identifies
// shape, not mutation history.
func TestBoard_Hash_ExcludesVersionAndProv(t *testing.T) {
	a := testBoard()
	b := testBoard()
	b.Version = 42
	b.Prov = Provenance{Token: "tok", Source: "cli", Seq: 9}

	ha, err := a.Hash(nil)
	require.NoError(t, err)
	hb, err := b.Hash(nil)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

// TestBoard_Hash_ChangesWithShape verifies any shape change moves the hash.
func TestBoard_Hash_ChangesWithShape(t *testing.T) {
	a := testBoard()
	ha, err := a.Hash(nil)
	require.NoError(t, err)

	b := testBoard()
	w := b.Wires["w1"]
	w.Aspects[0].Params = Object{"rps": Int(5)}
	b.Wires["w1"] = w
	hb, err := b.Hash(nil)
	require.NoError(t, err)

	assert.NotEqual(t, ha, hb)
}

// TestBoard_Clone_NoAliasing verifies clone isolation.
func TestBoard_Clone_NoAliasing(t *testing.T) {
	a := testBoard()
	b := a.Clone()

	w := b.Wires["w1"]
	w.Aspects[0].Params["rps"] = Int(1)
	b.Wires["w1"] = w
	b.Occupants["worker"][0] = "gX"

	assert.Equal(t, Int(10), a.Wires["w1"].Aspects[0].Params["rps"])
	assert.Equal(t, GadgetID("g1"), a.Occupants["worker"][0])
}

// TestDefaultAspectSort_Stable verifies name-then-params ordering.
func TestDefaultAspectSort_Stable(t *testing.T) {
	aspects := []AspectInstance{
		{Name: "Trace"},
		{Name: "RateLimit", Params: Object{"rps": Int(5)}},
		{Name: "RateLimit", Params: Object{"rps": Int(10)}},
	}
	sorted, err := DefaultAspectSort(aspects)
	require.NoError(t, err)
	assert.Equal(t, "RateLimit", sorted[0].Name)
	assert.Equal(t, "RateLimit", sorted[1].Name)
	assert.Equal(t, "Trace", sorted[2].Name)

	// Same multiset in a different order sorts identically.
	again, err := DefaultAspectSort([]AspectInstance{aspects[2], aspects[0], aspects[1]})
	require.NoError(t, err)
	assert.Equal(t, sorted, again)
}

package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPlanOp_Validate_RequiredPayloads verifies each kind rejects ops
// missing its payload.
func TestPlanOp_Validate_RequiredPayloads(t *testing.T) {
	cases := []struct {
		name string
		op   PlanOp
		want string
	}{
		{"missing id", PlanOp{Kind: PlanBake}, "op id is required"},
		{"declare_slot without slot", PlanOp{ID: "1", Kind: PlanDeclareSlot}, "requires a slot declaration"},
		{"mount without pinout", PlanOp{ID: "2", Kind: PlanMount, SlotID: "s", Gadget: "g"}, "requires the gadget's pinout"},
		{"add_wire without wire", PlanOp{ID: "3", Kind: PlanAddWire}, "requires a wire spec"},
		{"remove_wire without id", PlanOp{ID: "4", Kind: PlanRemoveWire}, "requires a wire id"},
		{"weave without wires", PlanOp{ID: "5", Kind: PlanWeaveWires}, "at least one wire"},
		{"slot aspect without aspect", PlanOp{ID: "6", Kind: PlanInstallSlotAspect, SlotID: "s"}, "aspect installation is required"},
		{"set_policy without policy", PlanOp{ID: "7", Kind: PlanSetPolicy}, "requires a policy"},
		{"unknown kind", PlanOp{ID: "8", Kind: "transmogrify"}, "unknown plan kind"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := tc.op.Validate()
			require.NotEmpty(t, errs)
			found := false
			for _, e := range errs {
				if strings.Contains(e.Message, tc.want) {
					found = true
				}
			}
			assert.True(t, found, "expected %q in %v", tc.want, errs)
		})
	}
}

// TestPlanOp_Validate_OK verifies well-formed ops pass.
func TestPlanOp_Validate_OK(t *testing.T) {
	ops := []PlanOp{
		{ID: "1", Kind: PlanDeclareSlot, Slot: &SlotDecl{ID: "s", Pinout: "p", Policy: ReplicaPolicy{Mode: ReplicaAny}}},
		{ID: "2", Kind: PlanMount, SlotID: "s", Gadget: "g", Pinout: &Pinout{Outputs: []string{"out"}}},
		{ID: "3", Kind: PlanAddWire, Wire: &WireSpec{ID: "w", From: WireEndpoint{Gadget: "g"}, To: WireEndpoint{Slot: "s"}}},
		{ID: "4", Kind: PlanInstallBoardAspect, Aspect: &AspectInstance{Name: "RateLimit"}},
		{ID: "5", Kind: PlanValidate},
		{ID: "6", Kind: PlanBake},
	}
	for _, op := range ops {
		assert.Empty(t, op.Validate(), "op %s/%s", op.ID, op.Kind)
	}
}

// TestInterruptOp_Validate verifies the interrupt tagged union.
func TestInterruptOp_Validate(t *testing.T) {
	ok := InterruptOp{
		ID:     "i1",
		Kind:   InterruptPause,
		Scope:  InterruptScope{Kind: ScopeBoard, Board: "b"},
		Source: "ops-console",
		Level:  "gated",
	}
	assert.Empty(t, ok.Validate())

	missing := InterruptOp{ID: "i2", Kind: InterruptPause, Scope: InterruptScope{Kind: ScopeBoard, Board: "b"}, Source: "x"}
	errs := missing.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "requires a level")

	throttle := InterruptOp{ID: "i3", Kind: InterruptThrottle, Scope: InterruptScope{Kind: ScopeBoard, Board: "b"}, Source: "x"}
	errs = throttle.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "requires a rate")

	unknown := InterruptOp{ID: "i4", Kind: "defenestrate", Scope: InterruptScope{Kind: ScopeBoard, Board: "b"}, Source: "x"}
	errs = unknown.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "unknown interrupt kind")
}

// TestInterruptScope_Key verifies scope keys are canonical and distinct.
func TestInterruptScope_Key(t *testing.T) {
	board := InterruptScope{Kind: ScopeBoard, Board: "b1"}
	slot := InterruptScope{Kind: ScopeSlot, Board: "b1", Slot: "worker"}
	wire := InterruptScope{Kind: ScopeWire, Board: "b1", Match: "aspect:RateLimit"}

	keys := map[string]bool{board.Key(): true, slot.Key(): true, wire.Key(): true}
	assert.Len(t, keys, 3)
}

package interrupt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/binder"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/lattice"
)

func boardScope() ir.InterruptScope {
	return ir.InterruptScope{Kind: ir.ScopeBoard, Board: "board-1"}
}

func newTestController(t *testing.T, opts ...ControllerOption) (*Controller, *binder.Binder) {
	t.Helper()
	catalog := lattice.StandardCatalog()
	b, err := binder.New("board-1", catalog, binder.DefaultManifest())
	require.NoError(t, err)
	return NewController(catalog, b, opts...), b
}

// wirePlan declares two slots and a wire between them.
func wirePlan(t *testing.T, b *binder.Binder) {
	t.Helper()
	receipts, err := b.Apply(ir.Plan{BoardID: "board-1", Ops: []ir.PlanOp{
		{ID: "setup-1", Kind: ir.PlanDeclareSlot, Slot: &ir.SlotDecl{
			ID: "a", Pinout: "p", Policy: ir.ReplicaPolicy{Mode: ir.ReplicaAny},
		}},
		{ID: "setup-2", Kind: ir.PlanDeclareSlot, Slot: &ir.SlotDecl{
			ID: "b", Pinout: "p", Policy: ir.ReplicaPolicy{Mode: ir.ReplicaAny},
		}},
		{ID: "setup-3", Kind: ir.PlanAddWire, Wire: &ir.WireSpec{
			ID: "feed-1", From: ir.WireEndpoint{Slot: "a"}, To: ir.WireEndpoint{Slot: "b"},
		}},
	}})
	require.NoError(t, err)
	for _, r := range receipts {
		require.Equal(t, ir.ReceiptOK, r.Status, r.Reason)
	}
}

func TestPauseJoinsAcrossSources(t *testing.T) {
	c, _ := newTestController(t)

	r := c.Apply(ir.InterruptOp{
		ID: "i-1", Kind: ir.InterruptPause, Scope: boardScope(), Source: "ops", Level: lattice.PauseSoft,
	})
	require.Equal(t, ir.ReceiptOK, r.Status, r.Reason)
	assert.Equal(t, lattice.PauseSoft, c.EffectivePause(boardScope()))

	r = c.Apply(ir.InterruptOp{
		ID: "i-2", Kind: ir.InterruptPause, Scope: boardScope(), Source: "deploy", Level: lattice.PauseGated,
	})
	require.Equal(t, ir.ReceiptOK, r.Status, r.Reason)
	assert.Equal(t, lattice.PauseGated, c.EffectivePause(boardScope()))
}

func TestResumeIsSourceAware(t *testing.T) {
	c, _ := newTestController(t)

	c.Apply(ir.InterruptOp{ID: "i-1", Kind: ir.InterruptPause, Scope: boardScope(), Source: "ops", Level: lattice.PauseGated})
	c.Apply(ir.InterruptOp{ID: "i-2", Kind: ir.InterruptPause, Scope: boardScope(), Source: "deploy", Level: lattice.PauseSoft})

	// Resuming the gated source must not drop below the soft one.
	r := c.Apply(ir.InterruptOp{ID: "i-3", Kind: ir.InterruptResume, Scope: boardScope(), Source: "ops"})
	require.Equal(t, ir.ReceiptOK, r.Status)
	assert.Equal(t, lattice.PauseSoft, c.EffectivePause(boardScope()))

	r = c.Apply(ir.InterruptOp{ID: "i-4", Kind: ir.InterruptResume, Scope: boardScope(), Source: "deploy"})
	require.Equal(t, ir.ReceiptOK, r.Status)
	assert.Equal(t, lattice.PauseRunning, c.EffectivePause(boardScope()))
}

func TestResumeWithoutPauseRejected(t *testing.T) {
	c, _ := newTestController(t)
	r := c.Apply(ir.InterruptOp{ID: "i-1", Kind: ir.InterruptResume, Scope: boardScope(), Source: "nobody"})
	assert.Equal(t, ir.ReceiptError, r.Status)
	assert.Equal(t, binder.CodeUnknownReference, r.Code)
}

func TestResumeLeavesThrottleInEffect(t *testing.T) {
	c, _ := newTestController(t)

	r := c.Apply(ir.InterruptOp{
		ID: "i-1", Kind: ir.InterruptPause, Scope: boardScope(), Source: "ops", Level: lattice.PauseSoft,
	})
	require.Equal(t, ir.ReceiptOK, r.Status, r.Reason)
	r = c.Apply(ir.InterruptOp{
		ID: "i-2", Kind: ir.InterruptThrottle, Scope: boardScope(), Source: "ops",
		Rate: lattice.RateLimitValue(1, 0),
	})
	require.Equal(t, ir.ReceiptOK, r.Status, r.Reason)

	r = c.Apply(ir.InterruptOp{ID: "i-3", Kind: ir.InterruptResume, Scope: boardScope(), Source: "ops"})
	require.Equal(t, ir.ReceiptOK, r.Status)

	assert.Equal(t, lattice.PauseRunning, c.EffectivePause(boardScope()))
	rate, err := c.EffectiveRate(boardScope())
	require.NoError(t, err)
	assert.True(t, ir.Equal(lattice.RateLimitValue(1, 0), rate), "resume must not loosen throttles")
}

func TestThrottleTightensOnly(t *testing.T) {
	c, _ := newTestController(t)

	c.Apply(ir.InterruptOp{
		ID: "i-1", Kind: ir.InterruptThrottle, Scope: boardScope(), Source: "ops",
		Rate: lattice.RateLimitValue(10, 0),
	})
	c.Apply(ir.InterruptOp{
		ID: "i-2", Kind: ir.InterruptThrottle, Scope: boardScope(), Source: "ops",
		Rate: lattice.RateLimitValue(5, 0),
	})
	c.Apply(ir.InterruptOp{
		ID: "i-3", Kind: ir.InterruptThrottle, Scope: boardScope(), Source: "ops",
		Rate: lattice.RateLimitValue(20, 0),
	})

	rate, err := c.EffectiveRate(boardScope())
	require.NoError(t, err)
	assert.True(t, ir.Equal(lattice.RateLimitValue(5, 0), rate), "a looser throttle must not relax the limit")
}

func TestThrottleWireScopeInstallsOneShim(t *testing.T) {
	c, b := newTestController(t)
	wirePlan(t, b)

	scope := ir.InterruptScope{Kind: ir.ScopeWire, Board: "board-1", Match: "feed-*"}
	r := c.Apply(ir.InterruptOp{
		ID: "i-1", Kind: ir.InterruptThrottle, Scope: scope, Source: "ops",
		Rate: lattice.RateLimitValue(10, 0),
	})
	require.Equal(t, ir.ReceiptOK, r.Status, r.Reason)
	r = c.Apply(ir.InterruptOp{
		ID: "i-2", Kind: ir.InterruptThrottle, Scope: scope, Source: "ops",
		Rate: lattice.RateLimitValue(5, 0),
	})
	require.Equal(t, ir.ReceiptOK, r.Status, r.Reason)

	g := b.Graph()
	var shims []ir.RealizedNode
	for _, n := range g.Nodes {
		for _, tag := range n.Tags {
			if tag == "aspect:RateLimit" {
				shims = append(shims, n)
			}
		}
	}
	require.Len(t, shims, 1)
	assert.True(t, ir.Equal(lattice.RateLimitValue(5, 0), shims[0].Params))
}

func TestWireScopeNoMatchRejected(t *testing.T) {
	c, b := newTestController(t)
	wirePlan(t, b)

	scope := ir.InterruptScope{Kind: ir.ScopeWire, Board: "board-1", Match: "nothing-*"}
	r := c.Apply(ir.InterruptOp{
		ID: "i-1", Kind: ir.InterruptThrottle, Scope: scope, Source: "ops",
		Rate: lattice.RateLimitValue(1, 0),
	})
	assert.Equal(t, ir.ReceiptError, r.Status)
	assert.Equal(t, binder.CodeUnknownReference, r.Code)
}

func TestIsolateIsStrongestPausePlusSink(t *testing.T) {
	c, _ := newTestController(t)

	r := c.Apply(ir.InterruptOp{
		ID: "i-1", Kind: ir.InterruptIsolate, Scope: boardScope(), Source: "ops", Sink: "quarantine",
	})
	require.Equal(t, ir.ReceiptOK, r.Status, r.Reason)
	assert.Equal(t, lattice.PauseIsolated, c.EffectivePause(boardScope()))
	assert.Equal(t, "quarantine", c.Sink(boardScope()))
}

func TestDrainSignalsSatisfy(t *testing.T) {
	c, _ := newTestController(t)

	r := c.Apply(ir.InterruptOp{
		ID: "i-1", Kind: ir.InterruptDrain, Scope: boardScope(), Source: "ops", FenceID: "f1",
	})
	require.Equal(t, ir.ReceiptOK, r.Status, r.Reason)

	status, err := c.CheckDrain(boardScope())
	require.NoError(t, err)
	assert.False(t, status.Satisfied)
	assert.Equal(t, []string{"f1"}, status.Pending)

	require.NoError(t, c.Signal(boardScope(), "f1"))
	status, err = c.CheckDrain(boardScope())
	require.NoError(t, err)
	assert.True(t, status.Satisfied)
}

func TestDrainTimeoutIsReported(t *testing.T) {
	now := time.Unix(1000, 0)
	c, _ := newTestController(t, WithNow(func() time.Time { return now }))

	r := c.Apply(ir.InterruptOp{
		ID: "i-1", Kind: ir.InterruptDrain, Scope: boardScope(), Source: "ops",
		FenceID: "f1", TimeoutMS: 500,
	})
	require.Equal(t, ir.ReceiptOK, r.Status, r.Reason)

	now = now.Add(time.Second)
	status, err := c.CheckDrain(boardScope())
	require.Error(t, err)
	var ft *FenceTimeout
	require.ErrorAs(t, err, &ft)
	assert.Equal(t, []string{"f1"}, ft.FenceIDs)
	assert.False(t, status.Satisfied, "a timeout is never success")
	assert.Equal(t, []string{"f1"}, status.TimedOut)
}

func TestSignalUnknownFenceRejected(t *testing.T) {
	c, _ := newTestController(t)
	c.Apply(ir.InterruptOp{ID: "i-1", Kind: ir.InterruptDrain, Scope: boardScope(), Source: "ops", FenceID: "f1"})

	err := c.Signal(boardScope(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNKNOWN_REFERENCE")
}

func TestInvalidOpRejected(t *testing.T) {
	c, _ := newTestController(t)
	r := c.Apply(ir.InterruptOp{ID: "", Kind: ir.InterruptPause, Scope: boardScope(), Source: "", Level: "bogus"})
	assert.Equal(t, ir.ReceiptError, r.Status)
	assert.Equal(t, binder.CodeSchemaViolation, r.Code)
}

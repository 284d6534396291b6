package interrupt

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/binder"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/lattice"
	"github.com/loomworks/loom/internal/sched"
)

// FenceTimeout reports fence ids that missed their drain deadline.
// A timed-out drain is surfaced as data; it is never folded into
// success.
type FenceTimeout struct {
	Scope    string
	FenceIDs []string
}

func (e *FenceTimeout) Error() string {
	return fmt.Sprintf("FENCE_TIMEOUT: scope %s fences %s", e.Scope, strings.Join(e.FenceIDs, ","))
}

// DrainStatus is the state of a scope's fence at a point in time.
type DrainStatus struct {
	Satisfied bool
	// Pending fences have neither signalled nor timed out.
	Pending []string
	// TimedOut fences missed their deadline without signalling.
	TimedOut []string
}

// scopeState is the per-scope ledger. Contributions are keyed by source
// so resume/removal is exact; effective values are always joins over the
// live contributions.
type scopeState struct {
	scope ir.InterruptScope

	pauses     map[string]ir.Value // source -> pause level
	injections map[string]ir.InjectionPoint
	rates      map[string]ir.Value // source -> rate limit
	fence      ir.Value
	signalled  map[string]bool
	deadlines  map[string]time.Time
	sink       string
}

func newScopeState(scope ir.InterruptScope) *scopeState {
	return &scopeState{
		scope:      scope,
		pauses:     make(map[string]ir.Value),
		injections: make(map[string]ir.InjectionPoint),
		rates:      make(map[string]ir.Value),
		fence:      lattice.Fence().Bottom(),
		signalled:  make(map[string]bool),
		deadlines:  make(map[string]time.Time),
	}
}

// Controller applies interrupt ops. It owns the per-scope ledgers and
// drives shim installation through the scope's binder; binder receipts
// remain the authoritative mutation record.
type Controller struct {
	mu       sync.Mutex
	catalog  *lattice.Catalog
	binder   *binder.Binder
	resolver Resolver
	logger   *slog.Logger
	clock    *sched.Clock
	now      func() time.Time

	scopes map[string]*scopeState
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithResolver overrides the wire-scope resolver.
func WithResolver(r Resolver) ControllerOption {
	return func(c *Controller) { c.resolver = r }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// WithNow overrides the wall clock, for deterministic drain tests.
func WithNow(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller driving one binder.
func NewController(catalog *lattice.Catalog, b *binder.Binder, opts ...ControllerOption) *Controller {
	c := &Controller{
		catalog:  catalog,
		binder:   b,
		resolver: GlobResolver{},
		logger:   slog.Default(),
		clock:    sched.NewClock(),
		now:      time.Now,
		scopes:   make(map[string]*scopeState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply runs one interrupt op, returning its receipt. Failed ops leave
// both the ledger and the board untouched.
func (c *Controller) Apply(op ir.InterruptOp) ir.Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.clock.Next()
	prov := ir.Provenance{Source: op.Source, Seq: seq}
	rid := ir.ReceiptID(op.ID, 0, seq)

	fail := func(code, reason string) ir.Receipt {
		c.logger.Warn("interrupt rejected", "op_id", op.ID, "kind", op.Kind, "code", code, "reason", reason)
		return ir.Receipt{ID: rid, OpID: op.ID, Status: ir.ReceiptError, Code: code, Reason: reason, Prov: prov}
	}

	if verrs := op.Validate(); len(verrs) > 0 {
		parts := make([]string, len(verrs))
		for i, e := range verrs {
			parts[i] = e.Error()
		}
		return fail(binder.CodeSchemaViolation, strings.Join(parts, "; "))
	}

	switch op.Kind {
	case ir.InterruptPause:
		return c.applyPause(op, rid, prov, op.Level, fail)

	case ir.InterruptResume:
		st := c.scope(op.Scope)
		if _, held := st.pauses[op.Source]; !held {
			return fail(binder.CodeUnknownReference, fmt.Sprintf("source %q holds no pause on scope %s", op.Source, op.Scope.Key()))
		}
		delete(st.pauses, op.Source)
		delete(st.injections, op.Source)
		c.logger.Info("resumed", "scope", op.Scope.Key(), "source", op.Source, "effective", c.effectivePauseLocked(st))
		return ir.Receipt{ID: rid, OpID: op.ID, Status: ir.ReceiptOK, Prov: prov}

	case ir.InterruptDrain:
		st := c.scope(op.Scope)
		fenceID := op.FenceID
		if fenceID == "" {
			fenceID = fmt.Sprintf("fence-%d", seq)
		}
		now := c.now()
		joined, err := lattice.Fence().Join(st.fence, lattice.FenceValue(now.UnixMilli(), fenceID))
		if err != nil {
			return fail(binder.CodeSchemaViolation, err.Error())
		}
		st.fence = joined
		if op.TimeoutMS > 0 {
			st.deadlines[fenceID] = now.Add(time.Duration(op.TimeoutMS) * time.Millisecond)
		}
		return ir.Receipt{
			ID: rid, OpID: op.ID, Status: ir.ReceiptOK, Prov: prov,
			Diffs: []ir.GraphDiff{{Kind: ir.DiffAnnotate, Note: "drain fence=" + fenceID}},
		}

	case ir.InterruptThrottle:
		lat, err := c.catalog.Resolve(lattice.NameRateLimit)
		if err != nil {
			return fail(binder.CodeUnknownReference, err.Error())
		}
		if err := lat.Validate(op.Rate); err != nil {
			return fail(binder.CodeSchemaViolation, err.Error())
		}
		diffs, err := c.installAspect(op, ir.AspectInstance{Name: "RateLimit", Params: op.Rate})
		if err != nil {
			return fail(binder.ErrCode(err), err.Error())
		}
		st := c.scope(op.Scope)
		current, ok := st.rates[op.Source]
		if !ok {
			current = lat.Bottom()
		}
		joined, err := lat.Join(current, op.Rate)
		if err != nil {
			return fail(binder.CodeSchemaViolation, err.Error())
		}
		st.rates[op.Source] = joined
		return ir.Receipt{ID: rid, OpID: op.ID, Status: ir.ReceiptOK, Diffs: diffs, Prov: prov}

	case ir.InterruptIsolate:
		r := c.applyPause(op, rid, prov, lattice.PauseIsolated, fail)
		if r.Status == ir.ReceiptOK {
			st := c.scope(op.Scope)
			st.sink = op.Sink
		}
		return r

	default:
		return fail(binder.CodeSchemaViolation, fmt.Sprintf("unknown interrupt kind %q", op.Kind))
	}
}

func (c *Controller) applyPause(op ir.InterruptOp, rid string, prov ir.Provenance, level string, fail func(code, reason string) ir.Receipt) ir.Receipt {
	if !lattice.ValidPauseLevel(level) {
		return fail(binder.CodeSchemaViolation, fmt.Sprintf("invalid pause level %q", level))
	}
	diffs, err := c.installAspect(op, ir.AspectInstance{Name: "Pause"})
	if err != nil {
		return fail(binder.ErrCode(err), err.Error())
	}

	st := c.scope(op.Scope)
	current, ok := st.pauses[op.Source]
	if !ok {
		current = lattice.Pause().Bottom()
	}
	joined, err := lattice.Pause().Join(current, ir.String(level))
	if err != nil {
		return fail(binder.CodeSchemaViolation, err.Error())
	}
	st.pauses[op.Source] = joined
	if op.Injection != "" {
		st.injections[op.Source] = op.Injection
	}
	c.logger.Info("paused", "scope", op.Scope.Key(), "source", op.Source, "effective", c.effectivePauseLocked(st))
	return ir.Receipt{ID: rid, OpID: op.ID, Status: ir.ReceiptOK, Diffs: diffs, Prov: prov}
}

// installAspect maps the interrupt scope onto binder plan ops installing
// the shim aspect. The binder composes repeat installs through the
// aspect's lattice, so two throttles always lower to one stricter shim.
func (c *Controller) installAspect(op ir.InterruptOp, aspect ir.AspectInstance) ([]ir.GraphDiff, error) {
	if c.binder == nil {
		return nil, nil
	}

	var ops []ir.PlanOp
	switch op.Scope.Kind {
	case ir.ScopeBoard:
		ops = append(ops, ir.PlanOp{
			ID: op.ID + "/board", Kind: ir.PlanInstallBoardAspect, Aspect: &aspect,
		})
	case ir.ScopeSlot:
		ops = append(ops, ir.PlanOp{
			ID: op.ID + "/slot", Kind: ir.PlanInstallSlotAspect, SlotID: op.Scope.Slot, Aspect: &aspect,
		})
	case ir.ScopeWire:
		wires, err := c.resolver.ResolveWires(c.binder.Graph(), op.Scope.Match)
		if err != nil {
			return nil, err
		}
		if len(wires) == 0 {
			return nil, &binder.BindError{
				Code:   binder.CodeUnknownReference,
				Reason: fmt.Sprintf("match %q selects no wires", op.Scope.Match),
			}
		}
		for _, wid := range wires {
			a := aspect
			ops = append(ops, ir.PlanOp{
				ID: op.ID + "/wire/" + string(wid), Kind: ir.PlanInstallPinAspect, WireID: wid, Aspect: &a,
			})
		}
	}

	receipts, err := c.binder.Apply(ir.Plan{
		BoardID: c.binder.Board().ID,
		Ops:     ops,
		Prov:    ir.Provenance{Source: op.Source},
	})
	if err != nil {
		return nil, err
	}
	var diffs []ir.GraphDiff
	for _, r := range receipts {
		if r.Status != ir.ReceiptOK {
			return nil, &binder.BindError{Code: r.Code, Reason: r.Reason}
		}
		diffs = append(diffs, r.Diffs...)
	}
	return diffs, nil
}

func (c *Controller) scope(scope ir.InterruptScope) *scopeState {
	key := scope.Key()
	st, ok := c.scopes[key]
	if !ok {
		st = newScopeState(scope)
		c.scopes[key] = st
	}
	return st
}

// EffectivePause reports the scope's current pause level: the join over
// every source's outstanding contribution, or running when none remain.
func (c *Controller) EffectivePause(scope ir.InterruptScope) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.scopes[scope.Key()]
	if !ok {
		return lattice.PauseRunning
	}
	return c.effectivePauseLocked(st)
}

func (c *Controller) effectivePauseLocked(st *scopeState) string {
	level := lattice.PauseRunning
	for _, v := range st.pauses {
		if s, ok := v.(ir.String); ok {
			level = lattice.PauseMax(level, string(s))
		}
	}
	return level
}

// EffectiveRate reports the scope's current rate limit: the join over
// every source's throttle, or Null when unconstrained.
func (c *Controller) EffectiveRate(scope ir.InterruptScope) (ir.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.scopes[scope.Key()]
	if !ok {
		return ir.Null{}, nil
	}
	lat, err := c.catalog.Resolve(lattice.NameRateLimit)
	if err != nil {
		return nil, err
	}
	effective := lat.Bottom()
	for _, v := range st.rates {
		effective, err = lat.Join(effective, v)
		if err != nil {
			return nil, err
		}
	}
	return effective, nil
}

// Sink reports the quarantine sink for an isolated scope; empty means
// the null sink.
func (c *Controller) Sink(scope ir.InterruptScope) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.scopes[scope.Key()]; ok {
		return st.sink
	}
	return ""
}

// Signal marks one fence id complete on a scope.
func (c *Controller) Signal(scope ir.InterruptScope, fenceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.scopes[scope.Key()]
	if !ok {
		return fmt.Errorf("UNKNOWN_REFERENCE: scope %s has no fence", scope.Key())
	}
	ids, err := lattice.FenceIDs(st.fence)
	if err != nil {
		return err
	}
	if !slices.Contains(ids, fenceID) {
		return fmt.Errorf("UNKNOWN_REFERENCE: fence %q not tracked on scope %s", fenceID, scope.Key())
	}
	st.signalled[fenceID] = true
	return nil
}

// CheckDrain reports the drain state of a scope. When every tracked
// fence has signalled the drain is satisfied. Fences past their deadline
// are returned both in the status and as a FenceTimeout error, so a
// timeout can never be mistaken for completion.
func (c *Controller) CheckDrain(scope ir.InterruptScope) (DrainStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.scopes[scope.Key()]
	if !ok {
		return DrainStatus{Satisfied: true}, nil
	}
	ids, err := lattice.FenceIDs(st.fence)
	if err != nil {
		return DrainStatus{}, err
	}

	now := c.now()
	var status DrainStatus
	for _, id := range ids {
		if st.signalled[id] {
			continue
		}
		if deadline, has := st.deadlines[id]; has && now.After(deadline) {
			status.TimedOut = append(status.TimedOut, id)
			continue
		}
		status.Pending = append(status.Pending, id)
	}
	status.Satisfied = len(status.Pending) == 0 && len(status.TimedOut) == 0

	if len(status.TimedOut) > 0 {
		return status, &FenceTimeout{Scope: scope.Key(), FenceIDs: status.TimedOut}
	}
	return status, nil
}

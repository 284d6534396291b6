package binder

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/lattice"
	"github.com/loomworks/loom/internal/sched"
)

// Journal persists applied mutations. Persistence failures never fail a
// plan op: the in-memory board is authoritative, journal errors are
// logged and application continues.
type Journal interface {
	SaveBoard(board *ir.Board, hash string) error
	AppendReceipt(boardID ir.BoardID, version int64, r ir.Receipt) error
}

// Binder is the only writer of its board. Plans are applied one op at a
// time under a single lock; each op yields exactly one receipt, and a
// failed op changes nothing. The realized graph returned by Graph is a
// pure projection and safe for unrestricted concurrent reads.
type Binder struct {
	mu       sync.Mutex
	catalog  *lattice.Catalog
	manifest *AspectManifest
	logger   *slog.Logger
	clock    *sched.Clock
	tokens   TokenGenerator
	journal  Journal

	board *ir.Board
	hash  string
	graph *ir.RealizedGraph
	// applied records op ids already applied successfully; two ops with
	// the same id are the same op, so a replay is an ok no-op.
	applied map[string]bool
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithJournal attaches a persistence journal.
func WithJournal(j Journal) BinderOption {
	return func(b *Binder) { b.journal = j }
}

// WithTokens overrides the provenance token generator.
func WithTokens(g TokenGenerator) BinderOption {
	return func(b *Binder) { b.tokens = g }
}

// WithBinderLogger overrides the default logger.
func WithBinderLogger(l *slog.Logger) BinderOption {
	return func(b *Binder) { b.logger = l }
}

// WithClock overrides the logical clock, for deterministic receipt ids.
func WithClock(c *sched.Clock) BinderOption {
	return func(b *Binder) { b.clock = c }
}

// New creates a binder owning a fresh board.
func New(boardID ir.BoardID, catalog *lattice.Catalog, manifest *AspectManifest, opts ...BinderOption) (*Binder, error) {
	b := &Binder{
		catalog:  catalog,
		manifest: manifest,
		logger:   slog.Default(),
		clock:    sched.NewClock(),
		tokens:   UUIDGenerator{},
		board:    ir.NewBoard(boardID),
		applied:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}

	hash, err := b.board.Hash(manifest.Sorter())
	if err != nil {
		return nil, err
	}
	graph, err := Lower(b.board, catalog, manifest)
	if err != nil {
		return nil, err
	}
	b.hash = hash
	b.graph = graph
	return b, nil
}

// Restore creates a binder resuming ownership of a persisted board.
func Restore(board *ir.Board, catalog *lattice.Catalog, manifest *AspectManifest, opts ...BinderOption) (*Binder, error) {
	b, err := New(board.ID, catalog, manifest, opts...)
	if err != nil {
		return nil, err
	}
	restored := board.Clone()
	hash, err := restored.Hash(manifest.Sorter())
	if err != nil {
		return nil, err
	}
	graph, err := Lower(restored, catalog, manifest)
	if err != nil {
		return nil, err
	}
	stampProvenance(graph, nil, restored.Prov)
	b.board = restored
	b.hash = hash
	b.graph = graph
	return b, nil
}

// Board returns a clone of the current board.
func (b *Binder) Board() *ir.Board {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.board.Clone()
}

// Hash returns the current board content hash.
func (b *Binder) Hash() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hash
}

// Graph returns a clone of the current realized graph.
func (b *Binder) Graph() *ir.RealizedGraph {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.graph.Clone()
}

// Apply runs a plan batch. Ops apply in order, each producing one
// receipt; a failing op is recorded and skipped, it never aborts the
// batch or rolls back earlier ops. The returned slice has one receipt
// per op, in op order.
func (b *Binder) Apply(plan ir.Plan) ([]ir.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if plan.BoardID != b.board.ID {
		return nil, unknownf("plan targets board %q, binder owns %q", plan.BoardID, b.board.ID)
	}

	prov := plan.Prov
	if prov.Token == "" {
		token, err := b.tokens.NewToken()
		if err != nil {
			return nil, fmt.Errorf("provenance token: %w", err)
		}
		prov.Token = token
	}

	receipts := make([]ir.Receipt, 0, len(plan.Ops))
	for i := range plan.Ops {
		r := b.applyOp(plan.Ops[i], prov)
		receipts = append(receipts, r)
		b.graph.Receipts = append(b.graph.Receipts, r)

		if r.Status == ir.ReceiptOK {
			b.logger.Debug("applied op",
				"board_id", b.board.ID, "op_id", r.OpID, "kind", plan.Ops[i].Kind, "diffs", len(r.Diffs))
		} else {
			b.logger.Warn("op rejected",
				"board_id", b.board.ID, "op_id", r.OpID, "kind", plan.Ops[i].Kind, "code", r.Code, "reason", r.Reason)
		}
		if b.journal != nil {
			if err := b.journal.AppendReceipt(b.board.ID, b.board.Version, r); err != nil {
				b.logger.Warn("journal receipt failed", "board_id", b.board.ID, "op_id", r.OpID, "error", err)
			}
		}
	}
	return receipts, nil
}

func (b *Binder) applyOp(op ir.PlanOp, prov ir.Provenance) ir.Receipt {
	prov.Seq = b.clock.Next()
	rid := ir.ReceiptID(op.ID, b.board.Version, prov.Seq)

	fail := func(err error) ir.Receipt {
		return ir.Receipt{
			ID: rid, OpID: op.ID, Status: ir.ReceiptError,
			Code: ErrCode(err), Reason: err.Error(), Prov: prov,
		}
	}
	ok := func(diffs []ir.GraphDiff) ir.Receipt {
		return ir.Receipt{ID: rid, OpID: op.ID, Status: ir.ReceiptOK, Diffs: diffs, Prov: prov}
	}

	if verrs := op.Validate(); len(verrs) > 0 {
		return fail(schemaf("%s", joinValidationErrors(verrs)))
	}

	switch op.Kind {
	case ir.PlanValidate, ir.PlanBake:
		// Read-only ops run fresh every time, no id dedup.
	default:
		if b.applied[op.ID] {
			return ok(nil)
		}
	}

	switch op.Kind {
	case ir.PlanValidate:
		// Dry run against the live board; never mutates.
		if verrs := b.board.Validate(); len(verrs) > 0 {
			return fail(validationf("%s", joinValidationErrors(verrs)))
		}
		return ok(nil)

	case ir.PlanBake:
		// Freeze the current shape under its content address.
		note := fmt.Sprintf("bake board=%s version=%d hash=%s manifest=%d",
			b.board.ID, b.board.Version, b.hash, b.manifest.Version())
		if b.journal != nil {
			if err := b.journal.SaveBoard(b.board, b.hash); err != nil {
				b.logger.Warn("journal bake failed", "board_id", b.board.ID, "error", err)
			}
		}
		return ok([]ir.GraphDiff{{Kind: ir.DiffAnnotate, Note: note}})
	}

	candidate := b.board.Clone()
	if err := b.mutate(candidate, op); err != nil {
		return fail(err)
	}
	if verrs := candidate.Validate(); len(verrs) > 0 {
		return fail(schemaf("%s", joinValidationErrors(verrs)))
	}

	newHash, err := candidate.Hash(b.manifest.Sorter())
	if err != nil {
		return fail(err)
	}
	if newHash == b.hash {
		// Idempotent no-op: same shape, same hash, empty diff.
		b.applied[op.ID] = true
		return ok(nil)
	}

	candidate.Version = b.board.Version + 1
	candidate.Prov = prov
	lowered, err := Lower(candidate, b.catalog, b.manifest)
	if err != nil {
		return fail(err)
	}
	stampProvenance(lowered, b.graph, prov)
	diffs := Diff(b.graph, lowered)
	lowered.Receipts = b.graph.Receipts

	b.board = candidate
	b.hash = newHash
	b.graph = lowered
	b.applied[op.ID] = true

	if b.journal != nil {
		if err := b.journal.SaveBoard(candidate, newHash); err != nil {
			b.logger.Warn("journal board failed", "board_id", candidate.ID, "version", candidate.Version, "error", err)
		}
	}
	return ok(diffs)
}

// stampProvenance sets node provenance on a freshly lowered graph:
// nodes whose shape survives from prev keep their original stamp, new
// or reshaped nodes get the current batch's.
func stampProvenance(g, prev *ir.RealizedGraph, prov ir.Provenance) {
	for id, n := range g.Nodes {
		if prev != nil {
			if old, ok := prev.Nodes[id]; ok && nodeShapeEqual(old, n) {
				n.Prov = old.Prov
				g.Nodes[id] = n
				continue
			}
		}
		n.Prov = prov
		g.Nodes[id] = n
	}
}

// mutate applies one op to the candidate board. Candidate is a clone;
// an error leaves the live board untouched.
func (b *Binder) mutate(board *ir.Board, op ir.PlanOp) error {
	switch op.Kind {
	case ir.PlanDeclareSlot:
		if _, exists := board.Slots[op.Slot.ID]; !exists {
			if board.Policy != nil && board.Policy.MaxSlots > 0 && len(board.Slots) >= board.Policy.MaxSlots {
				return policyf("slot budget %d exhausted", board.Policy.MaxSlots)
			}
		}
		if err := b.checkReplicaPolicy(op.Slot.Policy); err != nil {
			return err
		}
		board.Slots[op.Slot.ID] = *op.Slot
		return nil

	case ir.PlanSetSlotMode:
		decl, ok := board.Slots[op.SlotID]
		if !ok {
			return unknownf("slot %q", op.SlotID)
		}
		if err := b.checkReplicaPolicy(*op.Mode); err != nil {
			return err
		}
		decl.Policy = *op.Mode
		board.Slots[op.SlotID] = decl
		return nil

	case ir.PlanMount:
		decl, ok := board.Slots[op.SlotID]
		if !ok {
			return unknownf("slot %q", op.SlotID)
		}
		if board.Policy != nil {
			for _, trait := range board.Policy.RequiredTraits {
				if !slices.Contains(op.Traits, trait) {
					return policyf("gadget %q missing required trait %q", op.Gadget, trait)
				}
			}
		}
		occupants := board.Occupants[op.SlotID]
		if slices.Contains(occupants, op.Gadget) {
			board.Pinouts[op.Gadget] = *op.Pinout
			return nil
		}
		if decl.Capacity > 0 && len(occupants) >= decl.Capacity {
			return policyf("slot %q at capacity %d", op.SlotID, decl.Capacity)
		}
		board.Pinouts[op.Gadget] = *op.Pinout
		board.Occupants[op.SlotID] = append(occupants, op.Gadget)
		return nil

	case ir.PlanUnmount:
		occupants, ok := board.Occupants[op.SlotID]
		if !ok {
			return unknownf("slot %q has no occupants", op.SlotID)
		}
		idx := slices.Index(occupants, op.Gadget)
		if idx < 0 {
			return unknownf("gadget %q not mounted in slot %q", op.Gadget, op.SlotID)
		}
		board.Occupants[op.SlotID] = slices.Delete(occupants, idx, idx+1)
		if len(board.Occupants[op.SlotID]) == 0 {
			delete(board.Occupants, op.SlotID)
		}
		return nil

	case ir.PlanAddWire:
		if existing, exists := board.Wires[op.Wire.ID]; exists {
			if wireSpecEqual(existing, *op.Wire) {
				return nil
			}
			return schemaf("wire %q already exists with a different spec, use update_wire", op.Wire.ID)
		}
		if board.Policy != nil && board.Policy.MaxWires > 0 && len(board.Wires) >= board.Policy.MaxWires {
			return policyf("wire budget %d exhausted", board.Policy.MaxWires)
		}
		return b.putWire(board, *op.Wire)

	case ir.PlanUpdateWire:
		if _, exists := board.Wires[op.Wire.ID]; !exists {
			return unknownf("wire %q", op.Wire.ID)
		}
		return b.putWire(board, *op.Wire)

	case ir.PlanRemoveWire:
		if _, exists := board.Wires[op.WireID]; !exists {
			return unknownf("wire %q", op.WireID)
		}
		delete(board.Wires, op.WireID)
		pinPrefix := "pin:" + string(op.WireID) + ":"
		for scope := range board.Aspects {
			if strings.HasPrefix(scope, pinPrefix) {
				delete(board.Aspects, scope)
			}
		}
		return nil

	case ir.PlanWeaveWires:
		// All wires are checked before any is written; the weave is
		// atomic within the op.
		newCount := 0
		for _, w := range op.Wires {
			if err := b.checkWire(board, w); err != nil {
				return fmt.Errorf("wire %q: %w", w.ID, err)
			}
			if _, exists := board.Wires[w.ID]; !exists {
				newCount++
			}
		}
		if board.Policy != nil && board.Policy.MaxWires > 0 && len(board.Wires)+newCount > board.Policy.MaxWires {
			return policyf("wire budget %d exhausted", board.Policy.MaxWires)
		}
		for _, w := range op.Wires {
			board.Wires[w.ID] = w
		}
		return nil

	case ir.PlanInstallPinAspect:
		if _, exists := board.Wires[op.WireID]; !exists {
			return unknownf("wire %q", op.WireID)
		}
		if err := b.checkAspect(board.Policy, *op.Aspect); err != nil {
			return err
		}
		if op.Pin != "" {
			scope := "pin:" + string(op.WireID) + ":" + op.Pin
			board.Aspects[scope] = appendAspect(board.Aspects[scope], *op.Aspect)
			return nil
		}
		spec := board.Wires[op.WireID]
		spec.Aspects = appendAspect(spec.Aspects, *op.Aspect)
		board.Wires[op.WireID] = spec
		return nil

	case ir.PlanInstallSlotAspect:
		if _, exists := board.Slots[op.SlotID]; !exists {
			return unknownf("slot %q", op.SlotID)
		}
		if err := b.checkAspect(board.Policy, *op.Aspect); err != nil {
			return err
		}
		scope := "slot:" + string(op.SlotID)
		board.Aspects[scope] = appendAspect(board.Aspects[scope], *op.Aspect)
		return nil

	case ir.PlanInstallBoardAspect:
		if err := b.checkAspect(board.Policy, *op.Aspect); err != nil {
			return err
		}
		board.Aspects["board"] = appendAspect(board.Aspects["board"], *op.Aspect)
		return nil

	case ir.PlanInstallBinderAspect:
		if err := b.checkAspect(board.Policy, *op.Aspect); err != nil {
			return err
		}
		board.Aspects["binder"] = appendAspect(board.Aspects["binder"], *op.Aspect)
		return nil

	case ir.PlanSetPolicy:
		p := *op.Policy
		p.RequiredTraits = slices.Clone(op.Policy.RequiredTraits)
		p.AllowedAspects = slices.Clone(op.Policy.AllowedAspects)
		board.Policy = &p
		return nil

	default:
		return schemaf("unknown plan kind %q", op.Kind)
	}
}

func (b *Binder) checkReplicaPolicy(p ir.ReplicaPolicy) error {
	if !ir.ValidReplicaModes[p.Mode] {
		return schemaf("invalid replica mode %q", p.Mode)
	}
	if p.Mode == ir.ReplicaReduce {
		if p.Lattice == "" {
			return schemaf("reduce mode requires a lattice name")
		}
		if _, err := b.catalog.Resolve(p.Lattice); err != nil {
			return err
		}
	}
	if p.Mode == ir.ReplicaQuorum && p.Quorum <= 0 {
		return schemaf("quorum mode requires a positive quorum")
	}
	return nil
}

func (b *Binder) checkWire(board *ir.Board, w ir.WireSpec) error {
	if err := b.checkEndpoint(board, w.From); err != nil {
		return err
	}
	if err := b.checkEndpoint(board, w.To); err != nil {
		return err
	}
	for _, a := range w.Aspects {
		if err := b.checkAspect(board.Policy, a); err != nil {
			return err
		}
	}
	return nil
}

func (b *Binder) checkEndpoint(board *ir.Board, e ir.WireEndpoint) error {
	if !e.Valid() {
		return schemaf("endpoint must set exactly one of slot/gadget")
	}
	if e.Slot != "" {
		if _, ok := board.Slots[e.Slot]; !ok {
			return unknownf("slot %q", e.Slot)
		}
	}
	if e.Gadget != "" {
		if _, ok := board.Pinouts[e.Gadget]; !ok {
			return unknownf("gadget %q has no declared pinout", e.Gadget)
		}
	}
	return nil
}

func (b *Binder) checkAspect(policy *ir.BinderPolicy, a ir.AspectInstance) error {
	if !policy.AspectAllowed(a.Name) {
		return policyf("aspect %q not in allowed set", a.Name)
	}
	latName := b.manifest.ParamLattice(a)
	if latName == "" {
		return unknownf("aspect %q has no composition lattice", a.Name)
	}
	lat, err := b.catalog.Resolve(latName)
	if err != nil {
		return err
	}
	if a.Params != nil {
		if err := lat.Validate(a.Params); err != nil {
			return err
		}
	}
	return nil
}

func (b *Binder) putWire(board *ir.Board, w ir.WireSpec) error {
	if err := b.checkWire(board, w); err != nil {
		return err
	}
	board.Wires[w.ID] = w
	return nil
}

// appendAspect adds an installation to a bag, skipping exact duplicates
// so re-applying an identical install stays a no-op. Differing params
// for the same aspect are kept side by side; lowering composes them via
// the declared lattice.
func appendAspect(bag []ir.AspectInstance, a ir.AspectInstance) []ir.AspectInstance {
	for _, existing := range bag {
		if aspectEqual(existing, a) {
			return bag
		}
	}
	return append(bag, a)
}

func aspectEqual(a, b ir.AspectInstance) bool {
	if a.Name != b.Name || a.Lattice != b.Lattice {
		return false
	}
	return ir.Equal(aspectParams(a), aspectParams(b))
}

func aspectParams(a ir.AspectInstance) ir.Value {
	if a.Params == nil {
		return ir.Null{}
	}
	return a.Params
}

func wireSpecEqual(a, b ir.WireSpec) bool {
	if a.ID != b.ID || a.From != b.From || a.To != b.To || len(a.Aspects) != len(b.Aspects) {
		return false
	}
	for i := range a.Aspects {
		if !aspectEqual(a.Aspects[i], b.Aspects[i]) {
			return false
		}
	}
	return true
}

func joinValidationErrors(errs []ir.ValidationError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

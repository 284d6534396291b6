package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Typed identifiers. Kept distinct so a slot id can never be passed where
// a gadget id is expected.
type (
	// BoardID identifies a board (desired-state spec).
	BoardID string
	// SlotID identifies a declared slot on a board.
	SlotID string
	// GadgetID identifies a gadget (component) instance.
	GadgetID string
	// WireID identifies a wire spec on a board.
	WireID string
)

// ReplicaMode governs how multiple occupants of one slot compose.
type ReplicaMode string

const (
	// ReplicaReduce merges occupant outputs via a named lattice join.
	ReplicaReduce ReplicaMode = "reduce"
	// ReplicaAny routes to any single healthy occupant.
	ReplicaAny ReplicaMode = "any"
	// ReplicaHedge issues to all occupants, first answer wins.
	ReplicaHedge ReplicaMode = "hedge"
	// ReplicaQuorum requires agreement from a quorum of occupants.
	ReplicaQuorum ReplicaMode = "quorum"
	// ReplicaVote takes the majority answer.
	ReplicaVote ReplicaMode = "vote"
	// ReplicaAll requires every occupant to answer.
	ReplicaAll ReplicaMode = "all"
)

// ValidReplicaModes is the closed set of replica modes.
var ValidReplicaModes = map[ReplicaMode]bool{
	ReplicaReduce: true,
	ReplicaAny:    true,
	ReplicaHedge:  true,
	ReplicaQuorum: true,
	ReplicaVote:   true,
	ReplicaAll:    true,
}

// ReplicaPolicy declares how a slot composes its occupants.
type ReplicaPolicy struct {
	Mode ReplicaMode `json:"mode"`
	// Lattice names the reduction lattice. Required for mode "reduce".
	Lattice string `json:"lattice,omitempty"`
	// Quorum is the agreement threshold. Required for mode "quorum".
	Quorum int `json:"quorum,omitempty"`
}

// SlotDecl declares a mount point on a board.
type SlotDecl struct {
	ID SlotID `json:"id"`
	// Pinout names the pinout occupants must expose.
	Pinout string `json:"pinout"`
	// Capacity bounds the occupant count. Zero means unbounded.
	Capacity int           `json:"capacity,omitempty"`
	Policy   ReplicaPolicy `json:"policy"`
}

// Pinout declares a gadget's named input and output pins.
type Pinout struct {
	Inputs  []string `json:"inputs,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
}

// WireEndpoint addresses one side of a wire. Exactly one of Slot or Gadget
// must be set; Pin optionally names the pin on that side.
type WireEndpoint struct {
	Slot   SlotID   `json:"slot,omitempty"`
	Gadget GadgetID `json:"gadget,omitempty"`
	Pin    string   `json:"pin,omitempty"`
}

// Valid reports whether exactly one of Slot/Gadget is set.
func (e WireEndpoint) Valid() bool {
	return (e.Slot != "") != (e.Gadget != "")
}

// AspectInstance is one aspect installation with its parameters.
// Aspect bags on wires are UNORDERED - canonical order is resolved from a
// registry manifest at lowering time, never from IR position.
type AspectInstance struct {
	Name   string `json:"name"`
	Params Object `json:"params,omitempty"`
	// Lattice names the parameter-composition lattice. Two installations of
	// the same aspect on the same scope join their params through it.
	Lattice string `json:"lattice,omitempty"`
}

// WireSpec declares a connection between two endpoints, carrying an
// unordered bag of aspect installations.
type WireSpec struct {
	ID      WireID           `json:"id"`
	From    WireEndpoint     `json:"from"`
	To      WireEndpoint     `json:"to"`
	Aspects []AspectInstance `json:"aspects,omitempty"`
}

// BinderPolicy constrains what plans a binder will accept.
type BinderPolicy struct {
	// RequiredTraits must all be present on a gadget's declared traits
	// before it may be mounted.
	RequiredTraits []string `json:"required_traits,omitempty"`
	// AllowedAspects is an ACL of installable aspect names.
	// Empty means all aspects are allowed.
	AllowedAspects []string `json:"allowed_aspects,omitempty"`
	// MaxSlots / MaxWires are budget ceilings. Zero means unlimited.
	MaxSlots int `json:"max_slots,omitempty"`
	MaxWires int `json:"max_wires,omitempty"`
}

// AspectAllowed checks the aspect ACL.
func (p *BinderPolicy) AspectAllowed(name string) bool {
	if p == nil || len(p.AllowedAspects) == 0 {
		return true
	}
	return slices.Contains(p.AllowedAspects, name)
}

// Provenance records where a mutation came from.
type Provenance struct {
	// Token correlates every receipt and realized node produced by one plan
	// batch. Tokens are inherited, never regenerated mid-application.
	Token string `json:"token,omitempty"`
	// Source names the submitting principal or subsystem.
	Source string `json:"source,omitempty"`
	// Seq is the binder's logical clock at stamping time.
	Seq int64 `json:"seq,omitempty"`
}

// Board is the versioned, content-addressable desired-state specification.
// A Board is a pure description: it holds no live gadgets and no contact
// content. Exactly one Binder mutates a given board id.
type Board struct {
	ID      BoardID `json:"id"`
	Version int64   `json:"version"`

	Slots     map[SlotID]SlotDecl         `json:"slots,omitempty"`
	Occupants map[SlotID][]GadgetID       `json:"occupants,omitempty"`
	Wires     map[WireID]WireSpec         `json:"wires,omitempty"`
	Pinouts   map[GadgetID]Pinout         `json:"pinouts,omitempty"`
	Policy    *BinderPolicy               `json:"policy,omitempty"`
	Aspects   map[string][]AspectInstance `json:"board_aspects,omitempty"` // scope tag -> installs
	Prov      Provenance                  `json:"prov"`
}

// NewBoard creates an empty board at version 0.
func NewBoard(id BoardID) *Board {
	return &Board{
		ID:        id,
		Slots:     make(map[SlotID]SlotDecl),
		Occupants: make(map[SlotID][]GadgetID),
		Wires:     make(map[WireID]WireSpec),
		Pinouts:   make(map[GadgetID]Pinout),
		Aspects:   make(map[string][]AspectInstance),
	}
}

// Clone returns a deep copy of the board.
// The binder clones before applying a batch so a rejected op can never
// leave a half-mutated board behind.
func (b *Board) Clone() *Board {
	out := &Board{
		ID:      b.ID,
		Version: b.Version,
		Prov:    b.Prov,
	}
	out.Slots = make(map[SlotID]SlotDecl, len(b.Slots))
	for k, v := range b.Slots {
		out.Slots[k] = v
	}
	out.Occupants = make(map[SlotID][]GadgetID, len(b.Occupants))
	for k, v := range b.Occupants {
		out.Occupants[k] = slices.Clone(v)
	}
	out.Wires = make(map[WireID]WireSpec, len(b.Wires))
	for k, v := range b.Wires {
		out.Wires[k] = cloneWireSpec(v)
	}
	out.Pinouts = make(map[GadgetID]Pinout, len(b.Pinouts))
	for k, v := range b.Pinouts {
		out.Pinouts[k] = Pinout{Inputs: slices.Clone(v.Inputs), Outputs: slices.Clone(v.Outputs)}
	}
	out.Aspects = make(map[string][]AspectInstance, len(b.Aspects))
	for k, v := range b.Aspects {
		installs := make([]AspectInstance, len(v))
		for i, a := range v {
			installs[i] = cloneAspect(a)
		}
		out.Aspects[k] = installs
	}
	if b.Policy != nil {
		p := *b.Policy
		p.RequiredTraits = slices.Clone(b.Policy.RequiredTraits)
		p.AllowedAspects = slices.Clone(b.Policy.AllowedAspects)
		out.Policy = &p
	}
	return out
}

func cloneWireSpec(w WireSpec) WireSpec {
	aspects := make([]AspectInstance, len(w.Aspects))
	for i, a := range w.Aspects {
		aspects[i] = cloneAspect(a)
	}
	w.Aspects = aspects
	return w
}

func cloneAspect(a AspectInstance) AspectInstance {
	if a.Params != nil {
		a.Params = Clone(a.Params).(Object)
	}
	return a
}

// ValidationError reports one structural problem, with a field path.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks board well-formedness. Returns all errors, not fail-fast.
//
// Checked invariants:
//   - every map key equals the contained entity's own id
//   - wire endpoints set exactly one of slot/gadget
//   - wires and occupants reference declared slots / known pinouts
//   - replica modes are from the closed set; reduce names a lattice;
//     quorum carries a positive threshold
//   - slot capacity is respected by the occupant list
func (b *Board) Validate() []ValidationError {
	var errs []ValidationError

	if b.ID == "" {
		errs = append(errs, ValidationError{Field: "id", Message: "board id is required"})
	}

	for sid, decl := range b.Slots {
		path := fmt.Sprintf("slots[%s]", sid)
		if decl.ID != sid {
			errs = append(errs, ValidationError{
				Field:   path + ".id",
				Message: fmt.Sprintf("key %q does not match declared id %q", sid, decl.ID),
			})
		}
		if !ValidReplicaModes[decl.Policy.Mode] {
			errs = append(errs, ValidationError{
				Field:   path + ".policy.mode",
				Message: fmt.Sprintf("invalid replica mode %q", decl.Policy.Mode),
			})
		}
		if decl.Policy.Mode == ReplicaReduce && decl.Policy.Lattice == "" {
			errs = append(errs, ValidationError{
				Field:   path + ".policy.lattice",
				Message: "reduce mode requires a lattice name",
			})
		}
		if decl.Policy.Mode == ReplicaQuorum && decl.Policy.Quorum <= 0 {
			errs = append(errs, ValidationError{
				Field:   path + ".policy.quorum",
				Message: "quorum mode requires a positive quorum",
			})
		}
	}

	for sid, occupants := range b.Occupants {
		path := fmt.Sprintf("occupants[%s]", sid)
		decl, ok := b.Slots[sid]
		if !ok {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: "occupants reference an undeclared slot",
			})
			continue
		}
		if decl.Capacity > 0 && len(occupants) > decl.Capacity {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("%d occupants exceed capacity %d", len(occupants), decl.Capacity),
			})
		}
		for i, gid := range occupants {
			if _, ok := b.Pinouts[gid]; !ok {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s[%d]", path, i),
					Message: fmt.Sprintf("occupant %q has no declared pinout", gid),
				})
			}
		}
	}

	for wid, spec := range b.Wires {
		path := fmt.Sprintf("wires[%s]", wid)
		if spec.ID != wid {
			errs = append(errs, ValidationError{
				Field:   path + ".id",
				Message: fmt.Sprintf("key %q does not match declared id %q", wid, spec.ID),
			})
		}
		errs = append(errs, b.validateEndpoint(path+".from", spec.From)...)
		errs = append(errs, b.validateEndpoint(path+".to", spec.To)...)
		for i, a := range spec.Aspects {
			if a.Name == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.aspects[%d].name", path, i),
					Message: "aspect name is required",
				})
			}
		}
	}

	return errs
}

func (b *Board) validateEndpoint(path string, e WireEndpoint) []ValidationError {
	if !e.Valid() {
		return []ValidationError{{
			Field:   path,
			Message: "exactly one of slot/gadget must be set",
		}}
	}
	if e.Slot != "" {
		if _, ok := b.Slots[e.Slot]; !ok {
			return []ValidationError{{
				Field:   path + ".slot",
				Message: fmt.Sprintf("unknown slot %q", e.Slot),
			}}
		}
	}
	if e.Gadget != "" {
		if _, ok := b.Pinouts[e.Gadget]; !ok {
			return []ValidationError{{
				Field:   path + ".gadget",
				Message: fmt.Sprintf("gadget %q has no declared pinout", e.Gadget),
			}}
		}
	}
	return nil
}

// AspectSorter orders an aspect bag into its canonical sequence.
// The binder supplies a manifest-backed sorter; DefaultAspectSort is the
// manifest-free fallback used for IR-level hashing in tests.
type AspectSorter func(aspects []AspectInstance) ([]AspectInstance, error)

// DefaultAspectSort orders aspects by name, then by params hash.
// Deterministic but priority-blind; lowering always uses the manifest.
func DefaultAspectSort(aspects []AspectInstance) ([]AspectInstance, error) {
	out := slices.Clone(aspects)
	keys := make(map[int]string, len(out))
	for i, a := range out {
		ph, err := ParamsHash(a.Params)
		if err != nil {
			return nil, fmt.Errorf("aspect %q: %w", a.Name, err)
		}
		keys[i] = a.Name + "\x00" + ph
	}
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int {
		return strings.Compare(keys[a], keys[b])
	})
	sorted := make([]AspectInstance, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted, nil
}

// Hash computes the board's content address: canonical normalization
// (stable key order, canonical aspect order via sort) followed by a
// domain-separated SHA-256. Logically identical boards hash identically
// regardless of map iteration or aspect arrival order.
//
// Version and Prov are excluded: the hash identifies the board's shape,
// not its mutation history. Two boards that lower to the same realized
// graph share a hash.
func (b *Board) Hash(sort AspectSorter) (string, error) {
	if sort == nil {
		sort = DefaultAspectSort
	}
	obj, err := b.canonicalObject(sort)
	if err != nil {
		return "", fmt.Errorf("board %s: %w", b.ID, err)
	}
	return ContentHash(DomainBoard, obj)
}

// canonicalObject lowers the board into a plain Object for hashing.
func (b *Board) canonicalObject(sort AspectSorter) (Object, error) {
	slots := Object{}
	for sid, decl := range b.Slots {
		slot := Object{
			"pinout": String(decl.Pinout),
			"mode":   String(decl.Policy.Mode),
		}
		if decl.Capacity > 0 {
			slot["capacity"] = Int(decl.Capacity)
		}
		if decl.Policy.Lattice != "" {
			slot["lattice"] = String(decl.Policy.Lattice)
		}
		if decl.Policy.Quorum > 0 {
			slot["quorum"] = Int(decl.Policy.Quorum)
		}
		slots[string(sid)] = slot
	}

	occupants := Object{}
	for sid, gids := range b.Occupants {
		sorted := slices.Clone(gids)
		slices.Sort(sorted)
		arr := make(Array, len(sorted))
		for i, g := range sorted {
			arr[i] = String(g)
		}
		occupants[string(sid)] = arr
	}

	wires := Object{}
	for wid, spec := range b.Wires {
		sortedAspects, err := sort(spec.Aspects)
		if err != nil {
			return nil, fmt.Errorf("wire %s: %w", wid, err)
		}
		aspectArr := make(Array, len(sortedAspects))
		for i, a := range sortedAspects {
			entry := Object{"name": String(a.Name)}
			if len(a.Params) > 0 {
				entry["params"] = a.Params
			}
			if a.Lattice != "" {
				entry["lattice"] = String(a.Lattice)
			}
			aspectArr[i] = entry
		}
		wire := Object{
			"from": endpointObject(spec.From),
			"to":   endpointObject(spec.To),
		}
		if len(aspectArr) > 0 {
			wire["aspects"] = aspectArr
		}
		wires[string(wid)] = wire
	}

	pinouts := Object{}
	for gid, p := range b.Pinouts {
		pinouts[string(gid)] = pinoutObject(p)
	}

	obj := Object{
		"id":        String(b.ID),
		"slots":     slots,
		"occupants": occupants,
		"wires":     wires,
		"pinouts":   pinouts,
	}

	if len(b.Aspects) > 0 {
		scoped := Object{}
		for scope, installs := range b.Aspects {
			sorted, err := sort(installs)
			if err != nil {
				return nil, fmt.Errorf("board aspects %q: %w", scope, err)
			}
			arr := make(Array, len(sorted))
			for i, a := range sorted {
				entry := Object{"name": String(a.Name)}
				if len(a.Params) > 0 {
					entry["params"] = a.Params
				}
				arr[i] = entry
			}
			scoped[scope] = arr
		}
		obj["board_aspects"] = scoped
	}

	if b.Policy != nil {
		policy := Object{}
		if len(b.Policy.RequiredTraits) > 0 {
			policy["required_traits"] = stringArray(b.Policy.RequiredTraits)
		}
		if len(b.Policy.AllowedAspects) > 0 {
			policy["allowed_aspects"] = stringArray(b.Policy.AllowedAspects)
		}
		if b.Policy.MaxSlots > 0 {
			policy["max_slots"] = Int(b.Policy.MaxSlots)
		}
		if b.Policy.MaxWires > 0 {
			policy["max_wires"] = Int(b.Policy.MaxWires)
		}
		obj["policy"] = policy
	}

	return obj, nil
}

func endpointObject(e WireEndpoint) Object {
	obj := Object{}
	if e.Slot != "" {
		obj["slot"] = String(e.Slot)
	}
	if e.Gadget != "" {
		obj["gadget"] = String(e.Gadget)
	}
	if e.Pin != "" {
		obj["pin"] = String(e.Pin)
	}
	return obj
}

func pinoutObject(p Pinout) Object {
	obj := Object{}
	if len(p.Inputs) > 0 {
		sorted := slices.Clone(p.Inputs)
		slices.Sort(sorted)
		obj["inputs"] = stringArray(sorted)
	}
	if len(p.Outputs) > 0 {
		sorted := slices.Clone(p.Outputs)
		slices.Sort(sorted)
		obj["outputs"] = stringArray(sorted)
	}
	return obj
}

func stringArray(ss []string) Array {
	arr := make(Array, len(ss))
	for i, s := range ss {
		arr[i] = String(s)
	}
	return arr
}

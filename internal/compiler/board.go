package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/loomworks/loom/internal/ir"
)

// CompileBoard parses a CUE value into an ir.Board.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the board struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`board: { id: "pipeline", ... }`)
//	board, err := CompileBoard(v.LookupPath(cue.ParsePath("board")))
//
// Slot and wire references are resolved at compile time: a wire naming an
// undeclared slot or pinout-less gadget is a compile error, not a runtime
// surprise.
func CompileBoard(v cue.Value) (*ir.Board, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return nil, &CompileError{
			Field:   "id",
			Message: "board id is required",
			Pos:     v.Pos(),
		}
	}
	id, err := idVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	board := ir.NewBoard(ir.BoardID(id))

	if err := parseSlots(v, board); err != nil {
		return nil, err
	}
	if err := parsePinouts(v, board); err != nil {
		return nil, err
	}
	if err := parseWires(v, board); err != nil {
		return nil, err
	}
	if err := parseAspectScopes(v, board); err != nil {
		return nil, err
	}
	if err := parsePolicy(v, board); err != nil {
		return nil, err
	}

	// Resolve references. Board.Validate catches dangling slot/gadget
	// endpoints and malformed replica policies in one pass.
	if verrs := board.Validate(); len(verrs) > 0 {
		first := verrs[0]
		return nil, &CompileError{
			Field:   first.Field,
			Message: first.Message,
			Pos:     v.Pos(),
		}
	}

	return board, nil
}

// CompileBoardSource compiles a standalone CUE source into a board.
// The source must define a top-level "board" struct.
func CompileBoardSource(filename string, src []byte) (*ir.Board, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	boardVal := v.LookupPath(cue.ParsePath("board"))
	if !boardVal.Exists() {
		return nil, &CompileError{
			Field:   "board",
			Message: "no top-level board struct found",
			Pos:     v.Pos(),
		}
	}
	return CompileBoard(boardVal)
}

// parseSlots extracts slot declarations from the board.
func parseSlots(v cue.Value, board *ir.Board) error {
	slotsVal := v.LookupPath(cue.ParsePath("slots"))
	if !slotsVal.Exists() {
		return nil
	}

	iter, err := slotsVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}

	for iter.Next() {
		sid := ir.SlotID(iter.Label())
		slotVal := iter.Value()

		decl := ir.SlotDecl{ID: sid}

		pinoutVal := slotVal.LookupPath(cue.ParsePath("pinout"))
		if !pinoutVal.Exists() {
			return &CompileError{
				Field:   fmt.Sprintf("slots.%s.pinout", sid),
				Message: "slot pinout is required",
				Pos:     slotVal.Pos(),
			}
		}
		decl.Pinout, err = pinoutVal.String()
		if err != nil {
			return formatCUEError(err)
		}

		if capVal := slotVal.LookupPath(cue.ParsePath("capacity")); capVal.Exists() {
			capacity, err := capVal.Int64()
			if err != nil {
				return formatCUEError(err)
			}
			decl.Capacity = int(capacity)
		}

		decl.Policy, err = parseReplicaPolicy(slotVal, sid)
		if err != nil {
			return err
		}

		board.Slots[sid] = decl
	}

	return nil
}

// parseReplicaPolicy reads mode/lattice/quorum off a slot struct.
// Mode defaults to "any" when absent.
func parseReplicaPolicy(v cue.Value, sid ir.SlotID) (ir.ReplicaPolicy, error) {
	policy := ir.ReplicaPolicy{Mode: ir.ReplicaAny}

	modeVal := v.LookupPath(cue.ParsePath("mode"))
	if modeVal.Exists() {
		mode, err := modeVal.String()
		if err != nil {
			return policy, formatCUEError(err)
		}
		policy.Mode = ir.ReplicaMode(mode)
		if !ir.ValidReplicaModes[policy.Mode] {
			return policy, &CompileError{
				Field:   fmt.Sprintf("slots.%s.mode", sid),
				Message: fmt.Sprintf("invalid replica mode %q", mode),
				Pos:     modeVal.Pos(),
			}
		}
	}

	if latVal := v.LookupPath(cue.ParsePath("lattice")); latVal.Exists() {
		lat, err := latVal.String()
		if err != nil {
			return policy, formatCUEError(err)
		}
		policy.Lattice = lat
	}

	if quorumVal := v.LookupPath(cue.ParsePath("quorum")); quorumVal.Exists() {
		quorum, err := quorumVal.Int64()
		if err != nil {
			return policy, formatCUEError(err)
		}
		policy.Quorum = int(quorum)
	}

	return policy, nil
}

// parsePinouts extracts gadget pinout declarations.
func parsePinouts(v cue.Value, board *ir.Board) error {
	pinoutsVal := v.LookupPath(cue.ParsePath("pinouts"))
	if !pinoutsVal.Exists() {
		return nil
	}

	iter, err := pinoutsVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}

	for iter.Next() {
		gid := ir.GadgetID(iter.Label())
		pinoutVal := iter.Value()

		var pinout ir.Pinout
		pinout.Inputs, err = stringList(pinoutVal.LookupPath(cue.ParsePath("inputs")))
		if err != nil {
			return err
		}
		pinout.Outputs, err = stringList(pinoutVal.LookupPath(cue.ParsePath("outputs")))
		if err != nil {
			return err
		}

		board.Pinouts[gid] = pinout
	}

	return nil
}

// parseWires extracts wire specs with their aspect bags.
func parseWires(v cue.Value, board *ir.Board) error {
	wiresVal := v.LookupPath(cue.ParsePath("wires"))
	if !wiresVal.Exists() {
		return nil
	}

	iter, err := wiresVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}

	for iter.Next() {
		wid := ir.WireID(iter.Label())
		wireVal := iter.Value()

		spec := ir.WireSpec{ID: wid}

		spec.From, err = parseEndpoint(wireVal.LookupPath(cue.ParsePath("from")), wid, "from")
		if err != nil {
			return err
		}
		spec.To, err = parseEndpoint(wireVal.LookupPath(cue.ParsePath("to")), wid, "to")
		if err != nil {
			return err
		}

		if aspectsVal := wireVal.LookupPath(cue.ParsePath("aspects")); aspectsVal.Exists() {
			spec.Aspects, err = parseAspects(aspectsVal)
			if err != nil {
				return err
			}
		}

		board.Wires[wid] = spec
	}

	return nil
}

// parseEndpoint reads one side of a wire: {slot: "..."} or
// {gadget: "..."}, with an optional pin.
func parseEndpoint(v cue.Value, wid ir.WireID, side string) (ir.WireEndpoint, error) {
	var ep ir.WireEndpoint

	if !v.Exists() {
		return ep, &CompileError{
			Field:   fmt.Sprintf("wires.%s.%s", wid, side),
			Message: "wire endpoint is required",
			Pos:     v.Pos(),
		}
	}

	if slotVal := v.LookupPath(cue.ParsePath("slot")); slotVal.Exists() {
		slot, err := slotVal.String()
		if err != nil {
			return ep, formatCUEError(err)
		}
		ep.Slot = ir.SlotID(slot)
	}
	if gadgetVal := v.LookupPath(cue.ParsePath("gadget")); gadgetVal.Exists() {
		gadget, err := gadgetVal.String()
		if err != nil {
			return ep, formatCUEError(err)
		}
		ep.Gadget = ir.GadgetID(gadget)
	}
	if pinVal := v.LookupPath(cue.ParsePath("pin")); pinVal.Exists() {
		pin, err := pinVal.String()
		if err != nil {
			return ep, formatCUEError(err)
		}
		ep.Pin = pin
	}

	if !ep.Valid() {
		return ep, &CompileError{
			Field:   fmt.Sprintf("wires.%s.%s", wid, side),
			Message: "exactly one of slot/gadget must be set",
			Pos:     v.Pos(),
		}
	}

	return ep, nil
}

// parseAspectScopes extracts the board-level aspect map: scope key
// ("board", "binder", "slot:<id>", "pin:<wire>:<pin>") to installs.
func parseAspectScopes(v cue.Value, board *ir.Board) error {
	aspectsVal := v.LookupPath(cue.ParsePath("aspects"))
	if !aspectsVal.Exists() {
		return nil
	}

	iter, err := aspectsVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}

	for iter.Next() {
		scope := iter.Label()
		installs, err := parseAspects(iter.Value())
		if err != nil {
			return err
		}
		board.Aspects[scope] = installs
	}

	return nil
}

// parseAspects reads a list of aspect installations.
func parseAspects(v cue.Value) ([]ir.AspectInstance, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var aspects []ir.AspectInstance
	for iter.Next() {
		aVal := iter.Value()

		var a ir.AspectInstance
		nameVal := aVal.LookupPath(cue.ParsePath("name"))
		if !nameVal.Exists() {
			return nil, &CompileError{
				Field:   "aspects.name",
				Message: "aspect name is required",
				Pos:     aVal.Pos(),
			}
		}
		a.Name, err = nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}

		if paramsVal := aVal.LookupPath(cue.ParsePath("params")); paramsVal.Exists() {
			params, err := extractValue(paramsVal)
			if err != nil {
				return nil, err
			}
			obj, ok := params.(ir.Object)
			if !ok {
				return nil, &CompileError{
					Field:   "aspects.params",
					Message: "aspect params must be an object",
					Pos:     paramsVal.Pos(),
				}
			}
			a.Params = obj
		}

		if latVal := aVal.LookupPath(cue.ParsePath("lattice")); latVal.Exists() {
			a.Lattice, err = latVal.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
		}

		aspects = append(aspects, a)
	}

	return aspects, nil
}

// parsePolicy extracts the binder policy block.
func parsePolicy(v cue.Value, board *ir.Board) error {
	policyVal := v.LookupPath(cue.ParsePath("policy"))
	if !policyVal.Exists() {
		return nil
	}

	policy := &ir.BinderPolicy{}
	var err error

	policy.RequiredTraits, err = stringList(policyVal.LookupPath(cue.ParsePath("required_traits")))
	if err != nil {
		return err
	}
	policy.AllowedAspects, err = stringList(policyVal.LookupPath(cue.ParsePath("allowed_aspects")))
	if err != nil {
		return err
	}

	if maxVal := policyVal.LookupPath(cue.ParsePath("max_slots")); maxVal.Exists() {
		n, err := maxVal.Int64()
		if err != nil {
			return formatCUEError(err)
		}
		policy.MaxSlots = int(n)
	}
	if maxVal := policyVal.LookupPath(cue.ParsePath("max_wires")); maxVal.Exists() {
		n, err := maxVal.Int64()
		if err != nil {
			return formatCUEError(err)
		}
		policy.MaxWires = int(n)
	}

	board.Policy = policy
	return nil
}

// stringList reads an optional list of strings. A missing value yields nil.
func stringList(v cue.Value) ([]string, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// extractValue converts a concrete CUE value to an IR value.
// Floats and nulls are forbidden: IR values must survive canonical
// hashing, which admits neither.
func extractValue(v cue.Value) (ir.Value, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(i), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.Array{}
		for iter.Next() {
			elem, err := extractValue(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.Object{}
		for iter.Next() {
			elem, err := extractValue(iter.Value())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   "value",
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	case cue.NullKind:
		return nil, &CompileError{
			Field:   "value",
			Message: "null values are forbidden in board definitions",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

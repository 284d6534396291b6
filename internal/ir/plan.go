package ir

import "fmt"

// PlanKind is the closed set of binder plan operations.
// Adding a variant requires updating PlanOp.Validate and the binder's
// apply switch; both fail loudly on unknown kinds.
type PlanKind string

const (
	PlanDeclareSlot         PlanKind = "declare_slot"
	PlanSetSlotMode         PlanKind = "set_slot_mode"
	PlanMount               PlanKind = "mount"
	PlanUnmount             PlanKind = "unmount"
	PlanAddWire             PlanKind = "add_wire"
	PlanUpdateWire          PlanKind = "update_wire"
	PlanRemoveWire          PlanKind = "remove_wire"
	PlanWeaveWires          PlanKind = "weave_wires"
	PlanInstallPinAspect    PlanKind = "install_pin_aspect"
	PlanInstallSlotAspect   PlanKind = "install_slot_aspect"
	PlanInstallBoardAspect  PlanKind = "install_board_aspect"
	PlanInstallBinderAspect PlanKind = "install_binder_aspect"
	PlanSetPolicy           PlanKind = "set_policy"
	PlanValidate            PlanKind = "validate"
	PlanBake                PlanKind = "bake"
)

// ValidPlanKinds is the closed set of plan kinds.
var ValidPlanKinds = map[PlanKind]bool{
	PlanDeclareSlot:         true,
	PlanSetSlotMode:         true,
	PlanMount:               true,
	PlanUnmount:             true,
	PlanAddWire:             true,
	PlanUpdateWire:          true,
	PlanRemoveWire:          true,
	PlanWeaveWires:          true,
	PlanInstallPinAspect:    true,
	PlanInstallSlotAspect:   true,
	PlanInstallBoardAspect:  true,
	PlanInstallBinderAspect: true,
	PlanSetPolicy:           true,
	PlanValidate:            true,
	PlanBake:                true,
}

// PlanOp is one binder plan operation, a tagged variant discriminated by
// Kind. Only the fields relevant to the kind are consulted; Validate
// rejects ops missing their kind's required payload.
//
// ID makes re-application idempotent and correlates the op with its
// Receipt. Two ops with the same ID are the same op.
type PlanOp struct {
	ID   string   `json:"id"`
	Kind PlanKind `json:"kind"`

	// declare_slot
	Slot *SlotDecl `json:"slot,omitempty"`

	// set_slot_mode, mount, unmount, install_slot_aspect
	SlotID SlotID         `json:"slot_id,omitempty"`
	Mode   *ReplicaPolicy `json:"mode,omitempty"`

	// mount / unmount
	Gadget GadgetID `json:"gadget,omitempty"`
	Pinout *Pinout  `json:"pinout,omitempty"`
	Traits []string `json:"traits,omitempty"`

	// add_wire / update_wire
	Wire *WireSpec `json:"wire,omitempty"`

	// remove_wire, install_pin_aspect
	WireID WireID `json:"wire_id,omitempty"`
	Pin    string `json:"pin,omitempty"`

	// weave_wires
	Wires []WireSpec `json:"wires,omitempty"`

	// install_*_aspect
	Aspect *AspectInstance `json:"aspect,omitempty"`

	// set_policy
	Policy *BinderPolicy `json:"policy,omitempty"`
}

// Plan is an ordered batch of ops stamped with shared provenance.
type Plan struct {
	BoardID BoardID    `json:"board_id"`
	Ops     []PlanOp   `json:"ops"`
	Prov    Provenance `json:"prov"`
}

// Validate checks that the op carries the payload its kind requires.
// Returns all problems, not fail-fast.
func (op *PlanOp) Validate() []ValidationError {
	var errs []ValidationError

	if op.ID == "" {
		errs = append(errs, ValidationError{Field: "id", Message: "op id is required"})
	}

	switch op.Kind {
	case PlanDeclareSlot:
		if op.Slot == nil {
			errs = append(errs, ValidationError{Field: "slot", Message: "declare_slot requires a slot declaration"})
		} else if op.Slot.ID == "" {
			errs = append(errs, ValidationError{Field: "slot.id", Message: "slot id is required"})
		}

	case PlanSetSlotMode:
		if op.SlotID == "" {
			errs = append(errs, ValidationError{Field: "slot_id", Message: "set_slot_mode requires a slot id"})
		}
		if op.Mode == nil {
			errs = append(errs, ValidationError{Field: "mode", Message: "set_slot_mode requires a replica policy"})
		}

	case PlanMount:
		if op.SlotID == "" {
			errs = append(errs, ValidationError{Field: "slot_id", Message: "mount requires a slot id"})
		}
		if op.Gadget == "" {
			errs = append(errs, ValidationError{Field: "gadget", Message: "mount requires a gadget id"})
		}
		if op.Pinout == nil {
			errs = append(errs, ValidationError{Field: "pinout", Message: "mount requires the gadget's pinout"})
		}

	case PlanUnmount:
		if op.SlotID == "" {
			errs = append(errs, ValidationError{Field: "slot_id", Message: "unmount requires a slot id"})
		}
		if op.Gadget == "" {
			errs = append(errs, ValidationError{Field: "gadget", Message: "unmount requires a gadget id"})
		}

	case PlanAddWire, PlanUpdateWire:
		if op.Wire == nil {
			errs = append(errs, ValidationError{Field: "wire", Message: string(op.Kind) + " requires a wire spec"})
		} else if op.Wire.ID == "" {
			errs = append(errs, ValidationError{Field: "wire.id", Message: "wire id is required"})
		}

	case PlanRemoveWire:
		if op.WireID == "" {
			errs = append(errs, ValidationError{Field: "wire_id", Message: "remove_wire requires a wire id"})
		}

	case PlanWeaveWires:
		if len(op.Wires) == 0 {
			errs = append(errs, ValidationError{Field: "wires", Message: "weave_wires requires at least one wire"})
		}
		for i, w := range op.Wires {
			if w.ID == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("wires[%d].id", i),
					Message: "wire id is required",
				})
			}
		}

	case PlanInstallPinAspect:
		if op.WireID == "" && op.Pin == "" {
			errs = append(errs, ValidationError{Field: "wire_id", Message: "install_pin_aspect requires a wire id or pin"})
		}
		errs = append(errs, validateAspectPayload(op.Aspect)...)

	case PlanInstallSlotAspect:
		if op.SlotID == "" {
			errs = append(errs, ValidationError{Field: "slot_id", Message: "install_slot_aspect requires a slot id"})
		}
		errs = append(errs, validateAspectPayload(op.Aspect)...)

	case PlanInstallBoardAspect, PlanInstallBinderAspect:
		errs = append(errs, validateAspectPayload(op.Aspect)...)

	case PlanSetPolicy:
		if op.Policy == nil {
			errs = append(errs, ValidationError{Field: "policy", Message: "set_policy requires a policy"})
		}

	case PlanValidate, PlanBake:
		// No payload.

	default:
		errs = append(errs, ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("unknown plan kind %q", op.Kind),
		})
	}

	return errs
}

func validateAspectPayload(a *AspectInstance) []ValidationError {
	if a == nil {
		return []ValidationError{{Field: "aspect", Message: "aspect installation is required"}}
	}
	if a.Name == "" {
		return []ValidationError{{Field: "aspect.name", Message: "aspect name is required"}}
	}
	return nil
}

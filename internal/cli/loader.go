package cli

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/internal/compiler"
	"github.com/loomworks/loom/internal/ir"
)

// LoadBoardFile reads and compiles a CUE board definition file.
func LoadBoardFile(path string) (*ir.Board, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading board file: %w", err)
	}
	return compiler.CompileBoardSource(path, src)
}

// Plan files are yaml: a board id, optional provenance, and an ordered
// list of ops. The DTO layer keeps yaml tags out of the IR structs and
// converts free-form params maps into IR values.

type planFile struct {
	BoardID string      `yaml:"board_id"`
	Source  string      `yaml:"source"`
	Token   string      `yaml:"token"`
	Ops     []planOpDTO `yaml:"ops"`
}

type planOpDTO struct {
	ID     string           `yaml:"id"`
	Kind   string           `yaml:"kind"`
	Slot   *slotDTO         `yaml:"slot"`
	SlotID string           `yaml:"slot_id"`
	Mode   *replicaDTO      `yaml:"mode"`
	Gadget string           `yaml:"gadget"`
	Pinout *pinoutDTO       `yaml:"pinout"`
	Traits []string         `yaml:"traits"`
	Wire   *wireDTO         `yaml:"wire"`
	WireID string           `yaml:"wire_id"`
	Pin    string           `yaml:"pin"`
	Wires  []wireDTO        `yaml:"wires"`
	Aspect *aspectDTO       `yaml:"aspect"`
	Policy *binderPolicyDTO `yaml:"policy"`
}

type slotDTO struct {
	ID       string `yaml:"id"`
	Pinout   string `yaml:"pinout"`
	Capacity int    `yaml:"capacity"`
	Mode     string `yaml:"mode"`
	Lattice  string `yaml:"lattice"`
	Quorum   int    `yaml:"quorum"`
}

type replicaDTO struct {
	Mode    string `yaml:"mode"`
	Lattice string `yaml:"lattice"`
	Quorum  int    `yaml:"quorum"`
}

type pinoutDTO struct {
	Inputs  []string `yaml:"inputs"`
	Outputs []string `yaml:"outputs"`
}

type endpointDTO struct {
	Slot   string `yaml:"slot"`
	Gadget string `yaml:"gadget"`
	Pin    string `yaml:"pin"`
}

type wireDTO struct {
	ID      string      `yaml:"id"`
	From    endpointDTO `yaml:"from"`
	To      endpointDTO `yaml:"to"`
	Aspects []aspectDTO `yaml:"aspects"`
}

type aspectDTO struct {
	Name    string         `yaml:"name"`
	Params  map[string]any `yaml:"params"`
	Lattice string         `yaml:"lattice"`
}

type binderPolicyDTO struct {
	RequiredTraits []string `yaml:"required_traits"`
	AllowedAspects []string `yaml:"allowed_aspects"`
	MaxSlots       int      `yaml:"max_slots"`
	MaxWires       int      `yaml:"max_wires"`
}

// LoadPlanFile reads a yaml plan batch into an ir.Plan.
// Structural problems (unknown fields, bad params) surface here;
// semantic validation is the binder's job and lands in receipts.
func LoadPlanFile(path string) (ir.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.Plan{}, fmt.Errorf("reading plan file: %w", err)
	}

	var pf planFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return ir.Plan{}, fmt.Errorf("parsing plan file: %w", err)
	}

	plan := ir.Plan{
		BoardID: ir.BoardID(pf.BoardID),
		Prov:    ir.Provenance{Source: pf.Source, Token: pf.Token},
	}
	for i, dto := range pf.Ops {
		op, err := convertOp(dto)
		if err != nil {
			return ir.Plan{}, fmt.Errorf("ops[%d]: %w", i, err)
		}
		plan.Ops = append(plan.Ops, op)
	}

	return plan, nil
}

func convertOp(dto planOpDTO) (ir.PlanOp, error) {
	op := ir.PlanOp{
		ID:     dto.ID,
		Kind:   ir.PlanKind(dto.Kind),
		SlotID: ir.SlotID(dto.SlotID),
		Gadget: ir.GadgetID(dto.Gadget),
		Traits: dto.Traits,
		WireID: ir.WireID(dto.WireID),
		Pin:    dto.Pin,
	}

	if dto.Slot != nil {
		op.Slot = &ir.SlotDecl{
			ID:       ir.SlotID(dto.Slot.ID),
			Pinout:   dto.Slot.Pinout,
			Capacity: dto.Slot.Capacity,
			Policy:   replicaPolicy(dto.Slot.Mode, dto.Slot.Lattice, dto.Slot.Quorum),
		}
	}
	if dto.Mode != nil {
		policy := replicaPolicy(dto.Mode.Mode, dto.Mode.Lattice, dto.Mode.Quorum)
		op.Mode = &policy
	}
	if dto.Pinout != nil {
		op.Pinout = &ir.Pinout{Inputs: dto.Pinout.Inputs, Outputs: dto.Pinout.Outputs}
	}
	if dto.Wire != nil {
		wire, err := convertWire(*dto.Wire)
		if err != nil {
			return op, err
		}
		op.Wire = &wire
	}
	for _, w := range dto.Wires {
		wire, err := convertWire(w)
		if err != nil {
			return op, err
		}
		op.Wires = append(op.Wires, wire)
	}
	if dto.Aspect != nil {
		aspect, err := convertAspect(*dto.Aspect)
		if err != nil {
			return op, err
		}
		op.Aspect = &aspect
	}
	if dto.Policy != nil {
		op.Policy = &ir.BinderPolicy{
			RequiredTraits: dto.Policy.RequiredTraits,
			AllowedAspects: dto.Policy.AllowedAspects,
			MaxSlots:       dto.Policy.MaxSlots,
			MaxWires:       dto.Policy.MaxWires,
		}
	}

	return op, nil
}

func replicaPolicy(mode, lattice string, quorum int) ir.ReplicaPolicy {
	if mode == "" {
		mode = string(ir.ReplicaAny)
	}
	return ir.ReplicaPolicy{
		Mode:    ir.ReplicaMode(mode),
		Lattice: lattice,
		Quorum:  quorum,
	}
}

func convertWire(dto wireDTO) (ir.WireSpec, error) {
	spec := ir.WireSpec{
		ID:   ir.WireID(dto.ID),
		From: ir.WireEndpoint{Slot: ir.SlotID(dto.From.Slot), Gadget: ir.GadgetID(dto.From.Gadget), Pin: dto.From.Pin},
		To:   ir.WireEndpoint{Slot: ir.SlotID(dto.To.Slot), Gadget: ir.GadgetID(dto.To.Gadget), Pin: dto.To.Pin},
	}
	for _, a := range dto.Aspects {
		aspect, err := convertAspect(a)
		if err != nil {
			return spec, err
		}
		spec.Aspects = append(spec.Aspects, aspect)
	}
	return spec, nil
}

func convertAspect(dto aspectDTO) (ir.AspectInstance, error) {
	aspect := ir.AspectInstance{Name: dto.Name, Lattice: dto.Lattice}
	if dto.Params != nil {
		v, err := ir.FromGo(dto.Params)
		if err != nil {
			return aspect, fmt.Errorf("aspect %q params: %w", dto.Name, err)
		}
		obj, ok := v.(ir.Object)
		if !ok {
			return aspect, fmt.Errorf("aspect %q params: must be a mapping", dto.Name)
		}
		aspect.Params = obj
	}
	return aspect, nil
}

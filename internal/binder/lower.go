package binder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/lattice"
)

// Node and edge id prefixes in the realized graph. Stable across
// lowerings so diffs line up version to version.
const (
	slotNodePrefix   = "slot/"
	gadgetNodePrefix = "gadget/"
	shimNodePrefix   = "shim/"
	mountEdgePrefix  = "mount/"
	wireEdgePrefix   = "wire/"
)

// Lower projects a board into its realized graph. Pure: the board is not
// mutated, and lowering the same board (under the same manifest) always
// produces the same graph. Node provenance is left zero; the binder
// stamps it after diffing against the previous graph.
//
// Shape: one node per slot, one node per declared gadget, a mount edge
// per occupant. A wire with no aspects lowers to a single edge; a wire
// with aspects lowers to one shim node per composed aspect, threaded in
// manifest order between the endpoints. Same-name aspects on one wire
// are first composed into a single instance by joining their params
// through the aspect's declared lattice.
func Lower(board *ir.Board, catalog *lattice.Catalog, manifest *AspectManifest) (*ir.RealizedGraph, error) {
	hash, err := board.Hash(manifest.Sorter())
	if err != nil {
		return nil, err
	}

	g := ir.NewRealizedGraph(board.ID)
	g.Version = board.Version
	g.BoardHash = hash

	for sid, decl := range board.Slots {
		tags := []string{"slot", "mode:" + string(decl.Policy.Mode)}
		if decl.Policy.Mode == ir.ReplicaReduce {
			tags = append(tags, "lattice:"+decl.Policy.Lattice)
		}
		slices.Sort(tags)
		id := ir.NodeID(slotNodePrefix + string(sid))
		g.Nodes[id] = ir.RealizedNode{ID: id, Tags: tags}
	}

	for gid := range board.Pinouts {
		id := ir.NodeID(gadgetNodePrefix + string(gid))
		g.Nodes[id] = ir.RealizedNode{ID: id, Gadget: gid, Tags: []string{"gadget"}}
	}

	for sid, occupants := range board.Occupants {
		for _, gid := range occupants {
			eid := ir.EdgeID(mountEdgePrefix + string(sid) + "/" + string(gid))
			g.Edges[eid] = ir.RealizedEdge{
				ID:   eid,
				From: ir.NodeID(gadgetNodePrefix + string(gid)),
				To:   ir.NodeID(slotNodePrefix + string(sid)),
			}
		}
	}

	for wid, spec := range board.Wires {
		if err := lowerWire(g, board, catalog, manifest, wid, spec); err != nil {
			return nil, fmt.Errorf("wire %s: %w", wid, err)
		}
	}

	for scope, installs := range board.Aspects {
		if strings.HasPrefix(scope, "pin:") {
			// Folded into the owning wire by lowerWire.
			continue
		}
		if scope == "binder" {
			// Binder aspects configure plan application, they do not
			// appear in the realized graph.
			continue
		}
		if err := lowerScopeAspects(g, catalog, manifest, scope, installs); err != nil {
			return nil, fmt.Errorf("aspects %q: %w", scope, err)
		}
	}

	return g, nil
}

func lowerWire(g *ir.RealizedGraph, board *ir.Board, catalog *lattice.Catalog, manifest *AspectManifest, wid ir.WireID, spec ir.WireSpec) error {
	from, err := endpointNode(g, spec.From)
	if err != nil {
		return err
	}
	to, err := endpointNode(g, spec.To)
	if err != nil {
		return err
	}

	// Pin-scoped installs belong to this wire's thread.
	bag := slices.Clone(spec.Aspects)
	pinPrefix := "pin:" + string(wid) + ":"
	for scope, installs := range board.Aspects {
		if strings.HasPrefix(scope, pinPrefix) {
			bag = append(bag, installs...)
		}
	}

	composed, err := composeAspects(bag, catalog, manifest)
	if err != nil {
		return err
	}
	sorted, err := manifest.Sorter()(composed)
	if err != nil {
		return err
	}

	if len(sorted) == 0 {
		eid := ir.EdgeID(wireEdgePrefix + string(wid))
		g.Edges[eid] = ir.RealizedEdge{ID: eid, From: from, To: to, Wire: wid}
		return nil
	}

	prev := from
	for i, a := range sorted {
		nid := ir.NodeID(shimNodePrefix + string(wid) + "/" + a.Name)
		tags := []string{"shim", "aspect:" + a.Name, "wire:" + string(wid)}
		slices.Sort(tags)
		g.Nodes[nid] = ir.RealizedNode{ID: nid, Tags: tags, Params: a.Params}

		eid := ir.EdgeID(fmt.Sprintf("%s%s/%d", wireEdgePrefix, wid, i))
		g.Edges[eid] = ir.RealizedEdge{ID: eid, From: prev, To: nid, Wire: wid}
		prev = nid
	}
	eid := ir.EdgeID(fmt.Sprintf("%s%s/%d", wireEdgePrefix, wid, len(sorted)))
	g.Edges[eid] = ir.RealizedEdge{ID: eid, From: prev, To: to, Wire: wid}
	return nil
}

func lowerScopeAspects(g *ir.RealizedGraph, catalog *lattice.Catalog, manifest *AspectManifest, scope string, installs []ir.AspectInstance) error {
	composed, err := composeAspects(installs, catalog, manifest)
	if err != nil {
		return err
	}
	sorted, err := manifest.Sorter()(composed)
	if err != nil {
		return err
	}
	for _, a := range sorted {
		nid := ir.NodeID(shimNodePrefix + scope + "/" + a.Name)
		tags := []string{"shim", "aspect:" + a.Name, "scope:" + scope}
		slices.Sort(tags)
		g.Nodes[nid] = ir.RealizedNode{ID: nid, Tags: tags, Params: a.Params}

		// Slot-scoped shims attach to their slot node.
		if sid, ok := strings.CutPrefix(scope, "slot:"); ok {
			eid := ir.EdgeID("aspect/" + scope + "/" + a.Name)
			g.Edges[eid] = ir.RealizedEdge{ID: eid, From: nid, To: ir.NodeID(slotNodePrefix + sid)}
		}
	}
	return nil
}

func endpointNode(g *ir.RealizedGraph, e ir.WireEndpoint) (ir.NodeID, error) {
	var id ir.NodeID
	switch {
	case e.Slot != "":
		id = ir.NodeID(slotNodePrefix + string(e.Slot))
	case e.Gadget != "":
		id = ir.NodeID(gadgetNodePrefix + string(e.Gadget))
	default:
		return "", schemaf("endpoint sets neither slot nor gadget")
	}
	if _, ok := g.Nodes[id]; !ok {
		return "", unknownf("endpoint %s does not resolve to a node", id)
	}
	return id, nil
}

// composeAspects folds same-name installations into one instance each,
// joining their params through the aspect's declared lattice. A nil
// params set acts as the join identity. Never last-writer-wins: two
// RateLimit installs always compose to the stricter limit.
func composeAspects(installs []ir.AspectInstance, catalog *lattice.Catalog, manifest *AspectManifest) ([]ir.AspectInstance, error) {
	var order []string
	byName := make(map[string]ir.AspectInstance)

	for _, a := range installs {
		existing, seen := byName[a.Name]
		if !seen {
			byName[a.Name] = a
			order = append(order, a.Name)
			continue
		}
		if a.Params == nil {
			continue
		}
		if existing.Params == nil {
			existing.Params = a.Params
			byName[a.Name] = existing
			continue
		}
		latName := manifest.ParamLattice(a)
		if latName == "" {
			return nil, unknownf("aspect %q has no composition lattice", a.Name)
		}
		lat, err := catalog.Resolve(latName)
		if err != nil {
			return nil, err
		}
		joined, err := lat.Join(existing.Params, a.Params)
		if err != nil {
			return nil, fmt.Errorf("aspect %q: %w", a.Name, err)
		}
		obj, ok := joined.(ir.Object)
		if !ok {
			return nil, schemaf("aspect %q: composed params are not an object", a.Name)
		}
		existing.Params = obj
		byName[a.Name] = existing
	}

	out := make([]ir.AspectInstance, len(order))
	for i, name := range order {
		out[i] = byName[name]
	}
	return out, nil
}

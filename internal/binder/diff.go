package binder

import (
	"slices"
	"strings"

	"github.com/loomworks/loom/internal/ir"
)

// Diff computes the graph changes from prev to next, in a deterministic
// order: edge removals, node removals, node additions, edge additions,
// then tag updates. Replaying the diffs over prev yields next.
//
// Provenance is ignored when comparing - a node is "the same" if its
// gadget, tags, and params match, regardless of which batch stamped it.
func Diff(prev, next *ir.RealizedGraph) []ir.GraphDiff {
	var diffs []ir.GraphDiff

	for _, eid := range sortedEdgeIDs(prev) {
		if _, ok := next.Edges[eid]; !ok {
			diffs = append(diffs, ir.GraphDiff{Kind: ir.DiffRemoveEdge, EdgeID: eid})
		}
	}

	var tagUpdates []ir.GraphDiff
	for _, nid := range sortedNodeIDs(prev) {
		old := prev.Nodes[nid]
		cur, ok := next.Nodes[nid]
		if !ok {
			diffs = append(diffs, ir.GraphDiff{Kind: ir.DiffRemoveNode, NodeID: nid})
			continue
		}
		if nodeShapeEqual(old, cur) {
			continue
		}
		if old.Gadget == cur.Gadget && ir.Equal(paramsValue(old), paramsValue(cur)) {
			// Only the tags moved.
			tagUpdates = append(tagUpdates, ir.GraphDiff{
				Kind:   ir.DiffUpdateNodeTags,
				NodeID: nid,
				Tags:   slices.Clone(cur.Tags),
			})
			continue
		}
		// Shape changed beyond tags: replace the node.
		diffs = append(diffs, ir.GraphDiff{Kind: ir.DiffRemoveNode, NodeID: nid})
		replacement := cur
		diffs = append(diffs, ir.GraphDiff{Kind: ir.DiffAddNode, Node: &replacement})
	}

	for _, nid := range sortedNodeIDs(next) {
		if _, ok := prev.Nodes[nid]; !ok {
			node := next.Nodes[nid]
			diffs = append(diffs, ir.GraphDiff{Kind: ir.DiffAddNode, Node: &node})
		}
	}

	for _, eid := range sortedEdgeIDs(next) {
		cur := next.Edges[eid]
		old, ok := prev.Edges[eid]
		if ok && old == cur {
			continue
		}
		if ok {
			diffs = append(diffs, ir.GraphDiff{Kind: ir.DiffRemoveEdge, EdgeID: eid})
		}
		diffs = append(diffs, ir.GraphDiff{Kind: ir.DiffAddEdge, Edge: &cur})
	}

	return append(diffs, tagUpdates...)
}

// nodeShapeEqual compares everything except provenance.
func nodeShapeEqual(a, b ir.RealizedNode) bool {
	return a.Gadget == b.Gadget &&
		slices.Equal(a.Tags, b.Tags) &&
		ir.Equal(paramsValue(a), paramsValue(b))
}

func paramsValue(n ir.RealizedNode) ir.Value {
	if n.Params == nil {
		return ir.Null{}
	}
	return n.Params
}

func sortedNodeIDs(g *ir.RealizedGraph) []ir.NodeID {
	ids := make([]ir.NodeID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b ir.NodeID) int { return strings.Compare(string(a), string(b)) })
	return ids
}

func sortedEdgeIDs(g *ir.RealizedGraph) []ir.EdgeID {
	ids := make([]ir.EdgeID, 0, len(g.Edges))
	for id := range g.Edges {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b ir.EdgeID) int { return strings.Compare(string(a), string(b)) })
	return ids
}

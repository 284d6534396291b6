package ir

import "slices"

// NodeID identifies a realized node.
type NodeID string

// EdgeID identifies a realized edge.
type EdgeID string

// RealizedNode is one executable node in the lowered graph. A node either
// hosts a mounted gadget or is a shim materialized for an aspect.
type RealizedNode struct {
	ID     NodeID   `json:"id"`
	Gadget GadgetID `json:"gadget,omitempty"`
	// Tags are free-form markers, e.g. "shim", "aspect:RateLimit",
	// "slot:worker". Sorted before hashing and diffing.
	Tags []string   `json:"tags,omitempty"`
	Prov Provenance `json:"prov"`
	// Params carries the effective (lattice-joined) parameters for shim
	// nodes; nil for plain gadget nodes.
	Params Object `json:"params,omitempty"`
}

// RealizedEdge is one directed edge in the lowered graph.
type RealizedEdge struct {
	ID   EdgeID `json:"id"`
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
	// Wire names the wire spec this edge was lowered from.
	Wire WireID `json:"wire,omitempty"`
}

// RealizedGraph is the actual execution graph, a pure projection of a
// board. It is never mutated outside a binder lowering step, so reads are
// unrestricted and concurrent.
//
// Invariant: every map key equals the contained entity's own id.
type RealizedGraph struct {
	BoardID   BoardID                `json:"board_id"`
	Version   int64                  `json:"version"`
	BoardHash string                 `json:"board_hash"`
	Nodes     map[NodeID]RealizedNode `json:"nodes"`
	Edges     map[EdgeID]RealizedEdge `json:"edges"`
	// Receipts is the append-only audit trail of every applied op.
	Receipts []Receipt `json:"receipts"`
}

// NewRealizedGraph creates an empty graph for a board.
func NewRealizedGraph(boardID BoardID) *RealizedGraph {
	return &RealizedGraph{
		BoardID: boardID,
		Nodes:   make(map[NodeID]RealizedNode),
		Edges:   make(map[EdgeID]RealizedEdge),
	}
}

// Clone deep-copies the graph. Receipts are shared (immutable).
func (g *RealizedGraph) Clone() *RealizedGraph {
	out := &RealizedGraph{
		BoardID:   g.BoardID,
		Version:   g.Version,
		BoardHash: g.BoardHash,
		Nodes:     make(map[NodeID]RealizedNode, len(g.Nodes)),
		Edges:     make(map[EdgeID]RealizedEdge, len(g.Edges)),
		Receipts:  slices.Clone(g.Receipts),
	}
	for k, n := range g.Nodes {
		n.Tags = slices.Clone(n.Tags)
		if n.Params != nil {
			n.Params = Clone(n.Params).(Object)
		}
		out.Nodes[k] = n
	}
	for k, e := range g.Edges {
		out.Edges[k] = e
	}
	return out
}

// DiffKind is the closed set of graph mutations.
type DiffKind string

const (
	DiffAddNode        DiffKind = "add_node"
	DiffRemoveNode     DiffKind = "remove_node"
	DiffAddEdge        DiffKind = "add_edge"
	DiffRemoveEdge     DiffKind = "remove_edge"
	DiffUpdateNodeTags DiffKind = "update_node_tags"
	DiffAnnotate       DiffKind = "annotate"
)

// GraphDiff is one unit of realized-graph change, a tagged variant.
// The binder emits diffs when lowering a plan; receipts carry them.
type GraphDiff struct {
	Kind DiffKind `json:"kind"`

	// add_node
	Node *RealizedNode `json:"node,omitempty"`
	// remove_node, update_node_tags
	NodeID NodeID `json:"node_id,omitempty"`
	// add_edge
	Edge *RealizedEdge `json:"edge,omitempty"`
	// remove_edge
	EdgeID EdgeID `json:"edge_id,omitempty"`
	// update_node_tags
	Tags []string `json:"tags,omitempty"`
	// annotate
	Note string `json:"note,omitempty"`
}

// ReceiptStatus is ok or error; there is no partial.
type ReceiptStatus string

const (
	ReceiptOK    ReceiptStatus = "ok"
	ReceiptError ReceiptStatus = "error"
)

// Receipt is the immutable audit record of one applied plan op. Receipts
// are the sole authoritative success/failure signal; errors cross the core
// boundary as receipt data, never as panics.
type Receipt struct {
	ID     string        `json:"id"`
	OpID   string        `json:"op_id"`
	Status ReceiptStatus `json:"status"`
	// Code carries the error taxonomy on failure, e.g. "POLICY_VIOLATION".
	Code   string      `json:"code,omitempty"`
	Reason string      `json:"reason,omitempty"`
	Diffs  []GraphDiff `json:"diffs,omitempty"`
	Prov   Provenance  `json:"prov"`
}

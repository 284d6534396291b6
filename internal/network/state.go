package network

import (
	"encoding/json"
	"slices"

	"github.com/loomworks/loom/internal/ir"
)

// Boundary marks a contact as part of a primitive gadget's interface.
type Boundary string

const (
	BoundaryNone   Boundary = ""
	BoundaryInput  Boundary = "input"
	BoundaryOutput Boundary = "output"
)

// ContactState is the snapshot form of one contact.
type ContactState struct {
	ID        string   `json:"id"`
	BlendMode string   `json:"blend_mode"`
	Boundary  Boundary `json:"boundary,omitempty"`
	Content   ir.Value `json:"-"`
	// ContentJSON carries Content across serialization boundaries.
	ContentJSON []byte `json:"content,omitempty"`
}

// WireState is the snapshot form of one wire.
type WireState struct {
	ID            string `json:"id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Bidirectional bool   `json:"bidirectional,omitempty"`
}

// GroupState is the snapshot form of one group.
type GroupState struct {
	ID        string                  `json:"id"`
	Parent    string                  `json:"parent,omitempty"`
	GadgetID  ir.GadgetID             `json:"gadget,omitempty"`
	Contacts  map[string]ContactState `json:"contacts,omitempty"`
	Wires     map[string]WireState    `json:"wires,omitempty"`
	Subgroups []string                `json:"subgroups,omitempty"`
}

// NetworkState is a complete, self-contained snapshot: the scheduler's
// single source of truth, exported deep-cloned so holders can never
// alias live state. Round-trips through ExportState/ImportState and the
// snapshot store.
type NetworkState struct {
	RootGroupID string                `json:"root_group_id"`
	Groups      map[string]GroupState `json:"groups"`
}

// Clone deep-copies the state.
func (s NetworkState) Clone() NetworkState {
	out := NetworkState{
		RootGroupID: s.RootGroupID,
		Groups:      make(map[string]GroupState, len(s.Groups)),
	}
	for gid, g := range s.Groups {
		cg := GroupState{
			ID:        g.ID,
			Parent:    g.Parent,
			GadgetID:  g.GadgetID,
			Subgroups: slices.Clone(g.Subgroups),
			Contacts:  make(map[string]ContactState, len(g.Contacts)),
			Wires:     make(map[string]WireState, len(g.Wires)),
		}
		for cid, c := range g.Contacts {
			if c.Content != nil {
				c.Content = ir.Clone(c.Content)
			}
			c.ContentJSON = slices.Clone(c.ContentJSON)
			cg.Contacts[cid] = c
		}
		for wid, w := range g.Wires {
			cg.Wires[wid] = w
		}
		out.Groups[gid] = cg
	}
	return out
}

// EncodeContent fills every ContactState's ContentJSON from its Content,
// preparing the state for JSON serialization (the snapshot store).
func (s *NetworkState) EncodeContent() error {
	for gid, g := range s.Groups {
		for cid, c := range g.Contacts {
			if c.Content == nil {
				continue
			}
			body, err := encodeValue(c.Content)
			if err != nil {
				return err
			}
			c.ContentJSON = body
			s.Groups[gid].Contacts[cid] = c
		}
	}
	return nil
}

// DecodeContent fills every ContactState's Content from its ContentJSON
// after deserialization.
func (s *NetworkState) DecodeContent() error {
	for gid, g := range s.Groups {
		for cid, c := range g.Contacts {
			if len(c.ContentJSON) == 0 {
				continue
			}
			v, err := ir.UnmarshalValue(c.ContentJSON)
			if err != nil {
				return err
			}
			c.Content = v
			s.Groups[gid].Contacts[cid] = c
		}
	}
	return nil
}

// encodeValue uses sorted-key JSON, not canonical form: snapshots may
// legitimately carry Null content (a RateLimit bottom, say), which
// canonical JSON forbids. Snapshot hashing happens over these bytes.
func encodeValue(v ir.Value) ([]byte, error) {
	return json.Marshal(v)
}

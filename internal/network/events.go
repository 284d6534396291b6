package network

import "github.com/loomworks/loom/internal/ir"

// ChangeKind is the closed set of change events a network emits.
type ChangeKind string

const (
	ChangeGroupAdded     ChangeKind = "group_added"
	ChangeGroupRemoved   ChangeKind = "group_removed"
	ChangeContactAdded   ChangeKind = "contact_added"
	ChangeContactUpdated ChangeKind = "contact_updated"
	ChangeContactRemoved ChangeKind = "contact_removed"
	ChangeWireAdded      ChangeKind = "wire_added"
	ChangeWireRemoved    ChangeKind = "wire_removed"
)

// Change is one observable network mutation, delivered to subscribers in
// the order it happened.
type Change struct {
	Kind      ChangeKind
	GroupID   string
	ContactID string
	WireID    string
	// Content is the contact's merged content after a contact_updated
	// event. Cloned - subscribers can hold it without aliasing live state.
	Content ir.Value
}

// Subscriber receives change events. Called synchronously from the
// propagation path; a slow subscriber slows propagation.
type Subscriber func(Change)

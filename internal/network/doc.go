// Package network implements the live propagation graph: contacts that
// hold lattice-merged content, wires that carry it, and groups that own
// both.
//
// ARCHITECTURE
//
// Single-writer ownership: a Network's state is exclusively owned by its
// active scheduler. All mutation funnels through ScheduleUpdate, whose
// tasks the scheduler hands back to the network one at a time. There is
// no locking around propagation because there is no concurrent mutation
// to lock against.
//
// Propagation: an update merges incoming content into the target contact
// through the contact's blend lattice - content is NEVER overwritten -
// and, if the merged value differs under the lattice's equality, pushes
// the new value along outgoing wires recursively until a fixed point.
// Join idempotence makes the fixed point exist; repeated delivery and
// reordering cannot diverge the result.
//
// Groups form a tree rooted at the root group. A primitive gadget's
// group gets boundary contacts auto-created from the gadget's pinout;
// cross-group wiring is rejected unless one endpoint is a boundary
// contact.
package network

package network

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/lattice"
	"github.com/loomworks/loom/internal/sched"
)

// RootGroupID is the implicit top-level group every network starts with.
const RootGroupID = "root"

type contact struct {
	id        string
	blendMode string
	boundary  Boundary
	content   ir.Value
}

type wire struct {
	id            string
	from          string
	to            string
	bidirectional bool
	group         string
}

type group struct {
	id        string
	parent    string
	gadgetID  ir.GadgetID
	contacts  map[string]*contact
	wires     map[string]*wire
	subgroups map[string]struct{}
}

// Network is a propagation network: groups of lattice-typed contacts
// joined by wires. All mutation funnels through a single scheduler; the
// network itself only ever joins content upward, never overwrites, so
// propagation reaches a fixed point regardless of task ordering.
type Network struct {
	mu      sync.Mutex
	catalog *lattice.Catalog
	sch     sched.Scheduler
	clock   *sched.Clock
	arena   *Arena
	logger  *slog.Logger

	groups       map[string]*group
	contactGroup map[string]string
	// contactWires indexes outgoing propagation edges per contact.
	contactWires map[string][]string

	subs    map[int64]Subscriber
	nextSub int64
}

// Option configures a Network.
type Option func(*Network)

// WithScheduler overrides the default immediate scheduler.
func WithScheduler(s sched.Scheduler) Option {
	return func(n *Network) { n.sch = s }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Network) { n.logger = l }
}

// New creates an empty network with a root group.
func New(catalog *lattice.Catalog, opts ...Option) *Network {
	n := &Network{
		catalog:      catalog,
		clock:        sched.NewClock(),
		arena:        NewArena(),
		logger:       slog.Default(),
		groups:       make(map[string]*group),
		contactGroup: make(map[string]string),
		contactWires: make(map[string][]string),
		subs:         make(map[int64]Subscriber),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.sch == nil {
		n.sch = sched.NewImmediate(n.runTask)
	}
	n.groups[RootGroupID] = newGroup(RootGroupID, "")
	return n
}

// Runner returns the task runner for wiring external schedulers.
// A scheduler constructed before the network exists can be pointed here.
func (n *Network) Runner() sched.Runner {
	return n.runTask
}

func newGroup(id, parent string) *group {
	return &group{
		id:        id,
		parent:    parent,
		contacts:  make(map[string]*contact),
		wires:     make(map[string]*wire),
		subgroups: make(map[string]struct{}),
	}
}

// AddGroup creates an empty subgroup under parent.
func (n *Network) AddGroup(parentID, groupID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	parent, ok := n.groups[parentID]
	if !ok {
		return fmt.Errorf("UNKNOWN_REFERENCE: group %q", parentID)
	}
	if _, exists := n.groups[groupID]; exists {
		return fmt.Errorf("group %q already exists", groupID)
	}

	n.groups[groupID] = newGroup(groupID, parentID)
	parent.subgroups[groupID] = struct{}{}
	n.emitLocked(Change{Kind: ChangeGroupAdded, GroupID: groupID})
	return nil
}

// RegisterGroup creates a subgroup backed by a primitive gadget.
// One boundary contact is created per pinout pin, named groupID:pin,
// with the blend mode from blend (falling back to defaultBlend).
func (n *Network) RegisterGroup(parentID, groupID string, g Gadget, blend map[string]string, defaultBlend string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	parent, ok := n.groups[parentID]
	if !ok {
		return fmt.Errorf("UNKNOWN_REFERENCE: group %q", parentID)
	}
	if _, exists := n.groups[groupID]; exists {
		return fmt.Errorf("group %q already exists", groupID)
	}

	pinout := g.Pinout()
	grp := newGroup(groupID, parentID)
	grp.gadgetID = g.ID()

	addPin := func(pin string, b Boundary) error {
		mode := defaultBlend
		if m, ok := blend[pin]; ok {
			mode = m
		}
		lat, err := n.catalog.Resolve(mode)
		if err != nil {
			return err
		}
		cid := groupID + ":" + pin
		grp.contacts[cid] = &contact{
			id:        cid,
			blendMode: mode,
			boundary:  b,
			content:   lat.Bottom(),
		}
		n.contactGroup[cid] = groupID
		return nil
	}
	for _, pin := range pinout.Inputs {
		if err := addPin(pin, BoundaryInput); err != nil {
			return err
		}
	}
	for _, pin := range pinout.Outputs {
		if err := addPin(pin, BoundaryOutput); err != nil {
			return err
		}
	}

	if err := n.arena.Put(g); err != nil {
		// Roll back the contact index; the group was never published.
		for cid := range grp.contacts {
			delete(n.contactGroup, cid)
		}
		return err
	}

	n.groups[groupID] = grp
	parent.subgroups[groupID] = struct{}{}
	n.emitLocked(Change{Kind: ChangeGroupAdded, GroupID: groupID})
	for cid, c := range grp.contacts {
		n.emitLocked(Change{Kind: ChangeContactAdded, GroupID: groupID, ContactID: cid, Content: c.content})
	}
	return nil
}

// RemoveGroup removes a group, cascading to its subgroups, contacts,
// wires, and any wires elsewhere that touch its contacts. The root group
// cannot be removed. Gadget arena entries are killed, not erased.
func (n *Network) RemoveGroup(groupID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if groupID == RootGroupID {
		return fmt.Errorf("cannot remove root group")
	}
	grp, ok := n.groups[groupID]
	if !ok {
		return fmt.Errorf("UNKNOWN_REFERENCE: group %q", groupID)
	}

	n.removeGroupLocked(grp)
	if parent, ok := n.groups[grp.parent]; ok {
		delete(parent.subgroups, groupID)
	}
	return nil
}

func (n *Network) removeGroupLocked(grp *group) {
	for sub := range grp.subgroups {
		if sg, ok := n.groups[sub]; ok {
			n.removeGroupLocked(sg)
		}
	}
	for cid := range grp.contacts {
		n.removeContactLocked(grp, cid)
	}
	if grp.gadgetID != "" {
		n.arena.Kill(grp.gadgetID)
	}
	delete(n.groups, grp.id)
	n.emitLocked(Change{Kind: ChangeGroupRemoved, GroupID: grp.id})
}

// AddContact creates a contact in a group with the given blend mode.
// Content starts at the blend mode lattice's bottom.
func (n *Network) AddContact(groupID, contactID, blendMode string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	grp, ok := n.groups[groupID]
	if !ok {
		return fmt.Errorf("UNKNOWN_REFERENCE: group %q", groupID)
	}
	if _, exists := n.contactGroup[contactID]; exists {
		return fmt.Errorf("contact %q already exists", contactID)
	}
	lat, err := n.catalog.Resolve(blendMode)
	if err != nil {
		return err
	}

	c := &contact{id: contactID, blendMode: blendMode, content: lat.Bottom()}
	grp.contacts[contactID] = c
	n.contactGroup[contactID] = groupID
	n.emitLocked(Change{Kind: ChangeContactAdded, GroupID: groupID, ContactID: contactID, Content: c.content})
	return nil
}

// RemoveContact removes a contact and every wire touching it.
func (n *Network) RemoveContact(contactID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	gid, ok := n.contactGroup[contactID]
	if !ok {
		return fmt.Errorf("UNKNOWN_REFERENCE: contact %q", contactID)
	}
	n.removeContactLocked(n.groups[gid], contactID)
	return nil
}

func (n *Network) removeContactLocked(grp *group, contactID string) {
	// Wires live in their owning group, which may differ from the
	// contact's group when the contact is a boundary.
	for _, g := range n.groups {
		for wid, w := range g.wires {
			if w.from == contactID || w.to == contactID {
				n.removeWireLocked(g, wid)
			}
		}
	}
	delete(grp.contacts, contactID)
	delete(n.contactGroup, contactID)
	delete(n.contactWires, contactID)
	n.emitLocked(Change{Kind: ChangeContactRemoved, GroupID: grp.id, ContactID: contactID})
}

// Connect wires two contacts. The wire is owned by the from-contact's
// group. Cross-group wiring is only permitted when the far endpoint is
// a boundary contact; interior contacts stay private to their group.
func (n *Network) Connect(wireID, fromID, toID string, bidirectional bool) error {
	n.mu.Lock()

	fromGID, ok := n.contactGroup[fromID]
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("UNKNOWN_REFERENCE: contact %q", fromID)
	}
	toGID, ok := n.contactGroup[toID]
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("UNKNOWN_REFERENCE: contact %q", toID)
	}
	if fromGID != toGID {
		from := n.groups[fromGID].contacts[fromID]
		to := n.groups[toGID].contacts[toID]
		if from.boundary == BoundaryNone && to.boundary == BoundaryNone {
			n.mu.Unlock()
			return fmt.Errorf("POLICY_VIOLATION: wire %q crosses groups %q and %q without a boundary contact", wireID, fromGID, toGID)
		}
	}
	if n.findWireLocked(wireID) != nil {
		n.mu.Unlock()
		return fmt.Errorf("wire %q already exists", wireID)
	}

	w := &wire{id: wireID, from: fromID, to: toID, bidirectional: bidirectional, group: fromGID}
	n.groups[fromGID].wires[wireID] = w
	n.contactWires[fromID] = append(n.contactWires[fromID], wireID)
	if bidirectional {
		n.contactWires[toID] = append(n.contactWires[toID], wireID)
	}
	n.emitLocked(Change{Kind: ChangeWireAdded, GroupID: fromGID, WireID: wireID})

	// A new wire must carry whatever the source already holds,
	// otherwise the network would not be at a fixed point.
	pending := n.seedWireLocked(w)
	n.mu.Unlock()

	for _, t := range pending {
		n.sch.Schedule(t)
	}
	return nil
}

func (n *Network) seedWireLocked(w *wire) []sched.Task {
	var tasks []sched.Task
	push := func(srcID, dstID string) {
		src := n.lookupLocked(srcID)
		if src == nil || src.content == nil {
			return
		}
		tasks = append(tasks, sched.Task{
			ContactID: dstID,
			Content:   ir.Clone(src.content),
			Seq:       n.clock.Next(),
		})
	}
	push(w.from, w.to)
	if w.bidirectional {
		push(w.to, w.from)
	}
	return tasks
}

// Disconnect removes a wire.
func (n *Network) Disconnect(wireID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, g := range n.groups {
		if _, ok := g.wires[wireID]; ok {
			n.removeWireLocked(g, wireID)
			return nil
		}
	}
	return fmt.Errorf("UNKNOWN_REFERENCE: wire %q", wireID)
}

func (n *Network) removeWireLocked(grp *group, wireID string) {
	w := grp.wires[wireID]
	n.contactWires[w.from] = deleteOne(n.contactWires[w.from], wireID)
	if w.bidirectional {
		n.contactWires[w.to] = deleteOne(n.contactWires[w.to], wireID)
	}
	delete(grp.wires, wireID)
	n.emitLocked(Change{Kind: ChangeWireRemoved, GroupID: grp.id, WireID: wireID})
}

func deleteOne(ids []string, id string) []string {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}

// ScheduleUpdate validates content against the contact's blend mode and
// hands it to the scheduler. With the immediate scheduler the update and
// all downstream propagation complete before this returns; with other
// schedulers the work is deferred until Flush or the driver runs.
func (n *Network) ScheduleUpdate(contactID string, content ir.Value, priority int) error {
	n.mu.Lock()
	c := n.lookupLocked(contactID)
	if c == nil {
		n.mu.Unlock()
		return fmt.Errorf("UNKNOWN_REFERENCE: contact %q", contactID)
	}
	lat, err := n.catalog.Resolve(c.blendMode)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	if err := lat.Validate(content); err != nil {
		n.mu.Unlock()
		return err
	}
	task := sched.Task{
		ContactID: contactID,
		Content:   ir.Clone(content),
		Priority:  priority,
		Seq:       n.clock.Next(),
	}
	n.mu.Unlock()

	n.sch.Schedule(task)
	return nil
}

// Flush drains the scheduler.
func (n *Network) Flush() { n.sch.Flush() }

// runTask is the scheduler's runner: join the incoming content into the
// contact and, if the contact changed, forward the new content along
// every wire leaving it. Unknown contacts (removed after scheduling) are
// logged and skipped; a bad task never poisons the queue.
func (n *Network) runTask(task sched.Task) {
	n.mu.Lock()

	c := n.lookupLocked(task.ContactID)
	if c == nil {
		n.mu.Unlock()
		n.logger.Warn("dropping task for unknown contact", "contact_id", task.ContactID)
		return
	}
	lat, err := n.catalog.Resolve(c.blendMode)
	if err != nil {
		n.mu.Unlock()
		n.logger.Warn("dropping task", "contact_id", task.ContactID, "error", err)
		return
	}

	joined, err := lat.Join(c.content, task.Content)
	if err != nil {
		n.mu.Unlock()
		n.logger.Warn("join failed", "contact_id", task.ContactID, "blend_mode", c.blendMode, "error", err)
		return
	}
	if lattice.Equal(lat, joined, c.content) {
		n.mu.Unlock()
		return
	}
	c.content = joined

	gid := n.contactGroup[task.ContactID]
	n.emitLocked(Change{Kind: ChangeContactUpdated, GroupID: gid, ContactID: task.ContactID, Content: joined})

	// Collect follow-up tasks under the lock, schedule them outside it.
	var pending []sched.Task
	for _, wid := range n.contactWires[task.ContactID] {
		w := n.findWireLocked(wid)
		if w == nil {
			continue
		}
		dst := w.to
		if w.bidirectional && w.to == task.ContactID {
			dst = w.from
		}
		if dst == task.ContactID {
			continue
		}
		pending = append(pending, sched.Task{
			ContactID: dst,
			Content:   ir.Clone(joined),
			Priority:  task.Priority,
			Seq:       n.clock.Next(),
		})
	}
	n.mu.Unlock()

	for _, t := range pending {
		n.sch.Schedule(t)
	}
}

func (n *Network) lookupLocked(contactID string) *contact {
	gid, ok := n.contactGroup[contactID]
	if !ok {
		return nil
	}
	return n.groups[gid].contacts[contactID]
}

func (n *Network) findWireLocked(wireID string) *wire {
	for _, g := range n.groups {
		if w, ok := g.wires[wireID]; ok {
			return w
		}
	}
	return nil
}

// Content returns a clone of a contact's current content.
func (n *Network) Content(contactID string) (ir.Value, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := n.lookupLocked(contactID)
	if c == nil {
		return nil, fmt.Errorf("UNKNOWN_REFERENCE: contact %q", contactID)
	}
	if c.content == nil {
		return nil, nil
	}
	return ir.Clone(c.content), nil
}

// Subscribe registers a change listener and returns its unsubscribe
// function. Listeners run synchronously on the mutating goroutine and
// must not call back into the network.
func (n *Network) Subscribe(fn Subscriber) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextSub
	n.nextSub++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *Network) emitLocked(ch Change) {
	if ch.Content != nil {
		ch.Content = ir.Clone(ch.Content)
	}
	for _, fn := range n.subs {
		fn(ch)
	}
}

// ExportState returns a deep snapshot of the whole network.
func (n *Network) ExportState() NetworkState {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := NetworkState{
		RootGroupID: RootGroupID,
		Groups:      make(map[string]GroupState, len(n.groups)),
	}
	for gid, g := range n.groups {
		gs := GroupState{
			ID:       gid,
			Parent:   g.parent,
			GadgetID: g.gadgetID,
			Contacts: make(map[string]ContactState, len(g.contacts)),
			Wires:    make(map[string]WireState, len(g.wires)),
		}
		for sub := range g.subgroups {
			gs.Subgroups = append(gs.Subgroups, sub)
		}
		slices.Sort(gs.Subgroups)
		for cid, c := range g.contacts {
			cs := ContactState{ID: cid, BlendMode: c.blendMode, Boundary: c.boundary}
			if c.content != nil {
				cs.Content = ir.Clone(c.content)
			}
			gs.Contacts[cid] = cs
		}
		for wid, w := range g.wires {
			gs.Wires[wid] = WireState{ID: wid, From: w.from, To: w.to, Bidirectional: w.bidirectional}
		}
		out.Groups[gid] = gs
	}
	return out
}

// ImportState replaces the network's state with a snapshot. Blend modes
// and content are validated against the catalog before anything is
// touched; on error the network is unchanged. Gadget bindings are not
// restored, the arena only tracks live registrations.
func (n *Network) ImportState(state NetworkState) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for gid, g := range state.Groups {
		for cid, c := range g.Contacts {
			lat, err := n.catalog.Resolve(c.BlendMode)
			if err != nil {
				return fmt.Errorf("group %q contact %q: %w", gid, cid, err)
			}
			if c.Content != nil {
				if err := lat.Validate(c.Content); err != nil {
					return fmt.Errorf("group %q contact %q: %w", gid, cid, err)
				}
			}
		}
	}
	if _, ok := state.Groups[state.RootGroupID]; !ok && state.RootGroupID != "" {
		return fmt.Errorf("UNKNOWN_REFERENCE: root group %q", state.RootGroupID)
	}

	groups := make(map[string]*group, len(state.Groups))
	contactGroup := make(map[string]string)
	contactWires := make(map[string][]string)
	for gid, gs := range state.Groups {
		g := newGroup(gid, gs.Parent)
		g.gadgetID = gs.GadgetID
		for _, sub := range gs.Subgroups {
			g.subgroups[sub] = struct{}{}
		}
		for cid, cs := range gs.Contacts {
			var content ir.Value
			if cs.Content != nil {
				content = ir.Clone(cs.Content)
			}
			g.contacts[cid] = &contact{id: cid, blendMode: cs.BlendMode, boundary: cs.Boundary, content: content}
			contactGroup[cid] = gid
		}
		for wid, ws := range gs.Wires {
			g.wires[wid] = &wire{id: wid, from: ws.From, to: ws.To, bidirectional: ws.Bidirectional, group: gid}
			contactWires[ws.From] = append(contactWires[ws.From], wid)
			if ws.Bidirectional {
				contactWires[ws.To] = append(contactWires[ws.To], wid)
			}
		}
		groups[gid] = g
	}
	if _, ok := groups[RootGroupID]; !ok {
		groups[RootGroupID] = newGroup(RootGroupID, "")
	}

	n.groups = groups
	n.contactGroup = contactGroup
	n.contactWires = contactWires
	return nil
}

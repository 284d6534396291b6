package sched

import (
	"sync/atomic"

	"github.com/loomworks/loom/internal/ir"
)

// Task is one pending content update destined for a contact.
type Task struct {
	// ContactID addresses the destination contact.
	ContactID string
	// Content is the value to merge at the contact.
	Content ir.Value
	// Priority orders tasks in the priority scheduler. Larger runs first.
	// Ignored by the other strategies.
	Priority int
	// Seq is the arrival stamp from the scheduler's logical clock.
	Seq int64
}

// Runner executes one task: the network's merge-and-propagate entry
// point. A Runner call completes the task's full propagation closure
// before returning.
type Runner func(Task)

// Scheduler decides when scheduled tasks reach the Runner.
type Scheduler interface {
	// Schedule submits a task. The scheduler stamps Seq.
	Schedule(t Task)
	// Flush synchronously drains all pending tasks.
	Flush()
	// Clear discards pending tasks without running them.
	Clear()
}

// Clock is a monotonic logical clock for arrival stamping.
// All ordering decisions use seq numbers from this clock - never
// wall-clock timestamps, which race and break replay.
//
// Thread-safety: atomic; safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number. Each call returns a unique,
// strictly increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the clock's position without advancing it.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

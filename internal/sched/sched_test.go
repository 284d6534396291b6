package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/ir"
)

func collectRunner(got *[]string) Runner {
	return func(t Task) {
		*got = append(*got, t.ContactID)
	}
}

// TestImmediate_ArrivalOrder verifies strict arrival-order execution.
func TestImmediate_ArrivalOrder(t *testing.T) {
	var got []string
	s := NewImmediate(collectRunner(&got))

	s.Schedule(Task{ContactID: "a", Content: ir.Int(1)})
	s.Schedule(Task{ContactID: "b", Content: ir.Int(2)})
	s.Schedule(Task{ContactID: "c", Content: ir.Int(3)})

	assert.Equal(t, []string{"a", "b", "c"}, got)
}

// TestImmediate_ReentrantSchedule verifies a runner scheduling follow-on
// work keeps the one-closure-at-a-time guarantee: the follow-on runs
// after the current task completes, not nested inside it.
func TestImmediate_ReentrantSchedule(t *testing.T) {
	var got []string
	var s *Immediate
	s = NewImmediate(func(task Task) {
		got = append(got, "start:"+task.ContactID)
		if task.ContactID == "root" {
			s.Schedule(Task{ContactID: "child"})
		}
		got = append(got, "end:"+task.ContactID)
	})

	s.Schedule(Task{ContactID: "root"})

	assert.Equal(t, []string{"start:root", "end:root", "start:child", "end:child"}, got)
}

// TestImmediate_Clear verifies pending tasks are discarded.
func TestImmediate_Clear(t *testing.T) {
	var got []string
	s := NewImmediate(collectRunner(&got))
	s.Clear()
	s.Flush()
	assert.Empty(t, got)
}

// TestBatch_FlushDrains verifies Flush runs everything buffered,
// including tasks scheduled during the flush itself.
func TestBatch_FlushDrains(t *testing.T) {
	var got []string
	var s *Batch
	s = NewBatch(func(task Task) {
		got = append(got, task.ContactID)
		if task.ContactID == "a" {
			s.Schedule(Task{ContactID: "a2"})
		}
	}, 100, time.Hour) // delay never fires in this test

	s.Schedule(Task{ContactID: "a"})
	s.Schedule(Task{ContactID: "b"})
	assert.Empty(t, got, "nothing runs before the batch flushes")

	s.Flush()
	assert.Equal(t, []string{"a", "b", "a2"}, got)
}

// TestBatch_SizeTriggersFlush verifies a full buffer flushes eagerly.
func TestBatch_SizeTriggersFlush(t *testing.T) {
	var got []string
	s := NewBatch(collectRunner(&got), 2, time.Hour)

	s.Schedule(Task{ContactID: "a"})
	assert.Empty(t, got)
	s.Schedule(Task{ContactID: "b"})
	assert.Equal(t, []string{"a", "b"}, got)
}

// TestBatch_Clear verifies buffered tasks are dropped on teardown.
func TestBatch_Clear(t *testing.T) {
	var got []string
	s := NewBatch(collectRunner(&got), 100, time.Hour)
	s.Schedule(Task{ContactID: "a"})
	s.Clear()
	s.Flush()
	assert.Empty(t, got)
}

// TestPriority_Ordering verifies priority-then-arrival ordering.
func TestPriority_Ordering(t *testing.T) {
	var got []string
	s := NewPriority(collectRunner(&got))

	s.Schedule(Task{ContactID: "low-1", Priority: 1})
	s.Schedule(Task{ContactID: "high", Priority: 10})
	s.Schedule(Task{ContactID: "low-2", Priority: 1})
	s.Schedule(Task{ContactID: "mid", Priority: 5})

	s.Flush()
	assert.Equal(t, []string{"high", "mid", "low-1", "low-2"}, got)
}

// TestPriority_FlushReachesEmpty verifies tasks scheduled mid-drain are
// drained too.
func TestPriority_FlushReachesEmpty(t *testing.T) {
	var got []string
	var s *Priority
	s = NewPriority(func(task Task) {
		got = append(got, task.ContactID)
		if task.ContactID == "first" {
			s.Schedule(Task{ContactID: "second", Priority: 100})
		}
	})

	s.Schedule(Task{ContactID: "first"})
	s.Flush()

	assert.Equal(t, []string{"first", "second"}, got)
	assert.Equal(t, 0, s.Len())
}

// TestFrame_ManualTicks verifies frame batching with a hand-driven clock.
func TestFrame_ManualTicks(t *testing.T) {
	var got []string
	s := NewFrame(collectRunner(&got), NewTickerClock(time.Hour))

	s.Schedule(Task{ContactID: "a"})
	s.Schedule(Task{ContactID: "b"})
	assert.Empty(t, got, "no frame has ticked")

	s.Flush() // a manual frame
	assert.Equal(t, []string{"a", "b"}, got)
}

// TestClock_Monotonic verifies stamping is strictly increasing and
// resumable.
func TestClock_Monotonic(t *testing.T) {
	c := NewClock()
	a := c.Next()
	b := c.Next()
	require.Less(t, a, b)
	assert.Equal(t, b, c.Current())

	resumed := NewClockAt(100)
	assert.Equal(t, int64(101), resumed.Next())
}

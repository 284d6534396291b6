package sched

import (
	"container/heap"
	"sync"
)

// Priority orders pending tasks by priority (higher first), breaking
// ties by arrival seq. Under sustained high-priority load, low-priority
// tasks starve; that is an accepted tradeoff of this strategy, not a
// defect.
type Priority struct {
	mu     sync.Mutex
	clock  *Clock
	runner Runner
	heap   taskHeap
}

// NewPriority creates a priority scheduler.
func NewPriority(runner Runner) *Priority {
	return &Priority{clock: NewClock(), runner: runner}
}

// Schedule enqueues the task by priority.
func (s *Priority) Schedule(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Seq = s.clock.Next()
	heap.Push(&s.heap, t)
}

// Flush synchronously drains the queue in priority order. Tasks
// scheduled during the drain participate in the same drain, so a flush
// always reaches an empty queue.
func (s *Priority) Flush() {
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.heap).(Task)
		s.mu.Unlock()

		s.runner(t)
	}
}

// Clear discards all pending tasks.
func (s *Priority) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heap = s.heap[:0]
}

// Len returns the number of pending tasks. Diagnostics only.
func (s *Priority) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// taskHeap implements heap.Interface: max-priority first, then FIFO.
type taskHeap []Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = Task{} // release content for GC
	*h = old[:n-1]
	return t
}

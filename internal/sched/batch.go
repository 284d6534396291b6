package sched

import (
	"sync"
	"time"
)

// Batch buffers tasks and flushes them together, trading the immediate
// scheduler's determinism for throughput. A flush happens when the
// buffer reaches batchSize or batchDelay elapses since the first
// buffered task, whichever comes first.
//
// Ordering is relaxed to batch granularity only: tasks within one batch
// still run in arrival order, but two tasks in the same batch may
// interleave their downstream effects with respect to external
// observation between batches.
type Batch struct {
	mu        sync.Mutex
	clock     *Clock
	runner    Runner
	pending   []Task
	batchSize int
	delay     time.Duration
	timer     *time.Timer
}

// NewBatch creates a batch scheduler.
// batchSize <= 0 defaults to 64; delay <= 0 defaults to 10ms.
func NewBatch(runner Runner, batchSize int, delay time.Duration) *Batch {
	if batchSize <= 0 {
		batchSize = 64
	}
	if delay <= 0 {
		delay = 10 * time.Millisecond
	}
	return &Batch{
		clock:     NewClock(),
		runner:    runner,
		batchSize: batchSize,
		delay:     delay,
	}
}

// Schedule buffers the task, flushing if the buffer is full.
func (s *Batch) Schedule(t Task) {
	s.mu.Lock()
	t.Seq = s.clock.Next()
	s.pending = append(s.pending, t)

	if len(s.pending) >= s.batchSize {
		batch := s.take()
		s.mu.Unlock()
		s.run(batch)
		return
	}

	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.Flush)
	}
	s.mu.Unlock()
}

// Flush synchronously drains the buffer, including tasks scheduled by
// the drained tasks themselves.
func (s *Batch) Flush() {
	for {
		s.mu.Lock()
		batch := s.take()
		s.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		s.run(batch)
	}
}

// Clear discards buffered tasks and stops the pending flush timer.
func (s *Batch) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// take removes and returns the current buffer. Caller holds mu.
func (s *Batch) take() []Task {
	batch := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return batch
}

func (s *Batch) run(batch []Task) {
	for _, t := range batch {
		s.runner(t)
	}
}

package sched

import "sync"

// Immediate is the synchronous reference scheduler: tasks run in strict
// arrival order, each task's full propagation closure completing before
// the next begins. Deterministic - this is the scheduler tests and
// replay use.
//
// Reentrant Schedule calls (a runner scheduling follow-on work) are
// queued and drained by the outermost call, trampoline-style, so the
// arrival-order guarantee holds even for self-scheduling propagation.
type Immediate struct {
	mu      sync.Mutex
	clock   *Clock
	runner  Runner
	pending []Task
	running bool
}

// NewImmediate creates an immediate scheduler driving runner.
func NewImmediate(runner Runner) *Immediate {
	return &Immediate{clock: NewClock(), runner: runner}
}

// Schedule runs the task synchronously, after any tasks already queued.
func (s *Immediate) Schedule(t Task) {
	s.mu.Lock()
	t.Seq = s.clock.Next()
	s.pending = append(s.pending, t)
	if s.running {
		// An outer Schedule call is already draining.
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.drain()
}

// Flush drains anything still pending. With Immediate this is normally a
// no-op (Schedule drains eagerly) but is kept for Scheduler conformance.
func (s *Immediate) Flush() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.drain()
}

// Clear discards pending tasks.
func (s *Immediate) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

func (s *Immediate) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		t := s.pending[0]
		// Nil out the slot so the backing array does not retain content.
		s.pending[0] = Task{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.runner(t)
	}
}

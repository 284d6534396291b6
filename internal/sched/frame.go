package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FrameClock supplies frame ticks. The production clock is a wall-clock
// ticker; tests drive frames by hand through a channel they own.
type FrameClock interface {
	// Frames returns the tick channel.
	Frames() <-chan time.Time
	// Stop releases the clock's resources.
	Stop()
}

// TickerClock is a FrameClock backed by time.Ticker.
type TickerClock struct {
	ticker *time.Ticker
}

// NewTickerClock creates a ticker-driven frame clock.
// interval <= 0 defaults to ~60 frames per second.
func NewTickerClock(interval time.Duration) *TickerClock {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &TickerClock{ticker: time.NewTicker(interval)}
}

// Frames returns the tick channel.
func (c *TickerClock) Frames() <-chan time.Time { return c.ticker.C }

// Stop stops the underlying ticker.
func (c *TickerClock) Stop() { c.ticker.Stop() }

// Frame batches tasks to a render clock: everything scheduled since the
// last frame runs together on the next tick. Non-deterministic with a
// real clock - intended for UI-facing consumers only, never for replay.
type Frame struct {
	mu      sync.Mutex
	clock   *Clock
	runner  Runner
	frames  FrameClock
	pending []Task
}

// NewFrame creates a frame scheduler ticking on frames.
func NewFrame(runner Runner, frames FrameClock) *Frame {
	return &Frame{clock: NewClock(), runner: runner, frames: frames}
}

// Schedule buffers the task for the next frame.
func (s *Frame) Schedule(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Seq = s.clock.Next()
	s.pending = append(s.pending, t)
}

// Run drives frames until the context is cancelled.
// Must be called from exactly one goroutine.
func (s *Frame) Run(ctx context.Context) error {
	slog.Debug("frame scheduler starting")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("frame scheduler stopping", "reason", ctx.Err())
			s.frames.Stop()
			return ctx.Err()
		case <-s.frames.Frames():
			s.Flush()
		}
	}
}

// Flush runs everything buffered so far as one frame.
func (s *Frame) Flush() {
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, t := range batch {
			s.runner(t)
		}
	}
}

// Clear discards buffered tasks.
func (s *Frame) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

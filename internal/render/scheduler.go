package render

import (
	"context"
	"sync/atomic"
	"time"
)

// Scheduler coalesces redraw requests: any number of Schedule calls between
// two frames produce a single draw.
type Scheduler struct {
	interval time.Duration
	draw     func()
	pending  atomic.Bool
	frames   atomic.Int64
}

func NewScheduler(interval time.Duration, draw func()) *Scheduler {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &Scheduler{interval: interval, draw: draw}
}

func (s *Scheduler) Schedule() {
	s.pending.Store(true)
}

func (s *Scheduler) Pending() bool {
	return s.pending.Load()
}

// Frames counts draws performed so far.
func (s *Scheduler) Frames() int64 {
	return s.frames.Load()
}

// Flush draws now if a redraw is pending.
func (s *Scheduler) Flush() {
	if s.pending.CompareAndSwap(true, false) {
		s.draw()
		s.frames.Add(1)
	}
}

// Run fires pending redraws on every frame tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

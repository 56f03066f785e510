// Package tasks runs background work that must not overlap with itself.
package tasks

import (
	"context"
	"sync"
	"time"
)

// Run is one execution started through a Slot.
type Run struct {
	StartedAt time.Time

	done chan struct{}
	err  error
}

// Done is closed once the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the run's error after Done is closed, nil before.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Slot holds at most one running task at a time.
type Slot struct {
	mu      sync.Mutex
	current *Run
	now     func() time.Time
}

func NewSlot() *Slot {
	return &Slot{now: time.Now}
}

// StartIfNotRunning launches fn unless a previous run is still in flight, in
// which case that run is returned with started=false. fn gets a context that
// keeps ctx's values but not its cancellation, so it outlives the caller.
func (s *Slot) StartIfNotRunning(ctx context.Context, fn func(context.Context) error) (run *Run, started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		select {
		case <-s.current.done:
		default:
			return s.current, false
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	run = &Run{StartedAt: s.now(), done: make(chan struct{})}
	s.current = run

	detached := context.WithoutCancel(ctx)
	go func() {
		defer close(run.done)
		run.err = fn(detached)
	}()
	return run, true
}

// Current returns the in-flight run, or nil when the slot is idle.
func (s *Slot) Current() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	select {
	case <-s.current.done:
		return nil
	default:
		return s.current
	}
}

// Package sched implements the single-threaded cooperative scheduler the
// core depends on as an external collaborator (§1, §5): "register
// read-readiness on a socket; register a timeout; cancel either." Each
// bearer instance owns exactly one Actor; all mutable bearer state (the
// sessions map, the fragmentation queues, the validation table) is only
// ever touched from tasks running on that Actor's goroutine, so there are
// no shared-memory data races by construction and no locks are needed.
package sched

import (
	"context"
	"sync/atomic"
	"time"
)

// Task is a unit of work posted to an Actor. Exactly one Task runs to
// completion at a time; a Task must not block on anything other than
// values it already owns (§5 "Suspension points").
type Task func()

// Actor serializes all access to one bearer's mutable state through a
// single goroutine draining a task channel.
type Actor struct {
	tasks   chan Task
	stopped chan struct{}
}

// NewActor creates an Actor with the given task queue depth. A modest
// buffer absorbs bursts (e.g. several timers firing in the same instant)
// without requiring the posting goroutine to block.
func NewActor(queueDepth int) *Actor {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Actor{tasks: make(chan Task, queueDepth), stopped: make(chan struct{})}
}

// Run drains the task queue until ctx is canceled. Callers run this in its
// own goroutine; everything else communicates with the Actor via Post.
// stopped is closed on return so any goroutine blocked trying to hand off
// a late timer fire (see AfterFunc) can give up instead of leaking.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.tasks:
			t()
		}
	}
}

// Post enqueues t to run on the Actor's goroutine. It blocks until either
// the task is accepted or ctx is canceled.
func (a *Actor) Post(ctx context.Context, t Task) error {
	select {
	case a.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PostSync runs t on the Actor's goroutine and blocks until it returns.
// Used by synchronous, read-only callers outside the actor (the control
// server's session lookups) that need a consistent snapshot without
// introducing a second writer.
func (a *Actor) PostSync(ctx context.Context, t Task) error {
	done := make(chan struct{})
	err := a.Post(ctx, func() {
		defer close(done)
		t()
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelFunc cancels a previously scheduled timer task. It is idempotent
// and safe to call after the timer has already fired; in that case it is
// a no-op that returns false, matching time.Timer.Stop's contract.
type CancelFunc func() bool

// AfterFunc schedules fn to run on the Actor's goroutine after d elapses.
// A canceled timer MUST NOT invoke fn (§5 "Cancellation"); this is
// enforced by a separate cancellation flag checked at fire time, since
// time.Timer.Stop alone cannot prevent a fire that has already raced past
// it.
func (a *Actor) AfterFunc(d time.Duration, fn Task) CancelFunc {
	var cancelled atomic.Bool

	timer := time.AfterFunc(d, func() {
		if cancelled.Load() {
			return
		}
		select {
		case a.tasks <- fn:
		case <-a.stopped:
		default:
			go func() {
				select {
				case a.tasks <- fn:
				case <-a.stopped:
				}
			}()
		}
	})

	return func() bool {
		cancelled.Store(true)
		return timer.Stop()
	}
}

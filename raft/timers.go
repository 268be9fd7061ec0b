package raft

import (
	"sync"
	"time"
)

// timer is a generation-tagged one-shot deadline, shared by the
// leader-timeout, election-timeout, and per-peer heartbeat-timeout.
// Handlers check the generation before acting, so a fire already in flight
// when the timer is reset or canceled is discarded instead of acting on
// stale state.
type timer struct {
	mu         sync.Mutex
	generation uint64
	t          *time.Timer
}

func newTimer() *timer {
	return &timer{}
}

// arm schedules fn to run after d. Any fire still in flight from a previous
// arm/reset is invalidated: its generation will no longer match and it will
// be discarded instead of invoking fn. arm is equivalent to cancel-then-arm
// when called on an already-armed timer.
func (tm *timer) arm(d time.Duration, fn func()) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.generation++
	gen := tm.generation
	tm.t = time.AfterFunc(d, func() {
		tm.mu.Lock()
		current := tm.generation
		tm.mu.Unlock()
		if current != gen {
			return // stale fire racing a cancel/reset; ignored
		}
		fn()
	})
}

// reset is cancel-then-arm.
func (tm *timer) reset(d time.Duration, fn func()) {
	tm.arm(d, fn)
}

// cancel stops the timer and invalidates any fire already in flight.
func (tm *timer) cancel() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.generation++
}

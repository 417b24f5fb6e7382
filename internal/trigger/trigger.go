// Package trigger implements the Preload Trigger: a single-shot,
// cancellable latch that resolves either on a timeout or on an external
// signal.
package trigger

import (
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// Reason identifies why a Trigger fired.
type Reason string

const (
	// Time means the trigger's scheduled timeout elapsed.
	Time Reason = "time"
	// Read means bytes_read crossed the preloadRead threshold.
	Read Reason = "read"
)

// State is one of Armed, Fired, or Cancelled. Fired and Cancelled are
// terminal; all transitions out of them are no-ops.
type State int

const (
	Armed State = iota
	Fired
	Cancelled
)

// Resolution is the outcome delivered to subscribers: either a firing
// reason, or nothing (Cancelled).
type Resolution struct {
	State    State
	Reason   Reason
	AtNano   int64
}

// Trigger is a single-shot latch. The zero value is not usable; construct
// with New.
type Trigger struct {
	mu       sync.Mutex
	state    State
	reason   Reason
	timer    *time.Timer
	resolved chan struct{}
	result   Resolution
}

// New returns a Trigger in the Armed state with no scheduled timeout.
func New() *Trigger {
	return &Trigger{
		state:    Armed,
		resolved: make(chan struct{}),
	}
}

// FireAfter schedules the trigger to fire with defaultReason after d
// elapses, unless it resolves (fires or is cancelled) before then. Calling
// FireAfter more than once replaces any previously scheduled timer.
func (t *Trigger) FireAfter(d time.Duration, defaultReason Reason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Armed {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	if d <= 0 {
		// Boundary: preloadOpen = 0 fires immediately.
		t.resolveLocked(Fired, defaultReason)
		return
	}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.resolveLocked(Fired, defaultReason)
	})
}

// Fire immediately transitions Armed -> Fired(reason), clearing any pending
// timer. A second Fire call, or a Fire after Cancel, is a no-op.
func (t *Trigger) Fire(reason Reason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolveLocked(Fired, reason)
}

// Cancel transitions Armed -> Cancelled, clearing any pending timer. A
// Cancel after the trigger has already fired or been cancelled is a no-op.
func (t *Trigger) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolveLocked(Cancelled, "")
}

// resolveLocked performs the Armed -> {Fired,Cancelled} transition. Caller
// must hold t.mu.
func (t *Trigger) resolveLocked(state State, reason Reason) {
	if t.state != Armed {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.state = state
	t.reason = reason
	t.result = Resolution{State: state, Reason: reason, AtNano: timecache.CachedTimeNano()}
	close(t.resolved)
}

// State returns the trigger's current state.
func (t *Trigger) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscribe returns a channel that is closed exactly once, when the trigger
// resolves. If the trigger has already resolved, the returned channel is
// already closed, and Resolution() reflects the recorded outcome
// immediately. Exactly one logical subscriber is expected, but Subscribe
// may safely be called more than once; every caller observes the same
// resolution.
func (t *Trigger) Subscribe() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolved
}

// Resolution returns the recorded outcome. Before resolution it reports
// State: Armed and a zero Reason.
func (t *Trigger) Resolution() Resolution {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

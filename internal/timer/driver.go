// Package timer schedules the close-of-bidding callback for the team
// currently up in an auction.
//
// A Driver holds at most one armed callback. Every Arm or Rearm starts a new
// generation and stops the previous runtime timer; a callback that was
// already in flight when it was superseded sees a stale generation and does
// nothing. The callback therefore runs at most once per armed period, and
// rearming any number of times leaves exactly one live timer.
package timer

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time so tests can drive deadlines manually.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

// Stopper cancels a scheduled callback.
type Stopper interface {
	Stop() bool
}

// SystemClock is the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// ExpireFunc is invoked when an armed deadline passes. gen identifies the
// armed period; callers compare it with Generation under their own lock to
// discard expiries that raced with a rearm.
type ExpireFunc func(gen uint64)

// Driver arms a single deadline at a time.
type Driver struct {
	clock Clock

	mu       sync.Mutex
	gen      uint64
	fired    uint64 // last generation whose callback was released
	pending  Stopper
	onExpire ExpireFunc
	deadline time.Time
}

// NewDriver creates a driver on the given clock.
func NewDriver(clock Clock) *Driver {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Driver{clock: clock}
}

// Arm schedules onExpire at deadline, replacing any armed callback.
// It returns the new generation.
func (d *Driver) Arm(deadline time.Time, onExpire ExpireFunc) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onExpire = onExpire
	return d.scheduleLocked(deadline)
}

// Rearm cancels the armed callback and reschedules the same callback at
// newDeadline. Rearm on a driver that was never armed is a no-op returning 0.
func (d *Driver) Rearm(newDeadline time.Time) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.onExpire == nil {
		return 0
	}
	return d.scheduleLocked(newDeadline)
}

// Stop cancels the armed callback. Callbacks already in flight become stale.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	d.onExpire = nil
}

// Generation returns the current armed generation.
func (d *Driver) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// Deadline returns the currently armed deadline.
func (d *Driver) Deadline() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deadline
}

func (d *Driver) scheduleLocked(deadline time.Time) uint64 {
	if d.pending != nil {
		d.pending.Stop()
	}
	d.gen++
	gen := d.gen
	d.deadline = deadline

	wait := deadline.Sub(d.clock.Now())
	if wait < 0 {
		wait = 0
	}
	d.pending = d.clock.AfterFunc(wait, func() { d.fire(gen) })
	return gen
}

func (d *Driver) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.fired >= gen || d.onExpire == nil {
		d.mu.Unlock()
		return
	}
	d.fired = gen
	d.pending = nil
	cb := d.onExpire
	d.mu.Unlock()

	cb(gen)
}

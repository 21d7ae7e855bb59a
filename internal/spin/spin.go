// Package spin implements the small spin-acquire primitives the agent
// uses instead of blocking OS mutexes: the mapping table's
// insert/delete lock, the sync-ring's decrement-and-test
// buffer-wide write lock, and the write-once-counter
// per-address CAS lock. These must never block on the
// scheduler the way a futex-backed mutex would, because a variant
// stuck here indefinitely is itself a divergence symptom.
package spin

import (
	"runtime"
	"sync/atomic"
)

// Lock is a simple CAS spinlock: 0 means unlocked, 1 means locked.
type Lock struct {
	state atomic.Int32
}

// Acquire spins until the lock is taken.
func (l *Lock) Acquire() {
	for !l.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

// TryAcquire makes one attempt and reports whether it succeeded.
func (l *Lock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release unlocks. Callers must hold the lock.
func (l *Lock) Release() {
	l.state.Store(0)
}

// DecrementLock implements the "decrement-and-test" acquire pattern:
// the buffer-wide lock starts at some positive value and the thread
// that drives it to zero holds it.
type DecrementLock struct {
	state atomic.Int32
}

// Reset sets the lock to its unlocked value (1): the next Acquire
// call decrements it to 0 and holds it.
func (d *DecrementLock) Reset() {
	d.state.Store(1)
}

// Acquire spins, decrementing, until this goroutine drives the
// counter to zero.
func (d *DecrementLock) Acquire() {
	for {
		v := d.state.Load()
		if v > 0 && d.state.CompareAndSwap(v, v-1) {
			if v-1 == 0 {
				return
			}
			// Someone else is ahead of us in line; put it back and retry.
			d.state.Add(1)
		}
		runtime.Gosched()
	}
}

// Release restores the lock to its unlocked value.
func (d *DecrementLock) Release() {
	d.state.Store(1)
}

// Spin busy-waits calling cond until it returns true, yielding to the
// scheduler between attempts. Every prolog in the agent is built on
// this: spin + yield until a ring-buffer condition is met.
func Spin(cond func() bool) {
	for !cond() {
		runtime.Gosched()
	}
}

// Package sync provides the spinlock used to serialize access to frame pool
// bookkeeping.
package sync

import (
	"runtime"
	"sync/atomic"
)

var (
	// yieldFn is invoked by a task that failed to acquire a lock after
	// spinning for a while. Tests substitute it to observe contention.
	yieldFn = runtime.Gosched
)

// attemptsBeforeYielding is the number of failed acquisition attempts after
// which a spinning task gives up its time slice.
const attemptsBeforeYielding = 64

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. The zero value is an unlocked Spinlock.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempt := uint32(1); ; attempt++ {
		// Spin on a plain load so contending tasks do not keep bouncing
		// the cache line with failed swaps.
		if atomic.LoadUint32(&l.state) == 0 && l.TryToAcquire() {
			return
		}

		if attempt%attemptsBeforeYielding == 0 && yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// Package sync provides synchronization primitives for code that runs before
// (or without) a scheduler: a busy-wait lock used to guard the frame bitmap
// singleton and each heap, including the kernel heap. The page directory
// in kernel/mem/vmm has no lock of its own.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked periodically while a caller is spinning on a held
	// lock. It defaults to nil (pure busy-wait) since there is no
	// scheduler to yield to before task switching exists; tests substitute
	// runtime.Gosched to avoid starving the goroutine holding the lock.
	//
	// TODO: replace with a real yield once cooperative task switching exists.
	yieldFn func()

	attemptsBeforeYield = uint32(1024)
)

// Spinlock implements a lock where each caller trying to acquire it
// busy-waits till the lock becomes available. There is no re-entrancy:
// acquiring a lock already held by the current caller deadlocks.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the caller.
func (l *Spinlock) Acquire() {
	var attempts uint32
	for !l.TryAcquire() {
		attempts++
		if yieldFn != nil && attempts%attemptsBeforeYield == 0 {
			yieldFn()
		}
	}
}

// TryAcquire attempts to acquire the lock without blocking. It returns true
// if the lock was free and is now held by the caller, false otherwise.
func (l *Spinlock) TryAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock, allowing other callers to acquire it.
// Calling Release on a lock that is not held has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

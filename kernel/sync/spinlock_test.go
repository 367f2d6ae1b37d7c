package sync

import (
	"runtime"
	"sync"
	"testing"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	prevYieldFn := yieldFn
	yieldFn = runtime.Gosched
	defer func() { yieldFn = prevYieldFn }()

	var (
		lock    Spinlock
		counter int
		wg      sync.WaitGroup
	)

	const (
		goroutineCount = 10
		incPerGoroutine = 1000
	)

	wg.Add(goroutineCount)
	for i := 0; i < goroutineCount; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < incPerGoroutine; j++ {
				lock.Acquire()
				counter++
				lock.Release()
			}
		}()
	}
	wg.Wait()

	if exp := goroutineCount * incPerGoroutine; counter != exp {
		t.Fatalf("expected counter to be %d; got %d", exp, counter)
	}
}

func TestSpinlockTryAcquire(t *testing.T) {
	var lock Spinlock

	if !lock.TryAcquire() {
		t.Fatal("expected TryAcquire to succeed on an unheld lock")
	}

	if lock.TryAcquire() {
		t.Fatal("expected TryAcquire to fail while the lock is held")
	}

	lock.Release()

	if !lock.TryAcquire() {
		t.Fatal("expected TryAcquire to succeed after Release")
	}
}

func TestSpinlockReleaseWithoutAcquire(t *testing.T) {
	var lock Spinlock
	lock.Release()

	if !lock.TryAcquire() {
		t.Fatal("expected TryAcquire to succeed on a never-acquired lock")
	}
}

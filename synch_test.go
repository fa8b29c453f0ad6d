package main

import (
	"testing"
)

// A thread holding a lock inherits the priority of the highest waiter,
// and falls back to its own priority once it releases.
func TestLockDonationBasic(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	lock := NewLock(k)

	k.SetPriority(10)
	lock.Acquire()

	var sawDonated, sawRestored int
	done := false
	k.ThreadCreate("waiter", 20, func() {
		// Runs immediately (20 > 10), blocks on the lock, and hands
		// the CPU back to main with the donation applied.
		lock.Acquire()
		lock.Release()
		done = true
	})
	sawDonated = k.GetPriority()

	lock.Release()
	sawRestored = k.GetPriority()

	if sawDonated != 20 {
		t.Fatalf("donated priority = %d, want 20\n", sawDonated)
	}
	if sawRestored != 10 {
		t.Fatalf("restored priority = %d, want 10\n", sawRestored)
	}
	if !done {
		t.Fatalf("waiter did not finish after release\n")
	}
}

// Donation follows a chain of lock holders: if A waits on B and B waits
// on C, then C runs at A's priority.
func TestLockDonationChain(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	lockC := NewLock(k) // held by main, the bottom of the chain
	lockB := NewLock(k)

	k.SetPriority(3)
	lockC.Acquire()

	k.ThreadCreate("b", 5, func() {
		lockB.Acquire()
		lockC.Acquire() // blocks on main; any later donation to b passes through
		lockC.Release()
		lockB.Release()
	})
	k.ThreadCreate("a", 10, func() {
		lockB.Acquire() // blocks on b, donating 10 through to main
		lockB.Release()
	})

	if got := k.GetPriority(); got != 10 {
		t.Fatalf("chained donation = %d, want 10\n", got)
	}
	if got := lockB.Holder().priority; got != 10 {
		t.Fatalf("intermediate holder priority = %d, want 10\n", got)
	}

	lockC.Release()
	if got := k.GetPriority(); got != 3 {
		t.Fatalf("after release = %d, want 3\n", got)
	}
}

// Releasing one of several held locks drops only that lock's donors;
// the holder keeps the highest remaining donation.
func TestLockDonationMultiple(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	lockA := NewLock(k)
	lockB := NewLock(k)

	k.SetPriority(10)
	lockA.Acquire()
	lockB.Acquire()

	k.ThreadCreate("wa", 25, func() {
		lockA.Acquire()
		lockA.Release()
	})
	k.ThreadCreate("wb", 20, func() {
		lockB.Acquire()
		lockB.Release()
	})

	if got := k.GetPriority(); got != 25 {
		t.Fatalf("with both donors = %d, want 25\n", got)
	}
	lockA.Release() // wa runs to completion at 25; wb still waits
	if got := k.GetPriority(); got != 20 {
		t.Fatalf("after releasing lockA = %d, want 20\n", got)
	}
	lockB.Release()
	if got := k.GetPriority(); got != 10 {
		t.Fatalf("after releasing both = %d, want 10\n", got)
	}
}

// SetPriority while donated takes effect only after the donations drain.
func TestSetPriorityDeferredUnderDonation(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	lock := NewLock(k)

	k.SetPriority(10)
	lock.Acquire()
	k.ThreadCreate("waiter", 30, func() {
		lock.Acquire()
		lock.Release()
	})

	k.SetPriority(5)
	if got := k.GetPriority(); got != 30 {
		t.Fatalf("donation must mask the new base: got %d, want 30\n", got)
	}
	lock.Release()
	if got := k.GetPriority(); got != 5 {
		t.Fatalf("base priority after release = %d, want 5\n", got)
	}
}

// Semaphore Up wakes the highest-effective-priority waiter first.
func TestSemaphoreWakeOrder(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	sema := NewSemaphore(k, 0)

	var order []string
	wait := func(name string) func() {
		return func() {
			sema.Down()
			order = append(order, name)
		}
	}
	k.ThreadCreate("p35", 35, wait("p35"))
	k.ThreadCreate("p33", 33, wait("p33"))
	k.ThreadCreate("p40", 40, wait("p40"))

	for i := 0; i < 3; i++ {
		sema.Up()
	}
	want := []string{"p40", "p35", "p33"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v\n", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v\n", order, want)
		}
	}
}

func TestSemaphoreTryDown(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	sema := NewSemaphore(k, 1)
	if !sema.TryDown() {
		t.Fatalf("TryDown on value 1 must succeed\n")
	}
	if sema.TryDown() {
		t.Fatalf("TryDown on value 0 must fail\n")
	}
	sema.Up()
	if !sema.TryDown() {
		t.Fatalf("TryDown after Up must succeed\n")
	}
}

// TryAcquire never blocks and never donates.
func TestLockTryAcquire(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	lock := NewLock(k)

	k.SetPriority(10)
	lock.Acquire()
	k.ThreadCreate("try", 20, func() {
		if lock.TryAcquire() {
			t.Errorf("TryAcquire on a held lock must fail\n")
		}
	})
	if got := k.GetPriority(); got != 10 {
		t.Fatalf("TryAcquire must not donate: got %d\n", got)
	}
	lock.Release()
	if !lock.TryAcquire() {
		t.Fatalf("TryAcquire on a free lock must succeed\n")
	}
	lock.Release()
}

func TestLockReacquirePanics(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	lock := NewLock(k)
	lock.Acquire()
	expectPanic(t, func() {
		lock.Acquire()
	})
}

func TestLockReleaseByNonHolderPanics(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	lock := NewLock(k)
	expectPanic(t, func() {
		lock.Release()
	})
}

// Cond.Signal wakes the highest-priority waiter regardless of arrival order.
func TestCondSignalPriority(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	lock := NewLock(k)
	cond := NewCond(k)

	var order []string
	wait := func(name string) func() {
		return func() {
			lock.Acquire()
			cond.Wait(lock)
			order = append(order, name)
			lock.Release()
		}
	}
	k.ThreadCreate("low", 33, wait("low"))
	k.ThreadCreate("high", 40, wait("high"))
	k.ThreadCreate("mid", 35, wait("mid"))

	lock.Acquire()
	for i := 0; i < 3; i++ {
		cond.Signal(lock)
	}
	lock.Release()

	want := []string{"high", "mid", "low"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v\n", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v\n", order, want)
		}
	}
}

func TestCondBroadcast(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	lock := NewLock(k)
	cond := NewCond(k)

	woken := 0
	for i := 0; i < 3; i++ {
		k.ThreadCreate("w", 35, func() {
			lock.Acquire()
			cond.Wait(lock)
			woken++
			lock.Release()
		})
	}
	lock.Acquire()
	cond.Broadcast(lock)
	lock.Release()
	if woken != 3 {
		t.Fatalf("broadcast woke %d waiters, want 3\n", woken)
	}
}

func TestCondWaitWithoutLockPanics(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	lock := NewLock(k)
	cond := NewCond(k)
	expectPanic(t, func() {
		cond.Wait(lock)
	})
}

// Under the multilevel feedback scheduler donation is disabled: a
// contended lock leaves the holder's priority alone.
func TestMlfqsSkipsDonation(t *testing.T) {
	k := newTestKernel(t, BootParams{Mlfqs: true})
	lock := NewLock(k)
	lock.Acquire()

	before := k.GetPriority()
	k.ThreadCreate("waiter", PriMax, func() {
		lock.Acquire()
		lock.Release()
	})
	if got := k.GetPriority(); got != before {
		t.Fatalf("mlfqs must not donate: got %d, want %d\n", got, before)
	}
	lock.Release()
}

package main

import (
	"testing"
)

func TestReadyQueueOrder(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	// All below main's priority, so none of them runs yet.
	k.ThreadCreate("five", 5, func() {})
	k.ThreadCreate("ten", 10, func() {})
	k.ThreadCreate("three", 3, func() {})

	if got := k.ready.head().Name(); got != "ten" {
		t.Fatalf("ready head: expected ten, got %q\n", got)
	}
	for i := 1; i < len(k.ready.ts); i++ {
		if k.ready.ts[i-1].priority < k.ready.ts[i].priority {
			t.Fatalf("ready list out of order at %d\n", i)
		}
	}
}

func TestReadyQueueFIFOAmongEquals(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		k.ThreadCreate(name, 10, func() {
			order = append(order, name)
		})
	}
	k.SetPriority(5) // drop below them: they run in queue order
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("equal-priority order: %v\n", order)
	}
}

func TestCreatePreemptsImmediately(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	ran := false
	k.ThreadCreate("eager", PriDefault+9, func() {
		ran = true
	})
	// No tick has passed; preemption must not have waited for one.
	if !ran {
		t.Fatalf("higher-priority thread did not run at creation\n")
	}
	if k.Ticks() != 0 {
		t.Fatalf("ticks advanced: %d\n", k.Ticks())
	}
}

func TestCreateAllocFailure(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	before := len(k.all)
	k.allocFailures = 1
	if tid := k.ThreadCreate("doomed", PriDefault, func() {}); tid != TidError {
		t.Fatalf("expected TidError, got %d\n", tid)
	}
	if len(k.all) != before || !k.ready.empty() {
		t.Fatalf("failed create disturbed scheduler state\n")
	}
}

func TestSleepWakeExactness(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	wokenAt := int64(-1)
	k.ThreadCreate("sleeper", PriDefault+5, func() {
		k.Sleep(3)
		wokenAt = k.Ticks()
	})
	for i := 0; i < 5; i++ {
		if wokenAt != -1 && wokenAt < 3 {
			t.Fatalf("woken early at tick %d\n", wokenAt)
		}
		k.Tick()
	}
	if wokenAt != 3 {
		t.Fatalf("expected wake at tick 3, got %d\n", wokenAt)
	}
}

func TestSleepSameDeadline(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	woken := map[string]int64{}
	for _, name := range []string{"x", "y", "z"} {
		name := name
		k.ThreadCreate(name, PriDefault+5, func() {
			k.Sleep(2)
			woken[name] = k.Ticks()
		})
	}
	for i := 0; i < 4; i++ {
		k.Tick()
	}
	for name, tick := range woken {
		if tick != 2 {
			t.Fatalf("%s woken at tick %d\n", name, tick)
		}
	}
	if len(woken) != 3 {
		t.Fatalf("only %d of 3 sleepers woke\n", len(woken))
	}
}

func TestSleepNonPositive(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	k.Sleep(0)
	k.Sleep(-7)
	if k.nextTickToAwake != noWakeup {
		t.Fatalf("non-positive sleep queued a deadline\n")
	}
}

func TestNextTickToAwakeCached(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	k.ThreadCreate("late", PriDefault+5, func() { k.Sleep(50) })
	k.ThreadCreate("soon", PriDefault+5, func() { k.Sleep(4) })
	if k.NextTickToAwake() != 4 {
		t.Fatalf("cached deadline: expected 4, got %d\n", k.NextTickToAwake())
	}
	for i := 0; i < 4; i++ {
		k.Tick()
	}
	if k.NextTickToAwake() != 50 {
		t.Fatalf("cached deadline after first wake: expected 50, got %d\n", k.NextTickToAwake())
	}
}

func TestTimeSliceRotation(t *testing.T) {
	k := newTestKernel(t, BootParams{Trace: true})
	const stop = 20
	hog := func() {
		for k.Ticks() < stop {
			k.Tick()
		}
	}
	k.ThreadCreate("hog-a", PriDefault, hog)
	k.ThreadCreate("hog-b", PriDefault, hog)
	for k.Ticks() < stop {
		k.Tick()
	}
	for len(k.all) > 2 { // hogs still live
		k.Tick()
	}

	seen := map[string]int{}
	for _, ev := range k.trace.Events() {
		if ev.Event != "switch" {
			continue
		}
		if ev.Tick%TimeSlice != 0 {
			t.Fatalf("switch off the slice boundary at tick %d\n", ev.Tick)
		}
		seen[ev.Thread]++
	}
	if seen["hog-a"] < 2 || seen["hog-b"] < 2 {
		t.Fatalf("hogs did not rotate: %v\n", seen)
	}
}

func TestSetPriorityDropYields(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	ran := false
	k.ThreadCreate("mid", 20, func() { ran = true })
	if ran {
		t.Fatalf("priority 20 preempted main at 31\n")
	}
	k.SetPriority(10) // now below the ready thread: must yield at once
	if !ran {
		t.Fatalf("lowering priority did not yield\n")
	}
	if got := k.GetPriority(); got != 10 {
		t.Fatalf("priority: expected 10, got %d\n", got)
	}
	k.SetPriority(PriDefault)
}

func TestThreadExitReclaims(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	before := len(k.all)
	k.ThreadCreate("transient", PriDefault+1, func() {})
	// It preempted us, ran, and exited; switching away reclaimed it.
	if len(k.all) != before {
		t.Fatalf("registry: expected %d threads, got %d\n", before, len(k.all))
	}
}

func TestContainerExclusivity(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	k.ThreadCreate("queued", 5, func() {})
	queued := k.ready.head()
	expectPanic(t, func() {
		cs := k.cpu.Critical()
		defer cs.Leave()
		k.sleepers.insertByWakeup(queued)
	})
}

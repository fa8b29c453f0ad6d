package main

import (
	"testing"

	yaml "gopkg.in/yaml.v2"
)

// Golden scheduler trace: boot, one sleeping worker, two timer ticks.
// Every context switch, sleep, wake and exit must land on the exact
// tick with the exact priority.
func TestTraceGoldenSleepWake(t *testing.T) {
	k := newTestKernel(t, BootParams{Trace: true})

	k.ThreadCreate("worker", 40, func() {
		k.Sleep(2)
	})
	k.Tick()
	k.Tick()

	want := []TraceEvent{
		{Tick: 0, Event: "create", Thread: "idle", Priority: PriMin},
		{Tick: 0, Event: "switch", Thread: "idle", Priority: PriMin},
		{Tick: 0, Event: "switch", Thread: "main", Priority: PriDefault},
		{Tick: 0, Event: "create", Thread: "worker", Priority: 40},
		{Tick: 0, Event: "switch", Thread: "worker", Priority: 40},
		{Tick: 0, Event: "sleep", Thread: "worker", Priority: 40},
		{Tick: 0, Event: "switch", Thread: "main", Priority: PriDefault},
		{Tick: 2, Event: "wake", Thread: "worker", Priority: 40},
		{Tick: 2, Event: "switch", Thread: "worker", Priority: 40},
		{Tick: 2, Event: "exit", Thread: "worker", Priority: 40},
		{Tick: 2, Event: "switch", Thread: "main", Priority: PriDefault},
	}

	wantYAML, err := yaml.Marshal(want)
	if err != nil {
		t.Fatal(err.Error())
	}
	gotYAML, err := k.Trace().YAML()
	if err != nil {
		t.Fatal(err.Error())
	}
	if gotYAML != string(wantYAML) {
		t.Fatalf("trace mismatch:\ngot:\n%s\nwant:\n%s", gotYAML, wantYAML)
	}
}

// A donation shows up in the trace with the recipient's boosted
// priority.
func TestTraceRecordsDonation(t *testing.T) {
	k := newTestKernel(t, BootParams{Trace: true})
	lock := NewLock(k)

	k.SetPriority(10)
	lock.Acquire()
	k.ThreadCreate("waiter", 20, func() {
		lock.Acquire()
		lock.Release()
	})
	lock.Release()

	found := false
	for _, ev := range k.Trace().Events() {
		if ev.Event == "donate" && ev.Thread == "main" && ev.Priority == 20 {
			found = true
		}
	}
	if !found {
		t.Fatalf("no donate event for main at priority 20 in %v\n", k.Trace().Events())
	}
}

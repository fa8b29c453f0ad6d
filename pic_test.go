package main

import (
	"testing"
)

func TestPICInitState(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	if k.pic.master.offset != 0x20 || k.pic.slave.offset != 0x28 {
		t.Fatalf("offsets: master=%#x slave=%#x\n", k.pic.master.offset, k.pic.slave.offset)
	}
	if k.pic.master.imr != 0 || k.pic.slave.imr != 0 {
		t.Fatalf("masked after init: master=%#x slave=%#x\n", k.pic.master.imr, k.pic.slave.imr)
	}
	if k.pic.master.icwStep != 0 || k.pic.slave.icwStep != 0 {
		t.Fatalf("init sequence incomplete\n")
	}
}

func TestPICAckLowestFirst(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	k.pic.Raise(3)
	k.pic.Raise(1)
	if vec, ok := k.pic.acknowledge(); !ok || vec != 0x21 {
		t.Fatalf("first ack: vec=%#x ok=%v\n", vec, ok)
	}
	if vec, ok := k.pic.acknowledge(); !ok || vec != 0x23 {
		t.Fatalf("second ack: vec=%#x ok=%v\n", vec, ok)
	}
	if _, ok := k.pic.acknowledge(); ok {
		t.Fatalf("third ack should find nothing\n")
	}
}

func TestPICSlaveCascade(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	k.pic.Raise(10)
	if vec, ok := k.pic.acknowledge(); !ok || vec != 0x2a {
		t.Fatalf("slave ack: vec=%#x ok=%v\n", vec, ok)
	}
	// Draining the slave releases the cascade line.
	k.cpu.mu.Lock()
	pending := k.pic.hasPendingLocked()
	k.cpu.mu.Unlock()
	if pending {
		t.Fatalf("cascade line still raised after drain\n")
	}
}

func TestPICMask(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	k.io.out8(0x21, 0xff) // mask everything on the master
	k.pic.Raise(4)
	if _, ok := k.pic.acknowledge(); ok {
		t.Fatalf("masked line was delivered\n")
	}
	k.io.out8(0x21, 0x00)
	if vec, ok := k.pic.acknowledge(); !ok || vec != 0x24 {
		t.Fatalf("unmasked ack: vec=%#x ok=%v\n", vec, ok)
	}
}

func TestPITDivisor(t *testing.T) {
	k := newTestKernel(t, BootParams{})
	if k.pit.divisor != 11932 { // 1193180 / 100, rounded
		t.Fatalf("divisor: expected 11932, got %d\n", k.pit.divisor)
	}
	k2 := newTestKernel(t, BootParams{TimerFreq: 1000})
	if k2.pit.divisor != 1193 {
		t.Fatalf("divisor at 1 kHz: expected 1193, got %d\n", k2.pit.divisor)
	}
}

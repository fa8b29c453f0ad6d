package main

import (
	"math/bits"

	"gvisor.dev/gvisor/pkg/sync"
)

// Every PC has two 8259A Programmable Interrupt Controller (PIC)
// chips. One is a "master" at ports 0x20/0x21, the other a "slave"
// cascaded onto the master's IR2 line at ports 0xa0/0xa1. By default
// IRQs 0..15 map onto vectors 0..15, colliding with CPU exceptions,
// so init reprograms the chips to deliver them at 0x20..0x2f.

// i8259 is one controller chip.
//   - IRR (Interrupt Request Register): a bit is set for each raised,
//     not yet acknowledged line.
//   - ISR (In-Service Register): a bit is set while the line's
//     interrupt is being handled, cleared by EOI.
//   - IMR (Interrupt Mask Register): a bit is 0 only when the line is
//     enabled.
type i8259 struct {
	irr uint8
	isr uint8
	imr uint8

	offset   uint8 // vector offset from ICW2
	icwStep  int   // 0 = initialized; 2..4 = awaiting ICW2..ICW4
	eoiCount int   // end-of-interrupt writes observed
}

// writeCmd handles a byte written to the chip's command port
// (0x20 or 0xa0).
func (c *i8259) writeCmd(v uint8) {
	switch {
	case v&0x10 != 0: // ICW1: begin initialization
		c.icwStep = 2
		c.irr, c.isr = 0, 0
	case v == 0x20: // OCW2: non-specific EOI
		if c.isr != 0 {
			c.isr &^= 1 << uint(bits.TrailingZeros8(c.isr))
		}
		c.eoiCount++
	}
}

// writeData handles a byte written to the chip's data port
// (0x21 or 0xa1): the ICW2..ICW4 sequence during init, the IMR after.
func (c *i8259) writeData(v uint8) {
	switch c.icwStep {
	case 2:
		c.offset = v
		c.icwStep = 3
	case 3:
		c.icwStep = 4 // ICW3: cascade wiring, fixed in this machine
	case 4:
		c.icwStep = 0 // ICW4: 8086 mode, normal EOI
	default:
		c.imr = v
	}
}

// pending returns the lowest-numbered raised, unmasked line, or -1.
func (c *i8259) pending() int {
	ready := c.irr &^ c.imr
	if ready == 0 {
		return -1
	}
	return bits.TrailingZeros8(ready)
}

// PIC is the cascaded master/slave pair. Devices raise lines from
// host goroutines while the CPU holder acknowledges, so all state is
// guarded by the machine lock; raising signals the condition variable
// so a halted CPU resumes.
type PIC struct {
	mu     *sync.Mutex
	cond   *sync.Cond
	master i8259
	slave  i8259
}

// NewPIC creates the pair sharing the machine lock.
func NewPIC(mu *sync.Mutex, cond *sync.Cond) *PIC {
	return &PIC{mu: mu, cond: cond}
}

// Raise latches IRQ 0..15 into the request register. Slave lines
// additionally assert the master's IR2 cascade input.
func (p *PIC) Raise(irq int) {
	kassert(irq >= 0 && irq < 16, "bad irq %d", irq)
	p.mu.Lock()
	if irq < 8 {
		p.master.irr |= 1 << uint(irq)
	} else {
		p.slave.irr |= 1 << uint(irq-8)
		p.master.irr |= 1 << 2
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// hasPendingLocked reports whether an unmasked line is raised.
// Caller must hold the machine lock.
func (p *PIC) hasPendingLocked() bool {
	m := p.master.pending()
	if m == 2 {
		return p.slave.pending() >= 0
	}
	return m >= 0
}

// acknowledge pops the highest-priority (lowest-numbered) pending
// line, marks it in service, and returns its vector.
func (p *PIC) acknowledge() (uint8, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.master.pending()
	if m < 0 {
		return 0, false
	}
	if m == 2 { // cascade: take from the slave
		s := p.slave.pending()
		if s < 0 {
			return 0, false
		}
		p.slave.irr &^= 1 << uint(s)
		p.slave.isr |= 1 << uint(s)
		if p.slave.irr == 0 {
			p.master.irr &^= 1 << 2
		}
		return p.slave.offset + uint8(s), true
	}
	p.master.irr &^= 1 << uint(m)
	p.master.isr |= 1 << uint(m)
	return p.master.offset + uint8(m), true
}

// out8 handles a write to one of the PIC ports.
func (p *PIC) out8(address uint16, v uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch address {
	case 0x20:
		p.master.writeCmd(v)
	case 0x21:
		p.master.writeData(v)
	case 0xa0:
		p.slave.writeCmd(v)
	case 0xa1:
		p.slave.writeData(v)
	}
}

// in8 handles a read from one of the PIC data ports (IMR readback).
func (p *PIC) in8(address uint16) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch address {
	case 0x21:
		return p.master.imr
	case 0xa1:
		return p.slave.imr
	}
	return 0
}

// EOICounts returns how many end-of-interrupt commands each chip has
// seen, for the acknowledgment bookkeeping checks.
func (p *PIC) EOICounts() (master, slave int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.master.eoiCount, p.slave.eoiCount
}

// picInit programs both chips through the port bus with the standard
// ICW1..ICW4 sequence, remapping IRQs to vectors 0x20..0x2f.
func (k *Kernel) picInit() {
	// Mask all interrupts on both PICs.
	k.io.out8(0x21, 0xff)
	k.io.out8(0xa1, 0xff)

	// Initialize master.
	k.io.out8(0x20, 0x11) // ICW1: single mode, edge triggered, expect ICW4
	k.io.out8(0x21, 0x20) // ICW2: line IR0..7 -> vector 0x20..0x27
	k.io.out8(0x21, 0x04) // ICW3: slave PIC on line IR2
	k.io.out8(0x21, 0x01) // ICW4: 8086 mode, normal EOI, non-buffered

	// Initialize slave.
	k.io.out8(0xa0, 0x11) // ICW1
	k.io.out8(0xa1, 0x28) // ICW2: line IR0..7 -> vector 0x28..0x2f
	k.io.out8(0xa1, 0x02) // ICW3: slave ID is 2
	k.io.out8(0xa1, 0x01) // ICW4

	// Unmask all interrupts.
	k.io.out8(0x21, 0x00)
	k.io.out8(0xa1, 0x00)
}

// picEndOfInterrupt acknowledges the IRQ behind vector vec. Without
// the acknowledgment the line would never be delivered again.
func (k *Kernel) picEndOfInterrupt(vec uint64) {
	kassert(vec >= 0x20 && vec < 0x30, "eoi for non-device vector %#04x", vec)

	// Acknowledge master PIC.
	k.io.out8(0x20, 0x20)

	// Acknowledge slave PIC if this is a slave interrupt.
	if vec >= 0x28 {
		k.io.out8(0xa0, 0x20)
	}
}

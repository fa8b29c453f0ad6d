package main

import (
	"gvisor.dev/gvisor/pkg/sync"
)

// IntrLevel is the interrupt state: on (IF set) or off.
type IntrLevel bool

const (
	IntrOn  IntrLevel = true
	IntrOff IntrLevel = false
)

// CPU is the single logical core. Exactly one kernel thread
// goroutine "holds" it at any time (the permit discipline in
// thread.go); rflags, cr2 and the interrupt bookkeeping below are
// only ever touched by the holder. The machine lock serializes the
// devices, which host goroutines pulse, against the holder.
//
// Interrupts are taken at instruction-boundary equivalents only:
// sti (IntrEnable), Pause, hlt (hltWait) and software Int. A raised
// line stays latched in the PIC until a boundary finds IF set.
type CPU struct {
	k *Kernel

	rflags    RFlags
	idtrBase  uint64
	idtrLimit uint16
	cr2       uint64 // linear address of the last page fault

	mu   sync.Mutex // machine lock, shared with PIC/serial
	cond *sync.Cond

	inExternalIntr bool // are we processing an external interrupt?
	yieldOnReturn  bool // should we yield on interrupt return?
}

func NewCPU() *CPU {
	c := &CPU{}
	c.cond = sync.NewCond(&c.mu)
	c.rflags.set(ReservedFlag)
	return c
}

// IntrLevel returns the current interrupt status.
func (c *CPU) IntrLevel() IntrLevel {
	if c.rflags.isEnable(InterruptFlag) {
		return IntrOn
	}
	return IntrOff
}

// SetIntrLevel enables or disables interrupts as specified and
// returns the previous status.
func (c *CPU) SetIntrLevel(level IntrLevel) IntrLevel {
	if level == IntrOn {
		return c.IntrEnable()
	}
	return c.IntrDisable()
}

// IntrEnable is sti: sets IF and returns the previous status.
// Latched interrupts are delivered before it returns.
func (c *CPU) IntrEnable() IntrLevel {
	old := c.IntrLevel()
	kassert(!c.InIntrContext(), "sti inside an external interrupt handler")
	c.rflags.set(InterruptFlag)
	c.servePending()
	return old
}

// IntrDisable is cli: clears IF and returns the previous status.
func (c *CPU) IntrDisable() IntrLevel {
	old := c.IntrLevel()
	c.rflags.unset(InterruptFlag)
	return old
}

// InIntrContext returns true during processing of an external
// interrupt and false at all other times.
func (c *CPU) InIntrContext() bool {
	return c.inExternalIntr
}

// IntrYieldOnReturn directs the dispatcher to yield to a new thread
// just before the current external interrupt returns. May not be
// called at any other time.
func (c *CPU) IntrYieldOnReturn() {
	kassert(c.InIntrContext(), "yield-on-return outside an external interrupt")
	c.yieldOnReturn = true
}

// Critical is the interrupts-off token. Scheduler-state mutators
// take one as an argument, so holding it is visible in the type
// signature rather than a convention.
type Critical struct {
	cpu *CPU
	old IntrLevel
}

// Critical disables interrupts and hands out the token.
func (c *CPU) Critical() *Critical {
	return &Critical{cpu: c, old: c.IntrDisable()}
}

// Leave restores the interrupt level saved when the token was made.
func (cs *Critical) Leave() {
	cs.cpu.SetIntrLevel(cs.old)
}

func (cs *Critical) held() bool {
	return cs != nil && cs.cpu.IntrLevel() == IntrOff
}

// Pause is an instruction boundary: if IF is set, any latched
// interrupt is taken here. Thread bodies that burn CPU call it in
// their loops the way real code retires instructions.
func (c *CPU) Pause() {
	c.servePending()
}

// hltWait is sti;hlt for the idle thread: sleep on the machine
// condition until a device raises a line, then take the interrupt.
func (c *CPU) hltWait() {
	kassert(c.IntrLevel() == IntrOn, "hlt with interrupts off would hang the machine")
	c.mu.Lock()
	for !c.k.pic.hasPendingLocked() {
		c.cond.Wait()
	}
	c.mu.Unlock()
	c.servePending()
}

// servePending delivers latched external interrupts while IF is set.
// Entry through an interrupt gate masks IF; the original rflags come
// back with the iret at the end of each delivery.
func (c *CPU) servePending() {
	for c.rflags.isEnable(InterruptFlag) {
		vec, ok := c.k.pic.acknowledge()
		if !ok {
			return
		}
		saved := c.rflags
		c.rflags.unset(InterruptFlag)
		f := c.k.current.tf
		f.Vec = uint64(vec)
		f.RFlags = uint64(saved)
		c.k.intrHandler(&f)
		c.rflags = saved // iret
	}
}

// Int executes a software interrupt instruction: enter through the
// vector's gate, honoring its type (a trap gate leaves IF alone, an
// interrupt gate masks it).
func (c *CPU) Int(vec uint8) {
	g := c.k.idt.gates[vec]
	kassert(g.p == 1, "int %#04x through a non-present gate", vec)
	saved := c.rflags
	if g.typ == GateInterrupt {
		c.rflags.unset(InterruptFlag)
	}
	f := c.k.current.tf
	f.Vec = uint64(vec)
	f.RFlags = uint64(saved)
	c.k.intrHandler(&f)
	c.rflags = saved
}

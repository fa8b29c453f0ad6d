package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Registers is the general-purpose register set saved by the
// trampoline stubs.
type Registers struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	Rsi, Rdi, Rbp, Rdx, Rcx, Rbx, Rax    uint64
}

// Frame describes an interrupt and the interrupted thread's
// registers, as pushed by the stub and the hardware.
type Frame struct {
	R         Registers
	ES, DS    uint16
	Vec       uint64
	ErrorCode uint64
	RIP       uint64
	CS        uint16
	RFlags    uint64
	RSP       uint64
	SS        uint16
}

// KernelPanic is the unrecoverable-error value: contract violations
// and unexpected interrupts halt the kernel by panicking with one.
// Nothing converts it to a recoverable error.
type KernelPanic struct {
	Msg string
}

func (p *KernelPanic) Error() string {
	return "kernel panic: " + p.Msg
}

// kassert halts the kernel when a programming contract is violated.
func kassert(cond bool, format string, a ...interface{}) {
	if !cond {
		panic(&KernelPanic{Msg: fmt.Sprintf(format, a...)})
	}
}

// panicf emits a red banner on the console and halts.
func (k *Kernel) panicf(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	color.New(color.FgRed).Fprintf(k.conWriter, "Kernel PANIC: %s\n", msg)
	panic(&KernelPanic{Msg: msg})
}

// intrHandler is the single entry point for all interrupts, faults
// and exceptions, invoked with the captured frame. External
// interrupts (0x20..0x2f) are handled one at a time with interrupts
// off, never nested, and are acknowledged on the PIC before return.
func (k *Kernel) intrHandler(f *Frame) {
	external := f.Vec >= 0x20 && f.Vec < 0x30
	if external {
		kassert(k.cpu.IntrLevel() == IntrOff, "external interrupt with interrupts on")
		kassert(!k.cpu.InIntrContext(), "nested external interrupt")

		k.cpu.inExternalIntr = true
		k.cpu.yieldOnReturn = false
	}

	// Invoke the interrupt's handler.
	if h := k.idt.handlers[f.Vec]; h != nil {
		h(f)
	} else if f.Vec == 0x27 || f.Vec == 0x2f {
		// No handler, but this interrupt can trigger spuriously due
		// to a hardware fault or hardware race condition. Ignore it.
	} else {
		// No handler and not spurious.
		k.dumpFrame(f)
		k.panicf("Unexpected interrupt %#04x (%s)", f.Vec, k.IntrName(uint8(f.Vec)))
	}

	// Complete the processing of an external interrupt.
	if external {
		kassert(k.cpu.IntrLevel() == IntrOff, "external handler re-enabled interrupts")
		kassert(k.cpu.InIntrContext(), "external handler cleared interrupt context")

		k.cpu.inExternalIntr = false
		k.picEndOfInterrupt(f.Vec)

		if k.cpu.yieldOnReturn {
			k.log.WithFields(logrus.Fields{
				"vec":    f.Vec,
				"thread": k.current.name,
			}).Debug("yield on interrupt return")
			k.ThreadYield()
		}
	}
}

// dumpFrame prints frame f to the console, for debugging. The field
// set and layout are the contract external tooling parses.
func (k *Kernel) dumpFrame(f *Frame) {
	w := k.conWriter
	color.New(color.FgRed).Fprintf(w, "Interrupt %#04x (%s) at rip=%x\n",
		f.Vec, k.IntrName(uint8(f.Vec)), f.RIP)
	color.New(color.FgCyan).Fprintf(w, ""+
		" cr2=%016x error=%16x\n"+
		"rax %016x rbx %016x rcx %016x rdx %016x\n"+
		"rsp %016x rbp %016x rsi %016x rdi %016x\n"+
		"rip %016x r8 %016x  r9 %016x r10 %016x\n"+
		"r11 %016x r12 %016x r13 %016x r14 %016x\n"+
		"r15 %016x rflags %08x\n",
		k.cpu.cr2, f.ErrorCode,
		f.R.Rax, f.R.Rbx, f.R.Rcx, f.R.Rdx,
		f.RSP, f.R.Rbp, f.R.Rsi, f.R.Rdi,
		f.RIP, f.R.R8, f.R.R9, f.R.R10,
		f.R.R11, f.R.R12, f.R.R13, f.R.R14,
		f.R.R15, f.RFlags)
	color.New(color.FgCyan).Fprintf(w, "es: %04x ds: %04x cs: %04x ss: %04x\n",
		f.ES, f.DS, f.CS, f.SS)
}

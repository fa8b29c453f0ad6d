package main

// IntrHandler is invoked by the dispatcher with the captured frame.
type IntrHandler func(*Frame)

// gate types
const (
	GateInterrupt = 14 // entering masks interrupts
	GateTrap      = 15 // entering leaves the interrupt state unchanged
)

// segment selectors
const (
	SelKCSeg = 0x08 // kernel code
	SelKDSeg = 0x10 // kernel data
)

// intrCnt is the number of x86-64 interrupt vectors.
const intrCnt = 256

// Per-vector trampoline stubs are laid out 16 bytes apart in the
// kernel text; the gate for vector n points at stub n.
const intrStubBase = uint64(0xffffffff8020a000)

func intrStub(vec uint8) uint64 {
	return intrStubBase + 16*uint64(vec)
}

// Gate is one 16-byte IDT descriptor. The field split is fixed by
// the CPU: the 64-bit target address is scattered across off15_0,
// off31_16 and off32_63.
type Gate struct {
	off15_0  uint16 // low 16 bits of offset in segment
	ss       uint16 // segment selector
	ist      uint8  // interrupt stack table index, 0 for us
	typ      uint8  // GateInterrupt or GateTrap
	s        uint8  // must be 0 (system)
	dpl      uint8  // descriptor privilege level
	p        uint8  // present
	off31_16 uint16 // middle bits of offset
	off32_63 uint32 // high bits of offset
}

func makeGate(function uint64, dpl int, typ uint8) Gate {
	kassert(function != 0, "gate target must not be null")
	kassert(dpl >= 0 && dpl <= 3, "bad gate dpl %d", dpl)
	kassert(typ == GateInterrupt || typ == GateTrap, "bad gate type %d", typ)
	return Gate{
		off15_0:  uint16(function & 0xffff),
		ss:       SelKCSeg,
		ist:      0,
		typ:      typ,
		s:        0,
		dpl:      uint8(dpl),
		p:        1,
		off31_16: uint16((function >> 16) & 0xffff),
		off32_63: uint32((function >> 32) & 0xffffffff),
	}
}

// Bytes renders the descriptor in the little-endian wire format the
// hardware reads from memory.
func (g Gate) Bytes() [16]byte {
	var b [16]byte
	b[0] = uint8(g.off15_0)
	b[1] = uint8(g.off15_0 >> 8)
	b[2] = uint8(g.ss)
	b[3] = uint8(g.ss >> 8)
	b[4] = g.ist & 0x7
	b[5] = (g.typ & 0xf) | (g.s&0x1)<<4 | (g.dpl&0x3)<<5 | (g.p&0x1)<<7
	b[6] = uint8(g.off31_16)
	b[7] = uint8(g.off31_16 >> 8)
	b[8] = uint8(g.off32_63)
	b[9] = uint8(g.off32_63 >> 8)
	b[10] = uint8(g.off32_63 >> 16)
	b[11] = uint8(g.off32_63 >> 24)
	// b[12:16] reserved
	return b
}

// IDT is the interrupt descriptor table plus the handler and name
// tables the dispatcher consults.
type IDT struct {
	gates    [intrCnt]Gate
	handlers [intrCnt]IntrHandler
	names    [intrCnt]string
}

// intrInit programs the PIC, builds all 256 gates as DPL-0 interrupt
// gates pointing at the trampoline stubs, loads the IDT register, and
// installs the architectural exception names.
func (k *Kernel) intrInit() {
	k.picInit()

	for i := 0; i < intrCnt; i++ {
		k.idt.gates[i] = makeGate(intrStub(uint8(i)), 0, GateInterrupt)
		k.idt.names[i] = "unknown"
	}

	// lidt
	k.cpu.idtrBase = intrStubBase - 16*intrCnt
	k.cpu.idtrLimit = intrCnt*16 - 1

	k.idt.names[0] = "#DE Divide Error"
	k.idt.names[1] = "#DB Debug Exception"
	k.idt.names[2] = "NMI Interrupt"
	k.idt.names[3] = "#BP Breakpoint Exception"
	k.idt.names[4] = "#OF Overflow Exception"
	k.idt.names[5] = "#BR BOUND Range Exceeded Exception"
	k.idt.names[6] = "#UD Invalid Opcode Exception"
	k.idt.names[7] = "#NM Device Not Available Exception"
	k.idt.names[8] = "#DF Double Fault Exception"
	k.idt.names[9] = "Coprocessor Segment Overrun"
	k.idt.names[10] = "#TS Invalid TSS Exception"
	k.idt.names[11] = "#NP Segment Not Present"
	k.idt.names[12] = "#SS Stack Fault Exception"
	k.idt.names[13] = "#GP General Protection Exception"
	k.idt.names[14] = "#PF Page-Fault Exception"
	k.idt.names[16] = "#MF x87 FPU Floating-Point Error"
	k.idt.names[17] = "#AC Alignment Check Exception"
	k.idt.names[18] = "#MC Machine-Check Exception"
	k.idt.names[19] = "#XF SIMD Floating-Point Exception"
}

func (k *Kernel) registerHandler(vec uint8, dpl int, level IntrLevel, h IntrHandler, name string) {
	kassert(k.idt.handlers[vec] == nil, "vector %#04x already registered as %q", vec, k.idt.names[vec])
	kassert(h != nil, "nil handler for vector %#04x", vec)
	if level == IntrOn {
		k.idt.gates[vec] = makeGate(intrStub(vec), dpl, GateTrap)
	} else {
		k.idt.gates[vec] = makeGate(intrStub(vec), dpl, GateInterrupt)
	}
	k.idt.handlers[vec] = h
	k.idt.names[vec] = name
}

// RegisterExt registers an external (device) interrupt handler. The
// handler executes with interrupts disabled and must never block.
func (k *Kernel) RegisterExt(vec uint8, h IntrHandler, name string) {
	kassert(vec >= 0x20 && vec <= 0x2f, "external vector %#04x out of 0x20..0x2f", vec)
	k.registerHandler(vec, 0, IntrOff, h, name)
}

// RegisterInt registers an internal interrupt (fault, trap, syscall)
// handler with the given DPL and entry interrupt state.
func (k *Kernel) RegisterInt(vec uint8, dpl int, level IntrLevel, h IntrHandler, name string) {
	kassert(vec < 0x20 || vec > 0x2f, "internal vector %#04x collides with device range", vec)
	k.registerHandler(vec, dpl, level, h, name)
}

// IntrName returns the symbolic name of a vector, for diagnostics.
func (k *Kernel) IntrName(vec uint8) string {
	return k.idt.names[vec]
}

package main

// The 8254 Programmable Interval Timer, channel 0: counts down from
// the programmed divisor at 1.193180 MHz and pulses IRQ 0 on every
// wrap. One pulse is one tick, the kernel's unit of scheduling time.

// TimerFreqDefault is ticks per second unless boot params override.
const TimerFreqDefault = 100

const pitHz = 1193180

// PIT is the 8254 chip. Tick is called by the host-side clock (or a
// test) and stands in for one counter wrap.
type PIT struct {
	pic     *PIC
	divisor uint16
	loHi    int // 0 = expecting low data byte, 1 = expecting high
}

// NewPIT wires the chip's output to IRQ 0 on the PIC.
func NewPIT(pic *PIC) *PIT {
	return &PIT{pic: pic}
}

func (p *PIT) outControl(v uint8) {
	// 0x34: channel 0, lobyte/hibyte access, mode 2 (rate generator).
	if v == 0x34 {
		p.loHi = 0
	}
}

func (p *PIT) outData(v uint8) {
	if p.loHi == 0 {
		p.divisor = (p.divisor & 0xff00) | uint16(v)
		p.loHi = 1
	} else {
		p.divisor = (p.divisor & 0x00ff) | uint16(v)<<8
		p.loHi = 0
	}
}

func (p *PIT) in8() uint8 {
	return uint8(p.divisor)
}

// Frequency returns the programmed tick rate in Hz.
func (p *PIT) Frequency() int {
	if p.divisor == 0 {
		return 0
	}
	return pitHz / int(p.divisor)
}

// Tick is one OUT0 pulse.
func (p *PIT) Tick() {
	p.pic.Raise(0)
}

// timerInit programs channel 0 as a rate generator at k.timerFreq Hz
// and claims vector 0x20 for the tick handler.
func (k *Kernel) timerInit() {
	divisor := (pitHz + k.timerFreq/2) / k.timerFreq
	k.io.out8(0x43, 0x34)
	k.io.out8(0x40, uint8(divisor&0xff))
	k.io.out8(0x40, uint8(divisor>>8))

	k.RegisterExt(0x20, k.timerIntr, "8254 Timer")
}

// timerIntr runs once per tick from the dispatcher: bump the clock,
// do the per-tick thread bookkeeping, then wake due sleepers. Both
// must complete before the interrupt returns.
func (k *Kernel) timerIntr(f *Frame) {
	k.ticks++
	k.threadTick()
	k.threadAwake(k.ticks)
}

// Ticks returns the tick count since boot.
func (k *Kernel) Ticks() int64 {
	return k.ticks
}

// Tick advances the machine by one timer period: pulse the PIT, then
// take the interrupt at the next instruction boundary. If the
// running thread has interrupts off the tick stays latched in the
// PIC until they come back on.
func (k *Kernel) Tick() {
	k.pit.Tick()
	k.cpu.Pause()
}

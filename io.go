package main

// IO is the port bus: in8/out8 dispatch on the port number to the
// devices this machine carries. Unknown ports latch the last written
// value, which is enough for probing code.
type IO struct {
	pic    *PIC
	pit    *PIT
	serial *Serial
	latch  map[uint16]uint8
}

// NewIO creates the bus over the given devices.
func NewIO(pic *PIC, pit *PIT, serial *Serial) *IO {
	return &IO{
		pic:    pic,
		pit:    pit,
		serial: serial,
		latch:  map[uint16]uint8{},
	}
}

func (io *IO) in8(address uint16) uint8 {
	switch address {
	case 0x0021, 0x00a1: // PIC Interrupt Mask Register
		return io.pic.in8(address)
	case 0x0040: // PIT Channel 0 counter
		return io.pit.in8()
	case 0x03fd: // Serial Line Status Register (THR always empty)
		return 0x20
	}
	return io.latch[address]
}

func (io *IO) out8(address uint16, value uint8) {
	io.latch[address] = value
	switch address {
	case 0x0020, 0x0021, 0x00a0, 0x00a1: // 8259A command/data
		io.pic.out8(address, value)
	case 0x0040: // PIT Channel 0 data
		io.pit.outData(value)
	case 0x0043: // PIT Control Word Register
		io.pit.outControl(value)
	case 0x03f8: // Serial Transmitter Holding Register
		io.serial.putc(value)
	}
}

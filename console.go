package main

import (
	"fmt"
	"io"

	"gvisor.dev/gvisor/pkg/sync"
)

// serialTail is how many finished console lines the GUI monitor keeps.
const serialTail = 16

// Serial is the transmit side of a 16550 UART at 0x3f8: bytes
// written to the THR go to the console writer and into a small ring
// of recent lines. The ring is read by the GUI goroutine, hence the
// machine lock.
type Serial struct {
	mu   *sync.Mutex
	w    io.Writer
	line []byte
	tail []string
}

func NewSerial(mu *sync.Mutex, w io.Writer) *Serial {
	return &Serial{mu: mu, w: w}
}

func (s *Serial) putc(b uint8) {
	s.w.Write([]byte{b})
	s.mu.Lock()
	defer s.mu.Unlock()
	if b == '\n' {
		s.tail = append(s.tail, string(s.line))
		if len(s.tail) > serialTail {
			s.tail = s.tail[1:]
		}
		s.line = s.line[:0]
		return
	}
	s.line = append(s.line, b)
}

// Tail returns a copy of the recent console lines.
func (s *Serial) Tail() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tail))
	copy(out, s.tail)
	return out
}

// Printf formats to the kernel console through the serial port, one
// byte per OUT like real console code would.
func (k *Kernel) Printf(format string, a ...interface{}) {
	s := fmt.Sprintf(format, a...)
	for i := 0; i < len(s); i++ {
		k.io.out8(0x3f8, s[i])
	}
}

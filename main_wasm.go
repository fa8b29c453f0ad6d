//go:build wasm
// +build wasm

package main

import (
	"fmt"
	"time"

	"syscall/js"
)

// domWriter appends kernel console output to the page's terminal
// element.
type domWriter struct{}

func (domWriter) Write(p []byte) (int, error) {
	t := js.Global().Get("document").Call("getElementById", "terminal")
	t.Call("insertAdjacentHTML", "beforeend", string(p))
	return len(p), nil
}

func printf(format string, a ...interface{}) {
	s := fmt.Sprintf(format, a...)
	domWriter{}.Write([]byte(s))
	time.Sleep(10 * time.Millisecond)
}

func main() {
	printf("tiny x86 kernel\n")

	k, err := New(BootParams{Silent: true, Console: domWriter{}})
	if err != nil {
		printf(err.Error())
		return
	}
	k.Start()

	go func() {
		t := time.NewTicker(time.Second / time.Duration(k.timerFreq))
		defer t.Stop()
		for range t.C {
			k.pit.Tick()
		}
	}()

	lock := NewLock(k)
	k.ThreadCreate("low", PriDefault-10, func() {
		lock.Acquire()
		k.Printf("low: holding the lock at priority %d\n", k.GetPriority())
		k.Sleep(int64(k.timerFreq / 2))
		k.Printf("low: donated priority is %d\n", k.GetPriority())
		lock.Release()
	})
	k.ThreadCreate("high", PriDefault+10, func() {
		k.Sleep(int64(k.timerFreq / 10))
		lock.Acquire()
		k.Printf("high: got the lock\n")
		lock.Release()
	})

	k.Sleep(int64(2 * k.timerFreq))
	k.PrintStats()
	printf("End of demo\n")
}

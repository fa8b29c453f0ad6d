//go:build !wasm
// +build !wasm

package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/fatih/color"
	"github.com/hajimehoshi/ebiten"
	"github.com/hajimehoshi/ebiten/ebitenutil"
)

const (
	height = 120
	width  = 160
)

var (
	vram    = image.NewRGBA(image.Rect(0, 0, width, height))
	monitor *Kernel
)

func update(screen *ebiten.Image) error {
	for i := 0; i < width*height; i++ {
		vram.Pix[4*i] = 0x10
		vram.Pix[4*i+1] = 0x10
		vram.Pix[4*i+2] = 0x30
		vram.Pix[4*i+3] = 0xff
	}
	if ebiten.IsRunningSlowly() {
	}
	screen.ReplacePixels(vram.Pix)
	s := fmt.Sprintf("FPS: %f\n", ebiten.CurrentFPS())
	if monitor != nil {
		for _, line := range monitor.serial.Tail() {
			s += line + "\n"
		}
	}
	ebitenutil.DebugPrint(screen, s)
	return nil
}

func main() {
	runtime.LockOSThread()
	configFile := flag.String("config", "", "boot params filename (*.yaml)")
	mlfqs := flag.Bool("mlfqs", false, "multi-level feedback queue scheduling")
	enableGUI := flag.Bool("gui", false, "gui mode")
	silent := flag.Bool("silent", false, "silent mode")
	seconds := flag.Int("seconds", 3, "how long to run the demo")
	flag.Parse()

	params := BootParams{}
	if *configFile != "" {
		var err error
		params, err = LoadBootParams(*configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
	}
	if *mlfqs {
		params.Mlfqs = true
	}
	if *silent {
		params.Silent = true
	}

	chFinished := make(chan bool)
	go func(chFinished chan bool) {
		k, err := New(params)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		monitor = k
		k.Start()

		// The host clock stands in for the crystal driving the PIT.
		go func() {
			t := time.NewTicker(time.Second / time.Duration(k.timerFreq))
			defer t.Stop()
			for range t.C {
				k.pit.Tick()
			}
		}()

		if k.MLFQS() {
			demoMlfqs(k, *seconds)
		} else {
			demoDonation(k, *seconds)
		}

		k.PrintStats()
		color.New(color.FgGreen).Printf("End of demo: %d ticks, load_avg=%d.%02d\n",
			k.Ticks(), k.LoadAvg()/100, k.LoadAvg()%100)
		chFinished <- true
	}(chFinished)

	if *enableGUI {
		err := ebiten.Run(update, width, height, 2, "tiny x86 kernel")
		if err != nil {
			log.Fatal(err.Error())
		}
	}
	<-chFinished
}

// demoDonation runs sleepers at three priorities plus a donation
// chain: a low-priority thread takes a lock, a high-priority thread
// blocks on it, and the holder runs at the donated priority until
// release.
func demoDonation(k *Kernel, seconds int) {
	lock := NewLock(k)

	k.ThreadCreate("low", PriDefault-10, func() {
		lock.Acquire()
		k.Printf("low: holding the lock at priority %d\n", k.GetPriority())
		k.Sleep(int64(k.timerFreq / 2))
		k.Printf("low: donated priority is %d\n", k.GetPriority())
		lock.Release()
		k.Printf("low: released, back to priority %d\n", k.GetPriority())
	})
	k.ThreadCreate("high", PriDefault+10, func() {
		k.Sleep(int64(k.timerFreq / 10))
		k.Printf("high: waiting for the lock\n")
		lock.Acquire()
		k.Printf("high: got the lock\n")
		lock.Release()
	})
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("sleeper-%d", i)
		period := int64((i + 1) * k.timerFreq / 4)
		k.ThreadCreate(name, PriDefault+i, func() {
			for {
				k.Sleep(period)
				k.Printf("%s: tick %d\n", name, k.Ticks())
			}
		})
	}

	k.Sleep(int64(seconds * k.timerFreq))
}

// demoMlfqs runs nice-staggered CPU hogs and lets the feedback queue
// spread them out.
func demoMlfqs(k *Kernel, seconds int) {
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("hog-%d", i)
		nice := i * 5
		k.ThreadCreate(name, PriDefault, func() {
			k.SetNice(nice)
			for {
				k.cpu.Pause() // instruction boundary: take pending ticks
			}
		})
	}
	k.Sleep(int64(seconds * k.timerFreq))
	k.Printf("load_avg=%d recent_cpu(main)=%d\n", k.LoadAvg(), k.RecentCPU())
}

package main

import (
	"errors"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// ErrTimerFreq is returned by New for a timer frequency outside the
// range the 8254 divisor can express usefully.
var ErrTimerFreq = errors.New("tiny_x86_kernel: timer frequency out of 19..1000 Hz")

// BootParams selects the boot-time configuration. The scheduling
// mode is fixed here for the machine's whole uptime; there is no
// runtime switch.
type BootParams struct {
	Mlfqs     bool `yaml:"mlfqs"`      // MLFQS instead of priority donation
	TimerFreq int  `yaml:"timer_freq"` // ticks per second, default 100
	Silent    bool `yaml:"silent"`     // keep the event log quiet
	Trace     bool `yaml:"trace"`      // record scheduler events

	Console io.Writer `yaml:"-"` // defaults to stdout
}

// LoadBootParams reads boot params from a YAML file.
func LoadBootParams(path string) (BootParams, error) {
	var p BootParams
	b, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, err
	}
	return p, nil
}

// Kernel is the whole machine and scheduler state, built once at
// boot and never reinitialized. All scheduler-state mutation happens
// with interrupts disabled, witnessed by the Critical token.
type Kernel struct {
	cpu    *CPU
	io     *IO
	pic    *PIC
	pit    *PIT
	serial *Serial
	idt    IDT

	log       *logrus.Logger
	conWriter io.Writer
	trace     *Trace

	mlfqs     bool
	timerFreq int

	nextTid Tid
	all     []*Thread // registry of live control blocks
	current *Thread
	idle    *Thread
	boot    *Thread

	ready           threadQueue
	sleepers        threadQueue
	nextTickToAwake int64
	loadAvg         FP

	ticks       int64
	idleTicks   int64
	kernelTicks int64
	thisSlice   int

	// allocFailures makes the next n creations fail, standing in for
	// the external allocator collaborator running dry.
	allocFailures int
}

// New builds the machine: devices on the port bus, IDT and PIC
// programmed, timer claimed, and the calling goroutine adopted as
// the "main" thread. Interrupts stay off until Start.
func New(p BootParams) (*Kernel, error) {
	if p.TimerFreq == 0 {
		p.TimerFreq = TimerFreqDefault
	}
	if p.TimerFreq < 19 || p.TimerFreq > 1000 {
		return nil, ErrTimerFreq
	}
	if p.Console == nil {
		p.Console = os.Stdout
	}

	log := logrus.New()
	log.SetOutput(p.Console)
	if p.Silent {
		log.SetLevel(logrus.WarnLevel)
	} else {
		log.SetLevel(logrus.DebugLevel)
	}

	cpu := NewCPU()
	pic := NewPIC(&cpu.mu, cpu.cond)
	pit := NewPIT(pic)
	serial := NewSerial(&cpu.mu, p.Console)

	k := &Kernel{
		cpu:             cpu,
		pic:             pic,
		pit:             pit,
		serial:          serial,
		io:              NewIO(pic, pit, serial),
		log:             log,
		conWriter:       p.Console,
		trace:           &Trace{enabled: p.Trace},
		mlfqs:           p.Mlfqs,
		timerFreq:       p.TimerFreq,
		nextTickToAwake: noWakeup,
		nextTid:         1,
	}
	cpu.k = k
	k.ready.name = "ready"
	k.sleepers.name = "sleep"

	k.intrInit()
	k.timerInit()

	main := k.newThread("main", PriDefault)
	main.status = StatusRunning
	k.all = append(k.all, main)
	k.current = main
	k.boot = main
	return k, nil
}

// Start brings up the idle thread and enables interrupts. Must be
// called on the goroutine that called New; that goroutine is the
// main thread from here on.
func (k *Kernel) Start() {
	kassert(k.idle == nil, "scheduler already started")
	idleStarted := NewSemaphore(k, 0)
	tid := k.ThreadCreate("idle", PriMin, func() {
		k.idleUp(idleStarted)
	})
	kassert(tid != TidError, "idle thread allocation failed")
	k.cpu.IntrEnable()
	idleStarted.Down()
}

// idleUp is the idle thread: record ourselves, then block forever,
// hlt-waiting for device interrupts whenever the ready queue runs
// dry. The scheduler picks us directly, never through the queue.
func (k *Kernel) idleUp(started *Semaphore) {
	k.idle = k.ThreadCurrent()
	started.Up()
	for {
		cs := k.cpu.Critical()
		k.idle.status = StatusBlocked
		k.schedule(cs)
		cs.Leave()
		k.cpu.hltWait()
	}
}

// CPU exposes the core, mainly for Pause and software interrupts.
func (k *Kernel) CPU() *CPU { return k.cpu }

// PIC exposes the interrupt controller pair.
func (k *Kernel) PIC() *PIC { return k.pic }

// Trace exposes the recorded scheduler events.
func (k *Kernel) Trace() *Trace { return k.trace }

// MLFQS reports the boot-time scheduling mode.
func (k *Kernel) MLFQS() bool { return k.mlfqs }

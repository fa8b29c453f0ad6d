package main

import (
	"math"
	"runtime"
	"sort"

	"github.com/sirupsen/logrus"
)

// Tid identifies a thread.
type Tid int32

// TidError is returned when thread creation fails cleanly.
const TidError Tid = -1

// Status is a state in a thread's life cycle.
type Status int

// thread states
const (
	StatusRunning Status = iota // running thread
	StatusReady                 // not running but ready to run
	StatusBlocked               // waiting for an event to trigger
	StatusDying                 // about to be destroyed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusReady:
		return "READY"
	case StatusBlocked:
		return "BLOCKED"
	case StatusDying:
		return "DYING"
	}
	return "?"
}

// thread priorities
const (
	PriMin     = 0  // lowest priority
	PriDefault = 31 // default priority
	PriMax     = 63 // highest priority
)

// nice range
const (
	NiceMin     = -20
	NiceDefault = 0
	NiceMax     = 20
)

// TimeSlice is how many ticks one thread runs before the tick
// handler rotates it out.
const TimeSlice = 4

// threadMagic detects overwrites of the control block; checked on
// every switch.
const threadMagic = uint32(0xcd6abf4b)

// noWakeup is the wakeupTick sentinel for a thread not sleeping.
const noWakeup = int64(math.MaxInt64)

// synthetic address layout for the saved frames
const (
	threadEntryAddr = uint64(0xffffffff80201000) // kernel thread entry
	threadStackBase = uint64(0xffffffff80400000) // one 4 kB page per thread
	threadStackSize = uint64(0x1000)
)

// Thread is one kernel thread's control block. Records live in the
// kernel's registry and are referenced by handle; the ordered
// containers (ready queue, wait queues, sleep queue) hold the same
// pointers, never owning them. A thread is on exactly one container
// while READY or BLOCKED and on none while RUNNING or DYING; the
// containers assert that at insertion.
type Thread struct {
	tid    Tid
	name   string
	status Status

	priority     int   // effective priority, possibly donated
	initPriority int   // own priority, restored when donation ends
	nice         int
	recentCPU    FP
	wakeupTick   int64 // absolute tick deadline, or noWakeup

	on *threadQueue // the one container this thread is linked into

	waitOnLock *Lock       // lock this thread is blocked on, if any
	donors     []*Thread   // threads currently donating to this one
	donatingTo *Thread     // reverse link: whose donors list we are on

	tf     Frame         // saved registers for the resume primitive
	permit chan struct{} // CPU handoff; exactly one holder machine-wide
	magic  uint32        // detects stack overflow into the block
}

func (k *Kernel) newThread(name string, priority int) *Thread {
	kassert(priority >= PriMin && priority <= PriMax, "priority %d out of range", priority)
	t := &Thread{
		tid:          k.nextTid,
		name:         name,
		status:       StatusBlocked,
		priority:     priority,
		initPriority: priority,
		nice:         NiceDefault,
		wakeupTick:   noWakeup,
		permit:       make(chan struct{}, 1),
		magic:        threadMagic,
	}
	k.nextTid++
	stackTop := threadStackBase + uint64(t.tid+1)*threadStackSize
	t.tf = Frame{
		ES:     SelKDSeg,
		DS:     SelKDSeg,
		RIP:    threadEntryAddr,
		CS:     SelKCSeg,
		RFlags: uint64(ReservedFlag | InterruptFlag),
		RSP:    stackTop,
		SS:     SelKDSeg,
	}
	return t
}

func (t *Thread) checkMagic() {
	kassert(t != nil && t.magic == threadMagic, "corrupted thread control block")
}

// threadQueue is an explicit ordered container of thread handles,
// replacing an intrusive in-block list link. Insertion enforces the
// at-most-one-container invariant.
type threadQueue struct {
	name string
	ts   []*Thread
}

func (q *threadQueue) insertAt(t *Thread, i int) {
	kassert(t.on == nil, "thread %q already on %q, cannot join %q", t.name, t.on.queueName(), q.name)
	t.on = q
	q.ts = append(q.ts, nil)
	copy(q.ts[i+1:], q.ts[i:])
	q.ts[i] = t
}

func (q *threadQueue) queueName() string {
	if q == nil {
		return "none"
	}
	return q.name
}

// insertByPriority keeps the queue ordered by descending effective
// priority, FIFO among equals.
func (q *threadQueue) insertByPriority(t *Thread) {
	i := 0
	for i < len(q.ts) && q.ts[i].priority >= t.priority {
		i++
	}
	q.insertAt(t, i)
}

// insertByWakeup keeps the queue ordered by ascending wakeup tick.
func (q *threadQueue) insertByWakeup(t *Thread) {
	i := 0
	for i < len(q.ts) && q.ts[i].wakeupTick <= t.wakeupTick {
		i++
	}
	q.insertAt(t, i)
}

// resortByPriority restores descending-priority order after
// effective priorities changed underneath the queue. Stable, so FIFO
// order within a priority level survives.
func (q *threadQueue) resortByPriority() {
	sort.SliceStable(q.ts, func(i, j int) bool {
		return q.ts[i].priority > q.ts[j].priority
	})
}

func (q *threadQueue) empty() bool {
	return len(q.ts) == 0
}

func (q *threadQueue) head() *Thread {
	kassert(!q.empty(), "head of empty queue %q", q.name)
	return q.ts[0]
}

func (q *threadQueue) pop() *Thread {
	t := q.head()
	q.ts = q.ts[1:]
	t.on = nil
	return t
}

func (q *threadQueue) remove(t *Thread) {
	kassert(t.on == q, "thread %q not on %q", t.name, q.name)
	for i, u := range q.ts {
		if u == t {
			q.ts = append(q.ts[:i], q.ts[i+1:]...)
			t.on = nil
			return
		}
	}
	kassert(false, "thread %q linked to %q but missing from it", t.name, q.name)
}

// ThreadCurrent returns the running thread's control block.
func (k *Kernel) ThreadCurrent() *Thread {
	k.current.checkMagic()
	kassert(k.current.status == StatusRunning, "current thread %q is %v", k.current.name, k.current.status)
	return k.current
}

// Tid returns the thread's identifier.
func (t *Thread) Tid() Tid { return t.tid }

// Name returns the thread's debugging name.
func (t *Thread) Name() string { return t.name }

// ThreadCreate makes a new kernel thread running fn and queues it.
// If the new thread outranks the caller, the caller yields at once.
// Returns TidError, with scheduler state untouched, when the
// allocator collaborator fails.
func (k *Kernel) ThreadCreate(name string, priority int, fn func()) Tid {
	if k.allocFailures > 0 {
		k.allocFailures--
		return TidError
	}

	cs := k.cpu.Critical()
	defer cs.Leave()

	t := k.newThread(name, priority)
	if k.mlfqs {
		// Priority is computed, not chosen; nice and recent_cpu are
		// inherited from the creator.
		cur := k.current
		t.nice = cur.nice
		t.recentCPU = cur.recentCPU
		t.priority = k.mlfqsPriority(t)
	}
	k.all = append(k.all, t)

	k.log.WithFields(logrus.Fields{
		"thread":   t.name,
		"tid":      t.tid,
		"priority": t.priority,
	}).Debug("thread created")
	k.trace.record(k.ticks, "create", t.name, t.priority)

	go func() {
		<-t.permit
		// A fresh thread starts as if returning through the resume
		// primitive: the scheduler switched to it with interrupts
		// off, its saved rflags have IF set.
		k.scheduleTail(nil)
		k.cpu.IntrEnable()
		fn()
		k.ThreadExit()
	}()

	k.threadUnblock(cs, t)
	k.testMaxPriority(cs)
	return t.tid
}

// threadBlock marks the caller BLOCKED and schedules the next
// thread. The caller must already be on whatever wait container
// will release it. Not legal inside an interrupt handler.
func (k *Kernel) threadBlock(cs *Critical) {
	kassert(!k.cpu.InIntrContext(), "blocking inside an interrupt handler")
	kassert(cs.held(), "thread_block with interrupts on")
	k.current.status = StatusBlocked
	k.schedule(cs)
}

// threadUnblock moves t from BLOCKED to READY and queues it by
// effective priority. It does not preempt; callers decide that, so
// it stays safe for interrupt handlers.
func (k *Kernel) threadUnblock(cs *Critical, t *Thread) {
	t.checkMagic()
	kassert(cs.held(), "thread_unblock with interrupts on")
	kassert(t.status == StatusBlocked, "unblocking %q in state %v", t.name, t.status)
	t.status = StatusReady
	k.ready.insertByPriority(t)
}

// ThreadYield cedes the CPU. The caller stays READY and is queued
// behind equal-priority threads; it keeps running if it still
// outranks everyone.
func (k *Kernel) ThreadYield() {
	kassert(!k.cpu.InIntrContext(), "yield inside an external interrupt handler")
	cs := k.cpu.Critical()
	cur := k.current
	cur.status = StatusReady
	if cur != k.idle {
		k.ready.insertByPriority(cur)
	}
	k.schedule(cs)
	cs.Leave()
}

// ThreadExit removes the caller from the system. The control block
// is reclaimed as the scheduler switches away; the goroutine never
// resumes.
func (k *Kernel) ThreadExit() {
	kassert(!k.cpu.InIntrContext(), "exit inside an external interrupt handler")
	cur := k.ThreadCurrent()
	kassert(cur != k.idle, "idle thread cannot exit")
	kassert(cur != k.boot, "the boot thread cannot exit")

	cs := k.cpu.Critical()
	k.log.WithFields(logrus.Fields{
		"thread": cur.name,
		"tid":    cur.tid,
	}).Debug("thread exiting")
	k.trace.record(k.ticks, "exit", cur.name, cur.priority)
	cur.status = StatusDying
	k.schedule(cs)
	// schedule reaped our record and handed the CPU on; stop the
	// goroutine here.
	runtime.Goexit()
}

// testMaxPriority yields immediately if a ready thread outranks the
// running one: from interrupt context on interrupt return, from
// normal context right now.
func (k *Kernel) testMaxPriority(cs *Critical) {
	kassert(cs.held(), "priority test with interrupts on")
	if k.ready.empty() || k.ready.head().priority <= k.current.priority {
		return
	}
	if k.cpu.InIntrContext() {
		k.cpu.IntrYieldOnReturn()
		return
	}
	k.ThreadYield()
}

// GetPriority returns the caller's effective priority.
func (k *Kernel) GetPriority() int {
	return k.ThreadCurrent().priority
}

// SetPriority sets the caller's own priority. The effective priority
// keeps any higher donation. A no-op under MLFQS, where priorities
// are computed.
func (k *Kernel) SetPriority(priority int) {
	if k.mlfqs {
		return
	}
	kassert(priority >= PriMin && priority <= PriMax, "priority %d out of range", priority)
	cs := k.cpu.Critical()
	cur := k.ThreadCurrent()
	cur.initPriority = priority
	k.refreshPriority(cs, cur)
	k.testMaxPriority(cs)
	cs.Leave()
}

// readyReposition re-files a READY thread whose effective priority
// changed, keeping the ready-queue ordering invariant true.
func (k *Kernel) readyReposition(cs *Critical, t *Thread) {
	kassert(cs.held(), "ready reposition with interrupts on")
	if t.status == StatusReady && t.on == &k.ready {
		k.ready.remove(t)
		k.ready.insertByPriority(t)
	}
}

// Sleep blocks the caller until at least ticks timer ticks from now.
// Non-positive ticks return immediately.
func (k *Kernel) Sleep(ticks int64) {
	if ticks <= 0 {
		return
	}
	kassert(!k.cpu.InIntrContext(), "sleep inside an external interrupt handler")
	cs := k.cpu.Critical()
	cur := k.ThreadCurrent()
	kassert(cur != k.idle, "idle thread cannot sleep")

	cur.wakeupTick = k.ticks + ticks
	k.sleepers.insertByWakeup(cur)
	if cur.wakeupTick < k.nextTickToAwake {
		k.nextTickToAwake = cur.wakeupTick
	}
	k.log.WithFields(logrus.Fields{
		"thread": cur.name,
		"until":  cur.wakeupTick,
	}).Debug("thread sleeping")
	k.trace.record(k.ticks, "sleep", cur.name, cur.priority)

	k.threadBlock(cs)
	cs.Leave()
}

// threadAwake wakes every sleeper whose deadline has arrived. The
// cached minimum deadline makes the common no-op tick O(1). Runs
// in timer-interrupt context.
func (k *Kernel) threadAwake(now int64) {
	if now < k.nextTickToAwake {
		return
	}
	cs := k.cpu.Critical() // already off in interrupt context
	defer cs.Leave()
	for !k.sleepers.empty() && k.sleepers.head().wakeupTick <= now {
		t := k.sleepers.pop()
		t.wakeupTick = noWakeup
		k.threadUnblock(cs, t)
		k.log.WithFields(logrus.Fields{
			"thread": t.name,
			"tick":   now,
		}).Debug("thread woken")
		k.trace.record(now, "wake", t.name, t.priority)
		if t.priority > k.current.priority {
			k.cpu.IntrYieldOnReturn()
		}
	}
	if k.sleepers.empty() {
		k.nextTickToAwake = noWakeup
	} else {
		k.nextTickToAwake = k.sleepers.head().wakeupTick
	}
}

// NextTickToAwake returns the cached earliest sleep deadline, or
// noWakeup when nobody sleeps.
func (k *Kernel) NextTickToAwake() int64 {
	return k.nextTickToAwake
}

// threadTick runs in timer-interrupt context once per tick: account
// the tick, run the MLFQS cadence, rotate on time-slice expiry.
func (k *Kernel) threadTick() {
	cur := k.current
	if cur == k.idle {
		k.idleTicks++
	} else {
		k.kernelTicks++
	}

	if k.mlfqs {
		k.mlfqsIncrement()
		if k.ticks%4 == 0 {
			k.mlfqsRecalcPriority()
		}
		if k.ticks%int64(k.timerFreq) == 0 {
			k.mlfqsLoadAvg()
			k.mlfqsRecalcRecentCPU()
			k.mlfqsRecalcPriority()
		}
	}

	k.thisSlice++
	if k.thisSlice >= TimeSlice {
		k.cpu.IntrYieldOnReturn()
	}
}

// nextThreadToRun pops the highest-priority ready thread, or falls
// back to the idle thread. The idle thread is chosen regardless of
// its recorded status; it is never on the ready queue after start.
func (k *Kernel) nextThreadToRun() *Thread {
	if k.ready.empty() {
		kassert(k.idle != nil, "nothing to run before the idle thread exists")
		return k.idle
	}
	return k.ready.pop()
}

// schedule switches to the next thread to run. Must be called with
// interrupts off and the running thread already moved out of the
// RUNNING state. If the outgoing thread is DYING its record is
// reclaimed here, at the moment of switching away, and the caller is
// expected to stop its goroutine on return.
func (k *Kernel) schedule(cs *Critical) {
	kassert(cs.held(), "schedule with interrupts on")
	kassert(!k.cpu.InIntrContext(), "schedule inside an external interrupt handler")

	cur := k.current
	cur.checkMagic()
	kassert(cur.status != StatusRunning, "schedule from a still-running thread")

	next := k.nextThreadToRun()
	next.checkMagic()
	next.status = StatusRunning
	k.thisSlice = 0
	if next == cur {
		return
	}

	k.current = next
	k.log.WithFields(logrus.Fields{
		"from": cur.name,
		"to":   next.name,
		"tick": k.ticks,
	}).Debug("context switch")
	k.trace.record(k.ticks, "switch", next.name, next.priority)

	if cur.status == StatusDying {
		// The dying thread cannot reclaim its own record while still
		// running on it; do it now, on its last instant as holder.
		k.reap(cur)
		next.permit <- struct{}{}
		return
	}

	// Hand over the CPU and park until rescheduled. Whoever switches
	// back to us does so with interrupts off, so the token discipline
	// holds across the gap.
	next.permit <- struct{}{}
	<-cur.permit
	k.scheduleTail(cur)
}

// scheduleTail is the first code a thread runs after being switched
// to.
func (k *Kernel) scheduleTail(t *Thread) {
	kassert(k.cpu.IntrLevel() == IntrOff, "resumed with interrupts on")
	k.current.checkMagic()
	kassert(k.current.status == StatusRunning, "resumed thread is %v", k.current.status)
}

// reap removes a dying thread's record from the registry.
func (k *Kernel) reap(t *Thread) {
	kassert(t.status == StatusDying, "reaping live thread %q", t.name)
	kassert(t.on == nil, "reaping thread %q still on %q", t.name, t.on.queueName())
	kassert(len(t.donors) == 0, "reaping thread %q with donors", t.name)
	for i, u := range k.all {
		if u == t {
			k.all = append(k.all[:i], k.all[i+1:]...)
			t.magic = 0
			return
		}
	}
	kassert(false, "dying thread %q not in registry", t.name)
}

// PrintStats prints the tick accounting to the console.
func (k *Kernel) PrintStats() {
	k.Printf("Thread: %d idle ticks, %d kernel ticks\n", k.idleTicks, k.kernelTicks)
}

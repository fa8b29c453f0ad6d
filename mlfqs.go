package main

// The multi-level feedback queue scheduler. Active only when booted
// with Mlfqs: priorities are computed from recent CPU usage and
// niceness on a fixed tick cadence, manual priority setting becomes
// a no-op, and the donation engine is bypassed entirely. All
// arithmetic is 17.14 fixed point.

// mlfqsPriority computes clamp(PRI_MAX - recent_cpu/4 - nice*2),
// truncating the fixed-point result toward zero.
func (k *Kernel) mlfqsPriority(t *Thread) int {
	x := fpSub(toFP(PriMax), fpDivInt(t.recentCPU, 4))
	x = fpSubInt(x, t.nice*2)
	p := fpToInt(x)
	if p < PriMin {
		p = PriMin
	}
	if p > PriMax {
		p = PriMax
	}
	return p
}

// mlfqsIncrement charges the running thread one tick of CPU. The
// idle thread is never charged.
func (k *Kernel) mlfqsIncrement() {
	if k.current == k.idle {
		return
	}
	k.current.recentCPU = fpAddInt(k.current.recentCPU, 1)
}

// mlfqsLoadAvg recomputes the system load average once per second:
// load_avg = (59/60)*load_avg + (1/60)*ready_threads, where
// ready_threads counts the ready queue plus the running thread
// unless it is idle.
func (k *Kernel) mlfqsLoadAvg() {
	ready := len(k.ready.ts)
	if k.current != k.idle {
		ready++
	}
	k.loadAvg = fpAdd(
		fpMul(fpDiv(toFP(59), toFP(60)), k.loadAvg),
		fpMulInt(fpDiv(toFP(1), toFP(60)), ready))
}

// mlfqsRecentCPU decays one thread's recent_cpu:
// recent_cpu = (2*load_avg)/(2*load_avg + 1) * recent_cpu + nice.
func (k *Kernel) mlfqsRecentCPU(t *Thread) {
	twice := fpMulInt(k.loadAvg, 2)
	t.recentCPU = fpAddInt(fpMul(fpDiv(twice, fpAddInt(twice, 1)), t.recentCPU), t.nice)
}

// mlfqsRecalcRecentCPU decays every live thread.
func (k *Kernel) mlfqsRecalcRecentCPU() {
	for _, t := range k.all {
		if t == k.idle {
			continue
		}
		k.mlfqsRecentCPU(t)
	}
}

// mlfqsRecalcPriority recomputes every live thread's priority, then
// restores the ready-queue ordering and preempts if the running
// thread no longer ranks highest.
func (k *Kernel) mlfqsRecalcPriority() {
	for _, t := range k.all {
		if t == k.idle {
			continue
		}
		t.priority = k.mlfqsPriority(t)
	}
	k.ready.resortByPriority()

	cs := k.cpu.Critical() // interrupts already off on the tick path
	k.testMaxPriority(cs)
	cs.Leave()
}

// GetNice returns the caller's nice value.
func (k *Kernel) GetNice() int {
	return k.ThreadCurrent().nice
}

// SetNice sets the caller's nice value, clamped to [-20, 20], and
// recomputes its priority immediately.
func (k *Kernel) SetNice(nice int) {
	if nice < NiceMin {
		nice = NiceMin
	}
	if nice > NiceMax {
		nice = NiceMax
	}
	cs := k.cpu.Critical()
	cur := k.ThreadCurrent()
	cur.nice = nice
	if k.mlfqs {
		cur.priority = k.mlfqsPriority(cur)
	}
	k.testMaxPriority(cs)
	cs.Leave()
}

// LoadAvg returns 100 times the system load average, rounded to the
// nearest integer, ties away from zero.
func (k *Kernel) LoadAvg() int {
	return fpToIntNearest(fpMulInt(k.loadAvg, 100))
}

// RecentCPU returns 100 times the caller's recent_cpu, rounded to
// the nearest integer, ties away from zero.
func (k *Kernel) RecentCPU() int {
	return fpToIntNearest(fpMulInt(k.ThreadCurrent().recentCPU, 100))
}

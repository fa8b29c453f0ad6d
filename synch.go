package main

import (
	"github.com/sirupsen/logrus"
)

// Semaphore is a counting semaphore. Down may block and is only
// legal outside interrupt context; Up never blocks and may be called
// from an interrupt handler.
type Semaphore struct {
	k       *Kernel
	value   int
	waiters threadQueue
}

// NewSemaphore creates a semaphore with the given initial value.
func NewSemaphore(k *Kernel, value int) *Semaphore {
	kassert(value >= 0, "negative semaphore value %d", value)
	s := &Semaphore{k: k, value: value}
	s.waiters.name = "semaphore"
	return s
}

// Down waits until the value is positive, then decrements it.
func (s *Semaphore) Down() {
	kassert(!s.k.cpu.InIntrContext(), "sema down inside an interrupt handler")
	cs := s.k.cpu.Critical()
	for s.value == 0 {
		s.waiters.insertByPriority(s.k.current)
		s.k.threadBlock(cs)
	}
	s.value--
	cs.Leave()
}

// TryDown decrements the value without waiting; reports whether it
// could.
func (s *Semaphore) TryDown() bool {
	cs := s.k.cpu.Critical()
	ok := s.value > 0
	if ok {
		s.value--
	}
	cs.Leave()
	return ok
}

// Up increments the value and wakes the highest-priority waiter, if
// any. Waiters are re-sorted first: donations may have changed their
// effective priorities since they queued.
func (s *Semaphore) Up() {
	cs := s.k.cpu.Critical()
	if !s.waiters.empty() {
		s.waiters.resortByPriority()
		s.k.threadUnblock(cs, s.waiters.pop())
	}
	s.value++
	s.k.testMaxPriority(cs)
	cs.Leave()
}

// Lock is a mutual-exclusion lock: a one-valued semaphore plus a
// holder, which is what the donation engine chains through.
type Lock struct {
	k      *Kernel
	holder *Thread
	sema   *Semaphore
}

// NewLock creates a lock, initially held by nobody.
func NewLock(k *Kernel) *Lock {
	return &Lock{k: k, sema: NewSemaphore(k, 1)}
}

// Holder returns the owning thread, or nil.
func (l *Lock) Holder() *Thread { return l.holder }

func (l *Lock) heldByCurrent() bool {
	return l.holder != nil && l.holder == l.k.current
}

// Acquire takes the lock, sleeping until it is free. If the holder
// has lower effective priority than the caller, the caller's
// priority is donated to it, transitively along the chain of locks
// the holder itself waits on. The chain walk has no depth cap; it is
// bounded by the number of live threads, and constructing a wait
// cycle is a caller contract violation this kernel does not detect.
func (l *Lock) Acquire() {
	kassert(!l.k.cpu.InIntrContext(), "lock acquire inside an interrupt handler")
	cur := l.k.ThreadCurrent()
	kassert(!l.heldByCurrent(), "thread %q reacquiring its own lock", cur.name)

	cs := l.k.cpu.Critical()
	if l.holder != nil && !l.k.mlfqs {
		cur.waitOnLock = l
		kassert(cur.donatingTo == nil, "thread %q already donating to %q", cur.name, cur.donatingTo.nameSafe())
		cur.donatingTo = l.holder
		l.holder.donors = append(l.holder.donors, cur)
		l.k.donatePriority(cs, cur)
	}
	l.sema.Down()
	cur.waitOnLock = nil
	l.holder = cur
	cs.Leave()
}

// TryAcquire takes the lock without waiting and without donating.
func (l *Lock) TryAcquire() bool {
	kassert(!l.k.cpu.InIntrContext(), "lock acquire inside an interrupt handler")
	cs := l.k.cpu.Critical()
	ok := l.sema.TryDown()
	if ok {
		l.holder = l.k.ThreadCurrent()
	}
	cs.Leave()
	return ok
}

// Release gives the lock up. Donations received through this lock
// end here: the releasing thread drops those donors and recomputes
// its effective priority from the ones that remain, falling all the
// way back to its own priority when none do.
func (l *Lock) Release() {
	cur := l.k.ThreadCurrent()
	kassert(l.holder == cur, "thread %q releasing a lock it does not hold", cur.name)

	cs := l.k.cpu.Critical()
	if !l.k.mlfqs {
		l.k.removeWithLock(cs, l)
		l.k.refreshPriority(cs, cur)
	}
	l.holder = nil
	l.sema.Up()
	cs.Leave()
}

// donatePriority raises each holder along the caller's wait chain to
// at least the waiting thread's effective priority. The walk stops
// as soon as a holder already ranks high enough; everything upstream
// then does too.
func (k *Kernel) donatePriority(cs *Critical, t *Thread) {
	kassert(cs.held(), "donation with interrupts on")
	donor := t
	for donor.waitOnLock != nil {
		h := donor.waitOnLock.holder
		if h == nil || h.priority >= donor.priority {
			break
		}
		h.priority = donor.priority
		k.readyReposition(cs, h)
		k.log.WithFields(logrus.Fields{
			"donor":    donor.name,
			"to":       h.name,
			"priority": h.priority,
		}).Debug("priority donated")
		k.trace.record(k.ticks, "donate", h.name, h.priority)
		donor = h
	}
}

// removeWithLock drops, from the caller's donor list, every thread
// that was donating because it waits on l.
func (k *Kernel) removeWithLock(cs *Critical, l *Lock) {
	kassert(cs.held(), "donor removal with interrupts on")
	cur := k.current
	kept := cur.donors[:0]
	for _, d := range cur.donors {
		if d.waitOnLock == l {
			d.donatingTo = nil
		} else {
			kept = append(kept, d)
		}
	}
	cur.donors = kept
}

// refreshPriority recomputes t's effective priority as the maximum
// of its own priority and its remaining donors'.
func (k *Kernel) refreshPriority(cs *Critical, t *Thread) {
	kassert(cs.held(), "priority refresh with interrupts on")
	t.priority = t.initPriority
	for _, d := range t.donors {
		if d.priority > t.priority {
			t.priority = d.priority
		}
	}
	k.readyReposition(cs, t)
}

func (t *Thread) nameSafe() string {
	if t == nil {
		return "none"
	}
	return t.name
}

// condWaiter is one waiter's private rendezvous semaphore.
type condWaiter struct {
	sem *Semaphore
}

func (w *condWaiter) priority() int {
	if w.sem.waiters.empty() {
		return PriMin - 1
	}
	return w.sem.waiters.head().priority
}

// Cond is a condition variable over a Lock. Signal wakes the
// highest-priority waiter.
type Cond struct {
	k       *Kernel
	waiters []*condWaiter
}

// NewCond creates a condition variable.
func NewCond(k *Kernel) *Cond {
	return &Cond{k: k}
}

// Wait atomically releases l and sleeps until signaled, then
// reacquires l before returning.
func (c *Cond) Wait(l *Lock) {
	kassert(!c.k.cpu.InIntrContext(), "cond wait inside an interrupt handler")
	kassert(l.heldByCurrent(), "cond wait without holding the lock")

	w := &condWaiter{sem: NewSemaphore(c.k, 0)}
	cs := c.k.cpu.Critical()
	c.waiters = append(c.waiters, w)
	cs.Leave()

	l.Release()
	w.sem.Down()
	l.Acquire()
}

// Signal wakes one waiter, the one whose thread currently ranks
// highest.
func (c *Cond) Signal(l *Lock) {
	kassert(l.heldByCurrent(), "cond signal without holding the lock")
	cs := c.k.cpu.Critical()
	var w *condWaiter
	if len(c.waiters) > 0 {
		best := 0
		for i := 1; i < len(c.waiters); i++ {
			if c.waiters[i].priority() > c.waiters[best].priority() {
				best = i
			}
		}
		w = c.waiters[best]
		c.waiters = append(c.waiters[:best], c.waiters[best+1:]...)
	}
	cs.Leave()
	if w != nil {
		w.sem.Up()
	}
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast(l *Lock) {
	kassert(l.heldByCurrent(), "cond broadcast without holding the lock")
	for len(c.waiters) > 0 {
		c.Signal(l)
	}
}

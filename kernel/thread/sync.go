package thread

import (
	"log/slog"

	"pintsim/kerrors"
	"pintsim/klog"
)

// Semaphore is a non-negative counter with an ordered waiters list, kept in
// effective-priority-descending order. Grounded on sema_down/try_down/up in
// threads/synch.c.
type Semaphore struct {
	value   int
	waiters []*TCB
	sched   *Scheduler
}

// NewSemaphore creates a semaphore with the given initial value. The
// scheduler it blocks and wakes threads on is passed to each Down, TryDown
// and Up call.
func NewSemaphore(value int) *Semaphore {
	return &Semaphore{value: value}
}

// Bind records sched on the semaphore. Down, TryDown and Up do not read
// the recorded scheduler; they use the one passed to them.
func (s *Semaphore) Bind(sched *Scheduler) *Semaphore {
	s.sched = sched
	return s
}

func (s *Semaphore) insertWaiter(t *TCB) {
	i := 0
	for i < len(s.waiters) && s.waiters[i].EffectivePriority() >= t.EffectivePriority() {
		i++
	}
	s.waiters = append(s.waiters, nil)
	copy(s.waiters[i+1:], s.waiters[i:])
	s.waiters[i] = t
}

func (s *Semaphore) resort() {
	for i := 1; i < len(s.waiters); i++ {
		w := s.waiters[i]
		j := i - 1
		for j >= 0 && s.waiters[j].EffectivePriority() < w.EffectivePriority() {
			s.waiters[j+1] = s.waiters[j]
			j--
		}
		s.waiters[j+1] = w
	}
}

// Down suspends the calling thread while the counter is zero. Must not be
// called from interrupt/tick context.
func (s *Semaphore) Down(sched *Scheduler) {
	sched.assertNotInterruptContext("sema_down")
	sched.mu.Lock()
	cur := sched.current
	for s.value == 0 {
		s.insertWaiter(cur)
		sched.blockLocked(cur, linkageOnSema)
		sched.mu.Lock()
	}
	s.value--
	sched.mu.Unlock()
}

// TryDown is the nonblocking variant; safe from interrupt context.
func (s *Semaphore) TryDown(sched *Scheduler) bool {
	sched.mu.Lock()
	defer sched.mu.Unlock()
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

// Up increments the counter and wakes the highest-priority waiter, if any.
// Safe from interrupt context.
func (s *Semaphore) Up(sched *Scheduler) {
	sched.mu.Lock()
	s.resort()
	var woken *TCB
	if len(s.waiters) > 0 {
		woken = s.waiters[0]
		s.waiters = s.waiters[1:]
	}
	s.value++
	if woken != nil {
		sched.unblockLocked(woken)
	}
	sched.mu.Unlock()
	sched.CheckAndYield()
}

// Lock is a non-reentrant binary lock with owner tracking and priority
// donation, grounded on lock_acquire/lock_release in threads/synch.c.
type Lock struct {
	holder    *TCB
	semaphore *Semaphore
}

// NewLock creates an unheld lock.
func NewLock() *Lock {
	return &Lock{semaphore: NewSemaphore(1)}
}

// HeldByCurrent reports whether the scheduler's current thread holds l.
func (l *Lock) HeldByCurrent(sched *Scheduler) bool {
	sched.mu.Lock()
	defer sched.mu.Unlock()
	return l.holder == sched.current
}

// Acquire blocks until the lock is free, donating priority along the
// waiting_on_lock chain in the meantime. Panics with ErrLockRecursive if
// the caller already holds the lock.
func (l *Lock) Acquire(sched *Scheduler) {
	sched.assertNotInterruptContext("lock_acquire")

	sched.mu.Lock()
	cur := sched.current
	if l.holder == cur {
		sched.mu.Unlock()
		panic(kerrors.ErrLockRecursive)
	}
	if l.holder != nil {
		cur.WaitingOnLock = l
		l.holder.insertDonation(cur)

		// Walk the waiting_on_lock chain, raising each holder's
		// effective priority to the donor's (never lowering it).
		donor := cur
		for donor.WaitingOnLock != nil {
			holder := donor.WaitingOnLock.holder
			if holder == nil {
				break
			}
			if holder.PriorityEffective < donor.PriorityEffective {
				klog.WithTick(klog.WithThread(klog.Default(), holder.ID), sched.tick).Debug(
					"priority donated", slog.Int("from", donor.ID), slog.Int("to", donor.PriorityEffective))
				holder.PriorityEffective = donor.PriorityEffective
				sched.repositionReadyLocked(holder)
			}
			donor = holder
		}
	}
	sched.mu.Unlock()

	l.semaphore.Down(sched)

	sched.mu.Lock()
	sched.current.WaitingOnLock = nil
	l.holder = sched.current
	sched.mu.Unlock()
}

// TryAcquire attempts to acquire the lock without blocking.
func (l *Lock) TryAcquire(sched *Scheduler) bool {
	if l.HeldByCurrent(sched) {
		panic(kerrors.ErrLockRecursive)
	}
	if l.semaphore.TryDown(sched) {
		sched.mu.Lock()
		l.holder = sched.current
		sched.mu.Unlock()
		return true
	}
	return false
}

// Release gives up the lock, recomputing the releaser's effective priority
// from its own remaining donations, then yields if a higher-priority
// thread is now ready. Panics with ErrLockNotOwner if called by a
// non-owner.
func (l *Lock) Release(sched *Scheduler) {
	sched.mu.Lock()
	cur := sched.current
	if l.holder != cur {
		sched.mu.Unlock()
		panic(kerrors.ErrLockNotOwner)
	}

	cur.removeDonationsFor(l)
	cur.recomputeEffectivePriority()
	if len(cur.Donations) > 0 {
		cur.resortDonations()
		if cur.Donations[0].PriorityEffective > cur.PriorityEffective {
			cur.PriorityEffective = cur.Donations[0].PriorityEffective
		}
	}
	l.holder = nil
	sched.mu.Unlock()

	l.semaphore.Up(sched)
}

// semaphoreElem wraps a private semaphore for condition-variable waiters,
// ordered by the priority of the thread currently blocked on it.
type semaphoreElem struct {
	sema   *Semaphore
	waiter *TCB
}

// Cond is a Mesa-semantics condition variable: each waiter blocks on its
// own private one-shot semaphore so broadcast wakes waiters in priority
// order. Grounded on cond_wait/signal/broadcast in threads/synch.c.
type Cond struct {
	waiters []*semaphoreElem
}

// NewCond creates an empty condition variable.
func NewCond() *Cond { return &Cond{} }

func (c *Cond) insert(e *semaphoreElem) {
	i := 0
	for i < len(c.waiters) && c.waiters[i].waiter.EffectivePriority() >= e.waiter.EffectivePriority() {
		i++
	}
	c.waiters = append(c.waiters, nil)
	copy(c.waiters[i+1:], c.waiters[i:])
	c.waiters[i] = e
}

func (c *Cond) resort() {
	for i := 1; i < len(c.waiters); i++ {
		w := c.waiters[i]
		j := i - 1
		for j >= 0 && c.waiters[j].waiter.EffectivePriority() < w.waiter.EffectivePriority() {
			c.waiters[j+1] = c.waiters[j]
			j--
		}
		c.waiters[j+1] = w
	}
}

// Wait atomically releases lock and blocks until Signal or Broadcast
// wakes this waiter, then reacquires lock before returning. The caller
// must hold lock.
func (c *Cond) Wait(sched *Scheduler, lock *Lock) {
	if !lock.HeldByCurrent(sched) {
		panic(kerrors.ErrLockNotOwner)
	}
	elem := &semaphoreElem{sema: NewSemaphore(0), waiter: sched.current}
	c.insert(elem)

	lock.Release(sched)
	elem.sema.Down(sched)
	lock.Acquire(sched)
}

// Signal wakes the highest-priority waiter, if any. The caller must hold
// lock.
func (c *Cond) Signal(sched *Scheduler, lock *Lock) {
	if !lock.HeldByCurrent(sched) {
		panic(kerrors.ErrLockNotOwner)
	}
	if len(c.waiters) == 0 {
		return
	}
	c.resort()
	front := c.waiters[0]
	c.waiters = c.waiters[1:]
	front.sema.Up(sched)
}

// Broadcast wakes every waiter, in priority order. The caller must hold
// lock.
func (c *Cond) Broadcast(sched *Scheduler, lock *Lock) {
	for len(c.waiters) > 0 {
		c.Signal(sched, lock)
	}
}

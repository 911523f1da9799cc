package thread

import (
	"log/slog"
	"sync"

	"github.com/google/btree"

	"pintsim/kconfig"
	"pintsim/kerrors"
	"pintsim/klog"
)

// readyItem orders the ready queue by effective priority descending, with
// insertion sequence as a tiebreaker so threads of equal priority run
// round-robin (FIFO), matching list_insert_ordered's stable behavior in
// threads/thread.c.
type readyItem struct {
	prio int
	seq  uint64
	tcb  *TCB
}

func (a readyItem) Less(other btree.Item) bool {
	b := other.(readyItem)
	if a.prio != b.prio {
		return a.prio > b.prio
	}
	return a.seq < b.seq
}

// sleepItem orders the sleep queue by wake tick ascending, per spec.md
// §4.2 ("Sleep queue is ordered by wake_tick asc").
type sleepItem struct {
	wake int64
	seq  uint64
	tcb  *TCB
}

func (a sleepItem) Less(other btree.Item) bool {
	b := other.(sleepItem)
	if a.wake != b.wake {
		return a.wake < b.wake
	}
	return a.seq < b.seq
}

// Scheduler is the single-CPU priority scheduler. Since this is a
// user-space simulator rather than a bare-metal kernel, "the CPU" is
// modeled as a baton passed between goroutines: exactly one TCB's
// goroutine is ever unblocked at a time, mirroring spec.md §5's "no
// kernel threads run in parallel". mu plays the role of disabling
// interrupts around scheduler-list mutations.
type Scheduler struct {
	mu sync.Mutex

	ready    *btree.BTree
	sleeping *btree.BTree
	destroy  []*TCB

	current *TCB
	idle    *TCB

	nextID int
	seq    uint64
	tick   int64

	// inInterruptContext marks execution of the tick() handler, which
	// may call Up/Unblock but must never block.
	inInterruptContext bool
}

// NewScheduler creates a scheduler and its idle thread. The idle thread
// has the lowest priority and is selected only when the ready queue is
// empty.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		ready:    btree.New(32),
		sleeping: btree.New(32),
	}
	s.idle = newTCB(s.allocID(), "idle", kconfig.PriorityMin)
	s.idle.status = StatusRunning
	s.current = s.idle
	return s
}

func (s *Scheduler) allocID() int {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Scheduler) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// Current returns the thread currently holding the CPU.
func (s *Scheduler) Current() *TCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) assertNotInterruptContext(op string) {
	if s.inInterruptContext {
		panic(kerrors.New(kerrors.ErrInvariant, op, "suspension point called from interrupt context"))
	}
}

// readyInsert adds t to the ready queue in priority order. Caller must
// hold s.mu.
func (s *Scheduler) readyInsert(t *TCB) {
	if t.linkage != linkageNone {
		panic(kerrors.ErrDoubleQueued)
	}
	t.linkage = linkageReady
	t.status = StatusReady
	t.seq = s.nextSeq()
	t.queuedPrio = t.PriorityEffective
	s.ready.ReplaceOrInsert(readyItem{prio: t.queuedPrio, seq: t.seq, tcb: t})
}

// repositionReadyLocked re-sorts t's entry in the ready btree after its
// effective priority changed (donation raised a preempted lock holder's
// priority, or SetPriority was called). No-op if t is not currently
// queued as ready. Caller must hold s.mu. Grounded on the testable
// property that the ready queue is weakly sorted by priority_effective
// desc at every observation point (spec.md §8).
func (s *Scheduler) repositionReadyLocked(t *TCB) {
	if t.linkage != linkageReady {
		return
	}
	s.ready.Delete(readyItem{prio: t.queuedPrio, seq: t.seq, tcb: t})
	t.linkage = linkageNone
	s.readyInsert(t)
}

// readyPop removes and returns the front of the ready queue, or nil if
// empty. Caller must hold s.mu.
func (s *Scheduler) readyPop() *TCB {
	item := s.ready.DeleteMin()
	if item == nil {
		return nil
	}
	t := item.(readyItem).tcb
	t.linkage = linkageNone
	return t
}

func (s *Scheduler) readyFrontPriority() (int, bool) {
	item := s.ready.Min()
	if item == nil {
		return 0, false
	}
	return item.(readyItem).prio, true
}

// pickNext selects the next TCB to run: highest-priority ready thread, or
// idle if none. Caller must hold s.mu.
func (s *Scheduler) pickNext() *TCB {
	if t := s.readyPop(); t != nil {
		return t
	}
	return s.idle
}

// switchContext hands the CPU to next and parks prev (the caller's
// goroutine) until it is scheduled again. Caller must hold s.mu; it is
// released internally before parking and is NOT held when this returns.
func (s *Scheduler) switchContext(next *TCB) {
	prev := s.current
	s.current = next
	next.status = StatusRunning
	next.CheckCanary()

	if next != prev {
		next.resume <- struct{}{}
	}

	if prev.status == StatusDying || prev == next {
		s.mu.Unlock()
		return
	}

	s.mu.Unlock()
	<-prev.resume
}

// Create spawns a new thread at priority and returns its TCB. fn runs on
// the thread's simulated kernel stack (goroutine) once first scheduled.
func (s *Scheduler) Create(name string, priority int, fn func(*TCB)) *TCB {
	s.mu.Lock()
	t := newTCB(s.allocID(), name, priority)
	s.readyInsert(t)
	tick := s.tick
	s.mu.Unlock()

	klog.WithTick(klog.WithThread(klog.Default(), t.ID), tick).Debug("thread created", slog.String("name", name), slog.Int("priority", priority))

	go func() {
		<-t.resume
		fn(t)
	}()
	return t
}

// blockLocked transitions cur off the CPU with the given linkage (already
// applied by the caller, e.g. inserted into a semaphore waiters list) and
// switches to the next ready thread. Caller must hold s.mu; released
// internally.
func (s *Scheduler) blockLocked(cur *TCB, kind linkageKind) {
	cur.status = StatusBlocked
	cur.linkage = kind
	next := s.pickNext()
	s.switchContext(next)
}

// Block suspends the calling thread indefinitely; a subsequent Unblock
// elsewhere makes it ready again. Exposed for callers (e.g. custom wait
// protocols) outside of Semaphore/Lock/Cond.
func (s *Scheduler) Block() {
	s.assertNotInterruptContext("thread_block")
	s.mu.Lock()
	s.blockLocked(s.current, linkageOnSema)
}

// Unblock makes t ready, inserting it into the ready queue in priority
// order. Does not preempt the caller; callers decide whether to yield via
// CheckAndYield.
func (s *Scheduler) Unblock(t *TCB) {
	s.mu.Lock()
	s.unblockLocked(t)
	s.mu.Unlock()
}

func (s *Scheduler) unblockLocked(t *TCB) {
	t.linkage = linkageNone
	s.readyInsert(t)
}

// Yield inserts the caller (unless it is idle) back into the ready queue
// at its current priority, then switches to the next ready thread.
func (s *Scheduler) Yield() {
	s.assertNotInterruptContext("thread_yield")
	s.mu.Lock()
	cur := s.current
	if cur != s.idle {
		s.readyInsert(cur)
	} else {
		cur.status = StatusRunning
	}
	next := s.pickNext()
	s.switchContext(next)
}

// SleepUntil blocks the caller until Tick observes wakeTick has passed,
// inserting it into the sleep queue ordered by wake tick ascending.
func (s *Scheduler) SleepUntil(wakeTick int64) {
	s.assertNotInterruptContext("thread_sleep")
	s.mu.Lock()
	cur := s.current
	cur.WakeTick = wakeTick
	cur.linkage = linkageSleeping
	s.sleeping.ReplaceOrInsert(sleepItem{wake: wakeTick, seq: s.nextSeq(), tcb: cur})
	s.blockLocked(cur, linkageSleeping)
}

// CheckAndYield yields if the ready queue's front thread has strictly
// higher effective priority than the caller. Never yields from interrupt
// context.
func (s *Scheduler) CheckAndYield() {
	if s.inInterruptContext {
		return
	}
	s.mu.Lock()
	cur := s.current
	frontPrio, ok := s.readyFrontPriority()
	s.mu.Unlock()
	if ok && frontPrio > cur.EffectivePriority() {
		s.Yield()
	}
}

// SetPriority updates the caller's base priority, recomputes its
// effective priority from donations, and yields if preempted.
func (s *Scheduler) SetPriority(t *TCB, priority int) {
	s.mu.Lock()
	t.PriorityBase = priority
	t.recomputeEffectivePriority()
	s.repositionReadyLocked(t)
	cur := s.current
	s.mu.Unlock()
	if t == cur {
		s.CheckAndYield()
	}
}

// Tick is the timer interrupt's per-tick callback: it advances the
// scheduler's global tick counter, wakes every sleeping thread whose wake
// tick has arrived, and returns true (a preemption request) on every
// TimeSliceTicks-th global tick while a non-idle thread is running. There
// is no per-thread slice counter: the request does not depend on how many
// ticks the current thread itself has run. Safe to call from interrupt
// context; never blocks.
func (s *Scheduler) Tick() (preempt bool) {
	s.mu.Lock()
	s.inInterruptContext = true
	defer func() { s.inInterruptContext = false }()

	s.tick++
	now := s.tick

	for {
		item := s.sleeping.Min()
		if item == nil {
			break
		}
		si := item.(sleepItem)
		if si.wake > now {
			break
		}
		s.sleeping.DeleteMin()
		si.tcb.linkage = linkageNone
		s.readyInsert(si.tcb)
	}

	sliceExpired := s.current != s.idle && s.tick%kconfig.TimeSliceTicks == 0
	s.mu.Unlock()
	return sliceExpired
}

// CurrentTick returns the scheduler's logical tick counter.
func (s *Scheduler) CurrentTick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Exit tears down the calling thread: it is moved to the destruction
// queue and the CPU is handed to the next ready thread. The caller's
// goroutine must return immediately after Exit; the scheduler never
// schedules a dying thread again.
func (s *Scheduler) Exit(t *TCB) {
	s.mu.Lock()
	t.status = StatusDying
	t.linkage = linkageOnDestroy
	s.destroy = append(s.destroy, t)
	tick := s.tick
	next := s.pickNext()
	klog.WithTick(klog.WithThread(klog.Default(), t.ID), tick).Debug("thread exit", slog.String("name", t.Name))
	s.switchContext(next)
}

// Run drives the scheduler from the calling goroutine, which stands in
// for the idle thread's turn at the CPU: it repeatedly hands off to the
// highest-priority ready thread and blocks until control returns to
// idle, looping until the ready queue is empty with no thread left to
// resume control to. Exactly one goroutine may call Run for a given
// Scheduler, and only while the scheduler is quiescent (current == idle);
// it may be called again whenever Tick, Unblock or Create has made more
// threads ready.
func (s *Scheduler) Run() {
	for {
		s.mu.Lock()
		next := s.pickNext()
		if next == s.idle {
			s.mu.Unlock()
			return
		}
		s.switchContext(next)
	}
}

// ReapDestroyed returns and clears the list of threads torn down since
// the last call; a real kernel frees these lazily on the next schedule
// pass, never freeing the stack it is standing on. The simulator only
// hands the list back to the caller; process.Exit releases a process's
// SPT and file descriptors itself before calling Exit on the scheduler.
func (s *Scheduler) ReapDestroyed() []*TCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := s.destroy
	s.destroy = nil
	return done
}

// Package thread implements the preemptive priority scheduler: the thread
// control block (TCB), the synchronization primitives that threads block
// on (semaphore, lock with priority donation, Mesa condition variable),
// and the scheduler itself.
//
// Grounded on threads/thread.c and threads/synch.c (original_source/): a
// struct thread carries both its own scheduling fields and the fields
// needed by synch.c's donation walk (waiting_for_lock, donations,
// priority_original/priority), so thread.c and synch.c are kept in one Go
// package exactly as they are kept in one C source directory.
package thread

import (
	"pintsim/kconfig"
	"pintsim/kernel/vm"
	"pintsim/kfs"
)

// Status is a thread's position in its life cycle.
type Status int

const (
	// StatusReady means the thread is on the ready queue.
	StatusReady Status = iota
	// StatusRunning means the thread currently holds the CPU.
	StatusRunning
	// StatusBlocked means the thread is waiting on a semaphore, lock,
	// condition variable, or sleep timer.
	StatusBlocked
	// StatusDying means the thread has exited and is awaiting teardown
	// on the next schedule pass.
	StatusDying
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusBlocked:
		return "blocked"
	case StatusDying:
		return "dying"
	default:
		return "unknown"
	}
}

// stackCanary is written at TCB creation and checked on every schedule
// pass; a mismatch indicates kernel-stack overflow (there is no literal
// stack to overflow in the simulator, but the canary is preserved as a
// tripwire for accidental zero-value/reuse bugs, matching the teaching
// kernel's own defense).
const stackCanary = 0xc1a55c0deadbeef & 0x7fffffffffffffff

// FDEntry is one slot in a process's file-descriptor table.
type FDEntry struct {
	File kfs.Handle
}

// TCB is the thread control block, one per simulated thread. Fields mirror
// spec.md §3 and threads/thread.h: scheduling fields, parent/child
// rendezvous, and (for user processes) VM/FD state.
type TCB struct {
	ID   int
	Name string

	status Status

	PriorityBase      int
	PriorityEffective int

	WakeTick int64

	// WaitingOnLock is set while blocked trying to acquire a held lock;
	// used to walk the donation chain. Cleared on acquisition.
	WaitingOnLock *Lock

	// Donations is the ordered set of TCBs currently donating to this
	// thread, ordered by donor effective priority descending. A TCB
	// appears in at most one donations set at a time.
	Donations []*TCB

	// ForkDepth counts generations from the init process; diagnostic
	// only (supplements the distilled spec with the original's
	// fork_depth field, see SPEC_FULL.md).
	ForkDepth int

	// canary detects use of a TCB after it has been torn down.
	canary uint64

	// --- process lifecycle ---
	Parent       *TCB
	Children     []*TCB
	ForkDone     *Semaphore
	WaitDone     *Semaphore
	FreeGate     *Semaphore
	ExitStatus   int
	AlreadyWaited bool

	// FDTable is a fixed-capacity array of optional file handles; 0/1 are
	// reserved for stdin/stdout.
	FDTable [kconfig.FDTableSize]FDEntry
	fdLock  Lock

	// PageTableRoot and SPT are set for user processes; nil for kernel
	// threads such as the idle thread.
	PageTableRoot *vm.PageTableRoot
	SPT           *vm.SupplementalPageTable

	// scheduling linkage bookkeeping, used only for invariant assertions
	// and to locate/reposition this TCB's entry in the scheduler's ready
	// btree when its effective priority changes while queued.
	linkage    linkageKind
	seq        uint64
	queuedPrio int

	// resume is the context-switch handoff channel: the goroutine
	// simulating this thread blocks on it until the scheduler selects it
	// to run.
	resume chan struct{}

	// Regs holds the saved user register frame (for fork snapshot and
	// syscall argument decoding); nil for kernel-only threads.
	Regs *RegisterFrame
}

// RegisterFrame is the minimal slice of the x86-64 user register file the
// process core needs: syscall argument registers, rax for return value,
// rsp/rip for the initial user-mode transfer.
type RegisterFrame struct {
	RAX, RDI, RSI, RDX, R10, R8, R9 uint64
	RSP, RIP                        uint64
}

type linkageKind int

const (
	linkageNone linkageKind = iota
	linkageReady
	linkageSleeping
	linkageOnSema
	linkageOnDestroy
)

// EffectivePriority returns the thread's current scheduling priority,
// possibly elevated by donation. Implements the sync-primitive
// prioritized contract.
func (t *TCB) EffectivePriority() int {
	return t.PriorityEffective
}

// Status returns the thread's current life-cycle status.
func (t *TCB) Status() Status {
	return t.status
}

// CheckCanary panics with a kernel-invariant error naming the thread if
// the TCB's canary has been corrupted; called on every schedule pass per
// spec.md §3.
func (t *TCB) CheckCanary() {
	if t.canary != stackCanary {
		panic(kernelInvariant("stack canary corrupted for thread " + t.Name))
	}
}

func newTCB(id int, name string, priority int) *TCB {
	if len(name) > 15 {
		name = name[:15]
	}
	t := &TCB{
		ID:                id,
		Name:              name,
		status:            StatusReady,
		PriorityBase:      priority,
		PriorityEffective: priority,
		canary:            stackCanary,
		ForkDone:          NewSemaphore(0),
		WaitDone:          NewSemaphore(0),
		FreeGate:          NewSemaphore(0),
		resume:            make(chan struct{}, 1),
	}
	t.fdLock.semaphore = NewSemaphore(1)
	return t
}

// recomputeEffectivePriority recomputes priority_effective from
// max(priority_base, top of donations), per spec.md §3's invariant.
func (t *TCB) recomputeEffectivePriority() {
	eff := t.PriorityBase
	if len(t.Donations) > 0 && t.Donations[0].PriorityEffective > eff {
		eff = t.Donations[0].PriorityEffective
	}
	t.PriorityEffective = eff
}

// insertDonation inserts donor into t.Donations, ordered by donor
// effective priority descending.
func (t *TCB) insertDonation(donor *TCB) {
	i := 0
	for i < len(t.Donations) && t.Donations[i].PriorityEffective >= donor.PriorityEffective {
		i++
	}
	t.Donations = append(t.Donations, nil)
	copy(t.Donations[i+1:], t.Donations[i:])
	t.Donations[i] = donor
}

// removeDonationsFor removes every donation entry whose WaitingOnLock is l.
func (t *TCB) removeDonationsFor(l *Lock) {
	kept := t.Donations[:0]
	for _, d := range t.Donations {
		if d.WaitingOnLock != l {
			kept = append(kept, d)
		}
	}
	t.Donations = kept
}

func (t *TCB) resortDonations() {
	// insertion sort: donation lists are small (bounded by active
	// threads waiting on this thread's locks).
	for i := 1; i < len(t.Donations); i++ {
		d := t.Donations[i]
		j := i - 1
		for j >= 0 && t.Donations[j].PriorityEffective < d.PriorityEffective {
			t.Donations[j+1] = t.Donations[j]
			j--
		}
		t.Donations[j+1] = d
	}
}

type kernelInvariant string

func (k kernelInvariant) Error() string { return string(k) }

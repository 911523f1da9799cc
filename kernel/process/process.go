package process

import (
	"fmt"
	"log/slog"

	"pintsim/kconfig"
	"pintsim/kernel/thread"
	"pintsim/kernel/vm"
	"pintsim/klog"
)

// Process is a handle onto one running process: its kernel bundle and
// the TCB it runs on. Every method here executes on the calling
// goroutine, which must be the goroutine the Kernel spawned for this
// TCB (Fork, CreateInit); there is no cross-thread syscall dispatch in
// this package, mirroring the fact that a real syscall handler always
// runs on the calling thread's own kernel stack.
type Process struct {
	K *Kernel
	T *thread.TCB
}

// exitSignal unwinds a process's goroutine after Exit, the same way a
// real exit() never returns to its caller: Exit always ends by handing
// the TCB to the scheduler and then panicking with this sentinel, which
// spawnProcess recovers.
type exitSignal struct{}

// spawnProcess creates a TCB at priority and runs body on it, recovering
// the exitSignal panic that Exit raises so the goroutine winds down
// cleanly instead of crashing the simulator. A body that returns without
// calling Exit is treated as an implicit exit(0).
func (k *Kernel) spawnProcess(name string, priority int, body func(p *Process)) *thread.TCB {
	return k.Sched.Create(name, priority, func(t *thread.TCB) {
		p := &Process{K: k, T: t}
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(exitSignal); !ok {
					panic(r)
				}
			}
		}()
		body(p)
		p.Exit(0)
	})
}

// CreateInit creates the first process in the system: it execs cmd, and
// if that succeeds, hands control to body (the process's scripted
// program logic). If exec fails the process exits(-1) without running
// body, matching initd's exec-or-die contract in
// userprog/process.c:process_create_initd (there it is a kernel panic;
// here, since this is not literally the boot thread, failure surfaces
// the ordinary way through exit(-1) so a caller can observe it via
// Wait).
func (k *Kernel) CreateInit(cmd string, body func(p *Process)) *thread.TCB {
	return k.spawnProcess(initName(cmd), kconfig.PriorityDefault, func(p *Process) {
		if err := p.execImage(cmd); err != nil {
			p.logExit(err)
			p.Exit(-1)
			return
		}
		if body != nil {
			body(p)
		}
	})
}

func initName(cmd string) string {
	for i, c := range cmd {
		if c == ' ' {
			return cmd[:i]
		}
	}
	return cmd
}

func (p *Process) logExit(err error) {
	klog.Default().Error("exec failed", slog.String("process", p.T.Name), slog.Any("err", err))
}

// Exit implements spec.md §4.3's exit(status): record the status, close
// every fd, rendezvous with the parent (if any), tear down the address
// space, then hand the TCB to the scheduler. It never returns: the
// goroutine unwinds via exitSignal immediately afterward.
func (p *Process) Exit(status int) {
	t := p.T
	sched := p.K.Sched

	t.ExitStatus = status
	fmt.Printf("%s: exit(%d)\n", t.Name, status)
	klog.WithProcess(klog.WithThread(klog.Default(), t.ID), t.Name).Info("exit", slog.Int("status", status))

	t.CloseAllFDs(sched)

	if t.Parent != nil {
		t.WaitDone.Up(sched)
		t.FreeGate.Down(sched)
	}

	if t.SPT != nil {
		t.SPT.Kill()
		t.SPT = nil
	}
	t.PageTableRoot = nil

	sched.Exit(t)
	panic(exitSignal{})
}

// Halt implements spec.md §6's halt(): the machine powers off. There is no
// notion of "the rest of the system keeps running" once this is called, so
// it both requests kernel shutdown (for a driver loop to observe) and
// unwinds the calling process exactly like Exit, since shutdown_power_off
// likewise never returns to its caller.
func (p *Process) Halt() {
	p.K.RequestShutdown()
	p.Exit(0)
}

// Wait implements spec.md §4.3's wait(child_id): join on a direct child
// exactly once, returning its exit status, or -1 if child_id does not
// name a not-yet-waited-on child.
func (p *Process) Wait(childID int) int {
	t := p.T
	sched := p.K.Sched

	var child *thread.TCB
	for _, c := range t.Children {
		if c.ID == childID {
			child = c
			break
		}
	}
	if child == nil || child.AlreadyWaited {
		return -1
	}
	child.AlreadyWaited = true

	child.WaitDone.Down(sched)
	status := child.ExitStatus

	for i, c := range t.Children {
		if c == child {
			t.Children = append(t.Children[:i], t.Children[i+1:]...)
			break
		}
	}

	child.FreeGate.Up(sched)
	return status
}

// teardownAddressSpace tears down t's current page table and SPT (if
// any) before installing a fresh one, per spec.md §4.3 exec() step 2.
func teardownAddressSpace(t *thread.TCB) {
	if t.SPT != nil {
		t.SPT.Kill()
	}
	t.SPT = nil
	t.PageTableRoot = nil
}

// freshAddressSpace installs a new page-table root and SPT on t, bound
// to the kernel's shared frame pool and swap disk.
func (k *Kernel) freshAddressSpace(t *thread.TCB) {
	t.PageTableRoot = vm.NewPageTableRoot()
	t.SPT = vm.NewSupplementalPageTable(t.PageTableRoot, k.Pool, k.Disk)
}

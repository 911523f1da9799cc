package process

import (
	"pintsim/kconfig"
	"pintsim/kerrors"
	"pintsim/kernel/thread"
	"pintsim/kernel/vm"
)

// Fork implements spec.md §4.3's fork(name): snapshot the caller's
// registers, spawn a child thread running the fork trampoline, and block
// until the trampoline signals fork_done. Returns the child's id, or -1
// if the trampoline failed before reaching user mode. Grounded on
// process_fork/__do_fork in userprog/process.c.
func (p *Process) Fork(name string, body func(child *Process)) (int, error) {
	parent := p.T
	k := p.K
	sched := k.Sched

	if parent.Regs == nil {
		return -1, kerrors.ErrForkSetup
	}
	snapshot := *parent.Regs

	var trampolineErr error
	child := k.spawnProcess(name, kconfig.PriorityDefault, func(cp *Process) {
		if err := forkTrampoline(cp, parent, snapshot); err != nil {
			trampolineErr = err
			parent.ForkDone.Up(sched)
			cp.Exit(-1)
			return
		}
		parent.ForkDone.Up(sched)
		if body != nil {
			body(cp)
		}
	})
	child.Parent = parent
	child.ForkDepth = parent.ForkDepth + 1
	parent.Children = append(parent.Children, child)

	parent.ForkDone.Down(sched)

	if trampolineErr != nil {
		return -1, trampolineErr
	}
	return child.ID, nil
}

// forkTrampoline builds the child's address space and FD table from the
// parent's, then arranges the child to observe a 0 return value from its
// own fork() call once it reaches (simulated) user mode.
func forkTrampoline(cp *Process, parent *thread.TCB, snapshot thread.RegisterFrame) error {
	child := cp.T

	child.PageTableRoot = vm.NewPageTableRoot()
	child.SPT = vm.NewSupplementalPageTable(child.PageTableRoot, cp.K.Pool, cp.K.Disk)
	if err := vm.Copy(child.SPT, parent.SPT); err != nil {
		return err
	}

	if err := parent.DuplicateFDsInto(cp.K.Sched, child); err != nil {
		return err
	}

	regs := snapshot
	regs.RAX = 0
	child.Regs = &regs
	return nil
}

package thread

import (
	"pintsim/kconfig"
	"pintsim/kerrors"
	"pintsim/kfs"
)

// AllocFD installs handle into the first free slot in [FDTableLow,
// FDTableSize) and returns its fd. Grounded on process_add_file in
// userprog/process.c's fd_table walk.
func (t *TCB) AllocFD(sched *Scheduler, handle kfs.Handle) (int, error) {
	t.fdLock.Acquire(sched)
	defer t.fdLock.Release(sched)
	for fd := kconfig.FDTableLow; fd < kconfig.FDTableSize; fd++ {
		if t.FDTable[fd].File == nil {
			t.FDTable[fd].File = handle
			return fd, nil
		}
	}
	return -1, kerrors.ErrFDTableFull
}

// LookupFD returns the handle installed at fd, if any.
func (t *TCB) LookupFD(sched *Scheduler, fd int) (kfs.Handle, bool) {
	t.fdLock.Acquire(sched)
	defer t.fdLock.Release(sched)
	if fd < 0 || fd >= kconfig.FDTableSize {
		return nil, false
	}
	h := t.FDTable[fd].File
	return h, h != nil
}

// ReleaseFD closes and clears fd, if it names an open handle.
func (t *TCB) ReleaseFD(sched *Scheduler, fd int) {
	t.fdLock.Acquire(sched)
	defer t.fdLock.Release(sched)
	t.releaseFDLocked(fd)
}

func (t *TCB) releaseFDLocked(fd int) {
	if fd < kconfig.FDTableLow || fd >= kconfig.FDTableSize {
		return
	}
	if h := t.FDTable[fd].File; h != nil {
		h.Close()
		t.FDTable[fd] = FDEntry{}
	}
}

// CloseAllFDs closes and clears every allocatable fd, per spec.md §4.3
// exit() step 2.
func (t *TCB) CloseAllFDs(sched *Scheduler) {
	t.fdLock.Acquire(sched)
	defer t.fdLock.Release(sched)
	for fd := kconfig.FDTableLow; fd < kconfig.FDTableSize; fd++ {
		t.releaseFDLocked(fd)
	}
}

// DuplicateFDsInto copies every open fd from t into child via
// handle.Duplicate(), per spec.md §4.3 fork step 4. child must not yet be
// visible to any other goroutine.
func (t *TCB) DuplicateFDsInto(sched *Scheduler, child *TCB) error {
	t.fdLock.Acquire(sched)
	defer t.fdLock.Release(sched)
	for fd := kconfig.FDTableLow; fd < kconfig.FDTableSize; fd++ {
		h := t.FDTable[fd].File
		if h == nil {
			continue
		}
		dup, err := h.Duplicate()
		if err != nil {
			return kerrors.Wrap(err, kerrors.ErrFD, "duplicate_fd_table")
		}
		child.FDTable[fd].File = dup
	}
	return nil
}

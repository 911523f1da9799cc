// Package syscall implements the register-convention dispatcher at the
// user/kernel boundary described in spec.md §6: syscall number in rax,
// arguments in rdi/rsi/rdx/r10/r8/r9, result in rax. It decodes a
// process's saved RegisterFrame into calls against kernel/process,
// kernel/vm, and kfs, validating every pointer argument along the way.
//
// fork is the one syscall this dispatcher does not decode generically:
// its child "returns" by continuing execution from the instruction after
// the fork() call, which in this simulator is expressed as a Go closure
// (process.Process.Fork's body parameter) rather than as bytes at a
// saved rip. A byte-code dispatcher has no way to manufacture that
// closure from a register frame alone, so Fork is exposed as its own
// method that a scripted caller invokes directly, updating rax with the
// same success/failure contract as every other syscall.
package syscall

import (
	"io"

	"pintsim/kernel/process"
	"pintsim/kernel/thread"
	"pintsim/kernel/vm"
	"pintsim/kerrors"
)

// Syscall numbers, in spec.md §6's table order.
const (
	SysHalt = iota
	SysExit
	SysFork
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
	SysMmap
	SysMunmap
)

// maxCStringLen bounds a path/command read from user memory; the original
// kernel has no analogous limit beyond "fits in a page", but scanning
// user memory byte by byte needs some backstop against a malicious or
// buggy pointer that is never NUL-terminated.
const maxCStringLen = 4096

// Dispatcher decodes register-convention syscalls against one Kernel.
type Dispatcher struct {
	K *process.Kernel
}

// NewDispatcher creates a dispatcher bound to k.
func NewDispatcher(k *process.Kernel) *Dispatcher {
	return &Dispatcher{K: k}
}

// Dispatch executes the syscall named by p's current register frame,
// writing the result back into rax. exit, halt, and a failing exec never
// return to the caller (they unwind p's goroutine); every other syscall
// returns normally once rax is set.
func (d *Dispatcher) Dispatch(p *process.Process) {
	regs := p.T.Regs
	if regs == nil {
		panic(kerrors.New(kerrors.ErrInvariant, "dispatch", "syscall with no register frame"))
	}

	switch regs.RAX {
	case SysHalt:
		p.Halt()
	case SysExit:
		p.Exit(int(int32(regs.RDI)))
	case SysFork:
		panic(kerrors.New(kerrors.ErrInvariant, "dispatch", "fork must be invoked via Dispatcher.Fork"))
	case SysExec:
		d.sysExec(p, regs)
	case SysWait:
		regs.RAX = uint64(int64(p.Wait(int(int32(regs.RDI)))))
	case SysCreate:
		regs.RAX = boolToRAX(d.sysCreate(p, regs))
	case SysRemove:
		regs.RAX = boolToRAX(d.sysRemove(p, regs))
	case SysOpen:
		regs.RAX = uint64(int64(d.sysOpen(p, regs)))
	case SysFilesize:
		regs.RAX = uint64(int64(d.sysFilesize(p, regs)))
	case SysRead:
		regs.RAX = uint64(int64(d.sysRead(p, regs)))
	case SysWrite:
		regs.RAX = uint64(int64(d.sysWrite(p, regs)))
	case SysSeek:
		d.sysSeek(p, regs)
	case SysTell:
		regs.RAX = uint64(int64(d.sysTell(p, regs)))
	case SysClose:
		p.T.ReleaseFD(d.K.Sched, int(regs.RDI))
	case SysMmap:
		regs.RAX = uint64(d.sysMmap(p, regs))
	case SysMunmap:
		d.sysMunmap(p, regs)
	default:
		p.Exit(-1)
	}
}

// Fork decodes and executes fork(name) on p's behalf: name is supplied
// directly (rather than read from a user-memory pointer) since the
// caller is a scripted program, not decoded register bytes. Returns the
// same id/-1 contract as every other syscall and also reflects it into
// rax, for callers that inspect the register frame afterward.
func (d *Dispatcher) Fork(p *process.Process, name string, body func(child *process.Process)) (int, error) {
	id, err := p.Fork(name, body)
	if p.T.Regs != nil {
		p.T.Regs.RAX = uint64(int64(id))
	}
	return id, err
}

func boolToRAX(ok bool) uint64 {
	if ok {
		return 1
	}
	return 0
}

func (d *Dispatcher) sysExec(p *process.Process, regs *thread.RegisterFrame) {
	cmd, err := readCString(p.T.SPT, uintptr(regs.RDI))
	if err != nil {
		p.Exit(-1)
		return
	}
	if err := p.Exec(cmd); err != nil {
		p.Exit(-1)
	}
	// On success exec never returns a value: the caller's next
	// instruction runs under the freshly loaded image.
}

func (d *Dispatcher) sysCreate(p *process.Process, regs *thread.RegisterFrame) bool {
	path, err := readCString(p.T.SPT, uintptr(regs.RDI))
	if err != nil {
		p.Exit(-1)
		return false
	}
	return d.K.FS.Create(path, int64(regs.RSI))
}

func (d *Dispatcher) sysRemove(p *process.Process, regs *thread.RegisterFrame) bool {
	path, err := readCString(p.T.SPT, uintptr(regs.RDI))
	if err != nil {
		p.Exit(-1)
		return false
	}
	return d.K.FS.Remove(path)
}

func (d *Dispatcher) sysOpen(p *process.Process, regs *thread.RegisterFrame) int {
	path, err := readCString(p.T.SPT, uintptr(regs.RDI))
	if err != nil {
		p.Exit(-1)
		return -1
	}
	h, err := d.K.FS.Open(path, path == p.T.Name)
	if err != nil {
		return -1
	}
	fd, err := p.T.AllocFD(d.K.Sched, h)
	if err != nil {
		h.Close()
		return -1
	}
	return fd
}

func (d *Dispatcher) sysFilesize(p *process.Process, regs *thread.RegisterFrame) int64 {
	h, ok := p.T.LookupFD(d.K.Sched, int(regs.RDI))
	if !ok {
		return -1
	}
	return h.Length()
}

func (d *Dispatcher) sysRead(p *process.Process, regs *thread.RegisterFrame) int64 {
	fd := int(regs.RDI)
	bufAddr := uintptr(regs.RSI)
	count := int(regs.RDX)
	if fd == 1 || count < 0 {
		return -1
	}

	buf := make([]byte, count)
	var n int
	var err error
	if fd == 0 {
		n, err = d.K.Console.Read(buf)
	} else {
		h, ok := p.T.LookupFD(d.K.Sched, fd)
		if !ok {
			return -1
		}
		n, err = h.Read(buf)
	}
	if err != nil && err != io.EOF {
		return -1
	}
	if werr := p.T.SPT.WriteUser(bufAddr, buf[:n]); werr != nil {
		p.Exit(-1)
		return -1
	}
	return int64(n)
}

func (d *Dispatcher) sysWrite(p *process.Process, regs *thread.RegisterFrame) int64 {
	fd := int(regs.RDI)
	bufAddr := uintptr(regs.RSI)
	count := int(regs.RDX)
	if fd == 0 || count < 0 {
		return -1
	}

	buf := make([]byte, count)
	if err := p.T.SPT.ReadUser(bufAddr, buf); err != nil {
		p.Exit(-1)
		return -1
	}

	if fd == 1 {
		n, _ := d.K.Console.Write(buf)
		return int64(n)
	}
	h, ok := p.T.LookupFD(d.K.Sched, fd)
	if !ok {
		return -1
	}
	if h.DenyWrite() {
		return 0
	}
	n, err := h.Write(buf)
	if err != nil {
		return -1
	}
	return int64(n)
}

func (d *Dispatcher) sysSeek(p *process.Process, regs *thread.RegisterFrame) {
	if h, ok := p.T.LookupFD(d.K.Sched, int(regs.RDI)); ok {
		h.Seek(int64(regs.RSI))
	}
}

func (d *Dispatcher) sysTell(p *process.Process, regs *thread.RegisterFrame) int64 {
	h, ok := p.T.LookupFD(d.K.Sched, int(regs.RDI))
	if !ok {
		return -1
	}
	return h.Tell()
}

func (d *Dispatcher) sysMmap(p *process.Process, regs *thread.RegisterFrame) uintptr {
	fd := int(regs.R10)
	h, ok := p.T.LookupFD(d.K.Sched, fd)
	if !ok {
		return 0
	}
	dup, err := h.Duplicate()
	if err != nil {
		return 0
	}
	addr, err := p.T.SPT.Mmap(uintptr(regs.RDI), int(regs.RSI), regs.RDX != 0, dup, int64(regs.R8))
	if err != nil {
		dup.Close()
		return 0
	}
	return addr
}

func (d *Dispatcher) sysMunmap(p *process.Process, regs *thread.RegisterFrame) {
	_ = p.T.SPT.Munmap(uintptr(regs.RDI))
}

// readCString copies a NUL-terminated string out of user memory one byte
// at a time, faulting pages in via spt.ReadUser exactly as any other
// buffer argument would.
func readCString(spt *vm.SupplementalPageTable, addr uintptr) (string, error) {
	if addr == 0 {
		return "", kerrors.ErrNullPointer
	}
	var buf []byte
	one := make([]byte, 1)
	for i := 0; i < maxCStringLen; i++ {
		if err := spt.ReadUser(addr+uintptr(i), one); err != nil {
			return "", err
		}
		if one[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, one[0])
	}
	return "", kerrors.New(kerrors.ErrInvariant, "read_cstring", "string exceeds maximum length")
}

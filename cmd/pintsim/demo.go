package main

import (
	"pintsim/kernel/process"
	"pintsim/kernel/syscall"
)

// demoScratchAddr is a page-aligned user address unused by anything
// StubImage or exec()'s own stack setup maps, scratch space for the
// syscall buffer arguments the demo body below constructs by hand.
const demoScratchAddr = uintptr(0x500000)

// ensureStub makes sure name exists in k's file system as a loadable
// image, writing process.StubImage if it does not already exist. This
// lets boot/run/trace be pointed at any name without requiring a real
// ELF to have been produced by a toolchain pintsim does not have.
func ensureStub(k *process.Kernel, name string) error {
	if k.FS.Exists(name) {
		return nil
	}
	image := process.StubImage()
	if !k.FS.Create(name, int64(len(image))) {
		return nil
	}
	h, err := k.FS.Open(name, false)
	if err != nil {
		return err
	}
	defer h.Close()
	_, err = h.WriteAt(image, 0)
	return err
}

// greet demonstrates the register-convention syscall path end to end: a
// write(1, "hello...") followed by exit(0), decoded through
// kernel/syscall exactly as a real user-mode program's syscalls would
// be, rather than called directly against kernel/process.
func greet(p *process.Process) {
	d := syscall.NewDispatcher(p.K)
	msg := []byte("hello from pintsim\n")

	if err := p.T.SPT.AllocAnonPage(demoScratchAddr, true); err != nil {
		p.Exit(-1)
	}
	if err := p.T.SPT.WriteUser(demoScratchAddr, msg); err != nil {
		p.Exit(-1)
	}

	p.T.Regs.RAX = syscall.SysWrite
	p.T.Regs.RDI = 1
	p.T.Regs.RSI = uint64(demoScratchAddr)
	p.T.Regs.RDX = uint64(len(msg))
	d.Dispatch(p)

	p.T.Regs.RAX = syscall.SysExit
	p.T.Regs.RDI = 0
	d.Dispatch(p)
}

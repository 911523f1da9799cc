package process

import (
	"encoding/binary"
	"strings"

	"pintsim/kconfig"
	"pintsim/kerrors"
	"pintsim/kernel/thread"
	"pintsim/kernel/vm"
)

// Exec implements spec.md §6's exec(cmd) syscall: replace the calling
// process's image. It returns nil on success, after which the calling
// scripted body continues under the new image, or an error on failure,
// in which case the caller is expected to exit(-1) itself, per the
// syscall table's contract.
func (p *Process) Exec(cmd string) error {
	return p.execImage(cmd)
}

// execImage implements spec.md §4.3's exec(cmd): tokenize, tear down and
// rebuild the address space, validate and lazily load the ELF image, set
// up the initial user stack, and point the saved register frame at the
// entry point. Grounded on process_exec/load/parse_argv_to_stack in
// userprog/process.c.
func (p *Process) execImage(cmd string) error {
	argv := strings.Fields(cmd)
	if len(argv) == 0 {
		return kerrors.New(kerrors.ErrExec, "exec", "empty command")
	}
	if len(argv) > kconfig.MaxArgs {
		return kerrors.ErrTooManyArgs
	}

	t := p.T
	k := p.K

	teardownAddressSpace(t)
	k.freshAddressSpace(t)

	file, err := k.FS.Open(argv[0], true)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrExec, "exec: open "+argv[0])
	}

	fileLen := file.Length()
	raw := make([]byte, fileLen)
	if _, err := file.ReadAt(raw, 0); err != nil {
		return kerrors.Wrap(err, kerrors.ErrExec, "exec: read image")
	}

	hdr, err := decodeELFHeader(raw)
	if err != nil {
		return err
	}

	for i := 0; i < int(hdr.Phnum); i++ {
		off := int(hdr.Phoff) + i*phdrSize
		if off+phdrSize > len(raw) {
			return kerrors.ErrBadSegment
		}
		ph, err := decodeProgramHeader(raw[off:])
		if err != nil {
			return err
		}
		switch ph.Type {
		case ptNull, ptNote, ptPhdr, ptStack:
			continue
		case ptDynamic, ptInterp, ptShlib:
			return kerrors.ErrBadSegment
		case ptLoad:
			if err := validateSegment(ph, fileLen, kconfig.PageSize, kconfig.UserStackTop); err != nil {
				return err
			}
			writable := ph.Flags&pfW != 0
			if err := t.SPT.LoadSegment(uintptr(ph.Vaddr), writable, file, int64(ph.Offset), ph.Filesz, ph.Memsz); err != nil {
				return err
			}
		}
	}

	rsp, argvAddr, err := buildUserStack(t.SPT, argv)
	if err != nil {
		return err
	}

	t.Regs = &thread.RegisterFrame{
		RDI: uint64(len(argv)),
		RSI: uint64(argvAddr),
		RSP: uint64(rsp),
		RIP: hdr.Entry,
	}
	return nil
}

// buildUserStack lays out argv on a single freshly allocated stack page,
// per spec.md §4.3 exec() step 5: strings copied top-down with trailing
// NULs, 8-byte aligned, followed by the argv pointer vector (high to
// low, null terminated) and a fake return address. Grounded on
// parse_argv_to_stack in userprog/process.c.
func buildUserStack(spt *vm.SupplementalPageTable, argv []string) (rsp, argvAddr uintptr, err error) {
	stackPage := uintptr(kconfig.UserStackTop) - kconfig.PageSize
	if err := spt.AllocAnonPage(stackPage, true); err != nil {
		return 0, 0, err
	}
	frame, err := spt.Touch(stackPage, true)
	if err != nil {
		return 0, 0, err
	}

	sp := kconfig.PageSize
	addrs := make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i]
		sp -= len(s) + 1
		if sp < 0 {
			return 0, 0, kerrors.New(kerrors.ErrExec, "exec", "argv too large for one stack page")
		}
		copy(frame.Content[sp:], s)
		frame.Content[sp+len(s)] = 0
		addrs[i] = stackPage + uintptr(sp)
	}

	sp &^= 7

	ptrBytes := 8 * (len(addrs) + 1)
	sp -= ptrBytes
	if sp < 0 {
		return 0, 0, kerrors.New(kerrors.ErrExec, "exec", "argv too large for one stack page")
	}
	argvBase := sp
	for i, addr := range addrs {
		binary.LittleEndian.PutUint64(frame.Content[argvBase+i*8:], uint64(addr))
	}
	binary.LittleEndian.PutUint64(frame.Content[argvBase+len(addrs)*8:], 0)

	sp -= 8
	binary.LittleEndian.PutUint64(frame.Content[sp:], 0)

	return stackPage + uintptr(sp), stackPage + uintptr(argvBase), nil
}

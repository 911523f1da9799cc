package syscall

import (
	"bytes"
	"encoding/binary"
	"testing"

	"pintsim/kconfig"
	"pintsim/kernel/process"
)

func newTestKernel(t *testing.T) *process.Kernel {
	t.Helper()
	k, err := process.NewKernel(8, kconfig.SectorsPerPage*64, "")
	if err != nil {
		t.Fatalf("new kernel: %v", err)
	}
	t.Cleanup(func() { _ = k.Close() })
	return k
}

// buildELFImage assembles a minimal valid ELF64 executable carrying one
// LOAD segment; exec() only needs it to validate and lazily map, since
// this simulator never fetches instructions from it.
func buildELFImage(entry, vaddr uint64, segment []byte, memsz uint64) []byte {
	const (
		ehdrSize = 64
		phdrSize = 56
		dataOff  = uint64(kconfig.PageSize)
	)

	hdr := make([]byte, ehdrSize)
	hdr[0], hdr[1], hdr[2], hdr[3] = 0x7f, 'E', 'L', 'F'
	hdr[4] = 2 // ELFCLASS64
	hdr[5] = 1 // little endian
	binary.LittleEndian.PutUint16(hdr[16:], 2)       // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(hdr[18:], 0x3e)    // e_machine = EM_X86_64
	binary.LittleEndian.PutUint32(hdr[20:], 1)        // e_version
	binary.LittleEndian.PutUint64(hdr[24:], entry)    // e_entry
	binary.LittleEndian.PutUint64(hdr[32:], ehdrSize) // e_phoff
	binary.LittleEndian.PutUint16(hdr[52:], ehdrSize) // e_ehsize
	binary.LittleEndian.PutUint16(hdr[54:], phdrSize) // e_phentsize
	binary.LittleEndian.PutUint16(hdr[56:], 1)        // e_phnum

	ph := make([]byte, phdrSize)
	binary.LittleEndian.PutUint32(ph[0:], 1)                          // p_type = PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:], 7)                          // p_flags = RWX
	binary.LittleEndian.PutUint64(ph[8:], dataOff)                    // p_offset
	binary.LittleEndian.PutUint64(ph[16:], vaddr)                     // p_vaddr
	binary.LittleEndian.PutUint64(ph[32:], uint64(len(segment)))      // p_filesz
	binary.LittleEndian.PutUint64(ph[40:], memsz)                     // p_memsz
	binary.LittleEndian.PutUint64(ph[48:], kconfig.PageSize)          // p_align

	buf := new(bytes.Buffer)
	buf.Write(hdr)
	buf.Write(ph)
	buf.Write(make([]byte, int(dataOff)-buf.Len()))
	buf.Write(segment)
	return buf.Bytes()
}

const testEntry = uint64(0x400000)
const scratchAddr = uintptr(0x500000)

func writeTestBinary(t *testing.T, k *process.Kernel, name string) {
	t.Helper()
	image := buildELFImage(testEntry, testEntry, []byte("hi"), kconfig.PageSize)
	if !k.FS.Create(name, int64(len(image))) {
		t.Fatalf("create %s", name)
	}
	h, err := k.FS.Open(name, false)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	if _, err := h.WriteAt(image, 0); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDispatchCreateOpenWriteReadClose(t *testing.T) {
	k := newTestKernel(t)
	writeTestBinary(t, k, "prog")

	var created, removed bool
	var writeN, readN int64
	var readBack string

	proc := k.CreateInit("prog", func(p *process.Process) {
		d := NewDispatcher(k)
		if err := p.T.SPT.AllocAnonPage(scratchAddr, true); err != nil {
			t.Fatalf("alloc scratch page: %v", err)
		}

		path := append([]byte("data.txt"), 0)
		if err := p.T.SPT.WriteUser(scratchAddr, path); err != nil {
			t.Fatalf("write path: %v", err)
		}

		p.T.Regs.RAX, p.T.Regs.RDI, p.T.Regs.RSI = SysCreate, uint64(scratchAddr), 64
		d.Dispatch(p)
		created = p.T.Regs.RAX == 1

		p.T.Regs.RAX, p.T.Regs.RDI = SysOpen, uint64(scratchAddr)
		d.Dispatch(p)
		fd := int64(p.T.Regs.RAX)
		if fd < 0 {
			t.Fatalf("open failed")
		}

		data := []byte("hello")
		dataAddr := scratchAddr + 256
		if err := p.T.SPT.WriteUser(dataAddr, data); err != nil {
			t.Fatalf("write data: %v", err)
		}

		p.T.Regs.RAX, p.T.Regs.RDI, p.T.Regs.RSI, p.T.Regs.RDX = SysWrite, uint64(fd), uint64(dataAddr), uint64(len(data))
		d.Dispatch(p)
		writeN = int64(p.T.Regs.RAX)

		p.T.Regs.RAX, p.T.Regs.RDI, p.T.Regs.RSI = SysSeek, uint64(fd), 0
		d.Dispatch(p)

		readAddr := scratchAddr + 512
		p.T.Regs.RAX, p.T.Regs.RDI, p.T.Regs.RSI, p.T.Regs.RDX = SysRead, uint64(fd), uint64(readAddr), uint64(len(data))
		d.Dispatch(p)
		readN = int64(p.T.Regs.RAX)

		readBuf := make([]byte, len(data))
		if err := p.T.SPT.ReadUser(readAddr, readBuf); err != nil {
			t.Fatalf("read back: %v", err)
		}
		readBack = string(readBuf)

		p.T.Regs.RAX, p.T.Regs.RDI = SysClose, uint64(fd)
		d.Dispatch(p)

		p.T.Regs.RAX, p.T.Regs.RDI = SysRemove, uint64(scratchAddr)
		d.Dispatch(p)
		removed = p.T.Regs.RAX == 1
	})
	k.Sched.Run()

	if proc.ExitStatus != 0 {
		t.Fatalf("expected exit 0, got %d", proc.ExitStatus)
	}
	if !created {
		t.Fatal("expected create to succeed")
	}
	if writeN != 5 {
		t.Fatalf("expected write to return 5, got %d", writeN)
	}
	if readN != 5 {
		t.Fatalf("expected read to return 5, got %d", readN)
	}
	if readBack != "hello" {
		t.Fatalf("expected to read back %q, got %q", "hello", readBack)
	}
	if !removed {
		t.Fatal("expected remove to succeed")
	}
}

func TestDispatchWriteToFD0Fails(t *testing.T) {
	k := newTestKernel(t)
	writeTestBinary(t, k, "prog")

	var result int64
	k.CreateInit("prog", func(p *process.Process) {
		d := NewDispatcher(k)
		p.T.Regs.RAX, p.T.Regs.RDI, p.T.Regs.RSI, p.T.Regs.RDX = SysWrite, 0, 0, 0
		d.Dispatch(p)
		result = int64(p.T.Regs.RAX)
	})
	k.Sched.Run()

	if result != -1 {
		t.Fatalf("expected write(fd=0) to return -1, got %d", result)
	}
}

func TestDispatchReadFromFD1Fails(t *testing.T) {
	k := newTestKernel(t)
	writeTestBinary(t, k, "prog")

	var result int64
	k.CreateInit("prog", func(p *process.Process) {
		d := NewDispatcher(k)
		p.T.Regs.RAX, p.T.Regs.RDI, p.T.Regs.RSI, p.T.Regs.RDX = SysRead, 1, 0, 0
		d.Dispatch(p)
		result = int64(p.T.Regs.RAX)
	})
	k.Sched.Run()

	if result != -1 {
		t.Fatalf("expected read(fd=1) to return -1, got %d", result)
	}
}

// TestDispatchWriteNullPointerExitsProcess checks spec.md §6's pointer
// validation contract: a bad buffer pointer terminates the process with
// exit(-1) rather than returning an error code in rax.
func TestDispatchWriteNullPointerExitsProcess(t *testing.T) {
	k := newTestKernel(t)
	writeTestBinary(t, k, "prog")

	proc := k.CreateInit("prog", func(p *process.Process) {
		d := NewDispatcher(k)
		p.T.Regs.RAX, p.T.Regs.RDI, p.T.Regs.RSI, p.T.Regs.RDX = SysWrite, 1, 0, 4
		d.Dispatch(p)
		t.Fatal("Dispatch should not return after a null-pointer write")
	})
	k.Sched.Run()

	if proc.ExitStatus != -1 {
		t.Fatalf("expected exit(-1) on null pointer, got %d", proc.ExitStatus)
	}
}

func TestDispatcherForkReflectsChildIDIntoRAX(t *testing.T) {
	k := newTestKernel(t)
	writeTestBinary(t, k, "prog")

	var parentRAX uint64
	var childExit int
	k.CreateInit("prog", func(p *process.Process) {
		d := NewDispatcher(k)
		id, err := d.Fork(p, "child", func(child *process.Process) {
			childExit = 9
			child.Exit(9)
		})
		if err != nil {
			t.Fatalf("fork: %v", err)
		}
		parentRAX = p.T.Regs.RAX
		p.Wait(id)
	})
	k.Sched.Run()

	if int64(parentRAX) <= 0 {
		t.Fatalf("expected rax to hold a positive child id, got %d", parentRAX)
	}
	if childExit != 9 {
		t.Fatalf("expected child to exit(9), got %d", childExit)
	}
}

func TestDispatchHaltRequestsShutdown(t *testing.T) {
	k := newTestKernel(t)
	writeTestBinary(t, k, "prog")

	proc := k.CreateInit("prog", func(p *process.Process) {
		d := NewDispatcher(k)
		p.T.Regs.RAX = SysHalt
		d.Dispatch(p)
		t.Fatal("Dispatch should not return after halt")
	})
	k.Sched.Run()

	select {
	case <-k.ShutdownRequested():
	default:
		t.Fatal("expected halt to request kernel shutdown")
	}
	if proc.ExitStatus != 0 {
		t.Fatalf("expected halt to exit the calling process with 0, got %d", proc.ExitStatus)
	}
}

func TestDispatchMmapAndMunmap(t *testing.T) {
	k := newTestKernel(t)
	writeTestBinary(t, k, "prog")
	k.FS.Create("mapped.txt", 0)
	h, err := k.FS.Open("mapped.txt", false)
	if err != nil {
		t.Fatalf("open mapped.txt: %v", err)
	}
	if _, err := h.WriteAt([]byte("mapped-content"), 0); err != nil {
		t.Fatalf("write mapped.txt: %v", err)
	}

	var mapAddr uintptr
	var readBack string
	const mmapTarget = uintptr(0x600000)

	k.CreateInit("prog", func(p *process.Process) {
		d := NewDispatcher(k)

		hh, err := k.FS.Open("mapped.txt", false)
		if err != nil {
			t.Fatalf("reopen mapped.txt: %v", err)
		}
		fd, err := p.T.AllocFD(k.Sched, hh)
		if err != nil {
			t.Fatalf("alloc fd: %v", err)
		}

		p.T.Regs.RAX = SysMmap
		p.T.Regs.RDI = uint64(mmapTarget)
		p.T.Regs.RSI = uint64(kconfig.PageSize)
		p.T.Regs.RDX = 0
		p.T.Regs.R10 = uint64(fd)
		p.T.Regs.R8 = 0
		d.Dispatch(p)
		mapAddr = uintptr(p.T.Regs.RAX)

		buf := make([]byte, len("mapped-content"))
		if err := p.T.SPT.ReadUser(mapAddr, buf); err != nil {
			t.Fatalf("read mapped page: %v", err)
		}
		readBack = string(buf)

		p.T.Regs.RAX, p.T.Regs.RDI = SysMunmap, uint64(mapAddr)
		d.Dispatch(p)
	})
	k.Sched.Run()

	if mapAddr != mmapTarget {
		t.Fatalf("expected mmap to return %x, got %x", mmapTarget, mapAddr)
	}
	if readBack != "mapped-content" {
		t.Fatalf("expected mapped content %q, got %q", "mapped-content", readBack)
	}
}

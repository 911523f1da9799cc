package process

import (
	"bytes"
	"encoding/binary"
	"testing"

	"pintsim/kconfig"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	k, err := NewKernel(8, kconfig.SectorsPerPage*64, "")
	if err != nil {
		t.Fatalf("new kernel: %v", err)
	}
	t.Cleanup(func() { _ = k.Close() })
	return k
}

// buildELFImage assembles a minimal valid ELF64 executable: one LOAD
// segment at vaddr, backed by segment's bytes and zero-filled out to
// memsz, with its file offset padded to a page boundary so
// validate_segment's offset/vaddr alignment check is satisfied.
func buildELFImage(entry, vaddr uint64, segment []byte, memsz uint64) []byte {
	dataOff := uint64(kconfig.PageSize)

	var hdr elfHeader
	hdr.Ident[0], hdr.Ident[1], hdr.Ident[2], hdr.Ident[3] = elfMagic0, elfMagic1, elfMagic2, elfMagic3
	hdr.Ident[4] = elfClass64
	hdr.Ident[5] = elfDataLSB
	hdr.Type = etExec
	hdr.Machine = emX8664
	hdr.Version = evCurrent
	hdr.Entry = entry
	hdr.Phoff = ehdrSize
	hdr.Ehsize = ehdrSize
	hdr.Phentsize = phdrSize
	hdr.Phnum = 1

	ph := programHeader{
		Type:   ptLoad,
		Flags:  pfR | pfX | pfW,
		Offset: dataOff,
		Vaddr:  vaddr,
		Filesz: uint64(len(segment)),
		Memsz:  memsz,
		Align:  kconfig.PageSize,
	}

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, hdr)
	_ = binary.Write(buf, binary.LittleEndian, ph)
	buf.Write(make([]byte, int(dataOff)-buf.Len()))
	buf.Write(segment)
	return buf.Bytes()
}

const testEntry = uint64(0x400000)

func writeTestBinary(t *testing.T, k *Kernel, name string) {
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

func TestExecLoadsImageAndExitsZero(t *testing.T) {
	k := newTestKernel(t)
	writeTestBinary(t, k, "prog")

	proc := k.CreateInit("prog", nil)
	k.Sched.Run()

	if got := proc.ExitStatus; got != 0 {
		t.Fatalf("expected exit status 0, got %d", got)
	}
	if proc.Regs == nil || proc.Regs.RIP != testEntry {
		t.Fatalf("expected rip set to entry point")
	}
}

func TestExecRejectsBadMagic(t *testing.T) {
	k := newTestKernel(t)
	k.FS.Create("garbage", 8)
	h, err := k.FS.Open("garbage", false)
	if err != nil {
		t.Fatalf("open garbage: %v", err)
	}
	if _, err := h.WriteAt([]byte("notanelf"), 0); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	proc := k.CreateInit("garbage", nil)
	k.Sched.Run()

	if got := proc.ExitStatus; got != -1 {
		t.Fatalf("expected exit status -1 on bad image, got %d", got)
	}
}

func TestForkWaitRendezvous(t *testing.T) {
	k := newTestKernel(t)
	writeTestBinary(t, k, "prog")

	var waitResult int
	var forkErr error
	k.CreateInit("prog", func(p *Process) {
		id, err := p.Fork("child", func(child *Process) {
			child.Exit(7)
		})
		if err != nil {
			forkErr = err
			return
		}
		waitResult = p.Wait(id)
	})
	k.Sched.Run()

	if forkErr != nil {
		t.Fatalf("fork: %v", forkErr)
	}
	if waitResult != 7 {
		t.Fatalf("expected wait to return child's exit status 7, got %d", waitResult)
	}
}

func TestWaitOnUnknownChildReturnsNegativeOne(t *testing.T) {
	k := newTestKernel(t)
	writeTestBinary(t, k, "prog")

	var result int
	k.CreateInit("prog", func(p *Process) {
		result = p.Wait(999)
	})
	k.Sched.Run()

	if result != -1 {
		t.Fatalf("expected -1 waiting on unknown child, got %d", result)
	}
}

func TestWaitTwiceOnSameChildFailsSecondTime(t *testing.T) {
	k := newTestKernel(t)
	writeTestBinary(t, k, "prog")

	var first, second int
	k.CreateInit("prog", func(p *Process) {
		id, err := p.Fork("child", func(child *Process) {
			child.Exit(3)
		})
		if err != nil {
			return
		}
		first = p.Wait(id)
		second = p.Wait(id)
	})
	k.Sched.Run()

	if first != 3 {
		t.Fatalf("expected first wait to return 3, got %d", first)
	}
	if second != -1 {
		t.Fatalf("expected second wait on same child to return -1, got %d", second)
	}
}

func TestForkDuplicatesFileDescriptors(t *testing.T) {
	k := newTestKernel(t)
	writeTestBinary(t, k, "prog")
	k.FS.Create("data.txt", 0)

	var childSawFD bool
	k.CreateInit("prog", func(p *Process) {
		h, err := k.FS.Open("data.txt", false)
		if err != nil {
			return
		}
		fd, err := p.T.AllocFD(k.Sched, h)
		if err != nil {
			return
		}
		id, err := p.Fork("child", func(child *Process) {
			_, ok := child.T.LookupFD(k.Sched, fd)
			childSawFD = ok
			child.Exit(0)
		})
		if err != nil {
			return
		}
		p.Wait(id)
	})
	k.Sched.Run()

	if !childSawFD {
		t.Fatal("expected forked child to inherit parent's open file descriptor")
	}
}

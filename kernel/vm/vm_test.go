package vm

import (
	"bytes"
	"testing"

	"pintsim/kconfig"
	"pintsim/kfs"
	"pintsim/swapdisk"
)

func newTestSPT(t *testing.T, frames int) *SupplementalPageTable {
	t.Helper()
	pool, err := NewFramePool(frames)
	if err != nil {
		t.Fatalf("new frame pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	disk, err := swapdisk.Open("", kconfig.SectorsPerPage*64)
	if err != nil {
		t.Fatalf("new swap disk: %v", err)
	}
	return NewSupplementalPageTable(NewPageTableRoot(), pool, disk)
}

func TestAnonLazyZeroFillAndClaim(t *testing.T) {
	spt := newTestSPT(t, 4)
	const vaddr = uintptr(0x1000)
	if err := spt.AllocPageWithInitializer(KindAnon, vaddr, true, zeroAnonLoader); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := spt.Claim(vaddr); err != nil {
		t.Fatalf("claim: %v", err)
	}
	d, ok := spt.Find(vaddr)
	if !ok {
		t.Fatal("expected descriptor present")
	}
	if d.Kind != KindAnon {
		t.Fatalf("expected descriptor transmuted to anon, got %v", d.Kind)
	}
	if d.Frame == nil {
		t.Fatal("expected resident frame after claim")
	}
	for _, b := range d.Frame.Content {
		if b != 0 {
			t.Fatal("expected zero-filled frame")
		}
	}
}

func TestDuplicateInsertRejected(t *testing.T) {
	spt := newTestSPT(t, 4)
	const vaddr = uintptr(0x2000)
	if err := spt.AllocPageWithInitializer(KindAnon, vaddr, true, zeroAnonLoader); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	if err := spt.AllocPageWithInitializer(KindAnon, vaddr, true, zeroAnonLoader); err == nil {
		t.Fatal("expected duplicate insert to fail")
	}
}

func TestEvictionSwapsOutAndSwapInRestoresContent(t *testing.T) {
	spt := newTestSPT(t, 2)
	addrs := []uintptr{0x10000, 0x11000, 0x12000}
	for i, a := range addrs {
		if err := spt.AllocPageWithInitializer(KindAnon, a, true, zeroAnonLoader); err != nil {
			t.Fatalf("alloc page %d: %v", i, err)
		}
	}

	for i, a := range addrs {
		if err := spt.Claim(a); err != nil {
			t.Fatalf("claim page %d: %v", i, err)
		}
		d, _ := spt.Find(a)
		d.Frame.Content[0] = byte(0x40 + i)
	}

	// With only 2 frames and 3 claimed pages, at least one must have been
	// evicted to swap. Touching it again must restore its byte.
	for i, a := range addrs {
		frame, err := spt.Touch(a, false)
		if err != nil {
			t.Fatalf("touch page %d: %v", i, err)
		}
		if got, want := frame.Content[0], byte(0x40+i); got != want {
			t.Fatalf("page %d: got byte %x, want %x", i, got, want)
		}
	}
}

func TestTryHandleFaultStackGrowth(t *testing.T) {
	spt := newTestSPT(t, 8)
	rsp := uintptr(kconfig.UserStackTop - 64)
	fault := rsp - 8

	if err := spt.TryHandleFault(rsp, fault, true, true); err != nil {
		t.Fatalf("expected stack growth to succeed: %v", err)
	}
	if _, ok := spt.Find(fault); !ok {
		t.Fatal("expected a descriptor registered at the fault page")
	}
}

func TestTryHandleFaultRejectsFarAboveStack(t *testing.T) {
	spt := newTestSPT(t, 8)
	rsp := uintptr(kconfig.UserStackTop - 64)
	fault := rsp + 4096

	if err := spt.TryHandleFault(rsp, fault, true, true); err == nil {
		t.Fatal("expected fault far above rsp to fail")
	}
}

func TestTryHandleFaultWriteProtected(t *testing.T) {
	spt := newTestSPT(t, 4)
	const vaddr = uintptr(0x20000)
	if err := spt.AllocPageWithInitializer(KindAnon, vaddr, false, zeroAnonLoader); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := spt.TryHandleFault(vaddr, vaddr, true, true); err == nil {
		t.Fatal("expected write fault on read-only page to fail")
	}
}

func TestMmapMunmapWriteBack(t *testing.T) {
	fs := kfs.New()
	fs.Create("data.bin", 12288)
	h, err := fs.Open("data.bin", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	initial := bytes.Repeat([]byte{'A'}, 12288)
	if _, err := h.WriteAt(initial, 0); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	spt := newTestSPT(t, 8)
	const addr = uintptr(0x30000)
	mapped, err := spt.Mmap(addr, 12288, true, h, 0)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	if mapped != addr {
		t.Fatalf("expected mmap to return addr, got %x", mapped)
	}

	if err := spt.WriteUser(addr+8192, []byte{'Z'}); err != nil {
		t.Fatalf("write user: %v", err)
	}

	if err := spt.Munmap(addr); err != nil {
		t.Fatalf("munmap: %v", err)
	}

	h2, err := fs.Open("data.bin", false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := make([]byte, 12288)
	if _, err := h2.ReadAt(got, 0); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got[8192] != 'Z' {
		t.Fatalf("expected written byte at offset 8192, got %q", got[8192])
	}
	if got[0] != 'A' || got[12287] != 'A' {
		t.Fatal("expected untouched bytes to remain 'A'")
	}
}

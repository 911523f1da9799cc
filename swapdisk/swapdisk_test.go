package swapdisk

import (
	"bytes"
	"testing"

	"pintsim/kconfig"
)

func TestAllocSlotAlignsToPageRun(t *testing.T) {
	d, err := Open("", kconfig.SectorsPerPage*4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	slot, err := d.AllocSlot()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if slot%kconfig.SectorsPerPage != 0 {
		t.Fatalf("slot %d not aligned to page run", slot)
	}
	if !d.SlotAllocated(slot) {
		t.Fatal("expected slot marked used after alloc")
	}
}

func TestWriteReadPageRoundTrip(t *testing.T) {
	d, err := Open("", kconfig.SectorsPerPage*2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	slot, err := d.AllocSlot()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	want := bytes.Repeat([]byte{0xAB}, kconfig.PageSize)
	if err := d.WritePage(slot, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, kconfig.PageSize)
	if err := d.ReadPage(slot, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("page contents did not round trip")
	}
}

func TestFreeSlotClearsBitmap(t *testing.T) {
	d, err := Open("", kconfig.SectorsPerPage*2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	slot, err := d.AllocSlot()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	d.FreeSlot(slot)
	if d.SlotAllocated(slot) {
		t.Fatal("expected slot cleared after free")
	}
}

func TestAllocExhaustion(t *testing.T) {
	d, err := Open("", kconfig.SectorsPerPage)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := d.AllocSlot(); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	if _, err := d.AllocSlot(); err == nil {
		t.Fatal("expected exhaustion error on second alloc")
	}
}

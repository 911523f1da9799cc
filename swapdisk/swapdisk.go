// Package swapdisk implements the raw block device anonymous pages are
// swapped to: a 512-byte-sector bitmap-backed allocator over either an
// in-memory buffer or a real file opened with golang.org/x/sys/unix,
// grounded on the teacher's use of x/sys/unix for direct fd-level I/O
// (linux/namespace.go) and on spec.md §4.5/§6 ("Swap disk layout").
package swapdisk

import (
	"sync"

	"github.com/bits-and-blooms/bitset"

	"pintsim/kconfig"
	"pintsim/kerrors"
)

// backing is the minimal sector-addressable I/O contract. *osFile and
// *memBacking both implement it.
type backing interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Close() error
}

// Disk is a swap device: `sectors` fixed-size 512-byte sectors, allocated
// in runs of kconfig.SectorsPerPage (one run per anonymous page). A set
// bit means the sector is in use.
type Disk struct {
	mu      sync.Mutex
	used    *bitset.BitSet
	sectors int
	store   backing
}

// Open creates a swap disk of the given sector count. If path is empty the
// disk is backed by an in-memory buffer (used by tests and by default
// boot configs); otherwise it is backed by a real file opened for direct
// pread/pwrite via golang.org/x/sys/unix.
func Open(path string, sectors int) (*Disk, error) {
	if sectors <= 0 || sectors%kconfig.SectorsPerPage != 0 {
		return nil, kerrors.New(kerrors.ErrInvalidConfig, "swapdisk.Open", "sector count must be a positive multiple of sectors-per-page")
	}
	var store backing
	var err error
	if path == "" {
		store = newMemBacking(sectors * kconfig.SectorSize)
	} else {
		store, err = openFileBacking(path, sectors*kconfig.SectorSize)
		if err != nil {
			return nil, kerrors.Wrap(err, kerrors.ErrInvalidConfig, "swapdisk.Open")
		}
	}
	return &Disk{
		used:    bitset.New(uint(sectors)),
		sectors: sectors,
		store:   store,
	}, nil
}

// Close releases the backing store.
func (d *Disk) Close() error {
	return d.store.Close()
}

// Sectors returns the total sector count.
func (d *Disk) Sectors() int { return d.sectors }

// AllocSlot scans the bitmap for the first free run of SectorsPerPage
// consecutive sectors, marks them used, and returns the run's starting
// sector. Returns kerrors.ErrSwapExhausted if no run is free; per spec.md
// §4.5 this is a panic-worthy condition in the caller (swap_out), not a
// recoverable error, since swap space is unbounded by policy.
func (d *Disk) AllocSlot() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	run := uint(kconfig.SectorsPerPage)
	for start := uint(0); start+run <= uint(d.sectors); start += run {
		free := true
		for i := uint(0); i < run; i++ {
			if d.used.Test(start + i) {
				free = false
				break
			}
		}
		if free {
			for i := uint(0); i < run; i++ {
				d.used.Set(start + i)
			}
			return int(start), nil
		}
	}
	return 0, kerrors.ErrSwapExhausted
}

// FreeSlot clears the SectorsPerPage bits starting at slot.
func (d *Disk) FreeSlot(slot int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < kconfig.SectorsPerPage; i++ {
		d.used.Clear(uint(slot + i))
	}
}

// SlotAllocated reports whether the run starting at slot is currently
// marked used, by testing the run's first sector bit; this package's
// tests use it after AllocSlot and FreeSlot.
func (d *Disk) SlotAllocated(slot int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used.Test(uint(slot))
}

// ReadPage reads one page's worth of bytes (PageSize) from the run
// starting at slot into buf.
func (d *Disk) ReadPage(slot int, buf []byte) error {
	if len(buf) != kconfig.PageSize {
		return kerrors.New(kerrors.ErrInvariant, "swapdisk.ReadPage", "buffer must be exactly one page")
	}
	off := int64(slot) * kconfig.SectorSize
	n, err := d.store.ReadAt(buf, off)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrNoSwap, "swapdisk.ReadPage")
	}
	if n != len(buf) {
		return kerrors.New(kerrors.ErrNoSwap, "swapdisk.ReadPage", "short read")
	}
	return nil
}

// WritePage writes one page's worth of bytes to the run starting at slot.
func (d *Disk) WritePage(slot int, buf []byte) error {
	if len(buf) != kconfig.PageSize {
		return kerrors.New(kerrors.ErrInvariant, "swapdisk.WritePage", "buffer must be exactly one page")
	}
	off := int64(slot) * kconfig.SectorSize
	n, err := d.store.WriteAt(buf, off)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrNoSwap, "swapdisk.WritePage")
	}
	if n != len(buf) {
		return kerrors.New(kerrors.ErrNoSwap, "swapdisk.WritePage", "short write")
	}
	return nil
}

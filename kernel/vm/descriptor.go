package vm

import (
	"log/slog"

	"pintsim/kconfig"
	"pintsim/kerrors"
	"pintsim/kfs"
	"pintsim/klog"
)

// PageKind tags a Descriptor's current representation. Grounded on
// spec.md §9's "Polymorphism over page kinds": the original source uses a
// function table embedded in each page; here that becomes a tagged
// variant with kind-dispatched methods instead of heap-based inheritance.
type PageKind int

const (
	// KindUninit is a descriptor whose contents are produced on first
	// access by Loader; it transmutes to its eventual kind in swapIn.
	KindUninit PageKind = iota
	// KindAnon has no backing file; eviction writes its contents to swap.
	KindAnon
	// KindFile mirrors a range of an open file; eviction writes back only
	// if the page was dirtied.
	KindFile
)

func (k PageKind) String() string {
	switch k {
	case KindUninit:
		return "uninit"
	case KindAnon:
		return "anon"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Loader produces a freshly claimed frame's initial contents for an
// uninit descriptor (the lazy ELF-segment loader, or mmap's lazy
// file-backed loader).
type Loader func(d *Descriptor, frame *Frame) error

// Descriptor is the per-page record in a SupplementalPageTable: spec.md's
// "the per-page record in the SPT; may be resident (has a frame) or
// non-resident."
type Descriptor struct {
	VAddr    uintptr
	Writable bool
	Kind     PageKind
	Frame    *Frame

	eventualKind PageKind
	loader       Loader

	swapSlot int // -1 if none allocated

	file               kfs.Handle
	offset             int64
	readBytes          int
	pageCountInMapping int

	spt *SupplementalPageTable
}

// swapIn materializes the descriptor's contents into frame. For uninit
// descriptors this runs the loader and transmutes Kind to eventualKind;
// for anon it reads back from swap (or leaves the already-zeroed frame
// alone if never swapped out); for file it (re)reads from the backing
// file.
func (d *Descriptor) swapIn(frame *Frame) error {
	switch d.Kind {
	case KindUninit:
		if err := d.loader(d, frame); err != nil {
			return err
		}
		d.Kind = d.eventualKind
		d.loader = nil
		return nil
	case KindAnon:
		if d.swapSlot < 0 {
			return nil
		}
		disk := d.spt.disk
		if err := disk.ReadPage(d.swapSlot, frame.Content); err != nil {
			return err
		}
		klog.Default().Debug("swap in", slog.Int64("vaddr", int64(d.VAddr)), slog.Int("slot", d.swapSlot))
		disk.FreeSlot(d.swapSlot)
		d.swapSlot = -1
		return nil
	case KindFile:
		return d.readFileInto(frame)
	default:
		return kerrors.New(kerrors.ErrInvariant, "page.swap_in", "unknown page kind")
	}
}

func (d *Descriptor) readFileInto(frame *Frame) error {
	n, err := d.file.ReadAt(frame.Content[:d.readBytes], d.offset)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrFS, "page.swap_in")
	}
	for i := n; i < len(frame.Content[:d.readBytes]); i++ {
		frame.Content[i] = 0
	}
	for i := d.readBytes; i < kconfig.PageSize; i++ {
		frame.Content[i] = 0
	}
	return nil
}

// swapOut writes the descriptor's frame contents to its backing store (an
// anon page always goes to a fresh swap slot; a file page is written back
// only if dirty), clears the page-table mapping, and unbinds the frame so
// the caller can reuse it.
// Caller (FramePool.evict) must hold the pool lock; swapOut itself only
// touches the descriptor's own page table and disk/file.
func (d *Descriptor) swapOut() error {
	switch d.Kind {
	case KindAnon:
		slot, err := d.spt.disk.AllocSlot()
		if err != nil {
			// AllocSlot's doc contract: swap exhaustion is not a
			// recoverable error here, per spec.md §4.5/§7.
			panic(err)
		}
		if err := d.spt.disk.WritePage(slot, d.Frame.Content); err != nil {
			return err
		}
		d.swapSlot = slot
		klog.Default().Debug("swap out", slog.Int64("vaddr", int64(d.VAddr)), slog.Int("slot", slot))
	case KindFile:
		if d.spt.pt.IsDirty(d.VAddr) {
			if _, err := d.file.WriteAt(d.Frame.Content[:d.readBytes], d.offset); err != nil {
				return kerrors.Wrap(err, kerrors.ErrFS, "page.swap_out")
			}
			d.spt.pt.ClearDirty(d.VAddr)
		}
	}
	d.spt.pt.ClearPage(d.VAddr)
	d.Frame.Page = nil
	d.Frame = nil
	return nil
}

// destroy releases whatever resources the descriptor holds: the swap
// slot (anon), a final dirty write-back (file), and the frame (any kind),
// per spec.md §4.5/§4.6's per-kind destroy contracts.
func (d *Descriptor) destroy() {
	if d.Frame != nil {
		if d.Kind == KindFile && d.spt.pt.IsDirty(d.VAddr) {
			_, _ = d.file.WriteAt(d.Frame.Content[:d.readBytes], d.offset)
		}
		d.spt.pt.ClearPage(d.VAddr)
		d.spt.pool.Release(d.Frame)
		d.Frame.Page = nil
		d.Frame = nil
	}
	if d.Kind == KindAnon && d.swapSlot >= 0 {
		d.spt.disk.FreeSlot(d.swapSlot)
		d.swapSlot = -1
	}
}

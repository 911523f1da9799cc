package vm

import (
	"log/slog"
	"sync"

	"pintsim/kconfig"
	"pintsim/kerrors"
	"pintsim/klog"
	"pintsim/swapdisk"
)

// SupplementalPageTable is the per-process map from page-aligned virtual
// addresses to descriptors (spec.md §4.4), backed by a shared frame pool
// and swap disk.
type SupplementalPageTable struct {
	mu    sync.Mutex
	pages map[uintptr]*Descriptor

	pt   *PageTableRoot
	pool *FramePool
	disk *swapdisk.Disk
}

// NewSupplementalPageTable creates an empty SPT bound to the given page
// table, frame pool, and swap disk. pt/pool/disk are shared across a
// process's lifetime (pool and disk are shared across the whole kernel).
func NewSupplementalPageTable(pt *PageTableRoot, pool *FramePool, disk *swapdisk.Disk) *SupplementalPageTable {
	return &SupplementalPageTable{
		pages: make(map[uintptr]*Descriptor),
		pt:    pt,
		pool:  pool,
		disk:  disk,
	}
}

func pageAlign(addr uintptr) uintptr {
	return addr &^ (kconfig.PageSize - 1)
}

// Find returns the descriptor covering vaddr's page, if any.
func (s *SupplementalPageTable) Find(vaddr uintptr) (*Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.pages[pageAlign(vaddr)]
	return d, ok
}

// Insert adds d, rejecting a duplicate vaddr.
func (s *SupplementalPageTable) Insert(d *Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pageAlign(d.VAddr)
	if _, exists := s.pages[key]; exists {
		return kerrors.ErrDuplicatePage
	}
	d.VAddr = key
	d.spt = s
	s.pages[key] = d
	return nil
}

// Remove destroys d's resources and deletes it from the table.
func (s *SupplementalPageTable) Remove(d *Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.destroy()
	delete(s.pages, pageAlign(d.VAddr))
}

// AllocPageWithInitializer registers an uninit descriptor typed for
// eventualKind, to be materialized lazily by loader on first Claim/fault.
func (s *SupplementalPageTable) AllocPageWithInitializer(eventualKind PageKind, vaddr uintptr, writable bool, loader Loader) error {
	if eventualKind == KindUninit {
		return kerrors.New(kerrors.ErrInvariant, "alloc_page_with_initializer", "eventual kind must not be uninit")
	}
	d := &Descriptor{
		VAddr:        pageAlign(vaddr),
		Writable:     writable,
		Kind:         KindUninit,
		eventualKind: eventualKind,
		loader:       loader,
		swapSlot:     -1,
	}
	return s.Insert(d)
}

// AllocAnonPage registers a zero-fill anonymous page at vaddr, the common
// case of AllocPageWithInitializer used for user-stack setup and BSS.
func (s *SupplementalPageTable) AllocAnonPage(vaddr uintptr, writable bool) error {
	return s.AllocPageWithInitializer(KindAnon, vaddr, writable, zeroAnonLoader)
}

// claimDescriptor obtains a frame for d (if not already resident), installs
// the page-table mapping, and runs swap_in. Caller must hold s.mu.
func (s *SupplementalPageTable) claimDescriptor(d *Descriptor) error {
	if d.Frame != nil {
		return nil
	}
	frame, err := s.pool.Get()
	if err != nil {
		return err
	}
	frame.Page = d
	d.Frame = frame
	s.pt.SetPage(d.VAddr, frame, d.Writable)
	if err := d.swapIn(frame); err != nil {
		s.pt.ClearPage(d.VAddr)
		frame.Page = nil
		d.Frame = nil
		s.pool.Release(frame)
		return err
	}
	return nil
}

// Claim forces immediate materialization of the descriptor at vaddr.
func (s *SupplementalPageTable) Claim(vaddr uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.pages[pageAlign(vaddr)]
	if !ok {
		return kerrors.ErrUnmapped
	}
	return s.claimDescriptor(d)
}

// Touch ensures vaddr's page is resident and marks the access (and, if
// write, dirty) bit, claiming it first if necessary. Used by ReadUser and
// WriteUser, and is the mechanism by which syscall buffer arguments are
// validated: an absent descriptor or a write to a read-only page surfaces
// as an error here exactly as it would as a page fault in the real
// kernel, rather than through a separate validation pass.
func (s *SupplementalPageTable) Touch(vaddr uintptr, write bool) (*Frame, error) {
	page := pageAlign(vaddr)
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.pages[page]
	if !ok {
		return nil, kerrors.ErrUnmapped
	}
	if write && !d.Writable {
		return nil, kerrors.ErrWriteProtected
	}
	if d.Frame == nil {
		if err := s.claimDescriptor(d); err != nil {
			return nil, err
		}
	}
	s.pt.MarkAccessed(d.VAddr)
	if write {
		s.pt.MarkDirty(d.VAddr)
	}
	return d.Frame, nil
}

func validateAddr(vaddr uintptr) error {
	if vaddr == 0 {
		return kerrors.ErrNullPointer
	}
	if !kconfig.IsUserAddress(vaddr) {
		return kerrors.ErrKernelAddress
	}
	return nil
}

// ReadUser copies len(buf) bytes starting at vaddr out of user memory,
// faulting in absent pages along the way.
func (s *SupplementalPageTable) ReadUser(vaddr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return validateAddr(vaddr)
	}
	if err := validateAddr(vaddr); err != nil {
		return err
	}
	if err := validateAddr(vaddr + uintptr(len(buf)) - 1); err != nil {
		return err
	}
	for i := 0; i < len(buf); {
		va := vaddr + uintptr(i)
		frame, err := s.Touch(va, false)
		if err != nil {
			return err
		}
		off := int(va % kconfig.PageSize)
		n := copy(buf[i:], frame.Content[off:])
		i += n
	}
	return nil
}

// WriteUser copies buf into user memory starting at vaddr, faulting in
// and marking dirty any pages touched.
func (s *SupplementalPageTable) WriteUser(vaddr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return validateAddr(vaddr)
	}
	if err := validateAddr(vaddr); err != nil {
		return err
	}
	if err := validateAddr(vaddr + uintptr(len(buf)) - 1); err != nil {
		return err
	}
	for i := 0; i < len(buf); {
		va := vaddr + uintptr(i)
		frame, err := s.Touch(va, true)
		if err != nil {
			return err
		}
		off := int(va % kconfig.PageSize)
		n := copy(frame.Content[off:], buf[i:])
		i += n
	}
	return nil
}

func zeroAnonLoader(d *Descriptor, frame *Frame) error {
	clear(frame.Content)
	return nil
}

// growStack registers zero-fill anon pages for every page from faultPage
// up to and including the page containing rsp, then claims faultPage.
// Grounded on spec.md §4.4 step 3.
func (s *SupplementalPageTable) growStack(rsp, faultPage uintptr) error {
	top := pageAlign(rsp)
	if faultPage > top {
		top = faultPage
	}
	for p := faultPage; p <= top; p += kconfig.PageSize {
		if _, ok := s.Find(p); ok {
			continue
		}
		if err := s.AllocPageWithInitializer(KindAnon, p, true, zeroAnonLoader); err != nil {
			return err
		}
	}
	return s.Claim(faultPage)
}

// TryHandleFault implements spec.md §4.4's fault path: reject kernel
// addresses and null from user mode, recognize legitimate stack growth,
// fail on an absent descriptor (bus error) or a write to a read-only
// page, otherwise claim the page.
//
// rsp is the user stack pointer at the time of the fault (the live
// register for a user-mode fault, or the value saved at syscall entry
// for a fault taken while servicing a syscall). Per the stack-growth
// heuristic documented in SPEC_FULL.md, a fault at or below rsp+slack
// within the growth window grows the stack; this also covers faults
// arbitrarily far below rsp (e.g. a large stack-allocated buffer), not
// just the nearest 8 bytes, which spec.md §9 flags as an implementer
// choice.
func (s *SupplementalPageTable) TryHandleFault(rsp, addr uintptr, userMode, write bool) error {
	klog.Default().Debug("page fault", slog.Int64("addr", int64(addr)), slog.Bool("write", write))
	if !userMode {
		return kerrors.New(kerrors.ErrInvariant, "try_handle_fault", "page fault in kernel mode")
	}
	if addr == 0 {
		return kerrors.ErrNullPointer
	}
	if !kconfig.IsUserAddress(addr) {
		return kerrors.ErrKernelAddress
	}

	pageAddr := pageAlign(addr)

	if _, ok := s.Find(pageAddr); !ok {
		withinWindow := addr >= kconfig.UserStackTop-kconfig.StackGrowthLimit && addr < kconfig.UserStackTop
		if withinWindow && addr <= rsp+kconfig.StackGrowthSlack {
			return s.growStack(rsp, pageAddr)
		}
		return kerrors.ErrUnmapped
	}

	d, _ := s.Find(pageAddr)
	if write && !d.Writable {
		return kerrors.ErrWriteProtected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimDescriptor(d)
}

// Copy performs a structural copy of src into dst for fork: every
// descriptor is cloned (uninit descriptors keep their loader/eventual
// kind; anon and file descriptors keep their kind), and resident pages
// have their frame contents duplicated byte for byte.
func Copy(dst, src *SupplementalPageTable) error {
	src.mu.Lock()
	entries := make([]*Descriptor, 0, len(src.pages))
	for _, d := range src.pages {
		entries = append(entries, d)
	}
	src.mu.Unlock()

	for _, d := range entries {
		clone := &Descriptor{
			VAddr:              d.VAddr,
			Writable:           d.Writable,
			Kind:               d.Kind,
			eventualKind:       d.eventualKind,
			loader:             d.loader,
			swapSlot:           -1,
			file:               d.file,
			offset:             d.offset,
			readBytes:          d.readBytes,
			pageCountInMapping: d.pageCountInMapping,
		}
		if err := dst.Insert(clone); err != nil {
			return err
		}
		if d.Frame != nil {
			dst.mu.Lock()
			err := dst.claimDescriptor(clone)
			dst.mu.Unlock()
			if err != nil {
				return err
			}
			copy(clone.Frame.Content, d.Frame.Content)
		} else if d.Kind == KindAnon && d.swapSlot >= 0 {
			// Parent page was evicted before fork: duplicate its swapped-out
			// contents into a fresh slot rather than forcing it resident, so
			// the child sees the same bytes without disturbing the parent's
			// frame occupancy.
			buf := make([]byte, kconfig.PageSize)
			if err := src.disk.ReadPage(d.swapSlot, buf); err != nil {
				return err
			}
			slot, err := dst.disk.AllocSlot()
			if err != nil {
				panic(err)
			}
			if err := dst.disk.WritePage(slot, buf); err != nil {
				return err
			}
			clone.swapSlot = slot
		}
	}
	return nil
}

// Kill destroys every descriptor in the table, per spec.md §4.3 step 4
// ("destroy the SPT... then the page-table root").
func (s *SupplementalPageTable) Kill() {
	s.mu.Lock()
	entries := make([]*Descriptor, 0, len(s.pages))
	for _, d := range s.pages {
		entries = append(entries, d)
	}
	s.pages = make(map[uintptr]*Descriptor)
	s.mu.Unlock()

	for _, d := range entries {
		d.destroy()
	}
}

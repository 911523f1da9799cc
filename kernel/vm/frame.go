// Package vm implements the supplemental page table, the tagged page
// descriptor variant (uninit/anon/file), and the physical frame pool with
// second-chance eviction, grounded on original_source/vm/vm.c,
// vm/anon.c, vm/file.c, vm/uninit.c and include/vm/vm.h.
//
// This package must not import pintsim/kernel/thread: the TCB holds a
// *PageTableRoot and *SupplementalPageTable, so the dependency runs one
// way only.
package vm

import (
	"sync"

	"golang.org/x/sys/unix"

	"pintsim/kconfig"
	"pintsim/kerrors"
)

// Frame is one physical user-pool page: Content is a PageSize-length
// slice into the pool's mmap'd arena (the simulator's stand-in for a
// kernel virtual address mapping onto physical memory), Page is the
// descriptor currently bound to it, if any.
type Frame struct {
	Content []byte
	Page    *Descriptor
	index   int
}

// FramePool is the shared physical frame allocator: a fixed number of
// frames carved out of one anonymous mmap arena (golang.org/x/sys/unix,
// matching the teacher's use of x/sys for direct syscalls rather than the
// buffered os package), with second-chance (clock) eviction per spec.md
// §4.7.
type FramePool struct {
	mu      sync.Mutex
	arena   []byte
	frames  []*Frame
	freeIdx []int
	bound   []bool
	clock   int
}

// NewFramePool allocates n physical frames.
func NewFramePool(n int) (*FramePool, error) {
	if n <= 0 {
		return nil, kerrors.New(kerrors.ErrInvalidConfig, "NewFramePool", "frame pool must have at least one frame")
	}
	size := n * kconfig.PageSize
	arena, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrNoMemory, "NewFramePool")
	}
	p := &FramePool{
		arena:  arena,
		frames: make([]*Frame, n),
		bound:  make([]bool, n),
	}
	for i := range p.frames {
		p.frames[i] = &Frame{Content: arena[i*kconfig.PageSize : (i+1)*kconfig.PageSize : (i+1)*kconfig.PageSize], index: i}
		p.freeIdx = append(p.freeIdx, i)
	}
	return p, nil
}

// Size returns the number of frames in the pool.
func (p *FramePool) Size() int { return len(p.frames) }

// Get returns a zeroed frame, evicting a victim via the clock policy if
// the pool is exhausted.
func (p *FramePool) Get() (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.freeIdx) > 0 {
		idx := p.freeIdx[len(p.freeIdx)-1]
		p.freeIdx = p.freeIdx[:len(p.freeIdx)-1]
		f := p.frames[idx]
		clear(f.Content)
		p.bound[idx] = true
		return f, nil
	}
	return p.evict()
}

// evict implements second-chance (clock) replacement: scan the frame
// table from the preserved clock position; a frame whose owning page is
// accessed gets its access bit cleared and is skipped; the first
// unaccessed frame found is evicted. Because the scan clears access bits
// as it goes, a second pass over the same frames is guaranteed to find a
// victim, per spec.md §4.7. Caller must hold p.mu.
func (p *FramePool) evict() (*Frame, error) {
	n := len(p.frames)
	for steps := 0; steps < 2*n; steps++ {
		idx := p.clock
		p.clock = (p.clock + 1) % n
		if !p.bound[idx] {
			continue
		}
		f := p.frames[idx]
		page := f.Page
		if page == nil {
			continue
		}
		if page.spt.pt.IsAccessed(page.VAddr) {
			page.spt.pt.ClearAccessed(page.VAddr)
			continue
		}
		if err := page.swapOut(); err != nil {
			return nil, err
		}
		clear(f.Content)
		return f, nil
	}
	return nil, kerrors.ErrFramePoolExhausted
}

// Release returns a frame to the free list without swapping out its
// current page (used when a descriptor is destroyed outright, e.g. spt
// teardown on process exit).
func (p *FramePool) Release(f *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bound[f.index] = false
	p.freeIdx = append(p.freeIdx, f.index)
}

// Close unmaps the pool's backing arena.
func (p *FramePool) Close() error {
	return unix.Munmap(p.arena)
}

package vm

import (
	"pintsim/kconfig"
	"pintsim/kerrors"
	"pintsim/kfs"
)

func fileLoader(d *Descriptor, frame *Frame) error {
	return d.readFileInto(frame)
}

// Mmap registers a file-backed mapping at addr, per spec.md §4.6: addr
// and offset must be page-aligned and addr non-null; the mapped length is
// clamped to what remains in the file from offset; each page becomes an
// uninit(file) descriptor with read_bytes/zero_bytes split at the file's
// end, and the first page records page_count_in_mapping so munmap knows
// how many pages to walk.
//
// file must already be the reopened handle mmap's caller (the syscall
// layer) obtained via kfs.Handle.Duplicate, so its lifetime is
// independent of the fd the process used to request the mapping.
func (s *SupplementalPageTable) Mmap(addr uintptr, length int, writable bool, file kfs.Handle, offset int64) (uintptr, error) {
	if addr == 0 {
		return 0, kerrors.ErrNullPointer
	}
	if addr%kconfig.PageSize != 0 || offset%kconfig.PageSize != 0 {
		return 0, kerrors.New(kerrors.ErrInvariant, "mmap", "addr and offset must be page aligned")
	}
	if length <= 0 {
		return 0, kerrors.New(kerrors.ErrInvariant, "mmap", "length must be positive")
	}

	remaining := file.Length() - offset
	if remaining < 0 {
		remaining = 0
	}
	total := int64(length)
	if remaining < total {
		total = remaining
	}
	if total <= 0 {
		return 0, kerrors.Wrap(nil, kerrors.ErrFS, "mmap: nothing to map from offset")
	}

	totalPages := int((total + kconfig.PageSize - 1) / kconfig.PageSize)
	remainingBytes := total

	for i := 0; i < totalPages; i++ {
		vaddr := addr + uintptr(i*kconfig.PageSize)
		readBytes := remainingBytes
		if readBytes > kconfig.PageSize {
			readBytes = kconfig.PageSize
		}
		remainingBytes -= readBytes

		d := &Descriptor{
			VAddr:        vaddr,
			Writable:     writable,
			Kind:         KindUninit,
			eventualKind: KindFile,
			loader:       fileLoader,
			swapSlot:     -1,
			file:         file,
			offset:       offset + int64(i*kconfig.PageSize),
			readBytes:    int(readBytes),
		}
		if i == 0 {
			d.pageCountInMapping = totalPages
		}
		if err := s.Insert(d); err != nil {
			return 0, err
		}
	}
	return addr, nil
}

// Munmap tears down the mapping rooted at addr: for each of its
// page_count_in_mapping pages, dirty pages are written back (handled by
// Descriptor.destroy), the mapping and frame are released, and finally
// the reopened file handle is closed.
func (s *SupplementalPageTable) Munmap(addr uintptr) error {
	first, ok := s.Find(addr)
	if !ok {
		return kerrors.ErrUnmapped
	}
	count := first.pageCountInMapping
	if count == 0 {
		count = 1
	}
	fileHandle := first.file

	for i := 0; i < count; i++ {
		vaddr := addr + uintptr(i*kconfig.PageSize)
		d, ok := s.Find(vaddr)
		if !ok {
			continue
		}
		s.Remove(d)
	}
	if fileHandle != nil {
		return fileHandle.Close()
	}
	return nil
}

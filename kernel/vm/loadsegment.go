package vm

import (
	"pintsim/kconfig"
	"pintsim/kerrors"
	"pintsim/kfs"
)

// LoadSegment registers one ELF LOAD segment for lazy loading, exactly
// mirroring load_segment in userprog/process.c: walk page by page from
// vaddr's page-aligned start, reading page_read_bytes from file at a
// running offset and zero-filling the rest of each page, until filesz is
// exhausted; any remaining memsz becomes pure zero-fill (BSS) pages.
// vaddr is assumed page-aligned, the common case validate_segment's
// offset/vaddr alignment check permits and the only one exec() produces.
func (s *SupplementalPageTable) LoadSegment(vaddr uintptr, writable bool, file kfs.Handle, offset int64, filesz, memsz uint64) error {
	if memsz == 0 {
		return kerrors.New(kerrors.ErrInvariant, "load_segment", "memsz must be nonzero")
	}

	readBytes := int64(filesz)
	zeroBytes := int64(memsz) - readBytes
	page := pageAlign(vaddr)
	cursor := offset

	for readBytes > 0 || zeroBytes > 0 {
		pageRead := readBytes
		if pageRead > kconfig.PageSize {
			pageRead = kconfig.PageSize
		}
		pageZero := int64(kconfig.PageSize) - pageRead

		var d *Descriptor
		if pageRead > 0 {
			d = &Descriptor{
				VAddr:        page,
				Writable:     writable,
				Kind:         KindUninit,
				eventualKind: KindAnon,
				loader:       fileLoader,
				swapSlot:     -1,
				file:         file,
				offset:       cursor,
				readBytes:    int(pageRead),
			}
		} else {
			d = &Descriptor{
				VAddr:        page,
				Writable:     writable,
				Kind:         KindUninit,
				eventualKind: KindAnon,
				loader:       zeroAnonLoader,
				swapSlot:     -1,
			}
		}
		if err := s.Insert(d); err != nil {
			return err
		}

		readBytes -= pageRead
		zeroBytes -= pageZero
		cursor += pageRead
		page += kconfig.PageSize
	}
	return nil
}

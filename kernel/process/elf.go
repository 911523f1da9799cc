package process

import (
	"bytes"
	"encoding/binary"

	"pintsim/kerrors"
)

// ELF64 header and program-header layouts, field-for-field from
// userprog/process.c's ELF64_hdr/ELF64_PHDR. A hand-rolled decoder (over
// debug/elf) is deliberate: spec.md §4.3/§6 validate individual fields
// exactly (phentsize must equal sizeof(programHeader), not merely fit;
// DYNAMIC/INTERP/SHLIB must fail load rather than be silently skipped),
// which debug/elf's higher-level File/Prog abstraction does not expose
// at that granularity.
const (
	elfMagic0, elfMagic1, elfMagic2, elfMagic3 = 0x7f, 'E', 'L', 'F'
	elfClass64                                 = 2
	elfDataLSB                                 = 1
	etExec                                     = 2
	emX8664                                    = 0x3e
	evCurrent                                  = 1

	ehdrSize = 64
	phdrSize = 56
)

// Program header types (original_source/userprog/process.c).
const (
	ptNull    = 0
	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
	ptNote    = 4
	ptShlib   = 5
	ptPhdr    = 6
	ptStack   = 0x6474e551
)

// Program header flags.
const (
	pfX = 1
	pfW = 2
	pfR = 4
)

type elfHeader struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type programHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

func decodeELFHeader(data []byte) (*elfHeader, error) {
	if len(data) < ehdrSize {
		return nil, kerrors.ErrBadELFMagic
	}
	var h elfHeader
	if err := binary.Read(bytes.NewReader(data[:ehdrSize]), binary.LittleEndian, &h); err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrExec, "decode elf header")
	}
	if h.Ident[0] != elfMagic0 || h.Ident[1] != elfMagic1 || h.Ident[2] != elfMagic2 || h.Ident[3] != elfMagic3 {
		return nil, kerrors.ErrBadELFMagic
	}
	if h.Ident[4] != elfClass64 || h.Ident[5] != elfDataLSB {
		return nil, kerrors.ErrBadELFClass
	}
	if h.Machine != emX8664 || h.Version != evCurrent {
		return nil, kerrors.ErrBadELFClass
	}
	if h.Type != etExec {
		return nil, kerrors.ErrBadELFType
	}
	if int(h.Phentsize) != phdrSize {
		return nil, kerrors.ErrBadSegment
	}
	if h.Phnum > 1024 {
		return nil, kerrors.ErrTooManyPHDRs
	}
	return &h, nil
}

func decodeProgramHeader(data []byte) (*programHeader, error) {
	if len(data) < phdrSize {
		return nil, kerrors.ErrBadSegment
	}
	var ph programHeader
	if err := binary.Read(bytes.NewReader(data[:phdrSize]), binary.LittleEndian, &ph); err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrExec, "decode program header")
	}
	return &ph, nil
}

// validateSegment implements validate_segment from userprog/process.c:
// the file offset and virtual address must agree modulo page size, the
// file offset must not exceed the file's length, memsz must be at least filesz and
// nonzero, both endpoints must be in user space without wraparound, and
// vaddr must be at or above one page (page zero is never mappable).
func validateSegment(ph *programHeader, fileLen int64, pageSize, userTop uintptr) error {
	page := uint64(pageSize)
	if ph.Offset%page != ph.Vaddr%page {
		return kerrors.ErrBadSegment
	}
	if int64(ph.Offset) > fileLen {
		return kerrors.ErrBadSegment
	}
	if ph.Memsz < ph.Filesz {
		return kerrors.ErrBadSegment
	}
	if ph.Memsz == 0 {
		return kerrors.ErrBadSegment
	}
	if ph.Vaddr < uint64(pageSize) {
		return kerrors.ErrBadSegment
	}
	end := ph.Vaddr + ph.Memsz
	if end < ph.Vaddr {
		return kerrors.ErrBadSegment
	}
	if end > uint64(userTop) {
		return kerrors.ErrBadSegment
	}
	return nil
}

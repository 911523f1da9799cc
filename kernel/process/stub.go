package process

import (
	"bytes"
	"encoding/binary"

	"pintsim/kconfig"
)

// stubEntry is the entry point StubImage's header declares. The
// simulator never fetches instructions from it, so the value only needs
// to be a plausible, page-aligned user address.
const stubEntry = uint64(0x400000)

// StubImage returns a minimal, valid one-page ELF64 executable: one
// empty LOAD segment at stubEntry. There is no assembler in this
// simulator, so a loaded image's behavior is entirely the scripted Go
// body a caller hands to CreateInit or Fork; StubImage exists so a
// driver (cmd/pintsim in particular) can exercise the real exec/load
// path of spec.md §4.3 and the ELF validation of §6 against a real file
// without needing a toolchain to produce one.
func StubImage() []byte {
	const (
		ehdrSize = 64
		phdrSize = 56
		dataOff  = uint64(kconfig.PageSize)
	)

	hdr := make([]byte, ehdrSize)
	hdr[0], hdr[1], hdr[2], hdr[3] = 0x7f, 'E', 'L', 'F'
	hdr[4] = 2 // ELFCLASS64
	hdr[5] = 1 // little endian
	binary.LittleEndian.PutUint16(hdr[16:], 2)        // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(hdr[18:], 0x3e)     // e_machine = EM_X86_64
	binary.LittleEndian.PutUint32(hdr[20:], 1)        // e_version
	binary.LittleEndian.PutUint64(hdr[24:], stubEntry) // e_entry
	binary.LittleEndian.PutUint64(hdr[32:], ehdrSize)  // e_phoff
	binary.LittleEndian.PutUint16(hdr[52:], ehdrSize)  // e_ehsize
	binary.LittleEndian.PutUint16(hdr[54:], phdrSize)  // e_phentsize
	binary.LittleEndian.PutUint16(hdr[56:], 1)         // e_phnum

	ph := make([]byte, phdrSize)
	binary.LittleEndian.PutUint32(ph[0:], 1)                 // p_type = PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:], 5)                 // p_flags = R+X
	binary.LittleEndian.PutUint64(ph[8:], dataOff)            // p_offset
	binary.LittleEndian.PutUint64(ph[16:], stubEntry)         // p_vaddr
	binary.LittleEndian.PutUint64(ph[32:], 0)                 // p_filesz
	binary.LittleEndian.PutUint64(ph[40:], kconfig.PageSize)  // p_memsz
	binary.LittleEndian.PutUint64(ph[48:], kconfig.PageSize)  // p_align

	buf := new(bytes.Buffer)
	buf.Write(hdr)
	buf.Write(ph)
	buf.Write(make([]byte, int(dataOff)-buf.Len()))
	return buf.Bytes()
}

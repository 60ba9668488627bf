package uf2

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

const (
	elfHeaderSize     = 52 // ELF32
	elfProgHeaderSize = 32
)

// One program header (plus its bytes) for a synthesized test ELF.
type testProg struct {
	Type   elf.ProgType
	Off    uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Data   []byte // placed at Off in the file; may be nil
}

// Build a minimal little-endian ELF32 executable containing just the given
// program headers. No section headers; debug/elf is fine with that, and the
// extractor only reads program headers anyway. fileSize pads (or doesn't)
// the file so tests can fabricate headers pointing past the end.
func makeTestELF(progs []testProg, fileSize int) []byte {
	need := elfHeaderSize + elfProgHeaderSize*len(progs)
	if fileSize < need {
		fileSize = need
	}
	buf := make([]byte, fileSize)
	le := binary.LittleEndian

	copy(buf, "\x7fELF")
	buf[4] = 1 // ELFCLASS32
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	le.PutUint16(buf[16:], uint16(elf.ET_EXEC))
	le.PutUint16(buf[18:], uint16(elf.EM_ARM))
	le.PutUint32(buf[20:], 1)             // e_version
	le.PutUint32(buf[24:], 0)             // e_entry
	le.PutUint32(buf[28:], elfHeaderSize) // e_phoff
	le.PutUint32(buf[32:], 0)             // e_shoff
	le.PutUint32(buf[36:], 0)             // e_flags
	le.PutUint16(buf[40:], elfHeaderSize)
	le.PutUint16(buf[42:], elfProgHeaderSize)
	le.PutUint16(buf[44:], uint16(len(progs)))
	le.PutUint16(buf[46:], 0) // e_shentsize
	le.PutUint16(buf[48:], 0) // e_shnum
	le.PutUint16(buf[50:], 0) // e_shstrndx

	for i, p := range progs {
		at := elfHeaderSize + elfProgHeaderSize*i
		le.PutUint32(buf[at:], uint32(p.Type))
		le.PutUint32(buf[at+4:], p.Off)
		le.PutUint32(buf[at+8:], p.Vaddr)
		le.PutUint32(buf[at+12:], p.Paddr)
		le.PutUint32(buf[at+16:], p.Filesz)
		le.PutUint32(buf[at+20:], p.Filesz) // p_memsz
		le.PutUint32(buf[at+24:], uint32(elf.PF_R))
		le.PutUint32(buf[at+28:], 4) // p_align
		if p.Data != nil && int(p.Off) < len(buf) {
			copy(buf[p.Off:], p.Data)
		}
	}
	return buf
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Error writing temp file %s: %s", name, err)
	}
	return path
}

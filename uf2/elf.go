package uf2

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"log"
	"math"
)

var ErrNoLoadableSegments = errors.New("no loadable segments with file size > 0 in ELF")

// The input couldn't be parsed as an ELF at all.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("not a valid ELF file: %s", e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func parseELF(data []byte) (*elf.File, error) {
	file, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, &FormatError{Err: err}
	}
	return file, nil
}

// Extract the merged physical image from an ELF binary, the same memory dump
// objcopy -O binary would produce. Only PT_LOAD program headers with a
// nonzero file size participate; the image spans from the lowest LMA
// (p_paddr) to the highest LMA end, with uncovered bytes zero-filled.
func ExtractELF(data []byte) (*Image, error) {
	file, err := parseELF(data)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	segments := make([]Segment, 0, len(file.Progs))
	for _, prog := range file.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		// Validate against the real file length ourselves rather than trusting
		// prog.Open(); a header pointing past EOF must be an error, never a
		// silently truncated copy.
		end := satAdd64(prog.Off, prog.Filesz)
		if end > uint64(len(data)) {
			return nil, &SegmentRangeError{
				What:   "source",
				Addr:   prog.Paddr,
				Offset: prog.Off,
				Size:   prog.Filesz,
				Bound:  uint64(len(data)),
			}
		}
		segments = append(segments, Segment{
			Addr: prog.Paddr,
			Data: data[prog.Off:end],
		})
	}
	if len(segments) == 0 {
		return nil, ErrNoLoadableSegments
	}
	return MergeSegments(segments)
}

// Find the lowest virtual address among PT_LOAD segments. This is the
// default UF2 target base; note it is deliberately NOT the same value as
// the image's physical address (initialized .data has VMA in RAM but LMA in
// flash, and the flash copy is what gets programmed). No file size filter
// here: a zero-filesz RAM segment still pins the virtual base.
func ELFBaseAddress(data []byte) (uint32, error) {
	file, err := parseELF(data)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	minVaddr := uint64(math.MaxUint64)
	for _, prog := range file.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Vaddr < minVaddr {
			minVaddr = prog.Vaddr
		}
	}
	if minVaddr == math.MaxUint64 {
		log.Printf("WARN: No PT_LOAD segment found in ELF, using 0 as base address")
		return 0, nil
	}
	// Truncate: UF2 addresses are 32 bit no matter what the ELF class is
	return uint32(minVaddr), nil
}

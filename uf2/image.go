package uf2

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNoInput    = errors.New("no segments given")
	ErrEmptyImage = errors.New("computed image size is zero")
)

// A single contiguous run of bytes placed at a physical (flash) address.
// Segments come from ELF PT_LOAD entries, Intel HEX records, or compose
// scripts; the merge below doesn't care which.
type Segment struct {
	Addr uint64
	Data []byte
}

// The merged physical image. Addr is the lowest segment address; everything
// in Data is relative to it, with gaps between segments zero-filled.
type Image struct {
	Addr uint64
	Data []byte
}

func (s *Segment) End() uint64 {
	return satAdd64(s.Addr, uint64(len(s.Data)))
}

// Range violation while placing a segment, either reading it out of the
// source file or writing it into the merged image. Carries the offending
// numbers so users can diagnose without re-running anything.
type SegmentRangeError struct {
	What   string // "source" or "destination"
	Addr   uint64 // segment load address
	Offset uint64 // offset the copy would start at
	Size   uint64 // bytes the copy would move
	Bound  uint64 // the limit that was exceeded
}

func (e *SegmentRangeError) Error() string {
	return fmt.Sprintf("segment %s range out of bounds: addr=0x%x offset=0x%x size=0x%x bound=0x%x",
		e.What, e.Addr, e.Offset, e.Size, e.Bound)
}

// Add without wrapping around; a malformed header with p_paddr near the top
// of the 64 bit range must not panic or fold back to a tiny image.
func satAdd64(a uint64, b uint64) uint64 {
	if sum := a + b; sum >= a {
		return sum
	}
	return math.MaxUint64
}

// Merge segments into one contiguous image spanning the lowest address to
// the highest end. Segments are placed in the order given; on overlapping
// ranges the later write wins (firmware linkers don't produce overlaps, and
// the hex/compose inputs legitimately patch over earlier data).
func MergeSegments(segments []Segment) (*Image, error) {
	if len(segments) == 0 {
		return nil, ErrNoInput
	}
	minAddr := uint64(math.MaxUint64)
	maxEnd := uint64(0)
	for i := range segments {
		if segments[i].Addr < minAddr {
			minAddr = segments[i].Addr
		}
		if end := segments[i].End(); end > maxEnd {
			maxEnd = end
		}
	}
	if maxEnd <= minAddr {
		return nil, ErrEmptyImage
	}
	size := maxEnd - minAddr
	buffer := make([]byte, size)
	for i := range segments {
		offset := segments[i].Addr - minAddr
		length := uint64(len(segments[i].Data))
		if satAdd64(offset, length) > size {
			return nil, &SegmentRangeError{
				What:   "destination",
				Addr:   segments[i].Addr,
				Offset: offset,
				Size:   length,
				Bound:  size,
			}
		}
		copy(buffer[offset:], segments[i].Data)
	}
	return &Image{Addr: minAddr, Data: buffer}, nil
}

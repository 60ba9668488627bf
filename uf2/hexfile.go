package uf2

import (
	"fmt"
	"io"

	"github.com/marcinbor85/gohex"
)

// Parse an Intel HEX stream into segments at their absolute addresses.
// gohex already coalesces adjacent records, so each returned segment is one
// contiguous data run; disjoint runs stay separate and get zero-filled by
// the merge.
func ParseIntelHex(r io.Reader) ([]Segment, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("can't parse Intel HEX: %w", err)
	}
	dataSegments := mem.GetDataSegments()
	if len(dataSegments) == 0 {
		return nil, ErrNoInput
	}
	segments := make([]Segment, 0, len(dataSegments))
	for _, ds := range dataSegments {
		segments = append(segments, Segment{Addr: uint64(ds.Address), Data: ds.Data})
	}
	return segments, nil
}

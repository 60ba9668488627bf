package uf2

import (
	"bytes"
	"strings"
	"testing"
)

const testHexDisjoint = `:04001000DEADBEEFB4
:02100000556633
:00000001FF
`

func TestParseIntelHex_Disjoint(t *testing.T) {
	segments, err := ParseIntelHex(strings.NewReader(testHexDisjoint))
	if err != nil {
		t.Fatalf("Error parsing intel hex: %s", err)
	}
	if len(segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(segments))
	}
	image, err := MergeSegments(segments)
	if err != nil {
		t.Fatalf("Error merging hex segments: %s", err)
	}
	if image.Addr != 0x10 {
		t.Fatalf("Expected base 0x10, got 0x%x", image.Addr)
	}
	if len(image.Data) != 0x1002-0x10 {
		t.Fatalf("Expected %d bytes, got %d", 0x1002-0x10, len(image.Data))
	}
	if !bytes.Equal(image.Data[:4], []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("Expected DE AD BE EF at start, got % X", image.Data[:4])
	}
	if !bytes.Equal(image.Data[len(image.Data)-2:], []byte{0x55, 0x66}) {
		t.Fatalf("Expected 55 66 at end, got % X", image.Data[len(image.Data)-2:])
	}
	// The gap is zero fill
	for i := 4; i < len(image.Data)-2; i++ {
		if image.Data[i] != 0 {
			t.Fatalf("Expected zero fill at %d, got %d", i, image.Data[i])
		}
	}
}

func TestParseIntelHex_Garbage(t *testing.T) {
	_, err := ParseIntelHex(strings.NewReader("this is not hex at all"))
	if err == nil {
		t.Fatalf("Expected error for garbage input")
	}
	// Valid records but a broken checksum
	_, err = ParseIntelHex(strings.NewReader(":04001000DEADBEEF00\n:00000001FF\n"))
	if err == nil {
		t.Fatalf("Expected error for bad checksum")
	}
}

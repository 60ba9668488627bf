package uf2

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"
)

func encodeToBlocks(t *testing.T, image []byte, familyID uint32, baseAddr uint32) []Block {
	t.Helper()
	var buf bytes.Buffer
	count, err := EncodeUF2(&buf, image, familyID, baseAddr)
	if err != nil {
		t.Fatalf("Error encoding uf2: %s", err)
	}
	if buf.Len() != count*BlockSize {
		t.Fatalf("Expected %d bytes of output, got %d", count*BlockSize, buf.Len())
	}
	blocks, err := ReadBlocks(&buf)
	if err != nil {
		t.Fatalf("Error decoding uf2: %s", err)
	}
	if len(blocks) != count {
		t.Fatalf("Expected %d blocks, got %d", count, len(blocks))
	}
	return blocks
}

func TestEncodeUF2_SingleBlock(t *testing.T) {
	blocks := encodeToBlocks(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, 0xe48bff56, 0x1000)
	if len(blocks) != 1 {
		t.Fatalf("Expected 1 block, got %d", len(blocks))
	}
	b := blocks[0]
	if b.TargetAddr != 0x1000 {
		t.Fatalf("Expected target 0x1000, got 0x%x", b.TargetAddr)
	}
	if b.PayloadSize != 4 {
		t.Fatalf("Expected payload size 4, got %d", b.PayloadSize)
	}
	if b.BlockNo != 0 || b.NumBlocks != 1 {
		t.Fatalf("Expected block 0/1, got %d/%d", b.BlockNo, b.NumBlocks)
	}
	if b.FamilyID != 0xe48bff56 {
		t.Fatalf("Expected rp2040 family, got 0x%x", b.FamilyID)
	}
	if b.Flags&FlagFamilyIDPresent == 0 {
		t.Fatalf("Expected family-present flag to be set")
	}
	if !bytes.Equal(b.Data[:4], []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("Expected DE AD BE EF, got % X", b.Data[:4])
	}
	for i := 4; i < BlockPayloadMax; i++ {
		if b.Data[i] != 0 {
			t.Fatalf("Expected zero padding at %d, got %d", i, b.Data[i])
		}
	}
}

func TestEncodeUF2_WireLayout(t *testing.T) {
	var buf bytes.Buffer
	_, err := EncodeUF2(&buf, []byte{0xAA}, 0x55114460, 0x4000)
	if err != nil {
		t.Fatalf("Error encoding uf2: %s", err)
	}
	raw := buf.Bytes()
	if len(raw) != BlockSize {
		t.Fatalf("Expected exactly one 512 byte block, got %d bytes", len(raw))
	}
	le := binary.LittleEndian
	if le.Uint32(raw[0:]) != Magic0 || le.Uint32(raw[4:]) != Magic1 {
		t.Fatalf("Bad header magics: %08x %08x", le.Uint32(raw[0:]), le.Uint32(raw[4:]))
	}
	if le.Uint32(raw[12:]) != 0x4000 {
		t.Fatalf("Expected target addr at offset 12, got 0x%x", le.Uint32(raw[12:]))
	}
	if le.Uint32(raw[16:]) != 1 {
		t.Fatalf("Expected payload size at offset 16, got %d", le.Uint32(raw[16:]))
	}
	if le.Uint32(raw[28:]) != 0x55114460 {
		t.Fatalf("Expected family id at offset 28, got 0x%x", le.Uint32(raw[28:]))
	}
	if raw[32] != 0xAA {
		t.Fatalf("Expected payload at offset 32, got 0x%x", raw[32])
	}
	if le.Uint32(raw[508:]) != MagicEnd {
		t.Fatalf("Bad trailing magic: %08x", le.Uint32(raw[508:]))
	}
}

func TestEncodeUF2_BlockAccounting(t *testing.T) {
	sizes := []int{1, 255, 256, 257, 1024, 1000}
	for _, size := range sizes {
		image := make([]byte, size)
		blocks := encodeToBlocks(t, image, 1, 0x2000)
		expected := (size + BlockPayloadMax - 1) / BlockPayloadMax
		if len(blocks) != expected {
			t.Fatalf("Size %d: expected %d blocks, got %d", size, expected, len(blocks))
		}
		for i, b := range blocks {
			if b.BlockNo != uint32(i) {
				t.Fatalf("Size %d: expected contiguous block numbers, got %d at %d", size, b.BlockNo, i)
			}
			if b.NumBlocks != uint32(expected) {
				t.Fatalf("Size %d: expected num_blocks %d in every block, got %d", size, expected, b.NumBlocks)
			}
			if b.TargetAddr != 0x2000+uint32(i*BlockPayloadMax) {
				t.Fatalf("Size %d: block %d has target 0x%x", size, i, b.TargetAddr)
			}
		}
	}
}

func TestEncodeUF2_RoundTrip(t *testing.T) {
	for _, size := range []int{4, 256, 300, 2048, 4097} {
		image := make([]byte, size)
		_, err := rand.Read(image)
		if err != nil {
			t.Fatalf("Error generating random bytes! %s", err)
		}
		blocks := encodeToBlocks(t, image, 0xada52840, 0)
		rebuilt, err := ReassembleImage(blocks)
		if err != nil {
			t.Fatalf("Error reassembling image: %s", err)
		}
		if !bytes.Equal(rebuilt, image) {
			t.Fatalf("Size %d: round trip not transparent!", size)
		}
	}
}

func TestReadBlocks_BadMagic(t *testing.T) {
	raw := make([]byte, BlockSize)
	_, err := ReadBlocks(bytes.NewReader(raw))
	if err == nil {
		t.Fatalf("Expected error for zeroed block")
	}
	_, err = ReadBlocks(bytes.NewReader(raw[:100]))
	if err == nil {
		t.Fatalf("Expected error for truncated stream")
	}
}

func TestReassembleImage_GapDetected(t *testing.T) {
	blocks := encodeToBlocks(t, make([]byte, 1024), 1, 0)
	// Drop a middle block
	broken := append([]Block{}, blocks[0], blocks[2], blocks[3])
	_, err := ReassembleImage(broken)
	if err == nil {
		t.Fatalf("Expected error for missing block")
	}
}

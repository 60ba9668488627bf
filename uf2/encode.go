package uf2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

const (
	Magic0   = 0x0A324655 // "UF2\n"
	Magic1   = 0x9E5D5157
	MagicEnd = 0x0AB16F30

	BlockSize       = 512 // Total size of one block on the wire
	BlockDataSize   = 476 // Size of the data region within a block
	BlockPayloadMax = 256 // Usable payload per block by convention

	FlagNotMainFlash        = 0x00000001
	FlagFileContainer       = 0x00001000
	FlagFamilyIDPresent     = 0x00002000
	FlagMD5ChecksumPresent  = 0x00004000
	FlagExtensionTagPresent = 0x00008000
)

// One UF2 block exactly as it appears on the wire (512 bytes little-endian).
// The payload occupies the first PayloadSize bytes of Data; the rest is zero.
type Block struct {
	Magic0      uint32
	Magic1      uint32
	Flags       uint32
	TargetAddr  uint32
	PayloadSize uint32
	BlockNo     uint32
	NumBlocks   uint32
	FamilyID    uint32
	Data        [BlockDataSize]byte
	MagicEnd    uint32
}

// Encode an image as a stream of UF2 blocks: one block per 256 byte chunk,
// in ascending address order, the last chunk zero padded. Returns the number
// of blocks written. This is total over its inputs; only writer errors can
// come back.
func EncodeUF2(w io.Writer, image []byte, familyID uint32, baseAddr uint32) (int, error) {
	numBlocks := (len(image) + BlockPayloadMax - 1) / BlockPayloadMax
	block := Block{
		Magic0:    Magic0,
		Magic1:    Magic1,
		Flags:     FlagFamilyIDPresent,
		NumBlocks: uint32(numBlocks),
		FamilyID:  familyID,
		MagicEnd:  MagicEnd,
	}
	for i := 0; i < numBlocks; i++ {
		chunk := image[i*BlockPayloadMax:]
		if len(chunk) > BlockPayloadMax {
			chunk = chunk[:BlockPayloadMax]
		}
		block.TargetAddr = baseAddr + uint32(i*BlockPayloadMax)
		block.PayloadSize = uint32(len(chunk))
		block.BlockNo = uint32(i)
		copy(block.Data[:], chunk)
		// Zero whatever the (possibly short) chunk didn't cover
		for j := len(chunk); j < BlockPayloadMax; j++ {
			block.Data[j] = 0
		}
		if err := binary.Write(w, binary.LittleEndian, &block); err != nil {
			return i, err
		}
	}
	return numBlocks, nil
}

// Decode a UF2 stream back into blocks, validating the three magic values
// of every block. The stream length must be a multiple of the block size.
func ReadBlocks(r io.Reader) ([]Block, error) {
	var blocks []Block
	for {
		var block Block
		err := binary.Read(r, binary.LittleEndian, &block)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated UF2 stream after %d whole blocks", len(blocks))
		}
		if err != nil {
			return nil, err
		}
		if block.Magic0 != Magic0 || block.Magic1 != Magic1 || block.MagicEnd != MagicEnd {
			return nil, fmt.Errorf("block %d has invalid magic values (%08x %08x %08x)",
				len(blocks), block.Magic0, block.Magic1, block.MagicEnd)
		}
		blocks = append(blocks, block)
	}
	if len(blocks) == 0 {
		return nil, errors.New("no UF2 blocks in stream")
	}
	return blocks, nil
}

// Rebuild the original image from decoded blocks, ordered by block number,
// taking each block's declared payload. The inverse of EncodeUF2 (up to the
// trailing zero padding of the final chunk).
func ReassembleImage(blocks []Block) ([]byte, error) {
	sorted := make([]Block, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BlockNo < sorted[j].BlockNo })
	var image []byte
	for i := range sorted {
		if sorted[i].BlockNo != uint32(i) {
			return nil, fmt.Errorf("block sequence has gap or repeat at index %d (block_no %d)", i, sorted[i].BlockNo)
		}
		size := sorted[i].PayloadSize
		if size > BlockDataSize {
			return nil, fmt.Errorf("block %d declares payload of %d bytes, larger than the data region", i, size)
		}
		image = append(image, sorted[i].Data[:size]...)
	}
	return image, nil
}

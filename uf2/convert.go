package uf2

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Everything a caller might want to report about a finished conversion.
type ConvertResult struct {
	BinPath   string
	UF2Path   string
	BaseAddr  uint32
	ImageSize int64
	UF2Size   int64
	Blocks    int
	MD5       string
}

// Convert an ELF binary to UF2, writing <stem>.bin (the merged physical
// image, kept around for diagnostics) and <stem>.uf2 next to the input.
// The UF2 target base is the override if given, else the lowest PT_LOAD
// virtual address of the ELF.
func ConvertELF(elfPath string, familyID uint32, baseAddr *uint32) (*ConvertResult, error) {
	data, err := os.ReadFile(elfPath)
	if err != nil {
		return nil, err
	}
	base, err := resolveBase(data, baseAddr)
	if err != nil {
		return nil, err
	}
	log.Printf("Generating UF2. Family: 0x%08x, Base Address: 0x%08x", familyID, base)
	image, err := ExtractELF(data)
	if err != nil {
		return nil, err
	}
	return writeArtifacts(elfPath, image, familyID, base)
}

// Convert an Intel HEX file to UF2. HEX records carry absolute addresses and
// there's no VMA/LMA split to worry about, so the default base is simply the
// lowest record address.
func ConvertHex(hexPath string, familyID uint32, baseAddr *uint32) (*ConvertResult, error) {
	file, err := os.Open(hexPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	segments, err := ParseIntelHex(file)
	if err != nil {
		return nil, err
	}
	image, err := MergeSegments(segments)
	if err != nil {
		return nil, err
	}
	base := uint32(image.Addr)
	if baseAddr != nil {
		base = *baseAddr
	}
	log.Printf("Generating UF2. Family: 0x%08x, Base Address: 0x%08x", familyID, base)
	return writeArtifacts(hexPath, image, familyID, base)
}

// Convert a raw binary to UF2. A flat binary has no address information at
// all, so the caller must say where it goes.
func ConvertBin(binPath string, familyID uint32, baseAddr *uint32) (*ConvertResult, error) {
	if baseAddr == nil {
		return nil, errors.New("raw binary input requires an explicit base address")
	}
	data, err := os.ReadFile(binPath)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	image := &Image{Addr: uint64(*baseAddr), Data: data}
	log.Printf("Generating UF2. Family: 0x%08x, Base Address: 0x%08x", familyID, *baseAddr)
	return writeArtifacts(binPath, image, familyID, *baseAddr)
}

// Convert any supported input, sniffing the format. ELF is detected by
// magic, HEX by extension or a leading record mark, anything else is treated
// as a raw binary. Pass a format of "elf"/"hex"/"bin" to skip the sniffing.
func ConvertFile(path string, familyID uint32, baseAddr *uint32, format string) (*ConvertResult, error) {
	if format == "" || format == "auto" {
		detected, err := detectFormat(path)
		if err != nil {
			return nil, err
		}
		format = detected
	}
	switch format {
	case "elf":
		return ConvertELF(path, familyID, baseAddr)
	case "hex":
		return ConvertHex(path, familyID, baseAddr)
	case "bin":
		return ConvertBin(path, familyID, baseAddr)
	default:
		return nil, fmt.Errorf("unknown input format '%s'", format)
	}
}

func detectFormat(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	magic := make([]byte, 4)
	n, _ := file.Read(magic)
	if n >= 4 && bytes.Equal(magic, []byte("\x7fELF")) {
		return "elf", nil
	}
	if strings.EqualFold(filepath.Ext(path), ".hex") || (n >= 1 && magic[0] == ':') {
		return "hex", nil
	}
	return "bin", nil
}

func resolveBase(elfData []byte, override *uint32) (uint32, error) {
	if override != nil {
		return *override, nil
	}
	return ELFBaseAddress(elfData)
}

// Write the .bin and .uf2 siblings for an already-merged image. A failure
// between the two writes leaves the .bin behind, which is fine: it's a
// diagnostic artifact, not a promise.
func writeArtifacts(srcPath string, image *Image, familyID uint32, baseAddr uint32) (*ConvertResult, error) {
	stem := strings.TrimSuffix(srcPath, filepath.Ext(srcPath))
	binPath := stem + ".bin"
	uf2Path := stem + ".uf2"

	// Don't clobber the input when converting a .bin directly
	if binPath != srcPath {
		if err := os.WriteFile(binPath, image.Data, 0644); err != nil {
			return nil, err
		}
		log.Printf("Bin file is generated at: %s (%d bytes)", binPath, len(image.Data))
	}

	uf2File, err := os.Create(uf2Path)
	if err != nil {
		return nil, err
	}
	defer uf2File.Close()
	blocks, err := EncodeUF2(uf2File, image.Data, familyID, baseAddr)
	if err != nil {
		return nil, err
	}
	info, err := uf2File.Stat()
	if err != nil {
		return nil, err
	}
	log.Printf("Uf2 file is generated at: %s (%d blocks, %d bytes)", uf2Path, blocks, info.Size())

	return &ConvertResult{
		BinPath:   binPath,
		UF2Path:   uf2Path,
		BaseAddr:  baseAddr,
		ImageSize: int64(len(image.Data)),
		UF2Size:   info.Size(),
		Blocks:    blocks,
		MD5:       Md5String(image.Data),
	}, nil
}

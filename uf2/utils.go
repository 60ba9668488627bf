package uf2

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Parse a 32 bit number from decimal or a prefixed 0x/0o/0b literal
// (base addresses and family ids are usually written in hex).
func ParseUint32(s string) (uint32, error) {
	value, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("can't parse '%s' as a 32 bit number: %w", s, err)
	}
	return uint32(value), nil
}

// Produce an md5 string from given data (a simple shortcut)
func Md5String(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}

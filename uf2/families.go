package uf2

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// The family preset table from the UF2 specification repo, bundled into the
// binary so lookups work without any files on disk.
//
//go:embed uf2families.json
var familiesRaw []byte

// One known UF2 target family. The bootloader on a device only accepts
// blocks whose family matches what it was built for.
type Family struct {
	ID          uint32
	ShortName   string
	Description string
}

var (
	familyOnce  sync.Once
	familyTable map[string]Family
)

// Build the lookup table exactly once; it's read-only after this.
func familyPresets() map[string]Family {
	familyOnce.Do(func() {
		var entries []struct {
			ID          string `json:"id"`
			ShortName   string `json:"short_name"`
			Description string `json:"description"`
		}
		err := json.Unmarshal(familiesRaw, &entries)
		if err != nil {
			// The table is compiled in; failing to parse it is a build defect
			panic(fmt.Sprintf("can't parse embedded uf2families.json: %s", err))
		}
		familyTable = make(map[string]Family, len(entries))
		for _, entry := range entries {
			id, err := ParseUint32(entry.ID)
			if err != nil {
				panic(fmt.Sprintf("bad family id %s in embedded uf2families.json: %s", entry.ID, err))
			}
			familyTable[strings.ToLower(entry.ShortName)] = Family{
				ID:          id,
				ShortName:   entry.ShortName,
				Description: entry.Description,
			}
		}
	})
	return familyTable
}

// All known families, sorted by short name for stable listings.
func Families() []Family {
	table := familyPresets()
	result := make([]Family, 0, len(table))
	for _, family := range table {
		result = append(result, family)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ShortName < result[j].ShortName })
	return result
}

// Look up a family by its short name (case insensitive).
func FindFamily(name string) (Family, bool) {
	family, ok := familyPresets()[strings.ToLower(name)]
	return family, ok
}

// Resolve a family given either a preset short name or a numeric literal
// (hex/octal/binary/decimal, like "0xe48bff56").
func ParseFamily(s string) (uint32, error) {
	if family, ok := FindFamily(s); ok {
		return family.ID, nil
	}
	id, err := ParseUint32(s)
	if err != nil {
		return 0, fmt.Errorf("unknown family '%s' (not a preset name or a number; try list-families)", s)
	}
	return id, nil
}

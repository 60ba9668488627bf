package uf2

import (
	"testing"
)

func TestParseFamily_Presets(t *testing.T) {
	check := func(name string, expected uint32) {
		id, err := ParseFamily(name)
		if err != nil {
			t.Fatalf("Error parsing family %s: %s", name, err)
		}
		if id != expected {
			t.Fatalf("Family %s: expected 0x%08x, got 0x%08x", name, expected, id)
		}
	}
	check("RP2040", 0xe48bff56)
	check("rp2040", 0xe48bff56) // case insensitive
	check("Rp2040", 0xe48bff56)
	check("SAMD21", 0x68ed2b88)
	check("nrf52840", 0xada52840)
	check("0xe48bff56", 0xe48bff56) // raw number also fine
	check("255", 255)
}

func TestParseFamily_Unknown(t *testing.T) {
	_, err := ParseFamily("notafamily")
	if err == nil {
		t.Fatalf("Expected error for unknown family name")
	}
}

func TestFamilies_SortedAndComplete(t *testing.T) {
	families := Families()
	if len(families) < 30 {
		t.Fatalf("Expected a substantial preset table, got %d entries", len(families))
	}
	for i := 1; i < len(families); i++ {
		if families[i-1].ShortName >= families[i].ShortName {
			t.Fatalf("Families not sorted: %s before %s", families[i-1].ShortName, families[i].ShortName)
		}
	}
	for _, family := range families {
		if family.ShortName == "" || family.Description == "" {
			t.Fatalf("Family 0x%08x missing name or description", family.ID)
		}
	}
}

func TestFindFamily(t *testing.T) {
	family, ok := FindFamily("esp32s3")
	if !ok {
		t.Fatalf("Expected to find esp32s3")
	}
	if family.ID != 0xc47e5767 {
		t.Fatalf("Expected 0xc47e5767, got 0x%08x", family.ID)
	}
	if _, ok := FindFamily("zilog"); ok {
		t.Fatalf("Found a family that shouldn't exist")
	}
}

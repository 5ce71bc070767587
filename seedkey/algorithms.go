package seedkey

import (
	"strings"
)

// The key algorithms below are simplified stand-ins. Real manufacturer
// algorithms are proprietary; these only reproduce the bit operations the
// tool has always used so existing seed/key vectors keep matching.
// They must not be treated as production unlock algorithms.

// Family selects a key algorithm.
type Family int

const (
	FamilyGeneric Family = iota
	FamilyVW
	FamilyNissan
)

func (f Family) String() string {
	switch f {
	case FamilyVW:
		return "vw"
	case FamilyNissan:
		return "nissan"
	default:
		return "generic"
	}
}

var (
	vwAliases     = []string{"vw", "volkswagen", "audi", "porsche", "seat", "skoda"}
	nissanAliases = []string{"nissan", "infiniti", "renault"}
)

// FamilyFor matches manufacturer case-insensitively by substring, so
// "Audi A4" and "VW Golf" both select FamilyVW. Anything unknown is generic.
func FamilyFor(manufacturer string) Family {
	name := strings.ToLower(manufacturer)
	if containsAny(name, vwAliases) {
		return FamilyVW
	}
	if containsAny(name, nissanAliases) {
		return FamilyNissan
	}
	return FamilyGeneric
}

func containsAny(s string, aliases []string) bool {
	for _, alias := range aliases {
		if strings.Contains(s, alias) {
			return true
		}
	}
	return false
}

// Key derives the 2 byte key for seed with the algorithm of family.
func Key(family Family, seed []byte, level int) [2]byte {
	switch family {
	case FamilyVW:
		return VWKey(seed, level)
	case FamilyNissan:
		return NissanKey(seed, level)
	default:
		return GenericKey(seed)
	}
}

var vwMagic = [4]uint32{0x52, 0x91, 0x73, 0xA4}

// VWKey folds each seed byte and a cycling magic constant into a byte that is
// rotated left once per step, then mixes in the level. The result is low byte first.
func VWKey(seed []byte, level int) [2]byte {
	var key uint32
	for i, b := range seed {
		key ^= uint32(b)
		key ^= vwMagic[i%len(vwMagic)]
		key = (key<<1 | key>>7) & 0xFF // Rotate left
	}
	key ^= uint32(level)
	return [2]byte{byte(key), byte(key >> 8)}
}

// NissanKey accumulates byte*0x47+0x9C modulo 2^16 and xors the level into the high byte.
// The result is big-endian.
func NissanKey(seed []byte, level int) [2]byte {
	const (
		multiplier = 0x47
		additive   = 0x9C
	)
	var key uint32
	for _, b := range seed {
		key = (key + uint32(b)*multiplier + additive) & 0xFFFF
	}
	key ^= uint32(level) << 8
	return [2]byte{byte(key >> 8), byte(key)}
}

// GenericKey xors each seed byte in at its byte position of a 32 bit word,
// positions repeating every four bytes. The low 16 bits are returned big-endian.
func GenericKey(seed []byte) [2]byte {
	var key uint32
	for i, b := range seed {
		key ^= uint32(b) << ((i * 8) % 32)
	}
	return [2]byte{byte(key >> 8), byte(key)}
}

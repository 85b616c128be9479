package stages

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/zeebo/xxh3"

	"chemcli/internal/engine"
	"chemcli/internal/record"
)

// Descriptor columns written by Descriptors, in output order.
var descriptorCols = []string{
	"MW",
	"HeavyAtoms",
	"Rings",
	"HBA",
	"HBD",
	"RotBonds",
	"Formula",
	"Charge",
}

// DescriptorColumns returns the property names Descriptors writes.
func DescriptorColumns() []string {
	out := make([]string, len(descriptorCols))
	copy(out, descriptorCols)
	return out
}

// Descriptors annotates each record with its computed property columns, in
// place. Records without a payload are left untouched.
func Descriptors(e engine.Exec, ds record.Dataset) engine.Stats {
	return e.Run("Calculating descriptors", len(ds), func(i int) error {
		if !ds[i].Valid() {
			return nil
		}
		m := ds[i].Mol
		p := ds[i].Props
		p["MW"] = strconv.FormatFloat(m.Weight(), 'f', 2, 64)
		p["HeavyAtoms"] = strconv.Itoa(m.NumAtoms())
		p["Rings"] = strconv.Itoa(m.NumRings())
		p["HBA"] = strconv.Itoa(m.HBondAcceptors())
		p["HBD"] = strconv.Itoa(m.HBondDonors())
		p["RotBonds"] = strconv.Itoa(m.RotatableBonds())
		p["Formula"] = m.Formula()
		p["Charge"] = strconv.Itoa(m.FormalCharge())
		return nil
	})
}

// fingerprintBits is the width of the hashed structural fingerprint.
const fingerprintBits = 64

// Fingerprint annotates each record with a 64-bit hashed structural
// fingerprint, rendered as 16 hex digits in the Fingerprint column. Substring
// shingles of the canonical form are hashed with xxh3 and folded into a bit
// mask, so structurally similar strings share bits without any similarity
// search machinery.
func Fingerprint(e engine.Exec, ds record.Dataset, radius int) engine.Stats {
	if radius <= 0 {
		radius = 3
	}
	return e.Run("Calculating fingerprints", len(ds), func(i int) error {
		if !ds[i].Valid() {
			return nil
		}
		canon := ds[i].Mol.Canonical()
		var mask uint64
		for width := 1; width <= radius; width++ {
			for p := 0; p+width <= len(canon); p++ {
				h := hashShingle(canon[p:p+width], width)
				mask |= 1 << (h % fingerprintBits)
			}
		}
		ds[i].Props["Fingerprint"] = fmt.Sprintf("%016x", mask)
		return nil
	})
}

func hashShingle(s string, width int) uint64 {
	var salt [8]byte
	binary.LittleEndian.PutUint64(salt[:], uint64(width))
	return xxh3.Hash(append(salt[:], s...))
}

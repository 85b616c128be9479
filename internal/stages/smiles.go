// Package stages wires the per-record domain callbacks into engine runs.
// Each stage is thin: it names the operation, closes over the payload
// library, and lets the engine own concurrency, progress, and failure
// isolation.
package stages

import (
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"chemcli/internal/engine"
	"chemcli/internal/mol"
	"chemcli/internal/record"
)

// MaxStereoSites caps the number of variation sites the stereoisomer
// generator accepts per record. 2^30 already exceeds any sane request, and
// the cap keeps the bit-shifted mask space well inside a 64-bit counter.
const MaxStereoSites = 30

// Canonicalize rewrites each record's SMILES attribute from its payload's
// canonical form, in place.
func Canonicalize(e engine.Exec, ds record.Dataset) engine.Stats {
	return e.Run("Canonicalizing SMILES", len(ds), func(i int) error {
		if !ds[i].Valid() {
			return nil
		}
		ds[i].Props[record.SmilesProp] = ds[i].Mol.Canonical()
		return nil
	})
}

// Deduplicate removes records whose canonical form was already seen at a
// lower index. Duplicates are dropped, not merged.
func Deduplicate(e engine.Exec, ds record.Dataset) (record.Dataset, engine.Stats) {
	out, st := e.TwoPhase("Deduplicating molecules", ds, func(r record.Record) (engine.PhaseOne, error) {
		if !r.Valid() {
			return engine.PhaseOne{}, nil
		}
		return engine.PhaseOne{Keep: true, Key: r.Mol.Canonical()}, nil
	})
	log.Printf("-- Found %d unique molecules from %d total", len(out), len(ds))
	return out, st
}

// RemoveInvalid drops records without a usable payload.
func RemoveInvalid(e engine.Exec, ds record.Dataset) (record.Dataset, engine.Stats) {
	out, st := e.TwoPhase("Removing invalid molecules", ds, func(r record.Record) (engine.PhaseOne, error) {
		return engine.PhaseOne{Keep: r.Valid()}, nil
	})
	log.Printf("-- Dataset now contains %d valid molecules", len(out))
	return out, st
}

// Desalt replaces each payload with its largest fragment, in place.
func Desalt(e engine.Exec, ds record.Dataset) engine.Stats {
	return e.Run("Removing salts/solvents", len(ds), func(i int) error {
		if !ds[i].Valid() {
			return nil
		}
		largest := ds[i].Mol.LargestFragment()
		ds[i].Mol = largest
		ds[i].Props[record.SmilesProp] = largest.Canonical()
		return nil
	})
}

// RemoveStereo strips stereo tags from each payload, in place.
func RemoveStereo(e engine.Exec, ds record.Dataset) engine.Stats {
	return e.Run("Removing stereochemistry", len(ds), func(i int) error {
		if !ds[i].Valid() {
			return nil
		}
		m := ds[i].Mol.Clone()
		m.RemoveStereo()
		ds[i].Mol = m
		ds[i].Props[record.SmilesProp] = m.Canonical()
		return nil
	})
}

// Fragment expands each multi-component record into its components. Derived
// fragments are deduplicated against each other per input record; maxCount 0
// means no limit. keepOriginal additionally retains the parent record.
func Fragment(e engine.Exec, ds record.Dataset, maxCount int, keepOriginal bool) (record.Dataset, engine.Stats) {
	return e.TwoPhase("Fragmenting molecules", ds, func(r record.Record) (engine.PhaseOne, error) {
		if !r.Valid() {
			return engine.PhaseOne{Keep: keepOriginal}, nil
		}
		frags := r.Mol.Fragments()
		if len(frags) < 2 {
			return engine.PhaseOne{Keep: true}, nil
		}

		parent := r.Mol.Canonical()
		seen := make(map[string]struct{}, len(frags))
		var out []record.Record
		for _, f := range frags {
			if maxCount > 0 && len(out) >= maxCount {
				break
			}
			canon := f.Canonical()
			if _, dup := seen[canon]; dup {
				continue
			}
			seen[canon] = struct{}{}
			d := r.Derive(f)
			d.Props["Fragment_Source"] = parent
			out = append(out, d)
		}
		return engine.PhaseOne{Keep: keepOriginal, Out: out}, nil
	})
}

// Synonyms appends up to count alternate spellings per record. Each synonym
// re-emits the payload with a different cosmetic bond spelling, so it parses
// back to the same canonical form; spellings already emitted for the same
// input do not count toward the total. Structures with a single possible
// spelling pass through alone.
func Synonyms(e engine.Exec, ds record.Dataset, count int) (record.Dataset, engine.Stats) {
	return e.TwoPhase("Generating synonyms", ds, func(r record.Record) (engine.PhaseOne, error) {
		if !r.Valid() || count <= 0 {
			return engine.PhaseOne{Keep: true}, nil
		}
		return engine.PhaseOne{Keep: true, Out: respell(r, count)}, nil
	})
}

// respell draws random spellings until count distinct synonyms exist or the
// attempt budget runs out (small spelling spaces exhaust quickly). The rng is
// seeded from the canonical form so runs are reproducible.
func respell(r record.Record, count int) []record.Record {
	canon := r.Mol.Canonical()
	rng := rand.New(rand.NewSource(int64(xxh3.HashString(canon))))
	seen := map[string]struct{}{canon: {}, r.Props[record.SmilesProp]: {}}

	var out []record.Record
	for tries := 0; tries < count*8 && len(out) < count; tries++ {
		s := r.Mol.Respell(rng)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		d := r.Derive(r.Mol.Clone())
		d.Props[record.SmilesProp] = s
		out = append(out, d)
	}
	return out
}

// Stereoisomers generates up to count stereo variants per record by walking a
// bounded mask counter over the record's tagged stereo sites. The original
// record is always kept; variants whose canonical form repeats one already
// emitted for the same input do not count toward the total. The 2^E space is
// never materialized: iteration stops at min(count, 2^E-1) masks or as soon
// as count distinct variants exist. Records with more than MaxStereoSites
// sites are passed through unexpanded with a counted warning.
func Stereoisomers(e engine.Exec, ds record.Dataset, count int) (record.Dataset, engine.Stats) {
	return e.TwoPhase("Generating stereoisomers", ds, func(r record.Record) (engine.PhaseOne, error) {
		if !r.Valid() || count <= 0 {
			return engine.PhaseOne{Keep: true}, nil
		}
		sites := r.Mol.StereoSites()
		if len(sites) == 0 {
			return engine.PhaseOne{Keep: true}, nil
		}
		if len(sites) > MaxStereoSites {
			return engine.PhaseOne{Keep: true},
				fmt.Errorf("%d stereo sites exceeds the supported maximum of %d", len(sites), MaxStereoSites)
		}

		out, err := enumerateStereo(r, sites, count)
		return engine.PhaseOne{Keep: true, Out: out}, err
	})
}

func enumerateStereo(r record.Record, sites []int, count int) ([]record.Record, error) {
	maxMasks := uint64(1) << uint(len(sites))

	seen := map[string]struct{}{r.Mol.Canonical(): {}}
	var out []record.Record
	for mask := uint64(1); mask < maxMasks && len(out) < count; mask++ {
		variant := r.Mol.Clone()
		for bit, site := range sites {
			if mask&(1<<uint(bit)) != 0 {
				variant.InvertStereo(site)
			}
		}
		canon := variant.Canonical()
		if _, dup := seen[canon]; dup {
			continue
		}
		seen[canon] = struct{}{}
		out = append(out, r.Derive(variant))
	}
	return out, nil
}

// Match annotates each record with "1" or "0" in column col depending on
// whether pattern occurs in the record's canonical form. The pattern itself
// is canonicalized first when it parses.
func Match(e engine.Exec, ds record.Dataset, pattern, col string) engine.Stats {
	needle := pattern
	if pm, err := mol.Parse(pattern); err == nil {
		needle = pm.Canonical()
	}
	return e.Run("Finding substructure matches for "+pattern, len(ds), func(i int) error {
		if !ds[i].Valid() {
			ds[i].Props[col] = "0"
			return nil
		}
		if strings.Contains(ds[i].Mol.Canonical(), needle) {
			ds[i].Props[col] = "1"
		} else {
			ds[i].Props[col] = "0"
		}
		return nil
	})
}

// SortByProperty reorders the dataset by a numeric property. Records whose
// value is missing or non-numeric are dropped, matching the original tool's
// NaN-last-then-discard behavior. The sort is stable so equal values keep
// their input order.
func SortByProperty(e engine.Exec, ds record.Dataset, prop string, ascending bool) (record.Dataset, engine.Stats) {
	type keyed struct {
		val float64
		ok  bool
	}
	keys := make([]keyed, len(ds))

	st := e.Run("Sorting by property: "+prop, len(ds), func(i int) error {
		v, ok := ds[i].Props[prop]
		if !ok {
			return nil
		}
		f, err := parseFloat(v)
		if err != nil {
			return nil
		}
		keys[i] = keyed{val: f, ok: true}
		return nil
	})

	idx := make([]int, 0, len(ds))
	for i := range ds {
		if keys[i].ok {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if ascending {
			return keys[idx[a]].val < keys[idx[b]].val
		}
		return keys[idx[a]].val > keys[idx[b]].val
	})

	out := make(record.Dataset, 0, len(idx))
	for _, i := range idx {
		out = append(out, ds[i])
	}
	return out, st
}

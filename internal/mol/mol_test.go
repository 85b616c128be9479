package mol

import (
	"math"
	"math/rand"
	"testing"
)

func parse(t *testing.T, s string) *Mol {
	t.Helper()
	m, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return m
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"unbalanced open", "C(CO"},
		{"unbalanced close", "CC)O"},
		{"unmatched ring", "C1CCC"},
		{"unknown element", "[Xx]"},
		{"unknown character", "C?C"},
		{"unclosed bracket", "C[NH2"},
		{"empty bracket", "C[]C"},
		{"leading branch", "(CC)"},
		{"leading ring", "1CC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.in); err == nil {
				t.Fatalf("Parse(%q) accepted malformed input", tt.in)
			}
		})
	}
}

func TestCanonicalNormalizes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CCO", "CCO"},
		{"C-C-O", "CCO"},             // explicit single bonds dropped
		{"c1ccccc1", "c1ccccc1"},     // aromatic ring unchanged
		{"C1=CC=CC=C1", "C1=CC=CC=C1"},
		{"C[C@H](N)C(=O)O", "C[C@H](N)C(=O)O"},
		{"[CH3]C", "[CH3]C"},
		{"[Na+].[Cl-]", "[Na+].[Cl-]"},
		{"C%12CC%12", "C%12CC%12"},
		{"[13CH4]", "[13CH4]"},
		{"[O--]", "[O-2]"},           // charge spelled as count
	}
	for _, tt := range tests {
		if got := parse(t, tt.in).Canonical(); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalCollapsesSpellings(t *testing.T) {
	// Cosmetic spellings of the same structure must produce the same string.
	a := parse(t, "CC(=O)O").Canonical()
	b := parse(t, "C-C(=O)-O").Canonical()
	if a != b {
		t.Fatalf("spellings diverge: %q vs %q", a, b)
	}
}

func TestDescriptors(t *testing.T) {
	tests := []struct {
		in      string
		atoms   int
		rings   int
		hba     int
		hbd     int
		rot     int
		charge  int
		formula string
		weight  float64
	}{
		{"CCO", 3, 0, 1, 1, 0, 0, "C2H6O", 46.069},
		{"c1ccccc1", 6, 1, 0, 0, 0, 0, "C6H6", 78.114},
		{"CCCC", 4, 0, 0, 0, 1, 0, "C4H10", 58.124},
		{"C[C@H](N)C(=O)O", 6, 0, 3, 2, 1, 0, "C3H7NO2", 89.094},
		{"[NH4+]", 1, 0, 1, 1, 0, 1, "H4N", 18.039},
		{"O=C=O", 3, 0, 2, 0, 0, 0, "CO2", 44.009},
	}
	for _, tt := range tests {
		m := parse(t, tt.in)
		if got := m.NumAtoms(); got != tt.atoms {
			t.Errorf("%q NumAtoms = %d, want %d", tt.in, got, tt.atoms)
		}
		if got := m.NumRings(); got != tt.rings {
			t.Errorf("%q NumRings = %d, want %d", tt.in, got, tt.rings)
		}
		if got := m.HBondAcceptors(); got != tt.hba {
			t.Errorf("%q HBA = %d, want %d", tt.in, got, tt.hba)
		}
		if got := m.HBondDonors(); got != tt.hbd {
			t.Errorf("%q HBD = %d, want %d", tt.in, got, tt.hbd)
		}
		if got := m.RotatableBonds(); got != tt.rot {
			t.Errorf("%q RotBonds = %d, want %d", tt.in, got, tt.rot)
		}
		if got := m.FormalCharge(); got != tt.charge {
			t.Errorf("%q FormalCharge = %d, want %d", tt.in, got, tt.charge)
		}
		if got := m.Formula(); got != tt.formula {
			t.Errorf("%q Formula = %q, want %q", tt.in, got, tt.formula)
		}
		if got := m.Weight(); math.Abs(got-tt.weight) > 0.01 {
			t.Errorf("%q Weight = %.3f, want %.3f", tt.in, got, tt.weight)
		}
	}
}

func TestStereoSitesAndInvert(t *testing.T) {
	m := parse(t, "C[C@H](N)C(=O)O")

	sites := m.StereoSites()
	if len(sites) != 1 {
		t.Fatalf("StereoSites = %v, want one site", sites)
	}

	m.InvertStereo(sites[0])
	if got, want := m.Canonical(), "C[C@@H](N)C(=O)O"; got != want {
		t.Fatalf("after invert: %q, want %q", got, want)
	}
	m.InvertStereo(sites[0])
	if got, want := m.Canonical(), "C[C@H](N)C(=O)O"; got != want {
		t.Fatalf("after double invert: %q, want %q", got, want)
	}
}

func TestInvertStereoUntaggedIsNoop(t *testing.T) {
	m := parse(t, "CCO")
	before := m.Canonical()
	m.InvertStereo(1)
	if got := m.Canonical(); got != before {
		t.Fatalf("untagged invert changed %q to %q", before, got)
	}
}

func TestRemoveStereo(t *testing.T) {
	m := parse(t, "C[C@H](N)[C@@H](O)C")
	m.RemoveStereo()
	if got, want := m.Canonical(), "C[CH](N)[CH](O)C"; got != want {
		t.Fatalf("RemoveStereo -> %q, want %q", got, want)
	}
	if len(m.StereoSites()) != 0 {
		t.Fatal("stereo sites remain after RemoveStereo")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := parse(t, "C[C@H](N)C")
	cp := m.Clone()
	cp.InvertStereo(cp.StereoSites()[0])
	if m.Canonical() == cp.Canonical() {
		t.Fatal("mutating the clone changed the original")
	}
}

func TestFragments(t *testing.T) {
	m := parse(t, "CCO.[Na+].CC")
	frags := m.Fragments()
	if len(frags) != 3 {
		t.Fatalf("got %d fragments, want 3", len(frags))
	}
	want := []string{"CCO", "[Na+]", "CC"}
	for i, f := range frags {
		if f.Canonical() != want[i] {
			t.Errorf("fragment %d = %q, want %q", i, f.Canonical(), want[i])
		}
	}
}

func TestFragmentsConnected(t *testing.T) {
	m := parse(t, "CCO")
	frags := m.Fragments()
	if len(frags) != 1 || frags[0].Canonical() != "CCO" {
		t.Fatalf("connected structure fragments = %v", frags)
	}
}

func TestLargestFragment(t *testing.T) {
	m := parse(t, "[Na+].CC(=O)O")
	if got, want := m.LargestFragment().Canonical(), "CC(=O)O"; got != want {
		t.Fatalf("LargestFragment = %q, want %q", got, want)
	}

	// Connected input returns the receiver.
	c := parse(t, "CCO")
	if c.LargestFragment() != c {
		t.Fatal("connected LargestFragment should be the receiver")
	}
}

func TestRespellPreservesCanonical(t *testing.T) {
	// Every respelling must parse and collapse back to the same canonical
	// form, and a structure with several bond positions must actually yield
	// more than one spelling.
	m := parse(t, "CC(=O)OC1CCCC1")
	canon := m.Canonical()
	rng := rand.New(rand.NewSource(1))

	distinct := map[string]bool{}
	for i := 0; i < 50; i++ {
		s := m.Respell(rng)
		p, err := Parse(s)
		if err != nil {
			t.Fatalf("Respell produced unparseable %q: %v", s, err)
		}
		if got := p.Canonical(); got != canon {
			t.Fatalf("Respell %q canonicalizes to %q, want %q", s, got, canon)
		}
		distinct[s] = true
	}
	if len(distinct) < 2 {
		t.Fatalf("only %d spelling(s) in 50 draws", len(distinct))
	}
}

func TestRespellFixedPoints(t *testing.T) {
	// Single atoms and fully aromatic structures have exactly one spelling.
	rng := rand.New(rand.NewSource(1))
	for _, in := range []string{"[Na+]", "c1ccccc1"} {
		m := parse(t, in)
		canon := m.Canonical()
		for i := 0; i < 10; i++ {
			if got := m.Respell(rng); got != canon {
				t.Fatalf("Respell(%q) = %q, want %q", in, got, canon)
			}
		}
	}
}

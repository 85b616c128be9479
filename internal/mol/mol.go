// Package mol implements the structural payload carried by dataset records: a
// compact SMILES-subset model with enough chemistry to drive the batch stages
// (canonical forms, stereo tags, fragments, derived counts).
//
// Design goals:
//   - Parse once; re-emission and derived values work off the parsed form.
//   - Canonical() is a deterministic normalization of the parsed token stream,
//     so equal structures written with cosmetic differences compare equal.
//   - Keep the model small; this is a collaborator of the engine, not a full
//     cheminformatics toolkit.
package mol

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

// Chirality tags for tetrahedral centers.
const (
	ChiralNone = int8(0)
	ChiralCCW  = int8(1) // @
	ChiralCW   = int8(2) // @@
)

// Atom is one heavy atom of the structure. HCount is the explicit bracket
// hydrogen count; implicit hydrogens are derived from valence for
// organic-subset atoms.
type Atom struct {
	Symbol    string
	Aromatic  bool
	Isotope   int
	Charge    int
	HCount    int
	Chirality int8
	Bracket   bool

	degree    int // explicit heavy-atom connections
	bondOrder int // sum of explicit bond orders
}

type bond struct {
	a, b     int
	order    int
	ring     bool
	aromatic bool
}

type tokKind uint8

const (
	tokAtom tokKind = iota
	tokBond
	tokOpen
	tokClose
	tokRing
	tokDot
)

type tok struct {
	kind tokKind
	atom int    // index into atoms for tokAtom
	text string // normalized literal
}

// Mol is a parsed structure. The zero value is not usable; construct via Parse.
type Mol struct {
	atoms []Atom
	bonds []bond
	toks  []tok
	rings int
}

// standard valences for implicit hydrogen derivation (organic subset only)
var organicValence = map[string]int{
	"B": 3, "C": 4, "N": 3, "O": 2, "P": 3, "S": 2,
	"F": 1, "Cl": 1, "Br": 1, "I": 1,
}

// atomicMass covers the elements the tool commonly meets; unknown bracket
// elements parse but weigh zero.
var atomicMass = map[string]float64{
	"H": 1.008, "He": 4.003, "Li": 6.94, "Be": 9.012, "B": 10.81,
	"C": 12.011, "N": 14.007, "O": 15.999, "F": 18.998, "Ne": 20.180,
	"Na": 22.990, "Mg": 24.305, "Al": 26.982, "Si": 28.085, "P": 30.974,
	"S": 32.06, "Cl": 35.45, "Ar": 39.948, "K": 39.098, "Ca": 40.078,
	"Ti": 47.867, "Cr": 51.996, "Mn": 54.938, "Fe": 55.845, "Co": 58.933,
	"Ni": 58.693, "Cu": 63.546, "Zn": 65.38, "As": 74.922, "Se": 78.971,
	"Br": 79.904, "Ag": 107.868, "Sn": 118.71, "I": 126.904, "Pt": 195.084,
	"Au": 196.967, "Hg": 200.592, "Pb": 207.2, "*": 0,
}

// Parse builds a Mol from a SMILES-subset string. It accepts organic-subset
// atoms (B C N O P S F Cl Br I and aromatic b c n o p s), bracket atoms with
// isotope/chirality/H-count/charge, bonds - = # : / \, branches, ring
// closures (digits and %nn), and dot-separated fragments. It rejects
// structurally malformed input: unbalanced brackets or parentheses, unknown
// elements, unmatched ring closures, empty input.
func Parse(s string) (*Mol, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty structure")
	}

	m := &Mol{}
	var (
		prev       = -1 // last atom bonded along the chain
		pending    = 0  // pending bond order; 0 = default single
		pendingTxt = ""
		stack      []int
		open       = map[int]ringOpen{} // ring number -> opening atom
	)

	flushBond := func(cur int) {
		if prev < 0 {
			pending, pendingTxt = 0, ""
			return
		}
		order := pending
		if order == 0 {
			order = 1
		}
		arom := m.atoms[prev].Aromatic && m.atoms[cur].Aromatic && pending == 0
		m.bonds = append(m.bonds, bond{a: prev, b: cur, order: order, aromatic: arom})
		m.atoms[prev].degree++
		m.atoms[cur].degree++
		m.atoms[prev].bondOrder += order
		m.atoms[cur].bondOrder += order
		pending, pendingTxt = 0, ""
	}

	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '(':
			if prev < 0 {
				return nil, fmt.Errorf("branch before any atom at offset %d", i)
			}
			stack = append(stack, prev)
			m.toks = append(m.toks, tok{kind: tokOpen, text: "("})
			i++

		case c == ')':
			if len(stack) == 0 {
				return nil, fmt.Errorf("unbalanced ')' at offset %d", i)
			}
			prev = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			m.toks = append(m.toks, tok{kind: tokClose, text: ")"})
			i++

		case c == '.':
			prev = -1
			pending, pendingTxt = 0, ""
			m.toks = append(m.toks, tok{kind: tokDot, text: "."})
			i++

		case c == '-' || c == '=' || c == '#' || c == ':' || c == '/' || c == '\\':
			pending = bondOrderOf(c)
			pendingTxt = string(c)
			m.toks = append(m.toks, tok{kind: tokBond, text: pendingTxt})
			i++

		case c >= '0' && c <= '9' || c == '%':
			num, adv, err := ringNumber(s[i:])
			if err != nil {
				return nil, fmt.Errorf("offset %d: %w", i, err)
			}
			if prev < 0 {
				return nil, fmt.Errorf("ring closure before any atom at offset %d", i)
			}
			if o, ok := open[num]; ok {
				delete(open, num)
				order := pending
				if order == 0 {
					order = o.order
				}
				if order == 0 {
					order = 1
				}
				arom := m.atoms[o.atom].Aromatic && m.atoms[prev].Aromatic
				m.bonds = append(m.bonds, bond{a: o.atom, b: prev, order: order, ring: true, aromatic: arom})
				m.atoms[o.atom].degree++
				m.atoms[prev].degree++
				m.atoms[o.atom].bondOrder += order
				m.atoms[prev].bondOrder += order
				m.rings++
			} else {
				open[num] = ringOpen{atom: prev, order: pending}
			}
			pending, pendingTxt = 0, ""
			m.toks = append(m.toks, tok{kind: tokRing, text: ringText(num)})
			i += adv

		case c == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unclosed '[' at offset %d", i)
			}
			a, err := parseBracket(s[i+1 : i+end])
			if err != nil {
				return nil, fmt.Errorf("offset %d: %w", i, err)
			}
			idx := len(m.atoms)
			m.atoms = append(m.atoms, a)
			flushBond(idx)
			m.toks = append(m.toks, tok{kind: tokAtom, atom: idx})
			prev = idx
			i += end + 1

		default:
			sym, arom, adv, err := organicSymbol(s[i:])
			if err != nil {
				return nil, fmt.Errorf("offset %d: %w", i, err)
			}
			idx := len(m.atoms)
			m.atoms = append(m.atoms, Atom{Symbol: sym, Aromatic: arom, HCount: -1})
			flushBond(idx)
			m.toks = append(m.toks, tok{kind: tokAtom, atom: idx})
			prev = idx
			i += adv
		}
	}

	if len(stack) != 0 {
		return nil, fmt.Errorf("unbalanced '(' (%d open)", len(stack))
	}
	if len(open) != 0 {
		return nil, fmt.Errorf("unmatched ring closure (%d open)", len(open))
	}
	if len(m.atoms) == 0 {
		return nil, fmt.Errorf("no atoms")
	}
	return m, nil
}

type ringOpen struct {
	atom  int
	order int
}

func bondOrderOf(c byte) int {
	switch c {
	case '=':
		return 2
	case '#':
		return 3
	default: // '-', ':', '/', '\\'
		return 1
	}
}

// ringNumber reads a ring closure label: a single digit or %nn.
func ringNumber(s string) (num, adv int, err error) {
	if s[0] == '%' {
		if len(s) < 3 || s[1] < '0' || s[1] > '9' || s[2] < '0' || s[2] > '9' {
			return 0, 0, fmt.Errorf("invalid %%nn ring closure")
		}
		return int(s[1]-'0')*10 + int(s[2]-'0'), 3, nil
	}
	return int(s[0] - '0'), 1, nil
}

func ringText(num int) string {
	if num >= 10 {
		return fmt.Sprintf("%%%02d", num)
	}
	return strconv.Itoa(num)
}

// organicSymbol reads an organic-subset atom at the head of s. Two-letter
// halogens are matched before their one-letter prefixes.
func organicSymbol(s string) (sym string, aromatic bool, adv int, err error) {
	if strings.HasPrefix(s, "Cl") {
		return "Cl", false, 2, nil
	}
	if strings.HasPrefix(s, "Br") {
		return "Br", false, 2, nil
	}
	switch s[0] {
	case 'B', 'C', 'N', 'O', 'P', 'S', 'F', 'I':
		return string(s[0]), false, 1, nil
	case 'b', 'c', 'n', 'o', 'p', 's':
		return strings.ToUpper(string(s[0])), true, 1, nil
	case '*':
		return "*", false, 1, nil
	}
	return "", false, 0, fmt.Errorf("unexpected character %q", s[0])
}

// parseBracket parses the interior of a bracket atom:
// [isotope]symbol[@|@@][H count][charge]
func parseBracket(body string) (Atom, error) {
	if body == "" {
		return Atom{}, fmt.Errorf("empty bracket atom")
	}
	a := Atom{Bracket: true}
	i := 0

	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		a.Isotope = a.Isotope*10 + int(body[i]-'0')
		i++
	}
	if i >= len(body) {
		return Atom{}, fmt.Errorf("bracket atom %q has no element", body)
	}

	// Element: one uppercase + optional lowercase, a lone aromatic lowercase,
	// or the wildcard.
	switch {
	case body[i] >= 'A' && body[i] <= 'Z':
		sym := string(body[i])
		i++
		if i < len(body) && body[i] >= 'a' && body[i] <= 'z' && body[i] != 'h' {
			two := sym + string(body[i])
			if _, ok := atomicMass[two]; ok {
				sym, i = two, i+1
			}
		}
		if _, ok := atomicMass[sym]; !ok {
			return Atom{}, fmt.Errorf("unknown element %q", sym)
		}
		a.Symbol = sym
	case body[i] == '*':
		a.Symbol = "*"
		i++
	case body[i] >= 'a' && body[i] <= 'z':
		sym := strings.ToUpper(string(body[i]))
		if _, ok := organicValence[sym]; !ok {
			return Atom{}, fmt.Errorf("invalid aromatic atom %q", body[i])
		}
		a.Symbol = sym
		a.Aromatic = true
		i++
	default:
		return Atom{}, fmt.Errorf("bracket atom %q has no element", body)
	}

	if i < len(body) && body[i] == '@' {
		a.Chirality = ChiralCCW
		i++
		if i < len(body) && body[i] == '@' {
			a.Chirality = ChiralCW
			i++
		}
	}

	if i < len(body) && body[i] == 'H' {
		a.HCount = 1
		i++
		if i < len(body) && body[i] >= '0' && body[i] <= '9' {
			a.HCount = int(body[i] - '0')
			i++
		}
	}

	for i < len(body) && (body[i] == '+' || body[i] == '-') {
		sign := 1
		if body[i] == '-' {
			sign = -1
		}
		i++
		if i < len(body) && body[i] >= '0' && body[i] <= '9' {
			n := 0
			for i < len(body) && body[i] >= '0' && body[i] <= '9' {
				n = n*10 + int(body[i]-'0')
				i++
			}
			a.Charge += sign * n
		} else {
			a.Charge += sign
		}
	}

	if i != len(body) {
		return Atom{}, fmt.Errorf("trailing %q in bracket atom", body[i:])
	}
	return a, nil
}

// Clone returns a deep copy; stereo inversions on the copy do not touch the
// receiver.
func (m *Mol) Clone() *Mol {
	cp := &Mol{
		atoms: append([]Atom(nil), m.atoms...),
		bonds: append([]bond(nil), m.bonds...),
		toks:  append([]tok(nil), m.toks...),
		rings: m.rings,
	}
	return cp
}

// Canonical emits the normalized textual form. Default single and aromatic
// bonds are dropped, bracket atoms are re-emitted in a fixed field order, so
// cosmetic spellings of the same parsed structure collapse to one string.
func (m *Mol) Canonical() string {
	var b strings.Builder
	for _, t := range m.toks {
		switch t.kind {
		case tokAtom:
			b.WriteString(atomText(m.atoms[t.atom]))
		case tokBond:
			if t.text != "-" && t.text != ":" {
				b.WriteString(t.text)
			}
		default:
			b.WriteString(t.text)
		}
	}
	return b.String()
}

func atomText(a Atom) string {
	sym := a.Symbol
	if a.Aromatic {
		sym = strings.ToLower(sym)
	}
	if !a.Bracket {
		return sym
	}
	var b strings.Builder
	b.WriteByte('[')
	if a.Isotope > 0 {
		b.WriteString(strconv.Itoa(a.Isotope))
	}
	b.WriteString(sym)
	switch a.Chirality {
	case ChiralCCW:
		b.WriteString("@")
	case ChiralCW:
		b.WriteString("@@")
	}
	switch {
	case a.HCount == 1:
		b.WriteString("H")
	case a.HCount > 1:
		b.WriteString("H")
		b.WriteString(strconv.Itoa(a.HCount))
	}
	switch {
	case a.Charge == 1:
		b.WriteString("+")
	case a.Charge == -1:
		b.WriteString("-")
	case a.Charge > 1:
		b.WriteString("+")
		b.WriteString(strconv.Itoa(a.Charge))
	case a.Charge < -1:
		b.WriteString("-")
		b.WriteString(strconv.Itoa(-a.Charge))
	}
	b.WriteByte(']')
	return b.String()
}

// Respell emits an alternate spelling of the structure: the token stream with
// a random subset of the implicit single bonds between non-aromatic atoms
// written out explicitly. Every returned string parses back to the same
// canonical form. A structure with no such bond position has exactly one
// spelling and Respell returns its canonical form.
func (m *Mol) Respell(rng *rand.Rand) string {
	var b strings.Builder
	prev := -1
	var stack []int
	bonded := false // an explicit bond token precedes the next atom
	for _, t := range m.toks {
		switch t.kind {
		case tokAtom:
			cur := t.atom
			if prev >= 0 && !bonded &&
				!m.atoms[prev].Aromatic && !m.atoms[cur].Aromatic &&
				rng.Intn(2) == 1 {
				b.WriteByte('-')
			}
			b.WriteString(atomText(m.atoms[cur]))
			prev = cur
			bonded = false
		case tokBond:
			if t.text != "-" && t.text != ":" {
				b.WriteString(t.text)
			}
			bonded = true
		case tokOpen:
			stack = append(stack, prev)
			b.WriteString(t.text)
		case tokClose:
			prev = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			b.WriteString(t.text)
		case tokRing:
			bonded = false
			b.WriteString(t.text)
		case tokDot:
			prev = -1
			bonded = false
			b.WriteString(t.text)
		}
	}
	return b.String()
}

// NumAtoms returns the heavy-atom count.
func (m *Mol) NumAtoms() int { return len(m.atoms) }

// NumRings returns the number of ring-closure pairs.
func (m *Mol) NumRings() int { return m.rings }

// FormalCharge sums the atom charges.
func (m *Mol) FormalCharge() int {
	c := 0
	for _, a := range m.atoms {
		c += a.Charge
	}
	return c
}

// hydrogens returns the explicit-or-implicit H count for atom i.
func (m *Mol) hydrogens(i int) int {
	a := m.atoms[i]
	if a.Bracket {
		if a.HCount < 0 {
			return 0
		}
		return a.HCount
	}
	v, ok := organicValence[a.Symbol]
	if !ok {
		return 0
	}
	h := v - a.bondOrder
	if a.Aromatic {
		h-- // one valence consumed by the aromatic system
	}
	if h < 0 {
		h = 0
	}
	return h
}

// TotalHydrogens sums explicit and implicit hydrogens.
func (m *Mol) TotalHydrogens() int {
	h := 0
	for i := range m.atoms {
		h += m.hydrogens(i)
	}
	return h
}

// Weight returns the molecular weight including hydrogens. Isotope-labelled
// atoms use the mass number directly.
func (m *Mol) Weight() float64 {
	w := 0.0
	for i, a := range m.atoms {
		if a.Isotope > 0 {
			w += float64(a.Isotope)
		} else {
			w += atomicMass[a.Symbol]
		}
		w += float64(m.hydrogens(i)) * atomicMass["H"]
	}
	return w
}

// HBondAcceptors counts nitrogen and oxygen atoms.
func (m *Mol) HBondAcceptors() int {
	n := 0
	for _, a := range m.atoms {
		if a.Symbol == "N" || a.Symbol == "O" {
			n++
		}
	}
	return n
}

// HBondDonors counts N/O atoms carrying at least one hydrogen.
func (m *Mol) HBondDonors() int {
	n := 0
	for i, a := range m.atoms {
		if (a.Symbol == "N" || a.Symbol == "O") && m.hydrogens(i) > 0 {
			n++
		}
	}
	return n
}

// RotatableBonds counts acyclic single bonds whose ends both connect to more
// than one heavy atom. Ring-path membership beyond explicit closures is not
// tracked, so this over-counts bonds inside rings written without closures on
// both ends; acceptable for a screening descriptor.
func (m *Mol) RotatableBonds() int {
	n := 0
	for _, b := range m.bonds {
		if b.order == 1 && !b.ring && !b.aromatic &&
			m.atoms[b.a].degree > 1 && m.atoms[b.b].degree > 1 {
			n++
		}
	}
	return n
}

// Formula returns the molecular formula in Hill order (C, H, then
// alphabetical).
func (m *Mol) Formula() string {
	counts := map[string]int{}
	for i, a := range m.atoms {
		if a.Symbol != "*" {
			counts[a.Symbol]++
		}
		counts["H"] += m.hydrogens(i)
	}
	var b strings.Builder
	emit := func(sym string) {
		n := counts[sym]
		if n == 0 {
			return
		}
		b.WriteString(sym)
		if n > 1 {
			b.WriteString(strconv.Itoa(n))
		}
		delete(counts, sym)
	}
	emit("C")
	emit("H")
	rest := make([]string, 0, len(counts))
	for sym := range counts {
		rest = append(rest, sym)
	}
	sort.Strings(rest)
	for _, sym := range rest {
		emit(sym)
	}
	return b.String()
}

// StereoSites returns the indices of atoms carrying an explicit tetrahedral
// stereo tag. Untagged atoms are not candidates: inverting an unspecified
// center is a no-op.
func (m *Mol) StereoSites() []int {
	var sites []int
	for i, a := range m.atoms {
		if a.Chirality != ChiralNone {
			sites = append(sites, i)
		}
	}
	return sites
}

// InvertStereo flips the tag on one atom (@ <-> @@). No-op for untagged atoms.
func (m *Mol) InvertStereo(atom int) {
	switch m.atoms[atom].Chirality {
	case ChiralCCW:
		m.atoms[atom].Chirality = ChiralCW
	case ChiralCW:
		m.atoms[atom].Chirality = ChiralCCW
	}
}

// RemoveStereo clears all stereo tags in place.
func (m *Mol) RemoveStereo() {
	for i := range m.atoms {
		m.atoms[i].Chirality = ChiralNone
	}
}

// Fragments splits the structure at top-level dots and re-parses each
// component. A connected structure returns a single-element slice.
func (m *Mol) Fragments() []*Mol {
	var parts []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			parts = append(parts, b.String())
			b.Reset()
		}
	}
	for _, t := range m.toks {
		if t.kind == tokDot {
			flush()
			continue
		}
		if t.kind == tokAtom {
			b.WriteString(atomText(m.atoms[t.atom]))
		} else {
			b.WriteString(t.text)
		}
	}
	flush()

	frags := make([]*Mol, 0, len(parts))
	for _, p := range parts {
		f, err := Parse(p)
		if err != nil {
			continue // cannot happen for a component of a valid parse
		}
		frags = append(frags, f)
	}
	return frags
}

// LargestFragment returns the component with the most heavy atoms (the
// receiver itself when connected). Ties keep the earliest component.
func (m *Mol) LargestFragment() *Mol {
	frags := m.Fragments()
	if len(frags) <= 1 {
		return m
	}
	best := frags[0]
	for _, f := range frags[1:] {
		if f.NumAtoms() > best.NumAtoms() {
			best = f
		}
	}
	return best
}

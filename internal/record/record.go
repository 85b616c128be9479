// Package record defines the data model that flows between pipeline stages:
// one Record per molecule (structural payload plus named string attributes)
// and Dataset, the ordered collection a stage consumes and produces.
//
// Ownership: exactly one stage holds a Dataset at a time. A stage either
// mutates record interiors in place (one owner per index) or builds a
// replacement Dataset; never both.
package record

import "chemcli/internal/mol"

// SmilesProp is the attribute holding the record's textual structure. Loaders
// fill it from the input; canonicalization overwrites it.
const SmilesProp = "SMILES"

// Props maps attribute names to string values. Keys are unique; insertion
// order is irrelevant.
type Props map[string]string

// Clone returns an independent copy.
func (p Props) Clone() Props {
	cp := make(Props, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// Record is one unit of domain data. Mol may be nil (parse failure, removed
// payload); stages must check before use.
type Record struct {
	Mol   *mol.Mol
	Props Props
}

// New returns a Record over m with SMILES seeded from its canonical form.
func New(m *mol.Mol) Record {
	r := Record{Mol: m, Props: Props{}}
	if m != nil {
		r.Props[SmilesProp] = m.Canonical()
	}
	return r
}

// Valid reports whether the record carries a usable payload.
func (r Record) Valid() bool {
	return r.Mol != nil && r.Mol.NumAtoms() > 0
}

// Derive returns a copy of r carrying a new payload: attributes are deep
// copied so the derived record can be annotated independently, and SMILES is
// refreshed from the payload's canonical form.
func (r Record) Derive(m *mol.Mol) Record {
	d := Record{Mol: m, Props: r.Props.Clone()}
	if m != nil {
		d.Props[SmilesProp] = m.Canonical()
	}
	return d
}

// Dataset is the ordered sequence of records passed between stages. Order is
// the canonical processing order; only explicit reorder stages may change it.
type Dataset []Record

package stages

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"chemcli/internal/engine"
	"chemcli/internal/record"
)

// PropertyFilter is one parsed --filter clause: a property name, a comparison
// operator, and a numeric threshold.
type PropertyFilter struct {
	Prop string
	Op   string
	Val  float64
}

// ParseFilter parses a clause like "MW<500" or "RotBonds >= 3". Supported
// operators are <, <=, >, >=, ==, and !=.
func ParseFilter(expr string) (PropertyFilter, error) {
	for _, op := range []string{"<=", ">=", "==", "!=", "<", ">"} {
		idx := strings.Index(expr, op)
		if idx <= 0 {
			continue
		}
		prop := strings.TrimSpace(expr[:idx])
		raw := strings.TrimSpace(expr[idx+len(op):])
		val, err := parseFloat(raw)
		if err != nil {
			return PropertyFilter{}, fmt.Errorf("filter %q: bad threshold %q: %w", expr, raw, err)
		}
		return PropertyFilter{Prop: prop, Op: op, Val: val}, nil
	}
	return PropertyFilter{}, fmt.Errorf("filter %q: expected <prop><op><value>", expr)
}

func (f PropertyFilter) matches(v float64) bool {
	switch f.Op {
	case "<":
		return v < f.Val
	case "<=":
		return v <= f.Val
	case ">":
		return v > f.Val
	case ">=":
		return v >= f.Val
	case "==":
		return v == f.Val
	case "!=":
		return v != f.Val
	}
	return false
}

// FilterByProperty keeps records whose named property satisfies every clause.
// Records missing a referenced property, or carrying a non-numeric value, are
// dropped.
func FilterByProperty(e engine.Exec, ds record.Dataset, filters []PropertyFilter) (record.Dataset, engine.Stats) {
	name := "Filtering by properties"
	out, st := e.TwoPhase(name, ds, func(r record.Record) (engine.PhaseOne, error) {
		for _, f := range filters {
			raw, ok := r.Props[f.Prop]
			if !ok {
				return engine.PhaseOne{}, nil
			}
			v, err := parseFloat(raw)
			if err != nil {
				return engine.PhaseOne{}, nil
			}
			if !f.matches(v) {
				return engine.PhaseOne{}, nil
			}
		}
		return engine.PhaseOne{Keep: true}, nil
	})
	log.Printf("-- %d of %d molecules passed the filter", len(out), len(ds))
	return out, st
}

// Rule-of-five thresholds. A record passes with at most one violation.
const (
	ro5MaxWeight    = 500.0
	ro5MaxAcceptors = 10
	ro5MaxDonors    = 5
	ro5MaxRotBonds  = 10
	ro5MaxViolation = 1
)

// RuleFilter annotates each record with PASS or FAIL in the Lipinski column,
// in place. When drop is set, failing records are removed instead.
func RuleFilter(e engine.Exec, ds record.Dataset, drop bool) (record.Dataset, engine.Stats) {
	name := "Applying Lipinski filter"
	if !drop {
		st := e.Run(name, len(ds), func(i int) error {
			if !ds[i].Valid() {
				ds[i].Props["Lipinski"] = "FAIL"
				return nil
			}
			ds[i].Props["Lipinski"] = lipinskiVerdict(ds[i])
			return nil
		})
		return ds, st
	}

	out, st := e.TwoPhase(name, ds, func(r record.Record) (engine.PhaseOne, error) {
		if !r.Valid() {
			return engine.PhaseOne{}, nil
		}
		verdict := lipinskiVerdict(r)
		r.Props["Lipinski"] = verdict
		return engine.PhaseOne{Keep: verdict == "PASS"}, nil
	})
	log.Printf("-- %d of %d molecules passed the Lipinski filter", len(out), len(ds))
	return out, st
}

func lipinskiVerdict(r record.Record) string {
	m := r.Mol
	violations := 0
	if m.Weight() > ro5MaxWeight {
		violations++
	}
	if m.HBondAcceptors() > ro5MaxAcceptors {
		violations++
	}
	if m.HBondDonors() > ro5MaxDonors {
		violations++
	}
	if m.RotatableBonds() > ro5MaxRotBonds {
		violations++
	}
	if violations > ro5MaxViolation {
		return "FAIL"
	}
	return "PASS"
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

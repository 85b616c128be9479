package stages

import (
	"strings"
	"testing"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    PropertyFilter
		wantErr bool
	}{
		{in: "MW<500", want: PropertyFilter{Prop: "MW", Op: "<", Val: 500}},
		{in: "MW <= 500.5", want: PropertyFilter{Prop: "MW", Op: "<=", Val: 500.5}},
		{in: "RotBonds>=3", want: PropertyFilter{Prop: "RotBonds", Op: ">=", Val: 3}},
		{in: "Charge==0", want: PropertyFilter{Prop: "Charge", Op: "==", Val: 0}},
		{in: "Rings!=0", want: PropertyFilter{Prop: "Rings", Op: "!=", Val: 0}},
		{in: "MW", wantErr: true},
		{in: "<500", wantErr: true},
		{in: "MW<abc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFilter(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFilter(%q) accepted bad input", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFilter(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFilter(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestFilterByProperty(t *testing.T) {
	ds := dataset(t, "C", "CC", "CCC", "CCCC")
	ds[0].Props["MW"] = "100"
	ds[1].Props["MW"] = "300"
	ds[2].Props["MW"] = "junk"
	// ds[3] has no MW at all

	f, err := ParseFilter("MW<200")
	if err != nil {
		t.Fatal(err)
	}
	out, _ := FilterByProperty(quietExec(), ds, []PropertyFilter{f})
	// Missing and non-numeric values are dropped along with failures.
	if len(out) != 1 || out[0].Props["id"] != "0" {
		t.Fatalf("kept %v", smilesOf(out))
	}
}

func TestFilterByPropertyConjunction(t *testing.T) {
	ds := dataset(t, "C", "CC")
	ds[0].Props["MW"] = "100"
	ds[0].Props["Rings"] = "0"
	ds[1].Props["MW"] = "100"
	ds[1].Props["Rings"] = "2"

	f1, _ := ParseFilter("MW<200")
	f2, _ := ParseFilter("Rings==0")
	out, _ := FilterByProperty(quietExec(), ds, []PropertyFilter{f1, f2})
	if len(out) != 1 || out[0].Props["id"] != "0" {
		t.Fatalf("kept %d records", len(out))
	}
}

func TestRuleFilterAnnotates(t *testing.T) {
	// 20 hydroxyls: heavy, too many donors and acceptors.
	heavy := "C" + strings.Repeat("C(O)", 20)
	ds := dataset(t, "CCO", heavy)
	out, _ := RuleFilter(quietExec(), ds, false)
	if len(out) != 2 {
		t.Fatalf("annotate mode dropped records: %d", len(out))
	}
	if out[0].Props["Lipinski"] != "PASS" {
		t.Fatalf("ethanol = %q", out[0].Props["Lipinski"])
	}
	if out[1].Props["Lipinski"] != "FAIL" {
		t.Fatalf("heavy polyol = %q", out[1].Props["Lipinski"])
	}
}

func TestRuleFilterDrop(t *testing.T) {
	heavy := "C" + strings.Repeat("C(O)", 20)
	ds := dataset(t, "CCO", heavy)
	out, _ := RuleFilter(quietExec(), ds, true)
	if len(out) != 1 || out[0].Props["id"] != "0" {
		t.Fatalf("kept %d records", len(out))
	}
}

func TestRuleFilterOneViolationPasses(t *testing.T) {
	// A long alkane: 12 rotatable bonds exceed the limit, nothing else does.
	ds := dataset(t, strings.Repeat("C", 15))
	out, _ := RuleFilter(quietExec(), ds, false)
	if out[0].Props["Lipinski"] != "PASS" {
		t.Fatalf("single violation should pass, got %q", out[0].Props["Lipinski"])
	}
}

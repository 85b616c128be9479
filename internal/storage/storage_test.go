package storage

import (
	"context"
	"testing"

	"chemcli/internal/mol"
	"chemcli/internal/record"
)

type fakeSink struct {
	ensured []string
	cols    []string
	rows    [][]any
}

func (f *fakeSink) EnsureTable(_ context.Context, columns []string) error {
	f.ensured = columns
	return nil
}

func (f *fakeSink) CopyFrom(_ context.Context, columns []string, rows [][]any) (int64, error) {
	f.cols = columns
	f.rows = rows
	return int64(len(rows)), nil
}

func TestExport(t *testing.T) {
	m, err := mol.Parse("CCO")
	if err != nil {
		t.Fatal(err)
	}
	r := record.New(m)
	r.Props["MW"] = "46.07"

	sink := &fakeSink{}
	n, err := Export(context.Background(), sink, record.Dataset{r}, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("exported %d rows", n)
	}
	if len(sink.ensured) != 2 || sink.ensured[0] != record.SmilesProp {
		t.Fatalf("ensured columns %v", sink.ensured)
	}
	if len(sink.rows) != 1 || sink.rows[0][0] != "CCO" {
		t.Fatalf("rows = %v", sink.rows)
	}
}

func TestScheme(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@host/db", "postgres"},
		{"sqlite:mols.db", "sqlite"},
		{"file:mols.db", "file"},
		{"mols.db", ""},
		{":oops", ""},
	}
	for _, tt := range tests {
		if got := Scheme(tt.in); got != tt.want {
			t.Errorf("Scheme(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

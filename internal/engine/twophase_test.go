package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"chemcli/internal/mol"
	"chemcli/internal/record"
)

func rec(t *testing.T, smiles string) record.Record {
	t.Helper()
	m, err := mol.Parse(smiles)
	if err != nil {
		t.Fatalf("parse %q: %v", smiles, err)
	}
	return record.New(m)
}

func tagged(t *testing.T, smiles, id string) record.Record {
	r := rec(t, smiles)
	r.Props["id"] = id
	return r
}

func ids(ds record.Dataset) []string {
	out := make([]string, len(ds))
	for i, r := range ds {
		out[i] = r.Props["id"]
	}
	return out
}

func TestTwoPhasePreservesOrder(t *testing.T) {
	// Random sleeps make worker completion order adversarial; output order
	// must still follow input order.
	ds := make(record.Dataset, 100)
	for i := range ds {
		ds[i] = tagged(t, "CCO", fmt.Sprint(i))
	}

	out, _ := quietExec(8).TwoPhase("x", ds, func(r record.Record) (PhaseOne, error) {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
		return PhaseOne{Keep: true}, nil
	})

	if len(out) != len(ds) {
		t.Fatalf("len = %d, want %d", len(out), len(ds))
	}
	for i, id := range ids(out) {
		if id != fmt.Sprint(i) {
			t.Fatalf("position %d holds record %s", i, id)
		}
	}
}

func TestTwoPhaseDedupFirstWins(t *testing.T) {
	ds := record.Dataset{
		tagged(t, "CCO", "a"),
		tagged(t, "CCC", "b"),
		tagged(t, "CCO", "c"), // duplicate of a
		tagged(t, "CCO", "d"), // duplicate of a
		tagged(t, "CCN", "e"),
	}

	dedup := func(r record.Record) (PhaseOne, error) {
		return PhaseOne{Keep: true, Key: r.Mol.Canonical()}, nil
	}

	out, _ := quietExec(4).TwoPhase("x", ds, dedup)
	if got, want := fmt.Sprint(ids(out)), "[a b e]"; got != want {
		t.Fatalf("kept %v, want %v", got, want)
	}

	// Idempotence: deduplicating again changes nothing.
	again, _ := quietExec(4).TwoPhase("x", out, dedup)
	if fmt.Sprint(ids(again)) != fmt.Sprint(ids(out)) {
		t.Fatalf("second pass changed the dataset: %v vs %v", ids(again), ids(out))
	}
}

func TestTwoPhaseFilterDrops(t *testing.T) {
	ds := record.Dataset{
		tagged(t, "CCO", "a"),
		tagged(t, "CCC", "b"),
		tagged(t, "CCN", "c"),
	}
	out, _ := quietExec(2).TwoPhase("x", ds, func(r record.Record) (PhaseOne, error) {
		return PhaseOne{Keep: r.Props["id"] != "b"}, nil
	})
	if got, want := fmt.Sprint(ids(out)), "[a c]"; got != want {
		t.Fatalf("kept %v, want %v", got, want)
	}
}

func TestTwoPhaseExpansionOrdering(t *testing.T) {
	// Derived records land immediately after their source, before the next
	// input record's output.
	ds := record.Dataset{
		tagged(t, "CCO", "a"),
		tagged(t, "CCC", "b"),
	}
	out, _ := quietExec(4).TwoPhase("x", ds, func(r record.Record) (PhaseOne, error) {
		d := r.Derive(r.Mol)
		d.Props["id"] = r.Props["id"] + "1"
		return PhaseOne{Keep: true, Out: []record.Record{d}}, nil
	})
	if got, want := fmt.Sprint(ids(out)), "[a a1 b b1]"; got != want {
		t.Fatalf("order %v, want %v", got, want)
	}
}

func TestTwoPhaseDecideErrorDropsRecord(t *testing.T) {
	ds := record.Dataset{
		tagged(t, "CCO", "a"),
		tagged(t, "CCC", "b"),
		tagged(t, "CCN", "c"),
	}
	out, st := quietExec(2).TwoPhase("x", ds, func(r record.Record) (PhaseOne, error) {
		if r.Props["id"] == "b" {
			return PhaseOne{}, errors.New("boom")
		}
		return PhaseOne{Keep: true}, nil
	})
	if st.Failed != 1 {
		t.Fatalf("failed = %d, want 1", st.Failed)
	}
	if got, want := fmt.Sprint(ids(out)), "[a c]"; got != want {
		t.Fatalf("kept %v, want %v", got, want)
	}
}

func TestTwoPhaseDecideErrorHonorsReturnedSlot(t *testing.T) {
	// A stage can fail an item and still pass it through by returning a
	// kept PhaseOne alongside the error. The failure is counted; the
	// record is not lost.
	ds := record.Dataset{
		tagged(t, "CCO", "a"),
		tagged(t, "CCC", "b"),
		tagged(t, "CCN", "c"),
	}
	out, st := quietExec(2).TwoPhase("x", ds, func(r record.Record) (PhaseOne, error) {
		if r.Props["id"] == "b" {
			return PhaseOne{Keep: true}, errors.New("boom")
		}
		return PhaseOne{Keep: true}, nil
	})
	if st.Failed != 1 {
		t.Fatalf("failed = %d, want 1", st.Failed)
	}
	if got, want := fmt.Sprint(ids(out)), "[a b c]"; got != want {
		t.Fatalf("kept %v, want %v", got, want)
	}
}

func TestTwoPhaseEmptyInput(t *testing.T) {
	out, st := quietExec(2).TwoPhase("x", nil, func(r record.Record) (PhaseOne, error) {
		t.Fatal("decide called on empty input")
		return PhaseOne{}, nil
	})
	if len(out) != 0 || st.Attempted != 0 {
		t.Fatalf("out=%v stats=%+v", out, st)
	}
}

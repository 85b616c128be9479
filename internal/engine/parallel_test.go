package engine

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"testing"
)

func quietExec(workers int) Exec {
	return Exec{
		Workers:  workers,
		Progress: io.Discard,
		Log:      log.New(io.Discard, "", 0),
	}
}

func TestRunVisitsEveryIndexOnce(t *testing.T) {
	for _, workers := range []int{1, 2, 8} {
		for _, n := range []int{0, 1, 7, 1000} {
			t.Run(fmt.Sprintf("workers=%d/n=%d", workers, n), func(t *testing.T) {
				visits := make([]atomic.Int32, n)
				st := quietExec(workers).Run("x", n, func(i int) error {
					visits[i].Add(1)
					return nil
				})
				if st.Attempted != n || st.Failed != 0 {
					t.Fatalf("stats = %+v, want attempted=%d failed=0", st, n)
				}
				for i := range visits {
					if got := visits[i].Load(); got != 1 {
						t.Fatalf("index %d visited %d times", i, got)
					}
				}
			})
		}
	}
}

func TestRunCountsFailures(t *testing.T) {
	st := quietExec(4).Run("x", 100, func(i int) error {
		if i%10 == 0 {
			return errors.New("boom")
		}
		return nil
	})
	if st.Failed != 10 {
		t.Fatalf("failed = %d, want 10", st.Failed)
	}
}

func TestRunIsolatesPanics(t *testing.T) {
	// A panicking item must not take down the stage; the others complete.
	var ok atomic.Int32
	st := quietExec(4).Run("x", 50, func(i int) error {
		if i == 25 {
			panic("kaboom")
		}
		ok.Add(1)
		return nil
	})
	if st.Failed != 1 {
		t.Fatalf("failed = %d, want 1", st.Failed)
	}
	if got := ok.Load(); got != 49 {
		t.Fatalf("%d items completed, want 49", got)
	}
}

func TestDefaultWorkersFloor(t *testing.T) {
	if DefaultWorkers() < 1 {
		t.Fatalf("DefaultWorkers() = %d", DefaultWorkers())
	}
}

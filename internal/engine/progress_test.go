package engine

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestTrackerLineShape(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker("Loading molecules", 200, false)
	tr.SetWriter(&buf)

	tr.Advance(100)

	got := buf.String()
	if !strings.Contains(got, "-- Loading molecules [ 50.00%]") {
		t.Fatalf("unexpected status line: %q", got)
	}
}

func TestTrackerVerboseLineShape(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker("Loading molecules", 4, true)
	tr.SetWriter(&buf)

	tr.Advance(1)

	got := buf.String()
	for _, want := range []string{"[ 25.00%]", "1/4", "items/s", "ETA: "} {
		if !strings.Contains(got, want) {
			t.Errorf("verbose line missing %q: %q", want, got)
		}
	}
}

func TestTrackerThrottle(t *testing.T) {
	// 1,000,000 advances over a total of 1,000,000 cross the 0.01% threshold
	// at most 10,000 times; without throttling we would see one line per
	// advance.
	var buf bytes.Buffer
	tr := NewTracker("x", 1_000_000, false)
	tr.SetWriter(&buf)

	for i := 0; i < 1_000_000; i++ {
		tr.Advance(1)
	}

	lines := strings.Count(buf.String(), "\r")
	if lines > 10_001 {
		t.Fatalf("throttle failed: %d status prints", lines)
	}
	if lines == 0 {
		t.Fatal("no status prints at all")
	}
}

func TestTrackerConcurrentAdvance(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker("x", 10_000, false)
	tr.SetWriter(&buf)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1250; i++ {
				tr.Advance(1)
			}
		}()
	}
	wg.Wait()

	if got := tr.Processed(); got != 10_000 {
		t.Fatalf("processed = %d, want 10000", got)
	}
}

func TestTrackerFinish(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker("Loading molecules", 10, false)
	tr.SetWriter(&buf)

	tr.Advance(10)
	tr.Finish()
	tr.Finish() // second call must not print again

	got := buf.String()
	if !strings.Contains(got, "-- Loading molecules [100.00%] - Completed in ") {
		t.Fatalf("missing completion line: %q", got)
	}
	if n := strings.Count(got, "Completed in"); n != 1 {
		t.Fatalf("completion line printed %d times", n)
	}
}

func TestTrackerZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker("x", 0, false)
	tr.SetWriter(&buf)

	tr.Advance(5) // must not divide by zero or print a percentage
	if buf.Len() != 0 {
		t.Fatalf("unexpected output for zero total: %q", buf.String())
	}

	tr.Finish()
	if !strings.Contains(buf.String(), "[100.00%]") {
		t.Fatalf("Finish must still print: %q", buf.String())
	}
}

func TestTrackerOverflowClamps(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker("x", 10, false)
	tr.SetWriter(&buf)

	tr.Advance(25) // more than total

	if strings.Contains(buf.String(), "250.00") {
		t.Fatalf("percentage not clamped: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[100.00%]") {
		t.Fatalf("expected clamped 100%%: %q", buf.String())
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0s"},
		{42, "42s"},
		{61, "1m 1s"},
		{3600, "1h 0m 0s"},
		{3723, "1h 2m 3s"},
	}
	for _, tt := range tests {
		if got := formatSeconds(tt.in); got != tt.want {
			t.Errorf("formatSeconds(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

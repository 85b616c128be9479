// Package engine implements the concurrent batch-transformation core: a
// throttled progress tracker, a bounded parallel map executor, a chunked
// streaming loader, and the two-phase scatter/gather transform used by every
// cardinality-changing stage.
package engine

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// minProgressStep is the minimum percentage delta between two status prints.
const minProgressStep = 0.01

// Tracker is a thread-safe, throttled percentage/ETA reporter over a fixed
// total. Advance is cheap when no print is due: an atomic add plus one float
// comparison against an atomically published last-printed percentage; the
// lock is taken only when the 0.01% threshold is crossed, and
// the condition is re-checked under the lock so a crowd of workers crossing
// it together produces one line.
type Tracker struct {
	name    string
	total   uint64
	verbose bool
	out     io.Writer
	start   time.Time

	processed atomic.Uint64
	lastPct   atomic.Uint64 // math.Float64bits of the last printed percentage

	mu         sync.Mutex
	finishOnce sync.Once
}

// NewTracker creates a tracker writing to stdout. A zero total is allowed:
// percentage reporting is skipped but Finish still prints its line.
func NewTracker(name string, total int, verbose bool) *Tracker {
	t := &Tracker{
		name:    name,
		total:   uint64(total),
		verbose: verbose,
		out:     os.Stdout,
		start:   time.Now(),
	}
	t.lastPct.Store(math.Float64bits(-1))
	return t
}

// SetWriter redirects status output; used by callers that own the status
// stream and by tests.
func (t *Tracker) SetWriter(w io.Writer) { t.out = w }

// Processed returns the current counter value.
func (t *Tracker) Processed() uint64 { return t.processed.Load() }

// Advance adds n to the processed counter and prints a status line when the
// percentage has moved by at least 0.01 since the last report.
func (t *Tracker) Advance(n int) {
	cur := t.processed.Add(uint64(n))
	if t.total == 0 {
		return
	}

	pct := float64(cur) / float64(t.total) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	if pct-math.Float64frombits(t.lastPct.Load()) < minProgressStep {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if pct-math.Float64frombits(t.lastPct.Load()) < minProgressStep {
		return
	}
	if t.verbose {
		sec := time.Since(t.start).Seconds()
		if sec <= 0 {
			sec = 0.001
		}
		rate := float64(cur) / sec
		eta := float64(t.total-cur) / rate
		fmt.Fprintf(t.out, "\r-- %s [%6.2f%%] %d/%d - %.1f items/s - ETA: %s",
			t.name, pct, cur, t.total, rate, formatSeconds(eta))
	} else {
		fmt.Fprintf(t.out, "\r-- %s [%6.2f%%]", t.name, pct)
	}
	t.lastPct.Store(math.Float64bits(pct))
}

// Finish prints the terminal 100% line with the total elapsed time. Safe to
// call once per tracker; additional calls are ignored.
func (t *Tracker) Finish() {
	t.finishOnce.Do(func() {
		elapsed := time.Since(t.start).Seconds()
		t.mu.Lock()
		defer t.mu.Unlock()
		fmt.Fprintf(t.out, "\r-- %s [100.00%%] - Completed in %s\n",
			t.name, formatSeconds(elapsed))
	})
}

// formatSeconds renders a duration as "1h 2m 3s", omitting leading zero
// units.
func formatSeconds(seconds float64) string {
	s := int(seconds)
	hrs := s / 3600
	mins := (s % 3600) / 60
	secs := s % 60

	var b strings.Builder
	if hrs > 0 {
		fmt.Fprintf(&b, "%dh ", hrs)
	}
	if mins > 0 || hrs > 0 {
		fmt.Fprintf(&b, "%dm ", mins)
	}
	fmt.Fprintf(&b, "%ds", secs)
	return b.String()
}

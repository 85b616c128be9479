package engine

import (
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

// workerReserve is the number of cores left to the OS and the coordinating
// goroutine when deriving the default worker count.
const workerReserve = 2

// DefaultWorkers derives the worker count from available parallelism minus a
// small reserve, floor 1.
func DefaultWorkers() int {
	n := runtime.NumCPU() - workerReserve
	if n < 1 {
		n = 1
	}
	return n
}

// Exec carries the execution settings for one stage. Worker count is an
// explicit per-stage value, never process-global, so stages sharing a process
// cannot interfere with each other's concurrency settings.
type Exec struct {
	// Workers is the pool size; 0 means DefaultWorkers().
	Workers int

	// Verbose adds rate/ETA to progress lines.
	Verbose bool

	// Quiet suppresses per-item warnings. Stage summaries are printed
	// regardless.
	Quiet bool

	// Progress receives status lines; nil means stdout.
	Progress io.Writer

	// Log receives warnings and summaries; nil means the default logger
	// (stderr). The logger serializes concurrent writers.
	Log *log.Logger

	// OnBuffer, when set, observes the transient buffer length of LoadChunked
	// after every chunk. Instrumentation only.
	OnBuffer func(n int)
}

// Stats summarizes one stage run. Per-item errors never escape a stage as
// errors; they surface here as a count.
type Stats struct {
	Attempted int
	Failed    int
}

func (e Exec) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return DefaultWorkers()
}

func (e Exec) logger() *log.Logger {
	if e.Log != nil {
		return e.Log
	}
	return log.Default()
}

func (e Exec) warnf(format string, args ...any) {
	if e.Quiet {
		return
	}
	e.logger().Printf("-- Warning: "+format, args...)
}

func (e Exec) tracker(name string, total int) *Tracker {
	tr := NewTracker(name, total, e.Verbose)
	if e.Progress != nil {
		tr.SetWriter(e.Progress)
	}
	return tr
}

func (e Exec) summarize(name string, st Stats) {
	e.logger().Printf("-- %s: %d attempted, %d succeeded, %d failed",
		name, st.Attempted, st.Attempted-st.Failed, st.Failed)
}

// Run executes fn for every index in [0, n) on a bounded worker pool,
// driving a progress tracker. No ordering is guaranteed between items; fn
// must write only to state owned by its index.
//
// Each invocation runs inside a failure boundary: an error return or a panic
// is converted to a counted warning and the remaining items proceed. Run
// blocks until every item has been attempted, emits the terminal progress
// line, and prints the stage summary.
func (e Exec) Run(name string, n int, fn func(i int) error) Stats {
	st := e.scatter(name, n, fn)
	e.summarize(name, st)
	return st
}

// scatter runs fn over [0, n) with per-item failure isolation and progress,
// but leaves the stage summary to the caller. Shared by Run, TwoPhase, and
// LoadChunked, which report once per stage rather than once per pass.
func (e Exec) scatter(name string, n int, fn func(i int) error) Stats {
	tr := e.tracker(name, n)
	if n == 0 {
		tr.Finish()
		return Stats{}
	}

	pool, err := ants.NewPool(e.workers())
	if err != nil {
		// Pool construction fails only on resource exhaustion here; degrade
		// to in-place execution rather than aborting the stage.
		pool = nil
	} else {
		defer pool.Release()
	}

	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	for i := 0; i < n; i++ {
		i := i
		task := func() {
			defer wg.Done()
			if err := runItem(fn, i); err != nil {
				failed.Add(1)
				e.warnf("%s: item %d: %v", name, i, err)
			}
			tr.Advance(1)
		}
		wg.Add(1)
		if pool == nil || pool.Submit(task) != nil {
			task()
		}
	}
	wg.Wait()
	tr.Finish()
	return Stats{Attempted: n, Failed: int(failed.Load())}
}

// runItem is the per-item failure boundary: panics from domain callbacks are
// captured and reported like ordinary item errors.
func runItem(fn func(int) error, i int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(i)
}

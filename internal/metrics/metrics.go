// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from pipeline runs.
//
// It exposes a narrow Backend interface (counters plus duration
// observations) behind a global that defaults to a no-op implementation, so
// metric calls are always safe even when no backend is configured. Concrete
// systems live in subpackages; the rest of the codebase depends only on this
// interface.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveDuration records a value in a latency/duration style metric.
	ObserveDuration(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)      {}
func (nopBackend) ObserveDuration(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                              { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStage measures one pipeline stage: execution count partitioned by
// outcome, plus wall-clock duration.
func RecordStage(stage string, failed int, d time.Duration) {
	status := "success"
	if failed > 0 {
		status = "partial"
	}

	lbls := Labels{
		"stage":  stage,
		"status": status,
	}

	backend.IncCounter("chemcli_stage_total", 1, lbls)
	backend.ObserveDuration("chemcli_stage_duration_seconds", d.Seconds(), lbls)
}

// RecordRecords increments a record-level counter for the given kind.
//
// Typical kinds mirror the per-stage summaries:
//   - "loaded"
//   - "parse_errors"
//   - "dropped"
//   - "generated"
//   - "written"
func RecordRecords(kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("chemcli_records_total", float64(delta), Labels{
		"kind": kind,
	})
}

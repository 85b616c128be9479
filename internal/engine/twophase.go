package engine

import (
	"chemcli/internal/record"
)

// PhaseOne is the scatter result for one input record of a two-phase
// transform. Each invocation writes exactly one preallocated slot; slots are
// never appended to concurrently.
//
// Semantics during gather, walking slots in input order:
//   - Key, when non-empty, is a dedup key: the input record is kept only if
//     Keep is set and the key has not been seen at a lower index.
//   - Keep, with an empty Key, is a plain filter flag for the input record.
//   - Out records are appended after (or instead of) the input record; they
//     are what expansion stages produce.
type PhaseOne struct {
	Keep bool
	Key  string
	Out  []record.Record
}

// TwoPhase runs a cardinality-changing transform: a parallel scatter of
// decide over every input index into preallocated slots, then a sequential,
// order-preserving gather. Output order is a pure function of input order;
// worker scheduling cannot influence it.
//
// A decide error counts the item as failed (counted warning) but the returned
// PhaseOne still governs its slot, so a stage can report an item and pass it
// through unchanged; returning the zero PhaseOne alongside the error drops
// it. A decide panic drops the record. The rest of the stage is unaffected
// either way.
func (e Exec) TwoPhase(name string, ds record.Dataset, decide func(record.Record) (PhaseOne, error)) (record.Dataset, Stats) {
	results := make([]PhaseOne, len(ds))

	st := e.scatter(name, len(ds), func(i int) error {
		r, err := decide(ds[i])
		results[i] = r
		return err
	})

	// Resolve dedup keys and compute the exact output size so the gather can
	// allocate once.
	keep := make([]bool, len(results))
	total := 0
	var seen map[string]struct{}
	for i := range results {
		k := results[i].Keep
		if key := results[i].Key; k && key != "" {
			if seen == nil {
				seen = make(map[string]struct{}, len(results))
			}
			if _, dup := seen[key]; dup {
				k = false
			} else {
				seen[key] = struct{}{}
			}
		}
		keep[i] = k
		if k {
			total++
		}
		total += len(results[i].Out)
	}

	out := make(record.Dataset, 0, total)
	for i := range results {
		if keep[i] {
			out = append(out, ds[i])
		}
		out = append(out, results[i].Out...)
	}

	e.summarize(name, st)
	return out, st
}

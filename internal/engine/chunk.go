package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"chemcli/internal/record"
)

// DefaultChunkSize is the number of raw lines pulled from the source per
// parallel parse batch.
const DefaultChunkSize = 10000

// LineSource yields raw entries sequentially. Next returns ok=false at end of
// stream; a non-nil error is a fatal read failure, not a malformed entry.
type LineSource interface {
	Next() (line string, ok bool, err error)
}

// LoadChunked pulls raw lines from src in bounded chunks, parses each chunk
// on the worker pool, and accumulates the parsed records into ds.
//
// Each chunk is parsed into preallocated per-index slots, then appended to a
// transient buffer in input order, keeping dataset order deterministic. When
// the buffer exceeds twice the chunk size it is flushed into the final
// dataset, bounding unflushed transient memory to O(chunkSize) regardless of
// input size. Reading the next chunk overlaps with parsing the current one.
//
// Malformed lines (parse returns an error, or panics) are dropped with a
// counted warning; an empty source yields an empty dataset; a trailing
// partial chunk is processed like a full one. totalHint sizes the progress
// tracker; pass 0 when the line count is unknown.
func (e Exec) LoadChunked(name string, src LineSource, chunkSize, totalHint int, parse func(line string) (record.Record, error)) (record.Dataset, Stats, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	tr := e.tracker(name, totalHint)

	pool, perr := ants.NewPool(e.workers())
	if perr != nil {
		pool = nil
	} else {
		defer pool.Release()
	}

	chunks := make(chan []string, 1)
	var g errgroup.Group
	g.Go(func() error {
		defer close(chunks)
		buf := make([]string, 0, chunkSize)
		for {
			line, ok, err := src.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if line == "" {
				continue
			}
			buf = append(buf, line)
			if len(buf) >= chunkSize {
				chunks <- buf
				buf = make([]string, 0, chunkSize)
			}
		}
		if len(buf) > 0 {
			chunks <- buf
		}
		return nil
	})

	var (
		ds       record.Dataset
		buffer   = make([]record.Record, 0, 2*chunkSize)
		failed   atomic.Int64
		lines    int
		slots    []*record.Record
		parseOne = func(line string) (rec record.Record, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return parse(line)
		}
	)

	for chunk := range chunks {
		lines += len(chunk)
		if cap(slots) < len(chunk) {
			slots = make([]*record.Record, len(chunk))
		}
		slots = slots[:len(chunk)]
		for i := range slots {
			slots[i] = nil
		}

		var wg sync.WaitGroup
		for i := range chunk {
			i := i
			task := func() {
				defer wg.Done()
				rec, err := parseOne(chunk[i])
				if err != nil {
					failed.Add(1)
					e.warnf("%s: skipping line: %v", name, err)
				} else {
					slots[i] = &rec
				}
				tr.Advance(1)
			}
			wg.Add(1)
			if pool == nil || pool.Submit(task) != nil {
				task()
			}
		}
		wg.Wait()

		for _, s := range slots {
			if s != nil {
				buffer = append(buffer, *s)
			}
		}
		if e.OnBuffer != nil {
			e.OnBuffer(len(buffer))
		}
		if len(buffer) > 2*chunkSize {
			ds = append(ds, buffer...)
			buffer = buffer[:0]
		}
	}
	ds = append(ds, buffer...)

	if err := g.Wait(); err != nil {
		return nil, Stats{Attempted: lines, Failed: int(failed.Load())}, err
	}

	tr.Finish()
	st := Stats{Attempted: lines, Failed: int(failed.Load())}
	e.summarize(name, st)
	return ds, st, nil
}

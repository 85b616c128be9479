// Package storage defines the database export surface: a Sink writes a
// processed dataset's rows into a backing table. Backends live in
// subpackages; callers pick one from the output DSN scheme.
package storage

import (
	"context"
	"fmt"
	"strings"

	"chemcli/internal/record"
	"chemcli/internal/writer"
)

// Sink is a dataset destination. EnsureTable creates the target table when
// missing; CopyFrom bulk-inserts rows and reports how many landed.
type Sink interface {
	EnsureTable(ctx context.Context, columns []string) error
	CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error)
}

// Export renders the dataset as rows and pushes them through the sink.
func Export(ctx context.Context, s Sink, ds record.Dataset, keepData bool) (int64, error) {
	cols, rows := writer.ToRows(ds, keepData)
	if err := s.EnsureTable(ctx, cols); err != nil {
		return 0, fmt.Errorf("ensure table: %w", err)
	}
	n, err := s.CopyFrom(ctx, cols, rows)
	if err != nil {
		return n, fmt.Errorf("copy: %w", err)
	}
	return n, nil
}

// Scheme extracts the backend scheme from an output DSN like
// "postgres://..." or "sqlite:molecules.db". Empty when the DSN has none.
func Scheme(dsn string) string {
	idx := strings.Index(dsn, ":")
	if idx <= 0 {
		return ""
	}
	return strings.ToLower(dsn[:idx])
}

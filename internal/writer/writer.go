// Package writer renders datasets back to disk: .smi and delimited formats,
// plus the train/test/validation splitter. Rendering is parallel into
// per-record slots; the actual file write is a single sequential pass so
// output order always matches dataset order.
package writer

import (
	"encoding/csv"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"

	"chemcli/internal/engine"
	"chemcli/internal/record"
)

// Format identifies an output file layout.
type Format string

const (
	FormatSMI Format = "smi"
	FormatCSV Format = "csv"
	FormatTSV Format = "tsv"
)

// ParseFormat validates a user-supplied output format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatSMI, FormatCSV, FormatTSV:
		return Format(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown output format %q (want smi, csv, or tsv)", s)
}

// DetectFormat maps an output extension to a Format, defaulting to smi.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".tsv", ".tab":
		return FormatTSV
	}
	return FormatSMI
}

// Options configures a write.
type Options struct {
	// Format overrides extension-based detection when non-empty.
	Format Format

	// KeepData carries all property columns into delimited output. Without it
	// only SMILES (and Name, if present) are written.
	KeepData bool
}

// Columns returns the header for a delimited write: SMILES first, then the
// sorted union of property names across the dataset.
func Columns(ds record.Dataset, keepData bool) []string {
	if !keepData {
		for _, r := range ds {
			if _, ok := r.Props["Name"]; ok {
				return []string{record.SmilesProp, "Name"}
			}
		}
		return []string{record.SmilesProp}
	}

	props := lo.Uniq(lo.FlatMap(ds, func(r record.Record, _ int) []string {
		return lo.Keys(r.Props)
	}))
	props = lo.Without(props, record.SmilesProp)
	sort.Strings(props)
	return append([]string{record.SmilesProp}, props...)
}

// File writes the dataset to path, creating parent directories as needed.
func File(e engine.Exec, ds record.Dataset, path string, opts Options) error {
	format := opts.Format
	if format == "" {
		format = DetectFormat(path)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	name := "Writing " + filepath.Base(path)
	switch format {
	case FormatSMI:
		err = writeSMI(e, name, ds, f)
	case FormatCSV:
		err = writeDelimited(e, name, ds, f, ',', opts.KeepData)
	case FormatTSV:
		err = writeDelimited(e, name, ds, f, '\t', opts.KeepData)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return err
	}
	log.Printf("-- Wrote %d molecules to %s", len(ds), path)
	return nil
}

func writeSMI(e engine.Exec, name string, ds record.Dataset, f *os.File) error {
	lines := make([]string, len(ds))
	e.Run(name, len(ds), func(i int) error {
		line := ds[i].Props[record.SmilesProp]
		if line == "" && ds[i].Valid() {
			line = ds[i].Mol.Canonical()
		}
		if n := ds[i].Props["Name"]; n != "" {
			line += "\t" + n
		}
		lines[i] = line
		return nil
	})

	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

func writeDelimited(e engine.Exec, name string, ds record.Dataset, f *os.File, sep rune, keepData bool) error {
	cols := Columns(ds, keepData)

	rows := make([][]string, len(ds))
	e.Run(name, len(ds), func(i int) error {
		row := make([]string, len(cols))
		for j, c := range cols {
			if c == record.SmilesProp {
				row[j] = ds[i].Props[record.SmilesProp]
				if row[j] == "" && ds[i].Valid() {
					row[j] = ds[i].Mol.Canonical()
				}
				continue
			}
			row[j] = ds[i].Props[c]
		}
		rows[i] = row
		return nil
	})

	w := csv.NewWriter(f)
	w.Comma = sep
	if err := w.Write(cols); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Split partitions the dataset into train/test(/validation) files next to
// path. trainFrac and testFrac are fractions of the whole; any remainder goes
// to the validation split, which is omitted when empty. seed fixes the
// shuffle for reproducible splits.
func Split(e engine.Exec, ds record.Dataset, path string, opts Options, trainFrac, testFrac float64, seed int64) error {
	if trainFrac <= 0 || testFrac < 0 || trainFrac+testFrac > 1 {
		return fmt.Errorf("bad split fractions %.2f/%.2f", trainFrac, testFrac)
	}

	shuffled := make(record.Dataset, len(ds))
	copy(shuffled, ds)
	rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	nTrain := int(float64(len(shuffled)) * trainFrac)
	nTest := int(float64(len(shuffled)) * testFrac)

	parts := []struct {
		suffix string
		ds     record.Dataset
	}{
		{"_train", shuffled[:nTrain]},
		{"_test", shuffled[nTrain : nTrain+nTest]},
		{"_validation", shuffled[nTrain+nTest:]},
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for _, p := range parts {
		if len(p.ds) == 0 {
			continue
		}
		if err := File(e, p.ds, base+p.suffix+ext, opts); err != nil {
			return err
		}
	}
	return nil
}

// ToRows renders the dataset as a header plus row values for the database
// sinks, using the same column resolution as delimited output.
func ToRows(ds record.Dataset, keepData bool) (cols []string, rows [][]any) {
	cols = Columns(ds, keepData)
	rows = make([][]any, len(ds))
	for i, r := range ds {
		row := make([]any, len(cols))
		for j, c := range cols {
			v := r.Props[c]
			if c == record.SmilesProp && v == "" && r.Valid() {
				v = r.Mol.Canonical()
			}
			row[j] = v
		}
		rows[i] = row
	}
	return cols, rows
}

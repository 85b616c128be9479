// Package loader turns input files (and literal SMILES arguments) into
// datasets. It autodetects the format from the extension, normalizes text on
// the way in, and streams large files through the chunked parallel loader.
package loader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"chemcli/internal/engine"
	"chemcli/internal/mol"
	"chemcli/internal/record"
)

// Format identifies an input file layout.
type Format string

const (
	FormatSMI Format = "smi"
	FormatCSV Format = "csv"
	FormatTSV Format = "tsv"
)

// smilesHeaders are the column names recognized as the SMILES column, in
// priority order, when none is given explicitly.
var smilesHeaders = []string{"SMILES", "smiles", "Smiles", "canonical_smiles", "CanonicalSMILES"}

// Options configures a load.
type Options struct {
	// Format overrides extension-based detection when non-empty.
	Format Format

	// SmilesCol names the SMILES column for delimited formats. Empty means
	// detect from smilesHeaders, falling back to the first column.
	SmilesCol string

	// ChunkSize overrides engine.DefaultChunkSize when positive.
	ChunkSize int
}

// DetectFormat maps a file extension to a Format.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".smi", ".txt", ".ism":
		return FormatSMI, nil
	case ".csv":
		return FormatCSV, nil
	case ".tsv", ".tab":
		return FormatTSV, nil
	}
	return "", fmt.Errorf("cannot detect input format from %q; use --format", path)
}

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatSMI, FormatCSV, FormatTSV:
		return Format(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown input format %q (want smi, csv, or tsv)", s)
}

// normalizedReader strips a UTF-8/UTF-16 BOM and applies NFC normalization,
// so canonical forms compare equal regardless of how the source file encoded
// its text.
func normalizedReader(r io.Reader) io.Reader {
	utf := unicode.UTF8BOM.NewDecoder()
	return transform.NewReader(r, transform.Chain(utf, norm.NFC))
}

// countLines makes a cheap first pass over the file for the progress total.
// Errors are not fatal; the loader just runs without a total.
func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(normalizedReader(f))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n
}

// scanSource adapts a bufio.Scanner to the engine's LineSource.
type scanSource struct {
	sc *bufio.Scanner
}

func (s *scanSource) Next() (string, bool, error) {
	if s.sc.Scan() {
		return strings.TrimRight(s.sc.Text(), "\r"), true, nil
	}
	if err := s.sc.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}

func newScanSource(r io.Reader) *scanSource {
	sc := bufio.NewScanner(normalizedReader(r))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &scanSource{sc: sc}
}

// File loads a dataset from path. Malformed lines are skipped with counted
// warnings; only setup failures (unreadable file, unknown format, missing
// SMILES column) return an error.
func File(e engine.Exec, path string, opts Options) (record.Dataset, engine.Stats, error) {
	format := opts.Format
	if format == "" {
		var err error
		format, err = DetectFormat(path)
		if err != nil {
			return nil, engine.Stats{}, err
		}
	}

	total := countLines(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, engine.Stats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	src := newScanSource(f)
	name := "Loading molecules from " + filepath.Base(path)

	switch format {
	case FormatSMI:
		return e.LoadChunked(name, src, opts.ChunkSize, total, parseSMILine)
	case FormatCSV:
		return loadDelimited(e, name, src, ',', total, opts)
	case FormatTSV:
		return loadDelimited(e, name, src, '\t', total, opts)
	}
	return nil, engine.Stats{}, fmt.Errorf("unknown input format %q", format)
}

// parseSMILine parses one ".smi" line: SMILES, then an optional
// whitespace-separated name carried into the Name column.
func parseSMILine(line string) (record.Record, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return record.Record{}, fmt.Errorf("blank entry")
	}
	m, err := mol.Parse(fields[0])
	if err != nil {
		return record.Record{}, fmt.Errorf("parse %q: %w", fields[0], err)
	}
	r := record.New(m)
	if len(fields) > 1 {
		r.Props["Name"] = strings.Join(fields[1:], " ")
	}
	return r, nil
}

// loadDelimited streams a header-first delimited file. The header row is
// consumed up front to resolve the SMILES column; the remaining rows go
// through the chunked loader.
func loadDelimited(e engine.Exec, name string, src *scanSource, sep rune, total int, opts Options) (record.Dataset, engine.Stats, error) {
	header, ok, err := src.Next()
	if err != nil {
		return nil, engine.Stats{}, fmt.Errorf("read header: %w", err)
	}
	if !ok {
		return record.Dataset{}, engine.Stats{}, nil
	}

	cols := splitRow(header, sep)
	smilesIdx, err := resolveSmilesCol(cols, opts.SmilesCol)
	if err != nil {
		return nil, engine.Stats{}, err
	}
	if total > 0 {
		total-- // header
	}

	parse := func(line string) (record.Record, error) {
		fields := splitRow(line, sep)
		if smilesIdx >= len(fields) {
			return record.Record{}, fmt.Errorf("row has %d columns, SMILES column is %d", len(fields), smilesIdx+1)
		}
		m, err := mol.Parse(fields[smilesIdx])
		if err != nil {
			return record.Record{}, fmt.Errorf("parse %q: %w", fields[smilesIdx], err)
		}
		r := record.New(m)
		for i, v := range fields {
			if i == smilesIdx || i >= len(cols) || v == "" {
				continue
			}
			r.Props[cols[i]] = v
		}
		return r, nil
	}

	return e.LoadChunked(name, src, opts.ChunkSize, total, parse)
}

func resolveSmilesCol(cols []string, want string) (int, error) {
	if want != "" {
		for i, c := range cols {
			if c == want {
				return i, nil
			}
		}
		return 0, fmt.Errorf("SMILES column %q not found in header %v", want, cols)
	}
	for _, h := range smilesHeaders {
		for i, c := range cols {
			if c == h {
				return i, nil
			}
		}
	}
	return 0, nil
}

// splitRow splits one delimited row, honoring double quotes around fields.
// Embedded quotes use the CSV "" escape.
func splitRow(line string, sep rune) []string {
	var (
		out    []string
		field  strings.Builder
		quoted bool
	)
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '"':
			if quoted && i+1 < len(runes) && runes[i+1] == '"' {
				field.WriteRune('"')
				i++
			} else {
				quoted = !quoted
			}
		case c == sep && !quoted:
			out = append(out, strings.TrimSpace(field.String()))
			field.Reset()
		default:
			field.WriteRune(c)
		}
	}
	out = append(out, strings.TrimSpace(field.String()))
	return out
}

// Literals builds a dataset from SMILES strings given directly on the command
// line. Bad entries are warnings, matching the per-item policy of file loads.
func Literals(e engine.Exec, smiles []string) (record.Dataset, engine.Stats) {
	ds := make(record.Dataset, 0, len(smiles))
	slots := make([]*record.Record, len(smiles))
	st := e.Run("Loading molecules", len(smiles), func(i int) error {
		m, err := mol.Parse(smiles[i])
		if err != nil {
			return fmt.Errorf("parse %q: %w", smiles[i], err)
		}
		r := record.New(m)
		slots[i] = &r
		return nil
	})
	for _, s := range slots {
		if s != nil {
			ds = append(ds, *s)
		}
	}
	return ds, st
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"chemcli/internal/config"
	"chemcli/internal/engine"
	"chemcli/internal/loader"
	"chemcli/internal/metrics"
	"chemcli/internal/metrics/prompush"
	"chemcli/internal/record"
	"chemcli/internal/stages"
	"chemcli/internal/storage"
	"chemcli/internal/storage/postgres"
	"chemcli/internal/storage/sqlite"
	"chemcli/internal/writer"
)

const version = "0.3.0"

// multiFlag collects repeated string flags.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

type options struct {
	file      string
	format    string
	smiles    multiFlag
	smilesCol string
	output    string
	outFormat string
	keepData  bool
	workers   int
	chunkSize int
	quiet     bool
	verbose   bool

	canonicalize bool
	dedupe       bool
	desalt       bool
	rmInvalid    bool
	rmStereo     bool

	fragment     bool
	fragmentMax  int
	fragmentKeep bool
	stereoCount  int
	synCount     int

	match    string
	matchCol string

	descriptors bool
	fingerprint bool
	fpRadius    int

	filters  multiFlag
	lipinski bool
	ro5Drop  bool

	sortBy     string
	descending bool

	split     bool
	trainFrac float64
	testFrac  float64
	seed      int64

	dbDSN   string
	dbTable string

	metricsBackend string
	pushgatewayURL string

	configPath string
	validate   bool
}

// main is the entry point for the chemcli binary. It parses the stage flags,
// optionally initializes a metrics backend, and runs the pipeline.
func main() {
	var o options

	flag.StringVar(&o.file, "file", "", "input file (.smi, .csv, .tsv)")
	flag.StringVar(&o.format, "format", "", "input format override (smi, csv, tsv)")
	flag.Var(&o.smiles, "smiles", "literal SMILES input (repeatable; alternative to --file)")
	flag.StringVar(&o.smilesCol, "smiles-col", "", "name of the SMILES column in delimited input")
	flag.StringVar(&o.output, "output", "", "output file path")
	flag.StringVar(&o.outFormat, "output-format", "", "output format override (smi, csv, tsv)")
	flag.BoolVar(&o.keepData, "keep-original-data", false, "carry all input columns into the output")
	flag.IntVar(&o.workers, "workers", 0, "worker pool size (0 = cores minus 2)")
	flag.IntVar(&o.workers, "mpu", 0, "alias for --workers")
	flag.IntVar(&o.workers, "parallels", 0, "alias for --workers")
	flag.IntVar(&o.workers, "multiprocessing", 0, "alias for --workers")
	flag.IntVar(&o.chunkSize, "chunk-size", 0, "lines per parallel parse batch (0 = default)")
	flag.BoolVar(&o.quiet, "quiet", false, "suppress per-item warnings")
	flag.BoolVar(&o.verbose, "verbose", false, "add rate and ETA to progress lines")

	flag.BoolVar(&o.canonicalize, "canonicalize", false, "rewrite SMILES in canonical form")
	flag.BoolVar(&o.dedupe, "deduplicate", false, "drop duplicate molecules (first occurrence wins)")
	flag.BoolVar(&o.desalt, "desalt", false, "keep only the largest fragment of each molecule")
	flag.BoolVar(&o.rmInvalid, "remove-invalid", false, "drop records that failed to parse")
	flag.BoolVar(&o.rmStereo, "remove-stereo", false, "strip stereochemistry tags")

	flag.BoolVar(&o.fragment, "fragment", false, "expand multi-component records into fragments")
	flag.IntVar(&o.fragmentMax, "fragment-max", 0, "max fragments per record (0 = no limit)")
	flag.BoolVar(&o.fragmentKeep, "fragment-keep", false, "also keep the unfragmented parent record")
	flag.IntVar(&o.stereoCount, "stereoisomers", 0, "generate up to N stereo variants per molecule")
	flag.IntVar(&o.synCount, "synonyms", 0, "generate up to N alternate SMILES spellings per molecule")

	flag.StringVar(&o.match, "match", "", "annotate records matching this substructure pattern")
	flag.StringVar(&o.matchCol, "match-col", "Match", "column name for --match results")

	flag.BoolVar(&o.descriptors, "descriptors", false, "compute property columns (MW, HBA, HBD, ...)")
	flag.BoolVar(&o.fingerprint, "fingerprint", false, "compute a hashed structural fingerprint column")
	flag.IntVar(&o.fpRadius, "fp-radius", 3, "max shingle width for --fingerprint")

	flag.Var(&o.filters, "filter", "numeric property filter like 'MW<500' (repeatable)")
	flag.BoolVar(&o.lipinski, "lipinski", false, "annotate records with a rule-of-five PASS/FAIL column")
	flag.BoolVar(&o.ro5Drop, "lipinski-drop", false, "with --lipinski, drop failing records")

	flag.StringVar(&o.sortBy, "sort-by", "", "sort by a numeric property column")
	flag.BoolVar(&o.descending, "descending", false, "sort descending instead of ascending")

	flag.BoolVar(&o.split, "split", false, "write train/test/validation splits instead of one file")
	flag.Float64Var(&o.trainFrac, "train-frac", 0.8, "fraction of records in the train split")
	flag.Float64Var(&o.testFrac, "test-frac", 0.1, "fraction of records in the test split")
	flag.Int64Var(&o.seed, "seed", 42, "shuffle seed for --split")

	flag.StringVar(&o.dbDSN, "db", "", "also export to a database (postgres://... or sqlite:path)")
	flag.StringVar(&o.dbTable, "db-table", "molecules", "target table for --db")

	flag.StringVar(&o.metricsBackend, "metrics-backend", "none", "metrics backend (pushgateway, none)")
	flag.StringVar(&o.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")

	flag.StringVar(&o.configPath, "config", "", "pipeline config JSON path (replaces stage flags)")
	flag.BoolVar(&o.validate, "validate", false, "validate the pipeline config and exit")

	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("chemcli %s\n", version)
		return
	}
	if o.configPath != "" {
		runConfigured(o)
		return
	}
	if o.file == "" && len(o.smiles) == 0 {
		fatalf("no input: use --file or --smiles")
	}
	if o.file != "" && len(o.smiles) > 0 {
		fatalf("--file and --smiles are mutually exclusive")
	}
	if o.output == "" && o.dbDSN == "" {
		fatalf("no output: use --output or --db")
	}

	setupMetrics(o)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	start := time.Now()
	if err := run(context.Background(), o); err != nil {
		fatalf("%v", err)
	}
	if o.verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

// runConfigured handles --config: decode, validate, and execute a pipeline
// file.
func runConfigured(o options) {
	f, err := os.Open(o.configPath)
	if err != nil {
		fatalf("open config: %v", err)
	}
	defer f.Close()

	var p config.Pipeline
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		fatalf("decode config: %v", err)
	}

	hasError := false
	for _, iss := range config.ValidatePipeline(p) {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		fatalf("configuration is invalid: %s", o.configPath)
	}
	if o.validate {
		log.Printf("configuration is valid: %s", o.configPath)
		return
	}

	setupMetrics(o)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	start := time.Now()
	if err := runPipeline(context.Background(), p); err != nil {
		fatalf("%v", err)
	}
	if p.Runtime.Verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

// setupMetrics decides the metrics backend: flag, then env, then nop.
func setupMetrics(o options) {
	backendName := o.metricsBackend
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		gwURL := o.pushgatewayURL
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend("chemcli", gwURL)
		if err != nil {
			log.Printf("metrics: failed to init pushgateway backend: %v; using nop", err)
			return
		}
		metrics.SetBackend(b)
	case "", "none":
		// metrics disabled; nop backend remains
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

func run(ctx context.Context, o options) error {
	e := engine.Exec{
		Workers: o.workers,
		Verbose: o.verbose,
		Quiet:   o.quiet,
	}

	ds, err := load(e, o)
	if err != nil {
		return err
	}
	metrics.RecordRecords("loaded", int64(len(ds)))

	ds, err = transform(e, ds, o)
	if err != nil {
		return err
	}

	if o.output != "" {
		if err := writeOutput(e, ds, o); err != nil {
			return err
		}
		metrics.RecordRecords("written", int64(len(ds)))
	}
	if o.dbDSN != "" {
		if err := exportDB(ctx, ds, o); err != nil {
			return err
		}
	}
	return nil
}

func load(e engine.Exec, o options) (record.Dataset, error) {
	if len(o.smiles) > 0 {
		ds, st := loader.Literals(e, o.smiles)
		metrics.RecordRecords("parse_errors", int64(st.Failed))
		return ds, nil
	}

	opts := loader.Options{SmilesCol: o.smilesCol, ChunkSize: o.chunkSize}
	if o.format != "" {
		f, err := loader.ParseFormat(o.format)
		if err != nil {
			return nil, err
		}
		opts.Format = f
	}

	begin := time.Now()
	ds, st, err := loader.File(e, o.file, opts)
	if err != nil {
		return nil, err
	}
	metrics.RecordStage("load", st.Failed, time.Since(begin))
	metrics.RecordRecords("parse_errors", int64(st.Failed))
	return ds, nil
}

// transform applies the enabled stages in a fixed order, independent of flag
// order on the command line.
func transform(e engine.Exec, ds record.Dataset, o options) (record.Dataset, error) {
	timed := func(stage string, f func() engine.Stats) {
		begin := time.Now()
		st := f()
		metrics.RecordStage(stage, st.Failed, time.Since(begin))
	}

	if o.rmInvalid {
		timed("remove_invalid", func() (st engine.Stats) {
			ds, st = stages.RemoveInvalid(e, ds)
			return st
		})
	}
	if o.desalt {
		timed("desalt", func() engine.Stats { return stages.Desalt(e, ds) })
	}
	if o.rmStereo {
		timed("remove_stereo", func() engine.Stats { return stages.RemoveStereo(e, ds) })
	}
	if o.canonicalize {
		timed("canonicalize", func() engine.Stats { return stages.Canonicalize(e, ds) })
	}
	if o.fragment {
		timed("fragment", func() (st engine.Stats) {
			before := len(ds)
			ds, st = stages.Fragment(e, ds, o.fragmentMax, o.fragmentKeep)
			metrics.RecordRecords("generated", int64(len(ds)-before))
			return st
		})
	}
	if o.stereoCount > 0 {
		timed("stereoisomers", func() (st engine.Stats) {
			before := len(ds)
			ds, st = stages.Stereoisomers(e, ds, o.stereoCount)
			metrics.RecordRecords("generated", int64(len(ds)-before))
			return st
		})
	}
	if o.synCount > 0 {
		timed("synonyms", func() (st engine.Stats) {
			before := len(ds)
			ds, st = stages.Synonyms(e, ds, o.synCount)
			metrics.RecordRecords("generated", int64(len(ds)-before))
			return st
		})
	}
	if o.dedupe {
		timed("deduplicate", func() (st engine.Stats) {
			before := len(ds)
			ds, st = stages.Deduplicate(e, ds)
			metrics.RecordRecords("dropped", int64(before-len(ds)))
			return st
		})
	}
	if o.match != "" {
		timed("match", func() engine.Stats { return stages.Match(e, ds, o.match, o.matchCol) })
	}
	if o.descriptors {
		timed("descriptors", func() engine.Stats { return stages.Descriptors(e, ds) })
	}
	if o.fingerprint {
		timed("fingerprint", func() engine.Stats { return stages.Fingerprint(e, ds, o.fpRadius) })
	}
	if len(o.filters) > 0 {
		parsed := make([]stages.PropertyFilter, 0, len(o.filters))
		for _, expr := range o.filters {
			f, err := stages.ParseFilter(expr)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, f)
		}
		timed("filter", func() (st engine.Stats) {
			before := len(ds)
			ds, st = stages.FilterByProperty(e, ds, parsed)
			metrics.RecordRecords("dropped", int64(before-len(ds)))
			return st
		})
	}
	if o.lipinski || o.ro5Drop {
		timed("lipinski", func() (st engine.Stats) {
			before := len(ds)
			ds, st = stages.RuleFilter(e, ds, o.ro5Drop)
			metrics.RecordRecords("dropped", int64(before-len(ds)))
			return st
		})
	}
	if o.sortBy != "" {
		timed("sort", func() (st engine.Stats) {
			ds, st = stages.SortByProperty(e, ds, o.sortBy, !o.descending)
			return st
		})
	}
	return ds, nil
}

func writeOutput(e engine.Exec, ds record.Dataset, o options) error {
	opts := writer.Options{KeepData: o.keepData}
	if o.outFormat != "" {
		f, err := writer.ParseFormat(o.outFormat)
		if err != nil {
			return err
		}
		opts.Format = f
	}
	if o.split {
		return writer.Split(e, ds, o.output, opts, o.trainFrac, o.testFrac, o.seed)
	}
	return writer.File(e, ds, o.output, opts)
}

// exportDB pushes the dataset into a database sink chosen by the DSN scheme.
func exportDB(ctx context.Context, ds record.Dataset, o options) error {
	var (
		sink    storage.Sink
		closeFn func()
		err     error
	)
	switch scheme := storage.Scheme(o.dbDSN); scheme {
	case "postgres", "postgresql":
		sink, closeFn, err = postgres.NewSink(ctx, postgres.Config{DSN: o.dbDSN, Table: o.dbTable})
	case "sqlite", "file":
		dsn := strings.TrimPrefix(o.dbDSN, "sqlite:")
		sink, closeFn, err = sqlite.NewSink(ctx, sqlite.Config{DSN: dsn, Table: o.dbTable})
	default:
		return fmt.Errorf("unsupported database scheme %q in %q", scheme, o.dbDSN)
	}
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := storage.Export(ctx, sink, ds, o.keepData)
	if err != nil {
		return err
	}
	log.Printf("-- Exported %d molecules to %s", n, o.dbTable)
	metrics.RecordRecords("exported", n)
	return nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

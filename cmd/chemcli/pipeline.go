package main

import (
	"context"
	"fmt"
	"time"

	"chemcli/internal/config"
	"chemcli/internal/engine"
	"chemcli/internal/loader"
	"chemcli/internal/metrics"
	"chemcli/internal/record"
	"chemcli/internal/stages"
	"chemcli/internal/writer"
)

// runPipeline executes a config-driven run: load, apply the stage chain in
// the order the file lists it, write. Flag-driven runs go through run()
// instead.
func runPipeline(ctx context.Context, p config.Pipeline) error {
	e := engine.Exec{
		Workers: p.Runtime.Workers,
		Verbose: p.Runtime.Verbose,
		Quiet:   p.Runtime.Quiet,
	}

	var (
		ds  record.Dataset
		err error
	)
	if len(p.Input.Smiles) > 0 {
		var st engine.Stats
		ds, st = loader.Literals(e, p.Input.Smiles)
		metrics.RecordRecords("parse_errors", int64(st.Failed))
	} else {
		opts := loader.Options{SmilesCol: p.Input.SmilesCol, ChunkSize: p.Runtime.ChunkSize}
		if p.Input.Format != "" {
			opts.Format, err = loader.ParseFormat(p.Input.Format)
			if err != nil {
				return err
			}
		}
		begin := time.Now()
		var st engine.Stats
		ds, st, err = loader.File(e, p.Input.File, opts)
		if err != nil {
			return err
		}
		metrics.RecordStage("load", st.Failed, time.Since(begin))
		metrics.RecordRecords("parse_errors", int64(st.Failed))
	}
	metrics.RecordRecords("loaded", int64(len(ds)))

	for i, s := range p.Stages {
		ds, err = applyStage(e, ds, s)
		if err != nil {
			return fmt.Errorf("stages[%d] %s: %w", i, s.Kind, err)
		}
	}

	if p.Output.Path != "" {
		opts := writer.Options{KeepData: p.Output.KeepOriginalData}
		if p.Output.Format != "" {
			opts.Format, err = writer.ParseFormat(p.Output.Format)
			if err != nil {
				return err
			}
		}
		if sp := p.Output.Split; sp.Enabled {
			err = writer.Split(e, ds, p.Output.Path, opts, sp.TrainFrac, sp.TestFrac, sp.Seed)
		} else {
			err = writer.File(e, ds, p.Output.Path, opts)
		}
		if err != nil {
			return err
		}
		metrics.RecordRecords("written", int64(len(ds)))
	}
	if p.Output.DB.DSN != "" {
		o := options{dbDSN: p.Output.DB.DSN, dbTable: p.Output.DB.Table, keepData: p.Output.KeepOriginalData}
		if o.dbTable == "" {
			o.dbTable = "molecules"
		}
		if err := exportDB(ctx, ds, o); err != nil {
			return err
		}
	}
	return nil
}

// applyStage dispatches one configured stage by kind. Kinds are validated up
// front by config.ValidatePipeline; an unknown kind here is still an error so
// a skipped validation cannot silently drop work.
func applyStage(e engine.Exec, ds record.Dataset, s config.Stage) (record.Dataset, error) {
	begin := time.Now()
	var st engine.Stats

	switch s.Kind {
	case "remove_invalid":
		ds, st = stages.RemoveInvalid(e, ds)
	case "desalt":
		st = stages.Desalt(e, ds)
	case "remove_stereo":
		st = stages.RemoveStereo(e, ds)
	case "canonicalize":
		st = stages.Canonicalize(e, ds)
	case "deduplicate":
		ds, st = stages.Deduplicate(e, ds)
	case "descriptors":
		st = stages.Descriptors(e, ds)
	case "fragment":
		ds, st = stages.Fragment(e, ds, s.Options.Int("max", 0), s.Options.Bool("keep_original", false))
	case "stereoisomers":
		ds, st = stages.Stereoisomers(e, ds, s.Options.Int("count", 0))
	case "synonyms":
		ds, st = stages.Synonyms(e, ds, s.Options.Int("count", 0))
	case "match":
		st = stages.Match(e, ds, s.Options.String("pattern", ""), s.Options.String("column", "Match"))
	case "fingerprint":
		st = stages.Fingerprint(e, ds, s.Options.Int("radius", 3))
	case "filter":
		exprs := s.Options.StringSlice("exprs")
		filters := make([]stages.PropertyFilter, 0, len(exprs))
		for _, expr := range exprs {
			f, err := stages.ParseFilter(expr)
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)
		}
		ds, st = stages.FilterByProperty(e, ds, filters)
	case "lipinski":
		ds, st = stages.RuleFilter(e, ds, s.Options.Bool("drop", false))
	case "sort":
		ds, st = stages.SortByProperty(e, ds, s.Options.String("by", ""), !s.Options.Bool("descending", false))
	default:
		return nil, fmt.Errorf("unknown stage kind %q", s.Kind)
	}

	metrics.RecordStage(s.Kind, st.Failed, time.Since(begin))
	return ds, nil
}

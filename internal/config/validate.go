// This file adds a lightweight linter/validator for Pipeline values. It
// performs static checks over a decoded Pipeline and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "output.path",
// "stages[1].kind"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// stageKinds maps every known stage kind to the option keys it understands.
var stageKinds = map[string][]string{
	"remove_invalid": nil,
	"desalt":         nil,
	"remove_stereo":  nil,
	"canonicalize":   nil,
	"deduplicate":    nil,
	"descriptors":    nil,
	"fragment":       {"max", "keep_original"},
	"stereoisomers":  {"count"},
	"synonyms":       {"count"},
	"match":          {"pattern", "column"},
	"fingerprint":    {"radius"},
	"filter":         {"exprs"},
	"lipinski":       {"drop"},
	"sort":           {"by", "descending"},
}

// ValidatePipeline performs static validation of a Pipeline. It does not
// mutate the pipeline; it returns a slice of Issue values, and callers decide
// whether warnings are fatal.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	issues = append(issues, validateInput(p.Input)...)
	issues = append(issues, validateStages(p.Stages)...)
	issues = append(issues, validateOutput(p.Output)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	return issues
}

func validateInput(in Input) []Issue {
	var issues []Issue
	hasFile := strings.TrimSpace(in.File) != ""
	if !hasFile && len(in.Smiles) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input",
			Message:  "either input.file or input.smiles is required",
		})
	}
	if hasFile && len(in.Smiles) > 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input",
			Message:  "input.file and input.smiles are mutually exclusive",
		})
	}
	switch in.Format {
	case "", "smi", "csv", "tsv":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input.format",
			Message:  fmt.Sprintf("unknown input format %q (want smi, csv, or tsv)", in.Format),
		})
	}
	return issues
}

func validateStages(stages []Stage) []Issue {
	var issues []Issue
	if len(stages) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "stages",
			Message:  "no stages configured; loaded records will be written as-is",
		})
		return issues
	}

	for i, s := range stages {
		path := fmt.Sprintf("stages[%d].kind", i)
		if strings.TrimSpace(s.Kind) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  "stage kind must not be empty",
			})
			continue
		}
		keys, known := stageKinds[s.Kind]
		if !known {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("unknown stage kind %q", s.Kind),
			})
			continue
		}
		for opt := range s.Options {
			if !contains(keys, opt) {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     fmt.Sprintf("stages[%d].options.%s", i, opt),
					Message:  fmt.Sprintf("option %q is not used by stage %q", opt, s.Kind),
				})
			}
		}

		// Stage-specific checks.
		switch s.Kind {
		case "stereoisomers", "synonyms":
			if s.Options.Int("count", 0) <= 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     fmt.Sprintf("stages[%d].options.count", i),
					Message:  fmt.Sprintf("%s requires a positive count", s.Kind),
				})
			}
		case "match":
			if s.Options.String("pattern", "") == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     fmt.Sprintf("stages[%d].options.pattern", i),
					Message:  "match requires a pattern",
				})
			}
		case "filter":
			if len(s.Options.StringSlice("exprs")) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     fmt.Sprintf("stages[%d].options.exprs", i),
					Message:  "filter requires at least one expression",
				})
			}
		case "sort":
			if s.Options.String("by", "") == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     fmt.Sprintf("stages[%d].options.by", i),
					Message:  "sort requires a property name",
				})
			}
		}
	}
	return issues
}

func validateOutput(out Output) []Issue {
	var issues []Issue
	if strings.TrimSpace(out.Path) == "" && strings.TrimSpace(out.DB.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output",
			Message:  "either output.path or output.db.dsn is required",
		})
	}
	switch out.Format {
	case "", "smi", "csv", "tsv":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.format",
			Message:  fmt.Sprintf("unknown output format %q (want smi, csv, or tsv)", out.Format),
		})
	}
	if out.Split.Enabled {
		if out.Split.TrainFrac <= 0 || out.Split.TestFrac < 0 ||
			out.Split.TrainFrac+out.Split.TestFrac > 1 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "output.split",
				Message: fmt.Sprintf("bad split fractions %.2f/%.2f",
					out.Split.TrainFrac, out.Split.TestFrac),
			})
		}
	}
	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue
	if r.Workers < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.workers",
			Message:  "workers must not be negative",
		})
	}
	if r.ChunkSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.chunk_size",
			Message:  "chunk_size must not be negative",
		})
	}
	if r.Verbose && r.Quiet {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime",
			Message:  "verbose and quiet are both set; quiet wins for warnings",
		})
	}
	return issues
}

func contains(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

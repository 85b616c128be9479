// Package config defines the JSON-serializable pipeline model for config-driven
// runs. A pipeline file names the input, an ordered stage chain, and the
// output; it is the scriptable alternative to spelling the same run out in
// flags.
//
// Decoding is performed by the standard library, with a light Options helper
// for typed access to per-stage settings. Example (trimmed):
//
//	{
//	  "input":  { "file": "in.csv", "smiles_col": "smiles" },
//	  "stages": [
//	    { "kind": "desalt" },
//	    { "kind": "stereoisomers", "options": { "count": 4 } }
//	  ],
//	  "output": { "path": "out.smi" }
//	}
package config

import "encoding/json"

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Input describes where records come from.
	Input Input `json:"input"`

	// Stages lists the ordered transformations applied to loaded records.
	// Each stage has a kind and an options bag interpreted by the stage
	// implementation.
	Stages []Stage `json:"stages"`

	// Output describes where processed records are written.
	Output Output `json:"output"`

	Runtime RuntimeConfig `json:"runtime"`
}

// Input identifies the record source.
type Input struct {
	// File is the local path to the input file. Exactly one of File and
	// Smiles must be set.
	File string `json:"file"`

	// Format overrides extension-based detection (smi, csv, tsv).
	Format string `json:"format"`

	// SmilesCol names the SMILES column for delimited input.
	SmilesCol string `json:"smiles_col"`

	// Smiles carries literal structures instead of a file.
	Smiles []string `json:"smiles"`
}

// Stage defines a single transformation step. The sequence of stages forms
// the chain executed by the pipeline, in order.
type Stage struct {
	// Kind selects the stage implementation (e.g. "canonicalize",
	// "deduplicate", "stereoisomers", "filter"). Implementations define
	// their own options.
	Kind string `json:"kind"`

	// Options is a free-form map interpreted by the selected stage.
	Options Options `json:"options"`
}

// Output selects the destinations for processed records. Path and DB may both
// be set; at least one must be.
type Output struct {
	// Path is the output file path.
	Path string `json:"path"`

	// Format overrides extension-based detection (smi, csv, tsv).
	Format string `json:"format"`

	// KeepOriginalData carries all property columns into the output.
	KeepOriginalData bool `json:"keep_original_data"`

	// Split, when enabled, writes train/test/validation files instead of one.
	Split SplitConfig `json:"split"`

	// DB configures an optional database export.
	DB DBConfig `json:"db"`
}

// SplitConfig configures the train/test/validation partition.
type SplitConfig struct {
	Enabled   bool    `json:"enabled"`
	TrainFrac float64 `json:"train_frac"`
	TestFrac  float64 `json:"test_frac"`
	Seed      int64   `json:"seed"`
}

// DBConfig configures the database sink.
type DBConfig struct {
	// DSN selects the backend by scheme (postgres://..., sqlite:path).
	DSN string `json:"dsn"`

	// Table is the target table name, possibly schema-qualified.
	Table string `json:"table"`
}

// RuntimeConfig controls concurrency and reporting.
type RuntimeConfig struct {
	Workers   int  `json:"workers"`
	ChunkSize int  `json:"chunk_size"`
	Verbose   bool `json:"verbose"`
	Quiet     bool `json:"quiet"`
}

// Options is a small helper to fetch typed values from arbitrary JSON maps.
// It performs only minimal type coercion and returns the provided default
// when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers are decoded as
// float64 by encoding/json, so this method accepts float64 and casts to int.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// StringSlice returns a []string for key when the value is an array of
// strings. Returns nil when the key is missing or the value is not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler so that a missing or null
// "options" object decodes to a non-nil, empty Options map. This removes the
// need to nil-check Options at call sites.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}

// Package schema infers column types from samples of loosely typed rows and
// coerces row chunks to an inferred schema.
package schema

import (
	"strings"

	"dpm/internal/table"
)

// Inference defaults.
const (
	DefaultSampleSize = 1000
	DefaultThreshold  = 0.95
)

// timestampNameHints force TIMESTAMP when contained in a lower-cased column
// name.
var timestampNameHints = []string{"fecha", "date"}

// Schema is an ordered list of typed columns.
type Schema []table.Column

// Type returns the declared type of the named column.
func (s Schema) Type(name string) (table.Type, bool) {
	for _, c := range s {
		if c.Name == name {
			return c.Type, true
		}
	}
	return "", false
}

// Options tunes Infer.
type Options struct {
	SampleSize int
	Threshold  float64
	// DisableNameHints turns off the TIMESTAMP override for date-like names.
	DisableNameHints bool
}

func (o Options) withDefaults() Options {
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.Threshold <= 0 || o.Threshold > 1 {
		o.Threshold = DefaultThreshold
	}
	return o
}

// Infer classifies every column of t from its first SampleSize rows.
func Infer(t *table.Table, opts Options) Schema {
	opts = opts.withDefaults()
	sample := t.Rows
	if len(sample) > opts.SampleSize {
		sample = sample[:opts.SampleSize]
	}

	out := make(Schema, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = table.Column{Name: c.Name}
		if !opts.DisableNameHints && HasTimestampName(c.Name) {
			out[i].Type = table.TypeTimestamp
			continue
		}
		values := make([]any, len(sample))
		for r, row := range sample {
			values[r] = row[i]
		}
		out[i].Type = InferType(values, opts.Threshold)
	}
	return out
}

// HasTimestampName reports whether a column name alone marks it TIMESTAMP.
func HasTimestampName(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range timestampNameHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// InferType classifies one column. Candidates are tried in the order BOOL,
// INT64, FLOAT64, TIMESTAMP; the first whose predicate holds for at least
// threshold of the non-null values wins. All-null columns are STRING.
func InferType(values []any, threshold float64) table.Type {
	present := make([]any, 0, len(values))
	for _, v := range values {
		if !table.IsBlank(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return table.TypeString
	}

	if isBoolColumn(present, threshold) {
		return table.TypeBool
	}
	if ratio(present, func(v any) bool { _, ok := table.ToInt(v); return ok }) >= threshold {
		return table.TypeInt64
	}
	if ratio(present, func(v any) bool { _, ok := table.ToFloat(v); return ok }) >= threshold {
		return table.TypeFloat64
	}
	if ratio(present, func(v any) bool { _, ok := table.ToTime(v, true); return ok }) >= threshold {
		return table.TypeTimestamp
	}
	return table.TypeString
}

// isBoolColumn requires enough values in the boolean vocabulary and at most
// two distinct booleans among them. Values outside the vocabulary count
// against the threshold only.
func isBoolColumn(values []any, threshold float64) bool {
	var hits int
	seen := make(map[bool]struct{}, 2)
	for _, v := range values {
		if b, ok := table.ToBool(v); ok {
			hits++
			seen[b] = struct{}{}
		}
	}
	if float64(hits)/float64(len(values)) < threshold {
		return false
	}
	return len(seen) <= 2
}

func ratio(values []any, pred func(any) bool) float64 {
	var hits int
	for _, v := range values {
		if pred(v) {
			hits++
		}
	}
	return float64(hits) / float64(len(values))
}

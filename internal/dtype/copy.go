// Package dtype copies column types from a reference table onto a target
// table, degrading gracefully when values do not convert.
package dtype

import (
	"log/slog"
	"math"
	"strings"

	"dpm/internal/table"
)

// Options configures Copy. Use DefaultOptions for the usual settings.
type Options struct {
	// DecimalComma replaces "," with "." before numeric parsing.
	DecimalComma bool
	// InPlace modifies target instead of a clone.
	InPlace bool
	Logger  *slog.Logger
}

// DefaultOptions returns Options with DecimalComma enabled.
func DefaultOptions() Options {
	return Options{DecimalComma: true}
}

// Report lists the outcome for every column the two tables share.
type Report struct {
	Casted  []string `json:"casted"`
	Failed  []string `json:"failed"`
	Skipped []string `json:"skipped"`
}

// Copy converts every column of target that also exists in reference to the
// reference column's type. Each column goes through, in order: a strict
// cast, a permissive numeric parse (numeric types), a permissive date parse
// (timestamps), and finally a plain string rendering reported as failed.
func Copy(reference, target *table.Table, opts Options) (*table.Table, Report) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := target
	if !opts.InPlace {
		out = target.Clone()
	}

	var rep Report
	for idx, col := range out.Columns {
		refIdx := reference.ColumnIndex(col.Name)
		if refIdx < 0 {
			continue
		}
		want := reference.Columns[refIdx].Type
		if col.Type == want {
			rep.Skipped = append(rep.Skipped, col.Name)
			continue
		}

		values := out.Values(idx)
		converted, ok := convert(values, want, opts.DecimalComma)
		if ok {
			out.SetValues(idx, converted)
			out.Columns[idx].Type = want
			rep.Casted = append(rep.Casted, col.Name)
			continue
		}
		logger.Warn("column kept as text, type conversion failed",
			"column", col.Name, "from", col.Type, "to", want)
		out.SetValues(idx, asStrings(values))
		out.Columns[idx].Type = table.TypeString
		rep.Failed = append(rep.Failed, col.Name)
	}
	return out, rep
}

func convert(values []any, want table.Type, decimalComma bool) ([]any, bool) {
	if cast, err := table.CastStrict(values, want); err == nil {
		return cast, true
	}
	switch {
	case want.IsNumeric():
		return coerceNumeric(values, want == table.TypeInt64, decimalComma)
	case want == table.TypeTimestamp:
		return coerceEach(values, func(v any) (any, bool) { return table.ToTime(v, false) })
	}
	return nil, false
}

// coerceNumeric parses numbers permissively. Integer targets are rounded and
// keep nulls. It fails when nothing parsed.
func coerceNumeric(values []any, integer, decimalComma bool) ([]any, bool) {
	return coerceEach(values, func(v any) (any, bool) {
		if s, ok := v.(string); ok && decimalComma {
			v = strings.ReplaceAll(s, ",", ".")
		}
		f, ok := table.ToFloat(v)
		if !ok {
			return nil, false
		}
		if integer {
			return table.FloatToInt(math.Round(f))
		}
		return f, true
	})
}

func coerceEach(values []any, conv func(any) (any, bool)) ([]any, bool) {
	out := make([]any, len(values))
	var parsed int
	for i, v := range values {
		if table.IsNull(v) {
			continue
		}
		if c, ok := conv(v); ok {
			out[i] = c
			parsed++
		}
	}
	return out, parsed > 0
}

func asStrings(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if !table.IsNull(v) {
			out[i] = table.FormatValue(v)
		}
	}
	return out
}

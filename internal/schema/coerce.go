package schema

import (
	"log/slog"
	"math"

	"dpm/internal/table"
)

// nullMarker is the textual null written by several database exporters.
const nullMarker = `\N`

// Apply coerces the columns of chunk named in s, in place, and returns
// chunk. It never fails on a bad cell: unconvertible cells become null, and
// an INT64 column holding a non-integral value falls back to STRING.
func Apply(chunk *table.Table, s Schema, logger *slog.Logger) *table.Table {
	if logger == nil {
		logger = slog.Default()
	}
	for _, col := range s {
		idx := chunk.ColumnIndex(col.Name)
		if idx < 0 {
			continue
		}
		values := chunk.Values(idx)
		typ := col.Type
		var out []any
		switch typ {
		case table.TypeInt64:
			var ok bool
			out, ok = coerceInt(values)
			if !ok {
				logger.Warn("integer column holds non-integral values, loading as STRING",
					"column", col.Name)
				typ = table.TypeString
				out = coerceString(values)
			}
		case table.TypeFloat64:
			out = coerceEach(values, func(v any) (any, bool) { return table.ToFloat(v) })
		case table.TypeTimestamp:
			out = coerceEach(values, func(v any) (any, bool) { return table.ToTime(v, true) })
		case table.TypeBool:
			out = coerceEach(values, func(v any) (any, bool) { return table.ToBool(v) })
		default:
			typ = table.TypeString
			out = coerceString(values)
		}
		chunk.SetValues(idx, out)
		chunk.Columns[idx].Type = typ
	}
	return chunk
}

func coerceEach(values []any, conv func(any) (any, bool)) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if table.IsBlank(v) {
			continue
		}
		if c, ok := conv(v); ok {
			out[i] = c
		}
	}
	return out
}

// coerceInt parses every cell numerically. It reports false when a parsed
// value has a fractional part.
func coerceInt(values []any) ([]any, bool) {
	out := make([]any, len(values))
	for i, v := range values {
		if table.IsBlank(v) {
			continue
		}
		if n, ok := table.ToInt(v); ok {
			out[i] = n
			continue
		}
		if f, ok := table.ToFloat(v); ok && f != math.Trunc(f) {
			return nil, false
		}
	}
	return out, true
}

func coerceString(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if table.IsNull(v) {
			continue
		}
		s := table.FormatValue(v)
		if s == nullMarker {
			continue
		}
		out[i] = s
	}
	return out
}

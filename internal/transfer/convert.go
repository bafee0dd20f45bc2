package transfer

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"dpm/internal/table"
)

// densityThreshold is the share of non-null cells that must parse as numbers
// before a text column is converted.
const densityThreshold = 0.8

var (
	dateNameKeys   = []string{"fecha", "date", "day", "updated_at", "created_at"}
	numberNameKeys = []string{"importe", "monto", "valor", "precio", "saldo", "cantidad", "total",
		"roas", "cpl", "ctr", "cpc", "size", "rows", "columns", "num_"}
)

// sheetEpoch is day zero of spreadsheet serial dates.
var sheetEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

func isDateName(name string) bool {
	n := strings.ToLower(name)
	for _, k := range dateNameKeys {
		if strings.Contains(n, k) {
			return true
		}
	}
	// "dt" only as a whole token, so width or bandwidth stay untouched.
	for _, tok := range strings.FieldsFunc(n, func(r rune) bool { return r == '_' || r == ' ' || r == '-' }) {
		if tok == "dt" {
			return true
		}
	}
	return false
}

func isNumberName(name string) bool {
	n := strings.ToLower(name)
	for _, k := range numberNameKeys {
		if strings.Contains(n, k) {
			return true
		}
	}
	return false
}

// settleTypes gives untyped columns the type all their values share.
func settleTypes(t *table.Table) {
	for i, c := range t.Columns {
		if c.Type != table.TypeAny {
			continue
		}
		t.Columns[i].Type = commonType(t.Values(i))
	}
}

func commonType(values []any) table.Type {
	var ints, floats, bools, times, strs, n int
	for _, v := range values {
		if table.IsNull(v) {
			continue
		}
		n++
		switch v.(type) {
		case int64, int, int32:
			ints++
		case float64, float32:
			floats++
		case bool:
			bools++
		case time.Time:
			times++
		case string:
			strs++
		}
	}
	switch {
	case n == 0:
		return table.TypeAny
	case ints == n:
		return table.TypeInt64
	case ints+floats == n:
		return table.TypeFloat64
	case bools == n:
		return table.TypeBool
	case times == n:
		return table.TypeTimestamp
	case strs == n:
		return table.TypeString
	}
	return table.TypeAny
}

// convertDates parses every date-named column day-first. Spreadsheet serial
// numbers are read as days since 1899-12-30. Unparseable cells become null.
func convertDates(t *table.Table, logger *slog.Logger) {
	for i, c := range t.Columns {
		if !isDateName(c.Name) || c.Type == table.TypeTimestamp {
			continue
		}
		values := t.Values(i)
		var failed int
		for r, v := range values {
			if table.IsNull(v) {
				values[r] = nil
				continue
			}
			ts, ok := toDate(v)
			if !ok {
				failed++
				values[r] = nil
				continue
			}
			values[r] = ts
		}
		t.SetValues(i, values)
		t.Columns[i].Type = table.TypeTimestamp
		if failed > 0 {
			logger.Warn("date cells could not be parsed and were set to null", "column", c.Name, "cells", failed)
		}
	}
}

func toDate(v any) (time.Time, bool) {
	if f, ok := v.(float64); ok {
		if f < 1 || f > 2958465 {
			return time.Time{}, false
		}
		days := math.Floor(f)
		frac := f - days
		return sheetEpoch.AddDate(0, 0, int(days)).Add(time.Duration(frac * float64(24*time.Hour))).Round(time.Second), true
	}
	if n, ok := v.(int64); ok {
		return toDate(float64(n))
	}
	return table.ToTime(v, true)
}

// parseLocaleNumber reads "1.234,56", "1,234.56", "12,5" and "1 234" style
// numbers.
func parseLocaleNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	commas, dots := strings.Count(s, ","), strings.Count(s, ".")
	switch {
	case commas == 1 && dots > 1:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case commas > 1 && dots == 1:
		s = strings.ReplaceAll(s, ",", "")
	case commas == 1 && dots == 0:
		s = strings.Replace(s, ",", ".", 1)
	case commas == 1 && dots == 1:
		if strings.Index(s, ",") > strings.Index(s, ".") {
			s = strings.Replace(strings.Replace(s, ".", "", 1), ",", ".", 1)
		} else {
			s = strings.Replace(s, ",", "", 1)
		}
	default:
		s = strings.ReplaceAll(s, " ", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// convertNamedNumbers converts number-named columns. A column with a cell
// that does not parse is left as it was.
func convertNamedNumbers(t *table.Table, logger *slog.Logger) {
	for i, c := range t.Columns {
		if !isNumberName(c.Name) || c.Type.IsNumeric() {
			continue
		}
		values := t.Values(i)
		out := make([]any, len(values))
		ok := true
		for r, v := range values {
			s, isStr := v.(string)
			switch {
			case !isStr:
				out[r] = v
			case strings.TrimSpace(s) == "":
				out[r] = nil
			default:
				f, good := parseLocaleNumber(s)
				if !good {
					logger.Warn("numeric conversion skipped", "column", c.Name, "value", s)
					ok = false
				}
				out[r] = f
			}
			if !ok {
				break
			}
		}
		if !ok {
			continue
		}
		t.SetValues(i, out)
		if typ := commonType(out); typ.IsNumeric() {
			t.Columns[i].Type = typ
		}
	}
}

// stripThousands removes sep when it is followed by exactly three digits
// and then a non-word character or the end of the string.
func stripThousands(s string, sep byte) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == sep && i+4 <= len(s) && allDigits(s[i+1:i+4]) &&
			(i+4 == len(s) || !isWordByte(s[i+4])) {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func densityNumber(v any) (float64, bool) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, table.FormatValue(v))
	s = stripThousands(s, '.')
	s = stripThousands(s, ',')
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// convertDense converts text columns where at least 80% of the non-null
// cells parse as numbers; the rest become null.
func convertDense(t *table.Table) {
	for i, c := range t.Columns {
		switch c.Type {
		case table.TypeInt64, table.TypeFloat64, table.TypeTimestamp, table.TypeBool:
			continue
		}
		values := t.Values(i)
		var n, hits int
		for _, v := range values {
			if table.IsNull(v) {
				continue
			}
			n++
			if _, ok := densityNumber(v); ok {
				hits++
			}
		}
		if n == 0 || float64(hits)/float64(n) < densityThreshold {
			continue
		}
		for r, v := range values {
			if table.IsNull(v) {
				values[r] = nil
				continue
			}
			if f, ok := densityNumber(v); ok {
				values[r] = f
			} else {
				values[r] = nil
			}
		}
		t.SetValues(i, values)
		t.Columns[i].Type = table.TypeFloat64
	}
}

package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
)

// TimestampLayout is the textual form used for timestamps without a
// fractional second part.
const TimestampLayout = "2006-01-02 15:04:05"

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// IsNull reports whether v is nil or a float NaN.
func IsNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	}
	return false
}

// IsBlank reports whether v is null or a whitespace-only string.
func IsBlank(v any) bool {
	if IsNull(v) {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// FormatValue renders a cell as text. Nulls render as "".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Nanosecond() == 0 {
			return x.Format(TimestampLayout)
		}
		return x.Format("2006-01-02 15:04:05.999999")
	default:
		return fmt.Sprint(x)
	}
}

// ToFloat converts numbers and numeric strings. NaN and infinities are
// rejected.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToInt converts integers, floats with a zero fractional part and strings
// holding either.
func ToInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	f, ok := ToFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return FloatToInt(f)
}

// FloatToInt converts f when it lies in the int64 range. float64(MaxInt64)
// rounds up to 2^63, so the upper bound is exclusive.
func FloatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || f >= 0x1p63 || f < -0x1p63 {
		return 0, false
	}
	return int64(f), true
}

// ToBool converts bools, 0/1 numbers and the words true, false, yes, no,
// si, 1 and 0 (case-insensitive).
func ToBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "si", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
		return false, false
	}
	f, ok := ToFloat(v)
	if !ok {
		return false, false
	}
	switch f {
	case 1:
		return true, true
	case 0:
		return false, true
	}
	return false, false
}

// ToTime parses v as a timestamp. Strings must contain at least one digit;
// ambiguous numeric dates are read day-first when dayFirst is set. Parsed
// values without a zone are interpreted as UTC.
func ToTime(v any, dayFirst bool) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" || !strings.ContainsFunc(s, unicode.IsDigit) {
			return time.Time{}, false
		}
		t, err := dateparse.ParseIn(s, time.UTC, dateparse.PreferMonthFirst(!dayFirst))
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// ParseTimeLayout parses s with a strftime-style layout such as "%Y-%m-%d".
func ParseTimeLayout(s, strftime string) (time.Time, bool) {
	t, err := time.ParseInLocation(StrftimeLayout(strftime), strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'e': "_2",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'f': "000000",
	'p': "PM",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'z': "-0700",
	'Z': "MST",
	'j': "002",
	'%': "%",
}

// StrftimeLayout converts a strftime layout into a Go reference layout.
// Unknown directives are copied through verbatim.
func StrftimeLayout(f string) string {
	var b strings.Builder
	for i := 0; i < len(f); i++ {
		if f[i] != '%' || i+1 >= len(f) {
			b.WriteByte(f[i])
			continue
		}
		if layout, ok := strftimeDirectives[f[i+1]]; ok {
			b.WriteString(layout)
			i++
			continue
		}
		b.WriteByte(f[i])
	}
	return b.String()
}

// CastStrict converts every non-null value to the target type, failing on
// the first value that does not convert exactly.
func CastStrict(values []any, to Type) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		if IsNull(v) {
			continue
		}
		c, err := castOne(v, to)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

func castOne(v any, to Type) (any, error) {
	switch to {
	case TypeAny:
		return v, nil
	case TypeString:
		return FormatValue(v), nil
	case TypeInt64:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
		if s, ok := v.(string); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to %s", s, to)
			}
			return n, nil
		}
		if n, ok := ToInt(v); ok {
			return n, nil
		}
	case TypeFloat64:
		if f, ok := ToFloat(v); ok {
			return f, nil
		}
	case TypeBool:
		if b, ok := ToBool(v); ok {
			return b, nil
		}
	case TypeTimestamp:
		if t, ok := ToTime(v, false); ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("cannot cast %v (%T) to %s", v, v, to)
}

package hubspot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dpm/internal/domain"
)

// Values below this are taken as epoch seconds, at or above as epoch millis.
const millisThreshold = 10_000_000_000

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ToMillis converts an epoch (seconds or milliseconds), an ISO-8601 string
// or a time.Time into epoch milliseconds. Naive timestamps are UTC.
func ToMillis(v any) (int64, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UnixMilli(), nil
	case int:
		return scaleEpoch(int64(x)), nil
	case int64:
		return scaleEpoch(x), nil
	case float64:
		return scaleEpoch(int64(x)), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, domain.ErrValidation("empty date value")
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && !strings.HasPrefix(s, "-") && !strings.HasPrefix(s, "+") {
			return scaleEpoch(n), nil
		}
		for _, layout := range isoLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.UnixMilli(), nil
			}
		}
		return 0, domain.ErrValidation("unsupported date %q", s)
	}
	return 0, domain.ErrValidation("unsupported date value of type %T", v)
}

func scaleEpoch(n int64) int64 {
	if n >= millisThreshold {
		return n
	}
	return n * 1000
}

// Filter modes for DateFilter.
const (
	ModeBetween = "between"
	ModeAfter   = "after"
	ModeBefore  = "before"
)

var modeAliases = map[string]string{
	ModeBetween: ModeBetween,
	ModeAfter:   ModeAfter,
	"since":     ModeAfter,
	ModeBefore:  ModeBefore,
	"until":     ModeBefore,
}

// DateFilter restricts contacts by createdate. From and To accept whatever
// ToMillis does. An unknown or empty mode means between.
type DateFilter struct {
	Mode string `yaml:"mode" json:"mode"`
	From any    `yaml:"from" json:"from,omitempty"`
	To   any    `yaml:"to" json:"to,omitempty"`
}

// NormalizedMode resolves aliases.
func (f DateFilter) NormalizedMode() string {
	if m, ok := modeAliases[strings.ToLower(strings.TrimSpace(f.Mode))]; ok {
		return m
	}
	return ModeBetween
}

// Bounds returns the inclusive bounds in epoch millis. A nil bound is open.
func (f DateFilter) Bounds() (from, to *int64, err error) {
	mode := f.NormalizedMode()
	if mode == ModeBetween || mode == ModeAfter {
		if f.From == nil {
			return nil, nil, domain.ErrValidation("date filter mode %q requires from", mode)
		}
		ms, err := ToMillis(f.From)
		if err != nil {
			return nil, nil, fmt.Errorf("from: %w", err)
		}
		from = &ms
	}
	if mode == ModeBetween || mode == ModeBefore {
		if f.To == nil {
			return nil, nil, domain.ErrValidation("date filter mode %q requires to", mode)
		}
		ms, err := ToMillis(f.To)
		if err != nil {
			return nil, nil, fmt.Errorf("to: %w", err)
		}
		to = &ms
	}
	if from != nil && to != nil && *from > *to {
		return nil, nil, domain.ErrValidation("date filter from is after to")
	}
	return from, to, nil
}

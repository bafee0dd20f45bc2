// Package consolidate merges two tables that share key fields, resolving
// rows with equal keys by a duplicate-resolution policy.
package consolidate

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"dpm/internal/domain"
	"dpm/internal/table"
)

// Policy decides which of several rows sharing a key survives.
type Policy string

// Supported policies.
const (
	KeepNewest  Policy = "keep_newest"
	KeepOldest  Policy = "keep_oldest"
	KeepInitial Policy = "keep_df_initial"
	KeepToMerge Policy = "keep_df_to_merge"
)

// Policies lists every supported policy.
var Policies = []Policy{KeepNewest, KeepOldest, KeepInitial, KeepToMerge}

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.TrimSpace(s))
	if !slices.Contains(Policies, p) {
		return "", domain.ErrValidation("unsupported duplicate policy %q (valid: %v)", s, Policies)
	}
	return p, nil
}

// TimeBased reports whether the policy orders rows by a date field.
func (p Policy) TimeBased() bool { return p == KeepNewest || p == KeepOldest }

// Options configures Consolidate.
type Options struct {
	Initial   *table.Table
	ToMerge   *table.Table
	KeyFields []string
	Policy    Policy
	// DateField is required by the time-based policies.
	DateField string
	// DateFormat is an optional strftime layout for DateField.
	DateFormat           string
	SkipSchemaValidation bool
	Logger               *slog.Logger
}

// Metadata summarises a consolidation.
type Metadata struct {
	Timestamp          time.Time `json:"timestamp"`
	InitialRecords     int       `json:"initial_records"`
	MergeRecords       int       `json:"merge_records"`
	FinalRecords       int       `json:"final_records"`
	DuplicatesResolved int       `json:"duplicates_resolved"`
	RecordsAdded       int       `json:"records_added"`
}

func (m Metadata) String() string {
	return fmt.Sprintf("%s initial=%d merge=%d final=%d duplicates_resolved=%d records_added=%d",
		m.Timestamp.Format(time.RFC3339), m.InitialRecords, m.MergeRecords, m.FinalRecords,
		m.DuplicatesResolved, m.RecordsAdded)
}

// Consolidate concatenates Initial and ToMerge and keeps one row per key.
// Neither input is modified.
func Consolidate(opts Options) (*table.Table, *Metadata, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := validate(opts); err != nil {
		return nil, nil, err
	}
	if !opts.SkipSchemaValidation {
		if err := compareColumns(opts.Initial, opts.ToMerge); err != nil {
			return nil, nil, err
		}
	}

	left := opts.Initial.Clone()
	right := opts.ToMerge.Clone()
	folder := cases.Fold()
	for _, t := range []*table.Table{left, right} {
		normalizeKeys(t, opts.KeyFields, folder)
	}

	combined := table.Concat(left, right)
	keyIdx := make([]int, len(opts.KeyFields))
	for i, k := range opts.KeyFields {
		keyIdx[i] = combined.ColumnIndex(k)
	}

	order := make([]int, combined.Len())
	for i := range order {
		order[i] = i
	}
	switch opts.Policy {
	case KeepToMerge:
		// merge rows first, initial rows after, both in original order
		nLeft := left.Len()
		order = slices.Concat(order[nLeft:], order[:nLeft])
	case KeepNewest, KeepOldest:
		dates := parseDates(combined, combined.ColumnIndex(opts.DateField), opts.DateFormat)
		newestFirst := opts.Policy == KeepNewest
		slices.SortStableFunc(order, func(a, b int) int {
			for _, k := range keyIdx {
				if c := compareValues(combined.Rows[a][k], combined.Rows[b][k]); c != 0 {
					return c
				}
			}
			c := dates[a].Compare(dates[b])
			if newestFirst {
				return -c
			}
			return c
		})
	}

	result := table.New(combined.Columns...)
	seen := make(map[string]struct{}, len(order))
	for _, r := range order {
		row := combined.Rows[r]
		key := rowKey(row, keyIdx)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result.Rows = append(result.Rows, row)
	}

	restoreTypes(result, opts.Initial, logger)

	meta := &Metadata{
		Timestamp:      time.Now().UTC(),
		InitialRecords: opts.Initial.Len(),
		MergeRecords:   opts.ToMerge.Len(),
		FinalRecords:   result.Len(),
	}
	meta.DuplicatesResolved = meta.InitialRecords + meta.MergeRecords - meta.FinalRecords
	meta.RecordsAdded = meta.FinalRecords - meta.InitialRecords
	logger.Info("tables consolidated",
		"policy", opts.Policy,
		"initial_records", meta.InitialRecords,
		"merge_records", meta.MergeRecords,
		"final_records", meta.FinalRecords,
		"duplicates_resolved", meta.DuplicatesResolved,
	)
	return result, meta, nil
}

func validate(opts Options) error {
	if _, err := ParsePolicy(string(opts.Policy)); err != nil {
		return err
	}
	if opts.Initial == nil || opts.ToMerge == nil {
		return domain.ErrValidation("both the initial and the merge table are required")
	}
	if len(opts.KeyFields) == 0 {
		return domain.ErrValidation("at least one key field is required")
	}
	var missing []string
	for _, k := range opts.KeyFields {
		if !opts.Initial.HasColumn(k) || !opts.ToMerge.HasColumn(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return domain.ErrValidation("key fields missing from one of the tables: %v", missing)
	}
	if opts.Policy.TimeBased() {
		if opts.DateField == "" {
			return domain.ErrValidation("policy %s requires a date field", opts.Policy)
		}
		if !opts.Initial.HasColumn(opts.DateField) || !opts.ToMerge.HasColumn(opts.DateField) {
			return domain.ErrValidation("date field %q missing from one of the tables", opts.DateField)
		}
	}
	return nil
}

func compareColumns(left, right *table.Table) error {
	var leftOnly, rightOnly []string
	for _, c := range left.Columns {
		if !right.HasColumn(c.Name) {
			leftOnly = append(leftOnly, c.Name)
		}
	}
	for _, c := range right.Columns {
		if !left.HasColumn(c.Name) {
			rightOnly = append(rightOnly, c.Name)
		}
	}
	if len(leftOnly) > 0 || len(rightOnly) > 0 {
		return &domain.SchemaMismatchError{LeftOnly: leftOnly, RightOnly: rightOnly}
	}
	return nil
}

func normalizeKeys(t *table.Table, keys []string, folder cases.Caser) {
	for _, k := range keys {
		idx := t.ColumnIndex(k)
		for _, row := range t.Rows {
			if s, ok := row[idx].(string); ok {
				row[idx] = folder.String(strings.TrimSpace(s))
			}
		}
	}
}

// parseDates returns one sort key per row. Unparseable dates map to the
// zero time, the earliest possible value.
func parseDates(t *table.Table, idx int, layout string) []time.Time {
	out := make([]time.Time, t.Len())
	for r, row := range t.Rows {
		v := row[idx]
		if ts, ok := v.(time.Time); ok {
			out[r] = ts
			continue
		}
		if table.IsBlank(v) {
			continue
		}
		if layout != "" {
			if ts, ok := table.ParseTimeLayout(table.FormatValue(v), layout); ok {
				out[r] = ts
			}
			continue
		}
		if ts, ok := table.ToTime(table.FormatValue(v), false); ok {
			out[r] = ts
		}
	}
	return out
}

// compareValues orders cells: numbers numerically, times chronologically,
// everything else by text. Nulls sort last.
func compareValues(a, b any) int {
	an, bn := table.IsNull(a), table.IsNull(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	}
	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			return cmp.Compare(af, bf)
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	return strings.Compare(table.FormatValue(a), table.FormatValue(b))
}

func numeric(v any) (float64, bool) {
	switch v.(type) {
	case int64, int, int32, float64, float32:
		return table.ToFloat(v)
	}
	return 0, false
}

// rowKey builds an identity string for the key cells. Numbers of different
// Go types with equal values share a key.
func rowKey(row []any, keyIdx []int) string {
	var b strings.Builder
	for _, k := range keyIdx {
		v := row[k]
		switch {
		case table.IsNull(v):
			b.WriteString("null")
		default:
			if f, ok := numeric(v); ok {
				fmt.Fprintf(&b, "n:%v", f)
			} else {
				fmt.Fprintf(&b, "%T:%s", v, table.FormatValue(v))
			}
		}
		b.WriteByte(0)
	}
	return b.String()
}

// restoreTypes re-casts each column to the type it had in the initial table.
// Failures leave the column as is.
func restoreTypes(result, initial *table.Table, logger *slog.Logger) {
	for _, c := range initial.Columns {
		idx := result.ColumnIndex(c.Name)
		if idx < 0 || c.Type == table.TypeAny {
			continue
		}
		values, err := table.CastStrict(result.Values(idx), c.Type)
		if err != nil {
			logger.Warn("could not restore column type", "column", c.Name, "type", c.Type, "error", err)
			continue
		}
		result.SetValues(idx, values)
		result.Columns[idx].Type = c.Type
	}
}

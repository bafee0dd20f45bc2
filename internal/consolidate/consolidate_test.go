package consolidate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dpm/internal/domain"
	"dpm/internal/table"
)

var cols = []table.Column{
	{Name: "id", Type: table.TypeInt64},
	{Name: "date", Type: table.TypeString},
	{Name: "v", Type: table.TypeString},
}

func rows(records ...map[string]any) *table.Table {
	return table.FromRecords(cols, records)
}

func TestConsolidate_KeepNewest(t *testing.T) {
	initial := rows(map[string]any{"id": int64(1), "date": "2020-01-01", "v": "a"})
	merge := rows(map[string]any{"id": int64(1), "date": "2021-01-01", "v": "b"})

	out, meta, err := Consolidate(Options{
		Initial:   initial,
		ToMerge:   merge,
		KeyFields: []string{"id"},
		Policy:    KeepNewest,
		DateField: "date",
	})
	require.NoError(t, err)

	require.Equal(t, 1, out.Len())
	assert.Equal(t, map[string]any{"id": int64(1), "date": "2021-01-01", "v": "b"}, out.Record(0))
	assert.Equal(t, 1, meta.InitialRecords)
	assert.Equal(t, 1, meta.MergeRecords)
	assert.Equal(t, 1, meta.FinalRecords)
	assert.Equal(t, 1, meta.DuplicatesResolved)
	assert.Equal(t, 0, meta.RecordsAdded)

	assert.Equal(t, "a", initial.Rows[0][2], "inputs are not modified")
}

func TestConsolidate_Policies(t *testing.T) {
	initial := rows(
		map[string]any{"id": int64(1), "date": "2020-06-01", "v": "init-1"},
		map[string]any{"id": int64(2), "date": "2020-01-01", "v": "init-2"},
	)
	merge := rows(
		map[string]any{"id": int64(1), "date": "2019-01-01", "v": "merge-1"},
		map[string]any{"id": int64(2), "date": "2022-01-01", "v": "merge-2"},
		map[string]any{"id": int64(3), "date": "2022-01-01", "v": "merge-3"},
	)

	tests := []struct {
		policy Policy
		want   map[int64]string
	}{
		{policy: KeepNewest, want: map[int64]string{1: "init-1", 2: "merge-2", 3: "merge-3"}},
		{policy: KeepOldest, want: map[int64]string{1: "merge-1", 2: "init-2", 3: "merge-3"}},
		{policy: KeepInitial, want: map[int64]string{1: "init-1", 2: "init-2", 3: "merge-3"}},
		{policy: KeepToMerge, want: map[int64]string{1: "merge-1", 2: "merge-2", 3: "merge-3"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			out, meta, err := Consolidate(Options{
				Initial:   initial,
				ToMerge:   merge,
				KeyFields: []string{"id"},
				Policy:    tt.policy,
				DateField: "date",
			})
			require.NoError(t, err)

			got := map[int64]string{}
			for r := 0; r < out.Len(); r++ {
				got[out.Rows[r][0].(int64)] = out.Rows[r][2].(string)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 2, meta.DuplicatesResolved)
			assert.Equal(t, 1, meta.RecordsAdded)
		})
	}
}

func TestConsolidate_KeepNewestWinsForEveryKey(t *testing.T) {
	initial := rows(
		map[string]any{"id": int64(5), "date": "2021-03-01", "v": "x"},
		map[string]any{"id": int64(5), "date": "2021-05-01", "v": "y"},
	)
	merge := rows(map[string]any{"id": int64(5), "date": "2021-04-01", "v": "z"})

	out, _, err := Consolidate(Options{
		Initial: initial, ToMerge: merge, KeyFields: []string{"id"},
		Policy: KeepNewest, DateField: "date",
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "2021-05-01", out.Rows[0][1])
}

func TestConsolidate_UnparseableDatesSortEarliest(t *testing.T) {
	initial := rows(map[string]any{"id": int64(1), "date": "garbage", "v": "bad"})
	merge := rows(map[string]any{"id": int64(1), "date": "2000-01-01", "v": "good"})

	newest, _, err := Consolidate(Options{
		Initial: initial, ToMerge: merge, KeyFields: []string{"id"},
		Policy: KeepNewest, DateField: "date",
	})
	require.NoError(t, err)
	assert.Equal(t, "good", newest.Rows[0][2])

	oldest, _, err := Consolidate(Options{
		Initial: initial, ToMerge: merge, KeyFields: []string{"id"},
		Policy: KeepOldest, DateField: "date",
	})
	require.NoError(t, err)
	assert.Equal(t, "bad", oldest.Rows[0][2])
}

func TestConsolidate_DateFormat(t *testing.T) {
	initial := rows(map[string]any{"id": int64(1), "date": "02/01/2021", "v": "jan"})
	merge := rows(map[string]any{"id": int64(1), "date": "01/02/2021", "v": "feb"})

	out, _, err := Consolidate(Options{
		Initial: initial, ToMerge: merge, KeyFields: []string{"id"},
		Policy: KeepNewest, DateField: "date", DateFormat: "%d/%m/%Y",
	})
	require.NoError(t, err)
	assert.Equal(t, "feb", out.Rows[0][2])
}

func TestConsolidate_NormalizesStringKeys(t *testing.T) {
	c := []table.Column{{Name: "email", Type: table.TypeString}, {Name: "v", Type: table.TypeString}}
	initial := table.FromRecords(c, []map[string]any{{"email": " Ana@Example.com ", "v": "1"}})
	merge := table.FromRecords(c, []map[string]any{{"email": "ana@example.COM", "v": "2"}})

	out, _, err := Consolidate(Options{
		Initial: initial, ToMerge: merge, KeyFields: []string{"email"}, Policy: KeepToMerge,
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, map[string]any{"email": "ana@example.com", "v": "2"}, out.Record(0))
}

func TestConsolidate_SchemaMismatch(t *testing.T) {
	initial := rows(map[string]any{"id": int64(1), "date": "2020-01-01", "v": "a"})
	merge := table.FromRecords(
		[]table.Column{{Name: "id", Type: table.TypeInt64}, {Name: "date", Type: table.TypeString}, {Name: "w", Type: table.TypeString}},
		[]map[string]any{{"id": int64(2), "date": "2020-01-01", "w": "b"}},
	)

	_, _, err := Consolidate(Options{
		Initial: initial, ToMerge: merge, KeyFields: []string{"id"}, Policy: KeepInitial,
	})
	require.Error(t, err)
	var mismatch *domain.SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, []string{"v"}, mismatch.LeftOnly)
	assert.Equal(t, []string{"w"}, mismatch.RightOnly)

	out, _, err := Consolidate(Options{
		Initial: initial, ToMerge: merge, KeyFields: []string{"id"}, Policy: KeepInitial,
		SkipSchemaValidation: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "date", "v", "w"}, out.ColumnNames())
	assert.Equal(t, 2, out.Len())
}

func TestConsolidate_Validation(t *testing.T) {
	base := rows(map[string]any{"id": int64(1), "date": "2020-01-01", "v": "a"})

	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{name: "bad_policy", opts: Options{Initial: base, ToMerge: base, KeyFields: []string{"id"}, Policy: "keep_all"}, wantErr: "unsupported duplicate policy"},
		{name: "no_keys", opts: Options{Initial: base, ToMerge: base, Policy: KeepInitial}, wantErr: "at least one key field"},
		{name: "missing_key", opts: Options{Initial: base, ToMerge: base, KeyFields: []string{"nope"}, Policy: KeepInitial}, wantErr: "key fields missing"},
		{name: "no_date_field", opts: Options{Initial: base, ToMerge: base, KeyFields: []string{"id"}, Policy: KeepNewest}, wantErr: "requires a date field"},
		{name: "missing_date_field", opts: Options{Initial: base, ToMerge: base, KeyFields: []string{"id"}, Policy: KeepOldest, DateField: "when"}, wantErr: "date field \"when\" missing"},
		{name: "nil_table", opts: Options{Initial: base, KeyFields: []string{"id"}, Policy: KeepInitial}, wantErr: "both the initial and the merge table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Consolidate(tt.opts)
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConsolidate_RestoresInitialTypes(t *testing.T) {
	initial := rows(map[string]any{"id": int64(1), "date": "2020-01-01", "v": "a"})
	merge := table.FromRecords(
		[]table.Column{{Name: "id", Type: table.TypeString}, {Name: "date", Type: table.TypeString}, {Name: "v", Type: table.TypeString}},
		[]map[string]any{{"id": "2", "date": "2020-01-01", "v": "b"}},
	)

	out, _, err := Consolidate(Options{
		Initial: initial, ToMerge: merge, KeyFields: []string{"id"}, Policy: KeepInitial,
	})
	require.NoError(t, err)
	assert.Equal(t, table.TypeInt64, out.Columns[0].Type)
	assert.Equal(t, []any{int64(1), int64(2)}, out.Values(0))
}

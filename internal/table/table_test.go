package table

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dpm/internal/domain"
)

func sampleTable() *Table {
	return FromRecords(
		[]Column{{Name: "id", Type: TypeInt64}, {Name: "name", Type: TypeString}},
		[]map[string]any{
			{"id": int64(1), "name": "a"},
			{"id": int64(2), "name": "b"},
			{"id": int64(3)},
		},
	)
}

func TestFromStrings_PadsAndNulls(t *testing.T) {
	tbl := FromStrings([]string{"a", "b", "c"}, [][]string{{"1", ""}, {"x", "y", "z", "extra"}})

	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []any{"1", nil, nil}, tbl.Rows[0])
	assert.Equal(t, []any{"x", "y", "z"}, tbl.Rows[1])
	assert.Equal(t, TypeString, tbl.Columns[2].Type)
}

func TestClone_IsIndependent(t *testing.T) {
	orig := sampleTable()
	cp := orig.Clone()
	cp.Rows[0][1] = "changed"
	cp.Columns[0].Name = "renamed"

	assert.Equal(t, "a", orig.Rows[0][1])
	assert.Equal(t, "id", orig.Columns[0].Name)
}

func TestSlice(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
		want       int
	}{
		{name: "window", start: 1, end: 2, want: 1},
		{name: "open_end", start: 1, end: -1, want: 2},
		{name: "clamped", start: -4, end: 99, want: 3},
		{name: "inverted", start: 2, end: 1, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sampleTable().Slice(tt.start, tt.end).Len())
		})
	}
}

func TestSelectColumns(t *testing.T) {
	tbl := sampleTable()

	sel, err := tbl.SelectColumns([]string{"name", "id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "id"}, sel.ColumnNames())
	assert.Equal(t, []any{"a", int64(1)}, sel.Rows[0])

	_, err = tbl.SelectColumns([]string{"missing"})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestSliceColumns(t *testing.T) {
	tbl := sampleTable().SliceColumns(1, -1)
	assert.Equal(t, []string{"name"}, tbl.ColumnNames())
}

func TestDropEmptyRows(t *testing.T) {
	tbl := FromStrings([]string{"a", "b"}, [][]string{{"1", "2"}, {"", ""}, {" ", ""}, {"", "3"}})
	dropped := tbl.DropEmptyRows()

	assert.Equal(t, 2, dropped)
	assert.Equal(t, 2, tbl.Len())
}

func TestConcat_AlignsByName(t *testing.T) {
	a := FromRecords([]Column{{Name: "x", Type: TypeInt64}, {Name: "y", Type: TypeString}},
		[]map[string]any{{"x": int64(1), "y": "a"}})
	b := FromRecords([]Column{{Name: "y", Type: TypeString}, {Name: "z", Type: TypeBool}, {Name: "x", Type: TypeString}},
		[]map[string]any{{"y": "b", "z": true, "x": "2"}})

	out := Concat(a, b)

	assert.Equal(t, []string{"x", "y", "z"}, out.ColumnNames())
	assert.Equal(t, TypeAny, out.Columns[0].Type)
	assert.Equal(t, TypeString, out.Columns[1].Type)
	assert.Equal(t, []any{int64(1), "a", nil}, out.Rows[0])
	assert.Equal(t, []any{"2", "b", true}, out.Rows[1])
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{in: "string", want: TypeString},
		{in: "INTEGER", want: TypeInt64},
		{in: "float", want: TypeFloat64},
		{in: "Boolean", want: TypeBool},
		{in: "datetime", want: TypeTimestamp},
		{in: "geography", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToInt(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{in: int64(4), want: 4, ok: true},
		{in: 3.0, want: 3, ok: true},
		{in: "12", want: 12, ok: true},
		{in: " 7.0 ", want: 7, ok: true},
		{in: "3.5", ok: false},
		{in: 2.25, ok: false},
		{in: "abc", ok: false},
		{in: nil, ok: false},
		{in: "9223372036854775807", want: math.MaxInt64, ok: true},
		{in: "-9223372036854775808", want: math.MinInt64, ok: true},
		{in: "9223372036854775808", ok: false},
		{in: 0x1p63, ok: false},
		{in: -0x1p63, want: math.MinInt64, ok: true},
		{in: -0x1p64, ok: false},
		{in: "1e30", ok: false},
		{in: math.NaN(), ok: false},
	}
	for _, tt := range tests {
		got, ok := ToInt(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestToBool(t *testing.T) {
	for _, s := range []string{"true", "YES", " si ", "1"} {
		b, ok := ToBool(s)
		assert.True(t, ok, s)
		assert.True(t, b, s)
	}
	for _, s := range []string{"false", "No", "0"} {
		b, ok := ToBool(s)
		assert.True(t, ok, s)
		assert.False(t, b, s)
	}
	_, ok := ToBool("maybe")
	assert.False(t, ok)
	_, ok = ToBool("sí")
	assert.False(t, ok)
	_, ok = ToBool(2.0)
	assert.False(t, ok)
}

func TestToTime_DayFirst(t *testing.T) {
	got, ok := ToTime("03/04/2021", true)
	require.True(t, ok)
	assert.Equal(t, time.April, got.Month())
	assert.Equal(t, 3, got.Day())

	got, ok = ToTime("2021-01-15", true)
	require.True(t, ok)
	assert.True(t, time.Date(2021, 1, 15, 0, 0, 0, 0, time.UTC).Equal(got))

	_, ok = ToTime("no digits here", true)
	assert.False(t, ok)
}

func TestToTime_MonthFirst(t *testing.T) {
	got, ok := ToTime("03/04/2021", false)
	require.True(t, ok)
	assert.Equal(t, time.March, got.Month())
	assert.Equal(t, 4, got.Day())

	out, err := CastStrict([]any{"03/04/2021"}, TypeTimestamp)
	require.NoError(t, err)
	assert.Equal(t, time.March, out[0].(time.Time).Month())
}

func TestStrftimeLayout(t *testing.T) {
	assert.Equal(t, "2006-01-02 15:04:05", StrftimeLayout("%Y-%m-%d %H:%M:%S"))
	assert.Equal(t, "02/01/2006 100%", StrftimeLayout("%d/%m/%Y 100%%"))

	got, ok := ParseTimeLayout("15/01/2021", "%d/%m/%Y")
	require.True(t, ok)
	assert.True(t, time.Date(2021, 1, 15, 0, 0, 0, 0, time.UTC).Equal(got))
}

func TestCastStrict(t *testing.T) {
	out, err := CastStrict([]any{"1", nil, int64(3)}, TypeInt64)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), nil, int64(3)}, out)

	_, err = CastStrict([]any{"1", "3.5"}, TypeInt64)
	require.Error(t, err)

	_, err = CastStrict([]any{"9223372036854775808"}, TypeInt64)
	require.Error(t, err)
	_, err = CastStrict([]any{0x1p63}, TypeInt64)
	require.Error(t, err)

	out, err = CastStrict([]any{int64(1), 2.5, true}, TypeString)
	require.NoError(t, err)
	assert.Equal(t, []any{"1", "2.5", "true"}, out)
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("dir/Data.CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = FormatFromPath("a.tsv")
	require.NoError(t, err)
	assert.Equal(t, '\t', f.Delimiter())

	_, err = FormatFromPath("old.xls")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestCSVChunkReader(t *testing.T) {
	in := "\ufeffa;b\n1;2\n3;4\n5;6\n"
	cr, err := NewCSVChunkReader(strings.NewReader(in), ';')
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cr.Header())

	first, err := cr.Next(2)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Len())

	second, err := cr.Next(2)
	require.NoError(t, err)
	assert.Equal(t, []any{"5", "6"}, second.Rows[0])

	_, err = cr.Next(2)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTable(), ',', true))
	assert.Equal(t, "id,name\n1,a\n2,b\n3,\n", buf.String())

	back, err := ReadCSV(&buf, ',')
	require.NoError(t, err)
	assert.Equal(t, []any{"3", nil}, back.Rows[2])
}

func TestXLSXRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleTable(), "data"))

	back, err := ReadXLSX(bytes.NewReader(buf.Bytes()), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, back.ColumnNames())
	require.Equal(t, 3, back.Len())
	assert.Equal(t, []any{"2", "b"}, back.Rows[1])
}

package transfer

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dpm/internal/table"
)

func TestParseLocaleNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1.234.567,89", 1234567.89, true},
		{"1,234,567.89", 1234567.89, true},
		{"12,5", 12.5, true},
		{"1.234,56", 1234.56, true},
		{"1,234.56", 1234.56, true},
		{"1 234", 1234, true},
		{" 42 ", 42, true},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseLocaleNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestStripThousands(t *testing.T) {
	assert.Equal(t, "1234,56", stripThousands("1.234,56", '.'))
	assert.Equal(t, "1234.56", stripThousands("1,234.56", ','))
	assert.Equal(t, "1.5", stripThousands("1.5", '.'))
	assert.Equal(t, "1.2345", stripThousands("1.2345", '.'))
	assert.Equal(t, "1000000", stripThousands("1.000.000", '.'))
}

func TestNameHeuristics(t *testing.T) {
	assert.True(t, isDateName("Fecha_alta"))
	assert.True(t, isDateName("updated_at"))
	assert.True(t, isDateName("load_dt"))
	assert.False(t, isDateName("width"))
	assert.True(t, isNumberName("Importe total"))
	assert.True(t, isNumberName("num_rows"))
	assert.False(t, isNumberName("nombre"))
}

func TestToDate(t *testing.T) {
	got, ok := toDate(45292.5)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), got)

	got, ok = toDate("03/04/2024")
	require.True(t, ok)
	assert.Equal(t, time.April, got.Month())

	_, ok = toDate(-3.0)
	assert.False(t, ok)
}

func TestCommonType(t *testing.T) {
	assert.Equal(t, table.TypeInt64, commonType([]any{int64(1), nil, int64(2)}))
	assert.Equal(t, table.TypeFloat64, commonType([]any{int64(1), 2.5}))
	assert.Equal(t, table.TypeString, commonType([]any{"a", nil}))
	assert.Equal(t, table.TypeAny, commonType([]any{"a", 1.0}))
	assert.Equal(t, table.TypeAny, commonType([]any{nil}))
}

func TestConversions(t *testing.T) {
	tbl := table.New(
		table.Column{Name: "fecha", Type: table.TypeString},
		table.Column{Name: "importe", Type: table.TypeString},
		table.Column{Name: "codigo", Type: table.TypeString},
		table.Column{Name: "precio_raro", Type: table.TypeString},
		table.Column{Name: "nota", Type: table.TypeString},
	)
	tbl.AppendRow("01/02/2024", "1.234,50", "1.000", "12,5", "hola")
	tbl.AppendRow("not a date", "7", "2.500", "n/a", "adios")
	tbl.AppendRow(nil, nil, "3", nil, "3")

	logger := slog.Default()
	convertDates(tbl, logger)
	convertNamedNumbers(tbl, logger)
	convertDense(tbl)

	assert.Equal(t, table.TypeTimestamp, tbl.Columns[0].Type)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), tbl.Rows[0][0])
	assert.Nil(t, tbl.Rows[1][0])

	assert.Equal(t, table.TypeFloat64, tbl.Columns[1].Type)
	assert.Equal(t, []any{1234.5, 7.0, nil}, tbl.Values(1))

	assert.Equal(t, table.TypeFloat64, tbl.Columns[2].Type)
	assert.Equal(t, []any{1000.0, 2500.0, 3.0}, tbl.Values(2))

	// one unparseable cell keeps the named column as text
	assert.Equal(t, table.TypeString, tbl.Columns[3].Type)
	assert.Equal(t, "12,5", tbl.Rows[0][3])

	assert.Equal(t, table.TypeString, tbl.Columns[4].Type)
	assert.Equal(t, "hola", tbl.Rows[0][4])
}

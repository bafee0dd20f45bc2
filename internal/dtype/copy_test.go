package dtype

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dpm/internal/table"
)

func reference() *table.Table {
	return table.New(
		table.Column{Name: "qty", Type: table.TypeInt64},
		table.Column{Name: "price", Type: table.TypeFloat64},
		table.Column{Name: "when", Type: table.TypeTimestamp},
		table.Column{Name: "flag", Type: table.TypeBool},
		table.Column{Name: "label", Type: table.TypeString},
	)
}

func TestCopy_RoundTripSkipsEverything(t *testing.T) {
	ref := reference()
	ref.AppendRow(int64(1), 2.5, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), true, "x")

	out, rep := Copy(ref, ref, DefaultOptions())

	assert.Equal(t, ref.ColumnNames(), rep.Skipped)
	assert.Empty(t, rep.Casted)
	assert.Empty(t, rep.Failed)
	assert.Equal(t, ref.Rows, out.Rows)
}

func TestCopy_Cascade(t *testing.T) {
	target := table.FromStrings(
		[]string{"qty", "price", "when", "flag", "label", "only_here"},
		[][]string{
			{"3", "1,5", "2021-02-03", "maybe", "7", "z"},
			{"4", "2,25", "not a date", "nope", "", "z"},
		},
	)

	out, rep := Copy(reference(), target, DefaultOptions())

	assert.ElementsMatch(t, []string{"qty", "price", "when"}, rep.Casted)
	assert.Equal(t, []string{"flag"}, rep.Failed)
	assert.Equal(t, []string{"label"}, rep.Skipped)

	assert.Equal(t, []any{int64(3), int64(4)}, out.Values(0))
	assert.Equal(t, []any{1.5, 2.25}, out.Values(1))
	when := out.Values(2)
	require.IsType(t, time.Time{}, when[0])
	assert.Nil(t, when[1])
	assert.Equal(t, table.TypeString, out.Columns[3].Type)
	assert.Equal(t, []any{"maybe", "nope"}, out.Values(3))
	assert.Equal(t, table.TypeString, out.Columns[5].Type, "columns absent from the reference are untouched")

	assert.Equal(t, "3", target.Rows[0][0], "target is cloned by default")
}

func TestCopy_IntegerRounds(t *testing.T) {
	target := table.FromStrings([]string{"qty"}, [][]string{{"2,6"}, {"x"}, {""}})

	out, rep := Copy(reference(), target, DefaultOptions())

	assert.Equal(t, []string{"qty"}, rep.Casted)
	assert.Equal(t, []any{int64(3), nil, nil}, out.Values(0))
}

func TestCopy_IntegerOutOfRangeIsNull(t *testing.T) {
	target := table.FromStrings([]string{"qty"}, [][]string{{"1e30"}, {"2,5"}, {"-1e19"}})

	out, rep := Copy(reference(), target, DefaultOptions())

	assert.Equal(t, []string{"qty"}, rep.Casted)
	assert.Equal(t, []any{nil, int64(3), nil}, out.Values(0))
}

func TestCopy_DecimalCommaDisabled(t *testing.T) {
	target := table.FromStrings([]string{"price"}, [][]string{{"1,5"}})

	out, rep := Copy(reference(), target, Options{})

	assert.Equal(t, []string{"price"}, rep.Failed)
	assert.Equal(t, []any{"1,5"}, out.Values(0))
}

func TestCopy_InPlace(t *testing.T) {
	target := table.FromStrings([]string{"qty"}, [][]string{{"5"}})

	out, _ := Copy(reference(), target, Options{InPlace: true})

	assert.Same(t, target, out)
	assert.Equal(t, int64(5), target.Rows[0][0])
}

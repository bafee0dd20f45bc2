package bigquery

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
	"time"

	bq "cloud.google.com/go/bigquery"

	"dpm/internal/table"
)

// FieldType maps a column type onto a BigQuery field type. Untyped columns
// load as STRING.
func FieldType(t table.Type) bq.FieldType {
	switch t {
	case table.TypeBool:
		return bq.BooleanFieldType
	case table.TypeInt64:
		return bq.IntegerFieldType
	case table.TypeFloat64:
		return bq.FloatFieldType
	case table.TypeTimestamp:
		return bq.TimestampFieldType
	default:
		return bq.StringFieldType
	}
}

// ColumnType maps a BigQuery field type back onto a column type. Types with
// no counterpart (records, geography, bytes, ...) become TypeAny.
func ColumnType(ft bq.FieldType) table.Type {
	switch ft {
	case bq.StringFieldType:
		return table.TypeString
	case bq.IntegerFieldType:
		return table.TypeInt64
	case bq.FloatFieldType, bq.NumericFieldType, bq.BigNumericFieldType:
		return table.TypeFloat64
	case bq.BooleanFieldType:
		return table.TypeBool
	case bq.TimestampFieldType, bq.DateFieldType, bq.DateTimeFieldType:
		return table.TypeTimestamp
	}
	return table.TypeAny
}

// SchemaFor builds a nullable load schema from the table's columns.
func SchemaFor(t *table.Table) bq.Schema {
	s := make(bq.Schema, len(t.Columns))
	for i, c := range t.Columns {
		s[i] = &bq.FieldSchema{Name: c.Name, Type: FieldType(c.Type)}
	}
	return s
}

// encodeCSV renders t as a CSV payload with a header row. Timestamps are
// written in UTC with microsecond precision.
func encodeCSV(t *table.Table) ([]byte, error) {
	out := table.New(t.Columns...)
	out.Rows = make([][]any, len(t.Rows))
	for r, row := range t.Rows {
		nr := make([]any, len(row))
		for i, v := range row {
			if ts, ok := v.(time.Time); ok {
				nr[i] = ts.UTC().Format("2006-01-02 15:04:05.000000")
				continue
			}
			nr[i] = v
		}
		out.Rows[r] = nr
	}
	var buf bytes.Buffer
	if err := table.WriteCSV(&buf, out, ',', true); err != nil {
		return nil, fmt.Errorf("encode load payload: %w", err)
	}
	return buf.Bytes(), nil
}

// tableFromRows converts query or read results.
func tableFromRows(schema bq.Schema, rows [][]bq.Value) *table.Table {
	cols := make([]table.Column, len(schema))
	for i, f := range schema {
		cols[i] = table.Column{Name: f.Name, Type: ColumnType(f.Type)}
		if f.Repeated {
			cols[i].Type = table.TypeAny
		}
	}
	t := table.New(cols...)
	t.Rows = make([][]any, 0, len(rows))
	for _, row := range rows {
		cells := make([]any, len(cols))
		for i := range cols {
			if i < len(row) {
				cells[i] = convertValue(row[i], cols[i].Type)
			}
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func convertValue(v bq.Value, want table.Type) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, int64, float64, bool:
		return x
	case time.Time:
		return x.UTC()
	case *big.Rat:
		f, _ := x.Float64()
		return f
	case []byte:
		return string(x)
	case []bq.Value:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = table.FormatValue(convertValue(e, table.TypeAny))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case fmt.Stringer:
		// civil.Date, civil.DateTime and civil.Time
		s := x.String()
		if want == table.TypeTimestamp {
			if ts, ok := table.ToTime(s, false); ok {
				return ts
			}
		}
		return s
	}
	return fmt.Sprint(v)
}

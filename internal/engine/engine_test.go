package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dpm/internal/config"
	"dpm/internal/domain"
	"dpm/internal/table"
)

func sampleTable() *table.Table {
	t := table.New(
		table.Column{Name: "id", Type: table.TypeInt64},
		table.Column{Name: "Nombre cliente", Type: table.TypeString},
		table.Column{Name: "importe", Type: table.TypeFloat64},
		table.Column{Name: "activo", Type: table.TypeBool},
	)
	t.AppendRow(int64(1), "Ana", 10.5, true)
	t.AppendRow(int64(2), nil, nil, false)
	return t
}

func TestParseDriver(t *testing.T) {
	for in, want := range map[string]Driver{"duckdb": DuckDB, "DUCK": DuckDB, "sqlite": SQLite, "sqlite3": SQLite} {
		got, err := ParseDriver(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDriver("postgres")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "x.db?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate", sqliteDSN("x.db"))
	assert.Equal(t, "file:x.db?mode=ro", sqliteDSN("file:x.db?mode=ro"))
}

func TestColumnType(t *testing.T) {
	tests := map[string]table.Type{
		"BIGINT":        table.TypeInt64,
		"INTEGER":       table.TypeInt64,
		"DOUBLE":        table.TypeFloat64,
		"DECIMAL(18,3)": table.TypeFloat64,
		"REAL":          table.TypeFloat64,
		"BOOLEAN":       table.TypeBool,
		"TIMESTAMP":     table.TypeTimestamp,
		"DATE":          table.TypeTimestamp,
		"VARCHAR":       table.TypeString,
		"TEXT":          table.TypeString,
		"":              table.TypeAny,
		"BLOB":          table.TypeAny,
	}
	for in, want := range tests {
		assert.Equal(t, want, columnType(in), in)
	}
}

func TestWriteAndQuery_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, SQLite, filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	n, err := WriteTable(ctx, db, SQLite, "clientes", sampleTable(), Overwrite)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = WriteTable(ctx, db, SQLite, "clientes", sampleTable(), Append)
	require.NoError(t, err)

	got, err := QueryTable(ctx, db, `SELECT id, "Nombre cliente", importe FROM clientes ORDER BY id`)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Len())
	assert.Equal(t, []string{"id", "Nombre cliente", "importe"}, got.ColumnNames())
	assert.Equal(t, table.TypeInt64, got.Columns[0].Type)
	assert.Equal(t, []any{int64(1), "Ana", 10.5}, got.Rows[0])
	assert.Equal(t, []any{int64(2), nil, nil}, got.Rows[2])

	_, err = WriteTable(ctx, db, SQLite, "clientes", sampleTable(), Overwrite)
	require.NoError(t, err)
	got, err = QueryTable(ctx, db, "SELECT COUNT(*) AS n FROM clientes")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Rows[0][0])
}

func TestWriteAndQuery_DuckDB(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DuckDB, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	tbl := sampleTable()
	tbl.Columns = append(tbl.Columns, table.Column{Name: "alta", Type: table.TypeTimestamp})
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	tbl.Rows[0] = append(tbl.Rows[0], ts)
	tbl.Rows[1] = append(tbl.Rows[1], nil)

	_, err = WriteTable(ctx, db, DuckDB, "clientes", tbl, Overwrite)
	require.NoError(t, err)

	got, err := QueryTable(ctx, db, "SELECT * FROM clientes ORDER BY id")
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, table.TypeBool, got.Columns[3].Type)
	assert.Equal(t, table.TypeTimestamp, got.Columns[4].Type)
	assert.Equal(t, true, got.Rows[0][3])
	assert.True(t, ts.Equal(got.Rows[0][4].(time.Time)))
}

func TestWriteTable_Validation(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DuckDB, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = WriteTable(ctx, db, DuckDB, "bad-name", sampleTable(), Overwrite)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = WriteTable(ctx, db, DuckDB, "t", table.New(), Overwrite)
	require.Error(t, err)

	_, err = WriteTable(ctx, db, DuckDB, "t", sampleTable(), WriteMode("merge"))
	require.Error(t, err)
}

func TestParquetRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.parquet")

	require.NoError(t, WriteParquet(ctx, path, sampleTable()))
	got, err := ReadParquet(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, sampleTable().ColumnNames(), got.ColumnNames())
	require.Equal(t, 2, got.Len())
	assert.Equal(t, int64(1), got.Rows[0][0])
	assert.Equal(t, "Ana", got.Rows[0][1])
	assert.Nil(t, got.Rows[1][1])
}

func TestConfigureObjectStorage_NothingConfigured(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DuckDB, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, ConfigureObjectStorage(ctx, db, &config.Config{}, nil))
}

package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dpm/internal/table"
)

func TestColumnType(t *testing.T) {
	tests := []struct {
		in     table.Type
		duck   string
		sqlite string
	}{
		{table.TypeBool, "BOOLEAN", "INTEGER"},
		{table.TypeInt64, "BIGINT", "INTEGER"},
		{table.TypeFloat64, "DOUBLE", "REAL"},
		{table.TypeTimestamp, "TIMESTAMP", "TEXT"},
		{table.TypeString, "VARCHAR", "TEXT"},
		{table.TypeAny, "VARCHAR", "TEXT"},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.duck, ColumnType(DuckDB, tt.in))
			assert.Equal(t, tt.sqlite, ColumnType(SQLite, tt.in))
		})
	}
}

func TestCreateTable(t *testing.T) {
	cols := Columns(DuckDB, []table.Column{
		{Name: "id", Type: table.TypeInt64},
		{Name: "Fecha alta", Type: table.TypeTimestamp},
	})

	tests := []struct {
		name        string
		table       string
		columns     []ColumnDef
		ifNotExists bool
		want        string
		wantErr     string
	}{
		{
			name:    "valid",
			table:   "sales",
			columns: cols,
			want:    `CREATE TABLE "sales" ("id" BIGINT, "Fecha alta" TIMESTAMP)`,
		},
		{
			name:        "if_not_exists_qualified",
			table:       "main.sales",
			columns:     cols,
			ifNotExists: true,
			want:        `CREATE TABLE IF NOT EXISTS "main"."sales" ("id" BIGINT, "Fecha alta" TIMESTAMP)`,
		},
		{name: "no_columns", table: "sales", wantErr: "at least one column"},
		{name: "bad_table", table: "my-table", columns: cols, wantErr: "invalid table name"},
		{name: "bad_column", table: "t", columns: []ColumnDef{{Name: "", Type: "INT"}}, wantErr: "invalid column name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CreateTable(tt.table, tt.columns, tt.ifNotExists)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInsert(t *testing.T) {
	got, err := Insert("sales", []string{"id", "name"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "sales" ("id", "name") VALUES (?, ?)`, got)

	_, err = Insert("sales", nil)
	require.Error(t, err)
}

func TestDropTable(t *testing.T) {
	got, err := DropTable("sales")
	require.NoError(t, err)
	assert.Equal(t, `DROP TABLE IF EXISTS "sales"`, got)

	_, err = DropTable("")
	require.Error(t, err)
}

func TestParquetStatements(t *testing.T) {
	got, err := CopyToParquet("data", "/tmp/o'k.parquet")
	require.NoError(t, err)
	assert.Equal(t, `COPY "data" TO '/tmp/o''k.parquet' (FORMAT PARQUET)`, got)

	got, err = SelectParquet("in.parquet")
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM read_parquet('in.parquet')`, got)

	_, err = SelectParquet("")
	require.Error(t, err)
}

func TestCreateS3Secret(t *testing.T) {
	got, err := CreateS3Secret("dpm_s3", "key", "se'cret", "minio:9000", "eu-west-1", "path")
	require.NoError(t, err)
	assert.Equal(t, "CREATE OR REPLACE SECRET \"dpm_s3\" (\n\tTYPE S3,\n\tKEY_ID 'key',\n\tSECRET 'se''cret',\n\tREGION 'eu-west-1',\n\tENDPOINT 'minio:9000',\n\tURL_STYLE 'path'\n)", got)

	got, err = CreateS3Secret("dpm_s3", "k", "s", "", "us-east-1", "")
	require.NoError(t, err)
	assert.NotContains(t, got, "ENDPOINT")

	_, err = CreateS3Secret("bad name", "k", "s", "", "r", "")
	require.Error(t, err)
}

func TestCreateAzureSecret(t *testing.T) {
	got, err := CreateAzureSecret("dpm_az", "acct", "k==")
	require.NoError(t, err)
	assert.Contains(t, got, "TYPE AZURE")
	assert.Contains(t, got, "AccountName=acct;AccountKey=k==")
}

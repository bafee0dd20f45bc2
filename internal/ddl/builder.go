// Package ddl builds the SQL statements used to move tables in and out of
// DuckDB and SQLite.
package ddl

import (
	"fmt"
	"strings"

	"dpm/internal/table"
)

// Dialect is a SQL flavour.
type Dialect string

// Supported dialects, named after their database/sql drivers.
const (
	DuckDB Dialect = "duckdb"
	SQLite Dialect = "sqlite3"
)

// ColumnDef describes a column for CREATE TABLE.
type ColumnDef struct {
	Name string
	Type string
}

// ColumnType maps a table column type onto a dialect type. SQLite has no
// timestamp or boolean storage class; timestamps are stored as text.
func ColumnType(d Dialect, t table.Type) string {
	if d == SQLite {
		switch t {
		case table.TypeBool, table.TypeInt64:
			return "INTEGER"
		case table.TypeFloat64:
			return "REAL"
		}
		return "TEXT"
	}
	switch t {
	case table.TypeBool:
		return "BOOLEAN"
	case table.TypeInt64:
		return "BIGINT"
	case table.TypeFloat64:
		return "DOUBLE"
	case table.TypeTimestamp:
		return "TIMESTAMP"
	}
	return "VARCHAR"
}

// Columns derives column definitions from a table's columns.
func Columns(d Dialect, cols []table.Column) []ColumnDef {
	out := make([]ColumnDef, len(cols))
	for i, c := range cols {
		out[i] = ColumnDef{Name: c.Name, Type: ColumnType(d, c.Type)}
	}
	return out
}

// CreateTable returns CREATE TABLE [IF NOT EXISTS] <table> ("<col1>" TYPE1, ...).
func CreateTable(name string, columns []ColumnDef, ifNotExists bool) (string, error) {
	if err := ValidateTableName(name); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}

	colDefs := make([]string, 0, len(columns))
	for _, c := range columns {
		if err := ValidateColumnName(c.Name); err != nil {
			return "", fmt.Errorf("invalid column name %q: %w", c.Name, err)
		}
		colDefs = append(colDefs, fmt.Sprintf("%s %s", QuoteIdentifier(c.Name), c.Type))
	}

	stmt := "CREATE TABLE "
	if ifNotExists {
		stmt += "IF NOT EXISTS "
	}
	return stmt + fmt.Sprintf("%s (%s)", QuoteTableName(name), strings.Join(colDefs, ", ")), nil
}

// DropTable returns DROP TABLE IF EXISTS <table>.
func DropTable(name string) (string, error) {
	if err := ValidateTableName(name); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return "DROP TABLE IF EXISTS " + QuoteTableName(name), nil
}

// Insert returns a parameterised INSERT INTO <table> ("a", "b") VALUES (?, ?).
func Insert(name string, columns []string) (string, error) {
	if err := ValidateTableName(name); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		if err := ValidateColumnName(c); err != nil {
			return "", fmt.Errorf("invalid column name %q: %w", c, err)
		}
		quoted[i] = QuoteIdentifier(c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteTableName(name),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "),
	), nil
}

// CopyToParquet returns COPY <table> TO '<path>' (FORMAT PARQUET).
func CopyToParquet(name, path string) (string, error) {
	if err := ValidateTableName(name); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	return fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET)", QuoteTableName(name), QuoteLiteral(path)), nil
}

// SelectParquet returns SELECT * FROM read_parquet('<path>').
func SelectParquet(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	return fmt.Sprintf("SELECT * FROM read_parquet(%s)", QuoteLiteral(path)), nil
}

// CreateS3Secret returns a DuckDB statement registering S3 credentials so
// read_parquet and COPY can address s3:// paths.
func CreateS3Secret(name, keyID, secret, endpoint, region, urlStyle string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	opts := []string{
		"TYPE S3",
		"KEY_ID " + QuoteLiteral(keyID),
		"SECRET " + QuoteLiteral(secret),
		"REGION " + QuoteLiteral(region),
	}
	if endpoint != "" {
		opts = append(opts, "ENDPOINT "+QuoteLiteral(endpoint))
	}
	if urlStyle != "" {
		opts = append(opts, "URL_STYLE "+QuoteLiteral(urlStyle))
	}
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (\n\t%s\n)", QuoteIdentifier(name), strings.Join(opts, ",\n\t")), nil
}

// CreateAzureSecret returns a DuckDB statement registering an Azure storage
// account for az:// paths.
func CreateAzureSecret(name, accountName, accountKey string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	conn := fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net", accountName, accountKey)
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (\n\tTYPE AZURE,\n\tCONNECTION_STRING %s\n)", QuoteIdentifier(name), QuoteLiteral(conn)), nil
}

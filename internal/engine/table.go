package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"dpm/internal/ddl"
	"dpm/internal/domain"
	"dpm/internal/table"
)

// WriteMode selects how WriteTable treats an existing table.
type WriteMode string

// Write modes.
const (
	Overwrite WriteMode = "overwrite"
	Append    WriteMode = "append"
)

// QueryTable runs a query and collects the result set into a table. Column
// types come from the driver's declared type names.
func QueryTable(ctx context.Context, db *sql.DB, query string, args ...any) (*table.Table, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	cols := make([]table.Column, len(colTypes))
	for i, ct := range colTypes {
		cols[i] = table.Column{Name: ct.Name(), Type: columnType(ct.DatabaseTypeName())}
	}
	t := table.New(cols...)

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		t.Rows = append(t.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return t, nil
}

func columnType(dbType string) table.Type {
	dbType = strings.ToUpper(dbType)
	switch {
	case dbType == "":
		return table.TypeAny
	case strings.Contains(dbType, "BOOL"):
		return table.TypeBool
	case strings.Contains(dbType, "INT"):
		return table.TypeInt64
	case strings.Contains(dbType, "DOUBLE"), strings.Contains(dbType, "FLOAT"),
		strings.Contains(dbType, "REAL"), strings.Contains(dbType, "DECIMAL"), strings.Contains(dbType, "NUMERIC"):
		return table.TypeFloat64
	case strings.Contains(dbType, "TIMESTAMP"), strings.Contains(dbType, "DATE"):
		return table.TypeTimestamp
	case strings.Contains(dbType, "CHAR"), strings.Contains(dbType, "TEXT"), strings.Contains(dbType, "CLOB"):
		return table.TypeString
	}
	return table.TypeAny
}

// normalize folds driver values onto the cell types the table package knows.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64, bool, time.Time:
		return v
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case interface{ Float64() float64 }:
		return x.Float64()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// WriteTable stores t as table name inside one transaction. Overwrite drops
// and recreates the table; Append creates it only when missing. It returns
// the number of rows inserted.
func WriteTable(ctx context.Context, db *sql.DB, driver Driver, name string, t *table.Table, mode WriteMode) (int64, error) {
	if t.Width() == 0 {
		return 0, domain.ErrValidation("cannot write a table without columns to %s", name)
	}
	create, err := ddl.CreateTable(name, ddl.Columns(driver, t.Columns), mode == Append)
	if err != nil {
		return 0, domain.ErrValidation("%v", err)
	}
	insert, err := ddl.Insert(name, t.ColumnNames())
	if err != nil {
		return 0, domain.ErrValidation("%v", err)
	}
	var stmts []string
	switch mode {
	case Overwrite:
		drop, err := ddl.DropTable(name)
		if err != nil {
			return 0, domain.ErrValidation("%v", err)
		}
		stmts = []string{drop, create}
	case Append:
		stmts = []string{create}
	default:
		return 0, domain.ErrValidation("unsupported write mode %q", mode)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return 0, fmt.Errorf("prepare table %s: %w", name, err)
		}
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	args := make([]any, t.Width())
	for r, row := range t.Rows {
		for i, v := range row {
			args[i] = bindValue(driver, t.Columns[i].Type, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("insert row %d into %s: %w", r, name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int64(t.Len()), nil
}

func bindValue(driver Driver, typ table.Type, v any) any {
	if table.IsNull(v) {
		return nil
	}
	switch typ {
	case table.TypeAny, table.TypeString:
		return table.FormatValue(v)
	case table.TypeTimestamp:
		if ts, ok := v.(time.Time); ok && driver == SQLite {
			return table.FormatValue(ts)
		}
	}
	return v
}

package engine

import (
	"context"
	"fmt"

	"dpm/internal/ddl"
	"dpm/internal/table"
)

// ReadParquet loads a parquet file (local path or any URL DuckDB can read)
// through an in-memory DuckDB.
func ReadParquet(ctx context.Context, path string) (*table.Table, error) {
	q, err := ddl.SelectParquet(path)
	if err != nil {
		return nil, err
	}
	db, err := Open(ctx, DuckDB, "")
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck

	t, err := QueryTable(ctx, db, q)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return t, nil
}

// WriteParquet writes t to a parquet file, replacing any existing file.
func WriteParquet(ctx context.Context, path string, t *table.Table) error {
	db, err := Open(ctx, DuckDB, "")
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck
	db.SetMaxOpenConns(1)

	if _, err := WriteTable(ctx, db, DuckDB, "data", t, Overwrite); err != nil {
		return fmt.Errorf("stage parquet rows: %w", err)
	}
	stmt, err := ddl.CopyToParquet("data", path)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("write parquet %s: %w", path, err)
	}
	return nil
}

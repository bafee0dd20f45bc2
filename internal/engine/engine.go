// Package engine opens DuckDB and SQLite databases and moves tables in and
// out of them.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" driver

	"dpm/internal/config"
	"dpm/internal/ddl"
	"dpm/internal/domain"
)

// Driver names a supported database/sql driver.
type Driver = ddl.Dialect

// Supported drivers.
const (
	DuckDB = ddl.DuckDB
	SQLite = ddl.SQLite
)

// ParseDriver accepts the driver names plus the aliases "sqlite" and "duck".
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "duckdb", "duck":
		return DuckDB, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	}
	return "", domain.ErrValidation("unsupported database driver %q (want duckdb or sqlite3)", s)
}

// SQLite DSN parameters, same hardening as a long-lived writer.
const (
	defaultBusyTimeout = "5000"
	defaultSynchronous = "NORMAL"
	defaultJournalMode = "WAL"
)

// Open opens and pings a database. An empty DuckDB dsn is an in-memory
// database. SQLite paths get WAL journaling, a busy timeout and immediate
// write transactions; a single connection serialises writers.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DuckDB:
		db, err = sql.Open(string(DuckDB), dsn)
	case SQLite:
		if dsn == "" {
			return nil, domain.ErrValidation("sqlite3 needs a database path")
		}
		db, err = sql.Open(string(SQLite), sqliteDSN(dsn))
		if err == nil {
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	default:
		return nil, domain.ErrValidation("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") || strings.HasPrefix(path, "file:") {
		return path
	}
	params := url.Values{}
	params.Set("_journal_mode", defaultJournalMode)
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_synchronous", defaultSynchronous)
	params.Set("_txlock", "immediate")
	return path + "?" + params.Encode()
}

// ConfigureObjectStorage loads httpfs and registers the configured S3 and
// Azure credentials as DuckDB secrets, so queries can read s3:// and az://
// paths directly. Nothing happens when neither is configured.
func ConfigureObjectStorage(ctx context.Context, db *sql.DB, cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	var stmts []string
	if cfg.HasS3Config() {
		endpoint, style := "", ""
		if cfg.S3Endpoint != nil {
			endpoint = strings.TrimPrefix(strings.TrimPrefix(*cfg.S3Endpoint, "https://"), "http://")
			style = "path"
		}
		s, err := ddl.CreateS3Secret("dpm_s3", *cfg.S3KeyID, *cfg.S3Secret, endpoint, *cfg.S3Region, style)
		if err != nil {
			return fmt.Errorf("build DDL: %w", err)
		}
		stmts = append(stmts, "INSTALL httpfs; LOAD httpfs;", s)
	}
	if cfg.HasAzureConfig() {
		s, err := ddl.CreateAzureSecret("dpm_azure", cfg.AzureAccount, cfg.AzureKey)
		if err != nil {
			return fmt.Errorf("build DDL: %w", err)
		}
		stmts = append(stmts, "INSTALL azure; LOAD azure;", s)
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("configure object storage: %w", err)
		}
	}
	if len(stmts) > 0 {
		logger.Debug("duckdb object storage configured", "s3", cfg.HasS3Config(), "azure", cfg.HasAzureConfig())
	}
	return nil
}

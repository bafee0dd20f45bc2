package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"dpm/internal/bigquery"
	"dpm/internal/domain"
	"dpm/internal/engine"
	"dpm/internal/fieldname"
	"dpm/internal/sheets"
	"dpm/internal/storage"
	"dpm/internal/table"
)

// Content types used for uploaded objects.
const (
	ContentTypeCSV     = "text/csv"
	ContentTypeTSV     = "text/tab-separated-values"
	ContentTypeXLSX    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeParquet = "application/vnd.apache.parquet"
)

// DefaultLocation is the BigQuery dataset location used when none is set.
const DefaultLocation = "EU"

// BigQuery is the part of the BigQuery client transfers use.
type BigQuery interface {
	bigquery.Loader
	ReadTable(ctx context.Context, id bigquery.TableID) (*table.Table, error)
}

// Sheets is the part of the Sheets client transfers use.
type Sheets interface {
	Read(ctx context.Context, spreadsheetID, worksheet string) (*table.Table, error)
	Write(ctx context.Context, spreadsheetID, worksheet string, t *table.Table, mode sheets.WriteMode) (int64, error)
}

var (
	_ BigQuery = (*bigquery.Client)(nil)
	_ Sheets   = (*sheets.Client)(nil)
)

// Config wires a Service. The cloud clients are created lazily so that a
// local transfer never needs Google credentials.
type Config struct {
	Stores   *storage.Registry
	BigQuery func(ctx context.Context) (BigQuery, error)
	Sheets   func(ctx context.Context) (Sheets, error)
	// Project completes two-part BigQuery table names.
	Project string
	// Location is the default BigQuery dataset location.
	Location string
	Logger   *slog.Logger
}

// ReadOptions shapes a table after it is read.
type ReadOptions struct {
	RowStart int `yaml:"row_start,omitempty" json:"row_start,omitempty"`
	// RowEnd is exclusive; zero reads through the last row.
	RowEnd   int `yaml:"row_end,omitempty" json:"row_end,omitempty"`
	ColStart int `yaml:"col_start,omitempty" json:"col_start,omitempty"`
	ColEnd   int `yaml:"col_end,omitempty" json:"col_end,omitempty"`
	// Fields keeps only these columns, in this order. Unknown names are
	// ignored; when none match, every column is kept.
	Fields           []string              `yaml:"fields,omitempty" json:"fields,omitempty"`
	StripCells       bool                  `yaml:"strip_cells" json:"strip_cells"`
	NormalizeHeaders bool                  `yaml:"normalize_headers" json:"normalize_headers"`
	HeaderStyle      fieldname.HeaderStyle `yaml:"header_style,omitempty" json:"header_style,omitempty"`
	AutoDates        bool                  `yaml:"auto_dates" json:"auto_dates"`
	AutoNumbers      bool                  `yaml:"auto_numbers" json:"auto_numbers"`
	SkipEmptyRows    bool                  `yaml:"skip_empty_rows" json:"skip_empty_rows"`
}

// DefaultReadOptions strips cells, converts dates and numbers and drops
// empty file rows.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{
		StripCells:    true,
		HeaderStyle:   fieldname.HeaderForms,
		AutoDates:     true,
		AutoNumbers:   true,
		SkipEmptyRows: true,
	}
}

// Service reads and writes tables.
type Service struct {
	cfg    Config
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	if cfg.Stores == nil {
		cfg.Stores = storage.NewRegistry()
	}
	if cfg.Location == "" {
		cfg.Location = DefaultLocation
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, logger: logger}
}

// Read loads a table from src and applies opts.
func (s *Service) Read(ctx context.Context, src Source, opts ReadOptions) (*table.Table, error) {
	if err := ValidateSource(src); err != nil {
		return nil, err
	}
	start := time.Now()
	t, err := s.readRaw(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}

	if opts.SkipEmptyRows && (src.Kind() == KindFile || src.Kind() == KindObject) {
		if n := t.DropEmptyRows(); n > 0 {
			s.logger.Info("empty rows dropped", "source", src.String(), "rows", n)
		}
	}
	t = shape(t, opts)
	if opts.NormalizeHeaders {
		style := opts.HeaderStyle
		if style == "" {
			style = fieldname.HeaderForms
		}
		if err := t.RenameColumns(fieldname.NormalizeHeaders(t.ColumnNames(), style)); err != nil {
			return nil, err
		}
	}
	settleTypes(t)
	if opts.AutoDates {
		convertDates(t, s.logger)
	}
	if opts.AutoNumbers {
		convertNamedNumbers(t, s.logger)
		convertDense(t)
	}

	s.logger.Info("table read", "source", src.String(), "rows", t.Len(), "columns", t.Width(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return t, nil
}

// shape applies the row and column window, the field selection and cell
// stripping.
func shape(t *table.Table, opts ReadOptions) *table.Table {
	end := func(n int) int {
		if n <= 0 {
			return -1
		}
		return n
	}
	t = t.Slice(opts.RowStart, end(opts.RowEnd)).SliceColumns(opts.ColStart, end(opts.ColEnd))

	if len(opts.Fields) > 0 {
		keep := slices.DeleteFunc(slices.Clone(opts.Fields), func(f string) bool { return !t.HasColumn(f) })
		if len(keep) > 0 {
			t, _ = t.SelectColumns(keep)
		}
	}
	if opts.StripCells {
		for _, row := range t.Rows {
			for i, v := range row {
				if str, ok := v.(string); ok {
					if str = strings.TrimSpace(str); str == "" {
						row[i] = nil
					} else {
						row[i] = str
					}
				}
			}
		}
	}
	return t
}

func (s *Service) readRaw(ctx context.Context, src Source) (*table.Table, error) {
	switch src := src.(type) {
	case FileSource:
		return readFile(ctx, src.Path, src.Worksheet)
	case ObjectSource:
		return s.readObject(ctx, src)
	case SheetSource:
		client, err := s.sheetsClient(ctx)
		if err != nil {
			return nil, err
		}
		id, err := sheets.SpreadsheetID(src.Spreadsheet)
		if err != nil {
			return nil, err
		}
		return client.Read(ctx, id, src.Worksheet)
	case BigQuerySource:
		id, err := bigquery.ParseTableID(src.Table, s.cfg.Project)
		if err != nil {
			return nil, err
		}
		client, err := s.bigQueryClient(ctx)
		if err != nil {
			return nil, err
		}
		return client.ReadTable(ctx, id)
	case DatabaseSource:
		driver, _ := engine.ParseDriver(src.Driver)
		db, err := engine.Open(ctx, driver, src.DSN)
		if err != nil {
			return nil, err
		}
		defer db.Close() //nolint:errcheck
		return engine.QueryTable(ctx, db, src.Query)
	}
	return nil, domain.ErrValidation("unsupported source %T", src)
}

func readFile(ctx context.Context, path, worksheet string) (*table.Table, error) {
	format, err := table.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if format == table.FormatParquet {
		return engine.ReadParquet(ctx, path)
	}
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound("file %s not found", path)
		}
		return nil, err
	}
	defer f.Close() //nolint:errcheck
	return decode(f, format, worksheet)
}

func decode(r io.Reader, format table.Format, worksheet string) (*table.Table, error) {
	switch format {
	case table.FormatCSV, table.FormatTSV:
		return table.ReadCSV(r, format.Delimiter())
	case table.FormatXLSX:
		return table.ReadXLSX(r, worksheet)
	}
	return nil, domain.ErrValidation("cannot decode %s from a stream", format)
}

func (s *Service) readObject(ctx context.Context, src ObjectSource) (*table.Table, error) {
	u, err := storage.ParseURI(src.URI)
	if err != nil {
		return nil, err
	}
	store, err := s.cfg.Stores.For(ctx, u)
	if err != nil {
		return nil, err
	}
	format, err := table.FormatFromPath(u.Key)
	if err != nil {
		return nil, err
	}
	rc, err := store.Open(ctx, u.Bucket, u.Key)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	if format != table.FormatParquet {
		return decode(rc, format, src.Worksheet)
	}
	tmp, err := os.CreateTemp("", "dpm-*.parquet")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := io.Copy(tmp, rc); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("download %s: %w", u, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	return engine.ReadParquet(ctx, tmp.Name())
}

// Write stores t in tgt according to the target's mode.
func (s *Service) Write(ctx context.Context, t *table.Table, tgt Target) error {
	if t == nil {
		return domain.ErrValidation("no table to write")
	}
	if err := ValidateTarget(tgt); err != nil {
		return err
	}
	mode, _ := ParseMode(string(tgt.mode()))
	start := time.Now()

	var err error
	switch tgt := tgt.(type) {
	case FileTarget:
		err = writeFile(ctx, t, tgt.Path, tgt.Worksheet, mode)
	case ObjectTarget:
		err = s.writeObject(ctx, t, tgt, mode)
	case SheetTarget:
		err = s.writeSheet(ctx, t, tgt, mode)
	case BigQueryTarget:
		err = s.writeBigQuery(ctx, t, tgt, mode)
	case DatabaseTarget:
		err = writeDatabase(ctx, t, tgt, mode)
	default:
		err = domain.ErrValidation("unsupported target %T", tgt)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", tgt, err)
	}
	s.logger.Info("table written", "target", tgt.String(), "mode", mode, "rows", t.Len(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFile(ctx context.Context, t *table.Table, path, worksheet string, mode Mode) error {
	format, err := table.FormatFromPath(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	exists := fileExists(path)

	switch format {
	case table.FormatCSV, table.FormatTSV:
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if mode == Append {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(path, flags, 0o644) //nolint:gosec // path is caller-controlled
		if err != nil {
			return err
		}
		if err := table.WriteCSV(f, t, format.Delimiter(), !(mode == Append && exists)); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	case table.FormatParquet:
		if mode == Append && exists {
			prev, err := engine.ReadParquet(ctx, path)
			if err != nil {
				return err
			}
			t = table.Concat(prev, t)
		}
		return engine.WriteParquet(ctx, path, t)
	}

	if mode == Append && exists {
		prev, err := readFile(ctx, path, worksheet)
		if err != nil {
			return err
		}
		t = table.Concat(prev, t)
	}
	var buf bytes.Buffer
	if err := table.WriteXLSX(&buf, t, worksheet); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644) //nolint:gosec // path is caller-controlled
}

func (s *Service) writeObject(ctx context.Context, t *table.Table, tgt ObjectTarget, mode Mode) error {
	u, err := storage.ParseURI(tgt.URI)
	if err != nil {
		return err
	}
	store, err := s.cfg.Stores.For(ctx, u)
	if err != nil {
		return err
	}
	format, err := table.FormatFromPath(u.Key)
	if err != nil {
		return err
	}

	if mode == Append {
		exists, err := store.Exists(ctx, u.Bucket, u.Key)
		if err != nil {
			return err
		}
		if exists {
			prev, err := s.readObject(ctx, ObjectSource{URI: tgt.URI})
			if err != nil {
				return fmt.Errorf("read existing object: %w", err)
			}
			t = table.Concat(prev, t)
		}
	}

	var (
		buf         bytes.Buffer
		contentType string
	)
	switch format {
	case table.FormatCSV, table.FormatTSV:
		contentType = ContentTypeCSV
		if format == table.FormatTSV {
			contentType = ContentTypeTSV
		}
		err = table.WriteCSV(&buf, t, format.Delimiter(), true)
	case table.FormatXLSX:
		contentType = ContentTypeXLSX
		err = table.WriteXLSX(&buf, t, "")
	case table.FormatParquet:
		contentType = ContentTypeParquet
		err = encodeParquet(ctx, &buf, t)
	}
	if err != nil {
		return err
	}
	return store.Put(ctx, u.Bucket, u.Key, &buf, contentType)
}

func encodeParquet(ctx context.Context, w io.Writer, t *table.Table) error {
	dir, err := os.MkdirTemp("", "dpm-parquet-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir) //nolint:errcheck
	path := filepath.Join(dir, "data.parquet")
	if err := engine.WriteParquet(ctx, path, t); err != nil {
		return err
	}
	f, err := os.Open(path) //nolint:gosec // temp file
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck
	_, err = io.Copy(w, f)
	return err
}

func (s *Service) writeSheet(ctx context.Context, t *table.Table, tgt SheetTarget, mode Mode) error {
	id, err := sheets.SpreadsheetID(tgt.Spreadsheet)
	if err != nil {
		return err
	}
	client, err := s.sheetsClient(ctx)
	if err != nil {
		return err
	}
	sm := sheets.Overwrite
	if mode == Append {
		sm = sheets.Append
	}
	cells, err := client.Write(ctx, id, tgt.Worksheet, t, sm)
	if err != nil {
		return err
	}
	s.logger.Info("sheet updated", "url", "https://docs.google.com/spreadsheets/d/"+id, "cells", cells)
	return nil
}

func (s *Service) writeBigQuery(ctx context.Context, t *table.Table, tgt BigQueryTarget, mode Mode) error {
	id, err := bigquery.ParseTableID(tgt.Table, s.cfg.Project)
	if err != nil {
		return err
	}
	client, err := s.bigQueryClient(ctx)
	if err != nil {
		return err
	}
	names := fieldname.BigQueryColumns(t.ColumnNames())
	if !slices.Equal(names, t.ColumnNames()) {
		t = t.Clone()
		if err := t.RenameColumns(names); err != nil {
			return err
		}
		s.logger.Info("columns renamed for BigQuery", "table", id.String())
	}
	location := tgt.Location
	if location == "" {
		location = s.cfg.Location
	}
	wm := bigquery.WriteTruncate
	if mode == Append {
		wm = bigquery.WriteAppend
	}
	return client.Load(ctx, id, t, wm, bigquery.LoadOptions{
		CreateDataset: tgt.createDataset(),
		Location:      location,
	})
}

func writeDatabase(ctx context.Context, t *table.Table, tgt DatabaseTarget, mode Mode) error {
	driver, _ := engine.ParseDriver(tgt.Driver)
	db, err := engine.Open(ctx, driver, tgt.DSN)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck
	em := engine.Overwrite
	if mode == Append {
		em = engine.Append
	}
	_, err = engine.WriteTable(ctx, db, driver, tgt.Table, t, em)
	return err
}

func (s *Service) sheetsClient(ctx context.Context) (Sheets, error) {
	if s.cfg.Sheets == nil {
		return nil, domain.ErrValidation("Google Sheets is not configured")
	}
	return s.cfg.Sheets(ctx)
}

func (s *Service) bigQueryClient(ctx context.Context) (BigQuery, error) {
	if s.cfg.BigQuery == nil {
		return nil, domain.ErrValidation("BigQuery is not configured")
	}
	return s.cfg.BigQuery(ctx)
}

// Copy reads src and writes the result to tgt.
func (s *Service) Copy(ctx context.Context, src Source, tgt Target, opts ReadOptions) (*table.Table, error) {
	if err := ValidateTarget(tgt); err != nil {
		return nil, err
	}
	t, err := s.Read(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Write(ctx, t, tgt); err != nil {
		return nil, err
	}
	return t, nil
}

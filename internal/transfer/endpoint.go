// Package transfer moves tables between files, object storage, Google
// Sheets, BigQuery and SQL databases.
package transfer

import (
	"fmt"
	"strings"

	"dpm/internal/bigquery"
	"dpm/internal/domain"
	"dpm/internal/engine"
	"dpm/internal/sheets"
	"dpm/internal/storage"
	"dpm/internal/table"
)

// Kind names a source or target kind.
type Kind string

// Endpoint kinds.
const (
	KindFile     Kind = "file"
	KindSheet    Kind = "sheet"
	KindBigQuery Kind = "bigquery"
	KindObject   Kind = "object"
	KindDatabase Kind = "database"
)

// Mode says what a write does with existing data.
type Mode string

// Write modes.
const (
	Overwrite Mode = "overwrite"
	Append    Mode = "append"
)

// ParseMode accepts overwrite (the default when empty) and append.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Overwrite:
		return Overwrite, nil
	case Append:
		return Append, nil
	}
	return "", domain.ErrValidation("unsupported write mode %q (expected overwrite or append)", s)
}

// Source is where a table is read from. Exactly one concrete kind is set
// by construction.
type Source interface {
	Kind() Kind
	String() string
	validate() error
}

// Target is where a table is written to.
type Target interface {
	Kind() Kind
	String() string
	mode() Mode
	validate() error
}

// FileSource is a local csv, tsv, xlsx or parquet file.
type FileSource struct {
	Path string `yaml:"path" json:"path"`
	// Worksheet selects an xlsx sheet; the first one when empty.
	Worksheet string `yaml:"worksheet,omitempty" json:"worksheet,omitempty"`
}

// SheetSource is a Google Sheets worksheet.
type SheetSource struct {
	Spreadsheet string `yaml:"spreadsheet" json:"spreadsheet"`
	Worksheet   string `yaml:"worksheet" json:"worksheet"`
}

// BigQuerySource is a whole BigQuery table, "[project.]dataset.table".
type BigQuerySource struct {
	Table string `yaml:"table" json:"table"`
}

// ObjectSource is a file in a bucket (gs://, s3://, az://).
type ObjectSource struct {
	URI       string `yaml:"uri" json:"uri"`
	Worksheet string `yaml:"worksheet,omitempty" json:"worksheet,omitempty"`
}

// DatabaseSource is a query against DuckDB or SQLite.
type DatabaseSource struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
	Query  string `yaml:"query" json:"query"`
}

func (FileSource) Kind() Kind     { return KindFile }
func (SheetSource) Kind() Kind    { return KindSheet }
func (BigQuerySource) Kind() Kind { return KindBigQuery }
func (ObjectSource) Kind() Kind   { return KindObject }
func (DatabaseSource) Kind() Kind { return KindDatabase }

func (s FileSource) String() string     { return "file://" + s.Path }
func (s SheetSource) String() string    { return fmt.Sprintf("sheets://%s/%s", s.Spreadsheet, s.Worksheet) }
func (s BigQuerySource) String() string { return "bq://" + s.Table }
func (s ObjectSource) String() string   { return s.URI }
func (s DatabaseSource) String() string { return fmt.Sprintf("%s://%s", s.Driver, s.DSN) }

func (s FileSource) validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return domain.ErrValidation("file source needs a path")
	}
	_, err := table.FormatFromPath(s.Path)
	return err
}

func (s SheetSource) validate() error {
	if _, err := sheets.SpreadsheetID(s.Spreadsheet); err != nil {
		return err
	}
	if strings.TrimSpace(s.Worksheet) == "" {
		return domain.ErrValidation("sheet source needs a worksheet name")
	}
	return nil
}

func (s BigQuerySource) validate() error {
	_, err := bigquery.ParseTableID(s.Table, "-")
	return err
}

func (s ObjectSource) validate() error {
	u, err := storage.ParseURI(s.URI)
	if err != nil {
		return err
	}
	_, err = table.FormatFromPath(u.Key)
	return err
}

func (s DatabaseSource) validate() error {
	if _, err := engine.ParseDriver(s.Driver); err != nil {
		return err
	}
	if strings.TrimSpace(s.Query) == "" {
		return domain.ErrValidation("database source needs a query")
	}
	return nil
}

// FileTarget is a local csv, tsv, xlsx or parquet file.
type FileTarget struct {
	Path      string `yaml:"path" json:"path"`
	Worksheet string `yaml:"worksheet,omitempty" json:"worksheet,omitempty"`
	Mode      Mode   `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// SheetTarget is a Google Sheets worksheet.
type SheetTarget struct {
	Spreadsheet string `yaml:"spreadsheet" json:"spreadsheet"`
	Worksheet   string `yaml:"worksheet" json:"worksheet"`
	Mode        Mode   `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// BigQueryTarget is a BigQuery table. CreateDataset defaults to true.
type BigQueryTarget struct {
	Table         string `yaml:"table" json:"table"`
	Location      string `yaml:"location,omitempty" json:"location,omitempty"`
	CreateDataset *bool  `yaml:"create_dataset,omitempty" json:"create_dataset,omitempty"`
	Mode          Mode   `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// ObjectTarget is a file in a bucket.
type ObjectTarget struct {
	URI  string `yaml:"uri" json:"uri"`
	Mode Mode   `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// DatabaseTarget is a DuckDB or SQLite table.
type DatabaseTarget struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
	Table  string `yaml:"table" json:"table"`
	Mode   Mode   `yaml:"mode,omitempty" json:"mode,omitempty"`
}

func (FileTarget) Kind() Kind     { return KindFile }
func (SheetTarget) Kind() Kind    { return KindSheet }
func (BigQueryTarget) Kind() Kind { return KindBigQuery }
func (ObjectTarget) Kind() Kind   { return KindObject }
func (DatabaseTarget) Kind() Kind { return KindDatabase }

func (t FileTarget) String() string     { return "file://" + t.Path }
func (t SheetTarget) String() string    { return fmt.Sprintf("sheets://%s/%s", t.Spreadsheet, t.Worksheet) }
func (t BigQueryTarget) String() string { return "bq://" + t.Table }
func (t ObjectTarget) String() string   { return t.URI }
func (t DatabaseTarget) String() string { return fmt.Sprintf("%s://%s#%s", t.Driver, t.DSN, t.Table) }

func (t FileTarget) mode() Mode     { return t.Mode }
func (t SheetTarget) mode() Mode    { return t.Mode }
func (t BigQueryTarget) mode() Mode { return t.Mode }
func (t ObjectTarget) mode() Mode   { return t.Mode }
func (t DatabaseTarget) mode() Mode { return t.Mode }

func (t FileTarget) validate() error {
	return FileSource{Path: t.Path}.validate()
}

func (t SheetTarget) validate() error {
	return SheetSource{Spreadsheet: t.Spreadsheet, Worksheet: t.Worksheet}.validate()
}

func (t BigQueryTarget) validate() error {
	return BigQuerySource{Table: t.Table}.validate()
}

func (t ObjectTarget) validate() error {
	u, err := storage.ParseURI(t.URI)
	if err != nil {
		return err
	}
	f, err := table.FormatFromPath(u.Key)
	if err != nil {
		return err
	}
	if f == table.FormatParquet && t.Mode == Append {
		return domain.ErrValidation("append is not supported for parquet objects")
	}
	return nil
}

func (t DatabaseTarget) validate() error {
	if _, err := engine.ParseDriver(t.Driver); err != nil {
		return err
	}
	if strings.TrimSpace(t.Table) == "" {
		return domain.ErrValidation("database target needs a table name")
	}
	return nil
}

// createDataset reports whether a missing dataset should be created.
func (t BigQueryTarget) createDataset() bool {
	return t.CreateDataset == nil || *t.CreateDataset
}

// ValidateSource checks a source before any IO happens.
func ValidateSource(s Source) error {
	if s == nil {
		return domain.ErrValidation("no source given")
	}
	return s.validate()
}

// ValidateTarget checks a target and its mode before any IO happens.
func ValidateTarget(t Target) error {
	if t == nil {
		return domain.ErrValidation("no target given")
	}
	if _, err := ParseMode(string(t.mode())); err != nil {
		return err
	}
	return t.validate()
}

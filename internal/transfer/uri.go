package transfer

import (
	"strings"

	"dpm/internal/domain"
	"dpm/internal/storage"
)

// URI forms accepted on the command line:
//
//	path/to/file.csv | file://path          local file
//	gs://bucket/key | s3://... | az://...    object
//	sheets://<spreadsheet id>/<worksheet>    Google Sheets
//	bq://[project.]dataset.table             BigQuery
//	duckdb://<dsn>#<query or table>          DuckDB (sqlite3:// for SQLite)

func splitScheme(s string) (scheme, rest string) {
	if i := strings.Index(s, "://"); i > 0 {
		return strings.ToLower(s[:i]), s[i+3:]
	}
	return "", s
}

// ParseSourceURI turns a URI into a Source.
func ParseSourceURI(s string) (Source, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, domain.ErrValidation("source is empty")
	}
	if storage.IsObjectURI(s) {
		src := ObjectSource{URI: s}
		return src, src.validate()
	}
	scheme, rest := splitScheme(s)
	var src Source
	switch scheme {
	case "", "file":
		src = FileSource{Path: rest}
	case "sheets", "gsheet":
		id, ws, ok := strings.Cut(rest, "/")
		if !ok {
			return nil, domain.ErrValidation("sheet URI %q needs sheets://<id>/<worksheet>", s)
		}
		src = SheetSource{Spreadsheet: id, Worksheet: ws}
	case "bq", "bigquery":
		src = BigQuerySource{Table: rest}
	case "duckdb", "sqlite", "sqlite3":
		dsn, query, _ := strings.Cut(rest, "#")
		src = DatabaseSource{Driver: scheme, DSN: dsn, Query: query}
	default:
		return nil, domain.ErrValidation("unsupported source scheme %q", scheme)
	}
	return src, src.validate()
}

// ParseTargetURI turns a URI and a write mode into a Target.
func ParseTargetURI(s string, mode Mode) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, domain.ErrValidation("target is empty")
	}
	var tgt Target
	if storage.IsObjectURI(s) {
		tgt = ObjectTarget{URI: s, Mode: mode}
	} else {
		scheme, rest := splitScheme(s)
		switch scheme {
		case "", "file":
			tgt = FileTarget{Path: rest, Mode: mode}
		case "sheets", "gsheet":
			id, ws, ok := strings.Cut(rest, "/")
			if !ok {
				return nil, domain.ErrValidation("sheet URI %q needs sheets://<id>/<worksheet>", s)
			}
			tgt = SheetTarget{Spreadsheet: id, Worksheet: ws, Mode: mode}
		case "bq", "bigquery":
			tgt = BigQueryTarget{Table: rest, Mode: mode}
		case "duckdb", "sqlite", "sqlite3":
			dsn, name, _ := strings.Cut(rest, "#")
			tgt = DatabaseTarget{Driver: scheme, DSN: dsn, Table: name, Mode: mode}
		default:
			return nil, domain.ErrValidation("unsupported target scheme %q", scheme)
		}
	}
	return tgt, ValidateTarget(tgt)
}

// SourceSpec is the YAML/JSON form of a Source: set exactly one field.
type SourceSpec struct {
	URI      string          `yaml:"uri,omitempty" json:"uri,omitempty"`
	File     *FileSource     `yaml:"file,omitempty" json:"file,omitempty"`
	Sheet    *SheetSource    `yaml:"sheet,omitempty" json:"sheet,omitempty"`
	BigQuery *BigQuerySource `yaml:"bigquery,omitempty" json:"bigquery,omitempty"`
	Object   *ObjectSource   `yaml:"object,omitempty" json:"object,omitempty"`
	Database *DatabaseSource `yaml:"database,omitempty" json:"database,omitempty"`
}

// Source resolves the spec, rejecting zero or several kinds.
func (s SourceSpec) Source() (Source, error) {
	var found []Source
	if s.URI != "" {
		src, err := ParseSourceURI(s.URI)
		if err != nil {
			return nil, err
		}
		found = append(found, src)
	}
	if s.File != nil {
		found = append(found, *s.File)
	}
	if s.Sheet != nil {
		found = append(found, *s.Sheet)
	}
	if s.BigQuery != nil {
		found = append(found, *s.BigQuery)
	}
	if s.Object != nil {
		found = append(found, *s.Object)
	}
	if s.Database != nil {
		found = append(found, *s.Database)
	}
	if len(found) != 1 {
		return nil, domain.ErrValidation("exactly one source is required, got %d", len(found))
	}
	return found[0], ValidateSource(found[0])
}

// TargetSpec is the YAML/JSON form of a Target: set exactly one field.
// Mode applies to a URI target.
type TargetSpec struct {
	URI      string          `yaml:"uri,omitempty" json:"uri,omitempty"`
	Mode     Mode            `yaml:"mode,omitempty" json:"mode,omitempty"`
	File     *FileTarget     `yaml:"file,omitempty" json:"file,omitempty"`
	Sheet    *SheetTarget    `yaml:"sheet,omitempty" json:"sheet,omitempty"`
	BigQuery *BigQueryTarget `yaml:"bigquery,omitempty" json:"bigquery,omitempty"`
	Object   *ObjectTarget   `yaml:"object,omitempty" json:"object,omitempty"`
	Database *DatabaseTarget `yaml:"database,omitempty" json:"database,omitempty"`
}

// Target resolves the spec, rejecting zero or several kinds.
func (s TargetSpec) Target() (Target, error) {
	var found []Target
	if s.URI != "" {
		tgt, err := ParseTargetURI(s.URI, s.Mode)
		if err != nil {
			return nil, err
		}
		found = append(found, tgt)
	}
	if s.File != nil {
		found = append(found, *s.File)
	}
	if s.Sheet != nil {
		found = append(found, *s.Sheet)
	}
	if s.BigQuery != nil {
		found = append(found, *s.BigQuery)
	}
	if s.Object != nil {
		found = append(found, *s.Object)
	}
	if s.Database != nil {
		found = append(found, *s.Database)
	}
	if len(found) != 1 {
		return nil, domain.ErrValidation("exactly one target is required, got %d", len(found))
	}
	return found[0], ValidateTarget(found[0])
}

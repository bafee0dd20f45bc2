// Package gcsload loads delimited files and workbooks from a bucket into
// BigQuery, one table per file, inferring each table's schema from a sample.
package gcsload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"dpm/internal/bigquery"
	"dpm/internal/domain"
	"dpm/internal/engine"
	"dpm/internal/fieldname"
	"dpm/internal/schema"
	"dpm/internal/storage"
	"dpm/internal/table"
)

// Defaults applied by Run.
const (
	DefaultChunkSize  = 10000
	DefaultSampleSize = 1000
	DefaultDelimiter  = ";"
	dateLayout        = "2006-01-02"
)

// Filters narrows the bucket listing. It is ignored unless Use is set.
type Filters struct {
	Use               bool     `yaml:"use" json:"use"`
	NameInclude       []string `yaml:"name_include,omitempty" json:"name_include,omitempty"`
	NameExclude       []string `yaml:"name_exclude,omitempty" json:"name_exclude,omitempty"`
	ExtInclude        []string `yaml:"ext_include,omitempty" json:"ext_include,omitempty"`
	ExtExclude        []string `yaml:"ext_exclude,omitempty" json:"ext_exclude,omitempty"`
	MinSizeKB         float64  `yaml:"min_size_kb,omitempty" json:"min_size_kb,omitempty"`
	MaxSizeKB         float64  `yaml:"max_size_kb,omitempty" json:"max_size_kb,omitempty"`
	ModifiedAfter     string   `yaml:"modified_after,omitempty" json:"modified_after,omitempty"`
	ModifiedBefore    string   `yaml:"modified_before,omitempty" json:"modified_before,omitempty"`
	IncludeSubfolders bool     `yaml:"include_subfolders" json:"include_subfolders"`
}

type matcher struct {
	Filters
	after, before time.Time
}

func (f Filters) compile() (*matcher, error) {
	m := &matcher{Filters: f}
	var err error
	if f.ModifiedAfter != "" {
		if m.after, err = time.Parse(dateLayout, f.ModifiedAfter); err != nil {
			return nil, domain.ErrValidation("modified_after %q is not YYYY-MM-DD", f.ModifiedAfter)
		}
	}
	if f.ModifiedBefore != "" {
		if m.before, err = time.Parse(dateLayout, f.ModifiedBefore); err != nil {
			return nil, domain.ErrValidation("modified_before %q is not YYYY-MM-DD", f.ModifiedBefore)
		}
	}
	if f.MinSizeKB < 0 || f.MaxSizeKB < 0 {
		return nil, domain.ErrValidation("size filters must not be negative")
	}
	return m, nil
}

func normalizeExt(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// pass reports whether o survives the filters. Dates compare on the UTC
// calendar day of the object's last update.
func (m *matcher) pass(o storage.Object) bool {
	if !m.Use {
		return true
	}
	name := o.Key
	if len(m.NameInclude) > 0 && !slices.ContainsFunc(m.NameInclude, func(s string) bool { return strings.Contains(name, s) }) {
		return false
	}
	if slices.ContainsFunc(m.NameExclude, func(s string) bool { return s != "" && strings.Contains(name, s) }) {
		return false
	}
	ext := strings.ToLower(path.Ext(name))
	if inc := normalizeExt(m.ExtInclude); len(inc) > 0 && !slices.Contains(inc, ext) {
		return false
	}
	if slices.Contains(normalizeExt(m.ExtExclude), ext) {
		return false
	}
	kb := float64(o.Size) / 1024
	if m.MinSizeKB > 0 && kb < m.MinSizeKB {
		return false
	}
	if m.MaxSizeKB > 0 && kb > m.MaxSizeKB {
		return false
	}
	day := truncateDay(o.Updated)
	if !m.after.IsZero() && day.Before(m.after) {
		return false
	}
	if !m.before.IsZero() && day.After(m.before) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Options configures one run.
type Options struct {
	// Scheme selects the object store and defaults to gs.
	Scheme string   `yaml:"scheme,omitempty" json:"scheme,omitempty"`
	Bucket string   `yaml:"bucket" json:"bucket"`
	Prefix string   `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Files  []string `yaml:"files,omitempty" json:"files,omitempty"`
	// Filters applies to the listing under Prefix.
	Filters Filters `yaml:"filters" json:"filters"`

	Project  string `yaml:"project,omitempty" json:"project,omitempty"`
	Dataset  string `yaml:"dataset" json:"dataset"`
	Location string `yaml:"location,omitempty" json:"location,omitempty"`

	TableReplacements map[string]string `yaml:"table_replacements,omitempty" json:"table_replacements,omitempty"`
	TableSuffix       string            `yaml:"table_suffix,omitempty" json:"table_suffix,omitempty"`

	WorkDir     string `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
	RemoveLocal bool   `yaml:"remove_local" json:"remove_local"`

	ChunkSize  int     `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty"`
	SampleSize int     `yaml:"sample_size,omitempty" json:"sample_size,omitempty"`
	Threshold  float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	// Delimiter separates .csv fields; .tsv and .txt files always use tabs.
	Delimiter string `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	Worksheet string `yaml:"worksheet,omitempty" json:"worksheet,omitempty"`
}

func (o Options) withDefaults() Options {
	if o.Scheme == "" {
		o.Scheme = storage.SchemeGCS
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.Delimiter == "" {
		o.Delimiter = DefaultDelimiter
	}
	if o.WorkDir == "" {
		o.WorkDir = filepath.Join(os.TempDir(), "dpm-gcsload")
	}
	return o
}

// Validate checks the options without touching any service.
func (o Options) Validate() error {
	if o.Bucket == "" {
		return domain.ErrValidation("bucket is required")
	}
	if o.Project == "" || o.Dataset == "" {
		return domain.ErrValidation("project and dataset are required")
	}
	if len([]rune(o.Delimiter)) > 1 {
		return domain.ErrValidation("delimiter must be a single character, got %q", o.Delimiter)
	}
	_, err := o.Filters.compile()
	return err
}

// Status is the outcome for one file.
type Status string

// File outcomes.
const (
	StatusLoaded  Status = "loaded"
	StatusEmpty   Status = "empty"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusMissing Status = "missing"
)

// FileResult reports what happened to one object.
type FileResult struct {
	Object string `json:"object"`
	Table  string `json:"table,omitempty"`
	Status Status `json:"status"`
	Rows   int    `json:"rows"`
	Chunks int    `json:"chunks"`
	Error  string `json:"error,omitempty"`
}

// Summary lists the per-file results of a run.
type Summary struct {
	Files []FileResult `json:"files"`
}

// Failed counts files that did not load.
func (s *Summary) Failed() int {
	n := 0
	for _, f := range s.Files {
		if f.Status == StatusFailed || f.Status == StatusMissing {
			n++
		}
	}
	return n
}

// Table renders the summary for output.
func (s *Summary) Table() *table.Table {
	t := table.New(
		table.Column{Name: "object", Type: table.TypeString},
		table.Column{Name: "table", Type: table.TypeString},
		table.Column{Name: "status", Type: table.TypeString},
		table.Column{Name: "rows", Type: table.TypeInt64},
		table.Column{Name: "chunks", Type: table.TypeInt64},
		table.Column{Name: "error", Type: table.TypeString},
	)
	for _, f := range s.Files {
		var errText any
		if f.Error != "" {
			errText = f.Error
		}
		t.AppendRow(f.Object, f.Table, string(f.Status), int64(f.Rows), int64(f.Chunks), errText)
	}
	return t
}

// Runner moves files from one store into BigQuery.
type Runner struct {
	store  storage.Store
	loader bigquery.Loader
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(store storage.Store, loader bigquery.Loader, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: store, loader: loader, logger: logger}
}

// Run processes every candidate file. A failing file is recorded in the
// summary and does not stop the others; only listing and option errors
// abort the run.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	m, err := opts.Filters.compile()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	recursive := !opts.Filters.Use || opts.Filters.IncludeSubfolders
	listed, err := r.store.List(ctx, opts.Bucket, opts.Prefix, recursive)
	if err != nil {
		return nil, fmt.Errorf("list %s://%s/%s: %w", r.store.Scheme(), opts.Bucket, opts.Prefix, err)
	}
	candidates, missing := selectCandidates(listed, opts.Files, m)

	summary := &Summary{}
	for _, name := range missing {
		r.logger.Warn("requested file not found in bucket", "object", name)
		summary.Files = append(summary.Files, FileResult{Object: name, Status: StatusMissing, Error: "not found"})
	}
	r.logger.Info("gcs load started", "bucket", opts.Bucket, "prefix", opts.Prefix, "files", len(candidates))
	for _, obj := range candidates {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res := r.loadFile(ctx, obj, opts)
		summary.Files = append(summary.Files, res)
	}
	r.logger.Info("gcs load finished", "files", len(summary.Files), "failed", summary.Failed())
	return summary, nil
}

// selectCandidates filters the listing and, when names are given, keeps
// only objects whose key or base name is requested.
func selectCandidates(listed []storage.Object, names []string, m *matcher) (candidates []storage.Object, missing []string) {
	var files []storage.Object
	for _, o := range listed {
		if o.IsPrefix || strings.HasSuffix(o.Key, "/") || !m.pass(o) {
			continue
		}
		files = append(files, o)
	}
	if len(names) == 0 {
		return files, nil
	}
	for _, name := range names {
		idx := slices.IndexFunc(files, func(o storage.Object) bool {
			return o.Key == name || path.Base(o.Key) == name
		})
		if idx < 0 {
			missing = append(missing, name)
			continue
		}
		candidates = append(candidates, files[idx])
	}
	return candidates, missing
}

func (r *Runner) loadFile(ctx context.Context, obj storage.Object, opts Options) FileResult {
	base := path.Base(obj.Key)
	res := FileResult{Object: obj.Key}
	logger := r.logger.With("object", obj.Key)

	format, err := table.FormatFromPath(base)
	if err != nil {
		logger.Warn("skipping file", "error", err)
		res.Status = StatusSkipped
		res.Error = err.Error()
		return res
	}
	res.Table = fieldname.TableName(base, opts.TableReplacements, opts.TableSuffix)
	id := bigquery.TableID{Project: opts.Project, Dataset: opts.Dataset, Table: res.Table}

	local := filepath.Join(opts.WorkDir, base)
	fail := func(err error) FileResult {
		logger.Error("file load failed", "table", id.String(), "chunks", res.Chunks, "error", err)
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}
	if err := r.download(ctx, obj, local); err != nil {
		return fail(err)
	}
	if opts.RemoveLocal {
		defer func() {
			if err := os.Remove(local); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn("remove local copy", "path", local, "error", err)
			}
		}()
	}

	sch, names, err := r.sampleSchema(ctx, local, format, opts)
	if err != nil {
		return fail(err)
	}
	logger.Debug("schema inferred", "table", id.String(), "columns", len(sch))

	src, closeSrc, err := openChunks(ctx, local, format, opts)
	if err != nil {
		return fail(err)
	}
	defer closeSrc()

	for {
		chunk, err := src.Next(opts.ChunkSize)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}
		if err := clean(chunk, names); err != nil {
			return fail(err)
		}
		chunk.DropEmptyRows()
		if chunk.Len() == 0 {
			continue
		}
		schema.Apply(chunk, sch, logger)
		mode := bigquery.WriteAppend
		if res.Chunks == 0 {
			mode = bigquery.WriteTruncate
		}
		lopts := bigquery.LoadOptions{CreateDataset: true, Location: opts.Location}
		if err := r.loader.Load(ctx, id, chunk, mode, lopts); err != nil {
			return fail(fmt.Errorf("chunk %d: %w", res.Chunks+1, err))
		}
		res.Chunks++
		res.Rows += chunk.Len()
		logger.Debug("chunk loaded", "table", id.String(), "chunk", res.Chunks, "rows", chunk.Len(), "mode", string(mode))
	}
	if res.Chunks == 0 {
		logger.Warn("file has no data rows", "table", id.String())
		res.Status = StatusEmpty
		return res
	}
	res.Status = StatusLoaded
	logger.Info("file loaded", "table", id.String(), "rows", res.Rows, "chunks", res.Chunks)
	return res
}

func (r *Runner) download(ctx context.Context, obj storage.Object, local string) error {
	rc, err := r.store.Open(ctx, obj.Bucket, obj.Key)
	if err != nil {
		return fmt.Errorf("open object: %w", err)
	}
	defer rc.Close() //nolint:errcheck

	f, err := os.Create(local) //nolint:gosec // work dir is caller-controlled
	if err != nil {
		return fmt.Errorf("create %s: %w", local, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close() //nolint:errcheck,gosec
		return fmt.Errorf("download %s: %w", obj.Key, err)
	}
	return f.Close()
}

// sampleSchema reads the first rows of the file, normalizes the header and
// infers a schema keyed by the normalized names.
func (r *Runner) sampleSchema(ctx context.Context, local string, format table.Format, opts Options) (schema.Schema, []string, error) {
	src, closeSrc, err := openChunks(ctx, local, format, opts)
	if err != nil {
		return nil, nil, err
	}
	defer closeSrc()

	names := fieldname.BigQueryColumns(src.Header())
	sample, err := src.Next(opts.SampleSize)
	if errors.Is(err, io.EOF) {
		sample = table.FromStrings(src.Header(), nil)
	} else if err != nil {
		return nil, nil, fmt.Errorf("read sample: %w", err)
	}
	if err := clean(sample, names); err != nil {
		return nil, nil, err
	}
	sample.DropEmptyRows()
	sch := schema.Infer(sample, schema.Options{SampleSize: opts.SampleSize, Threshold: opts.Threshold})
	return sch, names, nil
}

// clean renames the columns and strips double quotes and surrounding
// whitespace from string cells. Cells left empty become null.
func clean(t *table.Table, names []string) error {
	if err := t.RenameColumns(names); err != nil {
		return err
	}
	for _, row := range t.Rows {
		for i, v := range row {
			s, ok := v.(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
			if s == "" {
				row[i] = nil
			} else {
				row[i] = s
			}
		}
	}
	return nil
}

type chunkSource interface {
	Header() []string
	Next(n int) (*table.Table, error)
}

func openChunks(ctx context.Context, local string, format table.Format, opts Options) (chunkSource, func(), error) {
	noop := func() {}
	switch format {
	case table.FormatCSV, table.FormatTSV:
		f, err := os.Open(local) //nolint:gosec // work dir is caller-controlled
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", local, err)
		}
		delim := '\t'
		if format == table.FormatCSV {
			delim = []rune(opts.Delimiter)[0]
		}
		cr, err := table.NewCSVChunkReader(f, delim)
		if err != nil {
			f.Close() //nolint:errcheck,gosec
			return nil, nil, err
		}
		return cr, func() { f.Close() }, nil //nolint:errcheck,gosec
	case table.FormatXLSX:
		f, err := os.Open(local) //nolint:gosec // work dir is caller-controlled
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", local, err)
		}
		defer f.Close() //nolint:errcheck
		t, err := table.ReadXLSX(f, opts.Worksheet)
		if err != nil {
			return nil, nil, err
		}
		return &sliceSource{t: t}, noop, nil
	case table.FormatParquet:
		t, err := engine.ReadParquet(ctx, local)
		if err != nil {
			return nil, nil, err
		}
		return &sliceSource{t: t}, noop, nil
	}
	return nil, nil, domain.ErrValidation("unsupported format %q", format)
}

// sliceSource serves an in-memory table in chunks.
type sliceSource struct {
	t   *table.Table
	pos int
}

func (s *sliceSource) Header() []string { return s.t.ColumnNames() }

func (s *sliceSource) Next(n int) (*table.Table, error) {
	if s.pos >= s.t.Len() {
		return nil, io.EOF
	}
	end := min(s.pos+n, s.t.Len())
	chunk := s.t.Slice(s.pos, end)
	s.pos = end
	return chunk, nil
}

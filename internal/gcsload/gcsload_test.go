package gcsload

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dpm/internal/bigquery"
	"dpm/internal/domain"
	"dpm/internal/storage"
	"dpm/internal/table"
)

type loadCall struct {
	id      bigquery.TableID
	mode    bigquery.WriteMode
	rows    int
	columns []table.Column
	first   []any
}

type fakeLoader struct {
	mu     sync.Mutex
	calls  []loadCall
	failOn func(id bigquery.TableID, n int) error
}

func (f *fakeLoader) Load(_ context.Context, id bigquery.TableID, t *table.Table, mode bigquery.WriteMode, _ bigquery.LoadOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.id == id {
			n++
		}
	}
	if f.failOn != nil {
		if err := f.failOn(id, n); err != nil {
			return err
		}
	}
	call := loadCall{id: id, mode: mode, rows: t.Len(), columns: t.Columns}
	if t.Len() > 0 {
		call.first = t.Rows[0]
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeLoader) forTable(name string) []loadCall {
	var out []loadCall
	for _, c := range f.calls {
		if c.id.Table == name {
			out = append(out, c)
		}
	}
	return out
}

func put(t *testing.T, s *storage.MemoryStore, key, body string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), "landing", key, strings.NewReader(body), "text/csv"))
}

const ventas = "id;Nombre Cliente;amount\n10;\"Ana \";2.5\n20;Bo;3.5\n;;\n30;Cy;4.0\n"

func baseOptions(t *testing.T) Options {
	return Options{
		Bucket:    "landing",
		Project:   "proj",
		Dataset:   "raw",
		WorkDir:   t.TempDir(),
		ChunkSize: 2,
	}
}

func TestFilters_Pass(t *testing.T) {
	updated := time.Date(2024, 3, 15, 22, 0, 0, 0, time.UTC)
	obj := storage.Object{Key: "exports/ventas_2024.CSV", Size: 4096, Updated: updated}

	tests := []struct {
		name    string
		filters Filters
		want    bool
	}{
		{name: "disabled ignores everything", filters: Filters{NameInclude: []string{"nope"}}, want: true},
		{name: "name include", filters: Filters{Use: true, NameInclude: []string{"ventas"}}, want: true},
		{name: "name include miss", filters: Filters{Use: true, NameInclude: []string{"compras"}}, want: false},
		{name: "name exclude", filters: Filters{Use: true, NameExclude: []string{"2024"}}, want: false},
		{name: "extension is case-insensitive", filters: Filters{Use: true, ExtInclude: []string{".csv"}}, want: true},
		{name: "extension without dot", filters: Filters{Use: true, ExtInclude: []string{"xlsx"}}, want: false},
		{name: "extension exclude", filters: Filters{Use: true, ExtExclude: []string{"csv"}}, want: false},
		{name: "min size", filters: Filters{Use: true, MinSizeKB: 5}, want: false},
		{name: "max size", filters: Filters{Use: true, MaxSizeKB: 4}, want: true},
		{name: "zero sizes are ignored", filters: Filters{Use: true, MinSizeKB: 0, MaxSizeKB: 0}, want: true},
		{name: "modified after same day", filters: Filters{Use: true, ModifiedAfter: "2024-03-15"}, want: true},
		{name: "modified after later day", filters: Filters{Use: true, ModifiedAfter: "2024-03-16"}, want: false},
		{name: "modified before", filters: Filters{Use: true, ModifiedBefore: "2024-03-14"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.filters.compile()
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.pass(obj))
		})
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Options)
	}{
		{name: "no bucket", mut: func(o *Options) { o.Bucket = "" }},
		{name: "no dataset", mut: func(o *Options) { o.Dataset = "" }},
		{name: "long delimiter", mut: func(o *Options) { o.Delimiter = ";;" }},
		{name: "bad date", mut: func(o *Options) { o.Filters.ModifiedAfter = "15/03/2024" }},
		{name: "negative size", mut: func(o *Options) { o.Filters.MinSizeKB = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := baseOptions(t)
			tt.mut(&opts)
			err := opts.Validate()
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestRun_LoadsChunks(t *testing.T) {
	store := storage.NewMemoryStore()
	put(t, store, "ventas-enero.csv", ventas)
	loader := &fakeLoader{}

	opts := baseOptions(t)
	opts.TableReplacements = map[string]string{"ventas": "sales"}
	opts.TableSuffix = "_raw"
	summary, err := NewRunner(store, loader, nil).Run(context.Background(), opts)
	require.NoError(t, err)

	require.Len(t, summary.Files, 1)
	res := summary.Files[0]
	assert.Equal(t, StatusLoaded, res.Status)
	assert.Equal(t, "sales_enero_raw", res.Table)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Chunks)
	assert.Zero(t, summary.Failed())

	calls := loader.forTable("sales_enero_raw")
	require.Len(t, calls, 2)
	assert.Equal(t, bigquery.WriteTruncate, calls[0].mode)
	assert.Equal(t, bigquery.WriteAppend, calls[1].mode)
	assert.Equal(t, 2, calls[0].rows)
	assert.Equal(t, 1, calls[1].rows)
	assert.Equal(t, bigquery.TableID{Project: "proj", Dataset: "raw", Table: "sales_enero_raw"}, calls[0].id)

	names := make([]string, len(calls[0].columns))
	for i, c := range calls[0].columns {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"id", "Nombre_Cliente", "amount"}, names)
	assert.Equal(t, table.TypeInt64, calls[0].columns[0].Type)
	assert.Equal(t, table.TypeFloat64, calls[0].columns[2].Type)
	assert.Equal(t, "Ana", calls[0].first[1])

	_, err = os.Stat(filepath.Join(opts.WorkDir, "ventas-enero.csv"))
	assert.NoError(t, err, "local copy is kept unless RemoveLocal is set")
}

func TestRun_RemoveLocal(t *testing.T) {
	store := storage.NewMemoryStore()
	put(t, store, "a.csv", ventas)

	opts := baseOptions(t)
	opts.RemoveLocal = true
	_, err := NewRunner(store, &fakeLoader{}, nil).Run(context.Background(), opts)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(opts.WorkDir, "a.csv"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRun_ExplicitFilesAndMissing(t *testing.T) {
	store := storage.NewMemoryStore()
	put(t, store, "in/a.csv", ventas)
	put(t, store, "in/b.csv", ventas)
	loader := &fakeLoader{}

	opts := baseOptions(t)
	opts.Files = []string{"b.csv", "in/zzz.csv"}
	summary, err := NewRunner(store, loader, nil).Run(context.Background(), opts)
	require.NoError(t, err)

	require.Len(t, summary.Files, 2)
	assert.Equal(t, StatusMissing, summary.Files[0].Status)
	assert.Equal(t, "in/zzz.csv", summary.Files[0].Object)
	assert.Equal(t, StatusLoaded, summary.Files[1].Status)
	assert.Equal(t, "in/b.csv", summary.Files[1].Object)
	assert.Empty(t, loader.forTable("a"))
	assert.Equal(t, 1, summary.Failed())
}

func TestRun_NonRecursiveWhenFiltering(t *testing.T) {
	store := storage.NewMemoryStore()
	put(t, store, "top.csv", ventas)
	put(t, store, "sub/deep.csv", ventas)
	loader := &fakeLoader{}

	opts := baseOptions(t)
	opts.Filters = Filters{Use: true, ExtInclude: []string{".csv"}}
	summary, err := NewRunner(store, loader, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, summary.Files, 1)
	assert.Equal(t, "top.csv", summary.Files[0].Object)

	opts.Filters.IncludeSubfolders = true
	summary, err = NewRunner(store, loader, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, summary.Files, 2)
}

func TestRun_FailingChunkStopsOnlyThatFile(t *testing.T) {
	store := storage.NewMemoryStore()
	put(t, store, "bad.csv", ventas)
	put(t, store, "good.csv", ventas)
	loader := &fakeLoader{failOn: func(id bigquery.TableID, n int) error {
		if id.Table == "bad" && n == 1 {
			return errors.New("quota exceeded")
		}
		return nil
	}}

	summary, err := NewRunner(store, loader, nil).Run(context.Background(), baseOptions(t))
	require.NoError(t, err)
	require.Len(t, summary.Files, 2)

	bad, good := summary.Files[0], summary.Files[1]
	assert.Equal(t, StatusFailed, bad.Status)
	assert.Equal(t, 1, bad.Chunks)
	assert.Contains(t, bad.Error, "chunk 2: quota exceeded")
	assert.Equal(t, StatusLoaded, good.Status)
	assert.Len(t, loader.forTable("bad"), 1)
	assert.Len(t, loader.forTable("good"), 2)

	out := summary.Table()
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, "failed", out.Rows[0][2])
}

func TestRun_SkipsUnsupportedAndEmpty(t *testing.T) {
	store := storage.NewMemoryStore()
	put(t, store, "notes.pdf", "%PDF")
	put(t, store, "blank.csv", "a;b\n;\n")
	loader := &fakeLoader{}

	summary, err := NewRunner(store, loader, nil).Run(context.Background(), baseOptions(t))
	require.NoError(t, err)
	require.Len(t, summary.Files, 2)
	assert.Equal(t, StatusEmpty, summary.Files[0].Status)
	assert.Equal(t, StatusSkipped, summary.Files[1].Status)
	assert.Empty(t, loader.calls)
	assert.Zero(t, summary.Failed())
}

func TestRun_TabSeparatedAndWorkbook(t *testing.T) {
	store := storage.NewMemoryStore()
	put(t, store, "tabs.tsv", "code\tlabel\n1\tx\n2\ty\n")

	wb := table.FromStrings([]string{"Fecha Alta", "valor"}, [][]string{{"01/02/2024", "7"}, {"03/02/2024", "8"}})
	var xlsx bytes.Buffer
	require.NoError(t, table.WriteXLSX(&xlsx, wb, ""))
	require.NoError(t, store.Put(context.Background(), "landing", "book.xlsx", &xlsx, "application/octet-stream"))

	loader := &fakeLoader{}
	opts := baseOptions(t)
	opts.ChunkSize = 100
	summary, err := NewRunner(store, loader, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, summary.Files, 2)
	for _, f := range summary.Files {
		assert.Equal(t, StatusLoaded, f.Status, f.Object)
		assert.Equal(t, 2, f.Rows, f.Object)
	}

	book := loader.forTable("book")
	require.Len(t, book, 1)
	assert.Equal(t, "Fecha_Alta", book[0].columns[0].Name)
	assert.Equal(t, table.TypeTimestamp, book[0].columns[0].Type)

	tabs := loader.forTable("tabs")
	require.Len(t, tabs, 1)
	assert.Equal(t, []string{"code", "label"}, []string{tabs[0].columns[0].Name, tabs[0].columns[1].Name})
}

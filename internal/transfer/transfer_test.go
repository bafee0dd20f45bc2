package transfer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"dpm/internal/bigquery"
	"dpm/internal/domain"
	"dpm/internal/sheets"
	"dpm/internal/storage"
	"dpm/internal/table"
)

type fakeBigQuery struct {
	loaded map[string]*table.Table
	modes  map[string]bigquery.WriteMode
	opts   bigquery.LoadOptions
}

func (f *fakeBigQuery) Load(_ context.Context, id bigquery.TableID, t *table.Table, mode bigquery.WriteMode, opts bigquery.LoadOptions) error {
	if f.loaded == nil {
		f.loaded, f.modes = map[string]*table.Table{}, map[string]bigquery.WriteMode{}
	}
	f.loaded[id.String()] = t
	f.modes[id.String()] = mode
	f.opts = opts
	return nil
}

func (f *fakeBigQuery) ReadTable(_ context.Context, id bigquery.TableID) (*table.Table, error) {
	t, ok := f.loaded[id.String()]
	if !ok {
		return nil, domain.ErrNotFound("table %s not found", id)
	}
	return t, nil
}

type fakeSheets struct {
	data  map[string]*table.Table
	modes []sheets.WriteMode
}

func (f *fakeSheets) Read(_ context.Context, id, ws string) (*table.Table, error) {
	t, ok := f.data[id+"/"+ws]
	if !ok {
		return nil, domain.ErrNotFound("worksheet %s", ws)
	}
	return t.Clone(), nil
}

func (f *fakeSheets) Write(_ context.Context, id, ws string, t *table.Table, mode sheets.WriteMode) (int64, error) {
	if f.data == nil {
		f.data = map[string]*table.Table{}
	}
	f.modes = append(f.modes, mode)
	f.data[id+"/"+ws] = t
	return int64(t.Len() * t.Width()), nil
}

func newTestService(bq *fakeBigQuery, sh *fakeSheets) (*Service, *storage.MemoryStore) {
	mem := storage.NewMemoryStore()
	reg := storage.NewRegistry()
	reg.Add(mem)
	return NewService(Config{
		Stores:   reg,
		BigQuery: func(context.Context) (BigQuery, error) { return bq, nil },
		Sheets:   func(context.Context) (Sheets, error) { return sh, nil },
		Project:  "proj",
	}), mem
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestParseSourceURI(t *testing.T) {
	tests := []struct {
		in      string
		want    Source
		wantErr bool
	}{
		{in: "data/in.csv", want: FileSource{Path: "data/in.csv"}},
		{in: "file:///tmp/in.xlsx", want: FileSource{Path: "/tmp/in.xlsx"}},
		{in: "gs://bkt/dir/a.tsv", want: ObjectSource{URI: "gs://bkt/dir/a.tsv"}},
		{in: "sheets://abc123/Hoja 1", want: SheetSource{Spreadsheet: "abc123", Worksheet: "Hoja 1"}},
		{in: "bq://p.d.t", want: BigQuerySource{Table: "p.d.t"}},
		{in: "sqlite3://x.db#SELECT 1", want: DatabaseSource{Driver: "sqlite3", DSN: "x.db", Query: "SELECT 1"}},
		{in: "", wantErr: true},
		{in: "in.xls", wantErr: true},
		{in: "sheets://only-id", wantErr: true},
		{in: "duckdb://x.db", wantErr: true},
		{in: "ftp://host/file.csv", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSourceURI(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTargetURI(t *testing.T) {
	got, err := ParseTargetURI("bq://ds.tbl", Append)
	require.NoError(t, err)
	assert.Equal(t, BigQueryTarget{Table: "ds.tbl", Mode: Append}, got)

	got, err = ParseTargetURI("duckdb://w.duckdb#ventas", "")
	require.NoError(t, err)
	assert.Equal(t, DatabaseTarget{Driver: "duckdb", DSN: "w.duckdb", Table: "ventas"}, got)

	_, err = ParseTargetURI("out.csv", Mode("merge"))
	require.Error(t, err)

	_, err = ParseTargetURI("s3://b/out.parquet", Append)
	require.Error(t, err)
}

func TestSpecs_ExactlyOne(t *testing.T) {
	var spec struct {
		Source SourceSpec `yaml:"source"`
		Target TargetSpec `yaml:"target"`
	}
	doc := `
source:
  sheet:
    spreadsheet: https://docs.google.com/spreadsheets/d/abc/edit
    worksheet: Datos
target:
  bigquery:
    table: ds.tbl
    create_dataset: false
    mode: append
`
	require.NoError(t, yaml.Unmarshal([]byte(doc), &spec))
	src, err := spec.Source.Source()
	require.NoError(t, err)
	assert.Equal(t, KindSheet, src.Kind())

	tgt, err := spec.Target.Target()
	require.NoError(t, err)
	bq := tgt.(BigQueryTarget)
	assert.False(t, bq.createDataset())
	assert.Equal(t, Append, bq.Mode)

	_, err = SourceSpec{}.Source()
	require.Error(t, err)
	_, err = SourceSpec{URI: "a.csv", File: &FileSource{Path: "b.csv"}}.Source()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 2")
	_, err = TargetSpec{}.Target()
	require.Error(t, err)
}

func TestRead_FilePipeline(t *testing.T) {
	path := writeTemp(t, "in.csv", "Código Cliente,Fecha Alta,Importe,Nota\n"+
		"skip,,,\n"+
		"  A1 ,03/04/2024,\"1.234,5\", hola \n"+
		",,,\n"+
		"B2,15/01/2024,7,\n")
	svc, _ := newTestService(&fakeBigQuery{}, &fakeSheets{})

	opts := DefaultReadOptions()
	opts.RowStart = 1
	opts.NormalizeHeaders = true
	got, err := svc.Read(context.Background(), FileSource{Path: path}, opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"codigo_cliente", "fecha_alta", "importe", "nota"}, got.ColumnNames())
	require.Equal(t, 2, got.Len())
	assert.Equal(t, "A1", got.Rows[0][0])
	assert.Equal(t, table.TypeTimestamp, got.Columns[1].Type)
	assert.Equal(t, 3, got.Rows[0][1].(interface{ Day() int }).Day())
	assert.Equal(t, table.TypeFloat64, got.Columns[2].Type)
	assert.Equal(t, 1234.5, got.Rows[0][2])
	assert.Equal(t, "hola", got.Rows[0][3])
	assert.Nil(t, got.Rows[1][3])
}

func TestRead_FieldsAndWindow(t *testing.T) {
	path := writeTemp(t, "in.tsv", "a\tb\tc\n1\tx\ty\n2\tz\tw\n3\tq\tr\n")
	svc, _ := newTestService(nil, nil)

	opts := ReadOptions{RowEnd: 2, ColStart: 1}
	got, err := svc.Read(context.Background(), FileSource{Path: path}, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, got.ColumnNames())
	assert.Equal(t, 2, got.Len())

	opts = ReadOptions{Fields: []string{"c", "missing", "a"}}
	got, err = svc.Read(context.Background(), FileSource{Path: path}, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, got.ColumnNames())

	opts = ReadOptions{Fields: []string{"nope"}}
	got, err = svc.Read(context.Background(), FileSource{Path: path}, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Width())
}

func TestRead_MissingFile(t *testing.T) {
	svc, _ := newTestService(nil, nil)
	_, err := svc.Read(context.Background(), FileSource{Path: filepath.Join(t.TempDir(), "no.csv")}, DefaultReadOptions())
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestWrite_FileCSVAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "data.csv")
	svc, _ := newTestService(nil, nil)
	tbl := table.FromStrings([]string{"id", "name"}, [][]string{{"1", "a"}})

	require.NoError(t, svc.Write(context.Background(), tbl, FileTarget{Path: path, Mode: Append}))
	require.NoError(t, svc.Write(context.Background(), tbl, FileTarget{Path: path, Mode: Append}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,a\n1,a\n", string(data))

	require.NoError(t, svc.Write(context.Background(), tbl, FileTarget{Path: path}))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,a\n", string(data))
}

func TestWrite_FileXLSXAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.xlsx")
	svc, _ := newTestService(nil, nil)
	tbl := table.FromStrings([]string{"id", "name"}, [][]string{{"1", "a"}})

	require.NoError(t, svc.Write(context.Background(), tbl, FileTarget{Path: path, Mode: Append}))
	require.NoError(t, svc.Write(context.Background(), tbl, FileTarget{Path: path, Mode: Append}))

	got, err := svc.Read(context.Background(), FileSource{Path: path}, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
}

func TestWrite_ObjectAppend(t *testing.T) {
	svc, mem := newTestService(nil, nil)
	ctx := context.Background()
	tbl := table.FromStrings([]string{"id"}, [][]string{{"1"}})

	require.NoError(t, svc.Write(ctx, tbl, ObjectTarget{URI: "mem://bkt/dir/out.csv", Mode: Append}))
	require.NoError(t, svc.Write(ctx, tbl, ObjectTarget{URI: "mem://bkt/dir/out.csv", Mode: Append}))

	data, err := storage.ReadAll(ctx, mem, "bkt", "dir/out.csv")
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n1\n", string(data))

	objs, err := mem.List(ctx, "bkt", "dir/", true)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, ContentTypeCSV, objs[0].ContentType)

	got, err := svc.Read(ctx, ObjectSource{URI: "mem://bkt/dir/out.csv"}, DefaultReadOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
}

func TestWrite_BigQueryRenamesColumns(t *testing.T) {
	bq := &fakeBigQuery{}
	svc, _ := newTestService(bq, nil)
	tbl := table.FromStrings([]string{"Código cliente", "importe (€)"}, [][]string{{"1", "2"}})

	require.NoError(t, svc.Write(context.Background(), tbl, BigQueryTarget{Table: "ds.t"}))
	loaded := bq.loaded["proj.ds.t"]
	require.NotNil(t, loaded)
	assert.Equal(t, []string{"Codigo_cliente", "importe"}, loaded.ColumnNames())
	assert.Equal(t, bigquery.WriteTruncate, bq.modes["proj.ds.t"])
	assert.True(t, bq.opts.CreateDataset)
	assert.Equal(t, DefaultLocation, bq.opts.Location)
	assert.Equal(t, "Código cliente", tbl.Columns[0].Name, "input must not be renamed")
}

func TestCopy_SheetToBigQuery(t *testing.T) {
	sh := &fakeSheets{data: map[string]*table.Table{}}
	src := table.New(table.Column{Name: "fecha", Type: table.TypeAny}, table.Column{Name: "total", Type: table.TypeAny})
	src.AppendRow(45292.0, 10.0)
	src.AppendRow(45293.0, 12.5)
	sh.data["abc/Datos"] = src
	bq := &fakeBigQuery{}
	svc, _ := newTestService(bq, sh)

	got, err := svc.Copy(context.Background(),
		SheetSource{Spreadsheet: "https://docs.google.com/spreadsheets/d/abc/edit", Worksheet: "Datos"},
		BigQueryTarget{Table: "p2.ds.t", Mode: Append, Location: "US"},
		DefaultReadOptions())
	require.NoError(t, err)
	assert.Equal(t, table.TypeTimestamp, got.Columns[0].Type)
	assert.Equal(t, table.TypeFloat64, got.Columns[1].Type)
	assert.Equal(t, bigquery.WriteAppend, bq.modes["p2.ds.t"])
	assert.Equal(t, "US", bq.opts.Location)
}

func TestWrite_SheetModes(t *testing.T) {
	sh := &fakeSheets{}
	svc, _ := newTestService(nil, sh)
	tbl := table.FromStrings([]string{"a"}, [][]string{{"1"}})

	require.NoError(t, svc.Write(context.Background(), tbl, SheetTarget{Spreadsheet: "abc", Worksheet: "S"}))
	require.NoError(t, svc.Write(context.Background(), tbl, SheetTarget{Spreadsheet: "abc", Worksheet: "S", Mode: Append}))
	assert.Equal(t, []sheets.WriteMode{sheets.Overwrite, sheets.Append}, sh.modes)
}

func TestDatabaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "w.db")
	svc, _ := newTestService(nil, nil)
	tbl := table.FromStrings([]string{"id", "name"}, [][]string{{"1", "a"}, {"2", "b"}})

	require.NoError(t, svc.Write(ctx, tbl, DatabaseTarget{Driver: "sqlite3", DSN: dsn, Table: "people"}))
	got, err := svc.Read(ctx, DatabaseSource{Driver: "sqlite", DSN: dsn, Query: "SELECT * FROM people ORDER BY id"}, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
	assert.Equal(t, "b", got.Rows[1][1])
}

func TestUnconfiguredClients(t *testing.T) {
	svc := NewService(Config{})
	_, err := svc.Read(context.Background(), BigQuerySource{Table: "p.d.t"}, ReadOptions{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "BigQuery is not configured"))
}

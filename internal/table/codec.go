package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"dpm/internal/domain"
)

// Format is a tabular file format.
type Format string

// Supported file formats.
const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
)

// DefaultSheet is the worksheet name used when writing XLSX files.
const DefaultSheet = "Sheet1"

// FormatFromPath derives the file format from a path's extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "csv":
		return FormatCSV, nil
	case "tsv", "txt":
		return FormatTSV, nil
	case "xlsx", "xlsm":
		return FormatXLSX, nil
	case "parquet":
		return FormatParquet, nil
	case "xls":
		return "", domain.ErrValidation("legacy .xls workbooks are not supported, convert %s to .xlsx", path)
	case "":
		return "", domain.ErrValidation("path %q has no file extension", path)
	default:
		return "", domain.ErrValidation("unsupported file extension %q", ext)
	}
}

// Delimiter returns the default field delimiter for delimited formats.
func (f Format) Delimiter() rune {
	if f == FormatTSV {
		return '\t'
	}
	return ','
}

// CSVChunkReader reads a delimited stream in fixed-size row chunks. All
// cells are read as strings; empty fields become null.
type CSVChunkReader struct {
	r      *csv.Reader
	header []string
}

// NewCSVChunkReader reads the header row and prepares chunked reading.
func NewCSVChunkReader(r io.Reader, delim rune) (*CSVChunkReader, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.ErrValidation("file has no header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return &CSVChunkReader{r: cr, header: header}, nil
}

// Header returns the header row.
func (c *CSVChunkReader) Header() []string { return c.header }

// Next returns up to n rows. It returns io.EOF once no rows remain.
func (c *CSVChunkReader) Next(n int) (*Table, error) {
	records := make([][]string, 0, n)
	for len(records) < n {
		rec, err := c.r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, io.EOF
	}
	return FromStrings(c.header, records), nil
}

// ReadCSV reads a whole delimited stream.
func ReadCSV(r io.Reader, delim rune) (*Table, error) {
	cr, err := NewCSVChunkReader(r, delim)
	if err != nil {
		return nil, err
	}
	out := FromStrings(cr.Header(), nil)
	for {
		chunk, err := cr.Next(10000)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, chunk.Rows...)
	}
}

// WriteCSV writes t as a delimited stream, with the header row when header
// is set.
func WriteCSV(w io.Writer, t *Table, delim rune, header bool) error {
	cw := csv.NewWriter(w)
	cw.Comma = delim
	if header {
		if err := cw.Write(t.ColumnNames()); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for _, rec := range t.StringRows() {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadXLSX reads one worksheet (the first when sheet is empty). The first
// row is the header.
func ReadXLSX(r io.Reader, sheet string) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, domain.ErrValidation("workbook has no worksheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read worksheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrValidation("worksheet %q is empty", sheet)
	}
	return FromStrings(rows[0], rows[1:]), nil
}

// WriteXLSX writes t into a single-sheet workbook.
func WriteXLSX(w io.Writer, t *Table, sheet string) error {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if sheet == "" {
		sheet = DefaultSheet
	}
	if sheet != DefaultSheet {
		if err := f.SetSheetName(DefaultSheet, sheet); err != nil {
			return fmt.Errorf("rename worksheet: %w", err)
		}
	}
	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Name
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for r, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for i, v := range row {
			if IsNull(v) {
				continue
			}
			values[i] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", r+1, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

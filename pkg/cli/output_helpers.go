package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"dpm/internal/table"
	"dpm/internal/transfer"
)

// maxPreviewRows bounds how many rows a table prints to a terminal.
const maxPreviewRows = 50

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTable writes upper-cased headers and rows separated by two spaces.
func PrintTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = strings.ToUpper(c)
	}
	_, _ = fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// PrintDetail writes one "key: value" line per field, keys sorted.
func PrintDetail(w io.Writer, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%s: %s\n", k, detailValue(fields[k]))
	}
}

func detailValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any, []any, []string, map[string]string:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
	return table.FormatValue(v)
}

// terminalWidth returns the width of stdout, or 0 when it is not a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd()) //nolint:gosec // fd fits in int
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return w
}

// fitCells truncates cells so that a row of n columns fits in width.
func fitCells(rows [][]string, n, width int) {
	if width <= 0 || n == 0 {
		return
	}
	limit := max(width/n-2, 8)
	for _, row := range rows {
		for i, c := range row {
			if utf8.RuneCountInString(c) > limit {
				r := []rune(c)
				row[i] = string(r[:limit-1]) + "…"
			}
		}
	}
}

// printData renders a table as JSON records or as a text table. On a
// terminal long tables are cut to maxPreviewRows and wide cells shortened.
func printData(cmd *cobra.Command, t *table.Table) error {
	if getOutputFormat(cmd) == "json" {
		records := make([]map[string]any, t.Len())
		for i := range t.Rows {
			records[i] = t.Record(i)
		}
		return PrintJSON(os.Stdout, records)
	}
	rows := t.StringRows()
	width := terminalWidth()
	if width > 0 && len(rows) > maxPreviewRows {
		rows = rows[:maxPreviewRows]
		defer func() {
			_, _ = fmt.Fprintf(os.Stderr, "(%d of %d rows shown; use --save or -o json for all)\n", maxPreviewRows, t.Len())
		}()
	}
	fitCells(rows, t.Width(), width)
	PrintTable(os.Stdout, t.ColumnNames(), rows)
	return nil
}

// emit prints t, or writes it to path when path is set. The file format
// follows the extension.
func emit(cmd *cobra.Command, a *app, t *table.Table, path string) error {
	if path == "" {
		return printData(cmd, t)
	}
	tgt, err := transfer.ParseTargetURI(path, transfer.Overwrite)
	if err != nil {
		return err
	}
	if err := a.transfer().Write(cmd.Context(), t, tgt); err != nil {
		return err
	}
	a.logger.Info("table saved", "target", tgt.String(), "rows", t.Len())
	return printResult(cmd, map[string]any{"path": path, "rows": t.Len()})
}

// printResult writes a summary object as JSON or as sorted key/value lines.
func printResult(cmd *cobra.Command, fields map[string]any) error {
	if getOutputFormat(cmd) == "json" {
		return PrintJSON(os.Stdout, fields)
	}
	PrintDetail(os.Stdout, fields)
	return nil
}

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"dpm/internal/consolidate"
	"dpm/internal/domain"
	"dpm/internal/dtype"
	"dpm/internal/fieldname"
	"dpm/internal/schema"
	"dpm/internal/table"
	"dpm/internal/transfer"
)

// readFlags binds the table shaping flags shared by every reading command.
type readFlags struct {
	rows        string
	cols        string
	fields      []string
	noStrip     bool
	normalize   bool
	headerStyle string
	noDates     bool
	noNumbers   bool
	keepEmpty   bool
}

func (f *readFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.rows, "rows", "", "Row range start:end (end exclusive)")
	fs.StringVar(&f.cols, "cols", "", "Column range start:end (end exclusive)")
	fs.StringSliceVar(&f.fields, "fields", nil, "Keep only these columns, in this order")
	fs.BoolVar(&f.noStrip, "no-strip", false, "Keep surrounding whitespace in cells")
	fs.BoolVar(&f.normalize, "normalize-headers", false, "Normalize column names")
	fs.StringVar(&f.headerStyle, "header-style", string(fieldname.HeaderForms), "Header style for --normalize-headers (forms, snake, slug)")
	fs.BoolVar(&f.noDates, "no-auto-dates", false, "Do not convert date-like columns")
	fs.BoolVar(&f.noNumbers, "no-auto-numbers", false, "Do not convert numeric columns")
	fs.BoolVar(&f.keepEmpty, "keep-empty-rows", false, "Keep rows where every cell is empty")
}

func (f *readFlags) options() (transfer.ReadOptions, error) {
	opts := transfer.DefaultReadOptions()
	var err error
	if opts.RowStart, opts.RowEnd, err = parseRange(f.rows); err != nil {
		return opts, fmt.Errorf("--rows: %w", err)
	}
	if opts.ColStart, opts.ColEnd, err = parseRange(f.cols); err != nil {
		return opts, fmt.Errorf("--cols: %w", err)
	}
	opts.Fields = f.fields
	opts.StripCells = !f.noStrip
	opts.NormalizeHeaders = f.normalize
	opts.HeaderStyle = fieldname.HeaderStyle(f.headerStyle)
	opts.AutoDates = !f.noDates
	opts.AutoNumbers = !f.noNumbers
	opts.SkipEmptyRows = !f.keepEmpty
	return opts, nil
}

// parseRange reads "start:end" where either side may be empty.
func parseRange(s string) (start, end int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, nil
	}
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, domain.ErrValidation("range %q must be start:end", s)
	}
	if lo != "" {
		if _, err := fmt.Sscanf(lo, "%d", &start); err != nil || start < 0 {
			return 0, 0, domain.ErrValidation("invalid range start %q", lo)
		}
	}
	if hi != "" {
		if _, err := fmt.Sscanf(hi, "%d", &end); err != nil || end < 0 {
			return 0, 0, domain.ErrValidation("invalid range end %q", hi)
		}
	}
	if end != 0 && end < start {
		return 0, 0, domain.ErrValidation("range %q ends before it starts", s)
	}
	return start, end, nil
}

// readTable reads a source URI with the shaping flags applied.
func readTable(cmd *cobra.Command, a *app, uri string, rf *readFlags) (*table.Table, error) {
	src, err := transfer.ParseSourceURI(uri)
	if err != nil {
		return nil, err
	}
	opts, err := rf.options()
	if err != nil {
		return nil, err
	}
	return a.transfer().Read(cmd.Context(), src, opts)
}

func newTransferCmd(a *app) *cobra.Command {
	var (
		rf        readFlags
		mode      string
		worksheet string
	)

	cmd := &cobra.Command{
		Use:   "transfer <source> <target>",
		Short: "Copy a table between files, object storage, Sheets, BigQuery and databases",
		Long: `Copy a table from a source to a target. Both sides are URIs:

  path/to/file.csv | file://path          local CSV, XLSX, JSON or Parquet file
  gs://bucket/key | s3://... | az://...    object storage
  sheets://<spreadsheet id>/<worksheet>    Google Sheets
  bq://[project.]dataset.table             BigQuery
  duckdb://<dsn>#<query or table>          DuckDB (sqlite3:// for SQLite)`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := transfer.ParseSourceURI(args[0])
			if err != nil {
				return err
			}
			if worksheet != "" {
				switch s := src.(type) {
				case transfer.FileSource:
					s.Worksheet = worksheet
					src = s
				case transfer.ObjectSource:
					s.Worksheet = worksheet
					src = s
				}
			}
			m, err := transfer.ParseMode(mode)
			if err != nil {
				return err
			}
			tgt, err := transfer.ParseTargetURI(args[1], m)
			if err != nil {
				return err
			}
			opts, err := rf.options()
			if err != nil {
				return err
			}
			t, err := a.transfer().Copy(cmd.Context(), src, tgt, opts)
			if err != nil {
				return err
			}
			return printResult(cmd, map[string]any{
				"source":  src.String(),
				"target":  tgt.String(),
				"mode":    string(m),
				"rows":    t.Len(),
				"columns": t.Width(),
			})
		},
	}

	rf.register(cmd.Flags())
	cmd.Flags().StringVar(&mode, "mode", string(transfer.Overwrite), "Write mode (overwrite, append)")
	cmd.Flags().StringVar(&worksheet, "worksheet", "", "XLSX worksheet to read (default: first)")

	return cmd
}

func newInferCmd(a *app) *cobra.Command {
	var (
		rf         readFlags
		sampleSize int
		threshold  float64
		noHints    bool
		apply      bool
		save       string
	)

	cmd := &cobra.Command{
		Use:   "infer <source>",
		Short: "Infer BigQuery column types for a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTable(cmd, a, args[0], &rf)
			if err != nil {
				return err
			}
			s := schema.Infer(t, schema.Options{
				SampleSize:       sampleSize,
				Threshold:        threshold,
				DisableNameHints: noHints,
			})
			if apply || save != "" {
				return emit(cmd, a, schema.Apply(t, s, a.logger), save)
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, s)
			}
			rows := make([][]string, len(s))
			for i, c := range s {
				rows[i] = []string{c.Name, string(c.Type)}
			}
			PrintTable(os.Stdout, []string{"column", "type"}, rows)
			return nil
		},
	}

	rf.register(cmd.Flags())
	cmd.Flags().IntVar(&sampleSize, "sample-size", schema.DefaultSampleSize, "Rows sampled per column")
	cmd.Flags().Float64Var(&threshold, "threshold", schema.DefaultThreshold, "Share of values that must parse for a type to win")
	cmd.Flags().BoolVar(&noHints, "no-name-hints", false, "Do not type date-like column names as TIMESTAMP")
	cmd.Flags().BoolVar(&apply, "apply", false, "Print the table coerced to the inferred schema")
	cmd.Flags().StringVar(&save, "save", "", "Write the coerced table to this target URI")

	return cmd
}

func newConsolidateCmd(a *app) *cobra.Command {
	var (
		rf         readFlags
		keys       []string
		policy     string
		dateField  string
		dateFormat string
		skipSchema bool
		save       string
	)

	cmd := &cobra.Command{
		Use:   "consolidate <initial> <to-merge>",
		Short: "Merge two tables, resolving rows that share a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := consolidate.ParsePolicy(policy)
			if err != nil {
				return err
			}
			initial, err := readTable(cmd, a, args[0], &rf)
			if err != nil {
				return fmt.Errorf("read initial: %w", err)
			}
			toMerge, err := readTable(cmd, a, args[1], &rf)
			if err != nil {
				return fmt.Errorf("read to-merge: %w", err)
			}
			out, meta, err := consolidate.Consolidate(consolidate.Options{
				Initial:              initial,
				ToMerge:              toMerge,
				KeyFields:            keys,
				Policy:               p,
				DateField:            dateField,
				DateFormat:           dateFormat,
				SkipSchemaValidation: skipSchema,
				Logger:               a.logger,
			})
			if err != nil {
				return err
			}
			a.logger.Info("tables consolidated",
				"rows", out.Len(),
				"added", meta.RecordsAdded,
				"duplicates_resolved", meta.DuplicatesResolved)
			return emit(cmd, a, out, save)
		},
	}

	rf.register(cmd.Flags())
	cmd.Flags().StringSliceVar(&keys, "key", nil, "Key field (repeatable)")
	cmd.Flags().StringVar(&policy, "policy", string(consolidate.KeepNewest), "Duplicate policy (keep_newest, keep_oldest, keep_df_initial, keep_df_to_merge)")
	cmd.Flags().StringVar(&dateField, "date-field", "", "Date column used by keep_newest and keep_oldest")
	cmd.Flags().StringVar(&dateFormat, "date-format", "", "Layout of --date-field values (default: detect)")
	cmd.Flags().BoolVar(&skipSchema, "skip-schema-validation", false, "Allow the two tables to have different columns")
	cmd.Flags().StringVar(&save, "save", "", "Write the result to this target URI")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func newDtypeCopyCmd(a *app) *cobra.Command {
	var (
		rf             readFlags
		noDecimalComma bool
		save           string
	)

	cmd := &cobra.Command{
		Use:   "dtype-copy <reference> <target>",
		Short: "Convert a table's columns to the types of a reference table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := readTable(cmd, a, args[0], &rf)
			if err != nil {
				return fmt.Errorf("read reference: %w", err)
			}
			tgt, err := readTable(cmd, a, args[1], &rf)
			if err != nil {
				return fmt.Errorf("read target: %w", err)
			}
			opts := dtype.DefaultOptions()
			opts.DecimalComma = !noDecimalComma
			opts.InPlace = true
			opts.Logger = a.logger
			out, rep := dtype.Copy(ref, tgt, opts)
			a.logger.Info("column types copied",
				"casted", len(rep.Casted),
				"failed", len(rep.Failed),
				"skipped", len(rep.Skipped))
			if save == "" && getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, rep)
			}
			return emit(cmd, a, out, save)
		},
	}

	rf.register(cmd.Flags())
	cmd.Flags().BoolVar(&noDecimalComma, "no-decimal-comma", false, "Do not read \",\" as the decimal separator")
	cmd.Flags().StringVar(&save, "save", "", "Write the converted table to this target URI")

	return cmd
}

func newFieldsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "Format and sanitize column names",
	}
	cmd.AddCommand(newFieldsFormatCmd(a))
	cmd.AddCommand(newFieldsBigQueryCmd(a))
	return cmd
}

// fieldNames takes names from args or, with from set, the header of a table.
func fieldNames(cmd *cobra.Command, a *app, from string, args []string) ([]string, error) {
	if from == "" {
		if len(args) == 0 {
			return nil, domain.ErrValidation("pass column names or --from")
		}
		return args, nil
	}
	opts := transfer.DefaultReadOptions()
	opts.AutoDates = false
	opts.AutoNumbers = false
	src, err := transfer.ParseSourceURI(from)
	if err != nil {
		return nil, err
	}
	t, err := a.transfer().Read(cmd.Context(), src, opts)
	if err != nil {
		return nil, err
	}
	return append(t.ColumnNames(), args...), nil
}

func printMappings(cmd *cobra.Command, mappings []fieldname.Mapping) error {
	if getOutputFormat(cmd) == "json" {
		return PrintJSON(os.Stdout, mappings)
	}
	rows := make([][]string, len(mappings))
	for i, m := range mappings {
		rows[i] = []string{m.Original, m.Formatted}
	}
	PrintTable(os.Stdout, []string{"original", "formatted"}, rows)
	return nil
}

func newFieldsFormatCmd(a *app) *cobra.Command {
	var (
		from     string
		style    string
		replace  map[string]string
		acronyms []string
	)

	cmd := &cobra.Command{
		Use:   "format [name...]",
		Short: "Apply a naming style to column names",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := fieldname.ParseStyle(style)
			if err != nil {
				return err
			}
			names, err := fieldNames(cmd, a, from, args)
			if err != nil {
				return err
			}
			return printMappings(cmd, fieldname.FormatAll(names, fieldname.FormatOptions{
				Style:        st,
				Replacements: replace,
				Acronyms:     acronyms,
			}))
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Read names from the header of this source URI")
	cmd.Flags().StringVar(&style, "style", string(fieldname.StyleSnake), "Naming style (CamelCase, snake_case, \"Sentence case\", none)")
	cmd.Flags().StringToStringVar(&replace, "replace", nil, "Substring replacement old=new (repeatable)")
	cmd.Flags().StringSliceVar(&acronyms, "acronym", nil, "Word kept upper-case (repeatable)")

	return cmd
}

func newFieldsBigQueryCmd(a *app) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "bigquery [name...]",
		Short: "Show the BigQuery column names a load would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := fieldNames(cmd, a, from, args)
			if err != nil {
				return err
			}
			cols := fieldname.BigQueryColumns(names)
			mappings := make([]fieldname.Mapping, len(names))
			for i := range names {
				mappings[i] = fieldname.Mapping{Original: names[i], Formatted: cols[i]}
			}
			return printMappings(cmd, mappings)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Read names from the header of this source URI")

	return cmd
}

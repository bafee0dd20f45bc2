package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dpm/internal/gcsload"
	"dpm/internal/storage"
)

func newGCSCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gcs",
		Short: "Google Cloud Storage bucket tools",
	}
	cmd.AddCommand(newGCSInventoryCmd(a))
	return cmd
}

func newGCSInventoryCmd(a *app) *cobra.Command {
	var (
		buckets []string
		objects bool
		save    string
	)

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Describe the project's buckets and, optionally, every object in them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, err := a.requireProject()
			if err != nil {
				return err
			}
			s, err := a.gcsStore(cmd.Context())
			if err != nil {
				return err
			}
			t, err := storage.GCSInventory(cmd.Context(), s, storage.GCSInventoryOptions{
				Project:        project,
				Buckets:        buckets,
				IncludeObjects: objects,
				Logger:         a.logger,
			})
			if err != nil {
				return err
			}
			return emit(cmd, a, t, save)
		},
	}

	cmd.Flags().StringSliceVar(&buckets, "bucket", nil, "Bucket to describe (repeatable; default: all)")
	cmd.Flags().BoolVar(&objects, "objects", false, "Add one row per object")
	cmd.Flags().StringVar(&save, "save", "", "Write the inventory to this target URI")

	return cmd
}

func newGCSToBQCmd(a *app) *cobra.Command {
	var opts gcsload.Options

	cmd := &cobra.Command{
		Use:   "gcs-to-bq",
		Short: "Load CSV, TSV and Excel files from a bucket into BigQuery tables",
		Long: "Every selected file becomes one table named after its path. Files are " +
			"downloaded, typed from a sample and loaded in chunks; the first chunk " +
			"replaces the table and later chunks append.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if opts.Project == "" {
				opts.Project = a.project
			}
			if opts.Location == "" {
				opts.Location = a.location
			}
			if opts.ChunkSize == 0 {
				opts.ChunkSize = a.cfg.ChunkSize
			}
			if opts.SampleSize == 0 {
				opts.SampleSize = a.cfg.SampleSize
			}
			if opts.Project == "" {
				p, err := a.requireProject()
				if err != nil {
					return err
				}
				opts.Project = p
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			store, err := a.registry().Store(ctx, opts.Scheme)
			if err != nil {
				return err
			}
			bq, err := a.bigQuery(ctx)
			if err != nil {
				return err
			}
			sum, err := gcsload.NewRunner(store, bq, a.logger).Run(ctx, opts)
			if err != nil {
				return err
			}
			if err := printData(cmd, sum.Table()); err != nil {
				return err
			}
			if n := sum.Failed(); n > 0 {
				return fmt.Errorf("%d of %d files failed", n, len(sum.Files))
			}
			_, _ = fmt.Fprintf(os.Stderr, "%d files loaded\n", len(sum.Files))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Scheme, "scheme", storage.SchemeGCS, "Object store holding the files (gs, s3, az)")
	f.StringVar(&opts.Bucket, "bucket", "", "Bucket to read")
	f.StringVar(&opts.Prefix, "prefix", "", "Folder inside the bucket")
	f.StringSliceVar(&opts.Files, "file", nil, "Object name to load (repeatable; default: every file under --prefix)")
	f.StringVar(&opts.Dataset, "dataset", "", "Target BigQuery dataset")
	f.StringVar(&opts.TableSuffix, "table-suffix", "", "Suffix appended to every table name")
	f.StringToStringVar(&opts.TableReplacements, "table-replace", nil, "Substring replacement old=new for table names (repeatable)")
	f.StringVar(&opts.WorkDir, "work-dir", "", "Download directory (default: a temporary directory)")
	f.BoolVar(&opts.RemoveLocal, "remove-local", true, "Delete downloaded files after loading")
	f.IntVar(&opts.ChunkSize, "chunk-size", 0, "Rows per load job (default DPM_CHUNK_SIZE)")
	f.IntVar(&opts.SampleSize, "sample-size", 0, "Rows sampled for type inference (default DPM_SAMPLE_SIZE)")
	f.Float64Var(&opts.Threshold, "threshold", 0, "Share of values that must parse for a type to win")
	f.StringVar(&opts.Delimiter, "delimiter", gcsload.DefaultDelimiter, "CSV field delimiter")
	f.StringVar(&opts.Worksheet, "worksheet", "", "Excel worksheet (default: first)")

	f.BoolVar(&opts.Filters.Use, "filter", false, "Apply the listing filters below")
	f.StringSliceVar(&opts.Filters.NameInclude, "name-include", nil, "Keep names containing this text")
	f.StringSliceVar(&opts.Filters.NameExclude, "name-exclude", nil, "Drop names containing this text")
	f.StringSliceVar(&opts.Filters.ExtInclude, "ext-include", nil, "Keep these extensions")
	f.StringSliceVar(&opts.Filters.ExtExclude, "ext-exclude", nil, "Drop these extensions")
	f.Float64Var(&opts.Filters.MinSizeKB, "min-size-kb", 0, "Minimum object size")
	f.Float64Var(&opts.Filters.MaxSizeKB, "max-size-kb", 0, "Maximum object size")
	f.StringVar(&opts.Filters.ModifiedAfter, "modified-after", "", "Keep objects updated on or after this date (YYYY-MM-DD)")
	f.StringVar(&opts.Filters.ModifiedBefore, "modified-before", "", "Keep objects updated on or before this date (YYYY-MM-DD)")
	f.BoolVar(&opts.Filters.IncludeSubfolders, "include-subfolders", false, "Descend into folders below --prefix")
	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dpm/internal/bigquery"
	"dpm/internal/consolidate"
	"dpm/internal/domain"
	"dpm/internal/gcsload"
	"dpm/internal/storage"
	"dpm/internal/transfer"
)

// Warehouse is the part of the BigQuery client jobs use directly.
type Warehouse interface {
	bigquery.Loader
	DeleteTables(ctx context.Context, project string, datasets []string) ([]string, error)
}

var _ Warehouse = (*bigquery.Client)(nil)

// Deps wires a Runner.
type Deps struct {
	Transfer *transfer.Service
	Stores   *storage.Registry
	// BigQuery is called lazily so that jobs that never touch BigQuery run
	// without Google credentials.
	BigQuery func(ctx context.Context) (Warehouse, error)
	// Project is the default BigQuery project.
	Project  string
	Location string
	Logger   *slog.Logger
}

// Result describes one job run.
type Result struct {
	RunID    string        `json:"run_id"`
	Job      string        `json:"job"`
	Kind     Kind          `json:"kind"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	// Rows is the number of rows written by transfer and consolidate jobs.
	Rows          int                   `json:"rows,omitempty"`
	Consolidation *consolidate.Metadata `json:"consolidation,omitempty"`
	Load          *gcsload.Summary      `json:"load,omitempty"`
	DeletedTables []string              `json:"deleted_tables,omitempty"`
}

// Runner executes jobs.
type Runner struct {
	deps   Deps
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Stores == nil {
		deps.Stores = storage.NewRegistry()
	}
	return &Runner{deps: deps, logger: logger}
}

// Run validates j and executes it once.
func (r *Runner) Run(ctx context.Context, j *Job) (*Result, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	res := &Result{RunID: domain.NewID(), Job: j.Name, Kind: j.Kind, Started: time.Now()}
	logger := r.logger.With("job", j.Name, "kind", j.Kind, "run_id", res.RunID)
	logger.Info("job started")

	var err error
	switch j.Kind {
	case KindTransfer:
		err = r.runTransfer(ctx, j.Transfer, res)
	case KindGCSToBigQuery:
		err = r.runGCSLoad(ctx, *j.GCSToBigQuery, logger, res)
	case KindConsolidate:
		err = r.runConsolidate(ctx, j.Consolidate, logger, res)
	case KindDeleteTables:
		err = r.runDeleteTables(ctx, j.DeleteTables, res)
	}
	res.Duration = time.Since(res.Started)
	if err != nil {
		logger.Error("job failed", "duration", res.Duration, "error", err)
		return res, fmt.Errorf("job %s: %w", j.Name, err)
	}
	logger.Info("job finished", "duration", res.Duration, "rows", res.Rows)
	return res, nil
}

func (r *Runner) transferService() (*transfer.Service, error) {
	if r.deps.Transfer == nil {
		return nil, domain.ErrValidation("table transfers are not configured")
	}
	return r.deps.Transfer, nil
}

func (r *Runner) warehouse(ctx context.Context) (Warehouse, error) {
	if r.deps.BigQuery == nil {
		return nil, domain.ErrValidation("BigQuery is not configured")
	}
	return r.deps.BigQuery(ctx)
}

func (r *Runner) runTransfer(ctx context.Context, spec *TransferSpec, res *Result) error {
	svc, err := r.transferService()
	if err != nil {
		return err
	}
	src, err := spec.Source.Source()
	if err != nil {
		return err
	}
	tgt, err := spec.Target.Target()
	if err != nil {
		return err
	}
	t, err := svc.Copy(ctx, src, tgt, readOptions(spec.Read))
	if err != nil {
		return err
	}
	res.Rows = t.Len()
	return nil
}

func (r *Runner) runGCSLoad(ctx context.Context, opts gcsload.Options, logger *slog.Logger, res *Result) error {
	if opts.Project == "" {
		opts.Project = r.deps.Project
	}
	if opts.Location == "" {
		opts.Location = r.deps.Location
	}
	scheme := opts.Scheme
	if scheme == "" {
		scheme = storage.SchemeGCS
	}
	store, err := r.deps.Stores.Store(ctx, scheme)
	if err != nil {
		return err
	}
	wh, err := r.warehouse(ctx)
	if err != nil {
		return err
	}
	summary, err := gcsload.NewRunner(store, wh, logger).Run(ctx, opts)
	if err != nil {
		return err
	}
	res.Load = summary
	for _, f := range summary.Files {
		res.Rows += f.Rows
	}
	if n := summary.Failed(); n > 0 {
		return fmt.Errorf("%d of %d files failed", n, len(summary.Files))
	}
	return nil
}

func (r *Runner) runConsolidate(ctx context.Context, spec *ConsolidateSpec, logger *slog.Logger, res *Result) error {
	svc, err := r.transferService()
	if err != nil {
		return err
	}
	policy, err := consolidate.ParsePolicy(spec.Policy)
	if err != nil {
		return err
	}
	read := readOptions(spec.Read)

	initialSrc, err := spec.Initial.Source()
	if err != nil {
		return err
	}
	initial, err := svc.Read(ctx, initialSrc, read)
	if err != nil {
		return fmt.Errorf("read initial: %w", err)
	}
	mergeSrc, err := spec.ToMerge.Source()
	if err != nil {
		return err
	}
	toMerge, err := svc.Read(ctx, mergeSrc, read)
	if err != nil {
		return fmt.Errorf("read to_merge: %w", err)
	}

	merged, meta, err := consolidate.Consolidate(consolidate.Options{
		Initial:              initial,
		ToMerge:              toMerge,
		KeyFields:            spec.KeyFields,
		Policy:               policy,
		DateField:            spec.DateField,
		DateFormat:           spec.DateFormat,
		SkipSchemaValidation: spec.SkipSchemaValidation,
		Logger:               logger,
	})
	if err != nil {
		return err
	}
	tgt, err := spec.Target.Target()
	if err != nil {
		return err
	}
	if err := svc.Write(ctx, merged, tgt); err != nil {
		return err
	}
	res.Rows = merged.Len()
	res.Consolidation = meta
	return nil
}

func (r *Runner) runDeleteTables(ctx context.Context, spec *DeleteTablesSpec, res *Result) error {
	project := spec.Project
	if project == "" {
		project = r.deps.Project
	}
	if project == "" {
		return domain.ErrValidation("no BigQuery project configured")
	}
	wh, err := r.warehouse(ctx)
	if err != nil {
		return err
	}
	deleted, err := wh.DeleteTables(ctx, project, spec.Datasets)
	res.DeletedTables = deleted
	return err
}

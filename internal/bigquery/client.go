package bigquery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"dpm/internal/domain"
	"dpm/internal/retry"
	"dpm/internal/table"
)

// WriteMode selects what a load does with existing rows.
type WriteMode string

// Write modes.
const (
	WriteTruncate WriteMode = "overwrite"
	WriteAppend   WriteMode = "append"
)

// ParseWriteMode accepts overwrite/truncate and append.
func ParseWriteMode(s string) (WriteMode, error) {
	switch s {
	case "", "overwrite", "truncate", "replace":
		return WriteTruncate, nil
	case "append":
		return WriteAppend, nil
	}
	return "", domain.ErrValidation("unsupported write mode %q (expected overwrite or append)", s)
}

func (m WriteMode) disposition() bq.TableWriteDisposition {
	if m == WriteAppend {
		return bq.WriteAppend
	}
	return bq.WriteTruncate
}

// loadAttempts is the number of tries for a load that keeps hitting 503.
const loadAttempts = 4

// Loader loads a table into BigQuery.
type Loader interface {
	Load(ctx context.Context, id TableID, t *table.Table, mode WriteMode, opts LoadOptions) error
}

var _ Loader = (*Client)(nil)

// LoadOptions tunes Load.
type LoadOptions struct {
	// CreateDataset creates the dataset in Location when it is missing.
	CreateDataset bool
	Location      string
}

// Client wraps a BigQuery client for one billing project.
type Client struct {
	client   *bq.Client
	location string
	policy   retry.Policy
	logger   *slog.Logger
}

// NewClient creates a client billed to project, running jobs in location.
func NewClient(ctx context.Context, project, location string, logger *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	if project == "" {
		return nil, domain.ErrValidation("a BigQuery project is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c, err := bq.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("create BigQuery client: %w", err)
	}
	c.Location = location
	policy := retry.Policy{
		MaxAttempts: loadAttempts,
		Initial:     2 * time.Second,
		Max:         30 * time.Second,
		Multiplier:  2,
		Retryable:   retry.IsUnavailable,
	}
	return &Client{client: c, location: location, policy: policy, logger: logger}, nil
}

// Close releases the client.
func (c *Client) Close() error { return c.client.Close() }

// Project returns the billing project.
func (c *Client) Project() string { return c.client.Project() }

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

func (c *Client) ensureDataset(ctx context.Context, id TableID, location string) error {
	ds := c.client.DatasetInProject(id.Project, id.Dataset)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("get dataset %s.%s: %w", id.Project, id.Dataset, err)
	}
	if location == "" {
		location = c.location
	}
	err = ds.Create(ctx, &bq.DatasetMetadata{Location: location})
	var gerr *googleapi.Error
	if err != nil && !(errors.As(err, &gerr) && gerr.Code == http.StatusConflict) {
		return fmt.Errorf("create dataset %s.%s: %w", id.Project, id.Dataset, err)
	}
	c.logger.Info("dataset created", "dataset", id.Project+"."+id.Dataset, "location", location)
	return nil
}

// Load writes t into the table with an explicit schema taken from the
// column types. A 503 from BigQuery is retried up to four times.
func (c *Client) Load(ctx context.Context, id TableID, t *table.Table, mode WriteMode, opts LoadOptions) error {
	if t.Width() == 0 {
		return domain.ErrValidation("cannot load a table without columns into %s", id)
	}
	if opts.CreateDataset {
		if err := c.ensureDataset(ctx, id, opts.Location); err != nil {
			return err
		}
	}
	payload, err := encodeCSV(t)
	if err != nil {
		return err
	}
	schema := SchemaFor(t)

	err = retry.Do(ctx, c.policy, c.logger, "load "+id.String(), func(ctx context.Context) error {
		src := bq.NewReaderSource(bytes.NewReader(payload))
		src.SourceFormat = bq.CSV
		src.SkipLeadingRows = 1
		src.AllowQuotedNewlines = true
		src.Schema = schema
		loader := c.client.DatasetInProject(id.Project, id.Dataset).Table(id.Table).LoaderFrom(src)
		loader.WriteDisposition = mode.disposition()
		loader.CreateDisposition = bq.CreateIfNeeded
		job, err := loader.Run(ctx)
		if err != nil {
			return err
		}
		status, err := job.Wait(ctx)
		if err != nil {
			return err
		}
		return status.Err()
	})
	if err != nil {
		return err
	}
	c.logger.Info("table loaded", "table", id.String(), "rows", t.Len(), "mode", mode)
	return nil
}

// ReadTable reads a whole table.
func (c *Client) ReadTable(ctx context.Context, id TableID) (*table.Table, error) {
	it := c.client.DatasetInProject(id.Project, id.Dataset).Table(id.Table).Read(ctx)
	t, err := drain(it)
	if isNotFound(err) {
		return nil, domain.ErrNotFound("table %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return t, nil
}

// Query runs a standard SQL query and returns its rows.
func (c *Client) Query(ctx context.Context, sql string) (*table.Table, error) {
	q := c.client.Query(sql)
	q.Location = c.location
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	t, err := drain(it)
	if err != nil {
		return nil, fmt.Errorf("read query results: %w", err)
	}
	return t, nil
}

func drain(it *bq.RowIterator) (*table.Table, error) {
	var rows [][]bq.Value
	for {
		var row []bq.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return tableFromRows(it.Schema, rows), nil
}

func (c *Client) tables(ctx context.Context, project, dataset string) ([]*bq.Table, error) {
	it := c.client.DatasetInProject(project, dataset).Tables(ctx)
	var out []*bq.Table
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list tables of %s.%s: %w", project, dataset, err)
		}
		out = append(out, t)
	}
}

// DeleteTables deletes every table in each dataset and returns the deleted
// table ids. Tables that vanish meanwhile are ignored.
func (c *Client) DeleteTables(ctx context.Context, project string, datasets []string) ([]string, error) {
	if project == "" || len(datasets) == 0 {
		return nil, domain.ErrValidation("a project and at least one dataset are required")
	}
	var deleted []string
	for _, ds := range datasets {
		tables, err := c.tables(ctx, project, ds)
		if err != nil {
			return deleted, err
		}
		if len(tables) == 0 {
			c.logger.Info("dataset has no tables", "dataset", ds)
			continue
		}
		for _, t := range tables {
			id := fmt.Sprintf("%s.%s.%s", project, ds, t.TableID)
			if err := t.Delete(ctx); err != nil && !isNotFound(err) {
				return deleted, fmt.Errorf("delete %s: %w", id, err)
			}
			c.logger.Info("table deleted", "table", id)
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

// InventoryColumns is the layout of SchemaInventory.
var InventoryColumns = []table.Column{
	{Name: "project_id", Type: table.TypeString},
	{Name: "dataset_id", Type: table.TypeString},
	{Name: "table_name", Type: table.TypeString},
	{Name: "field_name", Type: table.TypeString},
	{Name: "field_type", Type: table.TypeString},
	{Name: "field_mode", Type: table.TypeString},
	{Name: "num_rows", Type: table.TypeInt64},
	{Name: "num_columns", Type: table.TypeInt64},
	{Name: "size_mb", Type: table.TypeFloat64},
	{Name: "table_updated", Type: table.TypeTimestamp},
	{Name: "snapshot_at", Type: table.TypeTimestamp},
}

// TableInfo is the metadata SchemaInventory reports for one table.
type TableInfo struct {
	Dataset  string
	Name     string
	Schema   bq.Schema
	NumRows  uint64
	NumBytes int64
	Created  time.Time
	Modified time.Time
}

// SchemaInventory describes every field of every table in the datasets
// (all datasets of project when none are named). With includeTables unset
// only the dataset names are reported. Tables that fail are logged and
// skipped.
func (c *Client) SchemaInventory(ctx context.Context, project string, datasets []string, includeTables bool) (*table.Table, error) {
	if len(datasets) == 0 {
		it := c.client.Datasets(ctx)
		it.ProjectID = project
		for {
			ds, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("list datasets of %s: %w", project, err)
			}
			datasets = append(datasets, ds.DatasetID)
		}
	}
	infos := map[string][]TableInfo{}
	if includeTables {
		for _, ds := range datasets {
			tables, err := c.tables(ctx, project, ds)
			if err != nil {
				c.logger.Error("listing tables failed", "dataset", ds, "error", err)
				continue
			}
			for _, t := range tables {
				md, err := t.Metadata(ctx)
				if err != nil {
					c.logger.Error("table metadata failed", "table", t.FullyQualifiedName(), "error", err)
					continue
				}
				infos[ds] = append(infos[ds], TableInfo{
					Dataset:  ds,
					Name:     t.TableID,
					Schema:   md.Schema,
					NumRows:  md.NumRows,
					NumBytes: md.NumBytes,
					Created:  md.CreationTime,
					Modified: md.LastModifiedTime,
				})
			}
		}
	}
	return inventoryTable(project, datasets, infos, includeTables, time.Now()), nil
}

func inventoryTable(project string, datasets []string, infos map[string][]TableInfo, includeTables bool, now time.Time) *table.Table {
	t := table.New(InventoryColumns...)
	snapshot := now.UTC().Truncate(time.Second)
	for _, ds := range datasets {
		if !includeTables {
			t.AppendRow(project, ds, nil, nil, nil, nil, nil, nil, nil, nil, snapshot)
			continue
		}
		for _, info := range infos[ds] {
			var updated any
			switch {
			case !info.Created.IsZero():
				updated = info.Created.UTC()
			case !info.Modified.IsZero():
				updated = info.Modified.UTC()
			}
			sizeMB := float64(int64(float64(info.NumBytes)/(1024*1024)*100+0.5)) / 100
			base := []any{project, ds, info.Name}
			stats := []any{int64(info.NumRows), int64(len(info.Schema)), sizeMB, updated, snapshot}
			if len(info.Schema) == 0 {
				t.AppendRow(append(append(base, nil, nil, nil), stats...)...)
				continue
			}
			for _, f := range info.Schema {
				mode := "NULLABLE"
				switch {
				case f.Repeated:
					mode = "REPEATED"
				case f.Required:
					mode = "REQUIRED"
				}
				row := append(append([]any{}, base...), f.Name, string(f.Type), mode)
				t.AppendRow(append(row, stats...)...)
			}
		}
	}
	return t
}

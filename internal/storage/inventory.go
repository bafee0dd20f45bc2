package storage

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"dpm/internal/table"
)

// GCSInventoryColumns is the column layout of GCSInventory.
var GCSInventoryColumns = []table.Column{
	{Name: "project_id", Type: table.TypeString},
	{Name: "bucket_name", Type: table.TypeString},
	{Name: "bucket_created", Type: table.TypeTimestamp},
	{Name: "location_type", Type: table.TypeString},
	{Name: "location", Type: table.TypeString},
	{Name: "storage_class", Type: table.TypeString},
	{Name: "access_control", Type: table.TypeString},
	{Name: "protection", Type: table.TypeString},
	{Name: "retention_seconds", Type: table.TypeInt64},
	{Name: "labels", Type: table.TypeString},
	{Name: "requester_pays", Type: table.TypeBool},
	{Name: "encryption", Type: table.TypeString},
	{Name: "object_name", Type: table.TypeString},
	{Name: "content_type", Type: table.TypeString},
	{Name: "size_mb", Type: table.TypeFloat64},
	{Name: "object_updated", Type: table.TypeTimestamp},
	{Name: "snapshot_at", Type: table.TypeTimestamp},
}

// GCSInventoryOptions selects what GCSInventory covers.
type GCSInventoryOptions struct {
	Project string
	// Buckets limits the inventory; empty means every bucket of Project.
	Buckets        []string
	IncludeObjects bool
	Logger         *slog.Logger
}

// GCSInventory describes buckets and, optionally, every object in them. A
// bucket whose objects cannot be listed is reported with bucket data only.
func GCSInventory(ctx context.Context, s *GCSStore, opts GCSInventoryOptions) (*table.Table, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buckets, err := s.Buckets(ctx, opts.Project, opts.Buckets)
	if err != nil {
		return nil, err
	}
	listing := map[string][]Object{}
	if opts.IncludeObjects {
		for _, b := range buckets {
			objs, err := s.List(ctx, b.Name, "", true)
			if err != nil {
				logger.Error("listing objects failed", "bucket", b.Name, "error", err)
				continue
			}
			logger.Info("objects listed", "bucket", b.Name, "count", len(objs))
			listing[b.Name] = objs
		}
	}
	return bucketInventory(opts.Project, buckets, listing, opts.IncludeObjects, time.Now()), nil
}

func bucketInventory(project string, buckets []BucketInfo, listing map[string][]Object, withObjects bool, now time.Time) *table.Table {
	t := table.New(GCSInventoryColumns...)
	snapshot := now.UTC().Truncate(time.Second)
	for _, b := range buckets {
		access := "FINE"
		if b.UniformAccess {
			access = "UNIFORM"
		}
		var created any
		if !b.Created.IsZero() {
			created = b.Created.UTC()
		}
		var labels any
		if len(b.Labels) > 0 {
			labels = formatLabels(b.Labels)
		}
		prefix := []any{
			project, b.Name, created, nullIfEmpty(b.LocationType), nullIfEmpty(b.Location), nullIfEmpty(b.StorageClass),
			access, fmt.Sprintf("publicAccessPrevention=%s, versioning=%t", b.PublicPrevent, b.Versioning),
			b.RetentionSecs, labels, b.RequesterPays, b.Encryption,
		}
		objs := listing[b.Name]
		if !withObjects || len(objs) == 0 {
			t.AppendRow(append(prefix, nil, nil, nil, nil, snapshot)...)
			continue
		}
		for _, o := range objs {
			if o.IsPrefix {
				continue
			}
			var updated any
			if !o.Updated.IsZero() {
				updated = o.Updated.UTC()
			}
			row := slices.Clone(prefix)
			row = append(row, o.Key, nullIfEmpty(o.ContentType), sizeMB(o.Size), updated, snapshot)
			t.AppendRow(row...)
		}
	}
	return t
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatLabels(labels map[string]string) string {
	keys := slices.Sorted(maps.Keys(labels))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, ",")
}

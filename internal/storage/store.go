// Package storage abstracts object stores (GCS, S3, Azure Blob) behind one
// interface and builds inventories from their listings.
package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"dpm/internal/domain"
	"dpm/internal/table"
)

// Object is one listed object. Prefix entries stand for "folders" in a
// non-recursive listing and carry no size.
type Object struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	Updated     time.Time `json:"updated"`
	ContentType string    `json:"content_type,omitempty"`
	IsPrefix    bool      `json:"is_prefix,omitempty"`
}

// Store is an object store.
type Store interface {
	Scheme() string
	// Open streams an object. Missing objects yield a domain.NotFoundError.
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, r io.Reader, contentType string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Delete(ctx context.Context, bucket, key string) error
	// List returns objects under prefix. When recursive is false, deeper
	// keys are folded into Prefix entries ending in "/".
	List(ctx context.Context, bucket, prefix string, recursive bool) ([]Object, error)
	SignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// ReadAll reads a whole object.
func ReadAll(ctx context.Context, s Store, bucket, key string) ([]byte, error) {
	rc, err := s.Open(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s://%s/%s: %w", s.Scheme(), bucket, key, err)
	}
	return data, nil
}

// Opener lazily creates a store.
type Opener func(ctx context.Context) (Store, error)

// Registry hands out stores by URI scheme, creating each at most once.
type Registry struct {
	mu      sync.Mutex
	openers map[string]Opener
	stores  map[string]Store
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{openers: map[string]Opener{}, stores: map[string]Store{}}
}

// Register installs the opener for scheme.
func (r *Registry) Register(scheme string, open Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[scheme] = open
	delete(r.stores, scheme)
}

// Add installs a ready store.
func (r *Registry) Add(s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[s.Scheme()] = s
}

// Store returns the store for scheme.
func (r *Registry) Store(ctx context.Context, scheme string) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[scheme]; ok {
		return s, nil
	}
	open, ok := r.openers[scheme]
	if !ok {
		return nil, domain.ErrValidation("no object store configured for %s://", scheme)
	}
	s, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", scheme, err)
	}
	r.stores[scheme] = s
	return s, nil
}

// For returns the store serving u.
func (r *Registry) For(ctx context.Context, u URI) (Store, error) {
	return r.Store(ctx, u.Scheme)
}

// foldListing turns a flat listing into a one-level listing under prefix.
func foldListing(objects []Object, prefix string) []Object {
	seen := map[string]bool{}
	var out []Object
	for _, o := range objects {
		rel := strings.TrimPrefix(o.Key, prefix)
		i := strings.Index(rel, "/")
		if i < 0 {
			out = append(out, o)
			continue
		}
		folder := prefix + rel[:i+1]
		if !seen[folder] {
			seen[folder] = true
			out = append(out, Object{Bucket: o.Bucket, Key: folder, IsPrefix: true})
		}
	}
	return out
}

// Tree is the folder structure below a prefix.
type Tree struct {
	Files   []string         `json:"files"`
	Folders map[string]*Tree `json:"folders"`
}

// FolderTree arranges keys below prefix into nested folders. Folder names
// are full keys ending in "/"; folder-marker objects produce empty folders.
func FolderTree(objects []Object, prefix string) *Tree {
	root := &Tree{Files: []string{}, Folders: map[string]*Tree{}}
	for _, o := range objects {
		if !strings.HasPrefix(o.Key, prefix) {
			continue
		}
		rel := strings.TrimPrefix(o.Key, prefix)
		if rel == "" {
			continue
		}
		node := root
		base := prefix
		parts := strings.Split(rel, "/")
		for i, part := range parts {
			last := i == len(parts)-1
			if last {
				if part != "" && !o.IsPrefix {
					node.Files = append(node.Files, o.Key)
				}
				break
			}
			base += part + "/"
			child, ok := node.Folders[base]
			if !ok {
				child = &Tree{Files: []string{}, Folders: map[string]*Tree{}}
				node.Folders[base] = child
			}
			node = child
		}
	}
	return root
}

// InventoryColumns is the column layout produced by InventoryTable.
var InventoryColumns = []table.Column{
	{Name: "bucket_name", Type: table.TypeString},
	{Name: "object_name", Type: table.TypeString},
	{Name: "content_type", Type: table.TypeString},
	{Name: "size_mb", Type: table.TypeFloat64},
	{Name: "updated", Type: table.TypeTimestamp},
	{Name: "snapshot_at", Type: table.TypeTimestamp},
}

// InventoryTable renders a listing as a table, one row per object, sorted by
// bucket and key. Prefix entries are skipped.
func InventoryTable(objects []Object, now time.Time) *table.Table {
	sorted := make([]Object, 0, len(objects))
	for _, o := range objects {
		if !o.IsPrefix {
			sorted = append(sorted, o)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Bucket != sorted[j].Bucket {
			return sorted[i].Bucket < sorted[j].Bucket
		}
		return sorted[i].Key < sorted[j].Key
	})

	t := table.New(InventoryColumns...)
	snapshot := now.UTC().Truncate(time.Second)
	for _, o := range sorted {
		var updated any
		if !o.Updated.IsZero() {
			updated = o.Updated.UTC()
		}
		var contentType any
		if o.ContentType != "" {
			contentType = o.ContentType
		}
		t.AppendRow(o.Bucket, o.Key, contentType, sizeMB(o.Size), updated, snapshot)
	}
	return t
}

func sizeMB(n int64) float64 {
	mb := float64(n) / (1024 * 1024)
	return float64(int64(mb*100+0.5)) / 100
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"dpm/internal/domain"
)

var _ Store = (*GCSStore)(nil)

// GCSStore is a Store over Google Cloud Storage.
type GCSStore struct {
	client *gcs.Client
}

// NewGCSStore creates a GCS client from resolved credential options.
func NewGCSStore(ctx context.Context, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close releases the client.
func (s *GCSStore) Close() error { return s.client.Close() }

// Scheme implements Store.
func (s *GCSStore) Scheme() string { return SchemeGCS }

// Open implements Store.
func (s *GCSStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, domain.ErrNotFound("gs://%s/%s not found", bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, key, err)
	}
	return r, nil
}

// Put implements Store.
func (s *GCSStore) Put(ctx context.Context, bucket, key string, r io.Reader, contentType string) error {
	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload gs://%s/%s: %w", bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// Exists implements Store.
func (s *GCSStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.Bucket(bucket).Object(key).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat gs://%s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// Delete implements Store.
func (s *GCSStore) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// List implements Store.
func (s *GCSStore) List(ctx context.Context, bucket, prefix string, recursive bool) ([]Object, error) {
	q := &gcs.Query{Prefix: prefix}
	if !recursive {
		q.Delimiter = "/"
	}
	it := s.client.Bucket(bucket).Objects(ctx, q)
	var out []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", bucket, prefix, err)
		}
		if attrs.Prefix != "" {
			out = append(out, Object{Bucket: bucket, Key: attrs.Prefix, IsPrefix: true})
			continue
		}
		updated := attrs.Created
		if updated.IsZero() {
			updated = attrs.Updated
		}
		out = append(out, Object{
			Bucket:      bucket,
			Key:         attrs.Name,
			Size:        attrs.Size,
			Updated:     updated,
			ContentType: attrs.ContentType,
			IsPrefix:    strings.HasSuffix(attrs.Name, "/") && attrs.Size == 0,
		})
	}
}

// SignedURL implements Store. It requires a service account credential.
func (s *GCSStore) SignedURL(_ context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := s.client.Bucket(bucket).SignedURL(key, &gcs.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", fmt.Errorf("sign gs://%s/%s: %w", bucket, key, err)
	}
	return u, nil
}

// BucketInfo is the bucket-level part of a GCS inventory.
type BucketInfo struct {
	Name          string
	Created       time.Time
	Location      string
	LocationType  string
	StorageClass  string
	Versioning    bool
	UniformAccess bool
	PublicPrevent string
	RetentionSecs int64
	Labels        map[string]string
	RequesterPays bool
	Encryption    string
}

// Buckets describes the named buckets, or every bucket of project when
// names is empty.
func (s *GCSStore) Buckets(ctx context.Context, project string, names []string) ([]BucketInfo, error) {
	var attrs []*gcs.BucketAttrs
	if len(names) > 0 {
		for _, n := range names {
			a, err := s.client.Bucket(n).Attrs(ctx)
			if errors.Is(err, gcs.ErrBucketNotExist) {
				return nil, domain.ErrNotFound("bucket %s not found", n)
			}
			if err != nil {
				return nil, fmt.Errorf("bucket %s: %w", n, err)
			}
			attrs = append(attrs, a)
		}
	} else {
		if project == "" {
			return nil, domain.ErrValidation("a project is required to list buckets")
		}
		it := s.client.Buckets(ctx, project)
		for {
			a, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("list buckets of %s: %w", project, err)
			}
			attrs = append(attrs, a)
		}
	}

	out := make([]BucketInfo, 0, len(attrs))
	for _, a := range attrs {
		info := BucketInfo{
			Name:          a.Name,
			Created:       a.Created,
			Location:      a.Location,
			LocationType:  a.LocationType,
			StorageClass:  a.StorageClass,
			Versioning:    a.VersioningEnabled,
			UniformAccess: a.UniformBucketLevelAccess.Enabled,
			PublicPrevent: a.PublicAccessPrevention.String(),
			Labels:        a.Labels,
			RequesterPays: a.RequesterPays,
			Encryption:    "Google-managed",
		}
		if a.RetentionPolicy != nil {
			info.RetentionSecs = int64(a.RetentionPolicy.RetentionPeriod / time.Second)
		}
		if a.Encryption != nil && a.Encryption.DefaultKMSKeyName != "" {
			info.Encryption = a.Encryption.DefaultKMSKeyName
		}
		out = append(out, info)
	}
	return out, nil
}

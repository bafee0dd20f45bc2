package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"dpm/internal/domain"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store addressed as mem://bucket/key. It backs
// dry runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]map[string]memObject
	now     func() time.Time
}

type memObject struct {
	data        []byte
	contentType string
	updated     time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]map[string]memObject{}, now: time.Now}
}

// Scheme implements Store.
func (m *MemoryStore) Scheme() string { return SchemeMem }

// Open implements Store.
func (m *MemoryStore) Open(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[bucket][key]
	if !ok {
		return nil, domain.ErrNotFound("mem://%s/%s not found", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, bucket, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read payload for mem://%s/%s: %w", bucket, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects[bucket] == nil {
		m.objects[bucket] = map[string]memObject{}
	}
	m.objects[bucket][key] = memObject{data: data, contentType: contentType, updated: m.now()}
	return nil
}

// Exists implements Store.
func (m *MemoryStore) Exists(_ context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket][key]
	return ok, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects[bucket], key)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, bucket, prefix string, recursive bool) ([]Object, error) {
	m.mu.Lock()
	var out []Object
	for k, o := range m.objects[bucket] {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Object{
				Bucket:      bucket,
				Key:         k,
				Size:        int64(len(o.data)),
				Updated:     o.updated,
				ContentType: o.contentType,
				IsPrefix:    strings.HasSuffix(k, "/"),
			})
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if !recursive {
		out = foldListing(out, prefix)
	}
	return out, nil
}

// SignedURL implements Store.
func (m *MemoryStore) SignedURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return URI{Scheme: SchemeMem, Bucket: bucket, Key: key}.String(), nil
}

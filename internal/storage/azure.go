package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"dpm/internal/config"
	"dpm/internal/domain"
)

var _ Store = (*AzureStore)(nil)

// AzureStore is a Store over Azure Blob Storage. Buckets are containers.
type AzureStore struct {
	client *azblob.Client
}

// NewAzureStore authenticates with the account shared key.
func NewAzureStore(cfg *config.Config) (*AzureStore, error) {
	if !cfg.HasAzureConfig() {
		return nil, domain.ErrValidation("Azure config is incomplete: AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY are required")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccount, cfg.AzureKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccount)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureStore{client: client}, nil
}

// Scheme implements Store.
func (s *AzureStore) Scheme() string { return SchemeAzure }

// Open implements Store.
func (s *AzureStore) Open(ctx context.Context, container, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, container, key, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return nil, domain.ErrNotFound("az://%s/%s not found", container, key)
	}
	if err != nil {
		return nil, fmt.Errorf("download az://%s/%s: %w", container, key, err)
	}
	return resp.Body, nil
}

// Put implements Store.
func (s *AzureStore) Put(ctx context.Context, container, key string, r io.Reader, contentType string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("buffer az://%s/%s: %w", container, key, err)
	}
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := s.client.UploadBuffer(ctx, container, key, buf.Bytes(), opts); err != nil {
		return fmt.Errorf("upload az://%s/%s: %w", container, key, err)
	}
	return nil
}

// Exists implements Store.
func (s *AzureStore) Exists(ctx context.Context, container, key string) (bool, error) {
	bc := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(key)
	_, err := bc.GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat az://%s/%s: %w", container, key, err)
	}
	return true, nil
}

// Delete implements Store.
func (s *AzureStore) Delete(ctx context.Context, container, key string) error {
	_, err := s.client.DeleteBlob(ctx, container, key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("delete az://%s/%s: %w", container, key, err)
	}
	return nil
}

// List implements Store. Azure has no delimiter on the flat pager, so a
// non-recursive listing is folded client-side.
func (s *AzureStore) List(ctx context.Context, container, prefix string, recursive bool) ([]Object, error) {
	opts := &azblob.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = &prefix
	}
	var out []Object
	pager := s.client.NewListBlobsFlatPager(container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list az://%s/%s: %w", container, prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			o := Object{Bucket: container, Key: *item.Name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					o.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					o.Updated = *p.LastModified
				}
				if p.ContentType != nil {
					o.ContentType = *p.ContentType
				}
			}
			out = append(out, o)
		}
	}
	if !recursive {
		out = foldListing(out, prefix)
	}
	return out, nil
}

// SignedURL implements Store with a read-only SAS URL.
func (s *AzureStore) SignedURL(_ context.Context, container, key string, expiry time.Duration) (string, error) {
	bc := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(key)
	u, err := bc.GetSASURL(sas.BlobPermissions{Read: true}, time.Now().Add(expiry), nil)
	if err != nil {
		return "", fmt.Errorf("generate SAS URL for az://%s/%s: %w", container, key, err)
	}
	return u, nil
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"dpm/internal/config"
	"dpm/internal/domain"
)

var _ Store = (*S3Store)(nil)

// S3Store is a Store over S3 or an S3-compatible endpoint.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
}

// NewS3Store builds a client from the KEY_ID/SECRET/REGION settings. A
// custom ENDPOINT switches to path-style addressing.
func NewS3Store(cfg *config.Config) (*S3Store, error) {
	if !cfg.HasS3Config() {
		return nil, domain.ErrValidation("S3 config is incomplete: KEY_ID, SECRET and REGION are required")
	}
	opts := s3.Options{
		Region: *cfg.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			*cfg.S3KeyID, *cfg.S3Secret, "",
		),
	}
	if cfg.S3Endpoint != nil {
		endpoint := *cfg.S3Endpoint
		if !hasScheme(endpoint) {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	client := s3.New(opts)
	return &S3Store{client: client, presign: s3.NewPresignClient(client)}, nil
}

func hasScheme(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Scheme implements Store.
func (s *S3Store) Scheme() string { return SchemeS3 }

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// Open implements Store.
func (s *S3Store) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return nil, domain.ErrNotFound("s3://%s/%s not found", bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// Put implements Store. Non-seekable readers are buffered so the payload
// can be signed.
func (s *S3Store) Put(ctx context.Context, bucket, key string, r io.Reader, contentType string) error {
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("buffer s3://%s/%s: %w", bucket, key, err)
		}
		body = bytes.NewReader(data)
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// Exists implements Store.
func (s *S3Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// Delete implements Store.
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// List implements Store.
func (s *S3Store) List(ctx context.Context, bucket, prefix string, recursive bool) ([]Object, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	if !recursive {
		in.Delimiter = aws.String("/")
	}
	var out []Object
	p := s3.NewListObjectsV2Paginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			out = append(out, Object{Bucket: bucket, Key: aws.ToString(cp.Prefix), IsPrefix: true})
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			out = append(out, Object{
				Bucket:   bucket,
				Key:      key,
				Size:     aws.ToInt64(o.Size),
				Updated:  aws.ToTime(o.LastModified),
				IsPrefix: strings.HasSuffix(key, "/"),
			})
		}
	}
	return out, nil
}

// SignedURL implements Store.
func (s *S3Store) SignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	res, err := s.presign.PresignGetObject(ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		},
		s3.WithPresignExpires(expiry),
	)
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", bucket, key, err)
	}
	return res.URL, nil
}

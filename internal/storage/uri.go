package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"dpm/internal/domain"
)

// Schemes understood by ParseURI.
const (
	SchemeGCS   = "gs"
	SchemeS3    = "s3"
	SchemeAzure = "az"
	SchemeMem   = "mem"
)

// URI addresses an object (or a prefix when Key ends in "/") in a bucket.
// For Azure the bucket is the container.
type URI struct {
	Scheme string
	Bucket string
	Key    string
}

func (u URI) String() string {
	return fmt.Sprintf("%s://%s/%s", u.Scheme, u.Bucket, u.Key)
}

// Base returns the last path element of the key.
func (u URI) Base() string {
	return path.Base(u.Key)
}

// ParseURI parses gs://, s3://, az:// and mem:// object URIs. An empty key is
// allowed and addresses the whole bucket.
func ParseURI(s string) (URI, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return URI{}, domain.ErrValidation("invalid object URI %q: %v", s, err)
	}
	switch u.Scheme {
	case SchemeGCS, SchemeS3, SchemeAzure, SchemeMem:
	case "":
		return URI{}, domain.ErrValidation("object URI %q has no scheme (expected gs://, s3:// or az://)", s)
	default:
		return URI{}, domain.ErrValidation("unsupported object URI scheme %q in %q", u.Scheme, s)
	}
	if u.Host == "" {
		return URI{}, domain.ErrValidation("object URI %q has no bucket", s)
	}
	return URI{Scheme: u.Scheme, Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
}

// IsObjectURI reports whether s looks like a URI ParseURI accepts.
func IsObjectURI(s string) bool {
	for _, scheme := range []string{SchemeGCS, SchemeS3, SchemeAzure, SchemeMem} {
		if strings.HasPrefix(s, scheme+"://") {
			return true
		}
	}
	return false
}

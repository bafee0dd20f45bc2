// Package secrets fetches secret payloads from Google Secret Manager.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dpm/internal/domain"
	"dpm/internal/retry"
)

// LatestVersion is the version alias used when none is given.
const LatestVersion = "latest"

// maxListedFailures caps the failures quoted in a FetchAll error.
const maxListedFailures = 5

// Request names one secret to fetch. Either Resource (a full
// projects/<p>/secrets/<id>[/versions/<v>] name) or SecretID is required.
// Alias is the key of the value in the result map.
type Request struct {
	Resource string `yaml:"resource" json:"resource,omitempty"`
	SecretID string `yaml:"secret_id" json:"secret_id,omitempty"`
	Project  string `yaml:"project" json:"project,omitempty"`
	Version  string `yaml:"version" json:"version,omitempty"`
	Alias    string `yaml:"alias" json:"alias,omitempty"`
}

// ParseRequest turns a command-line token into a Request. It accepts a short
// secret id, a full resource name, or either followed by "=alias".
func ParseRequest(s string) Request {
	s = strings.TrimSpace(s)
	var alias string
	if name, a, ok := strings.Cut(s, "="); ok {
		s, alias = strings.TrimSpace(name), strings.TrimSpace(a)
	}
	if IsResourceName(s) {
		return Request{Resource: s, Alias: alias}
	}
	return Request{SecretID: s, Alias: alias}
}

// IsResourceName reports whether s is a full Secret Manager resource name.
func IsResourceName(s string) bool {
	return strings.HasPrefix(s, "projects/") && strings.Contains(s, "/secrets/")
}

// ResourceName builds projects/<project>/secrets/<id>/versions/<version>.
func ResourceName(project, secretID, version string) string {
	if version == "" {
		version = LatestVersion
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, secretID, version)
}

func normalizeResource(name string) string {
	if strings.Contains(name, "/versions/") {
		return name
	}
	return strings.TrimSuffix(name, "/") + "/versions/" + LatestVersion
}

func secretIDOf(resource string) string {
	_, rest, ok := strings.Cut(resource, "/secrets/")
	if !ok {
		return resource
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}

// resolve returns the full version resource and the result key.
func (r Request) resolve(defaultProject string) (resource, key string, err error) {
	switch {
	case r.Resource != "":
		if !IsResourceName(r.Resource) {
			return "", "", domain.ErrValidation("%q is not a Secret Manager resource name", r.Resource)
		}
		resource = normalizeResource(r.Resource)
		key = secretIDOf(resource)
	case r.SecretID != "":
		project := r.Project
		if project == "" {
			project = defaultProject
		}
		if project == "" {
			return "", "", domain.ErrValidation("secret %q: no project given and no default project", r.SecretID)
		}
		resource = ResourceName(project, r.SecretID, r.Version)
		key = r.SecretID
	default:
		return "", "", domain.ErrValidation("secret request needs a secret id or a resource name")
	}
	if r.Alias != "" {
		key = r.Alias
	}
	return resource, key, nil
}

// versionAccessor is the subset of the Secret Manager client used here.
type versionAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher reads secret versions with per-secret retry on transient errors.
type Fetcher struct {
	client versionAccessor
	policy retry.Policy
	logger *slog.Logger
}

// New dials Secret Manager with the given client options.
func New(ctx context.Context, policy retry.Policy, logger *slog.Logger, opts ...option.ClientOption) (*Fetcher, error) {
	c, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	return newFetcher(c, policy, logger), nil
}

func newFetcher(c versionAccessor, policy retry.Policy, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	policy.Retryable = isTransient
	return &Fetcher{client: c, policy: policy, logger: logger}
}

// Close releases the underlying client.
func (f *Fetcher) Close() error {
	return f.client.Close()
}

func isTransient(err error) bool {
	st, ok := status.FromError(err)
	return ok && retry.IsTransientCode(st.Code())
}

// Access fetches the latest version of secret (a short id or a full
// resource name) from projectID.
func (f *Fetcher) Access(ctx context.Context, projectID, secret string) ([]byte, error) {
	req := Request{SecretID: secret}
	if IsResourceName(secret) {
		req = Request{Resource: secret}
	}
	resource, _, err := req.resolve(projectID)
	if err != nil {
		return nil, err
	}
	return f.access(ctx, resource)
}

func (f *Fetcher) access(ctx context.Context, resource string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, f.policy, f.logger, "access "+resource, func(ctx context.Context) error {
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		if err != nil {
			return err
		}
		data = resp.GetPayload().GetData()
		return nil
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound("secret version %s not found", resource)
		}
		return nil, err
	}
	return data, nil
}

// FetchOptions tunes FetchAll.
type FetchOptions struct {
	// ErrorIfMissing fails the whole call when any secret could not be read.
	ErrorIfMissing bool
}

// Failure records a secret that could not be read.
type Failure struct {
	Key      string
	Resource string
	Err      error
}

// Result maps keys (alias or secret id) to payloads.
type Result struct {
	Values   map[string][]byte
	Failures []Failure
}

// Strings returns the payloads decoded as UTF-8 text.
func (r *Result) Strings() map[string]string {
	out := make(map[string]string, len(r.Values))
	for k, v := range r.Values {
		out[k] = string(v)
	}
	return out
}

// FetchAll resolves every request, then fetches them in order. All requests
// are validated before any secret is read.
func (f *Fetcher) FetchAll(ctx context.Context, defaultProject string, reqs []Request, opts FetchOptions) (*Result, error) {
	if len(reqs) == 0 {
		return nil, domain.ErrValidation("no secrets requested")
	}
	type item struct{ resource, key string }
	items := make([]item, 0, len(reqs))
	for i, r := range reqs {
		resource, key, err := r.resolve(defaultProject)
		if err != nil {
			return nil, fmt.Errorf("request #%d: %w", i+1, err)
		}
		items = append(items, item{resource, key})
	}

	res := &Result{Values: make(map[string][]byte, len(items))}
	for _, it := range items {
		data, err := f.access(ctx, it.resource)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Error("secret fetch failed", "key", it.key, "resource", it.resource, "error", err)
			res.Failures = append(res.Failures, Failure{Key: it.key, Resource: it.resource, Err: err})
			continue
		}
		f.logger.Debug("secret fetched", "key", it.key, "bytes", len(data))
		res.Values[it.key] = data
	}
	f.logger.Info("secrets fetched", "requested", len(items), "ok", len(res.Values), "failed", len(res.Failures))

	if len(res.Failures) > 0 && opts.ErrorIfMissing {
		return res, failureError(res.Failures)
	}
	return res, nil
}

func failureError(failures []Failure) error {
	var b strings.Builder
	b.WriteString("could not fetch some secrets:")
	for _, fl := range failures[:min(len(failures), maxListedFailures)] {
		fmt.Fprintf(&b, "\n- %s <- %s | %v", fl.Key, fl.Resource, fl.Err)
	}
	if extra := len(failures) - maxListedFailures; extra > 0 {
		fmt.Fprintf(&b, "\n(+%d more)", extra)
	}
	return fmt.Errorf("%s", b.String())
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"dpm/internal/config"
	"dpm/internal/domain"
)

// OAuth scopes used by the toolkit.
const (
	ScopeCloudPlatform = "https://www.googleapis.com/auth/cloud-platform"
	ScopeSpreadsheets  = "https://www.googleapis.com/auth/spreadsheets"
	ScopeDrive         = "https://www.googleapis.com/auth/drive"
	ScopeBigQuery      = "https://www.googleapis.com/auth/bigquery"
)

// Source names where a credential came from.
type Source string

// Credential sources in resolution order.
const (
	SourceSecret       Source = "secret_manager"
	SourceKeyfileColab Source = "keyfile_colab"
	SourceKeyfileLocal Source = "keyfile_local"
	SourceADC          Source = "application_default"
)

// SecretAccessor reads the payload of a Secret Manager secret version.
type SecretAccessor interface {
	Access(ctx context.Context, projectID, secret string) ([]byte, error)
}

// Resolved is a usable credential.
type Resolved struct {
	Options   []option.ClientOption
	Source    Source
	ProjectID string
	// Email is the service account address, empty for ADC.
	Email string
}

// Resolver resolves credentials in the order: Secret Manager secret,
// notebook keyfile, local keyfile, application default credentials.
type Resolver struct {
	secrets     SecretAccessor
	logger      *slog.Logger
	findDefault func(ctx context.Context, scopes ...string) (*google.Credentials, error)
	readFile    func(string) ([]byte, error)
}

// NewResolver creates a Resolver. secrets may be nil when no secret-backed
// credential is expected.
func NewResolver(secrets SecretAccessor, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		secrets:     secrets,
		logger:      logger,
		findDefault: google.FindDefaultCredentials,
		readFile:    os.ReadFile,
	}
}

type serviceAccountKey struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
}

func parseServiceAccount(data []byte) (serviceAccountKey, error) {
	var key serviceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return key, fmt.Errorf("parse service account JSON: %w", err)
	}
	if key.Type != "service_account" || key.ClientEmail == "" {
		return key, fmt.Errorf("not a service account key (type %q)", key.Type)
	}
	return key, nil
}

// Resolve returns the first credential source that works. projectID is the
// project holding the credential secret; it also becomes the resolved
// project when the credential itself carries none.
func (r *Resolver) Resolve(ctx context.Context, projectID string, refs config.Credentials, scopes ...string) (*Resolved, error) {
	if len(scopes) == 0 {
		scopes = []string{ScopeCloudPlatform}
	}
	var failures []error

	if refs.SecretID != "" {
		if r.secrets == nil {
			failures = append(failures, errors.New("secret credential configured but no Secret Manager client"))
		} else if res, err := r.fromSecret(ctx, projectID, refs.SecretID, scopes); err == nil {
			return r.done(res, projectID), nil
		} else {
			failures = append(failures, fmt.Errorf("secret %s: %w", refs.SecretID, err))
		}
	}
	for _, kf := range []struct {
		path   string
		source Source
	}{
		{refs.KeyfileColab, SourceKeyfileColab},
		{refs.KeyfileLocal, SourceKeyfileLocal},
	} {
		if kf.path == "" {
			continue
		}
		res, err := r.fromKeyfile(kf.path, kf.source, scopes)
		if err == nil {
			return r.done(res, projectID), nil
		}
		failures = append(failures, fmt.Errorf("keyfile %s: %w", kf.path, err))
	}

	creds, err := r.findDefault(ctx, scopes...)
	if err == nil {
		return r.done(&Resolved{
			Options:   []option.ClientOption{option.WithCredentials(creds)},
			Source:    SourceADC,
			ProjectID: creds.ProjectID,
		}, projectID), nil
	}
	failures = append(failures, fmt.Errorf("application default credentials: %w", err))
	return nil, domain.ErrAuth(errors.Join(failures...), "no usable Google credential")
}

func (r *Resolver) done(res *Resolved, projectID string) *Resolved {
	if res.ProjectID == "" {
		res.ProjectID = projectID
	}
	r.logger.Debug("google credential resolved", "source", res.Source, "project", res.ProjectID, "email", res.Email)
	return res
}

func (r *Resolver) fromSecret(ctx context.Context, projectID, secret string, scopes []string) (*Resolved, error) {
	data, err := r.secrets.Access(ctx, projectID, secret)
	if err != nil {
		return nil, err
	}
	key, err := parseServiceAccount(data)
	if err != nil {
		return nil, err
	}
	return &Resolved{
		Options: []option.ClientOption{
			option.WithAuthCredentialsJSON(option.ServiceAccount, data),
			option.WithScopes(scopes...),
		},
		Source:    SourceSecret,
		ProjectID: key.ProjectID,
		Email:     key.ClientEmail,
	}, nil
}

func (r *Resolver) fromKeyfile(path string, source Source, scopes []string) (*Resolved, error) {
	data, err := r.readFile(path)
	if err != nil {
		return nil, err
	}
	key, err := parseServiceAccount(data)
	if err != nil {
		return nil, err
	}
	return &Resolved{
		Options: []option.ClientOption{
			option.WithAuthCredentialsFile(option.ServiceAccount, path),
			option.WithScopes(scopes...),
		},
		Source:    source,
		ProjectID: key.ProjectID,
		Email:     key.ClientEmail,
	}, nil
}

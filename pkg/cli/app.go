package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"dpm/internal/auth"
	"dpm/internal/bigquery"
	"dpm/internal/config"
	"dpm/internal/domain"
	"dpm/internal/job"
	"dpm/internal/retry"
	"dpm/internal/secrets"
	"dpm/internal/sheets"
	"dpm/internal/storage"
	"dpm/internal/transfer"
)

// app holds the resolved configuration and the cloud clients, created on
// first use so that purely local commands never need credentials.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	env      auth.Environment
	project  string
	location string
	jobsDir  string

	mu         sync.Mutex
	secrets    *secrets.Fetcher
	gcs        *storage.GCSStore
	bq         *bigquery.Client
	sheets     *sheets.Client
	stores     *storage.Registry
	transferSv *transfer.Service
	closers    []func() error
}

func (a *app) retryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if a.cfg != nil && a.cfg.RetryMaxAttempts > 0 {
		p.MaxAttempts = a.cfg.RetryMaxAttempts
	}
	return p
}

func (a *app) httpClient() *http.Client {
	return &http.Client{Timeout: a.cfg.HTTPTimeout}
}

// close releases every client created during the run.
func (a *app) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Debug("close client", "error", err)
		}
	}
	a.closers = nil
}

// requireProject returns the configured GCP project.
func (a *app) requireProject() (string, error) {
	return auth.ResolveProjectID(a.project, "", a.env, os.Getenv)
}

// secretFetcher returns the Secret Manager client. It authenticates with
// application default credentials because it is what bootstraps the other
// credentials.
func (a *app) secretFetcher(ctx context.Context) (*secrets.Fetcher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.secrets != nil {
		return a.secrets, nil
	}
	f, err := secrets.New(ctx, a.retryPolicy(), a.logger)
	if err != nil {
		return nil, err
	}
	a.secrets = f
	a.closers = append(a.closers, f.Close)
	return f, nil
}

// credentials resolves a Google credential for scopes.
func (a *app) credentials(ctx context.Context, scopes ...string) (*auth.Resolved, error) {
	var accessor auth.SecretAccessor
	if a.cfg.Credentials.SecretID != "" {
		f, err := a.secretFetcher(ctx)
		if err != nil {
			a.logger.Warn("secret manager unavailable, skipping secret credential", "error", err)
		} else {
			accessor = f
		}
	}
	res, err := auth.NewResolver(accessor, a.logger).Resolve(ctx, a.project, a.cfg.Credentials, scopes...)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("google credential resolved", "source", res.Source, "project", res.ProjectID, "email", res.Email)
	return res, nil
}

func (a *app) gcsStore(ctx context.Context) (*storage.GCSStore, error) {
	a.mu.Lock()
	existing := a.gcs
	a.mu.Unlock()
	if existing != nil {
		return existing, nil
	}
	res, err := a.credentials(ctx, auth.ScopeCloudPlatform)
	if err != nil {
		return nil, err
	}
	s, err := storage.NewGCSStore(ctx, res.Options...)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gcs = s
	a.closers = append(a.closers, s.Close)
	return s, nil
}

func (a *app) bigQuery(ctx context.Context) (*bigquery.Client, error) {
	a.mu.Lock()
	existing := a.bq
	a.mu.Unlock()
	if existing != nil {
		return existing, nil
	}
	res, err := a.credentials(ctx, auth.ScopeCloudPlatform, auth.ScopeBigQuery, auth.ScopeDrive)
	if err != nil {
		return nil, err
	}
	project := a.project
	if project == "" {
		project = res.ProjectID
	}
	if project == "" {
		return nil, domain.ErrValidation("no GCP project: pass --project or set GOOGLE_CLOUD_PROJECT")
	}
	c, err := bigquery.NewClient(ctx, project, a.location, a.logger, res.Options...)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bq = c
	a.closers = append(a.closers, c.Close)
	return c, nil
}

func (a *app) sheetsClient(ctx context.Context) (*sheets.Client, error) {
	a.mu.Lock()
	existing := a.sheets
	a.mu.Unlock()
	if existing != nil {
		return existing, nil
	}
	res, err := a.credentials(ctx, auth.ScopeSpreadsheets, auth.ScopeDrive)
	if err != nil {
		return nil, err
	}
	c, err := sheets.NewClient(ctx, a.logger, res.Options...)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sheets = c
	return c, nil
}

// registry returns the object stores: GCS always, S3 and Azure when their
// credentials are configured.
func (a *app) registry() *storage.Registry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stores != nil {
		return a.stores
	}
	reg := storage.NewRegistry()
	reg.Register(storage.SchemeGCS, func(ctx context.Context) (storage.Store, error) {
		s, err := a.gcsStore(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	if a.cfg.HasS3Config() {
		reg.Register(storage.SchemeS3, func(context.Context) (storage.Store, error) {
			s, err := storage.NewS3Store(a.cfg)
			if err != nil {
				return nil, err
			}
			return s, nil
		})
	}
	if a.cfg.HasAzureConfig() {
		reg.Register(storage.SchemeAzure, func(context.Context) (storage.Store, error) {
			s, err := storage.NewAzureStore(a.cfg)
			if err != nil {
				return nil, err
			}
			return s, nil
		})
	}
	a.stores = reg
	return reg
}

func (a *app) transfer() *transfer.Service {
	reg := a.registry()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.transferSv != nil {
		return a.transferSv
	}
	a.transferSv = transfer.NewService(transfer.Config{
		Stores: reg,
		BigQuery: func(ctx context.Context) (transfer.BigQuery, error) {
			c, err := a.bigQuery(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Sheets: func(ctx context.Context) (transfer.Sheets, error) {
			c, err := a.sheetsClient(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Project:  a.project,
		Location: a.location,
		Logger:   a.logger,
	})
	return a.transferSv
}

func (a *app) jobRunner() *job.Runner {
	return job.NewRunner(job.Deps{
		Transfer: a.transfer(),
		Stores:   a.registry(),
		BigQuery: func(ctx context.Context) (job.Warehouse, error) {
			c, err := a.bigQuery(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Project:  a.project,
		Location: a.location,
		Logger:   a.logger,
	})
}

// isAuthError reports whether err is a credential failure.
func isAuthError(err error) bool {
	var ae *domain.AuthError
	return errors.As(err, &ae)
}

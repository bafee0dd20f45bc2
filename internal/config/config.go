// Package config handles environment-driven configuration and .env loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by LoadFromEnv.
const (
	DefaultBQLocation       = "EU"
	DefaultRetryMaxAttempts = 3
	DefaultChunkSize        = 10000
	DefaultSampleSize       = 1000
	DefaultHTTPTimeout      = 60 * time.Second
)

// Credentials points at the places a Google credential may come from. Any
// combination may be set; they are tried in the order secret, notebook
// keyfile, local keyfile, application default credentials.
type Credentials struct {
	KeyfileLocal string // service account JSON on this machine
	KeyfileColab string // service account JSON inside a notebook runtime
	SecretID     string // Secret Manager id or full resource name holding a service account JSON
}

// Any reports whether at least one explicit credential source is configured.
func (c Credentials) Any() bool {
	return c.KeyfileLocal != "" || c.KeyfileColab != "" || c.SecretID != ""
}

// Config holds the toolkit configuration.
type Config struct {
	// Environment is the raw environment identifier (LOCAL, COLAB,
	// COLAB_ENTERPRISE or a GCP project id). Empty means auto-detect.
	Environment string
	ProjectID   string // GOOGLE_CLOUD_PROJECT
	Credentials Credentials
	BQLocation  string

	// S3 fields are optional and nil when not configured.
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string
	S3Bucket   *string

	AzureAccount string
	AzureKey     string

	HubSpotTokenSecret string // Secret Manager id of the HubSpot private-app token

	RetryMaxAttempts int
	ChunkSize        int
	SampleSize       int
	HTTPTimeout      time.Duration
	LogLevel         string // debug, info, warn, error (default "info")

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HasS3Config returns true if the S3 credentials and region are set.
func (c *Config) HasS3Config() bool {
	return c.S3KeyID != nil && c.S3Secret != nil && c.S3Region != nil
}

// HasAzureConfig returns true if an Azure storage account and key are set.
func (c *Config) HasAzureConfig() bool {
	return c.AzureAccount != "" && c.AzureKey != ""
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Environment: os.Getenv("DPM_ENVIRONMENT"),
		ProjectID:   os.Getenv("GOOGLE_CLOUD_PROJECT"),
		Credentials: Credentials{
			KeyfileLocal: os.Getenv("DPM_KEYFILE_LOCAL"),
			KeyfileColab: os.Getenv("DPM_KEYFILE_COLAB"),
			SecretID:     os.Getenv("DPM_KEYFILE_SECRET_ID"),
		},
		BQLocation:         os.Getenv("BQ_LOCATION"),
		AzureAccount:       os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureKey:           os.Getenv("AZURE_STORAGE_KEY"),
		HubSpotTokenSecret: os.Getenv("HUBSPOT_TOKEN_SECRET"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
	}

	// S3 fields are optional and only set when present
	if v := os.Getenv("KEY_ID"); v != "" {
		cfg.S3KeyID = &v
	}
	if v := os.Getenv("SECRET"); v != "" {
		cfg.S3Secret = &v
	}
	if v := os.Getenv("ENDPOINT"); v != "" {
		cfg.S3Endpoint = &v
	}
	if v := os.Getenv("REGION"); v != "" {
		cfg.S3Region = &v
	}
	if v := os.Getenv("BUCKET"); v != "" {
		cfg.S3Bucket = &v
	}

	var err error
	if cfg.RetryMaxAttempts, err = intEnv("RETRY_MAX_ATTEMPTS", DefaultRetryMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.ChunkSize, err = intEnv("DPM_CHUNK_SIZE", DefaultChunkSize); err != nil {
		return nil, err
	}
	if cfg.SampleSize, err = intEnv("DPM_SAMPLE_SIZE", DefaultSampleSize); err != nil {
		return nil, err
	}
	cfg.HTTPTimeout = DefaultHTTPTimeout
	if v := os.Getenv("DPM_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("DPM_HTTP_TIMEOUT: %w", err)
		}
		cfg.HTTPTimeout = d
	}

	// Defaults
	if cfg.BQLocation == "" {
		cfg.BQLocation = DefaultBQLocation
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if (cfg.S3KeyID == nil) != (cfg.S3Secret == nil) {
		cfg.Warnings = append(cfg.Warnings, "only one of KEY_ID and SECRET is set, S3 access is disabled")
	}
	if (cfg.AzureAccount == "") != (cfg.AzureKey == "") {
		cfg.Warnings = append(cfg.Warnings, "only one of AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY is set, Azure access is disabled")
	}
	if cfg.Credentials.KeyfileLocal != "" {
		if _, err := os.Stat(cfg.Credentials.KeyfileLocal); err != nil {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("DPM_KEYFILE_LOCAL %s is not readable: %v", cfg.Credentials.KeyfileLocal, err))
		}
	}

	return cfg, nil
}

func intEnv(key string, defaultVal int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Package hubspot exports CRM contacts through the HubSpot v3 search API.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dpm/internal/domain"
	"dpm/internal/pacer"
	"dpm/internal/retry"
)

// DefaultBaseURL is the public HubSpot API root.
const DefaultBaseURL = "https://api.hubapi.com"

const (
	searchPath  = "/crm/v3/objects/contacts/search"
	contactPath = "/crm/v3/objects/contacts/"
	maxBody     = 32 << 20
)

// Contact is one CRM contact. HubSpot returns every property as a string
// or null.
type Contact struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

// Client talks to the HubSpot CRM API with a private-app token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	pacer   *pacer.Pacer
	policy  retry.Policy
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithPacer replaces the default four-requests-per-second pacer.
func WithPacer(p *pacer.Pacer) Option {
	return func(c *Client) { c.pacer = p }
}

// NewClient creates a Client. Requests are spaced 250ms apart and retried
// five times on 429, 5xx and network errors.
func NewClient(token string, logger *slog.Logger, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrValidation("HubSpot token is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
		pacer:   pacer.Every(250*time.Millisecond, 1),
		policy: retry.Policy{
			MaxAttempts: 5,
			Initial:     1500 * time.Millisecond,
			Max:         30 * time.Second,
			Multiplier:  2,
			Retryable:   retryable,
		},
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func retryable(err error) bool {
	if retry.IsRetryable(err) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// do sends one request, retrying transient failures, and decodes the JSON
// response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	return retry.Do(ctx, c.policy, c.logger, method+" "+path, func(ctx context.Context) error {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, rd)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close() //nolint:errcheck

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return domain.ErrNotFound("HubSpot %s not found", path)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return domain.ErrAuth(retry.NewStatusError(resp, data), "HubSpot rejected the token")
		case resp.StatusCode >= 400:
			se := retry.NewStatusError(resp, data)
			if se.StatusCode == http.StatusTooManyRequests && se.RetryAfter > 0 {
				c.pacer.Pause(se.RetryAfter)
			}
			return se
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// GetContact fetches a single contact with the given properties.
func (c *Client) GetContact(ctx context.Context, id string, properties []string) (*Contact, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrValidation("contact id is empty")
	}
	q := url.Values{}
	if len(properties) > 0 {
		q.Set("properties", strings.Join(properties, ","))
	}
	var contact Contact
	if err := c.do(ctx, http.MethodGet, contactPath+url.PathEscape(id), q, nil, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

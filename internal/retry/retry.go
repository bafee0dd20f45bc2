// Package retry runs operations with bounded, jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	// Retryable overrides IsRetryable when set.
	Retryable func(error) bool
}

// DefaultPolicy retries three times starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Initial: time.Second, Max: 30 * time.Second, Multiplier: 2}
}

// StatusError is an HTTP failure from a plain REST client.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	if body == "" {
		return fmt.Sprintf("http %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("http %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), body)
}

// NewStatusError builds a StatusError from a response, reading the
// Retry-After header (seconds or HTTP date).
func NewStatusError(resp *http.Response, body []byte) *StatusError {
	e := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(v); err == nil {
			e.RetryAfter = time.Until(at)
		}
	}
	return e
}

func retryableHTTP(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// IsRetryable reports whether err is transient: HTTP 429 and 5xx, or the
// gRPC codes Unavailable, DeadlineExceeded, ResourceExhausted and Internal.
// Authentication and permission failures are never retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return retryableHTTP(se.StatusCode)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return retryableHTTP(gerr.Code)
	}
	if st, ok := status.FromError(err); ok {
		return IsTransientCode(st.Code())
	}
	return false
}

// IsTransientCode reports whether a gRPC code is worth retrying.
func IsTransientCode(c codes.Code) bool {
	switch c {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
		return true
	}
	return false
}

// IsUnavailable reports whether err is an HTTP or gRPC 503.
func IsUnavailable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusServiceUnavailable
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusServiceUnavailable
	}
	if st, ok := status.FromError(err); ok {
		return st.Code() == codes.Unavailable
	}
	return false
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// ends, or MaxAttempts is reached. A Retry-After hint on a StatusError takes
// precedence over the computed backoff.
func Do(ctx context.Context, p Policy, logger *slog.Logger, op string, fn func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	bo := gax.Backoff{Initial: p.Initial, Max: p.Max, Multiplier: p.Multiplier}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts || !retryable(err) {
			break
		}
		wait := bo.Pause()
		var se *StatusError
		if errors.As(err, &se) && se.RetryAfter > 0 {
			wait = se.RetryAfter
		}
		logger.Warn("retrying after transient error",
			"op", op, "attempt", attempt, "max_attempts", p.MaxAttempts, "wait", wait, "error", err)
		if serr := gax.Sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%s: %w", op, serr)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "http_429", err: &StatusError{StatusCode: 429}, want: true},
		{name: "http_502", err: &StatusError{StatusCode: 502}, want: true},
		{name: "http_401", err: &StatusError{StatusCode: 401}, want: false},
		{name: "http_403", err: &StatusError{StatusCode: 403}, want: false},
		{name: "googleapi_503", err: &googleapi.Error{Code: 503}, want: true},
		{name: "googleapi_404", err: &googleapi.Error{Code: 404}, want: false},
		{name: "grpc_unavailable", err: status.Error(codes.Unavailable, "down"), want: true},
		{name: "grpc_resource_exhausted", err: status.Error(codes.ResourceExhausted, "quota"), want: true},
		{name: "grpc_not_found", err: status.Error(codes.NotFound, "gone"), want: false},
		{name: "grpc_permission", err: status.Error(codes.PermissionDenied, "no"), want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestDo_RetriesTransient(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastPolicy(4), nil, "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastPolicy(5), nil, "fetch", func(context.Context) error {
		calls++
		return &StatusError{StatusCode: http.StatusForbidden}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "fetch: http 403")
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastPolicy(3), nil, "op", func(context.Context) error {
		calls++
		return status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsUnavailable(err))
}

func TestDo_CustomClassifier(t *testing.T) {
	var calls int
	p := fastPolicy(3)
	p.Retryable = func(err error) bool { return IsUnavailable(err) }
	err := Do(context.Background(), p, nil, "op", func(context.Context) error {
		calls++
		return &googleapi.Error{Code: http.StatusInternalServerError}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{MaxAttempts: 3, Initial: time.Hour, Max: time.Hour, Multiplier: 2}
	err := Do(ctx, p, nil, "op", func(context.Context) error {
		return &StatusError{StatusCode: 500}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewStatusError_RetryAfter(t *testing.T) {
	resp := &http.Response{StatusCode: 429, Header: http.Header{"Retry-After": []string{"7"}}}
	se := NewStatusError(resp, []byte("slow down"))
	assert.Equal(t, 7*time.Second, se.RetryAfter)
	assert.Equal(t, "http 429 Too Many Requests: slow down", se.Error())
}

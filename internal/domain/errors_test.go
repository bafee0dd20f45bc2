package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantValidate bool
		wantNotFound bool
	}{
		{name: "validation", err: ErrValidation("bad %s", "mode"), wantValidate: true},
		{name: "wrapped validation", err: fmt.Errorf("job x: %w", ErrValidation("bad")), wantValidate: true},
		{name: "not found", err: ErrNotFound("table %q", "t"), wantNotFound: true},
		{name: "wrapped not found", err: fmt.Errorf("read: %w", ErrNotFound("gone")), wantNotFound: true},
		{name: "plain", err: errors.New("boom")},
		{name: "nil", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantValidate, IsValidation(tt.err))
			assert.Equal(t, tt.wantNotFound, IsNotFound(tt.err))
		})
	}
}

func TestAuthError(t *testing.T) {
	cause := errors.New("metadata server unreachable")
	err := ErrAuth(cause, "no credentials for project %s", "p1")

	assert.Equal(t, "no credentials for project p1: metadata server unreachable", err.Error())
	require.ErrorIs(t, err, cause)

	var ae *AuthError
	require.ErrorAs(t, fmt.Errorf("bq: %w", err), &ae)
	assert.Equal(t, "no credentials for project p1", ae.Message)

	assert.Equal(t, "no key", ErrAuth(nil, "no key").Error())
}

func TestSchemaMismatchError(t *testing.T) {
	err := &SchemaMismatchError{LeftOnly: []string{"a"}, RightOnly: []string{"b", "c"}}
	assert.Equal(t, "column sets differ: only in initial table [a], only in merge table [b c]", err.Error())
}

func TestNewID(t *testing.T) {
	id := NewID()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, id, NewID())
}

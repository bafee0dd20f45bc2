// Package domain defines the error types shared by every dpm operation.
package domain

import (
	"errors"
	"fmt"
)

// ValidationError indicates an invalid parameter set. It is always raised
// before any IO is performed.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthError indicates that no usable credential source could be resolved.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError indicates a missing object, table, secret or file.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// SchemaMismatchError reports the symmetric difference between two column sets.
type SchemaMismatchError struct {
	LeftOnly  []string
	RightOnly []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("column sets differ: only in initial table %v, only in merge table %v", e.LeftOnly, e.RightOnly)
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrAuth creates an AuthError wrapping the last underlying failure.
func ErrAuth(err error, format string, args ...interface{}) *AuthError {
	return &AuthError{Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err (or any error it wraps) is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err (or any error it wraps) is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

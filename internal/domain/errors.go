// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a uniqueness or concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource already exists or was modified")

// ErrValidation indicates invalid caller input.
var ErrValidation = errors.New("validation failed")

// ErrForbidden indicates the caller is identified but not allowed to proceed.
var ErrForbidden = errors.New("forbidden")

// ErrUnauthorized indicates missing, invalid or expired credentials.
var ErrUnauthorized = errors.New("unauthorized")

// ErrConfiguration indicates a required setting or ambient value is missing.
// It is a defect, not a client error.
var ErrConfiguration = errors.New("configuration error")

// ErrIsolationViolation indicates a record of another tenant reached the
// current tenant scope.
var ErrIsolationViolation = errors.New("tenant isolation violation")

// Error is a categorized error with a message that is safe to show to clients.
type Error struct {
	Kind    error
	Message string
}

// NewError returns an *Error of the given kind.
func NewError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// Validationf builds an ErrValidation error with a formatted client message.
func Validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// PublicMessage returns the client-safe message of err if it carries one.
func PublicMessage(err error) (string, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Message, true
	}
	return "", false
}

// IsolationViolation reports a loaded record whose tenant differs from the
// ambient tenant.
type IsolationViolation struct {
	Table    string
	Expected string
	Actual   string
}

func (e *IsolationViolation) Error() string {
	return fmt.Sprintf("tenant isolation violation on %s: expected tenant %s, got %s", e.Table, e.Expected, e.Actual)
}

func (e *IsolationViolation) Unwrap() error { return ErrIsolationViolation }

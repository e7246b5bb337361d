// Package apperror defines the error taxonomy shared by every layer.
//
// Services build errors close to where the failure is detected and wrap them
// with context as they travel up. The HTTP layer only ever asks
// errors.Is(err, apperror.ErrX) to pick a status code, so the concrete
// wrapping chain never matters to it.
//
//	ErrValidation   → 400   malformed input, weak password, dead link token
//	ErrUnauthorized → 401   any authentication failure, one uniform message
//	ErrForbidden    → 403   authenticated but not allowed, or feature disabled
//	ErrNotFound     → 404   no user or object under that key
//	ErrConflict     → 409   email already registered
//	ErrUpstream     → 502   OAuth provider, object storage, cache, mail broker
//	anything else   → 500
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream error")
)

// AppError pairs a sentinel with a message that is safe to show a client.
// Field names the offending input for validation errors.
type AppError struct {
	Err     error
	Message string
	Field   string
}

func (e *AppError) Error() string { return e.Message }

func (e *AppError) Unwrap() error { return e.Err }

func newError(kind error, format string, args ...any) *AppError {
	return &AppError{Err: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing resource, e.g. NotFound("image", "beach.jpg").
func NotFound(resource, key string) *AppError {
	return newError(ErrNotFound, "%s %q does not exist", resource, key)
}

func ValidationFailed(field, message string) *AppError {
	e := newError(ErrValidation, "%s", message)
	e.Field = field
	return e
}

// Conflict reports a uniqueness violation, e.g. Conflict("user", email).
func Conflict(resource, key string) *AppError {
	return newError(ErrConflict, "%s %q already exists", resource, key)
}

func Forbidden(message string) *AppError {
	return newError(ErrForbidden, "%s", message)
}

// Unauthorized is returned for every authentication failure. The message is
// the same whatever the root cause was.
func Unauthorized() *AppError {
	return newError(ErrUnauthorized, "valid authentication required")
}

// Upstream wraps a collaborator failure. The cause stays reachable through
// errors.Is and the logs; Message never mentions it.
func Upstream(service string, cause error) *AppError {
	e := newError(ErrUpstream, "%s is currently unavailable", service)
	e.Err = fmt.Errorf("%w: %s: %w", ErrUpstream, service, cause)
	return e
}

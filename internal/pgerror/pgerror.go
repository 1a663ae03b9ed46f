// Package pgerror decorates errors with the PostgreSQL wire protocol fields
// (SQLSTATE, detail, hint, constraint name) that internal/conn needs to build
// an ErrorResponse without every layer importing pgproto3 directly.
package pgerror

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
)

// Error wraps a cause with the fields an ErrorResponse message carries.
type Error struct {
	cause      error
	Code       string // SQLSTATE, e.g. pgerrcode.SyntaxError
	Detail     string
	Hint       string
	Constraint string
	// Fatal marks errors that must close the connection once reported,
	// distinct from a query-level error that only aborts the current
	// statement/transaction.
	Fatal bool
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Code
	}
	return e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a SQLSTATE-coded error from a message.
func New(code, msg string) *Error {
	return &Error{cause: errors.New(msg), Code: code}
}

// Newf builds a SQLSTATE-coded error from a format string.
func Newf(code, format string, args ...any) *Error {
	return &Error{cause: fmt.Errorf(format, args...), Code: code}
}

// WithCode decorates an existing error with a SQLSTATE, preserving it as the
// cause so errors.Is/errors.As keep working.
func WithCode(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		clone := *pe
		clone.Code = code
		return &clone
	}
	return &Error{cause: err, Code: code}
}

// Fatal marks the error as connection-terminating.
func (e *Error) AsFatal() *Error {
	clone := *e
	clone.Fatal = true
	return &clone
}

// WithDetail/WithHint/WithConstraint return a copy annotated with the extra
// ErrorResponse fields spec.md §4.1 allows (D, H, and the constraint name
// used for unique-violation style errors).
func (e *Error) WithDetail(detail string) *Error {
	clone := *e
	clone.Detail = detail
	return &clone
}

func (e *Error) WithHint(hint string) *Error {
	clone := *e
	clone.Hint = hint
	return &clone
}

func (e *Error) WithConstraint(name string) *Error {
	clone := *e
	clone.Constraint = name
	return &clone
}

// Code extracts the SQLSTATE from err, defaulting to the generic internal
// error code when err carries none (or is nil, a caller bug, reported as
// InternalError rather than panicking).
func Code(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return pgerrcode.InternalError
}

// IsFatal reports whether err should terminate the connection after being
// reported, per spec.md §7's Protocol fatal / Authentication taxonomies.
func IsFatal(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Fatal
	}
	return false
}

// Common taxonomy constructors, spec.md §7.
func Syntax(format string, args ...any) *Error {
	return Newf(pgerrcode.SyntaxErrorOrAccessRuleViolation, format, args...)
}

func Unsupported(format string, args ...any) *Error {
	return Newf(pgerrcode.FeatureNotSupported, format, args...)
}

func Connection(format string, args ...any) *Error {
	return Newf(pgerrcode.ConnectionException, format, args...)
}

func Canceled(format string, args ...any) *Error {
	return Newf(pgerrcode.QueryCanceled, format, args...)
}

func Auth(format string, args ...any) *Error {
	return Newf(pgerrcode.InvalidAuthorizationSpecification, format, args...).AsFatal()
}

func InvalidPassword(format string, args ...any) *Error {
	return Newf(pgerrcode.InvalidPassword, format, args...).AsFatal()
}

// Package domainerrors defines coded errors that cross the service boundary.
// Stores return sentinel errors; services translate them into these so the
// transport layer can map codes to HTTP statuses without inspecting internals.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the class of failure. Codes are wire-visible (they appear
// in the "error" field of JSON error responses) so they are snake_case.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal_error"
)

// Error carries a code plus a human-readable description. The description of
// internal errors is never written to clients.
type Error struct {
	Code        Code
	Description string
	cause       error
}

// New constructs a coded error.
func New(code Code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Newf constructs a coded error with a formatted description.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a coded error so operators keep the full chain
// while clients only see the code and description.
func Wrap(code Code, description string, cause error) *Error {
	return &Error{Code: code, Description: description, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.cause }

// CodeOf extracts the code from an error chain, defaulting to CodeInternal
// for anything that is not a coded error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// DescriptionOf extracts the client-facing description from an error chain.
func DescriptionOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Description
	}
	return ""
}

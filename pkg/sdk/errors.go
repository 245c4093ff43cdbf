package sdk

import (
	"errors"
	"fmt"
)

// NotFoundError reports that a flag does not exist on the server.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("flag %q not found", e.Key)
}

// IsNotFound reports whether err is a missing-flag error.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// APIError is a non-2xx response from the service. Code carries the wire
// error code ("conflict", "bad_request", ...) when the body was parseable.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d (%s)", e.StatusCode, e.Code)
}

// TransportError wraps a failure to reach the service at all. These are the
// only errors the client retries.
type TransportError struct {
	cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.cause) }
func (e *TransportError) Unwrap() error { return e.cause }

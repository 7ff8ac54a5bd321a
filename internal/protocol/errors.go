package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInfo is returned when a device info response does not match
	// the fixed 27-byte layout. There is no partial result.
	ErrMalformedInfo = errors.New("malformed device info response")

	// ErrMalformedHealth is returned when a health response does not match
	// the fixed 10-byte layout.
	ErrMalformedHealth = errors.New("malformed device health response")
)

// ResponseError describes why a fixed-size response was rejected. It wraps
// one of the sentinel errors above so callers can use errors.Is.
type ResponseError struct {
	Kind   error
	Reason string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

func (e *ResponseError) Unwrap() error { return e.Kind }

func malformed(kind error, format string, args ...any) error {
	return &ResponseError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

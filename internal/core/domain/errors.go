package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents the category of an orchestration error.
type ErrorKind string

const (
	// KindConfiguration indicates the deployment is misconfigured.
	KindConfiguration ErrorKind = "configuration"

	// KindPolicyDenied indicates the request itself is disallowed.
	KindPolicyDenied ErrorKind = "policy_denied"

	// KindProvider wraps any unexpected failure from a pipeline or backend.
	KindProvider ErrorKind = "provider"

	// KindTimeout is reserved for deadline enforcement.
	KindTimeout ErrorKind = "timeout"

	// KindInvalidRequest indicates a malformed request.
	KindInvalidRequest ErrorKind = "invalid_request"
)

// Error is the typed error surfaced to callers.
type Error struct {
	Kind    ErrorKind
	Message string

	// Cause is the wrapped original error, if any.
	Cause error

	// StatusCode is the upstream HTTP status when the error came from a backend.
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode returns the status a transport should report for this error.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindPolicyDenied:
		return http.StatusForbidden
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WithCause attaches the original error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithStatusCode records an upstream status code.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// NewError creates a new error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// ErrConfiguration creates a configuration error.
func ErrConfiguration(format string, args ...any) *Error {
	return NewError(KindConfiguration, fmt.Sprintf(format, args...))
}

// ErrPolicyDenied creates a policy error.
func ErrPolicyDenied(format string, args ...any) *Error {
	return NewError(KindPolicyDenied, fmt.Sprintf(format, args...))
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(format string, args ...any) *Error {
	return NewError(KindInvalidRequest, fmt.Sprintf(format, args...))
}

// ErrProvider wraps cause as a provider error.
func ErrProvider(cause error) *Error {
	return &Error{Kind: KindProvider, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsKnown reports whether err is already a typed orchestration error that
// must be surfaced unchanged.
func IsKnown(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// ErrorType returns the name used in call logs and error events.
func ErrorType(err error) string {
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return fmt.Sprintf("%T", err)
}

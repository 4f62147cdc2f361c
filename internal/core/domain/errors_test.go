package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "kind and message",
			err:      ErrConfiguration("no model registered for %q", "x"),
			expected: `configuration: no model registered for "x"`,
		},
		{
			name:     "wrapped cause only",
			err:      ErrProvider(errors.New("boom")),
			expected: "provider: boom",
		},
		{
			name:     "message and cause",
			err:      NewError(KindTimeout, "deadline").WithCause(errors.New("slow")),
			expected: "timeout: deadline: slow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected int
	}{
		{"invalid request", ErrInvalidRequest("bad"), http.StatusBadRequest},
		{"policy denied", ErrPolicyDenied("no"), http.StatusForbidden},
		{"provider", ErrProvider(errors.New("x")), http.StatusBadGateway},
		{"configuration", ErrConfiguration("x"), http.StatusInternalServerError},
		{"explicit status", ErrProvider(errors.New("x")).WithStatusCode(429), 429},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	cause := errors.New("root")
	wrapped := fmt.Errorf("pipeline: %w", ErrPolicyDenied("streaming not supported"))

	if got := KindOf(wrapped); got != KindPolicyDenied {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindPolicyDenied)
	}
	if got := KindOf(cause); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
	if !IsKnown(wrapped) || IsKnown(cause) {
		t.Error("IsKnown misclassified errors")
	}
	if IsKind(nil, KindProvider) {
		t.Error("IsKind(nil) should be false")
	}

	perr := ErrProvider(cause)
	if !errors.Is(perr, cause) {
		t.Error("provider error should unwrap to its cause")
	}
}

func TestErrorType(t *testing.T) {
	if got := ErrorType(ErrConfiguration("x")); got != "configuration" {
		t.Errorf("ErrorType(configuration) = %q", got)
	}
	if got := ErrorType(errors.New("x")); got != "*errors.errorString" {
		t.Errorf("ErrorType(plain) = %q", got)
	}
}

package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/hooks"
)

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
}

var retryableFragments = []string{"429", "rate limit", "timeout", "500", "502", "503"}

// Retryable reports whether err is a transient backend failure worth another
// attempt. Configuration, policy and hook veto errors never are. An explicit
// upstream status code decides on its own; otherwise timeouts and messages
// that look like rate limits or gateway errors are retried.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || hooks.IsDenied(err) {
		return false
	}
	switch domain.KindOf(err) {
	case domain.KindConfiguration, domain.KindPolicyDenied, domain.KindInvalidRequest:
		return false
	}

	if code, ok := statusCode(err); ok {
		return retryableStatus[code]
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range retryableFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// statusCode returns an upstream status carried by err. A domain error only
// counts when the status was set explicitly.
func statusCode(err error) (int, bool) {
	var de *domain.Error
	if errors.As(err, &de) && de.StatusCode != 0 {
		return de.StatusCode, true
	}
	var sc interface{ HTTPStatusCode() int }
	if errors.As(err, &sc) {
		if _, isDomain := sc.(*domain.Error); !isDomain {
			if code := sc.HTTPStatusCode(); code != 0 {
				return code, true
			}
		}
	}
	return 0, false
}

// StreamError is an in-band error event lifted back into an error value.
type StreamError struct {
	Message    string
	Type       string
	StatusCode int
}

func (e *StreamError) Error() string { return e.Message }

func (e *StreamError) HTTPStatusCode() int { return e.StatusCode }

// ErrorFromEvent converts an error event into a StreamError.
func ErrorFromEvent(ev domain.StreamEvent) *StreamError {
	e := &StreamError{}
	e.Message, _ = ev.Data["message"].(string)
	if e.Message == "" {
		e.Message = "stream error"
	}
	e.Type, _ = ev.Data["error_type"].(string)
	switch code := ev.Data["status_code"].(type) {
	case int:
		e.StatusCode = code
	case float64:
		e.StatusCode = int(code)
	}
	return e
}

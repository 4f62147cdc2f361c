// Package tokens counts tokens and prices calls when a provider omits usage.
package tokens

import (
	"strings"
)

// Counter counts tokens in plain text for a model.
type Counter interface {
	CountText(model, text string) (int, error)
	SupportsModel(model string) bool
}

// Registry picks the first counter supporting a model, falling back to the
// character estimator.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry creates a registry with only the estimator fallback.
func NewRegistry() *Registry {
	return &Registry{fallback: NewEstimator()}
}

// NewDefaultRegistry creates a registry that uses tiktoken for every model.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewTiktokenCounter())
	return r
}

// Register adds a counter. Earlier counters take precedence.
func (r *Registry) Register(c Counter) {
	r.counters = append(r.counters, c)
}

// SetFallback replaces the fallback counter.
func (r *Registry) SetFallback(c Counter) {
	r.fallback = c
}

// GetCounter returns the counter used for model.
func (r *Registry) GetCounter(model string) Counter {
	for _, c := range r.counters {
		if c.SupportsModel(model) {
			return c
		}
	}
	return r.fallback
}

// CountText counts with the model's counter, and with the fallback when
// that counter fails.
func (r *Registry) CountText(model, text string) int {
	if text == "" {
		return 0
	}
	if n, err := r.GetCounter(model).CountText(model, text); err == nil {
		return n
	}
	if r.fallback != nil {
		n, _ := r.fallback.CountText(model, text)
		return n
	}
	return 0
}

// Estimator approximates token counts from character length.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4).
	CharsPerToken float64
}

// NewEstimator creates an estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// CountText estimates the token count of text.
func (e *Estimator) CountText(model, text string) (int, error) {
	return int(float64(len(text)) / e.CharsPerToken), nil
}

// SupportsModel returns true for every model.
func (e *Estimator) SupportsModel(model string) bool {
	return true
}

// ModelMatcher matches model names against prefixes and exact names.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{prefixes: prefixes, exact: exact}
}

// Matches reports whether model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

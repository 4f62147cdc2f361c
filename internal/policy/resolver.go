// Package policy decides which model a request may use.
package policy

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/tjfontaine/polyglot-orchestrator/internal/config"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
)

// Resolver enforces the model allow-list.
type Resolver struct {
	allowed      []string
	defaultModel string
}

// NewResolver normalizes the allow-list: names are trimmed and empty
// entries dropped, order is kept.
func NewResolver(allowed []string, defaultModel string) *Resolver {
	r := &Resolver{defaultModel: strings.TrimSpace(defaultModel)}
	for _, name := range allowed {
		if name = strings.TrimSpace(name); name != "" {
			r.allowed = append(r.allowed, name)
		}
	}
	return r
}

// FromConfig builds a resolver from the policy section.
func FromConfig(cfg config.PolicyConfig) *Resolver {
	return NewResolver(cfg.AllowedModels, cfg.DefaultModel)
}

// Allowed returns a copy of the allow-list.
func (r *Resolver) Allowed() []string {
	return slices.Clone(r.allowed)
}

// Resolve returns the model a request runs against. An empty allow-list is
// a configuration error. A requested model must be allowed. With no model
// requested the default is used when it is allowed, otherwise the first
// allowed model.
func (r *Resolver) Resolve(requested string) (string, error) {
	if len(r.allowed) == 0 {
		return "", domain.ErrConfiguration("no allowed models configured; set policy.allowed_models")
	}

	requested = strings.TrimSpace(requested)
	if requested != "" {
		if !slices.Contains(r.allowed, requested) {
			return "", domain.ErrPolicyDenied("model %q is not allowed; allowed models: %s", requested, r.allowedList())
		}
		return requested, nil
	}

	if r.defaultModel != "" && slices.Contains(r.allowed, r.defaultModel) {
		return r.defaultModel, nil
	}
	return r.allowed[0], nil
}

// Default returns the model used when a request names none, or "" when
// nothing is allowed.
func (r *Resolver) Default() string {
	m, _ := r.Resolve("")
	return m
}

func (r *Resolver) allowedList() string {
	data, _ := json.Marshal(r.allowed)
	return string(data)
}

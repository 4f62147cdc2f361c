package tool

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
)

// AddNumber adds two numbers. It exists to exercise the tool loop end to end.
type AddNumber struct{}

func (AddNumber) Name() string { return "add_number" }

func (AddNumber) Description() string { return "Add two numbers and return the sum." }

func (AddNumber) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number", "description": "First number"},
			"b": map[string]any{"type": "number", "description": "Second number"},
		},
		"required": []any{"a", "b"},
	}
}

func (AddNumber) Run(ctx context.Context, args map[string]any, rc *domain.RunContext) (map[string]any, error) {
	a, okA := toFloat(args["a"])
	b, okB := toFloat(args["b"])
	if !okA || !okB {
		return nil, errors.New("add_number requires 'a' and 'b' arguments")
	}
	return map[string]any{"result": a + b}, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

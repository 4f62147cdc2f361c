package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
)

// Schema wraps a tool in the function-calling format models expect.
func Schema(t ports.Tool) domain.ToolSchema {
	return domain.ToolSchema{
		Type: "function",
		Function: domain.FunctionDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

const schemaURL = "parameters.json"

var printer = message.NewPrinter(language.English)

// Validator checks tool-call arguments against a tool's compiled parameter
// schema. The zero Validator accepts any arguments.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile compiles a JSON-schema parameter object. A nil schema yields a
// Validator that accepts anything.
func Compile(params map[string]any) (*Validator, error) {
	if params == nil {
		return &Validator{}, nil
	}
	doc, err := toJSONValue(params)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: sch}, nil
}

// CompileTool compiles t's parameter schema.
func CompileTool(t ports.Tool) (*Validator, error) {
	v, err := Compile(t.Parameters())
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", t.Name(), err)
	}
	return v, nil
}

// Validate reports the first schema violation in args, naming the offending
// location.
func (v *Validator) Validate(args map[string]any) error {
	if v == nil || v.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	inst, err := toJSONValue(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	err = v.schema.Validate(inst)
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return fmt.Errorf("invalid arguments at /%s: %s",
		strings.Join(verr.InstanceLocation, "/"),
		verr.ErrorKind.LocalizedString(printer))
}

// toJSONValue round-trips v through JSON so the validator sees only the
// types a decoder produces ([]any, map[string]any, json.Number).
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}

package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/agentwave/pkg/schema"
)

const planSchemaURL = "https://agentwave.dev/schemas/plan.json"

// planSchemaJSON is the JSON Schema for PlanDefinition documents.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://agentwave.dev/schemas/plan.json",
  "type": "object",
  "required": ["name", "nodes"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "mode": { "type": "string", "enum": ["partial", "fail_fast"] },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "waves": {
      "type": "array",
      "items": {
        "type": "array",
        "minItems": 1,
        "items": { "type": "string" }
      }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "agent"],
      "properties": {
        "id": { "type": "string", "pattern": "^[A-Za-z0-9_.-]+$" },
        "agent": { "type": "string", "minLength": 1 },
        "input": { "$ref": "#/$defs/input" },
        "depends_on": {
          "type": "array",
          "items": { "type": "string" }
        },
        "threshold": { "type": "number", "minimum": 0, "maximum": 1 }
      },
      "additionalProperties": false
    },
    "input": {
      "type": "object",
      "properties": {
        "type": { "type": "string" },
        "content": { "type": "string" },
        "params": { "type": "object" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks plan structure against JSON Schema Draft
// 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	planSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the embedded plan schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal plan schema: %w", err)
	}
	if err := c.AddResource(planSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add plan schema resource: %w", err)
	}
	compiled, err := c.Compile(planSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}
	return &JSONSchemaValidator{planSchema: compiled}, nil
}

// ValidateDefinition validates def's shape. Cross-references are left to
// the semantic stage.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.PlanDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "plan definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize plan definition").WithCause(err)
	}
	if err := v.planSchema.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// ValidateDocument validates an already-decoded JSON document, e.g. one
// read from disk before it is bound to PlanDefinition.
func (v *JSONSchemaValidator) ValidateDocument(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "plan is not valid JSON").WithCause(err)
	}
	if err := v.planSchema.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// toJSONValue round-trips v through encoding/json so numbers become
// json.Number as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toSchemaError flattens a jsonschema.ValidationError into one
// VALIDATION_ERROR listing every leaf violation.
func toSchemaError(err error) *schema.Error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}

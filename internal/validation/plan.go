package validation

import "github.com/rendis/agentwave/pkg/schema"

// PlanValidator runs the three validation stages:
//  1. structural (JSON Schema)
//  2. semantic (IDs, agents, references, wave layout)
//  3. graph (cycles)
type PlanValidator struct {
	jsonSchema *JSONSchemaValidator
	agents     AgentLookup
}

// NewPlanValidator creates a PlanValidator. lookup may be nil to skip the
// agent registration check.
func NewPlanValidator(lookup AgentLookup) (*PlanValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &PlanValidator{jsonSchema: jsv, agents: lookup}, nil
}

// Validate returns every issue found. Structural errors short-circuit the
// later stages.
func (pv *PlanValidator) Validate(def *schema.PlanDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "plan definition is nil")
		return r
	}

	result := validateStructural(pv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, pv.agents))
	if result.Valid() {
		result.Merge(validateDAG(def))
	}
	return result
}

// ValidateDefinition satisfies Validator.
func (pv *PlanValidator) ValidateDefinition(def *schema.PlanDefinition) error {
	return pv.Validate(def).ToError()
}

func validateStructural(v *JSONSchemaValidator, def *schema.PlanDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	wErr, ok := err.(*schema.Error)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := wErr.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, wErr.Message)
	return result
}

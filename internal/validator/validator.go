// Package validator provides JSON schema validation for run submissions and step plans.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalid is wrapped by ValidationResult.Err.
var ErrInvalid = errors.New("validation failed")

// Validator validates run submissions and step plans.
type Validator struct {
	submissionSchema *jsonschema.Schema
	planSchema       *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err returns nil for a valid result, otherwise an error wrapping ErrInvalid
// that lists every failure.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		path := e.Path
		if path == "" {
			path = "/"
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", path, e.Message))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// New creates a new validator with embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("submission.json", strings.NewReader(submissionSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add submission schema: %w", err)
	}
	if err := compiler.AddResource("stepplan.json", strings.NewReader(planSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add plan schema: %w", err)
	}

	submissionSchema, err := compiler.Compile("submission.json")
	if err != nil {
		return nil, fmt.Errorf("compile submission schema: %w", err)
	}
	planSchema, err := compiler.Compile("stepplan.json")
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	return &Validator{
		submissionSchema: submissionSchema,
		planSchema:       planSchema,
	}, nil
}

// ValidateSubmissionJSON validates a JSON-encoded run submission.
func (v *Validator) ValidateSubmissionJSON(data []byte) *ValidationResult {
	doc, res := decode(data)
	if res != nil {
		return res
	}
	return v.validate(v.submissionSchema, doc)
}

// ValidatePlan validates a step plan. Any value that encodes to JSON is accepted;
// typed plans are round-tripped into their generic form first.
func (v *Validator) ValidatePlan(plan interface{}) *ValidationResult {
	data, err := json.Marshal(plan)
	if err != nil {
		return invalid("$", fmt.Sprintf("unencodable plan: %v", err))
	}
	return v.ValidatePlanJSON(data)
}

// ValidatePlanJSON validates a JSON-encoded step plan.
func (v *Validator) ValidatePlanJSON(data []byte) *ValidationResult {
	doc, res := decode(data)
	if res != nil {
		return res
	}
	return v.validate(v.planSchema, doc)
}

func decode(data []byte) (interface{}, *ValidationResult) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, invalid("$", fmt.Sprintf("invalid JSON: %v", err))
	}
	return doc, nil
}

func invalid(path, msg string) *ValidationResult {
	return &ValidationResult{
		Valid:  false,
		Errors: []ValidationError{{Path: path, Message: msg}},
	}
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data interface{}) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}

	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		result.Errors = extractErrors(verr)
	}
	if len(result.Errors) == 0 {
		result.Errors = []ValidationError{{Path: "$", Message: err.Error()}}
	}

	return result
}

// extractErrors recursively extracts validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	var errs []ValidationError

	if verr.Message != "" && len(verr.Causes) == 0 {
		errs = append(errs, ValidationError{
			Path:    verr.InstanceLocation,
			Message: verr.Message,
		})
	}

	for _, cause := range verr.Causes {
		errs = append(errs, extractErrors(cause)...)
	}

	return errs
}

// Embedded JSON schemas

const submissionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "submission.json",
  "title": "Run Submission",
  "type": "object",
  "required": ["flow"],
  "properties": {
    "flow": {
      "type": "object",
      "required": ["nodes"],
      "properties": {
        "nodes": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "label": {"type": "string"},
              "data": {
                "type": "object",
                "properties": {
                  "label": {"type": "string"}
                }
              }
            }
          }
        },
        "edges": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "required": ["source", "target"],
            "properties": {
              "source": {"type": "string"},
              "target": {"type": "string"}
            }
          }
        }
      }
    },
    "params": {
      "type": ["object", "null"],
      "description": "Per-kind payloads keyed by params key"
    }
  }
}`

const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "stepplan.json",
  "title": "Step Plan",
  "type": "object",
  "required": ["version", "steps"],
  "properties": {
    "version": {"const": 1},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "name", "script", "args"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "script": {"type": "string", "minLength": 1},
          "interpreter": {"type": "string"},
          "args": {
            "type": ["array", "null"],
            "items": {"type": "string"}
          }
        }
      }
    }
  }
}`

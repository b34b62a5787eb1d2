// Package planfile reads and writes Step Plan documents.
//
// A plan file is YAML:
//
//	version: 1
//	steps:
//	  - id: A
//	    name: CollectInstances
//	    script: /opt/pipeline/scripts/collect_instances.py
//	    interpreter: python3
//	    args: []
package planfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/validator"
	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// ErrInvalidPlan is returned for plan files that cannot be parsed or fail validation.
var ErrInvalidPlan = errors.New("invalid step plan")

// Pattern is the os.CreateTemp pattern for plan files.
const Pattern = "plan-*.yaml"

// Marshal encodes a plan as YAML. Args are always written, as [] when empty.
func Marshal(plan *types.StepPlan) ([]byte, error) {
	out := *plan
	out.Steps = make([]types.Step, len(plan.Steps))
	for i, s := range plan.Steps {
		if s.Args == nil {
			s.Args = []string{}
		}
		out.Steps[i] = s
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return buf.Bytes(), nil
}

// Write persists plan to a new uniquely named file in dir and returns its path.
// The file is left in place after the run.
func Write(dir string, plan *types.StepPlan) (string, error) {
	data, err := Marshal(plan)
	if err != nil {
		return "", err
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create plan dir: %w", err)
		}
	}

	f, err := os.CreateTemp(dir, Pattern)
	if err != nil {
		return "", fmt.Errorf("create plan file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write plan file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close plan file: %w", err)
	}
	return f.Name(), nil
}

// Parse decodes and validates a plan document. A nil validator skips schema checks.
func Parse(data []byte, v *validator.Validator) (*types.StepPlan, error) {
	var plan types.StepPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	if v != nil {
		if err := v.ValidatePlan(&plan).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
		}
	} else if err := check(&plan); err != nil {
		return nil, err
	}

	for i := range plan.Steps {
		if plan.Steps[i].Args == nil {
			plan.Steps[i].Args = []string{}
		}
	}
	return &plan, nil
}

// Load reads and validates the plan file at path.
func Load(path string, v *validator.Validator) (*types.StepPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return Parse(data, v)
}

func check(plan *types.StepPlan) error {
	if plan.Version != types.PlanVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidPlan, plan.Version)
	}
	if len(plan.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidPlan)
	}
	for i, s := range plan.Steps {
		if s.ID == "" || s.Script == "" {
			return fmt.Errorf("%w: step %d needs id and script", ErrInvalidPlan, i)
		}
	}
	return nil
}

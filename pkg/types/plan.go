package types

// PlanVersion is the only Step Plan document version understood by the runner.
const PlanVersion = 1

// StepPlan is the compiled, ordered list of steps for one run.
type StepPlan struct {
	Version int    `json:"version" yaml:"version"`
	Steps   []Step `json:"steps" yaml:"steps"`
}

// Step is one executable unit of a plan.
type Step struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Script      string   `json:"script" yaml:"script"`
	Interpreter string   `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	Args        []string `json:"args" yaml:"args"`
}

// Command returns the argv the runner executes for the step.
func (s Step) Command() []string {
	cmd := make([]string, 0, len(s.Args)+2)
	if s.Interpreter != "" {
		cmd = append(cmd, s.Interpreter)
	}
	cmd = append(cmd, s.Script)
	return append(cmd, s.Args...)
}

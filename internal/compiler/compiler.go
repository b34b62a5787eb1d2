// Package compiler turns a flow graph and its parameters into a linear step plan.
package compiler

import (
	"fmt"
	"strings"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/steps"
	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// Policy decides how non-linear graphs are linearized.
type Policy string

const (
	// PolicyWalk follows the first outgoing edge from the first root and
	// reports every node left off the path.
	PolicyWalk Policy = "walk"

	// PolicyFlatten orders every node topologically, ties broken by input order.
	PolicyFlatten Policy = "flatten"

	// PolicyStrict accepts linear graphs only.
	PolicyStrict Policy = "strict"
)

// DefaultPolicy is used when no policy is configured.
const DefaultPolicy = PolicyFlatten

// ParsePolicy validates a configured policy name. Empty selects DefaultPolicy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultPolicy, nil
	case PolicyWalk, PolicyFlatten, PolicyStrict:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// KindLookup resolves a node label to a step kind.
type KindLookup interface {
	Lookup(name string) (*steps.Kind, bool)
}

// SkippedNode is a node dropped because its label names no known step kind.
type SkippedNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Result is a compiled plan plus everything the compiler left out of it.
type Result struct {
	Plan      *types.StepPlan
	Shape     Shape
	Skipped   []SkippedNode
	Unreached []string
	Ignored   []types.FlowEdge
}

// Compiler compiles flow graphs against a step registry.
type Compiler struct {
	kinds  KindLookup
	policy Policy
}

// New creates a compiler. An empty policy selects DefaultPolicy.
func New(kinds KindLookup, policy Policy) *Compiler {
	if policy == "" {
		policy = DefaultPolicy
	}
	return &Compiler{kinds: kinds, policy: policy}
}

// Policy returns the compiler's graph policy.
func (c *Compiler) Policy() Policy {
	return c.policy
}

// Compile linearizes fg and resolves each node into a step.
func (c *Compiler) Compile(fg types.FlowGraph, params types.Params) (*Result, error) {
	g, err := buildGraph(fg)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Shape:   g.classify(),
		Ignored: g.ignored,
	}

	order, err := c.linearize(g, res)
	if err != nil {
		return nil, err
	}

	plan := &types.StepPlan{Version: types.PlanVersion, Steps: []types.Step{}}
	for _, i := range order {
		node := g.nodes[i]
		label := node.Kind()
		kind, ok := c.kinds.Lookup(label)
		if !ok {
			res.Skipped = append(res.Skipped, SkippedNode{ID: node.ID, Label: label})
			continue
		}
		plan.Steps = append(plan.Steps, types.Step{
			ID:          node.ID,
			Name:        kind.Name,
			Script:      normalizeScript(kind.Script),
			Interpreter: kind.Interpreter,
			Args:        kind.BuildArgs(params),
		})
	}

	if len(plan.Steps) == 0 {
		return nil, ErrEmptyPlan
	}
	res.Plan = plan
	return res, nil
}

func (c *Compiler) linearize(g *graph, res *Result) ([]int, error) {
	switch c.policy {
	case PolicyWalk:
		path := g.walk()
		onPath := make(map[int]bool, len(path))
		for _, i := range path {
			onPath[i] = true
		}
		for i, n := range g.nodes {
			if !onPath[i] {
				res.Unreached = append(res.Unreached, n.ID)
			}
		}
		return path, nil

	case PolicyStrict:
		if res.Shape != ShapeLinear {
			return nil, &GraphError{Shape: res.Shape, Err: ErrNonLinearGraph}
		}
		order, _ := g.topoOrder()
		return order, nil

	default:
		order, ok := g.topoOrder()
		if !ok {
			return nil, &GraphError{Shape: ShapeCyclic, Err: ErrCyclicGraph}
		}
		return order, nil
	}
}

// normalizeScript renders the path with forward slashes regardless of how it was configured.
func normalizeScript(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

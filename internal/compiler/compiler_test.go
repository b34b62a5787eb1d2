package compiler

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/steps"
	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

func testRegistry(t *testing.T) *steps.Registry {
	t.Helper()
	reg, err := steps.DefaultRegistry(`C:\pipeline\scripts`, "")
	if err != nil {
		t.Fatalf("DefaultRegistry failed: %v", err)
	}
	return reg
}

// flow builds a graph from id:label pairs plus edges given as "a>b".
func flow(nodes [][2]string, edges ...string) types.FlowGraph {
	fg := types.FlowGraph{}
	for _, n := range nodes {
		fg.Nodes = append(fg.Nodes, types.FlowNode{ID: n[0], Label: n[1]})
	}
	for _, e := range edges {
		for i := 0; i < len(e); i++ {
			if e[i] == '>' {
				fg.Edges = append(fg.Edges, types.FlowEdge{Source: e[:i], Target: e[i+1:]})
				break
			}
		}
	}
	return fg
}

func stepIDs(plan *types.StepPlan) []string {
	ids := make([]string, len(plan.Steps))
	for i, s := range plan.Steps {
		ids[i] = s.ID
	}
	return ids
}

func TestCompile_LinearChain(t *testing.T) {
	c := New(testRegistry(t), "")
	fg := flow([][2]string{{"A", "CollectInstances"}, {"B", "ValidateClosestPoint"}}, "A>B")
	params := types.Params{"closestPointParams": json.RawMessage(`{"distanceThreshold":0.5}`)}

	res, err := c.Compile(fg, params)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if res.Shape != ShapeLinear {
		t.Errorf("expected linear shape, got %s", res.Shape)
	}
	if len(res.Plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(res.Plan.Steps))
	}

	first, second := res.Plan.Steps[0], res.Plan.Steps[1]
	if first.ID != "A" || first.Name != "CollectInstances" {
		t.Errorf("unexpected first step: %+v", first)
	}
	if len(first.Args) != 0 || first.Args == nil {
		t.Errorf("expected empty non-nil args, got %#v", first.Args)
	}
	if want := []string{"--distance-threshold", "0.5"}; !reflect.DeepEqual(second.Args, want) {
		t.Errorf("expected args %q, got %q", want, second.Args)
	}
	for _, s := range res.Plan.Steps {
		for _, r := range s.Script {
			if r == '\\' {
				t.Errorf("script %q not forward-slash normalized", s.Script)
			}
		}
	}
	if res.Plan.Version != types.PlanVersion {
		t.Errorf("expected plan version %d, got %d", types.PlanVersion, res.Plan.Version)
	}
}

func TestCompile_EmptyPlan(t *testing.T) {
	c := New(testRegistry(t), "")

	t.Run("single unknown label", func(t *testing.T) {
		_, err := c.Compile(flow([][2]string{{"A", "Teleport"}}), nil)
		if !errors.Is(err, ErrEmptyPlan) {
			t.Errorf("expected ErrEmptyPlan, got %v", err)
		}
	})

	t.Run("no nodes", func(t *testing.T) {
		_, err := c.Compile(types.FlowGraph{}, nil)
		if !errors.Is(err, ErrEmptyPlan) {
			t.Errorf("expected ErrEmptyPlan, got %v", err)
		}
	})
}

func TestCompile_SkipsUnknownKinds(t *testing.T) {
	c := New(testRegistry(t), PolicyWalk)
	fg := flow([][2]string{{"A", "CollectInstances"}, {"B", "Teleport"}, {"C", "ExtractFBXSimple"}}, "A>B", "B>C")

	res, err := c.Compile(fg, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if got := stepIDs(res.Plan); !reflect.DeepEqual(got, []string{"A", "C"}) {
		t.Errorf("expected steps [A C], got %v", got)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != (SkippedNode{ID: "B", Label: "Teleport"}) {
		t.Errorf("unexpected skipped nodes: %+v", res.Skipped)
	}
}

func TestCompile_NestedLabel(t *testing.T) {
	c := New(testRegistry(t), "")
	fg := types.FlowGraph{Nodes: []types.FlowNode{{ID: "n1", Data: &types.FlowNodeData{Label: "TestCreateCube"}}}}

	res, err := c.Compile(fg, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if res.Plan.Steps[0].Name != "TestCreateCube" {
		t.Errorf("expected TestCreateCube, got %s", res.Plan.Steps[0].Name)
	}
}

func TestCompile_InvalidGraph(t *testing.T) {
	c := New(testRegistry(t), "")

	tests := []struct {
		name string
		fg   types.FlowGraph
	}{
		{"empty id", flow([][2]string{{"", "CollectInstances"}})},
		{"duplicate id", flow([][2]string{{"A", "CollectInstances"}, {"A", "ExtractFBXSimple"}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile(tt.fg, nil)
			if !errors.Is(err, ErrInvalidGraph) {
				t.Errorf("expected ErrInvalidGraph, got %v", err)
			}
		})
	}
}

func TestCompile_IgnoresDanglingEdges(t *testing.T) {
	c := New(testRegistry(t), "")
	fg := flow([][2]string{{"A", "CollectInstances"}, {"B", "ExtractFBXSimple"}}, "A>B", "B>ghost")

	res, err := c.Compile(fg, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(res.Ignored) != 1 || res.Ignored[0].Target != "ghost" {
		t.Errorf("expected dangling edge to be reported, got %+v", res.Ignored)
	}
	if res.Shape != ShapeLinear {
		t.Errorf("expected linear shape, got %s", res.Shape)
	}
}

func TestClassify(t *testing.T) {
	nodes := [][2]string{{"A", "CollectInstances"}, {"B", "CollectInstances"}, {"C", "CollectInstances"}}

	tests := []struct {
		name  string
		fg    types.FlowGraph
		shape Shape
	}{
		{"linear", flow(nodes, "A>B", "B>C"), ShapeLinear},
		{"linear out of input order", flow(nodes, "C>A", "A>B"), ShapeLinear},
		{"fan out", flow(nodes, "A>B", "A>C"), ShapeBranching},
		{"fan in", flow(nodes, "A>C", "B>C"), ShapeBranching},
		{"disconnected", flow(nodes, "A>B"), ShapeDisconnected},
		{"cycle", flow(nodes, "A>B", "B>C", "C>A"), ShapeCyclic},
		{"cycle beats disconnected", flow(nodes, "A>B", "B>A"), ShapeCyclic},
		{"single node", flow(nodes[:1]), ShapeLinear},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := buildGraph(tt.fg)
			if err != nil {
				t.Fatalf("buildGraph failed: %v", err)
			}
			if got := g.classify(); got != tt.shape {
				t.Errorf("expected %s, got %s", tt.shape, got)
			}
		})
	}
}

func TestCompile_Policies(t *testing.T) {
	reg := testRegistry(t)
	nodes := [][2]string{{"A", "CollectInstances"}, {"B", "ValidateClosestPoint"}, {"C", "ExtractFBXSimple"}, {"D", "TestCreateCube"}}
	branching := flow(nodes, "A>C", "A>B", "B>D", "C>D")
	disconnected := flow(nodes, "A>B", "C>D")
	cyclic := flow(nodes, "A>B", "B>C", "C>B", "C>D")
	linear := flow(nodes, "A>B", "B>C", "C>D")

	t.Run("walk follows first edge and reports the rest", func(t *testing.T) {
		res, err := New(reg, PolicyWalk).Compile(branching, nil)
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if got := stepIDs(res.Plan); !reflect.DeepEqual(got, []string{"A", "C", "D"}) {
			t.Errorf("expected [A C D], got %v", got)
		}
		if !reflect.DeepEqual(res.Unreached, []string{"B"}) {
			t.Errorf("expected B unreached, got %v", res.Unreached)
		}
		if res.Shape != ShapeBranching {
			t.Errorf("expected branching, got %s", res.Shape)
		}
	})

	t.Run("walk stops on revisit", func(t *testing.T) {
		res, err := New(reg, PolicyWalk).Compile(cyclic, nil)
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if got := stepIDs(res.Plan); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
			t.Errorf("expected [A B C], got %v", got)
		}
		if !reflect.DeepEqual(res.Unreached, []string{"D"}) {
			t.Errorf("expected D unreached, got %v", res.Unreached)
		}
	})

	t.Run("flatten orders every node", func(t *testing.T) {
		res, err := New(reg, PolicyFlatten).Compile(branching, nil)
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if got := stepIDs(res.Plan); !reflect.DeepEqual(got, []string{"A", "B", "C", "D"}) {
			t.Errorf("expected [A B C D], got %v", got)
		}
		if len(res.Unreached) != 0 {
			t.Errorf("expected nothing unreached, got %v", res.Unreached)
		}
	})

	t.Run("flatten keeps disconnected components", func(t *testing.T) {
		res, err := New(reg, PolicyFlatten).Compile(disconnected, nil)
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if got := stepIDs(res.Plan); !reflect.DeepEqual(got, []string{"A", "B", "C", "D"}) {
			t.Errorf("expected [A B C D], got %v", got)
		}
	})

	t.Run("flatten rejects cycles", func(t *testing.T) {
		_, err := New(reg, PolicyFlatten).Compile(cyclic, nil)
		if !errors.Is(err, ErrCyclicGraph) {
			t.Errorf("expected ErrCyclicGraph, got %v", err)
		}
	})

	t.Run("flatten matches walk on linear graphs", func(t *testing.T) {
		walked, err := New(reg, PolicyWalk).Compile(linear, nil)
		if err != nil {
			t.Fatalf("walk failed: %v", err)
		}
		flat, err := New(reg, PolicyFlatten).Compile(linear, nil)
		if err != nil {
			t.Fatalf("flatten failed: %v", err)
		}
		if !reflect.DeepEqual(stepIDs(walked.Plan), stepIDs(flat.Plan)) {
			t.Errorf("orders differ: walk %v, flatten %v", stepIDs(walked.Plan), stepIDs(flat.Plan))
		}
	})

	t.Run("strict", func(t *testing.T) {
		c := New(reg, PolicyStrict)
		if _, err := c.Compile(linear, nil); err != nil {
			t.Errorf("expected linear graph to compile, got %v", err)
		}
		for name, fg := range map[string]types.FlowGraph{"branching": branching, "disconnected": disconnected, "cyclic": cyclic} {
			_, err := c.Compile(fg, nil)
			if !errors.Is(err, ErrNonLinearGraph) {
				t.Errorf("%s: expected ErrNonLinearGraph, got %v", name, err)
			}
			var gerr *GraphError
			if !errors.As(err, &gerr) || string(gerr.Shape) != name {
				t.Errorf("%s: expected GraphError with shape, got %v", name, err)
			}
		}
	})
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyFlatten, false},
		{"walk", PolicyWalk, false},
		{" Strict ", PolicyStrict, false},
		{"flatten", PolicyFlatten, false},
		{"parallel", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

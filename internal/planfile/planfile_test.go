package planfile

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/validator"
	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

func samplePlan() *types.StepPlan {
	return &types.StepPlan{
		Version: types.PlanVersion,
		Steps: []types.Step{
			{ID: "A", Name: "CollectInstances", Script: "/opt/scripts/collect_instances.py", Interpreter: "python3"},
			{ID: "B", Name: "ValidateClosestPoint", Script: "/opt/scripts/validate_closest_point.py", Args: []string{"--distance-threshold", "0.5"}},
		},
	}
}

func TestWriteLoad(t *testing.T) {
	v, err := validator.New()
	if err != nil {
		t.Fatalf("validator.New failed: %v", err)
	}
	dir := filepath.Join(t.TempDir(), "plans")

	path, err := Write(dir, samplePlan())
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if filepath.Dir(path) != dir || !strings.HasPrefix(filepath.Base(path), "plan-") || !strings.HasSuffix(path, ".yaml") {
		t.Errorf("unexpected plan path %q", path)
	}

	got, err := Load(path, v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := samplePlan()
	want.Steps[0].Args = []string{}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v", want, got)
	}

	t.Run("unique names", func(t *testing.T) {
		other, err := Write(dir, samplePlan())
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if other == path {
			t.Error("expected a distinct file per plan")
		}
	})
}

func TestMarshal_EmptyArgs(t *testing.T) {
	data, err := Marshal(&types.StepPlan{
		Version: 1,
		Steps:   []types.Step{{ID: "A", Name: "TestCreateCube", Script: "c.py"}},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), "args: []") {
		t.Errorf("expected empty args to be written as [], got:\n%s", data)
	}
	if !strings.HasPrefix(string(data), "version: 1\n") {
		t.Errorf("expected version first, got:\n%s", data)
	}
}

func TestParse_Invalid(t *testing.T) {
	v, err := validator.New()
	if err != nil {
		t.Fatalf("validator.New failed: %v", err)
	}

	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "version: [1"},
		{"no steps", "version: 1\nsteps: []\n"},
		{"wrong version", "version: 3\nsteps:\n  - {id: A, name: a, script: s, args: []}\n"},
		{"missing script", "version: 1\nsteps:\n  - {id: A, name: a, args: []}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc), v); !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("with validator: expected ErrInvalidPlan, got %v", err)
			}
			if _, err := Parse([]byte(tt.doc), nil); !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("without validator: expected ErrInvalidPlan, got %v", err)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), v)
		if err == nil || !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected not-exist error, got %v", err)
		}
	})
}

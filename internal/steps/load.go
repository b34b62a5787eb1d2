package steps

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults lists the step kinds shipped with the pipeline scripts.
// Scripts are relative to the scripts directory.
func Defaults() []*Kind {
	return []*Kind{
		{
			Name:        "CollectInstances",
			Script:      "collect_instances.py",
			Description: "Collect scene instances for validation",
		},
		{
			Name:      "ValidateClosestPoint",
			Script:    "validate_closest_point.py",
			ParamsKey: "closestPointParams",
			Args: ArgRule{
				Rule:  RuleScalar,
				Field: "distanceThreshold",
				Flag:  "--distance-threshold",
			},
			Description: "Check closest-point distance against a threshold",
		},
		{
			Name:      "ValidateIsolatedVertex",
			Script:    "validate_isolated_vertex.py",
			ParamsKey: "isolatedVertexParams",
			Args: ArgRule{
				Rule: RuleNamedList,
			},
			Description: "Check for isolated vertices per named slot",
		},
		{
			Name:        "ExtractFBXSimple",
			Script:      "extract_fbx_simple.py",
			Description: "Export the validated scene to FBX",
		},
		{
			Name:        "TestCreateCube",
			Script:      "test_create_cube.py",
			Description: "Smoke test: create a cube in the host application",
		},
	}
}

// DefaultRegistry creates a registry with the built-in kinds resolved under scriptsDir.
func DefaultRegistry(scriptsDir, interpreter string) (*Registry, error) {
	r := NewRegistry()
	for _, k := range Defaults() {
		k.Script = resolveScript(scriptsDir, k.Script)
		if k.Interpreter == "" {
			k.Interpreter = interpreter
		}
		if err := r.Register(k); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// File is the on-disk registry document.
//
//	interpreter: python3
//	scriptsDir: ./scripts
//	kinds:
//	  - name: ValidateClosestPoint
//	    script: validate_closest_point.py
//	    paramsKey: closestPointParams
//	    args: {rule: scalar, field: distanceThreshold, flag: --distance-threshold}
type File struct {
	Interpreter string  `yaml:"interpreter,omitempty"`
	ScriptsDir  string  `yaml:"scriptsDir,omitempty"`
	Kinds       []*Kind `yaml:"kinds"`
}

// LoadFile registers the kinds declared in a YAML file on top of r.
// A relative scriptsDir is taken relative to the file itself.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read step registry: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse step registry %s: %w", path, err)
	}

	dir := f.ScriptsDir
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(path), dir)
	}

	for _, k := range f.Kinds {
		if k == nil {
			continue
		}
		k.Script = resolveScript(dir, k.Script)
		if k.Interpreter == "" {
			k.Interpreter = f.Interpreter
		}
		if err := r.Register(k); err != nil {
			return fmt.Errorf("step registry %s: %w", path, err)
		}
	}
	return nil
}

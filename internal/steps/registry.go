// Package steps provides the registry of step kinds a flow node can name.
package steps

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// Common errors returned by the registry.
var (
	ErrKindNotFound = errors.New("step kind not found")
	ErrInvalidKind  = errors.New("invalid step kind")
)

// Kind describes one step kind: the executable behind it and how its
// parameters become command-line arguments.
type Kind struct {
	// Name is the node label that selects this kind (e.g. "ValidateClosestPoint")
	Name string `json:"name" yaml:"name"`

	// Script is the executable path
	Script string `json:"script" yaml:"script"`

	// Interpreter is prepended to the script when set (e.g. "python3")
	Interpreter string `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`

	// ParamsKey selects the kind's payload from the submitted params
	ParamsKey string `json:"paramsKey,omitempty" yaml:"paramsKey,omitempty"`

	// Args is the rule translating the payload into arguments
	Args ArgRule `json:"args" yaml:"args,omitempty"`

	// Description is shown by the step listing endpoint
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate checks that the kind can be registered.
func (k *Kind) Validate() error {
	if k.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidKind)
	}
	if k.Script == "" {
		return fmt.Errorf("%w: %s: script is required", ErrInvalidKind, k.Name)
	}
	if err := k.Args.validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidKind, k.Name, err)
	}
	if k.Args.Rule != RuleNone && k.ParamsKey == "" {
		return fmt.Errorf("%w: %s: paramsKey is required for rule %q", ErrInvalidKind, k.Name, k.Args.Rule)
	}
	return nil
}

// Registry maps step kind names to their definitions.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]*Kind
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]*Kind),
	}
}

// Register adds or replaces a kind.
func (r *Registry) Register(kind *Kind) error {
	if err := kind.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copy := *kind
	r.kinds[kind.Name] = &copy
	return nil
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (*Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kind, ok := r.kinds[name]
	if !ok {
		return nil, false
	}
	copy := *kind
	return &copy, true
}

// Get is Lookup with an error for unknown kinds.
func (r *Registry) Get(name string) (*Kind, error) {
	kind, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKindNotFound, name)
	}
	return kind, nil
}

// Kinds returns all registered kinds sorted by name.
func (r *Registry) Kinds() []*Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]*Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		copy := *k
		kinds = append(kinds, &copy)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Name < kinds[j].Name })
	return kinds
}

// Count returns the number of registered kinds.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kinds)
}

// resolveScript joins relative scripts onto dir.
func resolveScript(dir, script string) string {
	if dir == "" || filepath.IsAbs(script) {
		return script
	}
	return filepath.Join(dir, script)
}

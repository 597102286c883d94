// Package udf defines the contract for user-defined functions and the
// process-wide registry they are loaded into.
package udf

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/haileyok/osprey/errors"
)

// ErrAbsent is the sentinel a UDF returns to signal that its value is not
// present for this event. Absence is a normal resolution outcome and is
// distinct from execution failure.
var ErrAbsent = errors.New("value absent")

// Func is the execution entry point of a UDF. It receives fully resolved,
// typed arguments through the Call and must be pure with respect to engine
// state: it may read the execution context accessors but never mutate them.
type Func func(ctx context.Context, call *Call) (any, error)

// ExecContext exposes the per-event accessors a UDF may read during
// execution: the raw event payload, the action name, and features that have
// already been resolved for this event.
type ExecContext interface {
	// ActionName returns the name of the action being evaluated.
	ActionName() string

	// Data returns the raw event payload. Callers must treat it as read-only.
	Data() map[string]any

	// Feature returns a previously resolved feature value. The second return
	// is false if the feature is not resolved or resolved absent.
	Feature(name string) (any, bool)
}

// Call carries the resolved arguments and context accessors for a single
// UDF invocation.
type Call struct {
	// Args maps parameter names to resolved values. Optional parameters
	// whose binding resolved absent are present with a nil value.
	Args map[string]any

	// Context gives access to per-event data.
	Context ExecContext
}

// String returns the named argument as a string.
func (c *Call) String(name string) (string, error) {
	v, ok := c.Args[name]
	if !ok || v == nil {
		return "", fmt.Errorf("argument %q missing", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q is %T, want string", name, v)
	}
	return s, nil
}

// List returns the named argument as a slice.
func (c *Call) List(name string) ([]any, error) {
	v, ok := c.Args[name]
	if !ok || v == nil {
		return nil, fmt.Errorf("argument %q missing", name)
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("argument %q is %T, want list", name, v)
	}
	return l, nil
}

// Param describes a single parameter of a UDF.
type Param struct {
	// Name of the keyword argument.
	Name string

	// Type is the declared value type: one of "string", "int", "float",
	// "bool", "list", "entity" or "any". Bindings are checked against it
	// at graph load time.
	Type string

	// Optional parameters accept an absent upstream value as nil instead
	// of failing the invocation.
	Optional bool
}

// Spec describes a UDF: its argument schema, declared result type, and
// whether it prefers asynchronous execution.
type Spec struct {
	Name       string
	Params     []Param
	ResultType string

	// Async marks the UDF as a candidate for execution on the worker pool.
	// It is a scheduling hint, not a guarantee; results must be identical
	// either way.
	Async bool

	Fn Func
}

// Param returns the parameter with the given name.
func (s *Spec) Param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Registry holds the process-wide set of UDF specs, keyed by name. It is
// populated once during startup and read concurrently by every evaluation
// afterwards; Register must not be called once evaluations have begun.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// Register adds a spec to the registry. Registering the same name twice is
// an error: UDF names are globally unique across the loaded rule set.
func (r *Registry) Register(spec *Spec) error {
	if spec == nil || spec.Name == "" {
		return errors.WrapInvalid(errors.New("spec must have a name"), "Registry", "Register", "validate spec")
	}
	if spec.Fn == nil {
		return errors.WrapInvalid(fmt.Errorf("udf %s has no function", spec.Name), "Registry", "Register", "validate spec")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Name]; exists {
		return errors.WrapInvalid(fmt.Errorf("udf %s already registered", spec.Name), "Registry", "Register", "check uniqueness")
	}
	r.specs[spec.Name] = spec
	return nil
}

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns the sorted names of all registered UDFs.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

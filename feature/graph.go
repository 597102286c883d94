// Package feature defines feature computations and the immutable dependency
// graph they form. A Graph is loaded once per rule set, validated up front
// (uniqueness, resolved references, acyclicity), and shared read-only across
// all per-event evaluations.
package feature

import (
	"fmt"
	"strings"

	"github.com/haileyok/osprey/errors"
	"github.com/haileyok/osprey/udf"
)

// Graph is an immutable DAG of feature definitions. All validation happens
// in Load; evaluation-time code can assume every reference resolves and no
// cycles exist.
type Graph struct {
	defs  map[string]*Definition
	specs map[string]*udf.Spec
	deps  map[string][]string
	order []string
}

// Load validates a set of definitions against the UDF registry and builds
// the graph. It fails with a classified fatal error on duplicate names,
// unresolved feature or UDF references, binding type mismatches, or cycles.
func Load(definitions []Definition, registry *udf.Registry) (*Graph, error) {
	g := &Graph{
		defs:  make(map[string]*Definition, len(definitions)),
		specs: make(map[string]*udf.Spec, len(definitions)),
		deps:  make(map[string][]string, len(definitions)),
	}

	// Names are globally unique across the loaded rule set.
	names := make([]string, 0, len(definitions))
	for i := range definitions {
		def := &definitions[i]
		if def.Name == "" {
			return nil, errors.WrapFatal(
				errors.New("definition with empty name"), "Graph", "Load", "validate names")
		}
		if _, exists := g.defs[def.Name]; exists {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: %s", errors.ErrDuplicateFeature, def.Name),
				"Graph", "Load", "validate names")
		}
		g.defs[def.Name] = def
		names = append(names, def.Name)
	}

	for _, name := range names {
		def := g.defs[name]

		spec, ok := registry.Lookup(def.UDF)
		if !ok {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: %s (feature %s)", errors.ErrUnknownUDF, def.UDF, def.Name),
				"Graph", "Load", "resolve udfs")
		}
		g.specs[def.Name] = spec

		for _, binding := range def.Args {
			if err := g.checkBinding(def, spec, binding); err != nil {
				return nil, err
			}
		}

		g.deps[def.Name] = def.Dependencies()
	}

	if err := g.checkAcyclic(names); err != nil {
		return nil, err
	}

	g.order = g.topoSort(names)
	return g, nil
}

// checkBinding verifies the binding targets a declared parameter and that a
// referenced feature's declared type is compatible with it.
func (g *Graph) checkBinding(def *Definition, spec *udf.Spec, binding Binding) error {
	param, ok := spec.Param(binding.Param)
	if !ok {
		return errors.WrapFatal(
			fmt.Errorf("feature %s binds unknown parameter %q of udf %s", def.Name, binding.Param, spec.Name),
			"Graph", "Load", "resolve bindings")
	}

	switch binding.Kind {
	case BindingFeature:
		dep, ok := g.defs[binding.Feature]
		if !ok {
			return errors.WrapFatal(
				fmt.Errorf("%w: %s (bound by %s)", errors.ErrUnknownFeature, binding.Feature, def.Name),
				"Graph", "Load", "resolve bindings")
		}
		if !typesCompatible(param.Type, dep.Type) {
			return errors.WrapFatal(
				fmt.Errorf("%w: feature %s binds %s (%s) to parameter %q (%s)",
					errors.ErrBindingTypeClash, def.Name, dep.Name, dep.Type, param.Name, param.Type),
				"Graph", "Load", "check binding types")
		}
	case BindingList:
		for _, item := range binding.List {
			// List items inherit the parameter; only their refs need to exist.
			for _, ref := range item.featureRefs(nil) {
				if _, ok := g.defs[ref]; !ok {
					return errors.WrapFatal(
						fmt.Errorf("%w: %s (bound by %s)", errors.ErrUnknownFeature, ref, def.Name),
						"Graph", "Load", "resolve bindings")
				}
			}
		}
	}
	return nil
}

// typesCompatible reports whether a value of declared type `have` can feed a
// parameter of type `want`. "any" is compatible in both directions; ints feed
// float parameters.
func typesCompatible(want, have string) bool {
	if want == "any" || have == "any" || want == have {
		return true
	}
	if want == "float" && have == "int" {
		return true
	}
	return false
}

// checkAcyclic runs a depth-first traversal over every definition and fails
// with the cycle path when one is found.
func (g *Graph) checkAcyclic(names []string) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(names))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			// Trim the path down to the cycle itself.
			start := 0
			for i, n := range path {
				if n == name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), name)
			return errors.WrapFatal(
				fmt.Errorf("%w: %s", errors.ErrCyclicDependency, strings.Join(cycle, " -> ")),
				"Graph", "Load", "check for cycles")
		}

		state[name] = visiting
		for _, dep := range g.deps[name] {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// topoSort produces a stable topological ordering: dependencies first, ties
// broken by definition order.
func (g *Graph) topoSort(names []string) []string {
	visited := make(map[string]bool, len(names))
	order := make([]string, 0, len(names))

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, dep := range g.deps[name] {
			visit(dep)
		}
		order = append(order, name)
	}

	for _, name := range names {
		visit(name)
	}
	return order
}

// Definition returns the definition registered under name.
func (g *Graph) Definition(name string) (*Definition, bool) {
	def, ok := g.defs[name]
	return def, ok
}

// Spec returns the resolved UDF spec for the named feature.
func (g *Graph) Spec(name string) (*udf.Spec, bool) {
	spec, ok := g.specs[name]
	return spec, ok
}

// DependenciesOf returns the direct dependencies of the named feature.
func (g *Graph) DependenciesOf(name string) []string {
	return g.deps[name]
}

// TopologicalOrder returns every feature name, dependencies before
// dependents. The order is stable for a given definition order.
func (g *Graph) TopologicalOrder() []string {
	return g.order
}

// Len returns the number of definitions in the graph.
func (g *Graph) Len() int {
	return len(g.defs)
}

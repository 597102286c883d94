package feature

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haileyok/osprey/errors"
	"github.com/haileyok/osprey/udf"
)

func testRegistry(t *testing.T) *udf.Registry {
	t.Helper()
	registry := udf.NewRegistry()

	noop := func(_ context.Context, _ *udf.Call) (any, error) { return nil, nil }

	specs := []*udf.Spec{
		{Name: "Const", Params: []udf.Param{{Name: "value", Type: "any"}}, ResultType: "any", Fn: noop},
		{Name: "Sum", Params: []udf.Param{{Name: "values", Type: "list"}}, ResultType: "int", Fn: noop},
		{Name: "Upper", Params: []udf.Param{{Name: "s", Type: "string"}}, ResultType: "string", Fn: noop},
	}
	for _, spec := range specs {
		require.NoError(t, registry.Register(spec))
	}
	return registry
}

func TestGraphLoad_Valid(t *testing.T) {
	registry := testRegistry(t)

	defs := []Definition{
		{Name: "A", UDF: "Const", Type: "int", Args: []Binding{LiteralBinding("value", 1)}},
		{Name: "B", UDF: "Const", Type: "int", Args: []Binding{FeatureBinding("value", "A")}},
		{Name: "C", UDF: "Sum", Type: "int", Args: []Binding{
			ListBinding("values", FeatureBinding("", "A"), FeatureBinding("", "B")),
		}},
	}

	g, err := Load(defs, registry)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []string{"A"}, g.DependenciesOf("B"))
	assert.ElementsMatch(t, []string{"A", "B"}, g.DependenciesOf("C"))
}

func TestGraphLoad_TopologicalOrder(t *testing.T) {
	registry := testRegistry(t)

	defs := []Definition{
		{Name: "C", UDF: "Const", Type: "int", Args: []Binding{FeatureBinding("value", "B")}},
		{Name: "B", UDF: "Const", Type: "int", Args: []Binding{FeatureBinding("value", "A")}},
		{Name: "A", UDF: "Const", Type: "int", Args: []Binding{LiteralBinding("value", 1)}},
	}

	g, err := Load(defs, registry)
	require.NoError(t, err)

	order := g.TopologicalOrder()
	require.Len(t, order, 3)

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	for _, name := range order {
		for _, dep := range g.DependenciesOf(name) {
			assert.Less(t, pos[dep], pos[name], "%s must come after its dependency %s", name, dep)
		}
	}
}

func TestGraphLoad_Errors(t *testing.T) {
	registry := testRegistry(t)

	tests := []struct {
		name     string
		defs     []Definition
		expected error
	}{
		{
			name: "duplicate names",
			defs: []Definition{
				{Name: "A", UDF: "Const", Type: "int", Args: []Binding{LiteralBinding("value", 1)}},
				{Name: "A", UDF: "Const", Type: "int", Args: []Binding{LiteralBinding("value", 2)}},
			},
			expected: errors.ErrDuplicateFeature,
		},
		{
			name: "unknown feature reference",
			defs: []Definition{
				{Name: "A", UDF: "Const", Type: "int", Args: []Binding{FeatureBinding("value", "Missing")}},
			},
			expected: errors.ErrUnknownFeature,
		},
		{
			name: "unknown udf",
			defs: []Definition{
				{Name: "A", UDF: "Nope", Type: "int", Args: []Binding{LiteralBinding("value", 1)}},
			},
			expected: errors.ErrUnknownUDF,
		},
		{
			name: "type clash",
			defs: []Definition{
				{Name: "N", UDF: "Const", Type: "int", Args: []Binding{LiteralBinding("value", 1)}},
				{Name: "S", UDF: "Upper", Type: "string", Args: []Binding{FeatureBinding("s", "N")}},
			},
			expected: errors.ErrBindingTypeClash,
		},
		{
			name: "self cycle",
			defs: []Definition{
				{Name: "A", UDF: "Const", Type: "int", Args: []Binding{FeatureBinding("value", "A")}},
			},
			expected: errors.ErrCyclicDependency,
		},
		{
			name: "two node cycle",
			defs: []Definition{
				{Name: "A", UDF: "Const", Type: "int", Args: []Binding{FeatureBinding("value", "B")}},
				{Name: "B", UDF: "Const", Type: "int", Args: []Binding{FeatureBinding("value", "A")}},
			},
			expected: errors.ErrCyclicDependency,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(test.defs, registry)
			require.Error(t, err)
			assert.ErrorIs(t, err, test.expected)
			assert.True(t, errors.IsFatal(err), "load errors are fatal")
		})
	}
}

func TestGraphLoad_CycleNamesNode(t *testing.T) {
	registry := testRegistry(t)

	defs := []Definition{
		{Name: "A", UDF: "Const", Type: "int", Args: []Binding{FeatureBinding("value", "B")}},
		{Name: "B", UDF: "Const", Type: "int", Args: []Binding{FeatureBinding("value", "C")}},
		{Name: "C", UDF: "Const", Type: "int", Args: []Binding{FeatureBinding("value", "A")}},
	}

	_, err := Load(defs, registry)
	require.Error(t, err)
	// The message carries the cycle path so operators can find the bad rule file.
	assert.Contains(t, err.Error(), "A")
	assert.Contains(t, err.Error(), "->")
}

func TestGraphLoad_IntFeedsFloatParam(t *testing.T) {
	registry := udf.NewRegistry()
	require.NoError(t, registry.Register(&udf.Spec{
		Name:       "Half",
		Params:     []udf.Param{{Name: "n", Type: "float"}},
		ResultType: "float",
		Fn:         func(_ context.Context, _ *udf.Call) (any, error) { return nil, nil },
	}))
	require.NoError(t, registry.Register(&udf.Spec{
		Name:       "Const",
		Params:     []udf.Param{{Name: "value", Type: "any"}},
		ResultType: "any",
		Fn:         func(_ context.Context, _ *udf.Call) (any, error) { return nil, nil },
	}))

	defs := []Definition{
		{Name: "N", UDF: "Const", Type: "int", Args: []Binding{LiteralBinding("value", 4)}},
		{Name: "H", UDF: "Half", Type: "float", Args: []Binding{FeatureBinding("n", "N")}},
	}

	_, err := Load(defs, registry)
	assert.NoError(t, err)
}

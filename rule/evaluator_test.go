package rule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haileyok/osprey/feature"
)

// mapResolver serves canned resolutions and counts lookups.
type mapResolver struct {
	values map[string]feature.Resolution
	calls  map[string]int
}

func newMapResolver(values map[string]feature.Resolution) *mapResolver {
	return &mapResolver{values: values, calls: make(map[string]int)}
}

func (r *mapResolver) Resolve(_ context.Context, name string) feature.Resolution {
	r.calls[name]++
	if res, ok := r.values[name]; ok {
		return res
	}
	return feature.Absent()
}

func TestEvaluateComparisons(t *testing.T) {
	resolver := newMapResolver(map[string]feature.Resolution{
		"PostCount":   feature.Present(int64(1)),
		"EmailDomain": feature.Present("example.com"),
		"IsVerified":  feature.Present(true),
		"Score":       feature.Present(0.75),
		"EmbedLink":   feature.Absent(),
		"Broken":      feature.Failed(assert.AnError),
	})
	ev := NewEvaluator(resolver)

	tests := []struct {
		name string
		expr *Expr
		want bool
	}{
		{"eq numeric", Eq(FeatureOperand("PostCount"), LiteralOperand(1)), true},
		{"eq numeric cross-width", Eq(FeatureOperand("PostCount"), LiteralOperand(float64(1))), true},
		{"eq string", Eq(FeatureOperand("EmailDomain"), LiteralOperand("example.com")), true},
		{"eq mismatch", Eq(FeatureOperand("EmailDomain"), LiteralOperand("other.com")), false},
		{"ne", Ne(FeatureOperand("PostCount"), LiteralOperand(2)), true},
		{"lt", Lt(FeatureOperand("Score"), LiteralOperand(1.0)), true},
		{"le equal", Le(FeatureOperand("PostCount"), LiteralOperand(1)), true},
		{"gt false", Gt(FeatureOperand("Score"), LiteralOperand(1.0)), false},
		{"ge", Ge(FeatureOperand("Score"), LiteralOperand(0.75)), true},
		{"in member", In(FeatureOperand("EmailDomain"), LiteralOperand([]any{"other.com", "example.com"})), true},
		{"in non-member", In(FeatureOperand("EmailDomain"), LiteralOperand([]any{"other.com"})), false},
		{"value true", Truthy(FeatureOperand("IsVerified")), true},
		{"value non-bool", Truthy(FeatureOperand("PostCount")), false},
		{"ordering across types is false", Lt(FeatureOperand("EmailDomain"), LiteralOperand(3)), false},
		{"eq across types is false", Eq(FeatureOperand("EmailDomain"), LiteralOperand(5)), false},
		{"ne across types is true", Ne(FeatureOperand("EmailDomain"), LiteralOperand(5)), true},
		{"eq number against string is false", Eq(FeatureOperand("PostCount"), LiteralOperand("1")), false},
		{"eq bool against rendering is false", Eq(FeatureOperand("IsVerified"), LiteralOperand("true")), false},
		{"in skips mismatched types", In(FeatureOperand("PostCount"), LiteralOperand([]any{"x", "y"})), false},
		{"in matches only same-typed member", In(FeatureOperand("PostCount"), LiteralOperand([]any{"1", int64(1)})), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(context.Background(), tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateNullSafety(t *testing.T) {
	resolver := newMapResolver(map[string]feature.Resolution{
		"Present": feature.Present("x"),
		"Null":    feature.Present(nil),
		"Missing": feature.Absent(),
		"Broken":  feature.Failed(assert.AnError),
	})
	ev := NewEvaluator(resolver)

	tests := []struct {
		name string
		expr *Expr
		want bool
	}{
		{"absent eq null", Eq(FeatureOperand("Missing"), LiteralOperand(nil)), true},
		{"absent ne null", Ne(FeatureOperand("Missing"), LiteralOperand(nil)), false},
		{"absent ne value", Ne(FeatureOperand("Missing"), LiteralOperand("x")), false},
		{"absent eq value", Eq(FeatureOperand("Missing"), LiteralOperand("x")), false},
		{"absent ordering", Gt(FeatureOperand("Missing"), LiteralOperand(0)), false},
		{"absent in", In(FeatureOperand("Missing"), LiteralOperand([]any{"x"})), false},
		{"explicit null eq null", Eq(FeatureOperand("Null"), LiteralOperand(nil)), true},
		{"present ne null", Ne(FeatureOperand("Present"), LiteralOperand(nil)), true},
		{"present eq null", Eq(FeatureOperand("Present"), LiteralOperand(nil)), false},
		{"failed eq", Eq(FeatureOperand("Broken"), LiteralOperand("x")), false},
		{"failed eq null", Eq(FeatureOperand("Broken"), LiteralOperand(nil)), false},
		{"failed ne", Ne(FeatureOperand("Broken"), LiteralOperand("x")), false},
		{"failed value", Truthy(FeatureOperand("Broken")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(context.Background(), tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateShortCircuit(t *testing.T) {
	resolver := newMapResolver(map[string]feature.Resolution{
		"False": feature.Present(false),
		"True":  feature.Present(true),
		"Other": feature.Present(true),
	})
	ev := NewEvaluator(resolver)

	ok, err := ev.Evaluate(context.Background(), AllOf(
		Truthy(FeatureOperand("False")),
		Truthy(FeatureOperand("Other")),
	))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, resolver.calls["Other"], "allOf must stop at the first false")

	ok, err = ev.Evaluate(context.Background(), AnyOf(
		Truthy(FeatureOperand("True")),
		Truthy(FeatureOperand("Other")),
	))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, resolver.calls["Other"], "anyOf must stop at the first true")
}

func TestEvaluateNot(t *testing.T) {
	resolver := newMapResolver(map[string]feature.Resolution{
		"Flag": feature.Present(false),
	})
	ev := NewEvaluator(resolver)

	ok, err := ev.Evaluate(context.Background(), Not(Truthy(FeatureOperand("Flag"))))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = ev.Evaluate(context.Background(), &Expr{Op: OpNot})
	assert.Error(t, err)
}

func TestEvaluateUnsupportedOperator(t *testing.T) {
	ev := NewEvaluator(newMapResolver(nil))
	_, err := ev.Evaluate(context.Background(), &Expr{Op: "xor"})
	assert.Error(t, err)
}

func TestEvaluateRule(t *testing.T) {
	resolver := newMapResolver(map[string]feature.Resolution{
		"PostCount": feature.Present(int64(1)),
		"Unused":    feature.Present(true),
	})
	ev := NewEvaluator(resolver)

	out, err := ev.EvaluateRule(context.Background(), &Definition{
		Name:        "firstPost",
		Description: "first post from this account",
		WhenAll: []*Expr{
			Eq(FeatureOperand("PostCount"), LiteralOperand(1)),
			Ne(FeatureOperand("PostCount"), LiteralOperand(nil)),
		},
	})
	require.NoError(t, err)
	assert.True(t, out.Value)
	assert.Equal(t, "firstPost", out.Name)
	assert.Equal(t, "first post from this account", out.Description)

	out, err = ev.EvaluateRule(context.Background(), &Definition{
		Name: "neverFires",
		WhenAll: []*Expr{
			Eq(FeatureOperand("PostCount"), LiteralOperand(99)),
			Truthy(FeatureOperand("Unused")),
		},
	})
	require.NoError(t, err)
	assert.False(t, out.Value)
	assert.Zero(t, resolver.calls["Unused"], "when_all must stop at the first false clause")
}

func TestExprString(t *testing.T) {
	expr := AllOf(
		Eq(FeatureOperand("PostCount"), LiteralOperand(1)),
		Not(Truthy(FeatureOperand("IsBot"))),
		Ne(FeatureOperand("EmbedLink"), LiteralOperand(nil)),
	)
	assert.Equal(t, "allOf(PostCount eq 1, not(IsBot), EmbedLink ne null)", expr.String())
}

func TestFeatureRefs(t *testing.T) {
	expr := AnyOf(
		Eq(FeatureOperand("A"), FeatureOperand("B")),
		Truthy(FeatureOperand("C")),
		Lt(FeatureOperand("A"), LiteralOperand(3)),
	)
	assert.Equal(t, []string{"A", "B", "C", "A"}, expr.FeatureRefs())
}

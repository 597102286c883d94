package ruleset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haileyok/osprey/engine"
	"github.com/haileyok/osprey/entity"
	"github.com/haileyok/osprey/errors"
	"github.com/haileyok/osprey/rule"
	"github.com/haileyok/osprey/udf"
)

func testRegistry(t *testing.T) *udf.Registry {
	t.Helper()
	reg := udf.NewRegistry()
	register := func(spec *udf.Spec) {
		require.NoError(t, reg.Register(spec))
	}

	register(&udf.Spec{
		Name:       "action_name",
		ResultType: "string",
		Fn: func(_ context.Context, call *udf.Call) (any, error) {
			return call.Context.ActionName(), nil
		},
	})
	register(&udf.Spec{
		Name:       "event_field",
		Params:     []udf.Param{{Name: "key", Type: "string"}},
		ResultType: "any",
		Fn: func(_ context.Context, call *udf.Call) (any, error) {
			key, err := call.String("key")
			if err != nil {
				return nil, err
			}
			v, ok := call.Context.Data()[key]
			if !ok || v == nil {
				return nil, udf.ErrAbsent
			}
			return v, nil
		},
	})
	register(&udf.Spec{
		Name:       "list_length",
		Params:     []udf.Param{{Name: "items", Type: "list"}},
		ResultType: "int",
		Fn: func(_ context.Context, call *udf.Call) (any, error) {
			items, err := call.List("items")
			if err != nil {
				return nil, err
			}
			return int64(len(items)), nil
		},
	})
	register(&udf.Spec{
		Name:       "make_entity",
		Params:     []udf.Param{{Name: "type", Type: "string"}, {Name: "id", Type: "any"}},
		ResultType: "entity",
		Fn: func(_ context.Context, call *udf.Call) (any, error) {
			typ, err := call.String("type")
			if err != nil {
				return nil, err
			}
			return entity.New(typ, call.Args["id"]), nil
		},
	})
	register(&udf.Spec{
		Name:       "echo",
		Params:     []udf.Param{{Name: "v", Type: "any"}},
		ResultType: "any",
		Fn: func(_ context.Context, call *udf.Call) (any, error) {
			return call.Args["v"], nil
		},
	})

	return reg
}

const userPostDocument = `{
  "version": 1,
  "features": [
    {"name": "ActionName", "udf": "action_name", "type": "string"},
    {"name": "PostCount", "udf": "event_field", "type": "any",
     "args": [{"param": "key", "value": "post_count"}]},
    {"name": "EmbedLink", "udf": "event_field", "type": "any", "execute_async": true,
     "args": [{"param": "key", "value": "embed_link"}]},
    {"name": "MentionIds", "udf": "event_field", "type": "any",
     "args": [{"param": "key", "value": "mention_ids"}]},
    {"name": "MentionCount", "udf": "list_length", "type": "int",
     "args": [{"param": "items", "feature": "MentionIds"}]},
    {"name": "PostUri", "udf": "event_field", "type": "any",
     "args": [{"param": "key", "value": "uri"}]},
    {"name": "PostEntity", "udf": "make_entity", "type": "entity",
     "args": [{"param": "type", "value": "Post"}, {"param": "id", "feature": "PostUri"}]}
  ],
  "require": {
    "name": "root",
    "children": [
      {
        "name": "userPost",
        "require_if": {"op": "eq", "left": {"feature": "ActionName"}, "right": {"value": "user_post"}},
        "rules": [
          {
            "name": "suspiciousFirstPost",
            "description": "first post carrying a link and mentions",
            "when_all": [
              {"op": "eq", "left": {"feature": "PostCount"}, "right": {"value": 1}},
              {"op": "ne", "left": {"feature": "EmbedLink"}, "right": {"value": null}},
              {"op": "ge", "left": {"feature": "MentionCount"}, "right": {"value": 1}}
            ]
          }
        ],
        "when_rules": [
          {
            "rules_any": ["suspiciousFirstPost"],
            "then": [{"kind": "report_record", "entity": "PostEntity", "params": {"reason": "spam"}}]
          }
        ]
      }
    ]
  }
}`

func TestParseValidDocument(t *testing.T) {
	rs, err := Parse([]byte(userPostDocument), testRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, 1, rs.Version)
	assert.Equal(t, 7, rs.Graph.Len())
	assert.Equal(t, []string{"MentionIds"}, rs.Graph.DependenciesOf("MentionCount"))

	require.Len(t, rs.Tree.Children, 1)
	node := rs.Tree.Children[0]
	assert.Equal(t, "userPost", node.Name)
	require.NotNil(t, node.Guard)
	assert.Equal(t, "ActionName eq user_post", node.Guard.String())

	require.Len(t, node.Rules, 1)
	def := node.Rules[0]
	require.Len(t, def.WhenAll, 3)

	// The null literal parses as a real literal, not an omitted operand.
	neExpr := def.WhenAll[1]
	assert.Equal(t, rule.OpNotEqual, neExpr.Op)
	assert.Equal(t, rule.OperandLiteral, neExpr.Right.Kind)
	assert.Nil(t, neExpr.Right.Value)

	require.Len(t, node.WhenRules, 1)
	assert.Equal(t, []string{"suspiciousFirstPost"}, node.WhenRules[0].RulesAny)
	assert.Equal(t, "report_record", node.WhenRules[0].Then[0].Kind)
	assert.Equal(t, map[string]any{"reason": "spam"}, node.WhenRules[0].Then[0].Params)
}

func TestParseListBinding(t *testing.T) {
	doc := `{
  "version": 1,
  "features": [
    {"name": "PostCount", "udf": "event_field", "type": "any",
     "args": [{"param": "key", "value": "post_count"}]},
    {"name": "Mixed", "udf": "list_length", "type": "int",
     "args": [{"param": "items", "list": [{"value": 1}, {"feature": "PostCount"}]}]}
  ],
  "require": {"name": "root"}
}`
	rs, err := Parse([]byte(doc), testRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"PostCount"}, rs.Graph.DependenciesOf("Mixed"))
}

func TestParseSchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"version": 1,`},
		{"missing version", `{"features": [], "require": {"name": "root"}}`},
		{"feature without udf", `{"version": 1, "features": [{"name": "X"}], "require": {"name": "root"}}`},
		{"unknown operator", `{"version": 1, "features": [],
			"require": {"name": "root", "rules": [{"name": "r", "when_all": [{"op": "xor"}]}]}}`},
		{"empty when_all", `{"version": 1, "features": [],
			"require": {"name": "root", "rules": [{"name": "r", "when_all": []}]}}`},
		{"effect without entity", `{"version": 1, "features": [],
			"require": {"name": "root", "rules": [{"name": "r", "when_all": [{"op": "value", "operand": {"value": true}}]}],
			"when_rules": [{"rules_any": ["r"], "then": [{"kind": "label"}]}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), testRegistry(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrMalformedRuleSet))
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestParseSemanticErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		target error
	}{
		{
			name: "unknown udf",
			doc: `{"version": 1, "features": [{"name": "X", "udf": "no_such"}],
				"require": {"name": "root"}}`,
			target: errors.ErrUnknownUDF,
		},
		{
			name: "unknown feature reference",
			doc: `{"version": 1, "features": [{"name": "X", "udf": "echo",
				"args": [{"param": "v", "feature": "Ghost"}]}],
				"require": {"name": "root"}}`,
			target: errors.ErrUnknownFeature,
		},
		{
			name: "cycle",
			doc: `{"version": 1, "features": [
				{"name": "A", "udf": "echo", "args": [{"param": "v", "feature": "B"}]},
				{"name": "B", "udf": "echo", "args": [{"param": "v", "feature": "A"}]}],
				"require": {"name": "root"}}`,
			target: errors.ErrCyclicDependency,
		},
		{
			name: "when_rules references unknown rule",
			doc: `{"version": 1, "features": [
				{"name": "E", "udf": "make_entity", "type": "entity",
				 "args": [{"param": "type", "value": "Account"}, {"param": "id", "value": "1"}]}],
				"require": {"name": "root",
				"when_rules": [{"rules_any": ["ghost"], "then": [{"kind": "label", "entity": "E"}]}]}}`,
			target: errors.ErrUnknownRule,
		},
		{
			name: "operand with feature and value",
			doc: `{"version": 1, "features": [
				{"name": "X", "udf": "event_field", "args": [{"param": "key", "value": "x"}]}],
				"require": {"name": "root", "rules": [{"name": "r", "when_all": [
				{"op": "eq", "left": {"feature": "X", "value": 1}, "right": {"value": 1}}]}]}}`,
			target: errors.ErrMalformedRuleSet,
		},
		{
			name: "argument with feature and value",
			doc: `{"version": 1, "features": [
				{"name": "X", "udf": "echo", "args": [{"param": "v", "feature": "X", "value": 1}]}],
				"require": {"name": "root"}}`,
			target: errors.ErrMalformedRuleSet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), testRegistry(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got: %v", err)
		})
	}
}

func TestLoadAndEvaluate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(userPostDocument), 0o644))

	rs, err := Load(path, testRegistry(t))
	require.NoError(t, err)

	eng, err := engine.New(rs.Graph, rs.Tree, engine.WithAsyncWorkers(4))
	require.NoError(t, err)

	result, err := eng.Evaluate(context.Background(), engine.Action{
		Name: "user_post",
		Data: map[string]any{
			"post_count":  float64(1),
			"embed_link":  "https://example.com/offer",
			"mention_ids": []any{"did:a"},
			"uri":         "at://post/1",
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Effects, 1)
	assert.Equal(t, "report_record", result.Effects[0].Kind)
	assert.Equal(t, entity.Entity{Type: "Post", ID: "at://post/1"}, result.Effects[0].Entity)
	assert.Equal(t, []string{"suspiciousFirstPost"}, result.Effects[0].TriggeredBy)

	result, err = eng.Evaluate(context.Background(), engine.Action{
		Name: "user_post",
		Data: map[string]any{
			"post_count":  float64(2),
			"embed_link":  "https://example.com/offer",
			"mention_ids": []any{"did:a"},
			"uri":         "at://post/1",
		},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Effects)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"), testRegistry(t))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

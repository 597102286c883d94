package ruleset

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/haileyok/osprey/errors"
	"github.com/haileyok/osprey/feature"
	"github.com/haileyok/osprey/rule"
	"github.com/haileyok/osprey/udf"
)

// RuleSet is a fully loaded and validated rule set, ready for the engine.
type RuleSet struct {
	Version int
	Graph   *feature.Graph
	Tree    *rule.Node
}

// Load reads, validates, and parses the rule set file at path.
func Load(path string, registry *udf.Registry) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "RuleSet", "Load", fmt.Sprintf("read %s", path))
	}
	return Parse(data, registry)
}

// Parse validates raw document bytes against the schema and builds the
// feature graph and require tree. Every returned error is fatal: a rule set
// that fails to parse never reaches evaluation.
func Parse(data []byte, registry *udf.Registry) (*RuleSet, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrMalformedRuleSet, err),
			"RuleSet", "Parse", "decode document")
	}

	defs := make([]feature.Definition, 0, len(doc.Features))
	for _, fd := range doc.Features {
		def, err := buildDefinition(fd)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	graph, err := feature.Load(defs, registry)
	if err != nil {
		return nil, err
	}

	tree, err := buildNode(doc.Require)
	if err != nil {
		return nil, err
	}
	if err := rule.ValidateTree(tree); err != nil {
		return nil, err
	}

	return &RuleSet{Version: doc.Version, Graph: graph, Tree: tree}, nil
}

func validateSchema(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrMalformedRuleSet, err),
			"RuleSet", "Parse", "validate schema")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return errors.WrapFatal(
			fmt.Errorf("%w: %s", errors.ErrMalformedRuleSet, strings.Join(details, "; ")),
			"RuleSet", "Parse", "validate schema")
	}
	return nil
}

func malformed(format string, args ...any) error {
	return errors.WrapFatal(
		fmt.Errorf("%w: %s", errors.ErrMalformedRuleSet, fmt.Sprintf(format, args...)),
		"RuleSet", "Parse", "build rule set")
}

func buildDefinition(fd FeatureDoc) (feature.Definition, error) {
	def := feature.Definition{
		Name:         fd.Name,
		UDF:          fd.UDF,
		Required:     fd.Required,
		CoerceType:   fd.CoerceType,
		ExecuteAsync: fd.ExecuteAsync,
		Type:         fd.Type,
	}
	for _, arg := range fd.Args {
		binding, err := buildBinding(fd.Name, arg)
		if err != nil {
			return feature.Definition{}, err
		}
		def.Args = append(def.Args, binding)
	}
	return def, nil
}

func buildBinding(featureName string, arg ArgDoc) (feature.Binding, error) {
	set := 0
	if arg.Feature != "" {
		set++
	}
	if arg.HasValue {
		set++
	}
	if arg.List != nil {
		set++
	}
	if set != 1 {
		return feature.Binding{}, malformed(
			"argument %q of feature %s needs exactly one of feature, value, or list", arg.Param, featureName)
	}

	switch {
	case arg.Feature != "":
		return feature.FeatureBinding(arg.Param, arg.Feature), nil
	case arg.HasValue:
		return feature.LiteralBinding(arg.Param, arg.Value), nil
	default:
		items := make([]feature.Binding, 0, len(arg.List))
		for _, item := range arg.List {
			if item.Feature != "" {
				items = append(items, feature.Binding{Kind: feature.BindingFeature, Feature: item.Feature})
				continue
			}
			if !item.HasValue {
				return feature.Binding{}, malformed(
					"list item in argument %q of feature %s needs a feature or value", arg.Param, featureName)
			}
			items = append(items, feature.Binding{Kind: feature.BindingLiteral, Literal: item.Value})
		}
		return feature.ListBinding(arg.Param, items...), nil
	}
}

func buildOperand(where string, doc *OperandDoc) (*rule.Operand, error) {
	if doc == nil {
		return nil, malformed("%s: missing operand", where)
	}
	if doc.Feature != "" && doc.HasValue {
		return nil, malformed("%s: operand sets both feature and value", where)
	}
	if doc.Feature != "" {
		return rule.FeatureOperand(doc.Feature), nil
	}
	if doc.HasValue {
		return rule.LiteralOperand(doc.Value), nil
	}
	return nil, malformed("%s: operand needs a feature or value", where)
}

func buildExpr(where string, doc ExprDoc) (*rule.Expr, error) {
	switch doc.Op {
	case rule.OpAllOf, rule.OpAnyOf:
		exprs := make([]*rule.Expr, 0, len(doc.Exprs))
		for _, sub := range doc.Exprs {
			expr, err := buildExpr(where, sub)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, expr)
		}
		return &rule.Expr{Op: doc.Op, Exprs: exprs}, nil

	case rule.OpNot:
		if len(doc.Exprs) != 1 {
			return nil, malformed("%s: not takes exactly one expression, got %d", where, len(doc.Exprs))
		}
		sub, err := buildExpr(where, doc.Exprs[0])
		if err != nil {
			return nil, err
		}
		return rule.Not(sub), nil

	case rule.OpValue:
		operand, err := buildOperand(where, doc.Operand)
		if err != nil {
			return nil, err
		}
		return rule.Truthy(operand), nil

	case rule.OpEqual, rule.OpNotEqual, rule.OpLessThan, rule.OpLessThanEqual,
		rule.OpGreaterThan, rule.OpGreaterThanEqual, rule.OpIn:
		left, err := buildOperand(where, doc.Left)
		if err != nil {
			return nil, err
		}
		right, err := buildOperand(where, doc.Right)
		if err != nil {
			return nil, err
		}
		return &rule.Expr{Op: doc.Op, Left: left, Right: right}, nil

	default:
		return nil, malformed("%s: unsupported operator %q", where, doc.Op)
	}
}

func buildNode(doc *NodeDoc) (*rule.Node, error) {
	if doc == nil {
		return nil, malformed("missing require tree")
	}

	node := &rule.Node{Name: doc.Name}

	if doc.RequireIf != nil {
		guard, err := buildExpr(fmt.Sprintf("require_if of %s", doc.Name), *doc.RequireIf)
		if err != nil {
			return nil, err
		}
		node.Guard = guard
	}

	for i := range doc.Children {
		child, err := buildNode(&doc.Children[i])
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	for _, rd := range doc.Rules {
		def := &rule.Definition{Name: rd.Name, Description: rd.Description}
		for _, ed := range rd.WhenAll {
			expr, err := buildExpr(fmt.Sprintf("rule %s", rd.Name), ed)
			if err != nil {
				return nil, err
			}
			def.WhenAll = append(def.WhenAll, expr)
		}
		node.Rules = append(node.Rules, def)
	}

	for _, wd := range doc.WhenRules {
		wr := rule.WhenRules{RulesAny: wd.RulesAny}
		for _, ed := range wd.Then {
			wr.Then = append(wr.Then, rule.EffectTemplate{
				Kind:   ed.Kind,
				Entity: ed.Entity,
				Params: ed.Params,
			})
		}
		node.WhenRules = append(node.WhenRules, wr)
	}

	return node, nil
}

// Package ruleset loads rule set documents: JSON files declaring features,
// rules, and the require tree. Documents are schema-validated, parsed into
// the engine's types, and checked against the UDF registry before any event
// is evaluated.
package ruleset

import (
	"encoding/json"
)

// Document is the top-level rule set file.
type Document struct {
	Version  int          `json:"version"`
	Features []FeatureDoc `json:"features"`
	Require  *NodeDoc     `json:"require"`
}

// FeatureDoc declares one feature computation.
type FeatureDoc struct {
	Name         string   `json:"name"`
	UDF          string   `json:"udf"`
	Type         string   `json:"type"`
	Required     bool     `json:"required"`
	CoerceType   bool     `json:"coerce_type"`
	ExecuteAsync bool     `json:"execute_async"`
	Args         []ArgDoc `json:"args"`
}

// ArgDoc binds one UDF parameter. Exactly one of Feature, Value, or List is
// set; a JSON null value is a real value, distinct from an omitted one.
type ArgDoc struct {
	Param    string
	Feature  string
	HasValue bool
	Value    any
	List     []ArgDoc
}

// UnmarshalJSON distinguishes "value": null from an absent value field.
func (a *ArgDoc) UnmarshalJSON(data []byte) error {
	var raw struct {
		Param   string          `json:"param"`
		Feature string          `json:"feature"`
		Value   json.RawMessage `json:"value"`
		List    []ArgDoc        `json:"list"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Param = raw.Param
	a.Feature = raw.Feature
	a.List = raw.List
	if raw.Value != nil {
		a.HasValue = true
		if err := json.Unmarshal(raw.Value, &a.Value); err != nil {
			return err
		}
	}
	return nil
}

// OperandDoc is one side of a comparison: a feature reference or a literal.
type OperandDoc struct {
	Feature  string
	HasValue bool
	Value    any
}

// UnmarshalJSON distinguishes the null literal from an absent value field.
func (o *OperandDoc) UnmarshalJSON(data []byte) error {
	var raw struct {
		Feature string          `json:"feature"`
		Value   json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.Feature = raw.Feature
	if raw.Value != nil {
		o.HasValue = true
		if err := json.Unmarshal(raw.Value, &o.Value); err != nil {
			return err
		}
	}
	return nil
}

// ExprDoc is one expression node.
type ExprDoc struct {
	Op      string      `json:"op"`
	Left    *OperandDoc `json:"left"`
	Right   *OperandDoc `json:"right"`
	Operand *OperandDoc `json:"operand"`
	Exprs   []ExprDoc   `json:"exprs"`
}

// RuleDoc declares one named rule.
type RuleDoc struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	WhenAll     []ExprDoc `json:"when_all"`
}

// EffectDoc declares one effect template.
type EffectDoc struct {
	Kind   string         `json:"kind"`
	Entity string         `json:"entity"`
	Params map[string]any `json:"params"`
}

// WhenRulesDoc aggregates rules into effects.
type WhenRulesDoc struct {
	RulesAny []string    `json:"rules_any"`
	Then     []EffectDoc `json:"then"`
}

// NodeDoc is one node of the require tree.
type NodeDoc struct {
	Name      string         `json:"name"`
	RequireIf *ExprDoc       `json:"require_if"`
	Children  []NodeDoc      `json:"children"`
	Rules     []RuleDoc      `json:"rules"`
	WhenRules []WhenRulesDoc `json:"when_rules"`
}

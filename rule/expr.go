// Package rule provides boolean rule expressions over resolved features, the
// rule evaluator, and the require-tree walker that decides which rules are
// active for an event and collects the effects they trigger.
package rule

import (
	"fmt"
	"strings"
)

// Operator constants for comparison and logical expressions
const (
	OpEqual            = "eq"
	OpNotEqual         = "ne"
	OpLessThan         = "lt"
	OpLessThanEqual    = "le"
	OpGreaterThan      = "gt"
	OpGreaterThanEqual = "ge"
	OpIn               = "in"
	OpAllOf            = "allOf"
	OpAnyOf            = "anyOf"
	OpNot              = "not"
	OpValue            = "value"
)

// OperandKind discriminates feature references from literal values.
type OperandKind int

const (
	// OperandLiteral is a constant value; a nil value is the null literal.
	OperandLiteral OperandKind = iota
	// OperandFeature references a feature by name.
	OperandFeature
)

// Operand is one side of a comparison: either a feature reference or a
// literal value.
type Operand struct {
	Kind    OperandKind
	Feature string
	Value   any
}

// FeatureOperand references the named feature.
func FeatureOperand(name string) *Operand {
	return &Operand{Kind: OperandFeature, Feature: name}
}

// LiteralOperand wraps a constant value. A nil value is the null literal,
// which matches absent features under eq/ne.
func LiteralOperand(v any) *Operand {
	return &Operand{Kind: OperandLiteral, Value: v}
}

// Expr is a node in a boolean rule expression tree. Comparisons use Left and
// Right; allOf/anyOf/not use Exprs; value uses Operand.
type Expr struct {
	Op      string
	Left    *Operand
	Right   *Operand
	Operand *Operand
	Exprs   []*Expr
}

// Eq builds an equality comparison.
func Eq(left, right *Operand) *Expr { return &Expr{Op: OpEqual, Left: left, Right: right} }

// Ne builds an inequality comparison.
func Ne(left, right *Operand) *Expr { return &Expr{Op: OpNotEqual, Left: left, Right: right} }

// Lt builds a less-than comparison.
func Lt(left, right *Operand) *Expr { return &Expr{Op: OpLessThan, Left: left, Right: right} }

// Le builds a less-or-equal comparison.
func Le(left, right *Operand) *Expr { return &Expr{Op: OpLessThanEqual, Left: left, Right: right} }

// Gt builds a greater-than comparison.
func Gt(left, right *Operand) *Expr { return &Expr{Op: OpGreaterThan, Left: left, Right: right} }

// Ge builds a greater-or-equal comparison.
func Ge(left, right *Operand) *Expr { return &Expr{Op: OpGreaterThanEqual, Left: left, Right: right} }

// In builds a membership test: left must appear in the right-hand list.
func In(left, right *Operand) *Expr { return &Expr{Op: OpIn, Left: left, Right: right} }

// AllOf builds a short-circuiting conjunction.
func AllOf(exprs ...*Expr) *Expr { return &Expr{Op: OpAllOf, Exprs: exprs} }

// AnyOf builds a short-circuiting disjunction.
func AnyOf(exprs ...*Expr) *Expr { return &Expr{Op: OpAnyOf, Exprs: exprs} }

// Not negates a single expression.
func Not(expr *Expr) *Expr { return &Expr{Op: OpNot, Exprs: []*Expr{expr}} }

// Truthy evaluates a single boolean-typed operand.
func Truthy(operand *Operand) *Expr { return &Expr{Op: OpValue, Operand: operand} }

// String renders the expression for diagnostics.
func (e *Expr) String() string {
	switch e.Op {
	case OpAllOf, OpAnyOf:
		parts := make([]string, len(e.Exprs))
		for i, sub := range e.Exprs {
			parts[i] = sub.String()
		}
		return fmt.Sprintf("%s(%s)", e.Op, strings.Join(parts, ", "))
	case OpNot:
		return fmt.Sprintf("not(%s)", e.Exprs[0].String())
	case OpValue:
		return e.Operand.String()
	default:
		return fmt.Sprintf("%s %s %s", e.Left.String(), e.Op, e.Right.String())
	}
}

// String renders the operand for diagnostics.
func (o *Operand) String() string {
	if o.Kind == OperandFeature {
		return o.Feature
	}
	if o.Value == nil {
		return "null"
	}
	return fmt.Sprintf("%v", o.Value)
}

// featureRefs appends the names of all features the expression references.
func (e *Expr) featureRefs(refs []string) []string {
	appendOperand := func(o *Operand) {
		if o != nil && o.Kind == OperandFeature {
			refs = append(refs, o.Feature)
		}
	}
	appendOperand(e.Left)
	appendOperand(e.Right)
	appendOperand(e.Operand)
	for _, sub := range e.Exprs {
		refs = sub.featureRefs(refs)
	}
	return refs
}

// FeatureRefs returns the names of all features the expression references.
func (e *Expr) FeatureRefs() []string {
	return e.featureRefs(nil)
}

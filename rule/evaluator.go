package rule

import (
	"context"
	"fmt"
	"reflect"

	"github.com/haileyok/osprey/entity"
	"github.com/haileyok/osprey/errors"
	"github.com/haileyok/osprey/feature"
)

// Resolver provides feature values to the evaluator. The engine's per-event
// evaluation context implements it; resolution is memoized there, so the
// evaluator never triggers a UDF twice for the same feature.
type Resolver interface {
	Resolve(ctx context.Context, name string) feature.Resolution
}

// Definition is a named rule: a conjunction of boolean expressions with a
// human-readable description. Definitions are immutable and evaluated
// against a per-event resolver.
type Definition struct {
	Name        string
	Description string
	WhenAll     []*Expr
}

// Outcome records the result of evaluating one rule for one event.
type Outcome struct {
	Name        string `json:"name"`
	Value       bool   `json:"value"`
	Description string `json:"description"`
}

// Evaluator evaluates rule expressions against a resolver with standard
// short-circuit boolean semantics. A failed feature makes the enclosing
// comparison false; the failure itself is recorded by the resolver, not
// swallowed here.
type Evaluator struct {
	resolver Resolver
}

// NewEvaluator creates an evaluator backed by the given resolver.
func NewEvaluator(resolver Resolver) *Evaluator {
	return &Evaluator{resolver: resolver}
}

// EvaluateRule evaluates every expression in the rule's when_all list,
// stopping at the first false.
func (ev *Evaluator) EvaluateRule(ctx context.Context, def *Definition) (Outcome, error) {
	value := true
	for _, expr := range def.WhenAll {
		ok, err := ev.Evaluate(ctx, expr)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			value = false
			break
		}
	}
	return Outcome{Name: def.Name, Value: value, Description: def.Description}, nil
}

// Evaluate evaluates a single expression tree. The error return is reserved
// for structural problems (unsupported operator, malformed tree); feature
// failures evaluate to false.
func (ev *Evaluator) Evaluate(ctx context.Context, expr *Expr) (bool, error) {
	switch expr.Op {
	case OpAllOf:
		for _, sub := range expr.Exprs {
			ok, err := ev.Evaluate(ctx, sub)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case OpAnyOf:
		for _, sub := range expr.Exprs {
			ok, err := ev.Evaluate(ctx, sub)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case OpNot:
		if len(expr.Exprs) != 1 {
			return false, errors.WrapInvalid(
				fmt.Errorf("not takes exactly one expression, got %d", len(expr.Exprs)),
				"Evaluator", "Evaluate", "validate expression")
		}
		ok, err := ev.Evaluate(ctx, expr.Exprs[0])
		if err != nil {
			return false, err
		}
		return !ok, nil

	case OpValue:
		res := ev.resolveOperand(ctx, expr.Operand)
		if !res.IsPresent() {
			return false, nil
		}
		b, ok := res.Value.(bool)
		return ok && b, nil

	case OpEqual, OpNotEqual, OpLessThan, OpLessThanEqual, OpGreaterThan, OpGreaterThanEqual, OpIn:
		return ev.compare(ctx, expr)

	default:
		return false, errors.WrapInvalid(
			fmt.Errorf("unsupported operator: %s", expr.Op),
			"Evaluator", "Evaluate", "validate expression")
	}
}

// compare evaluates a comparison leaf. Null-safety discipline: a failed
// operand makes the comparison false; an absent operand matches only an
// explicit null literal under eq (true) and ne (false), and makes every
// other comparison false.
func (ev *Evaluator) compare(ctx context.Context, expr *Expr) (bool, error) {
	left := ev.resolveOperand(ctx, expr.Left)
	right := ev.resolveOperand(ctx, expr.Right)

	if left.IsFailed() || right.IsFailed() {
		return false, nil
	}

	leftNull := left.IsAbsent() || left.Value == nil
	rightNull := right.IsAbsent() || right.Value == nil

	switch expr.Op {
	case OpEqual:
		if leftNull || rightNull {
			return leftNull == rightNull, nil
		}
		return valuesEqual(left.Value, right.Value), nil

	case OpNotEqual:
		// An absent operand never satisfies != ; "Feature != None" holds
		// only when the feature actually has a value.
		if left.IsAbsent() || right.IsAbsent() {
			return false, nil
		}
		if leftNull || rightNull {
			return leftNull != rightNull, nil
		}
		return !valuesEqual(left.Value, right.Value), nil

	case OpIn:
		if leftNull || rightNull {
			return false, nil
		}
		items, ok := right.Value.([]any)
		if !ok {
			return false, errors.WrapInvalid(
				fmt.Errorf("right side of `in` is %T, want list", right.Value),
				"Evaluator", "Evaluate", "validate expression")
		}
		for _, item := range items {
			if valuesEqual(left.Value, item) {
				return true, nil
			}
		}
		return false, nil

	default:
		// Ordering comparisons require both sides present.
		if leftNull || rightNull {
			return false, nil
		}
		cmp, err := compareValuesOrdered(left.Value, right.Value)
		if err != nil {
			return false, nil
		}
		switch expr.Op {
		case OpLessThan:
			return cmp < 0, nil
		case OpLessThanEqual:
			return cmp <= 0, nil
		case OpGreaterThan:
			return cmp > 0, nil
		case OpGreaterThanEqual:
			return cmp >= 0, nil
		}
		return false, nil
	}
}

func (ev *Evaluator) resolveOperand(ctx context.Context, operand *Operand) feature.Resolution {
	if operand == nil {
		return feature.Failed(errors.New("missing operand"))
	}
	if operand.Kind == OperandLiteral {
		if operand.Value == nil {
			return feature.Present(nil)
		}
		return feature.Present(operand.Value)
	}
	return ev.resolver.Resolve(ctx, operand.Feature)
}

// valuesEqual reports type-aware equality. Numerics compare numerically
// across widths; every other kind must match in type as well as value, so a
// string never equals a number and a bool never equals its rendering.
func valuesEqual(a, b any) bool {
	aNum, aIsNum := toFloat64(a)
	bNum, bIsNum := toFloat64(b)
	if aIsNum || bIsNum {
		return aIsNum && bIsNum && aNum == bNum
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case entity.Entity:
		bv, ok := b.(entity.Entity)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

// compareValuesOrdered orders two values: numerics numerically, strings
// lexicographically. Anything else has no defined order.
func compareValuesOrdered(a, b any) (int, error) {
	aNum, aIsNum := toFloat64(a)
	bNum, bIsNum := toFloat64(b)
	if aIsNum && bIsNum {
		switch {
		case aNum < bNum:
			return -1, nil
		case aNum > bNum:
			return 1, nil
		}
		return 0, nil
	}

	aStr, aIsStr := a.(string)
	bStr, bIsStr := b.(string)
	if aIsStr && bIsStr {
		switch {
		case aStr < bStr:
			return -1, nil
		case aStr > bStr:
			return 1, nil
		}
		return 0, nil
	}

	return 0, fmt.Errorf("cannot order %T against %T", a, b)
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

package rule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haileyok/osprey/entity"
	"github.com/haileyok/osprey/errors"
)

// EffectTemplate describes one effect a WhenRules block emits when it fires.
// Entity names an entity-typed feature whose resolved value becomes the
// effect target.
type EffectTemplate struct {
	Kind   string         `json:"kind"`
	Entity string         `json:"entity"`
	Params map[string]any `json:"params,omitempty"`
}

// WhenRules aggregates named rules with OR semantics: if any referenced rule
// evaluated true, every effect in Then is emitted, stamped with the names of
// the rules that passed.
type WhenRules struct {
	RulesAny []string
	Then     []EffectTemplate
}

// Node is one node of the require tree, the conditional-inclusion structure
// that decides which rules even run for an event. A node with a Guard is the
// require_if form: a false guard skips the whole subtree and none of its
// features are ever computed.
type Node struct {
	Name      string
	Guard     *Expr
	Children  []*Node
	Rules     []*Definition
	WhenRules []WhenRules
}

// Effect is an emitted action targeting an entity. Effects are values; their
// application is the caller's concern.
type Effect struct {
	Kind        string         `json:"kind"`
	Entity      entity.Entity  `json:"entity"`
	Params      map[string]any `json:"params,omitempty"`
	TriggeredBy []string       `json:"triggered_by"`
}

// ruleScope resolves rule names for WhenRules blocks. Rules evaluate after a
// node's children, so a block can only reference rules defined on its own
// node; ValidateTree enforces this at load time.
type ruleScope struct {
	outcomes map[string]Outcome
}

func (s *ruleScope) lookup(name string) (Outcome, bool) {
	out, ok := s.outcomes[name]
	return out, ok
}

// Walker traverses the require tree for one event, activating guarded
// subtrees, evaluating rules, and collecting effects in deterministic
// traversal order.
type Walker struct {
	evaluator *Evaluator
	resolver  Resolver
	logger    *slog.Logger
}

// NewWalker creates a walker bound to a per-event resolver.
func NewWalker(resolver Resolver, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		evaluator: NewEvaluator(resolver),
		resolver:  resolver,
		logger:    logger,
	}
}

// Activate walks the tree rooted at root and returns the ordered effects and
// the outcome of every rule that was evaluated. The sequence is
// deterministic: the same event yields the same effects in the same order.
func (w *Walker) Activate(ctx context.Context, root *Node) ([]Effect, []Outcome, error) {
	var effects []Effect
	var outcomes []Outcome
	if err := w.activate(ctx, root, &effects, &outcomes); err != nil {
		return nil, nil, err
	}
	return effects, outcomes, nil
}

// activate runs one node through its lifecycle: guard, children, own rules,
// effect aggregation. A false guard terminates the node immediately and its
// descendants are never visited.
func (w *Walker) activate(ctx context.Context, node *Node, effects *[]Effect, outcomes *[]Outcome) error {
	if node == nil {
		return nil
	}

	if node.Guard != nil {
		active, err := w.evaluator.Evaluate(ctx, node.Guard)
		if err != nil {
			return errors.Wrap(err, "Walker", "Activate", fmt.Sprintf("evaluate guard of %s", node.Name))
		}
		if !active {
			return nil
		}
	}

	scope := &ruleScope{outcomes: make(map[string]Outcome, len(node.Rules))}

	for _, child := range node.Children {
		if err := w.activate(ctx, child, effects, outcomes); err != nil {
			return err
		}
	}

	for _, def := range node.Rules {
		out, err := w.evaluator.EvaluateRule(ctx, def)
		if err != nil {
			return errors.Wrap(err, "Walker", "Activate", fmt.Sprintf("evaluate rule %s", def.Name))
		}
		scope.outcomes[def.Name] = out
		*outcomes = append(*outcomes, out)
	}

	for _, wr := range node.WhenRules {
		if err := w.aggregate(ctx, node, wr, scope, effects); err != nil {
			return err
		}
	}

	return nil
}

// aggregate evaluates one WhenRules block against the rules in scope.
func (w *Walker) aggregate(ctx context.Context, node *Node, wr WhenRules, scope *ruleScope, effects *[]Effect) error {
	var passing []string
	for _, name := range wr.RulesAny {
		out, ok := scope.lookup(name)
		if !ok {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %s (when_rules in %s)", errors.ErrUnknownRule, name, node.Name),
				"Walker", "Activate", "resolve when_rules")
		}
		if out.Value {
			passing = append(passing, name)
		}
	}
	if len(passing) == 0 {
		return nil
	}

	for _, template := range wr.Then {
		res := w.resolver.Resolve(ctx, template.Entity)
		if !res.IsPresent() {
			// The target could not be derived for this event; the feature
			// failure, if any, is already on the evaluation report.
			w.logger.Debug("skipping effect with unresolved entity",
				"node", node.Name, "kind", template.Kind, "entity_feature", template.Entity)
			continue
		}
		target, ok := res.Value.(entity.Entity)
		if !ok {
			w.logger.Warn("effect entity feature resolved to non-entity value",
				"node", node.Name, "entity_feature", template.Entity)
			continue
		}
		*effects = append(*effects, Effect{
			Kind:        template.Kind,
			Entity:      target,
			Params:      template.Params,
			TriggeredBy: passing,
		})
	}
	return nil
}

// ValidateTree checks structural properties the walker assumes: non-empty
// node names, rule names unique within their node, and every when_rules
// reference resolvable to a rule on the same node.
func ValidateTree(root *Node) error {
	return validateNode(root)
}

func validateNode(node *Node) error {
	if node == nil {
		return nil
	}
	if node.Name == "" {
		return errors.WrapFatal(errors.New("require node with empty name"), "Walker", "ValidateTree", "validate node")
	}

	scope := make(map[string]bool, len(node.Rules))
	for _, def := range node.Rules {
		if def.Name == "" {
			return errors.WrapFatal(
				fmt.Errorf("rule with empty name in %s", node.Name),
				"Walker", "ValidateTree", "validate rules")
		}
		if scope[def.Name] {
			return errors.WrapFatal(
				fmt.Errorf("duplicate rule %s in %s", def.Name, node.Name),
				"Walker", "ValidateTree", "validate rules")
		}
		scope[def.Name] = true
	}

	for _, wr := range node.WhenRules {
		for _, name := range wr.RulesAny {
			if !scope[name] {
				return errors.WrapFatal(
					fmt.Errorf("%w: %s (when_rules in %s)", errors.ErrUnknownRule, name, node.Name),
					"Walker", "ValidateTree", "validate when_rules")
			}
		}
		for _, template := range wr.Then {
			if template.Kind == "" || template.Entity == "" {
				return errors.WrapFatal(
					fmt.Errorf("effect template in %s needs kind and entity", node.Name),
					"Walker", "ValidateTree", "validate effects")
			}
		}
	}

	for _, child := range node.Children {
		if err := validateNode(child); err != nil {
			return err
		}
	}
	return nil
}

// Package engine evaluates events against a loaded rule set: it resolves
// the feature dependency graph with per-event memoization, walks the
// require tree, and produces deterministic rule outcomes and effects.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haileyok/osprey/errors"
	"github.com/haileyok/osprey/feature"
	"github.com/haileyok/osprey/rule"
)

// Engine evaluates events against a feature graph and require tree. It is
// stateless across events and safe for concurrent use; all per-event state
// lives in the evaluation context.
type Engine struct {
	graph   *feature.Graph
	tree    *rule.Node
	pool    *pool
	timeout time.Duration
	metrics *engineMetrics
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithAsyncWorkers bounds concurrent asynchronous UDF invocations. Zero
// disables the pool; every feature then computes inline, with identical
// results.
func WithAsyncWorkers(n int) Option {
	return func(e *Engine) { e.pool = newPool(n) }
}

// WithTimeout bounds one event evaluation end to end. Features still
// pending at the deadline resolve failed with a timeout error.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithMetrics registers engine metrics on the given registry.
func WithMetrics(registry *prometheus.Registry) Option {
	return func(e *Engine) { e.metrics = newEngineMetrics(registry) }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New builds an engine over a feature graph and require tree. The tree must
// pass structural validation and every feature it references must exist in
// the graph, so evaluation never sees an unresolvable name.
func New(graph *feature.Graph, tree *rule.Node, opts ...Option) (*Engine, error) {
	if graph == nil || tree == nil {
		return nil, errors.WrapFatal(errors.New("graph and tree are required"), "Engine", "New", "validate inputs")
	}

	e := &Engine{graph: graph, tree: tree}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default().With("component", "engine")
	}

	if err := rule.ValidateTree(tree); err != nil {
		return nil, err
	}
	if err := e.checkTreeRefs(tree); err != nil {
		return nil, err
	}
	return e, nil
}

// checkTreeRefs verifies that every feature named by a guard, rule
// expression, or effect template resolves in the graph.
func (e *Engine) checkTreeRefs(node *rule.Node) error {
	if node == nil {
		return nil
	}

	check := func(refs []string, where string) error {
		for _, name := range refs {
			if _, ok := e.graph.Definition(name); !ok {
				return errors.WrapFatal(
					fmt.Errorf("%w: %s (%s)", errors.ErrUnknownFeature, name, where),
					"Engine", "New", "resolve tree references")
			}
		}
		return nil
	}

	if node.Guard != nil {
		if err := check(node.Guard.FeatureRefs(), fmt.Sprintf("guard of %s", node.Name)); err != nil {
			return err
		}
	}
	for _, def := range node.Rules {
		for _, expr := range def.WhenAll {
			if err := check(expr.FeatureRefs(), fmt.Sprintf("rule %s", def.Name)); err != nil {
				return err
			}
		}
	}
	for _, wr := range node.WhenRules {
		for _, template := range wr.Then {
			if err := check([]string{template.Entity}, fmt.Sprintf("effect in %s", node.Name)); err != nil {
				return err
			}
		}
	}
	for _, child := range node.Children {
		if err := e.checkTreeRefs(child); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate classifies one event. The returned result carries every rule
// outcome, effects in deterministic order, the resolved features, and the
// per-event error report. The error return is reserved for structural
// problems; per-feature failures land in the report instead.
func (e *Engine) Evaluate(ctx context.Context, action Action) (*Result, error) {
	if action.Name == "" {
		return nil, errors.WrapInvalid(errors.ErrMalformedEvent, "Engine", "Evaluate", "validate action")
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	ec := newEvalContext(e, &action)
	walker := rule.NewWalker(ec, e.logger)

	effects, outcomes, err := walker.Activate(ctx, e.tree)
	if err != nil {
		e.metrics.observeEvent(time.Since(start), false)
		return nil, errors.Wrap(err, "Engine", "Evaluate", "activate rules")
	}

	result := &Result{
		Action:   action,
		Features: ec.snapshot(),
		Rules:    outcomes,
		Effects:  effects,
		Errors:   ec.report(),
	}
	e.metrics.observeEvent(time.Since(start), true)
	e.metrics.observeOutcomes(outcomes, effects)

	if len(result.Errors) > 0 {
		e.logger.Debug("event evaluated with feature failures",
			"action", action.Name, "action_id", action.ID, "failures", len(result.Errors))
	}
	return result, nil
}

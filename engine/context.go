package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/haileyok/osprey/entity"
	"github.com/haileyok/osprey/errors"
	"github.com/haileyok/osprey/feature"
	"github.com/haileyok/osprey/udf"
)

// errDependencyFailed marks resolutions that failed because an upstream
// feature failed. Only the root cause reaches the event error report.
var errDependencyFailed = errors.New("upstream dependency failed")

// slot is the write-once memo cell for one feature. res is published by
// closing done; readers must wait on done before touching res. reported
// gates the error report: one entry per feature, whether the failure is
// observed by finish or by a timed-out await.
type slot struct {
	done     chan struct{}
	res      feature.Resolution
	reported atomic.Bool
}

// evalContext carries all per-event resolution state: one slot per feature,
// the error report, and the accessors UDFs may read. It implements
// rule.Resolver and udf.ExecContext.
type evalContext struct {
	engine *Engine
	action *Action

	mu    sync.Mutex
	slots map[string]*slot

	errMu sync.Mutex
	errs  []FeatureError
}

func newEvalContext(engine *Engine, action *Action) *evalContext {
	return &evalContext{
		engine: engine,
		action: action,
		slots:  make(map[string]*slot, engine.graph.Len()),
	}
}

// Resolve implements rule.Resolver. Every call for the same feature returns
// the same resolution; the UDF behind it runs at most once per event.
func (ec *evalContext) Resolve(ctx context.Context, name string) feature.Resolution {
	return ec.await(ctx, name, ec.ensureStarted(ctx, name))
}

// ensureStarted returns the slot for name, creating it and starting its
// computation on first use. Async-hinted features compute on their own
// goroutine with invocation concurrency bounded by the engine pool; all
// others complete inline before ensureStarted returns.
func (ec *evalContext) ensureStarted(ctx context.Context, name string) *slot {
	ec.mu.Lock()
	if s, ok := ec.slots[name]; ok {
		ec.mu.Unlock()
		return s
	}
	s := &slot{done: make(chan struct{})}
	ec.slots[name] = s
	ec.mu.Unlock()

	def, ok := ec.engine.graph.Definition(name)
	if !ok {
		// New validates every tree reference, so this only fires for direct
		// Resolve callers with names outside the graph.
		ec.finish(name, s, feature.Failed(fmt.Errorf("%w: %s", errors.ErrUnknownFeature, name)))
		return s
	}
	spec, _ := ec.engine.graph.Spec(name)

	if ec.engine.pool != nil && (def.ExecuteAsync || spec.Async) {
		go ec.finish(name, s, ec.compute(ctx, def, spec, true))
		return s
	}
	ec.finish(name, s, ec.compute(ctx, def, spec, false))
	return s
}

// finish publishes a slot's resolution exactly once and records root-cause
// failures on the event report.
func (ec *evalContext) finish(name string, s *slot, res feature.Resolution) {
	s.res = res
	close(s.done)
	ec.engine.metrics.observeFeature(res.State)
	if res.IsFailed() {
		ec.recordFailure(name, s, res.Err)
	}
}

// recordFailure appends a root-cause failure to the event report. The slot
// gate keeps the feature to one entry even when a timed-out await and a
// late finish both see the failure; dependency-failure wrappers are the
// downstream echo of an already-recorded root cause and are skipped.
func (ec *evalContext) recordFailure(name string, s *slot, err error) {
	if errors.Is(err, errDependencyFailed) {
		return
	}
	if !s.reported.CompareAndSwap(false, true) {
		return
	}
	ec.errMu.Lock()
	ec.errs = append(ec.errs, FeatureError{Feature: name, Message: err.Error()})
	ec.errMu.Unlock()
}

// await blocks until the slot resolves or the evaluation deadline passes. A
// timeout is a reportable failure of the awaited feature: its computation is
// still stalled when the event's result is assembled, so the report entry is
// written here rather than by finish.
func (ec *evalContext) await(ctx context.Context, name string, s *slot) feature.Resolution {
	select {
	case <-s.done:
		return s.res
	case <-ctx.Done():
		res := feature.Failed(fmt.Errorf("%w: %v", errors.ErrEvaluationTimeout, ctx.Err()))
		ec.recordFailure(name, s, res.Err)
		return res
	}
}

// compute resolves one feature: start every referenced feature, gather
// arguments, then invoke the UDF.
func (ec *evalContext) compute(ctx context.Context, def *feature.Definition, spec *udf.Spec, async bool) feature.Resolution {
	// Start every dependency before awaiting any of them so async siblings
	// overlap.
	for _, dep := range def.Dependencies() {
		ec.ensureStarted(ctx, dep)
	}

	args := make(map[string]any, len(def.Args))
	for _, binding := range def.Args {
		value, failed, ok := ec.resolveBinding(ctx, def, spec, binding)
		if !ok {
			return failed
		}
		args[binding.Param] = value
	}

	return ec.invoke(ctx, def, spec, args, async)
}

// resolveBinding produces the argument value for one binding. The second
// return carries the feature's resolution when the binding short-circuits
// it (absent upstream, failed upstream, coercion failure); ok is false in
// that case.
func (ec *evalContext) resolveBinding(ctx context.Context, def *feature.Definition, spec *udf.Spec, binding feature.Binding) (any, feature.Resolution, bool) {
	param, _ := spec.Param(binding.Param)

	switch binding.Kind {
	case feature.BindingLiteral:
		// Literals are author-typed; CoerceType applies to feature bindings
		// only.
		return binding.Literal, feature.Resolution{}, true

	case feature.BindingFeature:
		res := ec.Resolve(ctx, binding.Feature)
		switch {
		case res.IsFailed():
			return nil, feature.Failed(fmt.Errorf("%w: %s: %w", errDependencyFailed, binding.Feature, res.Err)), false
		case res.IsAbsent():
			if param.Optional {
				return nil, feature.Resolution{}, true
			}
			if !def.Required {
				return nil, feature.Absent(), false
			}
			return nil, feature.Failed(fmt.Errorf("%w: %s (parameter %q of %s)",
				errors.ErrArgumentMissing, binding.Feature, param.Name, def.Name)), false
		}
		value := res.Value
		if def.CoerceType {
			coerced, err := coerceValue(value, param.Type)
			if err != nil {
				return nil, feature.Failed(fmt.Errorf("%w: %v (parameter %q of %s)",
					errors.ErrTypeCoercion, err, param.Name, def.Name)), false
			}
			value = coerced
		}
		return value, feature.Resolution{}, true

	case feature.BindingList:
		items := make([]any, 0, len(binding.List))
		for _, item := range binding.List {
			switch item.Kind {
			case feature.BindingLiteral:
				items = append(items, item.Literal)
			case feature.BindingFeature:
				res := ec.Resolve(ctx, item.Feature)
				switch {
				case res.IsFailed():
					return nil, feature.Failed(fmt.Errorf("%w: %s: %w", errDependencyFailed, item.Feature, res.Err)), false
				case res.IsAbsent():
					// Absent items drop out of the list.
				default:
					items = append(items, res.Value)
				}
			}
		}
		return items, feature.Resolution{}, true
	}

	return nil, feature.Failed(fmt.Errorf("unknown binding kind %d for parameter %q", binding.Kind, binding.Param)), false
}

// invoke runs the UDF. The async flag only gates pool accounting; the
// result is identical either way.
func (ec *evalContext) invoke(ctx context.Context, def *feature.Definition, spec *udf.Spec, args map[string]any, async bool) feature.Resolution {
	if async {
		ec.engine.pool.acquire()
		defer ec.engine.pool.release()
	}
	ec.engine.metrics.observeInvocation(spec.Name, async)

	out, err := spec.Fn(ctx, &udf.Call{Args: args, Context: ec})
	if err != nil {
		if errors.Is(err, udf.ErrAbsent) {
			return feature.Absent()
		}
		return feature.Failed(fmt.Errorf("%w: %s: %w", errors.ErrUDFExecution, def.Name, err))
	}
	if !typeMatches(out, spec.ResultType) {
		return feature.Failed(fmt.Errorf("%w: udf %s returned %T, declared result type %s",
			errors.ErrTypeCoercion, spec.Name, out, spec.ResultType))
	}
	return feature.Present(out)
}

// ActionName implements udf.ExecContext.
func (ec *evalContext) ActionName() string { return ec.action.Name }

// Data implements udf.ExecContext.
func (ec *evalContext) Data() map[string]any { return ec.action.Data }

// Feature implements udf.ExecContext. It never blocks: only features that
// have already resolved with a value are visible.
func (ec *evalContext) Feature(name string) (any, bool) {
	ec.mu.Lock()
	s, ok := ec.slots[name]
	ec.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-s.done:
	default:
		return nil, false
	}
	if !s.res.IsPresent() {
		return nil, false
	}
	return s.res.Value, true
}

// snapshot copies every resolved slot into the result's feature map.
func (ec *evalContext) snapshot() map[string]feature.Resolution {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]feature.Resolution, len(ec.slots))
	for name, s := range ec.slots {
		select {
		case <-s.done:
			out[name] = s.res
		default:
		}
	}
	return out
}

// report returns the error report sorted by feature name so it is stable
// across async schedules.
func (ec *evalContext) report() []FeatureError {
	ec.errMu.Lock()
	defer ec.errMu.Unlock()
	if len(ec.errs) == 0 {
		return nil
	}
	errs := make([]FeatureError, len(ec.errs))
	copy(errs, ec.errs)
	sort.Slice(errs, func(i, j int) bool { return errs[i].Feature < errs[j].Feature })
	return errs
}

// coerceValue performs best-effort conversion of a resolved argument to the
// parameter's declared type.
func coerceValue(value any, typ string) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch typ {
	case "", "any":
		return value, nil
	case "float":
		if f, ok := asFloat64(value); ok {
			return f, nil
		}
	case "int":
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == math.Trunc(v) {
				return int64(v), nil
			}
		}
	case "string":
		switch v := value.(type) {
		case string:
			return v, nil
		case bool, int, int32, int64, float64:
			return fmt.Sprintf("%v", v), nil
		}
	case "bool":
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case "list":
		if l, ok := value.([]any); ok {
			return l, nil
		}
	case "entity":
		if e, ok := value.(entity.Entity); ok {
			return e, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %T to %s", value, typ)
}

// typeMatches checks a UDF result against its declared result type. A nil
// result passes any type.
func typeMatches(value any, typ string) bool {
	if value == nil {
		return true
	}
	switch typ {
	case "", "any":
		return true
	case "string":
		_, ok := value.(string)
		return ok
	case "int":
		switch value.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case "float":
		_, ok := asFloat64(value)
		return ok
	case "bool":
		_, ok := value.(bool)
		return ok
	case "list":
		_, ok := value.([]any)
		return ok
	case "entity":
		_, ok := value.(entity.Entity)
		return ok
	}
	return false
}

func asFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}

// Package osprey is a streaming rule evaluation service. It consumes events,
// computes a graph of derived features over each event, evaluates declarative
// rules against those features, and emits effects for the rules that match.
//
// # Architecture
//
// Events flow through four stages:
//
//   - worker: consumes events from a NATS JetStream stream and publishes
//     effects and verdicts back out
//   - engine: evaluates one event at a time against a compiled rule set
//   - feature: a dependency graph of named computations, each backed by a UDF,
//     memoized per event
//   - rule: boolean expressions over features, organized in a require tree
//     whose guards skip whole subtrees per event
//
// Rule sets are JSON documents loaded by the ruleset package and checked
// against the UDF registry before the first event is evaluated. The stdlib
// package registers the built-in UDFs: payload access, entity construction,
// and string, list, and time helpers.
//
// # Resolution states
//
// Every feature resolves to exactly one of three states: a value, absent, or
// failed. Absent is ordinary (a field the event does not carry); failed means
// the computation errored. Comparisons treat both conservatively: an absent
// or failed operand never satisfies a rule, except that "eq null" is how a
// rule asks whether a feature is absent. Failures are reported per event at
// their root cause; features that fail only because a dependency failed are
// not listed again.
//
// # Evaluation guarantees
//
// For one event, each feature is computed at most once. Features marked for
// asynchronous execution may overlap in time, but the verdicts, effects, and
// error report of an event are identical whether the engine runs with zero
// workers or many. Effects are emitted in require-tree order and are
// deterministic for a given event and rule set.
package osprey

// Package engine provides the core types and orchestration logic of the tracklane
// rules engine.
//
// # Overview
//
// An invocation receives a batch of events tied to one session and one profile and
// runs them through five stages:
//
//  1. Dispatch - Load enabled rules per event type (RuleCache) and run the referenced
//     workflows concurrently (Dispatcher)
//  2. Collect - Join every launched execution, synthesizing a debug record for any
//     execution that failed
//  3. Segment - Evaluate segment conditions against the flattened profile (Segmenter)
//  4. Merge - Collapse active profiles that share merge-key values (Merger)
//  5. Persist - Save the profile and bulk-write debug records (Aggregator)
//
// # Core Domain Types
//
//   - Event: An immutable occurrence tied to a session and profile
//   - Rule: Binds an event type to a workflow, parsed from a raw Record by ParseRule
//   - Flow: A workflow definition, resolved by a FlowResolver
//   - Profile: The mutable entity record with traits, segments and operation flags
//   - Segment: A named condition over the flattened profile document
//   - DebugInfo: The outcome of one (event, rule) execution
//
// # Collaborators
//
// Storage, workflow execution and condition evaluation are injected through the
// interfaces in interfaces.go. The stores package provides SQLite implementations,
// the actions package a pipeline FlowExecutor and the conditions package Starlark and
// Rego ConditionEvaluators.
//
// # Error Classification
//
// Errors are classified so callers can tell recoverable data conditions from
// invocation-level failures:
//
//   - rule_validation: A stored rule is malformed; the rule is skipped
//   - flow_resolution: A workflow cannot be decoded; a debug record is synthesized
//   - execution: A workflow execution failed; a debug record is synthesized
//   - condition_evaluation: A segment condition failed; membership is not granted
//   - persistence: A store call failed; the invocation returns the error
//
// Only persistence errors are returned from RulesEngine.Invoke and Execute.
package engine

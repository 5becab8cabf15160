package engine

import (
	"context"
)

// RuleStore loads raw rule records.
type RuleStore interface {
	// Filter returns the rule records matching the query.
	Filter(ctx context.Context, q RuleQuery) ([]Record, error)
}

// SegmentStore loads raw segment records.
type SegmentStore interface {
	// LoadByField returns the segment records whose field equals value.
	LoadByField(ctx context.Context, field string, value interface{}) ([]Record, error)
}

// FlowResolver decodes a workflow by ID.
type FlowResolver interface {
	// Decode returns the flow with the given ID.
	Decode(ctx context.Context, flowID string) (*Flow, error)
}

// FlowExecutor runs a workflow for one event.
//
// Implementations must write to the profile only through Profile.Mutate, as every
// execution of an invocation shares the same profile.
type FlowExecutor interface {
	// Invoke executes the flow and returns its debug information.
	Invoke(ctx context.Context, flow *Flow, session *Session, profile *Profile, event *Event, debug bool) (*DebugInfo, error)
}

// ProfileStore persists profiles and finds merge candidates.
type ProfileStore interface {
	// FindActiveByKeys returns the active profiles whose fields equal every pair.
	FindActiveByKeys(ctx context.Context, pairs []KeyValue) ([]*Profile, error)

	// Save persists a single profile.
	Save(ctx context.Context, p *Profile) error

	// BulkSave persists many profiles.
	BulkSave(ctx context.Context, profiles []*Profile) error
}

// AuditStore persists debug records.
type AuditStore interface {
	// BulkSave appends debug records.
	BulkSave(ctx context.Context, records []DebugRecord) error
}

// EventStore persists events.
type EventStore interface {
	// BulkSave appends events.
	BulkSave(ctx context.Context, events []Event) error
}

// ConditionEvaluator evaluates a boolean condition against a flattened document.
type ConditionEvaluator interface {
	// Evaluate returns the truth value of condition over doc.
	Evaluate(ctx context.Context, condition string, doc map[string]interface{}) (bool, error)
}

// Metrics records engine measurements. A nil Metrics is valid and records nothing.
type Metrics interface {
	RecordRuleDispatched(eventType, status string)
	RecordWorkflowDuration(eventType string, seconds float64)
	RecordRuleCacheLookup(hit bool)
	RecordSegmentMatched()
	RecordSegmentError()
	RecordProfilesMerged(n int)
	RecordDebugRecordsWritten(n int)
	RecordError(class string)
	IncActiveInvocations()
	DecActiveInvocations()
}

type nopMetrics struct{}

func (nopMetrics) RecordRuleDispatched(string, string) {}
func (nopMetrics) RecordWorkflowDuration(string, float64) {}
func (nopMetrics) RecordRuleCacheLookup(bool) {}
func (nopMetrics) RecordSegmentMatched() {}
func (nopMetrics) RecordSegmentError() {}
func (nopMetrics) RecordProfilesMerged(int) {}
func (nopMetrics) RecordDebugRecordsWritten(int) {}
func (nopMetrics) RecordError(string) {}
func (nopMetrics) IncActiveInvocations() {}
func (nopMetrics) DecActiveInvocations() {}

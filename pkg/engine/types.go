package engine

import (
	"time"
)

// Record is a schema-less document as returned by a store before it is parsed into
// a typed value.
type Record map[string]interface{}

// Entity is a reference to another object by ID.
type Entity struct {
	ID string `json:"id" yaml:"id" validate:"required"`
}

// Session is the visitor session an invocation runs in. It is passed through to
// workflow executions and never modified by the engine.
type Session struct {
	// ID is the unique identifier of the session.
	ID string `json:"id" yaml:"id"`

	// Context carries arbitrary session data (device, page, utm, ...).
	Context map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
}

// Event is a timestamped occurrence tied to a session and profile.
type Event struct {
	// ID is the unique identifier of the event.
	ID string `json:"id" yaml:"id"`

	// Type is the event type rules are matched against (e.g. "page_view").
	Type string `json:"type" yaml:"type"`

	// Source is the event source the event was collected from.
	Source Entity `json:"source" yaml:"source"`

	// Session references the session the event belongs to.
	Session *Entity `json:"session,omitempty" yaml:"session,omitempty"`

	// Profile references the profile the event belongs to.
	Profile *Entity `json:"profile,omitempty" yaml:"profile,omitempty"`

	// Properties is the event payload.
	Properties map[string]interface{} `json:"properties,omitempty" yaml:"properties,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// FlowRef references a workflow from a rule.
type FlowRef struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name,omitempty"`
}

// Rule binds an event type to a workflow.
type Rule struct {
	// ID is the unique identifier of the rule.
	ID string `json:"id" validate:"required"`

	// Name is the rule name; debug results are keyed by it.
	Name string `json:"name" validate:"required"`

	// Enabled indicates if the rule is active.
	Enabled bool `json:"enabled"`

	// EventType is the event type this rule reacts to.
	EventType string `json:"event_type" validate:"required"`

	// Flow is the workflow run when the rule matches.
	Flow FlowRef `json:"flow" validate:"required"`

	// Source optionally restricts the rule to events from one source.
	Source *Entity `json:"source,omitempty"`
}

// FlowNode is one step of a workflow. The engine treats nodes as opaque; they are
// interpreted by the FlowExecutor.
type FlowNode struct {
	ID   string                 `json:"id" yaml:"id" validate:"required"`
	Type string                 `json:"type" yaml:"type" validate:"required"`
	Init map[string]interface{} `json:"init,omitempty" yaml:"init,omitempty"`
}

// Flow is a resolved workflow definition.
type Flow struct {
	ID          string     `json:"id" yaml:"id" validate:"required"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool       `json:"enabled" yaml:"enabled"`
	Nodes       []FlowNode `json:"nodes,omitempty" yaml:"nodes,omitempty" validate:"dive"`
}

// Segment is a named boolean condition over the flattened profile document.
type Segment struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	EventType   string `json:"event_type" yaml:"event_type" validate:"required"`
	Condition   string `json:"condition" yaml:"condition" validate:"required"`
	Enabled     *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the segment takes part in segmentation. Segments are
// enabled unless explicitly disabled.
func (s *Segment) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DebugError describes one failure attached to a debug record.
type DebugError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"msg"`
}

// NodeDebugInfo is the outcome of one workflow node.
type NodeDebugInfo struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Port     string        `json:"port,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// FlowDebugInfo identifies the flow a debug record belongs to and carries its errors.
type FlowDebugInfo struct {
	ID     string       `json:"id"`
	Errors []DebugError `json:"error,omitempty"`
}

// DebugInfo is the outcome of one (event, rule) workflow execution.
type DebugInfo struct {
	Timestamp time.Time       `json:"timestamp"`
	Event     Entity          `json:"event"`
	Flow      FlowDebugInfo   `json:"flow"`
	Nodes     []NodeDebugInfo `json:"nodes,omitempty"`
}

// HasErrors reports whether the execution recorded any error.
func (d *DebugInfo) HasErrors() bool {
	return d != nil && len(d.Flow.Errors) > 0
}

// RuleResult is the result slot of one dispatched (event, rule) pair.
type RuleResult struct {
	RuleName string     `json:"rule_name"`
	EventID  string     `json:"event_id"`
	Debug    *DebugInfo `json:"debug"`
}

// Results groups rule results by event type.
type Results map[string][]RuleResult

// Count returns the number of rule results across all event types.
func (r Results) Count() int {
	n := 0
	for _, rr := range r {
		n += len(rr)
	}
	return n
}

// DebugRecord is the flattened audit form of a rule result.
type DebugRecord struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	FlowID    string       `json:"flow_id"`
	RuleName  string       `json:"rule_name"`
	Errors    []DebugError `json:"errors,omitempty"`
}

// KeyValue is a field path and the value it must equal.
type KeyValue struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

// RuleQuery selects rules from a RuleStore.
type RuleQuery struct {
	EventType string
	Enabled   bool
}

// SegmentationResult is one item yielded by the Segmenter.
type SegmentationResult struct {
	EventType string
	SegmentID string
	Err       error
}

// SegmentationInfo summarizes a segmentation pass.
type SegmentationInfo struct {
	IDs    []string `json:"ids"`
	Errors []string `json:"errors"`
}

// MergeInfo describes a completed profile merge.
type MergeInfo struct {
	CanonicalID string   `json:"canonical_id"`
	Deactivated []string `json:"deactivated"`
}

// Invocation is the input of one engine run.
type Invocation struct {
	Session *Session
	Profile *Profile
	Events  []Event
}

// InvokeResult is the output of one engine run.
type InvokeResult struct {
	// Profile is the profile the invocation ended with; the canonical profile when a
	// merge happened.
	Profile      *Profile         `json:"profile"`
	Results      Results          `json:"results"`
	Segmentation SegmentationInfo `json:"segmentation"`
	Merge        *MergeInfo       `json:"merge,omitempty"`
}

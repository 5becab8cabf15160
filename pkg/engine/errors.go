package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for propagation and reporting.
type ErrorClass string

const (
	// ErrorClassRuleValidation indicates a stored rule record that does not parse.
	// The rule is skipped.
	ErrorClassRuleValidation ErrorClass = "rule_validation"

	// ErrorClassFlowResolution indicates a workflow that cannot be decoded.
	// A debug record carrying the error is synthesized for the rule.
	ErrorClassFlowResolution ErrorClass = "flow_resolution"

	// ErrorClassExecution indicates a workflow execution that failed or panicked.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassConditionEvaluation indicates a segment condition that could not be
	// evaluated. Membership is not granted.
	ErrorClassConditionEvaluation ErrorClass = "condition_evaluation"

	// ErrorClassPersistence indicates a failed store call. This is the only class
	// returned from an invocation.
	ErrorClassPersistence ErrorClass = "persistence"
)

// Error represents a classified error with context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Rule is the rule name or ID involved, if any.
	Rule string `json:"rule,omitempty"`

	// Flow is the flow ID involved, if any.
	Flow string `json:"flow,omitempty"`

	// Segment is the segment ID involved, if any.
	Segment string `json:"segment,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var ctx []string
	if e.Rule != "" {
		ctx = append(ctx, "rule="+e.Rule)
	}
	if e.Flow != "" {
		ctx = append(ctx, "flow="+e.Flow)
	}
	if e.Segment != "" {
		ctx = append(ctx, "segment="+e.Segment)
	}

	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if len(ctx) > 0 {
		msg += " (" + strings.Join(ctx, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewRuleValidationError creates a new rule validation error.
func NewRuleValidationError(message string, err error) *Error {
	return &Error{Class: ErrorClassRuleValidation, Message: message, Code: ErrCodeInvalidRule, Err: err}
}

// NewFlowResolutionError creates a new flow resolution error.
func NewFlowResolutionError(flowID string, err error) *Error {
	return &Error{
		Class:   ErrorClassFlowResolution,
		Message: "could not decode flow",
		Code:    ErrCodeFlowDecode,
		Flow:    flowID,
		Err:     err,
	}
}

// NewExecutionError creates a new execution error.
func NewExecutionError(flowID string, err error) *Error {
	return &Error{
		Class:   ErrorClassExecution,
		Message: "workflow execution failed",
		Code:    ErrCodeExecutionFailed,
		Flow:    flowID,
		Err:     err,
	}
}

// NewConditionEvaluationError creates a condition evaluation error. Its message is
// kept on a single line so it can be reported as-is.
func NewConditionEvaluationError(segmentID, condition string, err error) *Error {
	msg := fmt.Sprintf("Condition id `%s` could not evaluate `%s`. The following error was raised: `%s`",
		segmentID, condition, singleLine(errString(err)))
	return &Error{
		Class:   ErrorClassConditionEvaluation,
		Message: singleLine(msg),
		Code:    ErrCodeConditionFailed,
		Segment: segmentID,
		Err:     err,
	}
}

// NewPersistenceError creates a new persistence error.
func NewPersistenceError(message string, err error) *Error {
	return &Error{Class: ErrorClassPersistence, Message: message, Code: ErrCodeStoreFailed, Err: err}
}

// WithRule adds rule context to an error.
func (e *Error) WithRule(rule string) *Error {
	e.Rule = rule
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// ClassOf returns the class of a classified error, or the empty class.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsRuleValidation returns true if the error is classified as rule validation.
func IsRuleValidation(err error) bool {
	return ClassOf(err) == ErrorClassRuleValidation
}

// IsFlowResolution returns true if the error is classified as flow resolution.
func IsFlowResolution(err error) bool {
	return ClassOf(err) == ErrorClassFlowResolution
}

// IsExecution returns true if the error is classified as execution.
func IsExecution(err error) bool {
	return ClassOf(err) == ErrorClassExecution
}

// IsConditionEvaluation returns true if the error is classified as condition evaluation.
func IsConditionEvaluation(err error) bool {
	return ClassOf(err) == ErrorClassConditionEvaluation
}

// IsPersistence returns true if the error is classified as persistence.
func IsPersistence(err error) bool {
	return ClassOf(err) == ErrorClassPersistence
}

// Common error codes.
const (
	ErrCodeInvalidRule     = "INVALID_RULE"
	ErrCodeFlowDecode      = "FLOW_DECODE_FAILED"
	ErrCodeFlowNotFound    = "FLOW_NOT_FOUND"
	ErrCodeExecutionFailed = "EXECUTION_FAILED"
	ErrCodePanic           = "PANIC"
	ErrCodeConditionFailed = "CONDITION_FAILED"
	ErrCodeInvalidSegment  = "INVALID_SEGMENT"
	ErrCodeStoreFailed     = "STORE_FAILED"
)

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\n", " ")), " ")
}

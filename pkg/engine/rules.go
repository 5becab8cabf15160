package engine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ParsedRule is the result of parsing a rule record. Exactly one of Rule and Err
// is set.
type ParsedRule struct {
	Rule *Rule
	Err  error
}

// ParseRule converts a raw record into a validated Rule.
func ParseRule(rec Record) ParsedRule {
	var r Rule
	if err := decodeRecord(rec, &r); err != nil {
		return ParsedRule{Err: NewRuleValidationError("could not decode rule", err).WithRule(recordID(rec))}
	}
	if err := getValidator().Struct(&r); err != nil {
		return ParsedRule{Err: NewRuleValidationError("invalid rule", err).WithRule(recordID(rec))}
	}
	return ParsedRule{Rule: &r}
}

// AppliesTo reports whether the rule's source constraint admits the event.
func (r *Rule) AppliesTo(e *Event) bool {
	return r.Source == nil || r.Source.ID == "" || r.Source.ID == e.Source.ID
}

// ParseSegment converts a raw record into a validated Segment.
func ParseSegment(rec Record) (*Segment, error) {
	var s Segment
	if err := decodeRecord(rec, &s); err != nil {
		return nil, fmt.Errorf("could not decode segment %q: %w", recordID(rec), err)
	}
	if err := getValidator().Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid segment %q: %w", recordID(rec), err)
	}
	return &s, nil
}

// ParseFlow converts a raw record into a validated Flow.
func ParseFlow(rec Record) (*Flow, error) {
	var f Flow
	if err := decodeRecord(rec, &f); err != nil {
		return nil, fmt.Errorf("could not decode flow %q: %w", recordID(rec), err)
	}
	if err := getValidator().Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid flow %q: %w", recordID(rec), err)
	}
	return &f, nil
}

// decodeRecord round-trips a record through JSON into a typed value.
func decodeRecord(rec Record, out interface{}) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func recordID(rec Record) string {
	if id, ok := rec["id"].(string); ok {
		return id
	}
	return ""
}

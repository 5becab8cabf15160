package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("cause")

	tests := []struct {
		name  string
		err   error
		check func(error) bool
		class ErrorClass
	}{
		{"rule validation", NewRuleValidationError("bad rule", cause), IsRuleValidation, ErrorClassRuleValidation},
		{"flow resolution", NewFlowResolutionError("f1", cause), IsFlowResolution, ErrorClassFlowResolution},
		{"execution", NewExecutionError("f1", cause), IsExecution, ErrorClassExecution},
		{"condition", NewConditionEvaluationError("s1", "x > 1", cause), IsConditionEvaluation, ErrorClassConditionEvaluation},
		{"persistence", NewPersistenceError("save failed", cause), IsPersistence, ErrorClassPersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(wrapped))
			assert.Equal(t, tt.class, ClassOf(wrapped))
			assert.ErrorIs(t, wrapped, cause)
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := NewPersistenceError("save failed", nil)
	assert.ErrorIs(t, err, &Error{Class: ErrorClassPersistence, Code: ErrCodeStoreFailed})
	assert.NotErrorIs(t, err, &Error{Class: ErrorClassExecution, Code: ErrCodeStoreFailed})
}

func TestErrorMessage(t *testing.T) {
	err := NewFlowResolutionError("f1", errors.New("not found")).WithRule("welcome")
	assert.Equal(t, "[flow_resolution] could not decode flow (rule=welcome, flow=f1): not found", err.Error())

	assert.Equal(t, ErrorClass(""), ClassOf(errors.New("plain")))
}

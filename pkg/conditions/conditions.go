// Package conditions provides the segment condition evaluators used by the
// segmentation stage of the rules engine.
//
// Two dialects are supported. Starlark conditions are boolean expressions over
// the dict profile. Rego conditions are rule bodies over input. Both read the
// profile as a flattened document keyed by dotted paths, and both fail when a
// condition reads a field that is not present.
package conditions

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tracklane/tracklane/pkg/engine"
)

// Dialect names a condition language.
type Dialect string

const (
	DialectStarlark Dialect = "starlark"
	DialectRego     Dialect = "rego"
)

// New returns the evaluator for dialect. maxSteps only applies to Starlark.
func New(dialect Dialect, maxSteps uint64, logger zerolog.Logger) (engine.ConditionEvaluator, error) {
	switch dialect {
	case DialectStarlark, "":
		return NewStarlark(logger, maxSteps), nil
	case DialectRego:
		return NewRego(logger), nil
	default:
		return nil, fmt.Errorf("unsupported condition dialect: %s", dialect)
	}
}

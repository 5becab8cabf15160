package conditions

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

// DefaultMaxSteps bounds the work a single condition may do.
const DefaultMaxSteps = 100000

// Starlark evaluates conditions written as Starlark expressions.
//
// The flattened profile is predeclared as the dict profile, so a condition reads
// fields as profile["traits.public.email"]. Indexing a missing field is an
// error; has(field) and profile.get(field) test for presence instead.
type Starlark struct {
	maxSteps uint64
	logger   zerolog.Logger
}

// NewStarlark creates a Starlark condition evaluator. A zero maxSteps uses
// DefaultMaxSteps.
func NewStarlark(logger zerolog.Logger, maxSteps uint64) *Starlark {
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Starlark{
		maxSteps: maxSteps,
		logger:   logger.With().Str("component", "starlark-conditions").Logger(),
	}
}

// Evaluate returns the truth value of condition over doc.
func (s *Starlark) Evaluate(ctx context.Context, condition string, doc map[string]interface{}) (bool, error) {
	profile, err := toStarlarkDict(doc)
	if err != nil {
		return false, err
	}

	thread := &starlark.Thread{
		Name: "segment",
		Print: func(_ *starlark.Thread, msg string) {
			s.logger.Debug().Str("output", msg).Msg("Condition printed")
		},
	}
	thread.SetMaxExecutionSteps(s.maxSteps)

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	predeclared := starlark.StringDict{
		"profile": profile,
		"has": starlark.NewBuiltin("has", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var field string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &field); err != nil {
				return nil, err
			}
			_, found, err := profile.Get(starlark.String(field))
			if err != nil {
				return nil, err
			}
			return starlark.Bool(found), nil
		}),
	}

	v, err := starlark.Eval(thread, "condition", condition, predeclared)
	if err != nil {
		return false, err
	}

	b, ok := v.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("condition must be a boolean, got %s", v.Type())
	}
	return bool(b), nil
}

func toStarlarkDict(doc map[string]interface{}) (*starlark.Dict, error) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dict := starlark.NewDict(len(doc))
	for _, k := range keys {
		v, err := toStarlarkValue(doc[k])
		if err != nil {
			return nil, fmt.Errorf("failed to convert field %s: %w", k, err)
		}
		if err := dict.SetKey(starlark.String(k), v); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

// toStarlarkValue converts a decoded JSON value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		if val == float64(int64(val)) {
			return starlark.MakeInt64(int64(val)), nil
		}
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		return toStarlarkDict(val)
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

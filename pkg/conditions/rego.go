package conditions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

const (
	regoPackage = "tracklane.segment"
	regoQuery   = "data." + regoPackage + ".match"
)

// Rego evaluates conditions written as Rego rule bodies.
//
// The flattened profile is the input document, so a condition reads fields as
// input["traits.public.email"]. A condition that reads a field the profile
// lacks is an error rather than false.
type Rego struct {
	mu       sync.RWMutex
	prepared map[string]*compiledCondition
	logger   zerolog.Logger
}

// compiledCondition is a prepared query and the input fields it reads.
type compiledCondition struct {
	query  rego.PreparedEvalQuery
	fields []string
}

// NewRego creates a Rego condition evaluator.
func NewRego(logger zerolog.Logger) *Rego {
	return &Rego{
		prepared: make(map[string]*compiledCondition),
		logger:   logger.With().Str("component", "rego-conditions").Logger(),
	}
}

// Evaluate returns the truth value of condition over doc.
func (r *Rego) Evaluate(ctx context.Context, condition string, doc map[string]interface{}) (bool, error) {
	cc, err := r.compile(ctx, condition)
	if err != nil {
		return false, err
	}

	for _, field := range cc.fields {
		if _, ok := doc[field]; !ok {
			return false, fmt.Errorf("field %q is not defined", field)
		}
	}

	rs, err := cc.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return false, fmt.Errorf("condition evaluation error: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}

	b, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("condition must be a boolean, got %T", rs[0].Expressions[0].Value)
	}
	return b, nil
}

// compile prepares condition once and caches it.
func (r *Rego) compile(ctx context.Context, condition string) (*compiledCondition, error) {
	r.mu.RLock()
	cc, ok := r.prepared[condition]
	r.mu.RUnlock()
	if ok {
		return cc, nil
	}

	body, err := ast.ParseBody(condition)
	if err != nil {
		return nil, fmt.Errorf("failed to parse condition: %w", err)
	}

	module := fmt.Sprintf("package %s\n\nimport rego.v1\n\ndefault match := false\n\nmatch if {\n%s\n}\n", regoPackage, condition)
	query, err := rego.New(
		rego.Query(regoQuery),
		rego.Module("segment.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare condition: %w", err)
	}

	cc = &compiledCondition{query: query, fields: inputFields(body)}

	r.mu.Lock()
	r.prepared[condition] = cc
	r.mu.Unlock()

	r.logger.Debug().Strs("fields", cc.fields).Msg("Condition compiled")
	return cc, nil
}

// inputFields lists the constant top level input keys a body reads.
func inputFields(body ast.Body) []string {
	seen := make(map[string]struct{})
	ast.WalkRefs(body, func(ref ast.Ref) bool {
		if len(ref) < 2 || !ref.HasPrefix(ast.InputRootRef) {
			return false
		}
		if s, ok := ref[1].Value.(ast.String); ok {
			seen[string(s)] = struct{}{}
		}
		return false
	})

	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

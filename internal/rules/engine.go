// Package rules evaluates write policies and value-extraction expressions.
// Rule text selects its language with an optional "expr:", "cel:" or "jq:"
// prefix; unprefixed rules run on the expr engine.
package rules

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rendis/keyvault/pkg/schema"
)

// Engine evaluates expressions in one rule language against a scope map.
// Implementations are thread-safe: compiled programs are cached and reused
// across goroutines.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Evaluator routes rule text to the engine named by its prefix.
type Evaluator struct {
	expr *ExprEngine
	cel  *CELEngine
	jq   *GoJQEngine
}

// NewEvaluator builds all three engines.
func NewEvaluator() (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		expr: NewExprEngine(),
		cel:  celEngine,
		jq:   NewGoJQEngine(),
	}, nil
}

// SplitRule separates the optional engine prefix from the rule body.
// Anything without a recognized prefix is an expr rule, untouched, so a
// bare expression containing a ':' still parses as expr.
func SplitRule(rule string) (lang, body string) {
	if i := strings.Index(rule, ":"); i > 0 {
		switch strings.TrimSpace(rule[:i]) {
		case "expr", "cel", "jq":
			return strings.TrimSpace(rule[:i]), strings.TrimSpace(rule[i+1:])
		}
	}
	return "expr", strings.TrimSpace(rule)
}

// Evaluate dispatches rule to its engine and returns the raw result.
func (ev *Evaluator) Evaluate(ctx context.Context, rule string, data map[string]any) (any, error) {
	lang, body := SplitRule(rule)
	switch lang {
	case "cel":
		return ev.cel.Evaluate(ctx, body, data)
	case "jq":
		return ev.jq.Evaluate(ctx, body, data)
	default:
		return ev.expr.Evaluate(ctx, body, data)
	}
}

// Extract runs a jq expression against a secret's JSON value and returns the
// first result, or nil when the expression produces no output.
func (ev *Evaluator) Extract(ctx context.Context, expression string, value json.RawMessage) (any, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty extraction expression")
	}
	var input any
	if len(value) > 0 {
		if err := json.Unmarshal(value, &input); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeEvaluation,
				"secret value is not valid JSON: %s", err.Error()).WithCause(err)
		}
	}
	return ev.jq.ExtractFirst(ctx, strings.TrimSpace(expression), input)
}

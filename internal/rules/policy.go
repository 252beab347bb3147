package rules

import (
	"context"
	"encoding/json"

	"github.com/rendis/keyvault/pkg/schema"
)

// Policies is the ordered set of write rules from configuration. A write is
// allowed only when every rule evaluates to true. A rule that errors or
// returns a non-boolean denies the write: policies fail closed.
type Policies struct {
	rules []string
	eval  *Evaluator
}

// NewPolicies wraps the configured rule strings around an evaluator.
func NewPolicies(rules []string, eval *Evaluator) *Policies {
	return &Policies{rules: rules, eval: eval}
}

// Check evaluates every rule against the write scope and returns a
// POLICY_VIOLATION error naming the first rule that blocked the write.
func (p *Policies) Check(ctx context.Context, project, key string, value json.RawMessage) error {
	if p == nil || len(p.rules) == 0 {
		return nil
	}
	scope := WriteScope(project, key, value)
	for _, rule := range p.rules {
		out, err := p.eval.Evaluate(ctx, rule, scope)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodePolicy,
				"policy %q failed to evaluate: %s", rule, err.Error()).
				WithCause(err).
				WithSecret(project, key)
		}
		allowed, ok := out.(bool)
		if !ok {
			return schema.NewErrorf(schema.ErrCodePolicy,
				"policy %q did not produce a boolean", rule).
				WithSecret(project, key)
		}
		if !allowed {
			return schema.NewErrorf(schema.ErrCodePolicy,
				"write rejected by policy %q", rule).
				WithSecret(project, key)
		}
	}
	return nil
}

// WriteScope builds the rule scope for one write: the project key, the
// secret key, the decoded JSON value, and the encoded size in bytes. A value
// that does not decode scopes as nil; size still reflects the raw bytes.
func WriteScope(project, key string, value json.RawMessage) map[string]any {
	var decoded any
	_ = json.Unmarshal(value, &decoded)
	return map[string]any{
		"project": project,
		"key":     key,
		"value":   decoded,
		"size":    len(value),
	}
}

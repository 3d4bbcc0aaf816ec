// Package policy decides whether an outbound dispatch may proceed.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by a dispatch policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document a dispatch policy is evaluated against.
type Input struct {
	SessionID string `json:"session_id"`
	Operation string `json:"operation"`
	Recipient string `json:"recipient"`
	HasMedia  bool   `json:"has_media"`
	MimeType  string `json:"mime_type,omitempty"`
	BodyLen   int    `json:"body_len"`
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Decision string
	Reason   string
}

// Allowed reports whether the dispatch may proceed.
func (d Decision) Allowed() bool {
	return d.Decision != DecisionBlock
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.dispatch_policy.decision"),
		rego.Module("dispatch_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Load builds an engine from a policy file, or from DefaultPolicy when path
// is empty.
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks the dispatch policy. The rule may produce a string or an
// object {decision, reason}.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Decision: DecisionAllow, Reason: "default"}, nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return Decision{Decision: val}, nil
	case map[string]interface{}:
		d := Decision{Decision: DecisionAllow}
		if s, ok := val["decision"].(string); ok {
			d.Decision = s
		}
		if s, ok := val["reason"].(string); ok {
			d.Reason = s
		}
		return d, nil
	default:
		return Decision{Decision: DecisionAllow, Reason: "unexpected return type"}, nil
	}
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package dispatch_policy

default decision = "allow"

# Status broadcasts are never a valid dispatch target
decision = {"decision": "block", "reason": "status broadcast is not a recipient"} {
	input.recipient == "status@broadcast"
}
`

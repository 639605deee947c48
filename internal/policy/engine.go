// Package policy decides whether a payment handoff may proceed.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Input is the document the handoff policy is evaluated against.
type Input struct {
	State             string `json:"state"`
	HasPaymentSession bool   `json:"has_payment_session"`
	Region            string `json:"region"`
}

// Decision is the policy outcome.
type Decision struct {
	Allow  bool
	Reason string
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.handoff_policy.decision"),
		rego.Module("handoff_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the handoff policy. A policy that yields nothing denies.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"state":               input.State,
		"has_payment_session": input.HasPaymentSession,
		"region":              input.Region,
	}))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: false, Reason: "no decision"}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}

	allow, _ := obj["allow"].(bool)
	reason, _ := obj["reason"].(string)
	return Decision{Allow: allow, Reason: reason}, nil
}

// DefaultPolicy allows the handoff only from an operational instance holding a
// payment session.
const DefaultPolicy = `
package handoff_policy

operational = {"READY", "FOCUSED", "BLURRED"}

decision = {"allow": false, "reason": "instance not ready"} {
	not operational[input.state]
} else = {"allow": false, "reason": "payment session not set"} {
	not input.has_payment_session
} else = {"allow": false, "reason": "payment region not configured"} {
	input.region == ""
} else = {"allow": true, "reason": "ok"} {
	true
}
`

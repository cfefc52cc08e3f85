// Package policy evaluates the session admission policy with OPA.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Actions evaluated by the orchestrator.
const (
	ActionCreate    = "create"
	ActionResume    = "resume"
	ActionOperation = "operation"
)

// Engine is the OPA policy engine. The prepared query can be swapped at
// runtime with Reload.
type Engine struct {
	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	query, err := prepare(ctx, policyContent)
	if err != nil {
		return nil, err
	}
	return &Engine{query: query}, nil
}

func prepare(ctx context.Context, policyContent string) (rego.PreparedEvalQuery, error) {
	r := rego.New(
		rego.Query("data.session_policy"),
		rego.Module("session_policy.rego", policyContent),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return query, nil
}

// Reload replaces the active policy. The old policy stays in effect if the
// new content does not compile.
func (e *Engine) Reload(ctx context.Context, policyContent string) error {
	query, err := prepare(ctx, policyContent)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.query = query
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy against input and returns the decision and an
// optional reason. A policy without a decision rule allows.
func (e *Engine) Evaluate(ctx context.Context, input map[string]interface{}) (string, string, error) {
	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "default", nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return DecisionAllow, "unexpected return type", nil
	}
	decision, _ := doc["decision"].(string)
	if decision == "" {
		decision = DecisionAllow
	}
	reason, _ := doc["reason"].(string)
	return decision, reason, nil
}

// DefaultPolicy caps the number of live sessions. Operations are allowed.
const DefaultPolicy = `
package session_policy

default decision = "allow"

default reason = ""

starts_process {
	input.action == "create"
}

starts_process {
	input.action == "resume"
}

at_capacity {
	starts_process
	input.max_sessions > 0
	input.active_sessions >= input.max_sessions
}

decision = "block" {
	at_capacity
}

reason = "session limit reached" {
	at_capacity
}
`

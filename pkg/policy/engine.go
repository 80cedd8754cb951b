package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/open-policy-agent/opa/rego"
)

const query = "data.session_access.allow"

// DefaultSessionPolicy lets only the owner continue or read a session
const DefaultSessionPolicy = `
package session_access

default allow = false

allow {
	input.caller == input.session_owner
}
`

// SharedSessionPolicy lets any authenticated caller continue any session
const SharedSessionPolicy = `
package session_access

default allow = true
`

// Engine evaluates the session access policy
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares the given rego module. The module must define
// data.session_access.allow as a boolean.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query(query),
		rego.Module("session_access.rego", policyContent),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: prepared}, nil
}

// Load prepares the policy at path, or DefaultSessionPolicy when path is empty
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultSessionPolicy)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session policy: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// AllowSession reports whether caller may use a session owned by owner.
// An undefined result denies.
func (e *Engine) AllowSession(ctx context.Context, owner, caller uint) (bool, error) {
	input := map[string]any{
		"session_owner": json.Number(strconv.FormatUint(uint64(owner), 10)),
		"caller":        json.Number(strconv.FormatUint(uint64(caller), 10)),
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy returned %T, want bool", results[0].Expressions[0].Value)
	}
	return allowed, nil
}

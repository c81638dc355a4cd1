// Package policy defines the invocation contract between the grant engine
// and the access-policy evaluation engine. The engine itself is an external
// collaborator; the granters only build rules and fire them.
package policy

import (
	"context"
	"errors"

	"github.com/coreauth/grantkit/storage"
)

// ErrDenied is returned by an Engine when a rule rejects the request.
var ErrDenied = errors.New("policy denied")

// Rule pairs an access policy with the permission request it gates. The
// permission travels with the rule as evaluation metadata: the engine sees
// which resource and scopes the requesting party is after.
type Rule struct {
	Policy     *storage.AccessPolicy
	Permission storage.Permission
}

// ExecutionContext carries the public properties of the requesting client
// and (when present) the resolved end user into policy evaluation.
type ExecutionContext struct {
	ClientID string
	UserID   string // empty for anonymous permission requests

	// Attributes are additional public properties (client name, user profile
	// fields) exposed to policy conditions.
	Attributes map[string]any
}

// Engine evaluates rules against an execution context.
type Engine interface {
	// Fire evaluates all rules. A nil return means every rule permitted the
	// request; a rejection is reported as an error wrapping ErrDenied.
	// Absence of rules is a no-op pass-through.
	Fire(ctx context.Context, rules []Rule, ectx *ExecutionContext) error
}

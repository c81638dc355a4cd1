// Package cedar provides a policy.Engine implementation backed by Cedar
// policies (github.com/cedar-policy/cedar-go). Access-policy definitions are
// Cedar policy text evaluated per permission request.
package cedar

import (
	"context"
	"fmt"
	"log/slog"

	cedar "github.com/cedar-policy/cedar-go"

	"github.com/coreauth/grantkit/policy"
)

// Entity types and the single action used in grant evaluation.
const (
	principalTypeUser   = "User"
	principalTypeClient = "Client"
	resourceType        = "Resource"
	actionType          = "Action"
	actionAccess        = "access"
)

// Engine evaluates access policies written in Cedar.
type Engine struct {
	logger *slog.Logger
}

var _ policy.Engine = (*Engine)(nil)

// New creates a Cedar policy engine.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Fire evaluates every rule. The principal is the resolved end user when one
// is present, the requesting client otherwise. The gated resource is the
// Cedar resource, and the permission's scopes are exposed through the
// evaluation context.
func (e *Engine) Fire(_ context.Context, rules []policy.Rule, ectx *policy.ExecutionContext) error {
	if len(rules) == 0 {
		return nil
	}
	if ectx == nil {
		return fmt.Errorf("execution context is required")
	}

	principal := cedar.NewEntityUID(principalTypeClient, cedar.String(ectx.ClientID))
	if ectx.UserID != "" {
		principal = cedar.NewEntityUID(principalTypeUser, cedar.String(ectx.UserID))
	}

	for _, rule := range rules {
		if rule.Policy == nil || !rule.Policy.Enabled {
			continue
		}

		var p cedar.Policy
		if err := p.UnmarshalCedar([]byte(rule.Policy.Definition)); err != nil {
			return fmt.Errorf("failed to parse access policy %q: %w", rule.Policy.ID, err)
		}

		policySet := cedar.NewPolicySet()
		policySet.Add(cedar.PolicyID(rule.Policy.ID), &p)

		req := cedar.Request{
			Principal: principal,
			Action:    cedar.NewEntityUID(actionType, cedar.String(actionAccess)),
			Resource:  cedar.NewEntityUID(resourceType, cedar.String(rule.Permission.ResourceID)),
			Context:   evaluationContext(rule, ectx),
		}

		decision, diagnostic := cedar.Authorize(policySet, cedar.EntityMap{}, req)
		if len(diagnostic.Errors) > 0 {
			return fmt.Errorf("policy evaluation error for %q: %v", rule.Policy.ID, diagnostic.Errors)
		}

		if decision != cedar.Allow {
			e.logger.Debug("Access policy rejected permission",
				"policy_id", rule.Policy.ID,
				"resource_id", rule.Permission.ResourceID)
			return fmt.Errorf("%w: resource %s", policy.ErrDenied, rule.Permission.ResourceID)
		}
	}

	return nil
}

// evaluationContext builds the Cedar context record for one rule: the
// requested scopes, the requesting client, and any public attributes.
func evaluationContext(rule policy.Rule, ectx *policy.ExecutionContext) cedar.Record {
	scopes := make([]cedar.Value, 0, len(rule.Permission.Scopes))
	for _, s := range rule.Permission.Scopes {
		scopes = append(scopes, cedar.String(s))
	}

	record := cedar.RecordMap{
		"client_id": cedar.String(ectx.ClientID),
		"scopes":    cedar.NewSet(scopes...),
	}
	if ectx.UserID != "" {
		record["user_id"] = cedar.String(ectx.UserID)
	}
	for name, value := range ectx.Attributes {
		if cv, ok := cedarValue(value); ok {
			record[cedar.String(name)] = cv
		}
	}

	return cedar.NewRecord(record)
}

// cedarValue converts a Go value to a Cedar value. Unsupported types are
// skipped rather than failing evaluation.
func cedarValue(value any) (cedar.Value, bool) {
	switch v := value.(type) {
	case bool:
		return cedar.Boolean(v), true
	case string:
		return cedar.String(v), true
	case int:
		return cedar.Long(int64(v)), true
	case int64:
		return cedar.Long(v), true
	case float64:
		// JSON numbers arrive as float64; whole values map to Long
		if v == float64(int64(v)) {
			return cedar.Long(int64(v)), true
		}
		return nil, false
	case []string:
		items := make([]cedar.Value, 0, len(v))
		for _, s := range v {
			items = append(items, cedar.String(s))
		}
		return cedar.NewSet(items...), true
	case []any:
		items := make([]cedar.Value, 0, len(v))
		for _, item := range v {
			if cv, ok := cedarValue(item); ok {
				items = append(items, cv)
			}
		}
		return cedar.NewSet(items...), true
	default:
		return nil, false
	}
}

package cedar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreauth/grantkit/policy"
	"github.com/coreauth/grantkit/storage"
)

func rule(id, resourceID, definition string, scopes ...string) policy.Rule {
	return policy.Rule{
		Policy: &storage.AccessPolicy{
			ID:         id,
			ResourceID: resourceID,
			Definition: definition,
			Enabled:    true,
		},
		Permission: storage.Permission{
			ResourceID: resourceID,
			Scopes:     scopes,
		},
	}
}

func TestFire_PermitAll(t *testing.T) {
	engine := New(nil)
	rules := []policy.Rule{
		rule("p1", "doc-1", `permit (principal, action, resource);`, "read"),
	}

	err := engine.Fire(context.Background(), rules, &policy.ExecutionContext{
		ClientID: "client-1",
		UserID:   "alice",
	})
	assert.NoError(t, err)
}

func TestFire_PermitSpecificUser(t *testing.T) {
	engine := New(nil)
	definition := `permit (principal == User::"alice", action, resource == Resource::"doc-1");`
	rules := []policy.Rule{rule("p1", "doc-1", definition, "read")}

	t.Run("matching user", func(t *testing.T) {
		err := engine.Fire(context.Background(), rules, &policy.ExecutionContext{
			ClientID: "client-1",
			UserID:   "alice",
		})
		assert.NoError(t, err)
	})

	t.Run("different user", func(t *testing.T) {
		err := engine.Fire(context.Background(), rules, &policy.ExecutionContext{
			ClientID: "client-1",
			UserID:   "bob",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, policy.ErrDenied)
	})
}

func TestFire_ClientPrincipalWhenNoUser(t *testing.T) {
	engine := New(nil)
	definition := `permit (principal == Client::"service-a", action, resource);`
	rules := []policy.Rule{rule("p1", "doc-1", definition)}

	err := engine.Fire(context.Background(), rules, &policy.ExecutionContext{
		ClientID: "service-a",
	})
	assert.NoError(t, err)
}

func TestFire_ScopeCondition(t *testing.T) {
	engine := New(nil)
	definition := `permit (principal, action, resource) when { context.scopes.contains("write") };`

	t.Run("scope present", func(t *testing.T) {
		rules := []policy.Rule{rule("p1", "doc-1", definition, "read", "write")}
		err := engine.Fire(context.Background(), rules, &policy.ExecutionContext{
			ClientID: "client-1",
			UserID:   "alice",
		})
		assert.NoError(t, err)
	})

	t.Run("scope absent", func(t *testing.T) {
		rules := []policy.Rule{rule("p1", "doc-1", definition, "read")}
		err := engine.Fire(context.Background(), rules, &policy.ExecutionContext{
			ClientID: "client-1",
			UserID:   "alice",
		})
		assert.ErrorIs(t, err, policy.ErrDenied)
	})
}

func TestFire_AttributeCondition(t *testing.T) {
	engine := New(nil)
	definition := `permit (principal, action, resource) when { context.department == "engineering" };`
	rules := []policy.Rule{rule("p1", "doc-1", definition, "read")}

	err := engine.Fire(context.Background(), rules, &policy.ExecutionContext{
		ClientID:   "client-1",
		UserID:     "alice",
		Attributes: map[string]any{"department": "engineering"},
	})
	assert.NoError(t, err)

	err = engine.Fire(context.Background(), rules, &policy.ExecutionContext{
		ClientID:   "client-1",
		UserID:     "alice",
		Attributes: map[string]any{"department": "sales"},
	})
	assert.ErrorIs(t, err, policy.ErrDenied)
}

func TestFire_DisabledPolicySkipped(t *testing.T) {
	engine := New(nil)
	r := rule("p1", "doc-1", `forbid (principal, action, resource);`)
	r.Policy.Enabled = false

	err := engine.Fire(context.Background(), []policy.Rule{r}, &policy.ExecutionContext{
		ClientID: "client-1",
	})
	assert.NoError(t, err)
}

func TestFire_InvalidPolicyDefinition(t *testing.T) {
	engine := New(nil)
	rules := []policy.Rule{rule("p1", "doc-1", `this is not cedar`)}

	err := engine.Fire(context.Background(), rules, &policy.ExecutionContext{
		ClientID: "client-1",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, policy.ErrDenied)
}

func TestFire_NoRules(t *testing.T) {
	engine := New(nil)
	assert.NoError(t, engine.Fire(context.Background(), nil, nil))
}

func TestFire_AllRulesMustPermit(t *testing.T) {
	engine := New(nil)
	rules := []policy.Rule{
		rule("p1", "doc-1", `permit (principal, action, resource);`),
		rule("p2", "doc-2", `forbid (principal, action, resource);`),
	}

	err := engine.Fire(context.Background(), rules, &policy.ExecutionContext{
		ClientID: "client-1",
		UserID:   "alice",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, policy.ErrDenied)
	assert.Contains(t, err.Error(), "doc-2")
}

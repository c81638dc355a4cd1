package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coreauth/grantkit/storage"
)

// ============================================================
// ResourceStore Implementation
// ============================================================

// resourceJSON is the JSON representation of a protected resource.
type resourceJSON struct {
	ID     string   `json:"id"`
	Name   string   `json:"name,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// policyJSON is the JSON representation of an access policy.
type policyJSON struct {
	ID         string `json:"id"`
	ResourceID string `json:"resource_id"`
	Name       string `json:"name,omitempty"`
	Definition string `json:"definition"`
	Enabled    bool   `json:"enabled"`
}

// SaveResource registers a protected resource
func (s *Store) SaveResource(ctx context.Context, resource *storage.Resource) error {
	if resource == nil || resource.ID == "" {
		return fmt.Errorf("invalid resource")
	}

	if err := validateStringLength(resource.ID, MaxIDLength, "resource ID"); err != nil {
		return err
	}

	data, err := json.Marshal(resourceJSON{
		ID:     resource.ID,
		Name:   resource.Name,
		Scopes: resource.Scopes,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal resource: %w", err)
	}

	key := s.resourceKey(resource.ID)

	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}

	s.logger.Debug("Saved resource", "resource_id", resource.ID)
	return nil
}

// SaveAccessPolicy attaches an access policy to a resource. Policies for one
// resource are stored as a single JSON list under the resource's policy key.
func (s *Store) SaveAccessPolicy(ctx context.Context, policy *storage.AccessPolicy) error {
	if policy == nil || policy.ID == "" || policy.ResourceID == "" {
		return fmt.Errorf("invalid access policy")
	}

	key := s.policyKey(policy.ResourceID)

	existing, err := s.loadPolicies(ctx, policy.ResourceID)
	if err != nil {
		return err
	}

	entry := policyJSON{
		ID:         policy.ID,
		ResourceID: policy.ResourceID,
		Name:       policy.Name,
		Definition: policy.Definition,
		Enabled:    policy.Enabled,
	}

	replaced := false
	for i, p := range existing {
		if p.ID == policy.ID {
			existing[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, entry)
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("failed to marshal policies: %w", err)
	}

	if len(data) > MaxRecordSize {
		return errInputTooLarge
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save access policy: %w", err)
	}

	s.logger.Debug("Saved access policy",
		"policy_id", policy.ID,
		"resource_id", policy.ResourceID)
	return nil
}

// FindResourcesByIDs returns the resources with the given IDs
func (s *Store) FindResourcesByIDs(ctx context.Context, ids []string) ([]*storage.Resource, error) {
	resources := make([]*storage.Resource, 0, len(ids))
	for _, id := range ids {
		key := s.resourceKey(id)

		data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
		if err != nil {
			if isNilError(err) {
				return nil, fmt.Errorf("%w: %s", storage.ErrResourceNotFound, id)
			}
			return nil, fmt.Errorf("failed to get resource: %w", err)
		}

		var j resourceJSON
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resource: %w", err)
		}

		resources = append(resources, &storage.Resource{
			ID:     j.ID,
			Name:   j.Name,
			Scopes: j.Scopes,
		})
	}

	return resources, nil
}

// FindAccessPoliciesByResourceIDs returns all enabled policies attached to
// the given resources
func (s *Store) FindAccessPoliciesByResourceIDs(ctx context.Context, resourceIDs []string) ([]*storage.AccessPolicy, error) {
	policies := make([]*storage.AccessPolicy, 0)
	for _, resourceID := range resourceIDs {
		entries, err := s.loadPolicies(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		for _, j := range entries {
			if !j.Enabled {
				continue
			}
			policies = append(policies, &storage.AccessPolicy{
				ID:         j.ID,
				ResourceID: j.ResourceID,
				Name:       j.Name,
				Definition: j.Definition,
				Enabled:    j.Enabled,
			})
		}
	}

	return policies, nil
}

// loadPolicies reads the policy list for a resource, empty when the key is absent
func (s *Store) loadPolicies(ctx context.Context, resourceID string) ([]policyJSON, error) {
	key := s.policyKey(resourceID)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get policies: %w", err)
	}

	var entries []policyJSON
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policies: %w", err)
	}

	return entries, nil
}

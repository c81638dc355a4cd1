// Package storage defines interfaces for persisting permission tickets,
// protected resources, access policies, and OAuth client registrations.
// It supports various backend implementations including in-memory and Valkey.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage implementations.
var (
	// ErrTicketNotFound is returned when a permission ticket does not exist
	// or has already been redeemed. The two cases are deliberately
	// indistinguishable so a losing racer learns nothing about the winner.
	ErrTicketNotFound = errors.New("permission ticket not found")

	// ErrTicketExpired is returned when a permission ticket exists but its
	// expiry has passed.
	ErrTicketExpired = errors.New("permission ticket expired")

	// ErrClientNotFound is returned when a client registration does not exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrResourceNotFound is returned when a referenced resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrInvalidClientSecret is returned when client secret validation fails.
	ErrInvalidClientSecret = errors.New("invalid client secret")
)

// TicketStore defines the interface for storing and redeeming UMA permission
// tickets. All methods accept context.Context for tracing and cancellation.
type TicketStore interface {
	// SaveTicket stores a newly issued permission ticket.
	SaveTicket(ctx context.Context, ticket *PermissionTicket) error

	// RemoveTicket atomically removes and returns the ticket with the given ID.
	// Returns ErrTicketNotFound if the ticket does not exist or was already
	// redeemed, and ErrTicketExpired if it exists but is past its expiry.
	//
	// SECURITY: This operation MUST be atomic. Two requests racing to redeem
	// the same ticket must produce exactly one winner; the loser observes
	// ErrTicketNotFound. A ticket removed by a request that is later
	// cancelled is not restored (at-most-once consumption).
	RemoveTicket(ctx context.Context, id string) (*PermissionTicket, error)
}

// ResourceStore defines read access to protected resources and the access
// policies attached to them. The grant engine only reads these records;
// resource servers own them.
type ResourceStore interface {
	// FindResourcesByIDs returns the resources with the given IDs.
	// Returns ErrResourceNotFound if any ID cannot be resolved.
	FindResourcesByIDs(ctx context.Context, ids []string) ([]*Resource, error)

	// FindAccessPoliciesByResourceIDs returns all enabled access policies
	// attached to the given resources. Resources without a policy simply
	// contribute nothing to the result.
	FindAccessPoliciesByResourceIDs(ctx context.Context, resourceIDs []string) ([]*AccessPolicy, error)
}

// ClientStore defines the interface for managing OAuth client registrations.
type ClientStore interface {
	// SaveClient saves a registered client.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error
}

// Client represents a registered OAuth client.
type Client struct {
	ClientID          string
	ClientSecretHash  string // bcrypt hash, empty for public clients
	ClientType        string // "public" or "confidential"
	ClientName        string
	GrantTypes        []string // grant types this client may use
	Scopes            []string // scopes pre-registered for this client
	AllowRefreshToken bool     // whether this client may receive refresh tokens
	CreatedAt         time.Time
}

// AllowsGrantType reports whether the client is registered for the given
// grant type. An empty GrantTypes list allows nothing.
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, gt := range c.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// Permission names a resource together with a set of resource scopes.
// It serves both as a permission request carried by a ticket and as a
// granted permission embedded in an issued Requesting Party Token.
type Permission struct {
	ResourceID string   `json:"rsid"`
	Scopes     []string `json:"scopes,omitempty"`
}

// PermissionTicket is a short-lived, single-use handle issued by a resource
// server, naming the resources and scopes a requesting party is attempting
// to access. A ticket is consumed exactly once: retrieval is destructive.
type PermissionTicket struct {
	ID          string
	Permissions []Permission
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Resource is a protected resource registered with the authorization server,
// together with the resource scopes it supports. Read-only from the grant
// engine's perspective.
type Resource struct {
	ID     string
	Name   string
	Scopes []string
}

// HasScope reports whether the given scope is registered for the resource.
func (r *Resource) HasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AccessPolicy is a condition attached to a resource that must evaluate true
// before a permission tied to that resource may be granted. Definition holds
// the policy text in the policy engine's language (Cedar by default).
type AccessPolicy struct {
	ID         string
	ResourceID string
	Name       string
	Definition string
	Enabled    bool
}

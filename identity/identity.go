// Package identity defines the identity resolver boundary: loading the end
// user a security token's subject claim refers to.
package identity

import (
	"context"
	"errors"
	"sync"
)

// ErrUserNotFound is returned when no user exists for a subject.
var ErrUserNotFound = errors.New("user not found")

// User is an end user known to the authorization server.
type User struct {
	ID       string
	Username string
	Email    string

	// AdditionalInformation holds public profile properties exposed to the
	// policy engine's execution context.
	AdditionalInformation map[string]any
}

// Resolver loads users by the subject claim of a decoded token.
type Resolver interface {
	// LoadBySubject resolves the user the given subject refers to.
	// Returns ErrUserNotFound when no such user exists; whether that is
	// fatal is grant-specific.
	LoadBySubject(ctx context.Context, subject string) (*User, error)
}

// MemoryResolver is an in-memory Resolver suitable for development, testing,
// and single-instance deployments.
type MemoryResolver struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewMemoryResolver creates an empty in-memory resolver.
func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{users: make(map[string]*User)}
}

var _ Resolver = (*MemoryResolver)(nil)

// AddUser registers a user under its ID.
func (r *MemoryResolver) AddUser(user *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

// LoadBySubject resolves a user by ID.
func (r *MemoryResolver) LoadBySubject(_ context.Context, subject string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[subject]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

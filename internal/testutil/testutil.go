// Package testutil provides fixture helpers shared by tests across the
// module: signed test JWTs, random handles, and canned client records.
package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/coreauth/grantkit/storage"
)

// SigningKey is the HMAC key test tokens are signed with.
var SigningKey = []byte("test-signing-key-0123456789abcdef")

// SignToken signs an HS256 JWT with the given claims using SigningKey.
// Panics on signing failure; only for use in tests.
func SignToken(claims map[string]any) string {
	return SignTokenWithKey(SigningKey, claims)
}

// SignTokenWithKey signs an HS256 JWT with the given key.
func SignTokenWithKey(key []byte, claims map[string]any) string {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString(key)
	if err != nil {
		panic(err)
	}
	return raw
}

// RandomHandle returns a random URL-safe string, usable as a ticket ID or
// token handle in tests.
func RandomHandle() string {
	return oauth2.GenerateVerifier()
}

// NewClient returns a public test client registered for the given grant
// types and scopes.
func NewClient(clientID string, grantTypes, scopes []string) *storage.Client {
	return &storage.Client{
		ClientID:   clientID,
		ClientType: "public",
		ClientName: "Test Client",
		GrantTypes: grantTypes,
		Scopes:     scopes,
		CreatedAt:  time.Now(),
	}
}

// NewTicket returns a permission ticket expiring in five minutes.
func NewTicket(id string, permissions ...storage.Permission) *storage.PermissionTicket {
	now := time.Now()
	return &storage.PermissionTicket{
		ID:          id,
		Permissions: permissions,
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
}

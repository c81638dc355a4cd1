// Package token defines the token verifier/issuer boundary of the grant
// engine: decoded claim sets, the canonical issuance request built by the
// grant pipeline, and the Service interface the granters consume. A JWT
// implementation backed by github.com/golang-jwt/jwt/v5 is provided.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/coreauth/grantkit/identity"
	"github.com/coreauth/grantkit/security"
	"github.com/coreauth/grantkit/storage"
)

// Token type URNs from RFC 8693 Section 3.
const (
	TypeAccessToken  = "urn:ietf:params:oauth:token-type:access_token"
	TypeRefreshToken = "urn:ietf:params:oauth:token-type:refresh_token"
	TypeIDToken      = "urn:ietf:params:oauth:token-type:id_token"
	TypeJWT          = "urn:ietf:params:oauth:token-type:jwt"
)

// Additional-information keys set by the granters on issued tokens.
const (
	InfoIssuedTokenType = "issued_token_type"
	InfoUpgraded        = "upgraded"
	InfoScope           = "scope"
)

// Errors returned by Service implementations.
var (
	// ErrVerificationFailed is returned when a token cannot be decoded or its
	// signature cannot be verified.
	ErrVerificationFailed = errors.New("token verification failed")
)

// Claims is the decoded claim set of a security token presented to the grant
// engine (subject token, actor token, claim token, or RPT). It exists only
// inside one pipeline execution and is never persisted.
type Claims struct {
	Subject     string
	Issuer      string
	Audience    []string
	ExpiresAt   time.Time // zero when the token carries no exp claim
	Scopes      []string  // normalized from string or collection form
	Permissions []storage.Permission
	Raw         map[string]any
}

// HasAudience reports whether aud contains the given value.
func (c *Claims) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

// Expired reports whether the claim set carries a nonzero exp in the past,
// with clock-skew grace applied.
func (c *Claims) Expired() bool {
	return security.IsExpired(c.ExpiresAt)
}

// OAuth2Request is the canonical internal request assembled by a granter
// once all validation has passed. It is owned exclusively by the pipeline
// for the duration of one call and consumed by Service.Issue.
type OAuth2Request struct {
	// Subject is the resolved end user ID; empty for client-only grants.
	Subject string

	// Scopes is the final scope set of the issued token. For UMA grants this
	// is empty: the grant is expressed per-permission instead.
	Scopes []string

	// Resources is the audience of the issued token (resource and audience
	// parameters combined).
	Resources []string

	// RefreshTokenEligible is true only when an end user is present and the
	// client is configured for refresh tokens.
	RefreshTokenEligible bool

	// Permissions carries the granted UMA permissions embedded into the RPT.
	Permissions []storage.Permission

	// ExecutionContext carries arbitrary claims to inject into the issued
	// token, such as the RFC 8693 act claim.
	ExecutionContext map[string]any
}

// Token is the outcome of a successful grant. The engine only decides its
// inputs; serialization and persistence belong to the Service implementation.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scope        string

	// AdditionalInformation holds grant-specific response entries such as
	// issued_token_type (token exchange) and upgraded (UMA).
	AdditionalInformation map[string]any
}

// Service is the token verifier/issuer collaborating with the grant engine.
type Service interface {
	// DecodeAndVerify decodes a raw token presented by the given client and
	// verifies its signature. Expiry is NOT enforced here: each grant applies
	// its own expiry rule to the returned claims. Returns an error wrapping
	// ErrVerificationFailed when the token is malformed or the signature is
	// invalid.
	DecodeAndVerify(ctx context.Context, raw string, client *storage.Client) (*Claims, error)

	// Issue creates a token from the canonical request. user may be nil for
	// anonymous or client-only grants.
	Issue(ctx context.Context, req *OAuth2Request, client *storage.Client, user *identity.User) (*Token, error)
}

package grant

import (
	"github.com/coreauth/grantkit/internal/util"
	"github.com/coreauth/grantkit/token"
)

// Grant type URNs handled by this engine.
const (
	GrantTypeUMATicket     = "urn:ietf:params:oauth:grant-type:uma-ticket"
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
)

// ClaimTokenFormatIDToken is the only claim_token_format currently accepted
// by the UMA granter.
const ClaimTokenFormatIDToken = "https://openid.net/specs/openid-connect-core-1_0.html#IDToken"

// Config holds the domain configuration handed to the granters at
// construction. It is an immutable value: granters never reach into ambient
// global state for feature flags.
type Config struct {
	// UMAEnabled gates the UMA permission-ticket grant.
	UMAEnabled bool

	// TokenExchangeEnabled gates the RFC 8693 token-exchange grant.
	TokenExchangeEnabled bool

	// AllowImpersonation permits exchanges without an actor_token.
	AllowImpersonation bool

	// AllowDelegation permits exchanges with an actor_token.
	AllowDelegation bool

	// AllowScopeDownscoping permits exchanged tokens to request a subset of
	// the subject token's scopes. When false the issued token carries no
	// scopes at all.
	AllowScopeDownscoping bool

	// SubjectTokenTypes lists the token-type URNs accepted as subject tokens.
	SubjectTokenTypes []string

	// ActorTokenTypes lists the token-type URNs accepted as actor tokens.
	ActorTokenTypes []string

	// RequestedTokenTypes lists the token-type URNs a client may request.
	RequestedTokenTypes []string

	// ClaimTokenFormats lists the claim_token_format values accepted by the
	// UMA granter.
	ClaimTokenFormats []string
}

// ApplySecureDefaults fills unset fields with conservative values. Feature
// flags default to off; token-type sets default to the standard URNs.
func (c *Config) ApplySecureDefaults() {
	if len(c.SubjectTokenTypes) == 0 {
		c.SubjectTokenTypes = []string{token.TypeAccessToken}
	}
	if len(c.ActorTokenTypes) == 0 {
		c.ActorTokenTypes = []string{token.TypeAccessToken}
	}
	if len(c.RequestedTokenTypes) == 0 {
		c.RequestedTokenTypes = []string{
			token.TypeAccessToken,
			token.TypeRefreshToken,
			token.TypeIDToken,
			token.TypeJWT,
		}
	}
	if len(c.ClaimTokenFormats) == 0 {
		c.ClaimTokenFormats = []string{ClaimTokenFormatIDToken}
	}
}

// SupportsSubjectTokenType reports whether the URN is accepted as a subject token type.
func (c *Config) SupportsSubjectTokenType(urn string) bool {
	return util.ContainsString(c.SubjectTokenTypes, urn)
}

// SupportsActorTokenType reports whether the URN is accepted as an actor token type.
func (c *Config) SupportsActorTokenType(urn string) bool {
	return util.ContainsString(c.ActorTokenTypes, urn)
}

// SupportsRequestedTokenType reports whether the URN may be requested.
func (c *Config) SupportsRequestedTokenType(urn string) bool {
	return util.ContainsString(c.RequestedTokenTypes, urn)
}

// SupportsClaimTokenFormat reports whether the claim_token_format is accepted.
func (c *Config) SupportsClaimTokenFormat(format string) bool {
	return util.ContainsString(c.ClaimTokenFormats, format)
}

// Package grant implements the token-issuance decision core: the grant-type
// dispatcher, the granter pipeline contract, and the UMA permission-ticket
// and RFC 8693 token-exchange granters.
package grant

import (
	"context"

	"github.com/coreauth/grantkit/storage"
	"github.com/coreauth/grantkit/token"
)

// Granter handles one grant type. Each implementation runs the same staged
// pipeline: parse, resolve resource owner, grant-specific resolution, build
// canonical request, execute policies, issue. Stages fail fast; no token is
// ever created on a path that later fails.
type Granter interface {
	// GrantType returns the grant-type URN this granter is registered for.
	GrantType() string

	// Handles reports whether this granter serves the given grant type for
	// the given client. It returns false when the grant type does not match
	// or the domain feature flag for this grant is disabled.
	Handles(grantType string, client *storage.Client) bool

	// Grant runs the full pipeline for one token request.
	Grant(ctx context.Context, req *TokenRequest, client *storage.Client) (*Outcome, error)
}

// Outcome is the tagged result of a successful pipeline run: exactly one of
// Token or NeedInfo is set. NeedInfo is a structured continuation, not a
// failure; terminal failures are reported through the error return instead.
type Outcome struct {
	Token    *token.Token
	NeedInfo *NeedInfo
}

// NeedInfo tells a UMA client which claims it must supply before the
// permission request can be decided. The ticket allows the client to retry
// with the same permission context.
type NeedInfo struct {
	Ticket         string          `json:"ticket,omitempty"`
	RequiredClaims []RequiredClaim `json:"required_claims"`
}

// RequiredClaim names one claim the requesting party must push.
type RequiredClaim struct {
	Name             string   `json:"name"`
	FriendlyName     string   `json:"friendly_name,omitempty"`
	ClaimType        string   `json:"claim_type,omitempty"`
	ClaimTokenFormat []string `json:"claim_token_format,omitempty"`
}

// tokenOutcome wraps an issued token as an Outcome.
func tokenOutcome(t *token.Token) *Outcome {
	return &Outcome{Token: t}
}

// needInfoOutcome wraps a continuation as an Outcome.
func needInfoOutcome(ticket string, claims ...RequiredClaim) *Outcome {
	return &Outcome{NeedInfo: &NeedInfo{Ticket: ticket, RequiredClaims: claims}}
}

// claimTokenRequiredClaim is the continuation entry asking for a (fresh)
// claim_token in the supported format.
func claimTokenRequiredClaim(formats []string) RequiredClaim {
	return RequiredClaim{
		Name:             ParamClaimToken,
		FriendlyName:     "claim token",
		ClaimType:        "urn:ietf:params:oauth:token-type:id_token",
		ClaimTokenFormat: formats,
	}
}

// claimTokenFormatRequiredClaim is the continuation entry asking for the
// claim_token_format counterpart.
func claimTokenFormatRequiredClaim(formats []string) RequiredClaim {
	return RequiredClaim{
		Name:             ParamClaimTokenFormat,
		FriendlyName:     "claim token format",
		ClaimTokenFormat: formats,
	}
}

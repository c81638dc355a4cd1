package grant

import (
	"net/url"
	"strings"
)

// Token endpoint parameter names.
const (
	ParamGrantType          = "grant_type"
	ParamScope              = "scope"
	ParamTicket             = "ticket"
	ParamClaimToken         = "claim_token"
	ParamClaimTokenFormat   = "claim_token_format"
	ParamPCT                = "pct"
	ParamRPT                = "rpt"
	ParamSubjectToken       = "subject_token"
	ParamSubjectTokenType   = "subject_token_type"
	ParamActorToken         = "actor_token"
	ParamActorTokenType     = "actor_token_type"
	ParamRequestedTokenType = "requested_token_type"
	ParamAudience           = "audience"
	ParamResource           = "resource"
)

// TokenRequest is the canonical representation of one incoming token-endpoint
// call. It is created per request and discarded after token creation or
// error; never persisted. Grant-specific intermediate state does not live
// here: each granter carries it in its own typed struct.
type TokenRequest struct {
	GrantType string
	Scopes    []string

	// UMA parameters
	Ticket           string
	ClaimToken       string
	ClaimTokenFormat string
	PCT              string
	RPT              string

	// Token-exchange parameters
	SubjectToken       string
	SubjectTokenType   string
	ActorToken         string
	ActorTokenType     string
	RequestedTokenType string
	Audiences          []string
	Resources          []string

	// Params holds the raw form for parameters the engine does not model.
	Params url.Values
}

// ParseTokenRequest builds a TokenRequest from token-endpoint form values.
// Only syntactic extraction happens here; grant-specific validation belongs
// to the granters.
func ParseTokenRequest(form url.Values) *TokenRequest {
	return &TokenRequest{
		GrantType:          form.Get(ParamGrantType),
		Scopes:             SplitScopes(form.Get(ParamScope)),
		Ticket:             form.Get(ParamTicket),
		ClaimToken:         form.Get(ParamClaimToken),
		ClaimTokenFormat:   form.Get(ParamClaimTokenFormat),
		PCT:                form.Get(ParamPCT),
		RPT:                form.Get(ParamRPT),
		SubjectToken:       form.Get(ParamSubjectToken),
		SubjectTokenType:   form.Get(ParamSubjectTokenType),
		ActorToken:         form.Get(ParamActorToken),
		ActorTokenType:     form.Get(ParamActorTokenType),
		RequestedTokenType: form.Get(ParamRequestedTokenType),
		Audiences:          nonEmpty(form[ParamAudience]),
		Resources:          nonEmpty(form[ParamResource]),
		Params:             form,
	}
}

// SplitScopes splits a space-delimited scope string into a slice,
// dropping empty entries.
func SplitScopes(scope string) []string {
	return nonEmpty(strings.Fields(scope))
}

// JoinScopes joins a scope slice into the space-delimited wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

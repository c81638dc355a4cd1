package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coreauth/grantkit/identity"
	"github.com/coreauth/grantkit/instrumentation"
	"github.com/coreauth/grantkit/security"
	"github.com/coreauth/grantkit/storage"
	"github.com/coreauth/grantkit/token"
)

// ExchangeGranterConfig configures an RFC 8693 token-exchange granter.
type ExchangeGranterConfig struct {
	// Domain holds the feature flags and supported token-type sets.
	Domain Config

	// Tokens verifies subject/actor tokens and issues the exchanged token (required).
	Tokens token.Service

	// Identities resolves the end user behind the subject token (required).
	Identities identity.Resolver

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger

	// Auditor is the optional security auditor.
	Auditor *security.Auditor

	// Instrumentation is optional OpenTelemetry instrumentation.
	Instrumentation *instrumentation.Instrumentation
}

// ExchangeGranter implements RFC 8693 Token Exchange: it validates the
// subject (and optional actor) security token, applies the domain's scope
// downscoping policy, enforces impersonation/delegation gating, and records
// delegation through the act claim.
type ExchangeGranter struct {
	cfg ExchangeGranterConfig
}

var _ Granter = (*ExchangeGranter)(nil)

// NewExchangeGranter creates a token-exchange granter.
func NewExchangeGranter(cfg ExchangeGranterConfig) (*ExchangeGranter, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if cfg.Identities == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Domain.ApplySecureDefaults()
	return &ExchangeGranter{cfg: cfg}, nil
}

// GrantType returns the RFC 8693 grant URN.
func (g *ExchangeGranter) GrantType() string { return GrantTypeTokenExchange }

// Handles reports whether this granter serves the request.
func (g *ExchangeGranter) Handles(grantType string, _ *storage.Client) bool {
	return grantType == GrantTypeTokenExchange && g.cfg.Domain.TokenExchangeEnabled
}

// exchange carries the intermediate state of one token exchange through the
// pipeline stages.
type exchange struct {
	req           *TokenRequest
	client        *storage.Client
	subjectClaims *token.Claims
	actorClaims   *token.Claims
	user          *identity.User
	grantedScopes []string
	downscoped    bool
}

// Grant runs the exchange pipeline: parse, validate subject token, resolve
// resource owner, validate scopes, validate actor token, build canonical
// request, issue.
func (g *ExchangeGranter) Grant(ctx context.Context, req *TokenRequest, client *storage.Client) (*Outcome, error) {
	ex := &exchange{req: req, client: client}

	if err := g.parseRequest(ex); err != nil {
		return nil, err
	}
	if err := g.validateSubjectToken(ctx, ex); err != nil {
		return nil, err
	}
	if err := g.resolveResourceOwner(ctx, ex); err != nil {
		return nil, err
	}
	if err := g.validateScopes(ex); err != nil {
		return nil, err
	}
	if err := g.validateActorToken(ctx, ex); err != nil {
		return nil, err
	}
	oreq := g.createOAuth2Request(ex)
	return g.issue(ctx, ex, oreq)
}

// parseRequest validates the exchange parameters and enforces the domain's
// impersonation/delegation policy.
func (g *ExchangeGranter) parseRequest(ex *exchange) error {
	req := ex.req

	if req.SubjectToken == "" {
		return ErrInvalidRequest("subject_token is required")
	}
	if req.SubjectTokenType == "" {
		return ErrInvalidRequest("subject_token_type is required")
	}
	if !g.cfg.Domain.SupportsSubjectTokenType(req.SubjectTokenType) {
		return ErrInvalidRequest(fmt.Sprintf("unsupported subject_token_type %q", req.SubjectTokenType))
	}

	if req.ActorToken != "" {
		if req.ActorTokenType == "" {
			return ErrInvalidRequest("actor_token_type is required when actor_token is present")
		}
		if !g.cfg.Domain.SupportsActorTokenType(req.ActorTokenType) {
			return ErrInvalidRequest(fmt.Sprintf("unsupported actor_token_type %q", req.ActorTokenType))
		}
	}

	if req.RequestedTokenType != "" && !g.cfg.Domain.SupportsRequestedTokenType(req.RequestedTokenType) {
		return ErrInvalidRequest(fmt.Sprintf("unsupported requested_token_type %q", req.RequestedTokenType))
	}

	// No actor token means the client impersonates the subject outright; an
	// actor token means delegation. Each mode needs its own domain permission.
	if req.ActorToken == "" && !g.cfg.Domain.AllowImpersonation {
		g.cfg.Auditor.LogGrantDenied("", ex.client.ClientID, GrantTypeTokenExchange, "impersonation not allowed")
		return ErrUnauthorizedClient("client is not allowed to impersonate")
	}
	if req.ActorToken != "" && !g.cfg.Domain.AllowDelegation {
		g.cfg.Auditor.LogGrantDenied("", ex.client.ClientID, GrantTypeTokenExchange, "delegation not allowed")
		return ErrUnauthorizedClient("client is not allowed delegation")
	}

	return nil
}

// validateSubjectToken verifies the subject token and retains its scope set
// for downscoping.
func (g *ExchangeGranter) validateSubjectToken(ctx context.Context, ex *exchange) error {
	claims, err := g.cfg.Tokens.DecodeAndVerify(ctx, ex.req.SubjectToken, ex.client)
	if err != nil {
		return ErrInvalidGrant("invalid subject_token")
	}
	if claims.Expired() {
		return ErrInvalidToken("subject_token is expired")
	}

	ex.subjectClaims = claims
	return nil
}

// resolveResourceOwner derives the end user from the subject token's sub
// claim. An unknown subject is tolerated as an anonymous exchange; any other
// resolution error propagates.
func (g *ExchangeGranter) resolveResourceOwner(ctx context.Context, ex *exchange) error {
	subject := ex.subjectClaims.Subject
	if subject == "" {
		return nil
	}

	user, err := g.cfg.Identities.LoadBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			g.cfg.Logger.Debug("Subject not found, continuing as anonymous exchange",
				"client_id", ex.client.ClientID)
			return nil
		}
		return fmt.Errorf("failed to resolve resource owner: %w", err)
	}

	ex.user = user
	return nil
}

// validateScopes applies the downscoping laws. With downscoping disallowed
// the requested scope set is discarded entirely. Otherwise requested scopes
// must be a non-empty subset of the subject token's scopes; an empty request
// inherits the full subject scope set.
func (g *ExchangeGranter) validateScopes(ex *exchange) error {
	if !g.cfg.Domain.AllowScopeDownscoping {
		ex.grantedScopes = nil
		return nil
	}

	requested := ex.req.Scopes
	subjectScopes := ex.subjectClaims.Scopes

	if len(requested) == 0 {
		ex.grantedScopes = subjectScopes
		return nil
	}

	if len(subjectScopes) == 0 {
		return ErrInvalidRequest("subject_token carries no scopes to downscope from")
	}
	if !subsetOf(requested, subjectScopes) {
		return ErrInvalidRequest("requested scope exceeds the subject_token scope")
	}

	ex.grantedScopes = requested
	ex.downscoped = len(requested) < len(subjectScopes)
	return nil
}

// validateActorToken verifies the actor token when delegation is requested.
func (g *ExchangeGranter) validateActorToken(ctx context.Context, ex *exchange) error {
	if ex.req.ActorToken == "" {
		return nil
	}

	claims, err := g.cfg.Tokens.DecodeAndVerify(ctx, ex.req.ActorToken, ex.client)
	if err != nil {
		return ErrInvalidGrant("invalid actor_token")
	}
	if claims.Expired() {
		return ErrInvalidGrant("invalid actor_token")
	}

	ex.actorClaims = claims
	return nil
}

// createOAuth2Request assembles the canonical request. The audience
// parameter adds to the resource set rather than replacing it, and the act
// claim records the actor of record: the actor token's subject under
// delegation, the client itself otherwise.
func (g *ExchangeGranter) createOAuth2Request(ex *exchange) *token.OAuth2Request {
	resources := make([]string, 0, len(ex.req.Resources)+len(ex.req.Audiences))
	resources = append(resources, ex.req.Resources...)
	for _, aud := range ex.req.Audiences {
		if !scopeIn(resources, aud) {
			resources = append(resources, aud)
		}
	}

	oreq := &token.OAuth2Request{
		Scopes:    ex.grantedScopes,
		Resources: resources,
	}
	if ex.user != nil {
		oreq.Subject = ex.user.ID
		oreq.RefreshTokenEligible = ex.client.AllowRefreshToken
	}

	act := map[string]any{"sub": ex.client.ClientID}
	if ex.actorClaims != nil {
		act["sub"] = ex.actorClaims.Subject
		if ex.actorClaims.Issuer != "" {
			act["iss"] = ex.actorClaims.Issuer
		}
	}
	oreq.ExecutionContext = map[string]any{"act": act}

	return oreq
}

// issue creates the exchanged token and post-processes the response.
func (g *ExchangeGranter) issue(ctx context.Context, ex *exchange, oreq *token.OAuth2Request) (*Outcome, error) {
	issued, err := g.cfg.Tokens.Issue(ctx, oreq, ex.client, ex.user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	if issued.AdditionalInformation == nil {
		issued.AdditionalInformation = make(map[string]any)
	}
	issuedType := ex.req.RequestedTokenType
	if issuedType == "" {
		issuedType = token.TypeAccessToken
	}
	issued.AdditionalInformation[token.InfoIssuedTokenType] = issuedType

	if g.cfg.Instrumentation != nil {
		if ex.downscoped {
			g.cfg.Instrumentation.Metrics().RecordExchangeDownscoped(ctx)
		}
		if ex.actorClaims != nil {
			g.cfg.Instrumentation.Metrics().RecordDelegation(ctx)
		}
	}

	userID := ""
	if ex.user != nil {
		userID = ex.user.ID
	}
	g.cfg.Auditor.LogTokenIssued(userID, ex.client.ClientID, GrantTypeTokenExchange, issued.Scope)

	return tokenOutcome(issued), nil
}

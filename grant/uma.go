package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreauth/grantkit/identity"
	"github.com/coreauth/grantkit/instrumentation"
	"github.com/coreauth/grantkit/internal/util"
	"github.com/coreauth/grantkit/policy"
	"github.com/coreauth/grantkit/security"
	"github.com/coreauth/grantkit/storage"
	"github.com/coreauth/grantkit/token"
)

const ticketLogLength = 8

// UMAGranterConfig configures a UMA permission-ticket granter.
type UMAGranterConfig struct {
	// Domain holds the feature flags and supported claim-token formats.
	Domain Config

	// Tokens verifies claim tokens and RPTs and issues the final token (required).
	Tokens token.Service

	// Tickets is the permission-ticket store (required). Its RemoveTicket
	// must be atomic: ticket consumption correctness depends on it.
	Tickets storage.TicketStore

	// Resources resolves the resources and access policies a ticket names (required).
	Resources storage.ResourceStore

	// Identities resolves the end user behind a claim token's subject (required).
	Identities identity.Resolver

	// Policies evaluates access policies. Optional: when nil, resources with
	// attached policies cannot be granted.
	Policies policy.Engine

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger

	// Auditor is the optional security auditor.
	Auditor *security.Auditor

	// Instrumentation is optional OpenTelemetry instrumentation.
	Instrumentation *instrumentation.Instrumentation
}

// UMAGranter implements the UMA 2.0 permission-ticket grant: it redeems a
// single-use permission ticket into scoped permissions, optionally merges
// them into a previously issued RPT, and gates each permission through the
// access policies attached to its resource.
type UMAGranter struct {
	cfg UMAGranterConfig
}

var _ Granter = (*UMAGranter)(nil)

// NewUMAGranter creates a UMA granter.
func NewUMAGranter(cfg UMAGranterConfig) (*UMAGranter, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if cfg.Tickets == nil {
		return nil, fmt.Errorf("ticket store is required")
	}
	if cfg.Resources == nil {
		return nil, fmt.Errorf("resource store is required")
	}
	if cfg.Identities == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Domain.ApplySecureDefaults()
	return &UMAGranter{cfg: cfg}, nil
}

// GrantType returns the UMA ticket grant URN.
func (g *UMAGranter) GrantType() string { return GrantTypeUMATicket }

// Handles reports whether this granter serves the request.
func (g *UMAGranter) Handles(grantType string, _ *storage.Client) bool {
	return grantType == GrantTypeUMATicket && g.cfg.Domain.UMAEnabled
}

// umaExchange carries the intermediate state of one UMA grant through the
// pipeline stages.
type umaExchange struct {
	req         *TokenRequest
	client      *storage.Client
	user        *identity.User
	permissions []storage.Permission
	rptAccepted bool
}

// Grant runs the UMA pipeline: parse, resolve resource owner, resolve
// permissions, build canonical request, execute policies, issue.
func (g *UMAGranter) Grant(ctx context.Context, req *TokenRequest, client *storage.Client) (*Outcome, error) {
	ex := &umaExchange{req: req, client: client}

	if outcome, err := g.parseRequest(ex); outcome != nil || err != nil {
		return outcome, err
	}
	if outcome, err := g.resolveResourceOwner(ctx, ex); outcome != nil || err != nil {
		return outcome, err
	}
	if err := g.resolvePermissions(ctx, ex); err != nil {
		return nil, err
	}
	oreq := g.createOAuth2Request(ex)
	if err := g.executePolicies(ctx, ex); err != nil {
		return nil, err
	}
	return g.issue(ctx, ex, oreq)
}

// parseRequest validates the UMA parameters. A lone claim_token or
// claim_token_format, or an unsupported format, yields a need_info
// continuation rather than a terminal error.
func (g *UMAGranter) parseRequest(ex *umaExchange) (*Outcome, error) {
	req := ex.req

	if req.Ticket == "" {
		return nil, ErrInvalidGrant("ticket is required")
	}

	formats := g.cfg.Domain.ClaimTokenFormats
	switch {
	case req.ClaimToken != "" && req.ClaimTokenFormat == "":
		g.cfg.Auditor.LogNeedInfo(ex.client.ClientID, []string{ParamClaimTokenFormat})
		return needInfoOutcome(req.Ticket, claimTokenFormatRequiredClaim(formats)), nil
	case req.ClaimToken == "" && req.ClaimTokenFormat != "":
		g.cfg.Auditor.LogNeedInfo(ex.client.ClientID, []string{ParamClaimToken})
		return needInfoOutcome(req.Ticket, claimTokenRequiredClaim(formats)), nil
	case req.ClaimTokenFormat != "" && !g.cfg.Domain.SupportsClaimTokenFormat(req.ClaimTokenFormat):
		g.cfg.Auditor.LogNeedInfo(ex.client.ClientID, []string{ParamClaimToken})
		return needInfoOutcome(req.Ticket, claimTokenRequiredClaim(formats)), nil
	}

	// Requested scopes must already be pre-registered for the client.
	if len(req.Scopes) > 0 && !subsetOf(req.Scopes, ex.client.Scopes) {
		return nil, ErrInvalidScope("requested scope is not registered for this client")
	}

	return nil, nil
}

// resolveResourceOwner resolves the end user from the claim token. Without a
// claim token the permission request stays anonymous. Any claim-token
// verification or resolution failure is converted into a need_info asking
// for a fresh claim_token, never a hard failure.
func (g *UMAGranter) resolveResourceOwner(ctx context.Context, ex *umaExchange) (*Outcome, error) {
	if ex.req.ClaimToken == "" {
		return nil, nil
	}

	needFreshClaimToken := func(reason string) (*Outcome, error) {
		g.cfg.Logger.Debug("Claim token rejected, requesting a fresh one",
			"client_id", ex.client.ClientID,
			"reason", reason)
		g.cfg.Auditor.LogNeedInfo(ex.client.ClientID, []string{ParamClaimToken})
		return needInfoOutcome(ex.req.Ticket, claimTokenRequiredClaim(g.cfg.Domain.ClaimTokenFormats)), nil
	}

	claims, err := g.cfg.Tokens.DecodeAndVerify(ctx, ex.req.ClaimToken, ex.client)
	if err != nil {
		return needFreshClaimToken("verification failed")
	}
	if claims.Expired() {
		return needFreshClaimToken("expired")
	}

	user, err := g.cfg.Identities.LoadBySubject(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return needFreshClaimToken("unknown subject")
		}
		return nil, fmt.Errorf("failed to resolve resource owner: %w", err)
	}

	ex.user = user
	return nil, nil
}

// resolvePermissions redeems the ticket and computes the final permission
// set, merging with a presented RPT when one is supplied.
func (g *UMAGranter) resolvePermissions(ctx context.Context, ex *umaExchange) error {
	ticket, err := g.cfg.Tickets.RemoveTicket(ctx, ex.req.Ticket)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTicketNotFound):
			g.cfg.Auditor.LogTicketRaceLost(ex.client.ClientID)
			if g.cfg.Instrumentation != nil {
				g.cfg.Instrumentation.Metrics().RecordTicketRaceLost(ctx)
			}
			return ErrInvalidGrant("ticket not found")
		case errors.Is(err, storage.ErrTicketExpired):
			return ErrInvalidGrant("ticket expired")
		default:
			return fmt.Errorf("failed to remove ticket: %w", err)
		}
	}

	g.cfg.Logger.Debug("Redeemed permission ticket",
		"ticket_prefix", util.SafeTruncate(ticket.ID, ticketLogLength),
		"permissions", len(ticket.Permissions))
	if g.cfg.Instrumentation != nil {
		g.cfg.Instrumentation.Metrics().RecordTicketRedeemed(ctx, len(ticket.Permissions))
	}

	resourceIDs := make([]string, 0, len(ticket.Permissions))
	for _, p := range ticket.Permissions {
		resourceIDs = append(resourceIDs, p.ResourceID)
	}

	resources, err := g.cfg.Resources.FindResourcesByIDs(ctx, resourceIDs)
	if err != nil {
		if errors.Is(err, storage.ErrResourceNotFound) {
			return ErrInvalidGrant("ticket references an unknown resource")
		}
		return fmt.Errorf("failed to fetch resources: %w", err)
	}

	byID := make(map[string]*storage.Resource, len(resources))
	registeredUnion := []string{}
	for _, r := range resources {
		byID[r.ID] = r
		registeredUnion = unionScopes(registeredUnion, r.Scopes)
	}

	// Requested scopes must be covered by the union of the registered scopes
	// of all resources the ticket names.
	if len(ex.req.Scopes) > 0 && !subsetOf(ex.req.Scopes, registeredUnion) {
		return ErrInvalidScope("requested scope is not registered for the requested resources")
	}

	// Final scopes per permission: the ticket's own grant is never reduced,
	// token-requested scopes only add what the resource registers.
	permissions := make([]storage.Permission, 0, len(ticket.Permissions))
	for _, p := range ticket.Permissions {
		resource := byID[p.ResourceID]
		granted := unionScopes(p.Scopes, intersectScopes(ex.req.Scopes, resource.Scopes))
		permissions = append(permissions, storage.Permission{
			ResourceID: p.ResourceID,
			Scopes:     granted,
		})
	}

	if ex.req.RPT != "" {
		merged, err := g.mergeWithRPT(ctx, ex, permissions)
		if err != nil {
			return err
		}
		permissions = merged
		ex.rptAccepted = true
	}

	ex.permissions = permissions
	return nil
}

// mergeWithRPT verifies a presented RPT and unions its embedded permissions
// with the newly granted ones. Permissions present only on one side pass
// through unchanged.
func (g *UMAGranter) mergeWithRPT(ctx context.Context, ex *umaExchange, permissions []storage.Permission) ([]storage.Permission, error) {
	claims, err := g.cfg.Tokens.DecodeAndVerify(ctx, ex.req.RPT, ex.client)
	if err != nil {
		return nil, ErrInvalidGrant("rpt not valid")
	}

	// The RPT must belong to the requesting party and this client.
	expectedSubject := ex.client.ClientID
	if ex.user != nil {
		expectedSubject = ex.user.ID
	}
	if claims.Subject != expectedSubject || !claims.HasAudience(ex.client.ClientID) {
		return nil, ErrInvalidGrant("rpt not valid")
	}

	merged := make([]storage.Permission, 0, len(permissions)+len(claims.Permissions))
	index := make(map[string]int, len(permissions))
	for _, p := range permissions {
		index[p.ResourceID] = len(merged)
		merged = append(merged, p)
	}
	for _, prior := range claims.Permissions {
		if i, ok := index[prior.ResourceID]; ok {
			merged[i].Scopes = unionScopes(merged[i].Scopes, prior.Scopes)
		} else {
			index[prior.ResourceID] = len(merged)
			merged = append(merged, prior)
		}
	}

	return merged, nil
}

// createOAuth2Request assembles the canonical request. The token-level scope
// set is discarded: the grant is now fully expressed per permission.
func (g *UMAGranter) createOAuth2Request(ex *umaExchange) *token.OAuth2Request {
	oreq := &token.OAuth2Request{
		Permissions: ex.permissions,
	}
	if ex.user != nil {
		oreq.Subject = ex.user.ID
		oreq.RefreshTokenEligible = ex.client.AllowRefreshToken
	}
	return oreq
}

// executePolicies fires the access policies attached to the granted
// resources. Resources without a policy are not gated; any rejection maps to
// InvalidGrant with a fixed message.
func (g *UMAGranter) executePolicies(ctx context.Context, ex *umaExchange) error {
	resourceIDs := make([]string, 0, len(ex.permissions))
	byResource := make(map[string]storage.Permission, len(ex.permissions))
	for _, p := range ex.permissions {
		resourceIDs = append(resourceIDs, p.ResourceID)
		byResource[p.ResourceID] = p
	}

	policies, err := g.cfg.Resources.FindAccessPoliciesByResourceIDs(ctx, resourceIDs)
	if err != nil {
		return fmt.Errorf("failed to fetch access policies: %w", err)
	}
	if len(policies) == 0 {
		return nil
	}
	if g.cfg.Policies == nil {
		return ErrInvalidGrant("the permission request was rejected by policy")
	}

	rules := make([]policy.Rule, 0, len(policies))
	for _, ap := range policies {
		rules = append(rules, policy.Rule{
			Policy:     ap,
			Permission: byResource[ap.ResourceID],
		})
	}

	ectx := &policy.ExecutionContext{
		ClientID:   ex.client.ClientID,
		Attributes: map[string]any{"client_name": ex.client.ClientName},
	}
	if ex.user != nil {
		ectx.UserID = ex.user.ID
		for k, v := range ex.user.AdditionalInformation {
			ectx.Attributes[k] = v
		}
	}

	if err := g.cfg.Policies.Fire(ctx, rules, ectx); err != nil {
		if errors.Is(err, policy.ErrDenied) {
			userID := ""
			if ex.user != nil {
				userID = ex.user.ID
			}
			g.cfg.Auditor.LogPolicyRejected(userID, ex.client.ClientID, rejectedResourceID(err, resourceIDs))
			if g.cfg.Instrumentation != nil {
				g.cfg.Instrumentation.Metrics().RecordPolicyRejection(ctx, rejectedResourceID(err, resourceIDs))
			}
			return ErrInvalidGrant("the permission request was rejected by policy")
		}
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	return nil
}

// rejectedResourceID best-effort extracts which resource a denial concerned;
// falls back to the first gated resource.
func rejectedResourceID(err error, resourceIDs []string) string {
	msg := err.Error()
	for _, id := range resourceIDs {
		if id != "" && strings.Contains(msg, id) {
			return id
		}
	}
	if len(resourceIDs) > 0 {
		return resourceIDs[0]
	}
	return ""
}

// issue creates the RPT and post-processes the response fields.
func (g *UMAGranter) issue(ctx context.Context, ex *umaExchange, oreq *token.OAuth2Request) (*Outcome, error) {
	issued, err := g.cfg.Tokens.Issue(ctx, oreq, ex.client, ex.user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	if issued.AdditionalInformation == nil {
		issued.AdditionalInformation = make(map[string]any)
	}
	if ex.rptAccepted {
		issued.AdditionalInformation[token.InfoUpgraded] = true
		if g.cfg.Instrumentation != nil {
			g.cfg.Instrumentation.Metrics().RecordRPTUpgrade(ctx)
		}
	}
	if ex.req.PCT != "" {
		issued.AdditionalInformation[ParamPCT] = ex.req.PCT
	}

	userID := ""
	if ex.user != nil {
		userID = ex.user.ID
	}
	g.cfg.Auditor.LogTicketRedeemed(userID, ex.client.ClientID, len(ex.permissions))
	g.cfg.Auditor.LogTokenIssued(userID, ex.client.ClientID, GrantTypeUMATicket, issued.Scope)

	return tokenOutcome(issued), nil
}

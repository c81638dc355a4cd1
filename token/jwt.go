package token

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/coreauth/grantkit/identity"
	"github.com/coreauth/grantkit/storage"
)

const (
	// DefaultAccessTokenTTL is the default lifetime of issued access tokens
	DefaultAccessTokenTTL = time.Hour
)

// JWTConfig holds configuration for the JWT token service.
type JWTConfig struct {
	// Issuer is the value of the iss claim on issued tokens (required).
	Issuer string

	// SigningKey is the HMAC key used to sign and verify tokens (required).
	SigningKey []byte

	// AccessTokenTTL is the lifetime of issued access tokens.
	// Default: 1 hour.
	AccessTokenTTL time.Duration

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// JWTService signs and verifies HS256 JWTs. It implements Service.
type JWTService struct {
	issuer string
	key    []byte
	ttl    time.Duration
	logger *slog.Logger
	parser *jwt.Parser
}

var _ Service = (*JWTService)(nil)

// NewJWTService creates a JWT-backed token service.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JWTService{
		issuer: cfg.Issuer,
		key:    cfg.SigningKey,
		ttl:    ttl,
		logger: logger,
		// Claims validation is left to the granters: each grant applies its
		// own expiry rule (clock-skew grace, expired-is-need-info for UMA
		// claim tokens, expired-is-invalid-token for exchange subjects).
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// DecodeAndVerify decodes a raw JWT and verifies its signature.
func (s *JWTService) DecodeAndVerify(_ context.Context, raw string, _ *storage.Client) (*Claims, error) {
	parsed, err := s.parser.Parse(raw, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrVerificationFailed)
	}

	return claimsFromMap(mapClaims)
}

// Issue creates a signed JWT from the canonical request.
func (s *JWTService) Issue(_ context.Context, req *OAuth2Request, client *storage.Client, user *identity.User) (*Token, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)

	subject := req.Subject
	if subject == "" {
		subject = client.ClientID
	}

	claims := jwt.MapClaims{
		"iss":       s.issuer,
		"sub":       subject,
		"iat":       now.Unix(),
		"exp":       expiresAt.Unix(),
		"jti":       uuid.NewString(),
		"client_id": client.ClientID,
	}

	if len(req.Resources) > 0 {
		claims["aud"] = req.Resources
	} else {
		claims["aud"] = client.ClientID
	}

	scope := strings.Join(req.Scopes, " ")
	if scope != "" {
		claims["scope"] = scope
	}

	if len(req.Permissions) > 0 {
		claims["permissions"] = req.Permissions
	}

	// Execution-context entries become top-level claims (e.g. act).
	for name, value := range req.ExecutionContext {
		claims[name] = value
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	tok := &Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
		Scope:       scope,
		AdditionalInformation: map[string]any{
			InfoScope: scope,
		},
	}

	if req.RefreshTokenEligible {
		tok.RefreshToken = oauth2.GenerateVerifier()
	}

	s.logger.Debug("Issued token",
		"client_id", client.ClientID,
		"subject_present", user != nil,
		"scope", scope,
		"permissions", len(req.Permissions))

	return tok, nil
}

// claimsFromMap converts a raw JWT claim map into the engine's Claims model,
// normalizing the scope claim from string or collection form.
func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	c := &Claims{Raw: map[string]any(m)}

	if sub, err := m.GetSubject(); err == nil {
		c.Subject = sub
	}
	if iss, err := m.GetIssuer(); err == nil {
		c.Issuer = iss
	}
	if aud, err := m.GetAudience(); err == nil {
		c.Audience = []string(aud)
	}
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}

	c.Scopes = normalizeScopeClaim(m["scope"])
	c.Permissions = permissionsFromClaim(m["permissions"])

	return c, nil
}

// normalizeScopeClaim turns a scope claim into a scope set. The claim may be
// a space-delimited string (RFC 8693 Section 4.2) or a collection of strings.
func normalizeScopeClaim(value any) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return strings.Fields(v)
	case []string:
		return v
	case []any:
		scopes := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				scopes = append(scopes, s)
			}
		}
		if len(scopes) == 0 {
			return nil
		}
		return scopes
	default:
		return nil
	}
}

// permissionsFromClaim decodes the permissions claim embedded in an RPT.
func permissionsFromClaim(value any) []storage.Permission {
	items, ok := value.([]any)
	if !ok {
		return nil
	}

	perms := make([]storage.Permission, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}

		perm := storage.Permission{}
		if rsid, ok := entry["rsid"].(string); ok {
			perm.ResourceID = rsid
		}
		perm.Scopes = normalizeScopeClaim(entry["scopes"])

		if perm.ResourceID != "" {
			perms = append(perms, perm)
		}
	}

	if len(perms) == 0 {
		return nil
	}
	return perms
}

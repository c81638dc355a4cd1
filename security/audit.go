// Package security provides security features for the grant engine including
// audit logging, rate limiting, and clock-skew tolerant expiry checks.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	GrantType string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"grant_type", event.GrantType,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when the grant engine issues a token
func (a *Auditor) LogTokenIssued(userID, clientID, grantType, scope string) {
	a.LogEvent(Event{
		Type:      "token_issued",
		UserID:    userID,
		ClientID:  clientID,
		GrantType: grantType,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogGrantDenied logs a denied grant request
func (a *Auditor) LogGrantDenied(userID, clientID, grantType, reason string) {
	a.LogEvent(Event{
		Type:      "grant_denied",
		UserID:    userID,
		ClientID:  clientID,
		GrantType: grantType,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogNeedInfo logs a UMA need_info continuation naming the claims the
// requesting party must still supply
func (a *Auditor) LogNeedInfo(clientID string, requiredClaims []string) {
	a.LogEvent(Event{
		Type:     "uma_need_info",
		ClientID: clientID,
		Details: map[string]any{
			"required_claims": requiredClaims,
		},
	})
}

// LogTicketRedeemed logs a successful permission ticket redemption
func (a *Auditor) LogTicketRedeemed(userID, clientID string, resourceCount int) {
	a.LogEvent(Event{
		Type:     "ticket_redeemed",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"resource_count": resourceCount,
		},
	})
}

// LogTicketRaceLost logs a redemption attempt for a ticket that was already
// consumed. Concurrent redemption of the same ticket is a token-theft
// indicator, so these events deserve monitoring.
func (a *Auditor) LogTicketRaceLost(clientID string) {
	a.LogEvent(Event{
		Type:     "ticket_already_consumed",
		ClientID: clientID,
		Details: map[string]any{
			"severity": "warning",
		},
	})
}

// LogPolicyRejected logs a policy-engine rejection for a resource
func (a *Auditor) LogPolicyRejected(userID, clientID, resourceID string) {
	a.LogEvent(Event{
		Type:     "policy_rejected",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"resource_id": resourceID,
		},
	})
}

// hashForLogging hashes PII for audit logs. User IDs are logged only as a
// short SHA-256 prefix so operators can correlate events without storing
// the identifier itself.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}

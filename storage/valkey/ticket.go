package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coreauth/grantkit/internal/util"
	"github.com/coreauth/grantkit/storage"
)

// ============================================================
// TicketStore Implementation
// ============================================================

// serializableTicket is the JSON representation of a permission ticket.
type serializableTicket struct {
	ID          string               `json:"id"`
	Permissions []storage.Permission `json:"permissions"`
	CreatedAt   time.Time            `json:"created_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
}

// SaveTicket stores a permission ticket with a TTL derived from its expiry.
// Valkey evicts the key when the TTL elapses, so expired tickets never need
// explicit cleanup.
func (s *Store) SaveTicket(ctx context.Context, ticket *storage.PermissionTicket) error {
	if ticket == nil || ticket.ID == "" {
		return fmt.Errorf("invalid permission ticket")
	}
	if len(ticket.Permissions) == 0 {
		return fmt.Errorf("permission ticket must carry at least one permission")
	}

	// Validate input lengths to prevent DoS
	if err := validateStringLength(ticket.ID, MaxIDLength, "ticket ID"); err != nil {
		return err
	}

	st := serializableTicket{
		ID:          ticket.ID,
		Permissions: ticket.Permissions,
		CreatedAt:   ticket.CreatedAt,
		ExpiresAt:   ticket.ExpiresAt,
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	// Validate serialized size
	if len(data) > MaxRecordSize {
		return errInputTooLarge
	}

	key := s.ticketKey(ticket.ID)

	var execErr error
	if !ticket.ExpiresAt.IsZero() {
		ttl := calculateTTL(ticket.ExpiresAt)
		if ttl <= 0 {
			return fmt.Errorf("ticket already expired")
		}
		execErr = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()).Error()
	} else {
		execErr = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error()
	}

	if execErr != nil {
		return fmt.Errorf("failed to save ticket: %w", execErr)
	}

	s.logger.Debug("Saved permission ticket",
		"ticket_prefix", util.SafeTruncate(ticket.ID, ticketIDLogLength),
		"permissions", len(ticket.Permissions),
		"expires_at", ticket.ExpiresAt)
	return nil
}

// RemoveTicket atomically removes and returns a permission ticket using GETDEL.
//
// SECURITY: GETDEL is a single atomic command - only ONE concurrent request
// observes the value, all others see a nil reply mapped to ErrTicketNotFound.
// A removed ticket is never restored, even if the winning request is later
// cancelled (at-most-once consumption).
func (s *Store) RemoveTicket(ctx context.Context, id string) (*storage.PermissionTicket, error) {
	key := s.ticketKey(id)

	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: not found or already redeemed", storage.ErrTicketNotFound)
		}
		return nil, fmt.Errorf("failed to remove ticket: %w", err)
	}

	var st serializableTicket
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket: %w", err)
	}

	// TTL normally evicts expired tickets, but check anyway: a zero-expiry
	// ticket or one caught between expiry and eviction must not be honored.
	if !st.ExpiresAt.IsZero() && time.Now().After(st.ExpiresAt) {
		return nil, fmt.Errorf("%w: %s", storage.ErrTicketExpired, util.SafeTruncate(id, ticketIDLogLength))
	}

	s.logger.Debug("Atomically removed permission ticket",
		"ticket_prefix", util.SafeTruncate(id, ticketIDLogLength))

	return &storage.PermissionTicket{
		ID:          st.ID,
		Permissions: st.Permissions,
		CreatedAt:   st.CreatedAt,
		ExpiresAt:   st.ExpiresAt,
	}, nil
}

// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/coreauth/grantkit/instrumentation"
	"github.com/coreauth/grantkit/internal/util"
	"github.com/coreauth/grantkit/security"
	"github.com/coreauth/grantkit/storage"
)

const (
	// ticketIDLogLength is the number of characters to include when logging
	// ticket IDs. Enough uniqueness for debugging while keeping logs secure.
	ticketIDLogLength = 8

	// maxTicketEntries is the threshold for warning about excessive ticket
	// growth. This helps detect potential memory exhaustion attacks.
	maxTicketEntries = 10000

	// hardMaxTicketEntries is the hard limit for stored tickets. Exceeding it
	// causes SaveTicket to fail rather than exhaust memory.
	hardMaxTicketEntries = 50000
)

// Store is an in-memory implementation of all storage interfaces.
// It implements TicketStore, ResourceStore, and ClientStore.
type Store struct {
	mu sync.RWMutex

	// Ticket storage: redeemed exactly once, expired entries reaped in background
	tickets map[string]*storage.PermissionTicket

	// Resource registry and the policies attached to each resource
	resources map[string]*storage.Resource
	policies  map[string][]*storage.AccessPolicy // resource ID -> policies

	// Client storage
	clients map[string]*storage.Client

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	meter           metric.Meter

	// Atomic counters for metrics (lock-free access during metric collection)
	ticketsCountAtomic   atomic.Int64
	clientsCountAtomic   atomic.Int64
	resourcesCountAtomic atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.TicketStore   = (*Store)(nil)
	_ storage.ResourceStore = (*Store)(nil)
	_ storage.ClientStore   = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		tickets:         make(map[string]*storage.PermissionTicket),
		resources:       make(map[string]*storage.Resource),
		policies:        make(map[string][]*storage.AccessPolicy),
		clients:         make(map[string]*storage.Client),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
		s.meter = inst.Meter("storage")
	}

	// Initialize atomic counters with current counts
	s.ticketsCountAtomic.Store(int64(len(s.tickets)))
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.resourcesCountAtomic.Store(int64(len(s.resources)))
	s.mu.Unlock()

	if inst != nil {
		// Register storage size callbacks using atomic counters (lock-free)
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.ticketsCountAtomic.Load() },
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.resourcesCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// TicketStore Implementation
// ============================================================

// SaveTicket stores a newly issued permission ticket
func (s *Store) SaveTicket(ctx context.Context, ticket *storage.PermissionTicket) error {
	ctx, span := s.startStorageSpan(ctx, "save_ticket")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_ticket", err, startTime)
	}()

	if ticket == nil || ticket.ID == "" {
		err = fmt.Errorf("invalid permission ticket")
		return err
	}
	if len(ticket.Permissions) == 0 {
		err = fmt.Errorf("permission ticket must carry at least one permission")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// SECURITY: Enforce hard limit on stored tickets to prevent memory
	// exhaustion via unbounded ticket issuance
	if _, exists := s.tickets[ticket.ID]; !exists {
		currentCount := len(s.tickets)
		if currentCount >= hardMaxTicketEntries {
			s.logger.Error("CRITICAL: Permission ticket limit exceeded - blocking save to prevent memory exhaustion",
				"current_count", currentCount,
				"hard_limit", hardMaxTicketEntries)
			err = fmt.Errorf("permission ticket limit exceeded (%d entries)", currentCount)
			return err
		}
		s.ticketsCountAtomic.Add(1)
	}

	s.tickets[ticket.ID] = ticket
	s.logger.Debug("Saved permission ticket",
		"ticket_prefix", util.SafeTruncate(ticket.ID, ticketIDLogLength),
		"permissions", len(ticket.Permissions),
		"expires_at", ticket.ExpiresAt)
	return nil
}

// RemoveTicket atomically removes and returns a permission ticket.
//
// SECURITY: This operation is atomic - only ONE concurrent request can
// succeed. All other concurrent requests receive ErrTicketNotFound, which is
// deliberately indistinguishable from a ticket that never existed.
func (s *Store) RemoveTicket(ctx context.Context, id string) (*storage.PermissionTicket, error) {
	ctx, span := s.startStorageSpan(ctx, "remove_ticket")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "remove_ticket", err, startTime)
	}()

	s.mu.Lock() // MUST use write lock for atomic get-and-delete
	defer s.mu.Unlock()

	ticket, ok := s.tickets[id]
	if !ok {
		err = fmt.Errorf("%w: not found or already redeemed", storage.ErrTicketNotFound)
		return nil, err
	}

	// ATOMIC DELETE - ensures only one request succeeds. The ticket is
	// consumed even when the check below fails: expired tickets are gone too.
	delete(s.tickets, id)
	s.ticketsCountAtomic.Add(-1)

	// Check if expired with clock skew grace period
	if security.IsExpired(ticket.ExpiresAt) {
		err = fmt.Errorf("%w: %s", storage.ErrTicketExpired, util.SafeTruncate(id, ticketIDLogLength))
		return nil, err
	}

	s.logger.Debug("Atomically removed permission ticket",
		"ticket_prefix", util.SafeTruncate(id, ticketIDLogLength))

	return ticket, nil
}

// ============================================================
// ResourceStore Implementation
// ============================================================

// SaveResource registers a protected resource. Resource servers call this
// when registering resources with the authorization server.
func (s *Store) SaveResource(ctx context.Context, resource *storage.Resource) error {
	ctx, span := s.startStorageSpan(ctx, "save_resource")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_resource", err, startTime)
	}()

	if resource == nil || resource.ID == "" {
		err = fmt.Errorf("invalid resource")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.resources[resource.ID]; !existed {
		s.resourcesCountAtomic.Add(1)
	}
	s.resources[resource.ID] = resource

	s.logger.Debug("Saved resource", "resource_id", resource.ID)
	return nil
}

// SaveAccessPolicy attaches an access policy to a resource
func (s *Store) SaveAccessPolicy(ctx context.Context, policy *storage.AccessPolicy) error {
	if policy == nil || policy.ID == "" || policy.ResourceID == "" {
		return fmt.Errorf("invalid access policy")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace an existing policy with the same ID, append otherwise
	existing := s.policies[policy.ResourceID]
	for i, p := range existing {
		if p.ID == policy.ID {
			existing[i] = policy
			return nil
		}
	}
	s.policies[policy.ResourceID] = append(existing, policy)

	s.logger.Debug("Saved access policy",
		"policy_id", policy.ID,
		"resource_id", policy.ResourceID)
	return nil
}

// FindResourcesByIDs returns the resources with the given IDs
func (s *Store) FindResourcesByIDs(ctx context.Context, ids []string) ([]*storage.Resource, error) {
	ctx, span := s.startStorageSpan(ctx, "find_resources")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "find_resources", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := make([]*storage.Resource, 0, len(ids))
	for _, id := range ids {
		resource, ok := s.resources[id]
		if !ok {
			err = fmt.Errorf("%w: %s", storage.ErrResourceNotFound, id)
			return nil, err
		}
		resources = append(resources, resource)
	}

	return resources, nil
}

// FindAccessPoliciesByResourceIDs returns all enabled policies attached to
// the given resources
func (s *Store) FindAccessPoliciesByResourceIDs(ctx context.Context, resourceIDs []string) ([]*storage.AccessPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies := make([]*storage.AccessPolicy, 0)
	for _, resourceID := range resourceIDs {
		for _, policy := range s.policies[resourceID] {
			if policy.Enabled {
				policies = append(policies, policy)
			}
		}
	}

	return policies, nil
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.clients[client.ClientID]; !existed {
		s.clientsCountAtomic.Add(1)
	}
	s.clients[client.ClientID] = client

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	return client, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// Uses constant-time operations to prevent timing attacks.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	// SECURITY: Always perform the same operations to prevent timing attacks
	// that could reveal whether a client exists or not

	// Pre-computed dummy hash for non-existent clients (bcrypt hash of "test")
	// This ensures we always perform a bcrypt comparison even if client doesn't exist
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	client, err := s.GetClient(ctx, clientID)

	// Determine which hash to use (real or dummy)
	hashToCompare := dummyHash
	isPublicClient := false

	if err == nil {
		if client.ClientType == "public" {
			isPublicClient = true
		} else if client.ClientSecretHash != "" {
			hashToCompare = client.ClientSecretHash
		}
	}

	// ALWAYS perform bcrypt comparison (constant-time by design)
	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	// For public clients, authentication always succeeds
	if isPublicClient && err == nil {
		return nil
	}

	// If client lookup failed, return error (but only after bcrypt comparison)
	if err != nil {
		return storage.ErrInvalidClientSecret
	}

	// If bcrypt comparison failed, return error
	if bcryptErr != nil {
		return storage.ErrInvalidClientSecret
	}

	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	// Cleanup expired tickets (with clock skew grace period)
	for id, ticket := range s.tickets {
		if security.IsExpired(ticket.ExpiresAt) {
			delete(s.tickets, id)
			s.ticketsCountAtomic.Add(-1)
			cleaned++
		}
	}

	// SECURITY MONITORING: Check for excessive ticket growth. This could
	// indicate a resource server flooding the store with tickets.
	ticketCount := len(s.tickets)
	if ticketCount > maxTicketEntries {
		s.logger.Warn("Permission ticket count approaching limit - possible memory exhaustion attack",
			"current_count", ticketCount,
			"max_threshold", maxTicketEntries)
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired tickets", "count", cleaned, "remaining", ticketCount)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		if span != nil {
			span.SetStatus(codes.Ok, "")
		}
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}

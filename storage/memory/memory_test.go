package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/coreauth/grantkit/storage"
)

const (
	testTicketID = "ticket-abc123"
	testClientID = "test-client"
)

func testTicket(id string, expiresIn time.Duration) *storage.PermissionTicket {
	now := time.Now()
	return &storage.PermissionTicket{
		ID: id,
		Permissions: []storage.Permission{
			{ResourceID: "res-1", Scopes: []string{"read", "write"}},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
	}
}

// ============================================================
// TicketStore Tests
// ============================================================

func TestStore_SaveTicket(t *testing.T) {
	store := New()
	defer store.Stop()

	ctx := context.Background()
	ticket := testTicket(testTicketID, 5*time.Minute)

	if err := store.SaveTicket(ctx, ticket); err != nil {
		t.Fatalf("SaveTicket() error = %v", err)
	}

	got, err := store.RemoveTicket(ctx, testTicketID)
	if err != nil {
		t.Fatalf("RemoveTicket() error = %v", err)
	}
	if got.ID != testTicketID {
		t.Errorf("ID = %q, want %q", got.ID, testTicketID)
	}
	if len(got.Permissions) != 1 {
		t.Errorf("Permissions = %d, want 1", len(got.Permissions))
	}
}

func TestStore_SaveTicket_Invalid(t *testing.T) {
	store := New()
	defer store.Stop()

	ctx := context.Background()

	if err := store.SaveTicket(ctx, nil); err == nil {
		t.Error("SaveTicket() with nil ticket should return error")
	}
	if err := store.SaveTicket(ctx, &storage.PermissionTicket{ID: ""}); err == nil {
		t.Error("SaveTicket() with empty ID should return error")
	}
	if err := store.SaveTicket(ctx, &storage.PermissionTicket{ID: "t1"}); err == nil {
		t.Error("SaveTicket() without permissions should return error")
	}
}

func TestStore_RemoveTicket_NotFound(t *testing.T) {
	store := New()
	defer store.Stop()

	_, err := store.RemoveTicket(context.Background(), "nonexistent")
	if !errors.Is(err, storage.ErrTicketNotFound) {
		t.Errorf("RemoveTicket() error = %v, want ErrTicketNotFound", err)
	}
}

func TestStore_RemoveTicket_Expired(t *testing.T) {
	store := New()
	defer store.Stop()

	ctx := context.Background()
	ticket := testTicket(testTicketID, -10*time.Minute)
	if err := store.SaveTicket(ctx, ticket); err != nil {
		t.Fatalf("SaveTicket() error = %v", err)
	}

	_, err := store.RemoveTicket(ctx, testTicketID)
	if !errors.Is(err, storage.ErrTicketExpired) {
		t.Errorf("RemoveTicket() error = %v, want ErrTicketExpired", err)
	}

	// The expired ticket was consumed: a second attempt sees not-found
	_, err = store.RemoveTicket(ctx, testTicketID)
	if !errors.Is(err, storage.ErrTicketNotFound) {
		t.Errorf("second RemoveTicket() error = %v, want ErrTicketNotFound", err)
	}
}

func TestStore_RemoveTicket_SecondRedemptionFails(t *testing.T) {
	store := New()
	defer store.Stop()

	ctx := context.Background()
	if err := store.SaveTicket(ctx, testTicket(testTicketID, 5*time.Minute)); err != nil {
		t.Fatalf("SaveTicket() error = %v", err)
	}

	if _, err := store.RemoveTicket(ctx, testTicketID); err != nil {
		t.Fatalf("first RemoveTicket() error = %v", err)
	}
	if _, err := store.RemoveTicket(ctx, testTicketID); !errors.Is(err, storage.ErrTicketNotFound) {
		t.Errorf("second RemoveTicket() error = %v, want ErrTicketNotFound", err)
	}
}

// TestStore_RemoveTicket_Concurrent verifies that exactly one of N concurrent
// redemptions of the same ticket succeeds.
func TestStore_RemoveTicket_Concurrent(t *testing.T) {
	store := New()
	defer store.Stop()

	ctx := context.Background()
	if err := store.SaveTicket(ctx, testTicket(testTicketID, 5*time.Minute)); err != nil {
		t.Fatalf("SaveTicket() error = %v", err)
	}

	const goroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	notFound := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RemoveTicket(ctx, testTicketID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, storage.ErrTicketNotFound):
				notFound++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if notFound != goroutines-1 {
		t.Errorf("notFound = %d, want %d", notFound, goroutines-1)
	}
}

// ============================================================
// ResourceStore Tests
// ============================================================

func TestStore_FindResourcesByIDs(t *testing.T) {
	store := New()
	defer store.Stop()

	ctx := context.Background()
	for _, r := range []*storage.Resource{
		{ID: "res-1", Name: "Document 1", Scopes: []string{"read", "write"}},
		{ID: "res-2", Name: "Document 2", Scopes: []string{"read"}},
	} {
		if err := store.SaveResource(ctx, r); err != nil {
			t.Fatalf("SaveResource() error = %v", err)
		}
	}

	resources, err := store.FindResourcesByIDs(ctx, []string{"res-1", "res-2"})
	if err != nil {
		t.Fatalf("FindResourcesByIDs() error = %v", err)
	}
	if len(resources) != 2 {
		t.Errorf("len(resources) = %d, want 2", len(resources))
	}

	_, err = store.FindResourcesByIDs(ctx, []string{"res-1", "missing"})
	if !errors.Is(err, storage.ErrResourceNotFound) {
		t.Errorf("FindResourcesByIDs() error = %v, want ErrResourceNotFound", err)
	}
}

func TestStore_FindAccessPoliciesByResourceIDs(t *testing.T) {
	store := New()
	defer store.Stop()

	ctx := context.Background()
	policies := []*storage.AccessPolicy{
		{ID: "p1", ResourceID: "res-1", Definition: "permit (principal, action, resource);", Enabled: true},
		{ID: "p2", ResourceID: "res-1", Definition: "forbid (principal, action, resource);", Enabled: false},
		{ID: "p3", ResourceID: "res-2", Definition: "permit (principal, action, resource);", Enabled: true},
	}
	for _, p := range policies {
		if err := store.SaveAccessPolicy(ctx, p); err != nil {
			t.Fatalf("SaveAccessPolicy() error = %v", err)
		}
	}

	// Only enabled policies are returned
	got, err := store.FindAccessPoliciesByResourceIDs(ctx, []string{"res-1"})
	if err != nil {
		t.Fatalf("FindAccessPoliciesByResourceIDs() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("got %d policies, want only p1", len(got))
	}

	// Resources without policies contribute nothing
	got, err = store.FindAccessPoliciesByResourceIDs(ctx, []string{"res-3"})
	if err != nil {
		t.Fatalf("FindAccessPoliciesByResourceIDs() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d policies for unknown resource, want 0", len(got))
	}
}

// ============================================================
// ClientStore Tests
// ============================================================

func TestStore_SaveAndGetClient(t *testing.T) {
	store := New()
	defer store.Stop()

	ctx := context.Background()
	client := &storage.Client{
		ClientID:   testClientID,
		ClientType: "public",
		GrantTypes: []string{"urn:ietf:params:oauth:grant-type:uma-ticket"},
	}

	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.GetClient(ctx, testClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ClientID != testClientID {
		t.Errorf("ClientID = %q, want %q", got.ClientID, testClientID)
	}

	_, err = store.GetClient(ctx, "missing")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient() error = %v, want ErrClientNotFound", err)
	}
}

func TestStore_ValidateClientSecret(t *testing.T) {
	store := New()
	defer store.Stop()

	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword() error = %v", err)
	}

	confidential := &storage.Client{
		ClientID:         "confidential-client",
		ClientType:       "confidential",
		ClientSecretHash: string(hash),
	}
	public := &storage.Client{
		ClientID:   "public-client",
		ClientType: "public",
	}
	for _, c := range []*storage.Client{confidential, public} {
		if err := store.SaveClient(ctx, c); err != nil {
			t.Fatalf("SaveClient() error = %v", err)
		}
	}

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{"valid secret", "confidential-client", "s3cret", false},
		{"wrong secret", "confidential-client", "wrong", true},
		{"public client no secret", "public-client", "", false},
		{"unknown client", "ghost", "anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ValidateClientSecret(ctx, tt.clientID, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateClientSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ============================================================
// Cleanup Tests
// ============================================================

func TestStore_CleanupExpiredTickets(t *testing.T) {
	store := NewWithInterval(10 * time.Millisecond)
	defer store.Stop()

	ctx := context.Background()
	if err := store.SaveTicket(ctx, testTicket("expired", -10*time.Minute)); err != nil {
		t.Fatalf("SaveTicket() error = %v", err)
	}
	if err := store.SaveTicket(ctx, testTicket("fresh", 5*time.Minute)); err != nil {
		t.Fatalf("SaveTicket() error = %v", err)
	}

	// Wait for at least one cleanup cycle
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.RLock()
		_, expiredGone := store.tickets["expired"]
		store.mu.RUnlock()
		if !expiredGone {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	store.mu.RLock()
	defer store.mu.RUnlock()
	if _, ok := store.tickets["expired"]; ok {
		t.Error("expired ticket should have been cleaned up")
	}
	if _, ok := store.tickets["fresh"]; !ok {
		t.Error("fresh ticket should survive cleanup")
	}
}

func TestStore_StopIsIdempotent(t *testing.T) {
	store := New()
	store.Stop()
	store.Stop() // must not panic
}

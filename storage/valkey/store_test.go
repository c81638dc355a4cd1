package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/coreauth/grantkit/storage"
)

const testTicketID = "test-ticket"

// testStore creates a test store connected to a local Valkey instance.
// Tests will be skipped if no Valkey is reachable. Each test gets a unique
// prefix to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("grantkittest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func testTicket(id string, expiresIn time.Duration) *storage.PermissionTicket {
	now := time.Now()
	return &storage.PermissionTicket{
		ID: id,
		Permissions: []storage.Permission{
			{ResourceID: "res-1", Scopes: []string{"read"}},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
	}
}

// ============================================================
// TicketStore Tests
// ============================================================

func TestStore_SaveAndRemoveTicket(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveTicket(ctx, testTicket(testTicketID, 5*time.Minute)); err != nil {
		t.Fatalf("SaveTicket() error = %v", err)
	}

	got, err := store.RemoveTicket(ctx, testTicketID)
	if err != nil {
		t.Fatalf("RemoveTicket() error = %v", err)
	}
	if got.ID != testTicketID {
		t.Errorf("ID = %q, want %q", got.ID, testTicketID)
	}
	if len(got.Permissions) != 1 || got.Permissions[0].ResourceID != "res-1" {
		t.Errorf("Permissions = %+v, want one res-1 permission", got.Permissions)
	}

	// Ticket is consumed: second redemption fails
	if _, err := store.RemoveTicket(ctx, testTicketID); !errors.Is(err, storage.ErrTicketNotFound) {
		t.Errorf("second RemoveTicket() error = %v, want ErrTicketNotFound", err)
	}
}

func TestStore_RemoveTicket_NotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.RemoveTicket(context.Background(), "nonexistent")
	if !errors.Is(err, storage.ErrTicketNotFound) {
		t.Errorf("RemoveTicket() error = %v, want ErrTicketNotFound", err)
	}
}

func TestStore_SaveTicket_AlreadyExpired(t *testing.T) {
	store := testStore(t)

	err := store.SaveTicket(context.Background(), testTicket(testTicketID, -time.Minute))
	if err == nil {
		t.Error("SaveTicket() with past expiry should return error")
	}
}

// TestStore_RemoveTicket_Concurrent verifies that GETDEL yields exactly one
// winner when many requests race to redeem the same ticket.
func TestStore_RemoveTicket_Concurrent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveTicket(ctx, testTicket(testTicketID, 5*time.Minute)); err != nil {
		t.Fatalf("SaveTicket() error = %v", err)
	}

	const goroutines = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.RemoveTicket(ctx, testTicketID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
}

// ============================================================
// ResourceStore Tests
// ============================================================

func TestStore_Resources(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	resource := &storage.Resource{ID: "res-1", Name: "Document", Scopes: []string{"read", "write"}}
	if err := store.SaveResource(ctx, resource); err != nil {
		t.Fatalf("SaveResource() error = %v", err)
	}

	got, err := store.FindResourcesByIDs(ctx, []string{"res-1"})
	if err != nil {
		t.Fatalf("FindResourcesByIDs() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "Document" {
		t.Errorf("got %+v, want the saved resource", got)
	}

	_, err = store.FindResourcesByIDs(ctx, []string{"missing"})
	if !errors.Is(err, storage.ErrResourceNotFound) {
		t.Errorf("FindResourcesByIDs() error = %v, want ErrResourceNotFound", err)
	}
}

func TestStore_AccessPolicies(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	policies := []*storage.AccessPolicy{
		{ID: "p1", ResourceID: "res-1", Definition: "permit (principal, action, resource);", Enabled: true},
		{ID: "p2", ResourceID: "res-1", Definition: "forbid (principal, action, resource);", Enabled: false},
	}
	for _, p := range policies {
		if err := store.SaveAccessPolicy(ctx, p); err != nil {
			t.Fatalf("SaveAccessPolicy() error = %v", err)
		}
	}

	got, err := store.FindAccessPoliciesByResourceIDs(ctx, []string{"res-1"})
	if err != nil {
		t.Fatalf("FindAccessPoliciesByResourceIDs() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("got %d policies, want only enabled p1", len(got))
	}

	// Saving with an existing ID replaces the entry
	updated := &storage.AccessPolicy{ID: "p1", ResourceID: "res-1", Definition: "forbid (principal, action, resource);", Enabled: true}
	if err := store.SaveAccessPolicy(ctx, updated); err != nil {
		t.Fatalf("SaveAccessPolicy() update error = %v", err)
	}
	got, err = store.FindAccessPoliciesByResourceIDs(ctx, []string{"res-1"})
	if err != nil {
		t.Fatalf("FindAccessPoliciesByResourceIDs() error = %v", err)
	}
	if len(got) != 1 || got[0].Definition != updated.Definition {
		t.Errorf("policy was not replaced: %+v", got)
	}
}

// ============================================================
// ClientStore Tests
// ============================================================

func TestStore_Clients(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword() error = %v", err)
	}

	client := &storage.Client{
		ClientID:         "client-1",
		ClientType:       "confidential",
		ClientSecretHash: string(hash),
		GrantTypes:       []string{"urn:ietf:params:oauth:grant-type:token-exchange"},
	}
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if !got.AllowsGrantType("urn:ietf:params:oauth:grant-type:token-exchange") {
		t.Error("grant types not preserved through round trip")
	}

	if err := store.ValidateClientSecret(ctx, "client-1", "s3cret"); err != nil {
		t.Errorf("ValidateClientSecret() error = %v", err)
	}
	if err := store.ValidateClientSecret(ctx, "client-1", "wrong"); !errors.Is(err, storage.ErrInvalidClientSecret) {
		t.Errorf("ValidateClientSecret() with wrong secret error = %v, want ErrInvalidClientSecret", err)
	}

	_, err = store.GetClient(ctx, "missing")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient() error = %v, want ErrClientNotFound", err)
	}
}

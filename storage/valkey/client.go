package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/coreauth/grantkit/storage"
)

// ============================================================
// ClientStore Implementation
// ============================================================

// clientJSON is the JSON representation of a registered client.
type clientJSON struct {
	ClientID          string    `json:"client_id"`
	ClientSecretHash  string    `json:"client_secret_hash,omitempty"`
	ClientType        string    `json:"client_type"`
	ClientName        string    `json:"client_name,omitempty"`
	GrantTypes        []string  `json:"grant_types,omitempty"`
	Scopes            []string  `json:"scopes,omitempty"`
	AllowRefreshToken bool      `json:"allow_refresh_token,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:          c.ClientID,
		ClientSecretHash:  c.ClientSecretHash,
		ClientType:        c.ClientType,
		ClientName:        c.ClientName,
		GrantTypes:        c.GrantTypes,
		Scopes:            c.Scopes,
		AllowRefreshToken: c.AllowRefreshToken,
		CreatedAt:         c.CreatedAt,
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ClientID:          j.ClientID,
		ClientSecretHash:  j.ClientSecretHash,
		ClientType:        j.ClientType,
		ClientName:        j.ClientName,
		GrantTypes:        j.GrantTypes,
		Scopes:            j.Scopes,
		AllowRefreshToken: j.AllowRefreshToken,
		CreatedAt:         j.CreatedAt,
	}
}

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	if err := validateStringLength(client.ClientID, MaxIDLength, "clientID"); err != nil {
		return err
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if len(data) > MaxRecordSize {
		return errInputTooLarge
	}

	key := s.clientKey(client.ClientID)

	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	key := s.clientKey(clientID)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return fromClientJSON(&j), nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// Uses constant-time operations to prevent timing attacks.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	// SECURITY: Always perform the same operations to prevent timing attacks
	// that could reveal whether a client exists or not

	// Pre-computed dummy hash for non-existent clients (bcrypt hash of "test")
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	client, err := s.GetClient(ctx, clientID)

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

	if isPublicClient && err == nil {
		return nil
	}

	if err != nil {
		return storage.ErrInvalidClientSecret
	}

	if bcryptErr != nil {
		return storage.ErrInvalidClientSecret
	}

	return nil
}

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/store"
)

// KeyPattern is the format every issued API key matches: pbk_ followed by
// 48 lowercase hex characters (24 random bytes).
var KeyPattern = regexp.MustCompile(`^pbk_[a-f0-9]{48}$`)

var (
	// ErrKeyNotFound is returned when an API key lookup misses.
	ErrKeyNotFound = errors.New("auth: api key not found")
	// ErrKeyRevoked is returned for a key that has been explicitly revoked.
	ErrKeyRevoked = errors.New("auth: api key revoked")
	// ErrKeyExpired is returned for a key past its expiry.
	ErrKeyExpired = errors.New("auth: api key expired")
)

// APIKeyMeta is the public, secret-free view of an issued key.
type APIKeyMeta struct {
	ID          string
	Label       string
	Permissions []string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Revoked     bool
}

// APIKeys manages the create/authenticate/revoke/list lifecycle of API keys.
type APIKeys struct {
	store *store.Store
}

// NewAPIKeys creates an APIKeys manager backed by s.
func NewAPIKeys(s *store.Store) *APIKeys {
	return &APIKeys{store: s}
}

// Create mints a new API key with the given label and permission strings.
// ttl is optional; a nil ttl means the key never expires. The raw key is
// returned exactly once — only its hash is persisted.
func (a *APIKeys) Create(ctx context.Context, label string, permissions []string, ttl *time.Duration) (rawKey string, meta APIKeyMeta, err error) {
	rawKey, err = generateAPIKey()
	if err != nil {
		return "", APIKeyMeta{}, fmt.Errorf("generate api key: %w", err)
	}

	now := time.Now()
	rec := &store.APIKey{
		ID:          uuid.NewString(),
		KeyHash:     hashSecret(rawKey),
		Label:       label,
		Permissions: permissions,
		CreatedAt:   now,
	}
	if ttl != nil {
		rec.ExpiresAt = sql.NullTime{Time: now.Add(*ttl), Valid: true}
	}

	if err := a.store.CreateAPIKey(ctx, rec); err != nil {
		return "", APIKeyMeta{}, fmt.Errorf("persist api key: %w", err)
	}

	return rawKey, toMeta(rec), nil
}

// Authenticate validates rawKey and returns the Principal it grants, or an
// error if the key is unknown, revoked, or expired.
func (a *APIKeys) Authenticate(ctx context.Context, rawKey string) (*Principal, error) {
	rec, err := a.store.GetAPIKeyByHash(ctx, hashSecret(rawKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	if rec.RevokedAt.Valid {
		return nil, ErrKeyRevoked
	}
	if rec.ExpiresAt.Valid && !rec.ExpiresAt.Time.After(time.Now()) {
		return nil, ErrKeyExpired
	}

	var exp time.Time
	if rec.ExpiresAt.Valid {
		exp = rec.ExpiresAt.Time
	}
	return &Principal{
		UserID:      rec.ID,
		Permissions: rec.Permissions,
		ExpiresAt:   exp,
	}, nil
}

// Delete revokes the key matching rawKey.
func (a *APIKeys) Delete(ctx context.Context, rawKey string) error {
	rec, err := a.store.GetAPIKeyByHash(ctx, hashSecret(rawKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("lookup api key: %w", err)
	}
	if err := a.store.RevokeAPIKey(ctx, rec.ID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return nil
}

// List returns metadata for every issued key, revoked or not. The secret
// value is never included.
func (a *APIKeys) List(ctx context.Context) ([]APIKeyMeta, error) {
	recs, err := a.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	out := make([]APIKeyMeta, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toMeta(rec))
	}
	return out, nil
}

func toMeta(rec *store.APIKey) APIKeyMeta {
	m := APIKeyMeta{
		ID:          rec.ID,
		Label:       rec.Label,
		Permissions: rec.Permissions,
		CreatedAt:   rec.CreatedAt,
		Revoked:     rec.RevokedAt.Valid,
	}
	if rec.ExpiresAt.Valid {
		t := rec.ExpiresAt.Time
		m.ExpiresAt = &t
	}
	return m
}

func generateAPIKey() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "pbk_" + hex.EncodeToString(raw), nil
}

func hashSecret(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

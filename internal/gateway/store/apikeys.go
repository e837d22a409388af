package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a row lookup by id misses.
var ErrNotFound = errors.New("store: not found")

// APIKey is a persisted API key record. Key is the caller-facing secret is
// never stored; only KeyHash (sha256 over the raw key) is.
type APIKey struct {
	ID          string
	KeyHash     string
	Label       string
	Permissions []string
	CreatedAt   time.Time
	ExpiresAt   sql.NullTime
	RevokedAt   sql.NullTime
}

// CreateAPIKey inserts a new API key row.
func (s *Store) CreateAPIKey(ctx context.Context, k *APIKey) error {
	perms, err := json.Marshal(k.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO apikeys (id, key_hash, label, permissions, created_at, expires_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.KeyHash, k.Label, string(perms), k.CreatedAt, k.ExpiresAt, k.RevokedAt)
	if err != nil {
		return fmt.Errorf("create apikey: %w", err)
	}
	return nil
}

// GetAPIKeyByHash looks up a key by its hash, revoked or not; callers check
// RevokedAt.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key_hash, label, permissions, created_at, expires_at, revoked_at
		FROM apikeys WHERE key_hash = ?
	`, hash)
	return scanAPIKey(row)
}

// RevokeAPIKey marks a key revoked as of now; idempotent.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE apikeys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("revoke apikey: %w", err)
	}
	return nil
}

// ListAPIKeys returns every key, revoked or not, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key_hash, label, permissions, created_at, expires_at, revoked_at
		FROM apikeys ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list apikeys: %w", err)
	}
	defer rows.Close()

	var out []*APIKey
	for rows.Next() {
		k, err := scanAPIKeyRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// SweepExpiredAPIKeys revokes every key whose expires_at has passed but is
// not yet marked revoked, returning the count affected.
func (s *Store) SweepExpiredAPIKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE apikeys SET revoked_at = ?
		WHERE revoked_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?
	`, now, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired apikeys: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	return scanAPIKeyRows(row)
}

func scanAPIKeyRows(row rowScanner) (*APIKey, error) {
	k := &APIKey{}
	var perms string
	if err := row.Scan(&k.ID, &k.KeyHash, &k.Label, &perms, &k.CreatedAt, &k.ExpiresAt, &k.RevokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan apikey: %w", err)
	}
	if err := json.Unmarshal([]byte(perms), &k.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshal permissions: %w", err)
	}
	return k, nil
}

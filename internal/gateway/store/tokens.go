package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Token is a persisted origin-bound session token, issued at the end of the
// C8 handshake (init -> approve -> confirm).
type Token struct {
	ID        string
	APIKeyID  sql.NullString
	Origin    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt sql.NullTime
}

// CreateToken inserts a new session token row.
func (s *Store) CreateToken(ctx context.Context, t *Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (id, apikey_id, origin, issued_at, expires_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.APIKeyID, t.Origin, t.IssuedAt, t.ExpiresAt, t.RevokedAt)
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	return nil
}

// GetToken looks up a token by id.
func (s *Store) GetToken(ctx context.Context, id string) (*Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, apikey_id, origin, issued_at, expires_at, revoked_at
		FROM tokens WHERE id = ?
	`, id)
	t := &Token{}
	if err := row.Scan(&t.ID, &t.APIKeyID, &t.Origin, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// RevokeToken marks a token revoked as of now; idempotent.
func (s *Store) RevokeToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// SweepExpiredTokens revokes every token past its expires_at, returning the
// count affected.
func (s *Store) SweepExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tokens SET revoked_at = ?
		WHERE revoked_at IS NULL AND expires_at <= ?
	`, now, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired tokens: %w", err)
	}
	return res.RowsAffected()
}

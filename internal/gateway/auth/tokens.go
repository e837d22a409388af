package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/store"
)

var (
	// ErrTokenNotFound is returned when a token value has no matching record.
	ErrTokenNotFound = errors.New("auth: token not found")
	// ErrTokenExpired is returned for a token past its expires_at.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenRevoked is returned for an explicitly revoked token.
	ErrTokenRevoked = errors.New("auth: token revoked")
	// ErrOriginMismatch is returned when a token is presented from an origin
	// other than the one it was bound to.
	ErrOriginMismatch = errors.New("auth: token origin mismatch")
)

// Tokens manages the generate/validate/revoke lifecycle of origin-bound
// session tokens minted at the end of the browser-proxy handshake. Only a
// token's hash is ever persisted; the raw value is returned once, at Issue.
type Tokens struct {
	store *store.Store
}

// NewTokens creates a Tokens manager backed by s.
func NewTokens(s *store.Store) *Tokens {
	return &Tokens{store: s}
}

// Issue mints a new session token bound to origin, valid for ttl. apiKeyID
// is optional: non-empty when the session descends from an authenticated
// API key rather than a bare local-trusted handshake.
func (t *Tokens) Issue(ctx context.Context, origin string, apiKeyID string, ttl time.Duration) (rawToken string, expiresAt time.Time, err error) {
	rawToken, err = generateToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token: %w", err)
	}

	now := time.Now()
	expiresAt = now.Add(ttl)
	rec := &store.Token{
		ID:        hashSecret(rawToken),
		Origin:    origin,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	if apiKeyID != "" {
		rec.APIKeyID = sql.NullString{String: apiKeyID, Valid: true}
	}

	if err := t.store.CreateToken(ctx, rec); err != nil {
		return "", time.Time{}, fmt.Errorf("persist token: %w", err)
	}
	return rawToken, expiresAt, nil
}

// Validate resolves rawToken to the Principal it grants, checking that it
// was issued for origin and has not expired or been revoked. An expired hit
// is swept (revoked) before ErrTokenExpired is returned, mirroring the
// sweep-on-miss behaviour the token lifecycle requires.
func (t *Tokens) Validate(ctx context.Context, rawToken, origin string) (*Principal, error) {
	rec, err := t.store.GetToken(ctx, hashSecret(rawToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}

	if rec.RevokedAt.Valid {
		return nil, ErrTokenRevoked
	}
	if !rec.ExpiresAt.After(time.Now()) {
		_ = t.store.RevokeToken(ctx, rec.ID)
		return nil, ErrTokenExpired
	}
	if rec.Origin != origin {
		return nil, ErrOriginMismatch
	}

	perms := []string{PermWildcard}
	userID := "local:" + rec.Origin
	if rec.APIKeyID.Valid {
		userID = rec.APIKeyID.String
	}

	return &Principal{
		UserID:      userID,
		Permissions: perms,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// Revoke invalidates rawToken immediately.
func (t *Tokens) Revoke(ctx context.Context, rawToken string) error {
	if err := t.store.RevokeToken(ctx, hashSecret(rawToken)); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Sweep revokes every token expired as of now, returning the count affected.
// Callers can invoke this on a timer in addition to the sweep-on-miss that
// Validate performs.
func (t *Tokens) Sweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := t.store.SweepExpiredTokens(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep tokens: %w", err)
	}
	return n, nil
}

func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}


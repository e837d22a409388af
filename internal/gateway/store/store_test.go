package store_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "gatewayd-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

// --- API keys ---

func TestCreateAndGetAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	k := &store.APIKey{
		ID:          "pbk_abc123",
		KeyHash:     "hash-of-abc123",
		Label:       "ci-runner",
		Permissions: []string{"tools/call"},
		CreatedAt:   time.Now(),
	}
	if err := s.CreateAPIKey(ctx, k); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKeyByHash(ctx, "hash-of-abc123")
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if got.ID != k.ID {
		t.Errorf("ID: got %q, want %q", got.ID, k.ID)
	}
	if len(got.Permissions) != 1 || got.Permissions[0] != "tools/call" {
		t.Errorf("Permissions: got %v", got.Permissions)
	}
}

func TestGetAPIKeyByHash_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAPIKeyByHash(context.Background(), "nope")
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	k := &store.APIKey{ID: "pbk_rev", KeyHash: "hash-rev", Label: "x", CreatedAt: time.Now()}
	if err := s.CreateAPIKey(ctx, k); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if err := s.RevokeAPIKey(ctx, k.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	got, err := s.GetAPIKeyByHash(ctx, "hash-rev")
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if !got.RevokedAt.Valid {
		t.Error("expected RevokedAt to be set")
	}
}

func TestListAPIKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"pbk_1", "pbk_2", "pbk_3"} {
		if err := s.CreateAPIKey(ctx, &store.APIKey{ID: id, KeyHash: "hash-" + id, Label: id, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("CreateAPIKey(%s): %v", id, err)
		}
	}

	keys, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("expected 3 keys, got %d", len(keys))
	}
}

func TestSweepExpiredAPIKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expired := &store.APIKey{
		ID: "pbk_exp", KeyHash: "hash-exp", Label: "x", CreatedAt: time.Now(),
		ExpiresAt: sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true},
	}
	if err := s.CreateAPIKey(ctx, expired); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	n, err := s.SweepExpiredAPIKeys(ctx, time.Now())
	if err != nil {
		t.Fatalf("SweepExpiredAPIKeys: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 swept, got %d", n)
	}

	got, err := s.GetAPIKeyByHash(ctx, "hash-exp")
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if !got.RevokedAt.Valid {
		t.Error("expected expired key to be revoked")
	}
}

// --- Tokens ---

func TestCreateAndGetToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := &store.Token{
		ID:        "tok_1",
		Origin:    "https://console.example.com",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := s.CreateToken(ctx, tok); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	got, err := s.GetToken(ctx, "tok_1")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got.Origin != tok.Origin {
		t.Errorf("Origin: got %q, want %q", got.Origin, tok.Origin)
	}
}

func TestGetToken_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetToken(context.Background(), "missing")
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := &store.Token{ID: "tok_rev", Origin: "https://a", IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}
	if err := s.CreateToken(ctx, tok); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if err := s.RevokeToken(ctx, tok.ID); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	got, err := s.GetToken(ctx, tok.ID)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if !got.RevokedAt.Valid {
		t.Error("expected RevokedAt set")
	}
}

func TestSweepExpiredTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := &store.Token{ID: "tok_exp", Origin: "https://a", IssuedAt: time.Now().Add(-time.Hour), ExpiresAt: time.Now().Add(-time.Minute)}
	if err := s.CreateToken(ctx, tok); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	n, err := s.SweepExpiredTokens(ctx, time.Now())
	if err != nil {
		t.Fatalf("SweepExpiredTokens: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 swept, got %d", n)
	}
}

// --- Tool call history ---

func TestRecordAndListToolCallHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c := &store.ToolCall{
			InstanceID: "inst-1",
			Template:   "fs-tools",
			ToolName:   "read_file",
			Success:    true,
			LatencyMs:  12.5,
			CalledAt:   time.Now(),
		}
		if err := s.RecordToolCall(ctx, c); err != nil {
			t.Fatalf("RecordToolCall: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	history, err := s.ToolCallHistory(ctx, 2)
	if err != nil {
		t.Fatalf("ToolCallHistory: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("expected 2 entries with limit=2, got %d", len(history))
	}
}

// --- Migrations ---

func TestMigrations_Idempotent(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "gatewayd-test-idempotent-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	f.Close()

	s1, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.Close()

	s2, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	s2.Close()
}

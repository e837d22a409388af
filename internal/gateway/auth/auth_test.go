package auth_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net"
	"os"
	"testing"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/auth"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "gatewayd-auth-test-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	f.Close()
	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIsLoopbackOrPrivate(t *testing.T) {
	cases := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.5.5", true},
		{"192.168.1.1", true},
		{"8.8.8.8", false},
		{"203.0.113.5", false},
	}
	for _, c := range cases {
		got := auth.IsLoopbackOrPrivate(net.ParseIP(c.ip))
		if got != c.want {
			t.Errorf("IsLoopbackOrPrivate(%s) = %v, want %v", c.ip, got, c.want)
		}
	}
}

func TestRequiresCredential(t *testing.T) {
	priv := net.ParseIP("192.168.1.1")
	pub := net.ParseIP("8.8.8.8")

	if auth.RequiresCredential(auth.ModeLocalTrusted, pub) {
		t.Error("local-trusted should never require a credential")
	}
	if !auth.RequiresCredential(auth.ModeExternalSecure, priv) {
		t.Error("external-secure should always require a credential")
	}
	if auth.RequiresCredential(auth.ModeDual, priv) {
		t.Error("dual should not require a credential for a private caller")
	}
	if !auth.RequiresCredential(auth.ModeDual, pub) {
		t.Error("dual should require a credential for a public caller")
	}
}

func TestAPIKeys_CreateAuthenticateDeleteList(t *testing.T) {
	ctx := context.Background()
	keys := auth.NewAPIKeys(newTestStore(t))

	raw, meta, err := keys.Create(ctx, "ci", []string{"tools"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !auth.KeyPattern.MatchString(raw) {
		t.Fatalf("key %q does not match pbk_ pattern", raw)
	}
	if meta.Label != "ci" {
		t.Fatalf("meta label = %q, want ci", meta.Label)
	}

	principal, err := keys.Authenticate(ctx, raw)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.UserID != meta.ID {
		t.Fatalf("principal userID = %q, want %q", principal.UserID, meta.ID)
	}

	list, err := keys.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 key, got %d", len(list))
	}

	if err := keys.Delete(ctx, raw); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := keys.Authenticate(ctx, raw); err != auth.ErrKeyRevoked {
		t.Fatalf("expected ErrKeyRevoked after delete, got %v", err)
	}
}

func TestAPIKeys_AuthenticateUnknownKey(t *testing.T) {
	keys := auth.NewAPIKeys(newTestStore(t))
	if _, err := keys.Authenticate(context.Background(), "pbk_doesnotexist"); err != auth.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestAPIKeys_ExpiredKey(t *testing.T) {
	ctx := context.Background()
	keys := auth.NewAPIKeys(newTestStore(t))
	ttl := -time.Hour // already expired
	raw, _, err := keys.Create(ctx, "short", []string{"*"}, &ttl)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := keys.Authenticate(ctx, raw); err != auth.ErrKeyExpired {
		t.Fatalf("expected ErrKeyExpired, got %v", err)
	}
}

func TestTokens_IssueValidateRevoke(t *testing.T) {
	ctx := context.Background()
	tokens := auth.NewTokens(newTestStore(t))

	raw, expiresAt, err := tokens.Issue(ctx, "https://app.example", "", 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatal("expected future expiry")
	}

	principal, err := tokens.Validate(ctx, raw, "https://app.example")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if principal.Permissions[0] != auth.PermWildcard {
		t.Fatalf("expected wildcard permission for local session, got %v", principal.Permissions)
	}

	if _, err := tokens.Validate(ctx, raw, "https://evil.example"); err != auth.ErrOriginMismatch {
		t.Fatalf("expected ErrOriginMismatch, got %v", err)
	}

	if err := tokens.Revoke(ctx, raw); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := tokens.Validate(ctx, raw, "https://app.example"); err != auth.ErrTokenRevoked {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestTokens_ExpiredTokenSweptOnValidate(t *testing.T) {
	ctx := context.Background()
	tokens := auth.NewTokens(newTestStore(t))

	raw, _, err := tokens.Issue(ctx, "https://app.example", "", -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tokens.Validate(ctx, raw, "https://app.example"); err != auth.ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	// Second call should see the now-revoked row and still report consistently.
	if _, err := tokens.Validate(ctx, raw, "https://app.example"); err != auth.ErrTokenRevoked {
		t.Fatalf("expected ErrTokenRevoked on second miss, got %v", err)
	}
}

func TestPermissions_Allows(t *testing.T) {
	cases := []struct {
		perms  []string
		method string
		path   string
		want   bool
	}{
		{[]string{"*"}, "GET", "/anything", true},
		{[]string{"admin"}, "POST", "/api/admin/services", true},
		{[]string{"admin"}, "DELETE", "/api/services/x", true},
		{[]string{"admin"}, "GET", "/api/services", false},
		{[]string{"tools"}, "GET", "/api/tools/list", true},
		{[]string{"tools"}, "GET", "/api/services", false},
	}
	for _, c := range cases {
		got := auth.Allows(c.perms, c.method, c.path)
		if got != c.want {
			t.Errorf("Allows(%v, %s, %s) = %v, want %v", c.perms, c.method, c.path, got, c.want)
		}
	}
}

// computeCodeProof mirrors the client-side proof a browser would compute
// given a known verification code.
func computeCodeProof(code, origin, clientNonce string) string {
	sum := sha256.Sum256([]byte(code + origin + clientNonce))
	return hex.EncodeToString(sum[:])
}

func TestHandshake_FullFlowIssuesSessionToken(t *testing.T) {
	ctx := context.Background()
	tokens := auth.NewTokens(newTestStore(t))
	hs := auth.NewHandshake(tokens)

	origin := "https://local.proxy"
	clientNonce := "client-nonce-1"
	code := hs.CurrentCode()
	proof := computeCodeProof(code, origin, clientNonce)

	init, err := hs.Init(ctx, origin, clientNonce, proof)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if init.KDF != "pbkdf2" {
		t.Fatalf("expected pbkdf2 kdf, got %q", init.KDF)
	}

	if err := hs.Approve(ctx, init.HandshakeID); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	serverNonce, err := base64.StdEncoding.DecodeString(init.ServerNonce)
	if err != nil {
		t.Fatalf("decode server nonce: %v", err)
	}
	key := pbkdf2.Key([]byte(code), serverNonce, init.KDFParams.Iterations, init.KDFParams.Length, sha256.New)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(origin + "|" + clientNonce + "|" + init.HandshakeID))
	response := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	confirm, err := hs.Confirm(ctx, init.HandshakeID, response)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirm.Token == "" {
		t.Fatal("expected a session token")
	}

	principal, err := hs.VerifyBearer(ctx, "LocalMCP "+confirm.Token, origin)
	if err != nil {
		t.Fatalf("VerifyBearer: %v", err)
	}
	if principal.UserID != "local:"+origin {
		t.Fatalf("unexpected principal userID %q", principal.UserID)
	}

	// Handshake is single-use.
	if _, err := hs.Confirm(ctx, init.HandshakeID, response); err != auth.ErrHandshakeNotFound {
		t.Fatalf("expected ErrHandshakeNotFound on reuse, got %v", err)
	}
}

func TestHandshake_InvalidCodeProofRejected(t *testing.T) {
	ctx := context.Background()
	tokens := auth.NewTokens(newTestStore(t))
	hs := auth.NewHandshake(tokens)

	_, err := hs.Init(ctx, "https://local.proxy", "nonce", "not-a-real-proof")
	if err != auth.ErrInvalidCodeProof {
		t.Fatalf("expected ErrInvalidCodeProof, got %v", err)
	}
}

func TestHandshake_ConfirmBeforeApproveFails(t *testing.T) {
	ctx := context.Background()
	tokens := auth.NewTokens(newTestStore(t))
	hs := auth.NewHandshake(tokens)

	origin, clientNonce := "https://local.proxy", "nonce"
	code := hs.CurrentCode()
	proof := computeCodeProof(code, origin, clientNonce)

	init, err := hs.Init(ctx, origin, clientNonce, proof)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if _, err := hs.Confirm(ctx, init.HandshakeID, "irrelevant"); err != auth.ErrHandshakeNotApproved {
		t.Fatalf("expected ErrHandshakeNotApproved, got %v", err)
	}
}

func TestHandshake_InitRateLimitedPerOrigin(t *testing.T) {
	ctx := context.Background()
	tokens := auth.NewTokens(newTestStore(t))
	hs := auth.NewHandshake(tokens)
	origin := "https://rl.example"

	var lastErr error
	for i := 0; i < 6; i++ {
		code := hs.CurrentCode()
		proof := computeCodeProof(code, origin, "n")
		_, lastErr = hs.Init(ctx, origin, "n", proof)
	}
	if lastErr != auth.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited on 6th init within a minute, got %v", lastErr)
	}
}

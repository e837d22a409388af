package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/ratelimit"
)

const (
	codeRotationInterval = 60 * time.Second
	codeByteLen          = 3 // 3 bytes -> 6 hex chars

	kdfIterations = 200000
	kdfKeyLen     = 32
	serverNonceLen = 16

	pendingTTL = 5 * time.Minute
	sessionTTL = 10 * time.Minute

	initRateLimitWindow = time.Minute
	initRateLimitPerMin = 5
)

var (
	// ErrRateLimited is returned when init is called more than
	// initRateLimitPerMin times per minute for the same origin.
	ErrRateLimited = errors.New("auth: handshake init rate limited")
	// ErrInvalidCodeProof is returned when codeProof matches neither the
	// current nor previous verification code.
	ErrInvalidCodeProof = errors.New("auth: invalid verification code proof")
	// ErrHandshakeNotFound is returned for an unknown handshakeId.
	ErrHandshakeNotFound = errors.New("auth: handshake not found")
	// ErrHandshakeExpired is returned once a pending handshake's TTL elapses.
	ErrHandshakeExpired = errors.New("auth: handshake expired")
	// ErrHandshakeNotApproved is returned when confirm is called before
	// approve.
	ErrHandshakeNotApproved = errors.New("auth: handshake not approved")
	// ErrHandshakeConsumed is returned for a handshake already confirmed.
	ErrHandshakeConsumed = errors.New("auth: handshake already consumed")
	// ErrChallengeMismatch is returned when confirm's response matches
	// neither the current nor previous code's derived key.
	ErrChallengeMismatch = errors.New("auth: handshake challenge mismatch")
)

// codeRotator holds the process-wide rotating verification code. The
// previous code remains valid for exactly one rotation interval after it
// stops being current, giving a client a grace window to finish a proof
// started just before rotation.
type codeRotator struct {
	mu       sync.Mutex
	current  string
	previous string
	since    time.Time
}

func newCodeRotator() *codeRotator {
	r := &codeRotator{since: time.Now()}
	r.current = mustGenerateCode()
	return r
}

func mustGenerateCode() string {
	b := make([]byte, codeByteLen)
	if _, err := rand.Read(b); err != nil {
		panic("auth: read random verification code: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// codes returns the current and previous verification codes as of now,
// rotating first if the current code's interval has elapsed.
func (r *codeRotator) codes(now time.Time) (current, previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.since) >= codeRotationInterval {
		r.previous = r.current
		r.current = mustGenerateCode()
		r.since = now
	}
	return r.current, r.previous
}

// pendingHandshake is an in-memory record of one init..confirm exchange.
// Handshakes are deliberately not persisted: they live seconds to minutes
// and a restart mid-handshake simply forces the client to retry init.
type pendingHandshake struct {
	id          string
	origin      string
	clientNonce string
	serverNonce []byte
	createdAt   time.Time
	expiresAt   time.Time
	approved    bool
	consumed    bool
}

// InitResult is returned to the client by Init.
type InitResult struct {
	HandshakeID string
	ServerNonce string // base64-encoded
	KDF         string
	KDFParams   KDFParams
	ExpiresIn   time.Duration
}

// KDFParams describes the PBKDF2 parameters a client must use to derive its
// half of the handshake key.
type KDFParams struct {
	Iterations int    `json:"iterations"`
	Hash       string `json:"hash"`
	Length     int    `json:"length"`
}

// ConfirmResult is returned to the client by Confirm.
type ConfirmResult struct {
	Token     string
	ExpiresAt time.Time
}

// Handshake drives the browser-proxy rotating-code handshake: init, approve,
// confirm, then bearer-token verification on subsequent requests.
type Handshake struct {
	rotator *codeRotator
	tokens  *Tokens
	limiter *ratelimit.Limiter

	mu      sync.Mutex
	pending map[string]*pendingHandshake
}

// NewHandshake creates a Handshake. tokens mints the session token a
// successful confirm produces.
func NewHandshake(tokens *Tokens) *Handshake {
	return &Handshake{
		rotator: newCodeRotator(),
		tokens:  tokens,
		limiter: ratelimit.New(initRateLimitWindow, initRateLimitPerMin),
		pending: make(map[string]*pendingHandshake),
	}
}

// CurrentCode returns the presently active verification code, for display
// to the user approving the handshake out-of-band (e.g. in an admin UI).
func (h *Handshake) CurrentCode() string {
	current, _ := h.rotator.codes(time.Now())
	return current
}

// Init validates codeProof against the current or previous verification
// code and, on success, opens a pending handshake record.
func (h *Handshake) Init(ctx context.Context, origin, clientNonce, codeProof string) (*InitResult, error) {
	now := time.Now()
	if res := h.limiter.Allow("origin:"+origin, now); !res.Allowed {
		return nil, ErrRateLimited
	}

	current, previous := h.rotator.codes(now)
	if !codeProofMatches(codeProof, current, origin, clientNonce) &&
		!codeProofMatches(codeProof, previous, origin, clientNonce) {
		return nil, ErrInvalidCodeProof
	}

	serverNonce := make([]byte, serverNonceLen)
	if _, err := rand.Read(serverNonce); err != nil {
		return nil, fmt.Errorf("generate server nonce: %w", err)
	}

	ph := &pendingHandshake{
		id:          uuid.NewString(),
		origin:      origin,
		clientNonce: clientNonce,
		serverNonce: serverNonce,
		createdAt:   now,
		expiresAt:   now.Add(pendingTTL),
	}

	h.mu.Lock()
	h.pending[ph.id] = ph
	h.mu.Unlock()

	return &InitResult{
		HandshakeID: ph.id,
		ServerNonce: base64.StdEncoding.EncodeToString(serverNonce),
		KDF:         "pbkdf2",
		KDFParams:   KDFParams{Iterations: kdfIterations, Hash: "SHA-256", Length: kdfKeyLen},
		ExpiresIn:   pendingTTL,
	}, nil
}

// Approve marks a pending handshake approved, as triggered by an
// out-of-band UI action. It fails for unknown or expired handshakes.
func (h *Handshake) Approve(ctx context.Context, handshakeID string) error {
	ph, err := h.lookup(handshakeID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	ph.approved = true
	h.mu.Unlock()
	return nil
}

// Confirm checks response against the expected challenge derived from both
// the current and previous verification codes. On a match it consumes the
// handshake and mints a 10-minute session token bound to the approving
// origin.
func (h *Handshake) Confirm(ctx context.Context, handshakeID, response string) (*ConfirmResult, error) {
	ph, err := h.lookup(handshakeID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if ph.consumed {
		h.mu.Unlock()
		return nil, ErrHandshakeConsumed
	}
	if !ph.approved {
		h.mu.Unlock()
		return nil, ErrHandshakeNotApproved
	}
	h.mu.Unlock()

	current, previous := h.rotator.codes(time.Now())
	matched := challengeMatches(response, current, ph) || challengeMatches(response, previous, ph)
	if !matched {
		return nil, ErrChallengeMismatch
	}

	h.mu.Lock()
	ph.consumed = true
	delete(h.pending, ph.id)
	h.mu.Unlock()

	token, expiresAt, err := h.tokens.Issue(ctx, ph.origin, "", sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	return &ConfirmResult{Token: token, ExpiresAt: expiresAt}, nil
}

// PruneExpired discards pending handshakes past their TTL that were never
// confirmed, so a slow or abandoned client doesn't leak memory.
func (h *Handshake) PruneExpired(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, ph := range h.pending {
		if !ph.consumed && now.After(ph.expiresAt) {
			delete(h.pending, id)
			n++
		}
	}
	return n
}

func (h *Handshake) lookup(handshakeID string) (*pendingHandshake, error) {
	h.mu.Lock()
	ph, ok := h.pending[handshakeID]
	h.mu.Unlock()
	if !ok {
		return nil, ErrHandshakeNotFound
	}
	if time.Now().After(ph.expiresAt) {
		h.mu.Lock()
		delete(h.pending, handshakeID)
		h.mu.Unlock()
		return nil, ErrHandshakeExpired
	}
	return ph, nil
}

func codeProofMatches(proof, code, origin, clientNonce string) bool {
	if code == "" {
		return false
	}
	sum := sha256.Sum256([]byte(code + origin + clientNonce))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(proof), []byte(expected)) == 1
}

func challengeMatches(response, code string, ph *pendingHandshake) bool {
	if code == "" {
		return false
	}
	key := pbkdf2.Key([]byte(code), ph.serverNonce, kdfIterations, kdfKeyLen, sha256.New)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ph.origin + "|" + ph.clientNonce + "|" + ph.id))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(response), []byte(expected)) == 1
}

// VerifyBearer parses an "Authorization: LocalMCP <token>" header value and
// validates the token against origin. An expired token is revoked in the
// store by Tokens.Validate before ErrTokenExpired is returned.
func (h *Handshake) VerifyBearer(ctx context.Context, authorization, origin string) (*Principal, error) {
	const scheme = "LocalMCP "
	if len(authorization) <= len(scheme) || authorization[:len(scheme)] != scheme {
		return nil, errors.New("auth: missing or malformed LocalMCP authorization header")
	}
	token := authorization[len(scheme):]
	return h.tokens.Validate(ctx, token, origin)
}

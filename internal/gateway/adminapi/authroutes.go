package adminapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/audit"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/auth"
)

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	if s.apiKeys == nil {
		writeError(w, codeInternal, "api keys not configured", false)
		return
	}
	keys, err := s.apiKeys.List(r.Context())
	if err != nil {
		writeError(w, codeInternal, err.Error(), false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "apiKeys": keys})
}

type createAPIKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	TTLSeconds  int64    `json:"ttlSeconds,omitempty"`
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeBadRequest, "invalid request body: "+err.Error(), false)
		return
	}
	if req.Name == "" {
		writeError(w, codeBadRequest, "name is required", false)
		return
	}
	if s.apiKeys == nil {
		writeError(w, codeInternal, "api keys not configured", false)
		return
	}

	var ttl *time.Duration
	if req.TTLSeconds > 0 {
		d := time.Duration(req.TTLSeconds) * time.Second
		ttl = &d
	}

	rawKey, meta, err := s.apiKeys.Create(r.Context(), req.Name, req.Permissions, ttl)
	if err != nil {
		writeError(w, codeInternal, err.Error(), false)
		return
	}

	s.auditLog.Notify(r.Context(), audit.Event{Kind: audit.KindAPIKeyIssued, Actor: actorFrom(r.Context()), Target: meta.ID})
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "apiKey": rawKey, "meta": meta})
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if s.apiKeys == nil {
		writeError(w, codeInternal, "api keys not configured", false)
		return
	}
	if err := s.apiKeys.Delete(r.Context(), key); err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			writeError(w, codeNotFound, err.Error(), false)
			return
		}
		writeError(w, codeInternal, err.Error(), false)
		return
	}
	s.auditLog.Notify(r.Context(), audit.Event{Kind: audit.KindAPIKeyRevoked, Actor: actorFrom(r.Context()), Target: key})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type issueTokenRequest struct {
	Origin     string `json:"origin"`
	APIKeyID   string `json:"apiKeyId,omitempty"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeBadRequest, "invalid request body: "+err.Error(), false)
		return
	}
	if req.Origin == "" || req.TTLSeconds <= 0 {
		writeError(w, codeBadRequest, "origin and ttlSeconds are required", false)
		return
	}
	if s.tokens == nil {
		writeError(w, codeInternal, "tokens not configured", false)
		return
	}

	rawToken, expiresAt, err := s.tokens.Issue(r.Context(), req.Origin, req.APIKeyID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, codeInternal, err.Error(), false)
		return
	}

	s.auditLog.Notify(r.Context(), audit.Event{Kind: audit.KindTokenIssued, Actor: actorFrom(r.Context()), Target: req.Origin})
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "token": rawToken, "expiresAt": expiresAt})
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.tokens == nil {
		writeError(w, codeInternal, "tokens not configured", false)
		return
	}
	if err := s.tokens.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			writeError(w, codeNotFound, err.Error(), false)
			return
		}
		writeError(w, codeInternal, err.Error(), false)
		return
	}
	s.auditLog.Notify(r.Context(), audit.Event{Kind: audit.KindTokenRevoked, Actor: actorFrom(r.Context()), Target: id})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// --- browser-proxy handshake ---

func (s *Server) handleLocalProxyCode(w http.ResponseWriter, r *http.Request) {
	if s.handshake == nil {
		writeError(w, codeInternal, "handshake not configured", false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "code": s.handshake.CurrentCode()})
}

type handshakeInitRequest struct {
	Origin      string `json:"origin"`
	ClientNonce string `json:"clientNonce"`
	CodeProof   string `json:"codeProof"`
}

func (s *Server) handleHandshakeInit(w http.ResponseWriter, r *http.Request) {
	var req handshakeInitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeBadRequest, "invalid request body: "+err.Error(), false)
		return
	}
	if s.handshake == nil {
		writeError(w, codeInternal, "handshake not configured", false)
		return
	}

	res, err := s.handshake.Init(r.Context(), req.Origin, req.ClientNonce, req.CodeProof)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRateLimited):
			writeError(w, codeRateLimited, err.Error(), true)
		case errors.Is(err, auth.ErrInvalidCodeProof):
			writeError(w, codeForbidden, err.Error(), false)
		default:
			writeError(w, codeInternal, err.Error(), false)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "handshake": res})
}

type handshakeIDRequest struct {
	HandshakeID string `json:"handshakeId"`
}

func (s *Server) handleHandshakeApprove(w http.ResponseWriter, r *http.Request) {
	var req handshakeIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeBadRequest, "invalid request body: "+err.Error(), false)
		return
	}
	if s.handshake == nil {
		writeError(w, codeInternal, "handshake not configured", false)
		return
	}
	if err := s.handshake.Approve(r.Context(), req.HandshakeID); err != nil {
		writeError(w, codeNotFound, err.Error(), false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type handshakeConfirmRequest struct {
	HandshakeID string `json:"handshakeId"`
	Response    string `json:"response"`
}

func (s *Server) handleHandshakeConfirm(w http.ResponseWriter, r *http.Request) {
	var req handshakeConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeBadRequest, "invalid request body: "+err.Error(), false)
		return
	}
	if s.handshake == nil {
		writeError(w, codeInternal, "handshake not configured", false)
		return
	}

	res, err := s.handshake.Confirm(r.Context(), req.HandshakeID, req.Response)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrHandshakeNotApproved), errors.Is(err, auth.ErrChallengeMismatch):
			writeError(w, codeForbidden, err.Error(), false)
		case errors.Is(err, auth.ErrHandshakeNotFound), errors.Is(err, auth.ErrHandshakeExpired), errors.Is(err, auth.ErrHandshakeConsumed):
			writeError(w, codeNotFound, err.Error(), false)
		default:
			writeError(w, codeInternal, err.Error(), false)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": res.Token, "expiresAt": res.ExpiresAt})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "events": s.auditLog.Recent(limit)})
}

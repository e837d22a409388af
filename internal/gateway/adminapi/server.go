// Package adminapi exposes the gateway's administrative HTTP surface:
// service/template CRUD, tool execution, api key/token management, the
// browser-proxy handshake, and sandbox status. Route registration mounts
// on a plain *http.ServeMux or any compatible router.
package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/audit"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/auth"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/config"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/health"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/orchestrator"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/ratelimit"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/router"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/runtime"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/sandbox"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/store"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/supervisor"
)

// RouteRegistrar is satisfied by *http.ServeMux, letting this surface be
// mounted without importing a concrete router type.
type RouteRegistrar interface {
	Handle(pattern string, handler http.Handler)
}

// Deps bundles every collaborator the admin surface calls into. Registry is
// required; every other field may be left unset, in which case the handlers
// that need it report an error or an empty result (and an unset Audit falls
// back to audit.Noop{}).
type Deps struct {
	Registry    *registry.Registry
	Supervisor  *supervisor.Manager
	Health      *health.Checker
	Router      *router.Router
	Config      *config.Store
	APIKeys     *auth.APIKeys
	Tokens      *auth.Tokens
	Handshake   *auth.Handshake
	Limiter     *ratelimit.Limiter
	Driver      *orchestrator.Driver
	ToolStore   *store.Store
	Audit       audit.Notifier
	GatewayAuth auth.Mode
	CORSOrigins []string
	SandboxCfg  sandbox.GatewayConfig
	Runtime     runtime.Runtime
}

// Server implements the gateway's admin HTTP surface.
type Server struct {
	reg         *registry.Registry
	supervisor  *supervisor.Manager
	health      *health.Checker
	router      *router.Router
	cfg         *config.Store
	apiKeys     *auth.APIKeys
	tokens      *auth.Tokens
	handshake   *auth.Handshake
	limiter     *ratelimit.Limiter
	driver      *orchestrator.Driver
	toolStore   *store.Store
	auditLog    audit.Notifier
	authMode    auth.Mode
	corsOrigins []string
	sandboxCfg  sandbox.GatewayConfig
	runtime     runtime.Runtime
}

// New builds a Server from deps. An unset Audit falls back to audit.Noop{}.
func New(deps Deps) *Server {
	auditLog := deps.Audit
	if auditLog == nil {
		auditLog = audit.Noop{}
	}
	return &Server{
		reg:         deps.Registry,
		supervisor:  deps.Supervisor,
		health:      deps.Health,
		router:      deps.Router,
		cfg:         deps.Config,
		apiKeys:     deps.APIKeys,
		tokens:      deps.Tokens,
		handshake:   deps.Handshake,
		limiter:     deps.Limiter,
		driver:      deps.Driver,
		toolStore:   deps.ToolStore,
		auditLog:    auditLog,
		authMode:    deps.GatewayAuth,
		corsOrigins: deps.CORSOrigins,
		sandboxCfg:  deps.SandboxCfg,
		runtime:     deps.Runtime,
	}
}

// RegisterRoutes mounts every admin route on r, using Go's method+pattern
// ServeMux syntax.
func (s *Server) RegisterRoutes(r RouteRegistrar) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/services", s.handleListServices)
	mux.HandleFunc("POST /api/services", s.handleCreateService)
	mux.HandleFunc("GET /api/services/{id}", s.handleGetService)
	mux.HandleFunc("DELETE /api/services/{id}", s.handleDeleteService)
	mux.HandleFunc("PATCH /api/services/{id}/env", s.handlePatchServiceEnv)
	mux.HandleFunc("GET /api/services/{id}/health", s.handleServiceHealth)
	mux.HandleFunc("GET /api/services/{id}/logs", s.handleServiceLogs)

	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("POST /api/templates", s.handleCreateTemplate)
	mux.HandleFunc("POST /api/templates/import", s.handleImportTemplates)
	mux.HandleFunc("DELETE /api/templates/{name}", s.handleDeleteTemplate)

	mux.HandleFunc("POST /api/tools/execute", s.handleToolExecute)
	mux.HandleFunc("POST /api/tools/batch", s.handleToolBatch)
	mux.HandleFunc("GET /api/tools/history", s.handleToolHistory)

	mux.HandleFunc("GET /api/auth/apikeys", s.handleListAPIKeys)
	mux.HandleFunc("POST /api/auth/apikey", s.handleCreateAPIKey)
	mux.HandleFunc("DELETE /api/auth/apikey/{key}", s.handleDeleteAPIKey)
	mux.HandleFunc("POST /api/auth/token", s.handleIssueToken)
	mux.HandleFunc("DELETE /api/auth/token/{id}", s.handleRevokeToken)

	mux.HandleFunc("GET /local-proxy/code", s.handleLocalProxyCode)
	mux.HandleFunc("POST /handshake/init", s.handleHandshakeInit)
	mux.HandleFunc("POST /handshake/approve", s.handleHandshakeApprove)
	mux.HandleFunc("POST /handshake/confirm", s.handleHandshakeConfirm)
	mux.HandleFunc("GET /tools", s.withAuth(s.handleTools))
	mux.HandleFunc("POST /call", s.withAuth(s.handleCall))

	mux.HandleFunc("GET /api/sandbox/status", s.handleSandboxStatus)
	mux.HandleFunc("POST /api/sandbox/install", s.handleSandboxInstall)
	mux.HandleFunc("POST /api/sandbox/repair", s.handleSandboxRepair)
	mux.HandleFunc("POST /api/sandbox/cleanup", s.handleSandboxCleanup)
	mux.HandleFunc("GET /api/sandbox/install/stream", s.handleSandboxInstallStream)

	mux.HandleFunc("GET /api/audit", s.handleAudit)

	mux.HandleFunc("GET /api/router/rules", s.handleListRouterRules)
	mux.HandleFunc("GET /api/router/history", s.handleRouterHistory)

	r.Handle("/", s.withRateLimit(s.withCORS(mux)))
}

// --- error envelope & JSON helpers ---

// errCode is one of the standard error taxonomy codes returned in every
// error envelope.
type errCode string

const (
	codeBadRequest   errCode = "BAD_REQUEST"
	codeUnauthorized errCode = "UNAUTHORIZED"
	codeForbidden    errCode = "FORBIDDEN"
	codeNotFound     errCode = "NOT_FOUND"
	codeRateLimited  errCode = "RATE_LIMITED"
	codeInternal     errCode = "INTERNAL_ERROR"
	codeToolError    errCode = "TOOL_ERROR"
	codeAuthError    errCode = "AUTH_ERROR"
)

type errorBody struct {
	Message     string  `json:"message"`
	Code        errCode `json:"code"`
	Recoverable bool    `json:"recoverable"`
	Meta        any     `json:"meta,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func statusForCode(code errCode) int {
	switch code {
	case codeBadRequest:
		return http.StatusBadRequest
	case codeUnauthorized, codeAuthError:
		return http.StatusUnauthorized
	case codeForbidden:
		return http.StatusForbidden
	case codeNotFound:
		return http.StatusNotFound
	case codeRateLimited:
		return http.StatusTooManyRequests
	case codeToolError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code errCode, message string, recoverable bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForCode(code))
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Success: false,
		Error:   errorBody{Message: message, Code: code, Recoverable: recoverable},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("adminapi: encode response", "err", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// --- middleware ---

// withCORS echoes Access-Control-Allow-Origin only for origins present in
// corsOrigins. Applied to every response, not just SSE endpoints.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && containsString(s.corsOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := ratelimit.KeyForIP(auth.ClientIP(r).String())
		if apiKey := r.Header.Get("X-API-Key"); len(apiKey) >= 8 {
			key = ratelimit.KeyForAPIKey(apiKey[:8])
		}
		res := s.limiter.Allow(key, time.Now())
		ratelimit.WriteHeaders(w, res)
		if !res.Allowed {
			writeError(w, codeRateLimited, "rate limit exceeded", true)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAuth enforces the gateway's trust mode on the wrapped handler and
// attaches the resolved Principal to the request context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.handshake == nil {
			next(w, r)
			return
		}
		src := auth.ClientIP(r)
		if !auth.RequiresCredential(s.authMode, src) {
			next(w, r)
			return
		}
		principal, err := s.handshake.VerifyBearer(r.Context(), r.Header.Get("Authorization"), r.Header.Get("Origin"))
		if err != nil {
			writeError(w, codeUnauthorized, "authentication required", false)
			return
		}
		r = r.WithContext(withPrincipal(r.Context(), principal))
		next(w, r)
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

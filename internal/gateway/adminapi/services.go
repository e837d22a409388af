package adminapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/audit"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
)

type serviceView struct {
	ID         string            `json:"id"`
	Template   string            `json:"templateName"`
	State      registry.State    `json:"state"`
	StartedAt  string            `json:"startedAt,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ErrorCount int               `json:"errorCount"`
	HealthyNow bool              `json:"healthyNow,omitempty"`
}

func toServiceView(inst registry.Instance) serviceView {
	v := serviceView{
		ID:         inst.ID,
		Template:   inst.TemplateRef,
		State:      inst.State,
		Metadata:   inst.Metadata,
		ErrorCount: inst.ErrorCount,
	}
	if !inst.StartedAt.IsZero() {
		v.StartedAt = inst.StartedAt.Format(httpTimeFormat)
	}
	if inst.Health != nil {
		v.HealthyNow = inst.Health.Healthy
	}
	return v
}

const httpTimeFormat = "2006-01-02T15:04:05Z07:00"

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	instances := s.reg.ListInstances()
	out := make([]serviceView, 0, len(instances))
	for _, inst := range instances {
		out = append(out, toServiceView(inst))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "services": out})
}

type createServiceRequest struct {
	TemplateName string            `json:"templateName"`
	InstanceArgs map[string]string `json:"instanceArgs,omitempty"`
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeBadRequest, "invalid request body: "+err.Error(), false)
		return
	}
	if req.TemplateName == "" {
		writeError(w, codeBadRequest, "templateName is required", false)
		return
	}

	inst, err := s.reg.CreateInstance(req.TemplateName, req.InstanceArgs)
	if err != nil {
		if errors.Is(err, registry.ErrTemplateNotFound) {
			writeError(w, codeNotFound, err.Error(), false)
			return
		}
		writeError(w, codeInternal, err.Error(), false)
		return
	}

	if s.supervisor != nil {
		if err := s.supervisor.Start(r.Context(), inst.ID, true); err != nil {
			writeError(w, codeInternal, "created but failed to start: "+err.Error(), true)
			return
		}
	}

	s.auditLog.Notify(r.Context(), audit.Event{Kind: audit.KindServiceCreated, Actor: actorFrom(r.Context()), Target: inst.ID})

	snap, _ := s.reg.GetInstance(inst.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "service": toServiceView(snap)})
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inst, err := s.reg.GetInstance(id)
	if err != nil {
		writeError(w, codeNotFound, err.Error(), false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "service": toServiceView(inst)})
}

func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.supervisor != nil {
		_ = s.supervisor.Stop(r.Context(), id)
	}
	if err := s.reg.RemoveInstance(id); err != nil {
		writeError(w, codeNotFound, err.Error(), false)
		return
	}
	s.auditLog.Notify(r.Context(), audit.Event{Kind: audit.KindServiceDeleted, Actor: actorFrom(r.Context()), Target: id})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type patchEnvRequest struct {
	Env map[string]string `json:"env"`
}

// handlePatchServiceEnv merges the given env vars into the instance's
// metadata (prefixed "env:") so they are picked up the next time the
// instance is (re)started; it does not hot-reload a running process's
// environment, since no transport in this gateway supports that.
func (s *Server) handlePatchServiceEnv(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req patchEnvRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeBadRequest, "invalid request body: "+err.Error(), false)
		return
	}

	if _, err := s.reg.GetInstance(id); err != nil {
		writeError(w, codeNotFound, err.Error(), false)
		return
	}
	prefixed := make(map[string]string, len(req.Env))
	for k, v := range req.Env {
		prefixed["env:"+k] = v
	}
	if err := s.reg.MergeMetadata(id, prefixed); err != nil {
		writeError(w, codeInternal, err.Error(), false)
		return
	}

	s.auditLog.Notify(r.Context(), audit.Event{Kind: audit.KindServiceUpdated, Actor: actorFrom(r.Context()), Target: id})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.health == nil {
		writeError(w, codeInternal, "health checker not configured", false)
		return
	}
	rec := s.health.CheckNow(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "health": rec})
}

func (s *Server) handleServiceLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := parseLimit(r, 100)
	if s.toolStore == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "logs": []any{}})
		return
	}
	calls, err := s.toolStore.ToolCallHistory(r.Context(), limit)
	if err != nil {
		writeError(w, codeInternal, err.Error(), false)
		return
	}
	filtered := make([]*toolCallView, 0, len(calls))
	for _, c := range calls {
		if c.InstanceID == id {
			filtered = append(filtered, toToolCallView(c))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "logs": filtered})
}

func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func actorFrom(ctx context.Context) string {
	if p := principalFrom(ctx); p != nil {
		return p.UserID
	}
	return "system"
}

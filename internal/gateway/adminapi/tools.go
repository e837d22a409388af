package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/auth"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/jsonrpc"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/orchestrator"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/router"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/store"
)

type toolCallView struct {
	ID        int64   `json:"id"`
	Instance  string  `json:"instanceId"`
	Template  string  `json:"template"`
	Tool      string  `json:"toolName"`
	Success   bool    `json:"success"`
	LatencyMs float64 `json:"latencyMs"`
	CalledAt  string  `json:"calledAt"`
}

func toToolCallView(c *store.ToolCall) *toolCallView {
	return &toolCallView{
		ID:        c.ID,
		Instance:  c.InstanceID,
		Template:  c.Template,
		Tool:      c.ToolName,
		Success:   c.Success,
		LatencyMs: c.LatencyMs,
		CalledAt:  c.CalledAt.Format(httpTimeFormat),
	}
}

type executeToolRequest struct {
	ToolID  string         `json:"toolId"`
	Params  map[string]any `json:"params"`
	Options struct {
		Template string `json:"template"`
	} `json:"options,omitempty"`
}

// handleToolExecute runs a single tool call through the orchestrator,
// recording the outcome in the tool call history store.
func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	var req executeToolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeBadRequest, "invalid request body: "+err.Error(), false)
		return
	}
	if req.ToolID == "" {
		writeError(w, codeBadRequest, "toolId is required", false)
		return
	}
	if s.driver == nil {
		writeError(w, codeInternal, "orchestrator not configured", false)
		return
	}

	template := req.Options.Template
	if template == "" {
		template = req.ToolID
	}

	start := time.Now()
	res, instanceID, err := s.dispatchStep(r.Context(), r, orchestrator.Step{Template: template, Tool: req.ToolID, Params: req.Params})
	latency := float64(time.Since(start).Milliseconds())
	if err == nil {
		err = res.Err
	}

	s.recordToolCall(r.Context(), instanceID, res.Template, req.ToolID, err == nil, latency)

	if err != nil {
		writeError(w, codeToolError, err.Error(), true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res.Result})
}

// dispatchStep routes a single step through the router and, when the chosen
// instance has a live supervised adapter, runs it directly against that
// adapter — so health filtering, load-balancing, and already-running
// supervised instances all participate in a live tool call, instead of the
// orchestrator always opening its own one-shot adapter. It falls back to the
// orchestrator's own adapter-per-step behavior (used unconditionally by the
// router-unaware /api/tools/batch pipeline) when no router/supervisor is
// wired, or when the routed instance has no live adapter to reuse.
func (s *Server) dispatchStep(ctx context.Context, r *http.Request, step orchestrator.Step) (orchestrator.StepResult, string, error) {
	if s.router == nil || s.supervisor == nil {
		return s.runStepStandalone(ctx, step)
	}

	req := router.Request{
		Path:          r.URL.Path,
		RPCMethod:     "tools/call",
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: r.ContentLength,
		TemplateHint:  step.Template,
		ServiceGroup:  r.Header.Get("X-Service-Group"),
		ClientIP:      auth.ClientIP(r).String(),
		Headers:       flattenHeaders(r.Header),
	}
	outcome, err := s.router.Route(req)
	if err != nil {
		return orchestrator.StepResult{Template: step.Template, Tool: step.Tool}, "", fmt.Errorf("route: %w", err)
	}
	step.Template = outcome.Instance.TemplateRef

	if adapter, ok := s.supervisor.LiveAdapter(outcome.Instance.ID); ok {
		return s.driver.RunStepOn(ctx, adapter, step), outcome.Instance.ID, nil
	}

	res, _, err := s.runStepStandalone(ctx, step)
	return res, outcome.Instance.ID, err
}

// runStepStandalone runs step through the orchestrator's own one-shot
// adapter, the same lifecycle /api/tools/batch uses for every step.
func (s *Server) runStepStandalone(ctx context.Context, step orchestrator.Step) (orchestrator.StepResult, string, error) {
	report, err := s.driver.Run(ctx, orchestrator.Plan{Steps: []orchestrator.Step{step}})
	if report == nil || len(report.Steps) == 0 {
		return orchestrator.StepResult{Template: step.Template, Tool: step.Tool}, "", err
	}
	return report.Steps[0], "", err
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

type batchCall struct {
	ToolID string         `json:"toolId"`
	Params map[string]any `json:"params"`
}

type batchRequest struct {
	Calls []batchCall `json:"calls"`
}

func (s *Server) handleToolBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeBadRequest, "invalid request body: "+err.Error(), false)
		return
	}
	if s.driver == nil {
		writeError(w, codeInternal, "orchestrator not configured", false)
		return
	}

	steps := make([]orchestrator.Step, 0, len(req.Calls))
	for _, c := range req.Calls {
		steps = append(steps, orchestrator.Step{Template: c.ToolID, Tool: c.ToolID, Params: c.Params})
	}

	start := time.Now()
	report, err := s.driver.Run(r.Context(), orchestrator.Plan{Steps: steps})
	latency := float64(time.Since(start).Milliseconds())
	s.recordToolCall(r.Context(), "", "batch", "batch", err == nil, latency)

	if err != nil && report == nil {
		writeError(w, codeToolError, err.Error(), true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": err == nil, "report": report})
}

func (s *Server) handleToolHistory(w http.ResponseWriter, r *http.Request) {
	if s.toolStore == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": []any{}})
		return
	}
	limit := parseLimit(r, 100)
	toolID := r.URL.Query().Get("toolId")

	calls, err := s.toolStore.ToolCallHistory(r.Context(), limit)
	if err != nil {
		writeError(w, codeInternal, err.Error(), false)
		return
	}
	out := make([]*toolCallView, 0, len(calls))
	for _, c := range calls {
		if toolID != "" && c.ToolName != toolID {
			continue
		}
		out = append(out, toToolCallView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": out})
}

func (s *Server) recordToolCall(ctx context.Context, instanceID, template, tool string, success bool, latencyMs float64) {
	if s.toolStore == nil {
		return
	}
	_ = s.toolStore.RecordToolCall(ctx, &store.ToolCall{
		InstanceID: instanceID,
		Template:   template,
		ToolName:   tool,
		Success:    success,
		LatencyMs:  latencyMs,
		CalledAt:   time.Now(),
	})
}

// --- abridged /tools /call surface (local-proxy) ---

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.driver == nil {
		writeError(w, codeInternal, "orchestrator not configured", false)
		return
	}
	var all []jsonrpc.Tool
	for _, tpl := range s.reg.ListTemplates() {
		tools, err := s.driver.ListTools(r.Context(), tpl.Name)
		if err != nil {
			continue
		}
		all = append(all, tools...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tools": all})
}

type callRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeBadRequest, "invalid request body: "+err.Error(), false)
		return
	}
	if req.Name == "" {
		writeError(w, codeBadRequest, "name is required", false)
		return
	}
	if s.driver == nil {
		writeError(w, codeInternal, "orchestrator not configured", false)
		return
	}

	plan, err := orchestrator.DerivePlan(req.Name, s.reg.ListTemplates())
	if err != nil {
		writeError(w, codeNotFound, err.Error(), false)
		return
	}
	step := plan.Steps[0]
	step.Tool = req.Name
	step.Params = req.Arguments

	res, _, err := s.dispatchStep(r.Context(), r, step)
	if err == nil {
		err = res.Err
	}
	if err != nil {
		writeError(w, codeToolError, err.Error(), true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res.Result})
}

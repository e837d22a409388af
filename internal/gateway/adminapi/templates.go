package adminapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/audit"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/sandbox"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "templates": s.reg.ListTemplates()})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl registry.Template
	if err := decodeJSON(r, &tpl); err != nil {
		writeError(w, codeBadRequest, "invalid request body: "+err.Error(), false)
		return
	}

	tpl, err := s.registerTemplate(r.Context(), tpl)
	if err != nil {
		if errors.Is(err, registry.ErrTemplateExists) {
			writeError(w, codeBadRequest, err.Error(), false)
			return
		}
		var sbErr sandboxRejectedError
		if errors.As(err, &sbErr) {
			writeError(w, codeForbidden, err.Error(), false)
			return
		}
		writeError(w, codeBadRequest, err.Error(), false)
		return
	}

	s.auditLog.Notify(r.Context(), audit.Event{Kind: audit.KindTemplateCreated, Actor: actorFrom(r.Context()), Target: tpl.Name})
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "template": tpl})
}

type importTemplatesRequest struct {
	Templates []registry.Template `yaml:"templates"`
}

type importResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// handleImportTemplates accepts a YAML bundle of templates (the teacher's
// Gosuto YAML idiom, generalized to this gateway's Template shape) as an
// alternative to registering templates one at a time via the JSON
// POST /api/templates body. Each template is applied/registered/persisted
// independently; one rejected template does not abort the rest of the batch.
func (s *Server) handleImportTemplates(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, codeBadRequest, "read request body: "+err.Error(), false)
		return
	}

	var req importTemplatesRequest
	if err := yaml.Unmarshal(body, &req); err != nil {
		writeError(w, codeBadRequest, "invalid yaml: "+err.Error(), false)
		return
	}
	if len(req.Templates) == 0 {
		writeError(w, codeBadRequest, "templates is required and must be non-empty", false)
		return
	}

	results := make([]importResult, 0, len(req.Templates))
	registered := 0
	for _, tpl := range req.Templates {
		out, err := s.registerTemplate(r.Context(), tpl)
		if err != nil {
			results = append(results, importResult{Name: tpl.Name, Error: err.Error()})
			continue
		}
		registered++
		results = append(results, importResult{Name: out.Name})
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": registered > 0, "registered": registered, "results": results})
}

// sandboxRejectedError distinguishes a sandbox-policy rejection (forbidden)
// from every other registerTemplate failure (bad request).
type sandboxRejectedError struct{ err error }

func (e sandboxRejectedError) Error() string { return e.err.Error() }
func (e sandboxRejectedError) Unwrap() error { return e.err }

// registerTemplate runs the shared apply-sandbox/register/persist sequence
// a single template goes through, whether it arrived via the JSON create
// route or one entry of a YAML import bundle.
func (s *Server) registerTemplate(ctx context.Context, tpl registry.Template) (registry.Template, error) {
	result, err := sandbox.Apply(tpl, s.sandboxCfg)
	if err != nil {
		return registry.Template{}, sandboxRejectedError{fmt.Errorf("sandbox policy rejected template: %w", err)}
	}
	tpl = result.Template

	if err := s.reg.RegisterTemplate(tpl); err != nil {
		return registry.Template{}, err
	}

	if s.cfg != nil {
		if err := s.cfg.SaveTemplate(tpl); err != nil {
			return registry.Template{}, fmt.Errorf("template registered but not persisted: %w", err)
		}
	}
	return tpl, nil
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.reg.RemoveTemplate(name); err != nil {
		writeError(w, codeNotFound, err.Error(), false)
		return
	}
	if s.cfg != nil {
		if err := s.cfg.DeleteTemplate(name); err != nil {
			writeError(w, codeInternal, "template removed but file delete failed: "+err.Error(), true)
			return
		}
	}
	s.auditLog.Notify(r.Context(), audit.Event{Kind: audit.KindTemplateDeleted, Actor: actorFrom(r.Context()), Target: name})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

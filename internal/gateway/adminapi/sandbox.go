package adminapi

import (
	"fmt"
	"net/http"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/runtime"
)

// sandboxComponents names the pieces an install/repair pass walks through,
// in the order they are reported over the SSE stream.
var sandboxComponents = []string{"runtime", "network", "hardened-image"}

func (s *Server) handleSandboxStatus(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "runtimeAvailable": false, "containers": []any{}})
		return
	}
	handles, err := s.runtime.List(r.Context())
	if err != nil {
		writeError(w, codeInternal, err.Error(), true)
		return
	}
	statuses := make([]runtime.Status, 0, len(handles))
	for _, h := range handles {
		st, err := s.runtime.Status(r.Context(), h)
		if err != nil {
			continue
		}
		statuses = append(statuses, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "runtimeAvailable": true, "containers": statuses})
}

// handleSandboxInstall is synchronous (the streaming variant is
// GET /api/sandbox/install/stream): it just confirms the runtime is
// reachable, since this gateway has nothing to download — the hardened
// image and network are provisioned out of band by the operator.
func (s *Server) handleSandboxInstall(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		writeError(w, codeInternal, "no container runtime configured", false)
		return
	}
	if _, err := s.runtime.List(r.Context()); err != nil {
		writeError(w, codeInternal, "runtime unreachable: "+err.Error(), true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "components": sandboxComponents})
}

// handleSandboxRepair restarts every container the runtime reports as
// exited or crashed, mirroring the supervisor's own restart idiom but
// operating directly on the runtime rather than through instance state.
func (s *Server) handleSandboxRepair(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		writeError(w, codeInternal, "no container runtime configured", false)
		return
	}
	handles, err := s.runtime.List(r.Context())
	if err != nil {
		writeError(w, codeInternal, err.Error(), true)
		return
	}

	var repaired []string
	for _, h := range handles {
		st, err := s.runtime.Status(r.Context(), h)
		if err != nil {
			continue
		}
		if st.State == runtime.StateExited || st.State == runtime.StateUnknown {
			if err := s.runtime.Restart(r.Context(), h); err != nil {
				continue
			}
			repaired = append(repaired, h.InstanceID)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "repaired": repaired})
}

// handleSandboxCleanup removes every container the runtime reports whose
// instance id is no longer present in the registry — an orphan left behind
// by a crashed gateway process.
func (s *Server) handleSandboxCleanup(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		writeError(w, codeInternal, "no container runtime configured", false)
		return
	}
	handles, err := s.runtime.List(r.Context())
	if err != nil {
		writeError(w, codeInternal, err.Error(), true)
		return
	}

	var removed []string
	for _, h := range handles {
		if _, err := s.reg.GetInstance(h.InstanceID); err == nil {
			continue // still tracked, not an orphan
		}
		if err := s.runtime.Remove(r.Context(), h); err != nil {
			continue
		}
		removed = append(removed, h.InstanceID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": removed})
}

// handleSandboxInstallStream drives the install sequence as SSE: start,
// one component_start/component_done pair per sandboxComponents entry, then
// complete (or error, if the runtime is unreachable).
func (s *Server) handleSandboxInstallStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, codeInternal, "streaming unsupported", false)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emit := func(event string, data string) {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	emit("start", `{}`)

	if s.runtime == nil {
		emit("error", `{"message":"no container runtime configured"}`)
		return
	}
	if _, err := s.runtime.List(r.Context()); err != nil {
		emit("error", fmt.Sprintf(`{"message":%q}`, err.Error()))
		return
	}

	for _, c := range sandboxComponents {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		emit("component_start", fmt.Sprintf(`{"component":%q}`, c))
		emit("component_done", fmt.Sprintf(`{"component":%q}`, c))
	}

	emit("complete", `{}`)
}

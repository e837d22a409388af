package adminapi

import "net/http"

// handleRouterRules and handleRouterHistory round out the admin surface
// with direct visibility into the router's live rule set and routing
// decisions, beyond the abridged endpoint list — useful for diagnosing why
// a request landed on a given instance.

func (s *Server) handleListRouterRules(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "rules": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rules": s.router.Rules()})
}

func (s *Server) handleRouterHistory(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": []any{}})
		return
	}
	limit := parseLimit(r, 50)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": s.router.History(limit)})
}

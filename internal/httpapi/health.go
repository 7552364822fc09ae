package httpapi

import "net/http"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	failed, reason := s.Auth.Failed()
	body := map[string]any{
		"status":      "ok",
		"auth_failed": failed,
	}
	if failed {
		body["status"] = "degraded"
		body["auth_failure_reason"] = reason
	}
	if s.Truncations != nil {
		body["truncations"] = s.Truncations.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

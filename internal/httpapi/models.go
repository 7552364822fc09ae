package httpapi

import (
	"net/http"

	"github.com/kirogateway/kiro-gateway/internal/upstream"
)

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	authHeader, err := s.Auth.AuthHeader(r.Context())
	if err != nil {
		writeOpenAIError(w, asGatewayErr(err))
		return
	}

	ctx := upstream.WithAuthHeader(r.Context(), authHeader)
	ctx = upstream.WithProfileARN(ctx, s.Auth.ProfileARN())

	models, err := s.Models.List(ctx)
	if err != nil {
		writeOpenAIError(w, asGatewayErr(err))
		return
	}

	data := make([]map[string]any, 0, len(models))
	for _, m := range models {
		data = append(data, map[string]any{
			"id":     m.ID,
			"object": "model",
			"owned_by": "kiro",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

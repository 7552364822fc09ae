package httpapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// gatewayAuth enforces "Authorization: Bearer <GATEWAY_KEY>" (spec §4 HTTP
// Listener). Comparison is constant-time so response latency can't leak how
// many prefix bytes of a guessed key were correct.
func (s *Server) gatewayAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.Config.GatewayKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request carrying chi's request id. This
// access line is the only log line in the package that carries the id: the
// handlers' own error log lines (chat.go, messages.go) do not attach it.
// No log line here ever touches the request or response body, so a
// streamed SSE body is never buffered for logging.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

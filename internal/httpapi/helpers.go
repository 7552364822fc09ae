// Package httpapi implements the gateway's HTTP listener: the Anthropic- and
// OpenAI-compatible chat endpoints, model listing, and health check (spec §6
// names these routes; §1 assumes a listener exists without specifying one).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kirogateway/kiro-gateway/internal/gatewayerr"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// extractBearerToken returns the token from "Authorization: Bearer <token>",
// or "" if the header is missing or malformed.
func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func statusFor(err *gatewayerr.Error) int {
	if err.StatusHint != 0 {
		return err.StatusHint
	}
	return http.StatusInternalServerError
}

// writeAnthropicError renders err in the Anthropic Messages API's
// {"type":"error","error":{"type":...,"message":...}} shape.
func writeAnthropicError(w http.ResponseWriter, err *gatewayerr.Error) {
	writeJSON(w, statusFor(err), map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    string(err.Kind),
			"message": err.Message,
		},
	})
}

// writeOpenAIError renders err in OpenAI's {"error":{"message":...,"type":...}} shape.
func writeOpenAIError(w http.ResponseWriter, err *gatewayerr.Error) {
	writeJSON(w, statusFor(err), map[string]any{
		"error": map[string]any{
			"message": err.Message,
			"type":    string(err.Kind),
		},
	})
}

// asGatewayErr coerces any error into a *gatewayerr.Error, wrapping unknown
// errors as an internal upstream_fatal so every failure path has a status
// hint and a stable Kind string for logging.
func asGatewayErr(err error) *gatewayerr.Error {
	var ge *gatewayerr.Error
	if gatewayerr.As(err, &ge) {
		return ge
	}
	return gatewayerr.Wrap(gatewayerr.KindUpstreamFatal, http.StatusInternalServerError, false, "unexpected error", err)
}

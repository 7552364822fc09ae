// Package respond implements the response translator (spec §4.I): turning
// the upstream parser's SemanticEvent stream into Anthropic SSE, OpenAI SSE,
// or an aggregated OpenAI non-stream completion.
package respond

import (
	"strings"

	"github.com/google/uuid"
)

// NewMessageID returns an Anthropic-shaped id: msg_<24hex>.
func NewMessageID() string {
	return "msg_" + shortHex(24)
}

// NewCompletionID returns an OpenAI-shaped id: chatcmpl-<24hex>.
func NewCompletionID() string {
	return "chatcmpl-" + shortHex(24)
}

// NewSignature returns the placeholder thinking-block signature spec §4.I
// calls for: sig_<32hex>.
func NewSignature() string {
	return "sig_" + shortHex(32)
}

func shortHex(n int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	for len(raw) < n {
		raw += strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return raw[:n]
}

package auth

// Fixed headers every outbound request to Kiro-operated endpoints carries,
// per spec §6. Kept here since both the identity adapters and the upstream
// client (internal/upstream) need them.
const (
	UserAgent        = "KiroGateway/1.0 (+https://kiro.dev)"
	AmzUserAgent     = "aws-sdk-js/2.1 KiroGateway"
	HeaderCodeWhispererOptOut = "x-amzn-codewhisperer-optout"
	HeaderKiroAgentMode       = "x-amzn-kiro-agent-mode"
)

func setCommonHeaders(h interface{ Set(string, string) }) {
	h.Set("User-Agent", UserAgent)
	h.Set("x-amz-user-agent", AmzUserAgent)
	h.Set(HeaderCodeWhispererOptOut, "true")
	h.Set(HeaderKiroAgentMode, "vibe")
}

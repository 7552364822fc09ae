package chatmodel

import "time"

// ToolTruncation records that a tool-use's accumulated arguments failed to
// parse as JSON at stream end (spec §3, §4.J).
type ToolTruncation struct {
	ToolUseID string
	ToolName  string
	Timestamp time.Time
	SizeBytes int
	Reason    string
}

// ContentTruncation records that an assistant text response appears to have
// been cut off mid-sentence by the upstream (spec §3, §4.J).
type ContentTruncation struct {
	Hash      string // 16 hex chars, see internal/truncation
	Preview   string // first <= 200 chars of the truncated text
	Timestamp time.Time
}

// ModelInfo is a cached upstream model descriptor (spec §3, §4.D).
type ModelInfo struct {
	ID               string
	MaxInputTokens   int
	SupportsTools    bool
	SupportsThinking bool
	FetchedAt        time.Time
}

package chatmodel

// EventType discriminates SemanticEvent variants (spec §3).
type EventType string

const (
	EventContent     EventType = "content"
	EventThinking    EventType = "thinking"
	EventToolUse     EventType = "tool_use"
	EventContextUsed EventType = "context_usage"
	EventStreamEnd   EventType = "stream_end"
	EventError       EventType = "error"
)

// StopReason is the final disposition of a logical stream.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// ErrorKind classifies a SemanticEvent carrying EventError. It mirrors
// gatewayerr.Kind but stays decoupled so this package has no dependency on
// the error-taxonomy package's types.
type ErrorKind string

const (
	ErrFraming       ErrorKind = "framing"
	ErrProtocol      ErrorKind = "protocol"
	ErrFirstToken    ErrorKind = "first_token_timeout"
	ErrStreamBroken  ErrorKind = "stream_broken"
	ErrUpstream      ErrorKind = "upstream"
)

// SemanticEvent is the tagged variant produced by the upstream stream parser
// and consumed by the response translator and the truncation-recovery cache.
// Only the fields relevant to Type are populated.
type SemanticEvent struct {
	Type EventType

	// EventContent / EventThinking
	Text string

	// EventToolUse
	ToolUseID     string
	ToolName      string
	PartialJSON   string // concatenation so far; final fragment closes the call
	ToolUseClosed bool

	// EventContextUsed
	ContextUsagePct float64

	// EventStreamEnd
	StopReason StopReason

	// EventError
	ErrKind     ErrorKind
	ErrMessage  string
	ErrRetryable bool
}

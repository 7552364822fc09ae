// Package translate implements the request translator (spec §4.F) and the
// history summarizer (spec §4.G): normalizing Anthropic- and OpenAI-shaped
// inbound requests into the canonical upstream envelope.
package translate

import "encoding/json"

// AnthropicRequest mirrors the Anthropic Messages API v2023-06-01 request
// body named in spec §6.
type AnthropicRequest struct {
	Model         string              `json:"model"`
	MaxTokens     int                 `json:"max_tokens"`
	Messages      []AnthropicMessage  `json:"messages"`
	System        json.RawMessage     `json:"system,omitempty"`
	Tools         []AnthropicTool     `json:"tools,omitempty"`
	ToolChoice    json.RawMessage     `json:"tool_choice,omitempty"`
	Stream        bool                `json:"stream,omitempty"`
	Temperature   *float64            `json:"temperature,omitempty"`
	TopP          *float64            `json:"top_p,omitempty"`
	TopK          *int                `json:"top_k,omitempty"`
	StopSequences []string            `json:"stop_sequences,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
}

// AnthropicMessage is one turn; Content is either a string or an array of
// content blocks, handled via AnthropicContentBlock's custom unmarshaling.
type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// AnthropicContentBlock covers the block shapes Anthropic's API accepts:
// text, image (source.{type,media_type,data} or a url variant), tool_use,
// and tool_result.
type AnthropicContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *AnthropicImageSource `json:"source,omitempty"`

	ID    string          `json:"id,omitempty"`    // tool_use
	Name  string          `json:"name,omitempty"`  // tool_use
	Input json.RawMessage `json:"input,omitempty"` // tool_use

	ToolUseID string          `json:"tool_use_id,omitempty"` // tool_result
	Content   json.RawMessage `json:"content,omitempty"`     // tool_result: string or block array
	IsError   bool            `json:"is_error,omitempty"`    // tool_result

	CacheControl map[string]any `json:"cache_control,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"` // "base64" | "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// AnthropicSystemBlock is one element of a structured `system` array.
type AnthropicSystemBlock struct {
	Type         string         `json:"type"`
	Text         string         `json:"text"`
	CacheControl map[string]any `json:"cache_control,omitempty"`
}

type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// AnthropicToolChoice covers {"type":"auto"|"any"}, {"type":"tool","name":"x"}.
type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

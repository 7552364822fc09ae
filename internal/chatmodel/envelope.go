package chatmodel

// ToolDefinition is the upstream-neutral shape a tool takes once the request
// translator has normalized either Anthropic's {name,description,input_schema}
// or OpenAI's {type:function,function:{...}} form.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolChoiceMode discriminates the normalized tool-choice directive.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceAny      ToolChoiceMode = "any"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceSpecific ToolChoiceMode = "specific"
)

// ToolChoice is the normalized tool-choice directive; Name is only set when
// Mode is ToolChoiceSpecific.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// Envelope is the canonical upstream request envelope (spec §3). Everything
// the request translator produces funnels into this shape before the
// upstream client serializes it onto the wire.
type Envelope struct {
	ConversationID     string
	ContinuationID     string
	TriggerType        string
	TaskType           string
	CurrentUserMessage Message
	History            []Message
	Tools              []ToolDefinition
	ToolChoice         ToolChoice
	ModelID            string
	ProfileARN         string // sent iff the credential's provider is not OIDC
}

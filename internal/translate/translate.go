package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/gatewayerr"
	"github.com/kirogateway/kiro-gateway/internal/modelinfo"
	"github.com/kirogateway/kiro-gateway/internal/tokens"
	"github.com/kirogateway/kiro-gateway/internal/truncation"
)

// contextHeadroom is the minimum token margin reserved below
// max-input-tokens before the summarizer is invoked (spec §4.F rule 8).
const contextHeadroom = 1024

// Translator implements the request translator (spec §4.F).
type Translator struct {
	Models      *modelinfo.Cache
	Truncations *truncation.Cache
	Images      *ImageFetcher
}

func New(models *modelinfo.Cache, truncations *truncation.Cache, images *ImageFetcher) *Translator {
	return &Translator{Models: models, Truncations: truncations, Images: images}
}

func familyFor(modelID string) tokens.Family {
	lower := strings.ToLower(modelID)
	switch {
	case strings.Contains(lower, "gpt"):
		return tokens.FamilyGPT
	case strings.Contains(lower, "claude"):
		return tokens.FamilyClaude
	default:
		return tokens.FamilyOther
	}
}

// conversationID derives a stable id from the first user message and system
// preamble so that retries (and summarization re-sends) for the same
// logical conversation share an id (spec §4.F rule 6).
func conversationID(systemPreamble string, firstUserText string) string {
	sum := sha256.Sum256([]byte(systemPreamble + "\x00" + firstUserText))
	return "conv_" + hex.EncodeToString(sum[:])[:24]
}

// TranslateAnthropic normalizes an Anthropic /v1/messages request into the
// canonical envelope.
func (t *Translator) TranslateAnthropic(ctx context.Context, req AnthropicRequest) (chatmodel.Envelope, error) {
	if len(req.Messages) == 0 {
		return chatmodel.Envelope{}, gatewayerr.New(gatewayerr.KindRequestInvalid, 400, false, "messages must not be empty")
	}

	info, err := t.Models.Get(ctx, req.Model)
	if err != nil {
		return chatmodel.Envelope{}, gatewayerr.Wrap(gatewayerr.KindRequestInvalid, 400, false, "unknown model: "+req.Model, err)
	}

	msgs := make([]chatmodel.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks, err := t.anthropicBlocks(ctx, m.Content)
		if err != nil {
			return chatmodel.Envelope{}, err
		}
		msgs = append(msgs, chatmodel.Message{Role: chatmodel.Role(m.Role), Content: blocks})
	}

	preamble := anthropicSystemPreamble(req.System)
	msgs = foldSystemPreamble(msgs, preamble)

	msgs, err = repairToolReferences(msgs)
	if err != nil {
		return chatmodel.Envelope{}, err
	}

	if t.Truncations != nil {
		msgs = injectRecovery(msgs, t.Truncations)
	}

	tools, toolChoice := anthropicTools(req.Tools, req.ToolChoice, info.SupportsTools)

	firstUserText := firstUserMessageText(msgs)

	family := familyFor(req.Model)
	if tokens.CountMessages(msgs, family, true) > info.MaxInputTokens-contextHeadroom {
		summarized, err := Summarize(msgs, preamble, family, info.MaxInputTokens-contextHeadroom)
		if err != nil {
			return chatmodel.Envelope{}, gatewayerr.Wrap(gatewayerr.KindContextOverflow, 413, false, "request too large even after summarization", err)
		}
		msgs = summarized
	}

	current, history := splitCurrentMessage(msgs)

	return chatmodel.Envelope{
		ConversationID:     conversationID(preamble, firstUserText),
		ContinuationID:     uuid.NewString(),
		TriggerType:        "manual",
		TaskType:           "chat",
		CurrentUserMessage: current,
		History:            history,
		Tools:              tools,
		ToolChoice:         toolChoice,
		ModelID:            req.Model,
		ProfileARN:         "", // filled in by the composition root from the credential manager
	}, nil
}

func (t *Translator) anthropicBlocks(ctx context.Context, raw json.RawMessage) ([]chatmodel.ContentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	// Content is either a bare string or an array of blocks.
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: asString}}, nil
	}

	var rawBlocks []AnthropicContentBlock
	if err := json.Unmarshal(raw, &rawBlocks); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindRequestInvalid, 400, false, "invalid message content", err)
	}

	out := make([]chatmodel.ContentBlock, 0, len(rawBlocks))
	for _, b := range rawBlocks {
		switch b.Type {
		case "text":
			out = append(out, chatmodel.ContentBlock{Type: chatmodel.BlockText, Text: b.Text})
		case "image":
			block, err := t.anthropicImageBlock(ctx, b)
			if err != nil {
				return nil, err
			}
			out = append(out, block)
		case "tool_use":
			args := string(b.Input)
			if !json.Valid(b.Input) {
				args = "{}"
			}
			out = append(out, chatmodel.ContentBlock{Type: chatmodel.BlockToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolRawArgs: args})
		case "tool_result":
			out = append(out, chatmodel.ContentBlock{
				Type:            chatmodel.BlockToolResult,
				ToolResultForID: b.ToolUseID,
				ToolResultText:  toolResultText(b.Content),
				ToolResultIsErr: b.IsError,
			})
		}
	}
	return out, nil
}

func (t *Translator) anthropicImageBlock(ctx context.Context, b AnthropicContentBlock) (chatmodel.ContentBlock, error) {
	if b.Source == nil {
		return chatmodel.ContentBlock{}, gatewayerr.New(gatewayerr.KindRequestInvalid, 400, false, "image block missing source")
	}
	if b.Source.Type == "base64" {
		return chatmodel.ContentBlock{Type: chatmodel.BlockImage, ImageMediaType: b.Source.MediaType, ImageBase64: b.Source.Data}, nil
	}
	if b.Source.Type == "url" && t.Images != nil {
		mt, data, err := t.Images.Fetch(ctx, b.Source.URL)
		if err != nil {
			return chatmodel.ContentBlock{}, gatewayerr.Wrap(gatewayerr.KindRequestInvalid, 400, false, "failed to fetch image url", err)
		}
		return chatmodel.ContentBlock{Type: chatmodel.BlockImage, ImageMediaType: mt, ImageBase64: data}, nil
	}
	return chatmodel.ContentBlock{}, gatewayerr.New(gatewayerr.KindRequestInvalid, 400, false, "unsupported image source type")
}

func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			sb.WriteString(b.Text)
		}
		return sb.String()
	}
	return string(raw)
}

func anthropicSystemPreamble(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []AnthropicSystemBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for i, b := range blocks {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
		}
		return sb.String()
	}
	return ""
}

// foldSystemPreamble prepends a labeled preamble to the first user message,
// per spec §4.F rule 2. Cache-control hints are deliberately dropped: the
// upstream has no equivalent concept.
func foldSystemPreamble(msgs []chatmodel.Message, preamble string) []chatmodel.Message {
	if preamble == "" {
		return msgs
	}
	labeled := fmt.Sprintf("<system>%s</system>", preamble)
	for i, m := range msgs {
		if m.Role == chatmodel.RoleUser {
			block := chatmodel.ContentBlock{Type: chatmodel.BlockText, Text: labeled + "\n\n"}
			msgs[i].Content = append([]chatmodel.ContentBlock{block}, m.Content...)
			return msgs
		}
	}
	return append([]chatmodel.Message{{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: labeled}}}}, msgs...)
}

// repairToolReferences implements spec §4.F rule 4 and Testable Property 7:
// assistant tool-use blocks with invalid JSON args get `{}`; tool-result
// blocks whose tool-use-id is unknown become plain user text.
func repairToolReferences(msgs []chatmodel.Message) ([]chatmodel.Message, error) {
	knownToolUseIDs := map[string]bool{}
	for _, m := range msgs {
		for _, id := range m.ToolUseIDs() {
			knownToolUseIDs[id] = true
		}
	}

	for i, m := range msgs {
		newContent := make([]chatmodel.ContentBlock, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case chatmodel.BlockToolUse:
				if !json.Valid([]byte(b.ToolRawArgs)) {
					b.ToolRawArgs = "{}"
				}
				newContent = append(newContent, b)
			case chatmodel.BlockToolResult:
				if !knownToolUseIDs[b.ToolResultForID] {
					newContent = append(newContent, chatmodel.ContentBlock{
						Type: chatmodel.BlockText,
						Text: fmt.Sprintf("[tool result for %s] %s", b.ToolResultForID, b.ToolResultText),
					})
					continue
				}
				newContent = append(newContent, b)
			default:
				newContent = append(newContent, b)
			}
		}
		msgs[i].Content = newContent
	}
	return msgs, nil
}

// injectRecovery implements spec §4.F rule 7 / §4.J retrieval: for each
// tool-use-id the client's own tool_result blocks answer, and the last
// assistant text's hash, consult the truncation cache and, if a record is
// present, insert the recovered synthetic message immediately before the
// message carrying that tool_result (spec S4: "immediately before the
// client's tool-result").
func injectRecovery(msgs []chatmodel.Message, cache *truncation.Cache) []chatmodel.Message {
	out := make([]chatmodel.Message, 0, len(msgs)+2)
	lastAssistantIdx := -1
	for i, m := range msgs {
		if m.Role == chatmodel.RoleAssistant {
			lastAssistantIdx = i
		}
	}

	for i, m := range msgs {
		for _, id := range m.ToolResultIDs() {
			if rec, ok := cache.GetToolTruncation(id); ok {
				out = append(out, chatmodel.Message{
					Role: chatmodel.RoleUser,
					Content: []chatmodel.ContentBlock{{
						Type:            chatmodel.BlockToolResult,
						ToolResultForID: rec.ToolUseID,
						ToolResultText:  truncation.ToolTruncationMessage(rec.ToolName),
						ToolResultIsErr: true,
					}},
				})
			}
		}
		out = append(out, m)
		if i == lastAssistantIdx {
			if hash := truncation.HashContent(m.Text()); hash != "" {
				if _, ok := cache.GetContentTruncation(hash); ok {
					out = append(out, chatmodel.Message{
						Role:    chatmodel.RoleUser,
						Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: truncation.ContentTruncationMessage}},
					})
				}
			}
		}
	}
	return out
}

func anthropicTools(reqTools []AnthropicTool, toolChoiceRaw json.RawMessage, supportsTools bool) ([]chatmodel.ToolDefinition, chatmodel.ToolChoice) {
	choice := parseAnthropicToolChoice(toolChoiceRaw)
	if !supportsTools || choice.Mode == chatmodel.ToolChoiceNone {
		return nil, chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceNone}
	}
	tools := make([]chatmodel.ToolDefinition, 0, len(reqTools))
	for _, t := range reqTools {
		tools = append(tools, chatmodel.ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return tools, choice
}

func parseAnthropicToolChoice(raw json.RawMessage) chatmodel.ToolChoice {
	if len(raw) == 0 {
		return chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceAuto}
	}
	var tc AnthropicToolChoice
	if err := json.Unmarshal(raw, &tc); err != nil {
		return chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceAuto}
	}
	switch tc.Type {
	case "any":
		return chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceAny}
	case "tool":
		return chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceSpecific, Name: tc.Name}
	case "none":
		return chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceNone}
	default:
		return chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceAuto}
	}
}

func splitCurrentMessage(msgs []chatmodel.Message) (current chatmodel.Message, history []chatmodel.Message) {
	if len(msgs) == 0 {
		return chatmodel.Message{}, nil
	}
	return msgs[len(msgs)-1], msgs[:len(msgs)-1]
}

func firstUserMessageText(msgs []chatmodel.Message) string {
	for _, m := range msgs {
		if m.Role == chatmodel.RoleUser {
			return m.Text()
		}
	}
	return ""
}

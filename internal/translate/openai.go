package translate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/gatewayerr"
	"github.com/kirogateway/kiro-gateway/internal/tokens"
)

// TranslateOpenAI normalizes an OpenAI /v1/chat/completions request into the
// canonical envelope. OpenAI has no separate system field: a leading
// "system" role message plays that part (spec §4.F rule 2).
func (t *Translator) TranslateOpenAI(ctx context.Context, req OpenAIRequest) (chatmodel.Envelope, error) {
	if len(req.Messages) == 0 {
		return chatmodel.Envelope{}, gatewayerr.New(gatewayerr.KindRequestInvalid, 400, false, "messages must not be empty")
	}

	info, err := t.Models.Get(ctx, req.Model)
	if err != nil {
		return chatmodel.Envelope{}, gatewayerr.Wrap(gatewayerr.KindRequestInvalid, 400, false, "unknown model: "+req.Model, err)
	}

	var preamble strings.Builder
	msgs := make([]chatmodel.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			text, err := openaiContentText(m.Content)
			if err != nil {
				return chatmodel.Envelope{}, err
			}
			if preamble.Len() > 0 {
				preamble.WriteString("\n")
			}
			preamble.WriteString(text)
			continue
		}
		blocks, err := t.openaiBlocks(ctx, m)
		if err != nil {
			return chatmodel.Envelope{}, err
		}
		role := chatmodel.RoleUser
		switch m.Role {
		case "assistant":
			role = chatmodel.RoleAssistant
		case "tool":
			role = chatmodel.RoleUser // tool results travel as user-authored tool_result blocks upstream
		}
		msgs = append(msgs, chatmodel.Message{Role: role, Content: blocks})
	}

	msgs = foldSystemPreamble(msgs, preamble.String())

	msgs, err = repairToolReferences(msgs)
	if err != nil {
		return chatmodel.Envelope{}, err
	}

	if t.Truncations != nil {
		msgs = injectRecovery(msgs, t.Truncations)
	}

	tools, toolChoice := openaiTools(req.Tools, req.ToolChoice, info.SupportsTools)

	firstUserText := firstUserMessageText(msgs)

	family := familyFor(req.Model)
	if tokens.CountMessages(msgs, family, true) > info.MaxInputTokens-contextHeadroom {
		summarized, err := Summarize(msgs, preamble.String(), family, info.MaxInputTokens-contextHeadroom)
		if err != nil {
			return chatmodel.Envelope{}, gatewayerr.Wrap(gatewayerr.KindContextOverflow, 413, false, "request too large even after summarization", err)
		}
		msgs = summarized
	}

	current, history := splitCurrentMessage(msgs)

	return chatmodel.Envelope{
		ConversationID:     conversationID(preamble.String(), firstUserText),
		ContinuationID:     uuid.NewString(),
		TriggerType:        "manual",
		TaskType:           "chat",
		CurrentUserMessage: current,
		History:            history,
		Tools:              tools,
		ToolChoice:         toolChoice,
		ModelID:            req.Model,
	}, nil
}

func (t *Translator) openaiBlocks(ctx context.Context, m OpenAIMessage) ([]chatmodel.ContentBlock, error) {
	if m.Role == "tool" {
		text, err := openaiContentText(m.Content)
		if err != nil {
			return nil, err
		}
		return []chatmodel.ContentBlock{{
			Type:            chatmodel.BlockToolResult,
			ToolResultForID: m.ToolCallID,
			ToolResultText:  text,
		}}, nil
	}

	var out []chatmodel.ContentBlock

	if len(m.Content) > 0 {
		var asString string
		if err := json.Unmarshal(m.Content, &asString); err == nil {
			if asString != "" {
				out = append(out, chatmodel.ContentBlock{Type: chatmodel.BlockText, Text: asString})
			}
		} else {
			var parts []OpenAIContentPart
			if err := json.Unmarshal(m.Content, &parts); err != nil {
				return nil, gatewayerr.Wrap(gatewayerr.KindRequestInvalid, 400, false, "invalid message content", err)
			}
			for _, p := range parts {
				switch p.Type {
				case "text":
					out = append(out, chatmodel.ContentBlock{Type: chatmodel.BlockText, Text: p.Text})
				case "image_url":
					if p.ImageURL == nil {
						continue
					}
					block, err := t.openaiImageBlock(ctx, p.ImageURL.URL)
					if err != nil {
						return nil, err
					}
					out = append(out, block)
				}
			}
		}
	}

	for _, tc := range m.ToolCalls {
		args := tc.Function.Arguments
		if !json.Valid([]byte(args)) {
			args = "{}"
		}
		out = append(out, chatmodel.ContentBlock{
			Type:        chatmodel.BlockToolUse,
			ToolUseID:   tc.ID,
			ToolName:    tc.Function.Name,
			ToolRawArgs: args,
		})
	}

	return out, nil
}

func (t *Translator) openaiImageBlock(ctx context.Context, url string) (chatmodel.ContentBlock, error) {
	if strings.HasPrefix(url, "data:") {
		mt, data, ok := decodeDataURL(url)
		if !ok {
			return chatmodel.ContentBlock{}, gatewayerr.New(gatewayerr.KindRequestInvalid, 400, false, "malformed data: image url")
		}
		return chatmodel.ContentBlock{Type: chatmodel.BlockImage, ImageMediaType: mt, ImageBase64: data}, nil
	}
	if t.Images == nil {
		return chatmodel.ContentBlock{}, gatewayerr.New(gatewayerr.KindRequestInvalid, 400, false, "image fetching not configured")
	}
	mt, data, err := t.Images.Fetch(ctx, url)
	if err != nil {
		return chatmodel.ContentBlock{}, gatewayerr.Wrap(gatewayerr.KindRequestInvalid, 400, false, "failed to fetch image url", err)
	}
	return chatmodel.ContentBlock{Type: chatmodel.BlockImage, ImageMediaType: mt, ImageBase64: data}, nil
}

// decodeDataURL splits a "data:<media-type>;base64,<data>" URL. Only the
// base64 form is supported; anything else is rejected by the caller.
func decodeDataURL(url string) (mediaType, data string, ok bool) {
	rest := strings.TrimPrefix(url, "data:")
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	meta := strings.TrimSuffix(parts[0], ";base64")
	if !strings.HasSuffix(parts[0], ";base64") {
		return "", "", false
	}
	return meta, parts[1], true
}

func openaiContentText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []OpenAIContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", gatewayerr.Wrap(gatewayerr.KindRequestInvalid, 400, false, "invalid message content", err)
	}
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

func openaiTools(reqTools []OpenAITool, toolChoiceRaw json.RawMessage, supportsTools bool) ([]chatmodel.ToolDefinition, chatmodel.ToolChoice) {
	choice := parseOpenAIToolChoice(toolChoiceRaw)
	if !supportsTools || choice.Mode == chatmodel.ToolChoiceNone {
		return nil, chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceNone}
	}
	tools := make([]chatmodel.ToolDefinition, 0, len(reqTools))
	for _, t := range reqTools {
		tools = append(tools, chatmodel.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	return tools, choice
}

func parseOpenAIToolChoice(raw json.RawMessage) chatmodel.ToolChoice {
	if len(raw) == 0 {
		return chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceAuto}
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		switch asString {
		case "none":
			return chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceNone}
		case "required":
			return chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceAny}
		default:
			return chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceAuto}
		}
	}
	var obj OpenAIToolChoiceObject
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Type == "function" {
		return chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceSpecific, Name: obj.Function.Name}
	}
	return chatmodel.ToolChoice{Mode: chatmodel.ToolChoiceAuto}
}

package respond

import (
	"context"
	"encoding/json"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/config"
	"github.com/kirogateway/kiro-gateway/internal/tokens"
	"github.com/kirogateway/kiro-gateway/internal/truncation"
)

// AnthropicAggregator drains an entire logical stream and returns a single
// Messages-API response body, for a client that sent stream:false.
type AnthropicAggregator struct {
	Reasoning   config.ReasoningHandling
	Truncations *truncation.Cache
}

func NewAnthropicAggregator(reasoning config.ReasoningHandling, truncations *truncation.Cache) *AnthropicAggregator {
	return &AnthropicAggregator{Reasoning: reasoning, Truncations: truncations}
}

func (a *AnthropicAggregator) Aggregate(ctx context.Context, events <-chan chatmodel.SemanticEvent, model, inputText string) (map[string]any, error) {
	var text, thinking string
	var toolCalls []*aggregatedToolCall
	byID := map[string]*aggregatedToolCall{}
	stopReason := chatmodel.StopEndTurn

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return a.buildResponse(model, inputText, text, thinking, toolCalls, stopReason), nil
			}
			switch ev.Type {
			case chatmodel.EventContent:
				text += ev.Text
			case chatmodel.EventThinking:
				switch a.Reasoning {
				case config.ReasoningStrip:
				case config.ReasoningIncludeAsText:
					text += ev.Text
				default: // ReasoningEmitBlock
					thinking += ev.Text
				}
			case chatmodel.EventToolUse:
				call, exists := byID[ev.ToolUseID]
				if !exists {
					call = &aggregatedToolCall{id: ev.ToolUseID, name: ev.ToolName}
					byID[ev.ToolUseID] = call
					toolCalls = append(toolCalls, call)
				}
				call.args = ev.PartialJSON
				if ev.ToolUseClosed {
					call.isClosed = true
					a.recordToolTruncationIfBroken(ev)
				}
			case chatmodel.EventStreamEnd:
				stopReason = ev.StopReason
				a.recordContentTruncationIfBroken(text, ev.StopReason)
			case chatmodel.EventError:
				return nil, &StreamError{Kind: string(ev.ErrKind), Message: ev.ErrMessage}
			}
		}
	}
}

func (a *AnthropicAggregator) buildResponse(model, inputText, text, thinking string, calls []*aggregatedToolCall, stopReason chatmodel.StopReason) map[string]any {
	var content []any
	if thinking != "" {
		content = append(content, map[string]any{"type": "thinking", "thinking": thinking, "signature": NewSignature()})
	}
	if text != "" {
		content = append(content, map[string]any{"type": "text", "text": text})
	}
	for _, c := range calls {
		args := c.args
		if !jsonLooksValid(args) {
			args = "{}"
		}
		var input map[string]any
		if err := json.Unmarshal([]byte(args), &input); err != nil {
			input = map[string]any{}
		}
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    c.id,
			"name":  c.name,
			"input": input,
		})
	}
	if content == nil {
		content = []any{}
	}

	inputTokens := tokens.CountText(inputText, tokens.FamilyClaude, true)
	outputTokens := tokens.CountText(text, tokens.FamilyClaude, true)

	return map[string]any{
		"id":            NewMessageID(),
		"type":          "message",
		"role":          "assistant",
		"model":         model,
		"content":       content,
		"stop_reason":   string(stopReason),
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		},
	}
}

func (a *AnthropicAggregator) recordToolTruncationIfBroken(ev chatmodel.SemanticEvent) {
	if a.Truncations == nil || !ev.ToolUseClosed || jsonLooksValid(ev.PartialJSON) {
		return
	}
	a.Truncations.SaveToolTruncation(ev.ToolUseID, ev.ToolName, len(ev.PartialJSON), "unparseable_json_at_stream_end")
}

func (a *AnthropicAggregator) recordContentTruncationIfBroken(text string, reason chatmodel.StopReason) {
	if a.Truncations == nil || reason == chatmodel.StopToolUse || !looksMidSentence(text) {
		return
	}
	a.Truncations.SaveContentTruncation(text)
}

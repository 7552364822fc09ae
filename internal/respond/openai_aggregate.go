package respond

import (
	"context"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/config"
	"github.com/kirogateway/kiro-gateway/internal/tokens"
	"github.com/kirogateway/kiro-gateway/internal/truncation"
)

// OpenAIAggregator drains an entire logical stream and returns a single
// chat.completion body (spec §4.I "OpenAI non-stream").
type OpenAIAggregator struct {
	Reasoning   config.ReasoningHandling
	Truncations *truncation.Cache
}

func NewOpenAIAggregator(reasoning config.ReasoningHandling, truncations *truncation.Cache) *OpenAIAggregator {
	return &OpenAIAggregator{Reasoning: reasoning, Truncations: truncations}
}

type aggregatedToolCall struct {
	id       string
	name     string
	args     string
	isClosed bool
}

// Aggregate consumes events until the channel closes (or ctx is canceled)
// and returns the full chat.completion response body.
func (a *OpenAIAggregator) Aggregate(ctx context.Context, events <-chan chatmodel.SemanticEvent, model, inputText string) (map[string]any, error) {
	var text string
	var toolCalls []*aggregatedToolCall
	byID := map[string]*aggregatedToolCall{}
	finishReason := "stop"

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return a.buildResponse(model, inputText, text, toolCalls, finishReason), nil
			}
			switch ev.Type {
			case chatmodel.EventContent:
				text += ev.Text
			case chatmodel.EventThinking:
				if a.Reasoning != config.ReasoningStrip {
					text += ev.Text
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
					finishReason = "tool_calls"
					a.recordToolTruncationIfBroken(ev)
				}
			case chatmodel.EventStreamEnd:
				finishReason = openAIFinishReason(ev.StopReason, finishReason)
				a.recordContentTruncationIfBroken(text, ev.StopReason)
			case chatmodel.EventError:
				return nil, &StreamError{Kind: string(ev.ErrKind), Message: ev.ErrMessage}
			}
		}
	}
}

// StreamError surfaces a mid-aggregation upstream error to the HTTP layer.
type StreamError struct {
	Kind    string
	Message string
}

func (e *StreamError) Error() string { return e.Kind + ": " + e.Message }

func (a *OpenAIAggregator) buildResponse(model, inputText, text string, calls []*aggregatedToolCall, finishReason string) map[string]any {
	message := map[string]any{"role": "assistant"}
	if text != "" {
		message["content"] = text
	} else {
		message["content"] = nil
	}
	if len(calls) > 0 {
		wire := make([]any, 0, len(calls))
		for i, c := range calls {
			args := c.args
			if !jsonLooksValid(args) {
				args = "{}"
			}
			wire = append(wire, map[string]any{
				"index": i,
				"id":    c.id,
				"type":  "function",
				"function": map[string]any{
					"name":      c.name,
					"arguments": args,
				},
			})
		}
		message["tool_calls"] = wire
	}

	inputTokens := tokens.CountText(inputText, tokens.FamilyGPT, false)
	outputTokens := tokens.CountText(text, tokens.FamilyGPT, false)

	return map[string]any{
		"id":      NewCompletionID(),
		"object":  "chat.completion",
		"model":   model,
		"choices": []any{map[string]any{"index": 0, "message": message, "finish_reason": finishReason}},
		"usage": map[string]any{
			"prompt_tokens":     inputTokens,
			"completion_tokens": outputTokens,
			"total_tokens":      inputTokens + outputTokens,
		},
	}
}

func (a *OpenAIAggregator) recordToolTruncationIfBroken(ev chatmodel.SemanticEvent) {
	if a.Truncations == nil || !ev.ToolUseClosed || jsonLooksValid(ev.PartialJSON) {
		return
	}
	a.Truncations.SaveToolTruncation(ev.ToolUseID, ev.ToolName, len(ev.PartialJSON), "unparseable_json_at_stream_end")
}

func (a *OpenAIAggregator) recordContentTruncationIfBroken(text string, reason chatmodel.StopReason) {
	if a.Truncations == nil || reason == chatmodel.StopToolUse || !looksMidSentence(text) {
		return
	}
	a.Truncations.SaveContentTruncation(text)
}

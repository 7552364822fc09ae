package respond

import (
	"context"
	"net/http"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/config"
	"github.com/kirogateway/kiro-gateway/internal/truncation"
)

// OpenAIStreamer emits one chat.completion.chunk per semantic event, per
// spec §4.I.
type OpenAIStreamer struct {
	Reasoning   config.ReasoningHandling
	Truncations *truncation.Cache
}

func NewOpenAIStreamer(reasoning config.ReasoningHandling, truncations *truncation.Cache) *OpenAIStreamer {
	return &OpenAIStreamer{Reasoning: reasoning, Truncations: truncations}
}

func (o *OpenAIStreamer) Stream(ctx context.Context, w http.ResponseWriter, events <-chan chatmodel.SemanticEvent, model string) error {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	var flush func()
	if flusher != nil {
		flush = flusher.Flush
	}
	sse := NewSSEWriter(w, flush)

	id := NewCompletionID()
	var accumulatedText string
	toolIndex := -1
	var lastToolUseID string
	var lastSent int
	finishReason := "stop"

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := sse.DataOnly(openAIChunk(id, model, nil, finishReason)); err != nil {
					return err
				}
				return sse.Raw("data: [DONE]\n\n")
			}
			switch ev.Type {
			case chatmodel.EventContent:
				accumulatedText += ev.Text
				if err := o.emitChunk(sse, id, model, openAIDelta(map[string]any{"content": ev.Text})); err != nil {
					return err
				}
			case chatmodel.EventThinking:
				if o.Reasoning == config.ReasoningStrip {
					continue
				}
				accumulatedText += ev.Text
				if err := o.emitChunk(sse, id, model, openAIDelta(map[string]any{"content": ev.Text})); err != nil {
					return err
				}
			case chatmodel.EventToolUse:
				if ev.ToolUseID != lastToolUseID {
					toolIndex++
					lastToolUseID = ev.ToolUseID
					lastSent = 0
					if err := o.emitChunk(sse, id, model, openAIToolCallStart(toolIndex, ev.ToolUseID, ev.ToolName)); err != nil {
						return err
					}
				}
				delta := ev.PartialJSON[lastSent:]
				lastSent = len(ev.PartialJSON)
				if delta != "" {
					if err := o.emitChunk(sse, id, model, openAIToolCallArgs(toolIndex, delta)); err != nil {
						return err
					}
				}
				if ev.ToolUseClosed {
					finishReason = "tool_calls"
					o.recordToolTruncationIfBroken(ev)
				}
			case chatmodel.EventStreamEnd:
				finishReason = openAIFinishReason(ev.StopReason, finishReason)
				o.recordContentTruncationIfBroken(accumulatedText, ev.StopReason)
			case chatmodel.EventError:
				return sse.DataOnly(openAIErrorChunk(ev))
			}
		}
	}
}

func (o *OpenAIStreamer) emitChunk(sse *SSEWriter, id, model string, delta map[string]any) error {
	return sse.DataOnly(map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"model":   model,
		"choices": []any{map[string]any{"index": 0, "delta": delta, "finish_reason": nil}},
	})
}

func openAIDelta(fields map[string]any) map[string]any { return fields }

func openAIToolCallStart(index int, id, name string) map[string]any {
	return map[string]any{
		"tool_calls": []any{map[string]any{
			"index": index,
			"id":    id,
			"type":  "function",
			"function": map[string]any{
				"name":      name,
				"arguments": "",
			},
		}},
	}
}

func openAIToolCallArgs(index int, partial string) map[string]any {
	return map[string]any{
		"tool_calls": []any{map[string]any{
			"index":    index,
			"function": map[string]any{"arguments": partial},
		}},
	}
}

func openAIChunk(id, model string, delta map[string]any, finishReason string) map[string]any {
	return map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"model":   model,
		"choices": []any{map[string]any{"index": 0, "delta": delta, "finish_reason": finishReason}},
	}
}

func openAIErrorChunk(ev chatmodel.SemanticEvent) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    string(ev.ErrKind),
			"message": ev.ErrMessage,
		},
	}
}

func openAIFinishReason(stop chatmodel.StopReason, current string) string {
	switch stop {
	case chatmodel.StopToolUse:
		return "tool_calls"
	case chatmodel.StopMaxTokens:
		return "length"
	case chatmodel.StopEndTurn:
		if current == "tool_calls" {
			return current
		}
		return "stop"
	default:
		return current
	}
}

func (o *OpenAIStreamer) recordToolTruncationIfBroken(ev chatmodel.SemanticEvent) {
	if o.Truncations == nil || !ev.ToolUseClosed || jsonLooksValid(ev.PartialJSON) {
		return
	}
	o.Truncations.SaveToolTruncation(ev.ToolUseID, ev.ToolName, len(ev.PartialJSON), "unparseable_json_at_stream_end")
}

func (o *OpenAIStreamer) recordContentTruncationIfBroken(text string, reason chatmodel.StopReason) {
	if o.Truncations == nil || reason == chatmodel.StopToolUse || !looksMidSentence(text) {
		return
	}
	o.Truncations.SaveContentTruncation(text)
}

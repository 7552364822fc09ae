package respond

import (
	"context"
	"net/http"
	"time"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/config"
	"github.com/kirogateway/kiro-gateway/internal/tokens"
	"github.com/kirogateway/kiro-gateway/internal/truncation"
)

// pingInterval matches spec §4.I: a ping every 15s while the stream is idle.
const pingInterval = 15 * time.Second

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockToolUse
)

// AnthropicStreamer emits the Anthropic Messages SSE event sequence for one
// logical response.
type AnthropicStreamer struct {
	Reasoning   config.ReasoningHandling
	Truncations *truncation.Cache
}

func NewAnthropicStreamer(reasoning config.ReasoningHandling, truncations *truncation.Cache) *AnthropicStreamer {
	return &AnthropicStreamer{Reasoning: reasoning, Truncations: truncations}
}

// Stream drains events and writes the SSE sequence to w. It returns when the
// channel closes or ctx is canceled.
func (a *AnthropicStreamer) Stream(ctx context.Context, w http.ResponseWriter, events <-chan chatmodel.SemanticEvent, model string) error {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	var flush func()
	if flusher != nil {
		flush = flusher.Flush
	}
	sse := NewSSEWriter(w, flush)

	msgID := NewMessageID()
	if err := sse.Event("message_start", anthropicMessageStart(msgID, model)); err != nil {
		return err
	}

	state := &anthropicStreamState{kind: blockNone, index: -1}
	var accumulatedText string
	var lastToolUseID string
	var stopReason chatmodel.StopReason = chatmodel.StopEndTurn

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sse.Event("ping", map[string]string{"type": "ping"}); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				if err := a.closeOpenBlock(sse, state); err != nil {
					return err
				}
				outputTokens := tokens.CountText(accumulatedText, tokens.FamilyClaude, true)
				if err := sse.Event("message_delta", anthropicMessageDelta(stopReason, outputTokens)); err != nil {
					return err
				}
				return sse.Event("message_stop", map[string]string{"type": "message_stop"})
			}
			ticker.Reset(pingInterval)

			switch ev.Type {
			case chatmodel.EventContent:
				accumulatedText += ev.Text
				if err := a.emitText(sse, state, ev.Text); err != nil {
					return err
				}
			case chatmodel.EventThinking:
				if err := a.emitThinking(sse, state, ev.Text, &accumulatedText); err != nil {
					return err
				}
			case chatmodel.EventToolUse:
				if ev.ToolUseID != lastToolUseID {
					if err := a.closeOpenBlock(sse, state); err != nil {
						return err
					}
					state.index++
					state.kind = blockToolUse
					state.toolUseSent = 0
					lastToolUseID = ev.ToolUseID
					if err := sse.Event("content_block_start", anthropicToolUseStart(state.index, ev.ToolUseID, ev.ToolName)); err != nil {
						return err
					}
				}
				delta := ev.PartialJSON[state.toolUseSent:]
				state.toolUseSent = len(ev.PartialJSON)
				if delta != "" {
					if err := sse.Event("content_block_delta", anthropicInputJSONDelta(state.index, delta)); err != nil {
						return err
					}
				}
				if ev.ToolUseClosed {
					stopReason = chatmodel.StopToolUse
					a.recordToolTruncationIfBroken(ev)
				}
			case chatmodel.EventContextUsed:
				if ev.ContextUsagePct >= 100 {
					stopReason = chatmodel.StopMaxTokens
				}
			case chatmodel.EventStreamEnd:
				if ev.StopReason != "" {
					stopReason = ev.StopReason
				}
				a.recordContentTruncationIfBroken(accumulatedText, stopReason)
			case chatmodel.EventError:
				if err := a.closeOpenBlock(sse, state); err != nil {
					return err
				}
				return sse.Event("error", anthropicError(ev))
			}
		}
	}
}

type anthropicStreamState struct {
	kind        blockKind
	index       int
	toolUseSent int
}

func (a *AnthropicStreamer) emitText(sse *SSEWriter, state *anthropicStreamState, text string) error {
	if state.kind != blockText {
		if err := a.closeOpenBlock(sse, state); err != nil {
			return err
		}
		state.index++
		state.kind = blockText
		if err := sse.Event("content_block_start", anthropicBlockStart(state.index, "text", "")); err != nil {
			return err
		}
	}
	return sse.Event("content_block_delta", anthropicTextDelta(state.index, text))
}

func (a *AnthropicStreamer) emitThinking(sse *SSEWriter, state *anthropicStreamState, text string, accumulatedText *string) error {
	switch a.Reasoning {
	case config.ReasoningStrip:
		return nil
	case config.ReasoningIncludeAsText:
		*accumulatedText += text
		return a.emitText(sse, state, text)
	default: // ReasoningEmitBlock
		if state.kind != blockThinking {
			if err := a.closeOpenBlock(sse, state); err != nil {
				return err
			}
			state.index++
			state.kind = blockThinking
			if err := sse.Event("content_block_start", anthropicBlockStart(state.index, "thinking", NewSignature())); err != nil {
				return err
			}
		}
		return sse.Event("content_block_delta", anthropicThinkingDelta(state.index, text))
	}
}

func (a *AnthropicStreamer) closeOpenBlock(sse *SSEWriter, state *anthropicStreamState) error {
	if state.kind == blockNone {
		return nil
	}
	index := state.index
	state.kind = blockNone
	return sse.Event("content_block_stop", map[string]any{"type": "content_block_stop", "index": index})
}

func (a *AnthropicStreamer) recordToolTruncationIfBroken(ev chatmodel.SemanticEvent) {
	if a.Truncations == nil || !ev.ToolUseClosed {
		return
	}
	if jsonLooksValid(ev.PartialJSON) {
		return
	}
	a.Truncations.SaveToolTruncation(ev.ToolUseID, ev.ToolName, len(ev.PartialJSON), "unparseable_json_at_stream_end")
}

func (a *AnthropicStreamer) recordContentTruncationIfBroken(text string, reason chatmodel.StopReason) {
	if a.Truncations == nil || reason == chatmodel.StopToolUse {
		return
	}
	if !looksMidSentence(text) {
		return
	}
	a.Truncations.SaveContentTruncation(text)
}

func anthropicMessageStart(id, model string) map[string]any {
	return map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            id,
			"type":          "message",
			"role":          "assistant",
			"model":         model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	}
}

func anthropicBlockStart(index int, kind, signature string) map[string]any {
	block := map[string]any{"type": kind}
	switch kind {
	case "text":
		block["text"] = ""
	case "thinking":
		block["thinking"] = ""
		block["signature"] = signature
	}
	return map[string]any{"type": "content_block_start", "index": index, "content_block": block}
}

func anthropicToolUseStart(index int, id, name string) map[string]any {
	return map[string]any{
		"type":  "content_block_start",
		"index": index,
		"content_block": map[string]any{
			"type":  "tool_use",
			"id":    id,
			"name":  name,
			"input": map[string]any{},
		},
	}
}

func anthropicTextDelta(index int, text string) map[string]any {
	return map[string]any{"type": "content_block_delta", "index": index, "delta": map[string]any{"type": "text_delta", "text": text}}
}

func anthropicThinkingDelta(index int, text string) map[string]any {
	return map[string]any{"type": "content_block_delta", "index": index, "delta": map[string]any{"type": "thinking_delta", "thinking": text}}
}

func anthropicInputJSONDelta(index int, partial string) map[string]any {
	return map[string]any{"type": "content_block_delta", "index": index, "delta": map[string]any{"type": "input_json_delta", "partial_json": partial}}
}

func anthropicMessageDelta(stopReason chatmodel.StopReason, outputTokens int) map[string]any {
	return map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": string(stopReason), "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": outputTokens},
	}
}

func anthropicError(ev chatmodel.SemanticEvent) map[string]any {
	return map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    string(ev.ErrKind),
			"message": ev.ErrMessage,
		},
	}
}

func jsonLooksValid(s string) bool {
	return len(s) > 0 && (s[len(s)-1] == '}' || s[len(s)-1] == ']') && jsonValid(s)
}

// minTruncationLen matches spec §4.J's content-truncation length floor: a
// short response ending without punctuation is just as likely intentional
// (a single word answer) as truncated.
const minTruncationLen = 1024

// looksMidSentence reports whether text looks like it was cut off
// mid-sentence rather than ending intentionally.
func looksMidSentence(text string) bool {
	trimmed := trimTrailingSpace(text)
	if len([]rune(trimmed)) < minTruncationLen {
		return false
	}
	last := trimmed[len(trimmed)-1]
	switch last {
	case '.', '!', '?', '"', '\'', ')', '`':
		return false
	default:
		return true
	}
}

package respond

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/config"
	"github.com/kirogateway/kiro-gateway/internal/truncation"
)

func parseOpenAIChunks(t *testing.T, body string) []map[string]any {
	t.Helper()
	var chunks []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			chunks = append(chunks, nil)
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(payload), &data); err != nil {
			t.Fatalf("invalid chunk JSON %q: %v", payload, err)
		}
		chunks = append(chunks, data)
	}
	return chunks
}

func TestOpenAIStreamerSimpleSequence(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventContent, Text: "pong"},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopEndTurn},
	})

	streamer := NewOpenAIStreamer(config.ReasoningIncludeAsText, nil)
	rec := httptest.NewRecorder()
	if err := streamer.Stream(context.Background(), rec, events, "gpt-4o"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	chunks := parseOpenAIChunks(t, rec.Body.String())
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 (content, final, [DONE]): %+v", len(chunks), chunks)
	}

	contentChunk := chunks[0]
	choice := contentChunk["choices"].([]any)[0].(map[string]any)
	delta := choice["delta"].(map[string]any)
	if delta["content"] != "pong" {
		t.Errorf("content delta = %v, want pong", delta["content"])
	}
	if choice["finish_reason"] != nil {
		t.Errorf("content chunk finish_reason = %v, want nil", choice["finish_reason"])
	}

	finalChunk := chunks[1]
	finalChoice := finalChunk["choices"].([]any)[0].(map[string]any)
	if finalChoice["finish_reason"] != "stop" {
		t.Errorf("finish_reason = %v, want stop", finalChoice["finish_reason"])
	}

	if chunks[2] != nil {
		t.Errorf("last entry should represent [DONE], got %+v", chunks[2])
	}
}

// TestOpenAIStreamerToolCallArgsIncremental verifies tool-call argument
// fragments arrive as incremental deltas keyed by a stable index, and
// concatenate to valid JSON.
func TestOpenAIStreamerToolCallArgsIncremental(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventToolUse, ToolUseID: "tu_1", ToolName: "search", PartialJSON: `{"q":`},
		{Type: chatmodel.EventToolUse, ToolUseID: "tu_1", ToolName: "search", PartialJSON: `{"q":"x"}`, ToolUseClosed: true},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopToolUse},
	})

	streamer := NewOpenAIStreamer(config.ReasoningIncludeAsText, nil)
	rec := httptest.NewRecorder()
	if err := streamer.Stream(context.Background(), rec, events, "gpt-4o"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	chunks := parseOpenAIChunks(t, rec.Body.String())
	var argsBuilder strings.Builder
	var sawStart bool
	for _, c := range chunks {
		if c == nil {
			continue
		}
		choice := c["choices"].([]any)[0].(map[string]any)
		delta, ok := choice["delta"].(map[string]any)
		if !ok {
			continue
		}
		calls, ok := delta["tool_calls"].([]any)
		if !ok {
			continue
		}
		call := calls[0].(map[string]any)
		if idx := call["index"]; idx != float64(0) {
			t.Errorf("tool call index = %v, want 0", idx)
		}
		if call["id"] == "tu_1" {
			sawStart = true
		}
		fn, ok := call["function"].(map[string]any)
		if !ok {
			continue
		}
		if args, ok := fn["arguments"].(string); ok {
			argsBuilder.WriteString(args)
		}
	}
	if !sawStart {
		t.Error("never saw a tool call chunk announcing id tu_1")
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(argsBuilder.String()), &parsed); err != nil {
		t.Errorf("concatenated tool call arguments do not parse: %v (%q)", err, argsBuilder.String())
	}

	lastChunk := chunks[len(chunks)-2]
	lastChoice := lastChunk["choices"].([]any)[0].(map[string]any)
	if lastChoice["finish_reason"] != "tool_calls" {
		t.Errorf("finish_reason = %v, want tool_calls", lastChoice["finish_reason"])
	}
}

func TestOpenAIStreamerFinishReasonLength(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventContent, Text: "partial"},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopMaxTokens},
	})

	streamer := NewOpenAIStreamer(config.ReasoningIncludeAsText, nil)
	rec := httptest.NewRecorder()
	if err := streamer.Stream(context.Background(), rec, events, "gpt-4o"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	chunks := parseOpenAIChunks(t, rec.Body.String())
	finalChunk := chunks[len(chunks)-2]
	choice := finalChunk["choices"].([]any)[0].(map[string]any)
	if choice["finish_reason"] != "length" {
		t.Errorf("finish_reason = %v, want length", choice["finish_reason"])
	}
}

func TestOpenAIStreamerRecordsToolTruncation(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventToolUse, ToolUseID: "tu_1", ToolName: "write_file", PartialJSON: `{"path":"a.txt`, ToolUseClosed: true},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopToolUse},
	})

	cache := truncation.New(time.Minute)
	streamer := NewOpenAIStreamer(config.ReasoningIncludeAsText, cache)
	rec := httptest.NewRecorder()
	if err := streamer.Stream(context.Background(), rec, events, "gpt-4o"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	record, ok := cache.GetToolTruncation("tu_1")
	if !ok {
		t.Fatal("expected a tool-truncation record for tu_1")
	}
	if record.ToolName != "write_file" {
		t.Errorf("ToolName = %q, want write_file", record.ToolName)
	}
}

func TestOpenAIStreamerErrorEvent(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventError, ErrKind: chatmodel.ErrUpstream, ErrMessage: "boom"},
	})

	streamer := NewOpenAIStreamer(config.ReasoningIncludeAsText, nil)
	rec := httptest.NewRecorder()
	if err := streamer.Stream(context.Background(), rec, events, "gpt-4o"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	chunks := parseOpenAIChunks(t, rec.Body.String())
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 error chunk", len(chunks))
	}
	errObj, ok := chunks[0]["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error payload, got %+v", chunks[0])
	}
	if errObj["message"] != "boom" {
		t.Errorf("error message = %v, want boom", errObj["message"])
	}
}

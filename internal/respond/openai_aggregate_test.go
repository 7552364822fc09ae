package respond

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/config"
	"github.com/kirogateway/kiro-gateway/internal/truncation"
)

func TestOpenAIAggregatorSimpleText(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventContent, Text: "hello "},
		{Type: chatmodel.EventContent, Text: "world"},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopEndTurn},
	})

	agg := NewOpenAIAggregator(config.ReasoningIncludeAsText, nil)
	resp, err := agg.Aggregate(context.Background(), events, "gpt-4o", "hi")
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	choice := resp["choices"].([]any)[0].(map[string]any)
	if choice["finish_reason"] != "stop" {
		t.Errorf("finish_reason = %v, want stop", choice["finish_reason"])
	}
	msg := choice["message"].(map[string]any)
	if msg["content"] != "hello world" {
		t.Errorf("content = %v, want %q", msg["content"], "hello world")
	}
	if _, hasCalls := msg["tool_calls"]; hasCalls {
		t.Error("tool_calls should be absent when no tool was used")
	}

	usage := resp["usage"].(map[string]any)
	if usage["prompt_tokens"].(int) <= 0 {
		t.Errorf("prompt_tokens = %v, want > 0", usage["prompt_tokens"])
	}
	if usage["completion_tokens"].(int) <= 0 {
		t.Errorf("completion_tokens = %v, want > 0", usage["completion_tokens"])
	}
	total := usage["total_tokens"].(int)
	if total != usage["prompt_tokens"].(int)+usage["completion_tokens"].(int) {
		t.Errorf("total_tokens = %v, want prompt+completion", total)
	}
}

// TestOpenAIAggregatorToolCallSingleJSONString covers spec §4.I's OpenAI
// non-stream rule: tool-call arguments arrive as a single complete JSON
// string, not fragments, once the stream is fully drained.
func TestOpenAIAggregatorToolCallSingleJSONString(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventToolUse, ToolUseID: "tu_1", ToolName: "search", PartialJSON: `{"q":`},
		{Type: chatmodel.EventToolUse, ToolUseID: "tu_1", ToolName: "search", PartialJSON: `{"q":"x"}`, ToolUseClosed: true},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopToolUse},
	})

	agg := NewOpenAIAggregator(config.ReasoningIncludeAsText, nil)
	resp, err := agg.Aggregate(context.Background(), events, "gpt-4o", "search for x")
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	choice := resp["choices"].([]any)[0].(map[string]any)
	if choice["finish_reason"] != "tool_calls" {
		t.Errorf("finish_reason = %v, want tool_calls", choice["finish_reason"])
	}
	msg := choice["message"].(map[string]any)
	calls := msg["tool_calls"].([]any)
	if len(calls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(calls))
	}
	call := calls[0].(map[string]any)
	if call["id"] != "tu_1" {
		t.Errorf("id = %v, want tu_1", call["id"])
	}
	fn := call["function"].(map[string]any)
	if fn["name"] != "search" {
		t.Errorf("name = %v, want search", fn["name"])
	}
	args, ok := fn["arguments"].(string)
	if !ok {
		t.Fatalf("arguments is not a string: %T", fn["arguments"])
	}
	if args != `{"q":"x"}` {
		t.Errorf("arguments = %q, want the single complete JSON string", args)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		t.Errorf("arguments do not parse as JSON: %v", err)
	}
}

func TestOpenAIAggregatorRepairsUnclosedToolArgs(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventToolUse, ToolUseID: "tu_1", ToolName: "write_file", PartialJSON: `{"path":"a.txt`, ToolUseClosed: true},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopToolUse},
	})

	cache := truncation.New(time.Minute)
	agg := NewOpenAIAggregator(config.ReasoningIncludeAsText, cache)
	resp, err := agg.Aggregate(context.Background(), events, "gpt-4o", "write a.txt")
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	choice := resp["choices"].([]any)[0].(map[string]any)
	msg := choice["message"].(map[string]any)
	calls := msg["tool_calls"].([]any)
	call := calls[0].(map[string]any)
	fn := call["function"].(map[string]any)
	if fn["arguments"] != "{}" {
		t.Errorf("arguments = %v, want repaired empty object", fn["arguments"])
	}

	record, ok := cache.GetToolTruncation("tu_1")
	if !ok {
		t.Fatal("expected a tool-truncation record for tu_1")
	}
	if record.ToolName != "write_file" {
		t.Errorf("ToolName = %q, want write_file", record.ToolName)
	}
}

func TestOpenAIAggregatorReturnsStreamError(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventError, ErrKind: chatmodel.ErrUpstream, ErrMessage: "upstream exploded"},
	})

	agg := NewOpenAIAggregator(config.ReasoningIncludeAsText, nil)
	_, err := agg.Aggregate(context.Background(), events, "gpt-4o", "hi")
	if err == nil {
		t.Fatal("expected an error")
	}
	streamErr, ok := err.(*StreamError)
	if !ok {
		t.Fatalf("error type = %T, want *StreamError", err)
	}
	if streamErr.Message != "upstream exploded" {
		t.Errorf("Message = %q, want upstream exploded", streamErr.Message)
	}
}

func TestOpenAIAggregatorRecordsContentTruncation(t *testing.T) {
	longText := "word " + repeatWord(500) + "because the"
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventContent, Text: longText},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopEndTurn},
	})

	cache := truncation.New(time.Minute)
	agg := NewOpenAIAggregator(config.ReasoningIncludeAsText, cache)
	if _, err := agg.Aggregate(context.Background(), events, "gpt-4o", "hi"); err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	stats := cache.Stats()
	if stats.ContentTruncations != 1 {
		t.Fatalf("ContentTruncations = %d, want 1", stats.ContentTruncations)
	}
}

func repeatWord(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += "word "
	}
	return out
}

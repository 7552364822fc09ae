package respond

import (
	"context"
	"testing"
	"time"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/config"
	"github.com/kirogateway/kiro-gateway/internal/truncation"
)

func TestAnthropicAggregatorSimpleText(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventContent, Text: "hello "},
		{Type: chatmodel.EventContent, Text: "world"},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopEndTurn},
	})

	agg := NewAnthropicAggregator(config.ReasoningIncludeAsText, nil)
	resp, err := agg.Aggregate(context.Background(), events, "claude-3-sonnet", "hi")
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if resp["stop_reason"] != "end_turn" {
		t.Errorf("stop_reason = %v, want end_turn", resp["stop_reason"])
	}
	content := resp["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("got %d content blocks, want 1", len(content))
	}
	block := content[0].(map[string]any)
	if block["type"] != "text" || block["text"] != "hello world" {
		t.Errorf("content block = %+v, want text block %q", block, "hello world")
	}
}

func TestAnthropicAggregatorToolUseBlock(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventToolUse, ToolUseID: "tu_1", ToolName: "search", PartialJSON: `{"q":"x"}`, ToolUseClosed: true},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopToolUse},
	})

	agg := NewAnthropicAggregator(config.ReasoningIncludeAsText, nil)
	resp, err := agg.Aggregate(context.Background(), events, "claude-3-sonnet", "search for x")
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if resp["stop_reason"] != "tool_use" {
		t.Errorf("stop_reason = %v, want tool_use", resp["stop_reason"])
	}
	content := resp["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("got %d content blocks, want 1", len(content))
	}
	block := content[0].(map[string]any)
	if block["type"] != "tool_use" || block["id"] != "tu_1" || block["name"] != "search" {
		t.Errorf("tool_use block = %+v", block)
	}
	input := block["input"].(map[string]any)
	if input["q"] != "x" {
		t.Errorf("input = %+v, want q=x", input)
	}
}

func TestAnthropicAggregatorEmitsThinkingBlock(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventThinking, Text: "pondering"},
		{Type: chatmodel.EventContent, Text: "answer"},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopEndTurn},
	})

	agg := NewAnthropicAggregator(config.ReasoningEmitBlock, nil)
	resp, err := agg.Aggregate(context.Background(), events, "claude-3-sonnet", "think")
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	content := resp["content"].([]any)
	if len(content) != 2 {
		t.Fatalf("got %d content blocks, want 2 (thinking, text)", len(content))
	}
	thinkingBlock := content[0].(map[string]any)
	if thinkingBlock["type"] != "thinking" || thinkingBlock["thinking"] != "pondering" {
		t.Errorf("thinking block = %+v", thinkingBlock)
	}
	if sig, _ := thinkingBlock["signature"].(string); !hexSigRe.MatchString(sig) {
		t.Errorf("signature = %q, want sig_<32hex>", sig)
	}
}

func TestAnthropicAggregatorRecordsToolTruncation(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventToolUse, ToolUseID: "tu_1", ToolName: "write_file", PartialJSON: `{"path":"a.txt`, ToolUseClosed: true},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopToolUse},
	})

	cache := truncation.New(time.Minute)
	agg := NewAnthropicAggregator(config.ReasoningIncludeAsText, cache)
	resp, err := agg.Aggregate(context.Background(), events, "claude-3-sonnet", "write a.txt")
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	content := resp["content"].([]any)
	block := content[0].(map[string]any)
	if input, ok := block["input"].(map[string]any); !ok || len(input) != 0 {
		t.Errorf("input = %+v, want empty object after repair", block["input"])
	}

	if _, ok := cache.GetToolTruncation("tu_1"); !ok {
		t.Fatal("expected a tool-truncation record for tu_1")
	}
}

func TestAnthropicAggregatorReturnsStreamError(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventError, ErrKind: chatmodel.ErrUpstream, ErrMessage: "upstream exploded"},
	})

	agg := NewAnthropicAggregator(config.ReasoningIncludeAsText, nil)
	_, err := agg.Aggregate(context.Background(), events, "claude-3-sonnet", "hi")
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := err.(*StreamError); !ok {
		t.Fatalf("error type = %T, want *StreamError", err)
	}
}

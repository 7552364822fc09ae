package respond

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/config"
	"github.com/kirogateway/kiro-gateway/internal/truncation"
)

func sendEvents(events []chatmodel.SemanticEvent) <-chan chatmodel.SemanticEvent {
	ch := make(chan chatmodel.SemanticEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

type sseFrame struct {
	event string
	data  map[string]any
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	blocks := strings.Split(strings.TrimSpace(body), "\n\n")
	for _, block := range blocks {
		if block == "" {
			continue
		}
		var event string
		var dataLine string
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				dataLine = strings.TrimPrefix(line, "data: ")
			}
		}
		if dataLine == "[DONE]" {
			frames = append(frames, sseFrame{event: event, data: nil})
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(dataLine), &data); err != nil {
			t.Fatalf("invalid SSE JSON payload %q: %v", dataLine, err)
		}
		frames = append(frames, sseFrame{event: event, data: data})
	}
	return frames
}

// TestAnthropicStreamerSimpleSequence covers scenario S1: the exact ordered
// event sequence for a single text response.
func TestAnthropicStreamerSimpleSequence(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventContent, Text: "pong"},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopEndTurn},
	})

	streamer := NewAnthropicStreamer(config.ReasoningIncludeAsText, nil)
	rec := httptest.NewRecorder()
	if err := streamer.Stream(context.Background(), rec, events, "claude-haiku-4.5"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	frames := parseSSE(t, rec.Body.String())
	wantOrder := []string{
		"message_start", "content_block_start", "content_block_delta",
		"content_block_stop", "message_delta", "message_stop",
	}
	if len(frames) != len(wantOrder) {
		t.Fatalf("got %d frames, want %d: %+v", len(frames), len(wantOrder), frames)
	}
	for i, want := range wantOrder {
		if frames[i].event != want {
			t.Errorf("frame %d event = %q, want %q", i, frames[i].event, want)
		}
	}
	if frames[5].data["type"] != "message_stop" {
		t.Errorf("final frame payload type = %v, want message_stop", frames[5].data["type"])
	}
	if got := frames[4].data["delta"].(map[string]any)["stop_reason"]; got != "end_turn" {
		t.Errorf("stop_reason = %v, want end_turn", got)
	}
}

// TestAnthropicStreamerWellFormedness covers Testable Property 3: every
// opened content block closes exactly once, indices are sequential
// starting at 0, and the sequence always ends message_delta, message_stop.
func TestAnthropicStreamerWellFormedness(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventContent, Text: "let me check "},
		{Type: chatmodel.EventToolUse, ToolUseID: "tu_1", ToolName: "search", PartialJSON: `{"q":`},
		{Type: chatmodel.EventToolUse, ToolUseID: "tu_1", ToolName: "search", PartialJSON: `{"q":"x"}`, ToolUseClosed: true},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopToolUse},
	})

	streamer := NewAnthropicStreamer(config.ReasoningIncludeAsText, nil)
	rec := httptest.NewRecorder()
	if err := streamer.Stream(context.Background(), rec, events, "claude-3-sonnet"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	frames := parseSSE(t, rec.Body.String())
	opened := map[float64]bool{}
	var nextIndex float64
	for _, f := range frames {
		switch f.event {
		case "content_block_start":
			idx := f.data["index"].(float64)
			if idx != nextIndex {
				t.Errorf("content_block_start index = %v, want %v (sequential)", idx, nextIndex)
			}
			opened[idx] = true
			nextIndex++
		case "content_block_stop":
			idx := f.data["index"].(float64)
			if !opened[idx] {
				t.Errorf("content_block_stop for index %v with no matching start", idx)
			}
			delete(opened, idx)
		}
	}
	if len(opened) != 0 {
		t.Errorf("%d content blocks never closed", len(opened))
	}
	if frames[0].event != "message_start" {
		t.Errorf("first frame = %q, want message_start", frames[0].event)
	}
	last := frames[len(frames)-1]
	if last.event != "message_stop" {
		t.Errorf("last frame = %q, want message_stop", last.event)
	}
	if frames[len(frames)-2].event != "message_delta" {
		t.Errorf("second-to-last frame = %q, want message_delta", frames[len(frames)-2].event)
	}

	// Tool-use args should concatenate to valid, complete JSON.
	var argsBuilder strings.Builder
	for _, f := range frames {
		if f.event != "content_block_delta" {
			continue
		}
		delta, ok := f.data["delta"].(map[string]any)
		if !ok || delta["type"] != "input_json_delta" {
			continue
		}
		argsBuilder.WriteString(delta["partial_json"].(string))
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(argsBuilder.String()), &parsed); err != nil {
		t.Errorf("concatenated input_json_delta fragments do not parse: %v (%q)", err, argsBuilder.String())
	}
}

// TestAnthropicStreamerRecordsToolTruncation covers scenario S4's detection
// half: a tool-use closing with unparseable accumulated JSON is recorded.
func TestAnthropicStreamerRecordsToolTruncation(t *testing.T) {
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventToolUse, ToolUseID: "tu_1", ToolName: "write_file", PartialJSON: `{"path":"a.txt","content":"xyz`, ToolUseClosed: true},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopToolUse},
	})

	cache := truncation.New(time.Minute)
	streamer := NewAnthropicStreamer(config.ReasoningIncludeAsText, cache)
	rec := httptest.NewRecorder()
	if err := streamer.Stream(context.Background(), rec, events, "claude-3-sonnet"); err != nil {
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

// TestAnthropicStreamerRecordsContentTruncation covers scenario S5's
// detection half.
func TestAnthropicStreamerRecordsContentTruncation(t *testing.T) {
	longText := strings.Repeat("word ", 500) + "because the"
	events := sendEvents([]chatmodel.SemanticEvent{
		{Type: chatmodel.EventContent, Text: longText},
		{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopEndTurn},
	})

	cache := truncation.New(time.Minute)
	streamer := NewAnthropicStreamer(config.ReasoningIncludeAsText, cache)
	rec := httptest.NewRecorder()
	if err := streamer.Stream(context.Background(), rec, events, "claude-3-sonnet"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	stats := cache.Stats()
	if stats.ContentTruncations != 1 {
		t.Fatalf("ContentTruncations = %d, want 1", stats.ContentTruncations)
	}
}

var hexSigRe = regexp.MustCompile(`^sig_[0-9a-f]{32}$`)

func TestNewSignatureShape(t *testing.T) {
	sig := NewSignature()
	if !hexSigRe.MatchString(sig) {
		t.Errorf("NewSignature() = %q, want sig_<32hex>", sig)
	}
}

func TestNewMessageIDShape(t *testing.T) {
	id := NewMessageID()
	if !strings.HasPrefix(id, "msg_") || len(id) != len("msg_")+24 {
		t.Errorf("NewMessageID() = %q, want msg_<24hex>", id)
	}
}

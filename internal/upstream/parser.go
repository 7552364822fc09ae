package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
)

// wireFrame is the discriminated JSON payload embedded in one frame (spec
// §4.H). At most one field is populated per frame.
type wireFrame struct {
	AssistantResponseEvent *struct {
		Content string `json:"content"`
	} `json:"assistantResponseEvent,omitempty"`

	// ReasoningEvent carries the model's interleaved thinking content (spec
	// §1/§3: "interleaved text/thinking/tool-use/metadata events"). It
	// shares the assistantResponseEvent shape — one discriminator key
	// wrapping a single "content" string — the same pattern every other
	// frame kind in this union follows.
	ReasoningEvent *struct {
		Content string `json:"content"`
	} `json:"reasoningEvent,omitempty"`

	ToolUseEvent *struct {
		ToolUseID string `json:"toolUseId"`
		Name      string `json:"name"`
		Input     string `json:"input"`
		Stop      bool   `json:"stop"`
	} `json:"toolUseEvent,omitempty"`

	CodeReferenceEvent json.RawMessage `json:"codeReferenceEvent,omitempty"`

	MessageMetadataEvent *struct {
		ContextUsage float64 `json:"contextUsage"`
	} `json:"messageMetadataEvent,omitempty"`

	Error *struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error,omitempty"`
}

type toolAccumState struct {
	name  string
	input strings.Builder
}

// bracketToolCallRe matches the loose "[tool_call: name(args)]" shape models
// sometimes embed in plain text (spec §4.H). The exact grammar is flagged as
// an Open Question (spec §9); this pattern covers the documented shape and
// tolerates either a JSON object or a bare argument list inside the parens.
var bracketToolCallRe = regexp.MustCompile(`\[tool_call:\s*([a-zA-Z_][a-zA-Z0-9_]*)\((.*?)\)\]`)

// Parser decodes a Kiro framed response body into an ordered channel of
// semantic events, implementing retry.StreamParser.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

// Parse starts a goroutine that reads frames from body until EOF, an
// unrecoverable error, or the first-token watchdog fires. The returned
// channel is closed when the goroutine exits; its buffer of 32 matches the
// bounded producer/consumer channel spec §9 calls for.
func (p *Parser) Parse(ctx context.Context, body io.ReadCloser, firstTokenTimeout time.Duration) (<-chan chatmodel.SemanticEvent, error) {
	out := make(chan chatmodel.SemanticEvent, 32)
	go p.run(ctx, body, firstTokenTimeout, out)
	return out, nil
}

func (p *Parser) run(ctx context.Context, body io.ReadCloser, firstTokenTimeout time.Duration, out chan<- chatmodel.SemanticEvent) {
	defer close(out)

	var closeOnce sync.Once
	closeBody := func() { closeOnce.Do(func() { body.Close() }) }
	defer closeBody()

	// firstTokenState: 0 = waiting, 1 = first token seen, 2 = watchdog fired.
	var firstTokenState int32
	watchdogFired := make(chan struct{})
	timer := time.AfterFunc(firstTokenTimeout, func() {
		if atomic.CompareAndSwapInt32(&firstTokenState, 0, 2) {
			close(watchdogFired)
			closeBody()
		}
	})
	defer timer.Stop()

	stopOnCtxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			closeBody()
		case <-stopOnCtxDone:
		}
	}()
	defer close(stopOnCtxDone)

	markFirstToken := func() {
		if atomic.CompareAndSwapInt32(&firstTokenState, 0, 1) {
			timer.Stop()
		}
	}

	toolAccum := map[string]*toolAccumState{}
	malformedStreak := 0
	var anyToolUse bool
	var anyEventSent bool
	var contextUsagePct float64
	var bracketCallSeq int
	var fullText strings.Builder

	for {
		payload, err := ReadFrame(body)
		if err != nil {
			select {
			case <-watchdogFired:
				// A real frame can race the watchdog's AfterFunc and still get
				// dispatched after body.Close() has already fired; in that case
				// anyEventSent is true and the body.Close()-induced read error
				// here isn't actually a stuck-upstream timeout, so treat it as a
				// normal stream end instead of reporting a spurious one.
				if !anyEventSent {
					out <- chatmodel.SemanticEvent{Type: chatmodel.EventError, ErrKind: chatmodel.ErrFirstToken, ErrMessage: "first token timeout", ErrRetryable: true}
					return
				}
				out <- chatmodel.SemanticEvent{Type: chatmodel.EventStreamEnd, StopReason: computeStopReason(anyToolUse, contextUsagePct)}
				return
			default:
			}
			if err == io.EOF {
				for _, synth := range scanBracketToolCalls(fullText.String(), &bracketCallSeq) {
					anyToolUse = true
					out <- synth
				}
				for id, st := range toolAccum {
					anyToolUse = true
					out <- chatmodel.SemanticEvent{
						Type:          chatmodel.EventToolUse,
						ToolUseID:     id,
						ToolName:      st.name,
						PartialJSON:   st.input.String(),
						ToolUseClosed: true,
					}
				}
				out <- chatmodel.SemanticEvent{Type: chatmodel.EventStreamEnd, StopReason: computeStopReason(anyToolUse, contextUsagePct)}
				return
			}
			if _, ok := err.(*FrameError); ok {
				out <- chatmodel.SemanticEvent{Type: chatmodel.EventError, ErrKind: chatmodel.ErrFraming, ErrMessage: err.Error(), ErrRetryable: false}
				return
			}
			out <- chatmodel.SemanticEvent{Type: chatmodel.EventError, ErrKind: chatmodel.ErrStreamBroken, ErrMessage: err.Error(), ErrRetryable: false}
			return
		}

		var wf wireFrame
		if err := json.Unmarshal(payload, &wf); err != nil {
			malformedStreak++
			if malformedStreak >= 3 {
				out <- chatmodel.SemanticEvent{Type: chatmodel.EventError, ErrKind: chatmodel.ErrProtocol, ErrMessage: "three consecutive malformed frames", ErrRetryable: false}
				return
			}
			continue
		}
		malformedStreak = 0

		switch {
		case wf.AssistantResponseEvent != nil && wf.AssistantResponseEvent.Content != "":
			markFirstToken()
			anyEventSent = true
			fullText.WriteString(wf.AssistantResponseEvent.Content)
			out <- chatmodel.SemanticEvent{Type: chatmodel.EventContent, Text: wf.AssistantResponseEvent.Content}

		case wf.ReasoningEvent != nil && wf.ReasoningEvent.Content != "":
			markFirstToken()
			anyEventSent = true
			out <- chatmodel.SemanticEvent{Type: chatmodel.EventThinking, Text: wf.ReasoningEvent.Content}

		case wf.ToolUseEvent != nil:
			markFirstToken()
			anyEventSent = true
			id := wf.ToolUseEvent.ToolUseID
			st := toolAccum[id]
			if st == nil {
				st = &toolAccumState{name: wf.ToolUseEvent.Name}
				toolAccum[id] = st
			}
			st.input.WriteString(wf.ToolUseEvent.Input)
			if wf.ToolUseEvent.Stop {
				anyToolUse = true
				out <- chatmodel.SemanticEvent{
					Type:          chatmodel.EventToolUse,
					ToolUseID:     id,
					ToolName:      st.name,
					PartialJSON:   st.input.String(),
					ToolUseClosed: true,
				}
				delete(toolAccum, id)
			}

		case wf.MessageMetadataEvent != nil:
			anyEventSent = true
			contextUsagePct = wf.MessageMetadataEvent.ContextUsage
			out <- chatmodel.SemanticEvent{Type: chatmodel.EventContextUsed, ContextUsagePct: contextUsagePct}

		case wf.CodeReferenceEvent != nil:
			// Ignored per spec §4.H.

		case wf.Error != nil:
			out <- chatmodel.SemanticEvent{Type: chatmodel.EventError, ErrKind: chatmodel.ErrUpstream, ErrMessage: wf.Error.Message, ErrRetryable: false}
			return
		}
	}
}

func computeStopReason(anyToolUse bool, contextUsagePct float64) chatmodel.StopReason {
	if anyToolUse {
		return chatmodel.StopToolUse
	}
	if contextUsagePct >= 100 {
		return chatmodel.StopMaxTokens
	}
	return chatmodel.StopEndTurn
}

// scanBracketToolCalls extracts "[tool_call: name(args)]" spans from a
// completed text chunk and emits synthetic ToolUse events for each match
// (spec §4.H bracket-tool fallback). args is passed through as the raw
// partial-json-args string; if it is not valid JSON the response translator
// treats it the same as any other malformed tool-use payload. seq is shared
// across every call for one stream so repeated calls to the same tool name
// (in this chunk or a later one) still get distinct ToolUseIDs — the
// downstream per-ID streaming state in internal/respond keys its delta
// offset on ToolUseID alone.
func scanBracketToolCalls(text string, seq *int) []chatmodel.SemanticEvent {
	matches := bracketToolCallRe.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}
	events := make([]chatmodel.SemanticEvent, 0, len(matches))
	for _, m := range matches {
		events = append(events, chatmodel.SemanticEvent{
			Type:          chatmodel.EventToolUse,
			ToolUseID:     fmt.Sprintf("bracket_%s_%d", m[1], *seq),
			ToolName:      m[1],
			PartialJSON:   m[2],
			ToolUseClosed: true,
		})
		*seq++
	}
	return events
}

package retry

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
)

type fakeCred struct {
	invalidated int
}

func (f *fakeCred) AuthHeader(ctx context.Context) (string, error) { return "Bearer at_1", nil }
func (f *fakeCred) Invalidate()                                    { f.invalidated++ }

type scriptedResponse struct {
	status      int
	preview     string
	expiredHint bool
	events      []chatmodel.SemanticEvent
}

type scriptedDispatcher struct {
	responses []scriptedResponse
	calls     int
	parser    *scriptedParser
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, env chatmodel.Envelope, authHeader string) (*UpstreamResponse, error) {
	r := d.responses[d.calls]
	d.calls++
	d.parser.next = r.events
	return &UpstreamResponse{StatusCode: r.status, Body: io.NopCloser(strings.NewReader("")), BodyPreview: r.preview, CredentialExpiredHint: r.expiredHint}, nil
}

type scriptedParser struct {
	next []chatmodel.SemanticEvent
}

func (p *scriptedParser) Parse(ctx context.Context, body io.ReadCloser, timeout time.Duration) (<-chan chatmodel.SemanticEvent, error) {
	ch := make(chan chatmodel.SemanticEvent, len(p.next))
	for _, ev := range p.next {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func collectEmit(t *testing.T) (Emitter, *[]chatmodel.SemanticEvent) {
	var got []chatmodel.SemanticEvent
	return func(ctx context.Context, ev chatmodel.SemanticEvent) error {
		got = append(got, ev)
		return nil
	}, &got
}

func noopSummarize(env chatmodel.Envelope) (chatmodel.Envelope, error) { return env, nil }

func TestCoordinatorSimpleSuccess(t *testing.T) {
	parser := &scriptedParser{}
	dispatcher := &scriptedDispatcher{parser: parser, responses: []scriptedResponse{
		{status: 200, events: []chatmodel.SemanticEvent{
			{Type: chatmodel.EventContent, Text: "pong"},
			{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopEndTurn},
		}},
	}}
	cred := &fakeCred{}
	co := New(cred, dispatcher, parser, 3, 30*time.Second)

	emit, got := collectEmit(t)
	if err := co.Run(context.Background(), chatmodel.Envelope{}, noopSummarize, emit); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(*got) != 2 {
		t.Fatalf("emitted %d events, want 2", len(*got))
	}
	if dispatcher.calls != 1 {
		t.Fatalf("dispatcher called %d times, want 1", dispatcher.calls)
	}
}

func TestCoordinator401InvalidatesOnce(t *testing.T) {
	parser := &scriptedParser{}
	dispatcher := &scriptedDispatcher{parser: parser, responses: []scriptedResponse{
		{status: 401},
		{status: 200, events: []chatmodel.SemanticEvent{{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopEndTurn}}},
	}}
	cred := &fakeCred{}
	co := New(cred, dispatcher, parser, 3, 30*time.Second)

	emit, _ := collectEmit(t)
	if err := co.Run(context.Background(), chatmodel.Envelope{}, noopSummarize, emit); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if cred.invalidated != 1 {
		t.Fatalf("invalidated %d times, want 1", cred.invalidated)
	}
	if dispatcher.calls != 2 {
		t.Fatalf("dispatcher called %d times, want 2", dispatcher.calls)
	}
}

func TestCoordinator401OnLaterAttemptIsNotInvalidated(t *testing.T) {
	parser := &scriptedParser{}
	dispatcher := &scriptedDispatcher{parser: parser, responses: []scriptedResponse{
		{status: 500},
		{status: 401},
	}}
	cred := &fakeCred{}
	co := New(cred, dispatcher, parser, 3, 30*time.Second)
	co.BackoffBase = time.Millisecond
	co.BackoffCap = time.Millisecond

	emit, _ := collectEmit(t)
	err := co.Run(context.Background(), chatmodel.Envelope{}, noopSummarize, emit)
	if err == nil {
		t.Fatal("expected error for 401 on attempt 2")
	}
	if cred.invalidated != 0 {
		t.Fatalf("invalidated %d times, want 0 (spec ties the 401 branch to attempt == 1)", cred.invalidated)
	}
	if dispatcher.calls != 2 {
		t.Fatalf("dispatcher called %d times, want 2", dispatcher.calls)
	}
}

func TestCoordinatorFirstTokenTimeoutRetries(t *testing.T) {
	parser := &scriptedParser{}
	dispatcher := &scriptedDispatcher{parser: parser, responses: []scriptedResponse{
		{status: 200, events: []chatmodel.SemanticEvent{{Type: chatmodel.EventError, ErrKind: chatmodel.ErrFirstToken}}},
		{status: 200, events: []chatmodel.SemanticEvent{
			{Type: chatmodel.EventContent, Text: "pong"},
			{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopEndTurn},
		}},
	}}
	cred := &fakeCred{}
	co := New(cred, dispatcher, parser, 3, 30*time.Second)
	co.BackoffBase = time.Millisecond
	co.BackoffCap = 2 * time.Millisecond

	emit, got := collectEmit(t)
	if err := co.Run(context.Background(), chatmodel.Envelope{}, noopSummarize, emit); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if dispatcher.calls != 2 {
		t.Fatalf("dispatcher called %d times, want 2", dispatcher.calls)
	}
	if len(*got) != 2 {
		t.Fatalf("emitted %d events, want 2", len(*got))
	}
}

func TestCoordinatorMidStreamErrorIsNotRetried(t *testing.T) {
	parser := &scriptedParser{}
	dispatcher := &scriptedDispatcher{parser: parser, responses: []scriptedResponse{
		{status: 200, events: []chatmodel.SemanticEvent{
			{Type: chatmodel.EventContent, Text: "partial"},
			{Type: chatmodel.EventError, ErrKind: chatmodel.ErrStreamBroken, ErrMessage: "connection reset"},
		}},
	}}
	cred := &fakeCred{}
	co := New(cred, dispatcher, parser, 3, 30*time.Second)

	emit, got := collectEmit(t)
	err := co.Run(context.Background(), chatmodel.Envelope{}, noopSummarize, emit)
	if err == nil {
		t.Fatal("expected error for mid-stream failure")
	}
	if dispatcher.calls != 1 {
		t.Fatalf("dispatcher called %d times, want 1 (no retry after bytes sent)", dispatcher.calls)
	}
	if len(*got) != 2 {
		t.Fatalf("emitted %d events, want 2 (content + terminal error)", len(*got))
	}
}

func TestCoordinator413SummarizesOnce(t *testing.T) {
	parser := &scriptedParser{}
	dispatcher := &scriptedDispatcher{parser: parser, responses: []scriptedResponse{
		{status: 413},
		{status: 200, events: []chatmodel.SemanticEvent{{Type: chatmodel.EventStreamEnd, StopReason: chatmodel.StopEndTurn}}},
	}}
	cred := &fakeCred{}
	co := New(cred, dispatcher, parser, 3, 30*time.Second)

	summarizeCalls := 0
	summarize := func(env chatmodel.Envelope) (chatmodel.Envelope, error) {
		summarizeCalls++
		return env, nil
	}
	emit, _ := collectEmit(t)
	if err := co.Run(context.Background(), chatmodel.Envelope{}, summarize, emit); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summarizeCalls != 1 {
		t.Fatalf("summarize called %d times, want 1", summarizeCalls)
	}
}

func TestCoordinator5xxExhaustsRetries(t *testing.T) {
	parser := &scriptedParser{}
	dispatcher := &scriptedDispatcher{parser: parser, responses: []scriptedResponse{
		{status: 500}, {status: 500}, {status: 500},
	}}
	cred := &fakeCred{}
	co := New(cred, dispatcher, parser, 3, 30*time.Second)
	co.BackoffBase = time.Millisecond
	co.BackoffCap = time.Millisecond

	emit, _ := collectEmit(t)
	err := co.Run(context.Background(), chatmodel.Envelope{}, noopSummarize, emit)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if dispatcher.calls != 3 {
		t.Fatalf("dispatcher called %d times, want 3 (max_retries total attempts)", dispatcher.calls)
	}
}

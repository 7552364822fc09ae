package httpapi

import (
	"context"
	"net/http"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/retry"
)

// eventChanCapacity matches the bounded-channel sizing note in spec §9
// Design Notes: enough slack to absorb one burst of tool-argument deltas
// without blocking the retry coordinator's forward loop on a slow client.
const eventChanCapacity = 32

// streamFunc is satisfied by respond.AnthropicStreamer.Stream and
// respond.OpenAIStreamer.Stream.
type streamFunc func(ctx context.Context, w http.ResponseWriter, events <-chan chatmodel.SemanticEvent, model string) error

// runStreaming drives coordinator.Run against stream, lazily starting stream
// only once the coordinator actually has an event to deliver. This avoids
// committing SSE response headers (and an empty message_start) for requests
// that fail before any upstream byte arrives — exhausted retries, credential
// failure, a fatal 4xx, or a second summarize attempt that still doesn't
// fit. started reports whether stream was ever launched, so the caller knows
// whether it is still safe to write a top-level JSON error.
func runStreaming(ctx context.Context, w http.ResponseWriter, model string, run func(emit retry.Emitter) error, stream streamFunc) (started bool, streamErr, runErr error) {
	events := make(chan chatmodel.SemanticEvent, eventChanCapacity)
	result := make(chan error, 1)

	emit := func(ctx context.Context, ev chatmodel.SemanticEvent) error {
		if !started {
			started = true
			go func() { result <- stream(ctx, w, events, model) }()
		}
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	runErr = run(emit)
	close(events)
	if started {
		streamErr = <-result
	}
	return started, streamErr, runErr
}

// aggregateFunc is satisfied by respond.AnthropicAggregator.Aggregate and
// respond.OpenAIAggregator.Aggregate.
type aggregateFunc func(ctx context.Context, events <-chan chatmodel.SemanticEvent, model, inputText string) (map[string]any, error)

// runAggregate mirrors runStreaming for the stream:false path: the
// aggregator goroutine is launched unconditionally (there is no header
// commitment to protect — nothing is written to w until buildResponse
// returns), but events are still funneled one at a time from the
// coordinator's Emitter.
func runAggregate(ctx context.Context, model, inputText string, run func(emit retry.Emitter) error, aggregate aggregateFunc) (map[string]any, error) {
	events := make(chan chatmodel.SemanticEvent, eventChanCapacity)
	type outcome struct {
		resp map[string]any
		err  error
	}
	result := make(chan outcome, 1)

	go func() {
		resp, err := aggregate(ctx, events, model, inputText)
		result <- outcome{resp, err}
	}()

	emit := func(ctx context.Context, ev chatmodel.SemanticEvent) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	runErr := run(emit)
	close(events)
	out := <-result
	if runErr != nil {
		return nil, runErr
	}
	return out.resp, out.err
}

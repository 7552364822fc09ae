package retry

import (
	"context"
	"io"
	"time"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/gatewayerr"
)

// CredentialManager is the subset of internal/auth.Manager the coordinator
// needs. Declared here (rather than imported) to keep internal/retry free of
// a dependency on internal/auth's concrete types.
type CredentialManager interface {
	AuthHeader(ctx context.Context) (string, error)
	Invalidate()
}

// UpstreamResponse is the pre-stream outcome of one dispatch to the
// upstream, before any framed event has been parsed.
type UpstreamResponse struct {
	StatusCode            int
	Body                  io.ReadCloser
	BodyPreview           string // populated for non-2xx responses
	CredentialExpiredHint bool   // true when a 403 body indicates an expired credential
}

// Dispatcher sends one canonical envelope to the upstream and returns the
// response headers/status without consuming the streamed body.
type Dispatcher interface {
	Dispatch(ctx context.Context, env chatmodel.Envelope, authHeader string) (*UpstreamResponse, error)
}

// StreamParser turns a raw upstream response body into an ordered channel of
// semantic events (internal/upstream). The channel's final event is an
// EventError when the stream ended abnormally; a channel that closes
// without an EventError indicates a normal end of stream.
type StreamParser interface {
	Parse(ctx context.Context, body io.ReadCloser, firstTokenTimeout time.Duration) (<-chan chatmodel.SemanticEvent, error)
}

// Summarizer rewrites an oversized envelope into one that should fit (spec
// §4.G), or reports that even the minimal envelope cannot be made to fit.
type Summarizer func(env chatmodel.Envelope) (chatmodel.Envelope, error)

// Emitter forwards one semantic event to the response translator. Once any
// event has been forwarded, the coordinator treats the stream as "bytes
// already sent" and will not retry on a subsequent error.
type Emitter func(ctx context.Context, ev chatmodel.SemanticEvent) error

// Coordinator implements the retry loop of spec §4.K.
type Coordinator struct {
	Cred              CredentialManager
	Dispatcher        Dispatcher
	Parser            StreamParser
	MaxRetries        int
	FirstTokenTimeout time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
}

func New(cred CredentialManager, dispatcher Dispatcher, parser StreamParser, maxRetries int, firstTokenTimeout time.Duration) *Coordinator {
	return &Coordinator{
		Cred:              cred,
		Dispatcher:        dispatcher,
		Parser:            parser,
		MaxRetries:        maxRetries,
		FirstTokenTimeout: firstTokenTimeout,
		BackoffBase:       DefaultBase,
		BackoffCap:        DefaultCap,
	}
}

func (c *Coordinator) sleep(ctx context.Context, attempt int) error {
	delay := FullJitterDelay(attempt, c.BackoffBase, c.BackoffCap)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run drives one logical client request through credential acquisition,
// dispatch, optional summarization, and stream forwarding, retrying per the
// rules in spec §4.K.
func (c *Coordinator) Run(ctx context.Context, env chatmodel.Envelope, summarize Summarizer, emit Emitter) error {
	attempt := 0
	used403Invalidate := false
	usedSummarize := false

retryLoop:
	for {
		attempt++

		authHeader, err := c.Cred.AuthHeader(ctx)
		if err != nil {
			return gatewayerr.Wrap(gatewayerr.KindAuthFatal, 503, false, "credential unavailable", err)
		}

		resp, err := c.Dispatcher.Dispatch(ctx, env, authHeader)
		if err != nil {
			if attempt < c.MaxRetries {
				if sErr := c.sleep(ctx, attempt-1); sErr != nil {
					return sErr
				}
				continue retryLoop
			}
			return gatewayerr.Wrap(gatewayerr.KindUpstreamTransient, 502, false, "upstream request failed", err)
		}

		switch {
		case resp.StatusCode == 401 && attempt == 1:
			c.Cred.Invalidate()
			continue retryLoop

		case resp.StatusCode == 403 && resp.CredentialExpiredHint && !used403Invalidate:
			used403Invalidate = true
			c.Cred.Invalidate()
			continue retryLoop

		case resp.StatusCode >= 500:
			if attempt < c.MaxRetries {
				if sErr := c.sleep(ctx, attempt-1); sErr != nil {
					return sErr
				}
				continue retryLoop
			}
			return gatewayerr.New(gatewayerr.KindUpstreamTransient, 502, false, "upstream server error: "+resp.BodyPreview)

		case resp.StatusCode == 413 && !usedSummarize:
			usedSummarize = true
			newEnv, sErr := summarize(env)
			if sErr != nil {
				return gatewayerr.Wrap(gatewayerr.KindContextOverflow, 413, false, "request too large even after summarization", sErr)
			}
			env = newEnv
			continue retryLoop

		case resp.StatusCode >= 400:
			return gatewayerr.New(gatewayerr.KindUpstreamFatal, resp.StatusCode, false, resp.BodyPreview)
		}

		events, err := c.Parser.Parse(ctx, resp.Body, c.FirstTokenTimeout)
		if err != nil {
			return gatewayerr.Wrap(gatewayerr.KindFraming, 502, false, "failed to start parsing upstream stream", err)
		}

		forwarded := 0
		for ev := range events {
			if ev.Type == chatmodel.EventError {
				if ev.ErrKind == chatmodel.ErrFirstToken && forwarded == 0 {
					if attempt < c.MaxRetries {
						if sErr := c.sleep(ctx, attempt-1); sErr != nil {
							return sErr
						}
						continue retryLoop
					}
					return gatewayerr.New(gatewayerr.KindUpstreamTransient, 504, false, "first token timed out after all retries")
				}
				// An error after the first token (or any non-first-token
				// error) cannot be retried: bytes may already be with the
				// client. Forward it so the client sees a terminal error
				// event, per spec §4.K / §7 StreamBroken.
				_ = emit(ctx, ev)
				return gatewayerr.New(gatewayerr.KindStreamBroken, 0, false, ev.ErrMessage)
			}
			if err := emit(ctx, ev); err != nil {
				return err
			}
			forwarded++
		}
		return nil
	}
}

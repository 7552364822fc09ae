package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/respond"
	"github.com/kirogateway/kiro-gateway/internal/retry"
	"github.com/kirogateway/kiro-gateway/internal/translate"
	"github.com/kirogateway/kiro-gateway/internal/upstream"
)

// summarizeHeadroom mirrors the margin internal/translate reserves below a
// model's max-input-tokens before its own pre-emptive summarization kicks
// in (spec §4.F rule 8); the retry coordinator's post-413 summarize pass
// reuses the same margin so a second oversized attempt is never sent.
const summarizeHeadroom = 1024

func (s *Server) makeSummarizer(ctx context.Context) retry.Summarizer {
	return func(env chatmodel.Envelope) (chatmodel.Envelope, error) {
		info, err := s.Models.Get(ctx, env.ModelID)
		if err != nil {
			return chatmodel.Envelope{}, err
		}
		return translate.SummarizeEnvelope(env, info.MaxInputTokens-summarizeHeadroom)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req translate.AnthropicRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 20<<20)).Decode(&req); err != nil {
		writeAnthropicError(w, asGatewayErr(err))
		return
	}

	ctx := r.Context()
	authHeader, err := s.Auth.AuthHeader(ctx)
	if err != nil {
		writeAnthropicError(w, asGatewayErr(err))
		return
	}
	ctx = upstream.WithAuthHeader(ctx, authHeader)
	ctx = upstream.WithProfileARN(ctx, s.Auth.ProfileARN())

	env, err := s.Translator.TranslateAnthropic(ctx, req)
	if err != nil {
		writeAnthropicError(w, asGatewayErr(err))
		return
	}
	env.ProfileARN = s.Auth.ProfileARN()

	inputText := env.CurrentUserMessage.Text()
	run := func(emit retry.Emitter) error {
		return s.Coordinator.Run(ctx, env, s.makeSummarizer(ctx), emit)
	}

	if req.Stream {
		streamer := respond.NewAnthropicStreamer(s.Config.ReasoningHandling, s.Truncations)
		started, streamErr, runErr := runStreaming(ctx, w, req.Model, run, streamer.Stream)
		if !started && runErr != nil {
			writeAnthropicError(w, asGatewayErr(runErr))
			return
		}
		if started && streamErr != nil {
			s.Logger.Error("anthropic stream write failed", "error", streamErr)
		}
		return
	}

	aggregator := respond.NewAnthropicAggregator(s.Config.ReasoningHandling, s.Truncations)
	resp, err := runAggregate(ctx, req.Model, inputText, run, aggregator.Aggregate)
	if err != nil {
		writeAnthropicError(w, asGatewayErr(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/kirogateway/kiro-gateway/internal/respond"
	"github.com/kirogateway/kiro-gateway/internal/retry"
	"github.com/kirogateway/kiro-gateway/internal/translate"
	"github.com/kirogateway/kiro-gateway/internal/upstream"
)

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req translate.OpenAIRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 20<<20)).Decode(&req); err != nil {
		writeOpenAIError(w, asGatewayErr(err))
		return
	}

	ctx := r.Context()
	authHeader, err := s.Auth.AuthHeader(ctx)
	if err != nil {
		writeOpenAIError(w, asGatewayErr(err))
		return
	}
	ctx = upstream.WithAuthHeader(ctx, authHeader)
	ctx = upstream.WithProfileARN(ctx, s.Auth.ProfileARN())

	env, err := s.Translator.TranslateOpenAI(ctx, req)
	if err != nil {
		writeOpenAIError(w, asGatewayErr(err))
		return
	}
	env.ProfileARN = s.Auth.ProfileARN()

	inputText := env.CurrentUserMessage.Text()
	run := func(emit retry.Emitter) error {
		return s.Coordinator.Run(ctx, env, s.makeSummarizer(ctx), emit)
	}

	if req.Stream {
		streamer := respond.NewOpenAIStreamer(s.Config.ReasoningHandling, s.Truncations)
		started, streamErr, runErr := runStreaming(ctx, w, req.Model, run, streamer.Stream)
		if !started && runErr != nil {
			writeOpenAIError(w, asGatewayErr(runErr))
			return
		}
		if started && streamErr != nil {
			s.Logger.Error("openai stream write failed", "error", streamErr)
		}
		return
	}

	aggregator := respond.NewOpenAIAggregator(s.Config.ReasoningHandling, s.Truncations)
	resp, err := runAggregate(ctx, req.Model, inputText, run, aggregator.Aggregate)
	if err != nil {
		writeOpenAIError(w, asGatewayErr(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

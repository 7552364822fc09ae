package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kirogateway/kiro-gateway/internal/auth"
	"github.com/kirogateway/kiro-gateway/internal/config"
	"github.com/kirogateway/kiro-gateway/internal/modelinfo"
	"github.com/kirogateway/kiro-gateway/internal/retry"
	"github.com/kirogateway/kiro-gateway/internal/translate"
	"github.com/kirogateway/kiro-gateway/internal/truncation"
	"github.com/kirogateway/kiro-gateway/internal/upstream"
)

// Server wires the gateway's inbound HTTP surface: route dispatch, auth,
// and the glue between one incoming request and the retry coordinator that
// drives it to completion (spec §6 route table, §1 "assumed to exist").
type Server struct {
	Config      *config.Config
	Auth        *auth.Manager
	Models      *modelinfo.Cache
	Translator  *translate.Translator
	Truncations *truncation.Cache
	Coordinator *retry.Coordinator
	UpstreamCli *upstream.Client
	Logger      *slog.Logger

	httpServer *http.Server
	router     chi.Router
}

func NewServer(cfg *config.Config, authMgr *auth.Manager, models *modelinfo.Cache, translator *translate.Translator, truncations *truncation.Cache, coordinator *retry.Coordinator, upstreamCli *upstream.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Config:      cfg,
		Auth:        authMgr,
		Models:      models,
		Translator:  translator,
		Truncations: truncations,
		Coordinator: coordinator,
		UpstreamCli: upstreamCli,
		Logger:      logger,
	}
}

// Router builds and caches the chi router with every route registered.
func (s *Server) Router() chi.Router {
	if s.router != nil {
		return s.router
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute)) // generous: a logical stream can run long
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(gr chi.Router) {
		gr.Use(s.gatewayAuth)
		gr.Post("/v1/messages", s.handleMessages)
		gr.Post("/v1/chat/completions", s.handleChatCompletions)
		gr.Get("/v1/models", s.handleModels)
	})

	s.router = r
	return r
}

// Start serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Router()}

	s.Logger.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// StartTestServer listens on a random local port for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func(), err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("listen: %w", err)
	}

	s.httpServer = &http.Server{Handler: s.Router()}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start, nil
}

package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirogateway/kiro-gateway/internal/auth"
	"github.com/kirogateway/kiro-gateway/internal/config"
	"github.com/kirogateway/kiro-gateway/internal/httpapi"
	"github.com/kirogateway/kiro-gateway/internal/modelinfo"
	"github.com/kirogateway/kiro-gateway/internal/proxy"
	"github.com/kirogateway/kiro-gateway/internal/retry"
	"github.com/kirogateway/kiro-gateway/internal/translate"
	"github.com/kirogateway/kiro-gateway/internal/truncation"
	"github.com/kirogateway/kiro-gateway/internal/upstream"
)

var serveAddr string

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway's HTTP listener",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runServe())
		},
	}
	cmd.Flags().StringVar(&serveAddr, "addr", envOr("LISTEN_ADDR", ":8080"), "address to listen on")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// runServe is the composition root (spec §1/§4 HTTP Listener): it wires
// every subsystem constructed elsewhere in this repo into one running
// server and returns the process exit code spec §6 documents.
func runServe() int {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return config.ExitConfigInvalid
	}

	proxy.Apply(cfg.VPNProxyURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cred, store, err := loadCredential(ctx, cfg, logger)
	if err != nil {
		logger.Error("no credential available", "error", err)
		return config.ExitNoCredential
	}

	desktop := auth.NewRateLimitedProvider(auth.NewDesktopProvider(nil))
	oidc := auth.NewRateLimitedProvider(auth.NewOIDCProvider(nil))
	authMgr := auth.NewManager(cred, store, desktop, oidc, logger)

	upstreamCli := upstream.NewClient(nil)
	parser := upstream.NewParser()

	models := modelinfo.New(upstreamCli, modelinfo.DefaultTTL)
	var truncations *truncation.Cache
	if cfg.TruncationRecover {
		truncations = truncation.New(truncation.DefaultTTL)
		go truncationStatsLogger(ctx, logger, truncations)
	}
	images := translate.NewImageFetcher(nil)
	translator := translate.New(models, truncations, images)

	coordinator := retry.New(authMgr, upstreamCli, parser, cfg.MaxRetries, cfg.FirstTokenTimeout)

	server := httpapi.NewServer(cfg, authMgr, models, translator, truncations, coordinator, upstreamCli, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := server.Start(ctx, serveAddr); err != nil {
		logger.Error("server exited with error", "error", err)
		return 1
	}
	return config.ExitOK
}

// loadCredential tries each store in spec §4.B's priority order: SQLite >
// File > Env.
func loadCredential(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.Credential, auth.Store, error) {
	var stores []auth.Store
	if cfg.KiroDBFile != "" {
		stores = append(stores, auth.NewSQLiteStore(cfg.KiroDBFile))
	}
	if cfg.CredsFile != "" {
		stores = append(stores, auth.NewFileStore(cfg.CredsFile))
	}
	stores = append(stores, auth.NewEnvStore(logger))

	return auth.LoadFirst(ctx, stores...)
}

// truncationStatsLogger periodically logs the truncation cache's stats so
// an operator watching logs (rather than polling /healthz) still sees
// recovery activity.
func truncationStatsLogger(ctx context.Context, logger *slog.Logger, cache *truncation.Cache) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := cache.Stats()
			if stats.Total > 0 {
				logger.Info("truncation cache stats", "tool", stats.ToolTruncations, "content", stats.ContentTruncations)
			}
		}
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/db"
	"github.com/parley-ai/parley/internal/api"
	"github.com/parley-ai/parley/internal/auth"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/log"
	"github.com/parley-ai/parley/internal/observability"
	"github.com/parley-ai/parley/internal/provider/openai"
	"github.com/parley-ai/parley/internal/provider/sim"
	"github.com/parley-ai/parley/internal/relay"
	"github.com/parley-ai/parley/internal/store"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs longer timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// parseLogLevel maps a configured level name to a slog.Level.
// Unknown names fall back to info.
func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runServe initializes all components and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{
		Level: parseLogLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	logger.Info("starting parley server", "version", AppVersion)

	if cfg.Tracing.Enabled {
		shutdown, traceErr := observability.Setup(ctx, observability.Config{
			AgentHost:   cfg.Tracing.AgentHost,
			Environment: cfg.Tracing.Environment,
			ServiceName: cfg.Tracing.ServiceName,
		}, logger)
		if traceErr != nil {
			return fmt.Errorf("setting up tracing: %w", traceErr)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("trace export shutdown", "error", err)
			}
		}()
	}

	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	st := store.New(pool, logger)

	tokens := auth.NewTokens(
		cfg.AccessTokenSecret,
		cfg.RefreshTokenSecret,
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
	)

	registry := relay.NewRegistry()

	chatProvider := openai.New(openai.Config{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
	})
	chatRelay := relay.New(st, chatProvider, registry, logger,
		cfg.HistoryLimit, config.DefaultSystemPrompt)
	testRelay := relay.New(st, sim.New(), registry, logger,
		cfg.HistoryLimit, config.DefaultSystemPrompt)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:        logger.With("component", "api"),
		Store:         st,
		Tokens:        tokens,
		Registry:      registry,
		Relay:         chatRelay,
		TestRelay:     testRelay,
		Pool:          pool,
		CORSOrigins:   cfg.CORSOrigins,
		TrustProxy:    cfg.TrustProxy,
		RateBurst:     cfg.RateBurst,
		SecureCookies: cfg.PostgresSSLMode != "disable",
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.Addr,
		"api", "/api/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

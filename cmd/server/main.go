// Package main is the entrypoint for the DocuFlow API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/docuflow-io/docuflow/internal/api"
	"github.com/docuflow-io/docuflow/internal/api/handler"
	mw "github.com/docuflow-io/docuflow/internal/api/middleware"
	"github.com/docuflow-io/docuflow/internal/api/response"
	"github.com/docuflow-io/docuflow/internal/bridge"
	"github.com/docuflow-io/docuflow/internal/cache"
	"github.com/docuflow-io/docuflow/internal/config"
	"github.com/docuflow-io/docuflow/internal/estimate"
	"github.com/docuflow-io/docuflow/internal/logging"
	"github.com/docuflow-io/docuflow/internal/openai"
	"github.com/docuflow-io/docuflow/internal/progress"
	"github.com/docuflow-io/docuflow/internal/results"
	"github.com/docuflow-io/docuflow/internal/runner"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

	env := os.Getenv("DOCUFLOW_ENV")
	if env == "" {
		env = "development"
	}
	slog.SetDefault(logging.New(env))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "pipeline_url", cfg.Pipeline.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Create Redis cache (result payloads, rate limiting)
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 3. Job tracking core
	registry := progress.NewRegistry(cfg.Jobs.EvictDelay)
	publisher := progress.NewPublisher()
	tracker := progress.NewTracker(registry, publisher)
	resultStore := results.New(redisCache, cfg.Jobs.ResultTTL)

	// 4. Processing pipelines
	assistant := openai.NewHTTPClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey,
		cfg.OpenAI.AssistantID, cfg.OpenAI.Timeout)
	jobRunner := runner.New(assistant, tracker, resultStore,
		cfg.OpenAI.PollInterval, cfg.OpenAI.MaxPollAttempts)

	pipelineClient := bridge.NewHTTPClient(cfg.Pipeline.BaseURL, cfg.Pipeline.Timeout)
	pipelineBridge := bridge.New(pipelineClient, tracker, resultStore,
		cfg.Pipeline.PollInterval, cfg.Pipeline.CancelTimeout, cfg.Pipeline.AbandonAfter)

	// 5. Build router with dependencies
	auth := mw.NewAuth(cfg.Auth.APIKeyHashes)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Auth.RatePerMin)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:   healthHandler(redisCache),
		StartJobHandler: handler.NewStartJobHandler(jobRunner, pipelineBridge),
		StreamHandler:   handler.NewStreamHandler(tracker),
		CancelHandler:   handler.NewCancelHandler(jobRunner, pipelineBridge),
		ResultHandler:   handler.NewResultHandler(resultStore, registry),
		EstimateHandler: handler.NewEstimateHandler(estimate.New()),
	}

	router := api.NewRouter(deps)

	// 6. Start HTTP server. WriteTimeout stays 0: the progress stream holds
	// its connection open for the lifetime of a job.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks cache connectivity.
func healthHandler(c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Ping(r.Context()); err != nil {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"Cache unavailable", map[string]string{"cache": "degraded"})
			return
		}
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": map[string]string{"cache": "ok"},
		})
	}
}

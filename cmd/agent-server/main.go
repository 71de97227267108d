package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ondemand-ai/browser-agent/internal/api"
	"github.com/ondemand-ai/browser-agent/internal/browser"
	"github.com/ondemand-ai/browser-agent/internal/config"
	"github.com/ondemand-ai/browser-agent/internal/llm"
	"github.com/ondemand-ai/browser-agent/internal/ratelimit"
	"github.com/ondemand-ai/browser-agent/internal/run"
	"github.com/ondemand-ai/browser-agent/internal/video"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.ScanDir, 0o755); err != nil {
		logger.Fatal("create scan dir", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		logger.Fatal("create artifact dir", zap.Error(err))
	}

	registry := llm.NewRegistry(cfg.DefaultModel)
	launcher := browser.NewLauncher(logger)
	finalizer := video.NewFinalizer(cfg.FFmpegPath, cfg.ArtifactDir, cfg.FrameRate, logger)
	store := run.NewStore()

	controller := run.NewController(registry, launcher, finalizer, store, run.Settings{
		DefaultMaxSteps: cfg.DefaultMaxSteps,
		MaxStepsLimit:   cfg.MaxStepsLimit,
		MaxRunDuration:  cfg.MaxRunDuration,
		Engine:          browser.Kind(cfg.BrowserEngine),
		Headless:        cfg.Headless,
		ProxyURL:        cfg.ProxyURL,
		ProxyUser:       cfg.ProxyUser,
		ProxyPass:       cfg.ProxyPass,
		ScanDir:         cfg.ScanDir,
	}, logger)

	limiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst)
	handler := api.NewHandler(controller, store, limiter,
		cfg.MaxConcurrentRuns, cfg.MaxStepsLimit, cfg.ArtifactDir, logger)

	// Write and idle timeouts must outlast the longest possible run, or the
	// transport drops the connection before the structured timeout result
	// can be delivered.
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.MaxRunDuration + time.Minute,
		IdleTimeout:  cfg.MaxRunDuration + time.Minute,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Addr),
			zap.String("engine", cfg.BrowserEngine),
			zap.String("default_model", cfg.DefaultModel),
			zap.Duration("max_run_duration", cfg.MaxRunDuration),
			zap.Int("default_max_steps", cfg.DefaultMaxSteps))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

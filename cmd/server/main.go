package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/backend"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/handler"
	"github.com/stemsi/exstem-assess/internal/judge"
	"github.com/stemsi/exstem-assess/internal/logger"
	"github.com/stemsi/exstem-assess/internal/middleware"
	"github.com/stemsi/exstem-assess/internal/router"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/storage"
	"github.com/stemsi/exstem-assess/internal/validator"
	"github.com/stemsi/exstem-assess/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("store", cfg.StoreDriver).
		Msg("Starting assessment session agent")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Open Session Store ────────────────────────────────────────────
	st, err := storage.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer st.Close()

	// ─── Initialize Collaborators ──────────────────────────────────────
	judgeClient := judge.NewClient(cfg.JudgeURL, cfg.JudgeTimeout, cfg.JudgePollInterval, cfg.JudgeMaxAttempts, log)
	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout, cfg.SubmitTimeout, log)

	// ─── Initialize Services ──────────────────────────────────────────
	sessions := service.NewSessionManager(judgeClient, backendClient, st, service.Options{
		DefaultLanguageID: cfg.DefaultLanguageID,
		DefaultDuration:   cfg.DefaultDuration,
		ViolationLimit:    cfg.ViolationLimit,
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Assessment: handler.NewAssessmentHandler(sessions, log),
		WS:         handler.NewWSHandler(sessions, log, cfg.AllowedOrigins),
		System:     handler.NewSystemHandler(st, sessions, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	statusSync := worker.NewStatusSyncWorker(st, backendClient, log)
	go func() {
		defer close(workerDone)
		statusSync.Start(workerCtx)
	}()
	go sessions.RunJanitor(workerCtx, time.Minute, cfg.SessionIdleTimeout)

	// ─── Setup Router ──────────────────────────────────────────────────
	runLimiter := middleware.NewRateLimiter(ctx, cfg.RunRateLimit, time.Minute)
	r := router.SetupRouter(handlers, cfg, runLimiter)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close sessions so countdowns stop and open streams are released.
	sessions.Close()

	// 3. Stop the status sync worker and wait for its queue to drain.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Status sync worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

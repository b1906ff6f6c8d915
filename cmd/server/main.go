package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/database"
	"github.com/stemsi/exstem-runtime/internal/handler"
	"github.com/stemsi/exstem-runtime/internal/logger"
	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/repository"
	"github.com/stemsi/exstem-runtime/internal/router"
	"github.com/stemsi/exstem-runtime/internal/runtime"
	"github.com/stemsi/exstem-runtime/internal/service"
	"github.com/stemsi/exstem-runtime/internal/validator"
	"github.com/stemsi/exstem-runtime/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "exstem-runtime")
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Session Runtime")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Connect to RabbitMQ ───────────────────────────────────────────
	broker, err := database.NewRabbitMQClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	if broker != nil {
		defer broker.Close()
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	assessmentRepo := repository.NewAssessmentRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	resultRepo := repository.NewResultRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	questionBank := service.NewQuestionBank(assessmentRepo, questionRepo, rdb, log)
	sessionStore := service.NewSessionStore(attemptRepo, answerRepo, assessmentRepo, rdb, log)
	var certificates service.CertificateIssuer
	if broker != nil {
		certificates = service.NewCertificatePublisher(broker, cfg.CertificateQueue, log)
	}
	scoringService := service.NewScoringService(questionBank, resultRepo, certificates, rdb, log)
	eventPublisher := service.NewEventPublisher(rdb, log)

	// ─── Initialize Session Runtime ───────────────────────────────────
	manager := runtime.NewManager(sessionStore, questionBank, scoringService, eventPublisher, runtime.Config{
		TickInterval:     cfg.Session.TickInterval,
		AutosaveInterval: cfg.Session.AutosaveInterval,
		AutosaveDebounce: cfg.Session.AutosaveDebounce,
		FlushTimeout:     cfg.Session.FlushTimeout,
		WarningThreshold: cfg.Session.WarningThreshold,
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(manager, questionBank, cfg.SubmitWait, log),
		WS:      handler.NewWSHandler(manager, rdb, cfg.SubmitWait, log, cfg.AllowedOrigins),
		Health:  handler.NewHealthHandler(pool, rdb, broker, manager),
	}
	limiter := middleware.NewRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, log)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workers, workerCtx := errgroup.WithContext(workerCtx)

	autosaveWorker := worker.NewAutosaveWorker(answerRepo, rdb, log)
	snapshotWorker := worker.NewSnapshotWorker(attemptRepo, rdb, log)
	scoringWorker := worker.NewScoringWorker(attemptRepo, rdb, cfg.ScoringBatchSize, cfg.ScoringFlushInterval, log)

	workers.Go(func() error { autosaveWorker.Start(workerCtx); return nil })
	workers.Go(func() error { snapshotWorker.Start(workerCtx); return nil })
	workers.Go(func() error { scoringWorker.Start(workerCtx); return nil })

	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := manager.RecoverPending(recoverCtx, 1000); err != nil {
		log.Error().Err(err).Msg("Failed to resume pending submissions")
	}
	recoverCancel()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, limiter, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout). Open streams are
	// hijacked and not waited for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Flush every live session so no answer is lost, then let the
	// write-behind workers drain what the flush queued.
	sessionCtx, sessionCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer sessionCancel()
	if err := manager.Shutdown(sessionCtx); err != nil {
		log.Error().Err(err).Msg("Session manager shutdown error")
	}

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	if err := workers.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

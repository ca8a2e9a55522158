package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/expensio/expensio/internal/app"
	"github.com/expensio/expensio/internal/auth"
	"github.com/expensio/expensio/internal/expense"
	"github.com/expensio/expensio/internal/expense/analysis"
	jobmetrics "github.com/expensio/expensio/internal/jobs"
	"github.com/expensio/expensio/internal/platform/db"
	"github.com/expensio/expensio/internal/rbac"
	"github.com/expensio/expensio/internal/shared"
	"github.com/expensio/expensio/internal/vision"
	"github.com/expensio/expensio/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	authService := auth.NewService(auth.NewRepository(pool))
	idempotencyStore := shared.NewIdempotencyStore(pool)
	rbacService := rbac.NewService(pool)

	expenseRepo := expense.NewRepository(pool)
	expenseGuard := expense.NewGuard(expenseRepo)

	visionClient, err := vision.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Error("init vision client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := visionClient.Close(); err != nil {
			logger.Warn("vision close", slog.Any("error", err))
		}
	}()

	orchestrator := analysis.NewOrchestrator(visionClient, expenseRepo, expenseGuard, cfg.DefaultCurrency, logger, nil)

	metrics := jobmetrics.NewMetrics(nil)
	sessionPrune := &jobs.SessionPruneJob{Auth: authService, Logger: logger, Metrics: metrics}
	idempotencyPrune := &jobs.IdempotencyPruneJob{Store: idempotencyStore, Logger: logger, Metrics: metrics}
	reanalyze := &jobs.ReanalyzeJob{Orchestrator: orchestrator, RBAC: rbacService, Logger: logger, Metrics: metrics}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpenseReanalyze, Handler: reanalyze.Handle},
			{Type: jobs.TaskSessionPrune, Handler: sessionPrune.Handle},
			{Type: jobs.TaskIdempotencyPrune, Handler: idempotencyPrune.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: jobs.NewSessionPruneTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: jobs.NewIdempotencyPruneTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tallybook/tallybook/internal/app"
	"github.com/tallybook/tallybook/internal/credit"
	"github.com/tallybook/tallybook/internal/platform/cache"
	"github.com/tallybook/tallybook/internal/platform/db"
	"github.com/tallybook/tallybook/internal/reminders"
	"github.com/tallybook/tallybook/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, summaries uncached", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	creditService := credit.NewService(credit.NewRepository(pool), cache.NewJSONCache(redisClient, cfg.SummaryCacheTTL))
	remindersService := reminders.NewService(logger, reminders.NewRepository(pool))

	sweepTask, err := jobs.NewOverdueSweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	dispatchTask, err := jobs.NewReminderDispatchTask(time.Now().UTC(), 0)
	if err != nil {
		logger.Error("build dispatch task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOverdueSweep, Handler: jobs.HandleOverdueSweep(creditService, logger)},
			{Type: jobs.TaskReminderDispatch, Handler: jobs.HandleReminderDispatch(remindersService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.OverdueSweepSpec, Task: sweepTask},
			{Spec: cfg.ReminderDispatchSpec, Task: dispatchTask},
		},
	})
	if err != nil {
		logger.Error("configure worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

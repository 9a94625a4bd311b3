package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"github.com/warp/vacation-engine/app"
	"github.com/warp/vacation-engine/config"
	"github.com/warp/vacation-engine/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)

	if cfg.RedisAddr == "" {
		logger.Error("worker requires REDIS_ADDR")
		os.Exit(1)
	}

	engine, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("build engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("close engine", slog.Any("error", err))
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("resolve timezone", slog.Any("error", err))
		os.Exit(1)
	}

	reconcileJob := jobs.NewReconcileJob(engine.Reconciler, logger.With("component", "jobs"))
	nightly, err := jobs.NewReconcileAllTask("")
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.ReconcileConcurrency,
		Location:    loc,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconcile, Handler: reconcileJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: nightly, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("reconcile worker starting", slog.String("cron", cfg.ReconcileCron), slog.String("timezone", loc.String()))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker shutdown complete")
}

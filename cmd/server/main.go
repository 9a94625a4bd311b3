/*
main.go - HTTP server entry point

PURPOSE:
  Serves the admin API and the Prometheus endpoint. Without REDIS_ADDR
  the server also runs the batch reconciliation itself on a ticker
  (RECONCILE_INTERVAL). With Redis, cmd/worker owns the schedule.

STARTUP SEQUENCE:
  1. Load configuration from the environment
  2. Build the engine (store, policy, reconciler, metrics)
  3. Start the in-process scheduler when no worker is configured
  4. Serve HTTP until SIGINT/SIGTERM, then drain for 30s

ENVIRONMENT:
  See config/config.go. The common ones:
    APP_ADDR      listen address (default :8080)
    DB_DRIVER     sqlite | postgres | memory
    REDIS_ADDR    enables distributed locks and hands cron to cmd/worker
    POLICY_FILE   YAML accrual policy (default: statutory table)

SEE ALSO:
  - api/server.go: routes
  - cmd/worker: asynq worker
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/vacation-engine/api"
	"github.com/warp/vacation-engine/app"
	"github.com/warp/vacation-engine/config"
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

	handler := api.NewHandler(engine.Store, engine.Reconciler, engine.Policy, logger)
	if cfg.RedisAddr == "" {
		handler.Scheduler = api.NewReconciliationScheduler(engine.Reconciler, cfg.ReconcileInterval, logger)
		handler.Scheduler.Start(ctx)
		defer handler.Scheduler.Stop()
	}

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:      cfg.APIRateLimit,
		Metrics:        promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	logger.Info("server stopped")
}

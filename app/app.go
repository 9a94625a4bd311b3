/*
Package app assembles the engine from configuration.

PURPOSE:
  cmd/server, cmd/worker and cmd/vacationctl all need the same pieces:
  a store for DB_DRIVER, the accrual policy, a reconciler with retries,
  an optional Redis lock and the run log. Build wires them once.

SEE ALSO:
  - config: environment variables
  - vacation/reconcile.go: the reconciler being assembled
*/
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/warp/vacation-engine/config"
	"github.com/warp/vacation-engine/factory"
	"github.com/warp/vacation-engine/lock"
	"github.com/warp/vacation-engine/metrics"
	"github.com/warp/vacation-engine/store/memory"
	"github.com/warp/vacation-engine/store/postgres"
	"github.com/warp/vacation-engine/store/sqlite"
	"github.com/warp/vacation-engine/vacation"
)

// Store is what every adapter under store/ provides.
type Store interface {
	vacation.TxStore
	vacation.RunLog
	SaveEmployee(ctx context.Context, emp vacation.Employee) error
	SaveRequest(ctx context.Context, r vacation.Request) error
	DeleteRequest(ctx context.Context, employeeID vacation.EmployeeID, id vacation.RequestID) error
	Ping(ctx context.Context) error
	Close() error
}

// App is the assembled engine.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      Store
	Policy     vacation.Policy
	Calculator *vacation.CycleCalculator
	Reconciler *vacation.Reconciler
	Metrics    *metrics.Metrics
	Redis      *redis.Client
}

// Options tweak Build for callers that don't want every piece.
type Options struct {
	// Registerer receives the metrics; nil uses the default registry.
	Registerer prometheus.Registerer

	// SkipRedis ignores REDIS_ADDR (the CLI runs without locks).
	SkipRedis bool
}

// Build wires the engine from cfg. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	policy, err := LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	a.Policy = policy
	if a.Calculator, err = vacation.NewCycleCalculator(policy); err != nil {
		return nil, err
	}

	if a.Store, err = OpenStore(ctx, cfg); err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Metrics = metrics.New(opts.Registerer)

	r := vacation.NewReconciler(a.Store, a.Calculator, logger.With("component", "reconciler"))
	r.Runs = a.Store
	r.Observer = a.Metrics
	r.Retry = cfg.RetryPolicy()
	r.Concurrency = cfg.ReconcileConcurrency
	r.Location = loc

	if cfg.RedisAddr != "" && !opts.SkipRedis {
		client, err := lock.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
		r.Locker = lock.NewRedisLocker(client, "", cfg.ReconcileLockTTL)
	}
	a.Reconciler = r

	logger.Info("engine ready",
		"db_driver", cfg.DBDriver,
		"timezone", loc.String(),
		"policy_file", cfg.PolicyFile,
		"distributed_locks", a.Redis != nil,
	)
	return a, nil
}

// Close releases the store and Redis client.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// LoadPolicy reads path, or returns the statutory policy when path is empty.
func LoadPolicy(path string) (vacation.Policy, error) {
	if path == "" {
		return vacation.DefaultPolicy(), nil
	}
	return factory.NewPolicyFactory().LoadFile(path)
}

// OpenStore opens the store selected by DB_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.DBDriver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." && cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("app: create data dir: %w", err)
			}
		}
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("app: unknown DB_DRIVER %q", cfg.DBDriver)
	}
}

/*
scheduler.go - In-process reconciliation scheduler

PURPOSE:
  Runs ReconcileAll on a fixed interval for single-node deployments. When
  several processes share a database, use the asynq worker (cmd/worker)
  instead so the batch runs once per schedule.

DESIGN:
  - One background goroutine driven by a time.Ticker
  - Runs once immediately on Start
  - A run never overlaps the previous one; a tick that fires while a
    batch is still running is dropped
  - Every batch is idempotent, so a missed or doubled tick is harmless

USAGE:
  scheduler := NewReconciliationScheduler(reconciler, 24*time.Hour, logger)
  scheduler.Start(ctx)
  defer scheduler.Stop()

SEE ALSO:
  - jobs/reconcile.go: the distributed equivalent
  - vacation/reconcile.go: ReconcileAll
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/vacation-engine/vacation"
)

// ReconciliationScheduler runs batch reconciliation periodically.
type ReconciliationScheduler struct {
	Reconciler    *vacation.Reconciler
	CheckInterval time.Duration
	Enabled       bool
	Logger        *slog.Logger

	ticker  *time.Ticker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running sync.Mutex

	nextRun    time.Time
	lastReport *vacation.BatchReport
}

// NewReconciliationScheduler creates an enabled scheduler.
func NewReconciliationScheduler(reconciler *vacation.Reconciler, interval time.Duration, logger *slog.Logger) *ReconciliationScheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationScheduler{
		Reconciler:    reconciler,
		CheckInterval: interval,
		Enabled:       true,
		Logger:        logger.With("component", "scheduler"),
	}
}

// Start begins the scheduler. It stops when ctx is cancelled or Stop is
// called.
func (rs *ReconciliationScheduler) Start(ctx context.Context) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, rs.cancel = context.WithCancel(ctx)
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.nextRun = time.Now().Add(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run(ctx)

	rs.Logger.Info("scheduler started", "interval", rs.CheckInterval.String())
}

// Stop stops the scheduler and waits for a running batch to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	if rs.ticker == nil {
		rs.mu.Unlock()
		return
	}
	rs.ticker.Stop()
	rs.cancel()
	rs.ticker = nil
	rs.mu.Unlock()

	rs.wg.Wait()
	rs.Logger.Info("scheduler stopped")
}

func (rs *ReconciliationScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	rs.RunNow(ctx)

	rs.mu.Lock()
	ticker := rs.ticker
	rs.mu.Unlock()
	if ticker == nil {
		return
	}

	for {
		select {
		case <-ticker.C:
			rs.mu.Lock()
			rs.nextRun = time.Now().Add(rs.CheckInterval)
			rs.mu.Unlock()
			rs.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow runs one batch unless another is in progress, in which case it
// returns nil immediately.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) *vacation.BatchReport {
	if !rs.running.TryLock() {
		rs.Logger.Warn("previous batch still running, skipping tick")
		return nil
	}
	defer rs.running.Unlock()

	report, err := rs.Reconciler.ReconcileAll(ctx, vacation.Options{})
	if err != nil {
		rs.Logger.Error("scheduled reconciliation failed", slog.Any("error", err))
		return nil
	}

	rs.mu.Lock()
	rs.lastReport = report
	rs.mu.Unlock()
	return report
}

// NextRunTime returns when the next tick is due; zero when stopped.
func (rs *ReconciliationScheduler) NextRunTime() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.ticker == nil {
		return time.Time{}
	}
	return rs.nextRun
}

// Status renders the scheduler state for the API.
func (rs *ReconciliationScheduler) Status() SchedulerStatusDTO {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	dto := SchedulerStatusDTO{Enabled: rs.Enabled, Interval: rs.CheckInterval.String()}
	if rs.ticker != nil {
		next := rs.nextRun
		dto.NextRunAt = &next
	}
	if rs.lastReport != nil {
		last := toBatchDTO(rs.lastReport)
		dto.LastRun = &last
	}
	return dto
}

/*
reconcile.go - Reconciliation of stored cycles against source data

PURPOSE:
  The only code path that writes cycles. For one employee (or all active
  employees) it loads the stored cycles and approved requests, makes sure
  every due cycle exists with the canonical entitlement, recomputes usage
  with Allocate, and persists only the cycles whose values changed.

PASS (one employee, one transaction):
  1. Capture the reference date once (per batch for ReconcileAll).
  2. WithEmployeeTx: load employee, cycles, approved requests.
  3. CycleCalculator.DueCycles -> create missing cycles, correct stored
     cycles whose grant drifted from the canonical table.
  4. Allocate -> target days_used / days_available for every cycle.
  5. Diff and Upsert changed cycles (version-checked).

RESET MODE:
  Usage is recomputed from requests every time, so orphaned deductions
  left behind by cancelled or deleted requests are cleared naturally. When
  that happens (no in-range requests but stored usage on active cycles)
  the result is flagged OrphanedUsageCleared. ResetEmployee goes further:
  it deletes all cycles and regenerates them in the same transaction.

FAILURES:
  - InvalidHireDate: employee skipped, reported
  - AllocationOverflow: warning on the result, pass still completes
  - StoreUnavailable: whole pass retried with exponential backoff
  - ConcurrentModification: whole pass recomputed from a fresh read
  Batch runs never abort on one employee's failure.

SEE ALSO:
  - allocation.go: the pure allocation step
  - store.go: transaction and locking contract
  - api/scheduler.go, jobs/reconcile.go: callers
*/
package vacation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/warp/vacation-engine/generic"
)

// DefaultConcurrency is the batch fan-out when none is configured.
const DefaultConcurrency = 4

// =============================================================================
// RESULTS
// =============================================================================

// Options tune a single reconciliation call.
type Options struct {
	// ReferenceDate overrides "today". Zero means use the clock.
	ReferenceDate generic.Date

	// DryRun computes the changes without writing them.
	DryRun bool
}

// CycleChange is a stored cycle before and after reconciliation.
type CycleChange struct {
	Before Cycle
	After  Cycle
}

// Result describes one employee pass.
type Result struct {
	EmployeeID    EmployeeID
	ReferenceDate generic.Date
	DryRun        bool

	Created   []Cycle
	Updated   []CycleChange
	Unchanged int
	Deleted   int

	// StrayCycles are stored cycles with no matching anniversary (for
	// example after a hire date correction). They are left in place.
	StrayCycles []Cycle

	Allocation           *Allocation
	Warnings             []error
	OrphanedUsageCleared bool
	Attempts             int
}

// Writes returns the number of cycle writes the pass made (or would make).
func (r *Result) Writes() int {
	if r == nil {
		return 0
	}
	return len(r.Created) + len(r.Updated)
}

// Overflow returns the allocation overflow warning, if any.
func (r *Result) Overflow() *AllocationOverflowError {
	if r == nil || r.Allocation == nil {
		return nil
	}
	return r.Allocation.Overflow
}

// EmployeeFailure pairs an employee with the error that stopped its pass.
type EmployeeFailure struct {
	EmployeeID EmployeeID
	Err        error
}

// BatchReport accumulates a ReconcileAll run.
type BatchReport struct {
	ReferenceDate generic.Date
	Results       []*Result
	Failures      []EmployeeFailure
	Skipped       []EmployeeFailure // invalid hire dates
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Writes sums cycle writes across the batch.
func (b *BatchReport) Writes() int {
	n := 0
	for _, r := range b.Results {
		n += r.Writes()
	}
	return n
}

// Warnings returns every warning raised in the batch.
func (b *BatchReport) Warnings() []error {
	var out []error
	for _, r := range b.Results {
		out = append(out, r.Warnings...)
	}
	return out
}

// Observer receives one callback per employee pass. The metrics package
// implements it with Prometheus collectors. res is nil when the pass
// failed, since nothing it planned was persisted.
type Observer interface {
	ObservePass(outcome string, duration time.Duration, res *Result)
}

// Pass outcomes reported to the Observer and recorded in the run log.
const (
	OutcomeSuccess = "success"
	OutcomeWarning = "warning"
	OutcomeSkipped = "skipped"
	OutcomeFailure = "failure"
)

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler orchestrates reconciliation passes.
type Reconciler struct {
	Store      TxStore
	Calculator *CycleCalculator
	Logger     *slog.Logger

	// Optional collaborators.
	Locker   Locker
	Runs     RunLog
	Observer Observer

	Retry       generic.RetryPolicy
	Concurrency int

	// Location is the time zone in which "today" is evaluated.
	Location *time.Location

	now func() time.Time
}

// NewReconciler wires a reconciler with default retry and concurrency.
func NewReconciler(store TxStore, calc *CycleCalculator, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		Store:       store,
		Calculator:  calc,
		Logger:      logger,
		Retry:       generic.DefaultRetryPolicy(),
		Concurrency: DefaultConcurrency,
		Location:    time.UTC,
		now:         time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (r *Reconciler) WithNow(fn func() time.Time) *Reconciler {
	r.now = fn
	return r
}

// Today returns the reference date the reconciler would use right now.
func (r *Reconciler) Today() generic.Date {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	return generic.DateOf(r.clock().In(loc))
}

func (r *Reconciler) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Reconciler) referenceDate(opts Options) generic.Date {
	if !opts.ReferenceDate.IsZero() {
		return opts.ReferenceDate
	}
	return r.Today()
}

// Plan computes what ReconcileEmployee would change, without writing.
func (r *Reconciler) Plan(ctx context.Context, id EmployeeID, opts Options) (*Result, error) {
	opts.DryRun = true
	return r.ReconcileEmployee(ctx, id, opts)
}

// ReconcileEmployee runs one pass for one employee.
func (r *Reconciler) ReconcileEmployee(ctx context.Context, id EmployeeID, opts Options) (*Result, error) {
	return r.run(ctx, id, r.referenceDate(opts), opts, false)
}

// ResetEmployee deletes every cycle of the employee and regenerates them
// from scratch in the same transaction. Administrative repair only.
func (r *Reconciler) ResetEmployee(ctx context.Context, id EmployeeID, opts Options) (*Result, error) {
	return r.run(ctx, id, r.referenceDate(opts), opts, true)
}

// ReconcileAll reconciles every active employee with a shared reference
// date. Employees are processed concurrently; failures are collected in
// the report and never stop the batch. The returned error is only set
// when the employee list itself can't be loaded.
func (r *Reconciler) ReconcileAll(ctx context.Context, opts Options) (*BatchReport, error) {
	ref := r.referenceDate(opts)
	opts.ReferenceDate = ref
	report := &BatchReport{ReferenceDate: ref, StartedAt: r.clock()}

	var employees []Employee
	err := r.Retry.Do(ctx, func(int) error {
		var err error
		employees, err = r.Store.ListEmployees(ctx, true)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile all: list employees: %w", err)
	}

	limit := r.Concurrency
	if limit < 1 {
		limit = DefaultConcurrency
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(limit)

	for _, emp := range employees {
		emp := emp
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				report.Failures = append(report.Failures, EmployeeFailure{EmployeeID: emp.ID, Err: err})
				mu.Unlock()
				return nil
			}

			res, err := r.run(ctx, emp.ID, ref, opts, false)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrInvalidHireDate):
				report.Skipped = append(report.Skipped, EmployeeFailure{EmployeeID: emp.ID, Err: err})
			case err != nil:
				report.Failures = append(report.Failures, EmployeeFailure{EmployeeID: emp.ID, Err: err})
			default:
				report.Results = append(report.Results, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.CompletedAt = r.clock()
	r.Logger.Info("reconciliation batch completed",
		"reference_date", ref.String(),
		"employees", len(employees),
		"reconciled", len(report.Results),
		"skipped", len(report.Skipped),
		"failed", len(report.Failures),
		"writes", report.Writes(),
		"dry_run", opts.DryRun,
	)
	return report, nil
}

// run wraps one employee pass with locking, retries, logging, run
// recording and observation.
func (r *Reconciler) run(ctx context.Context, id EmployeeID, ref generic.Date, opts Options, reset bool) (*Result, error) {
	started := r.clock()
	logger := r.Logger.With("employee_id", string(id), "reference_date", ref.String())

	var res *Result
	err := r.Retry.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			logger.Warn("retrying reconciliation pass", "attempt", attempt+1)
		}
		var err error
		res, err = r.lockedPass(ctx, id, ref, opts.DryRun, reset)
		if res != nil {
			res.Attempts = attempt + 1
		}
		return err
	})

	outcome := OutcomeSuccess
	switch {
	case errors.Is(err, ErrInvalidHireDate):
		outcome = OutcomeSkipped
		logger.Warn("skipping employee", slog.Any("error", err))
	case err != nil:
		outcome = OutcomeFailure
		logger.Error("reconciliation failed", slog.Any("error", err))
	case len(res.Warnings) > 0:
		outcome = OutcomeWarning
		for _, w := range res.Warnings {
			var overflow *AllocationOverflowError
			if errors.As(w, &overflow) {
				logger.Warn("approved days exceed active entitlement",
					"total_requested", overflow.TotalRequested,
					"total_available", overflow.TotalAvailable)
				continue
			}
			logger.Warn("reconciliation warning", slog.Any("warning", w))
		}
	}
	if err == nil {
		if res.OrphanedUsageCleared {
			logger.Info("cleared orphaned usage with no approved requests in range")
		}
		if len(res.StrayCycles) > 0 {
			logger.Warn("stored cycles do not match any anniversary", "count", len(res.StrayCycles))
		}
		logger.Info("reconciled employee",
			"created", len(res.Created),
			"updated", len(res.Updated),
			"unchanged", res.Unchanged,
			"deleted", res.Deleted,
			"attempts", res.Attempts,
			"dry_run", opts.DryRun,
		)
	}

	r.recordRun(ctx, id, ref, opts.DryRun, outcome, started, res, err)
	if r.Observer != nil {
		observed := res
		if err != nil {
			observed = nil
		}
		r.Observer.ObservePass(outcome, r.clock().Sub(started), observed)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Reconciler) lockedPass(ctx context.Context, id EmployeeID, ref generic.Date, dryRun, reset bool) (*Result, error) {
	if r.Locker != nil && !dryRun {
		release, err := r.Locker.Acquire(ctx, id)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.Logger.Warn("release employee lock", "employee_id", string(id), slog.Any("error", err))
			}
		}()
	}
	return r.pass(ctx, id, ref, dryRun, reset)
}

// pass is one read-compute-write sequence inside an employee transaction.
func (r *Reconciler) pass(ctx context.Context, id EmployeeID, ref generic.Date, dryRun, reset bool) (*Result, error) {
	var res *Result
	err := r.Store.WithEmployeeTx(ctx, id, func(s Store) error {
		emp, err := s.GetEmployee(ctx, id)
		if err != nil {
			return err
		}
		due, err := r.Calculator.DueCycles(emp, ref)
		if err != nil {
			return err
		}

		deleted := 0
		var stored []Cycle
		if reset {
			if !dryRun {
				if deleted, err = s.DeleteAllForEmployee(ctx, id); err != nil {
					return err
				}
			} else if stored, err = s.ListByEmployee(ctx, id); err == nil {
				deleted, stored = len(stored), nil
			}
		} else {
			stored, err = s.ListByEmployee(ctx, id)
		}
		if err != nil {
			return err
		}

		requests, err := s.ListApprovedByEmployee(ctx, id)
		if err != nil {
			return err
		}

		res = PlanEmployee(emp, due, stored, requests, ref)
		res.Deleted = deleted
		res.DryRun = dryRun
		if dryRun {
			return nil
		}
		return applyResult(ctx, s, res)
	})
	return res, err
}

func applyResult(ctx context.Context, s Store, res *Result) error {
	for i, c := range res.Created {
		saved, err := s.Upsert(ctx, c)
		if err != nil {
			return fmt.Errorf("create cycle %s: %w", c.Key(), err)
		}
		res.Created[i] = saved
	}
	for i, ch := range res.Updated {
		saved, err := s.Upsert(ctx, ch.After)
		if err != nil {
			return fmt.Errorf("update cycle %s: %w", ch.After.Key(), err)
		}
		res.Updated[i].After = saved
	}
	return nil
}

// PlanEmployee is the pure core of a pass: given due descriptors, stored
// cycles and requests it decides which cycles to create and which to
// update. It never touches storage.
func PlanEmployee(emp Employee, due []CycleDescriptor, stored []Cycle, requests []Request, ref generic.Date) *Result {
	res := &Result{EmployeeID: emp.ID, ReferenceDate: ref}

	byStart := make(map[string]Cycle, len(stored))
	for _, c := range stored {
		byStart[c.StartDate.String()] = c
	}

	type slot struct {
		cycle    Cycle
		original Cycle
		isNew    bool
	}
	var working []slot
	matched := make(map[string]bool, len(due))

	for _, d := range due {
		key := d.StartDate.String()
		if c, ok := byStart[key]; ok {
			matched[key] = true
			fixed := c
			if !d.Matches(c) {
				fixed.EndDate = d.EndDate
				fixed.YearsOfService = d.YearsOfService
				fixed.DaysEarned = d.DaysEarned
			}
			working = append(working, slot{cycle: fixed, original: c})
			continue
		}
		working = append(working, slot{cycle: d.NewCycle(emp.ID), isNew: true})
	}
	for _, c := range stored {
		if !matched[c.StartDate.String()] {
			res.StrayCycles = append(res.StrayCycles, c)
			working = append(working, slot{cycle: c, original: c})
		}
	}

	cycles := make([]Cycle, len(working))
	for i, s := range working {
		cycles[i] = s.cycle
	}
	alloc := Allocate(emp.ID, cycles, requests, ref)
	res.Allocation = alloc
	if alloc.Overflow != nil {
		res.Warnings = append(res.Warnings, alloc.Overflow)
	}

	hadActiveUsage := false
	for _, s := range working {
		target := alloc.Apply(s.cycle)
		if s.isNew {
			res.Created = append(res.Created, target)
			continue
		}
		if !s.original.ExpiredAt(ref) && s.original.DaysUsed > 0 {
			hadActiveUsage = true
		}
		if sameBalance(s.original, target) {
			res.Unchanged++
			continue
		}
		res.Updated = append(res.Updated, CycleChange{Before: s.original, After: target})
	}
	res.OrphanedUsageCleared = hadActiveUsage && len(alloc.InRange) == 0

	return res
}

func sameBalance(a, b Cycle) bool {
	return a.EndDate.Equal(b.EndDate) &&
		a.YearsOfService == b.YearsOfService &&
		a.DaysEarned == b.DaysEarned &&
		a.DaysUsed == b.DaysUsed &&
		a.DaysAvailable == b.DaysAvailable &&
		a.IsExpired == b.IsExpired
}

func (r *Reconciler) recordRun(ctx context.Context, id EmployeeID, ref generic.Date, dryRun bool, outcome string, started time.Time, res *Result, err error) {
	if r.Runs == nil {
		return
	}
	run := Run{
		ID:            uuid.NewString(),
		EmployeeID:    id,
		ReferenceDate: ref,
		DryRun:        dryRun,
		StartedAt:     started.UTC(),
		CompletedAt:   r.clock().UTC(),
	}
	switch outcome {
	case OutcomeFailure:
		run.Status = RunFailed
	case OutcomeSkipped:
		run.Status = RunSkipped
	default:
		run.Status = RunCompleted
	}
	if err != nil {
		run.Error = err.Error()
	}
	if res != nil && err == nil {
		run.CyclesCreated = len(res.Created)
		run.CyclesUpdated = len(res.Updated)
		if len(res.Warnings) > 0 {
			run.Warning = errors.Join(res.Warnings...).Error()
		}
	}
	if saveErr := r.Runs.SaveRun(context.WithoutCancel(ctx), run); saveErr != nil {
		r.Logger.Warn("save reconciliation run", "employee_id", string(id), slog.Any("error", saveErr))
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/warp/vacation-engine/generic"
	"github.com/warp/vacation-engine/vacation"
)

// Reconciler is the part of vacation.Reconciler the job drives.
type Reconciler interface {
	ReconcileEmployee(ctx context.Context, id vacation.EmployeeID, opts vacation.Options) (*vacation.Result, error)
	ResetEmployee(ctx context.Context, id vacation.EmployeeID, opts vacation.Options) (*vacation.Result, error)
	ReconcileAll(ctx context.Context, opts vacation.Options) (*vacation.BatchReport, error)
}

// ReconcileJob handles TaskReconcile.
type ReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	clock      func() time.Time
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(reconciler Reconciler, logger *slog.Logger) *ReconcileJob {
	return &ReconcileJob{
		Reconciler: reconciler,
		Logger:     logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reconcile task.
//
// Malformed payloads, unknown employees and invalid hire dates skip
// asynq's retries since running again can't fix them. A batch with failed
// employees returns an error so asynq retries it; passes are idempotent,
// so employees that already succeeded write nothing the second time.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("reconcile job: dependencies not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("reconcile job: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.validate(); err != nil {
		return fmt.Errorf("reconcile job: %v: %w", err, asynq.SkipRetry)
	}
	opts := vacation.Options{DryRun: payload.DryRun}
	if payload.AsOf != "" {
		opts.ReferenceDate = generic.MustParseDate(payload.AsOf)
	}

	start := j.now()
	if payload.All {
		return j.handleAll(ctx, opts, start)
	}

	id := vacation.EmployeeID(payload.EmployeeID)
	var (
		res *vacation.Result
		err error
	)
	if payload.Reset {
		res, err = j.Reconciler.ResetEmployee(ctx, id, opts)
	} else {
		res, err = j.Reconciler.ReconcileEmployee(ctx, id, opts)
	}
	if err != nil {
		if generic.IsNotFound(err) || errors.Is(err, vacation.ErrInvalidHireDate) {
			j.log().Warn("reconcile task dropped", slog.String("employee_id", string(id)), slog.Any("error", err))
			return fmt.Errorf("reconcile job: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("reconcile job: %w", err)
	}
	j.log().Info("reconcile task completed",
		slog.String("employee_id", string(id)),
		slog.Int("writes", res.Writes()),
		slog.Bool("reset", payload.Reset),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return nil
}

func (j *ReconcileJob) handleAll(ctx context.Context, opts vacation.Options, start time.Time) error {
	report, err := j.Reconciler.ReconcileAll(ctx, opts)
	if err != nil {
		return fmt.Errorf("reconcile job: %w", err)
	}
	j.log().Info("reconcile batch task completed",
		slog.String("reference_date", report.ReferenceDate.String()),
		slog.Int("reconciled", len(report.Results)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("failed", len(report.Failures)),
		slog.Duration("duration", j.now().Sub(start)),
	)
	if len(report.Failures) > 0 {
		return fmt.Errorf("reconcile job: %d employees failed, first: %s: %w",
			len(report.Failures), report.Failures[0].EmployeeID, report.Failures[0].Err)
	}
	return nil
}

func (j *ReconcileJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *ReconcileJob) log() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

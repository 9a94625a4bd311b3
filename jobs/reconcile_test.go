package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vacation-engine/generic"
	"github.com/warp/vacation-engine/jobs"
	"github.com/warp/vacation-engine/store/memory"
	"github.com/warp/vacation-engine/vacation"
)

func newJob(t *testing.T) (*jobs.ReconcileJob, *memory.Memory) {
	t.Helper()
	calc, err := vacation.NewCycleCalculator(vacation.DefaultPolicy())
	require.NoError(t, err)
	store := memory.New()
	rec := vacation.NewReconciler(store, calc, nil)
	rec.Runs = store
	rec.Retry = generic.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	rec.WithNow(func() time.Time { return time.Date(2024, 10, 16, 12, 0, 0, 0, time.UTC) })
	return jobs.NewReconcileJob(rec, nil), store
}

func seed(t *testing.T, store *memory.Memory, emps ...vacation.Employee) {
	t.Helper()
	for _, e := range emps {
		require.NoError(t, store.SaveEmployee(context.Background(), e))
	}
}

func TestNewReconcileTask(t *testing.T) {
	task, err := jobs.NewReconcileAllTask("2024-10-16")
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskReconcile, task.Type())

	var payload jobs.ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.True(t, payload.All)
	assert.Empty(t, payload.EmployeeID)
	assert.Equal(t, "2024-10-16", payload.AsOf)

	_, err = jobs.NewReconcileTask("emp-1", "16/10/2024")
	assert.Error(t, err)

	tests := []struct {
		name    string
		payload jobs.ReconcilePayload
	}{
		{"no employee", jobs.ReconcilePayload{}},
		{"batch with employee", jobs.ReconcilePayload{All: true, EmployeeID: "emp-1"}},
		{"batch reset", jobs.ReconcilePayload{All: true, Reset: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := jobs.NewReconcileTaskWithPayload(tt.payload)
			assert.Error(t, err)
		})
	}
}

func TestReconcileJob_SingleEmployee(t *testing.T) {
	job, store := newJob(t)
	seed(t, store, vacation.Employee{ID: "emp-1", HireDate: generic.MustParseDate("2020-01-01"), IsActive: true})

	task, err := jobs.NewReconcileTask("emp-1", "")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	cycles, err := store.ListByEmployee(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Len(t, cycles, 5, "clock pinned to 2024-10-16")
}

func TestReconcileJob_AllEmployees(t *testing.T) {
	job, store := newJob(t)
	seed(t, store,
		vacation.Employee{ID: "emp-1", HireDate: generic.MustParseDate("2020-01-01"), IsActive: true},
		vacation.Employee{ID: "emp-2", HireDate: generic.MustParseDate("2023-03-01"), IsActive: true},
		vacation.Employee{ID: "emp-3", IsActive: true}, // no hire date, skipped
	)

	task, err := jobs.NewReconcileAllTask("2024-10-16")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	runs, err := store.ListRuns(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestReconcileJob_EmployeeNamedAllIsNotABatch(t *testing.T) {
	job, store := newJob(t)
	seed(t, store,
		vacation.Employee{ID: "all", HireDate: generic.MustParseDate("2020-01-01"), IsActive: true},
		vacation.Employee{ID: "emp-2", HireDate: generic.MustParseDate("2023-03-01"), IsActive: true},
	)

	task, err := jobs.NewReconcileTask("all", "")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	runs, err := store.ListRuns(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, vacation.EmployeeID("all"), runs[0].EmployeeID)
}

func TestReconcileJob_BatchFailureIsRetried(t *testing.T) {
	job, store := newJob(t)
	seed(t, store, vacation.Employee{ID: "emp-1", HireDate: generic.MustParseDate("2020-01-01"), IsActive: true})
	store.InjectFault(func(op string) error {
		if op == "list_requests" {
			return generic.Unavailable(op, errors.New("connection reset"))
		}
		return nil
	})

	task, err := jobs.NewReconcileAllTask("")
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.True(t, generic.IsTransient(err))
}

func TestReconcileJob_SkipsRetryForPermanentErrors(t *testing.T) {
	job, store := newJob(t)
	seed(t, store, vacation.Employee{ID: "emp-late", HireDate: generic.MustParseDate("2030-01-01"), IsActive: true})

	tests := []struct {
		name string
		task *asynq.Task
	}{
		{"malformed payload", asynq.NewTask(jobs.TaskReconcile, []byte("{"))},
		{"bad date", asynq.NewTask(jobs.TaskReconcile, []byte(`{"employee_id":"emp-late","as_of":"soon"}`))},
		{"no scope", asynq.NewTask(jobs.TaskReconcile, []byte(`{}`))},
		{"unknown employee", asynq.NewTask(jobs.TaskReconcile, []byte(`{"employee_id":"ghost"}`))},
		{"future hire date", asynq.NewTask(jobs.TaskReconcile, []byte(`{"employee_id":"emp-late"}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := job.Handle(context.Background(), tt.task)
			require.Error(t, err)
			assert.True(t, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestReconcileJob_Reset(t *testing.T) {
	job, store := newJob(t)
	ctx := context.Background()
	seed(t, store, vacation.Employee{ID: "emp-1", HireDate: generic.MustParseDate("2022-01-15"), IsActive: true})

	// GIVEN a stored cycle that doesn't match any anniversary
	_, err := store.Upsert(ctx, vacation.Cycle{
		EmployeeID: "emp-1",
		StartDate:  generic.MustParseDate("2022-02-01"),
		EndDate:    generic.MustParseDate("2023-08-01"),
		DaysEarned: 12, DaysAvailable: 12, YearsOfService: 1,
	})
	require.NoError(t, err)

	// WHEN the employee is reset
	task, err := jobs.NewReconcileTaskWithPayload(jobs.ReconcilePayload{EmployeeID: "emp-1", Reset: true})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	// THEN only anniversary cycles remain
	cycles, err := store.ListByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.NotEmpty(t, cycles)
	for _, c := range cycles {
		assert.Equal(t, 15, c.StartDate.Day())
	}
}

func TestReconcileJob_NotConfigured(t *testing.T) {
	var job *jobs.ReconcileJob
	task, err := jobs.NewReconcileTask("emp-1", "")
	require.NoError(t, err)
	assert.Error(t, job.Handle(context.Background(), task))
}

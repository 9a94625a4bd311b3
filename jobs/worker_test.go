package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vacation-engine/jobs"
)

func TestNewWorker_RegistersCron(t *testing.T) {
	mr := miniredis.RunT(t)
	task, err := jobs.NewReconcileAllTask("")
	require.NoError(t, err)

	loc, err := time.LoadLocation("UTC")
	require.NoError(t, err)

	w, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		Location:  loc,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconcile, Handler: func(context.Context, *asynq.Task) error { return nil }},
		},
		Cron: []jobs.CronRegistration{{Spec: "5 0 * * *", Task: task}},
	})
	require.NoError(t, err)
	assert.NotNil(t, w)
}

func TestNewWorker_RejectsBadCron(t *testing.T) {
	mr := miniredis.RunT(t)
	task, err := jobs.NewReconcileAllTask("")
	require.NoError(t, err)

	_, err = jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		Cron:      []jobs.CronRegistration{{Spec: "every full moon", Task: task}},
	})
	assert.Error(t, err)
}

package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerStatus_Disabled(t *testing.T) {
	s := newTestServer(t)

	status := decodeBody[SchedulerStatusDTO](t, s.do(t, http.MethodGet, "/api/reconciliation/status", nil))
	assert.False(t, status.Enabled)
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestServer(t)
	s.hire(t, "emp-1", "2020-01-01")

	sched := NewReconciliationScheduler(s.handler.Reconciler, time.Hour, nil)
	s.handler.Scheduler = sched

	report := sched.RunNow(context.Background())
	require.NotNil(t, report)
	assert.Len(t, report.Results, 1)
	assert.True(t, sched.NextRunTime().IsZero(), "not started")

	status := decodeBody[SchedulerStatusDTO](t, s.do(t, http.MethodGet, "/api/reconciliation/status", nil))
	assert.True(t, status.Enabled)
	assert.Equal(t, "1h0m0s", status.Interval)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, 5, status.LastRun.Writes)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestServer(t)
	s.hire(t, "emp-1", "2020-01-01")

	sched := NewReconciliationScheduler(s.handler.Reconciler, time.Hour, nil)
	sched.Start(context.Background())
	assert.False(t, sched.NextRunTime().IsZero())

	// The first batch runs right away.
	require.Eventually(t, func() bool { return sched.Status().LastRun != nil }, 5*time.Second, 10*time.Millisecond)

	sched.Stop()
	assert.True(t, sched.NextRunTime().IsZero())
	sched.Stop()
}

func TestScheduler_Disabled(t *testing.T) {
	s := newTestServer(t)

	sched := NewReconciliationScheduler(s.handler.Reconciler, 0, nil)
	sched.Enabled = false
	sched.Start(context.Background())
	assert.True(t, sched.NextRunTime().IsZero())
	assert.Equal(t, "24h0m0s", sched.Status().Interval)
}

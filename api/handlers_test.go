/*
handlers_test.go - HTTP tests for the admin API

Tests for:
- Reconcile, preview and reset endpoints on a memory store
- Reference date handling (?as_of, body, clock)
- Error mapping (400, 404, 422)
- Read views: cycles with state, balance summary, run log
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vacation-engine/generic"
	"github.com/warp/vacation-engine/store/memory"
	"github.com/warp/vacation-engine/vacation"
)

type testServer struct {
	store   *memory.Memory
	handler *Handler
	router  *chi.Mux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	calc, err := vacation.NewCycleCalculator(vacation.DefaultPolicy())
	require.NoError(t, err)

	store := memory.New()
	rec := vacation.NewReconciler(store, calc, logger)
	rec.Runs = store
	rec.Retry = generic.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	rec.WithNow(func() time.Time { return time.Date(2024, 10, 16, 9, 0, 0, 0, time.UTC) })

	h := NewHandler(store, rec, vacation.DefaultPolicy(), logger)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	return &testServer{
		store:   store,
		handler: h,
		router:  NewRouter(h, RouterOptions{RateLimit: 1000, Metrics: metrics}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) hire(t *testing.T, id, hireDate string) {
	t.Helper()
	rec := s.do(t, http.MethodPut, "/api/employees/"+id, UpsertEmployeeRequest{Name: id, HireDate: hireDate})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", nil).Code)
}

func TestGetSchedule(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	dto := decodeBody[ScheduleDTO](t, rec)
	assert.Equal(t, 18, dto.ValidityMonths)
	assert.Equal(t, 6, dto.PreCreationMonths)
	require.NotEmpty(t, dto.Tiers)
	assert.Equal(t, TierDTO{FromYear: 1, Days: 12}, dto.Tiers[0])
}

func TestEmployees(t *testing.T) {
	s := newTestServer(t)
	s.hire(t, "emp-1", "2020-01-01")

	inactive := false
	rec := s.do(t, http.MethodPut, "/api/employees/emp-2", UpsertEmployeeRequest{Name: "Gone", HireDate: "2019-03-01", IsActive: &inactive})
	require.Equal(t, http.StatusOK, rec.Code)

	all := decodeBody[[]EmployeeDTO](t, s.do(t, http.MethodGet, "/api/employees", nil))
	assert.Len(t, all, 2)

	active := decodeBody[[]EmployeeDTO](t, s.do(t, http.MethodGet, "/api/employees?active=true", nil))
	require.Len(t, active, 1)
	assert.Equal(t, "emp-1", active[0].ID)

	emp := decodeBody[EmployeeDTO](t, s.do(t, http.MethodGet, "/api/employees/emp-1", nil))
	assert.Equal(t, "2020-01-01", emp.HireDate)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/employees/ghost", nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPut, "/api/employees/emp-3", UpsertEmployeeRequest{HireDate: "01/02/2020"}).Code)
}

func TestReconcileEmployee_CreatesThenIdempotent(t *testing.T) {
	s := newTestServer(t)
	s.hire(t, "emp-1", "2020-01-01")

	// WHEN reconciled on 2024-10-16
	rec := s.do(t, http.MethodPost, "/api/employees/emp-1/reconcile", ReconcileRequest{AsOf: "2024-10-16"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN five cycles exist, the fifth pre-created
	first := decodeBody[ReconcileResultDTO](t, rec)
	assert.Equal(t, "2024-10-16", first.ReferenceDate)
	require.Len(t, first.Created, 5)
	assert.Equal(t, "2021-01-01", first.Created[0].StartDate)
	assert.Equal(t, "2022-07-01", first.Created[0].EndDate)
	assert.True(t, first.Created[0].IsExpired)
	assert.Equal(t, 20, first.Created[4].DaysEarned)

	// AND a second pass changes nothing
	second := decodeBody[ReconcileResultDTO](t, s.do(t, http.MethodPost, "/api/employees/emp-1/reconcile?as_of=2024-10-16", nil))
	assert.Empty(t, second.Created)
	assert.Empty(t, second.Updated)
	assert.Equal(t, 5, second.Unchanged)
}

func TestReconcileEmployee_DefaultsToClock(t *testing.T) {
	s := newTestServer(t)
	s.hire(t, "emp-1", "2020-01-01")

	res := decodeBody[ReconcileResultDTO](t, s.do(t, http.MethodPost, "/api/employees/emp-1/reconcile", nil))
	assert.Equal(t, "2024-10-16", res.ReferenceDate)
}

func TestPreview_DoesNotWrite(t *testing.T) {
	s := newTestServer(t)
	s.hire(t, "emp-1", "2020-01-01")

	res := decodeBody[ReconcileResultDTO](t, s.do(t, http.MethodGet, "/api/employees/emp-1/preview?as_of=2024-10-16", nil))
	assert.True(t, res.DryRun)
	assert.Len(t, res.Created, 5)

	cycles := decodeBody[[]CycleDTO](t, s.do(t, http.MethodGet, "/api/employees/emp-1/cycles", nil))
	assert.Empty(t, cycles)

	dry := decodeBody[ReconcileResultDTO](t, s.do(t, http.MethodPost, "/api/employees/emp-1/reconcile?dry_run=true", nil))
	assert.True(t, dry.DryRun)
	cycles = decodeBody[[]CycleDTO](t, s.do(t, http.MethodGet, "/api/employees/emp-1/cycles", nil))
	assert.Empty(t, cycles)
}

func TestReconcileEmployee_Errors(t *testing.T) {
	s := newTestServer(t)
	s.hire(t, "emp-nohire", "")
	s.hire(t, "emp-1", "2020-01-01")

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"unknown employee", "/api/employees/ghost/reconcile", nil, http.StatusNotFound},
		{"missing hire date", "/api/employees/emp-nohire/reconcile", nil, http.StatusUnprocessableEntity},
		{"hire date after reference", "/api/employees/emp-1/reconcile?as_of=2019-06-01", nil, http.StatusUnprocessableEntity},
		{"malformed query date", "/api/employees/emp-1/reconcile?as_of=tomorrow", nil, http.StatusBadRequest},
		{"malformed body date", "/api/employees/emp-1/reconcile", ReconcileRequest{AsOf: "2024-13-01"}, http.StatusBadRequest},
		{"malformed json", "/api/employees/emp-1/reconcile", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestResetEmployee(t *testing.T) {
	s := newTestServer(t)
	s.hire(t, "emp-1", "2020-01-01")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/employees/emp-1/reconcile", nil).Code)

	res := decodeBody[ReconcileResultDTO](t, s.do(t, http.MethodPost, "/api/employees/emp-1/reset", nil))
	assert.Equal(t, 5, res.Deleted)
	assert.Len(t, res.Created, 5)

	cycles := decodeBody[[]CycleDTO](t, s.do(t, http.MethodGet, "/api/employees/emp-1/cycles", nil))
	assert.Len(t, cycles, 5)
}

func TestGetCycles_States(t *testing.T) {
	s := newTestServer(t)
	s.hire(t, "emp-1", "2020-01-01")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/employees/emp-1/reconcile", nil).Code)

	cycles := decodeBody[[]CycleDTO](t, s.do(t, http.MethodGet, "/api/employees/emp-1/cycles", nil))
	require.Len(t, cycles, 5)

	states := make([]string, 0, len(cycles))
	for _, c := range cycles {
		states = append(states, c.State)
	}
	assert.Equal(t, []string{"expired", "expired", "expired", "active", "pre_creation"}, states)

	// Evaluated on a later date the 2024 cycle has expired too.
	later := decodeBody[[]CycleDTO](t, s.do(t, http.MethodGet, "/api/employees/emp-1/cycles?as_of=2025-07-02", nil))
	assert.Equal(t, "expired", later[3].State)
	assert.Equal(t, "active", later[4].State)
}

func TestRequests_DriveBalance(t *testing.T) {
	s := newTestServer(t)
	s.hire(t, "emp-1", "2022-06-01")

	// GIVEN an approved 15 day request
	rec := s.do(t, http.MethodPut, "/api/employees/emp-1/requests/req-1", UpsertVacationRequest{
		StartDate: "2024-03-04", EndDate: "2024-03-22", DaysRequested: 15, Status: "approved",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN reconciled
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/employees/emp-1/reconcile", nil).Code)

	// THEN the older cycle is exhausted first
	bal := decodeBody[BalanceDTO](t, s.do(t, http.MethodGet, "/api/employees/emp-1/balance", nil))
	require.Len(t, bal.ActiveCycles, 2)
	assert.Equal(t, 12, bal.ActiveCycles[0].DaysUsed)
	assert.Equal(t, 3, bal.ActiveCycles[1].DaysUsed)
	assert.Equal(t, 26, bal.TotalEarned)
	assert.Equal(t, 11, bal.TotalAvailable)
	assert.Equal(t, "0.5769", bal.Utilization)
	require.NotNil(t, bal.NextExpiring)
	assert.Equal(t, "2024-06-01", bal.NextExpiring.StartDate)
	assert.Equal(t, 11, bal.DaysAtRisk)

	// WHEN the request is deleted and the employee reconciled again
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/employees/emp-1/requests/req-1", nil).Code)
	res := decodeBody[ReconcileResultDTO](t, s.do(t, http.MethodPost, "/api/employees/emp-1/reconcile", nil))

	// THEN the usage is cleared
	assert.True(t, res.OrphanedUsageCleared)
	bal = decodeBody[BalanceDTO](t, s.do(t, http.MethodGet, "/api/employees/emp-1/balance", nil))
	assert.Equal(t, 26, bal.TotalAvailable)
	assert.Equal(t, "0.0000", bal.Utilization)
}

func TestUpsertRequest_Validation(t *testing.T) {
	s := newTestServer(t)
	s.hire(t, "emp-1", "2022-06-01")

	valid := UpsertVacationRequest{StartDate: "2024-03-04", EndDate: "2024-03-08", DaysRequested: 5, Status: "approved"}

	badStatus := valid
	badStatus.Status = "maybe"
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/api/employees/emp-1/requests/r1", badStatus).Code)

	backwards := valid
	backwards.EndDate = "2024-03-01"
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/api/employees/emp-1/requests/r1", backwards).Code)

	zero := valid
	zero.DaysRequested = 0
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/api/employees/emp-1/requests/r1", zero).Code)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/api/employees/ghost/requests/r1", valid).Code)
}

func TestReconcileAll_AndRuns(t *testing.T) {
	s := newTestServer(t)
	s.hire(t, "emp-1", "2020-01-01")
	s.hire(t, "emp-2", "2023-03-01")
	s.hire(t, "emp-3", "")

	rec := s.do(t, http.MethodPost, "/api/reconcile", ReconcileRequest{AsOf: "2024-10-16"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	batch := decodeBody[BatchResultDTO](t, rec)
	assert.Equal(t, 2, batch.Reconciled)
	require.Len(t, batch.Skipped, 1)
	assert.Equal(t, "emp-3", batch.Skipped[0].EmployeeID)
	assert.Empty(t, batch.Failed)

	runs := decodeBody[[]RunDTO](t, s.do(t, http.MethodGet, "/api/reconciliation/runs", nil))
	assert.Len(t, runs, 3)

	one := decodeBody[[]RunDTO](t, s.do(t, http.MethodGet, "/api/reconciliation/runs?employee_id=emp-3", nil))
	require.Len(t, one, 1)
	assert.Equal(t, "skipped", one[0].Status)

	limited := decodeBody[[]RunDTO](t, s.do(t, http.MethodGet, "/api/reconciliation/runs?limit=2", nil))
	assert.Len(t, limited, 2)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/reconciliation/runs?limit=zero", nil).Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(vacation.ErrEmployeeNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(&generic.ConflictError{Key: "k"}))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(generic.Unavailable("ping", io.ErrUnexpectedEOF)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&vacation.InvalidHireDateError{EmployeeID: "e"}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrClosedPipe))
}

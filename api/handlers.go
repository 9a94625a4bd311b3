/*
handlers.go - HTTP handlers for the vacation admin API

PURPOSE:
  Exposes reconciliation and balance inspection over HTTP. Handlers
  parse and validate input, call the reconciler or the store, and render
  DTOs. No balance is ever computed here; everything goes through the
  vacation package.

ENDPOINTS:
  Engine:
    GET    /api/schedule                         Accrual table and windows
    POST   /api/reconcile                        Reconcile all active employees
    GET    /api/reconciliation/runs              Run audit log
    GET    /api/reconciliation/status            Scheduler state and last batch

  Employees:
    GET    /api/employees                        List employees
    GET    /api/employees/{id}                   Employee details
    PUT    /api/employees/{id}                   Create or replace employee
    GET    /api/employees/{id}/cycles            Stored cycles with state
    GET    /api/employees/{id}/balance           Summary of active cycles
    GET    /api/employees/{id}/preview           Dry-run reconciliation
    POST   /api/employees/{id}/reconcile         Reconcile one employee
    POST   /api/employees/{id}/reset             Delete and regenerate cycles
    PUT    /api/employees/{id}/requests/{rid}    Create or replace request
    DELETE /api/employees/{id}/requests/{rid}    Delete request

  Every read and reconcile endpoint accepts ?as_of=YYYY-MM-DD to override
  the reference date.

ERROR HANDLING:
  - 400: malformed input
  - 404: unknown employee
  - 409: concurrent modification that survived retries
  - 422: invalid hire date
  - 503: store unavailable
  - 500: anything else

SECURITY NOTE:
  No authentication. Deploy behind the HR system's gateway.

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: routing and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/vacation-engine/generic"
	"github.com/warp/vacation-engine/vacation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs on top of the engine contract.
type Store interface {
	vacation.TxStore
	vacation.RunLog
	SaveEmployee(ctx context.Context, emp vacation.Employee) error
	SaveRequest(ctx context.Context, r vacation.Request) error
	DeleteRequest(ctx context.Context, employeeID vacation.EmployeeID, id vacation.RequestID) error
	Ping(ctx context.Context) error
}

// Handler holds the API dependencies.
type Handler struct {
	Store      Store
	Reconciler *vacation.Reconciler
	Policy     vacation.Policy
	Logger     *slog.Logger

	// Scheduler is optional; status reports "disabled" without it.
	Scheduler *ReconciliationScheduler

	validate *validator.Validate
}

func NewHandler(store Store, reconciler *vacation.Reconciler, policy vacation.Policy, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:      store,
		Reconciler: reconciler,
		Policy:     policy,
		Logger:     logger,
		validate:   validator.New(),
	}
}

// =============================================================================
// HEALTH & SCHEDULE
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	dto := ScheduleDTO{
		ValidityMonths:    h.Policy.ValidityMonths,
		PreCreationMonths: h.Policy.PreCreationMonths,
	}
	for _, t := range h.Policy.Schedule.Tiers() {
		dto.Tiers = append(dto.Tiers, TierDTO{FromYear: t.FromYear, Days: t.Days})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	employees, err := h.Store.ListEmployees(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, "failed to list employees", err)
		return
	}
	out := make([]EmployeeDTO, 0, len(employees))
	for _, e := range employees {
		out = append(out, toEmployeeDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), employeeID(r))
	if err != nil {
		h.fail(w, "failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

func (h *Handler) UpsertEmployee(w http.ResponseWriter, r *http.Request) {
	var req UpsertEmployeeRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	emp := vacation.Employee{ID: employeeID(r), Name: req.Name, IsActive: true}
	if req.IsActive != nil {
		emp.IsActive = *req.IsActive
	}
	if req.HireDate != "" {
		emp.HireDate = generic.MustParseDate(req.HireDate)
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.fail(w, "failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// GetCycles returns stored cycles with their state on the reference date.
func (h *Handler) GetCycles(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.referenceDate(w, r, "")
	if !ok {
		return
	}
	id := employeeID(r)
	if _, err := h.Store.GetEmployee(r.Context(), id); err != nil {
		h.fail(w, "failed to get employee", err)
		return
	}
	cycles, err := h.Store.ListByEmployee(r.Context(), id)
	if err != nil {
		h.fail(w, "failed to list cycles", err)
		return
	}
	out := make([]CycleDTO, 0, len(cycles))
	for _, c := range cycles {
		dto := toCycleDTO(c)
		dto.State = string(c.State(ref))
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetBalance summarizes the stored cycles. The numbers reflect the last
// reconciliation; /preview shows what the next one would change.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.referenceDate(w, r, "")
	if !ok {
		return
	}
	id := employeeID(r)
	if _, err := h.Store.GetEmployee(r.Context(), id); err != nil {
		h.fail(w, "failed to get employee", err)
		return
	}
	cycles, err := h.Store.ListByEmployee(r.Context(), id)
	if err != nil {
		h.fail(w, "failed to list cycles", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(vacation.Summarize(id, cycles, ref)))
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.referenceDate(w, r, "")
	if !ok {
		return
	}
	res, err := h.Reconciler.Plan(r.Context(), employeeID(r), vacation.Options{ReferenceDate: ref})
	if err != nil {
		h.fail(w, "failed to preview reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

func (h *Handler) ReconcileEmployee(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.reconcileOptions(w, r)
	if !ok {
		return
	}
	res, err := h.Reconciler.ReconcileEmployee(r.Context(), employeeID(r), opts)
	if err != nil {
		h.fail(w, "reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

func (h *Handler) ResetEmployee(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.reconcileOptions(w, r)
	if !ok {
		return
	}
	res, err := h.Reconciler.ResetEmployee(r.Context(), employeeID(r), opts)
	if err != nil {
		h.fail(w, "reset failed", err)
		return
	}
	h.Logger.Info("employee cycles reset", "employee_id", string(res.EmployeeID),
		"deleted", res.Deleted, "created", len(res.Created), "dry_run", res.DryRun)
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

func (h *Handler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.reconcileOptions(w, r)
	if !ok {
		return
	}
	report, err := h.Reconciler.ReconcileAll(r.Context(), opts)
	if err != nil {
		h.fail(w, "batch reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(report))
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = n
	}
	emp := vacation.EmployeeID(r.URL.Query().Get("employee_id"))
	runs, err := h.Store.ListRuns(r.Context(), emp, limit)
	if err != nil {
		h.fail(w, "failed to list runs", err)
		return
	}
	out := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, SchedulerStatusDTO{Enabled: false})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

// =============================================================================
// REQUESTS
// =============================================================================

// UpsertRequest stores a vacation request. The engine only reads requests;
// this endpoint exists for back-office corrections and demos.
func (h *Handler) UpsertRequest(w http.ResponseWriter, r *http.Request) {
	var body UpsertVacationRequest
	if !h.decode(w, r, &body, false) {
		return
	}
	req := vacation.Request{
		ID:            vacation.RequestID(chi.URLParam(r, "requestID")),
		EmployeeID:    employeeID(r),
		StartDate:     generic.MustParseDate(body.StartDate),
		EndDate:       generic.MustParseDate(body.EndDate),
		DaysRequested: body.DaysRequested,
		Status:        vacation.RequestStatus(body.Status),
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return
	}
	if _, err := h.Store.GetEmployee(r.Context(), req.EmployeeID); err != nil {
		h.fail(w, "failed to get employee", err)
		return
	}
	if err := h.Store.SaveRequest(r.Context(), req); err != nil {
		h.fail(w, "failed to save request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	id := vacation.RequestID(chi.URLParam(r, "requestID"))
	if err := h.Store.DeleteRequest(r.Context(), employeeID(r), id); err != nil {
		h.fail(w, "failed to delete request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func employeeID(r *http.Request) vacation.EmployeeID {
	return vacation.EmployeeID(chi.URLParam(r, "id"))
}

// referenceDate resolves ?as_of, then fallback, then the reconciler's
// clock. It writes a 400 and returns false on a malformed date.
func (h *Handler) referenceDate(w http.ResponseWriter, r *http.Request, fallback string) (generic.Date, bool) {
	s := r.URL.Query().Get("as_of")
	if s == "" {
		s = fallback
	}
	if s == "" {
		return h.Reconciler.Today(), true
	}
	d, err := generic.ParseDate(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid as_of", err)
		return generic.Date{}, false
	}
	return d, true
}

func (h *Handler) reconcileOptions(w http.ResponseWriter, r *http.Request) (vacation.Options, bool) {
	var body ReconcileRequest
	if !h.decode(w, r, &body, true) {
		return vacation.Options{}, false
	}
	ref, ok := h.referenceDate(w, r, body.AsOf)
	if !ok {
		return vacation.Options{}, false
	}
	dryRun := body.DryRun || r.URL.Query().Get("dry_run") == "true"
	return vacation.Options{ReferenceDate: ref, DryRun: dryRun}, true
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when optional is true.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) && optional {
		err = nil
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

// fail maps engine and store errors to HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, slog.Any("error", err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, vacation.ErrInvalidHireDate):
		return http.StatusUnprocessableEntity
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsTransient(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

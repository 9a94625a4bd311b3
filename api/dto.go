/*
dto.go - Data Transfer Objects for the admin API

PURPOSE:
  JSON shapes of the admin API, kept apart from the vacation package so
  field names can evolve without touching the engine. Dates are always
  "YYYY-MM-DD" strings.

NAMING CONVENTION:
  - *DTO:     response types
  - *Request: request bodies (validated with go-playground/validator)

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"time"

	"github.com/warp/vacation-engine/vacation"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

// ReconcileRequest is the optional body of the reconcile endpoints.
type ReconcileRequest struct {
	AsOf   string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	DryRun bool   `json:"dry_run"`
}

// UpsertEmployeeRequest creates or replaces an employee.
type UpsertEmployeeRequest struct {
	Name     string `json:"name" validate:"max=200"`
	HireDate string `json:"hire_date" validate:"omitempty,datetime=2006-01-02"`
	IsActive *bool  `json:"is_active"`
}

// UpsertVacationRequest creates or replaces a vacation request.
type UpsertVacationRequest struct {
	StartDate     string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string `json:"end_date" validate:"required,datetime=2006-01-02"`
	DaysRequested int    `json:"days_requested" validate:"required,gt=0,lte=366"`
	Status        string `json:"status" validate:"required,oneof=pending approved rejected cancelled"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type EmployeeDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	HireDate string `json:"hire_date,omitempty"`
	IsActive bool   `json:"is_active"`
}

type TierDTO struct {
	FromYear int `json:"from_year"`
	Days     int `json:"days"`
}

type ScheduleDTO struct {
	ValidityMonths    int       `json:"validity_months"`
	PreCreationMonths int       `json:"pre_creation_months"`
	Tiers             []TierDTO `json:"tiers"`
}

type CycleDTO struct {
	ID             string `json:"id,omitempty"`
	StartDate      string `json:"cycle_start_date"`
	EndDate        string `json:"cycle_end_date"`
	YearsOfService int    `json:"years_of_service"`
	DaysEarned     int    `json:"days_earned"`
	DaysUsed       int    `json:"days_used"`
	DaysAvailable  int    `json:"days_available"`
	IsExpired      bool   `json:"is_expired"`
	State          string `json:"state,omitempty"`
	Version        int    `json:"version,omitempty"`
}

type CycleChangeDTO struct {
	Before CycleDTO `json:"before"`
	After  CycleDTO `json:"after"`
}

type RequestDTO struct {
	ID            string `json:"id"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	DaysRequested int    `json:"days_requested"`
	Status        string `json:"status"`
}

type OverflowDTO struct {
	TotalRequested int `json:"total_requested"`
	TotalAvailable int `json:"total_available"`
	Excess         int `json:"excess"`
}

// ReconcileResultDTO describes one employee pass.
type ReconcileResultDTO struct {
	EmployeeID           string           `json:"employee_id"`
	ReferenceDate        string           `json:"reference_date"`
	DryRun               bool             `json:"dry_run"`
	Created              []CycleDTO       `json:"created"`
	Updated              []CycleChangeDTO `json:"updated"`
	Unchanged            int              `json:"unchanged"`
	Deleted              int              `json:"deleted,omitempty"`
	StrayCycles          []CycleDTO       `json:"stray_cycles,omitempty"`
	OutOfRangeRequests   []RequestDTO     `json:"out_of_range_requests,omitempty"`
	Overflow             *OverflowDTO     `json:"overflow,omitempty"`
	Warnings             []string         `json:"warnings,omitempty"`
	OrphanedUsageCleared bool             `json:"orphaned_usage_cleared"`
	Attempts             int              `json:"attempts"`
}

type FailureDTO struct {
	EmployeeID string `json:"employee_id"`
	Error      string `json:"error"`
}

// BatchResultDTO describes a ReconcileAll run.
type BatchResultDTO struct {
	ReferenceDate string       `json:"reference_date"`
	Reconciled    int          `json:"reconciled"`
	Writes        int          `json:"writes"`
	Skipped       []FailureDTO `json:"skipped"`
	Failed        []FailureDTO `json:"failed"`
	Warnings      []string     `json:"warnings,omitempty"`
	DurationMS    int64        `json:"duration_ms"`
}

type BalanceDTO struct {
	EmployeeID     string     `json:"employee_id"`
	ReferenceDate  string     `json:"reference_date"`
	ActiveCycles   []CycleDTO `json:"active_cycles"`
	ExpiredCycles  int        `json:"expired_cycles"`
	TotalEarned    int        `json:"total_earned"`
	TotalUsed      int        `json:"total_used"`
	TotalAvailable int        `json:"total_available"`
	NextExpiring   *CycleDTO  `json:"next_expiring,omitempty"`
	DaysAtRisk     int        `json:"days_at_risk"`
	Utilization    string     `json:"utilization"`
}

type RunDTO struct {
	ID            string    `json:"id"`
	EmployeeID    string    `json:"employee_id"`
	ReferenceDate string    `json:"reference_date"`
	Status        string    `json:"status"`
	DryRun        bool      `json:"dry_run"`
	CyclesCreated int       `json:"cycles_created"`
	CyclesUpdated int       `json:"cycles_updated"`
	Warning       string    `json:"warning,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

type SchedulerStatusDTO struct {
	Enabled   bool            `json:"enabled"`
	Interval  string          `json:"interval"`
	NextRunAt *time.Time      `json:"next_run_at,omitempty"`
	LastRun   *BatchResultDTO `json:"last_run,omitempty"`
}

type ScenarioDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ReferenceDate string `json:"reference_date"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEmployeeDTO(e vacation.Employee) EmployeeDTO {
	dto := EmployeeDTO{ID: string(e.ID), Name: e.Name, IsActive: e.IsActive}
	if !e.HireDate.IsZero() {
		dto.HireDate = e.HireDate.String()
	}
	return dto
}

func toCycleDTO(c vacation.Cycle) CycleDTO {
	return CycleDTO{
		ID:             string(c.ID),
		StartDate:      c.StartDate.String(),
		EndDate:        c.EndDate.String(),
		YearsOfService: c.YearsOfService,
		DaysEarned:     c.DaysEarned,
		DaysUsed:       c.DaysUsed,
		DaysAvailable:  c.DaysAvailable,
		IsExpired:      c.IsExpired,
		Version:        c.Version,
	}
}

func toCycleDTOs(cycles []vacation.Cycle) []CycleDTO {
	out := make([]CycleDTO, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, toCycleDTO(c))
	}
	return out
}

func toRequestDTO(r vacation.Request) RequestDTO {
	return RequestDTO{
		ID:            string(r.ID),
		StartDate:     r.StartDate.String(),
		EndDate:       r.EndDate.String(),
		DaysRequested: r.DaysRequested,
		Status:        string(r.Status),
	}
}

func toResultDTO(res *vacation.Result) ReconcileResultDTO {
	dto := ReconcileResultDTO{
		EmployeeID:           string(res.EmployeeID),
		ReferenceDate:        res.ReferenceDate.String(),
		DryRun:               res.DryRun,
		Created:              toCycleDTOs(res.Created),
		Updated:              make([]CycleChangeDTO, 0, len(res.Updated)),
		Unchanged:            res.Unchanged,
		Deleted:              res.Deleted,
		OrphanedUsageCleared: res.OrphanedUsageCleared,
		Attempts:             res.Attempts,
	}
	for _, ch := range res.Updated {
		dto.Updated = append(dto.Updated, CycleChangeDTO{Before: toCycleDTO(ch.Before), After: toCycleDTO(ch.After)})
	}
	if len(res.StrayCycles) > 0 {
		dto.StrayCycles = toCycleDTOs(res.StrayCycles)
	}
	if res.Allocation != nil {
		for _, r := range res.Allocation.OutOfRange {
			dto.OutOfRangeRequests = append(dto.OutOfRangeRequests, toRequestDTO(r))
		}
	}
	if o := res.Overflow(); o != nil {
		dto.Overflow = &OverflowDTO{TotalRequested: o.TotalRequested, TotalAvailable: o.TotalAvailable, Excess: o.Excess()}
	}
	for _, w := range res.Warnings {
		dto.Warnings = append(dto.Warnings, w.Error())
	}
	return dto
}

func toFailureDTOs(failures []vacation.EmployeeFailure) []FailureDTO {
	out := make([]FailureDTO, 0, len(failures))
	for _, f := range failures {
		out = append(out, FailureDTO{EmployeeID: string(f.EmployeeID), Error: f.Err.Error()})
	}
	return out
}

func toBatchDTO(b *vacation.BatchReport) BatchResultDTO {
	dto := BatchResultDTO{
		ReferenceDate: b.ReferenceDate.String(),
		Reconciled:    len(b.Results),
		Writes:        b.Writes(),
		Skipped:       toFailureDTOs(b.Skipped),
		Failed:        toFailureDTOs(b.Failures),
		DurationMS:    b.CompletedAt.Sub(b.StartedAt).Milliseconds(),
	}
	for _, w := range b.Warnings() {
		dto.Warnings = append(dto.Warnings, w.Error())
	}
	return dto
}

func toBalanceDTO(s vacation.Summary) BalanceDTO {
	dto := BalanceDTO{
		EmployeeID:     string(s.EmployeeID),
		ReferenceDate:  s.ReferenceDate.String(),
		ActiveCycles:   toCycleDTOs(s.ActiveCycles),
		ExpiredCycles:  s.ExpiredCycles,
		TotalEarned:    s.TotalEarned,
		TotalUsed:      s.TotalUsed,
		TotalAvailable: s.TotalAvailable,
		DaysAtRisk:     s.DaysAtRisk,
		Utilization:    s.Utilization.StringFixed(4),
	}
	if s.NextExpiring != nil {
		c := toCycleDTO(*s.NextExpiring)
		dto.NextExpiring = &c
	}
	return dto
}

func toRunDTO(r vacation.Run) RunDTO {
	return RunDTO{
		ID:            r.ID,
		EmployeeID:    string(r.EmployeeID),
		ReferenceDate: r.ReferenceDate.String(),
		Status:        string(r.Status),
		DryRun:        r.DryRun,
		CyclesCreated: r.CyclesCreated,
		CyclesUpdated: r.CyclesUpdated,
		Warning:       r.Warning,
		Error:         r.Error,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
	}
}

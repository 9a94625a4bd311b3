/*
scenarios.go - Demo scenarios for walkthroughs and manual testing

PURPOSE:
  Loads small, fixed data sets that show one engine behavior each, then
  reconciles them on the scenario's reference date so the result is
  visible immediately.

AVAILABLE SCENARIOS:
  anniversary-catchup: five years of anniversaries created in one pass
  fifo-consumption:    15 approved days spread oldest cycle first
  history-excluded:    requests before the oldest active cycle ignored
  allocation-overflow: more approved days than entitlement, capped
  orphaned-usage:      stored usage with only a cancelled request, cleared

HOW SCENARIOS WORK:
  1. Upsert the scenario's employees
  2. Delete their cycles and seed any pre-existing ones
  3. Upsert their requests (fixed ids, so reloading overwrites)
  4. Reconcile each employee on the scenario's reference date

  Scenario employees have a "demo-" prefix; nothing else is touched.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "fifo-consumption"}

SEE ALSO:
  - handlers.go: shared helpers
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/vacation-engine/generic"
	"github.com/warp/vacation-engine/vacation"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ID            string
	Name          string
	Description   string
	ReferenceDate string
	Employees     []vacation.Employee
	Cycles        []vacation.Cycle
	Requests      []vacation.Request
}

var d = generic.MustParseDate

func approved(id, emp, start, end string, days int) vacation.Request {
	return vacation.Request{
		ID:            vacation.RequestID(id),
		EmployeeID:    vacation.EmployeeID(emp),
		StartDate:     d(start),
		EndDate:       d(end),
		DaysRequested: days,
		Status:        vacation.StatusApproved,
	}
}

var scenarios = []scenario{
	{
		ID:            "anniversary-catchup",
		Name:          "Anniversary catch-up",
		Description:   "Hired 2020-01-01 with no cycles stored. One pass creates every anniversary up to the pre-creation window.",
		ReferenceDate: "2024-10-16",
		Employees: []vacation.Employee{
			{ID: "demo-catchup", Name: "Catch-up demo", HireDate: d("2020-01-01"), IsActive: true},
		},
	},
	{
		ID:            "fifo-consumption",
		Name:          "FIFO consumption",
		Description:   "Two active cycles; 15 approved days fill the older one before touching the newer one. A cancelled request is ignored.",
		ReferenceDate: "2024-10-16",
		Employees: []vacation.Employee{
			{ID: "demo-fifo", Name: "FIFO demo", HireDate: d("2022-06-01"), IsActive: true},
		},
		Requests: []vacation.Request{
			approved("demo-fifo-1", "demo-fifo", "2024-03-04", "2024-03-15", 10),
			approved("demo-fifo-2", "demo-fifo", "2024-08-12", "2024-08-16", 5),
			{
				ID:            "demo-fifo-3",
				EmployeeID:    "demo-fifo",
				StartDate:     d("2024-09-02"),
				EndDate:       d("2024-09-05"),
				DaysRequested: 4,
				Status:        vacation.StatusCancelled,
			},
		},
	},
	{
		ID:            "history-excluded",
		Name:          "Historical requests excluded",
		Description:   "A request taken during an already expired cycle stays history; only the in-range request is deducted.",
		ReferenceDate: "2024-10-16",
		Employees: []vacation.Employee{
			{ID: "demo-history", Name: "History demo", HireDate: d("2019-02-01"), IsActive: true},
		},
		Requests: []vacation.Request{
			approved("demo-history-1", "demo-history", "2023-05-10", "2023-05-19", 8),
			approved("demo-history-2", "demo-history", "2024-05-01", "2024-05-08", 6),
		},
	},
	{
		ID:            "allocation-overflow",
		Name:          "Allocation overflow",
		Description:   "30 approved days against 26 days of entitlement. Balances are capped and the pass reports a warning.",
		ReferenceDate: "2024-10-16",
		Employees: []vacation.Employee{
			{ID: "demo-overflow", Name: "Overflow demo", HireDate: d("2023-01-10"), IsActive: true},
		},
		Requests: []vacation.Request{
			approved("demo-overflow-1", "demo-overflow", "2024-03-01", "2024-03-28", 20),
			approved("demo-overflow-2", "demo-overflow", "2024-09-02", "2024-09-13", 10),
		},
	},
	{
		ID:            "orphaned-usage",
		Name:          "Orphaned usage cleared",
		Description:   "A stored cycle shows 7 days used but the only request was cancelled. Reconciliation restores the balance.",
		ReferenceDate: "2024-10-16",
		Employees: []vacation.Employee{
			{ID: "demo-orphan", Name: "Orphan demo", HireDate: d("2022-01-15"), IsActive: true},
		},
		Cycles: []vacation.Cycle{
			{
				EmployeeID:     "demo-orphan",
				StartDate:      d("2024-01-15"),
				EndDate:        d("2025-07-15"),
				YearsOfService: 2,
				DaysEarned:     14,
				DaysUsed:       7,
				DaysAvailable:  7,
			},
		},
		Requests: []vacation.Request{
			{
				ID:            "demo-orphan-1",
				EmployeeID:    "demo-orphan",
				StartDate:     d("2024-04-01"),
				EndDate:       d("2024-04-09"),
				DaysRequested: 7,
				Status:        vacation.StatusCancelled,
			},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description, ReferenceDate: s.ReferenceDate})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	results, err := h.loadScenario(r.Context(), s)
	if err != nil {
		h.fail(w, "failed to load scenario", err)
		return
	}
	h.Logger.Info("scenario loaded", "scenario", s.ID, "employees", len(s.Employees))
	writeJSON(w, http.StatusOK, map[string]any{
		"scenario": ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description, ReferenceDate: s.ReferenceDate},
		"results":  results,
	})
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) ([]ReconcileResultDTO, error) {
	for _, emp := range s.Employees {
		if err := h.Store.SaveEmployee(ctx, emp); err != nil {
			return nil, err
		}
		err := h.Store.WithEmployeeTx(ctx, emp.ID, func(tx vacation.Store) error {
			if _, err := tx.DeleteAllForEmployee(ctx, emp.ID); err != nil {
				return err
			}
			for _, c := range s.Cycles {
				if c.EmployeeID != emp.ID {
					continue
				}
				if _, err := tx.Upsert(ctx, c); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	for _, req := range s.Requests {
		if err := h.Store.SaveRequest(ctx, req); err != nil {
			return nil, err
		}
	}

	ref := d(s.ReferenceDate)
	results := make([]ReconcileResultDTO, 0, len(s.Employees))
	for _, emp := range s.Employees {
		res, err := h.Reconciler.ReconcileEmployee(ctx, emp.ID, vacation.Options{ReferenceDate: ref})
		if err != nil {
			return nil, err
		}
		results = append(results, toResultDTO(res))
	}
	return results, nil
}

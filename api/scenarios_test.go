/*
scenarios_test.go - Demo scenarios produce the balances they describe

Each scenario is loaded through the API on its reference date and the
resulting pass is checked against the numbers in its description.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loadResponse struct {
	Scenario ScenarioDTO          `json:"scenario"`
	Results  []ReconcileResultDTO `json:"results"`
}

func (s *testServer) load(t *testing.T, id string) ReconcileResultDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[loadResponse](t, rec)
	require.Len(t, out.Results, 1)
	return out.Results[0]
}

func TestListScenarios(t *testing.T) {
	s := newTestServer(t)

	list := decodeBody[[]ScenarioDTO](t, s.do(t, http.MethodGet, "/api/scenarios", nil))
	require.Len(t, list, len(scenarios))
	for _, sc := range list {
		assert.NotEmpty(t, sc.Description, sc.ID)
		assert.Equal(t, "2024-10-16", sc.ReferenceDate)
	}
}

func TestScenario_AnniversaryCatchup(t *testing.T) {
	s := newTestServer(t)

	res := s.load(t, "anniversary-catchup")
	assert.Len(t, res.Created, 5)
	assert.Empty(t, res.Warnings)
}

func TestScenario_FIFO(t *testing.T) {
	s := newTestServer(t)

	res := s.load(t, "fifo-consumption")
	require.Len(t, res.Created, 2)
	assert.Equal(t, 12, res.Created[0].DaysUsed, "older cycle filled first")
	assert.Equal(t, 0, res.Created[0].DaysAvailable)
	assert.Equal(t, 3, res.Created[1].DaysUsed)
	assert.Equal(t, 11, res.Created[1].DaysAvailable)
}

func TestScenario_HistoryExcluded(t *testing.T) {
	s := newTestServer(t)

	res := s.load(t, "history-excluded")
	require.Len(t, res.OutOfRangeRequests, 1)
	assert.Equal(t, "demo-history-1", res.OutOfRangeRequests[0].ID)

	bal := decodeBody[BalanceDTO](t, s.do(t, http.MethodGet, "/api/employees/demo-history/balance", nil))
	assert.Equal(t, 6, bal.TotalUsed)
}

func TestScenario_Overflow(t *testing.T) {
	s := newTestServer(t)

	res := s.load(t, "allocation-overflow")
	require.NotNil(t, res.Overflow)
	assert.Equal(t, 30, res.Overflow.TotalRequested)
	assert.Equal(t, 26, res.Overflow.TotalAvailable)
	assert.Equal(t, 4, res.Overflow.Excess)
	assert.NotEmpty(t, res.Warnings)
	for _, c := range res.Created {
		assert.Equal(t, 0, c.DaysAvailable, "capped, never negative")
	}
}

func TestScenario_OrphanedUsage(t *testing.T) {
	s := newTestServer(t)

	res := s.load(t, "orphaned-usage")
	assert.True(t, res.OrphanedUsageCleared)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, 7, res.Updated[0].Before.DaysUsed)
	assert.Equal(t, 0, res.Updated[0].After.DaysUsed)
	assert.Equal(t, 14, res.Updated[0].After.DaysAvailable)
}

func TestScenario_ReloadIsStable(t *testing.T) {
	s := newTestServer(t)

	first := s.load(t, "orphaned-usage")
	second := s.load(t, "orphaned-usage")
	assert.Equal(t, len(first.Created), len(second.Created))
	assert.Equal(t, len(first.Updated), len(second.Updated))

	reqs, err := s.store.ListApprovedByEmployee(context.Background(), "demo-orphan")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestLoadScenario_Errors(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNotFound,
		s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/scenarios/load", nil).Code)
}

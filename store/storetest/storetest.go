// Package storetest is a conformance suite shared by the store adapters.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vacation-engine/generic"
	"github.com/warp/vacation-engine/vacation"
)

// Store is what an adapter must offer to run the suite.
type Store interface {
	vacation.TxStore
	vacation.RunLog
	SaveEmployee(ctx context.Context, emp vacation.Employee) error
	SaveRequest(ctx context.Context, r vacation.Request) error
	DeleteRequest(ctx context.Context, employeeID vacation.EmployeeID, id vacation.RequestID) error
}

var d = generic.MustParseDate

func cycle(emp vacation.EmployeeID, start string, earned, used int) vacation.Cycle {
	s := d(start)
	return vacation.Cycle{
		EmployeeID:     emp,
		StartDate:      s,
		EndDate:        s.AddMonths(18),
		YearsOfService: 1,
		DaysEarned:     earned,
		DaysUsed:       used,
		DaysAvailable:  earned - used,
	}
}

func approved(id vacation.RequestID, start string, days int) vacation.Request {
	s := d(start)
	return vacation.Request{
		ID:            id,
		EmployeeID:    "emp-1",
		StartDate:     s,
		EndDate:       s.AddDays(days - 1),
		DaysRequested: days,
		Status:        vacation.StatusApproved,
	}
}

// Run exercises newStore against the vacation.TxStore contract. Each
// subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	seed := func(t *testing.T, s Store) {
		require.NoError(t, s.SaveEmployee(ctx, vacation.Employee{ID: "emp-1", Name: "Ana", HireDate: d("2020-01-01"), IsActive: true}))
		require.NoError(t, s.SaveEmployee(ctx, vacation.Employee{ID: "emp-2", Name: "Luis", HireDate: d("2022-03-15"), IsActive: false}))
		require.NoError(t, s.SaveEmployee(ctx, vacation.Employee{ID: "emp-3", Name: "Sin fecha", IsActive: true}))
	}

	t.Run("employees", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		emp, err := s.GetEmployee(ctx, "emp-1")
		require.NoError(t, err)
		assert.Equal(t, "Ana", emp.Name)
		assert.True(t, emp.HireDate.Equal(d("2020-01-01")))
		assert.True(t, emp.IsActive)

		missingHire, err := s.GetEmployee(ctx, "emp-3")
		require.NoError(t, err)
		assert.True(t, missingHire.HireDate.IsZero())

		_, err = s.GetEmployee(ctx, "nobody")
		assert.ErrorIs(t, err, vacation.ErrEmployeeNotFound)
		assert.True(t, generic.IsNotFound(err))

		active, err := s.ListEmployees(ctx, true)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, vacation.EmployeeID("emp-1"), active[0].ID)
		assert.Equal(t, vacation.EmployeeID("emp-3"), active[1].ID)

		all, err := s.ListEmployees(ctx, false)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("upsert versions", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		// GIVEN a new cycle
		created, err := s.Upsert(ctx, cycle("emp-1", "2021-01-01", 12, 0))
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, 1, created.Version)

		// WHEN it is inserted again as new
		_, err = s.Upsert(ctx, cycle("emp-1", "2021-01-01", 12, 0))

		// THEN the duplicate is rejected as a conflict
		assert.True(t, generic.IsConflict(err), "got %v", err)

		// WHEN updated with the current version
		created.DaysUsed, created.DaysAvailable = 5, 7
		updated, err := s.Upsert(ctx, created)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, created.ID, updated.ID)

		// THEN a stale writer loses
		_, err = s.Upsert(ctx, created)
		var conflict *generic.ConflictError
		require.True(t, errors.As(err, &conflict), "got %v", err)
		assert.Equal(t, 1, conflict.ExpectedVersion)
		assert.Equal(t, 2, conflict.ActualVersion)

		stored, err := s.ListByEmployee(ctx, "emp-1")
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, 5, stored[0].DaysUsed)
		assert.Equal(t, 7, stored[0].DaysAvailable)
		assert.True(t, stored[0].EndDate.Equal(d("2022-07-01")))
	})

	t.Run("upsert rejects invalid balances", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		bad := cycle("emp-1", "2021-01-01", 12, 0)
		bad.DaysAvailable = 20
		_, err := s.Upsert(ctx, bad)
		assert.Error(t, err)

		stored, err := s.ListByEmployee(ctx, "emp-1")
		require.NoError(t, err)
		assert.Empty(t, stored)
	})

	t.Run("cycles ordered by start date", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		for _, start := range []string{"2023-01-01", "2021-01-01", "2022-01-01"} {
			_, err := s.Upsert(ctx, cycle("emp-1", start, 12, 0))
			require.NoError(t, err)
		}
		stored, err := s.ListByEmployee(ctx, "emp-1")
		require.NoError(t, err)
		require.Len(t, stored, 3)
		assert.Equal(t, "2021-01-01", stored[0].StartDate.String())
		assert.Equal(t, "2022-01-01", stored[1].StartDate.String())
		assert.Equal(t, "2023-01-01", stored[2].StartDate.String())

		n, err := s.DeleteAllForEmployee(ctx, "emp-1")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("approved requests only", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		reqs := []vacation.Request{
			{ID: "r2", EmployeeID: "emp-1", StartDate: d("2024-06-01"), EndDate: d("2024-06-03"), DaysRequested: 3, Status: vacation.StatusApproved},
			{ID: "r1", EmployeeID: "emp-1", StartDate: d("2024-02-01"), EndDate: d("2024-02-05"), DaysRequested: 5, Status: vacation.StatusApproved},
			{ID: "r3", EmployeeID: "emp-1", StartDate: d("2024-03-01"), EndDate: d("2024-03-02"), DaysRequested: 2, Status: vacation.StatusCancelled},
			{ID: "r4", EmployeeID: "emp-1", StartDate: d("2024-04-01"), EndDate: d("2024-04-01"), DaysRequested: 1, Status: vacation.StatusPending},
		}
		for _, r := range reqs {
			require.NoError(t, s.SaveRequest(ctx, r))
		}

		approved, err := s.ListApprovedByEmployee(ctx, "emp-1")
		require.NoError(t, err)
		require.Len(t, approved, 2)
		assert.Equal(t, vacation.RequestID("r1"), approved[0].ID)
		assert.Equal(t, vacation.RequestID("r2"), approved[1].ID)

		// Cancelling and deleting both drop the request from the approved set.
		r1 := reqs[1]
		r1.Status = vacation.StatusCancelled
		require.NoError(t, s.SaveRequest(ctx, r1))
		require.NoError(t, s.DeleteRequest(ctx, "emp-1", "r2"))

		approved, err = s.ListApprovedByEmployee(ctx, "emp-1")
		require.NoError(t, err)
		assert.Empty(t, approved)
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		_, err := s.Upsert(ctx, cycle("emp-1", "2021-01-01", 12, 0))
		require.NoError(t, err)

		boom := errors.New("boom")
		err = s.WithEmployeeTx(ctx, "emp-1", func(tx vacation.Store) error {
			if _, err := tx.Upsert(ctx, cycle("emp-1", "2022-01-01", 14, 0)); err != nil {
				return err
			}
			if _, err := tx.DeleteAllForEmployee(ctx, "emp-1"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		stored, err := s.ListByEmployee(ctx, "emp-1")
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, "2021-01-01", stored[0].StartDate.String())
	})

	t.Run("transaction commits", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		err := s.WithEmployeeTx(ctx, "emp-1", func(tx vacation.Store) error {
			emp, err := tx.GetEmployee(ctx, "emp-1")
			if err != nil {
				return err
			}
			_, err = tx.Upsert(ctx, cycle(emp.ID, "2021-01-01", 12, 0))
			return err
		})
		require.NoError(t, err)

		stored, err := s.ListByEmployee(ctx, "emp-1")
		require.NoError(t, err)
		assert.Len(t, stored, 1)
	})

	t.Run("request writes wait for employee tx", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		// GIVEN an open employee transaction
		inTx := make(chan struct{})
		release := make(chan struct{})
		txDone := make(chan error, 1)
		var before, after int
		go func() {
			txDone <- s.WithEmployeeTx(ctx, "emp-1", func(tx vacation.Store) error {
				reqs, err := tx.ListApprovedByEmployee(ctx, "emp-1")
				if err != nil {
					close(inTx)
					return err
				}
				before = len(reqs)
				close(inTx)
				<-release
				reqs, err = tx.ListApprovedByEmployee(ctx, "emp-1")
				after = len(reqs)
				return err
			})
		}()
		<-inTx

		// WHEN a request for the same employee is approved
		saved := make(chan error, 1)
		go func() {
			saved <- s.SaveRequest(ctx, approved("r1", "2024-02-01", 2))
		}()

		// THEN the write waits until the transaction ends
		select {
		case err := <-saved:
			t.Fatalf("request write finished inside the employee transaction: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
		close(release)
		require.NoError(t, <-txDone)
		require.NoError(t, <-saved)
		assert.Equal(t, 0, before)
		assert.Equal(t, 0, after)

		reqs, err := s.ListApprovedByEmployee(ctx, "emp-1")
		require.NoError(t, err)
		assert.Len(t, reqs, 1)
	})

	t.Run("employee tx sees requests committed before it", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		// Approvals race with transactions; whenever an approval has
		// returned before the transaction reads, the read must include it.
		for i := 0; i < 20; i++ {
			id := vacation.RequestID(fmt.Sprintf("r%d", i))
			var committed atomic.Bool
			saved := make(chan error, 1)
			go func() {
				err := s.SaveRequest(ctx, approved(id, "2024-02-01", 1))
				committed.Store(err == nil)
				saved <- err
			}()

			var seen, wasCommitted bool
			err := s.WithEmployeeTx(ctx, "emp-1", func(tx vacation.Store) error {
				wasCommitted = committed.Load()
				reqs, err := tx.ListApprovedByEmployee(ctx, "emp-1")
				if err != nil {
					return err
				}
				seen = slices.ContainsFunc(reqs, func(r vacation.Request) bool { return r.ID == id })
				return nil
			})
			require.NoError(t, err)
			require.NoError(t, <-saved)
			if wasCommitted {
				assert.True(t, seen, "request %s committed before the read but was not seen", id)
			}
		}
	})

	t.Run("run log", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		base := d("2024-10-16").Time()
		for i, emp := range []vacation.EmployeeID{"emp-1", "emp-2", "emp-1"} {
			require.NoError(t, s.SaveRun(ctx, vacation.Run{
				ID:            string(rune('a' + i)),
				EmployeeID:    emp,
				ReferenceDate: d("2024-10-16"),
				Status:        vacation.RunCompleted,
				CyclesCreated: i,
				StartedAt:     base.Add(time.Duration(i) * time.Minute),
				CompletedAt:   base.Add(time.Duration(i)*time.Minute + time.Second),
			}))
		}

		runs, err := s.ListRuns(ctx, "emp-1", 0)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "c", runs[0].ID)
		assert.Equal(t, "a", runs[1].ID)
		assert.Equal(t, 2, runs[0].CyclesCreated)

		latest, err := s.ListRuns(ctx, "", 1)
		require.NoError(t, err)
		require.Len(t, latest, 1)
		assert.Equal(t, "c", latest[0].ID)
	})
}

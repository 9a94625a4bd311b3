// Package memory provides an in-memory vacation.TxStore for tests and the
// "memory" database driver.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/warp/vacation-engine/generic"
	"github.com/warp/vacation-engine/vacation"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps employees, cycles, requests and runs in maps.
//
// WithEmployeeTx holds a per-employee mutex for the duration of fn. Request
// writes (SaveRequest, DeleteRequest) take the same mutex, so an approval
// can't land between a reconciliation's read and its write.
type Memory struct {
	mu        sync.RWMutex
	employees map[vacation.EmployeeID]vacation.Employee
	cycles    map[vacation.EmployeeID][]vacation.Cycle
	requests  map[vacation.EmployeeID][]vacation.Request
	runs      []vacation.Run
	nextID    int

	locksMu sync.Mutex
	locks   map[vacation.EmployeeID]*sync.Mutex

	// fault, when set, is consulted before every store call.
	fault func(op string) error
}

var (
	_ vacation.TxStore = (*Memory)(nil)
	_ vacation.RunLog  = (*Memory)(nil)
)

func New() *Memory {
	return &Memory{
		employees: make(map[vacation.EmployeeID]vacation.Employee),
		cycles:    make(map[vacation.EmployeeID][]vacation.Cycle),
		requests:  make(map[vacation.EmployeeID][]vacation.Request),
		locks:     make(map[vacation.EmployeeID]*sync.Mutex),
	}
}

// InjectFault installs a hook that can fail store calls by operation name
// ("get_employee", "list_employees", "list_cycles", "upsert_cycle",
// "delete_cycles", "list_requests"). Pass nil to clear it.
func (m *Memory) InjectFault(fn func(op string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

func (m *Memory) check(op string) error {
	m.mu.RLock()
	fault := m.fault
	m.mu.RUnlock()
	if fault == nil {
		return nil
	}
	return fault(op)
}

func (m *Memory) employeeLock(id vacation.EmployeeID) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, emp vacation.Employee) error {
	if emp.ID == "" {
		return fmt.Errorf("memory: employee id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[emp.ID] = emp
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id vacation.EmployeeID) (vacation.Employee, error) {
	if err := m.check("get_employee"); err != nil {
		return vacation.Employee{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	emp, ok := m.employees[id]
	if !ok {
		return vacation.Employee{}, fmt.Errorf("%w: %s", vacation.ErrEmployeeNotFound, id)
	}
	return emp, nil
}

func (m *Memory) ListEmployees(_ context.Context, activeOnly bool) ([]vacation.Employee, error) {
	if err := m.check("list_employees"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]vacation.Employee, 0, len(m.employees))
	for _, emp := range m.employees {
		if activeOnly && !emp.IsActive {
			continue
		}
		out = append(out, emp)
	}
	slices.SortFunc(out, func(a, b vacation.Employee) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// =============================================================================
// CYCLES (vacation.CycleStore)
// =============================================================================

func (m *Memory) ListByEmployee(_ context.Context, id vacation.EmployeeID) ([]vacation.Cycle, error) {
	if err := m.check("list_cycles"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.cycles[id]), nil
}

// Upsert inserts or replaces the cycle keyed by employee + start date,
// enforcing optimistic versioning.
func (m *Memory) Upsert(_ context.Context, c vacation.Cycle) (vacation.Cycle, error) {
	if err := m.check("upsert_cycle"); err != nil {
		return vacation.Cycle{}, err
	}
	if err := c.Validate(); err != nil {
		return vacation.Cycle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cycles := m.cycles[c.EmployeeID]
	i, found := slices.BinarySearchFunc(cycles, c.StartDate, func(e vacation.Cycle, d generic.Date) int {
		return e.StartDate.Compare(d)
	})

	if found {
		existing := cycles[i]
		if existing.Version != c.Version {
			return vacation.Cycle{}, &generic.ConflictError{Key: c.Key(), ExpectedVersion: c.Version, ActualVersion: existing.Version}
		}
		c.ID = existing.ID
		c.Version = existing.Version + 1
		cycles[i] = c
		return c, nil
	}

	if c.Version != 0 {
		return vacation.Cycle{}, &generic.ConflictError{Key: c.Key(), ExpectedVersion: c.Version, ActualVersion: 0}
	}
	m.nextID++
	c.ID = vacation.CycleID(fmt.Sprintf("cyc-%d", m.nextID))
	c.Version = 1
	m.cycles[c.EmployeeID] = slices.Insert(cycles, i, c)
	return c, nil
}

func (m *Memory) DeleteAllForEmployee(_ context.Context, id vacation.EmployeeID) (int, error) {
	if err := m.check("delete_cycles"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.cycles[id])
	delete(m.cycles, id)
	return n, nil
}

// =============================================================================
// REQUESTS (vacation.RequestStore)
// =============================================================================

// SaveRequest inserts or replaces a request. It serializes with any
// reconciliation transaction running for the same employee.
func (m *Memory) SaveRequest(_ context.Context, r vacation.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	lock := m.employeeLock(r.EmployeeID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := m.requests[r.EmployeeID]
	for i := range reqs {
		if reqs[i].ID == r.ID {
			reqs[i] = r
			sortRequests(reqs)
			return nil
		}
	}
	reqs = append(reqs, r)
	sortRequests(reqs)
	m.requests[r.EmployeeID] = reqs
	return nil
}

// DeleteRequest removes a request; unknown ids are ignored.
func (m *Memory) DeleteRequest(_ context.Context, employeeID vacation.EmployeeID, id vacation.RequestID) error {
	lock := m.employeeLock(employeeID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[employeeID] = slices.DeleteFunc(m.requests[employeeID], func(r vacation.Request) bool {
		return r.ID == id
	})
	return nil
}

func (m *Memory) ListApprovedByEmployee(_ context.Context, id vacation.EmployeeID) ([]vacation.Request, error) {
	if err := m.check("list_requests"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []vacation.Request
	for _, r := range m.requests[id] {
		if r.Status == vacation.StatusApproved {
			out = append(out, r)
		}
	}
	return out, nil
}

func sortRequests(reqs []vacation.Request) {
	slices.SortStableFunc(reqs, func(a, b vacation.Request) int { return a.StartDate.Compare(b.StartDate) })
}

// =============================================================================
// TRANSACTIONS (vacation.TxStore)
// =============================================================================

// WithEmployeeTx runs fn holding the employee's lock. The employee's cycles
// are snapshotted first and restored if fn fails.
func (m *Memory) WithEmployeeTx(ctx context.Context, id vacation.EmployeeID, fn func(vacation.Store) error) error {
	lock := m.employeeLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	snapshot := slices.Clone(m.cycles[id])
	m.mu.RUnlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		if snapshot == nil {
			delete(m.cycles, id)
		} else {
			m.cycles[id] = snapshot
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// =============================================================================
// RUN LOG (vacation.RunLog)
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run vacation.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// ListRuns returns the most recent runs first. An empty employee id lists
// runs for everyone; limit <= 0 means no limit.
func (m *Memory) ListRuns(_ context.Context, employeeID vacation.EmployeeID, limit int) ([]vacation.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []vacation.Run
	for i := len(m.runs) - 1; i >= 0; i-- {
		run := m.runs[i]
		if employeeID != "" && run.EmployeeID != employeeID {
			continue
		}
		out = append(out, run)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

/*
Package postgres provides a pgx-backed vacation.TxStore.

PURPOSE:
  Production store for deployments that share one database between
  several server or worker processes.

CONCURRENCY:
  WithEmployeeTx opens a READ COMMITTED transaction and locks the
  employee row with SELECT ... FOR UPDATE before anything else. SaveRequest
  takes the same row lock, so a request approval either commits before a
  reconciliation reads (and is seen by it) or waits until it has written. Serialization failures and
  deadlocks surface as generic.ErrConcurrentModification and are retried
  by the reconciler from a fresh read.

ERRORS:
  40001, 40P01, 23505     -> generic.ErrConcurrentModification
  08xxx, 53xxx, 57P0x,
  dial/timeout failures   -> generic.ErrStoreUnavailable

SEE ALSO:
  - store/sqlite: same schema for SQLite
  - vacation/store.go: the contract
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/vacation-engine/generic"
	"github.com/warp/vacation-engine/vacation"
)

// Store implements vacation.TxStore and vacation.RunLog on PostgreSQL.
type Store struct {
	queries
	pool *pgxpool.Pool
}

var (
	_ vacation.TxStore = (*Store)(nil)
	_ vacation.RunLog  = (*Store)(nil)
)

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("ping", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The caller owns migrations.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{q: pool}, pool: pool}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks connectivity; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.pool.Ping(ctx))
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		hire_date DATE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS vacation_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		days_requested INTEGER NOT NULL CHECK (days_requested > 0),
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_employee_status
		ON vacation_requests(employee_id, status, start_date)`,
	`CREATE TABLE IF NOT EXISTS vacation_cycles (
		id UUID PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		cycle_start_date DATE NOT NULL,
		cycle_end_date DATE NOT NULL,
		years_of_service INTEGER NOT NULL,
		days_earned INTEGER NOT NULL CHECK (days_earned >= 0),
		days_used INTEGER NOT NULL CHECK (days_used >= 0),
		days_available INTEGER NOT NULL CHECK (days_available >= 0),
		is_expired BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (employee_id, cycle_start_date)
	)`,
	`CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		reference_date DATE NOT NULL,
		status TEXT NOT NULL,
		dry_run BOOLEAN NOT NULL DEFAULT FALSE,
		cycles_created INTEGER NOT NULL DEFAULT 0,
		cycles_updated INTEGER NOT NULL DEFAULT 0,
		warning TEXT,
		error TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_employee
		ON reconciliation_runs(employee_id, started_at DESC)`,
}

// Migrate creates the tables if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// Reset truncates every table. Test helper; never called by the engine.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`TRUNCATE reconciliation_runs, vacation_cycles, vacation_requests, employees`)
	return classify("reset", err)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithEmployeeTx runs fn in a READ COMMITTED transaction holding the
// employee's row lock. Every statement after the lock sees request changes
// committed by whoever held it before.
func (s *Store) WithEmployeeTx(ctx context.Context, employeeID vacation.EmployeeID, fn func(vacation.Store) error) error {
	return s.withLockedEmployee(ctx, employeeID, func(tx pgx.Tx) error {
		return fn(&queries{q: tx})
	})
}

func (s *Store) withLockedEmployee(ctx context.Context, employeeID vacation.EmployeeID, fn func(pgx.Tx) error) error {
	// The row lock must be the first statement. Under REPEATABLE READ the
	// snapshot would be taken while waiting for it.
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM employees WHERE id = $1 FOR UPDATE`, string(employeeID)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", vacation.ErrEmployeeNotFound, employeeID)
	}
	if err != nil {
		return classify("lock employee", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

// =============================================================================
// WRITES OUTSIDE THE ENGINE
// =============================================================================

// SaveEmployee inserts or replaces an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp vacation.Employee) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (id, name, hire_date, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			hire_date = EXCLUDED.hire_date,
			is_active = EXCLUDED.is_active
	`, string(emp.ID), emp.Name, dateArg(emp.HireDate), emp.IsActive)
	return classify("save employee", err)
}

// SaveRequest inserts or replaces a request while holding the employee's
// row lock.
func (s *Store) SaveRequest(ctx context.Context, r vacation.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.withLockedEmployee(ctx, r.EmployeeID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO vacation_requests (id, employee_id, start_date, end_date, days_requested, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				start_date = EXCLUDED.start_date,
				end_date = EXCLUDED.end_date,
				days_requested = EXCLUDED.days_requested,
				status = EXCLUDED.status
		`, string(r.ID), string(r.EmployeeID), r.StartDate.Time(), r.EndDate.Time(), r.DaysRequested, string(r.Status))
		return classify("save request", err)
	})
}

// DeleteRequest removes a request; unknown ids are ignored.
func (s *Store) DeleteRequest(ctx context.Context, employeeID vacation.EmployeeID, id vacation.RequestID) error {
	return s.withLockedEmployee(ctx, employeeID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM vacation_requests WHERE employee_id = $1 AND id = $2`,
			string(employeeID), string(id))
		return classify("delete request", err)
	})
}

// =============================================================================
// RUN LOG
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, run vacation.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconciliation_runs
		(id, employee_id, reference_date, status, dry_run, cycles_created, cycles_updated,
		 warning, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, run.ID, string(run.EmployeeID), run.ReferenceDate.Time(), string(run.Status), run.DryRun,
		run.CyclesCreated, run.CyclesUpdated, nullText(run.Warning), nullText(run.Error),
		run.StartedAt, run.CompletedAt)
	return classify("save run", err)
}

// ListRuns returns the most recent runs first. An empty employee id lists
// all runs; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, employeeID vacation.EmployeeID, limit int) ([]vacation.Run, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, employee_id, reference_date, status, dry_run, cycles_created, cycles_updated,
		       COALESCE(warning, ''), COALESCE(error, ''), started_at, completed_at
		FROM reconciliation_runs
		WHERE ($1::text = '' OR employee_id = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`, string(employeeID), lim)
	if err != nil {
		return nil, classify("list runs", err)
	}
	defer rows.Close()

	var runs []vacation.Run
	for rows.Next() {
		var (
			run        vacation.Run
			employee   string
			status     string
			referenced time.Time
		)
		if err := rows.Scan(&run.ID, &employee, &referenced, &status, &run.DryRun,
			&run.CyclesCreated, &run.CyclesUpdated, &run.Warning, &run.Error,
			&run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		run.EmployeeID = vacation.EmployeeID(employee)
		run.Status = vacation.RunStatus(status)
		run.ReferenceDate = generic.DateOf(referenced)
		runs = append(runs, run)
	}
	return runs, classify("list runs", rows.Err())
}

// =============================================================================
// QUERIES - vacation.Store over the pool or a transaction
// =============================================================================

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q querier
}

func scanEmployee(row pgx.Row) (vacation.Employee, error) {
	var (
		id, name string
		hire     pgtype.Date
		active   bool
	)
	if err := row.Scan(&id, &name, &hire, &active); err != nil {
		return vacation.Employee{}, err
	}
	emp := vacation.Employee{ID: vacation.EmployeeID(id), Name: name, IsActive: active}
	if hire.Valid {
		emp.HireDate = generic.DateOf(hire.Time)
	}
	return emp, nil
}

func (s *queries) GetEmployee(ctx context.Context, id vacation.EmployeeID) (vacation.Employee, error) {
	emp, err := scanEmployee(s.q.QueryRow(ctx,
		`SELECT id, name, hire_date, is_active FROM employees WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return vacation.Employee{}, fmt.Errorf("%w: %s", vacation.ErrEmployeeNotFound, id)
	}
	if err != nil {
		return vacation.Employee{}, classify("get employee", err)
	}
	return emp, nil
}

func (s *queries) ListEmployees(ctx context.Context, activeOnly bool) ([]vacation.Employee, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, name, hire_date, is_active FROM employees
		WHERE (NOT $1 OR is_active)
		ORDER BY id
	`, activeOnly)
	if err != nil {
		return nil, classify("list employees", err)
	}
	defer rows.Close()

	var out []vacation.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan employee: %w", err)
		}
		out = append(out, emp)
	}
	return out, classify("list employees", rows.Err())
}

func (s *queries) ListByEmployee(ctx context.Context, id vacation.EmployeeID) ([]vacation.Cycle, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id::text, employee_id, cycle_start_date, cycle_end_date, years_of_service,
		       days_earned, days_used, days_available, is_expired, version
		FROM vacation_cycles
		WHERE employee_id = $1
		ORDER BY cycle_start_date
	`, string(id))
	if err != nil {
		return nil, classify("list cycles", err)
	}
	defer rows.Close()

	var out []vacation.Cycle
	for rows.Next() {
		var (
			c            vacation.Cycle
			cycleID, emp string
			start, end   time.Time
		)
		if err := rows.Scan(&cycleID, &emp, &start, &end, &c.YearsOfService,
			&c.DaysEarned, &c.DaysUsed, &c.DaysAvailable, &c.IsExpired, &c.Version); err != nil {
			return nil, fmt.Errorf("postgres: scan cycle: %w", err)
		}
		c.ID = vacation.CycleID(cycleID)
		c.EmployeeID = vacation.EmployeeID(emp)
		c.StartDate = generic.DateOf(start)
		c.EndDate = generic.DateOf(end)
		out = append(out, c)
	}
	return out, classify("list cycles", rows.Err())
}

// Upsert inserts a cycle when Version is 0 and otherwise updates it if the
// stored version still matches.
func (s *queries) Upsert(ctx context.Context, c vacation.Cycle) (vacation.Cycle, error) {
	if err := c.Validate(); err != nil {
		return vacation.Cycle{}, err
	}

	if c.Version == 0 {
		c.ID = vacation.CycleID(uuid.NewString())
		tag, err := s.q.Exec(ctx, `
			INSERT INTO vacation_cycles
			(id, employee_id, cycle_start_date, cycle_end_date, years_of_service,
			 days_earned, days_used, days_available, is_expired, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
			ON CONFLICT (employee_id, cycle_start_date) DO NOTHING
		`, string(c.ID), string(c.EmployeeID), c.StartDate.Time(), c.EndDate.Time(), c.YearsOfService,
			c.DaysEarned, c.DaysUsed, c.DaysAvailable, c.IsExpired)
		if err != nil {
			return vacation.Cycle{}, classify("insert cycle", err)
		}
		if tag.RowsAffected() == 0 {
			return vacation.Cycle{}, s.conflict(ctx, c)
		}
		c.Version = 1
		return c, nil
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE vacation_cycles SET
			cycle_end_date = $1, years_of_service = $2, days_earned = $3, days_used = $4,
			days_available = $5, is_expired = $6, version = version + 1, updated_at = now()
		WHERE employee_id = $7 AND cycle_start_date = $8 AND version = $9
	`, c.EndDate.Time(), c.YearsOfService, c.DaysEarned, c.DaysUsed, c.DaysAvailable, c.IsExpired,
		string(c.EmployeeID), c.StartDate.Time(), c.Version)
	if err != nil {
		return vacation.Cycle{}, classify("update cycle", err)
	}
	if tag.RowsAffected() == 0 {
		return vacation.Cycle{}, s.conflict(ctx, c)
	}
	c.Version++
	return c, nil
}

func (s *queries) conflict(ctx context.Context, c vacation.Cycle) error {
	var actual int
	err := s.q.QueryRow(ctx,
		`SELECT version FROM vacation_cycles WHERE employee_id = $1 AND cycle_start_date = $2`,
		string(c.EmployeeID), c.StartDate.Time(),
	).Scan(&actual)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return classify("read cycle version", err)
	}
	return &generic.ConflictError{Key: c.Key(), ExpectedVersion: c.Version, ActualVersion: actual}
}

func (s *queries) DeleteAllForEmployee(ctx context.Context, id vacation.EmployeeID) (int, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM vacation_cycles WHERE employee_id = $1`, string(id))
	if err != nil {
		return 0, classify("delete cycles", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *queries) ListApprovedByEmployee(ctx context.Context, id vacation.EmployeeID) ([]vacation.Request, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, employee_id, start_date, end_date, days_requested, status
		FROM vacation_requests
		WHERE employee_id = $1 AND status = $2
		ORDER BY start_date, id
	`, string(id), string(vacation.StatusApproved))
	if err != nil {
		return nil, classify("list requests", err)
	}
	defer rows.Close()

	var out []vacation.Request
	for rows.Next() {
		var (
			reqID, emp, status string
			start, end         time.Time
			r                  vacation.Request
		)
		if err := rows.Scan(&reqID, &emp, &start, &end, &r.DaysRequested, &status); err != nil {
			return nil, fmt.Errorf("postgres: scan request: %w", err)
		}
		r.ID = vacation.RequestID(reqID)
		r.EmployeeID = vacation.EmployeeID(emp)
		r.StartDate = generic.DateOf(start)
		r.EndDate = generic.DateOf(end)
		r.Status = vacation.RequestStatus(status)
		out = append(out, r)
	}
	return out, classify("list requests", rows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

// classify maps pgx errors onto the generic store errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "23505":
			return fmt.Errorf("%s: %w: %s", op, generic.ErrConcurrentModification, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57P0"):
			return generic.Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return generic.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func dateArg(d generic.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.Time()
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

/*
Package sqlite provides a SQLite-backed vacation.TxStore.

PURPOSE:
  Persists employees, vacation requests, vacation cycles and the
  reconciliation run log in a single SQLite file. Used by the server and
  the CLI when DB_DRIVER=sqlite.

KEY TABLES:
  employees:           Hire date and active flag (read by the engine)
  vacation_requests:   Requests with status; only approved ones count
  vacation_cycles:     One row per employee anniversary, versioned
  reconciliation_runs: Audit trail of passes

CONSTRAINTS:
  - UNIQUE(employee_id, cycle_start_date) rejects duplicate cycles
  - CHECK constraints reject negative usage and availability
  - version column backs optimistic locking in Upsert

CONCURRENCY:
  The pool is limited to one connection, so an employee transaction owns
  the database until it commits. SQLite only allows one writer anyway;
  this also keeps ":memory:" databases on a single connection.

ERRORS:
  SQLITE_BUSY / SQLITE_LOCKED  -> generic.ErrStoreUnavailable
  unique constraint on cycles  -> generic.ErrConcurrentModification

USAGE:
  store, err := sqlite.New("./data/vacation.db")
  if err != nil {
      return err
  }
  defer store.Close()

SEE ALSO:
  - vacation/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
  - store/postgres: pgx implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/vacation-engine/generic"
	"github.com/warp/vacation-engine/vacation"
)

// Store implements vacation.TxStore and vacation.RunLog using SQLite.
type Store struct {
	queries
	db *sql.DB
}

var (
	_ vacation.TxStore = (*Store)(nil)
	_ vacation.RunLog  = (*Store)(nil)
)

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{queries: queries{q: db}, db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.PingContext(ctx))
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		hire_date TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vacation_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		days_requested INTEGER NOT NULL CHECK (days_requested > 0),
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee_status
		ON vacation_requests(employee_id, status, start_date);

	CREATE TABLE IF NOT EXISTS vacation_cycles (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		cycle_start_date TEXT NOT NULL,
		cycle_end_date TEXT NOT NULL,
		years_of_service INTEGER NOT NULL,
		days_earned INTEGER NOT NULL CHECK (days_earned >= 0),
		days_used INTEGER NOT NULL CHECK (days_used >= 0),
		days_available INTEGER NOT NULL CHECK (days_available >= 0),
		is_expired INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL,
		UNIQUE (employee_id, cycle_start_date)
	);

	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		reference_date TEXT NOT NULL,
		status TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		cycles_created INTEGER NOT NULL DEFAULT 0,
		cycles_updated INTEGER NOT NULL DEFAULT 0,
		warning TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_employee
		ON reconciliation_runs(employee_id, started_at DESC);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithEmployeeTx runs fn inside a database transaction. With a single
// connection the transaction is exclusive for its whole duration.
func (s *Store) WithEmployeeTx(ctx context.Context, employeeID vacation.EmployeeID, fn func(vacation.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// =============================================================================
// WRITES OUTSIDE THE ENGINE
// =============================================================================

// SaveEmployee inserts or replaces an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp vacation.Employee) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, hire_date, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			hire_date = excluded.hire_date,
			is_active = excluded.is_active
	`, emp.ID, emp.Name, emp.HireDate, emp.IsActive, now())
	return classify("save employee", err)
}

// SaveRequest inserts or replaces a vacation request.
func (s *Store) SaveRequest(ctx context.Context, r vacation.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vacation_requests (id, employee_id, start_date, end_date, days_requested, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			days_requested = excluded.days_requested,
			status = excluded.status
	`, r.ID, r.EmployeeID, r.StartDate, r.EndDate, r.DaysRequested, string(r.Status), now())
	return classify("save request", err)
}

// DeleteRequest removes a request; unknown ids are ignored.
func (s *Store) DeleteRequest(ctx context.Context, employeeID vacation.EmployeeID, id vacation.RequestID) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM vacation_requests WHERE employee_id = ? AND id = ?", employeeID, id)
	return classify("delete request", err)
}

// =============================================================================
// RUN LOG
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, run vacation.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs
		(id, employee_id, reference_date, status, dry_run, cycles_created, cycles_updated,
		 warning, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.EmployeeID, run.ReferenceDate, string(run.Status), run.DryRun,
		run.CyclesCreated, run.CyclesUpdated, nullString(run.Warning), nullString(run.Error),
		run.StartedAt.UTC().Format(timestampLayout), run.CompletedAt.UTC().Format(timestampLayout))
	return classify("save run", err)
}

// ListRuns returns the most recent runs first. An empty employee id lists
// all runs; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, employeeID vacation.EmployeeID, limit int) ([]vacation.Run, error) {
	query := `
		SELECT id, employee_id, reference_date, status, dry_run, cycles_created, cycles_updated,
		       warning, error, started_at, completed_at
		FROM reconciliation_runs
		WHERE (? = '' OR employee_id = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, employeeID, employeeID, limit)
	if err != nil {
		return nil, classify("list runs", err)
	}
	defer rows.Close()

	var runs []vacation.Run
	for rows.Next() {
		var (
			run                  vacation.Run
			status               string
			warning, errText     sql.NullString
			startedAt, completed string
		)
		if err := rows.Scan(&run.ID, &run.EmployeeID, &run.ReferenceDate, &status, &run.DryRun,
			&run.CyclesCreated, &run.CyclesUpdated, &warning, &errText, &startedAt, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = vacation.RunStatus(status)
		run.Warning = warning.String
		run.Error = errText.String
		run.StartedAt, _ = time.Parse(timestampLayout, startedAt)
		run.CompletedAt, _ = time.Parse(timestampLayout, completed)
		runs = append(runs, run)
	}
	return runs, classify("list runs", rows.Err())
}

// =============================================================================
// QUERIES - vacation.Store over a *sql.DB or *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

func (s *queries) GetEmployee(ctx context.Context, id vacation.EmployeeID) (vacation.Employee, error) {
	var emp vacation.Employee
	err := s.q.QueryRowContext(ctx,
		"SELECT id, name, hire_date, is_active FROM employees WHERE id = ?", id,
	).Scan(&emp.ID, &emp.Name, &emp.HireDate, &emp.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return vacation.Employee{}, fmt.Errorf("%w: %s", vacation.ErrEmployeeNotFound, id)
	}
	if err != nil {
		return vacation.Employee{}, classify("get employee", err)
	}
	return emp, nil
}

func (s *queries) ListEmployees(ctx context.Context, activeOnly bool) ([]vacation.Employee, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, hire_date, is_active FROM employees
		WHERE (? = 0 OR is_active = 1)
		ORDER BY id
	`, activeOnly)
	if err != nil {
		return nil, classify("list employees", err)
	}
	defer rows.Close()

	var out []vacation.Employee
	for rows.Next() {
		var emp vacation.Employee
		if err := rows.Scan(&emp.ID, &emp.Name, &emp.HireDate, &emp.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, emp)
	}
	return out, classify("list employees", rows.Err())
}

const cycleColumns = `id, employee_id, cycle_start_date, cycle_end_date, years_of_service,
	days_earned, days_used, days_available, is_expired, version`

func (s *queries) ListByEmployee(ctx context.Context, id vacation.EmployeeID) ([]vacation.Cycle, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+cycleColumns+" FROM vacation_cycles WHERE employee_id = ? ORDER BY cycle_start_date", id)
	if err != nil {
		return nil, classify("list cycles", err)
	}
	defer rows.Close()

	var out []vacation.Cycle
	for rows.Next() {
		var c vacation.Cycle
		if err := rows.Scan(&c.ID, &c.EmployeeID, &c.StartDate, &c.EndDate, &c.YearsOfService,
			&c.DaysEarned, &c.DaysUsed, &c.DaysAvailable, &c.IsExpired, &c.Version); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
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
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO vacation_cycles
			(id, employee_id, cycle_start_date, cycle_end_date, years_of_service,
			 days_earned, days_used, days_available, is_expired, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		`, c.ID, c.EmployeeID, c.StartDate, c.EndDate, c.YearsOfService,
			c.DaysEarned, c.DaysUsed, c.DaysAvailable, c.IsExpired, now())
		if isUniqueConstraintError(err) {
			return vacation.Cycle{}, s.conflict(ctx, c)
		}
		if err != nil {
			return vacation.Cycle{}, classify("insert cycle", err)
		}
		c.Version = 1
		return c, nil
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE vacation_cycles SET
			cycle_end_date = ?, years_of_service = ?, days_earned = ?, days_used = ?,
			days_available = ?, is_expired = ?, version = version + 1, updated_at = ?
		WHERE employee_id = ? AND cycle_start_date = ? AND version = ?
	`, c.EndDate, c.YearsOfService, c.DaysEarned, c.DaysUsed, c.DaysAvailable, c.IsExpired, now(),
		c.EmployeeID, c.StartDate, c.Version)
	if err != nil {
		return vacation.Cycle{}, classify("update cycle", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return vacation.Cycle{}, classify("update cycle", err)
	}
	if n == 0 {
		return vacation.Cycle{}, s.conflict(ctx, c)
	}
	c.Version++
	return c, nil
}

func (s *queries) conflict(ctx context.Context, c vacation.Cycle) error {
	var actual int
	err := s.q.QueryRowContext(ctx,
		"SELECT version FROM vacation_cycles WHERE employee_id = ? AND cycle_start_date = ?",
		c.EmployeeID, c.StartDate,
	).Scan(&actual)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return classify("read cycle version", err)
	}
	return &generic.ConflictError{Key: c.Key(), ExpectedVersion: c.Version, ActualVersion: actual}
}

func (s *queries) DeleteAllForEmployee(ctx context.Context, id vacation.EmployeeID) (int, error) {
	res, err := s.q.ExecContext(ctx, "DELETE FROM vacation_cycles WHERE employee_id = ?", id)
	if err != nil {
		return 0, classify("delete cycles", err)
	}
	n, err := res.RowsAffected()
	return int(n), classify("delete cycles", err)
}

func (s *queries) ListApprovedByEmployee(ctx context.Context, id vacation.EmployeeID) ([]vacation.Request, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, employee_id, start_date, end_date, days_requested, status
		FROM vacation_requests
		WHERE employee_id = ? AND status = ?
		ORDER BY start_date, id
	`, id, string(vacation.StatusApproved))
	if err != nil {
		return nil, classify("list requests", err)
	}
	defer rows.Close()

	var out []vacation.Request
	for rows.Next() {
		var (
			r      vacation.Request
			status string
		)
		if err := rows.Scan(&r.ID, &r.EmployeeID, &r.StartDate, &r.EndDate, &r.DaysRequested, &status); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		r.Status = vacation.RequestStatus(status)
		out = append(out, r)
	}
	return out, classify("list requests", rows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

// classify maps driver errors onto the generic store errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return generic.Unavailable(op, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return generic.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// timestampLayout is fixed width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

func now() string {
	return time.Now().UTC().Format(timestampLayout)
}

package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/warp/vacation-engine/generic"
)

const (
	// QueueDefault is the queue reconciliation tasks run on.
	QueueDefault = "default"
	// TaskReconcile reconciles one employee or every active employee.
	TaskReconcile = "vacation:reconcile"
)

// ReconcilePayload scopes a reconciliation task: either All or a single
// EmployeeID, never both.
type ReconcilePayload struct {
	EmployeeID string `json:"employee_id,omitempty"`
	All        bool   `json:"all,omitempty"`
	// AsOf pins the reference date (YYYY-MM-DD). Empty means "today" in
	// the worker's time zone when the task runs.
	AsOf   string `json:"as_of,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
	Reset  bool   `json:"reset,omitempty"`
}

// NewReconcileTask creates a task for one employee.
func NewReconcileTask(employeeID, asOf string) (*asynq.Task, error) {
	return NewReconcileTaskWithPayload(ReconcilePayload{EmployeeID: employeeID, AsOf: asOf})
}

// NewReconcileAllTask creates a batch task over every active employee.
// Cron entries leave asOf empty.
func NewReconcileAllTask(asOf string) (*asynq.Task, error) {
	return NewReconcileTaskWithPayload(ReconcilePayload{All: true, AsOf: asOf})
}

// NewReconcileTaskWithPayload creates a task from a full payload.
func NewReconcileTaskWithPayload(payload ReconcilePayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, fmt.Errorf("reconcile task: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, body, asynq.Queue(QueueDefault)), nil
}

func (p ReconcilePayload) validate() error {
	switch {
	case p.All && p.EmployeeID != "":
		return fmt.Errorf("employee %q given for a batch run", p.EmployeeID)
	case !p.All && p.EmployeeID == "":
		return fmt.Errorf("employee id is required")
	case p.All && p.Reset:
		return fmt.Errorf("reset needs a single employee")
	}
	if p.AsOf != "" {
		if _, err := generic.ParseDate(p.AsOf); err != nil {
			return err
		}
	}
	return nil
}

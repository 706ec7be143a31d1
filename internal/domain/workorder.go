package domain

import "time"

// WorkOrderStatus represents the lifecycle state of a job card.
type WorkOrderStatus string

// Work order statuses.
const (
	WorkOrderStatusNotStarted WorkOrderStatus = "not_started"
	WorkOrderStatusInProgress WorkOrderStatus = "in_progress"
	WorkOrderStatusCompleted  WorkOrderStatus = "completed"
	WorkOrderStatusCancelled  WorkOrderStatus = "cancelled"
)

// IsValid checks if the work order status is valid.
func (s WorkOrderStatus) IsValid() bool {
	switch s {
	case WorkOrderStatusNotStarted, WorkOrderStatusInProgress,
		WorkOrderStatusCompleted, WorkOrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true for states that accept no further transitions.
func (s WorkOrderStatus) IsTerminal() bool {
	return s == WorkOrderStatusCompleted || s == WorkOrderStatusCancelled
}

// WorkOrder binds one incident to one team. Exactly one active work order
// may exist per incident, and its TeamID must always equal the incident's
// assigned team.
type WorkOrder struct {
	ID          string          `json:"id"`
	IncidentID  string          `json:"incident_id"`
	TeamID      string          `json:"team_id"`
	Category    CategoryCode    `json:"category"`
	Status      WorkOrderStatus `json:"status"`
	AssignedAt  time.Time       `json:"assigned_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsActive returns true while the work order still occupies team capacity.
func (w *WorkOrder) IsActive() bool {
	return !w.Status.IsTerminal()
}

// ProgressStatus represents a single member's progress on a work order.
type ProgressStatus string

// Progress statuses.
const (
	ProgressPending ProgressStatus = "pending"
	ProgressStarted ProgressStatus = "started"
	ProgressDone    ProgressStatus = "done"
)

// WorkOrderProgress tracks one team member's progress on a work order.
// One pending row is created per active member at assignment time.
type WorkOrderProgress struct {
	ID          string         `json:"id"`
	WorkOrderID string         `json:"work_order_id"`
	UserID      string         `json:"user_id"`
	Status      ProgressStatus `json:"status"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

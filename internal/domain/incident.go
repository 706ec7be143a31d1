package domain

import "time"

// IncidentStatus represents the lifecycle state of a reported fault.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusNotStarted IncidentStatus = "not_started"
	IncidentStatusVerified   IncidentStatus = "verified"
	IncidentStatusAssigned   IncidentStatus = "assigned"
	IncidentStatusInProgress IncidentStatus = "in_progress"
	IncidentStatusCompleted  IncidentStatus = "completed"
	IncidentStatusCancelled  IncidentStatus = "cancelled"
)

// IsValid checks if the incident status is valid.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusNotStarted, IncidentStatusVerified, IncidentStatusAssigned,
		IncidentStatusInProgress, IncidentStatusCompleted, IncidentStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true for states that accept no further transitions.
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusCompleted || s == IncidentStatusCancelled
}

// CategoryCode represents a priority tier for an incident.
type CategoryCode string

// Category codes in descending priority order.
const (
	CategoryCritical CategoryCode = "critical"
	CategoryHigh     CategoryCode = "high"
	CategoryMedium   CategoryCode = "medium"
	CategoryLow      CategoryCode = "low"
)

// IsValid checks if the category code is valid.
func (c CategoryCode) IsValid() bool {
	switch c {
	case CategoryCritical, CategoryHigh, CategoryMedium, CategoryLow:
		return true
	}
	return false
}

// CategoryOrder lists category codes from most to least urgent.
// Scheduler batches and categorizer matching both follow this order.
var CategoryOrder = []CategoryCode{CategoryCritical, CategoryHigh, CategoryMedium, CategoryLow}

// Incident represents a reported sewage/infrastructure fault.
type Incident struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Location          string         `json:"location"`
	Priority          *CategoryCode  `json:"priority,omitempty"`
	Status            IncidentStatus `json:"status"`
	AssignedTeamID    *string        `json:"assigned_team_id,omitempty"`
	AssignedAt        *time.Time     `json:"assigned_at,omitempty"`
	CategoryReasoning string         `json:"category_reasoning,omitempty"`
	SLADeadline       *time.Time     `json:"sla_deadline,omitempty"`
	SLABreached       bool           `json:"sla_breached"`
	ReportedBy        string         `json:"reported_by"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IsAssigned returns true if the incident carries a team assignment.
func (i *Incident) IsAssigned() bool {
	return i.AssignedTeamID != nil
}

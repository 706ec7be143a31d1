package incidents

import (
	"context"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/jackc/pgx/v5"
)

// ListFilter narrows List results.
type ListFilter struct {
	Status      *domain.IncidentStatus
	TeamID      *string
	SLABreached *bool
	Limit       int
	Offset      int
}

// Repository defines the storage operations the incident service needs.
type Repository interface {
	CreateIncident(ctx context.Context, incident *domain.Incident) error
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filter ListFilter) ([]*domain.Incident, error)

	// MarkSLABreaches flags assigned and in-progress incidents whose SLA
	// deadline has passed. Returns the number of newly flagged incidents.
	MarkSLABreaches(ctx context.Context, now time.Time) (int, error)

	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetIncidentForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Incident, error)
	GetTeamForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Team, error)
	GetActiveWorkOrderForUpdateTx(ctx context.Context, tx pgx.Tx, incidentID string) (*domain.WorkOrder, error)
	UpdateIncidentStatusTx(ctx context.Context, tx pgx.Tx, id string, status domain.IncidentStatus) error
	ClearIncidentAssignmentTx(ctx context.Context, tx pgx.Tx, id string, status domain.IncidentStatus) error
	UpdateWorkOrderTx(ctx context.Context, tx pgx.Tx, order *domain.WorkOrder) error
	AdjustTeamCapacityTx(ctx context.Context, tx pgx.Tx, teamID string, delta int) error
	ListActiveTeamMemberIDsTx(ctx context.Context, tx pgx.Tx, teamID string) ([]string, error)
}

// AuditRecorder appends audit trail entries inside the service transaction.
type AuditRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error
}

// Notifier enqueues status-update notifications within the transaction. The
// fan-out covers the reporter plus, when the incident is assigned, the team's
// leader, active members and owning manager.
type Notifier interface {
	StatusUpdateTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident, previous domain.IncidentStatus, team *domain.Team, memberIDs []string) error
}

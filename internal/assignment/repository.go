package assignment

import (
	"context"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Repository defines the storage operations the assignment engine needs.
// Tx variants run inside the orchestrator's commit transaction; the ForUpdate
// reads take row locks so concurrent assignment attempts serialize per
// incident and per team capacity counter.
type Repository interface {
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListUnassignedVerified(ctx context.Context, managerID string, olderThan time.Time) ([]*domain.Incident, error)

	GetTeam(ctx context.Context, id string) (*domain.Team, error)
	ListTeamsByManager(ctx context.Context, managerID string) ([]*domain.Team, error)
	CountActiveMembers(ctx context.Context, teamID string) (int, error)
	ListActiveMembers(ctx context.Context, teamID string) ([]*domain.TeamMember, error)
	CountActiveWorkOrdersByCategory(ctx context.Context, teamID string, category domain.CategoryCode) (int, error)

	GetActiveWorkOrderByIncident(ctx context.Context, incidentID string) (*domain.WorkOrder, error)

	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListActiveManagers(ctx context.Context) ([]*domain.User, error)

	// Transaction support
	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetIncidentForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Incident, error)
	GetTeamForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Team, error)
	CreateWorkOrderTx(ctx context.Context, tx pgx.Tx, order *domain.WorkOrder) error
	DeleteWorkOrderTx(ctx context.Context, tx pgx.Tx, workOrderID string) error
	CreateProgressTx(ctx context.Context, tx pgx.Tx, rows []*domain.WorkOrderProgress) error
	DeleteProgressByWorkOrderTx(ctx context.Context, tx pgx.Tx, workOrderID string) error
	AdjustTeamCapacityTx(ctx context.Context, tx pgx.Tx, teamID string, delta int) error
	UpdateIncidentAssignmentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error
	ClearIncidentAssignmentTx(ctx context.Context, tx pgx.Tx, incidentID string) error
}

// AuditRecorder appends audit trail entries, inside or outside a transaction.
type AuditRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error
}

// Notifier enqueues assignment notification events. Implementations enqueue
// within the supplied transaction so a rolled-back assignment leaves no
// orphaned notifications.
type Notifier interface {
	AssignmentCreatedTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident, team *domain.Team, leaderID *string, memberIDs []string) error
	AssignmentRevertedTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident, team *domain.Team, memberIDs []string) error
}

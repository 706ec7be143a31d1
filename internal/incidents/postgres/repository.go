// Package postgres provides the PostgreSQL implementation of the incidents
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/civicgrid/drainflow/internal/incidents"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL incidents repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const incidentColumns = `
	id, title, description, location, priority, status,
	assigned_team_id, assigned_at, category_reasoning,
	sla_deadline, sla_breached, reported_by, created_at, updated_at
`

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	err := row.Scan(
		&inc.ID,
		&inc.Title,
		&inc.Description,
		&inc.Location,
		&inc.Priority,
		&inc.Status,
		&inc.AssignedTeamID,
		&inc.AssignedAt,
		&inc.CategoryReasoning,
		&inc.SLADeadline,
		&inc.SLABreached,
		&inc.ReportedBy,
		&inc.CreatedAt,
		&inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// CreateIncident inserts a new incident and fills in generated fields.
func (r *Repository) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO incidents (title, description, location, status, reported_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, incident.Title, incident.Description, incident.Location, incident.Status, incident.ReportedBy,
	).Scan(&incident.ID, &incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (r *Repository) ListIncidents(ctx context.Context, filter incidents.ListFilter) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []any{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.TeamID != nil {
		args = append(args, *filter.TeamID)
		query += fmt.Sprintf(" AND assigned_team_id = $%d", len(args))
	}
	if filter.SLABreached != nil {
		args = append(args, *filter.SLABreached)
		query += fmt.Sprintf(" AND sla_breached = $%d", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// MarkSLABreaches flags active incidents past their SLA deadline. Incidents
// already flagged are left alone, making the sweep idempotent.
func (r *Repository) MarkSLABreaches(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE incidents
		SET sla_breached = TRUE, updated_at = now()
		WHERE status IN ($1, $2)
		  AND NOT sla_breached
		  AND sla_deadline IS NOT NULL
		  AND sla_deadline < $3
	`, domain.IncidentStatusAssigned, domain.IncidentStatusInProgress, now)
	if err != nil {
		return 0, fmt.Errorf("mark sla breaches: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// BeginTx starts a transaction.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// GetIncidentForUpdateTx reads an incident under a row lock.
func (r *Repository) GetIncidentForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1 FOR UPDATE`
	inc, err := scanIncident(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("lock incident: %w", err)
	}
	return inc, nil
}

// GetTeamForUpdateTx locks a team row ahead of a capacity change.
func (r *Repository) GetTeamForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Team, error) {
	var t domain.Team
	var weekdays []int
	err := tx.QueryRow(ctx, `
		SELECT id, name, manager_id, leader_id, zone, capabilities,
		       shift_start_hour, shift_end_hour, shift_weekdays,
		       is_available, current_capacity, max_capacity, priority_level,
		       last_activity, available_from, created_at, updated_at
		FROM teams WHERE id = $1 FOR UPDATE
	`, id).Scan(
		&t.ID, &t.Name, &t.ManagerID, &t.LeaderID, &t.Zone, &t.Capabilities,
		&t.Shift.StartHour, &t.Shift.EndHour, &weekdays,
		&t.IsAvailable, &t.CurrentCapacity, &t.MaxCapacity, &t.PriorityLevel,
		&t.LastActivity, &t.AvailableFrom, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("lock team: %w", err)
	}
	for _, d := range weekdays {
		t.Shift.Weekdays = append(t.Shift.Weekdays, time.Weekday(d))
	}
	return &t, nil
}

// GetActiveWorkOrderForUpdateTx locks the single non-terminal work order of
// an incident.
func (r *Repository) GetActiveWorkOrderForUpdateTx(ctx context.Context, tx pgx.Tx, incidentID string) (*domain.WorkOrder, error) {
	var w domain.WorkOrder
	err := tx.QueryRow(ctx, `
		SELECT id, incident_id, team_id, category, status,
		       assigned_at, started_at, completed_at, created_at, updated_at
		FROM work_orders
		WHERE incident_id = $1 AND status NOT IN ($2, $3)
		FOR UPDATE
	`, incidentID, domain.WorkOrderStatusCompleted, domain.WorkOrderStatusCancelled,
	).Scan(
		&w.ID, &w.IncidentID, &w.TeamID, &w.Category, &w.Status,
		&w.AssignedAt, &w.StartedAt, &w.CompletedAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no active work order for incident %s", incidentID)
		}
		return nil, fmt.Errorf("lock work order: %w", err)
	}
	return &w, nil
}

// UpdateIncidentStatusTx sets the incident status within a transaction.
func (r *Repository) UpdateIncidentStatusTx(ctx context.Context, tx pgx.Tx, id string, status domain.IncidentStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE incidents SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update incident status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// ClearIncidentAssignmentTx sets the status and clears all assignment fields
// in one statement, used when a cancellation removes the incident from the
// active set.
func (r *Repository) ClearIncidentAssignmentTx(ctx context.Context, tx pgx.Tx, id string, status domain.IncidentStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE incidents
		SET status = $2,
		    assigned_team_id = NULL,
		    assigned_at = NULL,
		    priority = NULL,
		    category_reasoning = '',
		    sla_deadline = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("clear incident assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// UpdateWorkOrderTx persists status and timestamps of a work order.
func (r *Repository) UpdateWorkOrderTx(ctx context.Context, tx pgx.Tx, order *domain.WorkOrder) error {
	_, err := tx.Exec(ctx, `
		UPDATE work_orders
		SET status = $2, started_at = $3, completed_at = $4, updated_at = now()
		WHERE id = $1
	`, order.ID, order.Status, order.StartedAt, order.CompletedAt)
	if err != nil {
		return fmt.Errorf("update work order: %w", err)
	}
	return nil
}

// AdjustTeamCapacityTx changes current_capacity by delta, re-checking the
// capacity bound in the WHERE clause.
func (r *Repository) AdjustTeamCapacityTx(ctx context.Context, tx pgx.Tx, teamID string, delta int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE teams
		SET current_capacity = current_capacity + $2,
		    last_activity = now(),
		    updated_at = now()
		WHERE id = $1
		  AND current_capacity + $2 >= 0
		  AND current_capacity + $2 <= max_capacity
	`, teamID, delta)
	if err != nil {
		return fmt.Errorf("adjust team capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("capacity bound violated for team %s", teamID)
	}
	return nil
}

// ListActiveTeamMemberIDsTx returns the user ids of a team's active members.
func (r *Repository) ListActiveTeamMemberIDsTx(ctx context.Context, tx pgx.Tx, teamID string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT user_id
		FROM team_members
		WHERE team_id = $1 AND is_active
		ORDER BY joined_at
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team member ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan team member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

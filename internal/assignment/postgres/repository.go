// Package postgres provides the PostgreSQL implementation of the assignment
// repository. The ForUpdate reads take row locks so concurrent assignment
// attempts serialize on the incident and the team capacity counter.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicgrid/drainflow/internal/assignment"
	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements assignment.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL assignment repository.
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

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assignment.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// ListUnassignedVerified returns verified, unassigned incidents created
// before olderThan, oldest first. The managerID filter is currently not a
// column on incidents: every manager sees the shared verified backlog.
func (r *Repository) ListUnassignedVerified(ctx context.Context, managerID string, olderThan time.Time) ([]*domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE status = $1 AND assigned_team_id IS NULL AND created_at < $2
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, domain.IncidentStatusVerified, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list unassigned incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*domain.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

const teamColumns = `
	id, name, manager_id, leader_id, zone, capabilities,
	shift_start_hour, shift_end_hour, shift_weekdays,
	is_available, current_capacity, max_capacity, priority_level,
	last_activity, available_from, created_at, updated_at
`

func scanTeam(row pgx.Row) (*domain.Team, error) {
	var t domain.Team
	var weekdays []int
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.ManagerID,
		&t.LeaderID,
		&t.Zone,
		&t.Capabilities,
		&t.Shift.StartHour,
		&t.Shift.EndHour,
		&weekdays,
		&t.IsAvailable,
		&t.CurrentCapacity,
		&t.MaxCapacity,
		&t.PriorityLevel,
		&t.LastActivity,
		&t.AvailableFrom,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, d := range weekdays {
		t.Shift.Weekdays = append(t.Shift.Weekdays, time.Weekday(d))
	}
	return &t, nil
}

// GetTeam retrieves a team by ID.
func (r *Repository) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`
	team, err := scanTeam(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assignment.ErrTeamNotFound
		}
		return nil, fmt.Errorf("get team: %w", err)
	}
	return team, nil
}

// ListTeamsByManager returns all teams owned by a manager.
func (r *Repository) ListTeamsByManager(ctx context.Context, managerID string) ([]*domain.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE manager_id = $1 ORDER BY name`
	rows, err := r.db.Query(ctx, query, managerID)
	if err != nil {
		return nil, fmt.Errorf("list teams by manager: %w", err)
	}
	defer rows.Close()

	teams := make([]*domain.Team, 0)
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// CountActiveMembers counts active members of a team.
func (r *Repository) CountActiveMembers(ctx context.Context, teamID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM team_members WHERE team_id = $1 AND is_active`,
		teamID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active members: %w", err)
	}
	return count, nil
}

// ListActiveMembers returns the active members of a team.
func (r *Repository) ListActiveMembers(ctx context.Context, teamID string) ([]*domain.TeamMember, error) {
	query := `
		SELECT id, team_id, user_id, is_active, joined_at
		FROM team_members
		WHERE team_id = $1 AND is_active
		ORDER BY joined_at
	`
	rows, err := r.db.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("list active members: %w", err)
	}
	defer rows.Close()

	members := make([]*domain.TeamMember, 0)
	for rows.Next() {
		var m domain.TeamMember
		if err := rows.Scan(&m.ID, &m.TeamID, &m.UserID, &m.IsActive, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// CountActiveWorkOrdersByCategory counts a team's non-terminal work orders of
// the given category, used for per-category concurrency caps.
func (r *Repository) CountActiveWorkOrdersByCategory(ctx context.Context, teamID string, category domain.CategoryCode) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM work_orders
		WHERE team_id = $1 AND category = $2 AND status NOT IN ($3, $4)
	`, teamID, category, domain.WorkOrderStatusCompleted, domain.WorkOrderStatusCancelled).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active work orders: %w", err)
	}
	return count, nil
}

const workOrderColumns = `
	id, incident_id, team_id, category, status,
	assigned_at, started_at, completed_at, created_at, updated_at
`

func scanWorkOrder(row pgx.Row) (*domain.WorkOrder, error) {
	var w domain.WorkOrder
	err := row.Scan(
		&w.ID,
		&w.IncidentID,
		&w.TeamID,
		&w.Category,
		&w.Status,
		&w.AssignedAt,
		&w.StartedAt,
		&w.CompletedAt,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetActiveWorkOrderByIncident returns the single non-terminal work order
// for an incident.
func (r *Repository) GetActiveWorkOrderByIncident(ctx context.Context, incidentID string) (*domain.WorkOrder, error) {
	query := `
		SELECT ` + workOrderColumns + `
		FROM work_orders
		WHERE incident_id = $1 AND status NOT IN ($2, $3)
	`
	order, err := scanWorkOrder(r.db.QueryRow(ctx, query, incidentID,
		domain.WorkOrderStatusCompleted, domain.WorkOrderStatusCancelled))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assignment.ErrWorkOrderMissing
		}
		return nil, fmt.Errorf("get active work order: %w", err)
	}
	return order, nil
}

// GetUser retrieves a user by ID.
func (r *Repository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRow(ctx, `
		SELECT id, email, name, role, is_active, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s not found", id)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ListActiveManagers returns active users holding the manager role that own
// at least one team.
func (r *Repository) ListActiveManagers(ctx context.Context) ([]*domain.User, error) {
	query := `
		SELECT u.id, u.email, u.name, u.role, u.is_active, u.created_at, u.updated_at
		FROM users u
		WHERE u.is_active AND u.role IN ($1, $2)
		  AND EXISTS (SELECT 1 FROM teams t WHERE t.manager_id = u.id)
		ORDER BY u.created_at
	`
	rows, err := r.db.Query(ctx, query, domain.RoleManager, domain.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("list active managers: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
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
			return nil, assignment.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("lock incident: %w", err)
	}
	return inc, nil
}

// GetTeamForUpdateTx reads a team under a row lock, serializing capacity
// changes.
func (r *Repository) GetTeamForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1 FOR UPDATE`
	team, err := scanTeam(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assignment.ErrTeamNotFound
		}
		return nil, fmt.Errorf("lock team: %w", err)
	}
	return team, nil
}

// CreateWorkOrderTx inserts a work order within a transaction.
func (r *Repository) CreateWorkOrderTx(ctx context.Context, tx pgx.Tx, order *domain.WorkOrder) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO work_orders (incident_id, team_id, category, status, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, order.IncidentID, order.TeamID, order.Category, order.Status, order.AssignedAt,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create work order: %w", err)
	}
	return nil
}

// DeleteWorkOrderTx removes a work order within a transaction.
func (r *Repository) DeleteWorkOrderTx(ctx context.Context, tx pgx.Tx, workOrderID string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM work_orders WHERE id = $1`, workOrderID)
	if err != nil {
		return fmt.Errorf("delete work order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return assignment.ErrWorkOrderMissing
	}
	return nil
}

// CreateProgressTx inserts per-member progress rows within a transaction.
func (r *Repository) CreateProgressTx(ctx context.Context, tx pgx.Tx, rows []*domain.WorkOrderProgress) error {
	for _, p := range rows {
		err := tx.QueryRow(ctx, `
			INSERT INTO work_order_progress (work_order_id, user_id, status)
			VALUES ($1, $2, $3)
			RETURNING id, updated_at
		`, p.WorkOrderID, p.UserID, p.Status).Scan(&p.ID, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create progress row: %w", err)
		}
	}
	return nil
}

// DeleteProgressByWorkOrderTx removes all progress rows of a work order.
func (r *Repository) DeleteProgressByWorkOrderTx(ctx context.Context, tx pgx.Tx, workOrderID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM work_order_progress WHERE work_order_id = $1`, workOrderID); err != nil {
		return fmt.Errorf("delete progress rows: %w", err)
	}
	return nil
}

// AdjustTeamCapacityTx changes current_capacity by delta. The WHERE clause
// re-checks the capacity bound so the invariant 0 <= current <= max holds
// even if a caller slips past validation.
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
		return assignment.ErrAssignmentIntegrityViolation
	}
	return nil
}

// UpdateIncidentAssignmentTx persists assignment fields onto an incident.
func (r *Repository) UpdateIncidentAssignmentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error {
	tag, err := tx.Exec(ctx, `
		UPDATE incidents
		SET status = $2,
		    assigned_team_id = $3,
		    assigned_at = $4,
		    priority = $5,
		    category_reasoning = $6,
		    sla_deadline = $7,
		    updated_at = now()
		WHERE id = $1
	`, incident.ID, incident.Status, incident.AssignedTeamID, incident.AssignedAt,
		incident.Priority, incident.CategoryReasoning, incident.SLADeadline)
	if err != nil {
		return fmt.Errorf("update incident assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return assignment.ErrIncidentNotFound
	}
	return nil
}

// ClearIncidentAssignmentTx resets an incident to verified with all
// assignment fields cleared.
func (r *Repository) ClearIncidentAssignmentTx(ctx context.Context, tx pgx.Tx, incidentID string) error {
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
	`, incidentID, domain.IncidentStatusVerified)
	if err != nil {
		return fmt.Errorf("clear incident assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return assignment.ErrIncidentNotFound
	}
	return nil
}

// Package postgres provides the PostgreSQL implementation of the teams
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/civicgrid/drainflow/internal/teams"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements teams.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL teams repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
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

func weekdayInts(days []time.Weekday) []int {
	out := make([]int, 0, len(days))
	for _, d := range days {
		out = append(out, int(d))
	}
	return out
}

// CreateTeam inserts a new team and fills in generated fields.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO teams (
			name, manager_id, leader_id, zone, capabilities,
			shift_start_hour, shift_end_hour, shift_weekdays,
			is_available, max_capacity, priority_level
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`,
		team.Name, team.ManagerID, team.LeaderID, team.Zone, team.Capabilities,
		team.Shift.StartHour, team.Shift.EndHour, weekdayInts(team.Shift.Weekdays),
		team.IsAvailable, team.MaxCapacity, team.PriorityLevel,
	).Scan(&team.ID, &team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

// GetTeam retrieves a team by ID.
func (r *Repository) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`
	team, err := scanTeam(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, teams.ErrTeamNotFound
		}
		return nil, fmt.Errorf("get team: %w", err)
	}
	return team, nil
}

// UpdateTeam persists editable team fields.
func (r *Repository) UpdateTeam(ctx context.Context, team *domain.Team) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE teams
		SET name = $2,
		    leader_id = $3,
		    zone = $4,
		    capabilities = $5,
		    shift_start_hour = $6,
		    shift_end_hour = $7,
		    shift_weekdays = $8,
		    max_capacity = $9,
		    priority_level = $10,
		    updated_at = now()
		WHERE id = $1
	`,
		team.ID, team.Name, team.LeaderID, team.Zone, team.Capabilities,
		team.Shift.StartHour, team.Shift.EndHour, weekdayInts(team.Shift.Weekdays),
		team.MaxCapacity, team.PriorityLevel,
	)
	if err != nil {
		return fmt.Errorf("update team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return teams.ErrTeamNotFound
	}
	return nil
}

// ListTeams returns teams matching the filter, by name.
func (r *Repository) ListTeams(ctx context.Context, filter teams.ListFilter) ([]*domain.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE 1=1`
	args := []any{}

	if filter.ManagerID != nil {
		args = append(args, *filter.ManagerID)
		query += fmt.Sprintf(" AND manager_id = $%d", len(args))
	}
	if filter.AvailableOnly {
		query += " AND is_available"
	}
	query += " ORDER BY name"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Team, 0)
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		out = append(out, team)
	}
	return out, rows.Err()
}

// SetAvailability updates the availability flag and the scheduled return.
func (r *Repository) SetAvailability(ctx context.Context, id string, available bool, availableFrom *time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE teams
		SET is_available = $2, available_from = $3, updated_at = now()
		WHERE id = $1
	`, id, available, availableFrom)
	if err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return teams.ErrTeamNotFound
	}
	return nil
}

// ReconcileAvailability flips overdue teams back to available.
func (r *Repository) ReconcileAvailability(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE teams
		SET is_available = TRUE, available_from = NULL, updated_at = now()
		WHERE NOT is_available
		  AND available_from IS NOT NULL
		  AND available_from <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("reconcile availability: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// AddMember inserts a membership row.
func (r *Repository) AddMember(ctx context.Context, member *domain.TeamMember) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO team_members (team_id, user_id, is_active)
		VALUES ($1, $2, $3)
		RETURNING id, joined_at
	`, member.TeamID, member.UserID, member.IsActive,
	).Scan(&member.ID, &member.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return teams.ErrMemberExists
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// SetMemberActive toggles a membership without deleting history.
func (r *Repository) SetMemberActive(ctx context.Context, teamID, userID string, active bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE team_members SET is_active = $3 WHERE team_id = $1 AND user_id = $2
	`, teamID, userID, active)
	if err != nil {
		return fmt.Errorf("set member active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return teams.ErrMemberNotFound
	}
	return nil
}

// ListMembers returns all members of a team.
func (r *Repository) ListMembers(ctx context.Context, teamID string) ([]*domain.TeamMember, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, team_id, user_id, is_active, joined_at
		FROM team_members
		WHERE team_id = $1
		ORDER BY joined_at
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]*domain.TeamMember, 0)
	for rows.Next() {
		var m domain.TeamMember
		if err := rows.Scan(&m.ID, &m.TeamID, &m.UserID, &m.IsActive, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

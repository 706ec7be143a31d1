package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
)

// DefaultMinCompletionDwell is the minimum time that must elapse between
// assignment and completion. Completing faster than this almost always means
// the wrong incident was closed.
const DefaultMinCompletionDwell = time.Hour

// ValidatedAssignment carries the records resolved during validation so the
// orchestrator does not re-fetch them.
type ValidatedAssignment struct {
	Team      *domain.Team
	WorkOrder *domain.WorkOrder
}

// Validator checks a team's eligibility to receive or progress an incident.
type Validator struct {
	repo               Repository
	minCompletionDwell time.Duration
	now                func() time.Time
}

// NewValidator creates a validator with the default completion dwell.
func NewValidator(repo Repository) *Validator {
	return &Validator{
		repo:               repo,
		minCompletionDwell: DefaultMinCompletionDwell,
		now:                time.Now,
	}
}

// WithMinCompletionDwell overrides the minimum completion dwell time.
func (v *Validator) WithMinCompletionDwell(d time.Duration) *Validator {
	v.minCompletionDwell = d
	return v
}

// ValidateAssignment runs the eligibility checks for moving an assigned
// incident toward targetStatus. Checks run in order and fail fast; each
// failure is a distinct sentinel so callers can report the exact problem.
// On success the resolved team and work order are returned.
func (v *Validator) ValidateAssignment(ctx context.Context, incident *domain.Incident, targetStatus domain.IncidentStatus) (*ValidatedAssignment, error) {
	if incident.AssignedTeamID == nil {
		return nil, ErrTeamAssignmentRequired
	}

	team, err := v.repo.GetTeam(ctx, *incident.AssignedTeamID)
	if err != nil {
		if errors.Is(err, ErrTeamNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("get team: %w", err)
	}

	if !team.IsAvailable {
		return nil, ErrTeamUnavailable
	}
	if !team.HasCapacity() {
		return nil, ErrTeamAtCapacity
	}

	members, err := v.repo.CountActiveMembers(ctx, team.ID)
	if err != nil {
		return nil, fmt.Errorf("count active members: %w", err)
	}
	if members == 0 {
		return nil, ErrTeamHasNoActiveMembers
	}

	order, err := v.repo.GetActiveWorkOrderByIncident(ctx, incident.ID)
	if err != nil {
		if errors.Is(err, ErrWorkOrderMissing) {
			return nil, ErrWorkOrderMissing
		}
		return nil, fmt.Errorf("get work order: %w", err)
	}
	if order.TeamID != *incident.AssignedTeamID {
		return nil, ErrWorkOrderTeamMismatch
	}

	if targetStatus == domain.IncidentStatusInProgress || targetStatus == domain.IncidentStatusCompleted {
		manager, err := v.repo.GetUser(ctx, team.ManagerID)
		if err != nil {
			return nil, fmt.Errorf("get team manager: %w", err)
		}
		if !manager.IsActive || !manager.Role.HasPermission(domain.RoleManager) {
			return nil, ErrTeamManagerInvalid
		}
	}

	if targetStatus == domain.IncidentStatusCompleted {
		if incident.AssignedAt == nil {
			return nil, ErrCompletionTooEarly
		}
		if v.now().Sub(*incident.AssignedAt) < v.minCompletionDwell {
			return nil, ErrCompletionTooEarly
		}
	}

	return &ValidatedAssignment{Team: team, WorkOrder: order}, nil
}

// ValidateEligibility checks whether a team can accept a brand-new
// assignment: availability, hard capacity, active membership, and the
// category's per-team concurrency cap. Used by the selector's filter stage
// where no work order exists yet.
func (v *Validator) ValidateEligibility(ctx context.Context, team *domain.Team, category domain.AssignmentCategory) error {
	if !team.IsAvailable {
		return ErrTeamUnavailable
	}
	if !team.HasCapacity() {
		return ErrTeamAtCapacity
	}

	members, err := v.repo.CountActiveMembers(ctx, team.ID)
	if err != nil {
		return fmt.Errorf("count active members: %w", err)
	}
	if members == 0 {
		return ErrTeamHasNoActiveMembers
	}

	if category.MaxAssignmentsPerTeam > 0 {
		active, err := v.repo.CountActiveWorkOrdersByCategory(ctx, team.ID, category.Code)
		if err != nil {
			return fmt.Errorf("count active work orders: %w", err)
		}
		if active >= category.MaxAssignmentsPerTeam {
			return ErrTeamAtCapacity
		}
	}

	return nil
}

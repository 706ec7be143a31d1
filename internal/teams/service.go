// Package teams manages work crews: creation, capacity and shift settings,
// availability windows and membership. Capacity counters themselves move only
// inside assignment and incident transactions; this service owns everything
// else about a team.
package teams

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
)

// CreateInput carries the fields for a new team.
type CreateInput struct {
	Name          string
	LeaderID      *string
	Zone          string
	Capabilities  []string
	Shift         domain.ShiftPreference
	MaxCapacity   int
	PriorityLevel int
}

// UpdateInput is a partial team update. Nil fields keep their value.
type UpdateInput struct {
	Name          *string
	LeaderID      *string
	Zone          *string
	Capabilities  *[]string
	Shift         *domain.ShiftPreference
	MaxCapacity   *int
	PriorityLevel *int
}

// Service manages teams and their membership.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a team service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create registers a new team under the acting manager.
func (s *Service) Create(ctx context.Context, input CreateInput, actor domain.Principal) (*domain.Team, error) {
	if !actor.CanAssign() {
		return nil, ErrNotAuthorized
	}
	if err := validateShift(input.Shift); err != nil {
		return nil, err
	}

	team := &domain.Team{
		Name:          strings.TrimSpace(input.Name),
		ManagerID:     actor.ID,
		LeaderID:      input.LeaderID,
		Zone:          strings.ToLower(strings.TrimSpace(input.Zone)),
		Capabilities:  input.Capabilities,
		Shift:         input.Shift,
		IsAvailable:   true,
		MaxCapacity:   input.MaxCapacity,
		PriorityLevel: input.PriorityLevel,
	}
	if team.MaxCapacity <= 0 {
		team.MaxCapacity = 5
	}
	if team.PriorityLevel < 1 || team.PriorityLevel > 5 {
		team.PriorityLevel = 3
	}

	if err := s.repo.CreateTeam(ctx, team); err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}

	slog.Info("team created", "team_id", team.ID, "manager_id", actor.ID)
	return team, nil
}

// Get returns a single team.
func (s *Service) Get(ctx context.Context, id string) (*domain.Team, error) {
	return s.repo.GetTeam(ctx, id)
}

// List returns teams matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*domain.Team, error) {
	return s.repo.ListTeams(ctx, filter)
}

// Update applies a partial change to a team owned by the actor.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput, actor domain.Principal) (*domain.Team, error) {
	team, err := s.authorize(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		team.Name = strings.TrimSpace(*input.Name)
	}
	if input.LeaderID != nil {
		team.LeaderID = input.LeaderID
	}
	if input.Zone != nil {
		team.Zone = strings.ToLower(strings.TrimSpace(*input.Zone))
	}
	if input.Capabilities != nil {
		team.Capabilities = *input.Capabilities
	}
	if input.Shift != nil {
		if err := validateShift(*input.Shift); err != nil {
			return nil, err
		}
		team.Shift = *input.Shift
	}
	if input.MaxCapacity != nil {
		if *input.MaxCapacity < team.CurrentCapacity {
			return nil, ErrCapacityTooSmall
		}
		team.MaxCapacity = *input.MaxCapacity
	}
	if input.PriorityLevel != nil && *input.PriorityLevel >= 1 && *input.PriorityLevel <= 5 {
		team.PriorityLevel = *input.PriorityLevel
	}

	if err := s.repo.UpdateTeam(ctx, team); err != nil {
		return nil, fmt.Errorf("update team: %w", err)
	}
	return team, nil
}

// SetAvailability takes a team in or out of the rotation. An optional until
// time schedules the automatic return handled by the availability sweep.
func (s *Service) SetAvailability(ctx context.Context, id string, available bool, until *time.Time, actor domain.Principal) (*domain.Team, error) {
	team, err := s.authorize(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	var availableFrom *time.Time
	if !available && until != nil && until.After(s.now()) {
		availableFrom = until
	}

	if err := s.repo.SetAvailability(ctx, id, available, availableFrom); err != nil {
		return nil, fmt.Errorf("set availability: %w", err)
	}

	team.IsAvailable = available
	team.AvailableFrom = availableFrom
	slog.Info("team availability changed",
		"team_id", id,
		"available", available,
		"available_from", availableFrom,
	)
	return team, nil
}

// ReconcileAvailability returns overdue teams to the rotation.
func (s *Service) ReconcileAvailability(ctx context.Context) (int, error) {
	count, err := s.repo.ReconcileAvailability(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("reconcile availability: %w", err)
	}
	if count > 0 {
		recordReconciled(count)
		slog.Info("teams returned to rotation", "count", count)
	}
	return count, nil
}

// AddMember puts a user on a team.
func (s *Service) AddMember(ctx context.Context, teamID, userID string, actor domain.Principal) (*domain.TeamMember, error) {
	if _, err := s.authorize(ctx, teamID, actor); err != nil {
		return nil, err
	}

	member := &domain.TeamMember{
		TeamID:   teamID,
		UserID:   userID,
		IsActive: true,
	}
	if err := s.repo.AddMember(ctx, member); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	return member, nil
}

// DeactivateMember takes a member out of active duty without deleting the
// membership record.
func (s *Service) DeactivateMember(ctx context.Context, teamID, userID string, actor domain.Principal) error {
	if _, err := s.authorize(ctx, teamID, actor); err != nil {
		return err
	}
	return s.repo.SetMemberActive(ctx, teamID, userID, false)
}

// ListMembers returns the full membership of a team.
func (s *Service) ListMembers(ctx context.Context, teamID string) ([]*domain.TeamMember, error) {
	return s.repo.ListMembers(ctx, teamID)
}

// authorize loads the team and checks the actor manages it. Admins manage
// every team.
func (s *Service) authorize(ctx context.Context, teamID string, actor domain.Principal) (*domain.Team, error) {
	if !actor.CanAssign() {
		return nil, ErrNotAuthorized
	}
	team, err := s.repo.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && team.ManagerID != actor.ID {
		return nil, ErrNotTeamManager
	}
	return team, nil
}

func validateShift(shift domain.ShiftPreference) error {
	if shift.StartHour < 0 || shift.StartHour > 23 || shift.EndHour < 0 || shift.EndHour > 23 {
		return ErrInvalidShiftHours
	}
	return nil
}

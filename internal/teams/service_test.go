package teams

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	teams   map[string]*domain.Team
	members map[string][]*domain.TeamMember

	availabilityCalls []availabilityCall
	reconciled        int
	reconciledSeenAt  time.Time
}

type availabilityCall struct {
	teamID        string
	available     bool
	availableFrom *time.Time
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		teams:   make(map[string]*domain.Team),
		members: make(map[string][]*domain.TeamMember),
	}
}

func (m *mockRepository) CreateTeam(_ context.Context, team *domain.Team) error {
	team.ID = fmt.Sprintf("team-%d", len(m.teams)+1)
	team.CreatedAt = time.Now()
	team.UpdatedAt = team.CreatedAt
	m.teams[team.ID] = team
	return nil
}

func (m *mockRepository) GetTeam(_ context.Context, id string) (*domain.Team, error) {
	if t, ok := m.teams[id]; ok {
		return t, nil
	}
	return nil, ErrTeamNotFound
}

func (m *mockRepository) UpdateTeam(_ context.Context, team *domain.Team) error {
	if _, ok := m.teams[team.ID]; !ok {
		return ErrTeamNotFound
	}
	m.teams[team.ID] = team
	return nil
}

func (m *mockRepository) ListTeams(_ context.Context, filter ListFilter) ([]*domain.Team, error) {
	var out []*domain.Team
	for _, t := range m.teams {
		if filter.ManagerID != nil && t.ManagerID != *filter.ManagerID {
			continue
		}
		if filter.AvailableOnly && !t.IsAvailable {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *mockRepository) SetAvailability(_ context.Context, id string, available bool, availableFrom *time.Time) error {
	t, ok := m.teams[id]
	if !ok {
		return ErrTeamNotFound
	}
	t.IsAvailable = available
	t.AvailableFrom = availableFrom
	m.availabilityCalls = append(m.availabilityCalls, availabilityCall{id, available, availableFrom})
	return nil
}

func (m *mockRepository) ReconcileAvailability(_ context.Context, now time.Time) (int, error) {
	m.reconciledSeenAt = now
	return m.reconciled, nil
}

func (m *mockRepository) AddMember(_ context.Context, member *domain.TeamMember) error {
	for _, existing := range m.members[member.TeamID] {
		if existing.UserID == member.UserID {
			return ErrMemberExists
		}
	}
	member.ID = fmt.Sprintf("%s-m-%d", member.TeamID, len(m.members[member.TeamID])+1)
	member.JoinedAt = time.Now()
	m.members[member.TeamID] = append(m.members[member.TeamID], member)
	return nil
}

func (m *mockRepository) SetMemberActive(_ context.Context, teamID, userID string, active bool) error {
	for _, member := range m.members[teamID] {
		if member.UserID == userID {
			member.IsActive = active
			return nil
		}
	}
	return ErrMemberNotFound
}

func (m *mockRepository) ListMembers(_ context.Context, teamID string) ([]*domain.TeamMember, error) {
	return m.members[teamID], nil
}

func managerPrincipal() domain.Principal {
	return domain.Principal{ID: "mgr-1", Role: domain.RoleManager}
}

func setupService(t *testing.T) (*Service, *mockRepository) {
	t.Helper()
	repo := newMockRepository()
	return NewService(repo), repo
}

func TestCreate_Defaults(t *testing.T) {
	svc, _ := setupService(t)

	team, err := svc.Create(context.Background(), CreateInput{Name: "  North Crew  ", Zone: "North"}, managerPrincipal())
	require.NoError(t, err)

	assert.Equal(t, "North Crew", team.Name)
	assert.Equal(t, "north", team.Zone)
	assert.Equal(t, "mgr-1", team.ManagerID)
	assert.True(t, team.IsAvailable)
	assert.Equal(t, 5, team.MaxCapacity)
	assert.Equal(t, 3, team.PriorityLevel)
	assert.Zero(t, team.CurrentCapacity)
}

func TestCreate_WorkerRejected(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Create(context.Background(), CreateInput{Name: "x"}, domain.Principal{ID: "w-1", Role: domain.RoleWorker})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestCreate_InvalidShift(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Create(context.Background(), CreateInput{
		Name:  "x",
		Shift: domain.ShiftPreference{StartHour: 25},
	}, managerPrincipal())
	assert.ErrorIs(t, err, ErrInvalidShiftHours)
}

func TestUpdate_OwnershipEnforced(t *testing.T) {
	svc, repo := setupService(t)
	repo.teams["team-1"] = &domain.Team{ID: "team-1", ManagerID: "mgr-1", MaxCapacity: 5}

	name := "renamed"
	_, err := svc.Update(context.Background(), "team-1", UpdateInput{Name: &name}, domain.Principal{ID: "mgr-2", Role: domain.RoleManager})
	assert.ErrorIs(t, err, ErrNotTeamManager)

	// Admins bypass ownership.
	team, err := svc.Update(context.Background(), "team-1", UpdateInput{Name: &name}, domain.Principal{ID: "adm-1", Role: domain.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, "renamed", team.Name)
}

func TestUpdate_CapacityBelowLoadRejected(t *testing.T) {
	svc, repo := setupService(t)
	repo.teams["team-1"] = &domain.Team{ID: "team-1", ManagerID: "mgr-1", CurrentCapacity: 3, MaxCapacity: 5}

	smaller := 2
	_, err := svc.Update(context.Background(), "team-1", UpdateInput{MaxCapacity: &smaller}, managerPrincipal())
	assert.ErrorIs(t, err, ErrCapacityTooSmall)

	equal := 3
	team, err := svc.Update(context.Background(), "team-1", UpdateInput{MaxCapacity: &equal}, managerPrincipal())
	require.NoError(t, err)
	assert.Equal(t, 3, team.MaxCapacity)
}

func TestSetAvailability_WithReturnWindow(t *testing.T) {
	svc, repo := setupService(t)
	repo.teams["team-1"] = &domain.Team{ID: "team-1", ManagerID: "mgr-1", IsAvailable: true}

	until := time.Now().Add(2 * time.Hour)
	team, err := svc.SetAvailability(context.Background(), "team-1", false, &until, managerPrincipal())
	require.NoError(t, err)

	assert.False(t, team.IsAvailable)
	require.NotNil(t, team.AvailableFrom)
	assert.Equal(t, until, *team.AvailableFrom)
}

func TestSetAvailability_PastWindowIgnored(t *testing.T) {
	svc, repo := setupService(t)
	repo.teams["team-1"] = &domain.Team{ID: "team-1", ManagerID: "mgr-1", IsAvailable: true}

	past := time.Now().Add(-time.Hour)
	team, err := svc.SetAvailability(context.Background(), "team-1", false, &past, managerPrincipal())
	require.NoError(t, err)

	assert.False(t, team.IsAvailable)
	assert.Nil(t, team.AvailableFrom, "a return moment in the past schedules nothing")
}

func TestSetAvailability_BackToAvailableClearsWindow(t *testing.T) {
	svc, repo := setupService(t)
	later := time.Now().Add(time.Hour)
	repo.teams["team-1"] = &domain.Team{ID: "team-1", ManagerID: "mgr-1", IsAvailable: false, AvailableFrom: &later}

	team, err := svc.SetAvailability(context.Background(), "team-1", true, nil, managerPrincipal())
	require.NoError(t, err)

	assert.True(t, team.IsAvailable)
	assert.Nil(t, team.AvailableFrom)
}

func TestReconcileAvailability(t *testing.T) {
	svc, repo := setupService(t)
	repo.reconciled = 2

	base := time.Date(2026, 4, 1, 7, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	count, err := svc.ReconcileAvailability(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, base, repo.reconciledSeenAt)
}

func TestMembers(t *testing.T) {
	svc, repo := setupService(t)
	repo.teams["team-1"] = &domain.Team{ID: "team-1", ManagerID: "mgr-1"}

	member, err := svc.AddMember(context.Background(), "team-1", "user-1", managerPrincipal())
	require.NoError(t, err)
	assert.True(t, member.IsActive)

	_, err = svc.AddMember(context.Background(), "team-1", "user-1", managerPrincipal())
	assert.ErrorIs(t, err, ErrMemberExists)

	require.NoError(t, svc.DeactivateMember(context.Background(), "team-1", "user-1", managerPrincipal()))

	members, err := svc.ListMembers(context.Background(), "team-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.False(t, members[0].IsActive)

	err = svc.DeactivateMember(context.Background(), "team-1", "ghost", managerPrincipal())
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

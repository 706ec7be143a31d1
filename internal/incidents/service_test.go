package incidents

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/civicgrid/drainflow/internal/assignment"
	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/civicgrid/drainflow/internal/lifecycle"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback(context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}
func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *fakeTx) Conn() *pgx.Conn                                         { return nil }

// mockRepository implements Repository in memory.
type mockRepository struct {
	incidents map[string]*domain.Incident
	teams     map[string]*domain.Team
	orders    map[string]*domain.WorkOrder // keyed by incident ID
	members   map[string][]string          // active member user ids by team ID

	created         []*domain.Incident
	capacityDeltas  []int
	slaBreachCount  int
	slaBreachSeenAt time.Time
	lastTx          *fakeTx
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		incidents: make(map[string]*domain.Incident),
		teams:     make(map[string]*domain.Team),
		orders:    make(map[string]*domain.WorkOrder),
		members:   make(map[string][]string),
	}
}

func (m *mockRepository) CreateIncident(_ context.Context, incident *domain.Incident) error {
	incident.ID = fmt.Sprintf("inc-%d", len(m.created)+1)
	incident.CreatedAt = time.Now()
	incident.UpdatedAt = incident.CreatedAt
	m.incidents[incident.ID] = incident
	m.created = append(m.created, incident)
	return nil
}

func (m *mockRepository) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	if inc, ok := m.incidents[id]; ok {
		return inc, nil
	}
	return nil, ErrIncidentNotFound
}

func (m *mockRepository) ListIncidents(_ context.Context, filter ListFilter) ([]*domain.Incident, error) {
	var out []*domain.Incident
	for _, inc := range m.incidents {
		if filter.Status != nil && inc.Status != *filter.Status {
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

func (m *mockRepository) MarkSLABreaches(_ context.Context, now time.Time) (int, error) {
	m.slaBreachSeenAt = now
	return m.slaBreachCount, nil
}

func (m *mockRepository) BeginTx(_ context.Context) (pgx.Tx, error) {
	m.lastTx = &fakeTx{}
	return m.lastTx, nil
}

func (m *mockRepository) GetIncidentForUpdateTx(_ context.Context, _ pgx.Tx, id string) (*domain.Incident, error) {
	if inc, ok := m.incidents[id]; ok {
		copied := *inc
		return &copied, nil
	}
	return nil, ErrIncidentNotFound
}

func (m *mockRepository) GetTeamForUpdateTx(_ context.Context, _ pgx.Tx, id string) (*domain.Team, error) {
	if t, ok := m.teams[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("team %s not found", id)
}

func (m *mockRepository) GetActiveWorkOrderForUpdateTx(_ context.Context, _ pgx.Tx, incidentID string) (*domain.WorkOrder, error) {
	if w, ok := m.orders[incidentID]; ok {
		return w, nil
	}
	return nil, fmt.Errorf("no active work order for incident %s", incidentID)
}

func (m *mockRepository) UpdateIncidentStatusTx(_ context.Context, _ pgx.Tx, id string, status domain.IncidentStatus) error {
	inc, ok := m.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	inc.Status = status
	return nil
}

func (m *mockRepository) ClearIncidentAssignmentTx(_ context.Context, _ pgx.Tx, id string, status domain.IncidentStatus) error {
	inc, ok := m.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	inc.Status = status
	inc.AssignedTeamID = nil
	inc.AssignedAt = nil
	inc.Priority = nil
	inc.CategoryReasoning = ""
	inc.SLADeadline = nil
	return nil
}

func (m *mockRepository) UpdateWorkOrderTx(_ context.Context, _ pgx.Tx, order *domain.WorkOrder) error {
	m.orders[order.IncidentID] = order
	return nil
}

func (m *mockRepository) AdjustTeamCapacityTx(_ context.Context, _ pgx.Tx, teamID string, delta int) error {
	t, ok := m.teams[teamID]
	if !ok {
		return fmt.Errorf("team %s not found", teamID)
	}
	t.CurrentCapacity += delta
	m.capacityDeltas = append(m.capacityDeltas, delta)
	return nil
}

func (m *mockRepository) ListActiveTeamMemberIDsTx(_ context.Context, _ pgx.Tx, teamID string) ([]string, error) {
	return m.members[teamID], nil
}

type mockAudit struct {
	entries []*domain.AuditEntry
}

func (m *mockAudit) RecordTx(_ context.Context, _ pgx.Tx, entry *domain.AuditEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

type mockNotifier struct {
	statusUpdates int
	lastTeam      *domain.Team
	lastMemberIDs []string
}

func (m *mockNotifier) StatusUpdateTx(_ context.Context, _ pgx.Tx, _ *domain.Incident, _ domain.IncidentStatus, team *domain.Team, memberIDs []string) error {
	m.statusUpdates++
	m.lastTeam = team
	m.lastMemberIDs = memberIDs
	return nil
}

// stubAssignmentRepo overrides only the reads the validator chain touches.
// Everything else panics via the nil embedded interface.
type stubAssignmentRepo struct {
	assignment.Repository
	teams   map[string]*domain.Team
	users   map[string]*domain.User
	members map[string]int
	orders  map[string]*domain.WorkOrder
}

func (s *stubAssignmentRepo) GetTeam(_ context.Context, id string) (*domain.Team, error) {
	if t, ok := s.teams[id]; ok {
		return t, nil
	}
	return nil, assignment.ErrTeamNotFound
}

func (s *stubAssignmentRepo) GetUser(_ context.Context, id string) (*domain.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s not found", id)
}

func (s *stubAssignmentRepo) CountActiveMembers(_ context.Context, teamID string) (int, error) {
	return s.members[teamID], nil
}

func (s *stubAssignmentRepo) GetActiveWorkOrderByIncident(_ context.Context, incidentID string) (*domain.WorkOrder, error) {
	if w, ok := s.orders[incidentID]; ok {
		return w, nil
	}
	return nil, assignment.ErrWorkOrderMissing
}

func leaderPrincipal() domain.Principal {
	return domain.Principal{ID: "leader-1", Role: domain.RoleLeader}
}

func managerPrincipal() domain.Principal {
	return domain.Principal{ID: "mgr-1", Role: domain.RoleManager}
}

// setupAssigned builds a service holding one assigned incident with its team
// and work order wired into both the incident repo and the validator's view.
func setupAssigned(t *testing.T, assignedAgo time.Duration) (*Service, *mockRepository, *mockAudit, *mockNotifier) {
	t.Helper()

	repo := newMockRepository()
	audit := &mockAudit{}
	notifier := &mockNotifier{}

	team := &domain.Team{
		ID:              "team-1",
		Name:            "South Crew",
		ManagerID:       "mgr-1",
		IsAvailable:     true,
		CurrentCapacity: 2,
		MaxCapacity:     5,
	}
	assignedAt := time.Now().Add(-assignedAgo)
	teamID := team.ID
	incident := &domain.Incident{
		ID:             "inc-1",
		Title:          "blocked drain",
		Status:         domain.IncidentStatusAssigned,
		AssignedTeamID: &teamID,
		AssignedAt:     &assignedAt,
	}
	order := &domain.WorkOrder{
		ID:         "wo-1",
		IncidentID: incident.ID,
		TeamID:     team.ID,
		Status:     domain.WorkOrderStatusNotStarted,
		AssignedAt: assignedAt,
	}

	repo.incidents[incident.ID] = incident
	repo.teams[team.ID] = team
	repo.orders[incident.ID] = order
	repo.members[team.ID] = []string{"worker-1", "worker-2"}

	stub := &stubAssignmentRepo{
		teams:   map[string]*domain.Team{team.ID: team},
		users:   map[string]*domain.User{"mgr-1": {ID: "mgr-1", Role: domain.RoleManager, IsActive: true}},
		members: map[string]int{team.ID: 2},
		orders:  map[string]*domain.WorkOrder{incident.ID: order},
	}

	svc := NewService(repo, assignment.NewValidator(stub), audit, notifier)
	return svc, repo, audit, notifier
}

func setupUnassigned(t *testing.T) (*Service, *mockRepository, *mockAudit) {
	t.Helper()
	repo := newMockRepository()
	audit := &mockAudit{}
	svc := NewService(repo, assignment.NewValidator(&stubAssignmentRepo{}), audit, &mockNotifier{})
	return svc, repo, audit
}

func TestReport(t *testing.T) {
	svc, repo, _ := setupUnassigned(t)

	incident, err := svc.Report(context.Background(), ReportInput{
		Title:       "  water pooling in the street  ",
		Description: "bad smell near the drain",
		Location:    "East Side",
		ReportedBy:  "user-9",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.IncidentStatusNotStarted, incident.Status)
	assert.Equal(t, "water pooling in the street", incident.Title)
	assert.NotEmpty(t, incident.ID)
	assert.Len(t, repo.created, 1)
}

func TestReport_ReporterRequired(t *testing.T) {
	svc, _, _ := setupUnassigned(t)

	_, err := svc.Report(context.Background(), ReportInput{Title: "x", Description: "y"})
	assert.ErrorIs(t, err, ErrReporterRequired)
}

func TestVerify(t *testing.T) {
	svc, repo, audit := setupUnassigned(t)
	repo.incidents["inc-1"] = &domain.Incident{ID: "inc-1", Status: domain.IncidentStatusNotStarted}

	incident, err := svc.Verify(context.Background(), "inc-1", leaderPrincipal())
	require.NoError(t, err)

	assert.Equal(t, domain.IncidentStatusVerified, incident.Status)
	assert.Equal(t, domain.IncidentStatusVerified, repo.incidents["inc-1"].Status)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "incident status changed", audit.entries[0].Action)
	assert.True(t, repo.lastTx.committed)
}

func TestVerify_WorkerRejected(t *testing.T) {
	svc, repo, _ := setupUnassigned(t)
	repo.incidents["inc-1"] = &domain.Incident{ID: "inc-1", Status: domain.IncidentStatusNotStarted}

	_, err := svc.Verify(context.Background(), "inc-1", domain.Principal{ID: "w-1", Role: domain.RoleWorker})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestTransition_AssignedTargetRejected(t *testing.T) {
	svc, repo, _ := setupUnassigned(t)
	repo.incidents["inc-1"] = &domain.Incident{ID: "inc-1", Status: domain.IncidentStatusVerified}

	_, err := svc.Transition(context.Background(), "inc-1", domain.IncidentStatusAssigned, managerPrincipal())
	assert.ErrorIs(t, err, ErrAssignmentFlowRequired)
}

func TestTransition_IllegalMove(t *testing.T) {
	svc, repo, _ := setupUnassigned(t)
	repo.incidents["inc-1"] = &domain.Incident{ID: "inc-1", Status: domain.IncidentStatusNotStarted}

	_, err := svc.Transition(context.Background(), "inc-1", domain.IncidentStatusCompleted, managerPrincipal())

	var transitionErr *lifecycle.TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, string(domain.IncidentStatusNotStarted), transitionErr.From)
}

func TestTransition_InProgressMirrorsWorkOrder(t *testing.T) {
	svc, repo, _, notifier := setupAssigned(t, 2*time.Hour)

	incident, err := svc.Transition(context.Background(), "inc-1", domain.IncidentStatusInProgress, leaderPrincipal())
	require.NoError(t, err)

	assert.Equal(t, domain.IncidentStatusInProgress, incident.Status)
	order := repo.orders["inc-1"]
	assert.Equal(t, domain.WorkOrderStatusInProgress, order.Status)
	require.NotNil(t, order.StartedAt)
	assert.Nil(t, order.CompletedAt)
	assert.Empty(t, repo.capacityDeltas, "starting work keeps the capacity slot")
	assert.Equal(t, 1, notifier.statusUpdates)
}

func TestTransition_NotifiesTeamAndManager(t *testing.T) {
	svc, _, _, notifier := setupAssigned(t, 2*time.Hour)

	_, err := svc.Transition(context.Background(), "inc-1", domain.IncidentStatusInProgress, leaderPrincipal())
	require.NoError(t, err)

	require.Equal(t, 1, notifier.statusUpdates)
	require.NotNil(t, notifier.lastTeam, "status updates carry the assigned team")
	assert.Equal(t, "mgr-1", notifier.lastTeam.ManagerID)
	assert.Equal(t, []string{"worker-1", "worker-2"}, notifier.lastMemberIDs)
}

func TestTransition_CompletedReleasesCapacity(t *testing.T) {
	svc, repo, audit, _ := setupAssigned(t, 2*time.Hour)

	incident, err := svc.Transition(context.Background(), "inc-1", domain.IncidentStatusCompleted, leaderPrincipal())
	require.NoError(t, err)

	assert.Equal(t, domain.IncidentStatusCompleted, incident.Status)
	order := repo.orders["inc-1"]
	assert.Equal(t, domain.WorkOrderStatusCompleted, order.Status)
	require.NotNil(t, order.CompletedAt)
	assert.Equal(t, []int{-1}, repo.capacityDeltas)
	assert.Equal(t, 1, repo.teams["team-1"].CurrentCapacity)
	require.Len(t, audit.entries, 1)
}

func TestTransition_CompletionDwellEnforced(t *testing.T) {
	svc, repo, _, _ := setupAssigned(t, 30*time.Minute)

	_, err := svc.Transition(context.Background(), "inc-1", domain.IncidentStatusCompleted, leaderPrincipal())
	assert.ErrorIs(t, err, assignment.ErrCompletionTooEarly)
	assert.Equal(t, domain.IncidentStatusAssigned, repo.incidents["inc-1"].Status)
	assert.Empty(t, repo.capacityDeltas)
}

func TestTransition_CancelReleasesCapacity(t *testing.T) {
	svc, repo, _, _ := setupAssigned(t, 10*time.Minute)

	incident, err := svc.Transition(context.Background(), "inc-1", domain.IncidentStatusCancelled, managerPrincipal())
	require.NoError(t, err)

	assert.Equal(t, domain.IncidentStatusCancelled, incident.Status)
	assert.Equal(t, domain.WorkOrderStatusCancelled, repo.orders["inc-1"].Status)
	assert.Equal(t, []int{-1}, repo.capacityDeltas)
	assert.Nil(t, repo.incidents["inc-1"].AssignedTeamID, "cancellation clears the assignment record")
	assert.Nil(t, repo.incidents["inc-1"].SLADeadline)
}

func TestTransition_CancelRequiresManager(t *testing.T) {
	svc, _, _, _ := setupAssigned(t, 10*time.Minute)

	_, err := svc.Transition(context.Background(), "inc-1", domain.IncidentStatusCancelled, leaderPrincipal())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestTransition_CancelVerifiedTouchesNoTeam(t *testing.T) {
	svc, repo, _ := setupUnassigned(t)
	repo.incidents["inc-1"] = &domain.Incident{ID: "inc-1", Status: domain.IncidentStatusVerified}

	incident, err := svc.Transition(context.Background(), "inc-1", domain.IncidentStatusCancelled, managerPrincipal())
	require.NoError(t, err)

	assert.Equal(t, domain.IncidentStatusCancelled, incident.Status)
	assert.Empty(t, repo.capacityDeltas)
}

func TestSLAWatcher_Sweep(t *testing.T) {
	repo := newMockRepository()
	repo.slaBreachCount = 3

	watcher := NewSLAWatcher(DefaultSLAWatchConfig(), repo)
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	watcher.now = func() time.Time { return base }

	count := watcher.Sweep(context.Background())
	assert.Equal(t, 3, count)
	assert.Equal(t, base, repo.slaBreachSeenAt)
}

package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeTx is a minimal pgx.Tx for unit tests. The mock repository ignores the
// transaction argument, so only Commit and Rollback matter.
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

type capacityChange struct {
	teamID string
	delta  int
}

// mockRepository implements Repository in memory for unit tests.
type mockRepository struct {
	incidents        map[string]*domain.Incident
	teams            map[string]*domain.Team
	users            map[string]*domain.User
	members          map[string][]*domain.TeamMember
	workOrders       map[string]*domain.WorkOrder // keyed by incident ID
	activeByCategory map[string]int               // teamID/category

	// write records
	capacityChanges  []capacityChange
	createdOrders    []*domain.WorkOrder
	createdProgress  []*domain.WorkOrderProgress
	updatedIncidents []*domain.Incident
	clearedIncidents []string
	deletedOrders    []string
	deletedProgress  []string
	lastTx           *fakeTx

	// hooks let tests mutate state between selection and commit to
	// simulate concurrent writers.
	onLockIncident func(*domain.Incident)
	onLockTeam     func(*domain.Team)
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		incidents:        make(map[string]*domain.Incident),
		teams:            make(map[string]*domain.Team),
		users:            make(map[string]*domain.User),
		members:          make(map[string][]*domain.TeamMember),
		workOrders:       make(map[string]*domain.WorkOrder),
		activeByCategory: make(map[string]int),
	}
}

func (m *mockRepository) addTeamWithMembers(team *domain.Team, memberCount int) {
	m.teams[team.ID] = team
	for i := 0; i < memberCount; i++ {
		m.members[team.ID] = append(m.members[team.ID], &domain.TeamMember{
			ID:       fmt.Sprintf("%s-member-%d", team.ID, i),
			TeamID:   team.ID,
			UserID:   fmt.Sprintf("%s-user-%d", team.ID, i),
			IsActive: true,
			JoinedAt: time.Now(),
		})
	}
}

func (m *mockRepository) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	if inc, ok := m.incidents[id]; ok {
		return inc, nil
	}
	return nil, ErrIncidentNotFound
}

func (m *mockRepository) ListUnassignedVerified(_ context.Context, _ string, olderThan time.Time) ([]*domain.Incident, error) {
	var out []*domain.Incident
	for _, inc := range m.incidents {
		if inc.Status == domain.IncidentStatusVerified && inc.AssignedTeamID == nil && inc.CreatedAt.Before(olderThan) {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (m *mockRepository) GetTeam(_ context.Context, id string) (*domain.Team, error) {
	if t, ok := m.teams[id]; ok {
		return t, nil
	}
	return nil, ErrTeamNotFound
}

func (m *mockRepository) ListTeamsByManager(_ context.Context, managerID string) ([]*domain.Team, error) {
	var out []*domain.Team
	for _, t := range m.teams {
		if t.ManagerID == managerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockRepository) CountActiveMembers(_ context.Context, teamID string) (int, error) {
	count := 0
	for _, mem := range m.members[teamID] {
		if mem.IsActive {
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) ListActiveMembers(_ context.Context, teamID string) ([]*domain.TeamMember, error) {
	var out []*domain.TeamMember
	for _, mem := range m.members[teamID] {
		if mem.IsActive {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *mockRepository) CountActiveWorkOrdersByCategory(_ context.Context, teamID string, category domain.CategoryCode) (int, error) {
	return m.activeByCategory[teamID+"/"+string(category)], nil
}

func (m *mockRepository) GetActiveWorkOrderByIncident(_ context.Context, incidentID string) (*domain.WorkOrder, error) {
	if w, ok := m.workOrders[incidentID]; ok {
		return w, nil
	}
	return nil, ErrWorkOrderMissing
}

func (m *mockRepository) GetUser(_ context.Context, id string) (*domain.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s not found", id)
}

func (m *mockRepository) ListActiveManagers(_ context.Context) ([]*domain.User, error) {
	var out []*domain.User
	for _, u := range m.users {
		if u.IsActive && u.Role.HasPermission(domain.RoleManager) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockRepository) BeginTx(_ context.Context) (pgx.Tx, error) {
	m.lastTx = &fakeTx{}
	return m.lastTx, nil
}

func (m *mockRepository) GetIncidentForUpdateTx(_ context.Context, _ pgx.Tx, id string) (*domain.Incident, error) {
	inc, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	if m.onLockIncident != nil {
		m.onLockIncident(inc)
	}
	copied := *inc
	return &copied, nil
}

func (m *mockRepository) GetTeamForUpdateTx(_ context.Context, _ pgx.Tx, id string) (*domain.Team, error) {
	t, ok := m.teams[id]
	if !ok {
		return nil, ErrTeamNotFound
	}
	if m.onLockTeam != nil {
		m.onLockTeam(t)
	}
	copied := *t
	return &copied, nil
}

func (m *mockRepository) CreateWorkOrderTx(_ context.Context, _ pgx.Tx, order *domain.WorkOrder) error {
	order.ID = fmt.Sprintf("wo-%d", len(m.createdOrders)+1)
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	m.createdOrders = append(m.createdOrders, order)
	m.workOrders[order.IncidentID] = order
	return nil
}

func (m *mockRepository) DeleteWorkOrderTx(_ context.Context, _ pgx.Tx, workOrderID string) error {
	m.deletedOrders = append(m.deletedOrders, workOrderID)
	for incID, w := range m.workOrders {
		if w.ID == workOrderID {
			delete(m.workOrders, incID)
		}
	}
	return nil
}

func (m *mockRepository) CreateProgressTx(_ context.Context, _ pgx.Tx, rows []*domain.WorkOrderProgress) error {
	m.createdProgress = append(m.createdProgress, rows...)
	return nil
}

func (m *mockRepository) DeleteProgressByWorkOrderTx(_ context.Context, _ pgx.Tx, workOrderID string) error {
	m.deletedProgress = append(m.deletedProgress, workOrderID)
	return nil
}

func (m *mockRepository) AdjustTeamCapacityTx(_ context.Context, _ pgx.Tx, teamID string, delta int) error {
	t, ok := m.teams[teamID]
	if !ok {
		return ErrTeamNotFound
	}
	next := t.CurrentCapacity + delta
	if next < 0 || next > t.MaxCapacity {
		return ErrAssignmentIntegrityViolation
	}
	t.CurrentCapacity = next
	m.capacityChanges = append(m.capacityChanges, capacityChange{teamID: teamID, delta: delta})
	return nil
}

func (m *mockRepository) UpdateIncidentAssignmentTx(_ context.Context, _ pgx.Tx, incident *domain.Incident) error {
	m.incidents[incident.ID] = incident
	m.updatedIncidents = append(m.updatedIncidents, incident)
	return nil
}

func (m *mockRepository) ClearIncidentAssignmentTx(_ context.Context, _ pgx.Tx, incidentID string) error {
	inc, ok := m.incidents[incidentID]
	if !ok {
		return ErrIncidentNotFound
	}
	inc.Status = domain.IncidentStatusVerified
	inc.AssignedTeamID = nil
	inc.AssignedAt = nil
	inc.Priority = nil
	inc.CategoryReasoning = ""
	inc.SLADeadline = nil
	m.clearedIncidents = append(m.clearedIncidents, incidentID)
	return nil
}

// mockAudit records audit entries.
type mockAudit struct {
	entries []*domain.AuditEntry
}

func (m *mockAudit) RecordTx(_ context.Context, _ pgx.Tx, entry *domain.AuditEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

// mockNotifier records notification calls.
type mockNotifier struct {
	created  int
	reverted int
}

func (m *mockNotifier) AssignmentCreatedTx(_ context.Context, _ pgx.Tx, _ *domain.Incident, _ *domain.Team, _ *string, _ []string) error {
	m.created++
	return nil
}

func (m *mockNotifier) AssignmentRevertedTx(_ context.Context, _ pgx.Tx, _ *domain.Incident, _ *domain.Team, _ []string) error {
	m.reverted++
	return nil
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/civicgrid/drainflow/internal/assignment"
	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type assignCall struct {
	incidentID string
	actorID    string
	dryRun     bool
}

type mockAssigner struct {
	calls  []assignCall
	errors map[string]error // per incident ID
}

func (m *mockAssigner) Assign(_ context.Context, incidentID string, actor domain.Principal, opts assignment.AssignOptions) (*assignment.Outcome, error) {
	m.calls = append(m.calls, assignCall{incidentID: incidentID, actorID: actor.ID, dryRun: opts.DryRun})
	if err, ok := m.errors[incidentID]; ok {
		return nil, err
	}
	return &assignment.Outcome{IncidentID: incidentID}, nil
}

type mockBacklog struct {
	managers      []*domain.User
	incidents     map[string][]*domain.Incident // by manager ID
	managersErr   error
	incidentsErr  error
	lastOlderThan time.Time
}

func (m *mockBacklog) ListActiveManagers(context.Context) ([]*domain.User, error) {
	return m.managers, m.managersErr
}

func (m *mockBacklog) ListUnassignedVerified(_ context.Context, managerID string, olderThan time.Time) ([]*domain.Incident, error) {
	m.lastOlderThan = olderThan
	if m.incidentsErr != nil {
		return nil, m.incidentsErr
	}
	return m.incidents[managerID], nil
}

func incidentWithText(id, description string) *domain.Incident {
	return &domain.Incident{
		ID:          id,
		Description: description,
		Status:      domain.IncidentStatusVerified,
	}
}

func setupScheduler(t *testing.T, cfg Config) (*Scheduler, *mockBacklog, *mockAssigner) {
	t.Helper()
	backlog := &mockBacklog{
		managers:  []*domain.User{{ID: "mgr-1", Role: domain.RoleManager, IsActive: true}},
		incidents: map[string][]*domain.Incident{},
	}
	assigner := &mockAssigner{errors: map[string]error{}}

	// High pacing rate keeps tests fast.
	cfg.RatePerSecond = 10000

	s, err := New(backlog, assigner, assignment.NewDefaultCategorizer(), cfg)
	require.NoError(t, err)
	return s, backlog, assigner
}

func TestTriggerManualRun_PriorityOrder(t *testing.T) {
	s, backlog, assigner := setupScheduler(t, DefaultConfig())

	backlog.incidents["mgr-1"] = []*domain.Incident{
		incidentWithText("inc-low", "maintenance request for loose cover"),
		incidentWithText("inc-med", "slow drain at number 12"),
		incidentWithText("inc-crit", "raw sewage overflowing into the street"),
		incidentWithText("inc-high", "blocked manhole on the corner"),
	}

	report, err := s.TriggerManualRun(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 4, report.Assigned)
	assert.Zero(t, report.Failed)

	var order []string
	for _, c := range assigner.calls {
		order = append(order, c.incidentID)
		assert.Equal(t, "mgr-1", c.actorID)
		assert.False(t, c.dryRun)
	}
	assert.Equal(t, []string{"inc-crit", "inc-high", "inc-med", "inc-low"}, order)
}

func TestTriggerManualRun_PerPriorityCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAssignmentsPerPriority = 2
	s, backlog, assigner := setupScheduler(t, cfg)

	var batch []*domain.Incident
	for i := 0; i < 5; i++ {
		batch = append(batch, incidentWithText(fmt.Sprintf("inc-%d", i), "slow drain"))
	}
	backlog.incidents["mgr-1"] = batch

	report, err := s.TriggerManualRun(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 2, report.Assigned)
	assert.Len(t, assigner.calls, 2)
}

func TestTriggerManualRun_PerIncidentFailureContinues(t *testing.T) {
	s, backlog, assigner := setupScheduler(t, DefaultConfig())

	backlog.incidents["mgr-1"] = []*domain.Incident{
		incidentWithText("inc-1", "slow drain"),
		incidentWithText("inc-2", "slow drain"),
		incidentWithText("inc-3", "slow drain"),
	}
	assigner.errors["inc-2"] = errors.New("write conflict")

	report, err := s.TriggerManualRun(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Assigned)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, assigner.calls, 3, "failure must not stop the run")

	status := s.Status()
	assert.Equal(t, int64(1), status.TotalErrors)
	assert.Equal(t, "write conflict", status.LastError)
}

func TestTriggerManualRun_NoEligibleTeamIsSkip(t *testing.T) {
	s, backlog, assigner := setupScheduler(t, DefaultConfig())

	backlog.incidents["mgr-1"] = []*domain.Incident{
		incidentWithText("inc-1", "slow drain"),
	}
	assigner.errors["inc-1"] = assignment.ErrNoEligibleTeam

	report, err := s.TriggerManualRun(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.Zero(t, s.Status().TotalErrors)
}

func TestTriggerManualRun_FetchFailureAbortsRun(t *testing.T) {
	s, backlog, assigner := setupScheduler(t, DefaultConfig())
	backlog.incidentsErr = errors.New("connection refused")

	report, err := s.TriggerManualRun(context.Background(), false)
	require.NoError(t, err)

	assert.Zero(t, report.Assigned)
	assert.Empty(t, assigner.calls)

	status := s.Status()
	assert.Equal(t, int64(1), status.TotalRuns, "aborted run still counts")
	assert.Equal(t, "connection refused", status.LastError)
}

func TestTriggerManualRun_DryRunPropagates(t *testing.T) {
	s, backlog, assigner := setupScheduler(t, DefaultConfig())
	backlog.incidents["mgr-1"] = []*domain.Incident{incidentWithText("inc-1", "slow drain")}

	report, err := s.TriggerManualRun(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	require.Len(t, assigner.calls, 1)
	assert.True(t, assigner.calls[0].dryRun)
}

func TestTriggerManualRun_CooldownWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 10 * time.Minute
	s, backlog, _ := setupScheduler(t, cfg)

	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	_, err := s.TriggerManualRun(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, base.Add(-10*time.Minute), backlog.lastOlderThan)
}

func TestStartStop_StateTransitions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = time.Hour // never fires during the test
	s, _, _ := setupScheduler(t, cfg)

	assert.Equal(t, StateStopped, s.Status().State)
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.Status().State)
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.Status().State)

	// Restart after stop works.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestManualRun_WorksWhileStopped(t *testing.T) {
	s, backlog, _ := setupScheduler(t, DefaultConfig())
	backlog.incidents["mgr-1"] = []*domain.Incident{incidentWithText("inc-1", "slow drain")}

	report, err := s.TriggerManualRun(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Assigned)
	assert.Equal(t, StateStopped, s.Status().State)
}

func TestUpdateConfig_Partial(t *testing.T) {
	s, _, _ := setupScheduler(t, DefaultConfig())

	interval := 30 * time.Second
	limit := 3
	cfg, err := s.UpdateConfig(ConfigUpdate{Interval: &interval, MaxAssignmentsPerPriority: &limit})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 3, cfg.MaxAssignmentsPerPriority)
	assert.Equal(t, DefaultConfig().Cooldown, cfg.Cooldown, "untouched fields keep their value")
}

func TestUpdateConfig_InvalidCronRejected(t *testing.T) {
	s, _, _ := setupScheduler(t, DefaultConfig())

	bad := "not a cron expression"
	_, err := s.UpdateConfig(ConfigUpdate{CronExpr: &bad})
	require.Error(t, err)

	// A failed update leaves the previous configuration intact.
	assert.Empty(t, s.Status().CronExpr)
}

func TestUpdateConfig_ValidCron(t *testing.T) {
	s, _, _ := setupScheduler(t, DefaultConfig())

	expr := "*/10 * * * *"
	cfg, err := s.UpdateConfig(ConfigUpdate{CronExpr: &expr})
	require.NoError(t, err)
	assert.Equal(t, expr, cfg.CronExpr)
}

// Package scheduler drives recurring automatic assignment of verified
// incidents. It polls the backlog on a fixed interval or cron schedule,
// groups incidents by category, and feeds them through the assignment
// orchestrator in priority order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/civicgrid/drainflow/internal/assignment"
	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

// State is the scheduler run state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
	ErrRunInProgress  = errors.New("a run is already in progress")
)

// Config controls scheduling cadence and per-run limits.
type Config struct {
	// Interval between automatic runs. Ignored when CronExpr is set.
	Interval time.Duration
	// CronExpr is an optional standard cron expression that replaces the
	// fixed interval.
	CronExpr string
	// Cooldown is the minimum incident age before auto-assignment picks it
	// up, giving manual dispatchers first refusal.
	Cooldown time.Duration
	// MaxAssignmentsPerPriority caps assignment attempts per priority tier
	// per run.
	MaxAssignmentsPerPriority int
	// RatePerSecond paces individual assignment attempts within a run.
	RatePerSecond float64
}

// DefaultConfig returns the stock scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:                  5 * time.Minute,
		Cooldown:                  5 * time.Minute,
		MaxAssignmentsPerPriority: 5,
		RatePerSecond:             2,
	}
}

// ConfigUpdate is a partial configuration change. Nil fields keep their
// current value. Cadence changes take effect from the next tick.
type ConfigUpdate struct {
	Interval                  *time.Duration `json:"interval,omitempty"`
	CronExpr                  *string        `json:"cron_expr,omitempty"`
	Cooldown                  *time.Duration `json:"cooldown,omitempty"`
	MaxAssignmentsPerPriority *int           `json:"max_assignments_per_priority,omitempty"`
	RatePerSecond             *float64       `json:"rate_per_second,omitempty"`
}

// Assigner is the slice of the assignment orchestrator the scheduler drives.
type Assigner interface {
	Assign(ctx context.Context, incidentID string, actor domain.Principal, opts assignment.AssignOptions) (*assignment.Outcome, error)
}

// Backlog supplies the managers and unassigned incidents each run walks.
// assignment.Repository satisfies it.
type Backlog interface {
	ListActiveManagers(ctx context.Context) ([]*domain.User, error)
	ListUnassignedVerified(ctx context.Context, managerID string, olderThan time.Time) ([]*domain.Incident, error)
}

// RunReport summarizes one scheduler pass.
type RunReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	DryRun    bool          `json:"dry_run"`
	Scanned   int           `json:"scanned"`
	Assigned  int           `json:"assigned"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	State                     State         `json:"state"`
	Interval                  time.Duration `json:"interval"`
	CronExpr                  string        `json:"cron_expr,omitempty"`
	Cooldown                  time.Duration `json:"cooldown"`
	MaxAssignmentsPerPriority int           `json:"max_assignments_per_priority"`
	LastRun                   *time.Time    `json:"last_run,omitempty"`
	TotalRuns                 int64         `json:"total_runs"`
	TotalAssignments          int64         `json:"total_assignments"`
	TotalErrors               int64         `json:"total_errors"`
	LastError                 string        `json:"last_error,omitempty"`
}

// Scheduler owns the background loop. All state is behind mu so the control
// surface can be called from HTTP handlers while a run is in flight.
type Scheduler struct {
	backlog     Backlog
	assigner    Assigner
	categorizer *assignment.Categorizer

	mu       sync.Mutex
	cfg      Config
	state    State
	schedule cron.Schedule
	limiter  *rate.Limiter

	lastRun          *time.Time
	totalRuns        int64
	totalAssignments int64
	totalErrors      int64
	lastError        string

	running sync.Mutex // held for the duration of one run

	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// New creates a stopped scheduler with the given configuration.
func New(backlog Backlog, assigner Assigner, categorizer *assignment.Categorizer, cfg Config) (*Scheduler, error) {
	s := &Scheduler{
		backlog:     backlog,
		assigner:    assigner,
		categorizer: categorizer,
		state:       StateStopped,
		now:         time.Now,
	}
	if err := s.applyConfig(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// applyConfig validates and installs cfg. Caller holds mu (or is the
// constructor).
func (s *Scheduler) applyConfig(cfg Config) error {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.MaxAssignmentsPerPriority <= 0 {
		cfg.MaxAssignmentsPerPriority = DefaultConfig().MaxAssignmentsPerPriority
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultConfig().RatePerSecond
	}

	var schedule cron.Schedule
	if cfg.CronExpr != "" {
		parsed, err := cron.ParseStandard(cfg.CronExpr)
		if err != nil {
			return fmt.Errorf("parse cron expression %q: %w", cfg.CronExpr, err)
		}
		schedule = parsed
	}

	s.cfg = cfg
	s.schedule = schedule
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	return nil
}

// Start launches the background loop. Returns ErrAlreadyRunning if started
// twice without an intervening Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return ErrAlreadyRunning
	}

	s.state = StateRunning
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(ctx)

	slog.Info("scheduler started",
		"interval", s.cfg.Interval,
		"cron", s.cfg.CronExpr,
		"cooldown", s.cfg.Cooldown,
	)
	return nil
}

// Stop halts the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = StateStopped
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("scheduler stopped")
	return nil
}

// Status returns a snapshot of scheduler state and counters.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		State:                     s.state,
		Interval:                  s.cfg.Interval,
		CronExpr:                  s.cfg.CronExpr,
		Cooldown:                  s.cfg.Cooldown,
		MaxAssignmentsPerPriority: s.cfg.MaxAssignmentsPerPriority,
		LastRun:                   s.lastRun,
		TotalRuns:                 s.totalRuns,
		TotalAssignments:          s.totalAssignments,
		TotalErrors:               s.totalErrors,
		LastError:                 s.lastError,
	}
}

// UpdateConfig applies a partial configuration change. Works in both states;
// a running scheduler picks up the new cadence on its next tick.
func (s *Scheduler) UpdateConfig(update ConfigUpdate) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.cfg
	if update.Interval != nil {
		cfg.Interval = *update.Interval
	}
	if update.CronExpr != nil {
		cfg.CronExpr = *update.CronExpr
	}
	if update.Cooldown != nil {
		cfg.Cooldown = *update.Cooldown
	}
	if update.MaxAssignmentsPerPriority != nil {
		cfg.MaxAssignmentsPerPriority = *update.MaxAssignmentsPerPriority
	}
	if update.RatePerSecond != nil {
		cfg.RatePerSecond = *update.RatePerSecond
	}

	if err := s.applyConfig(cfg); err != nil {
		return s.cfg, err
	}
	return s.cfg, nil
}

// TriggerManualRun executes one run synchronously, independent of the loop.
// Works while stopped. Returns ErrRunInProgress if a run is already active.
func (s *Scheduler) TriggerManualRun(ctx context.Context, dryRun bool) (RunReport, error) {
	if !s.running.TryLock() {
		return RunReport{}, ErrRunInProgress
	}
	defer s.running.Unlock()

	return s.runOnce(ctx, dryRun), nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		wait := s.nextWait()
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if s.running.TryLock() {
				s.runOnce(ctx, false)
				s.running.Unlock()
			}
		}
	}
}

// nextWait computes the delay until the next automatic run.
func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule != nil {
		wait := time.Until(s.schedule.Next(s.now()))
		if wait < 0 {
			wait = 0
		}
		return wait
	}
	return s.cfg.Interval
}

// runOnce is one full scheduler pass. A backlog fetch failure aborts the
// run but leaves the scheduler running; per-incident failures are counted
// and the run continues.
func (s *Scheduler) runOnce(ctx context.Context, dryRun bool) RunReport {
	s.mu.Lock()
	cooldown := s.cfg.Cooldown
	perPriority := s.cfg.MaxAssignmentsPerPriority
	limiter := s.limiter
	s.mu.Unlock()

	start := s.now()
	report := RunReport{StartedAt: start, DryRun: dryRun}
	log := slog.With("dry_run", dryRun)

	defer func() {
		report.Duration = s.now().Sub(start)
		s.finishRun(report)
		recordRun(report)
		log.Info("scheduler run finished",
			"scanned", report.Scanned,
			"assigned", report.Assigned,
			"skipped", report.Skipped,
			"failed", report.Failed,
			"duration", report.Duration,
		)
	}()

	managers, err := s.backlog.ListActiveManagers(ctx)
	if err != nil {
		log.Error("scheduler run aborted: list managers", "error", err)
		report.Failed++
		s.noteError(err)
		return report
	}

	olderThan := start.Add(-cooldown)

	for _, manager := range managers {
		incidents, err := s.backlog.ListUnassignedVerified(ctx, manager.ID, olderThan)
		if err != nil {
			log.Error("scheduler run aborted: list incidents", "manager_id", manager.ID, "error", err)
			report.Failed++
			s.noteError(err)
			return report
		}
		report.Scanned += len(incidents)

		byCategory := make(map[domain.CategoryCode][]*domain.Incident)
		for _, inc := range incidents {
			result := s.categorizer.Categorize(inc)
			byCategory[result.Category.Code] = append(byCategory[result.Category.Code], inc)
		}

		actor := domain.Principal{ID: manager.ID, Role: manager.Role}
		for _, code := range domain.CategoryOrder {
			batch := byCategory[code]
			if len(batch) > perPriority {
				batch = batch[:perPriority]
			}
			for _, inc := range batch {
				if err := limiter.Wait(ctx); err != nil {
					return report
				}
				s.assignOne(ctx, inc, actor, dryRun, &report, log)
			}
		}
	}

	return report
}

func (s *Scheduler) assignOne(ctx context.Context, inc *domain.Incident, actor domain.Principal, dryRun bool, report *RunReport, log *slog.Logger) {
	_, err := s.assigner.Assign(ctx, inc.ID, actor, assignment.AssignOptions{DryRun: dryRun})
	switch {
	case err == nil:
		report.Assigned++
	case errors.Is(err, assignment.ErrNoEligibleTeam),
		errors.Is(err, assignment.ErrIncidentNotReady),
		errors.Is(err, assignment.ErrManagerNotAuthorized):
		// Expected backlog noise: another writer got there first or the
		// manager has no eligible team right now.
		report.Skipped++
		log.Debug("incident skipped", "incident_id", inc.ID, "reason", err)
	default:
		report.Failed++
		s.noteError(err)
		log.Error("auto-assignment failed", "incident_id", inc.ID, "error", err)
	}
}

func (s *Scheduler) finishRun(report RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := report.StartedAt
	s.lastRun = &at
	s.totalRuns++
	s.totalAssignments += int64(report.Assigned)
	s.totalErrors += int64(report.Failed)
}

func (s *Scheduler) noteError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

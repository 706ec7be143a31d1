// Package assignment implements the incident assignment engine: eligibility
// validation, keyword categorization, capacity-aware team selection, and the
// atomic assignment orchestrator that binds them together.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/civicgrid/drainflow/internal/lifecycle"
	"github.com/jackc/pgx/v5"
)

// AssignOptions modify a single assignment attempt.
type AssignOptions struct {
	// ForceAssign skips the per-category concurrency cap. The hard capacity
	// bound (current < max) is never skipped.
	ForceAssign bool
	// DryRun evaluates the pipeline and returns the would-be outcome without
	// opening a write transaction.
	DryRun bool
}

// Outcome describes a completed (or simulated) assignment.
type Outcome struct {
	IncidentID string               `json:"incident_id"`
	TeamID     string               `json:"team_id"`
	TeamName   string               `json:"team_name"`
	Category   domain.CategoryCode  `json:"category"`
	SLATarget  time.Duration        `json:"sla_target"`
	Reasoning  string               `json:"reasoning"`
	Scores     []TeamScore          `json:"scores,omitempty"`
	WorkOrder  *domain.WorkOrder    `json:"work_order,omitempty"`
	DryRun     bool                 `json:"dry_run"`
	AssignedAt time.Time            `json:"assigned_at"`
}

// Service is the assignment orchestrator. It owns the only write path that
// creates work orders and moves incidents into the assigned state.
type Service struct {
	repo        Repository
	validator   *Validator
	categorizer *Categorizer
	selector    *Selector
	audit       AuditRecorder
	notifier    Notifier
	now         func() time.Time
}

// NewService creates the orchestrator.
func NewService(repo Repository, validator *Validator, categorizer *Categorizer, selector *Selector, audit AuditRecorder, notifier Notifier) *Service {
	return &Service{
		repo:        repo,
		validator:   validator,
		categorizer: categorizer,
		selector:    selector,
		audit:       audit,
		notifier:    notifier,
		now:         time.Now,
	}
}

// Validator exposes the validator for callers that gate manual transitions.
func (s *Service) Validator() *Validator {
	return s.validator
}

// Categorizer exposes the categorizer for read-only previews.
func (s *Service) Categorizer() *Categorizer {
	return s.categorizer
}

// Assign performs one atomic incident-to-team assignment. Every failure
// aborts the whole operation; on success the work order, capacity bump,
// per-member progress rows, incident update, audit entry and notification
// enqueue all commit together.
func (s *Service) Assign(ctx context.Context, incidentID string, actor domain.Principal, opts AssignOptions) (*Outcome, error) {
	incident, err := s.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status != domain.IncidentStatusVerified {
		return nil, ErrIncidentNotReady
	}

	teams, err := s.authorizeManager(ctx, actor)
	if err != nil {
		return nil, err
	}

	result := s.categorizer.Categorize(incident)
	category := result.Category
	if opts.ForceAssign {
		// Cap of zero is treated as uncapped by the eligibility check.
		category.MaxAssignmentsPerTeam = 0
	}

	team, scores, err := s.selector.SelectBestTeam(ctx, teams, incident, category)
	if err != nil {
		if errors.Is(err, ErrNoEligibleTeam) {
			return nil, ErrNoEligibleTeam
		}
		return nil, fmt.Errorf("select team: %w", err)
	}

	outcome := &Outcome{
		IncidentID: incident.ID,
		TeamID:     team.ID,
		TeamName:   team.Name,
		Category:   result.Category.Code,
		SLATarget:  result.Category.SLATarget,
		Reasoning:  result.Reasoning,
		Scores:     scores,
		DryRun:     opts.DryRun,
	}

	if opts.DryRun {
		recordAssignment(string(result.Category.Code), "dry_run")
		return outcome, nil
	}

	if err := s.commitAssignment(ctx, incident, team, result, actor, outcome); err != nil {
		recordAssignment(string(result.Category.Code), "failed")
		return nil, err
	}

	recordAssignment(string(result.Category.Code), "success")
	slog.Info("incident assigned",
		"incident_id", incident.ID,
		"team_id", team.ID,
		"category", result.Category.Code,
		"actor_id", actor.ID,
	)
	return outcome, nil
}

// authorizeManager verifies the actor may assign: active account, manager or
// admin role, and at least one available team under them.
func (s *Service) authorizeManager(ctx context.Context, actor domain.Principal) ([]*domain.Team, error) {
	if !actor.CanAssign() {
		return nil, ErrManagerNotAuthorized
	}

	manager, err := s.repo.GetUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("get manager: %w", err)
	}
	if !manager.IsActive {
		return nil, ErrManagerNotAuthorized
	}

	teams, err := s.repo.ListTeamsByManager(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}

	hasAvailable := false
	for _, t := range teams {
		if t.IsAvailable {
			hasAvailable = true
			break
		}
	}
	if !hasAvailable {
		return nil, ErrManagerNotAuthorized
	}

	return teams, nil
}

// commitAssignment is the critical section: re-validate under row locks,
// then write everything in one transaction.
func (s *Service) commitAssignment(ctx context.Context, incident *domain.Incident, team *domain.Team, result domain.CategoryResult, actor domain.Principal, outcome *Outcome) error {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback assignment transaction", "error", err)
		}
	}()

	// Race guard: re-read both rows under FOR UPDATE and confirm nothing
	// changed between selection and commit.
	lockedIncident, err := s.repo.GetIncidentForUpdateTx(ctx, tx, incident.ID)
	if err != nil {
		return fmt.Errorf("lock incident: %w", err)
	}
	if lockedIncident.Status != domain.IncidentStatusVerified || lockedIncident.IsAssigned() {
		return ErrAssignmentIntegrityViolation
	}

	lockedTeam, err := s.repo.GetTeamForUpdateTx(ctx, tx, team.ID)
	if err != nil {
		return fmt.Errorf("lock team: %w", err)
	}
	if !lockedTeam.IsAvailable || !lockedTeam.HasCapacity() {
		return ErrAssignmentIntegrityViolation
	}

	if err := lifecycle.Transition(lockedIncident.Status, domain.IncidentStatusAssigned); err != nil {
		return err
	}

	now := s.now()

	order := &domain.WorkOrder{
		IncidentID: lockedIncident.ID,
		TeamID:     lockedTeam.ID,
		Category:   result.Category.Code,
		Status:     domain.WorkOrderStatusNotStarted,
		AssignedAt: now,
	}
	if err := s.repo.CreateWorkOrderTx(ctx, tx, order); err != nil {
		return fmt.Errorf("create work order: %w", err)
	}

	if err := s.repo.AdjustTeamCapacityTx(ctx, tx, lockedTeam.ID, +1); err != nil {
		return fmt.Errorf("increment team capacity: %w", err)
	}

	members, err := s.repo.ListActiveMembers(ctx, lockedTeam.ID)
	if err != nil {
		return fmt.Errorf("list active members: %w", err)
	}
	progress := make([]*domain.WorkOrderProgress, 0, len(members))
	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		progress = append(progress, &domain.WorkOrderProgress{
			WorkOrderID: order.ID,
			UserID:      m.UserID,
			Status:      domain.ProgressPending,
		})
		memberIDs = append(memberIDs, m.UserID)
	}
	if err := s.repo.CreateProgressTx(ctx, tx, progress); err != nil {
		return fmt.Errorf("create progress records: %w", err)
	}

	priority := result.Category.Code
	deadline := now.Add(result.Category.SLATarget)
	lockedIncident.Status = domain.IncidentStatusAssigned
	lockedIncident.AssignedTeamID = &lockedTeam.ID
	lockedIncident.AssignedAt = &now
	lockedIncident.Priority = &priority
	lockedIncident.CategoryReasoning = result.Reasoning
	lockedIncident.SLADeadline = &deadline
	if err := s.repo.UpdateIncidentAssignmentTx(ctx, tx, lockedIncident); err != nil {
		return fmt.Errorf("update incident: %w", err)
	}

	if err := s.audit.RecordTx(ctx, tx, &domain.AuditEntry{
		ActorID:     actor.ID,
		Action:      "incident assigned",
		TableName:   "incidents",
		ReferenceID: lockedIncident.ID,
		Details: map[string]any{
			"team_id":       lockedTeam.ID,
			"category":      result.Category.Code,
			"reasoning":     result.Reasoning,
			"status_before": domain.IncidentStatusVerified,
			"status_after":  domain.IncidentStatusAssigned,
			"scores":        outcome.Scores,
		},
	}); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.AssignmentCreatedTx(ctx, tx, lockedIncident, lockedTeam, lockedTeam.LeaderID, memberIDs); err != nil {
			return fmt.Errorf("enqueue notifications: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	outcome.WorkOrder = order
	outcome.AssignedAt = now
	return nil
}

// Revert destroys an assignment: the work order and progress rows go away,
// the team's capacity is released, and the incident returns to verified with
// assignment fields cleared. Only permitted from assigned or in_progress.
func (s *Service) Revert(ctx context.Context, incidentID string, actor domain.Principal) error {
	if !actor.CanAssign() {
		return ErrManagerNotAuthorized
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback revert transaction", "error", err)
		}
	}()

	incident, err := s.repo.GetIncidentForUpdateTx(ctx, tx, incidentID)
	if err != nil {
		return fmt.Errorf("lock incident: %w", err)
	}
	if incident.Status != domain.IncidentStatusAssigned && incident.Status != domain.IncidentStatusInProgress {
		return ErrRevertNotAllowed
	}
	if incident.AssignedTeamID == nil {
		return ErrAssignmentIntegrityViolation
	}

	order, err := s.repo.GetActiveWorkOrderByIncident(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("get work order: %w", err)
	}
	if order.TeamID != *incident.AssignedTeamID {
		return ErrAssignmentIntegrityViolation
	}

	team, err := s.repo.GetTeamForUpdateTx(ctx, tx, order.TeamID)
	if err != nil {
		return fmt.Errorf("lock team: %w", err)
	}

	if err := s.repo.DeleteProgressByWorkOrderTx(ctx, tx, order.ID); err != nil {
		return fmt.Errorf("delete progress records: %w", err)
	}
	if err := s.repo.DeleteWorkOrderTx(ctx, tx, order.ID); err != nil {
		return fmt.Errorf("delete work order: %w", err)
	}
	if err := s.repo.AdjustTeamCapacityTx(ctx, tx, team.ID, -1); err != nil {
		return fmt.Errorf("decrement team capacity: %w", err)
	}
	if err := s.repo.ClearIncidentAssignmentTx(ctx, tx, incidentID); err != nil {
		return fmt.Errorf("clear incident assignment: %w", err)
	}

	if err := s.audit.RecordTx(ctx, tx, &domain.AuditEntry{
		ActorID:     actor.ID,
		Action:      "assignment reverted",
		TableName:   "incidents",
		ReferenceID: incidentID,
		Details: map[string]any{
			"team_id":       team.ID,
			"work_order_id": order.ID,
			"status_before": incident.Status,
			"status_after":  domain.IncidentStatusVerified,
		},
	}); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}

	if s.notifier != nil {
		members, err := s.repo.ListActiveMembers(ctx, team.ID)
		if err != nil {
			return fmt.Errorf("list active members: %w", err)
		}
		memberIDs := make([]string, 0, len(members))
		for _, m := range members {
			memberIDs = append(memberIDs, m.UserID)
		}
		if err := s.notifier.AssignmentRevertedTx(ctx, tx, incident, team, memberIDs); err != nil {
			return fmt.Errorf("enqueue notifications: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	recordRevert()
	slog.Info("assignment reverted", "incident_id", incidentID, "team_id", team.ID, "actor_id", actor.ID)
	return nil
}

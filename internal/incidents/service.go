// Package incidents owns intake and manual lifecycle transitions of reported
// faults. Assignment itself lives in the assignment package; this service
// covers everything around it: reporting, verification, progress and closure,
// mirroring each incident move onto its active work order.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/civicgrid/drainflow/internal/assignment"
	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/civicgrid/drainflow/internal/lifecycle"
	"github.com/jackc/pgx/v5"
)

// ReportInput is the public intake payload.
type ReportInput struct {
	Title       string
	Description string
	Location    string
	ReportedBy  string
}

// Service handles incident intake and manual transitions.
type Service struct {
	repo      Repository
	validator *assignment.Validator
	audit     AuditRecorder
	notifier  Notifier
	now       func() time.Time
}

// NewService creates an incident service.
func NewService(repo Repository, validator *assignment.Validator, audit AuditRecorder, notifier Notifier) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		audit:     audit,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Report records a new fault report. Every report enters the pipeline as
// not_started until a dispatcher verifies it.
func (s *Service) Report(ctx context.Context, input ReportInput) (*domain.Incident, error) {
	if strings.TrimSpace(input.ReportedBy) == "" {
		return nil, ErrReporterRequired
	}

	incident := &domain.Incident{
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Location:    strings.TrimSpace(input.Location),
		Status:      domain.IncidentStatusNotStarted,
		ReportedBy:  input.ReportedBy,
	}

	if err := s.repo.CreateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	recordReported()
	slog.Info("incident reported", "incident_id", incident.ID, "reported_by", incident.ReportedBy)
	return incident, nil
}

// Get returns a single incident.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.GetIncident(ctx, id)
}

// List returns incidents matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*domain.Incident, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListIncidents(ctx, filter)
}

// Verify confirms a reported fault is real, making it eligible for
// assignment. Requires at least the leader role.
func (s *Service) Verify(ctx context.Context, incidentID string, actor domain.Principal) (*domain.Incident, error) {
	if !actor.Role.HasPermission(domain.RoleLeader) {
		return nil, ErrNotAuthorized
	}
	return s.Transition(ctx, incidentID, domain.IncidentStatusVerified, actor)
}

// Transition performs a manual status move. The status machine gates every
// request; moves that touch an active assignment additionally pass the
// assignment validator and are mirrored onto the work order, with team
// capacity released when the incident leaves the active set.
func (s *Service) Transition(ctx context.Context, incidentID string, target domain.IncidentStatus, actor domain.Principal) (*domain.Incident, error) {
	if target == domain.IncidentStatusAssigned {
		return nil, ErrAssignmentFlowRequired
	}
	if err := s.authorizeTransition(target, actor); err != nil {
		return nil, err
	}

	incident, err := s.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	// Fail fast before opening a transaction; re-checked under lock below.
	if err := lifecycle.Transition(incident.Status, target); err != nil {
		return nil, err
	}
	if requiresValidation(target) && incident.IsAssigned() {
		if _, err := s.validator.ValidateAssignment(ctx, incident, target); err != nil {
			return nil, err
		}
	}

	updated, err := s.commitTransition(ctx, incidentID, target, actor)
	if err != nil {
		recordTransition(string(target), "failed")
		return nil, err
	}

	recordTransition(string(target), "success")
	slog.Info("incident transitioned",
		"incident_id", incidentID,
		"from", incident.Status,
		"to", target,
		"actor_id", actor.ID,
	)
	return updated, nil
}

// authorizeTransition applies the role gate per target state.
func (s *Service) authorizeTransition(target domain.IncidentStatus, actor domain.Principal) error {
	required := domain.RoleLeader
	if target == domain.IncidentStatusCancelled {
		required = domain.RoleManager
	}
	if !actor.Role.HasPermission(required) {
		return ErrNotAuthorized
	}
	return nil
}

// requiresValidation reports whether the target state runs the full
// assignment validator chain before committing.
func requiresValidation(target domain.IncidentStatus) bool {
	return target == domain.IncidentStatusInProgress || target == domain.IncidentStatusCompleted
}

func (s *Service) commitTransition(ctx context.Context, incidentID string, target domain.IncidentStatus, actor domain.Principal) (*domain.Incident, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transition transaction", "error", err)
		}
	}()

	incident, err := s.repo.GetIncidentForUpdateTx(ctx, tx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("lock incident: %w", err)
	}
	previous := incident.Status
	wasAssigned := incident.IsAssigned()
	assignedTeamID := incident.AssignedTeamID

	if err := lifecycle.Transition(previous, target); err != nil {
		return nil, err
	}

	if wasAssigned {
		if err := s.mirrorWorkOrderTx(ctx, tx, incident, target); err != nil {
			return nil, err
		}
	}

	if target == domain.IncidentStatusCancelled && incident.IsAssigned() {
		// Cancellation leaves the active set, so the assignment record goes
		// with it. Completed incidents keep theirs.
		if err := s.repo.ClearIncidentAssignmentTx(ctx, tx, incidentID, target); err != nil {
			return nil, fmt.Errorf("clear incident assignment: %w", err)
		}
		incident.AssignedTeamID = nil
		incident.AssignedAt = nil
		incident.Priority = nil
		incident.CategoryReasoning = ""
		incident.SLADeadline = nil
	} else if err := s.repo.UpdateIncidentStatusTx(ctx, tx, incidentID, target); err != nil {
		return nil, fmt.Errorf("update incident status: %w", err)
	}
	incident.Status = target

	if err := s.audit.RecordTx(ctx, tx, &domain.AuditEntry{
		ActorID:     actor.ID,
		Action:      "incident status changed",
		TableName:   "incidents",
		ReferenceID: incidentID,
		Details: map[string]any{
			"status_before": previous,
			"status_after":  target,
		},
	}); err != nil {
		return nil, fmt.Errorf("record audit entry: %w", err)
	}

	if s.notifier != nil && wasAssigned {
		team, err := s.repo.GetTeamForUpdateTx(ctx, tx, *assignedTeamID)
		if err != nil {
			return nil, fmt.Errorf("load assigned team: %w", err)
		}
		memberIDs, err := s.repo.ListActiveTeamMemberIDsTx(ctx, tx, team.ID)
		if err != nil {
			return nil, fmt.Errorf("list team members: %w", err)
		}
		if err := s.notifier.StatusUpdateTx(ctx, tx, incident, previous, team, memberIDs); err != nil {
			return nil, fmt.Errorf("enqueue notifications: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return incident, nil
}

// mirrorWorkOrderTx moves the active work order in lockstep with the
// incident and releases team capacity when the order leaves the active set.
func (s *Service) mirrorWorkOrderTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident, target domain.IncidentStatus) error {
	var orderTarget domain.WorkOrderStatus
	switch target {
	case domain.IncidentStatusInProgress:
		orderTarget = domain.WorkOrderStatusInProgress
	case domain.IncidentStatusCompleted:
		orderTarget = domain.WorkOrderStatusCompleted
	case domain.IncidentStatusCancelled:
		orderTarget = domain.WorkOrderStatusCancelled
	default:
		return nil
	}

	order, err := s.repo.GetActiveWorkOrderForUpdateTx(ctx, tx, incident.ID)
	if err != nil {
		return fmt.Errorf("lock work order: %w", err)
	}
	if order.TeamID != *incident.AssignedTeamID {
		return assignment.ErrWorkOrderTeamMismatch
	}

	if err := lifecycle.WorkOrderTransition(order.Status, orderTarget); err != nil {
		return err
	}

	now := s.now()
	order.Status = orderTarget
	switch orderTarget {
	case domain.WorkOrderStatusInProgress:
		order.StartedAt = &now
	case domain.WorkOrderStatusCompleted:
		order.CompletedAt = &now
	}

	if err := s.repo.UpdateWorkOrderTx(ctx, tx, order); err != nil {
		return fmt.Errorf("update work order: %w", err)
	}

	// Completion and cancellation free the team slot; capacity moves in the
	// same transaction as the work-order mutation, never separately.
	if orderTarget.IsTerminal() {
		if _, err := s.repo.GetTeamForUpdateTx(ctx, tx, order.TeamID); err != nil {
			return fmt.Errorf("lock team: %w", err)
		}
		if err := s.repo.AdjustTeamCapacityTx(ctx, tx, order.TeamID, -1); err != nil {
			return fmt.Errorf("release team capacity: %w", err)
		}
	}

	return nil
}

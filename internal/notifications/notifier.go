package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DefaultMaxAttempts is applied to every enqueued item.
const DefaultMaxAttempts = 3

// Notifier builds payloads for incident lifecycle events and enqueues them
// inside the caller's transaction. It is the single implementation behind the
// notifier ports of the assignment and incidents services.
type Notifier struct {
	repo Repository
	now  func() time.Time
}

// NewNotifier creates a Notifier.
func NewNotifier(repo Repository) *Notifier {
	return &Notifier{repo: repo, now: time.Now}
}

// AssignmentCreatedTx enqueues new-assignment notifications for the team
// leader and every active member, an assignment summary for the owning
// manager, and a status update for the reporter.
func (n *Notifier) AssignmentCreatedTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident, team *domain.Team, leaderID *string, memberIDs []string) error {
	payload := Payload{
		Type:        KindNewAssignment,
		Title:       fmt.Sprintf("New assignment: %s", incident.Title),
		Message:     fmt.Sprintf("Incident %q has been assigned to team %s.", incident.Title, team.Name),
		RelatedType: "incident",
		RelatedID:   incident.ID,
	}

	recipients := n.teamRecipients(leaderID, memberIDs)
	items := n.buildItems(payload, recipients)

	managerPayload := payload
	managerPayload.Type = KindAssignmentUpdate
	managerPayload.Title = fmt.Sprintf("Assignment recorded: %s", incident.Title)
	managerPayload.Message = fmt.Sprintf("Incident %q is now assigned to team %s.", incident.Title, team.Name)
	items = append(items, n.buildItems(managerPayload, []string{team.ManagerID})...)

	reporterPayload := payload
	reporterPayload.Type = KindStatusUpdate
	reporterPayload.Title = fmt.Sprintf("Your report is in progress: %s", incident.Title)
	reporterPayload.Message = fmt.Sprintf("Team %s has been dispatched for incident %q.", team.Name, incident.Title)
	items = append(items, n.buildItems(reporterPayload, []string{incident.ReportedBy})...)

	return n.repo.EnqueueTx(ctx, tx, items)
}

// AssignmentRevertedTx notifies the team and its manager that the assignment
// was withdrawn.
func (n *Notifier) AssignmentRevertedTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident, team *domain.Team, memberIDs []string) error {
	payload := Payload{
		Type:        KindAssignmentUpdate,
		Title:       fmt.Sprintf("Assignment withdrawn: %s", incident.Title),
		Message:     fmt.Sprintf("The assignment of incident %q to team %s has been reverted.", incident.Title, team.Name),
		RelatedType: "incident",
		RelatedID:   incident.ID,
	}
	recipients := append(n.teamRecipients(team.LeaderID, memberIDs), team.ManagerID)
	return n.repo.EnqueueTx(ctx, tx, n.buildItems(payload, dedupe(recipients)))
}

// StatusUpdateTx notifies the reporter, the assigned team's leader and active
// members, and the owning manager of a status move. Team may be nil when the
// incident has no assignment.
func (n *Notifier) StatusUpdateTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident, previous domain.IncidentStatus, team *domain.Team, memberIDs []string) error {
	payload := Payload{
		Type:        KindStatusUpdate,
		Title:       fmt.Sprintf("Status update: %s", incident.Title),
		Message:     fmt.Sprintf("Incident %q moved from %s to %s.", incident.Title, previous, incident.Status),
		RelatedType: "incident",
		RelatedID:   incident.ID,
	}

	recipients := []string{incident.ReportedBy}
	if team != nil {
		recipients = append(recipients, n.teamRecipients(team.LeaderID, memberIDs)...)
		recipients = append(recipients, team.ManagerID)
	}
	return n.repo.EnqueueTx(ctx, tx, n.buildItems(payload, dedupe(recipients)))
}

func (n *Notifier) teamRecipients(leaderID *string, memberIDs []string) []string {
	var recipients []string
	if leaderID != nil {
		recipients = append(recipients, *leaderID)
	}
	return dedupe(append(recipients, memberIDs...))
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (n *Notifier) buildItems(payload Payload, recipients []string) []*QueueItem {
	now := n.now()
	items := make([]*QueueItem, 0, len(recipients))
	for _, recipient := range recipients {
		if recipient == "" {
			continue
		}
		items = append(items, &QueueItem{
			ID:            uuid.NewString(),
			RecipientID:   recipient,
			Payload:       payload,
			Status:        QueueStatusPending,
			MaxAttempts:   DefaultMaxAttempts,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return items
}

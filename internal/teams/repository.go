package teams

import (
	"context"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
)

// ListFilter narrows List results.
type ListFilter struct {
	ManagerID     *string
	AvailableOnly bool
}

// Repository defines the storage operations the team service needs.
type Repository interface {
	CreateTeam(ctx context.Context, team *domain.Team) error
	GetTeam(ctx context.Context, id string) (*domain.Team, error)
	UpdateTeam(ctx context.Context, team *domain.Team) error
	ListTeams(ctx context.Context, filter ListFilter) ([]*domain.Team, error)

	SetAvailability(ctx context.Context, id string, available bool, availableFrom *time.Time) error

	// ReconcileAvailability flips teams back to available once their
	// available_from moment has passed. Returns the number of teams flipped.
	ReconcileAvailability(ctx context.Context, now time.Time) (int, error)

	AddMember(ctx context.Context, member *domain.TeamMember) error
	SetMemberActive(ctx context.Context, teamID, userID string, active bool) error
	ListMembers(ctx context.Context, teamID string) ([]*domain.TeamMember, error)
}

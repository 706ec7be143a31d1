package teams

import "errors"

var (
	ErrTeamNotFound      = errors.New("team not found")
	ErrNotAuthorized     = errors.New("actor is not authorized to manage teams")
	ErrNotTeamManager    = errors.New("actor does not manage this team")
	ErrMemberNotFound    = errors.New("team member not found")
	ErrMemberExists      = errors.New("user is already a member of this team")
	ErrCapacityTooSmall  = errors.New("max capacity cannot drop below current load")
	ErrInvalidShiftHours = errors.New("shift hours must be within 0-23")
)

package incidents

import "errors"

var (
	ErrIncidentNotFound       = errors.New("incident not found")
	ErrNotAuthorized          = errors.New("actor is not authorized for this transition")
	ErrAssignmentFlowRequired = errors.New("assigned state is only reachable through the assignment flow")
	ErrReporterRequired       = errors.New("reporter id is required")
)

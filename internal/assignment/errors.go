package assignment

import "errors"

// Validator errors. Each eligibility check fails with its own variant so
// callers can give actionable feedback.
var (
	ErrTeamAssignmentRequired = errors.New("incident has no team assigned")
	ErrTeamNotFound           = errors.New("assigned team not found")
	ErrTeamUnavailable        = errors.New("team is not available")
	ErrTeamAtCapacity         = errors.New("team is at maximum capacity")
	ErrTeamHasNoActiveMembers = errors.New("team has no active members")
	ErrWorkOrderMissing       = errors.New("no active work order exists for incident")
	ErrWorkOrderTeamMismatch  = errors.New("work order team does not match assigned team")
	ErrTeamManagerInvalid     = errors.New("team manager account is not active")
	ErrCompletionTooEarly     = errors.New("minimum dwell time since assignment has not elapsed")
)

// Orchestrator errors.
var (
	ErrIncidentNotFound             = errors.New("incident not found")
	ErrIncidentNotReady             = errors.New("incident is not in verified state")
	ErrManagerNotAuthorized         = errors.New("manager is not authorized to assign incidents")
	ErrNoEligibleTeam               = errors.New("no eligible team for incident")
	ErrAssignmentIntegrityViolation = errors.New("assignment integrity violation")
	ErrRevertNotAllowed             = errors.New("assignment can only be reverted from assigned or in_progress state")
)

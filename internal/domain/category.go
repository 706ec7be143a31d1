package domain

import "time"

// AssignmentCategory is the classification result for an incident: a priority
// tier with its SLA target, a per-team cap on concurrent assignments of this
// tier, the capability tags an eligible team should carry, and the keyword
// list that triggers the tier during categorization.
type AssignmentCategory struct {
	Code                  CategoryCode  `json:"code"`
	SLATarget             time.Duration `json:"sla_target"`
	MaxAssignmentsPerTeam int           `json:"max_assignments_per_team"`
	RequiredCapabilities  []string      `json:"required_capabilities,omitempty"`
	Keywords              []string      `json:"keywords"`
}

// CategoryResult carries a categorization outcome together with the matched
// keywords, persisted on the incident for audit.
type CategoryResult struct {
	Category  AssignmentCategory `json:"category"`
	Matched   []string           `json:"matched"`
	Reasoning string             `json:"reasoning"`
}

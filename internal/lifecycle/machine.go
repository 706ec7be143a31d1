// Package lifecycle holds the pure state-transition rules for incidents and
// work orders. Callers apply repository-level preconditions separately; this
// package only answers whether a transition is legal.
package lifecycle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/civicgrid/drainflow/internal/domain"
)

// incidentTransitions is the canonical incident table. Verified incidents
// must pass through Assigned before InProgress so the assignment flow leaves
// an auditable intermediate state. Terminal states have no destinations.
var incidentTransitions = map[domain.IncidentStatus][]domain.IncidentStatus{
	domain.IncidentStatusNotStarted: {domain.IncidentStatusVerified},
	domain.IncidentStatusVerified:   {domain.IncidentStatusAssigned, domain.IncidentStatusCancelled},
	domain.IncidentStatusAssigned:   {domain.IncidentStatusInProgress, domain.IncidentStatusCompleted, domain.IncidentStatusCancelled},
	domain.IncidentStatusInProgress: {domain.IncidentStatusCompleted, domain.IncidentStatusCancelled},
	domain.IncidentStatusCompleted:  {},
	domain.IncidentStatusCancelled:  {},
}

// workOrderTransitions is the smaller work order table.
var workOrderTransitions = map[domain.WorkOrderStatus][]domain.WorkOrderStatus{
	domain.WorkOrderStatusNotStarted: {domain.WorkOrderStatusInProgress, domain.WorkOrderStatusCompleted, domain.WorkOrderStatusCancelled},
	domain.WorkOrderStatusInProgress: {domain.WorkOrderStatusCompleted, domain.WorkOrderStatusCancelled},
	domain.WorkOrderStatusCompleted:  {},
	domain.WorkOrderStatusCancelled:  {},
}

// TransitionError describes an illegal status change request.
type TransitionError struct {
	Entity  string
	From    string
	To      string
	Allowed []string
}

func (e *TransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("%s transition %s -> %s is not allowed: %s is terminal", e.Entity, e.From, e.To, e.From)
	}
	return fmt.Sprintf("%s transition %s -> %s is not allowed, legal destinations: %s",
		e.Entity, e.From, e.To, strings.Join(e.Allowed, ", "))
}

// Transition validates an incident status change. Returns nil if the change
// is legal, *TransitionError otherwise. Requesting the current status is
// rejected like any other illegal move, including on terminal states.
func Transition(current, requested domain.IncidentStatus) error {
	if !requested.IsValid() {
		return &TransitionError{Entity: "incident", From: string(current), To: string(requested), Allowed: incidentAllowed(current)}
	}
	for _, next := range incidentTransitions[current] {
		if next == requested {
			return nil
		}
	}
	return &TransitionError{Entity: "incident", From: string(current), To: string(requested), Allowed: incidentAllowed(current)}
}

// WorkOrderTransition validates a work order status change.
func WorkOrderTransition(current, requested domain.WorkOrderStatus) error {
	if !requested.IsValid() {
		return &TransitionError{Entity: "work order", From: string(current), To: string(requested), Allowed: workOrderAllowed(current)}
	}
	for _, next := range workOrderTransitions[current] {
		if next == requested {
			return nil
		}
	}
	return &TransitionError{Entity: "work order", From: string(current), To: string(requested), Allowed: workOrderAllowed(current)}
}

// AllowedTransitions returns the legal destinations from the given incident
// status, sorted for stable output.
func AllowedTransitions(current domain.IncidentStatus) []domain.IncidentStatus {
	next := make([]domain.IncidentStatus, len(incidentTransitions[current]))
	copy(next, incidentTransitions[current])
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next
}

func incidentAllowed(current domain.IncidentStatus) []string {
	out := make([]string, 0, len(incidentTransitions[current]))
	for _, s := range incidentTransitions[current] {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return out
}

func workOrderAllowed(current domain.WorkOrderStatus) []string {
	out := make([]string, 0, len(workOrderTransitions[current]))
	for _, s := range workOrderTransitions[current] {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return out
}

package lifecycle

import (
	"errors"
	"testing"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_LegalMoves(t *testing.T) {
	tests := []struct {
		name string
		from domain.IncidentStatus
		to   domain.IncidentStatus
	}{
		{"not_started to verified", domain.IncidentStatusNotStarted, domain.IncidentStatusVerified},
		{"verified to assigned", domain.IncidentStatusVerified, domain.IncidentStatusAssigned},
		{"verified to cancelled", domain.IncidentStatusVerified, domain.IncidentStatusCancelled},
		{"assigned to in_progress", domain.IncidentStatusAssigned, domain.IncidentStatusInProgress},
		{"assigned to completed", domain.IncidentStatusAssigned, domain.IncidentStatusCompleted},
		{"assigned to cancelled", domain.IncidentStatusAssigned, domain.IncidentStatusCancelled},
		{"in_progress to completed", domain.IncidentStatusInProgress, domain.IncidentStatusCompleted},
		{"in_progress to cancelled", domain.IncidentStatusInProgress, domain.IncidentStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, Transition(tt.from, tt.to))
		})
	}
}

func TestTransition_IllegalMoves(t *testing.T) {
	tests := []struct {
		name string
		from domain.IncidentStatus
		to   domain.IncidentStatus
	}{
		{"not_started skips to assigned", domain.IncidentStatusNotStarted, domain.IncidentStatusAssigned},
		{"not_started skips to in_progress", domain.IncidentStatusNotStarted, domain.IncidentStatusInProgress},
		{"not_started skips to completed", domain.IncidentStatusNotStarted, domain.IncidentStatusCompleted},
		{"verified skips to in_progress", domain.IncidentStatusVerified, domain.IncidentStatusInProgress},
		{"verified skips to completed", domain.IncidentStatusVerified, domain.IncidentStatusCompleted},
		{"assigned back to verified", domain.IncidentStatusAssigned, domain.IncidentStatusVerified},
		{"in_progress back to assigned", domain.IncidentStatusInProgress, domain.IncidentStatusAssigned},
		{"self transition verified", domain.IncidentStatusVerified, domain.IncidentStatusVerified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			require.Error(t, err)

			var terr *TransitionError
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, string(tt.from), terr.From)
			assert.Equal(t, string(tt.to), terr.To)
		})
	}
}

func TestTransition_TerminalStatesRejectEverything(t *testing.T) {
	terminals := []domain.IncidentStatus{domain.IncidentStatusCompleted, domain.IncidentStatusCancelled}
	all := []domain.IncidentStatus{
		domain.IncidentStatusNotStarted,
		domain.IncidentStatusVerified,
		domain.IncidentStatusAssigned,
		domain.IncidentStatusInProgress,
		domain.IncidentStatusCompleted,
		domain.IncidentStatusCancelled,
	}

	for _, from := range terminals {
		for _, to := range all {
			err := Transition(from, to)
			require.Error(t, err, "terminal %s must reject transition to %s", from, to)

			var terr *TransitionError
			require.True(t, errors.As(err, &terr))
			assert.Empty(t, terr.Allowed)
		}
	}
}

func TestTransition_TableIsTotal(t *testing.T) {
	// Every valid status must have an entry, even if empty.
	all := []domain.IncidentStatus{
		domain.IncidentStatusNotStarted,
		domain.IncidentStatusVerified,
		domain.IncidentStatusAssigned,
		domain.IncidentStatusInProgress,
		domain.IncidentStatusCompleted,
		domain.IncidentStatusCancelled,
	}
	for _, s := range all {
		_, ok := incidentTransitions[s]
		assert.True(t, ok, "missing table entry for %s", s)
	}
}

func TestTransition_InvalidRequestedStatus(t *testing.T) {
	err := Transition(domain.IncidentStatusVerified, domain.IncidentStatus("bogus"))
	require.Error(t, err)
}

func TestTransitionError_Message(t *testing.T) {
	err := Transition(domain.IncidentStatusVerified, domain.IncidentStatusCompleted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verified -> completed")
	assert.Contains(t, err.Error(), "assigned")
	assert.Contains(t, err.Error(), "cancelled")

	err = Transition(domain.IncidentStatusCompleted, domain.IncidentStatusCancelled)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal")
}

func TestWorkOrderTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.WorkOrderStatus
		to      domain.WorkOrderStatus
		wantErr bool
	}{
		{"not_started to in_progress", domain.WorkOrderStatusNotStarted, domain.WorkOrderStatusInProgress, false},
		{"not_started to completed", domain.WorkOrderStatusNotStarted, domain.WorkOrderStatusCompleted, false},
		{"not_started to cancelled", domain.WorkOrderStatusNotStarted, domain.WorkOrderStatusCancelled, false},
		{"in_progress to completed", domain.WorkOrderStatusInProgress, domain.WorkOrderStatusCompleted, false},
		{"in_progress to cancelled", domain.WorkOrderStatusInProgress, domain.WorkOrderStatusCancelled, false},
		{"in_progress back to not_started", domain.WorkOrderStatusInProgress, domain.WorkOrderStatusNotStarted, true},
		{"completed to in_progress", domain.WorkOrderStatusCompleted, domain.WorkOrderStatusInProgress, true},
		{"cancelled to completed", domain.WorkOrderStatusCancelled, domain.WorkOrderStatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WorkOrderTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAllowedTransitions(t *testing.T) {
	assert.Equal(t,
		[]domain.IncidentStatus{domain.IncidentStatusAssigned, domain.IncidentStatusCancelled},
		AllowedTransitions(domain.IncidentStatusVerified),
	)
	assert.Empty(t, AllowedTransitions(domain.IncidentStatusCompleted))
}

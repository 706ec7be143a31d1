//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	incidentspostgres "github.com/civicgrid/drainflow/internal/incidents/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transition(t *testing.T, incidentID, target string) *http.Response {
	t.Helper()
	resp, err := managerClient(t).POST("/api/v1/incidents/"+incidentID+"/transition",
		map[string]any{"target": target})
	require.NoError(t, err)
	return resp
}

func assignTo(t *testing.T, incidentID string) {
	t.Helper()
	resp, err := managerClient(t).POST("/api/v1/incidents/"+incidentID+"/assign", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestLifecycle_CompletionReleasesCapacity(t *testing.T) {
	resetData(t)
	teamID := createTeam(t, "Lifecycle Crew")
	incidentID := reportVerified(t, "Broken lateral", "Wastewater seeping", "Hillside")
	assignTo(t, incidentID)

	resp := transition(t, incidentID, "in_progress")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// work order mirrors the move
	var woStatus string
	err := testDB.QueryRow(context.Background(),
		`SELECT status FROM work_orders WHERE incident_id = $1`, incidentID).Scan(&woStatus)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", woStatus)
	assert.Equal(t, 1, getTeamCapacity(t, teamID))

	backdateAssignment(t, incidentID, 2*time.Hour)

	resp = transition(t, incidentID, "completed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	incident := getIncident(t, incidentID)
	assert.Equal(t, domain.IncidentStatusCompleted, incident.Status)
	// completed incidents keep their assignment record
	assert.NotNil(t, incident.AssignedTeamID)

	err = testDB.QueryRow(context.Background(),
		`SELECT status FROM work_orders WHERE incident_id = $1`, incidentID).Scan(&woStatus)
	require.NoError(t, err)
	assert.Equal(t, "completed", woStatus)
	assert.Equal(t, 0, getTeamCapacity(t, teamID))
}

func TestLifecycle_CompletionDwellEnforced(t *testing.T) {
	resetData(t)
	createTeam(t, "Hasty Crew")
	incidentID := reportVerified(t, "Odor complaint", "Gas smell at inlet", "Downtown")
	assignTo(t, incidentID)

	// freshly assigned, completion is too early
	resp := transition(t, incidentID, "completed")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	incident := getIncident(t, incidentID)
	assert.Equal(t, domain.IncidentStatusAssigned, incident.Status)

	backdateAssignment(t, incidentID, time.Hour+time.Second)

	resp = transition(t, incidentID, "completed")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestLifecycle_CancellationClearsAssignment(t *testing.T) {
	resetData(t)
	teamID := createTeam(t, "Cancel Crew")
	incidentID := reportVerified(t, "False alarm", "Reported overflow not found", "Suburb")
	assignTo(t, incidentID)

	resp := transition(t, incidentID, "cancelled")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	incident := getIncident(t, incidentID)
	assert.Equal(t, domain.IncidentStatusCancelled, incident.Status)
	assert.Nil(t, incident.AssignedTeamID)
	assert.Nil(t, incident.SLADeadline)
	assert.Equal(t, 0, getTeamCapacity(t, teamID))

	var woStatus string
	err := testDB.QueryRow(context.Background(),
		`SELECT status FROM work_orders WHERE incident_id = $1`, incidentID).Scan(&woStatus)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", woStatus)
}

func TestLifecycle_TerminalStatesAreAbsorbing(t *testing.T) {
	resetData(t)
	createTeam(t, "Terminal Crew")
	incidentID := reportVerified(t, "Minor seepage", "Damp patch", "Park")
	assignTo(t, incidentID)

	resp := transition(t, incidentID, "cancelled")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	for _, target := range []string{"verified", "in_progress", "completed", "cancelled"} {
		resp := transition(t, incidentID, target)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, "target %s", target)
		_ = resp.Body.Close()
	}
}

func TestLifecycle_AssignedTargetRequiresAssignmentEndpoint(t *testing.T) {
	resetData(t)
	createTeam(t, "Endpoint Crew")
	incidentID := reportVerified(t, "Routing check", "Flow test", "Depot")

	resp := transition(t, incidentID, "assigned")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestLifecycle_SLABreachSweep(t *testing.T) {
	resetData(t)
	createTeam(t, "Sweep Crew")
	incidentID := reportVerified(t, "Aging backlog", "Long running fault", "Outskirts")
	assignTo(t, incidentID)

	// push the deadline into the past and run the sweep directly
	_, err := testDB.Exec(context.Background(),
		`UPDATE incidents SET sla_deadline = now() - interval '1 hour' WHERE id = $1`, incidentID)
	require.NoError(t, err)

	repo := incidentspostgres.NewRepository(testDB)
	flagged, err := repo.MarkSLABreaches(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, flagged)

	incident := getIncident(t, incidentID)
	assert.True(t, incident.SLABreached)
}

//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/civicgrid/drainflow/internal/testutil"
	"github.com/stretchr/testify/require"
)

// resetData clears all mutable tables so each test starts from a known state.
// Seeded users survive.
func resetData(t *testing.T) {
	t.Helper()
	_, err := testDB.Exec(context.Background(), `
		TRUNCATE work_order_progress, work_orders, incidents, team_members,
		         teams, notification_queue, audit_log`)
	require.NoError(t, err)
}

type teamOption func(map[string]any)

func withZone(zone string) teamOption {
	return func(p map[string]any) { p["zone"] = zone }
}

func withCapabilities(caps ...string) teamOption {
	return func(p map[string]any) { p["capabilities"] = caps }
}

func withMaxCapacity(capacity int) teamOption {
	return func(p map[string]any) { p["max_capacity"] = capacity }
}

// createTeam creates a team through the API as the seeded manager and adds
// the seeded worker as an active member. Returns the team id.
func createTeam(t *testing.T, name string, opts ...teamOption) string {
	t.Helper()
	client := managerClient(t)

	payload := map[string]any{
		"name":         name,
		"max_capacity": 5,
	}
	for _, opt := range opts {
		opt(payload)
	}

	resp, err := client.POST("/api/v1/teams", payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var team domain.Team
	testutil.DecodeData(t, resp, &team)

	resp, err = client.POST("/api/v1/teams/"+team.ID+"/members", map[string]any{
		"user_id": workerID,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return team.ID
}

// reportIncident files an incident as the seeded reporter.
func reportIncident(t *testing.T, title, description, location string) string {
	t.Helper()

	resp, err := reporterClient(t).POST("/api/v1/incidents", map[string]any{
		"title":       title,
		"description": description,
		"location":    location,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var incident domain.Incident
	testutil.DecodeData(t, resp, &incident)
	return incident.ID
}

// verifyIncident moves a reported incident to verified as the seeded leader.
func verifyIncident(t *testing.T, incidentID string) {
	t.Helper()

	resp, err := leaderClient(t).POST("/api/v1/incidents/"+incidentID+"/verify", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

// reportVerified files and verifies an incident in one step.
func reportVerified(t *testing.T, title, description, location string) string {
	t.Helper()
	id := reportIncident(t, title, description, location)
	verifyIncident(t, id)
	return id
}

func getIncident(t *testing.T, incidentID string) *domain.Incident {
	t.Helper()

	resp, err := managerClient(t).GET("/api/v1/incidents/" + incidentID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var incident domain.Incident
	testutil.DecodeData(t, resp, &incident)
	return &incident
}

func getTeamCapacity(t *testing.T, teamID string) int {
	t.Helper()
	var capacity int
	err := testDB.QueryRow(context.Background(),
		`SELECT current_capacity FROM teams WHERE id = $1`, teamID).Scan(&capacity)
	require.NoError(t, err)
	return capacity
}

func countActiveWorkOrders(t *testing.T, incidentID string) int {
	t.Helper()
	var count int
	err := testDB.QueryRow(context.Background(), `
		SELECT count(*) FROM work_orders
		WHERE incident_id = $1 AND status IN ('not_started', 'in_progress')`,
		incidentID).Scan(&count)
	require.NoError(t, err)
	return count
}

// backdateAssignment moves an assignment into the past so the completion
// dwell check passes.
func backdateAssignment(t *testing.T, incidentID string, age time.Duration) {
	t.Helper()
	assignedAt := time.Now().Add(-age)
	_, err := testDB.Exec(context.Background(),
		`UPDATE incidents SET assigned_at = $2 WHERE id = $1`, incidentID, assignedAt)
	require.NoError(t, err)
	_, err = testDB.Exec(context.Background(),
		`UPDATE work_orders SET assigned_at = $2 WHERE incident_id = $1`, incidentID, assignedAt)
	require.NoError(t, err)
}

package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/deploylog"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/gh-nvat/bluegreen/src/pkg/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store := deploylog.NewFileStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, &models.DeploymentRecord{ID: "d1", Timestamp: base, Environment: "staging", DeployedTo: models.COLOR_BLUE, Version: "1.0.0", Success: true}))
	require.NoError(t, store.Append(ctx, &models.DeploymentRecord{ID: "d2", Timestamp: base.Add(time.Hour), Environment: "staging", DeployedTo: models.COLOR_GREEN, Version: "1.1.0", Success: false, Error: "build failed"}))
	require.NoError(t, store.Append(ctx, &models.RollbackRecord{ID: "r1", Timestamp: base.Add(2 * time.Hour), Environment: "staging", RolledBackTo: models.COLOR_BLUE, RolledBackFrom: models.COLOR_GREEN, Success: true}))

	reportDir := t.TempDir()
	for i, availability := range []float64{100, 80} {
		stats := models.EndpointStats{Name: "Home Page", Path: "/"}
		for c := 0; c < 10; c++ {
			monitor.Record(&stats, float64(c*10) < availability, 12)
		}
		r := &models.MonitoringReport{
			Title:     "Deployment Monitoring Report - https://staging.example.com",
			StartTime: base.Add(time.Duration(i) * 24 * time.Hour),
			Endpoints: []models.EndpointStats{stats},
			Alerts:    []models.Alert{{Timestamp: base.Add(time.Duration(i) * time.Hour), Endpoint: "/", Message: "alert"}},
		}
		_, err := monitor.WriteReport(reportDir, r, nil)
		require.NoError(t, err)
	}

	s := NewServer(store, reportDir)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestDeploymentsEndpoint(t *testing.T) {
	_, srv := seed(t)

	var all []map[string]interface{}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/deployments", &all))
	require.Len(t, all, 3)
	assert.Equal(t, "rollback", all[0]["type"])
	assert.Equal(t, "r1", all[0]["id"])

	var deployments []map[string]interface{}
	getJSON(t, srv.URL+"/api/deployments?type=deployment", &deployments)
	require.Len(t, deployments, 2)
	assert.Equal(t, "build failed", deployments[0]["error"])

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/deployments?type=bogus", nil))
}

func TestMonitoringEndpoint(t *testing.T) {
	_, srv := seed(t)

	var docs []models.MonitoringReportDocument
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/monitoring?limit=1", &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "80.00%", docs[0].Summary.Availability)
}

func TestSummaryEndpoint(t *testing.T) {
	_, srv := seed(t)

	var sum Summary
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/summary", &sum))
	assert.Equal(t, 2, sum.DeploymentCount)
	assert.Equal(t, 1, sum.RollbackCount)
	assert.Equal(t, "50.00%", sum.SuccessRate)
	assert.Equal(t, "d2", sum.LatestDeployment["id"])
	assert.Equal(t, "r1", sum.LatestRollback["id"])
	require.NotNil(t, sum.LatestReport)
	assert.Equal(t, "80.00%", sum.LatestReport.Summary.Availability)
	require.Len(t, sum.AvailabilityData, 2)
	assert.Equal(t, 100.0, sum.AvailabilityData[0].Value)
	assert.Equal(t, 80.0, sum.AvailabilityData[1].Value)
	require.Len(t, sum.RecentAlerts, 2)
	assert.True(t, sum.RecentAlerts[0].Timestamp.After(sum.RecentAlerts[1].Timestamp))
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := seed(t)
	getJSON(t, srv.URL+"/api/summary", &Summary{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bluegreen_dashboard_requests_total{code="200",route="/api/summary"} 1`)
	assert.Contains(t, string(body), `bluegreen_history_records{group="staging",success="true",type="deployment"} 1`)
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(nil, nil)
	assert.Equal(t, "N/A", sum.SuccessRate)
	assert.Nil(t, sum.LatestReport)
	assert.NotNil(t, sum.RecentAlerts)
}

func TestParseMetric(t *testing.T) {
	v, ok := parseMetric("99.50%")
	assert.True(t, ok)
	assert.Equal(t, 99.5, v)
	v, ok = parseMetric("120.25ms")
	assert.True(t, ok)
	assert.Equal(t, 120.25, v)
	_, ok = parseMetric("N/A")
	assert.False(t, ok)
}

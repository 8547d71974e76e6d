package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellular-dev/cellular"
	"github.com/cellular-dev/cellular/metrics"
)

func newTestServer(t *testing.T) (*httptest.Server, *cellular.Framework) {
	t.Helper()

	registry := prometheus.NewRegistry()
	f, err := cellular.New(cellular.WithRecorder(metrics.NewRecorder(registry)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Stop(context.Background()) })

	srv := httptest.NewServer(NewRouter(f, nil, registry))
	t.Cleanup(srv.Close)
	return srv, f
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv, f := newTestServer(t)

	_, err := f.Create(cellular.UnitConfig{ID: "w"})
	require.NoError(t, err)

	var body map[string]any
	status := getJSON(t, srv.URL+"/healthz", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["units"])
}

func TestListUnits(t *testing.T) {
	srv, f := newTestServer(t)

	for _, id := range []string{"bravo", "alpha"} {
		_, err := f.Create(cellular.UnitConfig{ID: id})
		require.NoError(t, err)
	}

	var body []map[string]any
	status := getJSON(t, srv.URL+"/units", &body)

	require.Equal(t, http.StatusOK, status)
	require.Len(t, body, 2)
	assert.Equal(t, "alpha", body[0]["id"], "units are listed sorted by id")
	assert.Equal(t, "ready", body[0]["state"])
	assert.Equal(t, "operational", body[0]["phase"])
}

func TestGetUnit(t *testing.T) {
	srv, f := newTestServer(t)

	_, err := f.Create(cellular.UnitConfig{
		ID:         "w",
		Name:       "worker",
		Properties: map[string]any{cellular.PropErrorRate: 0.01},
	})
	require.NoError(t, err)

	var body map[string]any
	status := getJSON(t, srv.URL+"/units/w", &body)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "worker", body["name"])
	assert.Equal(t, "ready", body["state"])

	props, ok := body["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, cellular.PropErrorRate)
}

func TestGetUnitNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]any
	status := getJSON(t, srv.URL+"/units/ghost", &body)

	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body["error"], "not found")
}

func TestAssessEndpoint(t *testing.T) {
	srv, f := newTestServer(t)

	_, err := f.Create(cellular.UnitConfig{
		ID:         "w",
		Properties: map[string]any{cellular.PropErrorRate: 0.01},
	})
	require.NoError(t, err)
	require.NoError(t, f.Transition("w", cellular.StateActive))

	resp, err := http.Post(srv.URL+"/units/w/assess", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var assessment cellular.HealthAssessment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&assessment))
	assert.Equal(t, "w", assessment.UnitID)
	assert.Equal(t, cellular.HealthHealthy, assessment.Status)

	// The assessment is now retrievable from the read-only route.
	var cached cellular.HealthAssessment
	status := getJSON(t, srv.URL+"/units/w/health", &cached)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, assessment.Status, cached.Status)
}

func TestHealthBeforeAnyAssessment(t *testing.T) {
	srv, f := newTestServer(t)

	_, err := f.Create(cellular.UnitConfig{ID: "w"})
	require.NoError(t, err)

	var body map[string]any
	status := getJSON(t, srv.URL+"/units/w/health", &body)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestVitalsEndpoint(t *testing.T) {
	srv, f := newTestServer(t)

	_, err := f.Create(cellular.UnitConfig{
		ID:         "w",
		Properties: map[string]any{cellular.PropProcessedCount: 99},
	})
	require.NoError(t, err)

	var stats cellular.VitalStats
	status := getJSON(t, srv.URL+"/units/w/vitals", &stats)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(99), stats.Processed)
}

func TestJournalEndpoint(t *testing.T) {
	srv, f := newTestServer(t)

	_, err := f.Create(cellular.UnitConfig{ID: "w"})
	require.NoError(t, err)

	var journal []cellular.JournalEntry
	status := getJSON(t, srv.URL+"/units/w/journal", &journal)

	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, journal)
	assert.Equal(t, "unit created", journal[0].Message)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, f := newTestServer(t)

	_, err := f.Create(cellular.UnitConfig{ID: "w"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamain12/Roadpulse-backend/internal/lib/incident"
	"github.com/lamain12/Roadpulse-backend/internal/lib/routing"
)

var (
	klcc      = [2]float64{3.1579, 101.7123}
	klccSouth = [2]float64{3.1534, 101.7123} // about 500 m south
)

type failingRewarder struct{}

func (failingRewarder) AwardPoints(ctx context.Context, userID string, delta int) error {
	return errors.New("account store down")
}

func newIncidentRouter(t *testing.T, opts ...incident.Option) *mux.Router {
	t.Helper()
	engine := incident.NewEngine(incident.NewMemoryRepository(), incident.DefaultConfig(), opts...)
	svc := NewIncidentsService(engine, routing.NewOverlay(engine, 0, 0), 0)
	return NewRouter(nil, svc)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func report(t *testing.T, h http.Handler, incidentType, reporter string, at [2]float64) reportResponse {
	rec := doJSON(t, h, http.MethodPost, "/api/report-incident", map[string]any{
		"incident_type": incidentType,
		"lat":           at[0],
		"lng":           at[1],
		"reporter":      reporter,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[reportResponse](t, rec)
}

func TestReportIncident(t *testing.T) {
	h := newIncidentRouter(t)

	first := report(t, h, "accident", "amir", klcc)
	assert.Equal(t, "Incident recorded", first.Message)
	assert.Equal(t, 10, first.DelayMinutes)
	assert.Equal(t, "created", first.Outcome)
	assert.NotEmpty(t, first.IncidentID)

	second := report(t, h, "Accident", "bella", klcc)
	assert.Equal(t, "merged", second.Outcome)
	assert.Equal(t, first.IncidentID, second.IncidentID)

	again := report(t, h, "accident", "bella", klcc)
	assert.Equal(t, "duplicate", again.Outcome)
}

func TestReportIncident_Validation(t *testing.T) {
	h := newIncidentRouter(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing reporter", map[string]any{"incident_type": "pothole", "lat": klcc[0], "lng": klcc[1]}},
		{"missing type", map[string]any{"reporter": "amir", "lat": klcc[0], "lng": klcc[1]}},
		{"bad latitude", map[string]any{"incident_type": "pothole", "reporter": "amir", "lat": 91, "lng": klcc[1]}},
		{"missing coordinates", map[string]any{"incident_type": "pothole", "reporter": "amir"}},
		{"missing longitude", map[string]any{"incident_type": "pothole", "reporter": "amir", "lat": klcc[0]}},
		{"malformed body", `{"incident_type":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/report-incident", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_error", decode[errorResponse](t, rec).Error)
		})
	}
}

func TestReportIncident_RewardFailureStillRecords(t *testing.T) {
	h := newIncidentRouter(t, incident.WithRewarder(failingRewarder{}))

	first := report(t, h, "roadblock", "amir", klcc)
	report(t, h, "roadblock", "bella", klcc)
	third := report(t, h, "roadblock", "chong", klcc)

	assert.Equal(t, "merged", third.Outcome)
	assert.Equal(t, first.IncidentID, third.IncidentID)
}

func TestUpdateStatus(t *testing.T) {
	h := newIncidentRouter(t)
	created := report(t, h, "breakdown", "amir", klcc)

	rec := doJSON(t, h, http.MethodPut, "/api/incidents/"+created.IncidentID+"/status",
		map[string]any{"reporter": "bella", "status": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Incident status updated successfully", decode[messageResponse](t, rec).Message)

	rec = doJSON(t, h, http.MethodGet, "/api/incidents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]incident.Incident](t, rec))

	// un-clearing is rejected
	rec = doJSON(t, h, http.MethodPut, "/api/incidents/"+created.IncidentID+"/status",
		map[string]any{"reporter": "amir", "status": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatus_Errors(t *testing.T) {
	h := newIncidentRouter(t)

	rec := doJSON(t, h, http.MethodPut, "/api/incidents/not-a-uuid/status",
		map[string]any{"reporter": "amir", "status": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/api/incidents/6c0f2f7e-3b7a-4d43-9d0b-4a1f6f1c2a10/status",
		map[string]any{"reporter": "amir", "status": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorResponse](t, rec).Error)
}

func TestCheckNearby(t *testing.T) {
	h := newIncidentRouter(t)
	created := report(t, h, "pothole", "amir", klcc)

	rec := doJSON(t, h, http.MethodPost, "/api/check-nearby-incidents",
		map[string]any{"lat": klccSouth[0], "lng": klccSouth[1]})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[nearbyResponse](t, rec)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, 3, resp.TotalDelayMinutes)
	require.Len(t, resp.NearbyIncidents, 1)
	item := resp.NearbyIncidents[0]
	assert.Equal(t, created.IncidentID, item.IncidentID)
	assert.Equal(t, "pothole", item.IncidentType)
	assert.Equal(t, "pothole", item.IncidentText)
	assert.InDelta(t, 500.4, item.Distance, 1)
	assert.Equal(t, klcc[0], item.Lat)

	rec = doJSON(t, h, http.MethodPost, "/api/check-nearby-incidents",
		map[string]any{"lat": 1.3521, "lng": 103.8198})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[nearbyResponse](t, rec)
	assert.Zero(t, resp.Count)
	assert.NotNil(t, resp.NearbyIncidents)

	rec = doJSON(t, h, http.MethodPost, "/api/check-nearby-incidents", map[string]any{"lat": klcc[0]})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode[errorResponse](t, rec).Error)
}

func TestCalculateRouteDelay(t *testing.T) {
	h := newIncidentRouter(t)
	report(t, h, "accident", "amir", klcc)
	report(t, h, "oilspill", "amir", [2]float64{3.1390, 101.6869})

	rec := doJSON(t, h, http.MethodPost, "/api/calculate-route-delay", map[string]any{
		"coordinates": [][]float64{{3.1600, 101.7123}, klcc[:], klccSouth[:]},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[routing.DelayReport](t, rec)
	assert.Equal(t, 10, resp.TotalDelayMinutes)
	require.Len(t, resp.Breakdown, 1)
	assert.Equal(t, "accident", resp.Breakdown[0].Type)
	assert.Equal(t, incident.UnknownPlace, resp.Breakdown[0].PlaceName)

	rec = doJSON(t, h, http.MethodPost, "/api/calculate-route-delay", map[string]any{"coordinates": [][]float64{}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[routing.DelayReport](t, rec).TotalDelayMinutes)

	rec = doJSON(t, h, http.MethodPost, "/api/calculate-route-delay", map[string]any{
		"coordinates": [][]float64{{3.1600}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportKML(t *testing.T) {
	h := newIncidentRouter(t)
	report(t, h, "accident", "amir", klcc)

	rec := doJSON(t, h, http.MethodGet, "/api/incidents.kml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.google-earth.kml+xml", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "<Placemark>")
	assert.Contains(t, body, "accident at Unknown location")
	assert.Contains(t, body, "101.7123,3.1579")
}

func TestMountPaths(t *testing.T) {
	h := newIncidentRouter(t)
	paths := MountPaths(h)
	assert.Contains(t, paths, "/api/incidents/")
	assert.Contains(t, paths, "/api/report-incident")
}

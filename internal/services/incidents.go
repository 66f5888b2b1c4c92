package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/gorilla/mux"
	kml "github.com/twpayne/go-kml"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
	"github.com/lamain12/Roadpulse-backend/internal/lib/incident"
	"github.com/lamain12/Roadpulse-backend/internal/lib/routing"
)

// IncidentEngine is the subset of *incident.Engine served over HTTP
type IncidentEngine interface {
	SubmitReport(ctx context.Context, report incident.Report, reporter string) (incident.Result, error)
	SetStatus(ctx context.Context, id, reporter string, cleared bool) error
	Active(ctx context.Context) ([]incident.Incident, error)
	Nearby(ctx context.Context, point geo.Point, radiusMeters float64) (incident.NearbyResult, error)
}

// IncidentsService serves incident reporting and route delay queries
type IncidentsService struct {
	engine       IncidentEngine
	overlay      routing.Overlay
	nearbyRadius float64
}

// NewIncidentsService creates a new IncidentsService
func NewIncidentsService(engine IncidentEngine, overlay routing.Overlay, nearbyRadius float64) *IncidentsService {
	return &IncidentsService{
		engine:       engine,
		overlay:      overlay,
		nearbyRadius: nearbyRadius,
	}
}

// Register mounts the incident routes on r
func (s *IncidentsService) Register(r *mux.Router) {
	r.HandleFunc("/api/report-incident", s.ReportIncident).Methods(http.MethodPost)
	r.HandleFunc("/api/incidents/{id}/status", s.UpdateStatus).Methods(http.MethodPut)
	r.HandleFunc("/api/check-nearby-incidents", s.CheckNearby).Methods(http.MethodPost)
	r.HandleFunc("/api/calculate-route-delay", s.CalculateRouteDelay).Methods(http.MethodPost)
	r.HandleFunc("/api/incidents", s.ListIncidents).Methods(http.MethodGet)
	r.HandleFunc("/api/incidents.kml", s.ExportKML).Methods(http.MethodGet)
}

type reportRequest struct {
	IncidentType string   `json:"incident_type"`
	IncidentText string   `json:"incident_text"`
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
	Reporter     string   `json:"reporter"`
}

type reportResponse struct {
	Message      string `json:"message"`
	IncidentID   string `json:"incident_id"`
	DelayMinutes int    `json:"delay_minutes"`
	Outcome      string `json:"outcome"`
}

// ReportIncident handles POST /api/report-incident
func (s *IncidentsService) ReportIncident(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req reportRequest
	if err := decodeJSON(r, "ReportIncident", &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	location, err := requirePoint("ReportIncident", req.Lat, req.Lng)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	result, err := s.engine.SubmitReport(ctx, incident.Report{
		Type:     req.IncidentType,
		Location: location,
		Text:     req.IncidentText,
	}, req.Reporter)
	if err != nil {
		if !incident.RewardFailed(err) {
			writeError(ctx, w, err)
			return
		}
		logging.Errorw(ctx, "services: Incident recorded without rewards",
			"incident_id", result.Incident.ID, "error", err)
	}

	writeJSON(ctx, w, http.StatusOK, reportResponse{
		Message:      "Incident recorded",
		IncidentID:   result.Incident.ID,
		DelayMinutes: result.Incident.DelayMinutes,
		Outcome:      result.Outcome.String(),
	})
}

type statusRequest struct {
	Reporter string `json:"reporter"`
	Status   bool   `json:"status"`
}

// UpdateStatus handles PUT /api/incidents/{id}/status
func (s *IncidentsService) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req statusRequest
	if err := decodeJSON(r, "UpdateStatus", &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.engine.SetStatus(ctx, id, req.Reporter, req.Status); err != nil {
		if !incident.RewardFailed(err) {
			writeError(ctx, w, err)
			return
		}
		logging.Errorw(ctx, "services: Status updated without rewards", "incident_id", id, "error", err)
	}

	writeJSON(ctx, w, http.StatusOK, messageResponse{Message: "Incident status updated successfully"})
}

type nearbyRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type nearbyItem struct {
	IncidentID   string  `json:"incident_id"`
	IncidentType string  `json:"incident_type"`
	IncidentText string  `json:"incident_text"`
	Distance     float64 `json:"distance"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	DelayMinutes int     `json:"delay_minutes"`
}

type nearbyResponse struct {
	NearbyIncidents   []nearbyItem `json:"nearby_incidents"`
	Count             int          `json:"count"`
	TotalDelayMinutes int          `json:"total_delay_minutes"`
}

// CheckNearby handles POST /api/check-nearby-incidents
func (s *IncidentsService) CheckNearby(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req nearbyRequest
	if err := decodeJSON(r, "CheckNearby", &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	point, err := requirePoint("CheckNearby", req.Lat, req.Lng)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	result, err := s.engine.Nearby(ctx, point, s.nearbyRadius)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	resp := nearbyResponse{
		NearbyIncidents:   make([]nearbyItem, 0, len(result.Matches)),
		Count:             result.Count,
		TotalDelayMinutes: result.TotalDelayMinutes,
	}
	for _, m := range result.Matches {
		text := m.Text
		if text == "" {
			text = m.Type
		}
		resp.NearbyIncidents = append(resp.NearbyIncidents, nearbyItem{
			IncidentID:   m.ID,
			IncidentType: m.Type,
			IncidentText: text,
			Distance:     m.DistanceMeters,
			Lat:          m.Location.Latitude,
			Lng:          m.Location.Longitude,
			DelayMinutes: m.DelayMinutes,
		})
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

type routeDelayRequest struct {
	Coordinates [][]float64 `json:"coordinates"`
}

// CalculateRouteDelay handles POST /api/calculate-route-delay
func (s *IncidentsService) CalculateRouteDelay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req routeDelayRequest
	if err := decodeJSON(r, "CalculateRouteDelay", &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	path := make(geo.Path, 0, len(req.Coordinates))
	for i, c := range req.Coordinates {
		if len(c) != 2 {
			writeError(ctx, w, errs.Validation("CalculateRouteDelay", "coordinate %d must be [lat, lng]", i))
			return
		}
		path = append(path, geo.Point{Latitude: c[0], Longitude: c[1]})
	}

	report, err := s.overlay.RouteDelay(ctx, path)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, report)
}

// ListIncidents handles GET /api/incidents
func (s *IncidentsService) ListIncidents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	active, err := s.engine.Active(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if active == nil {
		active = []incident.Incident{}
	}
	writeJSON(ctx, w, http.StatusOK, active)
}

// ExportKML handles GET /api/incidents.kml
func (s *IncidentsService) ExportKML(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	active, err := s.engine.Active(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="incidents.kml"`)
	if err := IncidentsKML(active).WriteIndent(w, "", "  "); err != nil {
		logging.Warnw(ctx, "services: Failed to write KML", "error", err)
	}
}

// IncidentsKML renders active incidents as a KML document, one placemark each
func IncidentsKML(incidents []incident.Incident) *kml.CompoundElement {
	doc := kml.Document(kml.Name("Roadpulse active incidents"))
	for _, inc := range incidents {
		place := inc.PlaceName
		if place == "" {
			place = incident.UnknownPlace
		}
		doc.Add(kml.Placemark(
			kml.Name(fmt.Sprintf("%s at %s", inc.Type, place)),
			kml.Description(fmt.Sprintf("Delay %d min, confirmed %d times", inc.DelayMinutes, inc.Times)),
			kml.TimeStamp(kml.When(inc.ReportedAt.UTC().Truncate(time.Second))),
			kml.Point(kml.Coordinates(kml.Coordinate{
				Lon: inc.Location.Longitude,
				Lat: inc.Location.Latitude,
			})),
		))
	}
	return kml.KML(doc)
}

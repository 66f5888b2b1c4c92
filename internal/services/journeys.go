package services

import (
	"context"
	"net/http"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/gorilla/mux"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
	"github.com/lamain12/Roadpulse-backend/internal/lib/journey"
)

// JourneyComposer is implemented by *journey.Composer
type JourneyComposer interface {
	Compose(ctx context.Context, req journey.Request) ([]journey.Journey, error)
}

// TrafficSummarizer is implemented by *journey.TrafficReporter
type TrafficSummarizer interface {
	Summary(ctx context.Context, origin, destination geo.Point) (journey.TrafficCard, error)
}

// JourneysService serves ETA prediction and traffic cards
type JourneysService struct {
	composer JourneyComposer
	traffic  TrafficSummarizer
	// loc interprets datetimes sent without a zone offset
	loc *time.Location
}

// NewJourneysService creates a new JourneysService. A nil loc means UTC.
func NewJourneysService(composer JourneyComposer, traffic TrafficSummarizer, loc *time.Location) *JourneysService {
	if loc == nil {
		loc = time.UTC
	}
	return &JourneysService{composer: composer, traffic: traffic, loc: loc}
}

// Register mounts the journey routes on r
func (s *JourneysService) Register(r *mux.Router) {
	r.HandleFunc("/predict", s.Predict).Methods(http.MethodPost)
	r.HandleFunc("/api/traffic-nearby", s.TrafficNearby).Methods(http.MethodGet)
}

type stopRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
	// Duration is the dwell time at the stop in seconds
	Duration int `json:"duration"`
}

type predictRequest struct {
	StartName       string        `json:"start_name"`
	DestinationName string        `json:"destination_name"`
	Vehicle         string        `json:"vehicle"`
	Datetime        string        `json:"datetime"`
	StartLat        *float64      `json:"start_lat"`
	StartLng        *float64      `json:"start_lng"`
	DestinationLat  float64       `json:"destination_lat"`
	DestinationLng  float64       `json:"destination_lng"`
	Stops           []stopRequest `json:"stops"`
}

type predictResponse struct {
	RoutesResult []journey.Journey `json:"routes_result"`
}

// localLayouts are accepted for datetimes without a zone offset
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

func (s *JourneysService) parseDatetime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, s.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errs.Validation("Predict", "invalid datetime format: %s", value)
}

// waypoints builds the trip: optional start, the stops in order, then the
// destination. A stop's dwell time is spent before leaving it.
func (req predictRequest) waypoints() []journey.Waypoint {
	var wps []journey.Waypoint
	if req.StartLat != nil && req.StartLng != nil {
		wps = append(wps, journey.Waypoint{Location: geo.Point{Latitude: *req.StartLat, Longitude: *req.StartLng}})
	}
	for _, stop := range req.Stops {
		wps = append(wps, journey.Waypoint{
			Location:    geo.Point{Latitude: stop.Lat, Longitude: stop.Lng},
			StopMinutes: float64(stop.Duration) / 60,
		})
	}
	return append(wps, journey.Waypoint{Location: geo.Point{Latitude: req.DestinationLat, Longitude: req.DestinationLng}})
}

// Predict handles POST /predict
func (s *JourneysService) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req predictRequest
	if err := decodeJSON(r, "Predict", &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	departAt, err := s.parseDatetime(req.Datetime)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	journeys, err := s.composer.Compose(ctx, journey.Request{
		Waypoints: req.waypoints(),
		Mode:      req.Vehicle,
		DepartAt:  departAt,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, predictResponse{RoutesResult: journeys})
}

// TrafficNearby handles GET /api/traffic-nearby?origin=lat,lng&destination=lat,lng.
// The response is a list holding at most one card; it is empty when no
// driving route is available.
func (s *JourneysService) TrafficNearby(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	origin, err := parsePoint("TrafficNearby", "origin", r.URL.Query().Get("origin"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	destination, err := parsePoint("TrafficNearby", "destination", r.URL.Query().Get("destination"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	cards := []journey.TrafficCard{}
	card, err := s.traffic.Summary(ctx, origin, destination)
	switch {
	case err == nil:
		cards = append(cards, card)
	case errs.Is(err, errs.KindValidation):
		writeError(ctx, w, err)
		return
	default:
		logging.Warnw(ctx, "services: Traffic summary unavailable",
			"origin", origin.String(), "destination", destination.String(), "error", err)
	}
	writeJSON(ctx, w, http.StatusOK, cards)
}

package journey

import (
	"context"
	"time"

	"github.com/lamain12/Roadpulse-backend/internal/lib/eta"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
)

// Waypoint is a trip stop. StopMinutes is dwell time spent at the waypoint
// before leaving it.
type Waypoint struct {
	Location    geo.Point `json:"location"`
	StopMinutes float64   `json:"stop_minutes"`
}

// Request describes a multi-stop trip
type Request struct {
	Waypoints []Waypoint
	Mode      string
	DepartAt  time.Time // zero means now
}

// ProviderRoute is one physical route returned by an AlternativesProvider
type ProviderRoute struct {
	DistanceMeters    int
	Duration          time.Duration // free-flow
	DurationInTraffic time.Duration
	Path              geo.Path
}

// Conditions are the weather features used for scoring
type Conditions struct {
	TemperatureC    float64 `json:"temperature_c"`
	PrecipitationMm float64 `json:"precipitation_mm"`
}

// DefaultConditions are used when the weather provider is unavailable
var DefaultConditions = Conditions{TemperatureC: 25.0, PrecipitationMm: 0}

// Alternative is a scored candidate route for one segment
type Alternative struct {
	RouteIndex               int      `json:"route_index"`
	DistanceKm               float64  `json:"distance_km"`
	DurationMinutes          float64  `json:"duration_minutes"`
	DurationInTrafficMinutes float64  `json:"duration_in_traffic_minutes"`
	CongestionIndex          float64  `json:"congestion_index"`
	TemperatureC             float64  `json:"temp"`
	PrecipitationMm          float64  `json:"rain"`
	PredictedETA             float64  `json:"predicted_eta"`
	Path                     geo.Path `json:"polyline"`
}

// Segment is one leg of a composed journey
type Segment struct {
	Index          int         `json:"index"`
	Origin         geo.Point   `json:"origin"`
	Destination    geo.Point   `json:"dest"`
	StopMinutes    float64     `json:"stop_duration_minutes"`
	SegmentMinutes float64     `json:"segment_minutes"`
	ArrivalAt      time.Time   `json:"computed_eta"`
	Alternative    Alternative `json:"route"`
}

// Journey picks one alternative per segment
type Journey struct {
	TotalETAMinutes float64   `json:"total_eta_minutes"`
	Segments        []Segment `json:"segments"`
}

// AlternativesProvider returns candidate physical routes between two points
type AlternativesProvider interface {
	Alternatives(ctx context.Context, origin, destination geo.Point, mode string, departAt time.Time) ([]ProviderRoute, error)
}

// WeatherProvider returns current conditions at a point
type WeatherProvider interface {
	Conditions(ctx context.Context, point geo.Point) (Conditions, error)
}

// Scorer predicts segment minutes from features
type Scorer interface {
	Score(ctx context.Context, features eta.Features) (float64, error)
	Clock(t time.Time) (hour, weekday int)
}

// PlaceResolver turns a coordinate into a human-readable label
type PlaceResolver interface {
	ReverseGeocode(ctx context.Context, point geo.Point) (string, error)
}

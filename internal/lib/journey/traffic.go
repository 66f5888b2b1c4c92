package journey

import (
	"context"
	"math"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
	"github.com/lamain12/Roadpulse-backend/internal/lib/eta"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
)

// Traffic severities by delay per kilometer
const (
	SeverityLight  = "Light"
	SeverityMedium = "Medium"
	SeverityHeavy  = "Heavy"
)

// TrafficCard summarizes current driving delay between two points
type TrafficCard struct {
	Severity                 string  `json:"severity"`
	LastUpdated              string  `json:"lastUpdated"`
	Place                    string  `json:"place"`
	DelayMinutes             int     `json:"delay"`
	DistanceKm               float64 `json:"distance_km"`
	DelayPerKm               float64 `json:"delay_per_km"`
	DurationInTrafficMinutes float64 `json:"duration_in_traffic_minutes"`
}

// Severity buckets delay minutes per kilometer
func Severity(delayPerKm float64) string {
	switch {
	case delayPerKm < 1:
		return SeverityLight
	case delayPerKm < 2:
		return SeverityMedium
	default:
		return SeverityHeavy
	}
}

// TrafficReporter builds traffic cards from the primary driving route
type TrafficReporter struct {
	provider AlternativesProvider
	places   PlaceResolver
	now      func() time.Time
}

// NewTrafficReporter creates a TrafficReporter. places may be nil.
func NewTrafficReporter(provider AlternativesProvider, places PlaceResolver) *TrafficReporter {
	return &TrafficReporter{provider: provider, places: places, now: time.Now}
}

// Summary returns the traffic card for the provider's first driving route
func (t *TrafficReporter) Summary(ctx context.Context, origin, destination geo.Point) (TrafficCard, error) {
	ctx = logging.EnsureLogger(ctx)
	if !origin.Valid() || !destination.Valid() {
		return TrafficCard{}, errs.Validation("TrafficSummary", "invalid coordinates %s -> %s", origin, destination)
	}

	routes, err := t.provider.Alternatives(ctx, origin, destination, eta.ModeCar, t.now())
	if err != nil {
		if errs.KindOf(err) != errs.KindInternal {
			return TrafficCard{}, err
		}
		return TrafficCard{}, errs.Upstream("TrafficSummary", err)
	}
	if len(routes) == 0 {
		return TrafficCard{}, errs.NoRoute("TrafficSummary", 0, origin, destination)
	}
	route := routes[0]

	delaySeconds := math.Max(0, (route.DurationInTraffic - route.Duration).Seconds())
	distanceKm := float64(route.DistanceMeters) / 1000
	if distanceKm == 0 {
		distanceKm = 0.001
	}
	delayPerKm := (delaySeconds / 60) / distanceKm

	return TrafficCard{
		Severity:                 Severity(delayPerKm),
		LastUpdated:              "just now",
		Place:                    t.place(ctx, destination),
		DelayMinutes:             int(math.Round(delaySeconds / 60)),
		DistanceKm:               geo.Round(distanceKm, 2),
		DelayPerKm:               geo.Round(delayPerKm, 2),
		DurationInTrafficMinutes: geo.Round(route.DurationInTraffic.Minutes(), 2),
	}, nil
}

func (t *TrafficReporter) place(ctx context.Context, point geo.Point) string {
	const unknown = "Unknown location"
	if t.places == nil {
		return unknown
	}
	name, err := t.places.ReverseGeocode(ctx, point)
	if err != nil || name == "" {
		logging.Warnw(ctx, "journey: Place lookup failed", "point", point.String(), "error", err)
		return unknown
	}
	return name
}

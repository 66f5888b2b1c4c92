package routing

import (
	"context"
	"math"
	"sort"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
	"github.com/lamain12/Roadpulse-backend/internal/lib/incident"
)

const (
	// DefaultOnRouteThreshold is the route-delay match distance in meters
	DefaultOnRouteThreshold = 100.0
	// DefaultNearbyThreshold is the nearby classification radius in meters
	DefaultNearbyThreshold = 10000.0
)

// routeOverlay implements the Overlay interface
type routeOverlay struct {
	source           IncidentSource
	onRouteThreshold float64 // Distance in meters for ON_ROUTE classification
	nearbyThreshold  float64
}

// NewOverlay creates an Overlay reading incidents from source. Non-positive
// thresholds fall back to the defaults.
func NewOverlay(source IncidentSource, onRouteThreshold, nearbyThreshold float64) Overlay {
	if onRouteThreshold <= 0 {
		onRouteThreshold = DefaultOnRouteThreshold
	}
	if nearbyThreshold <= 0 {
		nearbyThreshold = DefaultNearbyThreshold
	}
	return &routeOverlay{
		source:           source,
		onRouteThreshold: onRouteThreshold,
		nearbyThreshold:  nearbyThreshold,
	}
}

// RouteDelay totals the delay of incidents whose minimum distance to any
// route point is within the ON_ROUTE threshold. An empty path matches nothing.
func (r *routeOverlay) RouteDelay(ctx context.Context, path geo.Path) (DelayReport, error) {
	report := DelayReport{Breakdown: []DelayItem{}}
	if len(path) == 0 {
		return report, nil
	}

	classified, err := r.ClassifyIncidents(ctx, path)
	if err != nil {
		return DelayReport{}, err
	}

	for _, c := range classified {
		if c.Classification != OnRoute {
			continue
		}
		report.TotalDelayMinutes += c.Incident.DelayMinutes
		report.Breakdown = append(report.Breakdown, DelayItem{
			IncidentID:     c.Incident.ID,
			Type:           c.Incident.Type,
			DelayMinutes:   c.Incident.DelayMinutes,
			Location:       c.Incident.Location,
			ReportedAt:     c.Incident.ReportedAt,
			PlaceName:      c.Incident.PlaceName,
			DistanceMeters: geo.Round(c.DistanceToRoute, 2),
		})
	}

	return report, nil
}

// ClassifyIncidents classifies every active incident against path
func (r *routeOverlay) ClassifyIncidents(ctx context.Context, path geo.Path) ([]ClassifiedIncident, error) {
	for i, p := range path {
		if !p.Valid() {
			return nil, errs.Validation("ClassifyIncidents", "route point %d has invalid coordinates (%v, %v)", i, p.Latitude, p.Longitude)
		}
	}

	active, err := r.source.Active(ctx)
	if err != nil {
		return nil, err
	}

	classified := make([]ClassifiedIncident, 0, len(active))
	for _, inc := range active {
		classified = append(classified, r.classify(inc, path))
	}

	// Closer incidents first, ties by report time
	sort.SliceStable(classified, func(i, j int) bool {
		if classified[i].DistanceToRoute != classified[j].DistanceToRoute {
			return classified[i].DistanceToRoute < classified[j].DistanceToRoute
		}
		return classified[i].Incident.ReportedAt.Before(classified[j].Incident.ReportedAt)
	})

	return classified, nil
}

func (r *routeOverlay) classify(inc incident.Incident, path geo.Path) ClassifiedIncident {
	distance, ok := geo.MinDistance(inc.Location, path)
	if !ok {
		distance = math.Inf(1)
	}

	classification := Distant
	switch {
	case distance <= r.onRouteThreshold:
		classification = OnRoute
	case distance <= r.nearbyThreshold:
		classification = Nearby
	}

	return ClassifiedIncident{
		Incident:        inc,
		Classification:  classification,
		DistanceToRoute: distance,
	}
}

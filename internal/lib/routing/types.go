package routing

import (
	"context"
	"time"

	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
	"github.com/lamain12/Roadpulse-backend/internal/lib/incident"
)

// Classification describes how an incident relates to a route
type Classification string

const (
	OnRoute Classification = "on_route" // within the route-delay threshold of a route point
	Nearby  Classification = "nearby"   // within the nearby radius but off the route
	Distant Classification = "distant"  // beyond both thresholds
)

// IncidentSource supplies the active incidents to overlay on a route
type IncidentSource interface {
	Active(ctx context.Context) ([]incident.Incident, error)
}

// ClassifiedIncident is an active incident with its relationship to a route
type ClassifiedIncident struct {
	Incident        incident.Incident `json:"incident"`
	Classification  Classification    `json:"classification"`
	DistanceToRoute float64           `json:"distance_to_route"`
}

// DelayItem is one incident contributing to a route's delay
type DelayItem struct {
	IncidentID     string    `json:"incident_id"`
	Type           string    `json:"type"`
	DelayMinutes   int       `json:"delay_minutes"`
	Location       geo.Point `json:"location"`
	ReportedAt     time.Time `json:"reported_at"`
	PlaceName      string    `json:"place_name"`
	DistanceMeters float64   `json:"distance_meters"`
}

// DelayReport is the incident delay attributed to a route
type DelayReport struct {
	TotalDelayMinutes int         `json:"total_delay_minutes"`
	Breakdown         []DelayItem `json:"delay_breakdown"`
}

// Overlay maps active incidents onto route geometry
type Overlay interface {
	// Sum the delay of every active incident on the route
	RouteDelay(ctx context.Context, path geo.Path) (DelayReport, error)

	// Classify every active incident against the route, closest first
	ClassifyIncidents(ctx context.Context, path geo.Path) ([]ClassifiedIncident, error)
}

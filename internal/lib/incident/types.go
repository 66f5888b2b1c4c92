// Package incident implements crowd-sourced hazard reports: deduplication of
// nearby reports into a single incident, confirmation rewards, clearing, and
// the active-incident queries used by routing.
package incident

import (
	"context"
	"slices"
	"time"

	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
)

// UnknownPlace is used when reverse geocoding gives no usable label
const UnknownPlace = "Unknown location"

// Incident is a deduplicated hazard aggregated from one or more reports
type Incident struct {
	ID            string    `json:"incident_id"`
	Type          string    `json:"type"`
	Location      geo.Point `json:"location"`
	Text          string    `json:"incident_text,omitempty"`
	DelayMinutes  int       `json:"delay_minutes"`
	Times         int       `json:"times"`
	Reporters     []string  `json:"reporters"`
	StatusCleared bool      `json:"incident_status_cleared"`
	ReportedAt    time.Time `json:"reported_at"`
	PlaceName     string    `json:"place_name"`
}

// HasReporter reports whether user has already reported or confirmed the incident
func (i Incident) HasReporter(user string) bool {
	return slices.Contains(i.Reporters, user)
}

// Active reports whether the incident still takes part in matching and queries
func (i Incident) Active() bool {
	return !i.StatusCleared
}

// Clone returns a copy that shares no mutable state with i
func (i Incident) Clone() Incident {
	i.Reporters = slices.Clone(i.Reporters)
	return i
}

// Report is a single user submission
type Report struct {
	Type     string
	Location geo.Point
	Text     string
}

// Outcome tags how a report was applied
type Outcome int

const (
	// Created means no active incident matched and a new one was stored
	Created Outcome = iota
	// Merged means the reporter was added to an existing incident
	Merged
	// Duplicate means the reporter had already reported the matching incident
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Merged:
		return "merged"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Result is returned by SubmitReport
type Result struct {
	Outcome  Outcome
	Incident Incident
}

// IsNew reports whether the report created a new incident
func (r Result) IsNew() bool { return r.Outcome == Created }

// Snapshot is the active-incident view pushed to subscribers after a mutation
type Snapshot struct {
	Version   uint64     `json:"version"`
	Incidents []Incident `json:"incidents"`
	TakenAt   time.Time  `json:"taken_at"`
}

// NearbyIncident is an active incident with its distance from a query point
type NearbyIncident struct {
	Incident
	DistanceMeters float64 `json:"distance"`
}

// NearbyResult summarises active incidents around a point
type NearbyResult struct {
	Matches           []NearbyIncident `json:"nearby_incidents"`
	Count             int              `json:"count"`
	TotalDelayMinutes int              `json:"total_delay_minutes"`
}

// Repository persists incidents. Implementations must be safe for concurrent use.
type Repository interface {
	// Create stores a new incident
	Create(ctx context.Context, incident Incident) error

	// Get returns an incident by id, or an errs.KindNotFound error
	Get(ctx context.Context, id string) (Incident, error)

	// ListActive returns all incidents that are not cleared, oldest first
	ListActive(ctx context.Context) ([]Incident, error)

	// ListActiveByType returns active incidents of one type, oldest first
	ListActiveByType(ctx context.Context, incidentType string) ([]Incident, error)

	// AddReporter appends reporter and increments times, but only while times
	// still equals expectedTimes. Otherwise it returns an errs.KindConflict error.
	AddReporter(ctx context.Context, id, reporter string, expectedTimes int) (Incident, error)

	// MarkCleared sets status_cleared. Clearing is one-way.
	MarkCleared(ctx context.Context, id string) error

	// Ping checks that the backing store is reachable
	Ping(ctx context.Context) error
}

// Rewarder credits points to a user account
type Rewarder interface {
	AwardPoints(ctx context.Context, userID string, delta int) error
}

// Publisher receives the active-incident snapshot after every mutation.
// Publish must not block on slow subscribers.
type Publisher interface {
	Publish(ctx context.Context, snapshot Snapshot)
}

// PlaceResolver turns a coordinate into a human-readable label
type PlaceResolver interface {
	ReverseGeocode(ctx context.Context, point geo.Point) (string, error)
}

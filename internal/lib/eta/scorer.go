// Package eta predicts per-segment travel time. Car segments are scored by a
// learned regressor; every other mode applies a fixed correction to the
// provider's traffic-aware duration.
package eta

import (
	"context"
	"errors"
	"time"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
)

// Vehicle modes accepted by the journey API
const (
	ModeCar     = "driving-car"
	ModeCycling = "cycling-regular"
	ModeWalking = "foot-walking"
)

// DefaultHeuristicFactor scales the provider's traffic-aware duration for
// modes without a learned model. Empirical; see Scorer.HeuristicFactor.
const DefaultHeuristicFactor = 1.03

// ErrNoModel is returned when a car segment is scored without a loaded regressor
var ErrNoModel = errors.New("no ETA model loaded for driving-car")

// Features are the inputs for one segment alternative
type Features struct {
	DistanceKm               float64
	HourOfDay                int
	DayOfWeek                int // Monday = 0
	CongestionIndex          float64
	TemperatureC             float64
	PrecipitationMm          float64
	DurationInTrafficMinutes float64
	Mode                     string
}

// Vector returns the regressor input in training column order
func (f Features) Vector() [FeatureCount]float64 {
	return [FeatureCount]float64{
		f.DistanceKm,
		float64(f.HourOfDay),
		float64(f.DayOfWeek),
		f.CongestionIndex,
		f.TemperatureC,
		f.PrecipitationMm,
	}
}

// Scorer turns features into a predicted duration in minutes
type Scorer struct {
	regressor Regressor
	// HeuristicFactor multiplies DurationInTrafficMinutes for non-car modes
	HeuristicFactor float64
	// Location is the zone the model's hour and weekday features were recorded in
	Location *time.Location
}

// NewScorer creates a Scorer. regressor may be nil, in which case car
// segments fail with an upstream error.
func NewScorer(regressor Regressor, heuristicFactor float64, loc *time.Location) *Scorer {
	if heuristicFactor <= 0 {
		heuristicFactor = DefaultHeuristicFactor
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scorer{regressor: regressor, HeuristicFactor: heuristicFactor, Location: loc}
}

// Score predicts the segment duration in minutes
func (s *Scorer) Score(ctx context.Context, f Features) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if f.Mode != ModeCar {
		return f.DurationInTrafficMinutes * s.HeuristicFactor, nil
	}

	if s.regressor == nil {
		return 0, errs.Upstream("Score", ErrNoModel)
	}
	minutes, err := s.regressor.PredictMinutes(f.Vector())
	if err != nil {
		return 0, errs.Upstream("Score", err)
	}
	return minutes, nil
}

// Clock returns hour of day and Monday-based weekday of t in the scorer's zone
func (s *Scorer) Clock(t time.Time) (hour, weekday int) {
	local := t.In(s.Location)
	return local.Hour(), (int(local.Weekday()) + 6) % 7
}

// CongestionIndex is the ratio of traffic-laden to free-flow duration, or 1
// when the free-flow duration is zero.
func CongestionIndex(withoutTraffic, withTraffic float64) float64 {
	if withoutTraffic == 0 {
		return 1.0
	}
	return withTraffic / withoutTraffic
}

// ValidMode reports whether mode is one of the supported vehicle modes
func ValidMode(mode string) bool {
	switch mode {
	case ModeCar, ModeCycling, ModeWalking:
		return true
	}
	return false
}

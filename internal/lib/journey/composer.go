// Package journey composes multi-stop trips. Every segment between
// consecutive waypoints is fetched concurrently, its alternatives are scored,
// and the fastest combinations of one alternative per segment are returned.
package journey

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/dpup/prefab/logging"
	"golang.org/x/sync/errgroup"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
	"github.com/lamain12/Roadpulse-backend/internal/lib/eta"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
)

// Config holds composer limits
type Config struct {
	// MaxAlternativesPerSegment keeps only the fastest N scored alternatives
	// of each segment before combining
	MaxAlternativesPerSegment int
	// MaxResults is the number of journeys returned
	MaxResults int
	// MaxWaypoints bounds the trip length
	MaxWaypoints int
	// SegmentTimeout bounds provider and weather calls for one segment
	SegmentTimeout time.Duration
}

// DefaultConfig returns the standard composer limits
func DefaultConfig() Config {
	return Config{
		MaxAlternativesPerSegment: 3,
		MaxResults:                3,
		MaxWaypoints:              10,
		SegmentTimeout:            20 * time.Second,
	}
}

// Composer builds ranked journeys
type Composer struct {
	provider AlternativesProvider
	weather  WeatherProvider
	scorer   Scorer
	config   Config
	now      func() time.Time
}

// NewComposer creates a Composer. weather may be nil, in which case default
// conditions are used for every segment.
func NewComposer(provider AlternativesProvider, weather WeatherProvider, scorer Scorer, cfg Config) *Composer {
	def := DefaultConfig()
	if cfg.MaxAlternativesPerSegment <= 0 {
		cfg.MaxAlternativesPerSegment = def.MaxAlternativesPerSegment
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.MaxWaypoints < 2 {
		cfg.MaxWaypoints = def.MaxWaypoints
	}
	if cfg.SegmentTimeout <= 0 {
		cfg.SegmentTimeout = def.SegmentTimeout
	}
	return &Composer{
		provider: provider,
		weather:  weather,
		scorer:   scorer,
		config:   cfg,
		now:      time.Now,
	}
}

// Compose returns up to MaxResults journeys ordered by total minutes,
// fastest first. Ties keep enumeration order.
func (c *Composer) Compose(ctx context.Context, req Request) ([]Journey, error) {
	ctx = logging.EnsureLogger(ctx)
	if err := c.validate(req); err != nil {
		return nil, err
	}

	departAt := req.DepartAt
	if departAt.IsZero() {
		departAt = c.now()
	}

	segments, err := c.fetchSegments(ctx, req, departAt)
	if err != nil {
		return nil, err
	}

	journeys := c.combine(req.Waypoints, segments, departAt)
	sort.SliceStable(journeys, func(i, j int) bool {
		return journeys[i].TotalETAMinutes < journeys[j].TotalETAMinutes
	})
	if len(journeys) > c.config.MaxResults {
		journeys = journeys[:c.config.MaxResults]
	}

	logging.Infow(ctx, "journey: Composed",
		"segments", len(segments),
		"mode", req.Mode,
		"results", len(journeys),
		"fastest_minutes", journeys[0].TotalETAMinutes)
	return journeys, nil
}

func (c *Composer) validate(req Request) error {
	if len(req.Waypoints) < 2 {
		return errs.Validation("Compose", "at least two waypoints are required, got %d", len(req.Waypoints))
	}
	if len(req.Waypoints) > c.config.MaxWaypoints {
		return errs.Validation("Compose", "at most %d waypoints are allowed, got %d", c.config.MaxWaypoints, len(req.Waypoints))
	}
	if !eta.ValidMode(req.Mode) {
		return errs.Validation("Compose", "unsupported vehicle type %q", req.Mode)
	}
	for i, wp := range req.Waypoints {
		if !wp.Location.Valid() {
			return errs.Validation("Compose", "waypoint %d has invalid coordinates %s", i, wp.Location)
		}
		if wp.StopMinutes < 0 {
			return errs.Validation("Compose", "waypoint %d has negative stop duration", i)
		}
	}
	return nil
}

// fetchSegments scores every segment concurrently. The first failure
// cancels the remaining fetches.
func (c *Composer) fetchSegments(ctx context.Context, req Request, departAt time.Time) ([][]Alternative, error) {
	n := len(req.Waypoints) - 1
	results := make([][]Alternative, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			alts, err := c.segment(gctx, i, req.Waypoints[i].Location, req.Waypoints[i+1].Location, req.Mode, departAt)
			if err != nil {
				return err
			}
			results[i] = alts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return results, nil
}

func (c *Composer) segment(ctx context.Context, index int, from, to geo.Point, mode string, departAt time.Time) ([]Alternative, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SegmentTimeout)
	defer cancel()

	routes, err := c.provider.Alternatives(ctx, from, to, mode, departAt)
	if err != nil {
		if errs.KindOf(err) != errs.KindInternal {
			return nil, err
		}
		return nil, errs.Upstream("Compose", fmt.Errorf("segment %d alternatives: %w", index, err))
	}
	if len(routes) == 0 {
		return nil, errs.NoRoute("Compose", index, from, to)
	}

	conditions := c.conditions(ctx, from)
	hour, weekday := c.scorer.Clock(departAt)

	alts := make([]Alternative, 0, len(routes))
	for i, route := range routes {
		distanceKm := route.Path.LengthKm()
		if len(route.Path) < 2 {
			distanceKm = float64(route.DistanceMeters) / 1000
		}
		without := route.Duration.Minutes()
		with := route.DurationInTraffic.Minutes()

		features := eta.Features{
			DistanceKm:               distanceKm,
			HourOfDay:                hour,
			DayOfWeek:                weekday,
			CongestionIndex:          eta.CongestionIndex(without, with),
			TemperatureC:             conditions.TemperatureC,
			PrecipitationMm:          conditions.PrecipitationMm,
			DurationInTrafficMinutes: with,
			Mode:                     mode,
		}
		predicted, err := c.scorer.Score(ctx, features)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, errs.Upstream("Compose", fmt.Errorf("segment %d route %d: %w", index, i, err))
		}

		alts = append(alts, Alternative{
			RouteIndex:               i,
			DistanceKm:               geo.Round(distanceKm, 2),
			DurationMinutes:          geo.Round(without, 2),
			DurationInTrafficMinutes: geo.Round(with, 2),
			CongestionIndex:          geo.Round(features.CongestionIndex, 2),
			TemperatureC:             conditions.TemperatureC,
			PrecipitationMm:          conditions.PrecipitationMm,
			PredictedETA:             predicted,
			Path:                     route.Path,
		})
	}

	slices.SortStableFunc(alts, func(a, b Alternative) int {
		return cmp.Compare(a.PredictedETA, b.PredictedETA)
	})
	if len(alts) > c.config.MaxAlternativesPerSegment {
		alts = alts[:c.config.MaxAlternativesPerSegment]
	}
	return alts, nil
}

// conditions never fails. Provider errors fall back to DefaultConditions.
func (c *Composer) conditions(ctx context.Context, point geo.Point) Conditions {
	if c.weather == nil {
		return DefaultConditions
	}
	conditions, err := c.weather.Conditions(ctx, point)
	if err != nil {
		logging.Warnw(ctx, "journey: Weather unavailable, using defaults",
			"point", point.String(),
			"error", err)
		return DefaultConditions
	}
	return conditions
}

// combine enumerates the cross product of per-segment alternatives with the
// last segment varying fastest.
func (c *Composer) combine(waypoints []Waypoint, segments [][]Alternative, departAt time.Time) []Journey {
	total := 1
	for _, alts := range segments {
		total *= len(alts)
	}

	journeys := make([]Journey, 0, total)
	picks := make([]int, len(segments))
	for {
		journeys = append(journeys, c.build(waypoints, segments, picks, departAt))

		// advance odometer
		k := len(picks) - 1
		for k >= 0 {
			picks[k]++
			if picks[k] < len(segments[k]) {
				break
			}
			picks[k] = 0
			k--
		}
		if k < 0 {
			return journeys
		}
	}
}

func (c *Composer) build(waypoints []Waypoint, segments [][]Alternative, picks []int, departAt time.Time) Journey {
	clock := departAt
	j := Journey{Segments: make([]Segment, len(segments))}
	for i, alts := range segments {
		alt := alts[picks[i]]
		stop := waypoints[i].StopMinutes
		minutes := alt.PredictedETA + stop

		clock = clock.Add(time.Duration(minutes * float64(time.Minute)))
		j.TotalETAMinutes += minutes
		j.Segments[i] = Segment{
			Index:          i,
			Origin:         waypoints[i].Location,
			Destination:    waypoints[i+1].Location,
			StopMinutes:    stop,
			SegmentMinutes: minutes,
			ArrivalAt:      clock,
			Alternative:    alt,
		}
	}
	return j
}

package incident

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
)

// Config holds the tunables of the dedup engine
type Config struct {
	// MatchRadiusMeters is the distance under which a report joins an existing incident
	MatchRadiusMeters float64
	// MaxCASRetries bounds retries after a lost compare-and-swap on times
	MaxCASRetries int
	// BulkRewardAt is the reporter count at which every reporter is rewarded once
	BulkRewardAt int
	// RewardPoints is the amount credited per reward
	RewardPoints int
	// GeocodeTimeout bounds the best-effort place lookup for new reports
	GeocodeTimeout time.Duration
}

// DefaultConfig returns the standard dedup parameters
func DefaultConfig() Config {
	return Config{
		MatchRadiusMeters: 100,
		MaxCASRetries:     5,
		BulkRewardAt:      3,
		RewardPoints:      2,
		GeocodeTimeout:    5 * time.Second,
	}
}

// Option configures an Engine
type Option func(*Engine)

// WithRewarder sets the account store used for confirmation rewards
func WithRewarder(r Rewarder) Option {
	return func(e *Engine) { e.rewarder = r }
}

// WithPublisher sets the sink for active-incident snapshots
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithPlaceResolver enables reverse geocoding of new incidents
func WithPlaceResolver(r PlaceResolver) Option {
	return func(e *Engine) { e.places = r }
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides uuid generation, for tests
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// Engine owns the incident lifecycle. All mutations of a given incident type
// are serialised through one bucket lock, and the repository's CAS on times
// guards against writers outside this process.
type Engine struct {
	repo      Repository
	rewarder  Rewarder
	publisher Publisher
	places    PlaceResolver
	cfg       Config
	now       func() time.Time
	newID     func() string

	buckets *bucketLocks

	publishMu sync.Mutex
	version   uint64
}

// NewEngine creates an Engine over repo
func NewEngine(repo Repository, cfg Config, opts ...Option) *Engine {
	if cfg.MatchRadiusMeters <= 0 {
		cfg.MatchRadiusMeters = DefaultConfig().MatchRadiusMeters
	}
	if cfg.MaxCASRetries <= 0 {
		cfg.MaxCASRetries = DefaultConfig().MaxCASRetries
	}
	if cfg.BulkRewardAt <= 0 {
		cfg.BulkRewardAt = DefaultConfig().BulkRewardAt
	}
	if cfg.GeocodeTimeout <= 0 {
		cfg.GeocodeTimeout = DefaultConfig().GeocodeTimeout
	}

	e := &Engine{
		repo:    repo,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		buckets: newBucketLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// award is a pending reward, issued only after the mutation that earned it commits
type award struct {
	user  string
	delta int
}

// SubmitReport applies a report from reporter. A report within the match
// radius of an active incident of the same type confirms that incident
// instead of creating a new one.
//
// Rewards are credited after the incident is stored. If crediting fails the
// committed Result is still returned, together with the error.
func (e *Engine) SubmitReport(ctx context.Context, report Report, reporter string) (Result, error) {
	const op = "SubmitReport"
	ctx = logging.EnsureLogger(ctx)

	report.Type = NormalizeType(report.Type)
	if report.Type == "" {
		return Result{}, errs.Validation(op, "incident_type is required")
	}
	if reporter == "" {
		return Result{}, errs.Validation(op, "reporter is required")
	}
	if !report.Location.Valid() {
		return Result{}, errs.Validation(op, "invalid coordinates (%v, %v)", report.Location.Latitude, report.Location.Longitude)
	}

	// Resolved outside the bucket lock
	place := e.resolvePlace(ctx, report.Location)

	result, awards, err := e.applyReport(ctx, report, reporter, place)
	if err != nil {
		return Result{}, err
	}

	if result.Outcome == Duplicate {
		return result, nil
	}

	logging.Infow(ctx, "Incident report applied",
		"incident_id", result.Incident.ID,
		"incident_type", result.Incident.Type,
		"outcome", result.Outcome.String(),
		"times", result.Incident.Times)

	e.publish(ctx)
	return result, e.issue(ctx, result.Incident.ID, awards)
}

func (e *Engine) applyReport(ctx context.Context, report Report, reporter, place string) (Result, []award, error) {
	unlock := e.buckets.lock(report.Type)
	defer unlock()

	for attempt := 0; attempt < e.cfg.MaxCASRetries; attempt++ {
		candidates, err := e.repo.ListActiveByType(ctx, report.Type)
		if err != nil {
			return Result{}, nil, fmt.Errorf("failed to list active incidents: %w", err)
		}

		match, found := e.closest(report.Location, candidates)
		if !found {
			created, err := e.create(ctx, report, reporter, place)
			if err != nil {
				return Result{}, nil, err
			}
			return Result{Outcome: Created, Incident: created}, nil, nil
		}

		if match.HasReporter(reporter) {
			return Result{Outcome: Duplicate, Incident: match}, nil, nil
		}

		updated, awards, err := e.confirm(ctx, match, reporter)
		if errs.Is(err, errs.KindConflict) {
			logging.Warnw(ctx, "Incident confirmation lost a concurrent update, retrying",
				"incident_id", match.ID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return Result{}, nil, err
		}
		return Result{Outcome: Merged, Incident: updated}, awards, nil
	}

	return Result{}, nil, errs.Wrap(errs.KindInternal, "SubmitReport",
		fmt.Errorf("gave up after %d conflicting updates", e.cfg.MaxCASRetries))
}

// closest picks the nearest candidate strictly inside the match radius.
// Ties go to the earliest report, then the lowest id.
func (e *Engine) closest(point geo.Point, candidates []Incident) (Incident, bool) {
	var (
		best     Incident
		bestDist = math.Inf(1)
		found    bool
	)
	for _, c := range candidates {
		d := geo.Distance(point, c.Location)
		if d >= e.cfg.MatchRadiusMeters {
			continue
		}
		if !found || d < bestDist ||
			(d == bestDist && (c.ReportedAt.Before(best.ReportedAt) ||
				(c.ReportedAt.Equal(best.ReportedAt) && c.ID < best.ID))) {
			best, bestDist, found = c, d, true
		}
	}
	return best, found
}

func (e *Engine) create(ctx context.Context, report Report, reporter, place string) (Incident, error) {
	text := report.Text
	if text == "" {
		text = report.Type
	}

	incident := Incident{
		ID:           e.newID(),
		Type:         report.Type,
		Location:     report.Location,
		Text:         text,
		DelayMinutes: DelayFor(report.Type),
		Times:        1,
		Reporters:    []string{reporter},
		ReportedAt:   e.now(),
		PlaceName:    place,
	}

	if err := e.repo.Create(ctx, incident); err != nil {
		return Incident{}, fmt.Errorf("failed to store incident: %w", err)
	}
	return incident, nil
}

// confirm adds reporter to incident through the repository CAS and works out
// which rewards the committed reporter count earns.
func (e *Engine) confirm(ctx context.Context, incident Incident, reporter string) (Incident, []award, error) {
	updated, err := e.repo.AddReporter(ctx, incident.ID, reporter, incident.Times)
	if err != nil {
		return Incident{}, nil, err
	}
	return updated, e.rewardsFor(updated, reporter), nil
}

// rewardsFor applies the confirmation reward rule to a freshly committed count.
// Only the caller whose CAS moved times to BulkRewardAt sees that value, so
// the bulk reward fires once per incident.
func (e *Engine) rewardsFor(incident Incident, newReporter string) []award {
	points := e.cfg.RewardPoints
	switch {
	case incident.Times == e.cfg.BulkRewardAt:
		awards := make([]award, 0, len(incident.Reporters))
		for _, user := range incident.Reporters {
			awards = append(awards, award{user: user, delta: points})
		}
		return awards
	case incident.Times > e.cfg.BulkRewardAt:
		return []award{{user: newReporter, delta: points}}
	default:
		return nil
	}
}

func (e *Engine) issue(ctx context.Context, incidentID string, awards []award) error {
	if e.rewarder == nil || len(awards) == 0 {
		return nil
	}

	var failed []error
	for _, a := range awards {
		if err := e.rewarder.AwardPoints(ctx, a.user, a.delta); err != nil {
			logging.Errorw(ctx, "Failed to award confirmation points",
				"incident_id", incidentID, "user", a.user, "error", err)
			failed = append(failed, fmt.Errorf("award %d points to %s: %w", a.delta, a.user, err))
		}
	}
	if len(failed) > 0 {
		return errs.Wrap(errs.KindUpstream, awardOp, errors.Join(failed...))
	}
	return nil
}

const awardOp = "AwardPoints"

// RewardFailed reports whether err only describes rewards that could not be
// credited after the incident mutation was committed
func RewardFailed(err error) bool {
	var e *errs.Error
	return errors.As(err, &e) && e.Op == awardOp
}

func (e *Engine) resolvePlace(ctx context.Context, point geo.Point) string {
	if e.places == nil {
		return UnknownPlace
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.GeocodeTimeout)
	defer cancel()

	rounded := geo.Point{Latitude: geo.Round(point.Latitude, 5), Longitude: geo.Round(point.Longitude, 5)}
	place, err := e.places.ReverseGeocode(lookupCtx, rounded)
	if err != nil || place == "" {
		if err != nil {
			logging.Warnw(ctx, "Reverse geocoding failed", "point", rounded.String(), "error", err)
		}
		return UnknownPlace
	}
	return place
}

// SetStatus records a status update from reporter. A reporter new to the
// incident counts as an implicit confirmation first. Clearing is one-way:
// cleared=false on a cleared incident is rejected, and cleared=true on a
// cleared incident is a no-op.
//
// As with SubmitReport, reward failures are returned after the update commits.
func (e *Engine) SetStatus(ctx context.Context, id, reporter string, cleared bool) error {
	const op = "SetStatus"
	ctx = logging.EnsureLogger(ctx)

	if _, err := uuid.Parse(id); err != nil {
		return errs.Validation(op, "malformed incident id %q", id)
	}
	if reporter == "" {
		return errs.Validation(op, "reporter is required")
	}

	current, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	mutated, awards, err := e.applyStatus(ctx, current.Type, id, reporter, cleared)
	if err != nil {
		return err
	}

	if mutated {
		logging.Infow(ctx, "Incident status updated",
			"incident_id", id, "reporter", reporter, "cleared", cleared)
		e.publish(ctx)
	}
	return e.issue(ctx, id, awards)
}

// SetCleared marks an incident cleared on behalf of reporter
func (e *Engine) SetCleared(ctx context.Context, id, reporter string) error {
	return e.SetStatus(ctx, id, reporter, true)
}

func (e *Engine) applyStatus(ctx context.Context, incidentType, id, reporter string, cleared bool) (bool, []award, error) {
	unlock := e.buckets.lock(incidentType)
	defer unlock()

	var (
		awards  []award
		mutated bool
	)
	for attempt := 0; ; attempt++ {
		if attempt == e.cfg.MaxCASRetries {
			return false, nil, errs.Wrap(errs.KindInternal, "SetStatus",
				fmt.Errorf("gave up after %d conflicting updates", e.cfg.MaxCASRetries))
		}

		incident, err := e.repo.Get(ctx, id)
		if err != nil {
			return false, nil, err
		}

		if incident.StatusCleared {
			if !cleared {
				return false, nil, errs.Validation("SetStatus", "incident %s is already cleared", id)
			}
			return false, nil, nil
		}

		if incident.HasReporter(reporter) {
			break
		}

		_, awards, err = e.confirm(ctx, incident, reporter)
		if errs.Is(err, errs.KindConflict) {
			continue
		}
		if err != nil {
			return false, nil, err
		}
		mutated = true
		break
	}

	if cleared {
		if err := e.repo.MarkCleared(ctx, id); err != nil {
			return mutated, awards, fmt.Errorf("failed to clear incident: %w", err)
		}
		mutated = true
	}
	return mutated, awards, nil
}

// Get returns a single incident, cleared or not
func (e *Engine) Get(ctx context.Context, id string) (Incident, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Incident{}, errs.Validation("Get", "malformed incident id %q", id)
	}
	return e.repo.Get(ctx, id)
}

// Active returns every incident that has not been cleared
func (e *Engine) Active(ctx context.Context) ([]Incident, error) {
	incidents, err := e.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active incidents: %w", err)
	}
	return incidents, nil
}

// DefaultNearbyRadiusMeters is used when Nearby is called without a radius
const DefaultNearbyRadiusMeters = 10000.0

// Nearby returns active incidents within radiusMeters of point, closest first.
// Distances are rounded to two decimals.
func (e *Engine) Nearby(ctx context.Context, point geo.Point, radiusMeters float64) (NearbyResult, error) {
	if radiusMeters <= 0 {
		radiusMeters = DefaultNearbyRadiusMeters
	}
	if !point.Valid() {
		return NearbyResult{}, errs.Validation("Nearby", "invalid coordinates (%v, %v)", point.Latitude, point.Longitude)
	}

	active, err := e.Active(ctx)
	if err != nil {
		return NearbyResult{}, err
	}

	result := NearbyResult{Matches: []NearbyIncident{}}
	for _, inc := range active {
		d := geo.Distance(point, inc.Location)
		if d > radiusMeters {
			continue
		}
		result.Matches = append(result.Matches, NearbyIncident{Incident: inc, DistanceMeters: geo.Round(d, 2)})
		result.TotalDelayMinutes += inc.DelayMinutes
	}
	slices.SortStableFunc(result.Matches, func(a, b NearbyIncident) int {
		return cmp.Compare(a.DistanceMeters, b.DistanceMeters)
	})
	result.Count = len(result.Matches)
	return result, nil
}

// Snapshot returns the current active-incident view without publishing it.
// The list is read under the publish lock, so it is never older than the
// version it carries.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	active, err := e.Active(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Version: e.version, Incidents: active, TakenAt: e.now()}, nil
}

// Ping checks the backing repository
func (e *Engine) Ping(ctx context.Context) error {
	return e.repo.Ping(ctx)
}

// Republish pushes the current snapshot to subscribers
func (e *Engine) Republish(ctx context.Context) {
	e.publish(logging.EnsureLogger(ctx))
}

// publish reads and pushes a fresh snapshot. Snapshots are read and handed to
// the publisher under one lock, so versions reach subscribers in order.
func (e *Engine) publish(ctx context.Context) {
	if e.publisher == nil {
		return
	}

	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	active, err := e.repo.ListActive(ctx)
	if err != nil {
		logging.Errorw(ctx, "Failed to read active incidents for broadcast", "error", err)
		return
	}

	e.version++
	e.publisher.Publish(ctx, Snapshot{Version: e.version, Incidents: active, TakenAt: e.now()})
}

package journey

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
	"github.com/lamain12/Roadpulse-backend/internal/lib/eta"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
)

// MockProvider is a mock implementation of AlternativesProvider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Alternatives(ctx context.Context, origin, destination geo.Point, mode string, departAt time.Time) ([]ProviderRoute, error) {
	args := m.Called(ctx, origin, destination, mode, departAt)
	routes, _ := args.Get(0).([]ProviderRoute)
	return routes, args.Error(1)
}

// MockWeather is a mock implementation of WeatherProvider
type MockWeather struct {
	mock.Mock
}

func (m *MockWeather) Conditions(ctx context.Context, point geo.Point) (Conditions, error) {
	args := m.Called(ctx, point)
	return args.Get(0).(Conditions), args.Error(1)
}

// trafficScorer returns the traffic duration unchanged and records features
type trafficScorer struct {
	mu       sync.Mutex
	features []eta.Features
	err      error
}

func (s *trafficScorer) Score(ctx context.Context, f eta.Features) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = append(s.features, f)
	if s.err != nil {
		return 0, s.err
	}
	return f.DurationInTrafficMinutes, nil
}

func (s *trafficScorer) Clock(t time.Time) (int, int) {
	return t.Hour(), (int(t.Weekday()) + 6) % 7
}

var (
	klSentral = geo.Point{Latitude: 3.1343, Longitude: 101.6865}
	midValley = geo.Point{Latitude: 3.1180, Longitude: 101.6770}
	putrajaya = geo.Point{Latitude: 2.9264, Longitude: 101.6964}
	departure = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
)

func route(trafficMinutes float64) ProviderRoute {
	d := time.Duration(trafficMinutes * float64(time.Minute))
	return ProviderRoute{DistanceMeters: 5000, Duration: d, DurationInTraffic: d}
}

func twoSegmentRequest(stop float64) Request {
	return Request{
		Waypoints: []Waypoint{
			{Location: klSentral},
			{Location: midValley, StopMinutes: stop},
			{Location: putrajaya},
		},
		Mode:     eta.ModeCar,
		DepartAt: departure,
	}
}

func TestCompose_TopThreeOfCrossProduct(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Alternatives", mock.Anything, klSentral, midValley, eta.ModeCar, departure).
		Return([]ProviderRoute{route(10), route(12)}, nil)
	provider.On("Alternatives", mock.Anything, midValley, putrajaya, eta.ModeCar, departure).
		Return([]ProviderRoute{route(20), route(25)}, nil)

	composer := NewComposer(provider, nil, &trafficScorer{}, DefaultConfig())
	journeys, err := composer.Compose(context.Background(), twoSegmentRequest(5))
	require.NoError(t, err)
	require.Len(t, journeys, 3)

	// 10+5+20, 12+5+20, 10+5+25
	assert.InDelta(t, 35, journeys[0].TotalETAMinutes, 1e-9)
	assert.InDelta(t, 37, journeys[1].TotalETAMinutes, 1e-9)
	assert.InDelta(t, 40, journeys[2].TotalETAMinutes, 1e-9)

	best := journeys[0]
	require.Len(t, best.Segments, 2)
	assert.Equal(t, 0, best.Segments[0].Alternative.RouteIndex)
	assert.Equal(t, 0, best.Segments[1].Alternative.RouteIndex)
	assert.Zero(t, best.Segments[0].StopMinutes)
	assert.Equal(t, 5.0, best.Segments[1].StopMinutes)
	assert.Equal(t, departure.Add(10*time.Minute), best.Segments[0].ArrivalAt)
	assert.Equal(t, departure.Add(35*time.Minute), best.Segments[1].ArrivalAt)
	assert.Equal(t, midValley, best.Segments[1].Origin)

	assert.Equal(t, 1, journeys[1].Segments[0].Alternative.RouteIndex)
	assert.Equal(t, 1, journeys[2].Segments[1].Alternative.RouteIndex)
	provider.AssertExpectations(t)
}

func TestCompose_TiesKeepEnumerationOrder(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Alternatives", mock.Anything, klSentral, midValley, mock.Anything, mock.Anything).
		Return([]ProviderRoute{route(10), route(10)}, nil)

	req := Request{Waypoints: []Waypoint{{Location: klSentral}, {Location: midValley}}, Mode: eta.ModeWalking, DepartAt: departure}
	journeys, err := NewComposer(provider, nil, &trafficScorer{}, DefaultConfig()).Compose(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, journeys, 2)
	assert.Equal(t, 0, journeys[0].Segments[0].Alternative.RouteIndex)
	assert.Equal(t, 1, journeys[1].Segments[0].Alternative.RouteIndex)
}

func TestCompose_CapsAlternativesPerSegment(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Alternatives", mock.Anything, klSentral, midValley, mock.Anything, mock.Anything).
		Return([]ProviderRoute{route(30), route(10), route(20)}, nil)

	cfg := DefaultConfig()
	cfg.MaxAlternativesPerSegment = 2
	cfg.MaxResults = 10
	req := Request{Waypoints: []Waypoint{{Location: klSentral}, {Location: midValley}}, Mode: eta.ModeCar, DepartAt: departure}
	journeys, err := NewComposer(provider, nil, &trafficScorer{}, cfg).Compose(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, journeys, 2)
	assert.Equal(t, 1, journeys[0].Segments[0].Alternative.RouteIndex)
	assert.Equal(t, 2, journeys[1].Segments[0].Alternative.RouteIndex)
}

func TestCompose_FeaturesAndWeather(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Alternatives", mock.Anything, klSentral, midValley, mock.Anything, mock.Anything).
		Return([]ProviderRoute{{
			DistanceMeters:    9999,
			Duration:          10 * time.Minute,
			DurationInTraffic: 15 * time.Minute,
			Path:              geo.Path{klSentral, midValley},
		}}, nil)
	weather := &MockWeather{}
	weather.On("Conditions", mock.Anything, klSentral).Return(Conditions{TemperatureC: 31, PrecipitationMm: 4}, nil)

	scorer := &trafficScorer{}
	req := Request{Waypoints: []Waypoint{{Location: klSentral}, {Location: midValley}}, Mode: eta.ModeCar, DepartAt: departure}
	journeys, err := NewComposer(provider, weather, scorer, DefaultConfig()).Compose(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, scorer.features, 1)
	f := scorer.features[0]
	assert.InDelta(t, geo.Path{klSentral, midValley}.LengthKm(), f.DistanceKm, 1e-9)
	assert.Equal(t, 8, f.HourOfDay)
	assert.Equal(t, 0, f.DayOfWeek)
	assert.InDelta(t, 1.5, f.CongestionIndex, 1e-9)
	assert.Equal(t, 31.0, f.TemperatureC)
	assert.Equal(t, 4.0, f.PrecipitationMm)

	alt := journeys[0].Segments[0].Alternative
	assert.Equal(t, 31.0, alt.TemperatureC)
	assert.Equal(t, 1.5, alt.CongestionIndex)
	assert.Equal(t, 15.0, alt.PredictedETA)
}

func TestCompose_WeatherFailureUsesDefaults(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Alternatives", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]ProviderRoute{route(10)}, nil)
	weather := &MockWeather{}
	weather.On("Conditions", mock.Anything, mock.Anything).Return(Conditions{}, errors.New("quota exceeded"))

	scorer := &trafficScorer{}
	req := Request{Waypoints: []Waypoint{{Location: klSentral}, {Location: midValley}}, Mode: eta.ModeCar, DepartAt: departure}
	_, err := NewComposer(provider, weather, scorer, DefaultConfig()).Compose(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DefaultConditions.TemperatureC, scorer.features[0].TemperatureC)
	assert.Zero(t, scorer.features[0].PrecipitationMm)
}

func TestCompose_NoRoute(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Alternatives", mock.Anything, klSentral, midValley, mock.Anything, mock.Anything).
		Return([]ProviderRoute{route(10)}, nil)
	provider.On("Alternatives", mock.Anything, midValley, putrajaya, mock.Anything, mock.Anything).
		Return([]ProviderRoute{}, nil)

	_, err := NewComposer(provider, nil, &trafficScorer{}, DefaultConfig()).Compose(context.Background(), twoSegmentRequest(0))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNoRoute))
	assert.Contains(t, err.Error(), "segment 1")
}

func TestCompose_UpstreamErrors(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Alternatives", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("503 from routes API"))

	_, err := NewComposer(provider, nil, &trafficScorer{}, DefaultConfig()).Compose(context.Background(), twoSegmentRequest(0))
	assert.True(t, errs.Is(err, errs.KindUpstream))

	provider = &MockProvider{}
	provider.On("Alternatives", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]ProviderRoute{route(10)}, nil)
	_, err = NewComposer(provider, nil, &trafficScorer{err: errors.New("model exploded")}, DefaultConfig()).
		Compose(context.Background(), twoSegmentRequest(0))
	assert.True(t, errs.Is(err, errs.KindUpstream))
}

func TestCompose_Cancelled(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Alternatives", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewComposer(provider, nil, &trafficScorer{}, DefaultConfig()).Compose(ctx, twoSegmentRequest(0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompose_Validation(t *testing.T) {
	composer := NewComposer(&MockProvider{}, nil, &trafficScorer{}, DefaultConfig())
	ctx := context.Background()

	_, err := composer.Compose(ctx, Request{Waypoints: []Waypoint{{Location: klSentral}}, Mode: eta.ModeCar})
	assert.True(t, errs.Is(err, errs.KindValidation))

	req := twoSegmentRequest(0)
	req.Mode = "hovercraft"
	_, err = composer.Compose(ctx, req)
	assert.True(t, errs.Is(err, errs.KindValidation))

	req = twoSegmentRequest(-1)
	_, err = composer.Compose(ctx, req)
	assert.True(t, errs.Is(err, errs.KindValidation))

	req = twoSegmentRequest(0)
	req.Waypoints[2].Location = geo.Point{Latitude: 91}
	_, err = composer.Compose(ctx, req)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestCompose_DefaultsDepartureToNow(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Alternatives", mock.Anything, mock.Anything, mock.Anything, mock.Anything, departure).
		Return([]ProviderRoute{route(10)}, nil)

	composer := NewComposer(provider, nil, &trafficScorer{}, DefaultConfig())
	composer.now = func() time.Time { return departure }

	journeys, err := composer.Compose(context.Background(), Request{
		Waypoints: []Waypoint{{Location: klSentral}, {Location: midValley}},
		Mode:      eta.ModeCycling,
	})
	require.NoError(t, err)
	assert.Equal(t, departure.Add(10*time.Minute), journeys[0].Segments[0].ArrivalAt)
}

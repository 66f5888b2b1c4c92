package weather

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lamain12/Roadpulse-backend/internal/cache"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
)

// MockHTTPDoer is a mock implementation of HTTPDoer
type MockHTTPDoer struct {
	mock.Mock
}

func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

// Helper function to create mock HTTP response
func createMockResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

const rainyKualaLumpur = `{
	"coord": {"lon": 101.6869, "lat": 3.139},
	"weather": [{"id": 501, "main": "Rain", "description": "moderate rain", "icon": "10d"}],
	"main": {"temp": 27.4, "feels_like": 31.2, "pressure": 1008, "humidity": 89},
	"visibility": 8000,
	"rain": {"1h": 3.2},
	"dt": 1717300000,
	"name": "Kuala Lumpur"
}`

const dryKualaLumpur = `{
	"coord": {"lon": 101.6869, "lat": 3.139},
	"weather": [{"id": 800, "main": "Clear", "description": "clear sky", "icon": "01d"}],
	"main": {"temp": 33.1, "feels_like": 38.0, "pressure": 1009, "humidity": 55},
	"name": "Kuala Lumpur"
}`

var kualaLumpur = geo.Point{Latitude: 3.139, Longitude: 101.6869}

func TestGetCurrentWeather_RequestFormat(t *testing.T) {
	var captured *http.Request
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Run(func(args mock.Arguments) {
		captured = args.Get(0).(*http.Request)
	}).Return(createMockResponse(200, rainyKualaLumpur), nil)

	client := NewClientWithHTTPDoer("test-api-key", DefaultBaseURL, mockHTTP)
	response, err := client.GetCurrentWeather(context.Background(), kualaLumpur)
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, "/data/2.5/weather", captured.URL.Path)
	query := captured.URL.Query()
	assert.Equal(t, "3.139000", query.Get("lat"))
	assert.Equal(t, "101.686900", query.Get("lon"))
	assert.Equal(t, "metric", query.Get("units"))
	assert.Equal(t, "test-api-key", query.Get("appid"))

	assert.Equal(t, "Kuala Lumpur", response.Name)
	assert.Equal(t, "Rain", response.Weather[0].Main)
	assert.Equal(t, int32(89), response.Main.Humidity)
}

func TestConditions(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		expectedTemp float64
		expectedRain float64
	}{
		{"rainy", rainyKualaLumpur, 27.4, 3.2},
		{"no rain block", dryKualaLumpur, 33.1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockHTTP := &MockHTTPDoer{}
			mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(createMockResponse(200, tt.body), nil)

			conditions, err := NewClientWithHTTPDoer("k", "", mockHTTP).Conditions(context.Background(), kualaLumpur)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedTemp, conditions.TemperatureC)
			assert.Equal(t, tt.expectedRain, conditions.PrecipitationMm)
		})
	}
}

func TestConditions_UsesCache(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(createMockResponse(200, rainyKualaLumpur), nil).Once()

	client := NewClientWithHTTPDoer("k", "", mockHTTP).WithCache(cache.NewCache(), time.Minute)

	first, err := client.Conditions(context.Background(), kualaLumpur)
	require.NoError(t, err)

	// a few meters away falls in the same bucket
	nearby := geo.Point{Latitude: 3.1391, Longitude: 101.6870}
	second, err := client.Conditions(context.Background(), nearby)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	mockHTTP.AssertNumberOfCalls(t, "Do", 1)
}

func TestConditions_ReplacesUnreadableCacheEntry(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(createMockResponse(200, rainyKualaLumpur), nil).Once()

	store := cache.NewCache()
	require.NoError(t, store.Set(cache.WeatherKey(kualaLumpur), "not conditions", time.Minute, "test"))
	client := NewClientWithHTTPDoer("k", "", mockHTTP).WithCache(store, time.Minute)

	conditions, err := client.Conditions(context.Background(), kualaLumpur)
	require.NoError(t, err)
	assert.Equal(t, 27.4, conditions.TemperatureC)

	again, err := client.Conditions(context.Background(), kualaLumpur)
	require.NoError(t, err)
	assert.Equal(t, conditions, again)
	mockHTTP.AssertNumberOfCalls(t, "Do", 1)
}

func TestGetCurrentWeather_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		contains string
	}{
		{"rate limit", 429, `{}`, "rate limit exceeded"},
		{"unauthorized", 401, `{"cod": 401}`, "invalid API key"},
		{"server error", 500, `oops`, "API error 500"},
		{"bad json", 200, `{"main": `, "failed to decode response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockHTTP := &MockHTTPDoer{}
			mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(createMockResponse(tt.status, tt.body), nil)

			_, err := NewClientWithHTTPDoer("k", "", mockHTTP).Conditions(context.Background(), kualaLumpur)
			assert.ErrorContains(t, err, tt.contains)
		})
	}
}

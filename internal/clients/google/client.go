package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/lamain12/Roadpulse-backend/internal/lib/eta"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
	"github.com/lamain12/Roadpulse-backend/internal/lib/journey"
)

// DefaultBaseURL is the Google Routes API v2 endpoint root
const DefaultBaseURL = "https://routes.googleapis.com"

const fieldMask = "routes.duration,routes.staticDuration,routes.distanceMeters,routes.polyline.encodedPolyline"

// HTTPDoer is the subset of *http.Client used by Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to Google Routes API v2
type Client struct {
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
	now        func() time.Time
}

// RouteData is one route from a computeRoutes response
type RouteData struct {
	DurationSeconds       int32
	StaticDurationSeconds int32
	DistanceMeters        int32
	Polyline              string
}

// NewClient creates a new Google Routes API client
func NewClient(apiKey string) *Client {
	return NewClientWithHTTPDoer(apiKey, DefaultBaseURL, &http.Client{Timeout: 30 * time.Second})
}

// NewClientWithHTTPDoer creates a client with a custom transport and base URL
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: doer,
		now:        time.Now,
	}
}

// travelMode maps vehicle modes to Routes API travel modes
func travelMode(mode string) (string, error) {
	switch mode {
	case eta.ModeCar:
		return "DRIVE", nil
	case eta.ModeCycling:
		return "BICYCLE", nil
	case eta.ModeWalking:
		return "WALK", nil
	}
	return "", fmt.Errorf("unsupported vehicle mode %q", mode)
}

// ComputeAlternativeRoutes requests the primary route plus alternatives
func (c *Client) ComputeAlternativeRoutes(ctx context.Context, origin, destination geo.Point, mode string, departAt time.Time) ([]RouteData, error) {
	ctx = logging.EnsureLogger(ctx)
	travel, err := travelMode(mode)
	if err != nil {
		return nil, err
	}

	requestBody := map[string]interface{}{
		"origin":                   waypoint(origin),
		"destination":              waypoint(destination),
		"travelMode":               travel,
		"computeAlternativeRoutes": true,
		"polylineQuality":          "OVERVIEW",
	}
	if travel == "DRIVE" {
		requestBody["routingPreference"] = "TRAFFIC_AWARE"
	}
	// Routes API rejects departure times in the past
	if departAt.After(c.now()) {
		requestBody["departureTime"] = departAt.UTC().Format(time.RFC3339)
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/directions/v2:computeRoutes", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Field mask is required or the API rejects the call
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limit exceeded")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var response GoogleRoutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	routes := make([]RouteData, 0, len(response.Routes))
	for i, route := range response.Routes {
		data, err := processRouteResponse(route)
		if err != nil {
			logging.Warnw(ctx, "google: Malformed route in response", "index", i, "error", err)
			return nil, fmt.Errorf("malformed route %d: %w", i, err)
		}
		routes = append(routes, data)
	}
	return routes, nil
}

// Alternatives adapts the client to journey.AlternativesProvider
func (c *Client) Alternatives(ctx context.Context, origin, destination geo.Point, mode string, departAt time.Time) ([]journey.ProviderRoute, error) {
	ctx = logging.EnsureLogger(ctx)
	routes, err := c.ComputeAlternativeRoutes(ctx, origin, destination, mode, departAt)
	if err != nil {
		return nil, err
	}

	out := make([]journey.ProviderRoute, 0, len(routes))
	for _, r := range routes {
		path, err := geo.DecodePolyline(r.Polyline)
		if err != nil {
			logging.Warnw(ctx, "google: Bad polyline, keeping route without path", "error", err)
			path = nil
		}
		out = append(out, journey.ProviderRoute{
			DistanceMeters:    int(r.DistanceMeters),
			Duration:          time.Duration(r.StaticDurationSeconds) * time.Second,
			DurationInTraffic: time.Duration(r.DurationSeconds) * time.Second,
			Path:              path,
		})
	}
	return out, nil
}

func waypoint(p geo.Point) map[string]interface{} {
	return map[string]interface{}{
		"location": map[string]interface{}{
			"latLng": map[string]interface{}{
				"latitude":  p.Latitude,
				"longitude": p.Longitude,
			},
		},
	}
}

func processRouteResponse(route GoogleRoute) (RouteData, error) {
	durationSeconds, err := parseDuration(route.Duration)
	if err != nil {
		return RouteData{}, fmt.Errorf("failed to parse duration: %w", err)
	}

	// staticDuration is absent for non-driving modes
	staticSeconds := durationSeconds
	if route.StaticDuration != "" {
		staticSeconds, err = parseDuration(route.StaticDuration)
		if err != nil {
			return RouteData{}, fmt.Errorf("failed to parse static duration: %w", err)
		}
	}

	return RouteData{
		DurationSeconds:       durationSeconds,
		StaticDurationSeconds: staticSeconds,
		DistanceMeters:        route.DistanceMeters,
		Polyline:              route.Polyline.EncodedPolyline,
	}, nil
}

// parseDuration parses Google's duration format like "450s" to seconds
func parseDuration(durationStr string) (int32, error) {
	if durationStr == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	seconds, err := strconv.ParseFloat(strings.TrimSuffix(durationStr, "s"), 64)
	if err != nil {
		return 0, err
	}
	return int32(seconds), nil
}

// GoogleRoutesResponse represents the API response structure
type GoogleRoutesResponse struct {
	Routes []GoogleRoute `json:"routes"`
}

// GoogleRoute represents a single route in the response
type GoogleRoute struct {
	Duration       string         `json:"duration"`
	StaticDuration string         `json:"staticDuration"`
	DistanceMeters int32          `json:"distanceMeters"`
	Polyline       GooglePolyline `json:"polyline"`
}

// GooglePolyline represents the route polyline
type GooglePolyline struct {
	EncodedPolyline string `json:"encodedPolyline"`
}

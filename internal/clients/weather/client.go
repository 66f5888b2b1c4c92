package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/lamain12/Roadpulse-backend/internal/cache"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
	"github.com/lamain12/Roadpulse-backend/internal/lib/journey"
)

// DefaultBaseURL is the OpenWeatherMap API root
const DefaultBaseURL = "https://api.openweathermap.org"

// DefaultCacheTTL is how long conditions are reused for nearby points
const DefaultCacheTTL = 10 * time.Minute

// HTTPDoer is the subset of *http.Client used by Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to OpenWeatherMap current conditions
type Client struct {
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
	cache      *cache.Cache
	cacheTTL   time.Duration
}

// NewClient creates a new OpenWeatherMap API client
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
	}
}

// WithCache enables response caching keyed by rounded coordinates
func (c *Client) WithCache(store *cache.Cache, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c.cache = store
	c.cacheTTL = ttl
	return c
}

// GetCurrentWeather retrieves current weather conditions for coordinates
func (c *Client) GetCurrentWeather(ctx context.Context, point geo.Point) (*OpenWeatherCurrentResponse, error) {
	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%.6f", point.Latitude))
	params.Set("lon", fmt.Sprintf("%.6f", point.Longitude))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")

	requestURL := fmt.Sprintf("%s/data/2.5/weather?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limit exceeded")
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("invalid API key")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var response OpenWeatherCurrentResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}

// Conditions adapts the client to journey.WeatherProvider. Temperature is
// in Celsius, precipitation is the last hour's rain in millimeters.
func (c *Client) Conditions(ctx context.Context, point geo.Point) (journey.Conditions, error) {
	ctx = logging.EnsureLogger(ctx)
	key := cache.WeatherKey(point)
	if c.cache != nil {
		var cached journey.Conditions
		found, err := c.cache.Get(key, &cached)
		if err != nil {
			logging.Warnw(ctx, "weather: Dropping unreadable cache entry", "key", key, "error", err)
			c.cache.Delete(key)
		} else if found {
			return cached, nil
		}
	}

	response, err := c.GetCurrentWeather(ctx, point)
	if err != nil {
		return journey.Conditions{}, err
	}

	conditions := journey.Conditions{TemperatureC: response.Main.Temp}
	if response.Rain != nil {
		conditions.PrecipitationMm = response.Rain.OneHour
	}

	if c.cache != nil {
		if err := c.cache.Set(key, conditions, c.cacheTTL, "openweathermap"); err != nil {
			logging.Warnw(ctx, "weather: Failed to cache conditions", "key", key, "error", err)
		}
	}
	return conditions, nil
}

// OpenWeatherCurrentResponse represents the current weather API response
type OpenWeatherCurrentResponse struct {
	Coord      OpenWeatherCoord     `json:"coord"`
	Weather    []OpenWeatherWeather `json:"weather"`
	Main       OpenWeatherMain      `json:"main"`
	Rain       *OpenWeatherRain     `json:"rain,omitempty"`
	Visibility int32                `json:"visibility"`
	Name       string               `json:"name"`
	Dt         int64                `json:"dt"`
}

// OpenWeatherCoord represents coordinates in response
type OpenWeatherCoord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// OpenWeatherWeather represents weather condition
type OpenWeatherWeather struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// OpenWeatherMain represents main weather data
type OpenWeatherMain struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	Pressure  int32   `json:"pressure"`
	Humidity  int32   `json:"humidity"`
}

// OpenWeatherRain is precipitation volume. Absent when it is not raining.
type OpenWeatherRain struct {
	OneHour float64 `json:"1h"`
}

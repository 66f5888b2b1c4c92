// Package nominatim reverse geocodes coordinates to short place labels using
// the OpenStreetMap Nominatim API.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/dpup/prefab/logging"

	"github.com/lamain12/Roadpulse-backend/internal/cache"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "Roadpulse/1.0"
	DefaultCacheTTL  = 24 * time.Hour
)

// UnknownPlace is returned by callers when no label can be resolved
const UnknownPlace = "Unknown location"

// Client is a rate-limited Nominatim reverse geocoder
type Client struct {
	baseURL     string
	userAgent   string
	httpClient  *http.Client
	rateLimiter *time.Ticker
	cache       *cache.Cache
	cacheTTL    time.Duration
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// NewClient creates a client that issues at most one request per interval.
// Nominatim's usage policy allows one request per second.
func NewClient(baseURL, userAgent string, interval time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		userAgent:   userAgent,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		rateLimiter: time.NewTicker(interval),
	}
}

// WithCache enables caching of resolved labels
func (c *Client) WithCache(store *cache.Cache, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c.cache = store
	c.cacheTTL = ttl
	return c
}

// Close stops the rate limiter
func (c *Client) Close() {
	c.rateLimiter.Stop()
}

// ReverseGeocode returns the first non-numeric component of the address
func (c *Client) ReverseGeocode(ctx context.Context, point geo.Point) (string, error) {
	ctx = logging.EnsureLogger(ctx)
	key := cache.PlaceKey(point)
	if c.cache != nil {
		var cached string
		found, err := c.cache.Get(key, &cached)
		if err != nil {
			logging.Warnw(ctx, "nominatim: Dropping unreadable cache entry", "key", key, "error", err)
			c.cache.Delete(key)
		} else if found {
			return cached, nil
		}
	}

	select {
	case <-c.rateLimiter.C:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%.5f", point.Latitude))
	params.Set("lon", fmt.Sprintf("%.5f", point.Longitude))
	params.Set("format", "json")
	params.Set("zoom", "16")
	params.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("reverse geocoding HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode reverse geocoding response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("reverse geocoding failed: %s", result.Error)
	}

	label := ShortLabel(result.DisplayName)
	if label == "" {
		label = UnknownPlace
	}

	logging.Infow(ctx, "nominatim: Resolved place", "point", point.String(), "place", label)

	if c.cache != nil {
		if err := c.cache.Set(key, label, c.cacheTTL, "nominatim"); err != nil {
			logging.Warnw(ctx, "nominatim: Failed to cache place", "key", key, "error", err)
		}
	}
	return label, nil
}

// ShortLabel picks the first comma-separated part that is not purely digits,
// such as a house number or postcode. It falls back to the full name.
func ShortLabel(displayName string) string {
	for _, part := range strings.Split(displayName, ",") {
		part = strings.TrimSpace(part)
		if part != "" && !allDigits(part) {
			return part
		}
	}
	return strings.TrimSpace(displayName)
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

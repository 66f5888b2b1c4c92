package config

import (
	"fmt"
	"time"

	"github.com/lamain12/Roadpulse-backend/internal/lib/eta"
	"github.com/lamain12/Roadpulse-backend/internal/lib/incident"
	"github.com/lamain12/Roadpulse-backend/internal/lib/journey"
)

// Config is the roadpulse section of prefab.yaml. Keys can be overridden with
// PF__ROADPULSE__... environment variables.
type Config struct {
	Incidents IncidentsConfig `koanf:"incidents"`
	Routing   RoutingConfig   `koanf:"routing"`
	Journey   JourneyConfig   `koanf:"journey"`
	ETA       ETAConfig       `koanf:"eta"`
	Google    GoogleConfig    `koanf:"google"`
	Weather   WeatherConfig   `koanf:"weather"`
	Geocoding GeocodingConfig `koanf:"geocoding"`
	Rewards   RewardsConfig   `koanf:"rewards"`
	Notify    NotifyConfig    `koanf:"notify"`
}

// Store backends
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// IncidentsConfig holds dedup engine settings
type IncidentsConfig struct {
	MatchRadiusMeters float64 `koanf:"match_radius_meters"`
	Store             string  `koanf:"store"`
	SQLitePath        string  `koanf:"sqlite_path"`
	MaxCASRetries     int     `koanf:"max_cas_retries"`
	BulkRewardAt      int     `koanf:"bulk_reward_at"`
	RewardPoints      int     `koanf:"reward_points"`
}

// RoutingConfig holds route overlay thresholds
type RoutingConfig struct {
	RouteDelayThresholdMeters float64 `koanf:"route_delay_threshold_meters"`
	NearbyRadiusMeters        float64 `koanf:"nearby_radius_meters"`
}

// JourneyConfig holds composer limits
type JourneyConfig struct {
	MaxAlternativesPerSegment int           `koanf:"max_alternatives_per_segment"`
	MaxResults                int           `koanf:"max_results"`
	MaxWaypoints              int           `koanf:"max_waypoints"`
	SegmentTimeout            time.Duration `koanf:"segment_timeout"`
}

// ETAConfig holds scorer settings
type ETAConfig struct {
	ModelPath       string  `koanf:"model_path"`
	HeuristicFactor float64 `koanf:"heuristic_factor"`
	FeatureTimezone string  `koanf:"feature_timezone"`
}

// GoogleConfig holds Google Routes API settings
type GoogleConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// WeatherConfig holds OpenWeatherMap settings
type WeatherConfig struct {
	APIKey   string        `koanf:"api_key"`
	BaseURL  string        `koanf:"base_url"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// GeocodingConfig holds Nominatim settings
type GeocodingConfig struct {
	BaseURL   string        `koanf:"base_url"`
	UserAgent string        `koanf:"user_agent"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`
	Enabled   bool          `koanf:"enabled"`
}

// RewardsConfig selects the account store
type RewardsConfig struct {
	Store       string `koanf:"store"`
	DatabaseURL string `koanf:"database_url"`
}

// NotifyConfig holds broadcast and health refresh settings
type NotifyConfig struct {
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	inc := incident.DefaultConfig()
	jc := journey.DefaultConfig()
	return &Config{
		Incidents: IncidentsConfig{
			MatchRadiusMeters: inc.MatchRadiusMeters,
			Store:             StoreMemory,
			SQLitePath:        "data/roadpulse.db",
			MaxCASRetries:     inc.MaxCASRetries,
			BulkRewardAt:      inc.BulkRewardAt,
			RewardPoints:      inc.RewardPoints,
		},
		Routing: RoutingConfig{
			RouteDelayThresholdMeters: 100,
			NearbyRadiusMeters:        incident.DefaultNearbyRadiusMeters,
		},
		Journey: JourneyConfig{
			MaxAlternativesPerSegment: jc.MaxAlternativesPerSegment,
			MaxResults:                jc.MaxResults,
			MaxWaypoints:              jc.MaxWaypoints,
			SegmentTimeout:            jc.SegmentTimeout,
		},
		ETA: ETAConfig{
			HeuristicFactor: eta.DefaultHeuristicFactor,
			FeatureTimezone: "Asia/Kuala_Lumpur",
		},
		Weather: WeatherConfig{
			CacheTTL: 10 * time.Minute,
		},
		Geocoding: GeocodingConfig{
			BaseURL:   "https://nominatim.openstreetmap.org",
			UserAgent: "Roadpulse/1.0",
			CacheTTL:  24 * time.Hour,
			Enabled:   true,
		},
		Rewards: RewardsConfig{
			Store: StoreMemory,
		},
		Notify: NotifyConfig{
			RefreshInterval: 30 * time.Second,
		},
	}
}

// Validate checks for settings that would make the server misbehave
func (c *Config) Validate() error {
	switch c.Incidents.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.Incidents.SQLitePath == "" {
			return fmt.Errorf("incidents.sqlite_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("incidents.store must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Incidents.Store)
	}

	switch c.Rewards.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Rewards.DatabaseURL == "" {
			return fmt.Errorf("rewards.database_url is required for the postgres store")
		}
	default:
		return fmt.Errorf("rewards.store must be %q or %q, got %q", StoreMemory, StorePostgres, c.Rewards.Store)
	}

	if c.Incidents.MatchRadiusMeters <= 0 {
		return fmt.Errorf("incidents.match_radius_meters must be positive")
	}
	if c.Incidents.BulkRewardAt < 2 {
		return fmt.Errorf("incidents.bulk_reward_at must be at least 2")
	}
	if c.Journey.MaxResults <= 0 || c.Journey.MaxAlternativesPerSegment <= 0 {
		return fmt.Errorf("journey limits must be positive")
	}
	if c.ETA.HeuristicFactor <= 0 {
		return fmt.Errorf("eta.heuristic_factor must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the zone used for hour and weekday model features
func (c *Config) Location() (*time.Location, error) {
	if c.ETA.FeatureTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.ETA.FeatureTimezone)
	if err != nil {
		return nil, fmt.Errorf("eta.feature_timezone: %w", err)
	}
	return loc, nil
}

// EngineConfig maps incident settings onto the dedup engine
func (c *Config) EngineConfig() incident.Config {
	cfg := incident.DefaultConfig()
	cfg.MatchRadiusMeters = c.Incidents.MatchRadiusMeters
	if c.Incidents.MaxCASRetries > 0 {
		cfg.MaxCASRetries = c.Incidents.MaxCASRetries
	}
	cfg.BulkRewardAt = c.Incidents.BulkRewardAt
	if c.Incidents.RewardPoints > 0 {
		cfg.RewardPoints = c.Incidents.RewardPoints
	}
	return cfg
}

// ComposerConfig maps journey settings onto the composer
func (c *Config) ComposerConfig() journey.Config {
	return journey.Config{
		MaxAlternativesPerSegment: c.Journey.MaxAlternativesPerSegment,
		MaxResults:                c.Journey.MaxResults,
		MaxWaypoints:              c.Journey.MaxWaypoints,
		SegmentTimeout:            c.Journey.SegmentTimeout,
	}
}

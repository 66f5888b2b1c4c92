package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	engine := cfg.EngineConfig()
	assert.Equal(t, 3, engine.BulkRewardAt)
	assert.Equal(t, cfg.Incidents.MatchRadiusMeters, engine.MatchRadiusMeters)

	composer := cfg.ComposerConfig()
	assert.Equal(t, 3, composer.MaxResults)
	assert.Equal(t, 3, composer.MaxAlternativesPerSegment)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kuala_Lumpur", loc.String())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown incident store", func(c *Config) { c.Incidents.Store = "redis" }, "incidents.store"},
		{"sqlite without path", func(c *Config) { c.Incidents.Store = StoreSQLite; c.Incidents.SQLitePath = "" }, "sqlite_path"},
		{"postgres without url", func(c *Config) { c.Rewards.Store = StorePostgres }, "database_url"},
		{"unknown rewards store", func(c *Config) { c.Rewards.Store = "mysql" }, "rewards.store"},
		{"zero match radius", func(c *Config) { c.Incidents.MatchRadiusMeters = 0 }, "match_radius_meters"},
		{"bulk reward too low", func(c *Config) { c.Incidents.BulkRewardAt = 1 }, "bulk_reward_at"},
		{"zero results", func(c *Config) { c.Journey.MaxResults = 0 }, "journey limits"},
		{"negative factor", func(c *Config) { c.ETA.HeuristicFactor = -1 }, "heuristic_factor"},
		{"bad timezone", func(c *Config) { c.ETA.FeatureTimezone = "Mars/Olympus" }, "feature_timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_ValidBackends(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Incidents.Store = StoreSQLite
	cfg.Rewards.Store = StorePostgres
	cfg.Rewards.DatabaseURL = "postgres://roadpulse@localhost:5432/roadpulse"
	assert.NoError(t, cfg.Validate())

	cfg.ETA.FeatureTimezone = ""
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

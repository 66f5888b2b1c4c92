package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lamain12/Roadpulse-backend/internal/cache"
	"github.com/lamain12/Roadpulse-backend/internal/clients/google"
	"github.com/lamain12/Roadpulse-backend/internal/clients/nominatim"
	"github.com/lamain12/Roadpulse-backend/internal/clients/weather"
	"github.com/lamain12/Roadpulse-backend/internal/config"
	"github.com/lamain12/Roadpulse-backend/internal/lib/eta"
	"github.com/lamain12/Roadpulse-backend/internal/lib/incident"
	"github.com/lamain12/Roadpulse-backend/internal/lib/journey"
	"github.com/lamain12/Roadpulse-backend/internal/lib/notify"
	"github.com/lamain12/Roadpulse-backend/internal/lib/rewards"
	"github.com/lamain12/Roadpulse-backend/internal/lib/routing"
	"github.com/lamain12/Roadpulse-backend/internal/services"
	"github.com/lamain12/Roadpulse-backend/internal/store/sqlite"
)

func main() {
	// .env is optional; prefab.yaml and PF__ variables still apply
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded environment from .env")
	}

	appConfig := loadConfig()
	// Background work logs through prefab; give it a logger up front
	ctx, cancel := context.WithCancel(logging.EnsureLogger(context.Background()))
	defer cancel()

	// Shared TTL cache for weather and reverse geocoding lookups
	cacheInstance := cache.NewCache()
	cacheInstance.StartPeriodicCleanup(ctx, 10*time.Minute)

	// Reverse geocoding for incident place names and traffic cards
	var places *nominatim.Client
	engineOpts := []incident.Option{}
	if appConfig.Geocoding.Enabled {
		places = nominatim.NewClient(appConfig.Geocoding.BaseURL, appConfig.Geocoding.UserAgent, time.Second).
			WithCache(cacheInstance, appConfig.Geocoding.CacheTTL)
		defer places.Close()
		engineOpts = append(engineOpts, incident.WithPlaceResolver(places))
	}

	// Account store for confirmation and navigation rewards
	rewardStore, closeRewards := openRewardStore(ctx, appConfig)
	defer closeRewards()
	engineOpts = append(engineOpts, incident.WithRewarder(rewardStore))

	// Live incident broadcast
	hub := notify.NewHub(ctx)
	defer hub.Close()
	engineOpts = append(engineOpts, incident.WithPublisher(hub))

	repo, closeRepo := openIncidentRepository(ctx, appConfig)
	defer closeRepo()
	engine := incident.NewEngine(repo, appConfig.EngineConfig(), engineOpts...)
	overlay := routing.NewOverlay(engine, appConfig.Routing.RouteDelayThresholdMeters, appConfig.Routing.NearbyRadiusMeters)

	// Journey composition
	googleClient := google.NewClientWithHTTPDoer(appConfig.Google.APIKey, appConfig.Google.BaseURL, &http.Client{Timeout: 30 * time.Second})
	if appConfig.Google.APIKey == "" {
		log.Printf("Google Routes API key not configured; journey and traffic requests will fail")
	}

	var weatherProvider journey.WeatherProvider
	if appConfig.Weather.APIKey != "" {
		weatherProvider = weather.NewClientWithHTTPDoer(appConfig.Weather.APIKey, appConfig.Weather.BaseURL, &http.Client{Timeout: 10 * time.Second}).
			WithCache(cacheInstance, appConfig.Weather.CacheTTL)
	} else {
		log.Printf("OpenWeather API key not configured; default conditions will be used")
	}

	loc, err := appConfig.Location()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	scorer := eta.NewScorer(loadRegressor(appConfig.ETA.ModelPath), appConfig.ETA.HeuristicFactor, loc)
	composer := journey.NewComposer(googleClient, weatherProvider, scorer, appConfig.ComposerConfig())

	var trafficPlaces journey.PlaceResolver
	if places != nil {
		trafficPlaces = places
	}
	traffic := journey.NewTrafficReporter(googleClient, trafficPlaces)

	// HTTP surface
	router := services.NewRouter(
		map[string]http.Handler{
			"/ws/all-incidents": notify.WebsocketHandler(hub, engine),
			"/healthz":          services.HealthzHandler(engine),
		},
		services.NewIncidentsService(engine, overlay, appConfig.Routing.NearbyRadiusMeters),
		services.NewJourneysService(composer, traffic, loc),
		services.NewRewardsService(rewardStore),
	)

	opts := []prefab.ServerOption{
		prefab.WithGRPCReflection(),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
	}
	for _, path := range services.MountPaths(router) {
		opts = append(opts, prefab.WithHTTPHandlerFunc(path, router.ServeHTTP))
	}
	server := prefab.New(opts...)

	// gRPC health, kept in step with the incident store by the refresher
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server.ServiceRegistrar(), healthServer)

	periodicRefresh := services.NewPeriodicRefreshService(engine, healthServer, appConfig.Notify.RefreshInterval)
	if err := periodicRefresh.StartPeriodicRefresh(ctx); err != nil {
		log.Printf("Failed to start periodic refresh: %v", err)
	}
	defer periodicRefresh.Stop()

	log.Printf("Roadpulse server starting")
	log.Printf("Incident store: %s, reward store: %s", appConfig.Incidents.Store, appConfig.Rewards.Store)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// loadConfig loads configuration using Prefab's config system
// Configuration is loaded from prefab.yaml and environment variables with PF__ prefix
func loadConfig() *config.Config {
	appConfig := config.DefaultConfig()

	if err := prefab.Config.Unmarshal("roadpulse", appConfig); err != nil {
		log.Fatalf("Failed to unmarshal roadpulse section: %v", err)
	}
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return appConfig
}

func openIncidentRepository(ctx context.Context, appConfig *config.Config) (incident.Repository, func()) {
	if appConfig.Incidents.Store != config.StoreSQLite {
		return incident.NewMemoryRepository(), func() {}
	}

	store, err := sqlite.New(ctx, appConfig.Incidents.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open incident database: %v", err)
	}
	log.Printf("Incident database: %s", appConfig.Incidents.SQLitePath)
	return store, func() {
		if err := store.Close(); err != nil {
			log.Printf("Failed to close incident database: %v", err)
		}
	}
}

func openRewardStore(ctx context.Context, appConfig *config.Config) (rewards.Store, func()) {
	if appConfig.Rewards.Store != config.StorePostgres {
		return rewards.NewMemoryLedger(), func() {}
	}

	pool, err := pgxpool.New(ctx, appConfig.Rewards.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to account database: %v", err)
	}
	store := rewards.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		log.Fatalf("Failed to migrate account database: %v", err)
	}
	return store, pool.Close
}

// loadRegressor returns nil when no model is configured, leaving car mode
// unavailable while other modes keep working
func loadRegressor(path string) eta.Regressor {
	if path == "" {
		log.Printf("No ETA model configured; driving-car predictions are disabled")
		return nil
	}
	model, err := eta.LoadMLP(path)
	if err != nil {
		log.Fatalf("Failed to load ETA model: %v", err)
	}
	log.Printf("Loaded ETA model from %s", path)
	return model
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Roadpulse</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">Roadpulse</span>

Crowd-sourced road incidents and incident-aware travel time estimates.

<span class="header">Incidents:</span>
  POST /api/report-incident              - Report or confirm an incident
  PUT  /api/incidents/{id}/status        - Confirm or clear an incident
  POST /api/check-nearby-incidents       - Active incidents within 10 km
  POST /api/calculate-route-delay        - Incident delay along a route
  <a href="/api/incidents">GET  /api/incidents</a>                    - Active incidents
  <a href="/api/incidents.kml">GET  /api/incidents.kml</a>                - Active incidents as KML
  WS   /ws/all-incidents                 - Live active incident feed

<span class="header">Journeys:</span>
  POST /predict                          - Ranked multi-stop journeys
  GET  /api/traffic-nearby               - Traffic card for an origin/destination

<span class="header">Rewards:</span>
  PUT  /api/reward-points                - Credit navigation time

<span class="header">Data Sources:</span>
  • Google Routes API    - Route alternatives and traffic durations
  • OpenWeatherMap API   - Temperature and rainfall
  • Nominatim            - Place names

<a href="/healthz">GET /healthz</a>
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}

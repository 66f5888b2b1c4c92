package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/joho/godotenv"

	"github.com/lamain12/Roadpulse-backend/internal/clients/google"
	"github.com/lamain12/Roadpulse-backend/internal/clients/weather"
	"github.com/lamain12/Roadpulse-backend/internal/lib/eta"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
	"github.com/lamain12/Roadpulse-backend/internal/lib/journey"
)

func main() {
	var (
		apiKey    = flag.String("api-key", "", "Google Routes API key (or set GOOGLE_API_KEY env var)")
		originStr = flag.String("origin", "3.134000,101.686200", "Origin coordinates (lat,lon)")
		destStr   = flag.String("dest", "3.117700,101.677300", "Destination coordinates (lat,lon)")
		mode      = flag.String("mode", eta.ModeCar, "Vehicle: driving-car, cycling-regular or foot-walking")
		modelPath = flag.String("model", "", "ETA model JSON (required for driving-car scoring)")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Route Alternatives Test Tool\n\n")
		fmt.Printf("Fetches route alternatives for one segment and scores them.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -api-key=YOUR_KEY -model=model/eta_mlp.json\n", os.Args[0])
		fmt.Printf("  %s -origin=\"3.1579,101.7123\" -dest=\"2.9264,101.6964\" -mode=foot-walking\n", os.Args[0])
		return
	}

	// .env is optional
	_ = godotenv.Load()

	key := *apiKey
	if key == "" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	if key == "" {
		log.Fatal("Google Routes API key required. Use -api-key flag or GOOGLE_API_KEY env var")
	}

	var originLat, originLon, destLat, destLon float64
	if _, err := fmt.Sscanf(*originStr, "%f,%f", &originLat, &originLon); err != nil {
		log.Fatalf("Invalid origin coordinates: %v", err)
	}
	if _, err := fmt.Sscanf(*destStr, "%f,%f", &destLat, &destLon); err != nil {
		log.Fatalf("Invalid destination coordinates: %v", err)
	}
	origin, err := geo.NewPoint(originLat, originLon)
	if err != nil {
		log.Fatalf("Invalid origin: %v", err)
	}
	destination, err := geo.NewPoint(destLat, destLon)
	if err != nil {
		log.Fatalf("Invalid destination: %v", err)
	}

	fmt.Printf("Route Alternatives Test\n")
	fmt.Printf("=======================\n")
	fmt.Printf("Origin: %s\n", origin)
	fmt.Printf("Destination: %s\n", destination)
	fmt.Printf("Mode: %s\n\n", *mode)

	var regressor eta.Regressor
	if *modelPath != "" {
		model, err := eta.LoadMLP(*modelPath)
		if err != nil {
			log.Fatalf("Failed to load model: %v", err)
		}
		regressor = model
	}

	var weatherProvider journey.WeatherProvider
	if weatherKey := os.Getenv("OPENWEATHER_API_KEY"); weatherKey != "" {
		weatherProvider = weather.NewClient(weatherKey)
	}

	loc, err := time.LoadLocation("Asia/Kuala_Lumpur")
	if err != nil {
		loc = time.UTC
	}
	composer := journey.NewComposer(
		google.NewClient(key),
		weatherProvider,
		eta.NewScorer(regressor, eta.DefaultHeuristicFactor, loc),
		journey.DefaultConfig(),
	)

	ctx, cancel := context.WithTimeout(logging.EnsureLogger(context.Background()), time.Minute)
	defer cancel()

	journeys, err := composer.Compose(ctx, journey.Request{
		Waypoints: []journey.Waypoint{{Location: origin}, {Location: destination}},
		Mode:      *mode,
	})
	if err != nil {
		log.Fatalf("Compose failed: %v", err)
	}

	fmt.Printf("✅ %d alternatives scored\n", len(journeys))
	for _, j := range journeys {
		alt := j.Segments[0].Alternative
		fmt.Printf("Route %d: %.2f km, free-flow %.1f min, traffic %.1f min, congestion %.2f, predicted %.1f min\n",
			alt.RouteIndex, alt.DistanceKm, alt.DurationMinutes, alt.DurationInTrafficMinutes,
			alt.CongestionIndex, alt.PredictedETA)
		fmt.Printf("  weather %.1f°C, rain %.1f mm, arrive %s\n",
			alt.TemperatureC, alt.PrecipitationMm, j.Segments[0].ArrivalAt.In(loc).Format(time.Kitchen))
	}
}

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

	"github.com/lamain12/Roadpulse-backend/internal/cache"
	"github.com/lamain12/Roadpulse-backend/internal/clients/weather"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
)

func main() {
	var (
		apiKey = flag.String("api-key", "", "OpenWeatherMap API key (or set OPENWEATHER_API_KEY env var)")
		lat    = flag.Float64("lat", 3.1579, "Latitude for weather lookup")
		lon    = flag.Float64("lon", 101.7123, "Longitude for weather lookup")
		name   = flag.String("name", "KLCC, Kuala Lumpur", "Location name for display")
		help   = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("OpenWeatherMap API Test Tool\n\n")
		fmt.Printf("Fetches the conditions used as ETA features.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -api-key=YOUR_KEY\n", os.Args[0])
		fmt.Printf("  %s -lat=2.9264 -lon=101.6964 -name=\"Putrajaya\"\n", os.Args[0])
		return
	}

	// .env is optional
	_ = godotenv.Load()

	key := *apiKey
	if key == "" {
		key = os.Getenv("OPENWEATHER_API_KEY")
	}
	if key == "" {
		log.Fatal("OpenWeatherMap API key required. Use -api-key flag or OPENWEATHER_API_KEY env var")
	}

	point, err := geo.NewPoint(*lat, *lon)
	if err != nil {
		log.Fatalf("Invalid coordinates: %v", err)
	}

	fmt.Printf("OpenWeatherMap API Test\n")
	fmt.Printf("=======================\n")
	fmt.Printf("Location: %s\n", *name)
	fmt.Printf("Coordinates: %s\n\n", point)

	client := weather.NewClient(key).WithCache(cache.NewCache(), weather.DefaultCacheTTL)
	ctx, cancel := context.WithTimeout(logging.EnsureLogger(context.Background()), 30*time.Second)
	defer cancel()

	current, err := client.GetCurrentWeather(ctx, point)
	if err != nil {
		log.Fatalf("GetCurrentWeather failed: %v", err)
	}
	fmt.Printf("✅ GetCurrentWeather successful!\n")
	fmt.Printf("Station: %s\n", current.Name)
	fmt.Printf("Temperature: %.1f°C (feels like %.1f°C)\n", current.Main.Temp, current.Main.FeelsLike)
	if len(current.Weather) > 0 {
		fmt.Printf("Conditions: %s\n", current.Weather[0].Description)
	}

	for i := 1; i <= 2; i++ {
		start := time.Now()
		conditions, err := client.Conditions(ctx, point)
		if err != nil {
			log.Fatalf("Conditions failed: %v", err)
		}
		fmt.Printf("Features (call %d): temp %.1f°C, rain %.1f mm in %s\n",
			i, conditions.TemperatureC, conditions.PrecipitationMm, time.Since(start).Round(time.Microsecond))
	}
}

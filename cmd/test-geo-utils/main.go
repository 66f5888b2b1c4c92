package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
	"github.com/lamain12/Roadpulse-backend/internal/lib/incident"
	"github.com/lamain12/Roadpulse-backend/internal/lib/routing"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "point-distance":
		handlePointDistance()
	case "decode-polyline":
		handleDecodePolyline()
	case "route-delay":
		handleRouteDelay()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handlePointDistance() {
	fs := flag.NewFlagSet("point-distance", flag.ExitOnError)
	lat1 := fs.Float64("lat1", 0, "Latitude of first point")
	lng1 := fs.Float64("lng1", 0, "Longitude of first point")
	lat2 := fs.Float64("lat2", 0, "Latitude of second point")
	lng2 := fs.Float64("lng2", 0, "Longitude of second point")

	fs.Parse(os.Args[2:])

	if *lat1 == 0 && *lng1 == 0 && *lat2 == 0 && *lng2 == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  test-geo-utils point-distance --lat1 3.1579 --lng1 101.7123 --lat2 3.1390 --lng2 101.6869")
		fmt.Println("  (Distance between KLCC and Merdeka Square)")
		os.Exit(1)
	}

	p1 := geo.Point{Latitude: *lat1, Longitude: *lng1}
	p2 := geo.Point{Latitude: *lat2, Longitude: *lng2}

	distance, err := geo.PointToPoint(p1, p2)
	if err != nil {
		log.Fatalf("Error calculating distance: %v", err)
	}

	fmt.Printf("Point 1: %s\n", p1)
	fmt.Printf("Point 2: %s\n", p2)
	fmt.Printf("Distance: %.2f meters (%.3f km)\n", distance, distance/1000)
}

func handleDecodePolyline() {
	fs := flag.NewFlagSet("decode-polyline", flag.ExitOnError)
	polyline := fs.String("polyline", "", "Encoded polyline string")

	fs.Parse(os.Args[2:])

	if *polyline == "" {
		fmt.Println("Example usage:")
		fmt.Println("  test-geo-utils decode-polyline --polyline '_p~iF~ps|U_ulLnnqC_mqNvxq`@'")
		os.Exit(1)
	}

	path, err := geo.DecodePolyline(*polyline)
	if err != nil {
		log.Fatalf("Error decoding polyline: %v", err)
	}

	fmt.Printf("Decoded %d points, %.3f km\n", len(path), path.LengthKm())
	for i, p := range path {
		fmt.Printf("  %d: %s\n", i, p)
	}
}

// handleRouteDelay seeds incidents in memory and runs the route overlay
func handleRouteDelay() {
	fs := flag.NewFlagSet("route-delay", flag.ExitOnError)
	route := fs.String("route", "", "Route as lat,lng;lat,lng;...")
	incidents := fs.String("incidents", "", "Incidents as type@lat,lng;type@lat,lng;...")
	threshold := fs.Float64("threshold", routing.DefaultOnRouteThreshold, "On-route distance in meters")

	fs.Parse(os.Args[2:])

	if *route == "" || *incidents == "" {
		fmt.Println("Example usage:")
		fmt.Println("  test-geo-utils route-delay --route '3.1600,101.7123;3.1579,101.7123' --incidents 'accident@3.1580,101.7124;pothole@3.1390,101.6869'")
		os.Exit(1)
	}

	path, err := parsePath(*route)
	if err != nil {
		log.Fatalf("Invalid route: %v", err)
	}

	ctx := logging.EnsureLogger(context.Background())
	engine := incident.NewEngine(incident.NewMemoryRepository(), incident.DefaultConfig(),
		incident.WithClock(func() time.Time { return time.Now().UTC() }))
	for i, entry := range strings.Split(*incidents, ";") {
		incidentType, coords, ok := strings.Cut(entry, "@")
		if !ok {
			log.Fatalf("Invalid incident %q, want type@lat,lng", entry)
		}
		points, err := parsePath(coords)
		if err != nil || len(points) != 1 {
			log.Fatalf("Invalid incident location %q", coords)
		}
		reporter := "cli-" + strconv.Itoa(i)
		if _, err := engine.SubmitReport(ctx, incident.Report{Type: incidentType, Location: points[0]}, reporter); err != nil {
			log.Fatalf("Failed to seed incident: %v", err)
		}
	}

	overlay := routing.NewOverlay(engine, *threshold, routing.DefaultNearbyThreshold)
	classified, err := overlay.ClassifyIncidents(ctx, path)
	if err != nil {
		log.Fatalf("Classification failed: %v", err)
	}
	for _, c := range classified {
		fmt.Printf("%-10s %-8s %.1f m\n", c.Incident.Type, c.Classification, c.DistanceToRoute)
	}

	report, err := overlay.RouteDelay(ctx, path)
	if err != nil {
		log.Fatalf("Route delay failed: %v", err)
	}
	fmt.Printf("Total delay: %d minutes from %d incidents\n", report.TotalDelayMinutes, len(report.Breakdown))
}

func parsePath(s string) (geo.Path, error) {
	var path geo.Path
	for _, pair := range strings.Split(s, ";") {
		lat, lng, ok := strings.Cut(pair, ",")
		if !ok {
			return nil, fmt.Errorf("point %q must be lat,lng", pair)
		}
		latitude, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		if err != nil {
			return nil, err
		}
		longitude, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
		if err != nil {
			return nil, err
		}
		p, err := geo.NewPoint(latitude, longitude)
		if err != nil {
			return nil, err
		}
		path = append(path, p)
	}
	return path, nil
}

func printUsage() {
	fmt.Println("Geo Utilities Test Tool")
	fmt.Println("Usage: test-geo-utils <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  point-distance   Distance between two points")
	fmt.Println("  decode-polyline  Decode a Google encoded polyline")
	fmt.Println("  route-delay      Incident delay along a route")
	fmt.Println("  help             Show this help")
}

package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-polyline"
)

// EarthRadiusMeters is the mean radius used by every distance in this package
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinates is returned when a point falls outside the valid lat/lng ranges
var ErrInvalidCoordinates = errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !point.Valid() {
		return Point{}, ErrInvalidCoordinates
	}
	return point, nil
}

// Distance returns the great-circle distance in meters between two points
// using the Haversine formula.
func Distance(p1, p2 Point) float64 {
	if p1 == p2 {
		return 0
	}

	lat1 := p1.Latitude * math.Pi / 180
	lat2 := p2.Latitude * math.Pi / 180
	dlat := lat2 - lat1
	dlon := (p2.Longitude - p1.Longitude) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// PointToPoint is Distance with coordinate validation
func PointToPoint(p1, p2 Point) (float64, error) {
	if !p1.Valid() || !p2.Valid() {
		return 0, ErrInvalidCoordinates
	}
	return Distance(p1, p2), nil
}

// MinDistance returns the smallest distance from point to any vertex of path.
// ok is false when path is empty.
func MinDistance(point Point, path Path) (distance float64, ok bool) {
	if len(path) == 0 {
		return 0, false
	}

	distance = math.Inf(1)
	for _, p := range path {
		if d := Distance(point, p); d < distance {
			distance = d
		}
	}
	return distance, true
}

// LengthKm returns the summed length of consecutive path legs in kilometers
func (p Path) LengthKm() float64 {
	total := 0.0
	for i := 1; i < len(p); i++ {
		total += Distance(p[i-1], p[i])
	}
	return total / 1000
}

// DecodePolyline decodes a Google encoded polyline string to a point sequence
func DecodePolyline(encoded string) (Path, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}

	points := make(Path, len(coords))
	for i, coord := range coords {
		points[i] = Point{Latitude: coord[0], Longitude: coord[1]}
		if !points[i].Valid() {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// EncodePolyline encodes a point sequence using the Google polyline algorithm
func EncodePolyline(path Path) string {
	coords := make([][]float64, len(path))
	for i, p := range path {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}

// Round rounds v to the given number of decimal places
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

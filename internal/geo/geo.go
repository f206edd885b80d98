package geo

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// EarthRadiusM is the mean Earth radius used by the haversine formula.
const EarthRadiusM = 6371000.0

// ErrInvalidLocation is returned when either side of a distance check has
// missing or out-of-domain coordinates. Proximity checks fail closed on it.
var ErrInvalidLocation = errors.New("invalid location data")

// Point is a WGS84 coordinate pair.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the point carries usable coordinates.
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	if math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("(%.5f, %.5f)", p.Latitude, p.Longitude)
}

// Fix is a live device position with its capture time. CapturedAt gates
// freshness; a zero value means the fix never happened.
type Fix struct {
	Point
	CapturedAt time.Time `json:"captured_at"`
}

// Distance returns the great-circle distance between two points in meters.
// Callers are expected to validate both points first; garbage in, garbage out.
func Distance(a, b Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WithinRange reports whether a and b are at most thresholdM meters apart,
// along with the computed distance. Invalid coordinates on either side fail
// closed with ErrInvalidLocation, never a silent admit.
func WithinRange(a, b Point, thresholdM float64) (bool, float64, error) {
	if !a.Valid() || !b.Valid() {
		return false, 0, ErrInvalidLocation
	}
	d := Distance(a, b)
	return d <= thresholdM, d, nil
}

package geometry

import (
	"fmt"
	"math"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

const (
	// EarthRadiusMeters is the mean Earth radius used for great-circle distance
	EarthRadiusMeters = 6371000.0

	// DefaultToleranceMeters absorbs GPS noise near circle boundaries
	DefaultToleranceMeters = 5.0

	// MaxRadiusMeters is the largest accepted circle radius
	MaxRadiusMeters = 10000.0

	// MinPolygonVertices is the smallest accepted polygon vertex count
	MinPolygonVertices = 3
)

// GeometryError reports an invalid geofence definition
type GeometryError struct {
	GeofenceID string
	Reason     string
}

func (e *GeometryError) Error() string {
	if e.GeofenceID == "" {
		return fmt.Sprintf("invalid geometry: %s", e.Reason)
	}
	return fmt.Sprintf("invalid geometry for geofence %s: %s", e.GeofenceID, e.Reason)
}

// Haversine returns the great-circle distance between two points in meters
func Haversine(p1, p2 models.LatLng) float64 {
	lat1 := p1.Lat * math.Pi / 180
	lat2 := p2.Lat * math.Pi / 180
	dLat := (p2.Lat - p1.Lat) * math.Pi / 180
	dLng := (p2.Lng - p1.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// InCircle reports whether p lies within radiusMeters (+toleranceMeters) of center
func InCircle(p, center models.LatLng, radiusMeters, toleranceMeters float64) bool {
	return Haversine(p, center) <= radiusMeters+toleranceMeters
}

// InPolygon reports whether p lies inside the polygon described by vertices,
// using ray casting with the even-odd rule. Points exactly on an edge are
// classified by the crossing count and may fall on either side; the
// classification is deterministic for a given input.
func InPolygon(p models.LatLng, vertices []models.LatLng) (bool, error) {
	if len(vertices) < MinPolygonVertices {
		return false, &GeometryError{Reason: fmt.Sprintf("polygon requires at least %d vertices, got %d", MinPolygonVertices, len(vertices))}
	}

	inside := false
	j := len(vertices) - 1
	for i := 0; i < len(vertices); i++ {
		vi, vj := vertices[i], vertices[j]
		if (vi.Lng > p.Lng) != (vj.Lng > p.Lng) &&
			p.Lat < (vj.Lat-vi.Lat)*(p.Lng-vi.Lng)/(vj.Lng-vi.Lng)+vi.Lat {
			inside = !inside
		}
		j = i
	}
	return inside, nil
}

// Validate checks a geofence definition before evaluation
func Validate(g *models.Geofence) error {
	switch g.Kind {
	case models.GeofenceKindCircle:
		if g.RadiusMeters <= 0 || g.RadiusMeters > MaxRadiusMeters {
			return &GeometryError{
				GeofenceID: g.ID.String(),
				Reason:     fmt.Sprintf("radius %.1fm out of range (0, %.0f]", g.RadiusMeters, MaxRadiusMeters),
			}
		}
	case models.GeofenceKindPolygon:
		if len(g.Vertices) < MinPolygonVertices {
			return &GeometryError{
				GeofenceID: g.ID.String(),
				Reason:     fmt.Sprintf("polygon requires at least %d vertices, got %d", MinPolygonVertices, len(g.Vertices)),
			}
		}
	default:
		return &GeometryError{
			GeofenceID: g.ID.String(),
			Reason:     fmt.Sprintf("unknown kind %q", g.Kind),
		}
	}
	return nil
}

// Contains evaluates a validated geofence against a point.
// toleranceMeters applies to circle boundaries only.
func Contains(g *models.Geofence, p models.LatLng, toleranceMeters float64) (bool, error) {
	if err := Validate(g); err != nil {
		return false, err
	}

	switch g.Kind {
	case models.GeofenceKindCircle:
		return InCircle(p, g.Center(), g.RadiusMeters, toleranceMeters), nil
	default:
		return InPolygon(p, []models.LatLng(g.Vertices))
	}
}

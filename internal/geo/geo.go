// Package geo provides great-circle distance helpers for radius filtering.
package geo

import (
	"github.com/golang/geo/s2"
)

// earthRadiusKm is the mean Earth radius used to convert angles to distances.
const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance in kilometers between two
// coordinates given in degrees.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * earthRadiusKm
}

// WithinRadiusKm reports whether the point (lat, lon) lies within radiusKm
// of the center coordinate.
func WithinRadiusKm(centerLat, centerLon, lat, lon, radiusKm float64) bool {
	return DistanceKm(centerLat, centerLon, lat, lon) <= radiusKm
}

// Package geodesy provides the unit conversion and coordinate-space distance
// helpers behind distance-within predicates.
package geodesy

import (
	"math"

	"github.com/twpayne/go-geom"
)

// metersPerDegree is the length of one degree of latitude in meters on the
// WGS84 ellipsoid, to the accuracy this conversion needs.
const metersPerDegree = 111320.0

// minCosLat keeps the conversion finite near the poles.
const minCosLat = 0.01

// DegreesForMeters converts a linear distance in meters to the equivalent
// angular distance in degrees at the geometry's own location. One degree of
// longitude shrinks by cos(latitude), so the conversion is evaluated at the
// geometry's bounds-center latitude and uses the longitude scale, which
// yields the covering (larger) radius of the two axes. The result differs
// between geometries at different latitudes; callers must invoke this once
// per geometry, never once globally.
func DegreesForMeters(g geom.T, meters float64) float64 {
	lat := centerLatitude(g)
	c := math.Cos(lat * math.Pi / 180)
	if c < minCosLat {
		c = minCosLat
	}
	return meters / (metersPerDegree * c)
}

// centerLatitude returns the latitude of the geometry's bounding-box center.
func centerLatitude(g geom.T) float64 {
	b := g.Bounds()
	return (b.Min(1) + b.Max(1)) / 2
}

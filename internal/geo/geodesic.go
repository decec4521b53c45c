package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

const earthRadiusMeters = 6371008.8

// DistanceMeters returns the great-circle (haversine) distance between two
// WGS84 points, delegating to orb/geo so region queries' per-pixel distance
// filtering uses the same geodesic model as the rest of the spatial code.
func DistanceMeters(a, b LngLat) float64 {
	return geo.Distance(orb.Point{a.Lng, a.Lat}, orb.Point{b.Lng, b.Lat})
}

// RhumbDestination returns the point reached from start by travelling
// distanceMeters along a constant compass bearing (degrees clockwise from
// north). Used to step a region's bounding-circle polygon vertices along
// straight compass lines rather than great-circle arcs, the standard
// choice for generating a small on-screen circle's boundary.
func RhumbDestination(start LngLat, bearingDeg, distanceMeters float64) LngLat {
	delta := distanceMeters / earthRadiusMeters
	theta := bearingDeg * degToRad
	phi1 := start.Lat * degToRad
	lambda1 := start.Lng * degToRad

	dPhi := delta * math.Cos(theta)
	phi2 := phi1 + dPhi

	// Near-vertical line handling and Mercator-projected latitude delta,
	// per the standard rhumb-line destination formula.
	dPsi := math.Log(math.Tan(phi2/2+math.Pi/4) / math.Tan(phi1/2+math.Pi/4))
	var q float64
	if math.Abs(dPsi) > 1e-12 {
		q = dPhi / dPsi
	} else {
		q = math.Cos(phi1)
	}

	dLambda := delta * math.Sin(theta) / q
	lambda2 := lambda1 + dLambda

	// Normalize latitude across the poles and longitude into [-180, 180].
	if math.Abs(phi2) > math.Pi/2 {
		if phi2 > 0 {
			phi2 = math.Pi - phi2
		} else {
			phi2 = -math.Pi - phi2
		}
	}
	lng := math.Mod(lambda2*radToDeg+540, 360) - 180

	return LngLat{Lng: lng, Lat: phi2 * radToDeg}
}

// CirclePolygon returns n points evenly spaced around a circle of the
// given radius centered at center, stepped via RhumbDestination.
func CirclePolygon(center LngLat, radiusMeters float64, n int) []LngLat {
	pts := make([]LngLat, n)
	for i := 0; i < n; i++ {
		bearing := 360.0 * float64(i) / float64(n)
		pts[i] = RhumbDestination(center, bearing, radiusMeters)
	}
	return pts
}

package geo

import "math"

// Web Mercator is only valid in this latitude band; beyond it the
// projection's y coordinate diverges. arctan(sinh(pi)) ≈ 85.0511.
const (
	MaxLat = 85.0511
	MinLat = -85.0511

	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// pow2 precomputes 2^z for zoom levels 0-23, avoiding repeated math.Pow
// calls on the hot per-tile path.
var pow2 = func() [24]float64 {
	var t [24]float64
	v := 1.0
	for i := range t {
		t[i] = v
		v *= 2
	}
	return t
}()

func tilesPerAxisF(zoom uint32) float64 {
	if int(zoom) < len(pow2) {
		return pow2[zoom]
	}
	return math.Pow(2, float64(zoom))
}

// LatLonToTileCoords converts a WGS84 coordinate to fractional Web
// Mercator tile coordinates at the given zoom level. Latitude is clamped
// to [MinLat, MaxLat]; longitude is expected in [-180, 180] but is not
// wrapped here — callers wrap the resulting tile x via WrapTileX.
func LatLonToTileCoords(ll LngLat, zoom uint32) (x, y float64) {
	lat := ll.Lat
	if lat > MaxLat {
		lat = MaxLat
	} else if lat < MinLat {
		lat = MinLat
	}

	n := tilesPerAxisF(zoom)
	x = (ll.Lng + 180.0) * (n / 360.0)

	if lat >= MaxLat {
		return x, 0
	}
	if lat <= MinLat {
		return x, n
	}

	latRad := lat * degToRad
	sinLat := math.Sin(latRad)
	y = n * (0.5 - 0.25*math.Log((1.0+sinLat)/(1.0-sinLat))/math.Pi)
	return x, y
}

// TileCoordsToLatLon is the inverse of LatLonToTileCoords.
func TileCoordsToLatLon(x, y float64, zoom uint32) LngLat {
	n := tilesPerAxisF(zoom)
	lng := x/(n/360.0) - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	return LngLat{Lng: lng, Lat: latRad * radToDeg}
}

// MercatorYFromLat returns the Web Mercator y fraction (in [0,1] at zoom
// 0) for a latitude in degrees, clamped to [MinLat, MaxLat].
func MercatorYFromLat(latDeg float64) float64 {
	lat := latDeg
	if lat > MaxLat {
		lat = MaxLat
	} else if lat < MinLat {
		lat = MinLat
	}
	latRad := lat * degToRad
	sinLat := math.Sin(latRad)
	return 0.5 - 0.25*math.Log((1.0+sinLat)/(1.0-sinLat))/math.Pi
}

// TileCoordsToLatLonEquirect is the equirectangular-projection analog of
// TileCoordsToLatLon: latitude varies linearly with tile y instead of
// following the Mercator curve.
func TileCoordsToLatLonEquirect(x, y float64, zoom uint32) LngLat {
	n := tilesPerAxisF(zoom)
	lng := x/(n/360.0) - 180.0
	lat := 90 - (y/n)*180
	return LngLat{Lng: lng, Lat: lat}
}

// WrapTileX wraps a signed tile x coordinate into the canonical [0, 2^z)
// range.
func WrapTileX(x int64, zoom uint32) uint32 {
	n := int64(1) << zoom
	x %= n
	if x < 0 {
		x += n
	}
	return uint32(x)
}

// InRangeTileY reports whether y falls within the non-wrapping vertical
// tile range [0, 2^z) — Web Mercator has no pole wrap.
func InRangeTileY(y int64, zoom uint32) bool {
	n := int64(1) << zoom
	return y >= 0 && y < n
}

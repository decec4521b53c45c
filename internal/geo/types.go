// Package geo implements the tile-key/projection math, geodesic distance,
// and rhumb-line stepping the viewport resolver and region query need.
// It has no dependency on any particular map/camera library — the engine
// only ever calls through Camera.
package geo

// LngLat is a WGS84 geographic coordinate in degrees.
type LngLat struct {
	Lng, Lat float64
}

// ScreenPoint is a pixel position in the camera's screen space.
type ScreenPoint struct {
	X, Y float64
}

// Package viewport turns a camera position into the set of pyramid tiles
// that must be drawn (the viewport resolver) and, given cache state, the
// substitutes to draw in place of an unpopulated tile (the LOD fallback
// policy).
package viewport

import (
	"fmt"
	"math"

	"github.com/rasterpyramid/engine/internal/geo"
	"github.com/rasterpyramid/engine/internal/pyramid"
)

// Projection selects which vertical-offset rule the resolver uses.
type Projection int

const (
	Mercator Projection = iota
	Equirectangular
)

// ParseProjection maps a CRS identifier to a Projection
// (EPSG:3857→mercator, EPSG:4326→equirectangular). Any other CRS is
// fatal (ErrProjectionInvalid), as is an explicit projection name that
// isn't one of the two supported values.
func ParseProjection(name string) (Projection, error) {
	switch name {
	case "mercator", "EPSG:3857", "":
		return Mercator, nil
	case "equirectangular", "EPSG:4326":
		return Equirectangular, nil
	default:
		return 0, fmt.Errorf("%w: unknown projection/CRS %q", ErrProjectionInvalid, name)
	}
}

// Input describes the resolver's full set of parameters for one camera
// tick.
type Input struct {
	TileKey           pyramid.Key // tile containing the camera center, at level TileKey.Z
	FracX, FracY      float64     // camera's fractional position within TileKey, in [0,1)
	Zoom              float64     // continuous zoom; TileKey.Z == clamp(floor(Zoom), 0, maxZoom)
	ViewportW         float64
	ViewportH         float64
	DevicePixelRatio  float64
	OrderX, OrderY    int // each in {-1, +1}
	Projection        Projection
}

// siblingCollapseThreshold: when a half-viewport spans fewer than this
// many sibling tiles, the offset range collapses to [0,0].
const siblingCollapseThreshold = 0.001

// pixelScale returns the on-screen pixel size of one tile at TileKey.Z
// when the camera is at Zoom.
func pixelScale(devicePixelRatio, zoom float64, tileZ uint32) float64 {
	if devicePixelRatio <= 0 {
		devicePixelRatio = 1
	}
	return devicePixelRatio * 512 * math.Pow(2, zoom-float64(tileZ))
}

// getOffsets walks outward from the camera's tile along one axis until
// the viewport is covered, returning [minDelta, maxDelta] inclusive
// integer tile-offsets from the camera's tile.
func getOffsets(viewportDim, scale, frac float64, order int) [2]int {
	half := viewportDim / 2
	if scale <= 0 || half/scale < siblingCollapseThreshold {
		return [2]int{0, 0}
	}
	if order < 0 {
		frac = 1 - frac
	}
	minD := int(math.Floor(frac - half/scale))
	maxD := int(math.Ceil(half/scale + frac - 1))
	if order < 0 {
		minD, maxD = -maxD, -minD
	}
	return [2]int{minD, maxD}
}

// getLatBasedOffsets computes the vertical offset range for the
// equirectangular projection, where a tile's apparent screen height
// varies with latitude: it rescales the Mercator pixel scale by the
// ratio between the tile's Mercator-space height and its uniform
// equirectangular height, then reuses getOffsets.
func getLatBasedOffsets(viewportH, scale, fracY float64, order int, tileY int, tileZ uint32) [2]int {
	n := float64(pyramid.TilesPerAxis(tileZ))
	latTop := 90 - (float64(tileY)/n)*180
	latBottom := 90 - (float64(tileY+1)/n)*180

	mercTop := geo.MercatorYFromLat(latTop) * n
	mercBottom := geo.MercatorYFromLat(latBottom) * n
	mercSpan := mercBottom - mercTop
	if mercSpan <= 0 {
		mercSpan = 1
	}

	effectiveScale := scale * mercSpan
	return getOffsets(viewportH, effectiveScale, fracY, order)
}

// Resolve returns the active map from canonical tile key to the list of
// render offsets (world-wrap copies included) needed to cover the
// viewport.
func Resolve(in Input) (map[pyramid.Key][]pyramid.Offset, error) {
	z := in.TileKey.Z
	scale := pixelScale(in.DevicePixelRatio, in.Zoom, z)

	xRange := getOffsets(in.ViewportW, scale, in.FracX, in.OrderX)

	var yRange [2]int
	switch in.Projection {
	case Mercator:
		yRange = getOffsets(in.ViewportH, scale, in.FracY, in.OrderY)
	case Equirectangular:
		yRange = getLatBasedOffsets(in.ViewportH, scale, in.FracY, in.OrderY, int(in.TileKey.Y), z)
	default:
		return nil, fmt.Errorf("%w: unsupported projection value %v", ErrProjectionInvalid, in.Projection)
	}

	active := make(map[pyramid.Key][]pyramid.Offset)
	n := int64(pyramid.TilesPerAxis(z))
	for dx := xRange[0]; dx <= xRange[1]; dx++ {
		for dy := yRange[0]; dy <= yRange[1]; dy++ {
			rawY := int64(in.TileKey.Y) + int64(dy)
			if rawY < 0 || rawY >= n {
				continue // no vertical wrap
			}
			rawX := int64(in.TileKey.X) + int64(dx)
			canonicalX := pyramid.WrapTileXInt(rawX, z)

			key := pyramid.Key{X: canonicalX, Y: uint32(rawY), Z: z}
			active[key] = append(active[key], pyramid.Offset{
				OX:    int32(dx),
				OY:    int32(dy),
				Level: z,
			})
		}
	}
	return active, nil
}

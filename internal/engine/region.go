package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rasterpyramid/engine/internal/geo"
	"github.com/rasterpyramid/engine/internal/pyramid"
	"github.com/rasterpyramid/engine/internal/viewport"
)

// metersPerKilometer and metersPerMile convert a Region's user-facing
// radius unit to meters for geodesic distance comparisons.
const (
	metersPerKilometer = 1000.0
	metersPerMile      = 1609.344
)

// Region is a geodesic circle query: center, radius, and the unit the
// radius was given in. regionCirclePoints is the vertex count used to
// approximate the circle's boundary as a polygon.
const regionCirclePoints = 64

type Region struct {
	Center geo.LngLat
	Radius float64
	Units  string // "kilometers" or "miles"
}

// NewRegion validates Units, fatal (ErrUnitsInvalid) for anything outside
// {kilometers, miles}.
func NewRegion(center geo.LngLat, radius float64, units string) (*Region, error) {
	switch units {
	case "kilometers", "miles":
	default:
		return nil, fmt.Errorf("%w: unknown region units %q", ErrUnitsInvalid, units)
	}
	return &Region{Center: center, Radius: radius, Units: units}, nil
}

// radiusMeters converts Radius to meters per Units.
func (r *Region) radiusMeters() float64 {
	if r.Units == "miles" {
		return r.Radius * metersPerMile
	}
	return r.Radius * metersPerKilometer
}

// RegionPoint is one sampled pixel's result: its coordinate-label keys
// (for varying non-spatial dimensions), value per band, and geographic
// position.
type RegionPoint struct {
	Keys  []string           `json:"keys,omitempty"`
	Value map[string]float64 `json:"value"`
	Lat   float64            `json:"lat"`
	Lng   float64            `json:"lng"`
}

// RegionResult is QueryRegion's output: either Flat (when the selector
// fully fixes every non-spatial dimension) or Nested, indexed by the
// varying coordinate labels' joined key.
type RegionResult struct {
	Flat   []RegionPoint            `json:"flat,omitempty"`
	Nested map[string][]RegionPoint `json:"nested,omitempty"`
	Lat    []float64                `json:"lat"`
	Lng    []float64                `json:"lng"`
}

// getTilesOfRegion enumerates the tiles a region's bounding circle
// intersects: the tile containing the center, plus every tile along a
// straight tile-space walk (the Mercator-projected rhumb line) from the
// center to each of regionCirclePoints polygon vertices.
func getTilesOfRegion(region *Region, level uint32) []pyramid.Key {
	cx, cy := geo.LatLonToTileCoords(region.Center, level)
	n := pyramid.TilesPerAxis(level)

	seen := make(map[pyramid.Key]bool)
	add := func(x, y float64) {
		ty := int64(math.Floor(y))
		if ty < 0 || ty >= int64(n) {
			return
		}
		tx := int64(math.Floor(x))
		key := pyramid.Key{X: pyramid.WrapTileXInt(tx, level), Y: uint32(ty), Z: level}
		seen[key] = true
	}
	add(cx, cy)

	for _, vertex := range geo.CirclePolygon(region.Center, region.radiusMeters(), regionCirclePoints) {
		vx, vy := geo.LatLonToTileCoords(vertex, level)
		dx, dy := vx-cx, vy-cy
		steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
		if steps < 1 {
			steps = 1
		}
		for s := 0; s <= steps; s++ {
			t := float64(s) / float64(steps)
			add(cx+dx*t, cy+dy*t)
		}
	}

	keys := make([]pyramid.Key, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Y < keys[j].Y
	})
	return keys
}

// QueryRegion waits for metadata and the first camera update, enumerates
// the region's tiles, ensures their chunks are loaded, and samples every
// pixel inside the circle. A call superseded by a later QueryRegion
// before it finishes returns nil, nil.
func (e *Engine) QueryRegion(ctx context.Context, region *Region, sel pyramid.Selector) (*RegionResult, error) {
	select {
	case <-e.initialized:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-e.cameraInitialized:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mySeq := atomic.AddUint64(&e.queryCounter, 1)

	var level uint32
	e.exec(func() { level = e.level })

	keys := getTilesOfRegion(region, level)

	for _, key := range keys {
		var tile *pyramid.Tile
		e.exec(func() { tile = e.tiles[key] })
		if tile == nil {
			continue
		}
		if tile.ChunksLoaded(sel) {
			continue
		}
		var chunkID uint64
		e.exec(func() { chunkID = e.loadingTracker.SetLoading(loadChunk) })
		err := tile.LoadChunks(ctx, sel)
		e.exec(func() { e.loadingTracker.ClearLoading(chunkID, false) })
		if err != nil {
			return nil, err
		}
	}

	selectorHash := sel.Hash()
	bands := pyramid.GetBandInformation(sel)
	fullyFixed := len(bands) == 0
	tileBands := bands
	if fullyFixed {
		tileBands = []pyramid.Band{{Name: e.meta.Variable}}
	}

	var flat []RegionPoint
	nested := make(map[string][]RegionPoint)
	var lats, lngs []float64

	for _, key := range keys {
		var tile *pyramid.Tile
		e.exec(func() { tile = e.tiles[key] })
		if tile == nil {
			continue
		}
		buffers, err := tile.PopulateBuffersSync(sel)
		if err != nil {
			return nil, fmt.Errorf("%w: tile %s: %v", ErrSelectorInvalid, key, err)
		}
		tile.CommitBuffers(selectorHash, buffers)

		side := e.meta.PixelsPerTile
		for j := 0; j < side; j++ {
			for i := 0; i < side; i++ {
				ll := e.pixelLatLng(key, i, j, side)
				if geo.DistanceMeters(region.Center, ll) > region.radiusMeters() {
					continue
				}
				lats = append(lats, ll.Lat)
				lngs = append(lngs, ll.Lng)

				for _, band := range tileBands {
					buf, ok := tile.Buffer(band.Name, selectorHash)
					if !ok || i >= buf.Width || j >= buf.Height {
						continue
					}
					point := RegionPoint{
						Value: map[string]float64{e.meta.Variable: buf.Values[j*buf.Width+i]},
						Lat:   ll.Lat,
						Lng:   ll.Lng,
						Keys:  bandKeys(band, sel),
					}
					if fullyFixed {
						flat = append(flat, point)
					} else {
						label := strings.Join(point.Keys, "_")
						nested[label] = append(nested[label], point)
					}
				}
			}
		}
	}

	if atomic.LoadUint64(&e.queryCounter) != mySeq {
		return nil, nil
	}

	return &RegionResult{Flat: flat, Nested: nested, Lat: lats, Lng: lngs}, nil
}

// pixelLatLng converts a pixel within tile key to a geographic position,
// using the Mercator or equirectangular inverse per the engine's current
// projection.
func (e *Engine) pixelLatLng(key pyramid.Key, i, j, side int) geo.LngLat {
	x := float64(key.X) + float64(i)/float64(side)
	y := float64(key.Y) + float64(j)/float64(side)
	if e.projection == viewport.Equirectangular {
		return geo.TileCoordsToLatLonEquirect(x, y, key.Z)
	}
	return geo.TileCoordsToLatLon(x, y, key.Z)
}

// bandKeys returns one band's own coordinate labels — the values the
// selector's list dimensions were fixed to in order to produce this
// specific band — empty for a fully-scalar selector.
func bandKeys(band pyramid.Band, sel pyramid.Selector) []string {
	dims := make([]string, 0, len(sel))
	for d, v := range sel {
		if v.IsList() {
			dims = append(dims, d)
		}
	}
	if len(dims) == 0 {
		return nil
	}
	sort.Strings(dims)
	keys := make([]string, len(dims))
	for i, d := range dims {
		keys[i] = band.Fixed[d].Str()
	}
	return keys
}

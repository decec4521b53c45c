package engine

import (
	"context"
	"encoding/binary"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rasterpyramid/engine/internal/geo"
	"github.com/rasterpyramid/engine/internal/pyramid"
	"github.com/rasterpyramid/engine/pkg/colormap"
)

func encodeFloat32LE(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// constantLoader returns a ChunkLoader that always serves a side*side
// chunk of the given constant value after an optional delay, counting
// how many times it was invoked so tests can assert on load counts.
func constantLoader(side int, value float32, delay time.Duration) (pyramid.ChunkLoader, *atomic.Int64) {
	var calls atomic.Int64
	vals := make([]float32, side*side)
	for i := range vals {
		vals[i] = value
	}
	data := encodeFloat32LE(vals)
	return func(ctx context.Context, level uint32, idx pyramid.ChunkIndex) ([]byte, error) {
		calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return data, nil
	}, &calls
}

func newTestEngineWithDelay(t *testing.T, side, tilesPerAxis int, value float32, delay time.Duration) (*Engine, *atomic.Int64) {
	t.Helper()
	levelShapes := map[uint32][]int{0: {side * tilesPerAxis, side * tilesPerAxis}}
	meta, err := pyramid.BuildMetadata(2, "value", "EPSG:3857", []string{"y", "x"}, []int{side, side}, levelShapes)
	if err != nil {
		t.Fatalf("BuildMetadata: %v", err)
	}

	loader, calls := constantLoader(side, value, delay)
	eng, err := Construct(context.Background(), Options{
		FetchMetadata: func(ctx context.Context) (*pyramid.Metadata, error) { return meta, nil },
		Loaders:       map[uint32]pyramid.ChunkLoader{0: loader},
		Clim:          [2]float64{0, 1},
		Colormap:      colormap.Viridis,
		Opacity:       1,
		Display:       true,
		Mode:          "texture",
		FillValue:     math.NaN(),
	})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)
	return eng, calls
}

func newTestEngine(t *testing.T, side, tilesPerAxis int, value float32) (*Engine, *atomic.Int64) {
	t.Helper()
	return newTestEngineWithDelay(t, side, tilesPerAxis, value, 0)
}

func TestUpdateCameraIsIdempotentForTheSamePosition(t *testing.T) {
	eng, calls := newTestEngine(t, 4, 1, 1.5)
	eng.UpdateCamera(geo.LngLat{Lat: 0, Lng: 0}, 0)
	first := calls.Load()
	eng.UpdateCamera(geo.LngLat{Lat: 0, Lng: 0}, 0)
	second := calls.Load()
	if second != first {
		t.Fatalf("second UpdateCamera at the same position issued %d new loads, want 0", second-first)
	}
}

func TestUpdateSelectorDiscardsStaleInFlightLoad(t *testing.T) {
	eng, _ := newTestEngineWithDelay(t, 4, 1, 1.5, 50*time.Millisecond)
	eng.UpdateCamera(geo.LngLat{Lat: 0, Lng: 0}, 0)

	// The load dispatched by UpdateCamera is still in flight (it sleeps
	// 50ms); bump the selector version before it completes so it must
	// discard its result instead of committing a buffer at all.
	eng.UpdateSelector(pyramid.Selector{"time": pyramid.Scalar(pyramid.NumberCoord(1))})

	time.Sleep(100 * time.Millisecond)
	eng.exec(func() {
		for key, tile := range eng.tiles {
			if tile.HasPopulatedBuffer("value", eng.selectorHash) {
				t.Errorf("tile %v: a load started under a superseded selector version should not have committed a buffer", key)
			}
		}
	})
}

func TestUpdateUniformsForcesZeroOpacityWhenHidden(t *testing.T) {
	eng, _ := newTestEngine(t, 4, 1, 1.5)
	display := false
	eng.UpdateUniforms(UniformUpdate{Display: &display})

	_, snap := eng.Draw()
	if snap.Opacity != 0 {
		t.Fatalf("opacity = %v, want 0 when display is false", snap.Opacity)
	}
	if snap.Display {
		t.Fatal("Display should be false")
	}
}

func TestQueryRegionSamplesExpectedValue(t *testing.T) {
	eng, _ := newTestEngine(t, 8, 1, 2.5)
	eng.UpdateCamera(geo.LngLat{Lat: 0, Lng: 0}, 0)

	region, err := NewRegion(geo.LngLat{Lat: 0, Lng: 0}, 5000, "kilometers")
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}

	result, err := eng.QueryRegion(context.Background(), region, pyramid.Selector{})
	if err != nil {
		t.Fatalf("QueryRegion: %v", err)
	}
	if len(result.Flat) == 0 {
		t.Fatal("expected at least one sampled point inside a 5000km radius at the equator")
	}
	for _, p := range result.Flat {
		if p.Value["value"] != 2.5 {
			t.Errorf("point value = %v, want 2.5", p.Value["value"])
		}
	}
}

func TestQueryRegionRejectsInvalidUnits(t *testing.T) {
	if _, err := NewRegion(geo.LngLat{Lat: 0, Lng: 0}, 10, "furlongs"); err == nil {
		t.Fatal("expected an error for an unrecognized region unit")
	}
}

package viewport

import (
	"testing"

	"github.com/rasterpyramid/engine/internal/pyramid"
)

func TestParseProjectionDefaultsAndAliases(t *testing.T) {
	cases := map[string]Projection{
		"":                Mercator,
		"mercator":        Mercator,
		"EPSG:3857":       Mercator,
		"equirectangular": Equirectangular,
		"EPSG:4326":       Equirectangular,
	}
	for name, want := range cases {
		got, err := ParseProjection(name)
		if err != nil {
			t.Fatalf("ParseProjection(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("ParseProjection(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestParseProjectionRejectsUnknownCRS(t *testing.T) {
	if _, err := ParseProjection("EPSG:9999"); err == nil {
		t.Fatal("expected an error for an unsupported CRS")
	}
}

func TestResolveCentersOnCameraTileWhenViewportIsSmall(t *testing.T) {
	active, err := Resolve(Input{
		TileKey:          pyramid.Key{X: 10, Y: 10, Z: 4},
		FracX:            0.5,
		FracY:            0.5,
		Zoom:             4,
		ViewportW:        1,
		ViewportH:        1,
		DevicePixelRatio: 1,
		OrderX:           1,
		OrderY:           1,
		Projection:       Mercator,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	offsets, ok := active[pyramid.Key{X: 10, Y: 10, Z: 4}]
	if !ok {
		t.Fatal("expected the camera's own tile to be active")
	}
	if len(offsets) != 1 || offsets[0] != (pyramid.Offset{OX: 0, OY: 0, Level: 4}) {
		t.Errorf("camera tile offsets = %+v, want a single zero offset", offsets)
	}
	if len(active) != 1 {
		t.Errorf("active set = %v, want only the camera's own tile for a sub-pixel viewport", active)
	}
}

func TestResolveWrapsHorizontallyAtTheAntimeridian(t *testing.T) {
	active, err := Resolve(Input{
		TileKey:          pyramid.Key{X: 0, Y: 2, Z: 2},
		FracX:            0,
		FracY:            0.5,
		Zoom:             2,
		ViewportW:        2000,
		ViewportH:        1,
		DevicePixelRatio: 1,
		OrderX:           1,
		OrderY:           1,
		Projection:       Mercator,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	n := uint32(4)
	found := false
	for key := range active {
		if key.X == n-1 && key.Y == 2 {
			found = true
		}
		if key.X >= n {
			t.Errorf("tile X %d should have wrapped into [0, %d)", key.X, n)
		}
	}
	if !found {
		t.Error("expected a wide viewport centered at x=0 to wrap and include the tile at x=n-1")
	}
}

func TestResolveDoesNotWrapVertically(t *testing.T) {
	active, err := Resolve(Input{
		TileKey:          pyramid.Key{X: 1, Y: 0, Z: 2},
		FracX:            0.5,
		FracY:            0,
		Zoom:             2,
		ViewportW:        1,
		ViewportH:        2000,
		DevicePixelRatio: 1,
		OrderX:           1,
		OrderY:           1,
		Projection:       Mercator,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for key := range active {
		if key.Y >= 4 {
			t.Errorf("tile Y %d should never exceed the valid range at z=2", key.Y)
		}
	}
}

func TestResolveRejectsUnsupportedProjectionValue(t *testing.T) {
	_, err := Resolve(Input{
		TileKey:    pyramid.Key{X: 0, Y: 0, Z: 0},
		Projection: Projection(99),
	})
	if err == nil {
		t.Fatal("expected an error for an out-of-range projection value")
	}
}

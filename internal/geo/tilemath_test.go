package geo

import "testing"

func approxEqual(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < eps
}

func TestTileCoordsRoundTrip(t *testing.T) {
	ll := LngLat{Lng: 12.3, Lat: 45.6}
	x, y := LatLonToTileCoords(ll, 5)
	back := TileCoordsToLatLon(x, y, 5)
	if !approxEqual(back.Lng, ll.Lng, 1e-6) || !approxEqual(back.Lat, ll.Lat, 1e-6) {
		t.Fatalf("round trip = %+v, want %+v", back, ll)
	}
}

func TestTileCoordsClampsLatitude(t *testing.T) {
	_, y := LatLonToTileCoords(LngLat{Lng: 0, Lat: 89}, 3)
	if y != 0 {
		t.Fatalf("y for a latitude above MaxLat = %v, want 0", y)
	}
	n := tilesPerAxisF(3)
	_, y = LatLonToTileCoords(LngLat{Lng: 0, Lat: -89}, 3)
	if y != n {
		t.Fatalf("y for a latitude below MinLat = %v, want %v", y, n)
	}
}

func TestWrapTileXWrapsHorizontally(t *testing.T) {
	if got := WrapTileX(-1, 2); got != 3 {
		t.Fatalf("WrapTileX(-1, 2) = %d, want 3", got)
	}
	if got := WrapTileX(4, 2); got != 0 {
		t.Fatalf("WrapTileX(4, 2) = %d, want 0", got)
	}
}

func TestInRangeTileYNoVerticalWrap(t *testing.T) {
	if InRangeTileY(-1, 2) {
		t.Fatal("y=-1 should be out of range, not wrapped")
	}
	if InRangeTileY(4, 2) {
		t.Fatal("y=4 should be out of range at z=2 (n=4)")
	}
	if !InRangeTileY(3, 2) {
		t.Fatal("y=3 should be in range at z=2 (n=4)")
	}
}

func TestEquirectLatitudeSpansPoleToPole(t *testing.T) {
	ll := TileCoordsToLatLonEquirect(0, 0, 1)
	if ll.Lat != 90 {
		t.Fatalf("lat at y=0 = %v, want 90", ll.Lat)
	}
	n := tilesPerAxisF(1)
	ll = TileCoordsToLatLonEquirect(0, n, 1)
	if ll.Lat != -90 {
		t.Fatalf("lat at y=n = %v, want -90", ll.Lat)
	}
}

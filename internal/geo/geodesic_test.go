package geo

import (
	"math"
	"testing"
)

func TestDistanceMetersZeroForSamePoint(t *testing.T) {
	p := LngLat{Lng: 10, Lat: 20}
	if d := DistanceMeters(p, p); d != 0 {
		t.Fatalf("distance to self = %v, want 0", d)
	}
}

func TestDistanceMetersKnownQuarterCircumference(t *testing.T) {
	equator := LngLat{Lng: 0, Lat: 0}
	northPole := LngLat{Lng: 0, Lat: 90}
	d := DistanceMeters(equator, northPole)
	want := math.Pi / 2 * earthRadiusMeters
	if !approxEqual(d, want, want*0.01) {
		t.Fatalf("distance = %v, want ~%v", d, want)
	}
}

func TestRhumbDestinationDueNorth(t *testing.T) {
	start := LngLat{Lng: 0, Lat: 0}
	dest := RhumbDestination(start, 0, 111000)
	if !approxEqual(dest.Lng, 0, 1e-6) {
		t.Fatalf("due-north travel should not change longitude, got %v", dest.Lng)
	}
	if dest.Lat <= start.Lat {
		t.Fatalf("due-north travel should increase latitude, got %v", dest.Lat)
	}
}

func TestCirclePolygonReturnsRequestedVertexCount(t *testing.T) {
	pts := CirclePolygon(LngLat{Lng: 0, Lat: 0}, 5000, 64)
	if len(pts) != 64 {
		t.Fatalf("len(pts) = %d, want 64", len(pts))
	}
	center := LngLat{Lng: 0, Lat: 0}
	for i, p := range pts {
		d := DistanceMeters(center, p)
		if !approxEqual(d, 5000, 5000*0.02) {
			t.Errorf("vertex %d distance = %v, want ~5000", i, d)
		}
	}
}

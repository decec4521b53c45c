package render

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/rasterpyramid/engine/internal/engine"
	"github.com/rasterpyramid/engine/internal/pyramid"
	"github.com/rasterpyramid/engine/pkg/colormap"
)

func TestRenderPassProducesDecodablePNG(t *testing.T) {
	r := NewTileRenderer(Config{TileSize: 16})

	buf := &pyramid.Buffer{Width: 2, Height: 2, Values: []float64{0, 0.5, 1, -999}}
	pass := engine.DrawPass{Attributes: map[string]*pyramid.Buffer{"value": buf}}
	snap := engine.Snapshot{
		Display:   true,
		Colormap:  colormap.Viridis,
		Clim:      [2]float64{0, 1},
		Opacity:   1,
		FillValue: -999,
		Mode:      engine.ModeTexture,
	}

	data, err := r.RenderPass(pass, "value", snap)
	if err != nil {
		t.Fatalf("RenderPass: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding rendered png: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 16 {
		t.Fatalf("expected 16x16 tile, got %v", img.Bounds())
	}
}

func TestRenderPassHiddenWhenDisplayFalse(t *testing.T) {
	r := NewTileRenderer(Config{TileSize: 8})
	buf := &pyramid.Buffer{Width: 1, Height: 1, Values: []float64{1}}
	pass := engine.DrawPass{Attributes: map[string]*pyramid.Buffer{"value": buf}}
	snap := engine.Snapshot{Display: false, Clim: [2]float64{0, 1}}

	data, err := r.RenderPass(pass, "value", snap)
	if err != nil {
		t.Fatalf("RenderPass: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding rendered png: %v", err)
	}
	if _, _, _, a := img.At(3, 3).RGBA(); a != 0 {
		t.Fatalf("expected fully transparent tile when Display is false, got alpha %d", a)
	}
}

func TestRenderPassMissingBandReturnsEmptyTile(t *testing.T) {
	r := NewTileRenderer(Config{TileSize: 8})
	pass := engine.DrawPass{Attributes: map[string]*pyramid.Buffer{}}
	snap := engine.Snapshot{Display: true, Clim: [2]float64{0, 1}}

	data, err := r.RenderPass(pass, "missing", snap)
	if err != nil {
		t.Fatalf("RenderPass: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected a valid (empty) tile, got no bytes")
	}
}

func TestEmptyTileIsFullyTransparent(t *testing.T) {
	r := NewTileRenderer(Config{TileSize: 4})
	data, err := r.EmptyTile()
	if err != nil {
		t.Fatalf("EmptyTile: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding empty tile: %v", err)
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Fatalf("expected transparent pixel, got alpha %d", a)
	}
}

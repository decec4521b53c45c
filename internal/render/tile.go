// Package render rasterizes engine.DrawPass buffers to PNG on the CPU,
// for the debug HTTP server's preview endpoints — a second, non-GPU
// consumer of the same DrawPass shape the real GPU backend draws.
// Uses fogleman/gg for rasterization, with a sync.Pool reusing drawing
// contexts and PNG encode buffers across calls.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/rasterpyramid/engine/internal/engine"
	"github.com/rasterpyramid/engine/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	TileSize int
}

// TileRenderer renders DrawPass buffers to PNG.
type TileRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	return &TileRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// RenderPass rasterizes one band of a DrawPass under the engine's current
// Snapshot. Fragments equal to FillValue are discarded (left transparent),
// matching the shader contract the GPU backend would apply. Mode selects
// the primitive: texture/grid paint a filled cell per source pixel,
// dotgrid paints a centered circle — the CPU analog of the GPU's
// per-primitive draw.
func (r *TileRenderer) RenderPass(pass engine.DrawPass, bandName string, snap engine.Snapshot) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.Transparent)
	dc.Clear()

	if !snap.Display {
		return r.encodeContext(dc)
	}

	buf, ok := pass.Attributes[bandName]
	if !ok || buf == nil || buf.Width <= 0 || buf.Height <= 0 {
		return r.encodeContext(dc)
	}

	cmap := snap.Colormap
	if cmap == nil {
		cmap = colormap.Viridis
	}

	climRange := snap.Clim[1] - snap.Clim[0]
	if climRange == 0 {
		climRange = 1
	}

	tileSize := float64(r.config.TileSize)
	cellSize := tileSize / float64(buf.Width)

	for py := 0; py < buf.Height; py++ {
		for px := 0; px < buf.Width; px++ {
			v := buf.Values[py*buf.Width+px]
			if v == snap.FillValue {
				continue
			}

			t := (v - snap.Clim[0]) / climRange
			if t < 0 {
				t = 0
			} else if t > 1 {
				t = 1
			}

			dc.SetColor(withOpacity(cmap.At(t), snap.Opacity))

			x, y := float64(px)*cellSize, float64(py)*cellSize
			if snap.Mode == engine.ModeDotGrid {
				dc.DrawCircle(x+cellSize/2, y+cellSize/2, cellSize*0.4)
			} else {
				dc.DrawRectangle(x, y, cellSize, cellSize)
			}
			dc.Fill()
		}
	}

	return r.encodeContext(dc)
}

// withOpacity scales a color's alpha channel by opacity, clamped to [0,1].
func withOpacity(c color.Color, opacity float64) color.Color {
	if opacity >= 1 {
		return c
	}
	if opacity < 0 {
		opacity = 0
	}
	nrgba := color.NRGBAModel.Convert(c).(color.NRGBA)
	nrgba.A = uint8(float64(nrgba.A) * opacity)
	return nrgba
}

func (r *TileRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("render: encoding tile png: %w", err)
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// EmptyTile returns a fully transparent tile, used when no DrawPass could
// be built for the requested tile.
func (r *TileRenderer) EmptyTile() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.TileSize, r.config.TileSize))
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("render: encoding empty tile png: %w", err)
	}
	return buf.Bytes(), nil
}

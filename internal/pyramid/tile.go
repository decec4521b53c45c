package pyramid

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// Buffer is one band's decoded pixel grid for a tile: row-major float64
// values at PixelsPerTile x PixelsPerTile resolution.
type Buffer struct {
	Values        []float64
	Width, Height int
}

func (b *Buffer) at(px, py int) float64 {
	return b.Values[py*b.Width+px]
}

// chunkState is what this package knows about one chunk a tile needs:
// its raw bytes once loaded, and whether a load is outstanding.
type chunkState struct {
	data    []byte
	loading bool
	ready   bool
}

// Tile is one (x, y, z) pyramid cell's loading and buffer state. All
// methods assume single-writer access from the engine's run loop
// goroutine — no locking is done here.
type Tile struct {
	Key Key

	meta   *Metadata
	loader *LoaderRegistry

	chunks map[string]*chunkState // chunk index string -> state

	// bufferCache is keyed by "bandName|selectorHash" so a stale selector's
	// populated buffer is never mistaken for the current one.
	bufferCache map[string]*Buffer
}

// NewTile builds an empty Tile bound to a pyramid's metadata and chunk
// loader registry.
func NewTile(key Key, meta *Metadata, loader *LoaderRegistry) *Tile {
	return &Tile{
		Key:         key,
		meta:        meta,
		loader:      loader,
		chunks:      make(map[string]*chunkState),
		bufferCache: make(map[string]*Buffer),
	}
}

// LoadChunks issues loads for every chunk index the given selector needs
// at this tile, skipping indices already loaded or in flight. Tolerant of
// repeated calls with the same selector: a chunk already `ready` or
// already `loading` is left alone.
func (t *Tile) LoadChunks(ctx context.Context, sel Selector) error {
	indices, err := GetChunks(sel, t.meta.Dims, t.meta.Coords, t.meta.Shape, t.meta.ChunkShape, t.meta.SpatialDim, int(t.Key.X), int(t.Key.Y))
	if err != nil {
		return err
	}
	for _, idx := range indices {
		key := idx.String()
		st, exists := t.chunks[key]
		if exists && (st.ready || st.loading) {
			continue
		}
		if !exists {
			st = &chunkState{}
			t.chunks[key] = st
		}
		st.loading = true
		data, err := t.loader.Load(ctx, t.Key.Z, idx)
		st.loading = false
		if err != nil {
			return fmt.Errorf("%w: loading chunk %s at %s: %v", ErrTransportFault, key, t.Key, err)
		}
		st.data = data
		st.ready = true
	}
	return nil
}

// ChunksLoaded reports whether every chunk the selector needs is ready.
func (t *Tile) ChunksLoaded(sel Selector) bool {
	indices, err := GetChunks(sel, t.meta.Dims, t.meta.Coords, t.meta.Shape, t.meta.ChunkShape, t.meta.SpatialDim, int(t.Key.X), int(t.Key.Y))
	if err != nil {
		return false
	}
	for _, idx := range indices {
		st, ok := t.chunks[idx.String()]
		if !ok || !st.ready {
			return false
		}
	}
	return true
}

// HasLoadedChunks reports whether any chunk has ever been loaded into
// this tile, regardless of selector.
func (t *Tile) HasLoadedChunks() bool {
	for _, st := range t.chunks {
		if st.ready {
			return true
		}
	}
	return false
}

// IsLoadingChunks reports whether any chunk load is currently in flight.
func (t *Tile) IsLoadingChunks() bool {
	for _, st := range t.chunks {
		if st.loading {
			return true
		}
	}
	return false
}

// bufferKey is the bufferCache key for one band under one selector.
func bufferKey(bandName, selectorHash string) string {
	return bandName + "|" + selectorHash
}

// HasPopulatedBuffer reports whether bandName already has a buffer cached
// for the given selector hash.
func (t *Tile) HasPopulatedBuffer(bandName, selectorHash string) bool {
	_, ok := t.bufferCache[bufferKey(bandName, selectorHash)]
	return ok
}

// Buffer returns bandName's cached buffer under selectorHash, if any.
func (t *Tile) Buffer(bandName, selectorHash string) (*Buffer, bool) {
	buf, ok := t.bufferCache[bufferKey(bandName, selectorHash)]
	return buf, ok
}

// PopulateBuffersSync decodes every band of sel into a Buffer, reusing a
// chunk's decoded slice across bands that share it within this call. It
// does not consult or update bufferCache directly on error; callers
// commit the returned map via CommitBuffers after checking the selector
// is still current.
func (t *Tile) PopulateBuffersSync(sel Selector) (map[string]*Buffer, error) {
	bands := GetBandInformation(sel)
	if len(bands) == 0 {
		bands = []Band{{Name: t.meta.Variable, Fixed: map[string]CoordValue{}}}
	}

	decoded := make(map[string][]float64, len(t.chunks))
	out := make(map[string]*Buffer, len(bands))

	for _, band := range bands {
		bandSel := mergeFixed(sel, band.Fixed)
		indices, err := GetChunks(bandSel, t.meta.Dims, t.meta.Coords, t.meta.Shape, t.meta.ChunkShape, t.meta.SpatialDim, int(t.Key.X), int(t.Key.Y))
		if err != nil {
			return nil, err
		}
		if len(indices) != 1 {
			return nil, fmt.Errorf("%w: band %q resolved to %d chunks, want exactly one spatial chunk", ErrSelectorInvalid, band.Name, len(indices))
		}
		idx := indices[0]
		key := idx.String()
		vals, ok := decoded[key]
		if !ok {
			st, ok := t.chunks[key]
			if !ok || !st.ready {
				return nil, fmt.Errorf("%w: chunk %s not loaded for band %q", ErrTransportFault, key, band.Name)
			}
			vals = decodeFloat32LE(st.data)
			decoded[key] = vals
		}
		side := t.meta.PixelsPerTile
		out[band.Name] = &Buffer{Values: vals, Width: side, Height: side}
	}
	return out, nil
}

// CommitBuffers stores freshly decoded buffers under selectorHash.
// Buffers already cached under other selector hashes are left in place.
func (t *Tile) CommitBuffers(selectorHash string, buffers map[string]*Buffer) {
	for name, buf := range buffers {
		t.bufferCache[bufferKey(name, selectorHash)] = buf
	}
}

// GetPointValues samples every band's buffer at pixel (px, py), returning
// an error if any band lacks a populated buffer for sel's hash.
func (t *Tile) GetPointValues(sel Selector, selectorHash string, px, py int) (map[string]float64, error) {
	bands := GetBandInformation(sel)
	if len(bands) == 0 {
		bands = []Band{{Name: t.meta.Variable}}
	}
	out := make(map[string]float64, len(bands))
	for _, band := range bands {
		buf, ok := t.bufferCache[bufferKey(band.Name, selectorHash)]
		if !ok {
			return nil, fmt.Errorf("pyramid: band %q has no populated buffer for tile %s", band.Name, t.Key)
		}
		if px < 0 || px >= buf.Width || py < 0 || py >= buf.Height {
			return nil, fmt.Errorf("pyramid: pixel (%d,%d) out of bounds for tile %s", px, py, t.Key)
		}
		out[band.Name] = buf.at(px, py)
	}
	return out, nil
}

func mergeFixed(sel Selector, fixed map[string]CoordValue) Selector {
	out := make(Selector, len(sel))
	for k, v := range sel {
		out[k] = v
	}
	for k, v := range fixed {
		out[k] = Scalar(v)
	}
	return out
}

// decodeFloat32LE converts a little-endian float32 chunk to float64
// values, one element at a time via math.Float32frombits.
func decodeFloat32LE(raw []byte) []float64 {
	n := len(raw) / 4
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		out[i] = float64(math.Float32frombits(bits))
	}
	return out
}

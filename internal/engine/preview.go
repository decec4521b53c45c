package engine

import (
	"context"
	"fmt"

	"github.com/rasterpyramid/engine/internal/pyramid"
)

// PreviewTile loads and decodes one tile's bands for sel directly, with no
// dependency on the active camera tile set — the debug HTTP server's tile
// endpoint addresses tiles by (x, y, z) the way an XYZ tile server does,
// rather than through UpdateCamera's viewport resolution. Follows
// QueryRegion's same load-then-populate sequence, narrowed to a single
// tile.
func (e *Engine) PreviewTile(ctx context.Context, key pyramid.Key, sel pyramid.Selector) (DrawPass, error) {
	select {
	case <-e.initialized:
	case <-ctx.Done():
		return DrawPass{}, ctx.Err()
	}

	var tile *pyramid.Tile
	e.exec(func() { tile = e.tiles[key] })
	if tile == nil {
		return DrawPass{}, fmt.Errorf("%w: tile %s not in pyramid", ErrSelectorInvalid, key)
	}

	if !tile.ChunksLoaded(sel) {
		if err := tile.LoadChunks(ctx, sel); err != nil {
			return DrawPass{}, err
		}
	}

	selectorHash := sel.Hash()
	buffers, err := tile.PopulateBuffersSync(sel)
	if err != nil {
		return DrawPass{}, fmt.Errorf("%w: tile %s: %v", ErrSelectorInvalid, key, err)
	}
	tile.CommitBuffers(selectorHash, buffers)

	var side int
	e.exec(func() { side = e.meta.PixelsPerTile })

	return DrawPass{
		Attributes: buffers,
		Level:      key.Z,
		Count:      side * side,
		Primitive:  PrimitiveTriangles,
	}, nil
}

package pyramid

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// ChunkLoader fetches one chunk's raw bytes. The engine never sees how a
// chunk is transported — only this interface, per the chunk-loading
// collaborator boundary: callers plug in local-disk, object-store, or
// HTTP-range implementations without this package knowing the
// difference.
type ChunkLoader func(ctx context.Context, level uint32, idx ChunkIndex) ([]byte, error)

// LoaderRegistry holds one ChunkLoader per zoom level and deduplicates
// concurrent requests for the same chunk, so that two tiles needing the
// same chunk at the same moment trigger exactly one fetch.
type LoaderRegistry struct {
	loaders map[uint32]ChunkLoader
	group   singleflight.Group
}

// NewLoaderRegistry builds an empty registry.
func NewLoaderRegistry() *LoaderRegistry {
	return &LoaderRegistry{loaders: make(map[uint32]ChunkLoader)}
}

// Register installs the ChunkLoader used for a given zoom level.
func (r *LoaderRegistry) Register(level uint32, loader ChunkLoader) {
	r.loaders[level] = loader
}

// Load fetches one chunk, deduplicating concurrent identical requests via
// singleflight so a burst of tiles sharing a chunk causes one fetch.
func (r *LoaderRegistry) Load(ctx context.Context, level uint32, idx ChunkIndex) ([]byte, error) {
	loader, ok := r.loaders[level]
	if !ok {
		return nil, fmt.Errorf("pyramid: no chunk loader registered for level %d", level)
	}
	key := fmt.Sprintf("%d/%s", level, idx.String())
	data, err, _ := r.group.Do(key, func() (interface{}, error) {
		return loader(ctx, level, idx)
	})
	if err != nil {
		return nil, err
	}
	return data.([]byte), nil
}

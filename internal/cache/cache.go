// Package cache provides the three caches the pyramid engine's surrounding
// services need: a byte-bounded LRU over decompressed chunk bytes shared
// across tiles, a rendered-tile-preview cache for the debug HTTP server,
// backed by bigcache, and QueryCache for region-query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rasterpyramid/engine/internal/pyramid"
)

// ChunkKey identifies one decompressed chunk: the zoom level it belongs
// to, the tile that requested it, and its chunk index string.
type ChunkKey struct {
	Level uint32
	Tile  pyramid.Key
	Chunk string
}

func (k ChunkKey) cacheKey() string {
	return fmt.Sprintf("%d|%s|%s", k.Level, k.Tile, k.Chunk)
}

type chunkEntry struct {
	key  ChunkKey
	data []byte
}

// ChunkLRU bounds the decompressed-chunk working set by total bytes
// rather than entry count. golang-lru/v2 is count-bounded, so ChunkLRU
// gives it an effectively unbounded count cap and enforces the byte
// budget itself, evicting least-recently-used chunks whenever a Put
// pushes the total over budget.
type ChunkLRU struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, chunkEntry]
	maxBytes int64
	curBytes int64
	onEvict  func(ChunkKey)
}

// NewChunkLRU builds a ChunkLRU with the given byte budget. onEvict, if
// non-nil, is invoked (under ChunkLRU's lock) for every chunk evicted, so
// callers can drop dependent tile buffer state.
func NewChunkLRU(maxBytes int64, onEvict func(ChunkKey)) (*ChunkLRU, error) {
	c := &ChunkLRU{maxBytes: maxBytes, onEvict: onEvict}
	l, err := lru.NewWithEvict[string, chunkEntry](1<<20, c.handleEvict)
	if err != nil {
		return nil, fmt.Errorf("cache: creating chunk lru: %w", err)
	}
	c.lru = l
	return c, nil
}

func (c *ChunkLRU) handleEvict(_ string, entry chunkEntry) {
	c.curBytes -= int64(len(entry.data))
	if c.onEvict != nil {
		c.onEvict(entry.key)
	}
}

// Get returns a cached chunk's bytes, if present.
func (c *ChunkLRU) Get(key ChunkKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key.cacheKey())
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Put stores a chunk's bytes, evicting least-recently-used chunks until
// the byte budget is satisfied again.
func (c *ChunkLRU) Put(key ChunkKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.lru.Peek(key.cacheKey()); ok {
		c.curBytes -= int64(len(old.data))
	}
	c.lru.Add(key.cacheKey(), chunkEntry{key: key, data: data})
	c.curBytes += int64(len(data))
	for c.curBytes > c.maxBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
}

// Bytes reports the cache's current total size.
func (c *ChunkLRU) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// Len reports the number of chunks currently cached.
func (c *ChunkLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Wrap returns a pyramid.ChunkLoader that serves from this cache before
// falling through to next, storing next's result back into the cache —
// the caching decorator the engine installs in front of each level's
// store-backed loader.
func (c *ChunkLRU) Wrap(tile pyramid.Key, next pyramid.ChunkLoader) pyramid.ChunkLoader {
	return func(ctx context.Context, level uint32, idx pyramid.ChunkIndex) ([]byte, error) {
		key := ChunkKey{Level: level, Tile: tile, Chunk: idx.String()}
		if data, ok := c.Get(key); ok {
			return data, nil
		}
		data, err := next(ctx, level, idx)
		if err != nil {
			return nil, err
		}
		c.Put(key, data)
		return data, nil
	}
}

// PreviewConfig configures PreviewCache.
type PreviewConfig struct {
	SizeMB int
	TTL    time.Duration
}

// PreviewCache caches rendered tile PNGs (internal/render's output) for
// the debug HTTP server, so repeated previews of the same tile/selector
// skip CPU rasterization.
type PreviewCache struct {
	bc *bigcache.BigCache
}

// NewPreviewCache builds a PreviewCache.
func NewPreviewCache(cfg PreviewConfig) (*PreviewCache, error) {
	bcCfg := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.TTL,
		CleanWindow:        cfg.TTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       512 * 1024,
		HardMaxCacheSize:   cfg.SizeMB,
	}
	bc, err := bigcache.New(context.Background(), bcCfg)
	if err != nil {
		return nil, fmt.Errorf("cache: creating preview cache: %w", err)
	}
	return &PreviewCache{bc: bc}, nil
}

// Get retrieves a rendered preview from cache.
func (p *PreviewCache) Get(key string) ([]byte, bool) {
	data, err := p.bc.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores a rendered preview in cache.
func (p *PreviewCache) Set(key string, data []byte) error {
	return p.bc.Set(key, data)
}

// Len reports the number of entries currently cached.
func (p *PreviewCache) Len() int {
	return p.bc.Len()
}

// Close releases the cache's background cleanup goroutine.
func (p *PreviewCache) Close() error {
	return p.bc.Close()
}

// PreviewKey builds a PreviewCache key for one tile's rendered preview
// under a selector hash.
func PreviewKey(key pyramid.Key, selectorHash string) string {
	return fmt.Sprintf("preview:%s:%s", key, selectorHash)
}

// RegionQueryKey builds a QueryCache key: the same region and selector
// always sample the same points while the underlying pyramid hasn't
// changed, so repeated identical queries are safe to memoize.
func RegionQueryKey(centerLat, centerLng, radius float64, units, selectorHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%f,%f,%f,%s,%s", centerLat, centerLng, radius, units, selectorHash)
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// QueryCache caches serialized region-query results keyed by
// RegionQueryKey, bounded by entry count via golang-lru/v2.
type QueryCache struct {
	lru *lru.Cache[string, []byte]
}

// NewQueryCache builds a QueryCache holding up to size entries.
func NewQueryCache(size int) (*QueryCache, error) {
	l, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("cache: creating query cache: %w", err)
	}
	return &QueryCache{lru: l}, nil
}

// Get retrieves a cached region-query result.
func (q *QueryCache) Get(key string) ([]byte, bool) {
	return q.lru.Get(key)
}

// Set stores a region-query result.
func (q *QueryCache) Set(key string, data []byte) {
	q.lru.Add(key, data)
}

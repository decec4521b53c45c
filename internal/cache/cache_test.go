package cache

import (
	"context"
	"testing"

	"github.com/rasterpyramid/engine/internal/pyramid"
)

func TestChunkLRUEvictsByBytes(t *testing.T) {
	var evicted []ChunkKey
	c, err := NewChunkLRU(10, func(k ChunkKey) { evicted = append(evicted, k) })
	if err != nil {
		t.Fatalf("NewChunkLRU: %v", err)
	}

	tile := pyramid.Key{X: 0, Y: 0, Z: 2}
	c.Put(ChunkKey{Level: 2, Tile: tile, Chunk: "0,0"}, make([]byte, 6))
	c.Put(ChunkKey{Level: 2, Tile: tile, Chunk: "0,1"}, make([]byte, 6))

	if c.Bytes() > 10 {
		t.Fatalf("expected byte budget enforced, got %d bytes", c.Bytes())
	}
	if len(evicted) == 0 {
		t.Fatalf("expected the first chunk to be evicted to stay under budget")
	}
	if _, ok := c.Get(ChunkKey{Level: 2, Tile: tile, Chunk: "0,0"}); ok {
		t.Fatalf("expected the older chunk to have been evicted")
	}
	if _, ok := c.Get(ChunkKey{Level: 2, Tile: tile, Chunk: "0,1"}); !ok {
		t.Fatalf("expected the newer chunk to remain cached")
	}
}

func TestChunkLRUOverwriteDoesNotDoubleCount(t *testing.T) {
	c, err := NewChunkLRU(1000, nil)
	if err != nil {
		t.Fatalf("NewChunkLRU: %v", err)
	}
	key := ChunkKey{Level: 0, Tile: pyramid.Key{}, Chunk: "0,0"}
	c.Put(key, make([]byte, 10))
	c.Put(key, make([]byte, 20))
	if got := c.Bytes(); got != 20 {
		t.Fatalf("expected overwrite to replace rather than add, got %d bytes", got)
	}
	if got := c.Len(); got != 1 {
		t.Fatalf("expected a single entry, got %d", got)
	}
}

func TestChunkLRUWrapCachesUnderlyingLoader(t *testing.T) {
	c, err := NewChunkLRU(1000, nil)
	if err != nil {
		t.Fatalf("NewChunkLRU: %v", err)
	}
	calls := 0
	loader := func(ctx context.Context, level uint32, idx pyramid.ChunkIndex) ([]byte, error) {
		calls++
		return []byte{1, 2, 3}, nil
	}
	wrapped := c.Wrap(pyramid.Key{X: 1, Y: 1, Z: 3}, loader)

	for i := 0; i < 3; i++ {
		data, err := wrapped(context.Background(), 3, pyramid.ChunkIndex{0, 0})
		if err != nil {
			t.Fatalf("wrapped loader: %v", err)
		}
		if len(data) != 3 {
			t.Fatalf("expected 3 bytes, got %d", len(data))
		}
	}
	if calls != 1 {
		t.Fatalf("expected the underlying loader to be called once, got %d calls", calls)
	}
}

func TestRegionQueryKeyStableAndDiscriminating(t *testing.T) {
	k1 := RegionQueryKey(1.5, -2.5, 10, "kilometers", "abc")
	k2 := RegionQueryKey(1.5, -2.5, 10, "kilometers", "abc")
	if k1 != k2 {
		t.Fatalf("expected stable key for identical inputs, got %q vs %q", k1, k2)
	}
	k3 := RegionQueryKey(1.5, -2.5, 10, "miles", "abc")
	if k1 == k3 {
		t.Fatalf("expected different units to produce a different key")
	}
}

func TestQueryCacheRoundTrip(t *testing.T) {
	q, err := NewQueryCache(4)
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}
	q.Set("a", []byte("hello"))
	got, ok := q.Get("a")
	if !ok || string(got) != "hello" {
		t.Fatalf("expected round-trip hit, got %q, %v", got, ok)
	}
	if _, ok := q.Get("missing"); ok {
		t.Fatalf("expected miss for an unset key")
	}
}

func TestPreviewKeyIncludesSelectorHash(t *testing.T) {
	key := pyramid.Key{X: 3, Y: 4, Z: 5}
	k1 := PreviewKey(key, "hash-a")
	k2 := PreviewKey(key, "hash-b")
	if k1 == k2 {
		t.Fatalf("expected distinct selector hashes to produce distinct preview keys")
	}
}

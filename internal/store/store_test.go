package store

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/rasterpyramid/engine/internal/pyramid"
)

// writeZarrV3Fixture builds a minimal v3 pyramid on disk: one variable
// group with a single zoom-0 level, shape/chunk-shape 4x4, one written
// chunk and one deliberately absent (to exercise fill-value synthesis).
func writeZarrV3Fixture(t *testing.T, basePath, variable string) {
	t.Helper()
	groupPath := filepath.Join(basePath, variable)
	levelPath := filepath.Join(groupPath, "0")
	if err := os.MkdirAll(filepath.Join(levelPath, "c", "0"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	groupDoc := `{
		"attributes": {
			"multiscales": [{
				"name": "value",
				"axes": [{"name": "y", "type": "space"}, {"name": "x", "type": "space"}],
				"datasets": [{"path": "0"}]
			}]
		}
	}`
	if err := os.WriteFile(filepath.Join(groupPath, "zarr.json"), []byte(groupDoc), 0644); err != nil {
		t.Fatalf("write zarr.json: %v", err)
	}

	arrayDoc := `{
		"shape": [8, 8],
		"data_type": "float32",
		"fill_value": 0,
		"chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [4, 4]}},
		"dimension_names": ["y", "x"]
	}`
	if err := os.WriteFile(filepath.Join(levelPath, "zarr.json"), []byte(arrayDoc), 0644); err != nil {
		t.Fatalf("write array zarr.json: %v", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	defer enc.Close()

	vals := make([]float32, 16)
	for i := range vals {
		vals[i] = 2.5
	}
	raw := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	compressed := enc.EncodeAll(raw, nil)

	// chunk "0/0" is written; "1/0" and "0/1" and "1/1" are left absent
	// so Loader must synthesize fill-value bytes for them.
	if err := os.WriteFile(filepath.Join(levelPath, "c", "0", "0"), compressed, 0644); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
}

func TestFetchMetadata(t *testing.T) {
	dir := t.TempDir()
	writeZarrV3Fixture(t, dir, "value")

	s, err := NewFilesystemStore(Options{BasePath: dir, Version: 3, Variable: "value", CRS: "EPSG:3857"})
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}

	meta, err := s.FetchMetadata(context.Background())
	if err != nil {
		t.Fatalf("FetchMetadata: %v", err)
	}
	if meta.Variable != "value" {
		t.Fatalf("variable = %q, want value", meta.Variable)
	}
	if meta.PixelsPerTile != 4 {
		t.Fatalf("pixels_per_tile = %d, want 4", meta.PixelsPerTile)
	}
	if meta.MaxZoom() != 0 {
		t.Fatalf("max zoom = %d, want 0", meta.MaxZoom())
	}
	if len(meta.Dims) != 2 || meta.Dims[0] != "y" || meta.Dims[1] != "x" {
		t.Fatalf("dims = %v, want [y x]", meta.Dims)
	}
}

func TestLoaderReadsWrittenChunk(t *testing.T) {
	dir := t.TempDir()
	writeZarrV3Fixture(t, dir, "value")

	s, err := NewFilesystemStore(Options{BasePath: dir, Version: 3, Variable: "value", CRS: "EPSG:3857"})
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}
	if _, err := s.FetchMetadata(context.Background()); err != nil {
		t.Fatalf("FetchMetadata: %v", err)
	}

	loader := s.Loader(0)
	data, err := loader(context.Background(), 0, pyramid.ChunkIndex{0, 0})
	if err != nil {
		t.Fatalf("Loader(0,0): %v", err)
	}
	if len(data) != 16*4 {
		t.Fatalf("len(data) = %d, want %d", len(data), 16*4)
	}
	bits := binary.LittleEndian.Uint32(data[:4])
	if v := math.Float32frombits(bits); v != 2.5 {
		t.Fatalf("first value = %v, want 2.5", v)
	}
}

func TestLoaderSynthesizesFillValueForMissingChunk(t *testing.T) {
	dir := t.TempDir()
	writeZarrV3Fixture(t, dir, "value")

	s, err := NewFilesystemStore(Options{BasePath: dir, Version: 3, Variable: "value", CRS: "EPSG:3857"})
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}
	if _, err := s.FetchMetadata(context.Background()); err != nil {
		t.Fatalf("FetchMetadata: %v", err)
	}

	loader := s.Loader(0)
	data, err := loader(context.Background(), 0, pyramid.ChunkIndex{1, 1})
	if err != nil {
		t.Fatalf("Loader(1,1): %v", err)
	}
	if len(data) != 16*4 {
		t.Fatalf("len(data) = %d, want %d", len(data), 16*4)
	}
	for i := 0; i < len(data); i += 4 {
		bits := binary.LittleEndian.Uint32(data[i : i+4])
		if v := math.Float32frombits(bits); v != 0 {
			t.Fatalf("fill value at offset %d = %v, want 0", i, v)
		}
	}
}

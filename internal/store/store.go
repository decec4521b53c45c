// Package store reads a zarr v2 or v3 pyramid off local disk and exposes
// it through the pyramid package's collaborator interfaces: a metadata
// fetcher and one pyramid.ChunkLoader per zoom level. Chunks are zstd
// decompressed on read; a chunk missing from disk is synthesized as all
// fill value, since a chunk that was entirely fill value at write time is
// never written.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/rasterpyramid/engine/internal/pyramid"
)

// Options configures a FilesystemStore.
type Options struct {
	BasePath string // directory containing one subdirectory per Variable
	Version  int    // 2 or 3
	Variable string // array/group name, e.g. "temperature"
	CRS      string // defaults to "EPSG:3857"
}

// levelLayout is what FetchMetadata learns about one zoom level's on-disk
// array, kept around so Loader can locate and fill-synthesize chunks
// without re-reading zarr.json/.zarray on every load.
type levelLayout struct {
	arrayPath  string
	shape      []int
	chunkShape []int
	dataType   string
	fillValue  interface{}
	sep        string // chunk-key path separator: "/" for v3, "." for v2
	sharded    bool
}

// FilesystemStore reads a zarr pyramid rooted at a local directory.
type FilesystemStore struct {
	basePath string
	version  int
	variable string
	crs      string
	decoder  *zstd.Decoder

	levels map[uint32]*levelLayout
}

// NewFilesystemStore builds a store and its shared zstd decoder. Fatal
// (ErrMetadataInvalid) if Version is neither 2 nor 3.
func NewFilesystemStore(opts Options) (*FilesystemStore, error) {
	if opts.Version != 2 && opts.Version != 3 {
		return nil, fmt.Errorf("%w: unsupported zarr version %d", pyramid.ErrMetadataInvalid, opts.Version)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("store: creating zstd decoder: %w", err)
	}
	crs := opts.CRS
	if crs == "" {
		crs = "EPSG:3857"
	}
	return &FilesystemStore{
		basePath: opts.BasePath,
		version:  opts.Version,
		variable: opts.Variable,
		crs:      crs,
		decoder:  decoder,
		levels:   make(map[uint32]*levelLayout),
	}, nil
}

// FetchMetadata satisfies engine.MetadataFetcher: it reads the group's
// multiscales document, every level's array metadata, and any
// coordinate-label files for non-spatial dimensions.
func (s *FilesystemStore) FetchMetadata(ctx context.Context) (*pyramid.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	groupPath := filepath.Join(s.basePath, s.variable)
	msRaw, err := s.readGroupDoc(groupPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q group metadata: %v", pyramid.ErrMetadataInvalid, s.variable, err)
	}
	_, levelPaths, err := pyramid.ParseMultiscales(msRaw)
	if err != nil {
		return nil, err
	}

	levelShapes := make(map[uint32][]int, len(levelPaths))
	var dims []string
	var chunkShape []int

	for _, lp := range levelPaths {
		zoom, zerr := parseLevelZoom(lp)
		if zerr != nil {
			return nil, fmt.Errorf("%w: level path %q: %v", pyramid.ErrMetadataInvalid, lp, zerr)
		}
		arrayPath := filepath.Join(groupPath, lp)

		shape, cshape, ldims, dtype, fill, sharded, err := s.readArrayMeta(arrayPath)
		if err != nil {
			return nil, err
		}

		levelShapes[zoom] = shape
		if dims == nil && len(ldims) > 0 {
			dims = ldims
		}
		if chunkShape == nil {
			chunkShape = cshape
		}

		sep := "/"
		if s.version == 2 {
			sep = "."
		}
		s.levels[zoom] = &levelLayout{
			arrayPath:  arrayPath,
			shape:      shape,
			chunkShape: cshape,
			dataType:   dtype,
			fillValue:  fill,
			sep:        sep,
			sharded:    sharded,
		}
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: could not determine dimension names for %q", pyramid.ErrMetadataInvalid, s.variable)
	}

	meta, err := pyramid.BuildMetadata(s.version, s.variable, s.crs, dims, chunkShape, levelShapes)
	if err != nil {
		return nil, err
	}

	for _, d := range dims {
		if meta.SpatialDim[d] {
			continue
		}
		values, cerr := s.loadAxisCoords(groupPath, d)
		if cerr != nil {
			continue
		}
		meta = meta.WithCoords(d, values)
	}

	return meta, nil
}

// readGroupDoc reads whichever document carries the group's "multiscales"
// attribute: zarr.json for v3, .zattrs for v2.
func (s *FilesystemStore) readGroupDoc(groupPath string) ([]byte, error) {
	if s.version == 3 {
		raw, err := os.ReadFile(filepath.Join(groupPath, "zarr.json"))
		if err != nil {
			return nil, err
		}
		var group struct {
			Attributes json.RawMessage `json:"attributes"`
		}
		if err := json.Unmarshal(raw, &group); err != nil {
			return nil, err
		}
		if len(group.Attributes) == 0 {
			return []byte("{}"), nil
		}
		return group.Attributes, nil
	}
	return os.ReadFile(filepath.Join(groupPath, ".zattrs"))
}

// readArrayMeta reads one level's array metadata document and, for v3,
// detects a "sharding_indexed" codec override so Loader
// knows to reject chunk reads it cannot yet decode rather than silently
// returning garbage.
func (s *FilesystemStore) readArrayMeta(arrayPath string) (shape, chunkShape []int, dims []string, dtype string, fill interface{}, sharded bool, err error) {
	if s.version == 3 {
		raw, rerr := os.ReadFile(filepath.Join(arrayPath, "zarr.json"))
		if rerr != nil {
			return nil, nil, nil, "", nil, false, fmt.Errorf("%w: reading %s: %v", pyramid.ErrMetadataInvalid, arrayPath, rerr)
		}
		shape, chunkShape, dims, err = pyramid.ParseArrayMetaV3(raw)
		if err != nil {
			return nil, nil, nil, "", nil, false, err
		}
		var v3 zarrV3Extra
		_ = json.Unmarshal(raw, &v3)
		for _, c := range v3.Codecs {
			if c.Name == "sharding_indexed" {
				sharded = true
			}
		}
		return shape, chunkShape, dims, v3.DataType, v3.FillValue, sharded, nil
	}

	zarrayRaw, rerr := os.ReadFile(filepath.Join(arrayPath, ".zarray"))
	if rerr != nil {
		return nil, nil, nil, "", nil, false, fmt.Errorf("%w: reading %s: %v", pyramid.ErrMetadataInvalid, arrayPath, rerr)
	}
	zattrsRaw, _ := os.ReadFile(filepath.Join(arrayPath, ".zattrs"))
	shape, chunkShape, dims, err = pyramid.ParseArrayMetaV2(zarrayRaw, zattrsRaw)
	if err != nil {
		return nil, nil, nil, "", nil, false, err
	}
	var v2 zarrV2Extra
	_ = json.Unmarshal(zarrayRaw, &v2)
	return shape, chunkShape, dims, v2.DType, v2.FillValue, false, nil
}

type zarrV3Extra struct {
	DataType  string `json:"data_type"`
	FillValue interface{} `json:"fill_value"`
	Codecs    []struct {
		Name string `json:"name"`
	} `json:"codecs"`
}

type zarrV2Extra struct {
	DType     string      `json:"dtype"`
	FillValue interface{} `json:"fill_value"`
}

// parseLevelZoom recovers a level's zoom number from its dataset path,
// e.g. "2" or "levels/2".
func parseLevelZoom(levelPath string) (uint32, error) {
	base := filepath.Base(levelPath)
	v, err := strconv.ParseUint(base, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not a zoom number: %w", err)
	}
	return uint32(v), nil
}

// axisCoordsDoc is the on-disk shape of a non-spatial dimension's
// coordinate-label file: coords/<dim>.json, an array of numbers or
// strings naming that axis's indexed values in order.
type axisCoordsDoc []json.RawMessage

func (s *FilesystemStore) loadAxisCoords(groupPath, dim string) (pyramid.AxisCoords, error) {
	raw, err := os.ReadFile(filepath.Join(groupPath, "coords", dim+".json"))
	if err != nil {
		return nil, err
	}
	var doc axisCoordsDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("store: malformed coords/%s.json: %w", dim, err)
	}
	out := make(pyramid.AxisCoords, len(doc))
	for i, raw := range doc {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out[i] = pyramid.StringCoord(s)
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("store: coords/%s.json entry %d is neither string nor number", dim, i)
		}
		out[i] = pyramid.NumberCoord(f)
	}
	return out, nil
}

// Loader returns the pyramid.ChunkLoader for one zoom level, bound by
// FetchMetadata's discovered layout. Engine callers Register it per level
// on the LoaderRegistry.
func (s *FilesystemStore) Loader(level uint32) pyramid.ChunkLoader {
	return func(ctx context.Context, reqLevel uint32, idx pyramid.ChunkIndex) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		layout, ok := s.levels[level]
		if !ok {
			return nil, fmt.Errorf("store: level %d not described by metadata", level)
		}
		if layout.sharded {
			return nil, fmt.Errorf("store: level %d uses sharding_indexed, unsupported chunk layout", level)
		}
		return s.readChunkAt(layout, idx)
	}
}

// readChunkAt reads and decompresses one chunk, synthesizing an
// all-fill-value chunk when the file is absent — a sparse chunk never
// written because every element equaled the fill value.
func (s *FilesystemStore) readChunkAt(layout *levelLayout, idx pyramid.ChunkIndex) ([]byte, error) {
	key := encodeChunkKey(idx, layout.sep)
	data, err := s.readChunkFile(layout.arrayPath, key)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	shape, serr := chunkShapeAt(layout.shape, layout.chunkShape, idx)
	if serr != nil {
		return nil, serr
	}
	elementCount := product(shape)
	fillBytes, ferr := fillValueBytes(layout.dataType, layout.fillValue)
	if ferr != nil {
		return nil, ferr
	}
	return repeatFillBytes(fillBytes, elementCount), nil
}

func (s *FilesystemStore) readChunkFile(arrayPath, key string) ([]byte, error) {
	var chunkPath string
	if s.version == 3 {
		chunkPath = filepath.Join(arrayPath, "c", key)
	} else {
		chunkPath = filepath.Join(arrayPath, key)
	}
	compressed, err := os.ReadFile(chunkPath)
	if err != nil {
		return nil, err
	}
	decompressed, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("store: zstd decompress %s: %w", chunkPath, err)
	}
	return decompressed, nil
}

func encodeChunkKey(idx pyramid.ChunkIndex, sep string) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, sep)
}

func chunkShapeAt(shape, chunkShape []int, idx pyramid.ChunkIndex) ([]int, error) {
	if len(shape) != len(chunkShape) || len(idx) != len(shape) {
		return nil, fmt.Errorf("store: chunk index dims mismatch shape dims")
	}
	actual := make([]int, len(shape))
	for d := range shape {
		chunkLen := chunkShape[d]
		if chunkLen <= 0 {
			return nil, fmt.Errorf("store: invalid chunk shape at dim %d: %d", d, chunkLen)
		}
		start := idx[d] * chunkLen
		if start < 0 || start >= shape[d] {
			return nil, fmt.Errorf("store: chunk index out of range at dim %d: start=%d shape=%d", d, start, shape[d])
		}
		remaining := shape[d] - start
		if remaining < chunkLen {
			chunkLen = remaining
		}
		actual[d] = chunkLen
	}
	return actual, nil
}

func product(ints []int) int {
	p := 1
	for _, v := range ints {
		p *= v
	}
	return p
}

// fillValueBytes encodes dtype's fill value as little-endian bytes.
// Only float32 is supported: decodeFloat32LE (internal/pyramid/tile.go)
// only understands that width, so a pyramid built on another dtype is
// out of scope until that decoder grows a dtype switch of its own.
func fillValueBytes(dataType string, fill interface{}) ([]byte, error) {
	if dataType != "" && dataType != "float32" {
		return nil, fmt.Errorf("store: unsupported zarr data_type %q (only float32 chunks are decoded)", dataType)
	}
	var v float32
	switch t := fill.(type) {
	case nil:
		v = 0
	case float64:
		v = float32(t)
	case float32:
		v = t
	case int:
		v = float32(t)
	default:
		return nil, fmt.Errorf("store: unsupported fill_value type %T", fill)
	}
	bits := math.Float32bits(v)
	return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}, nil
}

func repeatFillBytes(fill []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	out := make([]byte, len(fill)*n)
	for i := 0; i < n; i++ {
		copy(out[i*len(fill):(i+1)*len(fill)], fill)
	}
	return out
}

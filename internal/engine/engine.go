package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rasterpyramid/engine/internal/geo"
	"github.com/rasterpyramid/engine/internal/pyramid"
	"github.com/rasterpyramid/engine/internal/viewport"
	"github.com/rasterpyramid/engine/pkg/colormap"
)

// Mode is the engine's draw mode.
type Mode int

const (
	ModeTexture Mode = iota
	ModeGrid
	ModeDotGrid
)

// ParseMode validates a mode name, fatal (ErrModeInvalid) otherwise.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "texture":
		return ModeTexture, nil
	case "grid":
		return ModeGrid, nil
	case "dotgrid":
		return ModeDotGrid, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrModeInvalid, s)
	}
}

// Primitive is the draw-call primitive kind of a DrawPass.
type Primitive int

const (
	PrimitiveTriangles Primitive = iota
	PrimitivePoints
)

// DrawPass is the minimal GPU-command abstraction: the
// engine builds one per active-tile substitute; a GPU backend consumes
// it however it likes, and internal/render is a second, CPU-only
// consumer of the same shape for the debug server.
type DrawPass struct {
	Vert, Frag string
	Attributes map[string]*pyramid.Buffer
	Uniforms   map[string]any
	Blend      bool
	Depth      bool
	Count      int
	Primitive  Primitive
	Level      uint32
	Offset     pyramid.Offset
}

// MetadataFetcher loads and parses a pyramid's metadata once at
// construction.
type MetadataFetcher func(ctx context.Context) (*pyramid.Metadata, error)

// Options configures Construct.
type Options struct {
	FetchMetadata MetadataFetcher
	Loaders       map[uint32]pyramid.ChunkLoader

	Selector pyramid.Selector
	Clim     [2]float64
	Colormap colormap.Colormap
	Opacity  float64
	Display  bool
	Mode     string
	FillValue float64

	OrderX, OrderY int // default +1 each if zero
	Projection     string // overrides metadata CRS mapping when non-empty

	DevicePixelRatio float64
	ViewportW        float64
	ViewportH        float64

	OnLoadingChange  func(metadataLoading, chunkLoading, loading bool)
	Invalidate       func()
	InvalidateRegion func()
}

type command struct {
	fn   func()
	done chan struct{}
}

// Engine is the orchestrator: it owns every tile, reacts to camera
// and selector changes, and decides what to draw. All state mutation
// happens on the goroutine running Run, reached only through exec/cmdCh
// — a single-threaded cooperative runner.
type Engine struct {
	meta    *pyramid.Metadata
	loaders *pyramid.LoaderRegistry

	tiles map[pyramid.Key]*pyramid.Tile

	active    map[pyramid.Key][]pyramid.Offset
	tileKey   pyramid.Key
	fracX     float64
	fracY     float64
	zoom      float64
	level     uint32
	centerY   float64

	selector        pyramid.Selector
	selectorVersion uint64
	selectorHash    string

	clim      [2]float64
	opacity   float64
	display   bool
	colormap  colormap.Colormap
	fillValue float64
	mode      Mode

	projection     viewport.Projection
	orderX, orderY int

	devicePixelRatio float64
	viewportW        float64
	viewportH        float64

	loadingTracker *LoadingTracker
	invalidate     func()
	invalidateRegion func()

	cmdCh chan command

	initialized        chan struct{}
	cameraInitialized  chan struct{}
	cameraInitOnce     sync.Once

	queryCounter uint64
}

// Construct builds the engine, loads metadata synchronously (under a
// metadata loading ID), validates mode/projection, and allocates every
// tile.
func Construct(ctx context.Context, opts Options) (*Engine, error) {
	mode, err := ParseMode(opts.Mode)
	if err != nil {
		return nil, err
	}
	orderX, orderY := opts.OrderX, opts.OrderY
	if orderX == 0 {
		orderX = 1
	}
	if orderY == 0 {
		orderY = 1
	}

	e := &Engine{
		loaders:           pyramid.NewLoaderRegistry(),
		tiles:             make(map[pyramid.Key]*pyramid.Tile),
		active:            make(map[pyramid.Key][]pyramid.Offset),
		selector:          opts.Selector,
		clim:              opts.Clim,
		opacity:           opts.Opacity,
		display:           opts.Display,
		colormap:          opts.Colormap,
		fillValue:         opts.FillValue,
		mode:              mode,
		orderX:            orderX,
		orderY:            orderY,
		devicePixelRatio:  opts.DevicePixelRatio,
		viewportW:         opts.ViewportW,
		viewportH:         opts.ViewportH,
		invalidate:        opts.Invalidate,
		invalidateRegion:  opts.InvalidateRegion,
		cmdCh:             make(chan command, 64),
		initialized:       make(chan struct{}),
		cameraInitialized: make(chan struct{}),
	}
	if e.selector == nil {
		e.selector = pyramid.Selector{}
	}
	e.selectorVersion = 1
	e.selectorHash = e.selector.Hash()

	e.loadingTracker = NewLoadingTracker(func() {
		if opts.OnLoadingChange != nil {
			opts.OnLoadingChange(e.loadingTracker.MetadataLoading(), e.loadingTracker.ChunkLoading(), e.loadingTracker.Loading())
		}
	})

	metaID := e.loadingTracker.SetLoading(loadMetadata)
	meta, err := opts.FetchMetadata(ctx)
	e.loadingTracker.ClearLoading(metaID, true)
	if err != nil {
		return nil, err
	}
	e.meta = meta

	for level, loader := range opts.Loaders {
		e.loaders.Register(level, loader)
	}

	projName := opts.Projection
	if projName == "" {
		projName = meta.CRS
	}
	proj, err := viewport.ParseProjection(projName)
	if err != nil {
		return nil, err
	}
	e.projection = proj

	for _, lvl := range meta.Levels {
		n := pyramid.TilesPerAxis(lvl.Zoom)
		for x := uint32(0); x < n; x++ {
			for y := uint32(0); y < n; y++ {
				key := pyramid.Key{X: x, Y: y, Z: lvl.Zoom}
				e.tiles[key] = pyramid.NewTile(key, meta, e.loaders)
			}
		}
	}

	close(e.initialized)
	return e, nil
}

// Run drives the engine's command queue until ctx is done. Every public
// mutating method enqueues its work here so all tile/active-map
// mutations happen on a single goroutine.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmdCh:
			cmd.fn()
			close(cmd.done)
		}
	}
}

func (e *Engine) exec(fn func()) {
	done := make(chan struct{})
	e.cmdCh <- command{fn: fn, done: done}
	<-done
}

// MaxZoom returns the pyramid's highest zoom level.
func (e *Engine) MaxZoom() uint32 { return e.meta.MaxZoom() }

// Metadata returns the pyramid's parsed metadata, for callers (the debug
// HTTP server's metadata endpoint) that need the dimension/coordinate
// layout without going through a draw pass.
func (e *Engine) Metadata() *pyramid.Metadata { return e.meta }

// UpdateCamera recomputes the active tile set for a new camera position
// and dispatches chunk loads for any newly-visible, unpopulated tile.
// It returns immediately, doing nothing, if metadata has not resolved yet.
func (e *Engine) UpdateCamera(center geo.LngLat, zoom float64) {
	select {
	case <-e.initialized:
	default:
		return
	}

	var toLoad []pyramid.Key
	e.exec(func() {
		level := clampLevel(zoom, e.meta.MaxZoom())
		tx, ty := geo.LatLonToTileCoords(center, level)
		tileX := uint32(math.Floor(tx))
		tileY := uint32(math.Floor(ty))
		fracX := tx - math.Floor(tx)
		fracY := ty - math.Floor(ty)

		e.zoom = zoom
		e.level = level
		e.tileKey = pyramid.Key{X: tileX, Y: tileY, Z: level}
		e.fracX, e.fracY = fracX, fracY
		e.centerY = geo.MercatorYFromLat(center.Lat)

		active, err := viewport.Resolve(viewport.Input{
			TileKey:          e.tileKey,
			FracX:            fracX,
			FracY:            fracY,
			Zoom:             zoom,
			ViewportW:        e.viewportW,
			ViewportH:        e.viewportH,
			DevicePixelRatio: e.devicePixelRatio,
			OrderX:           e.orderX,
			OrderY:           e.orderY,
			Projection:       e.projection,
		})
		if err != nil {
			log.Printf("engine: viewport resolve failed: %v", err)
			return
		}
		e.active = active

		e.cameraInitOnce.Do(func() { close(e.cameraInitialized) })

		for key := range active {
			tile, ok := e.tiles[key]
			if !ok {
				continue
			}
			if e.tileNeedsLoad(tile) && !tile.IsLoadingChunks() {
				toLoad = append(toLoad, key)
			}
		}
	})

	if len(toLoad) == 0 {
		return
	}
	e.dispatchLoads(toLoad)
}

func clampLevel(zoom float64, maxZoom uint32) uint32 {
	if zoom < 0 {
		return 0
	}
	lvl := uint32(math.Floor(zoom))
	if lvl > maxZoom {
		return maxZoom
	}
	return lvl
}

// tileNeedsLoad reports whether any band of the current selector lacks a
// populated buffer on tile.
func (e *Engine) tileNeedsLoad(tile *pyramid.Tile) bool {
	for _, b := range e.currentBands() {
		if !tile.HasPopulatedBuffer(b.Name, e.selectorHash) {
			return true
		}
	}
	return false
}

func (e *Engine) currentBands() []pyramid.Band {
	bands := pyramid.GetBandInformation(e.selector)
	if len(bands) == 0 {
		return []pyramid.Band{{Name: e.meta.Variable}}
	}
	return bands
}

// dispatchLoads runs each tile's chunk load concurrently on its own
// goroutine and feeds every completion back through exec so the buffer
// commit happens on the run-loop goroutine. After all loads settle,
// invalidateRegion fires once if any tile received new data.
func (e *Engine) dispatchLoads(keys []pyramid.Key) {
	selectorAtDispatch := e.selectorVersion
	var wg sync.WaitGroup
	var anyNewData atomic.Bool

	for _, key := range keys {
		tile, ok := e.tiles[key]
		if !ok {
			continue
		}
		wg.Add(1)
		var chunkID uint64
		e.exec(func() { chunkID = e.loadingTracker.SetLoading(loadChunk) })
		go func(key pyramid.Key, tile *pyramid.Tile) {
			defer wg.Done()
			ctx := context.Background()
			sel := e.snapshotSelector()
			loadErr := tile.LoadChunks(ctx, sel)
			e.exec(func() {
				e.loadingTracker.ClearLoading(chunkID, false)
				if loadErr != nil {
					log.Printf("engine: chunk load failed for tile %s: %v", key, loadErr)
					return
				}
				if e.selectorVersion != selectorAtDispatch {
					return // stale selector, discard
				}
				buffers, err := tile.PopulateBuffersSync(e.selector)
				if err != nil {
					log.Printf("engine: %v", fmt.Errorf("%w: tile %s: %v", ErrSelectorInvalid, key, err))
					return
				}
				tile.CommitBuffers(e.selectorHash, buffers)
				anyNewData.Store(true)
			})
		}(key, tile)
	}

	go func() {
		wg.Wait()
		if anyNewData.Load() {
			e.exec(func() {
				if e.invalidateRegion != nil {
					e.invalidateRegion()
				}
			})
		}
	}()
}

// snapshotSelector is safe to call off the run-loop goroutine only
// because Selector values (and the maps backing them) are replaced
// wholesale, never mutated in place, by UpdateSelector.
func (e *Engine) snapshotSelector() pyramid.Selector { return e.selector }

// UpdateSelector installs a new selector and bumps the selector version
// so in-flight loads started under the old selector discard their result
// on completion.
func (e *Engine) UpdateSelector(sel pyramid.Selector) {
	e.exec(func() {
		e.selector = sel
		e.selectorVersion++
		e.selectorHash = sel.Hash()
		if e.invalidate != nil {
			e.invalidate()
		}
	})
}

// UniformUpdate is the set of scalar uniforms UpdateUniforms accepts.
type UniformUpdate struct {
	Display *bool
	Opacity *float64
	Clim    *[2]float64
	Custom  map[string]any
}

// UpdateUniforms applies a partial uniform update; opacity is forced to
// 0 whenever display is (or becomes) false.
func (e *Engine) UpdateUniforms(u UniformUpdate) {
	e.exec(func() {
		if u.Display != nil {
			e.display = *u.Display
		}
		if u.Clim != nil {
			e.clim = *u.Clim
		}
		if u.Opacity != nil {
			e.opacity = *u.Opacity
		}
		if !e.display {
			e.opacity = 0
		}
		if e.invalidate != nil {
			e.invalidate()
		}
	})
}

// UpdateColormap replaces the engine's colormap.
func (e *Engine) UpdateColormap(cm colormap.Colormap) {
	e.exec(func() {
		e.colormap = cm
		if e.invalidate != nil {
			e.invalidate()
		}
	})
}

// Snapshot is the consistent, synchronously-read state Draw/getProps
// needs so draw() observes a consistent snapshot.
type Snapshot struct {
	Active     map[pyramid.Key][]pyramid.Offset
	Colormap   colormap.Colormap
	Clim       [2]float64
	Opacity    float64
	Display    bool
	FillValue  float64
	Mode       Mode
	CenterY    float64
	Zoom       float64
}

// getProps applies the LOD policy to every active key, resolves adjusted
// offsets, and suppresses duplicate or ancestor-overlapped entries.
func (e *Engine) getProps() ([]DrawPass, Snapshot) {
	var passes []DrawPass
	var snap Snapshot

	e.exec(func() {
		snap = Snapshot{
			Active:    e.active,
			Colormap:  e.colormap,
			Clim:      e.clim,
			Opacity:   e.opacity,
			Display:   e.display,
			FillValue: e.fillValue,
			Mode:      e.mode,
			CenterY:   e.centerY,
			Zoom:      e.zoom,
		}

		type entry struct {
			key    pyramid.Key
			offset pyramid.Offset
		}
		var rendered []pyramid.Key
		seen := make(map[entry]bool)

		for key, offsets := range e.active {
			for _, offset := range offsets {
				keys := viewport.GetKeysToRender(key, func(k pyramid.Key) bool {
					t, ok := e.tiles[k]
					return ok && !e.tileNeedsLoad(t)
				}, e.meta.MaxZoom())

				for _, substitute := range keys {
					if _, overlapped := viewport.GetOverlappingAncestor(substitute, rendered); overlapped {
						continue
					}
					adjusted := viewport.GetAdjustedOffset(offset, substitute)
					ent := entry{key: substitute, offset: adjusted}
					if seen[ent] {
						continue
					}
					seen[ent] = true
					rendered = append(rendered, substitute)

					tile := e.tiles[substitute]
					attrs := make(map[string]*pyramid.Buffer)
					for _, band := range e.currentBands() {
						if buf, ok := e.tileBuffer(tile, band.Name); ok {
							attrs[band.Name] = buf
						}
					}
					passes = append(passes, DrawPass{
						Attributes: attrs,
						Level:      substitute.Z,
						Offset:     adjusted,
						Count:      e.meta.PixelsPerTile * e.meta.PixelsPerTile,
						Primitive:  PrimitiveTriangles,
					})
				}
			}
		}
	})
	return passes, snap
}

func (e *Engine) tileBuffer(tile *pyramid.Tile, bandName string) (*pyramid.Buffer, bool) {
	if tile == nil {
		return nil, false
	}
	return tile.Buffer(bandName, e.selectorHash)
}

// Draw computes the current draw passes and returns them alongside the
// snapshot state a renderer needs for its uniforms.
func (e *Engine) Draw() ([]DrawPass, Snapshot) {
	return e.getProps()
}

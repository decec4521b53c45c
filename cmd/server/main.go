// Package main is the entry point for the preview engine's debug HTTP
// server: it loads configuration, builds a single pyramid engine from a
// local zarr store, and serves tiles/region queries/live uniform updates
// over HTTP until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rasterpyramid/engine/internal/api"
	"github.com/rasterpyramid/engine/internal/cache"
	"github.com/rasterpyramid/engine/internal/config"
	"github.com/rasterpyramid/engine/internal/engine"
	"github.com/rasterpyramid/engine/internal/pyramid"
	"github.com/rasterpyramid/engine/internal/render"
	"github.com/rasterpyramid/engine/internal/store"
	"github.com/rasterpyramid/engine/pkg/colormap"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting preview engine server on port %d", cfg.Server.Port)

	ctx := context.Background()

	fsStore, err := store.NewFilesystemStore(store.Options{
		BasePath: cfg.Source.BasePath,
		Version:  cfg.Source.Version,
		Variable: cfg.Source.Variable,
		CRS:      cfg.Source.CRS,
	})
	if err != nil {
		log.Fatalf("Failed to initialize filesystem store: %v", err)
	}

	meta, err := fsStore.FetchMetadata(ctx)
	if err != nil {
		log.Fatalf("Failed to read pyramid metadata: %v", err)
	}
	log.Printf("Loaded pyramid %q: %d level(s), max zoom %d", meta.Variable, len(meta.Levels), meta.MaxZoom())

	chunkLRU, err := cache.NewChunkLRU(cfg.Cache.ChunkCacheBytes(), nil)
	if err != nil {
		log.Fatalf("Failed to initialize chunk cache: %v", err)
	}

	// Cache lookups are keyed by (level, chunk index) regardless of which
	// tile asked for it, so every tile sharing a chunk index at a level
	// hits the same cache entry — Wrap's tile argument only needs to stay
	// constant per level, not vary per tile.
	loaders := make(map[uint32]pyramid.ChunkLoader, len(meta.Levels))
	for _, lvl := range meta.Levels {
		loaders[lvl.Zoom] = chunkLRU.Wrap(pyramid.Key{Z: lvl.Zoom}, fsStore.Loader(lvl.Zoom))
	}

	previewCache, err := cache.NewPreviewCache(cache.PreviewConfig{
		SizeMB: cfg.Cache.PreviewCacheMB,
		TTL:    cfg.Cache.PreviewTTL(),
	})
	if err != nil {
		log.Fatalf("Failed to initialize preview cache: %v", err)
	}
	defer previewCache.Close()

	queryCache, err := cache.NewQueryCache(cfg.Cache.QueryCacheSize)
	if err != nil {
		log.Fatalf("Failed to initialize query cache: %v", err)
	}

	eng, err := engine.Construct(ctx, engine.Options{
		FetchMetadata: func(ctx context.Context) (*pyramid.Metadata, error) { return meta, nil },
		Loaders:       loaders,
		Clim:          [2]float64{cfg.Engine.ClimMin, cfg.Engine.ClimMax},
		Colormap:      colormap.ByName(cfg.Engine.Colormap),
		Opacity:       cfg.Engine.Opacity,
		Display:       true,
		Mode:          cfg.Engine.Mode,
		FillValue:     cfg.Engine.FillValue,
		Projection:    cfg.Engine.Projection,
		DevicePixelRatio: func() float64 {
			if cfg.Engine.DevicePixelRatio == 0 {
				return 1
			}
			return cfg.Engine.DevicePixelRatio
		}(),
	})
	if err != nil {
		log.Fatalf("Failed to construct engine: %v", err)
	}

	// Run must be driving the command queue before any exec-based method
	// (UpdateCamera, UpdateSelector, QueryRegion, ...) is called, or those
	// calls block forever waiting for the run loop.
	engineCtx, cancelEngine := context.WithCancel(ctx)
	defer cancelEngine()
	go eng.Run(engineCtx)

	tileRenderer := render.NewTileRenderer(render.Config{TileSize: meta.PixelsPerTile})

	jobManager, err := api.NewRegionJobManager(eng, api.JobManagerConfig{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		SQLitePath:    cfg.Jobs.SQLitePath,
		RetentionDays: cfg.Jobs.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	})
	if err != nil {
		log.Fatalf("Failed to initialize region job manager: %v", err)
	}
	log.Printf("Region job manager: max_concurrent=%d, retention_days=%d, sqlite=%s",
		cfg.Jobs.MaxConcurrent, cfg.Jobs.RetentionDays, cfg.Jobs.SQLitePath)
	jobManager.Start()
	defer jobManager.Stop()

	router := api.NewRouter(api.RouterConfig{
		Engine:       eng,
		Renderer:     tileRenderer,
		PreviewCache: previewCache,
		QueryCache:   queryCache,
		Jobs:         jobManager,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Defaults: api.Defaults{
			Colormap:  cfg.Engine.Colormap,
			Clim:      [2]float64{cfg.Engine.ClimMin, cfg.Engine.ClimMax},
			Opacity:   cfg.Engine.Opacity,
			FillValue: cfg.Engine.FillValue,
			Mode:      cfg.Engine.Mode,
		},
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

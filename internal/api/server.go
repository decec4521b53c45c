// Package api provides the debug HTTP server's handlers: pyramid
// metadata, ad-hoc tile previews, region queries, and live selector/camera
// updates against a running internal/engine.Engine. Uses a chi router;
// one pyramid per server instance.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rasterpyramid/engine/internal/cache"
	"github.com/rasterpyramid/engine/internal/engine"
	"github.com/rasterpyramid/engine/internal/render"
	"github.com/rasterpyramid/engine/pkg/colormap"
)

// Defaults seeds the Snapshot a tile-preview request uses when a query
// parameter is absent, mirroring the engine's own construction defaults
// (internal/config.EngineConfig) so an unparameterized preview request
// renders the same way the live engine would.
type Defaults struct {
	Colormap  string
	Clim      [2]float64
	Opacity   float64
	FillValue float64
	Mode      string
}

// Server holds the collaborators the debug HTTP handlers call into.
type Server struct {
	engine       *engine.Engine
	renderer     *render.TileRenderer
	previewCache *cache.PreviewCache
	queryCache   *cache.QueryCache
	jobs         *RegionJobManager
	defaults     Defaults
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Engine       *engine.Engine
	Renderer     *render.TileRenderer
	PreviewCache *cache.PreviewCache
	QueryCache   *cache.QueryCache
	Jobs         *RegionJobManager
	CORSOrigins  []string
	Defaults     Defaults
}

// NewRouter builds the debug HTTP server's chi.Mux.
func NewRouter(cfg RouterConfig) *chi.Mux {
	s := &Server{
		engine:       cfg.Engine,
		renderer:     cfg.Renderer,
		previewCache: cfg.PreviewCache,
		queryCache:   cfg.QueryCache,
		jobs:         cfg.Jobs,
		defaults:     cfg.Defaults,
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/metadata", s.metadataHandler)
	r.Get("/tiles/{z}/{x}/{y}.png", s.tileHandler)
	r.Get("/api/region", s.regionHandler)
	r.Post("/api/selector", s.selectorHandler)
	r.Post("/api/uniforms", s.uniformsHandler)
	r.Post("/api/camera", s.cameraHandler)

	if s.jobs != nil {
		r.Post("/api/region/jobs", s.submitRegionJobHandler)
		r.Get("/api/region/jobs/{job_id}", s.regionJobStatusHandler)
		r.Get("/api/region/jobs/{job_id}/result", s.regionJobResultHandler)
		r.Delete("/api/region/jobs/{job_id}", s.cancelRegionJobHandler)
	}

	return r
}

func resolveColormap(name string) colormap.Colormap {
	return colormap.ByName(name)
}

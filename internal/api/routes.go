package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rasterpyramid/engine/internal/cache"
	"github.com/rasterpyramid/engine/internal/engine"
	"github.com/rasterpyramid/engine/internal/geo"
	"github.com/rasterpyramid/engine/internal/pyramid"
	"github.com/rasterpyramid/engine/internal/regionjobs"
)

const requestTimeout = 30 * time.Second

// metadataHandler returns the pyramid's parsed metadata: dims, shape,
// zoom levels, CRS and variable, plus each non-spatial dimension's
// coordinate labels.
func (s *Server) metadataHandler(w http.ResponseWriter, r *http.Request) {
	meta := s.engine.Metadata()

	coords := make(map[string][]string, len(meta.Coords))
	for dim, axis := range meta.Coords {
		labels := make([]string, len(axis))
		for i, cv := range axis {
			labels[i] = cv.Str()
		}
		coords[dim] = labels
	}

	zooms := make([]uint32, len(meta.Levels))
	for i, lvl := range meta.Levels {
		zooms[i] = lvl.Zoom
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":         meta.Version,
		"variable":        meta.Variable,
		"crs":             meta.CRS,
		"pixels_per_tile": meta.PixelsPerTile,
		"dims":            meta.Dims,
		"shape":           meta.Shape,
		"zoom_levels":     zooms,
		"max_zoom":        meta.MaxZoom(),
		"coords":          coords,
	})
}

// tileHandler renders one (x, y, z) tile to PNG for an ad-hoc selector and
// render uniforms, the way an XYZ tile server addresses tiles — it does
// not depend on the engine's live camera position. Per-request query
// params can override the server's configured default colormap and clim.
func (s *Server) tileHandler(w http.ResponseWriter, r *http.Request) {
	z, errZ := strconv.ParseUint(chi.URLParam(r, "z"), 10, 32)
	x, errX := strconv.ParseUint(chi.URLParam(r, "x"), 10, 32)
	y, errY := strconv.ParseUint(chi.URLParam(r, "y"), 10, 32)
	if errZ != nil || errX != nil || errY != nil {
		http.Error(w, "invalid tile coordinates", http.StatusBadRequest)
		return
	}
	key := pyramid.Key{X: uint32(x), Y: uint32(y), Z: uint32(z)}

	q := r.URL.Query()
	sel, err := parseSelector(strings.TrimSpace(q.Get("selector")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	band := strings.TrimSpace(q.Get("band"))
	if band == "" {
		if bands := pyramid.GetBandInformation(sel); len(bands) > 0 {
			band = bands[0].Name
		} else {
			band = s.engine.Metadata().Variable
		}
	}

	colormapName := strings.TrimSpace(q.Get("colormap"))
	if colormapName == "" {
		colormapName = s.defaults.Colormap
	}
	clim := s.defaults.Clim
	if v, ok := parseQueryFloat(q, "clim_min"); ok {
		clim[0] = v
	}
	if v, ok := parseQueryFloat(q, "clim_max"); ok {
		clim[1] = v
	}
	opacity := s.defaults.Opacity
	if v, ok := parseQueryFloat(q, "opacity"); ok {
		opacity = v
	}
	fillValue := s.defaults.FillValue
	if v, ok := parseQueryFloat(q, "fill_value"); ok {
		fillValue = v
	}
	modeName := strings.TrimSpace(q.Get("mode"))
	if modeName == "" {
		modeName = s.defaults.Mode
	}
	mode, err := engine.ParseMode(modeName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	display := true
	if v := strings.TrimSpace(q.Get("display")); v != "" {
		display = v != "false" && v != "0"
	}

	cacheKey := fmt.Sprintf("%s|%s|%s|%.6f|%.6f|%.6f|%v|%v",
		cache.PreviewKey(key, sel.Hash()), band, colormapName, clim[0], clim[1], opacity, mode, display)
	if s.previewCache != nil {
		if data, ok := s.previewCache.Get(cacheKey); ok {
			writePNG(w, data)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	pass, err := s.engine.PreviewTile(ctx, key, sel)
	if err != nil {
		data, _ := s.renderer.EmptyTile()
		writePNG(w, data)
		return
	}

	snap := engine.Snapshot{
		Colormap:  resolveColormap(colormapName),
		Clim:      clim,
		Opacity:   opacity,
		Display:   display,
		FillValue: fillValue,
		Mode:      mode,
	}

	data, err := s.renderer.RenderPass(pass, band, snap)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.previewCache != nil {
		s.previewCache.Set(cacheKey, data)
	}
	writePNG(w, data)
}

// regionHandler answers a geodesic circle region query.
func (s *Server) regionHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, okLat := parseQueryFloat(q, "lat")
	lng, okLng := parseQueryFloat(q, "lng")
	radius, okRadius := parseQueryFloat(q, "radius")
	if !okLat || !okLng || !okRadius {
		http.Error(w, "lat, lng, and radius are required", http.StatusBadRequest)
		return
	}
	units := strings.TrimSpace(q.Get("units"))
	if units == "" {
		units = "kilometers"
	}

	sel, err := parseSelector(strings.TrimSpace(q.Get("selector")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	region, err := engine.NewRegion(geo.LngLat{Lat: lat, Lng: lng}, radius, units)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cacheKey := cache.RegionQueryKey(lat, lng, radius, units, sel.Hash())
	if s.queryCache != nil {
		if data, ok := s.queryCache.Get(cacheKey); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write(data)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := s.engine.QueryRegion(ctx, region, sel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if result == nil {
		http.Error(w, "region query superseded by a later query, retry", http.StatusConflict)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.queryCache != nil {
		s.queryCache.Set(cacheKey, data)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

type selectorRequest struct {
	Selector map[string]json.RawMessage `json:"selector"`
}

// selectorHandler installs a new global selector on the live engine.
func (s *Server) selectorHandler(w http.ResponseWriter, r *http.Request) {
	var req selectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	selJSON, err := json.Marshal(req.Selector)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sel, err := parseSelector(string(selJSON))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.engine.UpdateSelector(sel)
	writeJSON(w, http.StatusOK, map[string]interface{}{"selector_hash": sel.Hash()})
}

type uniformsRequest struct {
	Display  *bool       `json:"display"`
	Opacity  *float64    `json:"opacity"`
	Clim     *[2]float64 `json:"clim"`
	Colormap *string     `json:"colormap"`
}

// uniformsHandler applies a partial scalar-uniform update.
func (s *Server) uniformsHandler(w http.ResponseWriter, r *http.Request) {
	var req uniformsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.engine.UpdateUniforms(engine.UniformUpdate{
		Display: req.Display,
		Opacity: req.Opacity,
		Clim:    req.Clim,
	})
	if req.Colormap != nil {
		s.engine.UpdateColormap(resolveColormap(*req.Colormap))
	}

	w.WriteHeader(http.StatusNoContent)
}

type cameraRequest struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Zoom float64 `json:"zoom"`
}

// cameraHandler drives the engine's active-tile set, the way a real map
// camera's move/render events would via Engine.AttachCamera.
func (s *Server) cameraHandler(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.engine.UpdateCamera(geo.LngLat{Lat: req.Lat, Lng: req.Lng}, req.Zoom)
	w.WriteHeader(http.StatusNoContent)
}

type regionJobRequest struct {
	Lat      float64                    `json:"lat"`
	Lng      float64                    `json:"lng"`
	Radius   float64                    `json:"radius"`
	Units    string                     `json:"units"`
	Selector map[string]json.RawMessage `json:"selector"`
}

// submitRegionJobHandler enqueues a region query for asynchronous
// execution, for radii/zoom combinations too expensive to answer inline
// via regionHandler.
func (s *Server) submitRegionJobHandler(w http.ResponseWriter, r *http.Request) {
	var req regionJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Units == "" {
		req.Units = "kilometers"
	}

	selJSON, err := json.Marshal(req.Selector)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := parseSelector(string(selJSON)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := engine.NewRegion(geo.LngLat{Lat: req.Lat, Lng: req.Lng}, req.Radius, req.Units); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.jobs.Submit(regionjobs.Params{
		Lat:      req.Lat,
		Lng:      req.Lng,
		Radius:   req.Radius,
		Units:    req.Units,
		Selector: string(selJSON),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// regionJobStatusHandler reports a submitted job's lifecycle state.
func (s *Server) regionJobStatusHandler(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "job_id"))
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// regionJobResultHandler returns a completed job's RegionResult.
func (s *Server) regionJobResultHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job := s.jobs.Get(jobID)
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if job.Status != regionjobs.JobStatusCompleted {
		http.Error(w, "job has not completed", http.StatusConflict)
		return
	}
	data, err := s.jobs.Store().GetResult(jobID)
	if err != nil || data == nil {
		http.Error(w, "result not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// cancelRegionJobHandler cancels a queued or running job.
func (s *Server) cancelRegionJobHandler(w http.ResponseWriter, r *http.Request) {
	if !s.jobs.Cancel(chi.URLParam(r, "job_id")) {
		http.Error(w, "job not found or already finished", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseQueryFloat(q url.Values, key string) (float64, bool) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

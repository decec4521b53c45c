// Package config handles configuration loading for the preview engine's
// debug HTTP server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Source SourceConfig `yaml:"source"`
	Engine EngineConfig `yaml:"engine"`
	Cache  CacheConfig  `yaml:"cache"`
	Jobs   JobsConfig   `yaml:"jobs"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// SourceConfig locates the zarr pyramid on disk and names the variable to
// serve.
type SourceConfig struct {
	BasePath string `yaml:"base_path"`
	Version  int    `yaml:"zarr_version"` // 2 or 3
	Variable string `yaml:"variable"`
	CRS      string `yaml:"crs"`
}

// EngineConfig seeds the engine's initial uniform/mode state.
type EngineConfig struct {
	Mode             string  `yaml:"mode"` // texture, grid, dotgrid
	Colormap         string  `yaml:"colormap"`
	ClimMin          float64 `yaml:"clim_min"`
	ClimMax          float64 `yaml:"clim_max"`
	Opacity          float64 `yaml:"opacity"`
	FillValue        float64 `yaml:"fill_value"`
	Projection       string  `yaml:"projection"` // optional override; defaults from Source.CRS
	DevicePixelRatio float64 `yaml:"device_pixel_ratio"`
}

// CacheConfig sizes the caches in internal/cache.
type CacheConfig struct {
	ChunkCacheMB      int `yaml:"chunk_cache_mb"`
	PreviewCacheMB    int `yaml:"preview_cache_mb"`
	PreviewTTLMinutes int `yaml:"preview_ttl_minutes"`
	QueryCacheSize    int `yaml:"query_cache_size"`
}

// JobsConfig configures the asynchronous region-query job manager.
type JobsConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// PreviewTTL converts PreviewTTLMinutes to a time.Duration.
func (c CacheConfig) PreviewTTL() time.Duration {
	return time.Duration(c.PreviewTTLMinutes) * time.Minute
}

// ChunkCacheBytes converts ChunkCacheMB to a byte budget for
// cache.NewChunkLRU.
func (c CacheConfig) ChunkCacheBytes() int64 {
	return int64(c.ChunkCacheMB) * 1024 * 1024
}

// Load reads configuration from a YAML file, falling back to
// DefaultConfig if the file doesn't exist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Source: SourceConfig{
			BasePath: "./data/pyramid",
			Version:  3,
			Variable: "value",
			CRS:      "EPSG:3857",
		},
		Engine: EngineConfig{
			Mode:             "texture",
			Colormap:         "viridis",
			ClimMin:          0,
			ClimMax:          1,
			Opacity:          1,
			FillValue:        0,
			DevicePixelRatio: 1,
		},
		Cache: CacheConfig{
			ChunkCacheMB:      512,
			PreviewCacheMB:    256,
			PreviewTTLMinutes: 10,
			QueryCacheSize:    256,
		},
		Jobs: JobsConfig{
			MaxConcurrent: 2,
			SQLitePath:    "./data/region_jobs.sqlite",
			RetentionDays: 7,
		},
	}
}

func applyDefaults(cfg *Config) {
	d := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = d.Server.CORSOrigins
	}
	if cfg.Source.BasePath == "" {
		cfg.Source.BasePath = d.Source.BasePath
	}
	if cfg.Source.Version == 0 {
		cfg.Source.Version = d.Source.Version
	}
	if cfg.Source.Variable == "" {
		cfg.Source.Variable = d.Source.Variable
	}
	if cfg.Source.CRS == "" {
		cfg.Source.CRS = d.Source.CRS
	}
	if cfg.Engine.Mode == "" {
		cfg.Engine.Mode = d.Engine.Mode
	}
	if cfg.Engine.Colormap == "" {
		cfg.Engine.Colormap = d.Engine.Colormap
	}
	if cfg.Engine.ClimMin == 0 && cfg.Engine.ClimMax == 0 {
		cfg.Engine.ClimMin, cfg.Engine.ClimMax = d.Engine.ClimMin, d.Engine.ClimMax
	}
	if cfg.Engine.Opacity == 0 {
		cfg.Engine.Opacity = d.Engine.Opacity
	}
	if cfg.Engine.DevicePixelRatio == 0 {
		cfg.Engine.DevicePixelRatio = d.Engine.DevicePixelRatio
	}
	if cfg.Cache.ChunkCacheMB == 0 {
		cfg.Cache.ChunkCacheMB = d.Cache.ChunkCacheMB
	}
	if cfg.Cache.PreviewCacheMB == 0 {
		cfg.Cache.PreviewCacheMB = d.Cache.PreviewCacheMB
	}
	if cfg.Cache.PreviewTTLMinutes == 0 {
		cfg.Cache.PreviewTTLMinutes = d.Cache.PreviewTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = d.Cache.QueryCacheSize
	}
	if cfg.Jobs.MaxConcurrent == 0 {
		cfg.Jobs.MaxConcurrent = d.Jobs.MaxConcurrent
	}
	if cfg.Jobs.SQLitePath == "" {
		cfg.Jobs.SQLitePath = d.Jobs.SQLitePath
	}
	if cfg.Jobs.RetentionDays == 0 {
		cfg.Jobs.RetentionDays = d.Jobs.RetentionDays
	}
}

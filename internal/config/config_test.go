package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_AppliesGivenValues(t *testing.T) {
	content := `
server:
  port: 9000
source:
  base_path: "/data/pyramid/ocean"
  zarr_version: 2
  variable: "temperature"
engine:
  colormap: plasma
  clim_min: -5
  clim_max: 30
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Source.BasePath != "/data/pyramid/ocean" {
		t.Errorf("unexpected base_path: %s", cfg.Source.BasePath)
	}
	if cfg.Source.Version != 2 {
		t.Errorf("expected zarr_version 2, got %d", cfg.Source.Version)
	}
	if cfg.Engine.Colormap != "plasma" {
		t.Errorf("unexpected colormap: %s", cfg.Engine.Colormap)
	}
	if cfg.Engine.ClimMin != -5 || cfg.Engine.ClimMax != 30 {
		t.Errorf("unexpected clim: [%v, %v]", cfg.Engine.ClimMin, cfg.Engine.ClimMax)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
source:
  variable: "temperature"
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Source.Version != 3 {
		t.Errorf("expected default zarr version 3, got %d", cfg.Source.Version)
	}
	if cfg.Engine.Mode != "texture" {
		t.Errorf("expected default mode texture, got %q", cfg.Engine.Mode)
	}
	if cfg.Cache.ChunkCacheMB != 512 {
		t.Errorf("expected default chunk cache 512MB, got %d", cfg.Cache.ChunkCacheMB)
	}
	if cfg.Cache.PreviewTTL().Minutes() != 10 {
		t.Errorf("expected default preview TTL 10m, got %v", cfg.Cache.PreviewTTL())
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	want := DefaultConfig()
	if cfg.Server.Port != want.Server.Port {
		t.Errorf("expected default config, got port %d", cfg.Server.Port)
	}
}

func TestChunkCacheBytesConvertsMB(t *testing.T) {
	c := CacheConfig{ChunkCacheMB: 2}
	if got := c.ChunkCacheBytes(); got != 2*1024*1024 {
		t.Errorf("expected 2MiB in bytes, got %d", got)
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

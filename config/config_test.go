package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pressio/readerkit/manifest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reader.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	path := writeConfig(t, `
resolver:
  base_url: https://api.example.com
cache:
  max_entries: 4
render:
  quality: medium
  spread: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Resolver.BaseURL != "https://api.example.com" {
		t.Fatalf("base url = %q", cfg.Resolver.BaseURL)
	}
	if cfg.Cache.MaxEntries != 4 || cfg.Cache.MaxBytes != 100<<20 {
		t.Fatalf("cache = %+v", cfg.Cache)
	}
	if cfg.Quality() != manifest.QualityMedium || !cfg.Render.Spread {
		t.Fatalf("render = %+v", cfg.Render)
	}
	if cfg.Prefetch.Distance != 2 || cfg.Prefetch.Concurrency != 3 {
		t.Fatalf("prefetch defaults missing: %+v", cfg.Prefetch)
	}
	if cfg.Render.Watermark.Opacity != 0.08 || cfg.Render.Watermark.AngleDegrees != -30 {
		t.Fatalf("watermark defaults missing: %+v", cfg.Render.Watermark)
	}
	if cfg.ResolverTimeout() != 5*time.Second || cfg.AssetTTL() != 24*time.Hour {
		t.Fatalf("durations: %v %v", cfg.ResolverTimeout(), cfg.AssetTTL())
	}
}

func TestLoadRejectsUnknownQuality(t *testing.T) {
	path := writeConfig(t, "render:\n  quality: ultra\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown quality tier")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

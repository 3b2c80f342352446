// Package config loads reader settings from a YAML file and fills in the
// defaults the rest of the module expects.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pressio/readerkit/manifest"
)

// Config is the full settings tree for an embedding application.
type Config struct {
	Resolver   ResolverConfig   `yaml:"resolver"`
	Cache      CacheConfig      `yaml:"cache"`
	AssetCache AssetCacheConfig `yaml:"asset_cache"`
	Prefetch   PrefetchConfig   `yaml:"prefetch"`
	Render     RenderConfig     `yaml:"render"`
}

type ResolverConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type CacheConfig struct {
	MaxEntries int   `yaml:"max_entries"`
	MaxBytes   int64 `yaml:"max_bytes"`
}

type AssetCacheConfig struct {
	Dir      string `yaml:"dir"`
	TTLHours int    `yaml:"ttl_hours"`
}

type PrefetchConfig struct {
	Distance    int  `yaml:"distance"`
	Concurrency int  `yaml:"concurrency"`
	Disabled    bool `yaml:"disabled"`
}

type RenderConfig struct {
	Quality          string          `yaml:"quality"`
	Spread           bool            `yaml:"spread"`
	DevicePixelRatio float64         `yaml:"device_pixel_ratio"`
	ResultCacheSize  int             `yaml:"result_cache_size"`
	Watermark        WatermarkConfig `yaml:"watermark"`
}

type WatermarkConfig struct {
	Opacity      float64 `yaml:"opacity"`
	AngleDegrees float64 `yaml:"angle_degrees"`
	FontSize     float64 `yaml:"font_size"`
}

// Default returns the settings used when no file is supplied.
func Default() Config {
	return Config{
		Resolver:   ResolverConfig{TimeoutSeconds: 5},
		Cache:      CacheConfig{MaxEntries: 10, MaxBytes: 100 << 20},
		AssetCache: AssetCacheConfig{TTLHours: 24},
		Prefetch:   PrefetchConfig{Distance: 2, Concurrency: 3},
		Render: RenderConfig{
			Quality:          string(manifest.QualityHigh),
			DevicePixelRatio: 1,
			ResultCacheSize:  6,
			Watermark:        WatermarkConfig{Opacity: 0.08, AngleDegrees: -30, FontSize: 13},
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults restores defaults for fields an explicit file zeroed out or
// omitted.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Resolver.TimeoutSeconds <= 0 {
		c.Resolver.TimeoutSeconds = d.Resolver.TimeoutSeconds
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = d.Cache.MaxEntries
	}
	if c.Cache.MaxBytes <= 0 {
		c.Cache.MaxBytes = d.Cache.MaxBytes
	}
	if c.AssetCache.TTLHours <= 0 {
		c.AssetCache.TTLHours = d.AssetCache.TTLHours
	}
	if c.Prefetch.Distance <= 0 {
		c.Prefetch.Distance = d.Prefetch.Distance
	}
	if c.Prefetch.Concurrency <= 0 {
		c.Prefetch.Concurrency = d.Prefetch.Concurrency
	}
	if c.Render.Quality == "" {
		c.Render.Quality = d.Render.Quality
	}
	if c.Render.DevicePixelRatio <= 0 {
		c.Render.DevicePixelRatio = d.Render.DevicePixelRatio
	}
	if c.Render.ResultCacheSize <= 0 {
		c.Render.ResultCacheSize = d.Render.ResultCacheSize
	}
	if c.Render.Watermark.Opacity <= 0 {
		c.Render.Watermark.Opacity = d.Render.Watermark.Opacity
	}
	if c.Render.Watermark.FontSize <= 0 {
		c.Render.Watermark.FontSize = d.Render.Watermark.FontSize
	}
	if c.Render.Watermark.AngleDegrees == 0 {
		c.Render.Watermark.AngleDegrees = d.Render.Watermark.AngleDegrees
	}
}

// Validate rejects settings the reader cannot run with.
func (c *Config) Validate() error {
	switch manifest.Quality(c.Render.Quality) {
	case manifest.QualityLow, manifest.QualityMedium, manifest.QualityHigh:
	default:
		return fmt.Errorf("config: unknown quality %q", c.Render.Quality)
	}
	if c.Render.Watermark.Opacity > 1 {
		return fmt.Errorf("config: watermark opacity %v out of (0,1]", c.Render.Watermark.Opacity)
	}
	return nil
}

// Quality returns the render quality as a manifest tier.
func (c *Config) Quality() manifest.Quality { return manifest.Quality(c.Render.Quality) }

// ResolverTimeout returns the resolver timeout as a duration.
func (c *Config) ResolverTimeout() time.Duration {
	return time.Duration(c.Resolver.TimeoutSeconds) * time.Second
}

// AssetTTL returns the asset cache lifetime as a duration.
func (c *Config) AssetTTL() time.Duration {
	return time.Duration(c.AssetCache.TTLHours) * time.Hour
}

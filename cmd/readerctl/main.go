// readerctl exercises the reader pipeline from the command line: resolving
// editions, rendering pages to PNG files, and warming the image cache.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pressio/readerkit/cache"
	"github.com/pressio/readerkit/config"
	"github.com/pressio/readerkit/manifest"
	"github.com/pressio/readerkit/prefetch"
	"github.com/pressio/readerkit/queue"
	"github.com/pressio/readerkit/render"
	"github.com/pressio/readerkit/source"
)

func main() {
	app := &cli.App{
		Name:  "readerctl",
		Usage: "drive the newspaper reader pipeline from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML settings file"},
		},
		Commands: []*cli.Command{
			{
				Name:   "resolve",
				Usage:  "exchange an access token for an edition manifest",
				Action: resolveAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Usage: "resolver base URL (overrides config)"},
					&cli.StringFlag{Name: "token", Required: true, Usage: "reader access token"},
					&cli.StringFlag{Name: "edition", Usage: "edition id (latest when omitted)"},
					&cli.StringFlag{Name: "device", Usage: "device fingerprint"},
				},
			},
			{
				Name:   "render",
				Usage:  "render a page (or spread) of a manifest to a PNG file",
				Action: renderAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "manifest", Required: true, Usage: "edition manifest JSON file"},
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.BoolFlag{Name: "spread"},
					&cli.Float64Flag{Name: "zoom", Value: 1},
					&cli.IntFlag{Name: "rotate", Usage: "rotation in degrees (right angles)"},
					&cli.Float64Flag{Name: "width", Value: 1024, Usage: "container width"},
					&cli.Float64Flag{Name: "height", Value: 768, Usage: "container height"},
					&cli.StringFlag{Name: "out", Value: ".", Usage: "output directory"},
					&cli.StringFlag{Name: "subscriber", Value: "Preview", Usage: "watermark subscriber name"},
				},
			},
			{
				Name:   "warm",
				Usage:  "run a prefetch pass around a page and print cache stats",
				Action: warmAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "manifest", Required: true, Usage: "edition manifest JSON file"},
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.IntFlag{Name: "distance", Value: 2},
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadSettings(c *cli.Context) (config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.Default(), nil
}

func resolveAction(c *cli.Context) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	baseURL := cfg.Resolver.BaseURL
	if u := c.String("url"); u != "" {
		baseURL = u
	}
	client, err := manifest.NewClient(manifest.ClientConfig{
		BaseURL: baseURL,
		Timeout: cfg.ResolverTimeout(),
	})
	if err != nil {
		return err
	}
	man, err := client.Resolve(context.Background(), manifest.ResolveRequest{
		AccessToken:       c.String("token"),
		EditionID:         c.String("edition"),
		DeviceFingerprint: c.String("device"),
	})
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(man)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func loadManifest(path string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var man manifest.Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := man.Normalize(); err != nil {
		return nil, err
	}
	return &man, nil
}

func newTileSource(cfg config.Config, man *manifest.Manifest) (*source.TileSource, error) {
	var assets *source.AssetCache
	if cfg.AssetCache.Dir != "" {
		var err error
		assets, err = source.NewAssetCache(cfg.AssetCache.Dir, cfg.AssetTTL())
		if err != nil {
			return nil, err
		}
	}
	return source.NewTileSource(man, source.TileConfig{AssetCache: assets})
}

func renderAction(c *cli.Context) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	man, err := loadManifest(c.String("manifest"))
	if err != nil {
		return err
	}
	src, err := newTileSource(cfg, man)
	if err != nil {
		return err
	}

	engine := render.NewEngine(render.EngineConfig{
		Cache: cache.New(cache.Config{
			MaxEntries: cfg.Cache.MaxEntries,
			MaxBytes:   cfg.Cache.MaxBytes,
		}),
	})
	engine.SetSource(src, render.WatermarkConfig{
		SubscriberName:   c.String("subscriber"),
		SubscriberNumber: man.SubscriberNumber,
		Opacity:          cfg.Render.Watermark.Opacity,
		AngleDegrees:     cfg.Render.Watermark.AngleDegrees,
		FontSize:         cfg.Render.Watermark.FontSize,
	})
	defer engine.Close()

	plan, err := engine.ComputePlan(render.PlanRequest{
		Page:             c.Int("page"),
		RotationDegrees:  c.Int("rotate"),
		Zoom:             c.Float64("zoom"),
		ContainerWidth:   c.Float64("width"),
		ContainerHeight:  c.Float64("height"),
		DevicePixelRatio: cfg.Render.DevicePixelRatio,
		Quality:          cfg.Quality(),
		Spread:           c.Bool("spread"),
	})
	if err != nil {
		return err
	}
	if plan == nil {
		return fmt.Errorf("container %vx%v cannot fit a page", c.Float64("width"), c.Float64("height"))
	}

	q := queue.New(engine, queue.Config{ResultCacheSize: cfg.Render.ResultCacheSize})
	defer q.Close()

	outPath := filepath.Join(c.String("out"), fmt.Sprintf("%s-p%d.png", man.EditionID, plan.PrimaryPage))
	done := make(chan error, 1)
	q.Enqueue(plan, func(r queue.Result) {
		switch {
		case r.Err != nil:
			done <- r.Err
		case r.Cancelled || r.Surface == nil:
			done <- fmt.Errorf("render did not complete")
		default:
			done <- savePNG(outPath, r)
		}
	})
	if err := <-done; err != nil {
		return err
	}
	fmt.Printf("rendered pages %v -> %s\n", plan.Pages, outPath)
	return nil
}

// savePNG encodes the surface while the queue still guarantees it is live.
func savePNG(path string, r queue.Result) error {
	img, err := r.Surface.Image()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func warmAction(c *cli.Context) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	man, err := loadManifest(c.String("manifest"))
	if err != nil {
		return err
	}
	src, err := newTileSource(cfg, man)
	if err != nil {
		return err
	}
	defer src.Close()

	images := cache.New(cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.Cache.MaxBytes,
	})
	defer images.Clear()

	sched := prefetch.New(prefetch.Config{
		Cache:            images,
		Fetcher:          src,
		Concurrency:      cfg.Prefetch.Concurrency,
		Distance:         c.Int("distance"),
		DevicePixelRatio: cfg.Render.DevicePixelRatio,
	})
	sched.Update(c.Int("page"), man.PageCount(), cfg.Quality())

	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		st := sched.Stats()
		if st.Completed+st.Failed+st.Aborted >= st.Scheduled {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	sched.Stop()

	st := sched.Stats()
	cst := images.Stats()
	fmt.Printf("prefetch: scheduled=%d completed=%d failed=%d\n", st.Scheduled, st.Completed, st.Failed)
	fmt.Printf("cache: entries=%d bytes=%d evictions=%d\n", cst.Size, cst.TotalBytes, cst.Evictions)
	return nil
}

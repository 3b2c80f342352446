package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/pressio/readerkit/cache"
	"github.com/pressio/readerkit/observability"
	"github.com/pressio/readerkit/raster"
	"github.com/pressio/readerkit/source"
)

// ErrNoDocument is returned when rendering is attempted with no open edition.
var ErrNoDocument = errors.New("render: no document source open")

// EngineConfig configures an Engine. A nil cache gets default budgets.
type EngineConfig struct {
	Cache  *cache.ImageCache
	Logger observability.Logger
	Tracer observability.Tracer
}

// Engine executes render plans. It owns the active document source: exactly
// one source is live at a time, replaced (and the old one closed, the image
// cache cleared) when the edition changes.
type Engine struct {
	mu        sync.Mutex
	src       source.PageSource
	watermark WatermarkConfig

	cache  *cache.ImageCache
	log    observability.Logger
	tracer observability.Tracer
}

// NewEngine builds an engine around the shared image cache.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Cache == nil {
		cfg.Cache = cache.New(cache.Config{})
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	return &Engine{cache: cfg.Cache, log: cfg.Logger, tracer: cfg.Tracer}
}

// Cache exposes the engine's image cache so the prefetch scheduler can warm
// it.
func (e *Engine) Cache() *cache.ImageCache { return e.cache }

// SetSource installs the document source for a newly opened edition. The
// previous source is closed and all cached pages for it are released. An
// empty watermark session id gets a fresh one.
func (e *Engine) SetSource(src source.PageSource, wm WatermarkConfig) {
	if wm.SessionID == "" {
		wm.SessionID = uuid.NewString()
	}
	e.mu.Lock()
	old := e.src
	e.src = src
	e.watermark = wm
	e.mu.Unlock()

	e.cache.Clear()
	if old != nil {
		if err := old.Close(); err != nil {
			e.log.Warn("closing previous document source", observability.Error("err", err))
		}
	}
}

// Close releases the document source and every cached page.
func (e *Engine) Close() error {
	e.mu.Lock()
	old := e.src
	e.src = nil
	e.mu.Unlock()

	e.cache.Clear()
	if old != nil {
		return old.Close()
	}
	return nil
}

func (e *Engine) currentSource() source.PageSource {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

// PageCount returns the open edition's page count, or zero with no edition.
func (e *Engine) PageCount() int {
	if src := e.currentSource(); src != nil {
		return src.PageCount()
	}
	return 0
}

// ComputePlan builds a plan for the current document. A degenerate container
// yields (nil, nil).
func (e *Engine) ComputePlan(req PlanRequest) (*Plan, error) {
	src := e.currentSource()
	if src == nil {
		return nil, ErrNoDocument
	}
	return ComputePlan(req, src.PageCount(), src.PageSize)
}

// Execute renders the plan into a fresh composited surface. Cancellation is
// cooperative: the context is checked before each page, so an abort costs at
// most one page of drawing. A context error is propagated unwrapped so
// callers can distinguish cancellation from failure.
func (e *Engine) Execute(ctx context.Context, plan *Plan) (*raster.Bitmap, error) {
	if plan == nil {
		return nil, errors.New("render: nil plan")
	}
	src := e.currentSource()
	if src == nil {
		return nil, ErrNoDocument
	}

	ctx, span := e.tracer.StartSpan(ctx, "render.execute")
	defer span.Finish()
	span.SetTag("fingerprint", plan.Fingerprint())
	start := time.Now()

	dpr := plan.DevicePixelRatio
	surface := image.NewRGBA(image.Rect(0, 0,
		pixels(plan.SurfaceWidth, dpr), pixels(plan.SurfaceHeight, dpr)))

	for _, pl := range plan.Layout {
		if err := ctx.Err(); err != nil {
			span.SetError(err)
			return nil, err
		}
		if err := e.drawPage(ctx, src, surface, plan, pl); err != nil {
			span.SetError(err)
			return nil, err
		}
	}

	e.log.Debug("render complete",
		observability.String("fingerprint", plan.Fingerprint()),
		observability.Int("pages", len(plan.Pages)),
		observability.Int64("duration_ms", time.Since(start).Milliseconds()))

	out := raster.New(surface, dpr)
	out.DisplayWidth = plan.SurfaceWidth
	out.DisplayHeight = plan.SurfaceHeight
	return out, nil
}

// drawPage composites one page into its layout rect and watermarks it. The
// cache handle is consumed synchronously; if another goroutine evicted it
// between lookup and use, the page is fetched again.
func (e *Engine) drawPage(ctx context.Context, src source.PageSource, surface *image.RGBA, plan *Plan, pl PageLayout) error {
	dpr := plan.DevicePixelRatio
	target := image.Rect(
		pixels(pl.X, dpr), pixels(pl.Y, dpr),
		pixels(pl.X+pl.W, dpr), pixels(pl.Y+pl.H, dpr))

	var img *image.RGBA
	if bm := e.cache.Get(pl.Page, plan.Quality); bm != nil {
		if cached, err := bm.Image(); err == nil {
			img = cached
		}
	}
	if img == nil {
		bm, err := src.FetchPage(ctx, pl.Page, plan.Quality, dpr)
		if err != nil {
			return fmt.Errorf("render: fetch page %d: %w", pl.Page, err)
		}
		fetched, err := bm.Image()
		if err != nil {
			return fmt.Errorf("render: page %d: %w", pl.Page, err)
		}
		img = fetched
		defer e.cache.Set(pl.Page, plan.Quality, bm, 0)
	}

	if plan.RotationDegrees%360 != 0 {
		img = raster.Rotate(img, plan.RotationDegrees)
	}
	draw.CatmullRom.Scale(surface, target, img, img.Bounds(), draw.Src, nil)

	if err := applyWatermark(surface, target, e.watermark, pl.Page, dpr); err != nil {
		return err
	}
	return nil
}

func pixels(logical, dpr float64) int {
	return int(logical*dpr + 0.5)
}

package reader

import (
	"errors"
	"sync"

	"github.com/pressio/readerkit/cache"
	"github.com/pressio/readerkit/coords"
	"github.com/pressio/readerkit/manifest"
	"github.com/pressio/readerkit/observability"
	"github.com/pressio/readerkit/prefetch"
	"github.com/pressio/readerkit/queue"
	"github.com/pressio/readerkit/render"
	"github.com/pressio/readerkit/source"
)

// Config configures a Controller. Engine is required; everything else has
// working defaults.
type Config struct {
	Engine *render.Engine

	Quality          manifest.Quality
	Spread           bool
	DevicePixelRatio float64

	PrefetchDistance    int
	PrefetchConcurrency int
	ResultCacheSize     int

	// OnRender receives the outcome of every render request, on the render
	// goroutine. Surfaces must be consumed synchronously inside the callback.
	OnRender queue.Callback

	Logger observability.Logger
}

// Controller drives the reader: it owns the state machine, the render
// queue, and the prefetch scheduler, and exposes the imperative controls the
// hosting shell calls. All methods are safe for concurrent use.
type Controller struct {
	engine *render.Engine
	queue  *queue.Serializer
	log    observability.Logger

	quality  manifest.Quality
	dpr      float64
	onRender queue.Callback

	prefetchDistance    int
	prefetchConcurrency int

	mu          sync.Mutex
	state       State
	man         *manifest.Manifest
	articles    []manifest.Article
	articlePage map[string]int
	sched       *prefetch.Scheduler
	lastPlan    *render.Plan

	containerWidth  float64
	containerHeight float64
}

// NewController wires a controller around an engine. The engine's image
// cache is shared with the prefetch scheduler created on Open.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Engine == nil {
		return nil, errors.New("reader: Config.Engine is required")
	}
	if cfg.Quality == "" {
		cfg.Quality = manifest.QualityHigh
	}
	if cfg.DevicePixelRatio <= 0 {
		cfg.DevicePixelRatio = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	c := &Controller{
		engine:              cfg.Engine,
		log:                 cfg.Logger,
		quality:             cfg.Quality,
		dpr:                 cfg.DevicePixelRatio,
		onRender:            cfg.OnRender,
		prefetchDistance:    cfg.PrefetchDistance,
		prefetchConcurrency: cfg.PrefetchConcurrency,
		state:               NewState(),
	}
	c.state.Spread = cfg.Spread
	c.queue = queue.New(cfg.Engine, queue.Config{
		ResultCacheSize: cfg.ResultCacheSize,
		Logger:          cfg.Logger,
	})
	return c, nil
}

// Open installs a resolved edition: the page source becomes the engine's
// active document, the state machine goes ready, and the first page render
// plus its prefetch window are kicked off.
func (c *Controller) Open(src source.PageSource, man *manifest.Manifest, articles []manifest.Article, wm render.WatermarkConfig) error {
	if src == nil {
		return errors.New("reader: nil page source")
	}
	if src.PageCount() < 1 {
		return errors.New("reader: edition has no pages")
	}

	c.engine.SetSource(src, wm)
	c.queue.InvalidateResults()

	c.mu.Lock()
	if c.sched != nil {
		old := c.sched
		c.mu.Unlock()
		old.Stop()
		c.mu.Lock()
	}
	spread := c.state.Spread
	c.state.Reset()
	c.state.Spread = spread
	c.state.SetReady(src.PageCount())

	c.man = man
	c.articles = manifest.FilterArticles(articles)
	c.articlePage = make(map[string]int, len(c.articles))
	for _, a := range c.articles {
		if _, seen := c.articlePage[a.ID]; !seen {
			c.articlePage[a.ID] = a.PageNumber
		}
	}
	c.sched = prefetch.New(prefetch.Config{
		Cache:            c.engine.Cache(),
		Fetcher:          src,
		Concurrency:      c.prefetchConcurrency,
		Distance:         c.prefetchDistance,
		DevicePixelRatio: c.dpr,
		Logger:           c.log,
	})
	c.requestRenderLocked()
	c.mu.Unlock()
	return nil
}

// Fail puts the reader into its terminal error state, surfacing an access
// denial's server-supplied reason verbatim.
func (c *Controller) Fail(err error) {
	msg := "edition failed to load"
	var denied *manifest.AccessError
	switch {
	case errors.As(err, &denied):
		msg = denied.Reason
	case err != nil:
		msg = err.Error()
	}
	c.mu.Lock()
	c.state.SetError(msg)
	c.mu.Unlock()
	c.log.Error("reader entered error state", observability.String("reason", msg))
}

// SetViewport records the container's logical size and re-renders to fit.
func (c *Controller) SetViewport(width, height float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.containerWidth = width
	c.containerHeight = height
	c.requestRenderLocked()
}

// GoToPage navigates to page n, clamped to the edition's bounds.
func (c *Controller) GoToPage(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusReady {
		return
	}
	c.state.SetPage(n)
	c.requestRenderLocked()
}

// NextPage advances one navigational unit (a whole spread in facing-pages
// mode).
func (c *Controller) NextPage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusReady || !canGoNext(c.state.CurrentPage, c.state.TotalPages, c.state.Spread) {
		return
	}
	c.state.SetPage(nextPageTarget(c.state.CurrentPage, c.state.TotalPages, c.state.Spread))
	c.requestRenderLocked()
}

// PreviousPage steps back one navigational unit.
func (c *Controller) PreviousPage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusReady || !canGoPrevious(c.state.CurrentPage, c.state.TotalPages, c.state.Spread) {
		return
	}
	c.state.SetPage(previousPageTarget(c.state.CurrentPage, c.state.TotalPages, c.state.Spread))
	c.requestRenderLocked()
}

// SetZoom applies a clamped zoom factor.
func (c *Controller) SetZoom(z float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusReady {
		return
	}
	c.state.SetZoom(z)
	c.requestRenderLocked()
}

// ZoomIn raises zoom by step (DefaultZoomStep when step <= 0).
func (c *Controller) ZoomIn(step float64) {
	if step <= 0 {
		step = DefaultZoomStep
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusReady {
		return
	}
	c.state.SetZoom(c.state.Zoom + step)
	c.requestRenderLocked()
}

// ZoomOut lowers zoom by step (DefaultZoomStep when step <= 0).
func (c *Controller) ZoomOut(step float64) {
	if step <= 0 {
		step = DefaultZoomStep
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusReady {
		return
	}
	c.state.SetZoom(c.state.Zoom - step)
	c.requestRenderLocked()
}

// SetRotation rotates the view to an exact right angle.
func (c *Controller) SetRotation(degrees int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusReady || degrees%90 != 0 {
		return
	}
	c.state.RotationDegrees = ((degrees % 360) + 360) % 360
	c.requestRenderLocked()
}

// ToggleFullscreen flips the fullscreen chrome flag. It does not affect the
// render plan; the shell follows up with SetViewport.
func (c *Controller) ToggleFullscreen() {
	c.mu.Lock()
	c.state.Fullscreen = !c.state.Fullscreen
	c.mu.Unlock()
}

// ToggleTOC flips the table-of-contents panel flag.
func (c *Controller) ToggleTOC() {
	c.mu.Lock()
	c.state.TOCOpen = !c.state.TOCOpen
	c.mu.Unlock()
}

// SetSpread switches between single-page and facing-pages layout.
func (c *Controller) SetSpread(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Spread == on {
		return
	}
	c.state.SetSpread(on)
	c.requestRenderLocked()
}

// EnterArticleMode switches to the article overlay. With an empty id it
// falls back to the last active article, then to the first hotspot of the
// pages currently on screen.
func (c *Controller) EnterArticleMode(articleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusReady {
		return
	}
	if articleID == "" {
		articleID = c.state.ActiveArticleID
	}
	if articleID == "" {
		articleID = c.firstHotspotArticleLocked()
	}
	if articleID == "" {
		return
	}
	c.state.SetActiveArticle(articleID)
	c.state.SetMode(ModeArticle)
}

// ExitArticleMode returns to the page view, navigating back to the active
// article's originating page when it is known.
func (c *Controller) ExitArticleMode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Mode != ModeArticle {
		return
	}
	c.state.SetMode(ModePage)
	if page, ok := c.articlePage[c.state.ActiveArticleID]; ok {
		c.state.SetPage(page)
		c.requestRenderLocked()
	}
}

// ActiveArticle returns the article currently shown in the overlay.
func (c *Controller) ActiveArticle() (manifest.Article, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.articles {
		if a.ID == c.state.ActiveArticleID {
			return a, true
		}
	}
	return manifest.Article{}, false
}

// Hotspots positions the clickable regions for the most recently planned
// render.
func (c *Controller) Hotspots() []OverlayHotspot {
	c.mu.Lock()
	plan, man := c.lastPlan, c.man
	c.mu.Unlock()
	return OverlayHotspots(plan, man)
}

// Activate hit-tests a point in surface logical coordinates and, on a hotspot,
// enters article mode for its article.
func (c *Controller) Activate(p coords.Point) bool {
	id, ok := HitTest(c.Hotspots(), p)
	if !ok {
		return false
	}
	c.EnterArticleMode(id)
	return true
}

// TOC lists the edition's articles grouped by page.
func (c *Controller) TOC() []TOCEntry {
	c.mu.Lock()
	articles := c.articles
	c.mu.Unlock()
	return BuildTOC(articles)
}

// Snapshot returns the current chrome view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// SetPrefetchEnabled toggles background cache warming.
func (c *Controller) SetPrefetchEnabled(on bool) {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched != nil {
		sched.SetEnabled(on)
	}
}

// CacheStats exposes the shared image cache counters.
func (c *Controller) CacheStats() cache.Stats { return c.engine.Cache().Stats() }

// QueueStats exposes the render queue counters.
func (c *Controller) QueueStats() queue.Stats { return c.queue.Stats() }

// PrefetchStats exposes the scheduler counters for the open edition.
func (c *Controller) PrefetchStats() prefetch.Stats {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched == nil {
		return prefetch.Stats{}
	}
	return sched.Stats()
}

// Close tears the reader down: prefetch stops, the queue drains and drops
// its result cache, and the engine releases the document handle and every
// cached surface.
func (c *Controller) Close() error {
	c.mu.Lock()
	sched := c.sched
	c.sched = nil
	c.state.Reset()
	c.lastPlan = nil
	c.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	c.queue.Close()
	return c.engine.Close()
}

// requestRenderLocked turns the current state into a plan and hands it to
// the queue; identical plans are suppressed by fingerprint downstream. The
// prefetch window follows the new current page.
func (c *Controller) requestRenderLocked() {
	if c.state.Status != StatusReady || c.containerWidth <= 0 || c.containerHeight <= 0 {
		return
	}
	plan, err := c.engine.ComputePlan(render.PlanRequest{
		Page:             c.state.CurrentPage,
		RotationDegrees:  c.state.RotationDegrees,
		Zoom:             c.state.Zoom,
		ContainerWidth:   c.containerWidth,
		ContainerHeight:  c.containerHeight,
		DevicePixelRatio: c.dpr,
		Quality:          c.quality,
		Spread:           c.state.Spread,
	})
	if err != nil {
		c.log.Warn("plan computation failed",
			observability.Int("page", c.state.CurrentPage),
			observability.Error("err", err))
		return
	}
	if plan == nil {
		return
	}
	c.lastPlan = plan
	c.queue.Enqueue(plan, c.handleResult)
	if c.sched != nil {
		c.sched.Update(c.state.CurrentPage, c.state.TotalPages, c.quality)
	}
}

// handleResult runs on the render goroutine for every queue outcome.
func (c *Controller) handleResult(r queue.Result) {
	switch {
	case r.Err != nil:
		// The previous frame stays on screen; the queue is already
		// ready for the next navigation.
		c.log.Warn("render failed",
			observability.Int("page", r.Plan.PrimaryPage),
			observability.Error("err", r.Err))
	case r.Cancelled:
		c.log.Debug("render superseded", observability.Int("page", r.Plan.PrimaryPage))
	}
	if c.onRender != nil {
		c.onRender(r)
	}
}

// firstHotspotArticleLocked scans the pages on screen for the first usable
// hotspot, in layout order.
func (c *Controller) firstHotspotArticleLocked() string {
	if c.man == nil {
		return ""
	}
	pages := []int{c.state.CurrentPage}
	if c.state.Spread {
		pages = render.SpreadPages(c.state.CurrentPage, c.state.TotalPages)
	}
	for _, n := range pages {
		page, ok := c.man.PageByNumber(n)
		if !ok {
			continue
		}
		for _, h := range manifest.FilterHotspots(page.Hotspots) {
			if h.ArticleID != "" {
				return h.ArticleID
			}
		}
	}
	return ""
}

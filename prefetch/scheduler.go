package prefetch

import (
	"context"
	"sync"

	"github.com/pressio/readerkit/cache"
	"github.com/pressio/readerkit/manifest"
	"github.com/pressio/readerkit/observability"
	"github.com/pressio/readerkit/raster"
)

const (
	DefaultConcurrency = 3
	DefaultDistance    = 2
)

// Fetcher is the slice of the page source the scheduler needs.
// source.PageSource satisfies it.
type Fetcher interface {
	FetchPage(ctx context.Context, n int, q manifest.Quality, dpr float64) (*raster.Bitmap, error)
}

// Config configures a Scheduler. Cache and Fetcher are required.
type Config struct {
	Cache   *cache.ImageCache
	Fetcher Fetcher

	// Concurrency bounds simultaneous loads. Default 3.
	Concurrency int

	// Distance is how many pages either side of current to warm. Default 2.
	Distance int

	DevicePixelRatio float64
	Logger           observability.Logger
}

// Stats is a snapshot of scheduler activity.
type Stats struct {
	Scheduled int64
	Completed int64
	Aborted   int64
	Failed    int64
}

type flight struct {
	cancel context.CancelFunc
}

// Scheduler owns background cache warming. Prefetch is best-effort: it never
// blocks a primary render, and every failure is swallowed after logging.
type Scheduler struct {
	cache   *cache.ImageCache
	fetcher Fetcher
	log     observability.Logger

	concurrency int
	distance    int
	dpr         float64

	mu       sync.Mutex
	enabled  bool
	closed   bool
	inflight map[cache.Key]*flight
	sem      chan struct{}
	wg       sync.WaitGroup

	stats Stats
}

// New builds a Scheduler. It starts enabled.
func New(cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Distance <= 0 {
		cfg.Distance = DefaultDistance
	}
	if cfg.DevicePixelRatio <= 0 {
		cfg.DevicePixelRatio = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Scheduler{
		cache:       cfg.Cache,
		fetcher:     cfg.Fetcher,
		log:         cfg.Logger,
		concurrency: cfg.Concurrency,
		distance:    cfg.Distance,
		dpr:         cfg.DevicePixelRatio,
		enabled:     true,
		inflight:    make(map[cache.Key]*flight),
		sem:         make(chan struct{}, cfg.Concurrency),
	}
}

// SetEnabled toggles prefetching. Disabling aborts all in-flight fetches.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	if !enabled {
		for key, f := range s.inflight {
			f.cancel()
			delete(s.inflight, key)
		}
	}
	s.mu.Unlock()
	s.log.Debug("prefetch toggled", observability.Bool("enabled", enabled))
}

// Update recomputes the preload window for the new current page and launches
// fetches for pages not already resident or in flight. In-flight fetches
// whose target fell out of the window are aborted through their own
// cancellation signal.
func (s *Scheduler) Update(current, total int, q manifest.Quality) {
	tasks := ComputeTasks(current, total, s.distance, q)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.enabled {
		return
	}

	wanted := make(map[cache.Key]bool, len(tasks))
	for _, t := range tasks {
		wanted[cache.Key{Page: t.Page, Quality: t.Quality}] = true
	}
	for key, f := range s.inflight {
		if !wanted[key] {
			f.cancel()
			delete(s.inflight, key)
			s.stats.Aborted++
		}
	}

	for _, t := range tasks {
		key := cache.Key{Page: t.Page, Quality: t.Quality}
		if s.cache.Has(t.Page, t.Quality) {
			continue
		}
		if _, running := s.inflight[key]; running {
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		f := &flight{cancel: cancel}
		s.inflight[key] = f
		s.stats.Scheduled++
		s.wg.Add(1)
		go s.load(ctx, key, f, t)
	}
}

// load runs one preload task. Failures are isolated: they are logged and
// never affect sibling tasks or the reader.
func (s *Scheduler) load(ctx context.Context, key cache.Key, f *flight, t Task) {
	defer s.wg.Done()
	defer s.finish(key, f)

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return
	}
	if ctx.Err() != nil {
		return
	}

	bm, err := s.fetcher.FetchPage(ctx, t.Page, t.Quality, s.dpr)
	if err != nil {
		if ctx.Err() == nil {
			s.mu.Lock()
			s.stats.Failed++
			s.mu.Unlock()
			s.log.Warn("prefetch failed",
				observability.Int("page", t.Page),
				observability.String("quality", string(t.Quality)),
				observability.String("priority", t.Priority.String()),
				observability.Error("err", err))
		}
		return
	}
	if ctx.Err() != nil {
		// Aborted after the fetch finished; do not install a page the
		// reader has navigated away from.
		bm.Release()
		return
	}
	s.cache.Set(t.Page, t.Quality, bm, 0)
	s.mu.Lock()
	s.stats.Completed++
	s.mu.Unlock()
	s.log.Debug("prefetched page",
		observability.Int("page", t.Page),
		observability.String("priority", t.Priority.String()))
}

func (s *Scheduler) finish(key cache.Key, f *flight) {
	s.mu.Lock()
	if s.inflight[key] == f {
		delete(s.inflight, key)
	}
	s.mu.Unlock()
}

// Stop aborts every in-flight fetch and waits for the workers to exit. The
// scheduler accepts no further updates.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	for key, f := range s.inflight {
		f.cancel()
		delete(s.inflight, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Package queue serializes render work: at most one render is ever in
// flight, a newer request replaces anything still waiting, and the
// superseded in-flight render is cancelled cooperatively. Completed surfaces
// are retained in a small result cache keyed by plan fingerprint.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/pressio/readerkit/observability"
	"github.com/pressio/readerkit/raster"
	"github.com/pressio/readerkit/render"
)

const (
	DefaultResultCacheSize = 6
	defaultDPRTolerance    = 0.01
)

// Result reports the outcome of an enqueued render. Exactly one of the
// outcome fields applies: a surface on success, Cancelled when a newer
// request superseded this one, or Err on failure. On failure the caller
// keeps whatever surface it last displayed.
type Result struct {
	Plan    *render.Plan
	Surface *raster.Bitmap // owned by the queue's result cache; consume synchronously

	// FromCache marks a surface served from the result cache without any
	// drawing work.
	FromCache bool

	// Suppressed marks a request whose fingerprint matches the render
	// already on screen; nothing was drawn and no surface is attached.
	Suppressed bool

	Cancelled bool
	Err       error
}

// Callback receives the outcome of a render request. It runs outside the
// queue's lock, on the render goroutine.
type Callback func(Result)

// Config configures a Serializer.
type Config struct {
	ResultCacheSize int
	DPRTolerance    float64
	Logger          observability.Logger
}

// Stats is a snapshot of queue activity.
type Stats struct {
	Completed       int64
	Cancelled       int64
	Failed          int64
	Suppressed      int64
	ResultCacheHits int64
}

type task struct {
	plan   *render.Plan
	cb     Callback
	cancel context.CancelFunc
}

// Serializer owns the render pipeline ordering guarantees. All methods are
// safe for concurrent use.
type Serializer struct {
	engine *render.Engine
	log    observability.Logger

	mu       sync.Mutex
	inflight *task
	pending  *task
	lastFP   string
	results  *resultCache
	closed   bool
	wg       sync.WaitGroup

	stats Stats
}

// New builds a Serializer over the engine.
func New(engine *render.Engine, cfg Config) *Serializer {
	if cfg.ResultCacheSize <= 0 {
		cfg.ResultCacheSize = DefaultResultCacheSize
	}
	if cfg.DPRTolerance <= 0 {
		cfg.DPRTolerance = defaultDPRTolerance
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Serializer{
		engine:  engine,
		log:     cfg.Logger,
		results: newResultCache(cfg.ResultCacheSize, cfg.DPRTolerance),
	}
}

// Enqueue requests a render of plan. If a render is in flight it is asked to
// cancel and plan takes the single pending slot, displacing (with a
// cancelled outcome) whatever was waiting there. Identical plans are
// suppressed or served from the result cache without drawing.
func (s *Serializer) Enqueue(plan *render.Plan, cb Callback) {
	if plan == nil {
		return
	}
	if cb == nil {
		cb = func(Result) {}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cb(Result{Plan: plan, Err: errors.New("queue: serializer closed")})
		return
	}

	fp := plan.Fingerprint()
	if surface, ok := s.results.get(fp, plan.DevicePixelRatio); ok {
		s.stats.ResultCacheHits++
		s.lastFP = fp
		s.mu.Unlock()
		cb(Result{Plan: plan, Surface: surface, FromCache: true})
		return
	}
	if fp == s.lastFP && s.inflight == nil && s.pending == nil {
		s.stats.Suppressed++
		s.mu.Unlock()
		cb(Result{Plan: plan, Suppressed: true})
		return
	}

	t := &task{plan: plan, cb: cb}
	if s.inflight != nil {
		displaced := s.pending
		s.pending = t
		s.inflight.cancel()
		if displaced != nil {
			s.stats.Cancelled++
		}
		s.mu.Unlock()
		if displaced != nil {
			displaced.cb(Result{Plan: displaced.plan, Cancelled: true})
		}
		return
	}
	s.startLocked(t)
	s.mu.Unlock()
}

// startLocked launches t as the in-flight render. Caller holds s.mu.
func (s *Serializer) startLocked(t *task) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	s.inflight = t
	s.wg.Add(1)
	go s.run(ctx, t)
}

func (s *Serializer) run(ctx context.Context, t *task) {
	defer s.wg.Done()
	surface, err := s.engine.Execute(ctx, t.plan)

	s.mu.Lock()
	s.inflight = nil
	var result Result
	switch {
	case err == nil && ctx.Err() != nil:
		// Superseded after the last cooperative checkpoint; never report
		// a stale render as success.
		surface.Release()
		s.stats.Cancelled++
		result = Result{Plan: t.plan, Cancelled: true}
	case err == nil:
		s.lastFP = t.plan.Fingerprint()
		s.results.put(t.plan.Fingerprint(), surface, t.plan.DevicePixelRatio)
		s.stats.Completed++
		result = Result{Plan: t.plan, Surface: surface}
	case errors.Is(err, context.Canceled):
		s.stats.Cancelled++
		result = Result{Plan: t.plan, Cancelled: true}
	default:
		s.stats.Failed++
		result = Result{Plan: t.plan, Err: err}
		s.log.Error("render failed",
			observability.String("fingerprint", t.plan.Fingerprint()),
			observability.Error("err", err))
	}

	next := s.pending
	s.pending = nil
	if next != nil && !s.closed {
		s.startLocked(next)
	}
	s.mu.Unlock()

	t.cb(result)
}

// Cancel aborts the in-flight render and drops any pending request. Both
// receive a cancelled outcome, never an error.
func (s *Serializer) Cancel() {
	s.mu.Lock()
	if s.inflight != nil {
		s.inflight.cancel()
	}
	displaced := s.pending
	s.pending = nil
	if displaced != nil {
		s.stats.Cancelled++
	}
	s.mu.Unlock()

	if displaced != nil {
		displaced.cb(Result{Plan: displaced.plan, Cancelled: true})
	}
}

// InvalidateResults drops every cached surface, e.g. on edition change.
func (s *Serializer) InvalidateResults() {
	s.mu.Lock()
	s.results.clear()
	s.lastFP = ""
	s.mu.Unlock()
}

// Close cancels outstanding work, waits for the in-flight render to wind
// down, and releases the result cache. The serializer accepts no further
// requests.
func (s *Serializer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Cancel()
	s.wg.Wait()
	s.mu.Lock()
	s.results.clear()
	s.lastFP = ""
	s.mu.Unlock()
}

// Stats returns a snapshot of queue counters.
func (s *Serializer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Package cache holds decoded page bitmaps under strict count and byte
// budgets. Eviction is least-recently-used and releases the underlying pixel
// buffer synchronously; the cache is the sole owner of every resident handle.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/pressio/readerkit/manifest"
	"github.com/pressio/readerkit/observability"
	"github.com/pressio/readerkit/raster"
)

const (
	DefaultMaxEntries = 10
	DefaultMaxBytes   = 100 << 20
)

// Key identifies one cached image: an exact (page, quality) pair.
type Key struct {
	Page    int
	Quality manifest.Quality
}

// Config configures an ImageCache. Zero values select defaults.
type Config struct {
	MaxEntries int
	MaxBytes   int64
	Logger     observability.Logger
	Now        func() time.Time
}

type entry struct {
	key         Key
	bitmap      *raster.Bitmap
	sizeBytes   int64
	lastAccess  time.Time
	accessCount int64
	elem        *list.Element
}

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Size       int
	TotalBytes int64
	Hits       int64
	Misses     int64
	Evictions  int64
}

// HitRate returns hits over lookups, or zero before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ImageCache is an LRU cache of decoded page bitmaps shared by the prefetch
// scheduler and the render engine. All methods are safe for concurrent use.
type ImageCache struct {
	mu         sync.Mutex
	entries    map[Key]*entry
	order      *list.List // front = least recently used
	totalBytes int64

	maxEntries int
	maxBytes   int64
	log        observability.Logger
	now        func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

// New builds an ImageCache with the given budgets.
func New(cfg Config) *ImageCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ImageCache{
		entries:    make(map[Key]*entry),
		order:      list.New(),
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		log:        cfg.Logger,
		now:        cfg.Now,
	}
}

// Get returns the bitmap for an exact (page, quality) match, updating its
// recency. The handle stays owned by the cache and may be released by a later
// eviction; callers must consume it synchronously or fetch again.
func (c *ImageCache) Get(page int, q manifest.Quality) *raster.Bitmap {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[Key{Page: page, Quality: q}]
	if !ok {
		c.misses++
		return nil
	}
	c.hits++
	e.accessCount++
	e.lastAccess = c.now()
	c.order.MoveToBack(e.elem)
	return e.bitmap
}

// Has reports residency without touching recency or hit counters.
func (c *ImageCache) Has(page int, q manifest.Quality) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[Key{Page: page, Quality: q}]
	return ok
}

// Set installs a bitmap under (page, quality), taking ownership of it. An
// existing entry under the same key is released before the new one is
// installed. Budgets are enforced immediately after insertion.
func (c *ImageCache) Set(page int, q manifest.Quality, bm *raster.Bitmap, sizeBytes int64) {
	if bm == nil {
		return
	}
	if sizeBytes <= 0 {
		sizeBytes = bm.SizeBytes()
	}
	key := Key{Page: page, Quality: q}

	c.mu.Lock()
	var released []*raster.Bitmap
	if old, ok := c.entries[key]; ok {
		released = append(released, old.bitmap)
		c.totalBytes -= old.sizeBytes
		c.order.Remove(old.elem)
		delete(c.entries, key)
	}

	e := &entry{key: key, bitmap: bm, sizeBytes: sizeBytes, lastAccess: c.now()}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e
	c.totalBytes += sizeBytes

	released = append(released, c.enforceBudgetsLocked()...)
	c.mu.Unlock()

	for _, old := range released {
		old.Release()
	}
}

// Remove drops a single entry, releasing its bitmap.
func (c *ImageCache) Remove(page int, q manifest.Quality) {
	c.mu.Lock()
	e, ok := c.entries[Key{Page: page, Quality: q}]
	if ok {
		c.removeLocked(e)
	}
	c.mu.Unlock()
	if ok {
		e.bitmap.Release()
	}
}

// Clear releases every resident bitmap. Must be called when the edition
// changes or the reader unmounts.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	dropped := make([]*raster.Bitmap, 0, len(c.entries))
	for _, e := range c.entries {
		dropped = append(dropped, e.bitmap)
	}
	hitRate := Stats{Hits: c.hits, Misses: c.misses}.HitRate()
	c.entries = make(map[Key]*entry)
	c.order.Init()
	c.totalBytes = 0
	c.mu.Unlock()

	for _, bm := range dropped {
		bm.Release()
	}
	c.log.Debug("image cache cleared",
		observability.Int("released", len(dropped)),
		observability.Float64("hit_rate", hitRate))
}

// Stats returns a snapshot of the cache counters.
func (c *ImageCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:       len(c.entries),
		TotalBytes: c.totalBytes,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
}

// enforceBudgetsLocked evicts LRU entries until both budgets hold and returns
// the bitmaps to release once the lock is dropped. An oversized single entry
// stays resident (it was just inserted) but is first in line next time.
func (c *ImageCache) enforceBudgetsLocked() []*raster.Bitmap {
	var dropped []*raster.Bitmap
	for len(c.entries) > 1 && (len(c.entries) > c.maxEntries || c.totalBytes > c.maxBytes) {
		front := c.order.Front()
		if front == nil {
			break
		}
		e := front.Value.(*entry)
		c.removeLocked(e)
		c.evictions++
		dropped = append(dropped, e.bitmap)
		c.log.Debug("evicted page image",
			observability.Int("page", e.key.Page),
			observability.String("quality", string(e.key.Quality)),
			observability.Int64("bytes", e.sizeBytes))
	}
	return dropped
}

func (c *ImageCache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
	c.totalBytes -= e.sizeBytes
}

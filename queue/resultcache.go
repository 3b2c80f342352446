package queue

import (
	"container/list"
	"math"

	"github.com/pressio/readerkit/raster"
)

// resultCache keeps a handful of fully composited surfaces keyed by plan
// fingerprint, so revisiting a recent (page, zoom, rotation) combination
// skips decode, composite and watermark work entirely. Evicted surfaces are
// released; the cache owns every resident handle.
type resultCache struct {
	max     int
	dprTol  float64
	entries map[string]*resultEntry
	order   *list.List // front = least recently used
}

type resultEntry struct {
	fingerprint string
	surface     *raster.Bitmap
	dpr         float64
	elem        *list.Element
}

func newResultCache(max int, dprTol float64) *resultCache {
	return &resultCache{
		max:     max,
		dprTol:  dprTol,
		entries: make(map[string]*resultEntry),
		order:   list.New(),
	}
}

// get returns the cached surface when the fingerprint matches and the device
// pixel ratio is within tolerance. The surface stays owned by the cache.
func (c *resultCache) get(fingerprint string, dpr float64) (*raster.Bitmap, bool) {
	e, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	if math.Abs(e.dpr-dpr) > c.dprTol {
		return nil, false
	}
	c.order.MoveToBack(e.elem)
	return e.surface, true
}

// put installs a surface, taking ownership. A previous surface under the
// same fingerprint is released.
func (c *resultCache) put(fingerprint string, surface *raster.Bitmap, dpr float64) {
	if old, ok := c.entries[fingerprint]; ok {
		c.order.Remove(old.elem)
		delete(c.entries, fingerprint)
		old.surface.Release()
	}
	e := &resultEntry{fingerprint: fingerprint, surface: surface, dpr: dpr}
	e.elem = c.order.PushBack(e)
	c.entries[fingerprint] = e

	for len(c.entries) > c.max {
		front := c.order.Front()
		if front == nil {
			break
		}
		victim := front.Value.(*resultEntry)
		c.order.Remove(victim.elem)
		delete(c.entries, victim.fingerprint)
		victim.surface.Release()
	}
}

func (c *resultCache) clear() {
	for _, e := range c.entries {
		e.surface.Release()
	}
	c.entries = make(map[string]*resultEntry)
	c.order.Init()
}

func (c *resultCache) len() int { return len(c.entries) }

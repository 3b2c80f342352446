package cache

import (
	"image"
	"testing"

	"github.com/pressio/readerkit/manifest"
	"github.com/pressio/readerkit/raster"
)

func newBitmap(t *testing.T, w, h int) *raster.Bitmap {
	t.Helper()
	return raster.New(image.NewRGBA(image.Rect(0, 0, w, h)), 1)
}

func TestBudgetsHoldAfterEverySet(t *testing.T) {
	c := New(Config{MaxEntries: 3, MaxBytes: 3 * 16 * 16 * 4})
	for page := 1; page <= 20; page++ {
		c.Set(page, manifest.QualityHigh, newBitmap(t, 16, 16), 0)
		s := c.Stats()
		if s.Size > 3 {
			t.Fatalf("after set %d: %d entries resident, budget 3", page, s.Size)
		}
		if s.TotalBytes > 3*16*16*4 {
			t.Fatalf("after set %d: %d bytes resident, budget %d", page, s.TotalBytes, 3*16*16*4)
		}
	}
}

func TestLRUOrderEviction(t *testing.T) {
	c := New(Config{MaxEntries: 3})
	c.Set(1, manifest.QualityHigh, newBitmap(t, 4, 4), 0) // A
	c.Set(2, manifest.QualityHigh, newBitmap(t, 4, 4), 0) // B
	c.Set(3, manifest.QualityHigh, newBitmap(t, 4, 4), 0) // C
	if c.Get(1, manifest.QualityHigh) == nil {            // touch A
		t.Fatalf("expected hit for page 1")
	}
	c.Set(4, manifest.QualityHigh, newBitmap(t, 4, 4), 0) // D evicts B

	if c.Has(2, manifest.QualityHigh) {
		t.Fatalf("page 2 should have been evicted (least recently used)")
	}
	for _, page := range []int{1, 3, 4} {
		if !c.Has(page, manifest.QualityHigh) {
			t.Fatalf("page %d should be resident", page)
		}
	}
}

func TestTwoEntryCacheEvictsLRU(t *testing.T) {
	c := New(Config{MaxEntries: 2})
	c.Set(1, manifest.QualityHigh, newBitmap(t, 4, 4), 0)
	c.Set(2, manifest.QualityHigh, newBitmap(t, 4, 4), 0)
	if c.Get(1, manifest.QualityHigh) == nil {
		t.Fatalf("expected hit for page 1")
	}
	c.Set(3, manifest.QualityHigh, newBitmap(t, 4, 4), 0)

	if c.Has(2, manifest.QualityHigh) {
		t.Fatalf("page 2 should be evicted")
	}
	if !c.Has(1, manifest.QualityHigh) || !c.Has(3, manifest.QualityHigh) {
		t.Fatalf("pages 1 and 3 should remain resident")
	}
}

func TestEvictionReleasesBitmap(t *testing.T) {
	c := New(Config{MaxEntries: 1})
	first := newBitmap(t, 4, 4)
	c.Set(1, manifest.QualityHigh, first, 0)
	c.Set(2, manifest.QualityHigh, newBitmap(t, 4, 4), 0)
	if !first.Released() {
		t.Fatalf("evicted bitmap must be released synchronously")
	}
	if c.Stats().Evictions != 1 {
		t.Fatalf("eviction count = %d, want 1", c.Stats().Evictions)
	}
}

func TestReplaceReleasesOldHandle(t *testing.T) {
	c := New(Config{})
	old := newBitmap(t, 4, 4)
	c.Set(1, manifest.QualityHigh, old, 0)
	fresh := newBitmap(t, 4, 4)
	c.Set(1, manifest.QualityHigh, fresh, 0)

	if !old.Released() {
		t.Fatalf("replaced bitmap must be released")
	}
	if fresh.Released() {
		t.Fatalf("fresh bitmap must stay live")
	}
	if s := c.Stats(); s.Size != 1 {
		t.Fatalf("expected single entry after replace, got %d", s.Size)
	}
}

func TestExactMatchOnly(t *testing.T) {
	c := New(Config{})
	c.Set(1, manifest.QualityHigh, newBitmap(t, 4, 4), 0)
	if c.Get(1, manifest.QualityLow) != nil {
		t.Fatalf("quality mismatch must be a miss")
	}
	if c.Get(2, manifest.QualityHigh) != nil {
		t.Fatalf("page mismatch must be a miss")
	}
}

func TestClearReleasesEverything(t *testing.T) {
	c := New(Config{})
	bitmaps := make([]*raster.Bitmap, 0, 3)
	for page := 1; page <= 3; page++ {
		bm := newBitmap(t, 4, 4)
		bitmaps = append(bitmaps, bm)
		c.Set(page, manifest.QualityHigh, bm, 0)
	}
	c.Clear()
	for i, bm := range bitmaps {
		if !bm.Released() {
			t.Fatalf("bitmap %d not released on clear", i)
		}
	}
	if s := c.Stats(); s.Size != 0 || s.TotalBytes != 0 {
		t.Fatalf("cache not empty after clear: %+v", s)
	}
}

func TestOversizedEntryStaysResident(t *testing.T) {
	c := New(Config{MaxEntries: 5, MaxBytes: 100})
	big := newBitmap(t, 32, 32) // 4096 bytes, over budget on its own
	c.Set(1, manifest.QualityHigh, big, 0)
	if !c.Has(1, manifest.QualityHigh) {
		t.Fatalf("oversized single entry must still be served")
	}
	// The next insert pushes the oversized entry out first.
	c.Set(2, manifest.QualityHigh, newBitmap(t, 2, 2), 0)
	if c.Has(1, manifest.QualityHigh) {
		t.Fatalf("oversized entry should be first out")
	}
	if !big.Released() {
		t.Fatalf("oversized entry not released on eviction")
	}
}

func TestHitRate(t *testing.T) {
	c := New(Config{})
	c.Set(1, manifest.QualityHigh, newBitmap(t, 4, 4), 0)
	c.Get(1, manifest.QualityHigh)
	c.Get(9, manifest.QualityHigh)
	if hr := c.Stats().HitRate(); hr != 0.5 {
		t.Fatalf("hit rate = %v, want 0.5", hr)
	}
}

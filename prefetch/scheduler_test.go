package prefetch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pressio/readerkit/cache"
	"github.com/pressio/readerkit/manifest"
	"github.com/pressio/readerkit/source"
)

func newWarmCache(t *testing.T) *cache.ImageCache {
	t.Helper()
	return cache.New(cache.Config{MaxEntries: 32})
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSchedulerWarmsWindow(t *testing.T) {
	c := newWarmCache(t)
	defer c.Clear()
	src := source.NewMemorySource(10, 100, 150)
	s := New(Config{Cache: c, Fetcher: src, Distance: 2})
	defer s.Stop()

	s.Update(5, 10, manifest.QualityHigh)

	waitUntil(t, "window warm", func() bool {
		for n := 3; n <= 7; n++ {
			if !c.Has(n, manifest.QualityHigh) {
				return false
			}
		}
		return true
	})
	for n := 8; n <= 10; n++ {
		if c.Has(n, manifest.QualityHigh) {
			t.Fatalf("page %d outside the window was prefetched", n)
		}
	}
	if st := s.Stats(); st.Completed != 5 || st.Scheduled != 5 {
		t.Fatalf("stats = %+v, want 5 scheduled and completed", st)
	}
}

func TestSchedulerSkipsResidentPages(t *testing.T) {
	c := newWarmCache(t)
	defer c.Clear()
	src := source.NewMemorySource(10, 100, 150)

	bm, err := src.FetchPage(context.Background(), 5, manifest.QualityHigh, 1)
	if err != nil {
		t.Fatal(err)
	}
	c.Set(5, manifest.QualityHigh, bm, 0)

	var fetched [11]atomic.Int32
	src.FetchHook = func(ctx context.Context, n int, q manifest.Quality) error {
		fetched[n].Add(1)
		return nil
	}

	s := New(Config{Cache: c, Fetcher: src, Distance: 2})
	defer s.Stop()
	s.Update(5, 10, manifest.QualityHigh)

	waitUntil(t, "neighbours warm", func() bool {
		return s.Stats().Completed == 4
	})
	if n := fetched[5].Load(); n != 0 {
		t.Fatalf("resident page 5 fetched %d times", n)
	}
	for _, page := range []int{3, 4, 6, 7} {
		if fetched[page].Load() != 1 {
			t.Fatalf("page %d fetched %d times, want 1", page, fetched[page].Load())
		}
	}
}

func TestSchedulerAbortsOutOfWindowFetches(t *testing.T) {
	c := newWarmCache(t)
	defer c.Clear()
	src := source.NewMemorySource(20, 100, 150)

	var started atomic.Int32
	src.FetchHook = func(ctx context.Context, n int, q manifest.Quality) error {
		started.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}

	s := New(Config{Cache: c, Fetcher: src, Distance: 2, Concurrency: 8})
	defer s.Stop()

	s.Update(10, 20, manifest.QualityHigh)
	waitUntil(t, "fetches parked", func() bool { return started.Load() == 5 })

	// Jump far away; the whole old window is out of range.
	s.Update(1, 20, manifest.QualityHigh)

	waitUntil(t, "old window aborted", func() bool { return s.Stats().Aborted == 5 })
	if st := s.Stats(); st.Failed != 0 {
		t.Fatalf("aborted fetches counted as failures: %+v", st)
	}
	for n := 8; n <= 12; n++ {
		if c.Has(n, manifest.QualityHigh) {
			t.Fatalf("aborted page %d landed in the cache", n)
		}
	}
}

func TestSchedulerIsolatesFailures(t *testing.T) {
	c := newWarmCache(t)
	defer c.Clear()
	src := source.NewMemorySource(10, 100, 150)
	src.FetchHook = func(ctx context.Context, n int, q manifest.Quality) error {
		if n == 4 {
			return fmt.Errorf("page 4 unavailable")
		}
		return nil
	}

	s := New(Config{Cache: c, Fetcher: src, Distance: 2})
	defer s.Stop()
	s.Update(5, 10, manifest.QualityHigh)

	waitUntil(t, "siblings warm", func() bool {
		st := s.Stats()
		return st.Completed == 4 && st.Failed == 1
	})
	if c.Has(4, manifest.QualityHigh) {
		t.Fatal("failed page present in cache")
	}
	for _, page := range []int{3, 5, 6, 7} {
		if !c.Has(page, manifest.QualityHigh) {
			t.Fatalf("sibling page %d missing from cache", page)
		}
	}
}

func TestSchedulerDisableAbortsAndMutes(t *testing.T) {
	c := newWarmCache(t)
	defer c.Clear()
	src := source.NewMemorySource(10, 100, 150)

	parked := make(chan struct{}, 8)
	src.FetchHook = func(ctx context.Context, n int, q manifest.Quality) error {
		parked <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}

	s := New(Config{Cache: c, Fetcher: src, Distance: 1, Concurrency: 4})
	defer s.Stop()

	s.Update(5, 10, manifest.QualityHigh)
	<-parked

	s.SetEnabled(false)
	s.Update(2, 10, manifest.QualityHigh)

	if st := s.Stats(); st.Scheduled != 3 {
		t.Fatalf("updates accepted while disabled: %+v", st)
	}
	if c.Has(2, manifest.QualityHigh) {
		t.Fatal("disabled scheduler warmed a page")
	}
}

func TestSchedulerStopWaitsForWorkers(t *testing.T) {
	c := newWarmCache(t)
	defer c.Clear()
	src := source.NewMemorySource(10, 100, 150)

	parked := make(chan struct{}, 3)
	var exited atomic.Bool
	src.FetchHook = func(ctx context.Context, n int, q manifest.Quality) error {
		parked <- struct{}{}
		<-ctx.Done()
		exited.Store(true)
		return ctx.Err()
	}

	s := New(Config{Cache: c, Fetcher: src, Distance: 1, Concurrency: 1})
	s.Update(5, 10, manifest.QualityHigh)
	<-parked
	s.Stop()

	if !exited.Load() {
		t.Fatal("Stop returned before workers exited")
	}
	s.Update(6, 10, manifest.QualityHigh)
	if st := s.Stats(); st.Scheduled != 3 {
		t.Fatalf("stopped scheduler accepted work: %+v", st)
	}
}

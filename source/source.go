// Package source provides the page-image backend behind the render engine.
// The engine only sees the PageSource interface; the concrete backend here
// fetches pre-rendered page tiles listed in the edition manifest.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pressio/readerkit/manifest"
	"github.com/pressio/readerkit/observability"
	"github.com/pressio/readerkit/raster"
)

// ErrClosed is returned by a source whose document handle has been released.
var ErrClosed = errors.New("source: document handle closed")

// PageSource supplies decoded page bitmaps. Implementations own any network
// or file handles they need; Close releases them and invalidates the source.
type PageSource interface {
	// PageCount returns the number of pages in the open edition.
	PageCount() int

	// PageSize returns page n's natural (unscaled) size in logical units.
	PageSize(n int) (w, h float64, err error)

	// FetchPage fetches and decodes page n at the given quality tier. The
	// returned bitmap is owned by the caller. The fetch honors ctx for
	// cancellation and deadline.
	FetchPage(ctx context.Context, n int, q manifest.Quality, dpr float64) (*raster.Bitmap, error)

	Close() error
}

// TileConfig configures a tile-backed source. Zero values select defaults.
type TileConfig struct {
	HTTPClient   *http.Client
	FetchTimeout time.Duration
	AssetCache   *AssetCache // optional on-disk asset cache
	Logger       observability.Logger

	// MaxAssetBytes bounds a single fetched asset. Default 32MB.
	MaxAssetBytes int64
}

// TileSource serves pages from quality-tiered image URLs in a manifest.
type TileSource struct {
	mu     sync.Mutex
	closed bool

	man    *manifest.Manifest
	http   *http.Client
	assets *AssetCache
	log    observability.Logger

	timeout  time.Duration
	maxBytes int64
}

// NewTileSource opens a tile source over a normalized manifest.
func NewTileSource(man *manifest.Manifest, cfg TileConfig) (*TileSource, error) {
	if man == nil || man.PageCount() == 0 {
		return nil, errors.New("source: manifest with pages required")
	}
	s := &TileSource{
		man:      man,
		http:     cfg.HTTPClient,
		assets:   cfg.AssetCache,
		log:      cfg.Logger,
		timeout:  cfg.FetchTimeout,
		maxBytes: cfg.MaxAssetBytes,
	}
	if s.http == nil {
		s.http = &http.Client{}
	}
	if s.log == nil {
		s.log = observability.NopLogger{}
	}
	if s.timeout == 0 {
		s.timeout = 8 * time.Second
	}
	if s.maxBytes == 0 {
		s.maxBytes = 32 << 20
	}
	return s, nil
}

func (s *TileSource) PageCount() int { return s.man.PageCount() }

func (s *TileSource) PageSize(n int) (float64, float64, error) {
	p, ok := s.man.PageByNumber(n)
	if !ok {
		return 0, 0, fmt.Errorf("source: page %d out of range [1,%d]", n, s.man.PageCount())
	}
	return p.Width, p.Height, nil
}

func (s *TileSource) FetchPage(ctx context.Context, n int, q manifest.Quality, dpr float64) (*raster.Bitmap, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	p, ok := s.man.PageByNumber(n)
	if !ok {
		return nil, fmt.Errorf("source: page %d out of range [1,%d]", n, s.man.PageCount())
	}
	url, ok := p.ImageURL(q)
	if !ok {
		return nil, fmt.Errorf("source: page %d has no asset URL", n)
	}

	data, err := s.fetchAsset(ctx, url)
	if err != nil {
		return nil, err
	}
	bm, err := raster.Decode(data, dpr)
	if err != nil {
		return nil, fmt.Errorf("source: page %d: %w", n, err)
	}
	return bm, nil
}

func (s *TileSource) fetchAsset(ctx context.Context, url string) ([]byte, error) {
	if s.assets != nil {
		if data, ok := s.assets.Get(url); ok {
			return data, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source: fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("source: read asset body: %w", err)
	}

	if s.assets != nil {
		if err := s.assets.Set(url, data); err != nil {
			s.log.Warn("asset cache write failed", observability.Error("err", err))
		}
	}
	return data, nil
}

// Close invalidates the source. Subsequent fetches fail with ErrClosed.
func (s *TileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/pressio/readerkit/manifest"
	"github.com/pressio/readerkit/raster"
)

// MemorySource serves synthetic solid-color pages without any I/O. It backs
// tests and the embedding examples.
type MemorySource struct {
	mu     sync.Mutex
	closed bool

	width  float64
	height float64
	count  int

	// FetchHook, when set, runs at the start of every FetchPage call.
	// Tests use it to observe or delay fetches.
	FetchHook func(ctx context.Context, n int, q manifest.Quality) error
}

// NewMemorySource creates a source with count pages of the given natural size.
func NewMemorySource(count int, width, height float64) *MemorySource {
	return &MemorySource{width: width, height: height, count: count}
}

func (s *MemorySource) PageCount() int { return s.count }

func (s *MemorySource) PageSize(n int) (float64, float64, error) {
	if n < 1 || n > s.count {
		return 0, 0, fmt.Errorf("source: page %d out of range [1,%d]", n, s.count)
	}
	return s.width, s.height, nil
}

func (s *MemorySource) FetchPage(ctx context.Context, n int, q manifest.Quality, dpr float64) (*raster.Bitmap, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if n < 1 || n > s.count {
		return nil, fmt.Errorf("source: page %d out of range [1,%d]", n, s.count)
	}
	if s.FetchHook != nil {
		if err := s.FetchHook(ctx, n, q); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if dpr <= 0 {
		dpr = 1
	}
	w := int(s.width * dpr)
	h := int(s.height * dpr)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shade := color.RGBA{R: uint8(40 * n % 256), G: uint8(80 * n % 256), B: uint8(120 * n % 256), A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = shade.R
		img.Pix[i+1] = shade.G
		img.Pix[i+2] = shade.B
		img.Pix[i+3] = shade.A
	}
	return raster.New(img, dpr), nil
}

func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

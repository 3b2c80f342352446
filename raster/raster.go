// Package raster owns decoded page pixels. A Bitmap wraps its pixel buffer in
// an explicitly released handle: the cache and render engine treat the buffer
// as a manually managed resource, never as plain garbage-collected memory.
package raster

import (
	"errors"
	"image"
	"sync"

	"golang.org/x/image/draw"
)

// ErrReleased is returned when a bitmap's pixels are used after Release.
var ErrReleased = errors.New("raster: bitmap already released")

// Bitmap is a decoded page image together with the display geometry it was
// decoded for. The pixel buffer is owned by the bitmap and is dropped on
// Release; callers must consume Image() synchronously after obtaining it.
type Bitmap struct {
	mu  sync.Mutex
	img *image.RGBA

	pixelWidth  int
	pixelHeight int

	// Logical (CSS) size the bitmap is meant to be shown at. The backing
	// pixel buffer is logical size times DevicePixelRatio.
	DisplayWidth     float64
	DisplayHeight    float64
	DevicePixelRatio float64

	sizeBytes int64
	onRelease func()
}

// New wraps an RGBA image in an owned handle. dpr defaults to 1.
func New(img *image.RGBA, dpr float64) *Bitmap {
	if dpr <= 0 {
		dpr = 1
	}
	b := img.Bounds()
	return &Bitmap{
		img:              img,
		pixelWidth:       b.Dx(),
		pixelHeight:      b.Dy(),
		DisplayWidth:     float64(b.Dx()) / dpr,
		DisplayHeight:    float64(b.Dy()) / dpr,
		DevicePixelRatio: dpr,
		sizeBytes:        int64(len(img.Pix)),
	}
}

// OnRelease registers fn to run exactly once when the bitmap is released.
func (b *Bitmap) OnRelease(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRelease = fn
}

// Image returns the backing pixels, or an error after Release.
func (b *Bitmap) Image() (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.img == nil {
		return nil, ErrReleased
	}
	return b.img, nil
}

// Released reports whether the pixel buffer has been dropped.
func (b *Bitmap) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.img == nil
}

// Release drops the pixel buffer. Safe to call more than once; only the
// first call runs the release hook.
func (b *Bitmap) Release() {
	b.mu.Lock()
	fn := b.onRelease
	released := b.img == nil
	b.img = nil
	b.onRelease = nil
	b.mu.Unlock()
	if !released && fn != nil {
		fn()
	}
}

// SizeBytes is the resident size of the pixel buffer.
func (b *Bitmap) SizeBytes() int64 { return b.sizeBytes }

// PixelSize returns the backing buffer dimensions.
func (b *Bitmap) PixelSize() (w, h int) { return b.pixelWidth, b.pixelHeight }

// Scale draws src into a fresh RGBA buffer of the given pixel size using a
// high-quality resampling kernel for downscales and bilinear for upscales.
func Scale(src image.Image, width, height int) *image.RGBA {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	sb := src.Bounds()
	if width < sb.Dx() || height < sb.Dy() {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)
	}
	return dst
}

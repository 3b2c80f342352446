package raster

import "image"

// Rotate returns a copy of src rotated clockwise by a right angle. Degrees
// are normalized modulo 360; non-right angles fall back to the nearest
// supported angle below them.
func Rotate(src *image.RGBA, degrees int) *image.RGBA {
	deg := ((degrees % 360) + 360) % 360
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	switch deg / 90 {
	case 1: // 90
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				copyPixel(dst, h-1-y, x, src, b.Min.X+x, b.Min.Y+y)
			}
		}
		return dst
	case 2: // 180
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				copyPixel(dst, w-1-x, h-1-y, src, b.Min.X+x, b.Min.Y+y)
			}
		}
		return dst
	case 3: // 270
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				copyPixel(dst, y, w-1-x, src, b.Min.X+x, b.Min.Y+y)
			}
		}
		return dst
	default:
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		copy(dst.Pix, src.Pix)
		return dst
	}
}

func copyPixel(dst *image.RGBA, dx, dy int, src *image.RGBA, sx, sy int) {
	di := dst.PixOffset(dx, dy)
	si := src.PixOffset(sx, sy)
	copy(dst.Pix[di:di+4], src.Pix[si:si+4])
}

package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Decode turns an encoded page asset (JPEG, PNG or GIF) into an owned bitmap
// at the given device pixel ratio.
func Decode(data []byte, dpr float64) (*Bitmap, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page asset: %w", err)
	}
	rgba, ok := src.(*image.RGBA)
	if !ok {
		b := src.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	}
	return New(rgba, dpr), nil
}

// DecodeScaled decodes an asset and resamples it so the backing buffer is at
// most maxWidth x maxHeight pixels, preserving aspect ratio. Zero bounds mean
// no limit on that axis.
func DecodeScaled(data []byte, dpr float64, maxWidth, maxHeight int) (*Bitmap, error) {
	bm, err := Decode(data, dpr)
	if err != nil {
		return nil, err
	}
	w, h := bm.PixelSize()
	scale := 1.0
	if maxWidth > 0 && w > maxWidth {
		scale = float64(maxWidth) / float64(w)
	}
	if maxHeight > 0 && float64(h)*scale > float64(maxHeight) {
		scale = float64(maxHeight) / float64(h)
	}
	if scale >= 1.0 {
		return bm, nil
	}
	img, err := bm.Image()
	if err != nil {
		return nil, err
	}
	scaled := Scale(img, int(float64(w)*scale), int(float64(h)*scale))
	bm.Release()
	return New(scaled, dpr), nil
}

package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
)

// WatermarkConfig identifies the viewing subscriber. The overlay is burned
// into every rendered page and regenerated per render so the timestamp is
// always current.
type WatermarkConfig struct {
	SubscriberName   string
	SubscriberNumber string
	SessionID        string

	// Opacity is the overlay ink alpha, kept low so the page stays readable.
	// Default 0.08.
	Opacity float64

	// AngleDegrees tilts the repeated text. Default -30.
	AngleDegrees float64

	// FontSize in logical units. Default 13.
	FontSize float64

	Now func() time.Time
}

func (c WatermarkConfig) withDefaults() WatermarkConfig {
	if c.Opacity <= 0 || c.Opacity > 1 {
		c.Opacity = 0.08
	}
	if c.AngleDegrees == 0 {
		c.AngleDegrees = -30
	}
	if c.FontSize <= 0 {
		c.FontSize = 13
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// shortSession trims a session id to the 8-character form shown in the
// overlay.
func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// applyWatermark stamps the subscriber overlay across region, which must lie
// within dst's bounds. The stamp is built fresh on every call.
func applyWatermark(dst *image.RGBA, region image.Rectangle, cfg WatermarkConfig, page int, dpr float64) error {
	cfg = cfg.withDefaults()
	if dpr <= 0 {
		dpr = 1
	}

	lines := []string{
		cfg.SubscriberName,
		cfg.SubscriberNumber,
		cfg.Now().Format("2006-01-02 15:04"),
		fmt.Sprintf("%s p.%d", shortSession(cfg.SessionID), page),
	}

	parsed, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return fmt.Errorf("render: parse watermark font: %w", err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    cfg.FontSize * dpr,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return fmt.Errorf("render: build watermark face: %w", err)
	}
	defer face.Close()

	stamp := renderStamp(lines, face, cfg.Opacity)
	tileStamp(dst, region, stamp, cfg.AngleDegrees)
	return nil
}

// renderStamp draws the text lines into a transparent image sized to fit.
func renderStamp(lines []string, face font.Face, opacity float64) *image.RGBA {
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	ascent := metrics.Ascent.Ceil()

	maxW := 0
	for _, line := range lines {
		if w := font.MeasureString(face, line).Ceil(); w > maxW {
			maxW = w
		}
	}
	if maxW == 0 {
		maxW = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, maxW, lineHeight*len(lines)))
	alpha := uint8(math.Round(opacity * 255))
	ink := image.NewUniform(color.NRGBA{R: 40, G: 40, B: 40, A: alpha})
	d := font.Drawer{Dst: img, Src: ink, Face: face}
	for i, line := range lines {
		d.Dot = fixed.P(0, ascent+i*lineHeight)
		d.DrawString(line)
	}
	return img
}

// tileStamp repeats the rotated stamp across region so cropping any part of
// the page still carries subscriber identity.
func tileStamp(dst *image.RGBA, region image.Rectangle, stamp *image.RGBA, angleDegrees float64) {
	region = region.Intersect(dst.Bounds())
	if region.Empty() {
		return
	}
	clip, ok := dst.SubImage(region).(*image.RGBA)
	if !ok {
		return
	}

	rad := angleDegrees * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	sb := stamp.Bounds()
	diag := math.Hypot(float64(sb.Dx()), float64(sb.Dy()))
	stepX := int(diag) + sb.Dx()/2
	stepY := int(diag)
	if stepX < 1 {
		stepX = 1
	}
	if stepY < 1 {
		stepY = 1
	}

	row := 0
	for y := region.Min.Y - stepY; y < region.Max.Y+stepY; y += stepY {
		offset := 0
		if row%2 == 1 {
			offset = stepX / 2
		}
		for x := region.Min.X - stepX + offset; x < region.Max.X+stepX; x += stepX {
			// Rotate about the stamp center, then translate into place.
			cx, cy := float64(sb.Dx())/2, float64(sb.Dy())/2
			m := f64.Aff3{
				cos, -sin, float64(x) - cos*cx + sin*cy,
				sin, cos, float64(y) - sin*cx - cos*cy,
			}
			draw.ApproxBiLinear.Transform(clip, m, stamp, sb, draw.Over, nil)
		}
		row++
	}
}

// Package render turns a page selection into pixels: it computes immutable
// render plans, executes them against a page source through the image cache,
// and burns the subscriber watermark into every rendered page.
package render

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/pressio/readerkit/manifest"
)

// marginFactor shrinks the fitted scale slightly so page edges are never
// clipped by the container.
const marginFactor = 0.98

// SpreadStart returns the first page of the facing-pages group containing
// page. Page 1 always stands alone; thereafter spreads start on even pages.
func SpreadStart(page, total int) int {
	page = clampPage(page, total)
	if page <= 1 {
		return 1
	}
	if page%2 == 1 {
		return page - 1
	}
	return page
}

// SpreadPages returns the 1 or 2 pages of the spread starting at the group
// containing page. The first and last pages of an edition stand alone when
// they have no facing partner.
func SpreadPages(page, total int) []int {
	start := SpreadStart(page, total)
	if start == 1 || start+1 > total {
		return []int{start}
	}
	return []int{start, start + 1}
}

func clampPage(page, total int) int {
	if page < 1 {
		return 1
	}
	if total > 0 && page > total {
		return total
	}
	return page
}

// PlanRequest captures everything that determines what the next render looks
// like. Identical requests produce identical plans.
type PlanRequest struct {
	Page             int
	RotationDegrees  int
	Zoom             float64
	ContainerWidth   float64
	ContainerHeight  float64
	DevicePixelRatio float64
	Quality          manifest.Quality
	Spread           bool
}

// PageLayout places one page inside the composited surface, in logical (CSS)
// coordinates. The hotspot overlay reuses these rects for its own transform.
type PageLayout struct {
	Page int
	X    float64
	Y    float64
	W    float64
	H    float64
}

// Plan is an immutable description of one composite render: which pages, at
// what rotation and scale, into how large a surface. Construct plans through
// ComputePlan only.
type Plan struct {
	PrimaryPage      int
	Pages            []int
	RotationDegrees  int
	Zoom             float64
	ContainerWidth   float64
	ContainerHeight  float64
	DevicePixelRatio float64
	Quality          manifest.Quality

	EffectiveScale float64
	SurfaceWidth   float64
	SurfaceHeight  float64
	Layout         []PageLayout

	fingerprint string
}

// Fingerprint is a deterministic identity for the plan, used as the render
// result cache key and for duplicate-render suppression.
func (p *Plan) Fingerprint() string { return p.fingerprint }

// ComputePlan builds a plan for the request, asking sizeOf for each page's
// natural bounds. A degenerate container yields a nil plan and no error.
func ComputePlan(req PlanRequest, total int, sizeOf func(page int) (w, h float64, err error)) (*Plan, error) {
	if req.ContainerWidth <= 0 || req.ContainerHeight <= 0 {
		return nil, nil
	}
	if total < 1 {
		return nil, fmt.Errorf("render: document has no pages")
	}
	if req.DevicePixelRatio <= 0 {
		req.DevicePixelRatio = 1
	}
	if req.Zoom <= 0 {
		req.Zoom = 1
	}
	if req.Quality == "" {
		req.Quality = manifest.QualityHigh
	}

	primary := clampPage(req.Page, total)
	var pages []int
	if req.Spread {
		pages = SpreadPages(primary, total)
	} else {
		pages = []int{primary}
	}

	rotated := req.RotationDegrees%180 != 0
	type box struct{ w, h float64 }
	boxes := make([]box, len(pages))
	totalW := 0.0
	maxH := 0.0
	for i, page := range pages {
		w, h, err := sizeOf(page)
		if err != nil {
			return nil, fmt.Errorf("render: page %d bounds: %w", page, err)
		}
		if rotated {
			w, h = h, w
		}
		boxes[i] = box{w: w, h: h}
		totalW += w
		if h > maxH {
			maxH = h
		}
	}
	if totalW <= 0 || maxH <= 0 {
		return nil, fmt.Errorf("render: degenerate page bounds for pages %v", pages)
	}

	base := req.ContainerWidth / totalW
	if fit := req.ContainerHeight / maxH; fit < base {
		base = fit
	}
	if base > 1 {
		base = 1
	}
	base *= marginFactor
	effective := base * req.Zoom

	plan := &Plan{
		PrimaryPage:      primary,
		Pages:            pages,
		RotationDegrees:  req.RotationDegrees,
		Zoom:             req.Zoom,
		ContainerWidth:   req.ContainerWidth,
		ContainerHeight:  req.ContainerHeight,
		DevicePixelRatio: req.DevicePixelRatio,
		Quality:          req.Quality,
		EffectiveScale:   effective,
		SurfaceWidth:     totalW * effective,
		SurfaceHeight:    maxH * effective,
	}

	x := 0.0
	for i, page := range pages {
		w := boxes[i].w * effective
		h := boxes[i].h * effective
		plan.Layout = append(plan.Layout, PageLayout{
			Page: page,
			X:    x,
			Y:    (plan.SurfaceHeight - h) / 2,
			W:    w,
			H:    h,
		})
		x += w
	}

	plan.fingerprint = fingerprint(plan)
	return plan, nil
}

func fingerprint(p *Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pages=%v;rot=%d;zoom=%.4f;container=%.1fx%.1f;dpr=%.3f;q=%s;scale=%.5f",
		p.Pages, p.RotationDegrees, p.Zoom, p.ContainerWidth, p.ContainerHeight,
		p.DevicePixelRatio, p.Quality, p.EffectiveScale)
	sum := blake2b.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum[:16])
}

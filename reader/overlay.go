package reader

import (
	"sort"

	"github.com/pressio/readerkit/coords"
	"github.com/pressio/readerkit/manifest"
	"github.com/pressio/readerkit/render"
)

// OverlayHotspot is one clickable region positioned in the rendered
// surface's logical coordinate space.
type OverlayHotspot struct {
	ID        string
	ArticleID string
	Page      int
	Rect      coords.Rect
}

// unitRotation maps the unit square onto itself under a clockwise
// right-angle rotation, matching how page pixels are rotated.
func unitRotation(deg int) coords.Matrix {
	switch ((deg % 360) + 360) % 360 {
	case 90:
		return coords.Matrix{0, 1, -1, 0, 1, 0}
	case 180:
		return coords.Matrix{-1, 0, 0, -1, 1, 1}
	case 270:
		return coords.Matrix{0, -1, 1, 0, 0, 1}
	}
	return coords.Identity()
}

// OverlayHotspots positions every valid hotspot of the plan's pages inside
// the composited surface. Rotation and zoom are already baked into the
// plan's layout, so the overlay stays aligned with the pixels underneath.
func OverlayHotspots(plan *render.Plan, man *manifest.Manifest) []OverlayHotspot {
	if plan == nil || man == nil {
		return nil
	}
	var out []OverlayHotspot
	for _, pl := range plan.Layout {
		page, ok := man.PageByNumber(pl.Page)
		if !ok {
			continue
		}
		m := unitRotation(plan.RotationDegrees).
			Multiply(coords.Scale(pl.W, pl.H)).
			Multiply(coords.Translate(pl.X, pl.Y))
		for _, h := range manifest.FilterHotspots(page.Hotspots) {
			out = append(out, OverlayHotspot{
				ID:        h.ID,
				ArticleID: h.ArticleID,
				Page:      pl.Page,
				Rect:      m.TransformRect(coords.Rect{X: h.X, Y: h.Y, W: h.Width, H: h.Height}),
			})
		}
	}
	return out
}

// HitTest routes a point in surface logical coordinates to the article it
// activates. The topmost (last declared) hotspot wins on overlap.
func HitTest(spots []OverlayHotspot, p coords.Point) (string, bool) {
	for i := len(spots) - 1; i >= 0; i-- {
		if spots[i].Rect.Contains(p) {
			return spots[i].ArticleID, true
		}
	}
	return "", false
}

// TOCEntry lists the articles of one page in reading order.
type TOCEntry struct {
	Page     int
	Articles []manifest.Article
}

// BuildTOC groups articles by page for the table-of-contents panel. Entries
// with degenerate regions are dropped first.
func BuildTOC(articles []manifest.Article) []TOCEntry {
	byPage := make(map[int][]manifest.Article)
	for _, a := range manifest.FilterArticles(articles) {
		byPage[a.PageNumber] = append(byPage[a.PageNumber], a)
	}
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	out := make([]TOCEntry, 0, len(pages))
	for _, p := range pages {
		list := byPage[p]
		sort.SliceStable(list, func(i, j int) bool { return list[i].ReadingOrder < list[j].ReadingOrder })
		out = append(out, TOCEntry{Page: p, Articles: list})
	}
	return out
}

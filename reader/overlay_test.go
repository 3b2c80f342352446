package reader

import (
	"math"
	"testing"

	"github.com/pressio/readerkit/coords"
	"github.com/pressio/readerkit/manifest"
	"github.com/pressio/readerkit/render"
)

func overlayManifest() *manifest.Manifest {
	return &manifest.Manifest{
		EditionID: "ed-1",
		Pages: []manifest.Page{
			{
				Number: 1, Width: 100, Height: 150,
				Images: map[manifest.Quality]string{manifest.QualityHigh: "http://x/1"},
				Hotspots: []manifest.Hotspot{
					{ID: "h1", ArticleID: "a1", X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4},
					{ID: "degenerate", ArticleID: "a2", X: 0.5, Y: 0.5, Width: 0, Height: 0.2},
				},
			},
			{
				Number: 2, Width: 100, Height: 150,
				Images: map[manifest.Quality]string{manifest.QualityHigh: "http://x/2"},
				Hotspots: []manifest.Hotspot{
					{ID: "h2", ArticleID: "a3", X: 0, Y: 0, Width: 1, Height: 1},
				},
			},
		},
	}
}

func sizeOf(man *manifest.Manifest) func(int) (float64, float64, error) {
	return func(n int) (float64, float64, error) {
		p, _ := man.PageByNumber(n)
		return p.Width, p.Height, nil
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOverlayDropsDegenerateHotspots(t *testing.T) {
	man := overlayManifest()
	plan, err := render.ComputePlan(render.PlanRequest{
		Page: 1, Zoom: 1, ContainerWidth: 100, ContainerHeight: 150, DevicePixelRatio: 1,
		Quality: manifest.QualityHigh,
	}, man.PageCount(), sizeOf(man))
	if err != nil {
		t.Fatal(err)
	}
	spots := OverlayHotspots(plan, man)
	if len(spots) != 1 || spots[0].ID != "h1" {
		t.Fatalf("spots = %+v, want only h1", spots)
	}
}

func TestOverlayScalesWithLayout(t *testing.T) {
	man := overlayManifest()
	plan, err := render.ComputePlan(render.PlanRequest{
		Page: 1, Zoom: 1, ContainerWidth: 1000, ContainerHeight: 1500, DevicePixelRatio: 1,
		Quality: manifest.QualityHigh,
	}, man.PageCount(), sizeOf(man))
	if err != nil {
		t.Fatal(err)
	}
	pl := plan.Layout[0]
	spots := OverlayHotspots(plan, man)
	if len(spots) != 1 {
		t.Fatalf("spots = %+v", spots)
	}
	r := spots[0].Rect
	if !approx(r.X, pl.X+0.1*pl.W) || !approx(r.Y, pl.Y+0.2*pl.H) ||
		!approx(r.W, 0.3*pl.W) || !approx(r.H, 0.4*pl.H) {
		t.Fatalf("rect = %+v for layout %+v", r, pl)
	}
}

func TestOverlayUnderRotation(t *testing.T) {
	man := overlayManifest()
	plan, err := render.ComputePlan(render.PlanRequest{
		Page: 1, RotationDegrees: 90, Zoom: 1, ContainerWidth: 1500, ContainerHeight: 1000,
		DevicePixelRatio: 1, Quality: manifest.QualityHigh,
	}, man.PageCount(), sizeOf(man))
	if err != nil {
		t.Fatal(err)
	}
	pl := plan.Layout[0]
	spots := OverlayHotspots(plan, man)
	if len(spots) != 1 {
		t.Fatalf("spots = %+v", spots)
	}
	// Under a 90-degree clockwise turn the page's top-left corner lands at
	// the layout's top-right, so the hotspot's X tracks 1-(y+h).
	r := spots[0].Rect
	wantX := pl.X + (1-(0.2+0.4))*pl.W
	wantY := pl.Y + 0.1*pl.H
	if !approx(r.X, wantX) || !approx(r.Y, wantY) || !approx(r.W, 0.4*pl.W) || !approx(r.H, 0.3*pl.H) {
		t.Fatalf("rotated rect = %+v, want x=%v y=%v w=%v h=%v", r, wantX, wantY, 0.4*pl.W, 0.3*pl.H)
	}
}

func TestOverlayCoversBothSpreadHalves(t *testing.T) {
	man := overlayManifest()
	// A 2-page edition in spread mode shows page 2 alone (page 1 always
	// stands alone), so build a 3-page layout instead.
	man.Pages = append(man.Pages, manifest.Page{
		Number: 3, Width: 100, Height: 150,
		Images:   map[manifest.Quality]string{manifest.QualityHigh: "http://x/3"},
		Hotspots: []manifest.Hotspot{{ID: "h3", ArticleID: "a4", X: 0.4, Y: 0.4, Width: 0.2, Height: 0.2}},
	})
	plan, err := render.ComputePlan(render.PlanRequest{
		Page: 2, Zoom: 1, ContainerWidth: 1000, ContainerHeight: 800, DevicePixelRatio: 1,
		Quality: manifest.QualityHigh, Spread: true,
	}, man.PageCount(), sizeOf(man))
	if err != nil {
		t.Fatal(err)
	}
	spots := OverlayHotspots(plan, man)
	if len(spots) != 2 {
		t.Fatalf("spots = %+v, want one per spread half", spots)
	}
	if spots[0].Page != 2 || spots[1].Page != 3 {
		t.Fatalf("pages = %d,%d", spots[0].Page, spots[1].Page)
	}
	if spots[1].Rect.X <= spots[0].Rect.X {
		t.Fatal("right-half hotspot does not sit right of the left half")
	}
}

func TestHitTestRoutesToArticle(t *testing.T) {
	spots := []OverlayHotspot{
		{ArticleID: "a1", Rect: coords.Rect{X: 0, Y: 0, W: 50, H: 50}},
		{ArticleID: "a2", Rect: coords.Rect{X: 40, Y: 40, W: 50, H: 50}},
	}
	if id, ok := HitTest(spots, coords.Point{X: 45, Y: 45}); !ok || id != "a2" {
		t.Fatalf("overlap hit = %q, want topmost a2", id)
	}
	if id, ok := HitTest(spots, coords.Point{X: 10, Y: 10}); !ok || id != "a1" {
		t.Fatalf("hit = %q, want a1", id)
	}
	if _, ok := HitTest(spots, coords.Point{X: 500, Y: 500}); ok {
		t.Fatal("miss reported as hit")
	}
}

func TestBuildTOC(t *testing.T) {
	toc := BuildTOC([]manifest.Article{
		{ID: "a3", Title: "C", PageNumber: 4, Width: 0.1, Height: 0.1, ReadingOrder: 1},
		{ID: "a1", Title: "A", PageNumber: 2, Width: 0.1, Height: 0.1, ReadingOrder: 2},
		{ID: "a2", Title: "B", PageNumber: 2, Width: 0.1, Height: 0.1, ReadingOrder: 1},
		{ID: "bad", Title: "zero area", PageNumber: 2, Width: 0, Height: 0.1, ReadingOrder: 0},
	})
	if len(toc) != 2 || toc[0].Page != 2 || toc[1].Page != 4 {
		t.Fatalf("toc = %+v", toc)
	}
	if toc[0].Articles[0].ID != "a2" || toc[0].Articles[1].ID != "a1" {
		t.Fatalf("page 2 order = %+v", toc[0].Articles)
	}
}

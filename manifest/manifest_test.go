package manifest

import "testing"

func validManifest() *Manifest {
	return &Manifest{
		EditionID:        "ed-2026-08-31",
		SubscriberName:   "A. Reader",
		SubscriberNumber: "100045",
		Pages: []Page{
			{Number: 1, Width: 800, Height: 1200, Images: map[Quality]string{QualityHigh: "http://cdn/p1-h.jpg"}},
			{Number: 2, Width: 800, Height: 1200, Images: map[Quality]string{QualityMedium: "http://cdn/p2-m.jpg"}},
		},
	}
}

func TestNormalizeValid(t *testing.T) {
	m := validManifest()
	if err := m.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
}

func TestNormalizeRejectsEmptyEdition(t *testing.T) {
	m := &Manifest{EditionID: "ed"}
	if err := m.Normalize(); err == nil {
		t.Fatalf("expected error for edition with no pages")
	}
}

func TestNormalizeRejectsBadPageSize(t *testing.T) {
	m := validManifest()
	m.Pages[0].Width = 0
	if err := m.Normalize(); err == nil {
		t.Fatalf("expected error for zero-width page")
	}
}

func TestNormalizeAssignsPageNumbers(t *testing.T) {
	m := validManifest()
	m.Pages[0].Number = 0
	m.Pages[1].Number = 0
	if err := m.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if m.Pages[0].Number != 1 || m.Pages[1].Number != 2 {
		t.Fatalf("pages not renumbered: %d, %d", m.Pages[0].Number, m.Pages[1].Number)
	}
}

func TestImageURLFallback(t *testing.T) {
	p := &Page{Images: map[Quality]string{QualityLow: "low.jpg"}}
	url, ok := p.ImageURL(QualityHigh)
	if !ok || url != "low.jpg" {
		t.Fatalf("fallback failed: %q %v", url, ok)
	}
	empty := &Page{Images: map[Quality]string{}}
	if _, ok := empty.ImageURL(QualityHigh); ok {
		t.Fatalf("expected no URL for empty tier map")
	}
}

func TestFilterHotspotsDropsDegenerate(t *testing.T) {
	in := []Hotspot{
		{ID: "a", ArticleID: "art-1", X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2},
		{ID: "b", ArticleID: "art-2", X: 0.5, Y: 0.5, Width: 0, Height: 0.2},
		{ID: "c", ArticleID: "art-3", X: 0.5, Y: 0.5, Width: 0.2, Height: -1},
	}
	out := FilterHotspots(in)
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("expected only hotspot a, got %+v", out)
	}
}

func TestFilterHotspotsClampsToUnitSquare(t *testing.T) {
	out := FilterHotspots([]Hotspot{{ID: "a", X: 0.9, Y: -0.5, Width: 0.5, Height: 0.4}})
	if len(out) != 1 {
		t.Fatalf("hotspot dropped: %+v", out)
	}
	h := out[0]
	if h.X != 0.9 || h.Y != 0 {
		t.Fatalf("origin not clamped: %+v", h)
	}
	if h.X+h.Width > 1.0000001 {
		t.Fatalf("width exceeds page: %+v", h)
	}
}

func TestFilterHotspotsLeavesInputUntouched(t *testing.T) {
	in := []Hotspot{
		{ID: "wide", X: 0.7, Y: 0.1, Width: 2, Height: 0.4},
		{ID: "flat", X: 0.2, Y: 0.2, Width: 0.3, Height: 0},
		{ID: "ok", X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2},
	}
	before := make([]Hotspot, len(in))
	copy(before, in)

	out := FilterHotspots(in)
	for i := range in {
		if in[i] != before[i] {
			t.Fatalf("input hotspot %d mutated: %+v -> %+v", i, before[i], in[i])
		}
	}
	if len(out) != 2 || out[0].Width != 0.3 {
		t.Fatalf("filtered = %+v", out)
	}

	// Pages share one hotspot slice across concurrent overlay reads, so the
	// filter must never write through the input's backing array.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			FilterHotspots(in)
		}
	}()
	for i := 0; i < 100; i++ {
		FilterHotspots(in)
	}
	<-done
}

func TestFilterArticlesOrdering(t *testing.T) {
	in := []Article{
		{ID: "late", ReadingOrder: 5, PageNumber: 1, Width: 0.1, Height: 0.1},
		{ID: "degenerate", ReadingOrder: 0, Width: 0, Height: 0.1},
		{ID: "first", ReadingOrder: 1, PageNumber: 2, Width: 0.1, Height: 0.1},
	}
	out := FilterArticles(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(out))
	}
	if out[0].ID != "first" || out[1].ID != "late" {
		t.Fatalf("wrong order: %s, %s", out[0].ID, out[1].ID)
	}
}

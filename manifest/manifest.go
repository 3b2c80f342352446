// Package manifest defines the edition data model delivered by the access
// resolver and normalizes it at the boundary before it reaches the engine.
package manifest

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Quality names one resolution tier of a page asset.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// fallback order when a tier has no URL
var qualityFallback = map[Quality][]Quality{
	QualityHigh:   {QualityHigh, QualityMedium, QualityLow},
	QualityMedium: {QualityMedium, QualityHigh, QualityLow},
	QualityLow:    {QualityLow, QualityMedium, QualityHigh},
}

// Hotspot is a clickable region on a page, normalized to [0,1] relative to
// the page bounds.
type Hotspot struct {
	ID        string  `json:"id"`
	ArticleID string  `json:"articleId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

// Article is one entry from the article metadata service.
type Article struct {
	ID           string  `json:"articleId"`
	Title        string  `json:"title"`
	PageNumber   int     `json:"pageNumber"`
	X            float64 `json:"normalizedX"`
	Y            float64 `json:"normalizedY"`
	Width        float64 `json:"normalizedWidth"`
	Height       float64 `json:"normalizedHeight"`
	ReadingOrder int     `json:"readingOrder"`

	// Optional body payload; Format is "markdown", "html" or empty.
	Body   string `json:"body,omitempty"`
	Format string `json:"bodyFormat,omitempty"`
}

// Page describes one page of an edition: its natural size and the image URL
// per quality tier.
type Page struct {
	Number   int                `json:"number"`
	Width    float64            `json:"width"`
	Height   float64            `json:"height"`
	Images   map[Quality]string `json:"images"`
	Hotspots []Hotspot          `json:"hotspots,omitempty"`
}

// ImageURL resolves the asset URL for a tier, walking the fallback chain
// when the requested tier is missing.
func (p *Page) ImageURL(q Quality) (string, bool) {
	order, ok := qualityFallback[q]
	if !ok {
		order = qualityFallback[QualityHigh]
	}
	for _, tier := range order {
		if url := p.Images[tier]; url != "" {
			return url, true
		}
	}
	return "", false
}

// Manifest is a resolved edition: pages plus the subscriber identity used
// for watermarking.
type Manifest struct {
	EditionID        string    `json:"editionId"`
	SubscriberName   string    `json:"subscriberDisplayName"`
	SubscriberNumber string    `json:"subscriberNumber"`
	ExpiresAt        time.Time `json:"expiresAt"`
	HasArticles      bool      `json:"hasArticles"`
	Pages            []Page    `json:"pages"`
}

// PageCount returns the number of pages in the edition.
func (m *Manifest) PageCount() int { return len(m.Pages) }

// PageByNumber returns the page with the given 1-based number.
func (m *Manifest) PageByNumber(n int) (*Page, bool) {
	for i := range m.Pages {
		if m.Pages[i].Number == n {
			return &m.Pages[i], true
		}
	}
	return nil, false
}

// Normalize validates a manifest in place and rejects entries that must not
// enter the engine: pages are renumbered sequentially when numbers are
// missing, degenerate hotspots are dropped, hotspot rects are clamped to the
// unit square.
func (m *Manifest) Normalize() error {
	if m.EditionID == "" {
		return errors.New("manifest: missing edition id")
	}
	if len(m.Pages) == 0 {
		return errors.New("manifest: edition has no pages")
	}
	for i := range m.Pages {
		p := &m.Pages[i]
		if p.Number <= 0 {
			p.Number = i + 1
		}
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("manifest: page %d has invalid natural size %gx%g", p.Number, p.Width, p.Height)
		}
		if _, ok := p.ImageURL(QualityHigh); !ok {
			return fmt.Errorf("manifest: page %d has no image URL in any tier", p.Number)
		}
		p.Hotspots = FilterHotspots(p.Hotspots)
	}
	return nil
}

// FilterHotspots drops hotspots with non-positive normalized width or height
// and clamps the rest to the unit square. The input slice is left untouched;
// callers share hotspot slices across goroutines.
func FilterHotspots(in []Hotspot) []Hotspot {
	out := make([]Hotspot, 0, len(in))
	for _, h := range in {
		if h.Width <= 0 || h.Height <= 0 {
			continue
		}
		h.X = clamp01(h.X)
		h.Y = clamp01(h.Y)
		if h.X+h.Width > 1 {
			h.Width = 1 - h.X
		}
		if h.Y+h.Height > 1 {
			h.Height = 1 - h.Y
		}
		if h.Width <= 0 || h.Height <= 0 {
			continue
		}
		out = append(out, h)
	}
	return out
}

// FilterArticles drops degenerate article regions and orders the remainder
// by reading order, then page number.
func FilterArticles(in []Article) []Article {
	out := make([]Article, 0, len(in))
	for _, a := range in {
		if a.Width <= 0 || a.Height <= 0 {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ReadingOrder != out[j].ReadingOrder {
			return out[i].ReadingOrder < out[j].ReadingOrder
		}
		return out[i].PageNumber < out[j].PageNumber
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

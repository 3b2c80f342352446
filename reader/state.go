package reader

import (
	"github.com/pressio/readerkit/render"
)

// Status is the lifecycle phase of the reader.
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Mode selects what occupies the reading surface.
type Mode string

const (
	ModePage    Mode = "page"
	ModeArticle Mode = "article"
)

const (
	MinZoom         = 0.5
	MaxZoom         = 3.0
	DefaultZoomStep = 0.25
)

// State holds everything the reader chrome observes. It is mutated only
// through the action methods below; the Controller serializes access.
type State struct {
	Status          Status
	CurrentPage     int
	TotalPages      int
	Zoom            float64
	RotationDegrees int
	Mode            Mode
	ActiveArticleID string
	ErrorMessage    string
	Fullscreen      bool
	TOCOpen         bool
	Spread          bool
}

// NewState returns the initial loading state.
func NewState() State {
	return State{Status: StatusLoading, Zoom: 1, Mode: ModePage, CurrentPage: 1}
}

// SetReady transitions to ready with a fresh page position. It is the only
// way out of loading.
func (s *State) SetReady(totalPages int) {
	if totalPages < 1 {
		totalPages = 1
	}
	s.Status = StatusReady
	s.TotalPages = totalPages
	s.ErrorMessage = ""
	s.SetPage(1)
}

// SetPage clamps n to [1, TotalPages] and, in spread mode, snaps to the
// start of its facing-pages group.
func (s *State) SetPage(n int) {
	if s.TotalPages < 1 {
		s.CurrentPage = 1
		return
	}
	if n < 1 {
		n = 1
	}
	if n > s.TotalPages {
		n = s.TotalPages
	}
	if s.Spread {
		n = render.SpreadStart(n, s.TotalPages)
	}
	s.CurrentPage = n
}

func (s *State) SetMode(m Mode) {
	if m != ModePage && m != ModeArticle {
		return
	}
	s.Mode = m
}

func (s *State) SetActiveArticle(id string) {
	s.ActiveArticleID = id
}

// SetZoom clamps z to [MinZoom, MaxZoom].
func (s *State) SetZoom(z float64) {
	s.Zoom = ClampZoom(z)
}

// SetError is terminal: the reader stays in error until Reset.
func (s *State) SetError(msg string) {
	s.Status = StatusError
	s.ErrorMessage = msg
}

// SetSpread toggles facing-pages mode and re-snaps the current page.
func (s *State) SetSpread(on bool) {
	s.Spread = on
	s.SetPage(s.CurrentPage)
}

// Reset returns to the initial loading state.
func (s *State) Reset() {
	*s = NewState()
}

// ClampZoom bounds a zoom factor to the supported range.
func ClampZoom(z float64) float64 {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

// nextPageTarget advances by one navigational unit: the page after the
// current spread in facing-pages mode, else the next page.
func nextPageTarget(current, total int, spread bool) int {
	if !spread {
		return current + 1
	}
	pages := render.SpreadPages(current, total)
	return pages[len(pages)-1] + 1
}

// previousPageTarget steps back one navigational unit.
func previousPageTarget(current, total int, spread bool) int {
	if !spread {
		return current - 1
	}
	return render.SpreadStart(render.SpreadStart(current, total)-1, total)
}

// canGoNext reports whether a forward navigation would change the page.
func canGoNext(current, total int, spread bool) bool {
	if spread {
		pages := render.SpreadPages(current, total)
		return pages[len(pages)-1] < total
	}
	return current < total
}

func canGoPrevious(current, total int, spread bool) bool {
	if spread {
		return render.SpreadStart(current, total) > 1
	}
	return current > 1
}

// Snapshot is the read-only view handed to UI chrome.
type Snapshot struct {
	Status          Status
	CurrentPage     int
	TotalPages      int
	Zoom            float64
	RotationDegrees int
	Mode            Mode
	ActiveArticleID string
	ErrorMessage    string
	Fullscreen      bool
	TOCOpen         bool
	Spread          bool
	CanGoNext       bool
	CanGoPrevious   bool
}

// Snapshot derives the chrome view from the state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Status:          s.Status,
		CurrentPage:     s.CurrentPage,
		TotalPages:      s.TotalPages,
		Zoom:            s.Zoom,
		RotationDegrees: s.RotationDegrees,
		Mode:            s.Mode,
		ActiveArticleID: s.ActiveArticleID,
		ErrorMessage:    s.ErrorMessage,
		Fullscreen:      s.Fullscreen,
		TOCOpen:         s.TOCOpen,
		Spread:          s.Spread,
		CanGoNext:       s.Status == StatusReady && canGoNext(s.CurrentPage, s.TotalPages, s.Spread),
		CanGoPrevious:   s.Status == StatusReady && canGoPrevious(s.CurrentPage, s.TotalPages, s.Spread),
	}
}

package tracker

import (
	"sync"
	"time"
)

// Page is the document context events are attributed to.
type Page struct {
	URL           string // full href, used for page_view and UTM extraction
	Path          string
	Title         string
	Referrer      string
	ViewportWidth int
	ScreenWidth   int
	ScreenHeight  int
	UserAgent     string
}

type PageSource interface {
	CurrentPage() Page
}

// StaticPage is a PageSource for a document that does not change.
type StaticPage Page

func (p StaticPage) CurrentPage() Page { return Page(p) }

// ScrollPosition is what a scroll listener reads off the window.
type ScrollPosition struct {
	Top            float64
	DocumentHeight float64
	ViewportHeight float64
}

// FrameScheduler runs fn on the next animation frame.
type FrameScheduler interface {
	RequestFrame(fn func())
}

// TimerFrames approximates requestAnimationFrame with a timer.
type TimerFrames struct {
	Interval time.Duration
}

func (f TimerFrames) RequestFrame(fn func()) {
	d := f.Interval
	if d <= 0 {
		d = 16 * time.Millisecond
	}
	time.AfterFunc(d, fn)
}

// ManualFrames queues frame callbacks until Tick is called.
type ManualFrames struct {
	mu      sync.Mutex
	pending []func()
}

func (f *ManualFrames) RequestFrame(fn func()) {
	f.mu.Lock()
	f.pending = append(f.pending, fn)
	f.mu.Unlock()
}

// Tick runs every callback requested before the call and reports how many ran.
func (f *ManualFrames) Tick() int {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
	return len(pending)
}

package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vincentbai/shoptrace/internal/config"
	"github.com/vincentbai/shoptrace/internal/models"
	"github.com/vincentbai/shoptrace/internal/observability"
	"github.com/vincentbai/shoptrace/internal/storage"
)

func initHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, nil)
	if err := h.engine.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	h.drain(t)
	return h
}

func depths(events []models.Event) []int {
	var out []int
	for _, e := range events {
		if e.Type == models.KindScrollDepth {
			out = append(out, e.Data["depth"].(int))
		}
	}
	return out
}

func TestScrollDepthThresholds(t *testing.T) {
	h := initHarness(t)

	h.engine.OnScroll(ScrollPosition{Top: 750, DocumentHeight: 1800, ViewportHeight: 800})
	h.frames.Tick()

	got := depths(h.drain(t))
	if len(got) != 3 || got[0] != 25 || got[1] != 50 || got[2] != 75 {
		t.Fatalf("Expected depths [25 50 75], got %v", got)
	}

	h.engine.OnScroll(ScrollPosition{Top: 100, DocumentHeight: 1800, ViewportHeight: 800})
	h.frames.Tick()
	h.engine.OnScroll(ScrollPosition{Top: 750, DocumentHeight: 1800, ViewportHeight: 800})
	h.frames.Tick()

	if again := depths(h.drain(t)); len(again) != 0 {
		t.Errorf("Expected no repeated depths, got %v", again)
	}

	h.engine.OnScroll(ScrollPosition{Top: 1000, DocumentHeight: 1800, ViewportHeight: 800})
	h.frames.Tick()
	if last := depths(h.drain(t)); len(last) != 1 || last[0] != 100 {
		t.Errorf("Expected depth [100], got %v", last)
	}
}

func TestScrollRateLimitedToOneFrame(t *testing.T) {
	h := initHarness(t)

	h.engine.OnScroll(ScrollPosition{Top: 100, DocumentHeight: 1800, ViewportHeight: 800})
	h.engine.OnScroll(ScrollPosition{Top: 300, DocumentHeight: 1800, ViewportHeight: 800})
	h.engine.OnScroll(ScrollPosition{Top: 520, DocumentHeight: 1800, ViewportHeight: 800})

	if ran := h.frames.Tick(); ran != 1 {
		t.Fatalf("Expected one frame callback, got %d", ran)
	}
	// Evaluated at the latest position, 52%.
	got := depths(h.drain(t))
	if len(got) != 2 || got[0] != 25 || got[1] != 50 {
		t.Errorf("Expected depths [25 50], got %v", got)
	}

	h.engine.OnScroll(ScrollPosition{Top: 760, DocumentHeight: 1800, ViewportHeight: 800})
	if ran := h.frames.Tick(); ran != 1 {
		t.Errorf("Expected a new frame after the previous one ran, got %d", ran)
	}
}

func TestScrollOnUnscrollablePage(t *testing.T) {
	h := initHarness(t)

	h.engine.OnScroll(ScrollPosition{Top: 0, DocumentHeight: 800, ViewportHeight: 800})
	h.frames.Tick()
	h.engine.OnScroll(ScrollPosition{Top: 10, DocumentHeight: 600, ViewportHeight: 800})
	h.frames.Tick()

	if got := depths(h.drain(t)); len(got) != 0 {
		t.Errorf("Expected no depth events, got %v", got)
	}
}

func TestScrollRounding(t *testing.T) {
	h := initHarness(t)

	// 24.5% rounds to 25.
	h.engine.OnScroll(ScrollPosition{Top: 245, DocumentHeight: 1800, ViewportHeight: 800})
	h.frames.Tick()

	if got := depths(h.drain(t)); len(got) != 1 || got[0] != 25 {
		t.Errorf("Expected depth [25], got %v", got)
	}
}

func TestHidingFlushesQueue(t *testing.T) {
	h := initHarness(t)
	h.engine.TrackSearch("ventana", 2)

	h.engine.OnVisibilityChange(context.Background(), true)

	if h.engine.QueueLen() != 0 {
		t.Errorf("Expected hide to flush, queue has %d", h.engine.QueueLen())
	}
	delivered := h.ingestor.delivered()
	if delivered[len(delivered)-1].Type != models.KindSearch {
		t.Errorf("Expected search to be delivered on hide, got %v", kindsOf(delivered))
	}
}

func TestTabReturn(t *testing.T) {
	tests := []struct {
		name  string
		away  time.Duration
		want  bool
		value int
	}{
		{"3 seconds", 3 * time.Second, false, 0},
		{"exactly 5 seconds", 5 * time.Second, false, 0},
		{"5.4 seconds rounds to 5", 5400 * time.Millisecond, false, 0},
		{"5.5 seconds rounds to 6", 5500 * time.Millisecond, true, 6},
		{"10 seconds", 10 * time.Second, true, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := initHarness(t)

			h.engine.OnVisibilityChange(context.Background(), true)
			h.clock.Advance(tt.away)
			h.engine.OnVisibilityChange(context.Background(), false)

			var returns []models.Event
			for _, e := range h.drain(t) {
				if e.Type == models.KindTabReturn {
					returns = append(returns, e)
				}
			}
			if !tt.want {
				if len(returns) != 0 {
					t.Errorf("Expected no tab_return, got %v", returns)
				}
				return
			}
			if len(returns) != 1 {
				t.Fatalf("Expected one tab_return, got %d", len(returns))
			}
			if returns[0].Data["away_seconds"] != tt.value {
				t.Errorf("Expected away_seconds %d, got %v", tt.value, returns[0].Data["away_seconds"])
			}
		})
	}
}

func TestVisibleWithoutHideIsIgnored(t *testing.T) {
	h := initHarness(t)

	h.clock.Advance(time.Minute)
	h.engine.OnVisibilityChange(context.Background(), false)

	if h.engine.QueueLen() != 0 {
		t.Errorf("Expected nothing queued, got %d", h.engine.QueueLen())
	}
}

func TestUnloadSendsSessionEnd(t *testing.T) {
	h := initHarness(t)
	h.clock.Advance(90 * time.Second)
	h.engine.TrackCategoryFilter("puertas")
	h.clock.Advance(30 * time.Second)

	h.engine.OnUnload(context.Background())

	if len(h.ingestor.reliable) != 1 {
		t.Fatalf("Expected one teardown batch, got %d", len(h.ingestor.reliable))
	}
	batch := h.ingestor.reliable[0]
	kinds := kindsOf(batch)
	if len(kinds) != 2 || kinds[0] != models.KindFilterCategory || kinds[1] != models.KindSessionEnd {
		t.Fatalf("Expected [filter_category session_end], got %v", kinds)
	}
	end := batch[1]
	if end.Data["duration_seconds"] != 120 {
		t.Errorf("Expected duration 120s, got %v", end.Data["duration_seconds"])
	}
	if end.SessionID != h.engine.SessionID() {
		t.Errorf("Expected session_end for %s, got %s", h.engine.SessionID(), end.SessionID)
	}
	if h.engine.QueueLen() != 0 {
		t.Errorf("Expected queue drained at unload, got %d", h.engine.QueueLen())
	}

	h.engine.OnUnload(context.Background())
	if len(h.ingestor.reliable) != 1 {
		t.Errorf("Expected unload to run once, got %d batches", len(h.ingestor.reliable))
	}
}

func TestObserversIgnoredBeforeInit(t *testing.T) {
	h := newHarness(t, nil)

	h.engine.OnScroll(ScrollPosition{Top: 1000, DocumentHeight: 1800, ViewportHeight: 800})
	h.engine.OnVisibilityChange(context.Background(), true)
	h.engine.OnUnload(context.Background())

	if ran := h.frames.Tick(); ran != 0 {
		t.Errorf("Expected no frame requests, got %d", ran)
	}
	if len(h.ingestor.reliable) != 0 || h.engine.QueueLen() != 0 {
		t.Error("Expected observers to be inert before Init")
	}
}

func TestTabReturnSubSecondThreshold(t *testing.T) {
	tests := []struct {
		away time.Duration
		want bool
	}{
		{1 * time.Second, false},
		{2 * time.Second, true},
	}

	for _, tt := range tests {
		h := newHarness(t, nil)
		h.engine.cfg.TabReturnMinAway = 500 * time.Millisecond
		if err := h.engine.Init(context.Background()); err != nil {
			t.Fatalf("Init failed: %v", err)
		}
		h.drain(t)

		h.engine.OnVisibilityChange(context.Background(), true)
		h.clock.Advance(tt.away)
		h.engine.OnVisibilityChange(context.Background(), false)

		got := false
		for _, e := range h.drain(t) {
			if e.Type == models.KindTabReturn {
				got = true
			}
		}
		if got != tt.want {
			t.Errorf("Away %s with 500ms threshold: expected tab_return=%v, got %v", tt.away, tt.want, got)
		}
	}
}

// slowIngestor holds every event insert for delay unless ctx ends first.
type slowIngestor struct {
	fakeIngestor
	delay   time.Duration
	started chan struct{}
	once    sync.Once
}

func (s *slowIngestor) InsertEvents(ctx context.Context, events []models.Event) error {
	s.once.Do(func() { close(s.started) })
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.fakeIngestor.InsertEvents(ctx, events)
}

func TestUnloadDuringTimerFlushLosesNothing(t *testing.T) {
	ingestor := &slowIngestor{delay: 300 * time.Millisecond, started: make(chan struct{})}
	cfg := config.DefaultTracker()
	cfg.BatchInterval = 20 * time.Millisecond
	clock := &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	engine := New(Options{
		Config:   cfg,
		Store:    storage.NewMemoryStore(),
		Ingestor: ingestor,
		Page:     testPage,
		Frames:   &ManualFrames{},
		Now:      clock.Now,
		Logger:   observability.Discard(),
	})
	t.Cleanup(engine.Close)

	if err := engine.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	engine.TrackSearch("bisagra", 4)

	select {
	case <-ingestor.started:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the timer to start a flush")
	}
	engine.OnUnload(context.Background())

	ingestor.mu.Lock()
	defer ingestor.mu.Unlock()
	var all []models.Event
	for _, b := range ingestor.batches {
		all = append(all, b...)
	}
	for _, b := range ingestor.reliable {
		all = append(all, b...)
	}

	seen := make(map[models.EventKind]int)
	for _, e := range all {
		seen[e.Type]++
	}
	for _, kind := range []models.EventKind{models.KindSessionStart, models.KindPageView, models.KindSearch, models.KindSessionEnd} {
		if seen[kind] != 1 {
			t.Errorf("Expected %s delivered once, got %d (all: %v)", kind, seen[kind], kindsOf(all))
		}
	}
	if len(ingestor.reliable) != 1 {
		t.Fatalf("Expected one teardown batch, got %d", len(ingestor.reliable))
	}
	teardown := ingestor.reliable[0]
	if teardown[len(teardown)-1].Type != models.KindSessionEnd {
		t.Errorf("Expected session_end last in teardown batch, got %v", kindsOf(teardown))
	}
	if engine.QueueLen() != 0 {
		t.Errorf("Expected nothing left queued, got %d", engine.QueueLen())
	}
}

// Package tracker is the storefront tracking engine: it resolves identity,
// accepts events from the storefront and browser observers, and keeps the
// queue flowing to the ingestion endpoint.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/vincentbai/shoptrace/internal/config"
	"github.com/vincentbai/shoptrace/internal/delivery"
	"github.com/vincentbai/shoptrace/internal/identity"
	"github.com/vincentbai/shoptrace/internal/models"
	"github.com/vincentbai/shoptrace/internal/observability"
	"github.com/vincentbai/shoptrace/internal/queue"
	"github.com/vincentbai/shoptrace/internal/storage"
)

// ErrUnsupported is returned by Init when no ingestion client is available.
var ErrUnsupported = errors.New("ingestion client not available")

type Options struct {
	Config   config.Tracker
	Store    storage.Store
	Ingestor delivery.Ingestor
	// Defaults to Ingestor when it also implements ReliableSender.
	Reliable delivery.ReliableSender
	Page     PageSource
	Frames   FrameScheduler
	Now      func() time.Time
	Logger   *slog.Logger
}

// Engine owns every piece of per-page tracking state. One Engine per page
// load; all methods are safe for concurrent use.
type Engine struct {
	cfg      config.Tracker
	identity *identity.Store
	queue    *queue.Queue
	channel  *delivery.Channel
	ingestor delivery.Ingestor
	page     PageSource
	frames   FrameScheduler
	now      func() time.Time
	logger   *slog.Logger

	// Scheduler and page-lifetime context, cancelled at unload.
	lifetime  context.Context
	cancel    context.CancelFunc
	scheduler *Scheduler

	mu        sync.Mutex
	started   bool
	ready     bool
	observing bool
	unloaded  bool
	visitorID string
	session   identity.Session

	scroll       ScrollPosition
	framePending bool
	reached      map[int]bool

	hidden   bool
	hiddenAt time.Time
}

func New(opts Options) *Engine {
	cfg := opts.Config
	defaults := config.DefaultTracker()
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = defaults.BatchInterval
	}
	if cfg.InactivityWindow <= 0 {
		cfg.InactivityWindow = defaults.InactivityWindow
	}
	if len(cfg.ScrollThresholds) == 0 {
		cfg.ScrollThresholds = defaults.ScrollThresholds
	}
	if cfg.TabReturnMinAway <= 0 {
		cfg.TabReturnMinAway = defaults.TabReturnMinAway
	}
	if cfg.ReliableTimeout <= 0 {
		cfg.ReliableTimeout = defaults.ReliableTimeout
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "tracker")
	} else {
		logger = observability.WithFields("component", "tracker")
	}

	store := opts.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}
	page := opts.Page
	if page == nil {
		page = StaticPage{}
	}
	frames := opts.Frames
	if frames == nil {
		frames = TimerFrames{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	reliable := opts.Reliable
	if reliable == nil {
		reliable, _ = opts.Ingestor.(delivery.ReliableSender)
	}

	q := queue.New()
	lifetime, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		identity: identity.NewStore(store, cfg.KeyPrefix, cfg.InactivityWindow, logger),
		queue:    q,
		channel:  delivery.NewChannel(q, opts.Ingestor, reliable, logger),
		ingestor: opts.Ingestor,
		page:     page,
		frames:   frames,
		now:      now,
		logger:   logger,
		lifetime: lifetime,
		cancel:   cancel,
		reached:  make(map[int]bool),
	}
	e.scheduler = NewScheduler(cfg.BatchInterval, e.scheduledFlush)
	if cfg.Debug {
		e.EnableDebug()
	}
	return e
}

// Init resolves identity and session, starts the flush timer, registers the
// observers and records the initial page view. Only the first successful
// call has any effect.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	if e.ingestor == nil {
		e.mu.Unlock()
		e.logger.Error("ingestion client not loaded, tracking disabled")
		return ErrUnsupported
	}
	e.started = true

	now := e.now()
	e.visitorID = e.identity.VisitorID()
	sess, isNew := e.identity.StartOrResume(now)
	e.session = sess
	e.ready = true
	if isNew {
		e.queueSessionStartLocked()
	}
	e.mu.Unlock()

	if isNew {
		e.announceSession(ctx, sess)
	} else {
		e.logger.Debug("existing session", "session_id", sess.ID)
	}

	e.scheduler.Start(e.lifetime)

	e.mu.Lock()
	e.observing = true
	page := e.page.CurrentPage()
	e.trackLocked(models.KindPageView, map[string]any{
		"url":   page.URL,
		"title": page.Title,
	})
	e.mu.Unlock()

	e.logger.Debug("analytics initialized", "session_id", sess.ID, "visitor_id", e.VisitorID())
	return nil
}

// queueSessionStartLocked records session_start ahead of anything else the
// new session tracks.
func (e *Engine) queueSessionStartLocked() {
	source := e.page.CurrentPage().Referrer
	if source == "" {
		source = "direct"
	}
	e.trackLocked(models.KindSessionStart, map[string]any{
		"is_new_visitor": !e.identity.IsReturning(),
		"referrer":       source,
	})
	e.identity.MarkReturning()
}

// announceSession writes the session record to the endpoint.
func (e *Engine) announceSession(ctx context.Context, sess identity.Session) {
	page := e.page.CurrentPage()
	utm := models.ParseUTM(page.URL)

	var referrer *string
	if page.Referrer != "" {
		referrer = &page.Referrer
	}
	record := models.Session{
		ID:           sess.ID,
		VisitorID:    e.VisitorID(),
		Referrer:     referrer,
		UTMSource:    utm.Source,
		UTMMedium:    utm.Medium,
		UTMCampaign:  utm.Campaign,
		DeviceType:   models.ClassifyDevice(page.ViewportWidth),
		ScreenWidth:  page.ScreenWidth,
		ScreenHeight: page.ScreenHeight,
		UserAgent:    page.UserAgent,
	}
	if err := e.ingestor.InsertSession(ctx, record); err != nil {
		e.logger.Error("error creating session", "session_id", sess.ID, "error", err)
	} else {
		e.logger.Debug("new session created", "session_id", sess.ID)
	}
}

// Track queues an event for the current session. Calls made before Init
// has established identity are dropped.
func (e *Engine) Track(kind models.EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trackLocked(kind, data)
}

func (e *Engine) trackLocked(kind models.EventKind, data map[string]any) {
	if !e.ready {
		e.logger.Debug("analytics not initialized yet, event dropped", "event_type", kind)
		return
	}
	now := e.now()
	e.queue.Enqueue(e.newEventLocked(kind, data, now))
	e.identity.TouchActivity(now)
	e.logger.Debug("event queued", "event_type", kind)
}

func (e *Engine) newEventLocked(kind models.EventKind, data map[string]any, now time.Time) models.Event {
	page := e.page.CurrentPage()
	if data == nil {
		data = map[string]any{}
	} else {
		data = maps.Clone(data)
	}
	return models.Event{
		SessionID: e.session.ID,
		VisitorID: e.visitorID,
		Type:      kind,
		Data:      data,
		PageURL:   page.Path,
		PageTitle: page.Title,
		CreatedAt: now.UTC().Truncate(time.Millisecond),
	}
}

// Flush delivers the queue now. The error is informational: failed events
// are already back in the queue.
func (e *Engine) Flush(ctx context.Context) error {
	return e.channel.Flush(ctx)
}

// scheduledFlush runs detached from the page lifetime so that unloading
// does not abort a delivery already on the wire.
func (e *Engine) scheduledFlush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ReliableTimeout)
	defer cancel()
	// Failures are logged by the channel and retried on the next tick.
	_ = e.channel.Flush(ctx)
}

func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.ID
}

func (e *Engine) VisitorID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visitorID
}

// QueueLen reports how many events are waiting for delivery.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

func (e *Engine) EnableDebug() {
	observability.Level.Set(slog.LevelDebug)
}

// Close stops the flush timer without a teardown delivery.
func (e *Engine) Close() {
	e.scheduler.Stop()
	e.cancel()
}

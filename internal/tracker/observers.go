package tracker

import (
	"context"
	"math"

	"github.com/vincentbai/shoptrace/internal/models"
)

// OnScroll records the latest scroll position. Depth is evaluated at most
// once per animation frame, against the position current at that frame.
func (e *Engine) OnScroll(pos ScrollPosition) {
	e.mu.Lock()
	if !e.observing {
		e.mu.Unlock()
		return
	}
	e.scroll = pos
	if e.framePending {
		e.mu.Unlock()
		return
	}
	e.framePending = true
	e.mu.Unlock()

	e.frames.RequestFrame(e.checkScrollDepth)
}

func (e *Engine) checkScrollDepth() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.framePending = false

	scrollable := e.scroll.DocumentHeight - e.scroll.ViewportHeight
	if scrollable <= 0 {
		return
	}
	percent := int(math.Round(e.scroll.Top / scrollable * 100))

	for _, threshold := range e.cfg.ScrollThresholds {
		if percent >= threshold && !e.reached[threshold] {
			e.reached[threshold] = true
			e.trackLocked(models.KindScrollDepth, map[string]any{"depth": threshold})
		}
	}
}

// OnVisibilityChange handles the page being hidden or shown again. Hiding
// flushes right away since mobile browsers may freeze timers in the
// background.
func (e *Engine) OnVisibilityChange(ctx context.Context, hidden bool) {
	e.mu.Lock()
	if !e.observing {
		e.mu.Unlock()
		return
	}
	now := e.now()

	if hidden {
		e.hidden = true
		e.hiddenAt = now
		e.mu.Unlock()
		_ = e.channel.Flush(ctx)
		return
	}
	defer e.mu.Unlock()

	if !e.hidden {
		return
	}
	e.hidden = false
	away := int(math.Round(now.Sub(e.hiddenAt).Seconds()))
	if away > int(math.Round(e.cfg.TabReturnMinAway.Seconds())) {
		e.trackLocked(models.KindTabReturn, map[string]any{"away_seconds": away})
	}
}

// OnUnload closes the session: it queues session_end and hands the whole
// queue, including batches an in-flight flush puts back, to the reliable
// transport. It runs once per page.
func (e *Engine) OnUnload(ctx context.Context) {
	e.mu.Lock()
	if !e.observing || e.unloaded {
		e.mu.Unlock()
		return
	}
	e.unloaded = true
	now := e.now()
	duration := int(math.Round(now.Sub(e.session.StartedAt).Seconds()))
	final := e.newEventLocked(models.KindSessionEnd, map[string]any{"duration_seconds": duration}, now)
	e.mu.Unlock()

	e.scheduler.Stop()
	e.channel.FlushReliable(ctx, final)
	e.cancel()
}

// Package delivery writes queued events to the ingestion endpoint.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vincentbai/shoptrace/internal/models"
	"github.com/vincentbai/shoptrace/internal/queue"
)

var ErrDeliveryFailed = errors.New("delivery failed")

// Bounds the teardown request when the ingestor has no reliable transport.
const detachedTimeout = 10 * time.Second

// Ingestor is the insert-only ingestion endpoint.
type Ingestor interface {
	InsertSession(ctx context.Context, session models.Session) error
	InsertEvents(ctx context.Context, events []models.Event) error
}

// ReliableSender delivers a final batch while the page is being torn down.
// Implementations must let the request finish even if ctx is cancelled.
type ReliableSender interface {
	SendReliable(ctx context.Context, events []models.Event) error
}

// detachedSender makes a plain ingestor usable at teardown by running the
// insert on a context that ignores the caller's cancellation.
type detachedSender struct {
	ingestor Ingestor
	timeout  time.Duration
}

func (d detachedSender) SendReliable(ctx context.Context, events []models.Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	return d.ingestor.InsertEvents(ctx, events)
}

type Channel struct {
	queue    *queue.Queue
	ingestor Ingestor
	reliable ReliableSender
	logger   *slog.Logger

	// Flushes hold it shared; the teardown delivery holds it exclusively so
	// it sees every batch an in-flight flush put back.
	sending sync.RWMutex
}

// NewChannel wires a queue to its endpoint. A nil reliable sender falls back
// to a detached insert through the ingestor.
func NewChannel(q *queue.Queue, ingestor Ingestor, reliable ReliableSender, logger *slog.Logger) *Channel {
	if reliable == nil && ingestor != nil {
		reliable = detachedSender{ingestor: ingestor, timeout: detachedTimeout}
	}
	return &Channel{
		queue:    q,
		ingestor: ingestor,
		reliable: reliable,
		logger:   logger,
	}
}

// Flush delivers everything queued as one batch. On failure the whole batch
// goes back to the front of the queue for the next flush.
func (c *Channel) Flush(ctx context.Context) error {
	c.sending.RLock()
	defer c.sending.RUnlock()

	batch := c.queue.Drain()
	if len(batch) == 0 {
		return nil
	}

	if err := c.ingestor.InsertEvents(ctx, batch); err != nil {
		c.queue.RequeueFront(batch)
		c.logger.Error("error sending events", "count", len(batch), "error", err)
		return fmt.Errorf("%w: %d events requeued: %w", ErrDeliveryFailed, len(batch), err)
	}

	c.logger.Debug("events sent", "count", len(batch))
	return nil
}

// FlushReliable waits for in-flight flushes, appends the closing event and
// makes a single teardown delivery attempt. Failures are logged and dropped.
func (c *Channel) FlushReliable(ctx context.Context, final models.Event) {
	c.sending.Lock()
	defer c.sending.Unlock()

	c.queue.Enqueue(final)
	batch := c.queue.Drain()

	if c.reliable == nil {
		c.logger.Warn("no reliable transport, teardown batch dropped", "count", len(batch))
		return
	}
	if err := c.reliable.SendReliable(ctx, batch); err != nil {
		c.logger.Debug("teardown delivery failed", "count", len(batch), "error", err)
		return
	}
	c.logger.Debug("teardown events sent", "count", len(batch))
}

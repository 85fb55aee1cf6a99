// Package queue holds events waiting for delivery.
package queue

import (
	"sync"

	"github.com/vincentbai/shoptrace/internal/models"
)

// Queue is an unbounded FIFO of pending events. All operations are safe for
// concurrent use; Drain and RequeueFront are atomic with respect to Enqueue.
type Queue struct {
	mu     sync.Mutex
	events []models.Event
}

func New() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(e models.Event) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
}

// Drain removes and returns everything queued, leaving the queue empty.
func (q *Queue) Drain() []models.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.events
	q.events = nil
	return drained
}

// RequeueFront puts events back ahead of anything enqueued since they were
// drained, keeping their relative order.
func (q *Queue) RequeueFront(events []models.Event) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := make([]models.Event, 0, len(events)+len(q.events))
	merged = append(merged, events...)
	merged = append(merged, q.events...)
	q.events = merged
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

package queue

import (
	"sync"
	"testing"

	"github.com/vincentbai/shoptrace/internal/models"
)

func ev(kind string) models.Event {
	return models.Event{Type: models.EventKind(kind)}
}

func kinds(events []models.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e.Type)
	}
	return out
}

func assertKinds(t *testing.T, got []models.Event, want ...string) {
	t.Helper()
	g := kinds(got)
	if len(g) != len(want) {
		t.Fatalf("Expected %v, got %v", want, g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, g)
		}
	}
}

func TestDrainPreservesOrder(t *testing.T) {
	q := New()
	q.Enqueue(ev("A"))
	q.Enqueue(ev("B"))
	q.Enqueue(ev("C"))

	assertKinds(t, q.Drain(), "A", "B", "C")

	if q.Len() != 0 {
		t.Errorf("Expected empty queue after drain, got %d", q.Len())
	}
	if got := q.Drain(); len(got) != 0 {
		t.Errorf("Expected empty drain, got %v", kinds(got))
	}
}

func TestRequeueFrontPrecedesNewEvents(t *testing.T) {
	q := New()
	q.Enqueue(ev("A"))
	q.Enqueue(ev("B"))

	failed := q.Drain()
	q.Enqueue(ev("C"))
	q.RequeueFront(failed)

	assertKinds(t, q.Drain(), "A", "B", "C")
}

func TestRequeueFrontEmpty(t *testing.T) {
	q := New()
	q.Enqueue(ev("A"))
	q.RequeueFront(nil)

	assertKinds(t, q.Drain(), "A")
}

func TestDrainedSliceIsDetached(t *testing.T) {
	q := New()
	q.Enqueue(ev("A"))
	drained := q.Drain()
	q.Enqueue(ev("B"))

	assertKinds(t, drained, "A")
}

func TestUnboundedGrowthUnderRepeatedFailure(t *testing.T) {
	q := New()
	for cycle := 0; cycle < 100; cycle++ {
		for i := 0; i < 10; i++ {
			q.Enqueue(ev("E"))
		}
		q.RequeueFront(q.Drain())
	}

	if q.Len() != 1000 {
		t.Errorf("Expected queue to keep all 1000 events, got %d", q.Len())
	}
}

func TestConcurrentDrainsAreDisjoint(t *testing.T) {
	q := New()
	const total = 5000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			q.Enqueue(ev("E"))
		}
	}()

	var mu sync.Mutex
	seen := 0
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				n := len(q.Drain())
				mu.Lock()
				seen += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	seen += len(q.Drain())
	if seen != total {
		t.Errorf("Expected %d events across drains, got %d", total, seen)
	}
}

package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler triggers a flush every interval. Ticks never wait for an
// earlier flush to finish, so slow deliveries may overlap.
type Scheduler struct {
	interval time.Duration
	flush    func(ctx context.Context)

	started  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewScheduler(interval time.Duration, flush func(ctx context.Context)) *Scheduler {
	return &Scheduler{
		interval: interval,
		flush:    flush,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the ticker loop. Calls after the first are ignored.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				go s.flush(ctx)
			}
		}
	}()
}

// Stop ends the ticker loop. In-flight flushes are left to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

package batch

import (
	"context"
	"sync"
	"time"
)

// pacer throttles the pool: after every Nth completion, workers hold off
// pulling new items until the interval has passed.
type pacer struct {
	mu        sync.Mutex
	every     int
	interval  time.Duration
	completed int
	resumeAt  time.Time
}

func newPacer(every int, interval time.Duration) *pacer {
	return &pacer{every: every, interval: interval}
}

func (p *pacer) complete() {
	if p.interval <= 0 || p.every <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	if p.completed%p.every == 0 {
		p.resumeAt = time.Now().Add(p.interval)
	}
}

// wait blocks until the current pacing window has passed. Cancellation interrupts it.
func (p *pacer) wait(ctx context.Context) error {
	p.mu.Lock()
	d := time.Until(p.resumeAt)
	p.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package batch

import (
	"fmt"
	"sync"
	"time"
)

// Estimate is a remaining-time estimate. Ready is false while the estimate is
// still being calculated (no completed units yet or no measurable elapsed time).
type Estimate struct {
	Ready     bool          `json:"ready"`
	Remaining time.Duration `json:"remaining"`
}

// String renders the estimate as h/m/s or the calculating placeholder.
func (e Estimate) String() string {
	if !e.Ready {
		return EstimatePlaceholder
	}
	return FormatDuration(e.Remaining)
}

// EstimateRemaining derives the remaining time from the observed throughput:
// rate = elapsed/done, remaining = rate*(total-done).
func EstimateRemaining(elapsed time.Duration, done, total int) Estimate {
	if done <= 0 || elapsed <= 0 {
		return Estimate{}
	}
	left := total - done
	if left < 0 {
		left = 0
	}
	rate := elapsed / time.Duration(done)
	return Estimate{Ready: true, Remaining: rate * time.Duration(left)}
}

// FormatDuration renders d as a non-negative h/m/s string such as 1h02m03s, 4m05s or 7s.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// PauseSource supplies paused durations for ETA math. The Controller implements it.
type PauseSource interface {
	RunPaused() time.Duration
	ItemPaused(itemID int) time.Duration
}

// Tracker converts raw unit-completion events into per-item and run-level
// progress and remaining-time estimates.
type Tracker struct {
	mu         sync.Mutex
	now        func() time.Time
	pauses     PauseSource
	runStart   time.Time
	totalItems int
	doneItems  int
	// preSkipped items were excluded before the run and took no time.
	preSkipped int
	itemStart  map[int]time.Time
}

// NewTracker creates a Tracker for a run of totalItems items.
func NewTracker(totalItems int, pauses PauseSource, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:        now,
		pauses:     pauses,
		runStart:   now(),
		totalItems: totalItems,
		itemStart:  make(map[int]time.Time),
	}
}

// StartItem records the start timestamp of an item.
func (t *Tracker) StartItem(itemID int) {
	t.mu.Lock()
	t.itemStart[itemID] = t.now()
	t.mu.Unlock()
}

// Sample records a progress event and returns it with the item's estimate.
func (t *Tracker) Sample(itemID, done, total int) (ProgressSample, Estimate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	start, ok := t.itemStart[itemID]
	if !ok {
		start = now
		t.itemStart[itemID] = start
	}
	elapsed := now.Sub(start)
	if t.pauses != nil {
		elapsed -= t.pauses.ItemPaused(itemID)
	}
	sample := ProgressSample{ItemID: itemID, Done: done, Total: total, Timestamp: now}
	return sample, EstimateRemaining(elapsed, done, total)
}

// FinishItem forgets the item's samples and advances run-level progress.
func (t *Tracker) FinishItem(itemID int) (done, total int, eta Estimate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.itemStart, itemID)
	t.doneItems++
	return t.doneItems, t.totalItems, t.runEstimateLocked()
}

// SkipItem advances run-level progress for an item excluded before any work
// started. It does not count toward the run-level rate.
func (t *Tracker) SkipItem(itemID int) (done, total int, eta Estimate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.itemStart, itemID)
	t.doneItems++
	t.preSkipped++
	return t.doneItems, t.totalItems, t.runEstimateLocked()
}

// RunProgress reports items done, total and the run-level estimate.
func (t *Tracker) RunProgress() (done, total int, eta Estimate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doneItems, t.totalItems, t.runEstimateLocked()
}

// RunElapsed returns the active (non-paused) run time so far.
func (t *Tracker) RunElapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runElapsedLocked()
}

func (t *Tracker) runElapsedLocked() time.Duration {
	elapsed := t.now().Sub(t.runStart)
	if t.pauses != nil {
		elapsed -= t.pauses.RunPaused()
	}
	return elapsed
}

func (t *Tracker) runEstimateLocked() Estimate {
	worked, workload := t.doneItems-t.preSkipped, t.totalItems-t.preSkipped
	if workload <= 0 {
		return Estimate{Ready: true}
	}
	return EstimateRemaining(t.runElapsedLocked(), worked, workload)
}

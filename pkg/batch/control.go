package batch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ControlState is the run-level state of the Controller.
type ControlState string

const (
	StateRunning         ControlState = "running"
	StatePaused          ControlState = "paused"
	StateCancelRequested ControlState = "cancel_requested"
	StateCancelled       ControlState = "cancelled"
)

// Controller is the RunState shared by all workers of a run: pause/resume,
// write-once cancellation, paused-duration accounting and the alternate output
// directory override. Every field is guarded by mu.
//
// Workers never block on their own; they call Checkpoint from inside the
// progress callback, which is where pause and cancellation take effect.
type Controller struct {
	mu           sync.Mutex
	now          func() time.Time
	startedAt    time.Time
	pausedTotal  time.Duration
	pauseStart   time.Time
	resume       chan struct{}
	cancelled    bool
	acknowledged bool
	altDir       string
	itemPaused   map[int]time.Duration

	watchdog time.Duration
	timer    *time.Timer
	expired  chan struct{}
	onCancel func()
}

// NewController creates a Controller in the running state.
func NewController(watchdog time.Duration, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	if watchdog <= 0 {
		watchdog = DefaultWatchdogTimeout
	}
	return &Controller{
		now:        now,
		startedAt:  now(),
		itemPaused: make(map[int]time.Duration),
		watchdog:   watchdog,
		expired:    make(chan struct{}),
	}
}

// bindCancel registers the function that stops the engine's scheduling context.
func (c *Controller) bindCancel(fn func()) {
	c.mu.Lock()
	c.onCancel = fn
	already := c.cancelled
	c.mu.Unlock()
	if already && fn != nil {
		fn()
	}
}

// StartedAt returns the run start timestamp.
func (c *Controller) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// State reports the current run-level state.
func (c *Controller) State() ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.cancelled && c.acknowledged:
		return StateCancelled
	case c.cancelled:
		return StateCancelRequested
	case !c.pauseStart.IsZero():
		return StatePaused
	}
	return StateRunning
}

// Pause sets the pause flag and records the pause start. It returns false if the
// run is already paused or cancelled.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled || !c.pauseStart.IsZero() {
		return false
	}
	c.pauseStart = c.now()
	c.resume = make(chan struct{})
	return true
}

// Resume ends the current pause, adds its duration to the run accumulator and to
// every active item's accumulator, and releases waiting workers.
func (c *Controller) Resume() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pauseStart.IsZero() {
		return 0, false
	}
	return c.endPauseLocked(), true
}

// TogglePause pauses a running run or resumes a paused one.
func (c *Controller) TogglePause() ControlState {
	if c.Pause() {
		return StatePaused
	}
	c.Resume()
	return c.State()
}

func (c *Controller) endPauseLocked() time.Duration {
	d := c.now().Sub(c.pauseStart)
	if d < 0 {
		d = 0
	}
	c.pausedTotal += d
	for id := range c.itemPaused {
		c.itemPaused[id] += d
	}
	c.pauseStart = time.Time{}
	close(c.resume)
	c.resume = nil
	return d
}

// Cancel requests cancellation. The flag is write-once: repeated calls are no-ops.
// An active pause is ended so waiting workers observe the cancellation, and the
// watchdog starts counting.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	if !c.pauseStart.IsZero() {
		c.endPauseLocked()
	}
	c.armWatchdogLocked()
	fn := c.onCancel
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// armWatchdog starts the watchdog without requesting cancellation. The engine
// uses it when a critical error halts scheduling.
func (c *Controller) armWatchdog() {
	c.mu.Lock()
	c.armWatchdogLocked()
	c.mu.Unlock()
}

func (c *Controller) armWatchdogLocked() {
	if c.timer != nil {
		return
	}
	expired := c.expired
	c.timer = time.AfterFunc(c.watchdog, func() { close(expired) })
}

// Cancelled reports whether cancellation was requested.
func (c *Controller) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// WatchdogExpired is closed when the watchdog fires after a cancellation request.
func (c *Controller) WatchdogExpired() <-chan struct{} {
	return c.expired
}

// acknowledge moves a cancel request to the terminal cancelled state and stops the watchdog.
func (c *Controller) acknowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.cancelled {
		c.acknowledged = true
	}
}

// Checkpoint is called from a worker's progress callback. It returns ErrCancelled
// once cancellation was requested and blocks while the run is paused.
func (c *Controller) Checkpoint(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.cancelled {
			c.mu.Unlock()
			return ErrCancelled
		}
		if c.pauseStart.IsZero() {
			c.mu.Unlock()
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			return nil
		}
		wait := c.resume
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
	}
}

// BeginItem starts paused-duration accounting for an item.
func (c *Controller) BeginItem(itemID int) {
	c.mu.Lock()
	c.itemPaused[itemID] = 0
	c.mu.Unlock()
}

// EndItem stops accounting for an item and returns its accumulated paused time.
func (c *Controller) EndItem(itemID int) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.itemPaused[itemID]
	delete(c.itemPaused, itemID)
	return d
}

// TotalPaused returns the accumulated paused duration of completed pauses.
func (c *Controller) TotalPaused() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pausedTotal
}

// RunPaused implements PauseSource. An ongoing pause counts up to now.
func (c *Controller) RunPaused() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pausedTotal + c.ongoingLocked()
}

// ItemPaused implements PauseSource.
func (c *Controller) ItemPaused(itemID int) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, active := c.itemPaused[itemID]
	if !active {
		return 0
	}
	return d + c.ongoingLocked()
}

func (c *Controller) ongoingLocked() time.Duration {
	if c.pauseStart.IsZero() {
		return 0
	}
	if d := c.now().Sub(c.pauseStart); d > 0 {
		return d
	}
	return 0
}

// SetAlternateDir installs the alternate output directory for all subsequent items.
func (c *Controller) SetAlternateDir(dir string) {
	c.mu.Lock()
	c.altDir = dir
	c.mu.Unlock()
}

// AlternateDir returns the alternate output directory, or "" when none is set.
func (c *Controller) AlternateDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.altDir
}

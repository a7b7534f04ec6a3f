package batch

import (
	"context"
	"log/slog"
	"time"
)

// ProgressFunc is handed to a Transform for each item. It must be called with
// units in increasing order. A non-nil return (ErrCancelled) tells the transform
// to stop and return that error.
type ProgressFunc func(unit, total int) error

// Transform is the external per-item operation orchestrated by the Engine
// (compression, merge staging, page split, OCR). Apply is called from worker
// goroutines and must be safe for concurrent use. Failures are reported by
// returning an error wrapping ErrItem, ErrPermission or ErrSkip.
type Transform interface {
	Name() string
	Apply(ctx context.Context, item WorkItem, progress ProgressFunc) (Output, error)
}

// Hooks defines the caller-facing notification surface. The Engine invokes all
// methods from a single goroutine, in the order the events were produced, so an
// implementation never observes interleaved state from two workers.
type Hooks interface {
	OnItemStatus(item WorkItem) error
	OnItemProgress(item WorkItem, sample ProgressSample, eta Estimate) error
	OnRunProgress(done, total int, eta Estimate) error
	OnItemComplete(item WorkItem, rec ResultRecord) error
	OnRunComplete(report Report) error
}

// NoOpHooks provides a default, do-nothing implementation of the Hooks interface.
type NoOpHooks struct{}

// OnItemStatus implements the Hooks interface. It performs no action.
func (h *NoOpHooks) OnItemStatus(item WorkItem) error { return nil }

// OnItemProgress implements the Hooks interface. It performs no action.
func (h *NoOpHooks) OnItemProgress(item WorkItem, sample ProgressSample, eta Estimate) error {
	return nil
}

// OnRunProgress implements the Hooks interface. It performs no action.
func (h *NoOpHooks) OnRunProgress(done, total int, eta Estimate) error { return nil }

// OnItemComplete implements the Hooks interface. It performs no action.
func (h *NoOpHooks) OnItemComplete(item WorkItem, rec ResultRecord) error { return nil }

// OnRunComplete implements the Hooks interface. It performs no action.
func (h *NoOpHooks) OnRunComplete(report Report) error { return nil }

// Manifest remembers completed items across runs so unchanged inputs can be skipped.
type Manifest interface {
	// Check reports whether item was already produced by an earlier run and is unchanged.
	Check(item WorkItem) bool
	// Update records the outcome of an item. Must be safe for concurrent use.
	Update(rec ResultRecord) error
	// Persist writes the manifest to path.
	Persist(path string) error
}

// NoOpManifest is used when resuming is disabled.
type NoOpManifest struct{}

// Check implements Manifest, always reporting a miss.
func (m *NoOpManifest) Check(item WorkItem) bool { return false }

// Update implements Manifest, performs no action.
func (m *NoOpManifest) Update(rec ResultRecord) error { return nil }

// Persist implements Manifest, performs no action.
func (m *NoOpManifest) Persist(path string) error { return nil }

// Options holds the engine configuration for one run.
type Options struct {
	// --- Scheduling ---
	Concurrency     int           `mapstructure:"concurrency"` // Configured batch size (0 = hardware hint)
	Pacing          time.Duration `mapstructure:"pacing"`      // Sleep after every Nth completion
	WatchdogTimeout time.Duration `mapstructure:"watchdog"`    // Wait for in-flight items after cancel
	HardwareHint    int           `mapstructure:"-"`           // Parallelism hint (0 = runtime.NumCPU)

	// --- Conflicts ---
	OnConflict           ConflictPolicy `mapstructure:"onConflict"`
	MaxDirectoryAttempts int            `mapstructure:"-"`

	// --- Resume ---
	ManifestPath string `mapstructure:"-"`

	// --- Reporting ---
	Operation string `mapstructure:"-"` // Operation name recorded in the report

	// --- Injected Dependencies ---
	EventHooks Hooks            `mapstructure:"-"` // Optional: defaults to NoOpHooks
	Logger     slog.Handler     `mapstructure:"-"` // Required: logging backend
	Decider    Decider          `mapstructure:"-"` // Required when OnConflict is "ask"
	Manifest   Manifest         `mapstructure:"-"` // Optional: defaults to NoOpManifest
	Controller *Controller      `mapstructure:"-"` // Optional: shared so the caller can pause/cancel
	Probe      WritableFunc     `mapstructure:"-"` // Optional: defaults to IsWritable
	Now        func() time.Time `mapstructure:"-"`
}

package hooks

import (
	"log/slog"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stackvity/pdf-toolkit/pkg/util"
)

// logPathWidth bounds paths in log lines.
const logPathWidth = 72

// --- TUI Message Structs ---

// ItemStatusMsg signals a change in an item's processing status.
type ItemStatusMsg struct{ Item batch.WorkItem }

// ItemProgressMsg carries one unit of progress for an item.
type ItemProgressMsg struct {
	Item   batch.WorkItem
	Sample batch.ProgressSample
	ETA    batch.Estimate
}

// RunProgressMsg carries run-level progress after an item finished.
type RunProgressMsg struct {
	Done  int
	Total int
	ETA   batch.Estimate
}

// ItemCompleteMsg signals that an item reached a terminal state.
type ItemCompleteMsg struct {
	Item   batch.WorkItem
	Record batch.ResultRecord
}

// RunCompleteMsg signals the completion of the entire run.
type RunCompleteMsg struct{ Report batch.Report }

// TUIProgram defines the interface needed to interact with the Bubble Tea program.
type TUIProgram interface {
	Send(msg interface{})
}

// NoOpTUIProgram provides a default null implementation.
type NoOpTUIProgram struct{}

// Send implements TUIProgram.
func (n *NoOpTUIProgram) Send(msg interface{}) {}

// CLIHooks implements batch.Hooks, bridging engine events to the TUI or, when
// the TUI is disabled, to the logger. The engine calls it from a single
// goroutine, so it holds no lock of its own.
type CLIHooks struct {
	logger         *slog.Logger
	tuiEnabled     bool
	verboseEnabled bool
	tuiProgram     TUIProgram
}

var _ batch.Hooks = (*CLIHooks)(nil)

// NewCLIHooks creates a new CLIHooks instance. Pass nil for tuiProg when no TUI runs.
func NewCLIHooks(logger *slog.Logger, tuiEnabled, verboseEnabled bool, tuiProg TUIProgram) *CLIHooks {
	if tuiProg == nil {
		tuiProg = &NoOpTUIProgram{}
	}
	return &CLIHooks{
		logger:         logger.With(slog.String("component", "hooks")),
		tuiEnabled:     tuiEnabled,
		verboseEnabled: verboseEnabled,
		tuiProgram:     tuiProg,
	}
}

// OnItemStatus implements batch.Hooks.
func (h *CLIHooks) OnItemStatus(item batch.WorkItem) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(ItemStatusMsg{Item: item})
		return nil
	}
	if h.verboseEnabled {
		h.logger.Debug("Item status changed",
			slog.Int("item", item.ID),
			slog.String("path", util.TruncatePath(item.Source, logPathWidth)),
			slog.String("status", string(item.Status)))
	}
	return nil
}

// OnItemProgress implements batch.Hooks.
func (h *CLIHooks) OnItemProgress(item batch.WorkItem, sample batch.ProgressSample, eta batch.Estimate) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(ItemProgressMsg{Item: item, Sample: sample, ETA: eta})
		return nil
	}
	if h.verboseEnabled {
		h.logger.Debug("Item progress",
			slog.Int("item", item.ID),
			slog.Int("done", sample.Done),
			slog.Int("total", sample.Total),
			slog.String("eta", eta.String()))
	}
	return nil
}

// OnRunProgress implements batch.Hooks.
func (h *CLIHooks) OnRunProgress(done, total int, eta batch.Estimate) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(RunProgressMsg{Done: done, Total: total, ETA: eta})
		return nil
	}
	h.logger.Info("Progress", slog.Int("done", done), slog.Int("total", total), slog.String("eta", eta.String()))
	return nil
}

// OnItemComplete implements batch.Hooks. Failures are logged even when the
// TUI is active so they survive the alternate screen.
func (h *CLIHooks) OnItemComplete(item batch.WorkItem, rec batch.ResultRecord) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(ItemCompleteMsg{Item: item, Record: rec})
		return nil
	}

	path := slog.String("path", util.TruncatePath(rec.Source, logPathWidth))
	switch rec.Status {
	case batch.StatusFailed:
		h.logger.Error("Item failed", path, slog.String("class", string(rec.Class)), slog.String("error", rec.Error))
	case batch.StatusSkipped:
		if h.verboseEnabled {
			h.logger.Info("Item skipped", path, slog.String("reason", rec.SkipReason))
		}
	case batch.StatusSucceeded:
		if h.verboseEnabled {
			h.logger.Info("Item done", path,
				slog.String("output", rec.Output),
				slog.Int64("durationMs", rec.DurationMs))
		}
	case batch.StatusCancelled:
		h.logger.Debug("Item cancelled", path)
	}
	return nil
}

// OnRunComplete implements batch.Hooks. The text summary itself is printed
// by the command once the engine returns.
func (h *CLIHooks) OnRunComplete(report batch.Report) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(RunCompleteMsg{Report: report})
		return nil
	}
	h.logger.Debug("Run complete",
		slog.String("runId", report.Summary.RunID),
		slog.Int("succeeded", report.Summary.Succeeded),
		slog.Int("failed", report.Summary.Failed))
	return nil
}

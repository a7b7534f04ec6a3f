package batch

import "time"

// Status defines the processing states a WorkItem moves through during a run.
type Status string

// Constants representing the defined item statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPaused     Status = "paused"
	StatusSkipped    Status = "skipped"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSkipped, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an item may move from s to next.
// Items only move forward, except for the processing <-> paused toggle.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next.IsTerminal()
	case StatusProcessing:
		return next == StatusPaused || next.IsTerminal()
	case StatusPaused:
		return next == StatusProcessing || next.IsTerminal()
	}
	return false
}

// ConflictPolicy selects how pre-existing outputs are handled for the whole run.
type ConflictPolicy string

const (
	PolicyAsk       ConflictPolicy = "ask"
	PolicyOverwrite ConflictPolicy = "overwrite"
	PolicySkip      ConflictPolicy = "skip"
	PolicyAbort     ConflictPolicy = "abort"
)

// OutputFormat defines the format for the final summary printed by the CLI.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// WorkItem is one document (or page set) scheduled for transformation within a run.
type WorkItem struct {
	ID     int    `json:"id"`
	Source string `json:"source"`
	Output string `json:"output"`
	Status Status `json:"status"`
	// SkipReason is set when the item was excluded before or during the run.
	SkipReason string `json:"skipReason,omitempty"`
}

// ProgressSample is a single unit-completion event reported by a Transform.
// It feeds ETA math and is not retained once the item finishes.
type ProgressSample struct {
	ItemID    int       `json:"itemId"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// Output is what a Transform returns for a successfully processed item.
type Output struct {
	Path         string
	OriginalSize int64
	ResultSize   int64
}

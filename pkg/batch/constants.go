package batch

import "time"

// Defaults used when Options leave a value unset. The CLI registers the same
// values as viper defaults.
const (
	// DefaultConcurrency caps the pool size. 0 means the hardware hint alone applies.
	DefaultConcurrency = 4
	// DefaultPacing is the pause between batches of completions.
	DefaultPacing = 0 * time.Second
	// DefaultWatchdogTimeout bounds how long a cancelled run waits for in-flight items.
	DefaultWatchdogTimeout = 5 * time.Second
	// DefaultMaxDirectoryAttempts bounds alternate-directory selection.
	DefaultMaxDirectoryAttempts = 3
	// DefaultConflictPolicy asks the Decider.
	DefaultConflictPolicy = PolicyAsk
	// DefaultOutputFormat is the default format for the final summary report.
	DefaultOutputFormat = OutputFormatText
	// DefaultDisplayCap is how many skipped or failed entries a summary lists before "and N more".
	DefaultDisplayCap = 5
)

// ReportSchemaVersion indicates the version of the JSON report structure.
const ReportSchemaVersion = "1.0"

// Skip reasons recorded on WorkItems and ResultRecords.
const (
	SkipReasonOutputExists = "output_exists"
	SkipReasonUnchanged    = "unchanged"
	SkipReasonBelowMinSize = "below_min_size"
	SkipReasonEmpty        = "empty_file"
	SkipReasonEncrypted    = "encrypted"
)

// EstimatePlaceholder is shown instead of a remaining time until enough samples exist.
const EstimatePlaceholder = "calculating..."

// eventBufferSize sizes the notification channel per worker.
const eventBufferSize = 16

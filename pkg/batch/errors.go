package batch

import (
	"errors"
	"fmt"
	"strings"
)

// --- Exported Error Variables ---
// These represent the error taxonomy of a run. Transforms wrap them with
// fmt.Errorf("%w: ...") and callers check them with errors.Is.

var (
	// ErrItem indicates that a single item's transform failed. The batch continues
	// and the item is recorded as failed.
	ErrItem = errors.New("item processing failed")

	// ErrPermission indicates that an output directory is not writable. It is normally
	// resolved up front by the Resolver but may surface mid-run when discovered late.
	ErrPermission = errors.New("output directory not writable")

	// ErrCancelled is returned from a progress callback once cancellation was requested.
	// It aborts only the current item and is never counted as a failure.
	ErrCancelled = errors.New("processing cancelled")

	// ErrCritical marks a defect that escaped the per-item isolation boundary. The run
	// stops scheduling new items but completed results are preserved.
	ErrCritical = errors.New("critical processing error")

	// ErrSkip lets a transform decline an item for a policy reason (empty, encrypted,
	// below the minimum size). The item is recorded as skipped.
	ErrSkip = errors.New("item skipped")

	// ErrAborted is returned when the conflict decision aborted the run before any work started.
	ErrAborted = errors.New("run aborted")

	// ErrConfigValidation indicates that the provided Options or BatchJob failed validation.
	ErrConfigValidation = errors.New("invalid configuration options provided")
)

// ErrorClass is the classification recorded on a ResultRecord.
type ErrorClass string

const (
	ClassNone       ErrorClass = ""
	ClassItem       ErrorClass = "item"
	ClassPermission ErrorClass = "permission"
	ClassCancelled  ErrorClass = "cancelled"
	ClassCritical   ErrorClass = "critical"
	ClassSkip       ErrorClass = "skip"
)

// Classify maps an error returned across the per-item boundary onto its class.
// Unrecognised errors are item failures.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrCritical):
		return ClassCritical
	case errors.Is(err, ErrCancelled):
		return ClassCancelled
	case errors.Is(err, ErrSkip):
		return ClassSkip
	case errors.Is(err, ErrPermission):
		return ClassPermission
	default:
		return ClassItem
	}
}

// Skipf returns an error wrapping ErrSkip whose message is used as the skip reason.
func Skipf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrSkip}, args...)...)
}

// Itemf returns an error wrapping ErrItem.
func Itemf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrItem}, args...)...)
}

// SkipReason extracts the reason text from an error built with Skipf.
func SkipReason(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	prefix := ErrSkip.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}

package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
)

// listItem represents a single document in the TUI list.
type listItem struct {
	path         string
	status       batch.Status
	message      string // error or skip reason
	done         int
	total        int
	eta          batch.Estimate
	duration     time.Duration
	originalSize int64
	resultSize   int64
}

// FilterValue implements the list.Item interface.
func (i listItem) FilterValue() string { return i.path }

// Title implements the list.Item interface.
func (i listItem) Title() string { return i.path }

// Description implements the list.Item interface.
func (i listItem) Description() string {
	var statusStyle lipgloss.Style
	var statusIcon string
	details := ""

	switch i.status {
	case batch.StatusSucceeded:
		statusStyle, statusIcon = StatusStyleSuccess, "✓"
		details = formatDuration(i.duration)
		if i.resultSize > 0 && i.originalSize > 0 {
			details += fmt.Sprintf(" (%.1f%% smaller)", batch.ReductionRatio(i.originalSize, i.resultSize))
		}
	case batch.StatusFailed:
		statusStyle, statusIcon = StatusStyleFailed, "✗"
		details = i.message
	case batch.StatusSkipped:
		statusStyle, statusIcon = StatusStyleSkipped, "S"
		details = i.message
	case batch.StatusCancelled:
		statusStyle, statusIcon = StatusStyleCancelled, "-"
		details = "cancelled"
	case batch.StatusProcessing:
		statusStyle, statusIcon = StatusStyleProcessing, "…"
		if i.total > 0 {
			details = fmt.Sprintf("%d/%d, %s left", i.done, i.total, i.eta.String())
		}
	case batch.StatusPaused:
		statusStyle, statusIcon = StatusStylePaused, "‖"
		details = "paused"
	default:
		statusStyle, statusIcon = StatusStylePending, " "
	}

	return fmt.Sprintf("%s %s", statusStyle.Render("["+statusIcon+"]"), details)
}

// formatDuration formats an item duration for display.
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return ""
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

const (
	ColorHeaderFg = lipgloss.Color("252") // Light Gray
	ColorHeaderBg = lipgloss.Color("24")  // Steel blue

	ColorFooterFg = lipgloss.Color("252")
	ColorFooterBg = lipgloss.Color("23")

	ColorNormalFg     = lipgloss.Color("250")
	ColorNormalDescFg = lipgloss.Color("244")

	ColorSelectedFg     = lipgloss.Color("255")
	ColorSelectedBg     = lipgloss.Color("23")
	ColorSelectedDescFg = lipgloss.Color("248")

	ColorStatusSuccess    = lipgloss.Color("40")  // Green
	ColorStatusFailed     = lipgloss.Color("196") // Red
	ColorStatusSkipped    = lipgloss.Color("214") // Orange
	ColorStatusCancelled  = lipgloss.Color("245")
	ColorStatusPaused     = lipgloss.Color("39") // Blue
	ColorStatusPending    = lipgloss.Color("244")
	ColorStatusProcessing = lipgloss.Color("205") // Pink, matches spinner
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHeaderFg).
			Background(ColorHeaderBg).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorFooterFg).
			Background(ColorFooterBg).
			Padding(0, 1)

	StatusStyleSuccess    = lipgloss.NewStyle().Foreground(ColorStatusSuccess)
	StatusStyleFailed     = lipgloss.NewStyle().Foreground(ColorStatusFailed)
	StatusStyleSkipped    = lipgloss.NewStyle().Foreground(ColorStatusSkipped)
	StatusStyleCancelled  = lipgloss.NewStyle().Foreground(ColorStatusCancelled)
	StatusStylePaused     = lipgloss.NewStyle().Foreground(ColorStatusPaused)
	StatusStylePending    = lipgloss.NewStyle().Foreground(ColorStatusPending)
	StatusStyleProcessing = lipgloss.NewStyle().Foreground(ColorStatusProcessing)
)

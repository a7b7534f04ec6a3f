package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stackvity/pdf-toolkit/internal/cli/hooks"
	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stackvity/pdf-toolkit/pkg/util"
)

const (
	// listHeightMargin covers the header, progress line and footer.
	listHeightMargin = 5
	// pathWidth bounds item titles.
	pathWidth = 60
	// progressMargin is the room left beside the run progress bar for counts and ETA.
	progressMargin = 32
	// listUpdateInterval limits list refreshes to about 20 per second.
	listUpdateInterval = 50 * time.Millisecond
)

// Phase messages shown in the header.
const (
	phaseWaiting    = "Waiting..."
	phaseProcessing = "Processing..."
	phasePaused     = "Paused"
	phaseCancelling = "Cancelling..."
	phaseComplete   = "Complete"
	phaseCancelled  = "Cancelled"
)

// Controls is the subset of the run controller driven by key presses.
// *batch.Controller implements it.
type Controls interface {
	TogglePause() batch.ControlState
	Cancel()
}

// Model represents the state of the TUI application.
type Model struct {
	list     list.Model
	spinner  spinner.Model
	progress progress.Model

	width       int
	height      int
	initialized bool

	operation string
	controls  Controls
	state     batch.ControlState

	// items is indexed by WorkItem.ID.
	items []listItem

	runDone  int
	runTotal int
	runETA   batch.Estimate
	counts   Summary

	phaseMessage string
	fatalError   string
	quitting     bool
	complete     bool
	listPending  bool
}

// Summary holds the per-status counts displayed in the footer.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled int
}

// NewModel creates the TUI for a run over items. controls may be nil, which
// disables the pause and cancel keys.
func NewModel(operation string, items []batch.WorkItem, controls Controls) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ColorStatusProcessing)

	delegate := list.NewDefaultDelegate()
	delegate.SetSpacing(0)
	delegate.ShowDescription = true
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(ColorSelectedFg).
		Background(ColorSelectedBg).
		Bold(true).
		Padding(0, 0, 0, 1)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(ColorSelectedDescFg).
		Background(ColorSelectedBg).
		Padding(0, 0, 0, 1)
	delegate.Styles.NormalTitle = delegate.Styles.NormalTitle.
		Foreground(ColorNormalFg).Padding(0, 0, 0, 1)
	delegate.Styles.NormalDesc = delegate.Styles.NormalDesc.
		Foreground(ColorNormalDescFg).Padding(0, 0, 0, 1)

	entries := make([]listItem, len(items))
	listItems := make([]list.Item, len(items))
	var counts Summary
	for i, it := range items {
		entries[i] = listItem{path: util.TruncatePath(it.Source, pathWidth), status: it.Status}
		if it.Status == batch.StatusSkipped {
			// excluded before the run started
			entries[i].message = it.SkipReason
			counts.Skipped++
		}
		listItems[i] = entries[i]
	}

	l := list.New(listItems, delegate, 0, 0)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetShowTitle(false)
	l.SetShowFilter(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	return &Model{
		list:         l,
		spinner:      s,
		progress:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		operation:    operation,
		controls:     controls,
		state:        batch.StateRunning,
		items:        entries,
		counts:       counts,
		runTotal:     len(items),
		phaseMessage: phaseWaiting,
	}
}

// Init starts the spinner.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles key presses and engine messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listHeight := m.height - listHeightMargin
		if listHeight < 1 {
			listHeight = 1
		}
		m.list.SetSize(m.width, listHeight)
		m.progress.Width = max(m.width-progressMargin, 10)
		m.initialized = true

	case tea.KeyMsg:
		if m.quitting {
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			m.quitting = true
			return m, tea.Quit
		case "p":
			m.togglePause()
			return m, nil
		case "c":
			m.cancel()
			return m, nil
		}
		var listCmd tea.Cmd
		m.list, listCmd = m.list.Update(msg)
		cmds = append(cmds, listCmd)

	case spinner.TickMsg:
		if m.quitting || m.complete {
			return m, nil
		}
		var spinnerCmd tea.Cmd
		m.spinner, spinnerCmd = m.spinner.Update(msg)
		cmds = append(cmds, spinnerCmd)

	case hooks.ItemStatusMsg:
		if it := m.item(msg.Item.ID); it != nil {
			it.status = msg.Item.Status
			if msg.Item.Status == batch.StatusProcessing {
				it.done, it.total, it.eta = 0, 0, batch.Estimate{}
				if m.phaseMessage == phaseWaiting {
					m.phaseMessage = phaseProcessing
				}
			}
			cmds = append(cmds, m.scheduleListUpdate())
		}

	case hooks.ItemProgressMsg:
		if it := m.item(msg.Item.ID); it != nil {
			it.done = msg.Sample.Done
			it.total = msg.Sample.Total
			it.eta = msg.ETA
			cmds = append(cmds, m.scheduleListUpdate())
		}

	case hooks.ItemCompleteMsg:
		if it := m.item(msg.Record.ItemID); it != nil {
			if !it.status.IsTerminal() {
				m.count(msg.Record.Status)
			}
			it.status = msg.Record.Status
			it.message = msg.Record.Error
			if msg.Record.Status == batch.StatusSkipped {
				it.message = msg.Record.SkipReason
			}
			it.duration = time.Duration(msg.Record.DurationMs) * time.Millisecond
			it.originalSize = msg.Record.OriginalSize
			it.resultSize = msg.Record.ResultSize
			cmds = append(cmds, m.scheduleListUpdate())
		}

	case hooks.RunProgressMsg:
		m.runDone = msg.Done
		m.runTotal = msg.Total
		m.runETA = msg.ETA

	case hooks.RunCompleteMsg:
		s := msg.Report.Summary
		m.complete = true
		m.counts = Summary{Succeeded: s.Succeeded, Failed: s.Failed, Skipped: s.Skipped, Cancelled: s.Cancelled}
		m.runDone = s.Succeeded + s.Failed + s.Skipped + s.Cancelled
		m.runTotal = s.Total
		m.phaseMessage = phaseComplete
		if s.CancelRequested {
			m.phaseMessage = phaseCancelled
		}
		if s.FatalErrorOccurred {
			m.fatalError = "Run halted due to a critical error."
			for _, rec := range msg.Report.Records {
				if rec.Class == batch.ClassCritical {
					m.fatalError = fmt.Sprintf("Critical error: %s (%s)", rec.Error, util.TruncatePath(rec.Source, pathWidth))
					break
				}
			}
		}
		cmds = append(cmds, m.refreshList(), tea.Quit)

	case UpdateListMsg:
		m.listPending = false
		cmds = append(cmds, m.refreshList())
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) item(id int) *listItem {
	if id < 0 || id >= len(m.items) {
		return nil
	}
	return &m.items[id]
}

func (m *Model) count(status batch.Status) {
	switch status {
	case batch.StatusSucceeded:
		m.counts.Succeeded++
	case batch.StatusFailed:
		m.counts.Failed++
	case batch.StatusSkipped:
		m.counts.Skipped++
	case batch.StatusCancelled:
		m.counts.Cancelled++
	}
}

func (m *Model) togglePause() {
	if m.controls == nil || m.complete || m.state == batch.StateCancelRequested {
		return
	}
	m.state = m.controls.TogglePause()
	switch m.state {
	case batch.StatePaused:
		m.phaseMessage = phasePaused
	case batch.StateRunning:
		m.phaseMessage = phaseProcessing
	}
}

func (m *Model) cancel() {
	if m.controls == nil || m.complete || m.state == batch.StateCancelRequested {
		return
	}
	m.controls.Cancel()
	m.state = batch.StateCancelRequested
	m.phaseMessage = phaseCancelling
}

// UpdateListMsg signals that the list component should update its items.
type UpdateListMsg struct{}

// scheduleListUpdate coalesces item changes into one list refresh per interval.
func (m *Model) scheduleListUpdate() tea.Cmd {
	if m.listPending {
		return nil
	}
	m.listPending = true
	return tea.Tick(listUpdateInterval, func(time.Time) tea.Msg { return UpdateListMsg{} })
}

func (m *Model) refreshList() tea.Cmd {
	items := make([]list.Item, len(m.items))
	for i, it := range m.items {
		items[i] = it
	}
	return m.list.SetItems(items)
}

// View renders the current state of the TUI model.
func (m *Model) View() string {
	if m.quitting {
		return "Exiting...\n"
	}
	if !m.initialized {
		return "Initializing..."
	}

	headerLeft := "pdf-toolkit " + m.operation
	headerRight := m.phaseMessage
	if !m.complete && m.state != batch.StatePaused && m.phaseMessage != phaseWaiting {
		headerRight = m.spinner.View() + " " + m.phaseMessage
	}
	header := HeaderStyle.Width(m.width).Render(spread(m.width-2, headerLeft, headerRight))

	percent := 0.0
	if m.runTotal > 0 {
		percent = float64(m.runDone) / float64(m.runTotal)
	}
	eta := "ETA " + m.runETA.String()
	if m.complete {
		eta = ""
	}
	progressLine := fmt.Sprintf("%s %d/%d %s", m.progress.ViewAs(percent), m.runDone, m.runTotal, eta)

	footerLeft := fmt.Sprintf("Succeeded: %d | Failed: %d | Skipped: %d | Cancelled: %d",
		m.counts.Succeeded, m.counts.Failed, m.counts.Skipped, m.counts.Cancelled)
	footerRight := "p: pause  c: cancel  q: quit"
	if m.state == batch.StatePaused {
		footerRight = "p: resume  c: cancel  q: quit"
	}
	if m.complete {
		footerRight = "q: quit"
	}
	footer := FooterStyle.Width(m.width).Render(spread(m.width-2, footerLeft, footerRight))

	errorView := ""
	if m.fatalError != "" {
		errorView = StatusStyleFailed.Render(m.fatalError) + "\n"
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.list.View(),
		progressLine,
		errorView,
		footer,
	)
}

// spread places left and right at the edges of a line of the given width.
func spread(width int, left, right string) string {
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + lipgloss.PlaceHorizontal(gap, lipgloss.Center, " ") + right
}

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stackvity/pdf-toolkit/pkg/util"
)

// ErrNotInteractive is returned when a conflict needs an answer but no terminal
// is available to ask on.
var ErrNotInteractive = errors.New("cannot prompt: not an interactive terminal (set --on-conflict)")

// promptPathWidth bounds paths printed in prompts.
const promptPathWidth = 70

// IsInteractive reports whether f is a terminal.
func IsInteractive(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// TerminalDecider implements batch.Decider by prompting on a terminal. A
// preset alternate directory answers the first directory question without a
// prompt.
type TerminalDecider struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	preset      string
	suspended   bool
}

var _ batch.Decider = (*TerminalDecider)(nil)

// NewTerminalDecider creates a decider reading answers from in and writing
// prompts to out. When interactive is false it never prompts.
func NewTerminalDecider(in io.Reader, out io.Writer, interactive bool, preset string) *TerminalDecider {
	return &TerminalDecider{in: bufio.NewReader(in), out: out, interactive: interactive, preset: preset}
}

// Suspend stops prompting, for example while a full-screen UI owns the terminal.
// Questions asked while suspended are declined.
func (d *TerminalDecider) Suspend(suspended bool) {
	d.mu.Lock()
	d.suspended = suspended
	d.mu.Unlock()
}

func (d *TerminalDecider) canPrompt() bool {
	return d.interactive && !d.suspended
}

// DecideExisting implements batch.Decider.
func (d *TerminalDecider) DecideExisting(existing []batch.WorkItem) (batch.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.canPrompt() {
		return "", ErrNotInteractive
	}

	shown, more := batch.Capped(existing, batch.DefaultDisplayCap)
	fmt.Fprintf(d.out, "%d output(s) already exist:\n", len(existing))
	for _, it := range shown {
		fmt.Fprintf(d.out, "  %s\n", util.TruncatePath(it.Output, promptPathWidth))
	}
	if more > 0 {
		fmt.Fprintf(d.out, "  ... and %d more\n", more)
	}
	for {
		fmt.Fprint(d.out, "[o]verwrite all, [s]kip existing, [a]bort? ")
		line, err := d.in.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "o", "overwrite":
			return batch.DecisionOverwrite, nil
		case "s", "skip":
			return batch.DecisionSkip, nil
		case "a", "abort":
			return batch.DecisionAbort, nil
		}
		if err != nil {
			fmt.Fprintln(d.out)
			return batch.DecisionAbort, nil
		}
	}
}

// ChooseDirectory implements batch.Decider. An empty answer gives up.
func (d *TerminalDecider) ChooseDirectory(attempt int, unwritable map[string]string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if attempt == 1 && d.preset != "" {
		return d.preset, nil
	}
	if !d.canPrompt() {
		return "", nil
	}

	dirs := make([]string, 0, len(unwritable))
	for dir := range unwritable {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	fmt.Fprintln(d.out, "Cannot write to:")
	for _, dir := range dirs {
		fmt.Fprintf(d.out, "  %s (%s)\n", util.TruncatePath(dir, promptPathWidth), unwritable[dir])
	}
	fmt.Fprintf(d.out, "Alternate output directory, attempt %d (empty to abort): ", attempt)
	line, err := d.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

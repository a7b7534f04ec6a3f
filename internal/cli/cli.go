// Package cli wires configuration, discovery, the batch engine and the
// terminal front end into one run of a pdf-toolkit command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/stackvity/pdf-toolkit/internal/cli/config"
	"github.com/stackvity/pdf-toolkit/internal/cli/hooks"
	"github.com/stackvity/pdf-toolkit/internal/cli/ui"
	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stackvity/pdf-toolkit/pkg/batch/manifest"
	"github.com/stackvity/pdf-toolkit/pkg/batch/template"
	"github.com/stackvity/pdf-toolkit/pkg/discover"
	"github.com/stackvity/pdf-toolkit/pkg/pdfops"
	"github.com/stackvity/pdf-toolkit/pkg/util"
)

// ErrItemsFailed is returned when the run finished but some documents failed.
var ErrItemsFailed = errors.New("some documents failed")

// Runner runs external programs and can tell whether one is installed.
type Runner interface {
	pdfops.CommandRunner
	Available(name string) bool
}

// Deps holds the collaborators Run needs from the outside world.
type Deps struct {
	Runner     Runner
	Recognizer pdfops.Recognizer
	Changes    discover.ChangeSource

	Stdin  io.Reader
	Stdout io.Writer // summary
	Stderr io.Writer // prompts and TUI
	// Interactive reports whether Stdin and Stderr are a terminal.
	Interactive bool
	Version     string
	// TempDir holds merge staging directories. Empty uses os.TempDir.
	TempDir string
}

// programSender forwards hook messages to a bubbletea program once it exists.
type programSender struct {
	p *tea.Program
}

func (s *programSender) Send(msg interface{}) {
	if s.p != nil {
		s.p.Send(msg)
	}
}

// plan is the operation-specific part of a run.
type plan struct {
	transform batch.Transform
	rule      batch.OutputRule
	merger    *pdfops.Merger
}

// Run executes opts.Operation over the configured inputs and writes the
// summary to deps.Stdout.
func Run(ctx context.Context, opts config.Options, logger *slog.Logger, deps Deps) error {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	useTUI := opts.TuiEnabled && !opts.Verbose && deps.Interactive
	handler := logger.Handler()
	if useTUI {
		// Log lines would tear the full-screen display; the TUI and the
		// summary report every outcome instead.
		handler = slog.NewTextHandler(io.Discard, nil)
	}

	finder, err := discover.NewFinder(discover.Options{
		Ignore:  opts.Ignore,
		Since:   opts.GitSince,
		Changes: deps.Changes,
		Hook: func(path, reason string) {
			logger.Debug("Document excluded", slog.String("path", util.TruncatePath(path, 72)), slog.String("reason", reason))
		},
		LoggerHandler: handler,
	})
	if err != nil {
		return err
	}
	sources, err := finder.Find(ctx, opts.Input)
	if err != nil {
		return err
	}
	logger.Info("Documents discovered", slog.Int("count", len(sources)), slog.String("operation", opts.Operation))

	p, err := newPlan(opts, deps, handler, inputRoot(opts.Input, sources))
	if err != nil {
		return err
	}
	if p.merger != nil {
		defer func() {
			if cleanupErr := p.merger.Cleanup(); cleanupErr != nil {
				logger.Warn("Failed to clean up merge staging", slog.String("error", cleanupErr.Error()))
			}
		}()
	}

	job, err := batch.NewJob(sources, opts.Output, p.rule)
	if err != nil {
		return err
	}

	decider := NewTerminalDecider(deps.Stdin, deps.Stderr, deps.Interactive, opts.AltDir)

	mergeTarget := opts.Merge.Output
	if p.merger != nil {
		var proceed bool
		mergeTarget, proceed, err = resolveMergeTarget(opts, decider, handler)
		if err != nil {
			return err
		}
		if !proceed {
			logger.Info("Merge target exists, nothing to do", slog.String("target", mergeTarget))
			return nil
		}
	}

	engineOpts := batch.Options{
		Concurrency:     opts.Concurrency,
		Pacing:          opts.Pacing,
		WatchdogTimeout: opts.Watchdog,
		OnConflict:      opts.OnConflict,
		Operation:       opts.Operation,
		Logger:          handler,
		Decider:         decider,
	}
	if p.merger != nil {
		// Staged copies live in a fresh directory.
		engineOpts.OnConflict = batch.PolicyOverwrite
	}

	if opts.Resume {
		if p.merger != nil {
			logger.Warn("Resume is not supported for merge, processing every input")
		} else {
			fileManifest := manifest.New(handler, opts.Operation, deps.Version, manifest.DefaultFormat)
			path := filepath.Join(manifestDir(opts, sources), manifest.FileName)
			if loadErr := fileManifest.Load(path); loadErr != nil {
				logger.Warn("Starting without manifest", slog.String("error", loadErr.Error()))
			}
			engineOpts.Manifest = fileManifest
			engineOpts.ManifestPath = path
		}
	}

	sender := &programSender{}
	engineOpts.EventHooks = hooks.NewCLIHooks(logger, useTUI, opts.Verbose, sender)

	engine, err := batch.NewEngine(ctx, job, p.transform, engineOpts)
	if err != nil {
		return err
	}

	// Pre-flight prompts happen before the TUI takes over the terminal.
	res, err := engine.Resolve()
	if err != nil {
		return err
	}
	if res.Existing > 0 {
		logger.Info("Existing outputs handled", slog.Int("count", res.Existing), slog.String("decision", string(res.Decision)))
	}

	var report batch.Report
	var runErr error
	if useTUI {
		report, runErr = runWithTUI(engine, res.Items, opts.Operation, decider, sender, deps.Stderr, logger)
	} else {
		report, runErr = engine.Run()
	}

	if runErr == nil && p.merger != nil && !report.Summary.CancelRequested {
		merged, mergeErr := p.merger.Finalize(ctx, report, mergeTarget)
		switch {
		case errors.Is(mergeErr, pdfops.ErrNothingToMerge):
			logger.Warn("Nothing was merged", slog.String("target", mergeTarget))
		case mergeErr != nil:
			runErr = mergeErr
		default:
			report.Outputs = []batch.PathMapping{{Input: opts.Input[0], Output: merged.Path}}
			if opts.OutputFormat != batch.OutputFormatJSON {
				fmt.Fprintf(deps.Stdout, "Merged %d documents into %s (%s)\n", merged.Inputs, merged.Path, template.FormatBytes(merged.Size))
			}
		}
	}

	if err := template.Render(deps.Stdout, report, opts.OutputFormat, batch.DefaultDisplayCap); err != nil {
		logger.Error("Failed to render summary", slog.String("error", err.Error()))
	}

	if runErr == nil && !report.Summary.CancelRequested {
		postRun(ctx, opts, deps.Runner, report, logger)
	}

	if runErr != nil {
		return runErr
	}
	if report.Summary.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrItemsFailed, report.Summary.Failed, report.Summary.Total)
	}
	return nil
}

// newPlan builds the transform and output naming for opts.Operation. Outputs
// mirror the layout below root.
func newPlan(opts config.Options, deps Deps, handler slog.Handler, root string) (plan, error) {
	logger := slog.New(handler)
	ghostscript := func(wanted bool) *pdfops.Ghostscript {
		if !wanted || opts.Ghostscript == "" || deps.Runner == nil {
			return nil
		}
		if !deps.Runner.Available(opts.Ghostscript) {
			logger.Warn("Ghostscript not found, skipping its pass", slog.String("binary", opts.Ghostscript))
			return nil
		}
		return pdfops.NewGhostscript(deps.Runner, opts.Ghostscript, handler)
	}

	switch opts.Operation {
	case config.OpCompress:
		return plan{
			transform: pdfops.NewCompressor(opts.Compress, ghostscript(true), handler),
			rule:      pdfops.CompressRule(root, opts.Output),
		}, nil
	case config.OpSplit:
		return plan{
			transform: pdfops.NewSplitter(ghostscript(opts.Split.Compress), opts.Compress.Level, handler),
			rule:      pdfops.SplitRule(root, opts.Output),
		}, nil
	case config.OpMerge:
		m := pdfops.NewMerger(deps.TempDir, opts.Merge.Compress, ghostscript(opts.Merge.Compress), opts.Compress.Level, handler)
		return plan{transform: m, rule: m.StageRule(), merger: m}, nil
	case config.OpOCR:
		if deps.Runner == nil {
			return plan{}, fmt.Errorf("%w: OCR needs a command runner", batch.ErrConfigValidation)
		}
		ocr, err := pdfops.NewOCR(opts.OCR, deps.Runner, deps.Recognizer, handler)
		if err != nil {
			return plan{}, err
		}
		return plan{transform: ocr, rule: pdfops.OCRRule(root, opts.Output, opts.OCR.Format)}, nil
	default:
		return plan{}, fmt.Errorf("%w: unknown operation '%s'", batch.ErrConfigValidation, opts.Operation)
	}
}

// inputRoot is the directory whose layout outputs mirror: a single directory
// input, or else the deepest directory holding every source.
func inputRoot(inputs, sources []string) string {
	if len(inputs) == 1 {
		if info, err := os.Stat(inputs[0]); err == nil && info.IsDir() {
			return inputs[0]
		}
	}
	return batch.CommonDir(sources)
}

// manifestDir is where the resume manifest is kept: the output directory, or
// the input root when outputs sit next to their sources.
func manifestDir(opts config.Options, sources []string) string {
	if opts.Output != "" {
		return opts.Output
	}
	if root := inputRoot(opts.Input, sources); root != "" {
		return root
	}
	return filepath.Dir(sources[0])
}

// resolveMergeTarget runs the merged document through the conflict check.
// proceed is false when the existing target is to be kept.
func resolveMergeTarget(opts config.Options, decider batch.Decider, handler slog.Handler) (string, bool, error) {
	target := opts.Merge.Output
	res, err := batch.NewResolver(opts.OnConflict, decider, nil, 0, handler).Resolve([]batch.WorkItem{
		{ID: 0, Source: target, Output: target, Status: batch.StatusPending},
	})
	if err != nil {
		return target, false, err
	}
	if res.AlternateDir != "" {
		target = batch.Relocate(target, "", res.AlternateDir)
	}
	if res.Items[0].Status == batch.StatusSkipped {
		return target, false, nil
	}
	return target, true, nil
}

// runWithTUI runs the engine while a bubbletea program renders its progress.
// The program quits on its own when the run completes.
func runWithTUI(engine *batch.Engine, items []batch.WorkItem, operation string, decider *TerminalDecider, sender *programSender, out io.Writer, logger *slog.Logger) (batch.Report, error) {
	decider.Suspend(true)
	defer decider.Suspend(false)

	program := tea.NewProgram(ui.NewModel(operation, items, engine.Controller()), tea.WithOutput(out))
	sender.p = program

	var report batch.Report
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		report, runErr = engine.Run()
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		logger.Warn("Terminal UI stopped", slog.String("error", err.Error()))
	}
	<-done
	return report, runErr
}

// postRun performs the optional open and print actions. Their failures are
// logged only.
func postRun(ctx context.Context, opts config.Options, r Runner, report batch.Report, logger *slog.Logger) {
	if r == nil || (!opts.Open && !opts.Print) {
		return
	}
	if opts.Open {
		dir := opts.Output
		if dirs := report.OutputDirs(); dir == "" && len(dirs) > 0 {
			dir = dirs[0]
		}
		if opts.Operation == config.OpMerge && len(report.Outputs) > 0 {
			dir = filepath.Dir(report.Outputs[0].Output)
		}
		if dir != "" {
			if err := OpenFolder(ctx, r, dir); err != nil {
				logger.Warn("Could not open output folder", slog.String("error", err.Error()))
			}
		}
	}
	if opts.Print {
		files := printableFiles(report)
		if len(files) == 0 {
			logger.Info("Nothing to print")
			return
		}
		if err := PrintFiles(ctx, r, opts.Printer, files); err != nil {
			logger.Warn("Printing failed", slog.String("error", err.Error()))
			return
		}
		logger.Info("Sent documents to printer", slog.Int("count", len(files)), slog.String("printer", opts.Printer))
	}
}

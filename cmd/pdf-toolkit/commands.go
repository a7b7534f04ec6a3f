package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/stackvity/pdf-toolkit/internal/cli"
	"github.com/stackvity/pdf-toolkit/internal/cli/config"
	"github.com/stackvity/pdf-toolkit/internal/cli/git"
	"github.com/stackvity/pdf-toolkit/internal/cli/runner"
	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stackvity/pdf-toolkit/pkg/pdfops"
)

// runOperation is the entry point into the run logic. Tests replace it.
var runOperation = cli.Run

type operationDef struct {
	name  string
	short string
	long  string
	flags func(fs *pflag.FlagSet)
}

func operationDefs() []operationDef {
	return []operationDef{
		{
			name:  config.OpCompress,
			short: "Reduce the size of PDF documents",
			long: `Optimizes each document with pdfcpu and, when Ghostscript is installed, re-renders it
at the chosen level. Results are written as <name>_compressed.pdf.`,
			flags: func(fs *pflag.FlagSet) {
				levelFlags(fs)
				fs.Int64("min-size-kb", 0, "Skip documents smaller than this many KiB")
				fs.Bool("delete-originals", false, "Delete each original once its compressed copy is written")
			},
		},
		{
			name:  config.OpMerge,
			short: "Combine PDF documents into one",
			long: `Stages every input, optionally compressing it, and merges them in input order into a
single document (default <output>/merged.pdf).`,
			flags: func(fs *pflag.FlagSet) {
				levelFlags(fs)
				fs.String("merge-output", "", "Path of the merged document")
				fs.Bool("compress", false, "Compress each input before merging")
			},
		},
		{
			name:  config.OpSplit,
			short: "Split PDF documents into single pages",
			long:  `Writes the pages of <name>.pdf as split_page_<N>.pdf into a <name>/ directory.`,
			flags: func(fs *pflag.FlagSet) {
				levelFlags(fs)
				fs.Bool("compress", false, "Pass each page through Ghostscript")
			},
		},
		{
			name:  config.OpOCR,
			short: "Extract text from scanned PDF documents",
			long: `Rasterizes every page with pdftoppm and recognizes it with tesseract. Results are
written as OCR_<name>.docx, OCR_<name>.rtf or OCR_<name>.txt.`,
			flags: func(fs *pflag.FlagSet) {
				fs.String("language", pdfops.DefaultOCRLanguage, `Tesseract languages, joined with "+" (e.g. "eng+deu")`)
				fs.String("format", pdfops.DefaultOCRFormat, `Output format ("docx", "rtf" or "txt")`)
				fs.Int("dpi", pdfops.DefaultOCRDPI, "Rasterization resolution")
			},
		},
	}
}

func levelFlags(fs *pflag.FlagSet) {
	fs.String("level", string(pdfops.DefaultLevel), `Compression level ("low", "medium", "high")`)
	fs.String("ghostscript", pdfops.DefaultGhostscript, "Ghostscript executable (empty disables the Ghostscript pass)")
}

// batchFlags registers the flags every operation shares.
func batchFlags(fs *pflag.FlagSet, op string) {
	fs.Int("concurrency", batch.DefaultConcurrency, "Number of parallel workers (0 for auto-detect CPU cores)")
	fs.Duration("pacing", batch.DefaultPacing, "Pause after every batch of completions (e.g. 500ms)")
	fs.Duration("watchdog", batch.DefaultWatchdogTimeout, "How long to wait for in-flight documents after cancelling")
	fs.String("on-conflict", string(batch.DefaultConflictPolicy), `Existing outputs: "ask", "overwrite", "skip" or "abort"`)
	fs.String("alt-dir", "", "Directory to use when an output directory is not writable")
	fs.String("output-format", string(batch.DefaultOutputFormat), `Final report format ("text", "json")`)
	fs.StringArray("ignore", []string{}, "Glob patterns for files/directories to ignore (can be specified multiple times)")
	fs.String("git-since", "", "Process only documents changed since the specified Git reference")
	fs.Bool("no-tui", false, "Disable interactive Terminal UI even if in a TTY")
	fs.Bool("open", false, "Open the output folder when done")
	fs.Bool("print", false, "Print every produced document when done")
	fs.String("printer", "", "Printer for --print (default printer when empty)")
	if op != config.OpMerge {
		fs.Bool("resume", false, "Skip documents a previous run already processed unchanged")
	}
}

func newOperationCommands() []*cobra.Command {
	defs := operationDefs()
	cmds := make([]*cobra.Command, 0, len(defs))
	for _, def := range defs {
		cmds = append(cmds, newOperationCommand(def))
	}
	return cmds
}

func newOperationCommand(def operationDef) *cobra.Command {
	op := def.name
	cmd := &cobra.Command{
		Use:   op + " -i <input>... [-o <outputDir>]",
		Short: def.short,
		Long:  def.long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			opts, logger, err := config.LoadAndValidate(cfgFile, profileName, op, verbose, cmd.Flags())
			if err != nil {
				return err
			}

			execRunner := runner.NewExecRunner(opts.Logger, 0)
			deps := cli.Deps{
				Runner:      execRunner,
				Recognizer:  pdfops.NewRecognizer(execRunner),
				Changes:     git.NewChangeSource(opts.Logger),
				Stdin:       cmd.InOrStdin(),
				Stdout:      cmd.OutOrStdout(),
				Stderr:      cmd.ErrOrStderr(),
				Interactive: cli.IsInteractive(os.Stdin) && cli.IsInteractive(os.Stderr),
				Version:     version,
			}
			return runOperation(ctx, opts, logger, deps)
		},
	}
	batchFlags(cmd.Flags(), op)
	def.flags(cmd.Flags())
	return cmd
}

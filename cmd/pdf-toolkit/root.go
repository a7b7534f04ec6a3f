package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// These are set during build time using -ldflags
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Flags persistent across commands
	cfgFile     string
	profileName string
	verbose     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pdf-toolkit",
		Short: "Batch compress, merge, split and OCR PDF documents.",
		Long: `pdf-toolkit runs one operation over many PDF documents at once.

Every command processes documents in parallel with a bounded worker pool and
asks once per run how to treat outputs that already exist. Progress is shown per
document with an ETA, the run can be paused or cancelled, and it ends with a
summary of what succeeded, failed and was skipped.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{.Use}} version {{.Version}}` + "\n")

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default searches ., $HOME/.config/pdf-toolkit/, $HOME/.pdf-toolkit/)")
	root.PersistentFlags().StringVar(&profileName, "profile", "", "Name of configuration profile to use")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (debug) logging output (disables TUI)")

	root.PersistentFlags().StringSliceP("input", "i", nil, "PDF files or directories to process (repeatable, comma-separated)")
	root.PersistentFlags().StringP("output", "o", "", "Output directory (default: next to each input)")

	root.AddCommand(newOperationCommands()...)
	return root
}

// Execute runs the root command. Cobra prints the returned error.
func Execute() error {
	return rootCmd.Execute()
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stackvity/pdf-toolkit/pkg/pdfops"
)

// PrintCommand is the spooler used by PrintFiles.
const PrintCommand = "lp"

// ErrAction wraps failures of post-run actions. They never change the outcome
// of the run itself.
var ErrAction = errors.New("post-run action failed")

// openerFor returns the program that opens a folder in the desktop file manager.
func openerFor(goos string) string {
	switch goos {
	case "darwin":
		return "open"
	case "windows":
		return "explorer"
	default:
		return "xdg-open"
	}
}

// OpenFolder opens dir in the platform file manager.
func OpenFolder(ctx context.Context, r pdfops.CommandRunner, dir string) error {
	name := openerFor(runtime.GOOS)
	if _, err := r.Run(ctx, name, dir); err != nil {
		return fmt.Errorf("%w: open '%s' with %s: %w", ErrAction, dir, name, err)
	}
	return nil
}

// PrintFiles sends each file to the spooler, on printer when it is set. Every
// file is attempted; the failures are joined.
func PrintFiles(ctx context.Context, r pdfops.CommandRunner, printer string, files []string) error {
	var errs []error
	for _, f := range files {
		args := make([]string, 0, 3)
		if printer != "" {
			args = append(args, "-d", printer)
		}
		args = append(args, f)
		if _, err := r.Run(ctx, PrintCommand, args...); err != nil {
			errs = append(errs, fmt.Errorf("%w: print '%s': %w", ErrAction, f, err))
		}
	}
	return errors.Join(errs...)
}

// printableFiles lists the documents a report produced. Outputs that are
// directories, such as split results, contribute their PDF files in page order.
func printableFiles(report batch.Report) []string {
	var files []string
	for _, m := range report.Outputs {
		info, err := os.Stat(m.Output)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			files = append(files, m.Output)
			continue
		}
		pages, err := filepath.Glob(filepath.Join(m.Output, "*.pdf"))
		if err != nil {
			continue
		}
		// split_page_2 before split_page_10
		sort.Slice(pages, func(i, j int) bool {
			if len(pages[i]) != len(pages[j]) {
				return len(pages[i]) < len(pages[j])
			}
			return pages[i] < pages[j]
		})
		files = append(files, pages...)
	}
	return files
}

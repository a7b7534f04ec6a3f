package pdfops

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// DefaultGhostscript is the Ghostscript executable looked up in PATH.
	DefaultGhostscript = "gs"
	// keepRatio is the size a Ghostscript result must stay under, relative to
	// its input, to replace it.
	keepRatio = 0.99
)

// Ghostscript re-renders documents through Ghostscript's pdfwrite device.
type Ghostscript struct {
	runner CommandRunner
	binary string
	logger *slog.Logger
}

// NewGhostscript returns a Ghostscript pass run through runner. An empty
// binary selects DefaultGhostscript.
func NewGhostscript(runner CommandRunner, binary string, loggerHandler slog.Handler) *Ghostscript {
	if binary == "" {
		binary = DefaultGhostscript
	}
	return &Ghostscript{
		runner: runner,
		binary: binary,
		logger: componentLogger(loggerHandler, "ghostscript"),
	}
}

// Args returns the command line that rewrites in to out at level.
func (g *Ghostscript) Args(in, out string, level Level) []string {
	return []string{
		"-q", "-dNOPAUSE", "-dBATCH", "-dSAFER",
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=" + level.pdfSettings(),
		"-sOutputFile=" + out,
		in,
	}
}

// Shrink rewrites path in place when Ghostscript produces a file under 99% of
// its current size, and reports whether it did. A failing Ghostscript run is
// returned as an error and leaves path untouched.
func (g *Ghostscript) Shrink(ctx context.Context, path string, level Level) (bool, error) {
	before := fileSize(path)
	if before == 0 {
		return false, nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".gs-*.pdf")
	if err != nil {
		return false, classifyIO("create temporary file next to", path, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if _, err := g.runner.Run(ctx, g.binary, g.Args(path, tmpPath, level)...); err != nil {
		return false, fmt.Errorf("ghostscript pass on '%s': %w", path, err)
	}
	after := fileSize(tmpPath)
	if after == 0 || float64(after) >= float64(before)*keepRatio {
		g.logger.Debug("Ghostscript result not smaller, keeping previous file",
			slog.String("path", path), slog.Int64("before", before), slog.Int64("after", after))
		return false, nil
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return false, classifyIO("replace", path, err)
	}
	g.logger.Debug("Ghostscript pass kept", slog.String("path", path), slog.Int64("before", before), slog.Int64("after", after))
	return true, nil
}

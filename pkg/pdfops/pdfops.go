// Package pdfops provides the document transforms the batch engine runs:
// compression, page splitting, merge staging and OCR text extraction.
//
// Every transform implements batch.Transform. Per-document problems are
// returned as batch item errors, policy-driven skips as batch skip errors, and
// permission problems wrap batch.ErrPermission so the engine can offer an
// alternate output directory.
package pdfops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
)

func init() {
	// Keep pdfcpu from creating a configuration directory in the user's home.
	api.DisableConfigDir()
}

// CommandRunner runs an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Level selects how aggressively documents are compressed.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// DefaultLevel is used when no level is configured.
const DefaultLevel = LevelMedium

// ParseLevel validates s as a compression level. Empty selects DefaultLevel.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return DefaultLevel, nil
	case LevelLow, LevelMedium, LevelHigh:
		return l, nil
	default:
		return "", fmt.Errorf("%w: unknown compression level %q (want low, medium or high)", batch.ErrConfigValidation, s)
	}
}

// pdfSettings maps a level to Ghostscript's -dPDFSETTINGS preset.
func (l Level) pdfSettings() string {
	switch l {
	case LevelHigh:
		return "/printer"
	case LevelLow:
		return "/screen"
	default:
		return "/ebook"
	}
}

// ErrInvalidPDF indicates a document pdfcpu could not read.
var ErrInvalidPDF = errors.New("invalid PDF document")

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func componentLogger(h slog.Handler, name string) *slog.Logger {
	if h == nil {
		h = slog.NewTextHandler(io.Discard, nil)
	}
	return slog.New(h).With(slog.String("component", name))
}

// fileSize returns the size of path, or 0 when it cannot be read.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// classifyIO maps a filesystem error for path to the batch error taxonomy.
func classifyIO(op, path string, err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %s '%s': %w", batch.ErrPermission, op, path, err)
	}
	return batch.Itemf("%s '%s': %v", op, path, err)
}

// ensureDir creates dir, reporting permission failures as batch.ErrPermission.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return classifyIO("create directory", dir, err)
	}
	return nil
}

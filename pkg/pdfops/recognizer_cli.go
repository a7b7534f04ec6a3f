//go:build !tesseract

package pdfops

import (
	"context"
	"fmt"
	"strings"
)

// DefaultTesseract is the tesseract executable used by the command-line recognizer.
const DefaultTesseract = "tesseract"

// CLIRecognizer runs the tesseract command for each page image.
type CLIRecognizer struct {
	runner CommandRunner
	binary string
}

// NewRecognizer returns the recognizer of this build: the tesseract command run
// through runner. Build with -tags tesseract to link libtesseract instead.
func NewRecognizer(runner CommandRunner) Recognizer {
	return &CLIRecognizer{runner: runner, binary: DefaultTesseract}
}

// Recognize implements Recognizer.
func (r *CLIRecognizer) Recognize(ctx context.Context, imagePath, languages string) (string, error) {
	out, err := r.runner.Run(ctx, r.binary, imagePath, "stdout", "-l", languages)
	if err != nil {
		return "", fmt.Errorf("tesseract on '%s': %w", imagePath, err)
	}
	return strings.TrimSpace(string(out)), nil
}

//go:build tesseract

package pdfops

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractRecognizer recognizes text with libtesseract through gosseract.
type TesseractRecognizer struct{}

// NewRecognizer returns the recognizer of this build: libtesseract linked
// through gosseract. runner is unused.
func NewRecognizer(_ CommandRunner) Recognizer {
	return &TesseractRecognizer{}
}

// Recognize implements Recognizer. A client is created per call because
// gosseract clients are not safe for concurrent use.
func (r *TesseractRecognizer) Recognize(ctx context.Context, imagePath, languages string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(languages, "+")...); err != nil {
		return "", fmt.Errorf("set tesseract languages %q: %w", languages, err)
	}
	if err := client.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("load page image '%s': %w", imagePath, err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize '%s': %w", imagePath, err)
	}
	return strings.TrimSpace(text), nil
}

package pdfops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/language"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
)

const (
	OCRFormatText = "txt"
	OCRFormatRTF  = "rtf"
	OCRFormatDOCX = "docx"

	DefaultOCRFormat = OCRFormatDOCX

	DefaultOCRLanguage = "eng"
	DefaultOCRDPI      = 300
	// OCRPrefix is prepended to the base name of OCR outputs.
	OCRPrefix = "OCR_"
	// DefaultRasterizer renders pages to images.
	DefaultRasterizer = "pdftoppm"
)

// tesseractOnlyLanguages are traineddata names that are not natural languages.
var tesseractOnlyLanguages = map[string]bool{"osd": true, "equ": true}

// Recognizer turns a page image into text.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath, languages string) (string, error)
}

// OCROptions configures OCR extraction.
type OCROptions struct {
	// Language is a tesseract language list such as "eng" or "eng+deu".
	Language string `mapstructure:"language"`
	// Format is "docx", "rtf" or "txt".
	Format string `mapstructure:"format"`
	DPI    int    `mapstructure:"dpi"`
	// Rasterizer is the pdftoppm executable.
	Rasterizer string `mapstructure:"rasterizer"`
}

// ValidateLanguages checks a "+"-separated tesseract language list. Each entry
// must be a known ISO 639 code, optionally followed by a script or variant
// suffix such as "deu_latf", or a tesseract special model such as "osd".
func ValidateLanguages(list string) ([]string, error) {
	if strings.TrimSpace(list) == "" {
		return nil, fmt.Errorf("%w: OCR language is empty", batch.ErrConfigValidation)
	}
	parts := strings.Split(list, "+")
	for _, p := range parts {
		code := strings.TrimSpace(p)
		if tesseractOnlyLanguages[code] {
			continue
		}
		base, _, _ := strings.Cut(code, "_")
		if len(base) < 2 || len(base) > 3 {
			return nil, fmt.Errorf("%w: invalid OCR language %q", batch.ErrConfigValidation, p)
		}
		if _, err := language.ParseBase(base); err != nil {
			return nil, fmt.Errorf("%w: invalid OCR language %q: %w", batch.ErrConfigValidation, p, err)
		}
	}
	return parts, nil
}

// ValidateOCROptions normalizes opts and fills defaults.
func ValidateOCROptions(opts OCROptions) (OCROptions, error) {
	if opts.Language == "" {
		opts.Language = DefaultOCRLanguage
	}
	if _, err := ValidateLanguages(opts.Language); err != nil {
		return opts, err
	}
	opts.Format = strings.ToLower(strings.TrimPrefix(opts.Format, "."))
	switch opts.Format {
	case "":
		opts.Format = DefaultOCRFormat
	case OCRFormatText, OCRFormatRTF, OCRFormatDOCX:
	default:
		return opts, fmt.Errorf("%w: unknown OCR output format %q (want docx, rtf or txt)", batch.ErrConfigValidation, opts.Format)
	}
	if opts.DPI <= 0 {
		opts.DPI = DefaultOCRDPI
	}
	if opts.Rasterizer == "" {
		opts.Rasterizer = DefaultRasterizer
	}
	return opts, nil
}

// OCR rasterizes every page of a document and writes the recognized text.
type OCR struct {
	opts       OCROptions
	runner     CommandRunner
	recognizer Recognizer
	logger     *slog.Logger
}

var _ batch.Transform = (*OCR)(nil)

// NewOCR creates an OCR transform. Pages are rasterized through runner.
func NewOCR(opts OCROptions, runner CommandRunner, recognizer Recognizer, loggerHandler slog.Handler) (*OCR, error) {
	opts, err := ValidateOCROptions(opts)
	if err != nil {
		return nil, err
	}
	if runner == nil || recognizer == nil {
		return nil, fmt.Errorf("%w: OCR needs a command runner and a recognizer", batch.ErrConfigValidation)
	}
	return &OCR{opts: opts, runner: runner, recognizer: recognizer, logger: componentLogger(loggerHandler, "ocr")}, nil
}

// OCRRule names outputs OCR_<base>.<format> under outputRoot, mirroring the
// layout below inputRoot.
func OCRRule(inputRoot, outputRoot, format string) batch.SuffixRule {
	if format == "" {
		format = DefaultOCRFormat
	}
	return batch.SuffixRule{InputRoot: inputRoot, OutputRoot: outputRoot, Prefix: OCRPrefix, Ext: "." + format}
}

// Name implements batch.Transform.
func (o *OCR) Name() string { return "ocr" }

// Apply implements batch.Transform. Progress starts at (0, pages) and advances
// once per recognized page.
func (o *OCR) Apply(ctx context.Context, item batch.WorkItem, progress batch.ProgressFunc) (batch.Output, error) {
	size := fileSize(item.Source)
	if size == 0 {
		return batch.Output{}, batch.Skipf("%s", batch.SkipReasonEmpty)
	}
	pages, err := PageCount(item.Source)
	if err != nil {
		return batch.Output{}, asItemError(err)
	}
	if pages == 0 {
		return batch.Output{}, batch.Itemf("'%s' has no pages", item.Source)
	}
	if err := progress(0, pages); err != nil {
		return batch.Output{}, err
	}

	work, err := os.MkdirTemp("", "pdf-toolkit-ocr-*")
	if err != nil {
		return batch.Output{}, batch.Itemf("create work directory: %v", err)
	}
	defer os.RemoveAll(work)

	texts := make([]string, 0, pages)
	for page := 1; page <= pages; page++ {
		text, err := o.recognizePage(ctx, item.Source, work, page)
		if err != nil {
			return batch.Output{}, err
		}
		texts = append(texts, text)
		if err := progress(page, pages); err != nil {
			return batch.Output{}, err
		}
	}

	if err := o.write(item.Output, texts); err != nil {
		return batch.Output{}, err
	}
	o.logger.Debug("Text extracted", slog.String("path", item.Source), slog.Int("pages", pages))
	return batch.Output{Path: item.Output, OriginalSize: size}, nil
}

func (o *OCR) recognizePage(ctx context.Context, source, work string, page int) (string, error) {
	prefix := filepath.Join(work, fmt.Sprintf("page-%d", page))
	n := strconv.Itoa(page)
	args := []string{"-r", strconv.Itoa(o.opts.DPI), "-f", n, "-l", n, "-png", "-singlefile", source, prefix}
	if _, err := o.runner.Run(ctx, o.opts.Rasterizer, args...); err != nil {
		return "", o.stepError(ctx, fmt.Sprintf("rasterize page %d of '%s'", page, source), err)
	}
	text, err := o.recognizer.Recognize(ctx, prefix+".png", o.opts.Language)
	if err != nil {
		return "", o.stepError(ctx, fmt.Sprintf("recognize page %d of '%s'", page, source), err)
	}
	return strings.TrimRight(text, "\n\f "), nil
}

func (o *OCR) stepError(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %w", batch.ErrCancelled, what, ctx.Err())
	}
	return fmt.Errorf("%w: %s: %w", batch.ErrItem, what, err)
}

func (o *OCR) write(path string, texts []string) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return classifyIO("create", path, err)
	}
	var writeErr error
	switch o.opts.Format {
	case OCRFormatDOCX:
		writeErr = WriteDOCX(f, texts)
	case OCRFormatRTF:
		writeErr = WriteRTF(f, texts)
	default:
		_, writeErr = io.WriteString(f, strings.Join(texts, "\n\f\n")+"\n")
	}
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(path)
		return batch.Itemf("write '%s': %v", path, err)
	}
	return nil
}

package pdfops

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
)

// Splitter writes every page of a document to its own file inside the item's
// output directory.
type Splitter struct {
	gs     *Ghostscript
	level  Level
	logger *slog.Logger
}

var _ batch.Transform = (*Splitter)(nil)

// NewSplitter creates a Splitter. When gs is not nil each page is passed
// through Ghostscript at level.
func NewSplitter(gs *Ghostscript, level Level, loggerHandler slog.Handler) *Splitter {
	if level == "" {
		level = DefaultLevel
	}
	return &Splitter{gs: gs, level: level, logger: componentLogger(loggerHandler, "splitter")}
}

// SplitRule places the pages of <base>.pdf in <outputRoot>/<base>/, mirroring
// the layout below inputRoot.
func SplitRule(inputRoot, outputRoot string) batch.SuffixRule {
	return batch.SuffixRule{InputRoot: inputRoot, OutputRoot: outputRoot}
}

// PageFileName is the file name of page n (1-based).
func PageFileName(n int) string {
	return fmt.Sprintf("split_page_%d.pdf", n)
}

// Name implements batch.Transform.
func (s *Splitter) Name() string { return "split" }

// Apply implements batch.Transform. Progress is reported once per page. The
// result size is only reported when pages are compressed.
func (s *Splitter) Apply(ctx context.Context, item batch.WorkItem, progress batch.ProgressFunc) (batch.Output, error) {
	info, err := Inspect(item.Source)
	if err != nil {
		return batch.Output{}, asItemError(err)
	}
	switch {
	case info.Size == 0:
		return batch.Output{}, batch.Skipf("%s", batch.SkipReasonEmpty)
	case info.Encrypted:
		return batch.Output{}, batch.Skipf("%s", batch.SkipReasonEncrypted)
	case info.Pages == 0:
		return batch.Output{}, batch.Itemf("'%s' has no pages", item.Source)
	}
	if err := progress(0, info.Pages); err != nil {
		return batch.Output{}, err
	}
	if err := ensureDir(item.Output); err != nil {
		return batch.Output{}, err
	}

	var written int64
	for page := 1; page <= info.Pages; page++ {
		if err := ctx.Err(); err != nil {
			return batch.Output{}, fmt.Errorf("%w: %w", batch.ErrCancelled, err)
		}
		target := filepath.Join(item.Output, PageFileName(page))
		if err := api.TrimFile(item.Source, target, []string{strconv.Itoa(page)}, newConfiguration()); err != nil {
			return batch.Output{}, batch.Itemf("extract page %d of '%s': %v", page, item.Source, err)
		}
		if s.gs != nil {
			if _, err := s.gs.Shrink(ctx, target, s.level); err != nil {
				if ctx.Err() != nil {
					return batch.Output{}, fmt.Errorf("%w: %w", batch.ErrCancelled, ctx.Err())
				}
				s.logger.Warn("Ghostscript pass failed for page", slog.String("path", target), slog.String("error", err.Error()))
			}
		}
		written += fileSize(target)
		if err := progress(page, info.Pages); err != nil {
			return batch.Output{}, err
		}
	}

	s.logger.Debug("Document split", slog.String("path", item.Source), slog.Int("pages", info.Pages))
	out := batch.Output{Path: item.Output, OriginalSize: info.Size}
	if s.gs != nil {
		out.ResultSize = written
	}
	return out, nil
}

package pdfops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
)

// CompressSuffix is appended to the base name of compressed outputs.
const CompressSuffix = "_compressed"

// CompressOptions configures a Compressor.
type CompressOptions struct {
	Level Level `mapstructure:"level"`
	// MinSizeKB skips documents smaller than this many KiB. Zero disables the check.
	MinSizeKB int64 `mapstructure:"minSizeKB"`
	// DeleteOriginals removes a source once its output is written.
	DeleteOriginals bool `mapstructure:"deleteOriginals"`
}

// Compressor optimizes documents with pdfcpu and, when configured, a
// Ghostscript pass.
type Compressor struct {
	opts   CompressOptions
	gs     *Ghostscript
	logger *slog.Logger
}

var _ batch.Transform = (*Compressor)(nil)

// NewCompressor creates a Compressor. gs may be nil to skip the Ghostscript pass.
func NewCompressor(opts CompressOptions, gs *Ghostscript, loggerHandler slog.Handler) *Compressor {
	if opts.Level == "" {
		opts.Level = DefaultLevel
	}
	return &Compressor{opts: opts, gs: gs, logger: componentLogger(loggerHandler, "compressor")}
}

// CompressRule names outputs <base>_compressed.pdf under outputRoot, mirroring
// the layout below inputRoot.
func CompressRule(inputRoot, outputRoot string) batch.SuffixRule {
	return batch.SuffixRule{InputRoot: inputRoot, OutputRoot: outputRoot, Suffix: CompressSuffix, Ext: ".pdf"}
}

// Name implements batch.Transform.
func (c *Compressor) Name() string { return "compress" }

// Apply implements batch.Transform.
func (c *Compressor) Apply(ctx context.Context, item batch.WorkItem, progress batch.ProgressFunc) (batch.Output, error) {
	total := 1
	if c.gs != nil {
		total = 2
	}
	if err := progress(0, total); err != nil {
		return batch.Output{}, err
	}

	info, err := Inspect(item.Source)
	if err != nil {
		return batch.Output{}, asItemError(err)
	}
	if skip := c.skipReason(info); skip != "" {
		return batch.Output{}, batch.Skipf("%s", skip)
	}

	result, err := optimizeTo(ctx, item.Source, item.Output, func(tmp string) error {
		if err := progress(1, total); err != nil {
			return err
		}
		if c.gs == nil {
			return nil
		}
		if _, err := c.gs.Shrink(ctx, tmp, c.opts.Level); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", batch.ErrCancelled, ctx.Err())
			}
			c.logger.Warn("Ghostscript pass failed, keeping optimized file",
				slog.String("path", item.Source), slog.String("error", err.Error()))
		}
		return progress(2, total)
	})
	if err != nil {
		return batch.Output{}, err
	}

	if c.opts.DeleteOriginals {
		c.removeOriginal(item.Source, item.Output)
	}
	return batch.Output{Path: item.Output, OriginalSize: info.Size, ResultSize: result}, nil
}

func (c *Compressor) skipReason(info Info) string {
	switch {
	case info.Size == 0:
		return batch.SkipReasonEmpty
	case c.opts.MinSizeKB > 0 && info.Size < c.opts.MinSizeKB*1024:
		return batch.SkipReasonBelowMinSize
	case info.Encrypted:
		return batch.SkipReasonEncrypted
	}
	return ""
}

func (c *Compressor) removeOriginal(source, output string) {
	if sameFile(source, output) {
		return
	}
	if err := os.Remove(source); err != nil {
		c.logger.Warn("Could not delete original", slog.String("path", source), slog.String("error", err.Error()))
		return
	}
	c.logger.Debug("Original deleted", slog.String("path", source))
}

// optimizeTo writes a pdfcpu-optimized copy of src to a temporary file next to
// dst, lets post adjust it, and then moves it over dst. It returns the final
// size of dst.
func optimizeTo(ctx context.Context, src, dst string, post func(tmp string) error) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", batch.ErrCancelled, err)
	}
	dir := filepath.Dir(dst)
	if err := ensureDir(dir); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, ".pdf-toolkit-*.pdf")
	if err != nil {
		return 0, classifyIO("create file in", dir, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := api.OptimizeFile(src, tmpPath, newConfiguration()); err != nil {
		return 0, batch.Itemf("optimize '%s': %v", src, err)
	}
	if post != nil {
		if err := post(tmpPath); err != nil {
			return 0, err
		}
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, classifyIO("write", dst, err)
	}
	committed = true
	return fileSize(dst), nil
}

// asItemError keeps taxonomy errors and turns anything else into an item failure.
func asItemError(err error) error {
	if errors.Is(err, batch.ErrItem) || batch.Classify(err) != batch.ClassItem {
		return err
	}
	return fmt.Errorf("%w: %w", batch.ErrItem, err)
}

func sameFile(a, b string) bool {
	aa, errA := filepath.Abs(a)
	bb, errB := filepath.Abs(b)
	return errA == nil && errB == nil && aa == bb
}

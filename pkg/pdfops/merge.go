package pdfops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
)

// ErrNothingToMerge is returned by Finalize when no input was staged.
var ErrNothingToMerge = errors.New("no documents were staged for merging")

// MergeResult describes the merged document.
type MergeResult struct {
	Path   string
	Inputs int
	Size   int64
}

// Merger stages each input into a private directory, optionally compressing
// it, and afterwards combines the staged files into a single document.
type Merger struct {
	stageDir string
	compress bool
	gs       *Ghostscript
	level    Level
	logger   *slog.Logger
}

var _ batch.Transform = (*Merger)(nil)

// NewMerger creates a Merger with a fresh staging directory under tempRoot
// (os.TempDir when empty). Call Cleanup when the merge is done.
func NewMerger(tempRoot string, compress bool, gs *Ghostscript, level Level, loggerHandler slog.Handler) *Merger {
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	if level == "" {
		level = DefaultLevel
	}
	return &Merger{
		stageDir: filepath.Join(tempRoot, "pdf-toolkit-merge-"+uuid.NewString()),
		compress: compress,
		gs:       gs,
		level:    level,
		logger:   componentLogger(loggerHandler, "merger"),
	}
}

// StageDir returns the staging directory.
func (m *Merger) StageDir() string { return m.stageDir }

// StageRule names staged copies by job position so the merge keeps input order
// even when two inputs share a base name.
func (m *Merger) StageRule() batch.OutputRule {
	return batch.RuleFunc(func(index int, source string) (string, error) {
		return filepath.Join(m.stageDir, fmt.Sprintf("%04d_%s", index, filepath.Base(source))), nil
	})
}

// Name implements batch.Transform.
func (m *Merger) Name() string { return "merge" }

// Apply implements batch.Transform by staging one input.
func (m *Merger) Apply(ctx context.Context, item batch.WorkItem, progress batch.ProgressFunc) (batch.Output, error) {
	if err := progress(0, 1); err != nil {
		return batch.Output{}, err
	}
	info, err := Inspect(item.Source)
	if err != nil {
		return batch.Output{}, asItemError(err)
	}
	switch {
	case info.Size == 0:
		return batch.Output{}, batch.Skipf("%s", batch.SkipReasonEmpty)
	case info.Encrypted:
		return batch.Output{}, batch.Skipf("%s", batch.SkipReasonEncrypted)
	}

	var staged int64
	if m.compress {
		staged, err = optimizeTo(ctx, item.Source, item.Output, func(tmp string) error {
			if m.gs == nil {
				return nil
			}
			if _, gsErr := m.gs.Shrink(ctx, tmp, m.level); gsErr != nil && ctx.Err() == nil {
				m.logger.Warn("Ghostscript pass failed while staging", slog.String("path", item.Source), slog.String("error", gsErr.Error()))
			}
			return nil
		})
	} else {
		staged, err = copyFile(item.Source, item.Output)
	}
	if err != nil {
		return batch.Output{}, err
	}
	if err := progress(1, 1); err != nil {
		return batch.Output{}, err
	}
	return batch.Output{Path: item.Output, OriginalSize: info.Size, ResultSize: staged}, nil
}

// Finalize merges the staged outputs of report, in job order, into target.
func (m *Merger) Finalize(ctx context.Context, report batch.Report, target string) (MergeResult, error) {
	staged := make([]string, 0, len(report.Outputs))
	for _, mapping := range report.Outputs {
		staged = append(staged, mapping.Output)
	}
	if len(staged) == 0 {
		return MergeResult{}, ErrNothingToMerge
	}
	if err := ctx.Err(); err != nil {
		return MergeResult{}, fmt.Errorf("%w: %w", batch.ErrCancelled, err)
	}

	dir := filepath.Dir(target)
	if err := ensureDir(dir); err != nil {
		return MergeResult{}, err
	}
	tmp, err := os.CreateTemp(dir, ".pdf-toolkit-merge-*.pdf")
	if err != nil {
		return MergeResult{}, classifyIO("create file in", dir, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if err := api.MergeCreateFile(staged, tmpPath, false, newConfiguration()); err != nil {
		return MergeResult{}, fmt.Errorf("%w: merge %d documents: %w", ErrInvalidPDF, len(staged), err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return MergeResult{}, classifyIO("write", target, err)
	}
	res := MergeResult{Path: target, Inputs: len(staged), Size: fileSize(target)}
	m.logger.Info("Documents merged", slog.String("path", target), slog.Int("inputs", res.Inputs), slog.Int64("size", res.Size))
	return res, nil
}

// Cleanup removes the staging directory.
func (m *Merger) Cleanup() error {
	if err := os.RemoveAll(m.stageDir); err != nil {
		return fmt.Errorf("remove staging directory '%s': %w", m.stageDir, err)
	}
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, classifyIO("open", src, err)
	}
	defer in.Close()
	if err := ensureDir(filepath.Dir(dst)); err != nil {
		return 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, classifyIO("create", dst, err)
	}
	n, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		return 0, batch.Itemf("copy '%s': %v", src, copyErr)
	}
	if closeErr != nil {
		return 0, classifyIO("close", dst, closeErr)
	}
	return n, nil
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/pdf-toolkit/internal/cli/config"
	"github.com/stackvity/pdf-toolkit/internal/testutil"
	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stackvity/pdf-toolkit/pkg/batch/manifest"
	"github.com/stackvity/pdf-toolkit/pkg/discover"
	"github.com/stackvity/pdf-toolkit/pkg/pdfops"
)

// fakeRunner is a mock runner whose installed programs are listed up front.
type fakeRunner struct {
	testutil.MockCommandRunner
	installed map[string]bool
}

func (f *fakeRunner) Available(name string) bool { return f.installed[name] }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseOptions(op, input, output string) config.Options {
	return config.Options{
		Input:        []string{input},
		Output:       output,
		Concurrency:  2,
		Watchdog:     5 * time.Second,
		OnConflict:   batch.PolicyOverwrite,
		OutputFormat: batch.OutputFormatText,
		Compress:     pdfops.CompressOptions{Level: pdfops.LevelMedium},
		OCR:          pdfops.OCROptions{Language: "eng", Format: "txt", DPI: 300, Rasterizer: "pdftoppm"},
		Operation:    op,
	}
}

func runCLI(t *testing.T, opts config.Options, deps Deps) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	deps.Stdout = &stdout
	if deps.Stderr == nil {
		deps.Stderr = io.Discard
	}
	if deps.Stdin == nil {
		deps.Stdin = strings.NewReader("")
	}
	err := Run(context.Background(), opts, testLogger(), deps)
	return stdout.String(), err
}

func jsonReport(t *testing.T, out string) batch.Report {
	t.Helper()
	var report batch.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report), "output: %s", out)
	return report
}

func TestRun_Compress(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	testutil.CreateDummyPDF(t, filepath.Join(in, "a.pdf"), 1)
	testutil.CreateDummyPDF(t, filepath.Join(in, "sub", "b.pdf"), 2)

	stdout, err := runCLI(t, baseOptions(config.OpCompress, in, out), Deps{})

	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, "a_compressed.pdf"))
	assert.FileExists(t, filepath.Join(out, "sub", "b_compressed.pdf"), "layout below the input directory is mirrored")
	assert.Contains(t, stdout, "Total files:    2")
	assert.Contains(t, stdout, "2 succeeded, 0 failed")
}

func TestRun_SameNameInSeveralInputs(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "in", "a")
	b := filepath.Join(dir, "in", "b")
	out := filepath.Join(dir, "out")
	testutil.CreateDummyPDF(t, filepath.Join(a, "x.pdf"), 1)
	testutil.CreateDummyPDF(t, filepath.Join(b, "x.pdf"), 2)

	for _, op := range []string{config.OpCompress, config.OpSplit} {
		t.Run(op, func(t *testing.T) {
			opts := baseOptions(op, a, filepath.Join(out, op))
			opts.Input = []string{a, b}
			opts.OnConflict = batch.PolicyAbort
			opts.OutputFormat = batch.OutputFormatJSON

			stdout, err := runCLI(t, opts, Deps{})

			require.NoError(t, err)
			report := jsonReport(t, stdout)
			assert.Equal(t, 2, report.Summary.Succeeded)
			require.Len(t, report.Outputs, 2)
			assert.NotEqual(t, report.Outputs[0].Output, report.Outputs[1].Output)
			assert.Equal(t, filepath.Join(out, op, "a"), filepath.Dir(report.Outputs[0].Output))
			assert.Equal(t, filepath.Join(out, op, "b"), filepath.Dir(report.Outputs[1].Output))
		})
	}
	n, err := pdfops.PageCount(filepath.Join(out, config.OpSplit, "b", "x", pdfops.PageFileName(2)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_CollidingOutputsAreRejected(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	testutil.CreateDummyPDF(t, filepath.Join(in, "x.pdf"), 1)
	testutil.CreateDummyPDF(t, filepath.Join(in, "x.PDF"), 1)

	stdout, err := runCLI(t, baseOptions(config.OpCompress, in, out), Deps{})

	require.ErrorIs(t, err, batch.ErrConfigValidation)
	assert.Contains(t, err.Error(), "x_compressed.pdf")
	assert.Empty(t, stdout)
	assert.NoDirExists(t, out)
}

func TestRun_ItemFailureIsReported(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	testutil.CreateDummyPDF(t, filepath.Join(in, "good.pdf"), 1)
	testutil.CreateDummyFile(t, filepath.Join(in, "broken.pdf"), "this is not a pdf")
	opts := baseOptions(config.OpCompress, in, filepath.Join(dir, "out"))
	opts.OutputFormat = batch.OutputFormatJSON

	stdout, err := runCLI(t, opts, Deps{})

	require.ErrorIs(t, err, ErrItemsFailed)
	report := jsonReport(t, stdout)
	assert.Equal(t, 1, report.Summary.Succeeded)
	assert.Equal(t, 1, report.Summary.Failed)
	assert.False(t, report.Summary.FatalErrorOccurred)
}

func TestRun_ExistingOutputs(t *testing.T) {
	setup := func(t *testing.T) (config.Options, string) {
		dir := t.TempDir()
		in := filepath.Join(dir, "in")
		out := filepath.Join(dir, "out")
		testutil.CreateDummyPDF(t, filepath.Join(in, "a.pdf"), 1)
		testutil.CreateDummyPDF(t, filepath.Join(in, "b.pdf"), 1)
		existing := filepath.Join(out, "a_compressed.pdf")
		testutil.CreateDummyFile(t, existing, "keep me")
		opts := baseOptions(config.OpCompress, in, out)
		opts.OutputFormat = batch.OutputFormatJSON
		return opts, existing
	}

	t.Run("skip", func(t *testing.T) {
		opts, existing := setup(t)
		opts.OnConflict = batch.PolicySkip

		stdout, err := runCLI(t, opts, Deps{})

		require.NoError(t, err)
		report := jsonReport(t, stdout)
		assert.Equal(t, 1, report.Summary.Succeeded)
		assert.Equal(t, 1, report.Summary.Skipped)
		content, _ := os.ReadFile(existing)
		assert.Equal(t, "keep me", string(content))
	})

	t.Run("ask without terminal aborts", func(t *testing.T) {
		opts, existing := setup(t)
		opts.OnConflict = batch.PolicyAsk

		stdout, err := runCLI(t, opts, Deps{Interactive: false})

		require.ErrorIs(t, err, batch.ErrAborted)
		assert.Empty(t, stdout, "no summary for an aborted run")
		assert.NoFileExists(t, filepath.Join(filepath.Dir(existing), "b_compressed.pdf"))
	})

	t.Run("ask answered on terminal", func(t *testing.T) {
		opts, existing := setup(t)
		opts.OnConflict = batch.PolicyAsk
		var prompts bytes.Buffer

		_, err := runCLI(t, opts, Deps{Interactive: true, Stdin: strings.NewReader("o\n"), Stderr: &prompts})

		require.NoError(t, err)
		assert.Contains(t, prompts.String(), "1 output(s) already exist")
		content, _ := os.ReadFile(existing)
		assert.NotEqual(t, "keep me", string(content), "overwritten")
	})
}

func TestRun_Split(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "report.pdf")
	out := filepath.Join(dir, "out")
	testutil.CreateDummyPDF(t, src, 3)

	_, err := runCLI(t, baseOptions(config.OpSplit, src, out), Deps{})

	require.NoError(t, err)
	for _, n := range []int{1, 2, 3} {
		assert.FileExists(t, filepath.Join(out, "report", pdfops.PageFileName(n)))
	}
}

func TestRun_Merge(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	testutil.CreateDummyPDF(t, filepath.Join(in, "1.pdf"), 1)
	testutil.CreateDummyPDF(t, filepath.Join(in, "2.pdf"), 2)
	target := filepath.Join(dir, "out", "all.pdf")
	opts := baseOptions(config.OpMerge, in, "")
	opts.Merge.Output = target
	tempDir := t.TempDir()

	stdout, err := runCLI(t, opts, Deps{TempDir: tempDir})

	require.NoError(t, err)
	assert.Contains(t, stdout, "Merged 2 documents into "+target)
	n, err := pdfops.PageCount(target)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging removed")
}

func TestRun_MergeTargetKept(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	testutil.CreateDummyPDF(t, filepath.Join(in, "1.pdf"), 1)
	target := filepath.Join(dir, "merged.pdf")
	testutil.CreateDummyFile(t, target, "previous merge")
	opts := baseOptions(config.OpMerge, in, "")
	opts.Merge.Output = target
	opts.OnConflict = batch.PolicySkip

	stdout, err := runCLI(t, opts, Deps{TempDir: t.TempDir()})

	require.NoError(t, err)
	assert.Empty(t, stdout)
	content, _ := os.ReadFile(target)
	assert.Equal(t, "previous merge", string(content))
}

func TestRun_Resume(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	testutil.CreateDummyPDF(t, filepath.Join(in, "a.pdf"), 1)
	opts := baseOptions(config.OpCompress, in, out)
	opts.OutputFormat = batch.OutputFormatJSON
	opts.Resume = true

	_, err := runCLI(t, opts, Deps{Version: "1.0.0"})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, manifest.FileName))

	stdout, err := runCLI(t, opts, Deps{Version: "1.0.0"})
	require.NoError(t, err)
	report := jsonReport(t, stdout)
	assert.Equal(t, 1, report.Summary.Skipped)
	require.Len(t, report.Records, 1)
	assert.Equal(t, batch.SkipReasonUnchanged, report.Records[0].SkipReason)
}

func TestRun_OCR(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.pdf")
	out := filepath.Join(dir, "text")
	testutil.CreateDummyPDF(t, src, 1)

	runner := &fakeRunner{installed: map[string]bool{}}
	runner.On("Run", mock.Anything, "pdftoppm", mock.Anything).Return([]byte(nil), nil).Once()
	recognizer := new(testutil.MockRecognizer)
	recognizer.On("Recognize", mock.Anything, mock.Anything, "eng").Return("hello world", nil)

	_, err := runCLI(t, baseOptions(config.OpOCR, src, out), Deps{Runner: runner, Recognizer: recognizer})

	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(out, "OCR_scan.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello world")
}

func TestRun_GhostscriptMissingIsSkipped(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.pdf")
	testutil.CreateDummyPDF(t, src, 1)
	opts := baseOptions(config.OpCompress, src, "")
	opts.Ghostscript = "gs"
	runner := &fakeRunner{installed: map[string]bool{}}

	_, err := runCLI(t, opts, Deps{Runner: runner})

	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "a_compressed.pdf"), "written next to the input")
	runner.AssertNotCalled(t, "Run", mock.Anything, "gs", mock.Anything)
}

func TestRun_PostRunActions(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	testutil.CreateDummyPDF(t, filepath.Join(in, "a.pdf"), 1)
	opts := baseOptions(config.OpCompress, in, out)
	opts.Open = true
	opts.Print = true
	opts.Printer = "office"

	runner := &fakeRunner{installed: map[string]bool{}}
	runner.On("Run", mock.Anything, openerFor("linux"), []string{out}).Return([]byte(nil), nil).Maybe()
	runner.On("Run", mock.Anything, openerFor("darwin"), []string{out}).Return([]byte(nil), nil).Maybe()
	runner.On("Run", mock.Anything, openerFor("windows"), []string{out}).Return([]byte(nil), nil).Maybe()
	runner.On("Run", mock.Anything, PrintCommand, []string{"-d", "office", filepath.Join(out, "a_compressed.pdf")}).Return([]byte(nil), nil).Once()

	_, err := runCLI(t, opts, Deps{Runner: runner})

	require.NoError(t, err)
	runner.AssertExpectations(t)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	testutil.CreateDummyDir(t, empty)

	_, err := runCLI(t, baseOptions(config.OpCompress, empty, ""), Deps{})
	assert.ErrorIs(t, err, discover.ErrNoDocuments)

	testutil.CreateDummyPDF(t, filepath.Join(dir, "a.pdf"), 1)
	_, err = runCLI(t, baseOptions("rotate", dir, ""), Deps{})
	assert.ErrorIs(t, err, batch.ErrConfigValidation)

	_, err = runCLI(t, baseOptions(config.OpOCR, dir, ""), Deps{})
	assert.ErrorIs(t, err, batch.ErrConfigValidation, "OCR needs a runner")
}

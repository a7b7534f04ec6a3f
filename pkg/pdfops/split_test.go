package pdfops_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/pdf-toolkit/internal/testutil"
	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stackvity/pdf-toolkit/pkg/pdfops"
)

func TestSplitter(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "book.pdf")
	testutil.CreateDummyPDF(t, src, 3)
	outDir, err := pdfops.SplitRule(dir, filepath.Join(dir, "out")).OutputFor(0, src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "book"), outDir)

	p := &progressLog{}
	out, err := pdfops.NewSplitter(nil, "", testHandler()).Apply(context.Background(), batch.WorkItem{Source: src, Output: outDir}, p.fn)
	require.NoError(t, err)
	assert.Equal(t, outDir, out.Path)
	assert.Zero(t, out.ResultSize, "sizes only reported when pages are compressed")
	assert.Equal(t, [][2]int{{0, 3}, {1, 3}, {2, 3}, {3, 3}}, p.units())

	for i := 1; i <= 3; i++ {
		page := filepath.Join(outDir, pdfops.PageFileName(i))
		require.FileExists(t, page)
		n, err := pdfops.PageCount(page)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	assert.NoFileExists(t, filepath.Join(outDir, "split_page_4.pdf"))
}

func TestSplitRule_MirrorsLayout(t *testing.T) {
	root := filepath.Join("/scans")
	rule := pdfops.SplitRule(root, "/out")

	a, err := rule.OutputFor(0, filepath.Join(root, "a", "x.pdf"))
	require.NoError(t, err)
	b, err := rule.OutputFor(1, filepath.Join(root, "b", "x.pdf"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/out", "a", "x"), a)
	assert.Equal(t, filepath.Join("/out", "b", "x"), b)
}

func TestSplitterCancelMidway(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "book.pdf")
	testutil.CreateDummyPDF(t, src, 4)
	outDir := filepath.Join(dir, "book")

	p := &progressLog{cancelAt: 2}
	_, err := pdfops.NewSplitter(nil, "", testHandler()).Apply(context.Background(), batch.WorkItem{Source: src, Output: outDir}, p.fn)
	assert.ErrorIs(t, err, batch.ErrCancelled)
	assert.FileExists(t, filepath.Join(outDir, pdfops.PageFileName(2)))
	assert.NoFileExists(t, filepath.Join(outDir, pdfops.PageFileName(3)))
}

func TestSplitterWithGhostscript(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "book.pdf")
	testutil.CreateDummyPDF(t, src, 2)
	runner := new(testutil.MockCommandRunner)
	fakeGhostscript(t, runner, 7)

	out, err := pdfops.NewSplitter(pdfops.NewGhostscript(runner, "", testHandler()), pdfops.LevelLow, testHandler()).
		Apply(context.Background(), batch.WorkItem{Source: src, Output: filepath.Join(dir, "book")}, (&progressLog{}).fn)
	require.NoError(t, err)
	assert.EqualValues(t, 14, out.ResultSize)
	runner.AssertNumberOfCalls(t, "Run", 2)
}

func TestSplitterEmpty(t *testing.T) {
	src := filepath.Join(t.TempDir(), "empty.pdf")
	testutil.CreateDummyFile(t, src, "")
	_, err := pdfops.NewSplitter(nil, "", nil).Apply(context.Background(), batch.WorkItem{Source: src, Output: src + "_pages"}, (&progressLog{}).fn)
	assert.Equal(t, batch.ClassSkip, batch.Classify(err))
}

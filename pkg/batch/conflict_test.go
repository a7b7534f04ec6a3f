package batch_test

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stackvity/pdf-toolkit/internal/testutil"
	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// conflictFixture creates n items in a temp dir; the first m outputs already exist.
func conflictFixture(t *testing.T, n, m int) (string, []batch.WorkItem) {
	t.Helper()
	dir := t.TempDir()
	items := make([]batch.WorkItem, n)
	for i := 0; i < n; i++ {
		src := filepath.Join(dir, "in", string(rune('a'+i))+".pdf")
		out := filepath.Join(dir, "out", string(rune('a'+i))+"_compressed.pdf")
		testutil.CreateDummyFile(t, src, "%PDF")
		if i < m {
			testutil.CreateDummyFile(t, out, "existing")
		}
		items[i] = batch.WorkItem{ID: i, Source: src, Output: out, Status: batch.StatusPending}
	}
	return dir, items
}

func testHandler() slog.Handler {
	return slog.NewTextHandler(&bytes.Buffer{}, nil)
}

func alwaysWritable(string) (bool, string) { return true, "" }

func TestResolverPresetPolicies(t *testing.T) {
	const n, m = 5, 2

	t.Run("SkipExcludesExisting", func(t *testing.T) {
		_, items := conflictFixture(t, n, m)
		r := batch.NewResolver(batch.PolicySkip, nil, alwaysWritable, 0, testHandler())
		res, err := r.Resolve(items)
		require.NoError(t, err)
		assert.Equal(t, batch.DecisionSkip, res.Decision)
		assert.Equal(t, m, res.Existing)
		skipped := 0
		for i, it := range res.Items {
			if it.Status == batch.StatusSkipped {
				skipped++
				assert.Less(t, i, m)
				assert.Equal(t, batch.SkipReasonOutputExists, it.SkipReason)
			}
		}
		assert.Equal(t, m, skipped)
	})

	t.Run("OverwriteKeepsAll", func(t *testing.T) {
		_, items := conflictFixture(t, n, m)
		r := batch.NewResolver(batch.PolicyOverwrite, nil, alwaysWritable, 0, testHandler())
		res, err := r.Resolve(items)
		require.NoError(t, err)
		assert.Equal(t, batch.DecisionOverwrite, res.Decision)
		for _, it := range res.Items {
			assert.Equal(t, batch.StatusPending, it.Status)
		}
	})

	t.Run("AbortHasNoSideEffects", func(t *testing.T) {
		dir, items := conflictFixture(t, n, m)
		before := listTree(t, dir)
		r := batch.NewResolver(batch.PolicyAbort, nil, nil, 0, testHandler())
		_, err := r.Resolve(items)
		require.Error(t, err)
		assert.True(t, errors.Is(err, batch.ErrAborted))
		assert.Equal(t, before, listTree(t, dir))
	})

	t.Run("NoConflictsNoDecision", func(t *testing.T) {
		_, items := conflictFixture(t, n, 0)
		decider := &testutil.MockDecider{}
		r := batch.NewResolver(batch.PolicyAsk, decider, alwaysWritable, 0, testHandler())
		res, err := r.Resolve(items)
		require.NoError(t, err)
		assert.Equal(t, batch.Decision(""), res.Decision)
		decider.AssertNotCalled(t, "DecideExisting", mock.Anything)
	})
}

func TestResolverAsksOnceForAllConflicts(t *testing.T) {
	_, items := conflictFixture(t, 6, 3)
	decider := &testutil.MockDecider{}
	decider.On("DecideExisting", mock.MatchedBy(func(existing []batch.WorkItem) bool {
		return len(existing) == 3
	})).Return(batch.DecisionSkip, nil).Once()

	r := batch.NewResolver(batch.PolicyAsk, decider, alwaysWritable, 0, testHandler())
	res, err := r.Resolve(items)
	require.NoError(t, err)
	assert.Equal(t, batch.DecisionSkip, res.Decision)
	decider.AssertNumberOfCalls(t, "DecideExisting", 1)
}

func TestResolverAskWithoutDecider(t *testing.T) {
	_, items := conflictFixture(t, 2, 1)
	r := batch.NewResolver(batch.PolicyAsk, nil, alwaysWritable, 0, testHandler())
	_, err := r.Resolve(items)
	assert.ErrorIs(t, err, batch.ErrConfigValidation)
}

func TestResolverAlternateDirectory(t *testing.T) {
	_, items := conflictFixture(t, 3, 0)
	outDir := filepath.Dir(items[0].Output)
	alt := t.TempDir()
	rejected := t.TempDir()

	probe := func(dir string) (bool, string) {
		if dir == outDir || dir == rejected {
			return false, "read-only"
		}
		return true, ""
	}

	t.Run("RetriesUntilWritable", func(t *testing.T) {
		decider := &testutil.MockDecider{}
		decider.On("ChooseDirectory", 1, mock.Anything).Return(rejected, nil).Once()
		decider.On("ChooseDirectory", 2, mock.Anything).Return(alt, nil).Once()

		r := batch.NewResolver(batch.PolicyOverwrite, decider, probe, 3, testHandler())
		res, err := r.Resolve(items)
		require.NoError(t, err)
		assert.Equal(t, alt, res.AlternateDir)
		for i, it := range res.Items {
			assert.Equal(t, filepath.Join(alt, filepath.Base(items[i].Output)), it.Output)
		}
		decider.AssertExpectations(t)
	})

	t.Run("ExhaustedAttempts", func(t *testing.T) {
		decider := &testutil.MockDecider{}
		decider.On("ChooseDirectory", mock.Anything, mock.Anything).Return(rejected, nil)
		r := batch.NewResolver(batch.PolicyOverwrite, decider, probe, 2, testHandler())
		_, err := r.Resolve(items)
		require.Error(t, err)
		assert.ErrorIs(t, err, batch.ErrPermission)
		decider.AssertNumberOfCalls(t, "ChooseDirectory", 2)
	})

	t.Run("Declined", func(t *testing.T) {
		decider := &testutil.MockDecider{}
		decider.On("ChooseDirectory", 1, mock.Anything).Return("", nil).Once()
		r := batch.NewResolver(batch.PolicyOverwrite, decider, probe, 3, testHandler())
		_, err := r.Resolve(items)
		assert.ErrorIs(t, err, batch.ErrAborted)
		assert.ErrorIs(t, err, batch.ErrPermission)
	})

	t.Run("NoDecider", func(t *testing.T) {
		r := batch.NewResolver(batch.PolicyOverwrite, nil, probe, 3, testHandler())
		_, err := r.Resolve(items)
		assert.ErrorIs(t, err, batch.ErrPermission)
	})
}

func TestResolverRejectsDuplicateOutputs(t *testing.T) {
	dir := t.TempDir()
	rule := batch.SuffixRule{OutputRoot: filepath.Join(dir, "out")}
	job, err := batch.NewJob([]string{
		filepath.Join(dir, "in", "a", "x.pdf"),
		filepath.Join(dir, "in", "b", "x.pdf"),
	}, filepath.Join(dir, "out"), rule)
	require.NoError(t, err)

	for _, policy := range []batch.ConflictPolicy{batch.PolicyAbort, batch.PolicySkip, batch.PolicyOverwrite, batch.PolicyAsk} {
		t.Run(string(policy), func(t *testing.T) {
			decider := &testutil.MockDecider{}
			r := batch.NewResolver(policy, decider, alwaysWritable, 0, testHandler())

			_, err := r.Resolve(job.Items)

			require.ErrorIs(t, err, batch.ErrConfigValidation)
			assert.Contains(t, err.Error(), filepath.Join("a", "x.pdf"))
			assert.Contains(t, err.Error(), filepath.Join("b", "x.pdf"))
			decider.AssertNotCalled(t, "DecideExisting", mock.Anything)
		})
	}
	assert.NoDirExists(t, filepath.Join(dir, "out"))
}

func TestResolverMirroredOutputsAreDistinct(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	rule := batch.SuffixRule{InputRoot: in, OutputRoot: filepath.Join(dir, "out")}
	job, err := batch.NewJob([]string{filepath.Join(in, "a", "x.pdf"), filepath.Join(in, "b", "x.pdf")}, filepath.Join(dir, "out"), rule)
	require.NoError(t, err)

	res, err := batch.NewResolver(batch.PolicyAbort, nil, alwaysWritable, 0, testHandler()).Resolve(job.Items)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "a", "x"), res.Items[0].Output)
	assert.Equal(t, filepath.Join(dir, "out", "b", "x"), res.Items[1].Output)
}

func TestRelocate(t *testing.T) {
	testCases := []struct {
		name   string
		output string
		root   string
		want   string
	}{
		{name: "KeepsLayoutBelowRoot", output: "/out/a/x", root: "/out", want: "/alt/a/x"},
		{name: "FileAtRoot", output: "/out/x_compressed.pdf", root: "/out", want: "/alt/x_compressed.pdf"},
		{name: "NoRoot", output: "/out/a/x", root: "", want: "/alt/x"},
		{name: "OutsideRoot", output: "/elsewhere/x", root: "/out", want: "/alt/x"},
		{name: "AlreadyInside", output: "/alt/a/x", root: "/out", want: "/alt/a/x"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tc.want), batch.Relocate(filepath.FromSlash(tc.output), filepath.FromSlash(tc.root), filepath.FromSlash("/alt")))
		})
	}
}

func TestResolverAlternateDirectoryKeepsLayout(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	alt := t.TempDir()
	items := []batch.WorkItem{
		{ID: 0, Source: filepath.Join(dir, "in", "a", "x.pdf"), Output: filepath.Join(out, "a", "x")},
		{ID: 1, Source: filepath.Join(dir, "in", "b", "x.pdf"), Output: filepath.Join(out, "b", "x")},
	}
	probe := func(d string) (bool, string) {
		if d == alt {
			return true, ""
		}
		return false, "read-only"
	}
	decider := &testutil.MockDecider{}
	decider.On("ChooseDirectory", 1, mock.Anything).Return(alt, nil).Once()

	res, err := batch.NewResolver(batch.PolicyAbort, decider, probe, 3, testHandler()).Resolve(items)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(alt, "a", "x"), res.Items[0].Output)
	assert.Equal(t, filepath.Join(alt, "b", "x"), res.Items[1].Output)
	decider.AssertExpectations(t)
}

func listTree(t *testing.T, root string) []string {
	t.Helper()
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		paths = append(paths, rel)
		return nil
	})
	require.NoError(t, err)
	return paths
}

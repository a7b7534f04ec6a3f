package git_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/pdf-toolkit/internal/cli/git"
)

type testRepo struct {
	t    *testing.T
	dir  string
	repo *gogit.Repository
	wt   *gogit.Worktree
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return &testRepo{t: t, dir: dir, repo: repo, wt: wt}
}

func (r *testRepo) write(rel, content string) {
	r.t.Helper()
	path := filepath.Join(r.dir, rel)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(r.t, os.WriteFile(path, []byte(content), 0644))
}

func (r *testRepo) commit(msg string, rels ...string) plumbing.Hash {
	r.t.Helper()
	for _, rel := range rels {
		_, err := r.wt.Add(rel)
		require.NoError(r.t, err)
	}
	hash, err := r.wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(r.t, err)
	return hash
}

func TestChangedFiles(t *testing.T) {
	r := newTestRepo(t)
	r.write("docs/a.pdf", "a1")
	r.write("docs/b.pdf", "b1")
	first := r.commit("initial", "docs/a.pdf", "docs/b.pdf")

	r.write("docs/a.pdf", "a2")
	r.commit("update a", "docs/a.pdf")
	r.write("docs/c.pdf", "untracked")

	var logs bytes.Buffer
	src := git.NewChangeSource(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	files, err := src.ChangedFiles(filepath.Join(r.dir, "docs"), first.String())

	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(r.dir, "docs", "a.pdf"),
		filepath.Join(r.dir, "docs", "c.pdf"),
	}, files)
	assert.Contains(t, logs.String(), "Changed files collected")
}

func TestChangedFiles_WorktreeModification(t *testing.T) {
	r := newTestRepo(t)
	r.write("a.pdf", "a1")
	r.write("b.pdf", "b1")
	r.commit("initial", "a.pdf", "b.pdf")
	r.write("b.pdf", "b2")

	files, err := git.NewChangeSource(nil).ChangedFiles(r.dir, "HEAD")

	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(r.dir, "b.pdf")}, files)
}

func TestChangedFiles_Errors(t *testing.T) {
	r := newTestRepo(t)
	r.write("a.pdf", "a1")
	r.commit("initial", "a.pdf")
	src := git.NewChangeSource(nil)

	_, err := src.ChangedFiles(r.dir, "")
	assert.ErrorIs(t, err, git.ErrGitOperation)

	_, err = src.ChangedFiles(r.dir, "no-such-ref")
	assert.ErrorIs(t, err, git.ErrGitOperation)

	_, err = src.ChangedFiles(t.TempDir(), "HEAD")
	assert.ErrorIs(t, err, git.ErrGitOperation)
}

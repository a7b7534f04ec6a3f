// Package git lists files changed since a revision using go-git, for the
// --git-since discovery filter.
package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/stackvity/pdf-toolkit/pkg/discover"
)

// ErrGitOperation indicates a failure while reading the repository.
var ErrGitOperation = errors.New("git operation failed")

// patchTimeout bounds the tree diff between the revision and HEAD.
const patchTimeout = 60 * time.Second

// Errorf wraps a formatted message with ErrGitOperation.
func Errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrGitOperation, fmt.Sprintf(format, args...))
}

// ChangeSource implements discover.ChangeSource with go-git.
type ChangeSource struct {
	logger *slog.Logger
}

var _ discover.ChangeSource = (*ChangeSource)(nil)

// NewChangeSource creates a ChangeSource.
func NewChangeSource(loggerHandler slog.Handler) *ChangeSource {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	return &ChangeSource{logger: slog.New(loggerHandler).With(slog.String("component", "gitChanges"))}
}

// ChangedFiles returns absolute paths of files that differ between since and
// HEAD, plus files modified, staged or untracked in the worktree. root may be
// any directory inside the repository.
func (c *ChangeSource) ChangedFiles(root, since string) ([]string, error) {
	if since == "" {
		return nil, Errorf("a revision is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, Errorf("resolve '%s': %v", root, err)
	}
	repo, err := git.PlainOpenWithOptions(absRoot, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: no repository at or above '%s': %w", ErrGitOperation, absRoot, err)
		}
		return nil, fmt.Errorf("%w: open repository at '%s': %w", ErrGitOperation, absRoot, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("%w: worktree of '%s': %w", ErrGitOperation, absRoot, err)
	}
	top := worktree.Filesystem.Root()

	changed := make(map[string]struct{})
	if err := c.committedSince(repo, since, changed); err != nil {
		return nil, err
	}
	if err := c.worktreeChanges(worktree, changed); err != nil {
		return nil, err
	}

	files := make([]string, 0, len(changed))
	for rel := range changed {
		files = append(files, filepath.Join(top, filepath.FromSlash(rel)))
	}
	sort.Strings(files)
	c.logger.Debug("Changed files collected", slog.String("repo", top), slog.String("since", since), slog.Int("count", len(files)))
	return files, nil
}

func (c *ChangeSource) committedSince(repo *git.Repository, since string, into map[string]struct{}) error {
	sinceHash, err := repo.ResolveRevision(plumbing.Revision(since))
	if err != nil {
		return fmt.Errorf("%w: invalid git reference '%s': %w", ErrGitOperation, since, err)
	}
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			c.logger.Warn("HEAD not found, repository might be empty")
			return nil
		}
		return fmt.Errorf("%w: read HEAD: %w", ErrGitOperation, err)
	}
	headCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return fmt.Errorf("%w: HEAD commit: %w", ErrGitOperation, err)
	}
	sinceCommit, err := repo.CommitObject(*sinceHash)
	if err != nil {
		return fmt.Errorf("%w: commit for '%s': %w", ErrGitOperation, since, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), patchTimeout)
	defer cancel()
	patch, err := sinceCommit.PatchContext(ctx, headCommit)
	if err != nil {
		return fmt.Errorf("%w: diff '%s'..HEAD: %w", ErrGitOperation, since, err)
	}
	for _, fp := range patch.FilePatches() {
		from, to := fp.Files()
		switch {
		case to != nil:
			into[to.Path()] = struct{}{}
		case from != nil:
			into[from.Path()] = struct{}{}
		}
	}
	return nil
}

func (c *ChangeSource) worktreeChanges(worktree *git.Worktree, into map[string]struct{}) error {
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("%w: worktree status: %w", ErrGitOperation, err)
	}
	for path, st := range status {
		if st.Staging == git.Unmodified && st.Worktree == git.Unmodified {
			continue
		}
		into[path] = struct{}{}
	}
	return nil
}

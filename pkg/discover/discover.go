// Package discover expands the user's input paths into the ordered list of PDF
// documents a batch job runs over.
package discover

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-enry/go-enry/v2"

	"github.com/stackvity/pdf-toolkit/pkg/util"
)

// IgnoreFileName is looked up from each input directory upwards.
const IgnoreFileName = ".pdftoolkitignore"

var (
	// ErrInput indicates an input path that cannot be used.
	ErrInput = errors.New("invalid input path")
	// ErrNoDocuments is returned when discovery finds nothing to process.
	ErrNoDocuments = errors.New("no PDF documents found")
	// ErrChangeSource wraps failures of the changed-files filter.
	ErrChangeSource = errors.New("changed-files lookup failed")
)

// ChangeSource lists files changed since a revision. Returned paths are
// absolute.
type ChangeSource interface {
	ChangedFiles(root, since string) ([]string, error)
}

// Options controls discovery.
type Options struct {
	// Ignore holds gitignore-style patterns relative to each input directory.
	Ignore []string
	// IncludeHidden keeps dot files and vendored directories.
	IncludeHidden bool
	// Since restricts directory walks to files Changes reports as changed.
	Since   string
	Changes ChangeSource
	// Hook, when set, is called for every PDF that discovery drops.
	Hook          func(path, reason string)
	LoggerHandler slog.Handler
}

// Finder walks inputs for PDF documents.
type Finder struct {
	opts    Options
	logger  *slog.Logger
	changed map[string]map[string]struct{}
}

// NewFinder validates opts and returns a Finder.
func NewFinder(opts Options) (*Finder, error) {
	h := opts.LoggerHandler
	if h == nil {
		h = slog.NewTextHandler(io.Discard, nil)
	}
	if opts.Since != "" && opts.Changes == nil {
		return nil, fmt.Errorf("%w: a revision was given but no change source is configured", ErrChangeSource)
	}
	return &Finder{
		opts:    opts,
		logger:  slog.New(h).With(slog.String("component", "discover")),
		changed: make(map[string]map[string]struct{}),
	}, nil
}

// IsPDF reports whether path has a .pdf extension in any letter case.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// Find returns absolute paths of the PDFs under inputs. Explicit files keep the
// order they were given in; each directory contributes its matches in sorted
// order. Duplicates are dropped. An empty result is ErrNoDocuments.
func (f *Finder) Find(ctx context.Context, inputs []string) ([]string, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no input given", ErrInput)
	}
	seen := make(map[string]struct{})
	var found []string
	add := func(paths ...string) {
		for _, p := range paths {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			found = append(found, p)
		}
	}

	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInput, in, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInput, in, err)
		}
		if !info.IsDir() {
			if !IsPDF(abs) {
				return nil, fmt.Errorf("%w: %s is not a PDF file", ErrInput, in)
			}
			add(abs)
			continue
		}
		matches, err := f.walk(ctx, abs)
		if err != nil {
			return nil, err
		}
		add(matches...)
	}

	if len(found) == 0 {
		return nil, ErrNoDocuments
	}
	f.logger.Info("Discovery complete", slog.Int("documents", len(found)))
	return found, nil
}

func (f *Finder) walk(ctx context.Context, root string) ([]string, error) {
	matcher, err := newIgnoreMatcher(root, f.opts.Ignore, f.logger)
	if err != nil {
		return nil, err
	}
	var changed map[string]struct{}
	if f.opts.Since != "" {
		if changed, err = f.changedUnder(root); err != nil {
			return nil, err
		}
	}

	var matches []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("%w: cannot read %s: %w", ErrInput, path, err)
			}
			f.logger.Warn("Error accessing path", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == root || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		isDir := d.IsDir()

		if !f.opts.IncludeHidden && hidden(rel, isDir) {
			if isDir {
				f.logger.Debug("Skipping hidden or vendored directory", slog.String("path", rel))
				return filepath.SkipDir
			}
			f.drop(path, "hidden")
			return nil
		}
		if pattern := matcher.match(rel, isDir); pattern != "" {
			f.logger.Debug("Path ignored", slog.String("path", rel), slog.String("pattern", pattern))
			if isDir {
				return filepath.SkipDir
			}
			if IsPDF(path) {
				f.drop(path, "ignored by "+pattern)
			}
			return nil
		}
		if isDir || !IsPDF(path) {
			return nil
		}
		if changed != nil {
			if _, ok := changed[path]; !ok {
				f.drop(path, "unchanged since "+f.opts.Since)
				return nil
			}
		}
		matches = append(matches, path)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	sort.Strings(matches)
	return matches, nil
}

func (f *Finder) drop(path, reason string) {
	f.logger.Debug("Document excluded", slog.String("path", path), slog.String("reason", reason))
	if f.opts.Hook != nil {
		f.opts.Hook(path, reason)
	}
}

func (f *Finder) changedUnder(root string) (map[string]struct{}, error) {
	if set, ok := f.changed[root]; ok {
		return set, nil
	}
	files, err := f.opts.Changes.ChangedFiles(root, f.opts.Since)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChangeSource, err)
	}
	set := make(map[string]struct{}, len(files))
	for _, p := range files {
		set[filepath.Clean(p)] = struct{}{}
	}
	f.changed[root] = set
	f.logger.Debug("Change filter active", slog.String("since", f.opts.Since), slog.Int("changed", len(set)))
	return set, nil
}

func hidden(rel string, isDir bool) bool {
	if enry.IsDotFile(rel) {
		return true
	}
	if isDir {
		rel += "/"
	}
	return enry.IsVendor(rel)
}

type ignoreMatcher struct {
	root     string
	patterns []ignorePattern
}

type ignorePattern struct {
	pattern string
	raw     string
	base    string
	negated bool
	dirOnly bool
	rooted  bool
}

func newIgnoreMatcher(root string, configured []string, logger *slog.Logger) (*ignoreMatcher, error) {
	m := &ignoreMatcher{root: root}
	file, err := findIgnoreFile(root)
	if err != nil {
		logger.Warn("Error searching for ignore file", slog.String("error", err.Error()))
	}
	if file != "" {
		lines, err := readPatterns(file)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInput, err)
		}
		m.add(lines, filepath.Dir(file))
		logger.Debug("Loaded ignore file", slog.String("path", file), slog.Int("patterns", len(lines)))
	}
	m.add(configured, root)
	return m, nil
}

func findIgnoreFile(start string) (string, error) {
	dir := start
	for {
		candidate := filepath.Join(dir, IgnoreFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("check %s: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func readPatterns(path string) ([]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ignore file %s: %w", path, err)
	}
	defer fh.Close()
	var out []string
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file %s: %w", path, err)
	}
	return out, nil
}

func (m *ignoreMatcher) add(raw []string, base string) {
	for _, r := range raw {
		p := ignorePattern{raw: r, base: base}
		s := strings.TrimSpace(r)
		if strings.HasPrefix(s, "!") {
			p.negated = true
			s = s[1:]
		}
		if strings.HasPrefix(s, "/") {
			p.rooted = true
			s = strings.TrimPrefix(s, "/")
		}
		if strings.HasSuffix(s, "/") {
			p.dirOnly = true
			s = strings.TrimSuffix(s, "/")
		}
		if s == "" {
			continue
		}
		p.pattern = filepath.ToSlash(s)
		m.patterns = append(m.patterns, p)
	}
}

// match returns the pattern that ignores rel, or "" when rel is kept. The last
// matching pattern wins, so a later negation re-includes a path.
func (m *ignoreMatcher) match(rel string, isDir bool) string {
	decided := ""
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if !util.MatchesPattern(p.pattern, p.base, m.root, rel, p.rooted) {
			continue
		}
		if p.negated {
			decided = ""
		} else {
			decided = p.raw
		}
	}
	return decided
}

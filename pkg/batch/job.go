package batch

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// OutputRule maps an input path to its output path.
type OutputRule interface {
	OutputFor(index int, source string) (string, error)
}

// RuleFunc adapts a function to the OutputRule interface.
type RuleFunc func(index int, source string) (string, error)

// OutputFor implements OutputRule.
func (f RuleFunc) OutputFor(index int, source string) (string, error) { return f(index, source) }

// SuffixRule derives the output name from the source base name:
// <Prefix><base><Suffix><Ext>. An empty Ext yields a directory path.
//
// With OutputRoot empty, outputs are placed next to their source. With
// InputRoot set, the source's directory layout below InputRoot is mirrored
// under OutputRoot.
type SuffixRule struct {
	InputRoot  string
	OutputRoot string
	Prefix     string
	Suffix     string
	Ext        string
}

// OutputFor implements OutputRule.
func (r SuffixRule) OutputFor(_ int, source string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("%w: empty source path", ErrConfigValidation)
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	name := r.Prefix + base + r.Suffix + r.Ext

	dir := filepath.Dir(source)
	if r.OutputRoot != "" {
		dir = r.OutputRoot
		if r.InputRoot != "" {
			if rel, ok := relBelow(r.InputRoot, filepath.Dir(source)); ok {
				dir = filepath.Join(r.OutputRoot, rel)
			}
		}
	}
	return filepath.Join(dir, name), nil
}

// CommonDir returns the deepest directory that contains every path, or ""
// when there is none (no paths, or paths on different volumes).
func CommonDir(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	var vol string
	var common []string
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return ""
		}
		dir := filepath.Dir(abs)
		v := filepath.VolumeName(dir)
		parts := splitPath(dir[len(v):])
		if i == 0 {
			vol, common = v, parts
			continue
		}
		if v != vol {
			return ""
		}
		n := 0
		for n < len(common) && n < len(parts) && common[n] == parts[n] {
			n++
		}
		common = common[:n]
	}
	return vol + string(filepath.Separator) + filepath.Join(common...)
}

func splitPath(dir string) []string {
	var parts []string
	for _, p := range strings.Split(dir, string(filepath.Separator)) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// relBelow returns path relative to root when path lies inside root.
func relBelow(root, path string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// BatchJob is the ordered set of items for one run.
type BatchJob struct {
	Items      []WorkItem
	OutputRoot string
	Rule       OutputRule
	// Concurrency and Pacing override the engine Options when positive.
	Concurrency int
	Pacing      time.Duration
}

// NewJob builds a job from source paths, computing each output with rule.
func NewJob(sources []string, outputRoot string, rule OutputRule) (*BatchJob, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: output rule cannot be nil", ErrConfigValidation)
	}
	job := &BatchJob{OutputRoot: outputRoot, Rule: rule, Items: make([]WorkItem, 0, len(sources))}
	for i, src := range sources {
		out, err := rule.OutputFor(i, src)
		if err != nil {
			return nil, fmt.Errorf("output for '%s': %w", src, err)
		}
		job.Items = append(job.Items, WorkItem{ID: i, Source: src, Output: out, Status: StatusPending})
	}
	return job, nil
}

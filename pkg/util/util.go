// Package util holds small path helpers shared by discovery and presentation.
package util

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Ellipsis replaces the elided head of a truncated path.
const Ellipsis = "..."

// MatchesPattern reports whether rel, a slash path relative to walkRoot, matches
// an ignore pattern defined in patternBase. Rooted patterns only match from
// patternBase; unrooted patterns also match any trailing run of path segments.
// Matching uses filepath.Match, so "**" is treated as "*".
func MatchesPattern(pattern, patternBase, walkRoot, rel string, rooted bool) bool {
	pattern = filepath.ToSlash(pattern)
	rel = filepath.ToSlash(rel)
	if pattern == "" || rel == "" || rel == "." {
		return false
	}

	fromBase, err := filepath.Rel(patternBase, filepath.Join(walkRoot, filepath.FromSlash(rel)))
	if err != nil {
		return false
	}
	fromBase = filepath.ToSlash(fromBase)
	if strings.HasPrefix(fromBase, "../") || fromBase == ".." {
		return false
	}
	if ok, _ := filepath.Match(pattern, fromBase); ok {
		return true
	}

	segments := strings.Split(fromBase, "/")
	// A pattern naming a directory also covers everything below it.
	for i := 1; i < len(segments); i++ {
		if ok, _ := filepath.Match(pattern, strings.Join(segments[:i], "/")); ok {
			return true
		}
	}
	if rooted {
		return false
	}
	for i := 1; i < len(segments); i++ {
		if ok, _ := filepath.Match(pattern, strings.Join(segments[i:], "/")); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, segments[i-1]); ok {
			return true
		}
	}
	return false
}

// TruncatePath shortens path to at most max runes by dropping leading
// directories. The base name is kept whole when it fits; otherwise its tail is
// kept. Paths that already fit, and a non-positive max, return path unchanged.
func TruncatePath(path string, max int) string {
	if max <= 0 || utf8.RuneCountInString(path) <= max {
		return path
	}
	ellipsisLen := utf8.RuneCountInString(Ellipsis)
	if max <= ellipsisLen {
		return lastRunes(path, max)
	}

	sep := string(filepath.Separator)
	parts := strings.Split(filepath.Clean(path), sep)
	tail := parts[len(parts)-1]
	budget := max - ellipsisLen - 1
	if utf8.RuneCountInString(tail) > budget {
		return Ellipsis + lastRunes(tail, max-ellipsisLen)
	}
	for i := len(parts) - 2; i >= 0; i-- {
		next := parts[i] + sep + tail
		if utf8.RuneCountInString(next) > budget {
			break
		}
		tail = next
	}
	return Ellipsis + sep + tail
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

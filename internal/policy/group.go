package policy

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchesGroup reports whether path belongs to the group set: at least one
// fragment, with surrounding whitespace trimmed, is non-empty and occurs in
// path. An empty set matches nothing.
func MatchesGroup(path string, groups []string) bool {
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g != "" && strings.Contains(path, g) {
			return true
		}
	}
	return false
}

// Ignored reports whether path, taken relative to root, matches one of the
// doublestar patterns. Malformed patterns never match.
func Ignored(root, path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}

	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

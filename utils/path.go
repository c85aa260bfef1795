package utils

import (
	"path/filepath"
	"strings"
)

// NormalizePath returns a cleaned absolute form of path suitable for
// use as a map key or stored prefix. Relative paths that cannot be
// made absolute are returned cleaned.
func NormalizePath(path string) string {
	cleaned := filepath.Clean(path)
	abs, err := filepath.Abs(cleaned)
	if err != nil {
		return cleaned
	}
	return abs
}

// HasPathPrefix reports whether path is root itself or sits below it.
// The check is purely lexical so it is safe on hot paths; callers
// normalize both sides first.
func HasPathPrefix(path, root string) bool {
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// IsPathWithin returns true if the given path is within any of the roots,
// resolving symlinks when possible.
func IsPathWithin(path string, roots []string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}
	absPath, err := filepath.Abs(resolved)
	if err != nil {
		return false
	}
	for _, root := range roots {
		rResolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			rResolved = root
		}
		absRoot, err := filepath.Abs(rResolved)
		if err != nil {
			continue
		}
		if HasPathPrefix(absPath, absRoot) {
			return true
		}
	}
	return false
}

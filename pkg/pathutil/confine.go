// Package pathutil provides path confinement and conversion helpers.
//
// Architecture Pattern:
// camelscope uses absolute paths internally for consistency and to avoid
// ambiguity. Anything derived from client input (path completion,
// resolution probes) must be confined to a configured root before it
// touches the filesystem.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Confine resolves path and verifies it stays inside root. It returns the
// cleaned absolute path, or an error for anything that would escape the
// root via .. segments or absolute redirection.
func Confine(root, path string) (string, error) {
	absRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(absRoot, path)
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil {
		return "", fmt.Errorf("relativize %s against %s: %w", abs, absRoot, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes root %s", path, root)
	}
	return abs, nil
}

// ToRelative converts an absolute path to relative based on a root
// directory. Falls back to the original path if conversion fails or the
// path is outside the root.
func ToRelative(absPath, rootDir string) string {
	if absPath == "" || rootDir == "" {
		return absPath
	}
	if !filepath.IsAbs(absPath) {
		return absPath
	}
	absPath = filepath.Clean(absPath)
	rootDir = filepath.Clean(rootDir)

	relPath, err := filepath.Rel(rootDir, absPath)
	if err != nil {
		return absPath
	}
	if strings.HasPrefix(relPath, "..") {
		return absPath
	}
	return relPath
}

package coretools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureWithinRoot fails unless the canonical form of path is root or lies
// below it. Both sides have symlinks resolved, so path must exist.
func EnsureWithinRoot(root, path string) error {
	canonicalRoot, err := canonicalize(root)
	if err != nil {
		return fmt.Errorf("cannot canonicalize root: %s: %w", root, err)
	}
	candidate, err := canonicalize(path)
	if err != nil {
		return fmt.Errorf("cannot canonicalize path: %s: %w", path, err)
	}

	rel, err := filepath.Rel(canonicalRoot, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes working directory: %s", candidate)
	}
	return nil
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func joinRoot(root, input string) string {
	if filepath.IsAbs(input) {
		return input
	}
	return filepath.Join(root, input)
}

// resolveExisting is the read-side resolver: exists and confined.
func resolveExisting(root, input string) (string, error) {
	path, err := resolveExistingUnconfined(root, input)
	if err != nil {
		return "", err
	}
	if err := EnsureWithinRoot(root, path); err != nil {
		return "", err
	}
	return path, nil
}

func resolveExistingUnconfined(root, input string) (string, error) {
	path := joinRoot(root, input)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("path does not exist: %s", path)
	}
	return path, nil
}

// resolveWritePath creates missing parent directories. Not confined.
func resolveWritePath(root, input string) (string, error) {
	path := joinRoot(root, input)
	parent := filepath.Dir(path)
	if parent == path {
		return "", fmt.Errorf("invalid write path: %s", input)
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func displayPath(path string) string {
	if canonical, err := canonicalize(path); err == nil {
		return canonical
	}
	return path
}

// SliceLines returns a 1-indexed inclusive line window of content.
// With only start, it returns from start to the end. With neither, content is
// returned unchanged.
func SliceLines(content string, start, end *int) string {
	if start == nil {
		return content
	}
	lines := splitLines(content)
	from := max(*start-1, 0)

	if end == nil {
		if from >= len(lines) {
			return ""
		}
		return strings.Join(lines[from:], "\n")
	}

	to := min(*end, len(lines))
	if from >= to {
		return ""
	}
	return strings.Join(lines[from:to], "\n")
}

// splitLines splits on "\n", dropping a trailing "\r" per line and the empty
// element after a final newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

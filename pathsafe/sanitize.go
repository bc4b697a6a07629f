// Package pathsafe turns user supplied relative names into paths that cannot
// leave a configured root directory.
package pathsafe

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Kighlander1975/dbe-exercise-file-upload/apperr"
)

var (
	unsafeChars = regexp.MustCompile(`[^\w.-]`)
	underscores = regexp.MustCompile(`_+`)
)

// SanitizeRelative splits input on both slash kinds, drops empty, "." and ".."
// segments, cleans the characters of the rest and joins them with the host
// separator. The result never contains a ".." segment.
func SanitizeRelative(input string) string {
	parts := strings.FieldsFunc(input, func(r rune) bool {
		return r == '/' || r == '\\'
	})

	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "." || part == ".." {
			continue
		}
		if s := SanitizeSegment(part); s != "" {
			clean = append(clean, s)
		}
	}
	return strings.Join(clean, string(filepath.Separator))
}

// SanitizeSegment cleans a single path segment: characters outside
// [A-Za-z0-9_.-] become '_', runs of '_' collapse and leading or trailing
// '.' and '_' are trimmed. Its output is a fixed point of SanitizeRelative.
func SanitizeSegment(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = underscores.ReplaceAllString(s, "_")
	return strings.Trim(s, "._")
}

// Within reports whether path is root itself or lies below it. Both paths are
// cleaned first; the test is per segment, so /up does not contain /upload2.
func Within(root, path string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// Guard resolves relative names against a fixed root.
type Guard struct {
	root string
}

// NewGuard canonicalizes root (absolute, symlinks evaluated when it exists).
func NewGuard(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	return &Guard{root: canonical(abs)}, nil
}

// Root returns the canonical root directory.
func (g *Guard) Root() string {
	return g.root
}

// Resolve maps a relative name to an absolute path under the root. Input with
// a NUL byte, or input that still lands outside the root after sanitizing
// (for example through a symlink), fails with apperr.ErrInvalidPath.
func (g *Guard) Resolve(input string) (string, error) {
	if strings.ContainsRune(input, 0) {
		return "", fmt.Errorf("%w: NUL byte in name", apperr.ErrInvalidPath)
	}

	resolved := canonical(filepath.Join(g.root, SanitizeRelative(input)))
	if !Within(g.root, resolved) {
		return "", fmt.Errorf("%w: %q resolves outside %s", apperr.ErrInvalidPath, input, g.root)
	}
	return resolved, nil
}

// canonical evaluates symlinks when the path exists and falls back to the
// cleaned path otherwise.
func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}

package repository

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/kr/internal/apperr"
)

// PostExt is the suffix of every post path.
const PostExt = ".kp"

// NormalizePath canonicalizes a post path: slash separated, no trailing
// slash, ending in .kp. Absolute paths, escapes, hidden components and
// nested posts are rejected.
func NormalizePath(p string) (string, error) {
	raw := p
	p = strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(p, "/") || filepath.VolumeName(p) != "" {
		return "", fmt.Errorf("repository: absolute post path %q: %w", raw, apperr.ErrInvalidPath)
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "", fmt.Errorf("repository: empty post path: %w", apperr.ErrInvalidPath)
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("repository: post path %q escapes the repository: %w", raw, apperr.ErrInvalidPath)
	}
	if !strings.HasSuffix(p, PostExt) {
		p += PostExt
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if strings.HasPrefix(part, ".") {
			return "", fmt.Errorf("repository: hidden component in post path %q: %w", raw, apperr.ErrInvalidPath)
		}
		if i < len(parts)-1 && strings.HasSuffix(part, PostExt) {
			return "", fmt.Errorf("repository: post path %q is nested in another post: %w", raw, apperr.ErrInvalidPath)
		}
	}
	return p, nil
}

// PostOf maps a file path inside the repository to the post containing it,
// or "" when the file is not part of a post.
func PostOf(file string) string {
	parts := strings.Split(filepath.ToSlash(file), "/")
	for i, part := range parts {
		if strings.HasPrefix(part, ".") {
			return ""
		}
		if strings.HasSuffix(part, PostExt) {
			return strings.Join(parts[:i+1], "/")
		}
	}
	return ""
}

package repository

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/lifecycle"
)

// dirFilter applies DirOptions to candidate post paths.
type dirFilter struct {
	prefix   string
	pattern  string
	statuses []lifecycle.Status
}

func newDirFilter(opts DirOptions) (dirFilter, error) {
	if opts.Pattern != "" && !doublestar.ValidatePattern(opts.Pattern) {
		return dirFilter{}, fmt.Errorf("repository: bad pattern %q: %w", opts.Pattern, apperr.ErrInvalidPath)
	}
	return dirFilter{
		prefix:   strings.Trim(strings.ReplaceAll(opts.Prefix, `\`, "/"), "/"),
		pattern:  opts.Pattern,
		statuses: opts.Statuses,
	}, nil
}

// matchPath checks the path-only criteria.
func (f dirFilter) matchPath(p string) bool {
	if !strings.HasPrefix(p, f.prefix) {
		return false
	}
	if f.pattern != "" {
		ok, _ := doublestar.Match(f.pattern, p)
		if !ok {
			return false
		}
	}
	return true
}

// wantsStatus reports whether the caller filters on status at all.
func (f dirFilter) wantsStatus() bool { return len(f.statuses) > 0 }

func (f dirFilter) matchStatus(s lifecycle.Status) bool {
	return !f.wantsStatus() || slices.Contains(f.statuses, s)
}

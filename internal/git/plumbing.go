package git

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/starford/kr/internal/apperr"
)

// RevParse resolves rev to a commit id, or apperr.ErrNotFound.
func (r *Repository) RevParse(ctx context.Context, rev string) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		if ExitCode(err) > 0 {
			return "", fmt.Errorf("git: revision %q: %w", rev, apperr.ErrNotFound)
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RefExists reports whether a fully qualified ref resolves.
func (r *Repository) RefExists(ctx context.Context, ref string) (bool, error) {
	_, err := r.Run(ctx, "show-ref", "--verify", "--quiet", ref)
	if err == nil {
		return true, nil
	}
	if ExitCode(err) > 0 {
		return false, nil
	}
	return false, err
}

// GitPath resolves a path inside the git directory (hooks/pre-commit,
// COMMIT_EDITMSG, index) to an absolute path.
func (r *Repository) GitPath(ctx context.Context, name string) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "--git-path", name)
	if err != nil {
		return "", err
	}
	p := strings.TrimSpace(out)
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.dir, p)
	}
	return p, nil
}

// CurrentBranch returns the short name of the checked-out branch.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Branches lists local branch names.
func (r *Repository) Branches(ctx context.Context) ([]string, error) {
	out, err := r.Run(ctx, "for-each-ref", "--format=%(refname:short)", "refs/heads/")
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// IsAncestor reports whether commit a is reachable from commit b.
func (r *Repository) IsAncestor(ctx context.Context, a, b string) (bool, error) {
	_, err := r.Run(ctx, "merge-base", "--is-ancestor", a, b)
	if err == nil {
		return true, nil
	}
	if ExitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

// ObjectType returns "blob", "tree" or "commit" for an object spec such as
// "<rev>:<path>", or apperr.ErrNotFound.
func (r *Repository) ObjectType(ctx context.Context, spec string) (string, error) {
	out, err := r.Run(ctx, "cat-file", "-t", spec)
	if err != nil {
		if ExitCode(err) > 0 {
			return "", fmt.Errorf("git: object %q: %w", spec, apperr.ErrNotFound)
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ReadBlob returns the content of a blob spec.
func (r *Repository) ReadBlob(ctx context.Context, spec string) ([]byte, error) {
	out, err := r.Output(ctx, "cat-file", "blob", spec)
	if err != nil {
		if ExitCode(err) > 0 {
			return nil, fmt.Errorf("git: blob %q: %w", spec, apperr.ErrNotFound)
		}
		return nil, err
	}
	return out, nil
}

// ListFiles returns the blob paths under path at rev, relative to the
// repository root.
func (r *Repository) ListFiles(ctx context.Context, rev, path string) ([]string, error) {
	out, err := r.Output(ctx, "ls-tree", "-r", "-z", "--name-only", rev, "--", path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range bytes.Split(out, []byte{0}) {
		if len(f) > 0 {
			files = append(files, string(f))
		}
	}
	return files, nil
}

// Log returns commit ids from git log with the given arguments.
func (r *Repository) Log(ctx context.Context, args ...string) ([]string, error) {
	out, err := r.Run(ctx, append([]string{"log", "--format=%H"}, args...)...)
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// HasChanges reports whether the index differs from HEAD for paths.
func (r *Repository) HasChanges(ctx context.Context, paths ...string) (bool, error) {
	args := append([]string{"diff", "--cached", "--quiet", "--"}, paths...)
	_, err := r.Run(ctx, args...)
	if err == nil {
		return false, nil
	}
	if ExitCode(err) == 1 {
		return true, nil
	}
	return false, err
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

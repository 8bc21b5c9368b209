// Package git provides typed access to the git CLI. All commands target a
// specific working tree via the -C flag, which every Repository method
// injects.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/starford/kr/internal/apperr"
)

// Repository is a git working tree at a specific directory.
type Repository struct {
	dir string
	env []string
}

// NewRepository returns a Repository targeting dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the working tree directory.
func (r *Repository) Dir() string {
	return r.dir
}

// WithEnv returns a copy of r whose commands run with extra environment
// variables, e.g. GIT_INDEX_FILE for a private index.
func (r *Repository) WithEnv(env ...string) *Repository {
	cp := &Repository{dir: r.dir}
	cp.env = append(append(cp.env, r.env...), env...)
	return cp
}

// Command returns an *exec.Cmd for a git command without running it.
func (r *Repository) Command(ctx context.Context, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-C", r.dir}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	return cmd
}

// Run executes a git command and returns stdout. Stderr is captured and
// included in the error on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	out, err := r.run(ctx, nil, args...)
	return string(out), err
}

// RunInput is Run with stdin fed from input.
func (r *Repository) RunInput(ctx context.Context, input []byte, args ...string) (string, error) {
	out, err := r.run(ctx, input, args...)
	return string(out), err
}

// Output executes a git command and returns raw stdout, for binary content.
func (r *Repository) Output(ctx context.Context, args ...string) ([]byte, error) {
	return r.run(ctx, nil, args...)
}

func (r *Repository) run(ctx context.Context, input []byte, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	command := r.Command(ctx, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	if input != nil {
		command.Stdin = bytes.NewReader(input)
	}
	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("git %s in %s: %w: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, apperr.ErrIO, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// ExitCode extracts the git process exit code from an error returned by Run,
// or -1 when the error did not come from a finished process.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// IsRepository reports whether dir holds git metadata (.git directory or
// gitfile).
func IsRepository(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// Init creates a repository in dir with branch as the unborn HEAD.
func Init(ctx context.Context, dir, branch string) (*Repository, error) {
	r := NewRepository(dir)
	if _, err := r.Run(ctx, "init", "--quiet"); err != nil {
		return nil, err
	}
	if _, err := r.Run(ctx, "symbolic-ref", "HEAD", "refs/heads/"+branch); err != nil {
		return nil, err
	}
	return r, nil
}

// Clone clones source into dir.
func Clone(ctx context.Context, source, dir string) (*Repository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("git: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, apperr.IO("git: mkdir", err)
	}
	parent := NewRepository(filepath.Dir(abs))
	if _, err := parent.Run(ctx, "clone", "--quiet", source, abs); err != nil {
		return nil, err
	}
	return NewRepository(abs), nil
}

package tooling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/git"
)

// NoUpdateFlag is prepended to the arguments of a re-executed build.
const NoUpdateFlag = "--noupdate"

// ExpandHome resolves a leading "~" against the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tooling: home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// CloneToDirectory makes dir a clone of source, fetching when a clone is
// already there.
func CloneToDirectory(ctx context.Context, dir, source string) error {
	dir, err := ExpandHome(dir)
	if err != nil {
		return err
	}
	if git.IsRepository(dir) {
		if _, err := git.NewRepository(dir).Run(ctx, "fetch", "--quiet", "--tags", "origin"); err != nil {
			return fmt.Errorf("tooling: fetch %s: %w", dir, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return apperr.IO("tooling: mkdir", err)
	}
	if _, err := git.Clone(ctx, source, dir); err != nil {
		return fmt.Errorf("tooling: clone %s: %w", source, err)
	}
	return nil
}

// WithCheckedOutRevision exports rev of the clone into a fresh temporary
// directory and calls fn with it. The clone's own index and working tree
// are not touched, and the directory is removed when fn returns.
func WithCheckedOutRevision(ctx context.Context, clone, rev string, fn func(dir string) error) (err error) {
	clone, err = ExpandHome(clone)
	if err != nil {
		return err
	}
	scratch, err := os.MkdirTemp("", "kr-tooling-*")
	if err != nil {
		return apperr.IO("tooling: temp dir", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil && err == nil {
			err = apperr.IO("tooling: cleanup", rmErr)
		}
	}()

	repo := git.NewRepository(clone)
	commit, err := repo.RevParse(ctx, rev)
	if errors.Is(err, apperr.ErrNotFound) {
		// Pins usually name upstream branches or tags that only exist on the
		// remote.
		commit, err = repo.RevParse(ctx, "origin/"+rev)
	}
	if err != nil {
		return fmt.Errorf("tooling: resolve %s: %w", rev, err)
	}

	tree := filepath.Join(scratch, "tree")
	private := repo.WithEnv("GIT_INDEX_FILE=" + filepath.Join(scratch, "index"))
	if _, err := private.Run(ctx, "read-tree", commit); err != nil {
		return fmt.Errorf("tooling: read %s: %w", rev, err)
	}
	if _, err := private.Run(ctx, "checkout-index", "--all", "--force", "--prefix="+tree+string(filepath.Separator)); err != nil {
		return fmt.Errorf("tooling: checkout %s: %w", rev, err)
	}
	return fn(tree)
}

// Reexec runs the entrypoint found in dir with NoUpdateFlag prepended to
// args, wired to this process's standard streams and working directory. It
// returns the child's exit code.
func Reexec(ctx context.Context, dir, entrypoint string, args []string) (int, error) {
	path := filepath.Join(dir, filepath.FromSlash(entrypoint))
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("tooling: entrypoint %s: %w", entrypoint, apperr.ErrNotFound)
	}
	cmd := exec.CommandContext(ctx, path, append([]string{NoUpdateFlag}, args...)...)
	cmd.Env = append(os.Environ(), PinnedEnv+"=1")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return 0, fmt.Errorf("tooling: run %s: %w", entrypoint, err)
	}
	return 0, nil
}

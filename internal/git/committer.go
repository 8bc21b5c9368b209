package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/starford/kr/internal/apperr"
)

// DefaultHookTimeout bounds a single hook invocation.
const DefaultHookTimeout = 2 * time.Minute

// Committer creates commits from the index while running the pre-commit,
// commit-msg and post-commit hooks the way `git commit` would.
type Committer struct {
	repo    *Repository
	runner  HookRunner
	timeout time.Duration
	logger  *slog.Logger
}

// CommitterOption configures a Committer.
type CommitterOption func(*Committer)

// WithHookRunner overrides the host hook runner.
func WithHookRunner(r HookRunner) CommitterOption {
	return func(c *Committer) {
		if r != nil {
			c.runner = r
		}
	}
}

// WithHookTimeout sets the per-hook kill timeout. Zero disables it.
func WithHookTimeout(d time.Duration) CommitterOption {
	return func(c *Committer) { c.timeout = d }
}

// WithLogger sets the logger for non-fatal hook failures.
func WithLogger(l *slog.Logger) CommitterOption {
	return func(c *Committer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCommitter returns a Committer for repo.
func NewCommitter(repo *Repository, opts ...CommitterOption) *Committer {
	c := &Committer{
		repo:    repo,
		runner:  DefaultHookRunner(),
		timeout: DefaultHookTimeout,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Commit records the current index on top of HEAD, with extraParents as
// additional parents (merge commits). It returns the new commit id.
//
// A failing pre-commit or commit-msg hook aborts before any object is
// referenced. HEAD moves with a compare-and-swap; losing the race yields
// apperr.ErrConflict.
func (c *Committer) Commit(ctx context.Context, message string, extraParents ...string) (string, error) {
	index, err := c.repo.GitPath(ctx, "index")
	if err != nil {
		return "", err
	}
	env := []string{"GIT_INDEX_FILE=" + index, "GIT_EDITOR=:"}

	if err := c.runHook(ctx, env, "pre-commit"); err != nil {
		return "", err
	}

	msg, err := c.filterMessage(ctx, env, message)
	if err != nil {
		return "", err
	}

	tree, err := c.repo.Run(ctx, "write-tree")
	if err != nil {
		return "", err
	}
	args := []string{"commit-tree", strings.TrimSpace(tree)}

	old, err := c.repo.RevParse(ctx, "HEAD")
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return "", err
	}
	if old != "" {
		args = append(args, "-p", old)
	}
	for _, p := range extraParents {
		args = append(args, "-p", p)
	}
	out, err := c.repo.RunInput(ctx, []byte(msg), args...)
	if err != nil {
		return "", err
	}
	commit := strings.TrimSpace(out)

	subject, _, _ := strings.Cut(msg, "\n")
	if _, err := c.repo.Run(ctx, "update-ref", "-m", "commit: "+subject, "HEAD", commit, old); err != nil {
		return "", fmt.Errorf("git: HEAD moved during commit: %w: %w", apperr.ErrConflict, err)
	}

	if err := c.runHook(ctx, env, "post-commit"); err != nil {
		c.logger.Warn("post-commit hook failed",
			slog.String("commit", commit),
			slog.String("error", err.Error()),
		)
	}
	return commit, nil
}

// filterMessage passes message through the commit-msg hook via
// COMMIT_EDITMSG, returning the possibly rewritten text.
func (c *Committer) filterMessage(ctx context.Context, env []string, message string) (string, error) {
	path, err := c.repo.GitPath(ctx, "COMMIT_EDITMSG")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(message), 0o644); err != nil {
		return "", apperr.IO("git: write COMMIT_EDITMSG", err)
	}
	defer os.Remove(path)

	if err := c.runHook(ctx, env, "commit-msg", path); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.IO("git: read COMMIT_EDITMSG", err)
	}
	msg := cleanMessage(string(raw))
	if msg == "" {
		return "", fmt.Errorf("git: aborting commit due to empty commit message: %w", apperr.ErrHookExecution)
	}
	return msg, nil
}

// runHook executes the named hook if the repository has a runnable one.
func (c *Committer) runHook(ctx context.Context, env []string, name string, args ...string) error {
	path, err := c.repo.GitPath(ctx, "hooks/"+name)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil || !c.runner.Runnable(path, info) {
		return nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := c.runner.Command(ctx, path, args...)
	cmd.Dir = c.repo.Dir()
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()
	if runErr == nil {
		return nil
	}
	he := &apperr.HookError{
		Hook:     name,
		ExitCode: ExitCode(runErr),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Err:      runErr,
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		he.Err = fmt.Errorf("%w: %w", ctxErr, runErr)
	}
	return he
}

// cleanMessage strips comment lines and surrounding blank lines, like
// git's default cleanup mode.
func cleanMessage(s string) string {
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t\r"))
	}
	out := strings.Trim(strings.Join(kept, "\n"), "\n")
	if out == "" {
		return ""
	}
	return out + "\n"
}

// Package testutil provides shared test helpers for git working trees,
// SQLite files and quiet loggers.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// RequireGit skips the test when no git binary is available.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// Git runs git in dir and fails the test on error. It returns trimmed stdout.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_CONFIG_NOSYSTEM=1", "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// ConfigureIdentity sets a local committer identity so commits work on
// machines without a global git config.
func ConfigureIdentity(t *testing.T, dir string) {
	t.Helper()
	Git(t, dir, "config", "user.name", "Test User")
	Git(t, dir, "config", "user.email", "test@example.com")
	Git(t, dir, "config", "commit.gpgsign", "false")
}

// GitRepo creates a working tree on branch master with one empty commit.
func GitRepo(t *testing.T) string {
	t.Helper()
	RequireGit(t)
	dir := t.TempDir()
	Git(t, dir, "init", "--quiet")
	Git(t, dir, "symbolic-ref", "HEAD", "refs/heads/master")
	ConfigureIdentity(t, dir)
	Git(t, dir, "commit", "--quiet", "--allow-empty", "-m", "initial")
	return dir
}

// CommitCount returns the number of commits reachable from rev.
func CommitCount(t *testing.T, dir, rev string) string {
	t.Helper()
	return Git(t, dir, "rev-list", "--count", rev)
}

// WriteHook installs an executable hook script.
func WriteHook(t *testing.T, dir, name, script string) {
	t.Helper()
	hooks := filepath.Join(dir, ".git", "hooks")
	if err := os.MkdirAll(hooks, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(hooks, name), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
}

// TestDBPath returns a path for a temporary SQLite database that is removed
// after the test.
func TestDBPath(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp("", "kr-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	os.Remove(f.Name())
	t.Cleanup(func() {
		os.Remove(f.Name())
		os.Remove(f.Name() + "-wal")
		os.Remove(f.Name() + "-shm")
	})
	return f.Name()
}

// Logger returns a logger that discards output below error level.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

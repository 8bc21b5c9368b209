package git

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/testutil"
)

func stageFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	testutil.Git(t, dir, "add", name)
}

func TestRun_CapturesStderr(t *testing.T) {
	dir := testutil.GitRepo(t)
	r := NewRepository(dir)
	_, err := r.Run(context.Background(), "rev-parse", "--verify", "no-such-ref")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, apperr.ErrIO) {
		t.Errorf("err = %v, want ErrIO", err)
	}
	if ExitCode(err) <= 0 {
		t.Errorf("ExitCode = %d", ExitCode(err))
	}
}

func TestRevParse_NotFound(t *testing.T) {
	dir := testutil.GitRepo(t)
	r := NewRepository(dir)
	if _, err := r.RevParse(context.Background(), "refs/heads/missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	head, err := r.RevParse(context.Background(), "HEAD")
	if err != nil || len(head) != 40 {
		t.Errorf("HEAD = %q, %v", head, err)
	}
}

func TestCommitter_CommitAdvancesHead(t *testing.T) {
	dir := testutil.GitRepo(t)
	ctx := context.Background()
	r := NewRepository(dir)
	before, _ := r.RevParse(ctx, "HEAD")

	stageFile(t, dir, "a.txt", "hello")
	commit, err := NewCommitter(r, WithLogger(testutil.Logger())).Commit(ctx, "add a\n")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	after, _ := r.RevParse(ctx, "HEAD")
	if after != commit {
		t.Errorf("HEAD = %s, want %s", after, commit)
	}
	parent := testutil.Git(t, dir, "rev-parse", "HEAD^")
	if parent != before {
		t.Errorf("parent = %s, want %s", parent, before)
	}
	if got := testutil.Git(t, dir, "show", "HEAD:a.txt"); got != "hello" {
		t.Errorf("committed content = %q", got)
	}
}

func TestCommitter_PreCommitFailureLeavesHistory(t *testing.T) {
	dir := testutil.GitRepo(t)
	ctx := context.Background()
	testutil.WriteHook(t, dir, "pre-commit", "#!/bin/sh\necho lint failed >&2\nexit 3\n")
	before := testutil.CommitCount(t, dir, "HEAD")

	stageFile(t, dir, "a.txt", "x")
	_, err := NewCommitter(NewRepository(dir)).Commit(ctx, "msg")
	if !errors.Is(err, apperr.ErrHookExecution) {
		t.Fatalf("err = %v, want ErrHookExecution", err)
	}
	var he *apperr.HookError
	if !errors.As(err, &he) {
		t.Fatal("expected *HookError")
	}
	if he.Hook != "pre-commit" || he.ExitCode != 3 || !strings.Contains(he.Stderr, "lint failed") {
		t.Errorf("hook error = %+v", he)
	}
	if after := testutil.CommitCount(t, dir, "HEAD"); after != before {
		t.Errorf("commit count %s -> %s", before, after)
	}
}

func TestCommitter_CommitMsgRewrites(t *testing.T) {
	dir := testutil.GitRepo(t)
	ctx := context.Background()
	testutil.WriteHook(t, dir, "commit-msg", "#!/bin/sh\nprintf 'rewritten\\n\\nSigned: hook\\n' > \"$1\"\n")
	stageFile(t, dir, "a.txt", "x")

	if _, err := NewCommitter(NewRepository(dir)).Commit(ctx, "original"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	msg := testutil.Git(t, dir, "log", "-1", "--format=%B")
	if !strings.HasPrefix(msg, "rewritten") || !strings.Contains(msg, "Signed: hook") {
		t.Errorf("message = %q", msg)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git", "COMMIT_EDITMSG")); !os.IsNotExist(err) {
		t.Errorf("COMMIT_EDITMSG should be removed, stat err = %v", err)
	}
}

func TestCommitter_HookSeesIndexAndEditor(t *testing.T) {
	dir := testutil.GitRepo(t)
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "env")
	testutil.WriteHook(t, dir, "pre-commit", "#!/bin/sh\necho \"$GIT_INDEX_FILE|$GIT_EDITOR\" > "+out+"\n")
	stageFile(t, dir, "a.txt", "x")

	if _, err := NewCommitter(NewRepository(dir)).Commit(ctx, "m"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	idx, editor, _ := strings.Cut(strings.TrimSpace(string(raw)), "|")
	if !strings.HasSuffix(filepath.ToSlash(idx), ".git/index") {
		t.Errorf("GIT_INDEX_FILE = %q", idx)
	}
	if editor != ":" {
		t.Errorf("GIT_EDITOR = %q", editor)
	}
}

func TestCommitter_PostCommitFailureIsNotFatal(t *testing.T) {
	dir := testutil.GitRepo(t)
	testutil.WriteHook(t, dir, "post-commit", "#!/bin/sh\nexit 1\n")
	stageFile(t, dir, "a.txt", "x")
	if _, err := NewCommitter(NewRepository(dir), WithLogger(testutil.Logger())).Commit(context.Background(), "m"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCommitter_HungHookIsKilled(t *testing.T) {
	dir := testutil.GitRepo(t)
	testutil.WriteHook(t, dir, "pre-commit", "#!/bin/sh\nsleep 30\n")
	stageFile(t, dir, "a.txt", "x")

	start := time.Now()
	_, err := NewCommitter(NewRepository(dir), WithHookTimeout(200*time.Millisecond)).Commit(context.Background(), "m")
	if !errors.Is(err, apperr.ErrHookExecution) {
		t.Fatalf("err = %v, want ErrHookExecution", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline in chain", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("hook was not killed in time")
	}
}

func TestCommitter_MergeParents(t *testing.T) {
	dir := testutil.GitRepo(t)
	ctx := context.Background()
	r := NewRepository(dir)
	testutil.Git(t, dir, "branch", "side")
	testutil.Git(t, dir, "checkout", "--quiet", "side")
	stageFile(t, dir, "b.txt", "b")
	testutil.Git(t, dir, "commit", "--quiet", "-m", "side")
	side, _ := r.RevParse(ctx, "side")
	testutil.Git(t, dir, "checkout", "--quiet", "master")

	commit, err := NewCommitter(r).Commit(ctx, "merge", side)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	parents := strings.Fields(testutil.Git(t, dir, "log", "-1", "--format=%P", commit))
	if len(parents) != 2 || parents[1] != side {
		t.Errorf("parents = %v", parents)
	}
}

func TestWindowsRunner_ShellDiscovery(t *testing.T) {
	root := t.TempDir()
	bash := filepath.Join(root, "bin", "bash.exe")
	if err := os.MkdirAll(filepath.Dir(bash), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bash, nil, 0o755); err != nil {
		t.Fatal(err)
	}
	w := &WindowsRunner{Locate: func() (string, error) { return filepath.Join(root, "cmd", "git.exe"), nil }}
	if got := w.Shell(); got != bash {
		t.Errorf("Shell = %q, want %q", got, bash)
	}

	ctx := context.Background()
	cmd := w.Command(ctx, "hooks/pre-commit", "arg")
	if cmd.Args[0] != bash || cmd.Args[1] != "hooks/pre-commit" || cmd.Args[2] != "arg" {
		t.Errorf("script args = %v", cmd.Args)
	}
	if cmd := w.Command(ctx, "hooks/pre-commit.exe"); cmd.Args[0] != "hooks/pre-commit.exe" {
		t.Errorf("native args = %v", cmd.Args)
	}

	fallback := &WindowsRunner{Locate: func() (string, error) { return "", errors.New("no where") }}
	if got := fallback.Shell(); got != "bash.exe" {
		t.Errorf("fallback shell = %q", got)
	}
}

func TestPOSIXRunner_RequiresExecBit(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "hook")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, _ := os.Stat(p)
	if (POSIXRunner{}).Runnable(p, info) {
		t.Error("non-executable hook should be skipped")
	}
}

func TestCleanMessage(t *testing.T) {
	got := cleanMessage("\n# comment\nsubject  \n\nbody\n\n")
	if got != "subject\n\nbody\n" {
		t.Errorf("cleanMessage = %q", got)
	}
}

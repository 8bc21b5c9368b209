package git

import (
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// HookRunner builds the process that executes a hook script. One
// implementation exists per host family.
type HookRunner interface {
	// Runnable reports whether the file at path should be run as a hook.
	Runnable(path string, info fs.FileInfo) bool
	// Command returns the process for hook path invoked with args.
	Command(ctx context.Context, path string, args ...string) *exec.Cmd
}

// DefaultHookRunner returns the runner for the current host.
func DefaultHookRunner() HookRunner {
	if runtime.GOOS == "windows" {
		return NewWindowsRunner()
	}
	return POSIXRunner{}
}

// POSIXRunner executes hooks directly; the kernel honours their shebang.
type POSIXRunner struct{}

// Runnable requires a regular file with an executable bit set.
func (POSIXRunner) Runnable(_ string, info fs.FileInfo) bool {
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

func (POSIXRunner) Command(ctx context.Context, path string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, path, args...)
}

// nativeExt lists extensions Windows can execute without an interpreter.
var nativeExt = map[string]bool{".exe": true, ".bat": true, ".cmd": true, ".com": true}

// WindowsRunner runs extension-less hook scripts through the bash that
// ships next to git, since Windows cannot execute shebang scripts.
type WindowsRunner struct {
	// Locate returns the path of the git executable. Defaults to `where git`.
	Locate func() (string, error)

	once  sync.Once
	shell string
}

// NewWindowsRunner returns a runner that discovers its shell on first use.
func NewWindowsRunner() *WindowsRunner {
	return &WindowsRunner{Locate: whereGit}
}

func (w *WindowsRunner) Runnable(_ string, info fs.FileInfo) bool {
	return info.Mode().IsRegular()
}

func (w *WindowsRunner) Command(ctx context.Context, path string, args ...string) *exec.Cmd {
	if nativeExt[strings.ToLower(filepath.Ext(path))] {
		return exec.CommandContext(ctx, path, args...)
	}
	return exec.CommandContext(ctx, w.Shell(), append([]string{path}, args...)...)
}

// Shell returns the interpreter used for script hooks.
func (w *WindowsRunner) Shell() string {
	w.once.Do(func() {
		w.shell = "bash.exe"
		if w.Locate == nil {
			return
		}
		gitPath, err := w.Locate()
		if err != nil || gitPath == "" {
			return
		}
		candidate := ShellNextToGit(gitPath)
		if _, err := os.Stat(candidate); err == nil {
			w.shell = candidate
		}
	})
	return w.shell
}

// ShellNextToGit derives <root>/bin/bash.exe from <root>/<dir>/git.exe.
func ShellNextToGit(gitPath string) string {
	root := filepath.Dir(filepath.Dir(gitPath))
	return filepath.Join(root, "bin", "bash.exe")
}

func whereGit() (string, error) {
	out, err := exec.Command("where", "git").Output()
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(first), nil
}

// Package apperr defines the error taxonomy shared by every repository backend.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidURI        = errors.New("invalid uri")
	ErrInvalidPath       = errors.New("invalid path")
	ErrInvalidHeaders    = errors.New("invalid headers")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrNotSupported      = errors.New("not supported")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrHookExecution     = errors.New("hook execution failed")
	ErrIncompatible      = errors.New("incompatible tooling version")
	ErrIO                = errors.New("io failure")
)

// HookError reports a git hook that could not be started or exited non-zero.
type HookError struct {
	Hook     string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *HookError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "hook %s failed", e.Hook)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, " (stderr: %s)", s)
	}
	return b.String()
}

func (e *HookError) Unwrap() error { return e.Err }

// Is matches ErrHookExecution so callers can test the category without errors.As.
func (e *HookError) Is(target error) bool { return target == ErrHookExecution }

// IO wraps err as an ErrIO failure for op, keeping the original error in the chain.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

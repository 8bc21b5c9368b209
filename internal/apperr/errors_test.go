package apperr

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestHookError_IsCategory(t *testing.T) {
	err := fmt.Errorf("commit: %w", &HookError{Hook: "pre-commit", ExitCode: 1, Stderr: "lint failed\n"})
	if !errors.Is(err, ErrHookExecution) {
		t.Fatal("expected HookError to match ErrHookExecution")
	}
	var he *HookError
	if !errors.As(err, &he) {
		t.Fatal("expected errors.As to find *HookError")
	}
	if he.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", he.ExitCode)
	}
	if !strings.Contains(err.Error(), "lint failed") {
		t.Errorf("message should carry stderr: %q", err.Error())
	}
}

func TestIO_KeepsBothCauses(t *testing.T) {
	err := IO("write ref", os.ErrPermission)
	if !errors.Is(err, ErrIO) {
		t.Error("expected ErrIO in chain")
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Error("expected original error in chain")
	}
	if IO("noop", nil) != nil {
		t.Error("IO(nil) should be nil")
	}
}

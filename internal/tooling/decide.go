package tooling

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/starford/kr/internal/apperr"
)

// PinnedEnv is set in the environment of a re-executed pinned build so the
// child does not pin again.
const PinnedEnv = "KR_TOOLING_PINNED"

// Build identifies the running tooling.
type Build struct {
	Version  string
	Revision string
}

// CurrentBuild reads the module version and VCS revision embedded by the Go
// toolchain. version, when non-empty, overrides the module version.
func CurrentBuild(version string) Build {
	b := Build{Version: version}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if b.Version == "" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			b.Revision = s.Value
		}
	}
	return b
}

// Action is the outcome of Decide.
type Action int

const (
	// ActionContinue runs the command in this process.
	ActionContinue Action = iota
	// ActionReexec hands control to the pinned revision.
	ActionReexec
)

func (a Action) String() string {
	if a == ActionReexec {
		return "reexec"
	}
	return "continue"
}

// Decision tells the caller how to proceed.
type Decision struct {
	Action   Action
	Revision string
}

// Decide compares the repository requirement with the running build. dev
// skips every check.
func Decide(required string, current Build, dev bool) (Decision, error) {
	if dev {
		return Decision{Action: ActionContinue}, nil
	}
	req, err := ParseRequirement(required)
	if err != nil {
		return Decision{}, err
	}
	if req.IsZero() {
		return Decision{Action: ActionContinue}, nil
	}
	if req.Pinned() {
		if current.Revision != "" && strings.HasPrefix(current.Revision, req.Revision) {
			return Decision{Action: ActionContinue}, nil
		}
		return Decision{Action: ActionReexec, Revision: req.Revision}, nil
	}
	ok, err := req.Allows(current.Version)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{}, fmt.Errorf("tooling: version %s does not satisfy %q: %w", current.Version, req, apperr.ErrIncompatible)
	}
	return Decision{Action: ActionContinue}, nil
}

// Package tooling enforces the tooling version a repository asks for.
//
// A repository may require a version range of the kr tooling or pin an exact
// revision of its source. Decide compares that requirement with the running
// build; a pinned revision is honoured by checking the source out into a
// scratch directory and handing control to it with Reexec.
package tooling

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/starford/kr/internal/apperr"
)

// RevisionPrefix marks a requirement that pins an exact source revision.
const RevisionPrefix = "!"

// Requirement is a parsed required_tooling_version value.
type Requirement struct {
	// Revision is set for "!<revision>" requirements.
	Revision string
	clauses  []clause
	raw      string
}

type clause struct {
	op      string
	version string
}

// operators are tried longest first so ">=" is not read as ">".
var operators = []string{">=", "<=", "==", "!=", ">", "<", "="}

// ParseRequirement parses an empty string, a revision pin "!<revision>" or a
// comma separated list of version clauses such as ">=1.2,<2". A bare version
// means an exact match. Versions may omit the leading "v".
func ParseRequirement(s string) (Requirement, error) {
	s = strings.TrimSpace(s)
	r := Requirement{raw: s}
	if s == "" {
		return r, nil
	}
	if rev, ok := strings.CutPrefix(s, RevisionPrefix); ok && !strings.HasPrefix(s, "!=") {
		rev = strings.TrimSpace(rev)
		if rev == "" || strings.ContainsAny(rev, " \t") {
			return Requirement{}, fmt.Errorf("tooling: invalid revision pin %q", s)
		}
		r.Revision = rev
		return r, nil
	}
	for _, part := range strings.Split(s, ",") {
		c, err := parseClause(part)
		if err != nil {
			return Requirement{}, err
		}
		r.clauses = append(r.clauses, c)
	}
	return r, nil
}

func parseClause(part string) (clause, error) {
	part = strings.TrimSpace(part)
	op := "=="
	for _, candidate := range operators {
		if rest, ok := strings.CutPrefix(part, candidate); ok {
			op, part = candidate, strings.TrimSpace(rest)
			break
		}
	}
	if op == "=" {
		op = "=="
	}
	v := canonical(part)
	if !semver.IsValid(v) {
		return clause{}, fmt.Errorf("tooling: invalid version %q in requirement", part)
	}
	return clause{op: op, version: v}, nil
}

// canonical adds the "v" prefix semver expects.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// IsZero reports whether the requirement accepts any build.
func (r Requirement) IsZero() bool {
	return r.Revision == "" && len(r.clauses) == 0
}

// Pinned reports whether the requirement names a source revision.
func (r Requirement) Pinned() bool {
	return r.Revision != ""
}

func (r Requirement) String() string {
	return r.raw
}

// Allows reports whether version satisfies every clause. Pins and empty
// requirements allow everything.
func (r Requirement) Allows(version string) (bool, error) {
	if len(r.clauses) == 0 {
		return true, nil
	}
	v := canonical(version)
	if !semver.IsValid(v) {
		return false, fmt.Errorf("tooling: %q is not a release version: %w", version, apperr.ErrIncompatible)
	}
	for _, c := range r.clauses {
		if !c.allows(v) {
			return false, nil
		}
	}
	return true, nil
}

func (c clause) allows(v string) bool {
	cmp := semver.Compare(v, c.version)
	switch c.op {
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case "!=":
		return cmp != 0
	default:
		return cmp == 0
	}
}

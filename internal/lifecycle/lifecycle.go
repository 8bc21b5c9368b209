// Package lifecycle defines post publication statuses and the legal moves
// between them.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/starford/kr/internal/apperr"
)

// Status is the publication state of a post. The zero value means the post
// does not exist.
type Status int

const (
	None Status = iota
	Draft
	Submitted
	Published
	Unpublished
)

var statusNames = [...]string{
	None:        "NONE",
	Draft:       "DRAFT",
	Submitted:   "SUBMITTED",
	Published:   "PUBLISHED",
	Unpublished: "UNPUBLISHED",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus accepts a status name in any case.
func ParseStatus(name string) (Status, error) {
	up := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range statusNames {
		if i != int(None) && n == up {
			return Status(i), nil
		}
	}
	return None, fmt.Errorf("lifecycle: unknown status %q", name)
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Action is an operation that moves a post between statuses.
type Action int

const (
	Add Action = iota
	Submit
	Accept
	Publish
	Unpublish
)

func (a Action) String() string {
	switch a {
	case Add:
		return "add"
	case Submit:
		return "submit"
	case Accept:
		return "accept"
	case Publish:
		return "publish"
	case Unpublish:
		return "unpublish"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

type move struct {
	from   Status
	action Action
}

var reviewMoves = map[move]Status{
	{None, Add}: Draft,

	{Draft, Add}:    Draft,
	{Draft, Submit}: Submitted,

	{Submitted, Add}:     Draft,
	{Submitted, Submit}:  Submitted,
	{Submitted, Accept}:  Published,
	{Submitted, Publish}: Published,

	{Published, Add}:       Draft,
	{Published, Publish}:   Published,
	{Published, Unpublish}: Unpublished,

	{Unpublished, Add}:     Draft,
	{Unpublished, Publish}: Published,
}

// Machine applies the transition table of one backend family.
type Machine struct {
	// Review enables the draft/submit/accept workflow. Without it every
	// added post is immediately published.
	Review bool
}

var (
	// ReviewMachine governs backends with a review workflow.
	ReviewMachine = Machine{Review: true}
	// DirectMachine governs backends where adding a post publishes it.
	DirectMachine = Machine{Review: false}
)

// Next returns the status reached by applying action to a post in status
// from. Moves the backend cannot express fail with apperr.ErrNotSupported;
// moves the table forbids fail with apperr.ErrInvalidTransition.
func (m Machine) Next(from Status, action Action) (Status, error) {
	if !m.Review {
		switch action {
		case Add:
			return Published, nil
		case Publish:
			if from == Published {
				return Published, nil
			}
			return None, m.invalid(from, action)
		default:
			return None, fmt.Errorf("lifecycle: %s: %w", action, apperr.ErrNotSupported)
		}
	}
	to, ok := reviewMoves[move{from, action}]
	if !ok {
		return None, m.invalid(from, action)
	}
	return to, nil
}

// Allowed reports whether action is legal from status from.
func (m Machine) Allowed(from Status, action Action) bool {
	_, err := m.Next(from, action)
	return err == nil
}

func (m Machine) invalid(from Status, action Action) error {
	return fmt.Errorf("lifecycle: cannot %s a post in status %s: %w", action, from, apperr.ErrInvalidTransition)
}

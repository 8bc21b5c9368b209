package lifecycle

import (
	"errors"
	"testing"

	"github.com/starford/kr/internal/apperr"
)

func TestReviewMachine_Table(t *testing.T) {
	tests := []struct {
		from   Status
		action Action
		want   Status
	}{
		{None, Add, Draft},
		{Draft, Add, Draft},
		{Draft, Submit, Submitted},
		{Submitted, Add, Draft},
		{Submitted, Accept, Published},
		{Submitted, Publish, Published},
		{Published, Unpublish, Unpublished},
		{Published, Publish, Published},
		{Published, Add, Draft},
		{Unpublished, Publish, Published},
		{Unpublished, Add, Draft},
	}
	for _, tt := range tests {
		got, err := ReviewMachine.Next(tt.from, tt.action)
		if err != nil {
			t.Errorf("%s --%s--> unexpected error: %v", tt.from, tt.action, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s --%s--> %s, want %s", tt.from, tt.action, got, tt.want)
		}
	}
}

func TestReviewMachine_Illegal(t *testing.T) {
	illegal := []struct {
		from   Status
		action Action
	}{
		{None, Submit},
		{None, Publish},
		{Draft, Accept},
		{Draft, Unpublish},
		{Draft, Publish},
		{Published, Submit},
		{Published, Accept},
		{Unpublished, Unpublish},
		{Unpublished, Submit},
	}
	for _, tt := range illegal {
		if _, err := ReviewMachine.Next(tt.from, tt.action); !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Errorf("%s --%s--> err = %v, want ErrInvalidTransition", tt.from, tt.action, err)
		}
	}
}

func TestDirectMachine(t *testing.T) {
	for _, from := range []Status{None, Published} {
		got, err := DirectMachine.Next(from, Add)
		if err != nil || got != Published {
			t.Errorf("Add from %s = %s, %v; want PUBLISHED", from, got, err)
		}
	}
	if got, err := DirectMachine.Next(Published, Publish); err != nil || got != Published {
		t.Errorf("Publish = %s, %v", got, err)
	}
	for _, a := range []Action{Submit, Accept, Unpublish} {
		if _, err := DirectMachine.Next(Published, a); !errors.Is(err, apperr.ErrNotSupported) {
			t.Errorf("%s err = %v, want ErrNotSupported", a, err)
		}
	}
	if DirectMachine.Allowed(None, Publish) {
		t.Error("publishing a missing post should not be allowed")
	}
}

func TestStatus_TextRoundTrip(t *testing.T) {
	for _, s := range []Status{Draft, Submitted, Published, Unpublished} {
		b, _ := s.MarshalText()
		var got Status
		if err := got.UnmarshalText(b); err != nil || got != s {
			t.Errorf("round trip %s = %s, %v", s, got, err)
		}
	}
	if _, err := ParseStatus("none"); err == nil {
		t.Error("NONE should not parse")
	}
	if s, err := ParseStatus(" published "); err != nil || s != Published {
		t.Errorf("ParseStatus = %s, %v", s, err)
	}
}

package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidSpec is returned for a session that cannot be run.
var ErrInvalidSpec = errors.New("session: invalid spec")

// Spec is the fixed plan of a session: who speaks, in order, and for how long
// in total.
type Spec struct {
	attendees []string
	seconds   int
}

// NewSpec validates and copies the attendee list. The duration is truncated
// to whole seconds.
func NewSpec(attendees []string, duration time.Duration) (Spec, error) {
	if len(attendees) == 0 {
		return Spec{}, fmt.Errorf("%w: at least one attendee is required", ErrInvalidSpec)
	}
	names := make([]string, len(attendees))
	for i, a := range attendees {
		name := strings.TrimSpace(a)
		if name == "" {
			return Spec{}, fmt.Errorf("%w: attendee %d has no name", ErrInvalidSpec, i+1)
		}
		names[i] = name
	}
	seconds := int(duration / time.Second)
	if seconds < 1 {
		return Spec{}, fmt.Errorf("%w: duration must be at least one second, got %s", ErrInvalidSpec, duration)
	}
	return Spec{attendees: names, seconds: seconds}, nil
}

// Attendees returns a copy of the speaking order.
func (s Spec) Attendees() []string {
	return append([]string(nil), s.attendees...)
}

func (s Spec) AttendeeCount() int { return len(s.attendees) }

// Seconds is the total session length.
func (s Spec) Seconds() int { return s.seconds }

func (s Spec) Duration() time.Duration { return time.Duration(s.seconds) * time.Second }

// PerAttendee is the length of one turn in whole seconds. It can be zero
// when there are more attendees than seconds.
func (s Spec) PerAttendee() int {
	if len(s.attendees) == 0 {
		return 0
	}
	return s.seconds / len(s.attendees)
}

// Speaker returns the name of attendee i, or "" when out of range.
func (s Spec) Speaker(i int) string {
	if i < 0 || i >= len(s.attendees) {
		return ""
	}
	return s.attendees[i]
}

func (s Spec) valid() bool {
	return len(s.attendees) > 0 && s.seconds > 0
}

package session

import (
	"fmt"

	"github.com/lukasbauer/syncup/internal/gate"
)

// Phase is the lifecycle stage of a controller.
type Phase int

const (
	Idle Phase = iota
	Running
	Ended
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Ended:
		return "ended"
	default:
		return "idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for _, v := range []Phase{Idle, Running, Ended} {
		if v.String() == string(b) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Progress is a read-only view of a session for rendering.
type Progress struct {
	Phase            Phase      `json:"phase"`
	ElapsedSeconds   int        `json:"elapsed_seconds"`
	SecondsRemaining int        `json:"seconds_remaining"`
	SpeakerIndex     int        `json:"speaker_index"`
	Speaker          string     `json:"speaker"`
	AttendeeCount    int        `json:"attendee_count"`
	Transcript       string     `json:"transcript"`
	Transcribing     bool       `json:"transcribing"`
	Dialog           gate.State `json:"dialog"`
}

// OutcomeKind tells how a session ended.
type OutcomeKind int

const (
	Finished OutcomeKind = iota + 1
	Abandoned
)

func (k OutcomeKind) String() string {
	switch k {
	case Finished:
		return "finished"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OutcomeKind) UnmarshalText(b []byte) error {
	for _, v := range []OutcomeKind{Finished, Abandoned} {
		if v.String() == string(b) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Outcome is delivered exactly once when a session ends.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	Transcript string      `json:"transcript,omitempty"`
}

func (o Outcome) Finished() bool { return o.Kind == Finished }

// EventType names a notable transition in a session.
type EventType string

const (
	EventSessionStarted      EventType = "session_started"
	EventAuthorizationDenied EventType = "authorization_denied"
	EventSpeakerAdvanced     EventType = "speaker_advanced"
	EventGateOpened          EventType = "gate_opened"
	EventGateResolved        EventType = "gate_resolved"
	EventTranscriptionFailed EventType = "transcription_failed"
	EventSessionFault        EventType = "session_fault"
	EventSessionEnded        EventType = "session_ended"
)

// Event is passed to an Observer.
type Event struct {
	SessionID string
	Type      EventType
	Progress  Progress
	Data      map[string]any
}

// Observer receives events on the session's coordinator goroutine. It must
// not block and must not call back into the controller.
type Observer func(Event)

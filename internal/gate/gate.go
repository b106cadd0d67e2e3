// Package gate models the single dialog a live session can show: the
// end-of-meeting confirmation, a transcription failure notice, or a fatal alert.
package gate

import (
	"fmt"
	"strings"
)

// Kind identifies which dialog is open.
type Kind int

const (
	Closed Kind = iota
	EndMeeting
	TranscriptionFailed
	Fatal
)

var kindNames = [...]string{
	Closed:              "closed",
	EndMeeting:          "end_meeting",
	TranscriptionFailed: "transcription_failed",
	Fatal:               "fatal",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown dialog kind %q", b)
}

// Choice is a user answer to an open dialog.
type Choice int

const (
	Save Choice = iota + 1
	Discard
	Resume
	Dismiss
)

var choiceNames = map[Choice]string{
	Save:    "save",
	Discard: "discard",
	Resume:  "resume",
	Dismiss: "dismiss",
}

func (c Choice) String() string {
	if name, ok := choiceNames[c]; ok {
		return name
	}
	return fmt.Sprintf("choice(%d)", int(c))
}

func (c Choice) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Choice) UnmarshalText(b []byte) error {
	parsed, err := ParseChoice(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseChoice accepts a choice name, case-insensitively.
func ParseChoice(s string) (Choice, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range choiceNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown choice %q", s)
}

// State is the dialog currently shown.
type State struct {
	Kind        Kind   `json:"kind"`
	Discardable bool   `json:"discardable,omitempty"`
	Message     string `json:"message,omitempty"`
}

// IsOpen reports whether a dialog is visible.
func (s State) IsOpen() bool { return s.Kind != Closed }

// Choices lists the answers the dialog offers.
func (s State) Choices() []Choice {
	switch s.Kind {
	case EndMeeting:
		if s.Discardable {
			return []Choice{Save, Discard, Resume}
		}
		return []Choice{Save}
	case TranscriptionFailed, Fatal:
		return []Choice{Dismiss}
	default:
		return nil
	}
}

// Allows reports whether c is a valid answer in this state.
func (s State) Allows(c Choice) bool {
	for _, ok := range s.Choices() {
		if ok == c {
			return true
		}
	}
	return false
}

// Resolution is what a Resolve call did.
type Resolution int

const (
	Ignored Resolution = iota
	Resumed
	Dismissed
	Saved
	Discarded
	Acknowledged // fatal alert acknowledged
)

func (r Resolution) String() string {
	switch r {
	case Resumed:
		return "resumed"
	case Dismissed:
		return "dismissed"
	case Saved:
		return "saved"
	case Discarded:
		return "discarded"
	case Acknowledged:
		return "acknowledged"
	default:
		return "ignored"
	}
}

// Terminal reports whether the resolution ends the session.
func (r Resolution) Terminal() bool {
	return r == Saved || r == Discarded || r == Acknowledged
}

// Gate holds at most one open dialog plus one deferred failure notice.
// It is not safe for concurrent use.
type Gate struct {
	state   State
	pending *State
}

// State returns the open dialog, or a Closed state.
func (g *Gate) State() State { return g.state }

// OpenEndMeeting shows the end-of-meeting confirmation. It does nothing and
// returns false when another dialog is already open.
func (g *Gate) OpenEndMeeting(discardable bool) bool {
	if g.state.IsOpen() {
		return false
	}
	g.state = State{Kind: EndMeeting, Discardable: discardable}
	return true
}

// Notify shows a dismissible transcription failure. While another dialog is
// open the notice waits until that dialog closes without ending the session.
// It returns true if the notice is shown now.
func (g *Gate) Notify(message string) bool {
	notice := State{Kind: TranscriptionFailed, Message: message}
	switch g.state.Kind {
	case Closed:
		g.state = notice
		return true
	case Fatal:
		return false
	default:
		g.pending = &notice
		return false
	}
}

// Fail shows a fatal alert, replacing whatever was open or queued.
func (g *Gate) Fail(message string) {
	if g.state.Kind == Fatal {
		return
	}
	g.state = State{Kind: Fatal, Message: message}
	g.pending = nil
}

// Resolve applies c to the open dialog. Choices the dialog does not offer
// are ignored.
func (g *Gate) Resolve(c Choice) Resolution {
	if !g.state.Allows(c) {
		return Ignored
	}

	kind := g.state.Kind
	g.state = State{}

	switch {
	case c == Save:
		g.pending = nil
		return Saved
	case c == Discard:
		g.pending = nil
		return Discarded
	case kind == Fatal:
		g.pending = nil
		return Acknowledged
	}

	if g.pending != nil {
		g.state = *g.pending
		g.pending = nil
	}
	if c == Resume {
		return Resumed
	}
	return Dismissed
}

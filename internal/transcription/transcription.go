package transcription

import (
	"context"
	"errors"
)

// ErrClosed is returned when a stream is used after Close.
var ErrClosed = errors.New("transcription: stream closed")

// Authorization is the outcome of a permission check.
type Authorization int

const (
	Denied Authorization = iota
	Authorized
)

func (a Authorization) String() string {
	if a == Authorized {
		return "authorized"
	}
	return "denied"
}

// Snapshot is the best transcription of the session so far.
// Later snapshots supersede earlier ones.
type Snapshot struct {
	Text    string
	IsFinal bool // the text ends on a committed segment
}

// Source is a speech-to-text capability.
type Source interface {
	// RequestAuthorization reports whether transcription may be used.
	RequestAuthorization(ctx context.Context) Authorization

	// Start acquires the audio input and begins transcribing.
	// An error here means a required resource could not be acquired.
	Start(ctx context.Context) (Stream, error)
}

// Stream is a running transcription.
type Stream interface {
	// Results returns cumulative snapshots. The channel is closed when the
	// producer finishes.
	Results() <-chan Snapshot

	// Errors returns mid-stream failures. The producer stops after a failure.
	Errors() <-chan error

	// Close stops the producer and releases audio and network resources.
	// It is safe to call more than once.
	Close() error
}

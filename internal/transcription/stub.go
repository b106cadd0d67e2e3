package transcription

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lukasbauer/syncup/internal/clock"
)

// ErrStubFailure is the failure a Stub reports after FailAfter lines.
var ErrStubFailure = errors.New("transcription: simulated recognizer failure")

// Stub is an offline Source that replays scripted lines on a clock.
type Stub struct {
	Clock     clock.Clock
	Lines     []string
	Interval  time.Duration // time between lines, defaults to one second
	FailAfter int           // fail after this many lines; 0 never fails
	Deny      bool
}

func (s *Stub) RequestAuthorization(ctx context.Context) Authorization {
	if s.Deny {
		return Denied
	}
	return Authorized
}

func (s *Stub) Start(ctx context.Context) (Stream, error) {
	c := s.Clock
	if c == nil {
		c = clock.System{}
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	st := &stubStream{
		results: make(chan Snapshot),
		errors:  make(chan error, 1),
		cancel:  cancel,
	}

	st.wg.Add(1)
	go st.run(ctx, c.Ticks(ctx, interval), s.Lines, s.FailAfter)
	return st, nil
}

type stubStream struct {
	results   chan Snapshot
	errors    chan error
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (s *stubStream) run(ctx context.Context, ticks <-chan time.Time, lines []string, failAfter int) {
	defer s.wg.Done()
	defer close(s.results)

	var said []string
	for i, line := range lines {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
		}

		if failAfter > 0 && i == failAfter {
			s.errors <- ErrStubFailure
			return
		}

		said = append(said, line)
		select {
		case <-ctx.Done():
			return
		case s.results <- Snapshot{Text: strings.Join(said, " "), IsFinal: true}:
		}
	}
}

func (s *stubStream) Results() <-chan Snapshot { return s.results }

func (s *stubStream) Errors() <-chan error { return s.errors }

func (s *stubStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		close(s.errors)
	})
	return nil
}

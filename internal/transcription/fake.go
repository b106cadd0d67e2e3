package transcription

import (
	"context"
	"sync"
)

// Fake is a Source driven by the caller. Emit and Fail block until the
// consumer has received the value, so tests observe effects without sleeping.
type Fake struct {
	mu       sync.Mutex
	auth     Authorization
	startErr error
	stream   *fakeStream
	starts   int
}

// NewFake returns a Fake that answers authorization requests with auth.
func NewFake(auth Authorization) *Fake {
	return &Fake{auth: auth}
}

// FailStart makes the next Start call return err.
func (f *Fake) FailStart(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

func (f *Fake) RequestAuthorization(ctx context.Context) Authorization {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auth
}

func (f *Fake) Start(ctx context.Context) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.starts++
	if f.startErr != nil {
		err := f.startErr
		f.startErr = nil
		return nil, err
	}
	f.stream = &fakeStream{
		results: make(chan Snapshot),
		errors:  make(chan error),
		closed:  make(chan struct{}),
	}
	return f.stream, nil
}

// Starts returns how many times Start was called.
func (f *Fake) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *Fake) current() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stream
}

// Emit delivers a cumulative snapshot. It reports false when no stream is
// running or the stream was closed before the value was received.
func (f *Fake) Emit(text string) bool {
	s := f.current()
	if s == nil {
		return false
	}
	return s.emit(Snapshot{Text: text, IsFinal: true})
}

// Fail delivers a mid-stream failure.
func (f *Fake) Fail(err error) bool {
	s := f.current()
	if s == nil {
		return false
	}
	return s.fail(err)
}

// Finish ends the snapshot sequence without an error.
func (f *Fake) Finish() {
	if s := f.current(); s != nil {
		s.finish()
	}
}

// Closed reports whether the consumer closed the running stream.
func (f *Fake) Closed() bool {
	s := f.current()
	if s == nil {
		return false
	}
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeStream struct {
	mu        sync.Mutex // serializes senders against finish
	finished  bool
	results   chan Snapshot
	errors    chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *fakeStream) emit(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	select {
	case s.results <- snap:
		return true
	case <-s.closed:
		return false
	}
}

func (s *fakeStream) fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.errors <- err:
		return true
	case <-s.closed:
		return false
	}
}

func (s *fakeStream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.finished = true
		close(s.results)
	}
}

func (s *fakeStream) Results() <-chan Snapshot { return s.results }

func (s *fakeStream) Errors() <-chan error { return s.errors }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

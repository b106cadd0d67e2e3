package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/lukasbauer/syncup/internal/session"
	"github.com/lukasbauer/syncup/internal/store"
)

// liveSession is a running controller and what the host knows about it.
type liveSession struct {
	ctrl      *session.Controller
	syncup    store.Syncup
	ownerID   string
	startedAt time.Time
	cancel    context.CancelFunc
}

// SessionRegistry tracks live sessions and supports graceful draining.
// When draining is enabled, new sessions are rejected while running ones
// finish naturally.
//
// The mutex makes the draining check and wg.Add atomic in Add, so no session
// can slip in between StartDraining and Wait.
type SessionRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	sessions map[string]*liveSession
}

// NewSessionRegistry creates a new SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*liveSession)}
}

// Add registers a session. Returns false if the registry is draining or the
// id is taken.
func (sr *SessionRegistry) Add(s *liveSession) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.draining {
		return false
	}
	id := s.ctrl.ID()
	if _, ok := sr.sessions[id]; ok {
		return false
	}
	sr.sessions[id] = s
	sr.wg.Add(1)
	return true
}

// Get returns the live session with id.
func (sr *SessionRegistry) Get(id string) (*liveSession, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	s, ok := sr.sessions[id]
	return s, ok
}

// Remove forgets a session. Must be called exactly once per successful Add.
func (sr *SessionRegistry) Remove(id string) {
	sr.mu.Lock()
	_, ok := sr.sessions[id]
	delete(sr.sessions, id)
	sr.mu.Unlock()
	if ok {
		sr.wg.Done()
	}
}

// StartDraining sets the draining flag so that future Add calls return false.
func (sr *SessionRegistry) StartDraining() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (sr *SessionRegistry) IsDraining() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.draining
}

// ActiveCount returns the number of live sessions.
func (sr *SessionRegistry) ActiveCount() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.sessions)
}

// CancelAll cancels every live session. Each ends as abandoned.
func (sr *SessionRegistry) CancelAll() {
	sr.mu.Lock()
	live := make([]*liveSession, 0, len(sr.sessions))
	for _, s := range sr.sessions {
		live = append(live, s)
	}
	sr.mu.Unlock()

	for _, s := range live {
		s.cancel()
	}
}

// Wait blocks until every registered session has been removed.
func (sr *SessionRegistry) Wait() {
	sr.wg.Wait()
}

// Drain rejects new sessions and waits for the running ones. When ctx ends
// first, the remaining sessions are cancelled and Drain waits for them to
// wind down before returning ctx's error.
func (sr *SessionRegistry) Drain(ctx context.Context) error {
	sr.StartDraining()

	done := make(chan struct{})
	go func() {
		sr.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		sr.CancelAll()
		<-done
		return ctx.Err()
	}
}

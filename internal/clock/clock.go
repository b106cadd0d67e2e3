package clock

import (
	"context"
	"sync"
	"time"
)

// Clock is a source of periodic ticks.
type Clock interface {
	// Ticks emits one value per interval until ctx is done.
	// Every call starts a fresh subscription; the channel is never closed.
	Ticks(ctx context.Context, interval time.Duration) <-chan time.Time
}

// System is a Clock backed by the wall clock.
type System struct{}

// Ticks implements Clock using a time.Ticker.
func (System) Ticks(ctx context.Context, interval time.Duration) <-chan time.Time {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan time.Time)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				select {
				case out <- now:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Manual is a Clock that only moves when Advance is called.
// Ticks are delivered synchronously: Advance returns once every due tick
// has been received by its subscriber (or the subscriber went away).
type Manual struct {
	advanceMu sync.Mutex // serializes Advance so each subscription sees ticks in order

	mu   sync.Mutex
	now  time.Time
	subs []*subscription
}

type subscription struct {
	ctx      context.Context
	ch       chan time.Time
	interval time.Duration
	pending  time.Duration
}

// NewManual creates a manual clock positioned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Ticks implements Clock.
func (m *Manual) Ticks(ctx context.Context, interval time.Duration) <-chan time.Time {
	if interval <= 0 {
		interval = time.Second
	}
	sub := &subscription{
		ctx:      ctx,
		ch:       make(chan time.Time),
		interval: interval,
	}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	return sub.ch
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Subscribers returns the number of live subscriptions.
func (m *Manual) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.subs {
		if s.ctx.Err() == nil {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and delivers the ticks that became due.
// Concurrent calls are applied one after the other.
func (m *Manual) Advance(d time.Duration) {
	m.advanceMu.Lock()
	defer m.advanceMu.Unlock()

	m.mu.Lock()
	start := m.now
	m.now = m.now.Add(d)
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		if s.ctx.Err() == nil {
			subs = append(subs, s)
		}
	}
	m.subs = subs
	m.mu.Unlock()

	for _, s := range subs {
		s.deliver(start, d)
	}
}

// Tick advances the clock by n seconds.
func (m *Manual) Tick(n int) {
	for i := 0; i < n; i++ {
		m.Advance(time.Second)
	}
}

func (s *subscription) deliver(start time.Time, d time.Duration) {
	s.pending += d
	at := start
	for s.pending >= s.interval {
		s.pending -= s.interval
		at = at.Add(s.interval)
		select {
		case s.ch <- at:
		case <-s.ctx.Done():
			return
		}
	}
}

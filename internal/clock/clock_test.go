package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualDeliversOneTickPerInterval(t *testing.T) {
	start := time.Date(2024, 10, 30, 9, 0, 0, 0, time.UTC)
	m := NewManual(start)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := m.Ticks(ctx, time.Second)

	received := make(chan time.Time, 10)
	go func() {
		for at := range ticks {
			received <- at
		}
	}()

	m.Advance(3 * time.Second)

	require.Eventually(t, func() bool { return len(received) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, start.Add(time.Second), <-received)
	assert.Equal(t, start.Add(2*time.Second), <-received)
	assert.Equal(t, start.Add(3*time.Second), <-received)
	assert.Equal(t, start.Add(3*time.Second), m.Now())
}

func TestManualAccumulatesPartialIntervals(t *testing.T) {
	m := NewManual(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := m.Ticks(ctx, time.Second)
	count := make(chan int, 1)
	go func() {
		n := 0
		for range ticks {
			n++
			select {
			case <-count:
			default:
			}
			count <- n
		}
	}()

	m.Advance(500 * time.Millisecond)
	select {
	case <-count:
		t.Fatal("no tick expected before a full interval elapsed")
	default:
	}

	m.Advance(500 * time.Millisecond)
	require.Eventually(t, func() bool { return len(count) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, <-count)
}

func TestManualAdvanceDoesNotBlockAfterCancel(t *testing.T) {
	m := NewManual(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())

	_ = m.Ticks(ctx, time.Second)
	require.Equal(t, 1, m.Subscribers())

	cancel()

	done := make(chan struct{})
	go func() {
		m.Tick(5)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Advance blocked on a cancelled subscription")
	}
	assert.Equal(t, 0, m.Subscribers())
}

func TestManualSubscriptionsCountIndependently(t *testing.T) {
	m := NewManual(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := m.Ticks(ctx, time.Second)
	go func() {
		for range first {
		}
	}()
	m.Advance(1500 * time.Millisecond)

	second := m.Ticks(ctx, time.Second)
	got := make(chan time.Time, 4)
	go func() {
		for at := range second {
			got <- at
		}
	}()

	// The first subscription has 500ms pending, the second starts from zero.
	m.Advance(500 * time.Millisecond)
	assert.Len(t, got, 0)

	m.Advance(500 * time.Millisecond)
	require.Eventually(t, func() bool { return len(got) == 1 }, time.Second, time.Millisecond)
}

func TestSystemTicksStopOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ticks := System{}.Ticks(ctx, 5*time.Millisecond)

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("expected a tick from the system clock")
	}

	cancel()
	time.Sleep(20 * time.Millisecond)

	select {
	case <-ticks:
		t.Fatal("no tick expected after cancel")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestManualConcurrentTicks(t *testing.T) {
	start := time.Date(2024, 10, 30, 9, 0, 0, 0, time.UTC)
	m := NewManual(start)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := m.Ticks(ctx, time.Second)
	got := make(chan []time.Time, 1)
	go func() {
		var seen []time.Time
		for at := range ticks {
			seen = append(seen, at)
			if len(seen) == 200 {
				got <- seen
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Tick(100)
		}()
	}
	wg.Wait()

	select {
	case seen := <-got:
		for i := 1; i < len(seen); i++ {
			assert.True(t, seen[i].After(seen[i-1]), "tick %d out of order", i)
		}
	case <-time.After(time.Second):
		t.Fatal("expected 200 ticks")
	}
	assert.Equal(t, start.Add(200*time.Second), m.Now())
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukasbauer/syncup/internal/clock"
	"github.com/lukasbauer/syncup/internal/gate"
	"github.com/lukasbauer/syncup/internal/transcription"
)

type harness struct {
	t      *testing.T
	clk    *clock.Manual
	src    *transcription.Fake
	ctrl   *Controller
	cancel context.CancelFunc

	mu       sync.Mutex
	outcomes []Outcome
	events   []EventType
}

func newHarness(t *testing.T, attendees int, seconds int, auth transcription.Authorization) *harness {
	t.Helper()

	names := make([]string, attendees)
	for i := range names {
		names[i] = fmt.Sprintf("Attendee %d", i+1)
	}
	spec, err := NewSpec(names, time.Duration(seconds)*time.Second)
	require.NoError(t, err)

	h := &harness{
		t:   t,
		clk: clock.NewManual(time.Date(2024, 10, 30, 9, 0, 0, 0, time.UTC)),
		src: transcription.NewFake(auth),
	}
	h.ctrl, err = New(Config{
		ID:     "test-session",
		Spec:   spec,
		Clock:  h.clk,
		Source: h.src,
		OnFinish: func(o Outcome) {
			h.mu.Lock()
			h.outcomes = append(h.outcomes, o)
			h.mu.Unlock()
		},
		Observer: func(e Event) {
			h.mu.Lock()
			h.events = append(h.events, e.Type)
			h.mu.Unlock()
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return h
}

func (h *harness) start() *harness {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	require.NoError(h.t, h.ctrl.Start(ctx))
	h.t.Cleanup(func() {
		cancel()
		waitDone(h.t, h.ctrl)
		_ = h.ctrl.Wait()
	})
	return h
}

func (h *harness) finished() []Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Outcome(nil), h.outcomes...)
}

func (h *harness) eventTypes() []EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]EventType(nil), h.events...)
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestNaturalCompletion(t *testing.T) {
	tests := []struct {
		attendees int
		seconds   int
	}{
		{3, 3},
		{1, 6},
		{2, 10},
		{4, 8},
		{5, 60},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("N=%d D=%d", tt.attendees, tt.seconds), func(t *testing.T) {
			h := newHarness(t, tt.attendees, tt.seconds, transcription.Denied).start()
			per := tt.seconds / tt.attendees

			for i := 1; i < tt.seconds; i++ {
				h.clk.Tick(1)
				p := h.ctrl.Progress()
				assert.Equal(t, i, p.ElapsedSeconds)
				assert.Equal(t, i/per, p.SpeakerIndex, "tick %d", i)
				assert.False(t, p.Dialog.IsOpen(), "tick %d", i)
			}

			h.clk.Tick(1)
			p := h.ctrl.Progress()
			assert.Equal(t, tt.seconds, p.ElapsedSeconds)
			assert.Equal(t, tt.attendees-1, p.SpeakerIndex)
			assert.Equal(t, gate.State{Kind: gate.EndMeeting, Discardable: false}, p.Dialog)
			assert.Equal(t, 0, p.SecondsRemaining)

			// The timer is released; further ticks have no subscriber.
			assert.Equal(t, 0, h.clk.Subscribers())
			h.clk.Tick(3)
			assert.Equal(t, tt.seconds, h.ctrl.Progress().ElapsedSeconds)

			assert.Equal(t, gate.Saved, h.ctrl.ResolveDialog(gate.Save))
			assert.Equal(t, []Outcome{{Kind: Finished, Transcript: ""}}, h.finished())
		})
	}
}

func TestScenarioThreeAttendeesThreeSeconds(t *testing.T) {
	h := newHarness(t, 3, 3, transcription.Denied).start()

	h.clk.Tick(1)
	assert.Equal(t, 1, h.ctrl.Progress().SpeakerIndex)
	h.clk.Tick(1)
	assert.Equal(t, 2, h.ctrl.Progress().SpeakerIndex)
	h.clk.Tick(1)
	assert.Equal(t, gate.State{Kind: gate.EndMeeting}, h.ctrl.Progress().Dialog)

	h.ctrl.ResolveDialog(gate.Save)
	waitDone(t, h.ctrl)
	assert.Equal(t, []Outcome{{Kind: Finished}}, h.finished())
}

func TestScenarioSingleAttendeeDenied(t *testing.T) {
	h := newHarness(t, 1, 6, transcription.Denied).start()

	for i := 0; i < 5; i++ {
		h.clk.Tick(1)
		assert.False(t, h.ctrl.Progress().Dialog.IsOpen())
	}
	h.clk.Tick(1)
	assert.Equal(t, gate.State{Kind: gate.EndMeeting}, h.ctrl.Progress().Dialog)
	assert.Equal(t, 0, h.src.Starts(), "denied source must not be started")

	h.ctrl.ResolveDialog(gate.Save)
	assert.Equal(t, []Outcome{{Kind: Finished}}, h.finished())
	assert.Contains(t, h.eventTypes(), EventAuthorizationDenied)
}

func TestScenarioDiscardEarly(t *testing.T) {
	h := newHarness(t, 3, 9, transcription.Denied).start()

	h.clk.Tick(1)
	require.Equal(t, 1, h.ctrl.Progress().ElapsedSeconds)

	h.ctrl.RequestEndMeeting()
	assert.Equal(t, gate.State{Kind: gate.EndMeeting, Discardable: true}, h.ctrl.Progress().Dialog)

	assert.Equal(t, gate.Discarded, h.ctrl.ResolveDialog(gate.Discard))
	assert.Equal(t, []Outcome{{Kind: Abandoned}}, h.finished())

	// No further ticks are processed.
	assert.Equal(t, 0, h.clk.Subscribers())
	h.clk.Tick(5)
	p := h.ctrl.Progress()
	assert.Equal(t, Ended, p.Phase)
	assert.Equal(t, 1, p.ElapsedSeconds)
}

func TestAdvanceSpeaker(t *testing.T) {
	h := newHarness(t, 4, 40, transcription.Denied).start()

	h.clk.Tick(3)
	h.ctrl.AdvanceSpeaker()
	p := h.ctrl.Progress()
	assert.Equal(t, 1, p.SpeakerIndex)
	assert.Equal(t, 10, p.ElapsedSeconds)

	h.clk.Tick(8)
	require.Equal(t, 18, h.ctrl.Progress().ElapsedSeconds)
	h.ctrl.AdvanceSpeaker()
	p = h.ctrl.Progress()
	assert.Equal(t, 2, p.SpeakerIndex)
	assert.Equal(t, 20, p.ElapsedSeconds)
	assert.Equal(t, "Attendee 3", p.Speaker)

	h.ctrl.AdvanceSpeaker()
	p = h.ctrl.Progress()
	assert.Equal(t, 3, p.SpeakerIndex)
	assert.Equal(t, 30, p.ElapsedSeconds)

	// Timer keeps running from the jumped position.
	h.clk.Tick(2)
	assert.Equal(t, 32, h.ctrl.Progress().ElapsedSeconds)

	h.ctrl.AdvanceSpeaker()
	p = h.ctrl.Progress()
	assert.Equal(t, 3, p.SpeakerIndex)
	assert.Equal(t, gate.State{Kind: gate.EndMeeting}, p.Dialog)
	assert.Equal(t, 0, h.clk.Subscribers())

	h.ctrl.AdvanceSpeaker()
	assert.Equal(t, 3, h.ctrl.Progress().SpeakerIndex)

	// The natural-end dialog offers no way out but saving.
	assert.Equal(t, gate.Ignored, h.ctrl.ResolveDialog(gate.Discard))
	assert.Equal(t, gate.Ignored, h.ctrl.ResolveDialog(gate.Resume))
	assert.Empty(t, h.finished())
}

func TestAdvanceSpeakerIgnoredWhileDialogOpen(t *testing.T) {
	h := newHarness(t, 3, 30, transcription.Denied).start()

	h.ctrl.RequestEndMeeting()
	h.ctrl.AdvanceSpeaker()
	p := h.ctrl.Progress()
	assert.Equal(t, 0, p.SpeakerIndex)
	assert.True(t, p.Dialog.Discardable)
}

func TestRequestEndMeetingPausesTicksAndResumes(t *testing.T) {
	h := newHarness(t, 2, 20, transcription.Denied).start()

	h.clk.Tick(4)
	h.ctrl.RequestEndMeeting()
	h.ctrl.RequestEndMeeting()
	want := gate.State{Kind: gate.EndMeeting, Discardable: true}
	assert.Equal(t, want, h.ctrl.Progress().Dialog)

	h.clk.Tick(10)
	assert.Equal(t, 4, h.ctrl.Progress().ElapsedSeconds, "ticks are discarded while the dialog is open")

	assert.Equal(t, gate.Resumed, h.ctrl.ResolveDialog(gate.Resume))
	assert.False(t, h.ctrl.Progress().Dialog.IsOpen())

	h.clk.Tick(6)
	p := h.ctrl.Progress()
	assert.Equal(t, 10, p.ElapsedSeconds)
	assert.Equal(t, 1, p.SpeakerIndex)
	assert.Empty(t, h.finished())
}

func TestRequestEndMeetingOnLastTurn(t *testing.T) {
	h := newHarness(t, 2, 4, transcription.Denied).start()

	h.clk.Tick(3)
	require.Equal(t, 1, h.ctrl.Progress().SpeakerIndex)

	h.ctrl.RequestEndMeeting()
	assert.True(t, h.ctrl.Progress().Dialog.Discardable)
	assert.Equal(t, gate.Saved, h.ctrl.ResolveDialog(gate.Save))
	assert.Equal(t, []Outcome{{Kind: Finished}}, h.finished())
}

func TestSaveDeliversLatestSnapshot(t *testing.T) {
	h := newHarness(t, 2, 10, transcription.Authorized).start()

	require.True(t, h.src.Emit("good"))
	require.True(t, h.src.Emit("good morning"))
	h.clk.Tick(1)
	require.True(t, h.src.Emit("good morning everyone"))

	p := h.ctrl.Progress()
	assert.Equal(t, "good morning everyone", p.Transcript)
	assert.True(t, p.Transcribing)

	h.ctrl.RequestEndMeeting()
	h.ctrl.ResolveDialog(gate.Save)
	assert.Equal(t, []Outcome{{Kind: Finished, Transcript: "good morning everyone"}}, h.finished())

	require.NoError(t, h.ctrl.Wait())
	assert.True(t, h.src.Closed(), "stream is released when the session ends")
}

func TestTranscriptionFinishingDoesNotEndSession(t *testing.T) {
	h := newHarness(t, 1, 5, transcription.Authorized).start()

	h.src.Emit("all done")
	h.src.Finish()

	p := h.ctrl.Progress()
	assert.Equal(t, Running, p.Phase)
	assert.False(t, p.Transcribing)
	assert.Equal(t, "all done", p.Transcript)
	assert.False(t, p.Dialog.IsOpen())

	h.clk.Tick(5)
	h.ctrl.ResolveDialog(gate.Save)
	assert.Equal(t, []Outcome{{Kind: Finished, Transcript: "all done"}}, h.finished())
}

func TestTranscriptionFailureIsRecoverable(t *testing.T) {
	h := newHarness(t, 2, 10, transcription.Authorized).start()

	h.src.Emit("we shipped")
	h.clk.Tick(2)
	require.True(t, h.src.Fail(errors.New("socket closed")))

	p := h.ctrl.Progress()
	assert.Equal(t, gate.TranscriptionFailed, p.Dialog.Kind)
	assert.Contains(t, p.Dialog.Message, "socket closed")
	assert.Equal(t, []gate.Choice{gate.Dismiss}, p.Dialog.Choices())
	assert.False(t, p.Transcribing)

	h.clk.Tick(3)
	assert.Equal(t, 2, h.ctrl.Progress().ElapsedSeconds)

	assert.Equal(t, gate.Dismissed, h.ctrl.ResolveDialog(gate.Dismiss))
	p = h.ctrl.Progress()
	assert.False(t, p.Dialog.IsOpen())
	assert.Equal(t, Running, p.Phase)
	assert.Empty(t, h.finished())

	h.clk.Tick(8)
	h.ctrl.ResolveDialog(gate.Save)
	assert.Equal(t, []Outcome{{Kind: Finished, Transcript: "we shipped"}}, h.finished())
	assert.Contains(t, h.eventTypes(), EventTranscriptionFailed)
}

func TestTranscriptionFailureWaitsForOpenDialog(t *testing.T) {
	h := newHarness(t, 2, 10, transcription.Authorized).start()

	h.ctrl.RequestEndMeeting()
	require.True(t, h.src.Fail(errors.New("network down")))
	assert.Equal(t, gate.EndMeeting, h.ctrl.Progress().Dialog.Kind)

	h.ctrl.ResolveDialog(gate.Resume)
	assert.Equal(t, gate.TranscriptionFailed, h.ctrl.Progress().Dialog.Kind)

	h.ctrl.ResolveDialog(gate.Dismiss)
	assert.False(t, h.ctrl.Progress().Dialog.IsOpen())
	assert.Empty(t, h.finished())
}

func TestResourceFailureIsFatal(t *testing.T) {
	h := newHarness(t, 2, 10, transcription.Authorized)
	h.src.FailStart(errors.New("microphone busy"))
	h.start()

	p := h.ctrl.Progress()
	assert.Equal(t, gate.Fatal, p.Dialog.Kind)
	assert.Contains(t, p.Dialog.Message, "microphone busy")

	h.ctrl.AdvanceSpeaker()
	h.ctrl.RequestEndMeeting()
	assert.Equal(t, gate.Ignored, h.ctrl.ResolveDialog(gate.Save))
	assert.Equal(t, gate.Fatal, h.ctrl.Progress().Dialog.Kind)
	assert.Equal(t, 0, h.ctrl.Progress().SpeakerIndex)

	assert.Equal(t, gate.Acknowledged, h.ctrl.ResolveDialog(gate.Dismiss))
	assert.Equal(t, []Outcome{{Kind: Abandoned}}, h.finished())
	assert.Contains(t, h.eventTypes(), EventSessionFault)
}

func TestCompletionCallbackFiresOnce(t *testing.T) {
	paths := map[string]func(h *harness){
		"natural end": func(h *harness) {
			h.clk.Tick(4)
			h.ctrl.ResolveDialog(gate.Save)
		},
		"confirmed end": func(h *harness) {
			h.ctrl.RequestEndMeeting()
			h.ctrl.ResolveDialog(gate.Save)
		},
		"discarded end": func(h *harness) {
			h.ctrl.RequestEndMeeting()
			h.ctrl.ResolveDialog(gate.Discard)
		},
		"host cancelled": func(h *harness) {
			h.cancel()
			waitDone(h.t, h.ctrl)
		},
	}
	for name, run := range paths {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, 2, 4, transcription.Authorized).start()
			run(h)
			waitDone(t, h.ctrl)

			// Everything after the end is a no-op.
			assert.Equal(t, gate.Ignored, h.ctrl.ResolveDialog(gate.Save))
			assert.Equal(t, gate.Ignored, h.ctrl.ResolveDialog(gate.Discard))
			h.ctrl.AdvanceSpeaker()
			h.ctrl.RequestEndMeeting()
			h.cancel()

			require.NoError(t, h.ctrl.Wait())
			assert.Len(t, h.finished(), 1)
			assert.True(t, h.src.Closed())
			assert.Equal(t, Ended, h.ctrl.Progress().Phase)
		})
	}
}

func TestHostCancellationAbandons(t *testing.T) {
	h := newHarness(t, 2, 10, transcription.Authorized).start()
	h.src.Emit("partial")

	h.cancel()
	waitDone(t, h.ctrl)

	out, ok := h.ctrl.Outcome()
	require.True(t, ok)
	assert.Equal(t, Outcome{Kind: Abandoned}, out)
	require.NoError(t, h.ctrl.Wait())
	assert.True(t, h.src.Closed())
}

func TestOperationsBeforeStart(t *testing.T) {
	h := newHarness(t, 2, 10, transcription.Denied)

	h.ctrl.AdvanceSpeaker()
	h.ctrl.RequestEndMeeting()
	assert.Equal(t, gate.Ignored, h.ctrl.ResolveDialog(gate.Save))

	p := h.ctrl.Progress()
	assert.Equal(t, Idle, p.Phase)
	assert.Equal(t, 10, p.SecondsRemaining)
	assert.Equal(t, "Attendee 1", p.Speaker)
	assert.NoError(t, h.ctrl.Wait())

	h.start()
	assert.ErrorIs(t, h.ctrl.Start(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, Running, h.ctrl.Progress().Phase)
}

func TestZeroLengthTurns(t *testing.T) {
	// Three attendees sharing two seconds: every tick is a turn boundary.
	h := newHarness(t, 3, 2, transcription.Denied).start()

	h.clk.Tick(1)
	assert.Equal(t, 1, h.ctrl.Progress().SpeakerIndex)
	h.clk.Tick(1)
	assert.Equal(t, 2, h.ctrl.Progress().SpeakerIndex)
	h.clk.Tick(1)
	assert.Equal(t, gate.EndMeeting, h.ctrl.Progress().Dialog.Kind)

	h.ctrl.ResolveDialog(gate.Save)
	assert.Len(t, h.finished(), 1)
}

func TestWatchCoalescesAndCloses(t *testing.T) {
	h := newHarness(t, 2, 10, transcription.Denied)
	updates := h.ctrl.Watch()
	h.start()

	h.clk.Tick(3)
	h.ctrl.Progress()

	latest := <-updates
	assert.Equal(t, 3, latest.ElapsedSeconds)

	h.ctrl.RequestEndMeeting()
	h.ctrl.ResolveDialog(gate.Discard)

	final, ok := <-updates
	require.True(t, ok)
	assert.Equal(t, Ended, final.Phase)
	assert.False(t, final.Dialog.IsOpen())

	_, ok = <-updates
	assert.False(t, ok)

	late := h.ctrl.Watch()
	p, ok := <-late
	require.True(t, ok)
	assert.Equal(t, Ended, p.Phase)
	_, ok = <-late
	assert.False(t, ok)
}

func TestFinishCallbackMayCallController(t *testing.T) {
	spec, err := NewSpec([]string{"Blob"}, 2*time.Second)
	require.NoError(t, err)

	clk := clock.NewManual(time.Time{})
	var ctrl *Controller
	seen := make(chan Progress, 1)
	ctrl, err = New(Config{
		Spec:  spec,
		Clock: clk,
		OnFinish: func(Outcome) {
			ctrl.AdvanceSpeaker()
			ctrl.RequestEndMeeting()
			seen <- ctrl.Progress()
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background()))

	clk.Tick(2)
	ctrl.ResolveDialog(gate.Save)

	p := <-seen
	assert.Equal(t, Ended, p.Phase)
	require.NoError(t, ctrl.Wait())
}

func TestEventSequence(t *testing.T) {
	h := newHarness(t, 2, 2, transcription.Denied).start()

	h.clk.Tick(2)
	h.ctrl.ResolveDialog(gate.Save)

	assert.Equal(t, []EventType{
		EventSessionStarted,
		EventAuthorizationDenied,
		EventSpeakerAdvanced,
		EventGateOpened,
		EventGateResolved,
		EventSessionEnded,
	}, h.eventTypes())
}

func TestNewRejectsZeroSpec(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestNilSourceIsDenied(t *testing.T) {
	spec, err := NewSpec([]string{"Blob"}, time.Second)
	require.NoError(t, err)
	clk := clock.NewManual(time.Time{})

	done := make(chan Outcome, 1)
	ctrl, err := New(Config{Spec: spec, Clock: clk, OnFinish: func(o Outcome) { done <- o }, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background()))

	clk.Tick(1)
	ctrl.ResolveDialog(gate.Save)
	assert.Equal(t, Outcome{Kind: Finished}, <-done)
	assert.NotEmpty(t, ctrl.ID())
}

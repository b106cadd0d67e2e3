// Package session runs a live meeting: speaker turns on a timer, a concurrent
// transcription stream, and the confirmation dialog that ends it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lukasbauer/syncup/internal/clock"
	"github.com/lukasbauer/syncup/internal/gate"
	"github.com/lukasbauer/syncup/internal/transcription"
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("session: already started")

// Config configures a Controller.
type Config struct {
	ID       string // generated when empty
	Spec     Spec
	Clock    clock.Clock          // defaults to clock.System
	Source   transcription.Source // nil means transcription is unavailable
	OnFinish func(Outcome)        // invoked exactly once, on the coordinator goroutine
	Observer Observer
	Logger   zerolog.Logger
}

// Controller owns the state of one session. All mutations happen on a single
// coordinator goroutine; the exported methods are safe for concurrent use.
type Controller struct {
	id       string
	spec     Spec
	clock    clock.Clock
	source   transcription.Source
	onFinish func(Outcome)
	observer Observer
	logger   zerolog.Logger

	cmds chan command
	done chan struct{}

	mu       sync.Mutex
	started  bool
	ended    bool
	progress Progress
	outcome  Outcome
	watchers []chan Progress
	group    *errgroup.Group
}

type command struct {
	apply func(*loop)
	done  chan struct{}
}

// New creates an idle controller.
func New(cfg Config) (*Controller, error) {
	if !cfg.Spec.valid() {
		return nil, fmt.Errorf("%w: empty spec", ErrInvalidSpec)
	}
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}

	c := &Controller{
		id:       id,
		spec:     cfg.Spec,
		clock:    clk,
		source:   cfg.Source,
		onFinish: cfg.OnFinish,
		observer: cfg.Observer,
		logger:   cfg.Logger.With().Str("component", "session").Str("session_id", id).Logger(),
		cmds:     make(chan command),
		done:     make(chan struct{}),
	}
	c.progress = Progress{
		Phase:            Idle,
		SecondsRemaining: cfg.Spec.Seconds(),
		Speaker:          cfg.Spec.Speaker(0),
		AttendeeCount:    cfg.Spec.AttendeeCount(),
	}
	return c, nil
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) Spec() Spec { return c.spec }

// Start requests transcription authorization, starts the transcription
// stream when granted, subscribes to the clock and launches the coordinator.
// Cancelling ctx ends the session as abandoned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	l := &loop{c: c, cancel: cancel}

	auth := transcription.Denied
	if c.source != nil {
		auth = c.source.RequestAuthorization(runCtx)
	}
	if auth == transcription.Authorized {
		stream, err := c.source.Start(runCtx)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to start transcription")
			l.gate.Fail(fmt.Sprintf("Could not start recording: %v", err))
			l.fault = err
		} else {
			l.stream = stream
			l.results = stream.Results()
			l.errs = stream.Errors()
		}
	}

	timerCtx, stopTimer := context.WithCancel(runCtx)
	l.stopTimer = stopTimer
	l.ticks = c.clock.Ticks(timerCtx, time.Second)

	g := new(errgroup.Group)
	c.mu.Lock()
	c.group = g
	c.mu.Unlock()

	l.publish()
	c.logger.Info().
		Int("attendees", c.spec.AttendeeCount()).
		Int("duration_s", c.spec.Seconds()).
		Str("transcription", auth.String()).
		Msg("session started")
	l.event(EventSessionStarted, map[string]any{
		"attendees":     c.spec.Attendees(),
		"duration_s":    c.spec.Seconds(),
		"transcription": auth.String(),
	})
	if auth == transcription.Denied {
		l.event(EventAuthorizationDenied, nil)
	}
	if l.fault != nil {
		l.event(EventSessionFault, map[string]any{"error": l.fault.Error()})
	}

	g.Go(func() error {
		defer cancel()
		l.run(runCtx)
		return nil
	})
	g.Go(func() error {
		<-runCtx.Done()
		stopTimer()
		if l.stream != nil {
			if err := l.stream.Close(); err != nil {
				c.logger.Warn().Err(err).Msg("failed to close transcription stream")
				return fmt.Errorf("close transcription: %w", err)
			}
		}
		return nil
	})
	return nil
}

// do runs fn on the coordinator and waits for it. It reports false when the
// session is not running.
func (c *Controller) do(fn func(*loop)) bool {
	c.mu.Lock()
	running := c.started && !c.ended
	c.mu.Unlock()
	if !running {
		return false
	}

	cmd := command{apply: fn, done: make(chan struct{})}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return false
	}
	<-cmd.done
	return true
}

// AdvanceSpeaker moves to the next attendee, or proposes ending the meeting
// when the last attendee is speaking. Ignored while a dialog is open.
func (c *Controller) AdvanceSpeaker() {
	c.do(func(l *loop) { l.advanceSpeaker() })
}

// RequestEndMeeting opens the discardable end-of-meeting confirmation.
// Ignored while a dialog is open.
func (c *Controller) RequestEndMeeting() {
	c.do(func(l *loop) { l.requestEnd() })
}

// ResolveDialog answers the open dialog. Choices the dialog does not offer
// are ignored and reported as gate.Ignored.
func (c *Controller) ResolveDialog(choice gate.Choice) gate.Resolution {
	res := gate.Ignored
	c.do(func(l *loop) { res = l.resolve(choice) })
	return res
}

// Progress returns the current state. Before Start and after the end it
// returns the last published value.
func (c *Controller) Progress() Progress {
	var p Progress
	if c.do(func(l *loop) { p = l.snapshot() }) {
		return p
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Watch returns a channel that always holds the latest progress. It is
// closed once the session has ended and the final value was delivered.
func (c *Controller) Watch() <-chan Progress {
	ch := make(chan Progress, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	ch <- c.progress
	if c.ended {
		close(ch)
		return ch
	}
	c.watchers = append(c.watchers, ch)
	return ch
}

// Done is closed after the outcome has been delivered.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Outcome returns the session result once Done is closed.
func (c *Controller) Outcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome, c.ended
}

// Wait blocks until the session ended and its resources were released.
func (c *Controller) Wait() error {
	c.mu.Lock()
	g := c.group
	c.mu.Unlock()
	if g == nil {
		return nil
	}
	<-c.done
	return g.Wait()
}

// setProgress stores p and hands it to watchers, replacing any value they
// have not read yet.
func (c *Controller) setProgress(p Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.progress = p
	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- p
	}
}

// end publishes the final progress and outcome and closes the watchers.
func (c *Controller) end(final Progress, outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ended = true
	c.outcome = outcome
	c.progress = final
	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- final
		close(ch)
	}
	c.watchers = nil
}

// loop is the coordinator state. Only the coordinator goroutine touches it.
type loop struct {
	c      *Controller
	cancel context.CancelFunc

	elapsed    int
	speaker    int
	transcript string
	gate       gate.Gate

	ticks     <-chan time.Time
	stopTimer context.CancelFunc

	stream  transcription.Stream
	results <-chan transcription.Snapshot
	errs    <-chan error
	fault   error

	ended bool
}

func (l *loop) run(ctx context.Context) {
	for !l.ended {
		select {
		case <-ctx.Done():
			l.c.logger.Info().Msg("session cancelled by host")
			l.finish(Outcome{Kind: Abandoned}, "cancelled")

		case <-l.ticks:
			l.tick()

		case snap, ok := <-l.results:
			if !ok {
				l.results = nil
				l.c.logger.Debug().Msg("transcription finished")
				continue
			}
			l.transcript = snap.Text
			l.publish()

		case err, ok := <-l.errs:
			if !ok {
				l.errs = nil
				continue
			}
			l.transcriptionFailed(err)

		case cmd := <-l.c.cmds:
			cmd.apply(l)
			close(cmd.done)
		}
	}
}

func (l *loop) tick() {
	if l.gate.State().IsOpen() {
		return
	}
	l.elapsed++

	per := l.c.spec.PerAttendee()
	if per == 0 || l.elapsed%per == 0 {
		if l.speaker == l.c.spec.AttendeeCount()-1 {
			l.openEnd(false)
			return
		}
		l.speaker++
		l.event(EventSpeakerAdvanced, map[string]any{"speaker": l.c.spec.Speaker(l.speaker), "manual": false})
	}
	l.publish()
}

// advanceSpeaker always moves past a non-last speaker while the gate is
// closed; with a dialog open the call has no effect.
func (l *loop) advanceSpeaker() {
	if l.gate.State().IsOpen() {
		return
	}
	if l.speaker == l.c.spec.AttendeeCount()-1 {
		l.openEnd(false)
		return
	}
	l.speaker++
	l.elapsed = l.speaker * l.c.spec.PerAttendee()
	l.event(EventSpeakerAdvanced, map[string]any{"speaker": l.c.spec.Speaker(l.speaker), "manual": true})
	l.publish()
}

func (l *loop) requestEnd() {
	if l.gate.State().IsOpen() {
		return
	}
	l.openEnd(true)
}

// openEnd shows the end confirmation. The natural end stops the timer for good.
func (l *loop) openEnd(discardable bool) {
	if !l.gate.OpenEndMeeting(discardable) {
		return
	}
	if !discardable {
		l.stopTimer()
		l.ticks = nil
	}
	l.event(EventGateOpened, map[string]any{"discardable": discardable})
	l.publish()
}

func (l *loop) transcriptionFailed(err error) {
	l.c.logger.Warn().Err(err).Msg("transcription failed")
	l.results = nil
	l.errs = nil

	l.gate.Notify("Transcription stopped: " + err.Error())
	l.event(EventTranscriptionFailed, map[string]any{"error": err.Error()})
	l.publish()
}

func (l *loop) resolve(choice gate.Choice) gate.Resolution {
	dialog := l.gate.State()
	res := l.gate.Resolve(choice)
	if res == gate.Ignored {
		l.c.logger.Debug().Str("choice", choice.String()).Str("dialog", dialog.Kind.String()).Msg("ignored dialog choice")
		return res
	}

	l.event(EventGateResolved, map[string]any{
		"dialog":     dialog.Kind.String(),
		"choice":     choice.String(),
		"resolution": res.String(),
	})

	switch res {
	case gate.Saved:
		l.finish(Outcome{Kind: Finished, Transcript: l.transcript}, res.String())
	case gate.Discarded, gate.Acknowledged:
		l.finish(Outcome{Kind: Abandoned}, res.String())
	default:
		l.publish()
	}
	return res
}

// finish records the outcome, releases the activities and runs the
// completion callback. Done is closed after the callback returns.
func (l *loop) finish(outcome Outcome, reason string) {
	if l.ended {
		return
	}
	l.ended = true
	l.ticks = nil
	l.results = nil
	l.errs = nil

	final := l.snapshot()
	final.Phase = Ended
	final.Transcribing = false
	final.Dialog = gate.State{}

	c := l.c
	c.end(final, outcome)

	l.cancel()

	c.logger.Info().
		Str("outcome", outcome.Kind.String()).
		Str("reason", reason).
		Int("elapsed_s", l.elapsed).
		Int("transcript_chars", len(outcome.Transcript)).
		Msg("session ended")
	l.event(EventSessionEnded, map[string]any{
		"outcome":          outcome.Kind.String(),
		"reason":           reason,
		"elapsed_s":        l.elapsed,
		"transcript_chars": len(outcome.Transcript),
	})

	if c.onFinish != nil {
		c.onFinish(outcome)
	}
	close(c.done)
}

func (l *loop) snapshot() Progress {
	remaining := l.c.spec.Seconds() - l.elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Progress{
		Phase:            Running,
		ElapsedSeconds:   l.elapsed,
		SecondsRemaining: remaining,
		SpeakerIndex:     l.speaker,
		Speaker:          l.c.spec.Speaker(l.speaker),
		AttendeeCount:    l.c.spec.AttendeeCount(),
		Transcript:       l.transcript,
		Transcribing:     l.results != nil,
		Dialog:           l.gate.State(),
	}
}

func (l *loop) publish() {
	l.c.setProgress(l.snapshot())
}

func (l *loop) event(typ EventType, data map[string]any) {
	if l.c.observer == nil {
		return
	}
	l.c.observer(Event{
		SessionID: l.c.id,
		Type:      typ,
		Progress:  l.snapshot(),
		Data:      data,
	})
}

package eventlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lukasbauer/syncup/internal/session"
)

// EventType represents the type of session event
type EventType string

const (
	EventSessionStarted      EventType = EventType(session.EventSessionStarted)
	EventAuthorizationDenied EventType = EventType(session.EventAuthorizationDenied)
	EventSpeakerAdvanced     EventType = EventType(session.EventSpeakerAdvanced)
	EventGateOpened          EventType = EventType(session.EventGateOpened)
	EventGateResolved        EventType = EventType(session.EventGateResolved)
	EventTranscriptionFailed EventType = EventType(session.EventTranscriptionFailed)
	EventSessionFault        EventType = EventType(session.EventSessionFault)
	EventSessionEnded        EventType = EventType(session.EventSessionEnded)

	// Host-side events.
	EventMeetingSaved       EventType = "meeting_saved"
	EventMeetingSaveFailed  EventType = "meeting_save_failed"
	EventNotificationFailed EventType = "notification_failed"
)

// Logger provides async event logging to the database
type Logger struct {
	db     *pgxpool.Pool
	logger zerolog.Logger

	// write replaces the database insert in tests.
	write func(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error
}

const observerQueueSize = 256

// New creates a new event logger. A nil pool, or a nil *Logger, turns every
// call into a no-op.
func New(db *pgxpool.Pool, logger zerolog.Logger) *Logger {
	return &Logger{db: db, logger: logger.With().Str("component", "eventlog").Logger()}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || sessionID == "" {
		return nil
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO session_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, sessionID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || sessionID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Log(ctx, sessionID, eventType, data); err != nil {
			l.logger.Warn().Err(err).Str("session_id", sessionID).Str("event", string(eventType)).Msg("failed to log event")
		}
	}()
}

// Observer adapts the logger to a session observer. A single writer per
// session inserts the events in the order they were observed; it stops after
// session_ended.
func (l *Logger) Observer() session.Observer {
	write := l.writer()
	if write == nil {
		return func(session.Event) {}
	}

	events := make(chan session.Event, observerQueueSize)
	go func() {
		for e := range events {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := write(ctx, e.SessionID, EventType(e.Type), eventData(e))
			cancel()
			if err != nil {
				l.logger.Warn().Err(err).Str("session_id", e.SessionID).Str("event", string(e.Type)).Msg("failed to log event")
			}
		}
	}()

	var (
		mu     sync.Mutex
		closed bool
	)
	return func(e session.Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed || e.SessionID == "" {
			return
		}
		select {
		case events <- e:
		default:
			l.logger.Warn().Str("session_id", e.SessionID).Str("event", string(e.Type)).Msg("event queue full, dropping event")
		}
		if e.Type == session.EventSessionEnded {
			closed = true
			close(events)
		}
	}
}

func (l *Logger) writer() func(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	switch {
	case l == nil:
		return nil
	case l.write != nil:
		return l.write
	case l.db != nil:
		return l.Log
	default:
		return nil
	}
}

func eventData(e session.Event) map[string]any {
	data := make(map[string]any, len(e.Data)+3)
	for k, v := range e.Data {
		data[k] = v
	}
	data["elapsed_s"] = e.Progress.ElapsedSeconds
	data["speaker_index"] = e.Progress.SpeakerIndex
	data["dialog"] = e.Progress.Dialog.Kind.String()
	return data
}

// Prune deletes events created before the cutoff and returns how many were removed.
func (l *Logger) Prune(ctx context.Context, before time.Time) (int64, error) {
	if l == nil || l.db == nil {
		return 0, nil
	}
	tag, err := l.db.Exec(ctx, `DELETE FROM session_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
